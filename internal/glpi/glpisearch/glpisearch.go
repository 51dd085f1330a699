// Package glpisearch holds the small pieces of the GLPI /search wire
// contract shared by the aggregate, ranking, new-tickets, and ticket-detail
// queries: Content-Range parsing, pagination constants, and criteria-chain
// helpers for OR-linked / AND-linked filters.
package glpisearch

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	svcerrors "github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/errors"
)

const (
	// PageSize is the fixed page size the aggregate/ranking fast paths use.
	PageSize = 1000
	// SafetyStop caps pagination at 100,000 records.
	SafetyStop = 100000
)

// ParseContentRange accepts either "items a-b/total" or "a-b/total" and
// returns total. Any other shape is a DecodeError.
func ParseContentRange(header string) (int, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, svcerrors.DecodeError("content-range", fmt.Errorf("empty Content-Range header"))
	}
	header = strings.TrimPrefix(header, "items ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, svcerrors.DecodeError("content-range", fmt.Errorf("malformed Content-Range %q", header))
	}
	total, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, svcerrors.DecodeError("content-range", fmt.Errorf("non-numeric total in Content-Range %q", header))
	}
	return total, nil
}

// Total extracts the result count from a /search response: Content-Range
// header first, falling back to the JSON "totalcount" field, then to
// len(data).
func Total(header http.Header, totalCount *int, dataLen int) int {
	if cr := header.Get("Content-Range"); cr != "" {
		if total, err := ParseContentRange(cr); err == nil {
			return total
		}
	}
	if totalCount != nil {
		return *totalCount
	}
	return dataLen
}

// RangeParam formats a GLPI range=a-b query value.
func RangeParam(start, end int) string {
	return fmt.Sprintf("%d-%d", start, end)
}

// CriteriaChain builds an OR-linked (or AND-linked) chain of criteria, all
// sharing one field/searchtype, over a list of values, e.g. the per-level
// hierarchy-marker OR chain or the per-status-id OR chain. startIndex is the
// criteria index to continue numbering from; returns the next free index.
func CriteriaChain(v url.Values, startIndex int, fieldID, searchtype, link string, values []string, firstLinksToPrevious bool) int {
	idx := startIndex
	for i, val := range values {
		prefix := fmt.Sprintf("criteria[%d]", idx)
		if idx > 0 && (i > 0 || firstLinksToPrevious) {
			if i == 0 {
				v.Set(prefix+"[link]", "AND")
			} else {
				v.Set(prefix+"[link]", link)
			}
		}
		v.Set(prefix+"[field]", fieldID)
		v.Set(prefix+"[searchtype]", searchtype)
		v.Set(prefix+"[value]", val)
		idx++
	}
	return idx
}
