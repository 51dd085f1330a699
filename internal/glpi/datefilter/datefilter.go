// Package datefilter builds GLPI criteria[...] search parameters from an
// optional (start, end) date window.
package datefilter

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	svcerrors "github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/errors"
)

const (
	dayLayout      = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05"
)

// Parse accepts "YYYY-MM-DD" or "YYYY-MM-DD HH:MM:SS" and returns the parsed
// time. A bare date is interpreted as the inclusive start of that day; callers
// wanting the inclusive end of a day should add 23:59:59 themselves (Build
// does this for the `end` parameter).
func Parse(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(datetimeLayout, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(dayLayout, raw); err == nil {
		return t, nil
	}
	return time.Time{}, svcerrors.InvalidInput("date", fmt.Sprintf("%q is not YYYY-MM-DD or YYYY-MM-DD HH:MM:SS", raw))
}

func isDateOnly(raw string) bool {
	_, err := time.Parse(dayLayout, strings.TrimSpace(raw))
	return err == nil
}

// Build produces up to two GLPI criteria for a (start, end, field) window.
// startIndex is the criteria index to begin numbering from (so callers can
// append this after other criteria already built).
func Build(start, end string, fieldID string, startIndex int) (url.Values, error) {
	out := url.Values{}
	idx := startIndex

	if strings.TrimSpace(start) != "" {
		if _, err := Parse(start); err != nil {
			return nil, err
		}
		addCriterion(out, idx, fieldID, "morethan", startValue(start), idx > 0)
		idx++
	}

	if strings.TrimSpace(end) != "" {
		if _, err := Parse(end); err != nil {
			return nil, err
		}
		addCriterion(out, idx, fieldID, "lessthan", endValue(end), idx > 0)
		idx++
	}

	return out, nil
}

// startValue returns the value used for the `morethan` criterion: a bare
// date is left as-is (GLPI treats it as the start of that day).
func startValue(raw string) string {
	return strings.TrimSpace(raw)
}

// endValue returns the value used for the `lessthan` criterion: a bare date
// is expanded to the inclusive end of that day.
func endValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if isDateOnly(raw) {
		return raw + " 23:59:59"
	}
	return raw
}

func addCriterion(v url.Values, idx int, fieldID, searchtype, value string, withLink bool) {
	prefix := fmt.Sprintf("criteria[%d]", idx)
	if withLink {
		v.Set(prefix+"[link]", "AND")
	}
	v.Set(prefix+"[field]", fieldID)
	v.Set(prefix+"[searchtype]", searchtype)
	v.Set(prefix+"[value]", value)
}
