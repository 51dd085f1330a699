// Package aggregate implements the ticket-count-by-(level,status) query
// engine: a single paginated OR/AND search when GLPI cooperates, falling
// back to one range=0-0 search per cell when it doesn't.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/logging"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/metrics"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/datefilter"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/fields"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/glpisearch"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/model"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/transport"
)

const serviceName = "glpi-aggregate"

// Engine counts tickets grouped by support level and status.
type Engine struct {
	client  *transport.Client
	fields  *fields.Registry
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New builds an aggregate Engine.
func New(client *transport.Client, fieldRegistry *fields.Registry, logger *logging.Logger, m *metrics.Metrics) *Engine {
	return &Engine{client: client, fields: fieldRegistry, logger: logger, metrics: m}
}

// CountsByLevel counts tickets by (level, status) for every requested level
// and status. Tries the fast single-search path first; falls back to
// per-cell counting when the fast path errors or returns every bucket zero
// (GLPI occasionally returns inconsistent or empty data under
// hierarchy-field filters).
func (e *Engine) CountsByLevel(ctx context.Context, levels []model.SupportLevel, statuses []model.TicketStatus, start, end string) (map[model.SupportLevel]model.TicketMetrics, error) {
	return e.CountsByLevelOnField(ctx, levels, statuses, start, end, "")
}

// CountsByLevelOnField is CountsByLevel with an explicit date field override
// (dashboard.Config.PerLevelUsesDateMod decides field 19 vs field 15); an
// empty dateField falls back to field 19 (date_mod).
func (e *Engine) CountsByLevelOnField(ctx context.Context, levels []model.SupportLevel, statuses []model.TicketStatus, start, end, dateField string) (map[model.SupportLevel]model.TicketMetrics, error) {
	result := zeroResult(levels)

	fast, err := e.fastPath(ctx, levels, statuses, start, end, dateField)
	if err == nil && !allZero(fast) {
		return fast, nil
	}

	if e.logger != nil {
		reason := "empty fast-path result"
		if err != nil {
			reason = err.Error()
		}
		e.logger.LogFallback(ctx, "counts_by_level", reason)
	}
	if e.metrics != nil {
		e.metrics.RecordFallback(serviceName, "counts_by_level")
	}

	return e.slowPath(ctx, levels, statuses, start, end, dateField, result)
}

func zeroResult(levels []model.SupportLevel) map[model.SupportLevel]model.TicketMetrics {
	out := make(map[model.SupportLevel]model.TicketMetrics, len(levels))
	for _, l := range levels {
		out[l] = model.NewTicketMetrics()
	}
	return out
}

func allZero(m map[model.SupportLevel]model.TicketMetrics) bool {
	for _, metrics := range m {
		if metrics.Total() > 0 {
			return false
		}
	}
	return true
}

// fastPath issues one OR/AND chained search over field 8 (hierarchy text)
// and field 12 (status), paginating 1000 rows at a time.
func (e *Engine) fastPath(ctx context.Context, levels []model.SupportLevel, statuses []model.TicketStatus, start, end, dateField string) (map[model.SupportLevel]model.TicketMetrics, error) {
	result := zeroResult(levels)
	fieldIDs := e.fields.FieldIDs(ctx)
	if dateField == "" {
		dateField = fieldIDs.DateMod
	}

	levelMarkers := make([]string, len(levels))
	for i, l := range levels {
		levelMarkers[i] = string(l)
	}
	statusValues := make([]string, len(statuses))
	for i, s := range statuses {
		statusValues[i] = strconv.Itoa(int(s))
	}

	page := 0
	seen := 0
	for {
		params, err := e.buildSearchParams(fieldIDs, levelMarkers, statusValues, start, end, dateField, page*glpisearch.PageSize, page*glpisearch.PageSize+glpisearch.PageSize-1)
		if err != nil {
			return nil, err
		}

		tickets, pageLen, err := e.fetchPage(ctx, params)
		if err != nil {
			return nil, err
		}

		for _, t := range tickets {
			level, ok := levelFromHierarchy(t.field8, levels)
			if !ok {
				continue
			}
			status, ok := statusFromValue(t.field12)
			if !ok {
				continue
			}
			result[level][status]++
		}

		seen += pageLen
		if pageLen < glpisearch.PageSize {
			break
		}
		if seen >= glpisearch.SafetyStop {
			if e.logger != nil {
				e.logger.Warn(ctx, "pagination_safety_stop", map[string]interface{}{"operation": "counts_by_level", "records": seen})
			}
			if e.metrics != nil {
				e.metrics.RecordSafetyStop(serviceName, "counts_by_level")
			}
			break
		}
		page++
	}

	return result, nil
}

func (e *Engine) buildSearchParams(fieldIDs fields.IDs, levelMarkers, statusValues []string, start, end, dateField string, rangeStart, rangeEnd int) (url.Values, error) {
	v := url.Values{}
	v.Set("is_deleted", "0")
	v.Set("range", glpisearch.RangeParam(rangeStart, rangeEnd))
	v.Set("forcedisplay[0]", fieldIDs.Group)
	v.Set("forcedisplay[1]", fieldIDs.Status)

	idx := glpisearch.CriteriaChain(v, 0, fieldIDs.Group, "contains", "OR", levelMarkers, false)
	idx = glpisearch.CriteriaChain(v, idx, fieldIDs.Status, "equals", "OR", statusValues, true)

	if strings.TrimSpace(start) != "" || strings.TrimSpace(end) != "" {
		dateParams, err := datefilter.Build(start, end, dateField, idx)
		if err != nil {
			return nil, err
		}
		for k, vals := range dateParams {
			for _, val := range vals {
				v.Add(k, val)
			}
		}
	}

	return v, nil
}

type ticketRow struct {
	field8  string
	field12 string
}

func (e *Engine) fetchPage(ctx context.Context, params url.Values) ([]ticketRow, int, error) {
	resp, err := e.client.Request(ctx, "GET", "/search/Ticket", params, nil, "")
	if err != nil {
		return nil, 0, err
	}
	if resp == nil || !resp.OK() {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, 0, fmt.Errorf("search/Ticket returned status %d", status)
	}

	var decoded struct {
		Data []map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, 0, err
	}

	fieldIDs := e.fields.FieldIDs(ctx)
	rows := make([]ticketRow, 0, len(decoded.Data))
	for _, row := range decoded.Data {
		rows = append(rows, ticketRow{
			field8:  rawString(row[fieldIDs.Group]),
			field12: rawString(row[fieldIDs.Status]),
		})
	}
	return rows, len(rows), nil
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}

func levelFromHierarchy(field8 string, levels []model.SupportLevel) (model.SupportLevel, bool) {
	for _, l := range levels {
		if strings.Contains(field8, string(l)) {
			return l, true
		}
	}
	return model.Unknown, false
}

func statusFromValue(field12 string) (model.TicketStatus, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(field12))
	if err != nil {
		return 0, false
	}
	for _, s := range model.Statuses {
		if int(s) == n {
			return s, true
		}
	}
	return 0, false
}

// slowPath counts one (level, status) cell at a time via range=0-0 searches,
// used when the fast path throws or returns all zeros.
func (e *Engine) slowPath(ctx context.Context, levels []model.SupportLevel, statuses []model.TicketStatus, start, end, dateField string, result map[model.SupportLevel]model.TicketMetrics) (map[model.SupportLevel]model.TicketMetrics, error) {
	fieldIDs := e.fields.FieldIDs(ctx)
	if dateField == "" {
		dateField = fieldIDs.DateMod
	}
	for _, level := range levels {
		for _, status := range statuses {
			count, err := e.countCell(ctx, fieldIDs, level, status, start, end, dateField)
			if err != nil {
				return nil, err
			}
			result[level][status] = count
		}
	}
	return result, nil
}

func (e *Engine) countCell(ctx context.Context, fieldIDs fields.IDs, level model.SupportLevel, status model.TicketStatus, start, end, dateField string) (int, error) {
	v := url.Values{}
	v.Set("is_deleted", "0")
	v.Set("range", "0-0")
	idx := glpisearch.CriteriaChain(v, 0, fieldIDs.Group, "contains", "AND", []string{string(level)}, false)
	idx = glpisearch.CriteriaChain(v, idx, fieldIDs.Status, "equals", "AND", []string{strconv.Itoa(int(status))}, true)

	if strings.TrimSpace(start) != "" || strings.TrimSpace(end) != "" {
		dateParams, err := datefilter.Build(start, end, dateField, idx)
		if err != nil {
			return 0, err
		}
		for k, vals := range dateParams {
			for _, val := range vals {
				v.Add(k, val)
			}
		}
	}

	resp, err := e.client.Request(ctx, "GET", "/search/Ticket", v, nil, "")
	if err != nil {
		return 0, err
	}
	if resp == nil || !resp.OK() {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return 0, fmt.Errorf("search/Ticket (count) returned status %d", status)
	}

	var decoded struct {
		TotalCount *int                          `json:"totalcount"`
		Data       []map[string]json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(resp.Body, &decoded)

	return glpisearch.Total(resp.Header, decoded.TotalCount, len(decoded.Data)), nil
}

// CountByLevelStatus exposes the per-cell count used by the slow path, as
// its own callable operation.
func (e *Engine) CountByLevelStatus(ctx context.Context, level model.SupportLevel, status model.TicketStatus, start, end string) (int, error) {
	fieldIDs := e.fields.FieldIDs(ctx)
	return e.countCell(ctx, fieldIDs, level, status, start, end, fieldIDs.DateMod)
}
