// Package newtickets implements the new-tickets listing query: the most
// recent status=New tickets, with requester, priority, and category names
// resolved to human-readable strings.
package newtickets

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/logging"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/datefilter"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/fields"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/glpisearch"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/model"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/parse"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/transport"
)

const (
	defaultLimit = 10

	fieldID          = "2"
	fieldTitle       = "1"
	fieldDescription = "21"
	fieldDate        = "15"
	fieldRequester   = "4"
	fieldPriority    = "3"
	fieldCategory    = "5"
	fieldStatus      = "12"
)

// Options parameterizes a new-tickets query. Zero values are treated as
// "not set"; Limit defaults to 10 when <= 0.
type Options struct {
	Limit      int
	Priority   string // numeric id or Portuguese label, per parse.ResolvePriorityFilter
	Category   string
	Technician string
	Start, End string
}

// Query lists the most recent new tickets.
type Query struct {
	client   *transport.Client
	fields   *fields.Registry
	resolver *parse.Resolver
	logger   *logging.Logger
}

// New builds a Query.
func New(client *transport.Client, fieldRegistry *fields.Registry, resolver *parse.Resolver, logger *logging.Logger) *Query {
	return &Query{client: client, fields: fieldRegistry, resolver: resolver, logger: logger}
}

// NewTickets returns the most recent status=New tickets. Never returns an
// error to the caller on network failure; it returns an empty list instead.
func (q *Query) NewTickets(ctx context.Context, opts Options) []model.NewTicket {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	params, err := q.buildParams(ctx, limit, opts)
	if err != nil {
		if q.logger != nil {
			q.logger.Warn(ctx, "new_tickets invalid filter, returning empty", map[string]interface{}{"error": err.Error()})
		}
		return nil
	}

	resp, err := q.client.Request(ctx, "GET", "/search/Ticket", params, nil, "")
	if err != nil || resp == nil || !resp.OK() {
		if q.logger != nil {
			reason := "non-2xx response"
			if err != nil {
				reason = err.Error()
			}
			q.logger.Warn(ctx, "new_tickets upstream failure, returning empty", map[string]interface{}{"error": reason})
		}
		return nil
	}

	var decoded struct {
		Data []map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil
	}

	tickets := make([]model.NewTicket, 0, len(decoded.Data))
	for _, row := range decoded.Data {
		tickets = append(tickets, q.buildRow(ctx, row))
	}
	return tickets
}

func (q *Query) buildParams(ctx context.Context, limit int, opts Options) (url.Values, error) {
	v := url.Values{}
	v.Set("is_deleted", "0")
	v.Set("range", glpisearch.RangeParam(0, limit-1))
	v.Set("sort", fieldDate)
	v.Set("order", "DESC")
	v.Set("forcedisplay[0]", fieldID)
	v.Set("forcedisplay[1]", fieldTitle)
	v.Set("forcedisplay[2]", fieldDescription)
	v.Set("forcedisplay[3]", fieldDate)
	v.Set("forcedisplay[4]", fieldRequester)
	v.Set("forcedisplay[5]", fieldPriority)
	v.Set("forcedisplay[6]", fieldCategory)
	v.Set("forcedisplay[7]", fieldStatus)

	idx := glpisearch.CriteriaChain(v, 0, fieldStatus, "equals", "AND", []string{strconv.Itoa(int(model.StatusNew))}, false)

	if strings.TrimSpace(opts.Priority) != "" {
		id, ok := parse.ResolvePriorityFilter(opts.Priority)
		if ok {
			idx = glpisearch.CriteriaChain(v, idx, fieldPriority, "equals", "AND", []string{id}, true)
		}
	}
	if strings.TrimSpace(opts.Category) != "" {
		idx = glpisearch.CriteriaChain(v, idx, fieldCategory, "equals", "AND", []string{opts.Category}, true)
	}
	if strings.TrimSpace(opts.Technician) != "" {
		techFieldID := q.fields.TechFieldID(ctx)
		idx = glpisearch.CriteriaChain(v, idx, techFieldID, "equals", "AND", []string{opts.Technician}, true)
	}
	if strings.TrimSpace(opts.Start) != "" || strings.TrimSpace(opts.End) != "" {
		dateParams, err := datefilter.Build(opts.Start, opts.End, fieldDate, idx)
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

func (q *Query) buildRow(ctx context.Context, row map[string]json.RawMessage) model.NewTicket {
	requesterID := rawString(row[fieldRequester])
	priorityID, _ := strconv.Atoi(rawString(row[fieldPriority]))
	categoryID := rawString(row[fieldCategory])

	return model.NewTicket{
		ID:          rawString(row[fieldID]),
		Title:       rawString(row[fieldTitle]),
		Description: parse.FormatDescription(rawString(row[fieldDescription])),
		Date:        rawString(row[fieldDate]),
		Requester:   q.resolver.UserName(ctx, requesterID),
		Priority:    parse.PriorityName(priorityID),
		Category:    q.resolver.CategoryName(ctx, categoryID),
		Status:      model.StatusNew.Label(),
	}
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
