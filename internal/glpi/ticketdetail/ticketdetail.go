// Package ticketdetail implements the single-ticket detail query:
// GET /Ticket/{id} with expanded dropdowns, mapped to the Ticket entity.
package ticketdetail

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	svcerrors "github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/errors"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/model"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/parse"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/transport"
)

// Query fetches one ticket's full detail.
type Query struct {
	client   *transport.Client
	resolver *parse.Resolver
}

// New builds a Query.
func New(client *transport.Client, resolver *parse.Resolver) *Query {
	return &Query{client: client, resolver: resolver}
}

type rawTicket struct {
	ID               interface{} `json:"id"`
	Name             string      `json:"name"`
	Content          string      `json:"content"`
	Status           int         `json:"status"`
	Priority         int         `json:"priority"`
	Type             interface{} `json:"type"`
	Urgency          interface{} `json:"urgency"`
	Impact           interface{} `json:"impact"`
	RequestSource    interface{} `json:"requesttypes_id"`
	Location         string      `json:"location"`
	Entity           interface{} `json:"entities_id"`
	DateCreation     string      `json:"date_creation"`
	DateMod          string      `json:"date_mod"`
	TimeToResolve    string      `json:"time_to_resolve"`
	CloseDate        string      `json:"closedate"`
	SolveDate        string      `json:"solvedate"`
	ActionTime       int         `json:"actiontime"`
	WaitingDuration  int         `json:"waiting_duration"`
	SolveDelayStat   int         `json:"solve_delay_stat"`
	CloseDelayStat   int         `json:"close_delay_stat"`
	UsersIDRecipient interface{} `json:"users_id_recipient"`
	UsersIDTech      interface{} `json:"users_id_lastupdater"`
	GroupsIDAssign   interface{} `json:"groups_id_assign"`
	ITILCategoryID   interface{} `json:"itilcategories_id"`
}

// Ticket fetches a single ticket. Returns (nil, nil) on HTTP 404, any other
// non-2xx response the transport hands back, or an undecodable body. Returns
// a non-nil error for an invalid id and for a transport error (for example
// retries exhausted on 5xx or connection failures).
func (q *Query) Ticket(ctx context.Context, id string) (*model.Ticket, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, svcerrors.InvalidInput("id", "ticket id must not be empty")
	}
	if _, err := strconv.Atoi(id); err != nil {
		return nil, svcerrors.InvalidInput("id", "ticket id must be numeric")
	}

	v := url.Values{}
	v.Set("expand_dropdowns", "true")
	v.Set("with_devices", "true")
	v.Set("with_disks", "true")
	v.Set("with_softwares", "true")
	v.Set("with_connections", "true")
	v.Set("with_networkports", "true")
	v.Set("with_infocoms", "true")
	v.Set("with_contracts", "true")
	v.Set("with_documents", "true")
	v.Set("with_tickets", "true")
	v.Set("with_problems", "true")
	v.Set("with_changes", "true")
	v.Set("with_notes", "true")
	v.Set("with_logs", "true")

	resp, err := q.client.Request(ctx, "GET", "/Ticket/"+id, v, nil, "")
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.StatusCode == 404 {
		return nil, nil
	}
	if !resp.OK() {
		return nil, nil
	}

	var raw rawTicket
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, nil
	}

	return q.toModel(ctx, id, raw), nil
}

func (q *Query) toModel(ctx context.Context, id string, raw rawTicket) *model.Ticket {
	requesterID := toString(raw.UsersIDRecipient)
	techID := toString(raw.UsersIDTech)
	groupID := toString(raw.GroupsIDAssign)
	categoryID := toString(raw.ITILCategoryID)

	t := &model.Ticket{
		ID:                 id,
		Title:              raw.Name,
		DescriptionCleaned: parse.FormatDescription(raw.Content),
		Phone:              parse.ExtractPhone(raw.Content),
		Status:             model.TicketStatus(raw.Status),
		Priority:           model.Priority(raw.Priority),
		Category:           q.resolver.CategoryName(ctx, categoryID),
		Type:               toString(raw.Type),
		Urgency:            toString(raw.Urgency),
		Impact:             toString(raw.Impact),
		Source:             toString(raw.RequestSource),
		Location:           raw.Location,
		Entity:             toString(raw.Entity),
		CreatedAt:          parseTime(raw.DateCreation),
		UpdatedAt:          parseTime(raw.DateMod),
		Requester:          model.PersonRef{ID: requesterID, Name: q.resolver.UserName(ctx, requesterID)},
		TechnicianRef:      model.PersonRef{ID: techID, Name: q.resolver.UserName(ctx, techID)},
		Group:              model.PersonRef{ID: groupID},
		TimeTracking: model.TimeTracking{
			Total:      secondsPtr(raw.ActionTime),
			Waiting:    secondsPtr(raw.WaitingDuration),
			SolveDelay: secondsPtr(raw.SolveDelayStat),
			CloseDelay: secondsPtr(raw.CloseDelayStat),
		},
	}
	if dd := parseTimePtr(raw.TimeToResolve); dd != nil {
		t.DueDate = dd
	}
	if cd := parseTimePtr(raw.CloseDate); cd != nil {
		t.CloseDate = cd
	}
	if sd := parseTimePtr(raw.SolveDate); sd != nil {
		t.SolveDate = sd
	}
	return t
}

func secondsPtr(s int) *time.Duration {
	if s <= 0 {
		return nil
	}
	d := time.Duration(s) * time.Second
	return &d
}

const ticketDateLayout = "2006-01-02 15:04:05"

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(ticketDateLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(ticketDateLayout, raw)
	if err != nil {
		return nil
	}
	return &t
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}
