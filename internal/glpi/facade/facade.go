// Package facade implements the external-interface façade: per-endpoint
// orchestration over the lower engine components, wrapped in the response
// and error envelopes the dashboard UI consumes.
package facade

import (
	"context"
	"time"

	"github.com/google/uuid"

	svcerrors "github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/errors"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/logging"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/dashboard"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/newtickets"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/probe"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ranking"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ticketdetail"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ttlcache"
)

// Envelope is the success-path response wrapper.
type Envelope struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data"`
	Timestamp     string      `json:"timestamp"`
	TempoExecucao int64       `json:"tempo_execucao"`
}

// ErrorEnvelope is the failure-path response wrapper.
type ErrorEnvelope struct {
	Success       bool     `json:"success"`
	Error         string   `json:"error"`
	Errors        []string `json:"errors,omitempty"`
	CorrelationID string   `json:"correlation_id"`
}

// Facade orchestrates every public operation and produces its envelope.
type Facade struct {
	dashboard    *dashboard.Assembler
	ranking      *ranking.Engine
	newTickets   *newtickets.Query
	ticketDetail *ticketdetail.Query
	probe        *probe.Probe
	cache        *ttlcache.Cache
	logger       *logging.Logger
}

// New builds a Facade from its constituent engines.
func New(dash *dashboard.Assembler, rank *ranking.Engine, newTix *newtickets.Query, detail *ticketdetail.Query, statusProbe *probe.Probe, cache *ttlcache.Cache, logger *logging.Logger) *Facade {
	return &Facade{
		dashboard:    dash,
		ranking:      rank,
		newTickets:   newTix,
		ticketDetail: detail,
		probe:        statusProbe,
		cache:        cache,
		logger:       logger,
	}
}

func (f *Facade) wrap(data interface{}, start time.Time) Envelope {
	return Envelope{
		Success:       true,
		Data:          data,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		TempoExecucao: time.Since(start).Milliseconds(),
	}
}

func (f *Facade) wrapError(ctx context.Context, err error) ErrorEnvelope {
	correlationID := uuid.NewString()
	if f.logger != nil {
		f.logger.Error(ctx, "facade operation failed", err, map[string]interface{}{"correlation_id": correlationID})
	}
	message := "internal error"
	if se := svcerrors.GetServiceError(err); se != nil {
		message = se.Message
	}
	return ErrorEnvelope{Success: false, Error: message, CorrelationID: correlationID}
}

// Metrics serves GET /api/metrics and /api/metrics/filtered.
func (f *Facade) Metrics(ctx context.Context, start, end string) (Envelope, *ErrorEnvelope) {
	t0 := time.Now()
	dm, err := f.dashboard.Dashboard(ctx, start, end)
	if err != nil {
		ee := f.wrapError(ctx, err)
		return Envelope{}, &ee
	}
	return f.wrap(dm, t0), nil
}

// Ranking serves GET /api/ranking.
func (f *Facade) Ranking(ctx context.Context, opts ranking.Options) (Envelope, *ErrorEnvelope) {
	t0 := time.Now()
	techs, err := f.ranking.Rank(ctx, opts)
	if err != nil {
		ee := f.wrapError(ctx, err)
		return Envelope{}, &ee
	}
	return f.wrap(techs, t0), nil
}

// NewTickets serves GET /api/tickets/new. Never produces an error envelope:
// the underlying query already degrades to an empty list.
func (f *Facade) NewTickets(ctx context.Context, opts newtickets.Options) Envelope {
	t0 := time.Now()
	tickets := f.newTickets.NewTickets(ctx, opts)
	return f.wrap(tickets, t0)
}

// Ticket serves GET /api/ticket/{id}.
func (f *Facade) Ticket(ctx context.Context, id string) (Envelope, *ErrorEnvelope) {
	t0 := time.Now()
	ticket, err := f.ticketDetail.Ticket(ctx, id)
	if err != nil {
		ee := f.wrapError(ctx, err)
		return Envelope{}, &ee
	}
	var data interface{}
	if ticket != nil {
		data = ticket
	}
	return f.wrap(data, t0), nil
}

// Status serves GET /api/status.
func (f *Facade) Status(ctx context.Context) Envelope {
	t0 := time.Now()
	result := f.probe.Status(ctx)
	return f.wrap(result, t0)
}

// InvalidateAll is the administrative cache-clear operation. Invalidation
// happens only by TTL or this explicit call, never from inside a query.
func (f *Facade) InvalidateAll() {
	f.cache.InvalidateAll()
}
