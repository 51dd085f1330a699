// Package dashboard implements the dashboard assembler: general totals,
// per-level metrics, derived buckets, trends, and caching.
package dashboard

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/aggregate"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/datefilter"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/fields"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/glpisearch"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/model"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/transport"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/trend"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ttlcache"
)

// PerLevelUsesDateMod decides which date field the per-level breakdown
// filters on. Field 19 (date_mod) is the default: the UI reads level
// metrics as "active in window". Deployments that want "opened in
// window" semantics for levels too can flip this to date_creation.
type Config struct {
	PerLevelUsesDateMod bool
}

// DefaultConfig keeps per-level metrics filtered on date_mod.
func DefaultConfig() Config {
	return Config{PerLevelUsesDateMod: true}
}

// Assembler composes DashboardMetrics from the aggregate and trend engines.
type Assembler struct {
	client    *transport.Client
	fields    *fields.Registry
	aggregate *aggregate.Engine
	cache     *ttlcache.Cache
	cfg       Config
}

// New builds an Assembler.
func New(client *transport.Client, fieldRegistry *fields.Registry, agg *aggregate.Engine, cache *ttlcache.Cache, cfg Config) *Assembler {
	return &Assembler{client: client, fields: fieldRegistry, aggregate: agg, cache: cache, cfg: cfg}
}

func cacheNamespace(start, end string) ttlcache.Namespace {
	if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
		return ttlcache.DashboardMetrics
	}
	return ttlcache.DashboardMetricsFiltered
}

func cacheSubKey(start, end string) string {
	return start + "|" + end
}

// Dashboard computes (or returns cached) DashboardMetrics for an optional window.
func (a *Assembler) Dashboard(ctx context.Context, start, end string) (model.DashboardMetrics, error) {
	ns := cacheNamespace(start, end)
	sub := cacheSubKey(start, end)
	if cached, ok := a.cache.Get(ctx, ns, sub); ok {
		if dm, ok := cached.(model.DashboardMetrics); ok {
			return dm, nil
		}
	}

	general, err := a.generalTotals(ctx, start, end)
	if err != nil {
		return model.DashboardMetrics{}, err
	}

	byLevel, err := a.perLevelMetrics(ctx, start, end)
	if err != nil {
		return model.DashboardMetrics{}, err
	}

	niveis := make(map[model.SupportLevel]model.LevelMetrics, len(model.Levels))
	for _, level := range model.Levels {
		m := byLevel[level]
		niveis[level] = model.LevelMetrics{
			Level:           level,
			Metrics:         m,
			TechnicianCount: 0,
		}
	}

	calc := trend.New(a.generalTotals, nil)
	trends, err := calc.Compute(ctx, start, end, general)
	if err != nil {
		return model.DashboardMetrics{}, err
	}

	dm := model.DashboardMetrics{
		Novos:      general.Novos(),
		Pendentes:  general.Pendentes(),
		Progresso:  general.Progresso(),
		Resolvidos: general.Resolvidos(),
		Total:      general.Total(),
		Niveis:     niveis,
		Trends:     trends,
		Timestamp:  time.Now().UTC(),
	}
	if strings.TrimSpace(start) != "" || strings.TrimSpace(end) != "" {
		dm.FiltersApplied = map[string]string{"data_inicio": start, "data_fim": end}
	}

	a.cache.Set(ns, sub, dm, 0)
	return dm, nil
}

// generalTotals runs six independent range=0-0 searches, one per status,
// filtering on date_creation (field 15) when a window is given. This is also
// the function the trend calculator reuses for the previous window.
func (a *Assembler) generalTotals(ctx context.Context, start, end string) (model.TicketMetrics, error) {
	fieldIDs := a.fields.FieldIDs(ctx)
	metrics := model.NewTicketMetrics()

	for _, status := range model.Statuses {
		count, err := a.countByStatus(ctx, fieldIDs, status, start, end)
		if err != nil {
			return nil, err
		}
		metrics[status] = count
	}

	return metrics, nil
}

func (a *Assembler) countByStatus(ctx context.Context, fieldIDs fields.IDs, status model.TicketStatus, start, end string) (int, error) {
	v := url.Values{}
	v.Set("is_deleted", "0")
	v.Set("range", "0-0")
	idx := glpisearch.CriteriaChain(v, 0, fieldIDs.Status, "equals", "AND", []string{strconv.Itoa(int(status))}, false)

	if strings.TrimSpace(start) != "" || strings.TrimSpace(end) != "" {
		dateParams, err := datefilter.Build(start, end, fieldIDs.DateCreation, idx)
		if err != nil {
			return 0, err
		}
		for k, vals := range dateParams {
			for _, val := range vals {
				v.Add(k, val)
			}
		}
	}

	resp, err := a.client.Request(ctx, "GET", "/search/Ticket", v, nil, "")
	if err != nil {
		return 0, err
	}
	if resp == nil || !resp.OK() {
		return 0, nil
	}

	var decoded struct {
		TotalCount *int                          `json:"totalcount"`
		Data       []map[string]json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(resp.Body, &decoded)

	return glpisearch.Total(resp.Header, decoded.TotalCount, len(decoded.Data)), nil
}

// perLevelMetrics delegates to the aggregate engine, always over the full
// status set. The
// date field it filters on is decided by cfg.PerLevelUsesDateMod.
func (a *Assembler) perLevelMetrics(ctx context.Context, start, end string) (map[model.SupportLevel]model.TicketMetrics, error) {
	dateField := ""
	if !a.cfg.PerLevelUsesDateMod {
		dateField = a.fields.FieldIDs(ctx).DateCreation
	}
	return a.aggregate.CountsByLevelOnField(ctx, model.Levels, model.Statuses, start, end, dateField)
}
