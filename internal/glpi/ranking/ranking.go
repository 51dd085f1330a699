// Package ranking implements the technician ranking engine: candidate
// discovery, fan-out ticket counting, level classification, and stable
// sort-and-rank.
package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/logging"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/metrics"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/datefilter"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/fields"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/glpisearch"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/model"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/parse"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/transport"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ttlcache"
)

const serviceName = "glpi-ranking"

const (
	// maxNameWorkers bounds concurrent /User/{id} name resolutions.
	maxNameWorkers = 5
	// maxMetricWorkers bounds concurrent per-technician metric fetches.
	maxMetricWorkers = 3
	// workerTimeout bounds each fan-out unit of work; a timeout yields a
	// zero-valued row instead of failing the whole query.
	workerTimeout = 15 * time.Second
	// batchSize is the URL-length-safety cap on technician ids per batched search.
	batchSize = 25
	// candidateSafetyStop caps fan-out at 100 candidates before warning.
	candidateSafetyStop = 100
	// candidateLookbackDays is the recent-ticket window used for candidate discovery.
	candidateLookbackDays = 90

	// profileUserIDsField/profilesIDField are GLPI search-option ids on the
	// Profile_User itemtype. Unlike Ticket's field ids there is no
	// listSearchOptions discovery path for these, so they carry the same
	// fallback-default posture as the Ticket ids.
	profileUserIDsField = "4"
	profilesIDField     = "3"
	technicianProfileID = "6"

	// groupUserUsersIDField/groupUserGroupsIDField are the Group_User search
	// fields used to resolve a technician's level from group membership.
	groupUserUsersIDField  = "3"
	groupUserGroupsIDField = "2"

	// entityField is the standard GLPI search-option id for a ticket's entity.
	entityField = "80"
)

// GroupIDs maps each support level to its configured GLPI group id
// (defaults 89/90/91/92).
type GroupIDs map[model.SupportLevel]string

// DefaultGroupIDs are the documented fallback group ids.
var DefaultGroupIDs = GroupIDs{
	model.N1: "89",
	model.N2: "90",
	model.N3: "91",
	model.N4: "92",
}

// NameLevelFallback is the deployment-provided name->level table used when
// group lookup fails to classify a technician; loaded once at startup.
type NameLevelFallback map[string]model.SupportLevel

// Options parameterizes a ranking query.
type Options struct {
	Start, End string
	Level      *model.SupportLevel
	Limit      *int
	Entity     string
}

func (o Options) cacheKey() string {
	if o.Limit == nil {
		return "all"
	}
	return strconv.Itoa(*o.Limit)
}

func (o Options) hasDateFilter() bool {
	return strings.TrimSpace(o.Start) != "" || strings.TrimSpace(o.End) != ""
}

// Engine ranks technicians by ticket count within an optional window/level.
type Engine struct {
	client   *transport.Client
	fields   *fields.Registry
	cache    *ttlcache.Cache
	resolver *parse.Resolver
	logger   *logging.Logger
	metrics  *metrics.Metrics
	groups   GroupIDs
	fallback NameLevelFallback
}

// New builds a ranking Engine.
func New(client *transport.Client, fieldRegistry *fields.Registry, cache *ttlcache.Cache, resolver *parse.Resolver, logger *logging.Logger, m *metrics.Metrics, groups GroupIDs, fallback NameLevelFallback) *Engine {
	if groups == nil {
		groups = DefaultGroupIDs
	}
	return &Engine{client: client, fields: fieldRegistry, cache: cache, resolver: resolver, logger: logger, metrics: m, groups: groups, fallback: fallback}
}

// Rank returns technicians sorted by ticket_count descending, ranks assigned
// 1..n, ties broken by id ascending.
func (e *Engine) Rank(ctx context.Context, opts Options) ([]model.Technician, error) {
	if cached, ok := e.cache.Get(ctx, ttlcache.TechnicianRanking, opts.cacheKey()); ok {
		if techs, ok := cached.([]model.Technician); ok {
			return applyLevelFilter(techs, opts.Level), nil
		}
	}

	techFieldID := e.fields.TechFieldID(ctx)

	candidates, err := e.discoverCandidates(ctx, techFieldID)
	if err != nil {
		return nil, err
	}
	if len(candidates) > candidateSafetyStop {
		if e.logger != nil {
			e.logger.Warn(ctx, "ranking candidate fan-out capped", map[string]interface{}{"candidates": len(candidates), "cap": candidateSafetyStop})
		}
		candidates = candidates[:candidateSafetyStop]
	}

	names := e.resolveNames(ctx, candidates)

	counts, err := e.collectCounts(ctx, techFieldID, candidates, opts)
	if err != nil {
		return nil, err
	}

	levels := e.classifyLevels(ctx, candidates)

	techs := make([]model.Technician, 0, len(candidates))
	for _, id := range candidates {
		name, ok := names[id]
		if !ok {
			name = fmt.Sprintf("Técnico %s", id)
		}
		c := counts[id]
		techs = append(techs, model.Technician{
			ID:            id,
			Name:          name,
			Level:         levels[id],
			TicketCount:   c.total,
			ResolvedCount: c.resolved,
			PendingCount:  c.pending,
		})
	}

	sortAndRank(techs)

	e.cache.Set(ttlcache.TechnicianRanking, opts.cacheKey(), techs, 0)

	return applyLevelFilter(techs, opts.Level), nil
}

func applyLevelFilter(techs []model.Technician, level *model.SupportLevel) []model.Technician {
	if level == nil {
		return techs
	}
	out := make([]model.Technician, 0, len(techs))
	for _, t := range techs {
		if t.Level == *level {
			out = append(out, t)
		}
	}
	return out
}

func sortAndRank(techs []model.Technician) {
	sort.SliceStable(techs, func(i, j int) bool {
		if techs[i].TicketCount != techs[j].TicketCount {
			return techs[i].TicketCount > techs[j].TicketCount
		}
		return techs[i].ID < techs[j].ID
	})
	for i := range techs {
		techs[i].Rank = i + 1
	}
}

// --- candidate discovery ---------------------------------------------------

func (e *Engine) discoverCandidates(ctx context.Context, techFieldID string) ([]string, error) {
	ids, err := e.candidatesFromRecentTickets(ctx, techFieldID)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return ids, nil
	}
	return e.candidatesFromProfileUser(ctx)
}

func (e *Engine) candidatesFromRecentTickets(ctx context.Context, techFieldID string) ([]string, error) {
	fieldIDs := e.fields.FieldIDs(ctx)
	since := time.Now().AddDate(0, 0, -candidateLookbackDays).Format("2006-01-02")

	seen := map[string]bool{}
	var ordered []string

	page := 0
	total := 0
	for {
		v := url.Values{}
		v.Set("is_deleted", "0")
		v.Set("range", glpisearch.RangeParam(page*glpisearch.PageSize, page*glpisearch.PageSize+glpisearch.PageSize-1))
		v.Set("forcedisplay[0]", techFieldID)
		dateParams, err := datefilter.Build(since, "", fieldIDs.DateCreation, 0)
		if err != nil {
			return nil, err
		}
		for k, vals := range dateParams {
			for _, val := range vals {
				v.Add(k, val)
			}
		}

		resp, err := e.client.Request(ctx, "GET", "/search/Ticket", v, nil, "")
		if err != nil || resp == nil || !resp.OK() {
			return nil, nil
		}

		var decoded struct {
			Data []map[string]json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(resp.Body, &decoded); err != nil {
			return nil, nil
		}

		for _, row := range decoded.Data {
			raw := row[techFieldID]
			var generic interface{}
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &generic)
			}
			if id, ok := parse.TechnicianID(generic); ok {
				if !seen[id] {
					seen[id] = true
					ordered = append(ordered, id)
				}
			}
		}

		total += len(decoded.Data)
		if len(decoded.Data) < glpisearch.PageSize || total >= glpisearch.SafetyStop {
			break
		}
		page++
	}

	return ordered, nil
}

func (e *Engine) candidatesFromProfileUser(ctx context.Context) ([]string, error) {
	v := url.Values{}
	v.Set("range", glpisearch.RangeParam(0, glpisearch.PageSize-1))
	v.Set("forcedisplay[0]", profileUserIDsField)
	glpisearch.CriteriaChain(v, 0, profilesIDField, "equals", "AND", []string{technicianProfileID}, false)

	resp, err := e.client.Request(ctx, "GET", "/search/Profile_User", v, nil, "")
	if err != nil || resp == nil || !resp.OK() {
		return nil, nil
	}

	var decoded struct {
		Data []map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, nil
	}

	seen := map[string]bool{}
	var ordered []string
	for _, row := range decoded.Data {
		raw := row[profileUserIDsField]
		var generic interface{}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &generic)
		}
		if id, ok := parse.TechnicianID(generic); ok && !seen[id] {
			seen[id] = true
			ordered = append(ordered, id)
		}
	}
	return ordered, nil
}

// --- name resolution (bounded fan-out) --------------------------------------

func (e *Engine) resolveNames(ctx context.Context, ids []string) map[string]string {
	results := make(map[string]string, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxNameWorkers)

	for _, id := range ids {
		id := id
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			workerCtx, cancel := context.WithTimeout(ctx, workerTimeout)
			defer cancel()

			name := e.resolver.UserName(workerCtx, id)

			mu.Lock()
			results[id] = name
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// --- ticket counting (bounded fan-out) --------------------------------------

type techCounts struct {
	total    int
	resolved int
	pending  int
}

func (e *Engine) collectCounts(ctx context.Context, techFieldID string, ids []string, opts Options) (map[string]techCounts, error) {
	if opts.hasDateFilter() {
		return e.collectCountsPerTech(ctx, techFieldID, ids, opts)
	}

	counts, err := e.collectCountsBatch(ctx, techFieldID, ids, opts)
	if err != nil {
		// Batch mode failed: fall back to per-technician counting.
		if e.logger != nil {
			e.logger.LogFallback(ctx, "technician_ranking_counts", err.Error())
		}
		if e.metrics != nil {
			e.metrics.RecordFallback(serviceName, "technician_ranking_counts")
		}
		return e.collectCountsPerTech(ctx, techFieldID, ids, opts)
	}
	return counts, nil
}

func (e *Engine) collectCountsBatch(ctx context.Context, techFieldID string, ids []string, opts Options) (map[string]techCounts, error) {
	fieldIDs := e.fields.FieldIDs(ctx)
	result := make(map[string]techCounts, len(ids))
	for _, id := range ids {
		result[id] = techCounts{}
	}

	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		sub := ids[start:end]

		page := 0
		total := 0
		for {
			v := url.Values{}
			v.Set("is_deleted", "0")
			v.Set("range", glpisearch.RangeParam(page*glpisearch.PageSize, page*glpisearch.PageSize+glpisearch.PageSize-1))
			v.Set("forcedisplay[0]", techFieldID)
			v.Set("forcedisplay[1]", fieldIDs.Status)
			glpisearch.CriteriaChain(v, 0, techFieldID, "equals", "OR", sub, false)

			resp, err := e.client.Request(ctx, "GET", "/search/Ticket", v, nil, "")
			if err != nil {
				return nil, err
			}
			if resp == nil || !resp.OK() {
				return nil, fmt.Errorf("batch ranking search returned non-2xx")
			}

			var decoded struct {
				Data []map[string]json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(resp.Body, &decoded); err != nil {
				return nil, err
			}

			for _, row := range decoded.Data {
				var techRaw interface{}
				if raw := row[techFieldID]; len(raw) > 0 {
					_ = json.Unmarshal(raw, &techRaw)
				}
				id, ok := parse.TechnicianID(techRaw)
				if !ok {
					continue
				}
				c := result[id]
				c.total++
				if status, ok := statusFromRaw(row[fieldIDs.Status]); ok {
					switch status {
					case model.StatusSolved, model.StatusClosed:
						c.resolved++
					case model.StatusPending:
						c.pending++
					}
				}
				result[id] = c
			}

			total += len(decoded.Data)
			if len(decoded.Data) < glpisearch.PageSize || total >= glpisearch.SafetyStop {
				break
			}
			page++
		}
	}

	return result, nil
}

func statusFromRaw(raw json.RawMessage) (model.TicketStatus, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return model.TicketStatus(v), true
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(s); err == nil {
			return model.TicketStatus(v), true
		}
	}
	return 0, false
}

func (e *Engine) collectCountsPerTech(ctx context.Context, techFieldID string, ids []string, opts Options) (map[string]techCounts, error) {
	results := make(map[string]techCounts, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxMetricWorkers)

	for _, id := range ids {
		id := id
		if cached, ok := e.cache.Get(ctx, ttlcache.TechnicianMetrics, id); ok && !opts.hasDateFilter() {
			if c, ok := cached.(techCounts); ok {
				mu.Lock()
				results[id] = c
				mu.Unlock()
				continue
			}
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			workerCtx, cancel := context.WithTimeout(ctx, workerTimeout)
			defer cancel()

			c, err := e.countOneTechnician(workerCtx, techFieldID, id, opts)
			if err != nil {
				c = techCounts{} // timeout/error contributes a zero row, never fails the query
			} else if !opts.hasDateFilter() {
				e.cache.Set(ttlcache.TechnicianMetrics, id, c, 0)
			}

			mu.Lock()
			results[id] = c
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results, nil
}

func (e *Engine) countOneTechnician(ctx context.Context, techFieldID, id string, opts Options) (techCounts, error) {
	fieldIDs := e.fields.FieldIDs(ctx)

	total, err := e.countTechStatuses(ctx, techFieldID, fieldIDs.Status, id, nil, opts)
	if err != nil {
		return techCounts{}, err
	}
	resolved, err := e.countTechStatuses(ctx, techFieldID, fieldIDs.Status, id, []model.TicketStatus{model.StatusSolved, model.StatusClosed}, opts)
	if err != nil {
		return techCounts{}, err
	}
	pending, err := e.countTechStatuses(ctx, techFieldID, fieldIDs.Status, id, []model.TicketStatus{model.StatusPending}, opts)
	if err != nil {
		return techCounts{}, err
	}
	return techCounts{total: total, resolved: resolved, pending: pending}, nil
}

func (e *Engine) countTechStatuses(ctx context.Context, techFieldID, statusFieldID, id string, statuses []model.TicketStatus, opts Options) (int, error) {
	fieldIDs := e.fields.FieldIDs(ctx)
	v := url.Values{}
	v.Set("is_deleted", "0")
	v.Set("range", "0-0")
	idx := glpisearch.CriteriaChain(v, 0, techFieldID, "equals", "AND", []string{id}, false)
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = strconv.Itoa(int(s))
		}
		idx = glpisearch.CriteriaChain(v, idx, statusFieldID, "equals", "OR", values, true)
	}
	if entity := strings.TrimSpace(opts.Entity); entity != "" {
		idx = glpisearch.CriteriaChain(v, idx, entityField, "equals", "AND", []string{entity}, true)
	}
	if opts.hasDateFilter() {
		dateParams, err := datefilter.Build(opts.Start, opts.End, fieldIDs.DateMod, idx)
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
		return 0, fmt.Errorf("per-tech ranking count returned non-2xx")
	}

	var decoded struct {
		TotalCount *int                          `json:"totalcount"`
		Data       []map[string]json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(resp.Body, &decoded)
	return glpisearch.Total(resp.Header, decoded.TotalCount, len(decoded.Data)), nil
}

// --- level classification ----------------------------------------------------

func (e *Engine) classifyLevels(ctx context.Context, ids []string) map[string]model.SupportLevel {
	results := make(map[string]model.SupportLevel, len(ids))
	for _, id := range ids {
		results[id] = e.classifyOne(ctx, id)
	}
	return results
}

func (e *Engine) classifyOne(ctx context.Context, id string) model.SupportLevel {
	if level, ok := e.levelFromGroups(ctx, id); ok {
		return level
	}
	name := e.resolver.UserName(ctx, id)
	if e.fallback != nil {
		if level, ok := e.fallback[strings.ToLower(strings.TrimSpace(name))]; ok {
			return level
		}
	}
	return model.N1
}

func (e *Engine) levelFromGroups(ctx context.Context, id string) (model.SupportLevel, bool) {
	v := url.Values{}
	v.Set("range", "0-99")
	v.Set("forcedisplay[0]", groupUserGroupsIDField)
	glpisearch.CriteriaChain(v, 0, groupUserUsersIDField, "equals", "AND", []string{id}, false)

	resp, err := e.client.Request(ctx, "GET", "/search/Group_User", v, nil, "")
	if err != nil || resp == nil || !resp.OK() {
		return "", false
	}

	var decoded struct {
		Data []map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return "", false
	}

	for _, row := range decoded.Data {
		groupID := rawToString(row[groupUserGroupsIDField])
		for level, configuredID := range e.groups {
			if groupID == configuredID {
				return level, true
			}
		}
	}
	return "", false
}

func rawToString(raw json.RawMessage) string {
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
