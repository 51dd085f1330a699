// Package fields implements the GLPI field-id discovery registry: the
// numeric search-option ids GLPI uses for group, status, technician,
// date_creation, and date_mod vary per instance/version, so they are
// discovered once via listSearchOptions/Ticket and cached.
package fields

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/logging"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/transport"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ttlcache"
)

// IDs is the field-id set the rest of the engine consumes. Every value is a
// decimal string because GLPI's search API itself uses strings.
type IDs struct {
	Group        string
	Status       string
	Technician   string
	DateCreation string
	DateMod      string
}

// Defaults are the fallback field ids used when discovery fails or a slot
// goes unmatched.
var Defaults = IDs{
	Group:        "8",
	Status:       "12",
	Technician:   "5",
	DateCreation: "15",
	DateMod:      "19",
}

// DefaultTechFieldID is the assigned-technician search option; the
// responsible-technician option is 95 and never used as a default.
const DefaultTechFieldID = "5"

// candidateSets lists the case-insensitive name variants GLPI instances use
// for each slot.
var candidateSets = map[string][]string{
	"group":      {"Grupo técnico", "Grupo Técnico", "Technical group", "Assigned group", "Group"},
	"status":     {"Status", "Estado", "State"},
	"technician": {"Técnico", "Technician", "Assigned to", "Atribuído a"},
}

var techFieldNameCandidates = []string{"Técnico", "Technician"}

type searchOption struct {
	Name string `json:"name"`
}

// Registry discovers and caches GLPI's field ids.
type Registry struct {
	client *transport.Client
	cache  *ttlcache.Cache
	logger *logging.Logger
}

// New builds a Registry.
func New(client *transport.Client, cache *ttlcache.Cache, logger *logging.Logger) *Registry {
	return &Registry{client: client, cache: cache, logger: logger}
}

// FieldIDs returns the cached field-id set, discovering it on first use.
// It always succeeds: a network failure degrades to Defaults rather than
// propagating an error, with a warning logged.
func (r *Registry) FieldIDs(ctx context.Context) IDs {
	if cached, ok := r.cache.Get(ctx, ttlcache.FieldIDs, ""); ok {
		if ids, ok := cached.(IDs); ok {
			return ids
		}
	}

	ids := r.discover(ctx)
	r.cache.Set(ttlcache.FieldIDs, "", ids, 0)
	return ids
}

func (r *Registry) discover(ctx context.Context) IDs {
	ids := Defaults

	resp, err := r.client.Request(ctx, "GET", "/listSearchOptions/Ticket", nil, nil, "")
	if err != nil || resp == nil || !resp.OK() {
		r.warn(ctx, "field discovery request failed, using fallback defaults", err)
		// date_creation is forced regardless of discovery outcome.
		ids.DateCreation = "15"
		return ids
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		r.warn(ctx, "field discovery response malformed, using fallback defaults", err)
		ids.DateCreation = "15"
		return ids
	}

	found := map[string]string{}
	for id, payload := range raw {
		var opt searchOption
		if err := json.Unmarshal(payload, &opt); err != nil {
			continue
		}
		for slot, candidates := range candidateSets {
			if _, already := found[slot]; already {
				continue
			}
			if matchesAny(opt.Name, candidates) {
				found[slot] = id
			}
		}
	}

	if v, ok := found["group"]; ok {
		ids.Group = v
	}
	if v, ok := found["status"]; ok {
		ids.Status = v
	}
	if v, ok := found["technician"]; ok {
		ids.Technician = v
	}
	// date_creation is forced to "15" regardless of discovery (GLPI convention).
	ids.DateCreation = "15"

	return ids
}

func (r *Registry) warn(ctx context.Context, msg string, err error) {
	if r.logger == nil {
		return
	}
	fields := map[string]interface{}{}
	if err != nil {
		fields["error"] = err.Error()
	}
	r.logger.Warn(ctx, msg, fields)
}

func matchesAny(name string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(strings.TrimSpace(name), c) {
			return true
		}
	}
	return false
}

// TechFieldID distinguishes the assigned-technician search option (5,
// "Técnico") from the responsible-technician option (95). Cached for the
// process lifetime; defaults to "5".
func (r *Registry) TechFieldID(ctx context.Context) string {
	if cached, ok := r.cache.Get(ctx, ttlcache.TechFieldID, ""); ok {
		if id, ok := cached.(string); ok {
			return id
		}
	}

	id := DefaultTechFieldID
	resp, err := r.client.Request(ctx, "GET", "/listSearchOptions/Ticket", nil, nil, "")
	if err == nil && resp != nil && resp.OK() {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			matches := []string{}
			for fieldID, payload := range raw {
				var opt searchOption
				if err := json.Unmarshal(payload, &opt); err != nil {
					continue
				}
				if matchesAny(opt.Name, techFieldNameCandidates) {
					matches = append(matches, fieldID)
				}
			}
			// Prefer the assigned-tech option (5) when both the assigned and
			// responsible fields share the same display name; otherwise fall
			// back to the lowest numeric id for determinism.
			assigned := false
			lowest := ""
			for _, m := range matches {
				if m == DefaultTechFieldID {
					assigned = true
					break
				}
				// numeric order on decimal strings: shorter first, then lexical
				if lowest == "" || len(m) < len(lowest) || (len(m) == len(lowest) && m < lowest) {
					lowest = m
				}
			}
			if !assigned && lowest != "" {
				id = lowest
			}
		}
	}

	r.cache.Set(ttlcache.TechFieldID, "", id, 0)
	return id
}
