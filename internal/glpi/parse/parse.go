// Package parse normalises the polymorphic GLPI field encodings into stable
// Go values: technician ids arriving as string/number/list, priority and
// status labels, HTML ticket descriptions, and phone extensions embedded in
// structured request bodies.
package parse

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/model"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/transport"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ttlcache"
)

// TechnicianID normalises users_id_tech, which GLPI encodes as a string, a
// JSON-string, a number, or a list. It returns ("", false) when the field is
// missing, zero, or otherwise unset; on a list it picks the first non-zero
// entry.
func TechnicianID(raw interface{}) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case float64:
		id := int64(v)
		if id == 0 {
			return "", false
		}
		return strconv.FormatInt(id, 10), true
	case int:
		if v == 0 {
			return "", false
		}
		return strconv.Itoa(v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" || s == "0" {
			return "", false
		}
		if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
			var nested interface{}
			if err := json.Unmarshal([]byte(s), &nested); err == nil {
				return TechnicianID(nested)
			}
		}
		return s, true
	case []interface{}:
		for _, item := range v {
			if id, ok := TechnicianID(item); ok {
				return id, true
			}
		}
		return "", false
	default:
		return "", false
	}
}

// PriorityName returns the Portuguese label for a GLPI priority id.
func PriorityName(id int) string {
	return model.Priority(id).Label()
}

// StatusLabel returns the Portuguese label for a GLPI status id.
func StatusLabel(id int) string {
	return model.TicketStatus(id).Label()
}

var priorityNameToID = map[string]model.Priority{
	"muito baixa": model.PriorityVeryLow,
	"baixa":       model.PriorityLow,
	"média":       model.PriorityMedium,
	"media":       model.PriorityMedium,
	"alta":        model.PriorityHigh,
	"muito alta":  model.PriorityVeryHigh,
	"crítica":     model.PriorityCritical,
	"critica":     model.PriorityCritical,
}

// PriorityIDByName resolves a Portuguese priority label (case-insensitive,
// accent-tolerant for the common ascii spellings) back to its numeric id.
// The new-tickets priority filter accepts either an id or a label (e.g.
// "Alta").
func PriorityIDByName(name string) (model.Priority, bool) {
	id, ok := priorityNameToID[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// ResolvePriorityFilter accepts either a numeric priority id or a Portuguese
// label and returns the numeric id as a string, ready for a search criterion.
func ResolvePriorityFilter(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if _, err := strconv.Atoi(raw); err == nil {
		return raw, true
	}
	if id, ok := PriorityIDByName(raw); ok {
		return strconv.Itoa(int(id)), true
	}
	return "", false
}

var (
	tagPattern   = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
	phonePattern = regexp.MustCompile(`(?i)RAMAL\s*:?\s*:?\s*(\d+)`)
)

// CleanHTML strips tags/entities and collapses whitespace.
func CleanHTML(content string) string {
	if content == "" {
		return ""
	}
	noTags := tagPattern.ReplaceAllString(content, " ")
	unescaped := html.UnescapeString(noTags)
	return strings.TrimSpace(spacePattern.ReplaceAllString(unescaped, " "))
}

// ExtractPhone returns the digits following "RAMAL" in the HTML-cleaned
// text, or "" when no extension is present.
func ExtractPhone(raw string) string {
	cleaned := CleanHTML(raw)
	m := phonePattern.FindStringSubmatch(cleaned)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

var structuredMarkers = []string{"Dados do formulário", "LOCALIZAÇÃO", "RAMAL"}

var (
	locationPattern    = regexp.MustCompile(`(?is)LOCALIZA[ÇC][ÃA]O\s*:?\s*(.+?)(?:\n|RAMAL|DESCRI[ÇC][ÃA]O|ARQUIVO|$)`)
	ramalPattern       = regexp.MustCompile(`(?is)RAMAL\s*:?\s*(\d+)`)
	descriptionPattern = regexp.MustCompile(`(?is)DESCRI[ÇC][ÃA]O\s+DO\s+PEDIDO\s*:?\s*(.+?)(?:\n|ARQUIVO|$)`)
	fileAttachPattern  = regexp.MustCompile(`(?is)ARQUIVO\s*:?\s*(.+?)(?:\n|$)`)
)

const maxUnstructuredLength = 500

// FormatDescription formats a ticket description. Structured bodies (those
// containing "Dados do formulário", "LOCALIZAÇÃO", or "RAMAL") are reduced
// to LOCALIZAÇÃO/RAMAL/DESCRIÇÃO DO PEDIDO/ARQUIVO, one per line, in that
// order; unstructured bodies are capped to 500 characters with an ellipsis.
// FormatDescription(FormatDescription(x)) == FormatDescription(x): a
// formatted structured body still carries its labels, and re-extracting
// them reproduces the same lines; a capped unstructured body is capped again
// to the same 500 characters plus ellipsis.
func FormatDescription(raw string) string {
	cleaned := CleanHTML(raw)
	if isStructured(cleaned) {
		var lines []string
		if m := locationPattern.FindStringSubmatch(cleaned); len(m) > 1 {
			lines = append(lines, "LOCALIZAÇÃO: "+strings.TrimSpace(m[1]))
		}
		if m := ramalPattern.FindStringSubmatch(cleaned); len(m) > 1 {
			lines = append(lines, "RAMAL: "+strings.TrimSpace(m[1]))
		}
		if m := descriptionPattern.FindStringSubmatch(cleaned); len(m) > 1 {
			lines = append(lines, "DESCRIÇÃO DO PEDIDO: "+strings.TrimSpace(m[1]))
		}
		if m := fileAttachPattern.FindStringSubmatch(cleaned); len(m) > 1 {
			lines = append(lines, "ARQUIVO: "+strings.TrimSpace(m[1]))
		}
		if len(lines) > 0 {
			return strings.Join(lines, "\n")
		}
	}
	if runes := []rune(cleaned); len(runes) > maxUnstructuredLength {
		return string(runes[:maxUnstructuredLength]) + "..."
	}
	return cleaned
}

func isStructured(cleaned string) bool {
	for _, marker := range structuredMarkers {
		if strings.Contains(cleaned, marker) {
			return true
		}
	}
	return false
}

// Resolver resolves GLPI ids to human-readable names, backed by the shared
// transport client and caching results in the user_names/category_names
// namespaces.
type Resolver struct {
	client *transport.Client
	cache  *ttlcache.Cache
}

// NewResolver builds a name Resolver.
func NewResolver(client *transport.Client, cache *ttlcache.Cache) *Resolver {
	return &Resolver{client: client, cache: cache}
}

type glpiUser struct {
	CompleteName string `json:"completename"`
	RealName     string `json:"realname"`
	Name         string `json:"name"`
	FirstName    string `json:"firstname"`
	LastName     string `json:"lastname"`
}

// UserName resolves a user id to a display name, never returning an error:
// any failure falls back to "Técnico <id>".
func (r *Resolver) UserName(ctx context.Context, id string) string {
	fallback := fmt.Sprintf("Técnico %s", id)
	if id == "" {
		return fallback
	}
	if cached, ok := r.cache.Get(ctx, ttlcache.UserNames, id); ok {
		if name, ok := cached.(string); ok {
			return name
		}
	}

	resp, err := r.client.Request(ctx, "GET", "/User/"+id, nil, nil, "")
	if err != nil || resp == nil || !resp.OK() {
		return fallback
	}

	var u glpiUser
	if err := json.Unmarshal(resp.Body, &u); err != nil {
		return fallback
	}

	name := displayName(u, fallback)
	r.cache.Set(ttlcache.UserNames, id, name, 0)
	return name
}

func displayName(u glpiUser, fallback string) string {
	if n := strings.TrimSpace(u.CompleteName); n != "" {
		return n
	}
	if n := strings.TrimSpace(u.RealName); n != "" {
		return n
	}
	if n := strings.TrimSpace(u.Name); n != "" {
		return n
	}
	full := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if full != "" {
		return full
	}
	return fallback
}

type glpiCategory struct {
	Name         string `json:"name"`
	CompleteName string `json:"completename"`
}

// CategoryName resolves an ITILCategory id to a display name. Falls back to
// the raw id string on any failure.
func (r *Resolver) CategoryName(ctx context.Context, id string) string {
	if id == "" || id == "0" {
		return ""
	}
	if cached, ok := r.cache.Get(ctx, ttlcache.CategoryNames, id); ok {
		if name, ok := cached.(string); ok {
			return name
		}
	}

	resp, err := r.client.Request(ctx, "GET", "/ITILCategory/"+id, nil, nil, "")
	if err != nil || resp == nil || !resp.OK() {
		return id
	}

	var c glpiCategory
	if err := json.Unmarshal(resp.Body, &c); err != nil {
		return id
	}

	name := strings.TrimSpace(c.CompleteName)
	if name == "" {
		name = strings.TrimSpace(c.Name)
	}
	if name == "" {
		name = id
	}
	r.cache.Set(ttlcache.CategoryNames, id, name, 0)
	return name
}
