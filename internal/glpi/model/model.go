// Package model holds the domain entities shared across the GLPI engine.
package model

import "time"

// SupportLevel is one of the four technician tiers, or Unknown when a
// ticket's hierarchy text doesn't carry a recognised marker.
type SupportLevel string

const (
	N1      SupportLevel = "N1"
	N2      SupportLevel = "N2"
	N3      SupportLevel = "N3"
	N4      SupportLevel = "N4"
	Unknown SupportLevel = "Unknown"
)

// Levels is the canonical iteration order for per-level aggregates.
var Levels = []SupportLevel{N1, N2, N3, N4}

// TicketStatus is GLPI's fixed ordinal status, field 12.
type TicketStatus int

const (
	StatusNew      TicketStatus = 1
	StatusAssigned TicketStatus = 2
	StatusPlanned  TicketStatus = 3
	StatusPending  TicketStatus = 4
	StatusSolved   TicketStatus = 5
	StatusClosed   TicketStatus = 6
)

// Statuses is the canonical iteration order over all six ticket statuses.
var Statuses = []TicketStatus{StatusNew, StatusAssigned, StatusPlanned, StatusPending, StatusSolved, StatusClosed}

// Label returns the Portuguese label the dashboard surfaces for a status.
func (s TicketStatus) Label() string {
	switch s {
	case StatusNew:
		return "Novo"
	case StatusAssigned:
		return "Processando (atribuído)"
	case StatusPlanned:
		return "Processando (planejado)"
	case StatusPending:
		return "Pendente"
	case StatusSolved:
		return "Solucionado"
	case StatusClosed:
		return "Fechado"
	default:
		return "desconhecido"
	}
}

// Priority is GLPI's ticket priority, field 3.
type Priority int

const (
	PriorityVeryLow  Priority = 1
	PriorityLow      Priority = 2
	PriorityMedium   Priority = 3
	PriorityHigh     Priority = 4
	PriorityVeryHigh Priority = 5
	PriorityCritical Priority = 6
)

// PriorityDefault is used whenever a ticket carries no recognised priority id.
const PriorityDefault = PriorityMedium

// Label returns the Portuguese label for a priority id; unknown ids fall
// back to "normal".
func (p Priority) Label() string {
	switch p {
	case PriorityVeryLow:
		return "Muito Baixa"
	case PriorityLow:
		return "Baixa"
	case PriorityMedium:
		return "Média"
	case PriorityHigh:
		return "Alta"
	case PriorityVeryHigh:
		return "Muito Alta"
	case PriorityCritical:
		return "Crítica"
	default:
		return "normal"
	}
}

// TicketMetrics maps a status to a non-negative ticket count. Its keys are
// always exactly the six known statuses.
type TicketMetrics map[TicketStatus]int

// NewTicketMetrics returns a TicketMetrics with all six statuses initialised to zero.
func NewTicketMetrics() TicketMetrics {
	m := make(TicketMetrics, len(Statuses))
	for _, s := range Statuses {
		m[s] = 0
	}
	return m
}

// Total sums every bucket.
func (m TicketMetrics) Total() int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

// Novos, Progresso, Pendentes, Resolvidos are the derived buckets the
// dashboard surfaces: new=1, in_progress=2+3, pending=4, resolved=5+6.
func (m TicketMetrics) Novos() int      { return m[StatusNew] }
func (m TicketMetrics) Progresso() int  { return m[StatusAssigned] + m[StatusPlanned] }
func (m TicketMetrics) Pendentes() int  { return m[StatusPending] }
func (m TicketMetrics) Resolvidos() int { return m[StatusSolved] + m[StatusClosed] }

// LevelMetrics is the per-support-level breakdown of a dashboard response.
type LevelMetrics struct {
	Level             SupportLevel  `json:"level"`
	Metrics           TicketMetrics `json:"metrics"`
	TechnicianCount   int           `json:"technician_count"`
	AvgResolutionTime *float64      `json:"avg_resolution_time,omitempty"`
}

// Trend holds the four percent-change figures the dashboard surfaces.
type Trend struct {
	Novos      float64 `json:"novos"`
	Pendentes  float64 `json:"pendentes"`
	Progresso  float64 `json:"progresso"`
	Resolvidos float64 `json:"resolvidos"`
}

// DashboardMetrics is the top-level payload for the metrics endpoints.
type DashboardMetrics struct {
	Novos          int                           `json:"novos"`
	Pendentes      int                           `json:"pendentes"`
	Progresso      int                           `json:"progresso"`
	Resolvidos     int                           `json:"resolvidos"`
	Total          int                           `json:"total"`
	Niveis         map[SupportLevel]LevelMetrics `json:"niveis"`
	Trends         Trend                         `json:"trends"`
	FiltersApplied map[string]string             `json:"filters_applied,omitempty"`
	Timestamp      time.Time                     `json:"timestamp"`
}

// Technician is one row of a ranking response.
type Technician struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Level         SupportLevel `json:"level"`
	TicketCount   int          `json:"ticket_count"`
	ResolvedCount int          `json:"resolved_count"`
	PendingCount  int          `json:"pending_count"`
	Rank          int          `json:"rank"`
}

// PersonRef is a minimal {id, name} pair embedded in ticket detail.
type PersonRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TimeTracking captures the timing fields GLPI reports for a ticket.
type TimeTracking struct {
	Total      *time.Duration `json:"total,omitempty"`
	Waiting    *time.Duration `json:"waiting,omitempty"`
	SolveDelay *time.Duration `json:"solve_delay,omitempty"`
	CloseDelay *time.Duration `json:"close_delay,omitempty"`
}

// Ticket is a single expanded ticket returned by the detail query.
type Ticket struct {
	ID                 string       `json:"id"`
	Title              string       `json:"title"`
	DescriptionCleaned string       `json:"description_cleaned"`
	Phone              string       `json:"phone,omitempty"`
	Status             TicketStatus `json:"status"`
	Priority           Priority     `json:"priority"`
	Category           string       `json:"category"`
	Type               string       `json:"type"`
	Urgency            string       `json:"urgency"`
	Impact             string       `json:"impact"`
	Source             string       `json:"source"`
	Location           string       `json:"location"`
	Entity             string       `json:"entity"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	DueDate            *time.Time   `json:"due_date,omitempty"`
	CloseDate          *time.Time   `json:"close_date,omitempty"`
	SolveDate          *time.Time   `json:"solve_date,omitempty"`
	Requester          PersonRef    `json:"requester"`
	TechnicianRef      PersonRef    `json:"technician"`
	Group              PersonRef    `json:"group"`
	TimeTracking       TimeTracking `json:"time_tracking"`
}

// NewTicket is a row of the new-tickets listing.
type NewTicket struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Requester   string `json:"requester"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	Status      string `json:"status"`
}
