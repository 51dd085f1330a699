// Package trend implements the percent-change calculator: given a window's
// general totals, it fetches the immediately preceding equal-length window
// and computes four percent deltas.
package trend

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/datefilter"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/model"
)

// dateLayout matches datefilter's date-only format.
const dateLayout = "2006-01-02"

// GeneralTotalsFunc fetches the dashboard's general totals (by status, no
// level filter) for a window: the same path the assembler uses for the current
// window, reused here for the previous one.
type GeneralTotalsFunc func(ctx context.Context, start, end string) (model.TicketMetrics, error)

// Calculator computes trend deltas against a preceding window.
type Calculator struct {
	generalTotals GeneralTotalsFunc
	now           func() time.Time
}

// New builds a Calculator. now defaults to time.Now; tests may override it.
func New(fn GeneralTotalsFunc, now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{generalTotals: fn, now: now}
}

// Compute returns the four percent deltas for (start, end) against the
// immediately preceding equal-length window. start/end empty means the
// implicit "up to today" window, whose previous window is today-14..today-7.
func (c *Calculator) Compute(ctx context.Context, start, end string, current model.TicketMetrics) (model.Trend, error) {
	prevStart, prevEnd, err := c.previousWindow(start, end)
	if err != nil {
		return model.Trend{}, err
	}

	previous, err := c.generalTotals(ctx, prevStart, prevEnd)
	if err != nil {
		return model.Trend{}, err
	}

	return model.Trend{
		Novos:      pct(current.Novos(), previous.Novos()),
		Pendentes:  pct(current.Pendentes(), previous.Pendentes()),
		Progresso:  pct(current.Progresso(), previous.Progresso()),
		Resolvidos: pct(current.Resolvidos(), previous.Resolvidos()),
	}, nil
}

func (c *Calculator) previousWindow(start, end string) (string, string, error) {
	if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
		today := c.now()
		prevStart := today.AddDate(0, 0, -14).Format(dateLayout)
		prevEnd := today.AddDate(0, 0, -7).Format(dateLayout)
		return prevStart, prevEnd, nil
	}

	s, err := datefilter.Parse(start)
	if err != nil {
		return "", "", err
	}
	e, err := datefilter.Parse(end)
	if err != nil {
		return "", "", err
	}

	windowLen := e.Sub(s)
	prevEnd := s.AddDate(0, 0, -1)
	prevStart := prevEnd.Add(-windowLen)

	return prevStart.Format(dateLayout), prevEnd.Format(dateLayout), nil
}

// pct returns round((curr-prev)/prev*100, 1)
// when prev>0; 100.0 when prev==0 and curr>0; 0.0 otherwise. Always finite.
func pct(curr, prev int) float64 {
	if prev > 0 {
		return round1(float64(curr-prev) / float64(prev) * 100)
	}
	if curr > 0 {
		return 100.0
	}
	return 0.0
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
