// Package probe implements the cheap GLPI liveness check: it never goes
// through the authenticated transport path, so a 401 from GLPI never sets
// off re-authentication, and without a Valid session it pings anonymously.
package probe

import (
	"context"
	"time"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/session"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/transport"
)

// Status is the three-valued health reading the façade surfaces.
type Status string

const (
	Online  Status = "online"
	Warning Status = "warning"
	Offline Status = "offline"
)

// Result is the status probe's response.
type Result struct {
	Status       Status        `json:"status"`
	Message      string        `json:"message"`
	ResponseTime time.Duration `json:"response_time"`
	TokenValid   bool          `json:"token_valid"`
}

const probeTimeout = 1 * time.Second

// Probe pings GLPI; it starts no session when none is Valid.
type Probe struct {
	client  *transport.Client
	session *session.Manager
}

// New builds a Probe.
func New(client *transport.Client, sessionMgr *session.Manager) *Probe {
	return &Probe{client: client, session: sessionMgr}
}

// Status reports liveness: it reuses a valid session's token when one
// exists and otherwise pings anonymously, without authenticating.
func (p *Probe) Status(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()

	if p.session != nil && p.session.State() == session.Valid {
		return p.probeAuthenticated(ctx, start)
	}
	return p.probeAnonymous(ctx, start)
}

func (p *Probe) probeAuthenticated(ctx context.Context, start time.Time) Result {
	// The session is in the Valid state, so Headers returns the held token;
	// if that token is already past its renewal point, Headers first renews
	// it with one initSession. The anonymous transport path is used on
	// purpose: the authenticated one would react to a 401 by re-authenticating.
	headers, err := p.session.Headers(ctx)
	if err != nil {
		return p.probeAnonymous(ctx, start)
	}
	resp, err := p.client.RequestAnonymous(ctx, "GET", "/getGlpiConfig", nil, headers, "")
	elapsed := time.Since(start)

	if err != nil {
		return classifyTransportError(ctx, err, elapsed, true)
	}
	switch {
	case resp.StatusCode == 200:
		return Result{Status: Online, Message: "GLPI reachable", ResponseTime: elapsed, TokenValid: true}
	default:
		return Result{Status: Warning, Message: "GLPI responded with an unexpected status", ResponseTime: elapsed, TokenValid: true}
	}
}

func (p *Probe) probeAnonymous(ctx context.Context, start time.Time) Result {
	resp, err := p.client.RequestAnonymous(ctx, "GET", "/", nil, nil, "")
	elapsed := time.Since(start)

	if err != nil {
		return classifyTransportError(ctx, err, elapsed, false)
	}
	switch resp.StatusCode {
	case 200, 401, 403:
		return Result{Status: Online, Message: "GLPI server is up", ResponseTime: elapsed, TokenValid: false}
	default:
		return Result{Status: Warning, Message: "GLPI responded with an unexpected status", ResponseTime: elapsed, TokenValid: false}
	}
}

func classifyTransportError(ctx context.Context, err error, elapsed time.Duration, tokenValid bool) Result {
	if ctx.Err() != nil {
		return Result{Status: Warning, Message: "GLPI probe timed out", ResponseTime: elapsed, TokenValid: tokenValid}
	}
	return Result{Status: Offline, Message: "GLPI unreachable", ResponseTime: elapsed, TokenValid: tokenValid}
}
