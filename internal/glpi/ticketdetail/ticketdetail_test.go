package ticketdetail

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/testutil"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/parse"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ttlcache"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/transport"
)

type stubAuth struct{}

func (stubAuth) Headers(ctx context.Context) (map[string]string, error) { return nil, nil }
func (stubAuth) Invalidate()                                            {}

func noSleep(ctx context.Context, d time.Duration) {}

func newQuery(t *testing.T, handler http.HandlerFunc) *Query {
	t.Helper()
	srv := testutil.NewHTTPTestServer(t, handler)
	t.Cleanup(srv.Close)
	cfg := transport.DefaultConfig(srv.URL)
	cfg.Sleep = noSleep
	client := transport.New(cfg, stubAuth{}, nil, nil, "ticketdetail-test")
	cache := ttlcache.New(nil, nil, "ticketdetail-test", 0)
	resolver := parse.NewResolver(client, cache)
	return New(client, resolver)
}

func TestTicketReturnsMappedDetail(t *testing.T) {
	query := newQuery(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Ticket/42":
			w.Write([]byte(`{
				"id": 42,
				"name": "Printer down",
				"content": "Dados do formulário<br>LOCALIZAÇÃO: Floor 3<br>RAMAL: 1234",
				"status": 1,
				"priority": 4,
				"date_creation": "2024-01-01 10:00:00",
				"date_mod": "2024-01-02 11:00:00",
				"users_id_recipient": 7,
				"users_id_lastupdater": 9,
				"itilcategories_id": 3
			}`))
		case "/User/7":
			w.Write([]byte(`{"completename":"Requester Name"}`))
		case "/User/9":
			w.Write([]byte(`{"completename":"Tech Name"}`))
		case "/ITILCategory/3":
			w.Write([]byte(`{"name":"Hardware"}`))
		}
	})

	ticket, err := query.Ticket(context.Background(), "42")
	if err != nil {
		t.Fatalf("Ticket returned error: %v", err)
	}
	if ticket == nil {
		t.Fatal("expected a non-nil ticket")
	}
	if ticket.ID != "42" || ticket.Title != "Printer down" {
		t.Fatalf("unexpected ticket id/title: %+v", ticket)
	}
	if ticket.Phone != "1234" {
		t.Fatalf("expected phone 1234 extracted from content, got %q", ticket.Phone)
	}
	if ticket.Requester.Name != "Requester Name" || ticket.TechnicianRef.Name != "Tech Name" {
		t.Fatalf("unexpected resolved names: %+v", ticket)
	}
	if ticket.Category != "Hardware" {
		t.Fatalf("expected category Hardware, got %q", ticket.Category)
	}
	if ticket.CreatedAt.IsZero() {
		t.Fatal("expected a parsed creation timestamp")
	}
}

func TestTicketReturnsNilOn404(t *testing.T) {
	query := newQuery(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ticket, err := query.Ticket(context.Background(), "999")
	if err != nil {
		t.Fatalf("expected no error on 404, got %v", err)
	}
	if ticket != nil {
		t.Fatalf("expected nil ticket on 404, got %+v", ticket)
	}
}

func TestTicketRejectsInvalidID(t *testing.T) {
	query := newQuery(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should never reach upstream with an invalid id")
	})

	if _, err := query.Ticket(context.Background(), ""); err == nil {
		t.Fatal("expected an error for an empty id")
	}
	if _, err := query.Ticket(context.Background(), "not-numeric"); err == nil {
		t.Fatal("expected an error for a non-numeric id")
	}
}

func TestTicketReturnsNilOnNon2xx(t *testing.T) {
	// A 403 is outside the transport's 5xx/connection retry budget: it is
	// retried once after a session refresh and then handed back as a plain
	// non-2xx response rather than a retry-exhaustion error.
	query := newQuery(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	ticket, err := query.Ticket(context.Background(), "1")
	if err != nil {
		t.Fatalf("expected no error on a non-5xx non-2xx response, got %v", err)
	}
	if ticket != nil {
		t.Fatalf("expected nil ticket on non-2xx, got %+v", ticket)
	}
}
