package fields

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/testutil"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/transport"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ttlcache"
)

type stubAuth struct{}

func (stubAuth) Headers(ctx context.Context) (map[string]string, error) { return nil, nil }
func (stubAuth) Invalidate()                                            {}

func newTestClient(t *testing.T, handler http.HandlerFunc) *transport.Client {
	t.Helper()
	srv := testutil.NewHTTPTestServer(t, handler)
	t.Cleanup(srv.Close)
	cfg := transport.DefaultConfig(srv.URL)
	cfg.Sleep = func(ctx context.Context, d time.Duration) {}
	return transport.New(cfg, stubAuth{}, nil, nil, "fields-test")
}

func TestFieldIDsDiscoversByName(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"8": {"name": "Grupo técnico"},
			"12": {"name": "Status"},
			"5": {"name": "Técnico"}
		}`))
	})
	cache := ttlcache.New(nil, nil, "fields-test", 0)
	r := New(client, cache, nil)

	ids := r.FieldIDs(context.Background())
	if ids.Group != "8" || ids.Status != "12" || ids.Technician != "5" {
		t.Fatalf("unexpected field ids: %+v", ids)
	}
	if ids.DateCreation != "15" {
		t.Fatalf("DateCreation = %q, want 15 (forced regardless of discovery)", ids.DateCreation)
	}
}

func TestFieldIDsFallsBackOnUpstreamFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	cache := ttlcache.New(nil, nil, "fields-test", 0)
	r := New(client, cache, nil)

	ids := r.FieldIDs(context.Background())
	if ids != Defaults {
		t.Fatalf("FieldIDs on upstream failure = %+v, want Defaults %+v", ids, Defaults)
	}
}

func TestFieldIDsIsCachedAcrossCalls(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"8": {"name": "Grupo técnico"}}`))
	})
	cache := ttlcache.New(nil, nil, "fields-test", 0)
	r := New(client, cache, nil)

	r.FieldIDs(context.Background())
	r.FieldIDs(context.Background())

	if calls != 1 {
		t.Fatalf("expected exactly one discovery request, got %d", calls)
	}
}

func TestTechFieldIDPrefersAssignedOverResponsible(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"5": {"name": "Técnico"},
			"95": {"name": "Técnico"}
		}`))
	})
	cache := ttlcache.New(nil, nil, "fields-test", 0)
	r := New(client, cache, nil)

	if id := r.TechFieldID(context.Background()); id != "5" {
		t.Fatalf("TechFieldID = %q, want 5", id)
	}
}

func TestTechFieldIDDefaultsOnFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	cache := ttlcache.New(nil, nil, "fields-test", 0)
	r := New(client, cache, nil)

	if id := r.TechFieldID(context.Background()); id != DefaultTechFieldID {
		t.Fatalf("TechFieldID = %q, want default %q", id, DefaultTechFieldID)
	}
}
