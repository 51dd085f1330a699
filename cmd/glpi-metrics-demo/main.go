// Command glpi-metrics-demo wires the GLPI integration engine to a minimal
// HTTP mux. Routing, CORS, and request validation are explicitly out of
// scope for this module; this binary exists only to prove the façade is
// reachable over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/config"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/logging"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/metrics"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/aggregate"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/dashboard"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/facade"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/fields"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/model"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/newtickets"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/parse"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/probe"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ranking"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/session"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ticketdetail"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/transport"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/internal/glpi/ttlcache"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "glpi-metrics"

func main() {
	addr := flag.String("addr", config.GetEnv("LISTEN_ADDR", ":8080"), "HTTP listen address")
	flag.Parse()

	logger := logging.NewFromEnv(serviceName)

	glpiURL, err := config.RequireEnv("GLPI_URL")
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	appToken, err := config.RequireEnv("GLPI_APP_TOKEN")
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	userToken, err := config.RequireEnv("GLPI_USER_TOKEN")
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	m := metrics.Init(serviceName)

	sessionMgr := session.New(session.Config{
		BaseURL:   glpiURL,
		AppToken:  appToken,
		UserToken: userToken,
	}, logger, m)

	client := transport.New(transport.DefaultConfig(glpiURL), sessionMgr, logger, m, serviceName)

	cache := ttlcache.New(logger, m, serviceName, 5*time.Minute)
	fieldRegistry := fields.New(client, cache, logger)
	resolver := parse.NewResolver(client, cache)

	aggEngine := aggregate.New(client, fieldRegistry, logger, m)
	dashboardCfg := dashboard.DefaultConfig()
	dash := dashboard.New(client, fieldRegistry, aggEngine, cache, dashboardCfg)

	rankEngine := ranking.New(client, fieldRegistry, cache, resolver, logger, m, groupIDsFromEnv(logger), nil)
	newTix := newtickets.New(client, fieldRegistry, resolver, logger)
	detail := ticketdetail.New(client, resolver)
	statusProbe := probe.New(client, sessionMgr)

	fac := facade.New(dash, rankEngine, newTix, detail, statusProbe, cache, logger)

	mux := http.NewServeMux()
	registerRoutes(mux, fac)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    *addr,
		Handler: mux,
	}

	go func() {
		logger.Info(context.Background(), "glpi-metrics-demo listening", map[string]interface{}{"addr": *addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	sessionMgr.Close(shutdownCtx)
}

// groupIDsFromEnv parses SERVICE_LEVEL_GROUPS, a JSON object
// like {"N1":89,"N2":90,"N3":91,"N4":92}; a level missing from the object
// keeps its ranking.DefaultGroupIDs entry and unknown keys are ignored.
// Returns nil (engine then uses the documented defaults wholesale) when the
// env var is unset or the value does not parse as such an object.
func groupIDsFromEnv(logger *logging.Logger) ranking.GroupIDs {
	raw := config.GetEnv("SERVICE_LEVEL_GROUPS", "")
	if raw == "" {
		return nil
	}

	var parsed map[string]json.Number
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		if logger != nil {
			logger.Warn(context.Background(), "SERVICE_LEVEL_GROUPS unparseable, using defaults", map[string]interface{}{"error": err.Error()})
		}
		return nil
	}

	groups := make(ranking.GroupIDs, len(ranking.DefaultGroupIDs))
	for level, def := range ranking.DefaultGroupIDs {
		groups[level] = def
	}
	for key, val := range parsed {
		level := model.SupportLevel(strings.ToUpper(strings.TrimSpace(key)))
		if _, known := groups[level]; known {
			groups[level] = val.String()
		}
	}
	return groups
}

func registerRoutes(mux *http.ServeMux, fac *facade.Facade) {
	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		start, end := r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date")
		env, errEnv := fac.Metrics(r.Context(), start, end)
		writeJSON(w, env, errEnv)
	})

	mux.HandleFunc("/api/metrics/filtered", func(w http.ResponseWriter, r *http.Request) {
		start, end := r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date")
		env, errEnv := fac.Metrics(r.Context(), start, end)
		writeJSON(w, env, errEnv)
	})

	mux.HandleFunc("/api/ranking", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := ranking.Options{Start: q.Get("start_date"), End: q.Get("end_date"), Entity: q.Get("entity_id")}
		if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
			opts.Limit = &limit
		}
		if raw := strings.ToUpper(strings.TrimSpace(q.Get("level"))); raw != "" {
			for _, l := range model.Levels {
				if string(l) == raw {
					level := l
					opts.Level = &level
					break
				}
			}
		}
		env, errEnv := fac.Ranking(r.Context(), opts)
		writeJSON(w, env, errEnv)
	})

	mux.HandleFunc("/api/tickets/new", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := newtickets.Options{
			Priority:   q.Get("priority"),
			Category:   q.Get("category"),
			Technician: q.Get("technician"),
			Start:      q.Get("start_date"),
			End:        q.Get("end_date"),
		}
		if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
			opts.Limit = limit
		}
		env := fac.NewTickets(r.Context(), opts)
		writeJSON(w, env, nil)
	})

	mux.HandleFunc("GET /api/ticket/{id}", func(w http.ResponseWriter, r *http.Request) {
		env, errEnv := fac.Ticket(r.Context(), r.PathValue("id"))
		writeJSON(w, env, errEnv)
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		env := fac.Status(r.Context())
		writeJSON(w, env, nil)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status":        "ok",
			"checks":        map[string]string{"process": "ok"},
			"active_alerts": []string{},
		}, nil)
	})
}

func writeJSON(w http.ResponseWriter, data interface{}, errEnv *facade.ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	if errEnv != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(errEnv)
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}
