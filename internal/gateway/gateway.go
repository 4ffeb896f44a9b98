package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stellarlinkco/querypilot/internal/config"
	"github.com/stellarlinkco/querypilot/internal/metrics"
	"github.com/stellarlinkco/querypilot/internal/pipeline"
	"github.com/stellarlinkco/querypilot/internal/session"
)

// Gateway is the HTTP front of the engine: the chat endpoint, stats,
// health and Prometheus metrics, plus the scheduled retention sweep.
type Gateway struct {
	cfg          config.GatewayConfig
	retention    config.RetentionConfig
	orchestrator *pipeline.Orchestrator
	store        session.Store
	metrics      *metrics.Metrics

	server *http.Server
	cron   *cron.Cron
}

func New(cfg config.GatewayConfig, retention config.RetentionConfig, orch *pipeline.Orchestrator, store session.Store, m *metrics.Metrics) *Gateway {
	return &Gateway{
		cfg:          cfg,
		retention:    retention,
		orchestrator: orch,
		store:        store,
		metrics:      m,
	}
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	// Optional override of which memory fields feed the context, e.g. to
	// pull in todos.
	RequestedFields []string `json:"requested_fields,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", g.handleChat)
	mux.HandleFunc("GET /v1/stats", g.handleStats)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.Handle("GET /metrics", g.metrics.Handler())

	addr := fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)
	g.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	g.startRetentionSweep()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[gateway] listening on %s", addr)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down")
	if g.cron != nil {
		g.cron.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.server.Shutdown(shutdownCtx)
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id is required"})
		return
	}

	result, err := g.orchestrator.Process(r.Context(), req.SessionID, req.Query, req.RequestedFields)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuery) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is empty"})
			return
		}
		log.Printf("[gateway] chat failed for session %s: %v", req.SessionID, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type statsResponse struct {
	Usage            pipeline.UsageStats `json:"usage"`
	Sessions         int                 `json:"sessions"`
	EscalationTarget float64             `json:"escalation_target_pct"`
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	ids, err := g.store.SessionIDs()
	if err != nil {
		log.Printf("[gateway] stats failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Usage:            g.orchestrator.Usage(),
		Sessions:         len(ids),
		EscalationTarget: g.orchestrator.EscalationTarget() * 100,
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startRetentionSweep schedules deletion of sessions idle past the cutoff.
// A bad cron expression disables the sweep rather than failing startup.
func (g *Gateway) startRetentionSweep() {
	if g.retention.SweepExpr == "" || g.retention.MaxIdleDays <= 0 {
		return
	}
	g.cron = cron.New(cron.WithSeconds())
	_, err := g.cron.AddFunc(g.retention.SweepExpr, g.sweepIdleSessions)
	if err != nil {
		log.Printf("[gateway] invalid retention schedule %q, sweep disabled: %v", g.retention.SweepExpr, err)
		g.cron = nil
		return
	}
	g.cron.Start()
	log.Printf("[gateway] retention sweep scheduled (%s, max idle %d days)", g.retention.SweepExpr, g.retention.MaxIdleDays)
}

func (g *Gateway) sweepIdleSessions() {
	ids, err := g.store.SessionIDs()
	if err != nil {
		log.Printf("[gateway] retention sweep: list sessions: %v", err)
		return
	}
	cutoff := time.Now().Add(-time.Duration(g.retention.MaxIdleDays) * 24 * time.Hour)

	deleted := 0
	for _, id := range ids {
		last, err := g.store.LastActive(id)
		if err != nil {
			log.Printf("[gateway] retention sweep: last active for %s: %v", id, err)
			continue
		}
		if last.IsZero() || last.After(cutoff) {
			continue
		}
		if err := g.store.DeleteSession(id); err != nil {
			log.Printf("[gateway] retention sweep: delete %s: %v", id, err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		log.Printf("[gateway] retention sweep removed %d idle sessions", deleted)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[gateway] write response: %v", err)
	}
}
