package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chainforge/evm-indexer/internal/eventbus"
	"github.com/chainforge/evm-indexer/internal/models"
	"github.com/chainforge/evm-indexer/internal/queue"
	"github.com/gorilla/mux"
)

// Server is the operator-facing HTTP surface: read-only status/metrics, a
// live event feed, and a JWT-gated control surface over one Queue and
// Controller.
type Server struct {
	queue      *queue.Queue
	bus        *eventbus.Bus
	controller *Controller
	auth       *authMiddleware
	limiter    *ipLimiter
	hub        *hub

	httpServer *http.Server
}

// Option customizes a Server at construction time.
type Option func(*Server)

// WithRateLimit overrides the default per-IP rate limit (10 rps, burst 20).
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = newIPLimiter(rps, burst) }
}

// NewServer wires the admin HTTP surface to q and the shared bus, gating
// control endpoints behind jwtSecret. It does not start listening; call
// Start for that.
func NewServer(q *queue.Queue, bus *eventbus.Bus, controller *Controller, jwtSecret, port string, opts ...Option) *Server {
	s := &Server{
		queue:      q,
		bus:        bus,
		controller: controller,
		auth:       newAuthMiddleware(jwtSecret),
		limiter:    newIPLimiter(10, 20),
		hub:        newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.hub.run()
	s.hub.feedEvents(bus)

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/ws", s.handleWebSocket)

	control := r.PathPrefix("/control").Subrouter()
	control.Use(s.auth.middleware)
	control.HandleFunc("/pause", s.handlePause).Methods(http.MethodPost, http.MethodOptions)
	control.HandleFunc("/resume", s.handleResume).Methods(http.MethodPost, http.MethodOptions)
	control.HandleFunc("/replay", s.handleReplay).Methods(http.MethodPost, http.MethodOptions)

	s.httpServer = &http.Server{Addr: ":" + port, Handler: r}
	return s
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`{"status":"ok"}`))
}

type statusPayload struct {
	WorkDepth       int    `json:"work_depth"`
	ProcessingDepth int    `json:"processing_depth"`
	LastQueued      uint64 `json:"last_queued"`
	LastProcessed   uint64 `json:"last_processed"`
	Paused          bool   `json:"paused"`
}

func (s *Server) buildStatus(ctx context.Context) (statusPayload, error) {
	var p statusPayload
	var err error

	if p.WorkDepth, err = s.queue.WorkDepth(ctx); err != nil {
		return p, fmt.Errorf("work depth: %w", err)
	}
	if p.ProcessingDepth, err = s.queue.ProcessingDepth(ctx); err != nil {
		return p, fmt.Errorf("processing depth: %w", err)
	}
	if p.LastQueued, err = s.queue.LastQueued(ctx); err != nil {
		return p, fmt.Errorf("last queued: %w", err)
	}
	if p.LastProcessed, err = s.queue.LastProcessed(ctx); err != nil {
		return p, fmt.Errorf("last processed: %w", err)
	}
	if s.controller != nil {
		p.Paused = s.controller.Paused()
	}
	return p, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, err := s.buildStatus(ctx)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(status)
}

// handleMetrics renders the same figures as /status in Prometheus text
// exposition format, so a scraper doesn't have to speak JSON.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, err := s.buildStatus(ctx)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "indexer_work_depth %d\n", status.WorkDepth)
	fmt.Fprintf(w, "indexer_processing_depth %d\n", status.ProcessingDepth)
	fmt.Fprintf(w, "indexer_last_queued %d\n", status.LastQueued)
	fmt.Fprintf(w, "indexer_last_processed %d\n", status.LastProcessed)
	paused := 0
	if status.Paused {
		paused = 1
	}
	fmt.Fprintf(w, "indexer_seeding_paused %d\n", paused)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.controller.Pause()
	w.Write([]byte(`{"status":"paused"}`))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.controller.Resume()
	w.Write([]byte(`{"status":"resumed"}`))
}

type replayRequest struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// handleReplay manually re-enqueues an explicit range, independent of the
// fail-count/threshold machinery internal/alerts watches. Intended for an
// operator who has already fixed whatever made a range unprocessable.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}
	if req.To < req.From {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "to must be >= from"})
		return
	}

	rng := models.Range{From: req.From, To: req.To}
	if err := s.queue.Enqueue(r.Context(), rng); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "enqueued", "range": rng.String()})
}
