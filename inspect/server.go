// Package inspect serves an operator HTTP API over queue tables: stats, dead-letter
// listing, replay and purge, plus Prometheus metrics.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/velmie/dbqueue"
	"github.com/velmie/dbqueue/sqlqueue"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultDeadList = 100
	maxDeadList     = 1000
)

// Queue is the table surface the inspection API needs. *sqlqueue.Table implements it.
type Queue interface {
	TableSchemaName() string
	Stats(ctx context.Context) (sqlqueue.Stats, error)
	ListDead(ctx context.Context, limit int) ([]dbqueue.Message, error)
	ReplayDead(ctx context.Context, ids ...int64) ([]int64, error)
	PurgeDead(ctx context.Context, before time.Time, limit int) (int64, error)
}

var _ Queue = (*sqlqueue.Table)(nil)

// Config configures the router.
type Config struct {
	// Queues maps the URL queue name to its table.
	Queues map[string]Queue
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Timeout bounds each request.
	Timeout time.Duration
	// Clock supplies the default purge cutoff.
	Clock dbqueue.Clock
	// Logger receives request failures.
	Logger dbqueue.Logger
}

type server struct {
	cfg Config
}

// NewRouter returns the inspection HTTP handler.
func NewRouter(cfg Config) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = dbqueue.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = dbqueue.NopLogger{}
	}
	srv := &server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/queues", func(r chi.Router) {
		r.Get("/", srv.handleList)
		r.Route("/{queue}", func(r chi.Router) {
			r.Get("/stats", srv.handleStats)
			r.Get("/dead", srv.handleListDead)
			r.Post("/dead/replay", srv.handleReplay)
			r.Delete("/dead", srv.handlePurge)
		})
	})

	return r
}

type queueInfo struct {
	Name  string `json:"name"`
	Table string `json:"table"`
}

type statsResponse struct {
	Table         string     `json:"table"`
	Pending       int        `json:"pending"`
	InFlight      int        `json:"in_flight"`
	Dead          int        `json:"dead"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

type deadMessage struct {
	ID         int64     `json:"id"`
	Payload    []byte    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	DeadAt     time.Time `json:"dead_at"`
	Attempts   int       `json:"attempts"`
}

type replayRequest struct {
	IDs []int64 `json:"ids"`
}

type replayResponse struct {
	Replayed []int64 `json:"replayed"`
}

type purgeResponse struct {
	Removed int64 `json:"removed"`
}

func (s *server) handleList(w http.ResponseWriter, _ *http.Request) {
	out := make([]queueInfo, 0, len(s.cfg.Queues))
	for name, queue := range s.cfg.Queues {
		out = append(out, queueInfo{Name: name, Table: queue.TableSchemaName()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	queue, ok := s.queue(w, r)
	if !ok {
		return
	}

	stats, err := queue.Stats(r.Context())
	if err != nil {
		s.fail(w, "stats", err)
		return
	}

	resp := statsResponse{
		Table:    queue.TableSchemaName(),
		Pending:  stats.Pending,
		InFlight: stats.InFlight,
		Dead:     stats.Dead,
	}
	if !stats.OldestPending.IsZero() {
		oldest := stats.OldestPending
		resp.OldestPending = &oldest
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleListDead(w http.ResponseWriter, r *http.Request) {
	queue, ok := s.queue(w, r)
	if !ok {
		return
	}

	limit := defaultDeadList
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpError(w, http.StatusBadRequest, "invalid limit: %q", raw)
			return
		}
		limit = min(parsed, maxDeadList)
	}

	messages, err := queue.ListDead(r.Context(), limit)
	if err != nil {
		s.fail(w, "list dead", err)
		return
	}

	out := make([]deadMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, deadMessage{
			ID:         msg.ID,
			Payload:    msg.Payload,
			EnqueuedAt: msg.EnqueuedAt,
			DeadAt:     msg.VisibleAt,
			Attempts:   msg.Attempts,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleReplay(w http.ResponseWriter, r *http.Request) {
	queue, ok := s.queue(w, r)
	if !ok {
		return
	}

	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	if len(req.IDs) == 0 {
		httpError(w, http.StatusBadRequest, "`ids` is required")
		return
	}

	replayed, err := queue.ReplayDead(r.Context(), req.IDs...)
	if err != nil {
		s.fail(w, "replay dead", err)
		return
	}
	if replayed == nil {
		replayed = []int64{}
	}
	writeJSON(w, http.StatusOK, replayResponse{Replayed: replayed})
}

func (s *server) handlePurge(w http.ResponseWriter, r *http.Request) {
	queue, ok := s.queue(w, r)
	if !ok {
		return
	}

	before := s.cfg.Clock.Now()
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid before: %v", err)
			return
		}
		before = parsed
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpError(w, http.StatusBadRequest, "invalid limit: %q", raw)
			return
		}
		limit = parsed
	}

	removed, err := queue.PurgeDead(r.Context(), before, limit)
	if err != nil {
		s.fail(w, "purge dead", err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{Removed: removed})
}

func (s *server) queue(w http.ResponseWriter, r *http.Request) (Queue, bool) {
	name := chi.URLParam(r, "queue")
	queue, ok := s.cfg.Queues[name]
	if !ok {
		httpError(w, http.StatusNotFound, "unknown queue %q", name)
		return nil, false
	}

	return queue, true
}

func (s *server) fail(w http.ResponseWriter, op string, err error) {
	s.cfg.Logger.Error("dbqueue inspect request failed", "op", op, "err", err)
	httpError(w, http.StatusInternalServerError, "%s failed", op)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": fmt.Sprintf(format, args...),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
