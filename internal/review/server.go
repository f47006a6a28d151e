// Package review is the reviewer-facing HTTP API: it lists pending actions,
// accepts or rejects them, shows the decision journal and streams lifecycle
// events over a websocket.
package review

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reva/bridge/internal/action"
	"github.com/reva/bridge/internal/broker"
	"github.com/reva/bridge/internal/events"
	"github.com/reva/bridge/internal/journal"
	"github.com/reva/bridge/internal/middleware"
)

const defaultDecisionLimit = 50

// Options wires the API to the pipeline. Broker and Journal are required.
type Options struct {
	Broker  *broker.Broker
	Journal journal.Store
	Bus     events.Bus

	TokenHash      string
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter

	// Gatherer backs /metrics; nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type server struct {
	broker  *broker.Broker
	journal journal.Store
	limiter *middleware.RateLimiter
	stream  *stream
	logger  *slog.Logger
}

// NewRouter builds the review API router.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.Discard{}
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &server{
		broker:  opts.Broker,
		journal: opts.Journal,
		limiter: opts.RateLimiter,
		stream:  newStream(opts.Broker, bus, opts.AllowedOrigins, logger),
		logger:  logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	protected := router.NewRoute().Subrouter()
	protected.Use(middleware.ReviewerAuth(opts.TokenHash))
	if opts.RateLimiter != nil {
		protected.Use(opts.RateLimiter.Middleware)
	}

	api := protected.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/actions", s.listActions).Methods(http.MethodGet)
	api.HandleFunc("/actions/{id}", s.getAction).Methods(http.MethodGet)
	api.HandleFunc("/actions/{id}/accept", s.acceptAction).Methods(http.MethodPost)
	api.HandleFunc("/actions/{id}/reject", s.rejectAction).Methods(http.MethodPost)
	api.HandleFunc("/decisions", s.listDecisions).Methods(http.MethodGet)

	protected.HandleFunc("/ws/actions", s.stream.serve).Methods(http.MethodGet)

	// Outside the router so preflight requests see CORS headers even
	// though no route matches OPTIONS.
	return middleware.Logging(logger)(middleware.CORS(opts.AllowedOrigins)(router))
}

// GET /health
func (s *server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "reva-bridge",
		"pending": s.broker.PendingCount(),
	}
	if s.limiter != nil {
		body["rate_limit"] = s.limiter.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

// GET /api/v1/actions
func (s *server) listActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": s.broker.ListPending(),
	})
}

// GET /api/v1/actions/{id}
func (s *server) getAction(w http.ResponseWriter, r *http.Request) {
	summary, err := s.broker.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// POST /api/v1/actions/{id}/accept
func (s *server) acceptAction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.broker.Accept(r.Context(), id); err != nil {
		s.writeBrokerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/actions/{id}/reject
func (s *server) rejectAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("reason is required"))
		return
	}

	if err := s.broker.Reject(r.Context(), mux.Vars(r)["id"], req.Reason); err != nil {
		s.writeBrokerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/decisions?limit=N
func (s *server) listDecisions(w http.ResponseWriter, r *http.Request) {
	limit := defaultDecisionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	decisions, err := s.journal.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list decisions", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to list decisions"))
		return
	}
	if decisions == nil {
		decisions = []journal.Decision{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": decisions})
}

func (s *server) writeBrokerError(w http.ResponseWriter, err error) {
	var notFound *broker.NotFoundError
	var applyErr *broker.ApplyError
	var workPanic *action.WorkPanicError
	switch {
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorBody(notFound.Error()))
	case errors.As(err, &applyErr):
		writeJSON(w, http.StatusInternalServerError, errorBody(applyErr.Error()))
	case errors.As(err, &workPanic):
		s.logger.Error("rejected-work panicked", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody(workPanic.Error()))
	default:
		s.logger.Error("review request failed", "error", err)
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
