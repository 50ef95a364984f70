// Package httpapi exposes the decision engine over HTTP. Handlers validate
// and translate; every decision stays in the engine packages.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/admitpath/admitpath/internal/cache"
	"github.com/admitpath/admitpath/internal/chancing"
	"github.com/admitpath/admitpath/internal/config"
	"github.com/admitpath/admitpath/internal/ledger"
	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
	"github.com/admitpath/admitpath/internal/risk"
	"github.com/admitpath/admitpath/internal/scoring"
	"github.com/admitpath/admitpath/internal/tasks"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server wires the engine services behind the HTTP surface.
type Server struct {
	stores     persistence.Stores
	cache      cache.Cache
	classifier *scoring.Classifier
	calculator *chancing.Calculator
	decomposer *tasks.Decomposer
	riskEngine *risk.Engine
	ledger     *ledger.Ledger
	cfg        config.Config

	http *http.Server
}

// New builds the server with routes and middleware attached.
func New(stores persistence.Stores, c cache.Cache, classifier *scoring.Classifier, calculator *chancing.Calculator,
	decomposer *tasks.Decomposer, riskEngine *risk.Engine, led *ledger.Ledger, cfg config.Config) *Server {

	s := &Server{
		stores:     stores,
		cache:      c,
		classifier: classifier,
		calculator: calculator,
		decomposer: decomposer,
		riskEngine: riskEngine,
		ledger:     led,
		cfg:        cfg,
	}

	r := mux.NewRouter()
	r.Use(requestLogging, requestMetrics, rateLimit(cfg.Server))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/profiles", s.handleSaveProfile).Methods(http.MethodPost)
	api.HandleFunc("/profiles/{id:[0-9]+}", s.handleGetProfile).Methods(http.MethodGet)

	api.HandleFunc("/colleges", s.handleListColleges).Methods(http.MethodGet)
	api.HandleFunc("/colleges/{id:[0-9]+}", s.handleGetCollege).Methods(http.MethodGet)

	api.HandleFunc("/fit/classify", s.handleClassifyFit).Methods(http.MethodPost)
	api.HandleFunc("/fit/batch", s.handleClassifyBatch).Methods(http.MethodPost)
	api.HandleFunc("/fit/weights", s.handleSetWeights).Methods(http.MethodPut)
	api.HandleFunc("/fit/override", s.handleOverrideFit).Methods(http.MethodPost)
	api.HandleFunc("/fit/override", s.handleClearOverride).Methods(http.MethodDelete)

	api.HandleFunc("/chance/calculate", s.handleCalculateChance).Methods(http.MethodPost)
	api.HandleFunc("/chance/batch", s.handleChanceBatch).Methods(http.MethodPost)
	api.HandleFunc("/chance/scenario", s.handleScenario).Methods(http.MethodPost)
	api.HandleFunc("/chance/history", s.handleSaveChanceHistory).Methods(http.MethodPost)
	api.HandleFunc("/chance/compare", s.handleCompare).Methods(http.MethodGet)

	api.HandleFunc("/tasks/decompose", s.handleDecompose).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id:[0-9]+}/status", s.handleUpdateTaskStatus).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/blocked", s.handleBlockedTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/critical-path", s.handleCriticalPath).Methods(http.MethodGet)
	api.HandleFunc("/tasks/dependencies", s.handleAddDependency).Methods(http.MethodPost)

	api.HandleFunc("/risk/assess", s.handleAssessRisk).Methods(http.MethodPost)
	api.HandleFunc("/risk/overview", s.handleRiskOverview).Methods(http.MethodGet)
	api.HandleFunc("/deadlines/sync", s.handleSyncDeadlines).Methods(http.MethodPost)
	api.HandleFunc("/deadlines/alerts", s.handleListAlerts).Methods(http.MethodGet)

	api.HandleFunc("/explain", s.handleExplain).Methods(http.MethodGet)
	api.HandleFunc("/outcomes", s.handleReportOutcome).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.ScenarioTimeout + time.Second,
		IdleTimeout:  2 * time.Minute,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"cache":  stats,
	})
}

// errorBody is the wire error shape.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusFor maps the engine's error taxonomy to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrProfileNotFound),
		errors.Is(err, model.ErrCollegeNotFound),
		errors.Is(err, model.ErrTaskNotFound),
		errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrProfileIncomplete),
		errors.Is(err, model.ErrInvalidWeights),
		errors.Is(err, model.ErrInvalidStatus),
		errors.Is(err, model.ErrInvalidArgument),
		errors.Is(err, model.ErrBatchLimitExceeded),
		errors.Is(err, model.ErrDependencyCycle):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrAlreadyExists),
		errors.Is(err, model.ErrConflictingOverride):
		return http.StatusConflict
	case errors.Is(err, model.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var body errorBody
	body.Error.Kind = model.ErrKind(err)
	body.Error.Message = err.Error()
	writeJSON(w, statusFor(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

// decode reads a bounded JSON body, rejecting unknown fields.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(model.ErrInvalidArgument, err)
	}
	return nil
}
