package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"partnerqueue/internal/config"
	"partnerqueue/internal/database"
	"partnerqueue/internal/handlers"
	"partnerqueue/internal/metrics"
	"partnerqueue/internal/queue"
	"partnerqueue/internal/redisq"
	"partnerqueue/internal/service"
	"partnerqueue/internal/settings"
	"partnerqueue/internal/tenant"
)

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Queue    *queue.Service
	Tenants  *tenant.Router
	Settings *settings.Provider
	Expenses handlers.ExpenseServices
	// DeadLetters is optional.
	DeadLetters *redisq.DeadLetter
	// Metrics, when set, is served on /metrics.
	Metrics http.Handler
}

// HTTPServer exposes the partner queue and expense endpoints.
type HTTPServer struct {
	cfg     *config.Config
	deps    Deps
	server  *http.Server
	auth    *HTTPAuth
	ingress *Interceptor
	logger  zerolog.Logger
}

func NewHTTPServer(cfg *config.Config, deps Deps, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, deps: deps, logger: zerolog.Nop()}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}
	srv.auth = NewHTTPAuth(cfg.API)
	srv.ingress = NewInterceptor(deps.Queue, deps.Settings, ExemptPrefixes, &srv.logger)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.HTTP.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return srv
}

// Routes builds the chi router.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Wrap)
		r.Use(tenant.Middleware(s.deps.Tenants, false, writeError))
		r.Use(s.ingress.Wrap)

		r.Route("/api/partner-requests", func(r chi.Router) {
			r.Use(requireTenant)
			r.Get("/", s.listPartnerRequests)
			r.Get("/export", s.exportPartnerRequests)
			r.Get("/stats", s.partnerRequestStats)
			r.Get("/dead-letters", s.deadLetters)
			r.Post("/run-batch", s.runBatch)
			r.Get("/{id}", s.partnerRequestDetails)
			r.Post("/{id}/process", s.processPartnerRequest)
			r.Delete("/{id}", s.deletePartnerRequest)
		})

		r.Route("/api/expenses", func(r chi.Router) {
			r.Use(requireTenant)
			r.Get("/", s.listExpenses)
			r.Post("/", s.createExpense)
			r.Put("/by-number/{expenseNo}", s.updateExpenseByNumber)
			r.Put("/rooms/{roomId}", s.updateExpenseRoom)
			r.Delete("/rooms/{roomId}", s.deleteExpenseRoom)
			r.Get("/{id}", s.getExpense)
			r.Put("/{id}", s.updateExpense)
			r.Delete("/{id}", s.deleteExpense)
			r.Post("/{id}/rooms", s.addExpenseRoom)
		})

		// Other API paths exist only so the ingress interceptor can see writes to them.
		r.HandleFunc("/api/*", func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "not found")
		})
	})

	return r
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tenant.FromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "missing X-Hotel-Code header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.IncHTTP(route, recorder.status)

		s.logger.Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tenant.ErrNoTenant):
		return http.StatusUnauthorized
	case errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, queue.ErrNotFound),
		errors.Is(err, database.ErrNotFound),
		errors.Is(err, service.ErrExpenseNotFound),
		errors.Is(err, service.ErrExpenseRoomNotFound),
		errors.Is(err, service.ErrApartmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrHotelSettingsMissing),
		errors.Is(err, database.ErrDuplicateRequestRef):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidExpense),
		errors.Is(err, queue.ErrPartnerRequired),
		errors.Is(err, queue.ErrOperationRequired):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
