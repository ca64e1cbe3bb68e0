package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"partnerqueue/internal/models"
	"partnerqueue/internal/tenant"
)

const maxInterceptedBody = 1 << 20

// ExemptPrefixes are never intercepted: the manual operations surface, routes
// that enqueue with their own operation keys, and infrastructure endpoints.
var ExemptPrefixes = []string{
	"/api/partner-requests",
	"/api/expenses",
	"/health",
	"/metrics",
}

type Enqueuer interface {
	Enqueue(ctx context.Context, req models.EnqueueRequest) (string, error)
}

type SettingsSource interface {
	Defaults() models.QueueSettings
	ForTenant(t *models.Tenant) models.QueueSettings
}

// Interceptor turns write requests into queue items when queue mode and blanket
// interception are both on. The downstream handler is then never called.
type Interceptor struct {
	queue    Enqueuer
	settings SettingsSource
	exempt   []string
	logger   zerolog.Logger
}

func NewInterceptor(q Enqueuer, settings SettingsSource, exempt []string, logger *zerolog.Logger) *Interceptor {
	i := &Interceptor{queue: q, settings: settings, exempt: exempt, logger: zerolog.Nop()}
	if logger != nil {
		i.logger = logger.With().Str("component", "ingress").Logger()
	}
	return i
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func (i *Interceptor) exempted(path string) bool {
	for _, p := range i.exempt {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func (i *Interceptor) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isWrite(r.Method) || i.exempted(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		t, bound := tenant.FromContext(r.Context())
		cfg := i.settings.Defaults()
		if bound {
			cfg = i.settings.ForTenant(t)
		}
		if !cfg.EnableQueueMode || !cfg.UseMiddleware {
			next.ServeHTTP(w, r)
			return
		}
		if !bound {
			writeError(w, http.StatusUnauthorized, "missing "+models.HotelCodeHeader+" header")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInterceptedBody))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		ref, err := i.queue.Enqueue(r.Context(), models.EnqueueRequest{
			Operation:   r.URL.Path,
			PayloadJSON: string(body),
			HotelID:     models.Int64Ptr(t.ID),
		})
		if err != nil {
			i.logger.Error().Err(err).Str("path", r.URL.Path).Str("tenant", t.Code).Msg("intercepted request not enqueued")
			writeError(w, statusFor(err), "failed to enqueue request")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"queued":     true,
			"requestRef": ref,
			"operation":  r.URL.Path,
			"hotelId":    t.ID,
		})
	})
}
