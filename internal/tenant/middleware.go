package tenant

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"partnerqueue/internal/models"
)

// Resolver finds a tenant by its public code.
type Resolver interface {
	ByCode(ctx context.Context, code string) (*models.Tenant, error)
}

// ErrorWriter renders an error response.
type ErrorWriter func(w http.ResponseWriter, status int, msg string)

// Middleware binds the tenant named by the X-Hotel-Code header to the request context.
// When required, a missing header is rejected with 401; an unknown code is always 404.
func Middleware(resolver Resolver, required bool, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := strings.TrimSpace(r.Header.Get(models.HotelCodeHeader))
			if code == "" {
				if required {
					writeErr(w, http.StatusUnauthorized, "missing "+models.HotelCodeHeader+" header")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			t, err := resolver.ByCode(r.Context(), code)
			if err != nil {
				if errors.Is(err, ErrTenantNotFound) {
					writeErr(w, http.StatusNotFound, "unknown hotel code")
					return
				}
				writeErr(w, http.StatusInternalServerError, "tenant lookup failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), t)))
		})
	}
}
