package tenant

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"partnerqueue/internal/database"
	"partnerqueue/internal/models"
)

var (
	ErrNoTenant       = errors.New("no tenant bound to call")
	ErrTenantNotFound = errors.New("tenant not found")
)

// Catalog is the tenant directory. *database.MasterDB implements it.
type Catalog interface {
	GetTenant(ctx context.Context, id int64) (*models.Tenant, error)
	GetTenantByCode(ctx context.Context, code string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
}

type ctxKey struct{}

// WithTenant binds t to the call carried by ctx.
func WithTenant(ctx context.Context, t *models.Tenant) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the tenant bound to ctx, if any.
func FromContext(ctx context.Context) (*models.Tenant, bool) {
	t, ok := ctx.Value(ctxKey{}).(*models.Tenant)
	return t, ok && t != nil
}

// Router resolves tenants and hands out one cached database handle per tenant.
type Router struct {
	catalog    Catalog
	dir        string
	defaultLoc *time.Location
	logger     zerolog.Logger

	mu      sync.Mutex
	handles map[int64]*database.DB
}

func NewRouter(catalog Catalog, tenantsDir string, defaultLoc *time.Location, logger *zerolog.Logger) *Router {
	if defaultLoc == nil {
		defaultLoc = time.Local
	}
	r := &Router{
		catalog:    catalog,
		dir:        tenantsDir,
		defaultLoc: defaultLoc,
		logger:     zerolog.Nop(),
		handles:    make(map[int64]*database.DB),
	}
	if logger != nil {
		r.logger = logger.With().Str("component", "tenant").Logger()
	}
	return r
}

// Current returns the tenant bound to the call, or ErrNoTenant.
func (r *Router) Current(ctx context.Context) (*models.Tenant, error) {
	if t, ok := FromContext(ctx); ok {
		return t, nil
	}
	return nil, ErrNoTenant
}

func (r *Router) Tenant(ctx context.Context, id int64) (*models.Tenant, error) {
	t, err := r.catalog.GetTenant(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrTenantNotFound, id)
		}
		return nil, err
	}
	return t, nil
}

// ByCode looks a tenant up by its code, ignoring case.
func (r *Router) ByCode(ctx context.Context, code string) (*models.Tenant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNoTenant
	}
	t, err := r.catalog.GetTenantByCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: code %s", ErrTenantNotFound, code)
		}
		return nil, err
	}
	return t, nil
}

func (r *Router) Tenants(ctx context.Context) ([]models.Tenant, error) {
	return r.catalog.ListTenants(ctx)
}

// Open returns the database of t, opening and bootstrapping it on first use.
func (r *Router) Open(ctx context.Context, t *models.Tenant) (*database.DB, error) {
	if t == nil {
		return nil, ErrNoTenant
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.handles[t.ID]; ok {
		return db, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := r.databasePath(t)
	if err != nil {
		return nil, err
	}

	loc := r.defaultLoc
	if t.Timezone != "" {
		l, err := time.LoadLocation(t.Timezone)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: invalid timezone: %w", t.Code, err)
		}
		loc = l
	}

	db, err := database.NewDB(path, &r.logger, database.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("open tenant %s database: %w", t.Code, err)
	}
	r.handles[t.ID] = db

	r.logger.Info().Str("tenant", t.Code).Str("path", path).Msg("tenant database opened")
	return db, nil
}

func (r *Router) databasePath(t *models.Tenant) (string, error) {
	name := strings.TrimSpace(t.DatabaseName)
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return "", fmt.Errorf("tenant %s: invalid database name %q", t.Code, t.DatabaseName)
	}
	if filepath.Ext(name) == "" {
		name += ".db"
	}
	return filepath.Join(r.dir, name), nil
}

// DatabasePaths maps every catalogued tenant code to its database file.
func (r *Router) DatabasePaths(ctx context.Context) (map[string]string, error) {
	ts, err := r.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	paths := make(map[string]string, len(ts))
	for i := range ts {
		p, err := r.databasePath(&ts[i])
		if err != nil {
			return nil, err
		}
		paths[ts[i].Code] = p
	}
	return paths, nil
}

// Close closes every cached tenant handle.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, db := range r.handles {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.handles, id)
	}
	return errors.Join(errs...)
}

// Seeder stores tenant records. *database.MasterDB implements it.
type Seeder interface {
	UpsertTenant(ctx context.Context, t *models.Tenant) error
}

// Seed writes the configured tenants into the catalog.
func Seed(ctx context.Context, s Seeder, tenants []models.Tenant) error {
	for i := range tenants {
		if err := s.UpsertTenant(ctx, &tenants[i]); err != nil {
			return err
		}
	}
	return nil
}
