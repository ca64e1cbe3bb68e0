package settings

import (
	"context"
	"strings"
	"time"

	"partnerqueue/internal/config"
	"partnerqueue/internal/models"
	"partnerqueue/internal/tenant"
)

// Provider answers which queue settings apply to a call or tenant.
// Tenant overrides win over the global configuration.
type Provider struct {
	defaults models.QueueSettings
	interval time.Duration
}

func NewProvider(cfg config.PartnerQueueConfig) *Provider {
	d := models.QueueSettings{
		EnableQueueMode:        cfg.EnableQueueMode,
		EnableBackgroundWorker: cfg.EnableBackgroundWorker,
		UseMiddleware:          cfg.UseMiddleware,
		WorkerBatchSize:        cfg.WorkerBatchSize,
		DefaultPartner:         strings.TrimSpace(cfg.DefaultPartner),
	}
	if d.WorkerBatchSize < 1 {
		d.WorkerBatchSize = models.DefaultBatchSize
	}
	if d.DefaultPartner == "" {
		d.DefaultPartner = models.DefaultPartner
	}

	secs := cfg.WorkerIntervalSeconds
	if secs == 0 {
		secs = models.DefaultWorkerIntervalSeconds
	}
	if secs < models.MinWorkerIntervalSeconds {
		secs = models.MinWorkerIntervalSeconds
	}

	return &Provider{defaults: d, interval: time.Duration(secs) * time.Second}
}

func (p *Provider) Defaults() models.QueueSettings {
	return p.defaults
}

// Interval is the background worker period, never below the minimum.
func (p *Provider) Interval() time.Duration {
	return p.interval
}

// ForTenant merges the tenant's overrides over the defaults. A nil tenant gets the defaults.
func (p *Provider) ForTenant(t *models.Tenant) models.QueueSettings {
	s := p.defaults
	if t == nil {
		return s
	}
	if t.EnableQueueMode != nil {
		s.EnableQueueMode = *t.EnableQueueMode
	}
	if t.EnableQueueWorker != nil {
		s.EnableBackgroundWorker = *t.EnableQueueWorker
	}
	if t.UseMiddleware != nil {
		s.UseMiddleware = *t.UseMiddleware
	}
	if t.WorkerBatchSize != nil && *t.WorkerBatchSize > 0 {
		s.WorkerBatchSize = *t.WorkerBatchSize
	}
	if t.DefaultPartner != nil && strings.TrimSpace(*t.DefaultPartner) != "" {
		s.DefaultPartner = strings.TrimSpace(*t.DefaultPartner)
	}
	return s
}

// Current resolves settings for the tenant bound to ctx, falling back to the defaults.
func (p *Provider) Current(ctx context.Context) models.QueueSettings {
	t, _ := tenant.FromContext(ctx)
	return p.ForTenant(t)
}

// WorkerEnabled reports whether the background worker should run for any of the tenants.
func (p *Provider) WorkerEnabled(tenants []models.Tenant) bool {
	if p.defaults.EnableBackgroundWorker {
		return true
	}
	for i := range tenants {
		if p.ForTenant(&tenants[i]).EnableBackgroundWorker {
			return true
		}
	}
	return false
}
