package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"partnerqueue/internal/database"
	"partnerqueue/internal/events"
	"partnerqueue/internal/logging"
	"partnerqueue/internal/models"
	"partnerqueue/internal/tenant"
)

var (
	ErrNotFound          = errors.New("queue item not found")
	ErrPartnerRequired   = errors.New("partner is required")
	ErrOperationRequired = errors.New("operation is required")
)

// TenantRouter is the tenant capability the queue needs. *tenant.Router implements it.
type TenantRouter interface {
	Current(ctx context.Context) (*models.Tenant, error)
	Tenant(ctx context.Context, id int64) (*models.Tenant, error)
	Tenants(ctx context.Context) ([]models.Tenant, error)
	Open(ctx context.Context, t *models.Tenant) (*database.DB, error)
}

// SettingsSource yields effective queue settings. *settings.Provider implements it.
type SettingsSource interface {
	ForTenant(t *models.Tenant) models.QueueSettings
}

// ProcessResult is the outcome of a manual processing request.
type ProcessResult struct {
	Item      models.QueueItem `json:"item"`
	Processed bool             `json:"processed"`
	Error     string           `json:"error,omitempty"`
}

type Service struct {
	router   TenantRouter
	registry *Registry
	settings SettingsSource
	bus      *events.EventBus
	logger   zerolog.Logger
	workers  int
	timeout  time.Duration
	newRef   func() string
}

// DefaultHandlerTimeout bounds one handler call once its item is claimed.
const DefaultHandlerTimeout = 2 * time.Minute

type Option func(*Service)

// WithEventBus publishes item and batch lifecycle events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithWorkers sets how many items of one tenant are dispatched concurrently. Default 1.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithHandlerTimeout bounds each handler call. Zero or negative keeps the default.
func WithHandlerTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewRequestRef returns a fresh tracking token: 32 lowercase hex characters.
func NewRequestRef() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func NewService(router TenantRouter, registry *Registry, settings SettingsSource, logger *zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		router:   router,
		registry: registry,
		settings: settings,
		logger:   logging.Component(logger, "queue"),
		workers:  1,
		timeout:  DefaultHandlerTimeout,
		newRef:   NewRequestRef,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// Enqueue durably records the request as a Pending item and returns its tracking token.
// The domain effect is never executed here.
func (s *Service) Enqueue(ctx context.Context, req models.EnqueueRequest) (string, error) {
	t, err := s.enqueueTenant(ctx, req.HotelID)
	if err != nil {
		return "", err
	}
	cfg := s.settings.ForTenant(t)

	partner := strings.TrimSpace(req.Partner)
	if partner == "" {
		partner = cfg.DefaultPartner
	}
	if partner == "" {
		return "", ErrPartnerRequired
	}
	operation := strings.TrimSpace(req.Operation)
	if operation == "" {
		return "", ErrOperationRequired
	}

	ref := strings.TrimSpace(req.RequestRef)
	if ref == "" {
		ref = s.newRef()
	}
	payload := req.PayloadJSON
	if strings.TrimSpace(payload) == "" {
		payload = "{}"
	}

	db, err := s.router.Open(ctx, t)
	if err != nil {
		return "", err
	}

	item := &models.QueueItem{
		RequestRef:   ref,
		Partner:      partner,
		Operation:    operation,
		OperationKey: trimmedPtr(req.OperationKey),
		TargetID:     req.TargetID,
		PayloadType:  trimmedPtr(req.PayloadType),
		BusinessRef:  trimmedPtr(req.BusinessRef),
		PayloadJSON:  payload,
		HotelID:      models.Int64Ptr(t.ID),
	}
	if err := db.InsertQueueItem(ctx, item); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", operation, err)
	}

	logging.QueueItem(s.logger.Info(), item, t.Code).Str("partner", partner).Msg("partner request enqueued")
	s.publishItem(events.EventItemEnqueued, t, item, "", false)
	return ref, nil
}

// enqueueTenant prefers the tenant named by the request over the ambient one.
func (s *Service) enqueueTenant(ctx context.Context, hotelID *int64) (*models.Tenant, error) {
	if hotelID != nil && *hotelID > 0 {
		return s.router.Tenant(ctx, *hotelID)
	}
	return s.router.Current(ctx)
}

// RunBatch processes up to limit Pending items per tenant; limit <= 0 uses each tenant's
// configured batch size. With allTenants, or when no tenant is bound to ctx, every tenant
// with queue mode enabled is swept.
// Item failures are counted, never returned; the error reports systemic problems only.
func (s *Service) RunBatch(ctx context.Context, limit int, allTenants bool) (models.BatchResult, error) {
	started := time.Now()

	tenants, err := s.batchTenants(ctx, allTenants)
	if err != nil {
		return models.BatchResult{}, err
	}

	var total models.BatchResult
	var errs []error
	for i := range tenants {
		if ctx.Err() != nil {
			break
		}
		t := &tenants[i]

		db, err := s.router.Open(ctx, t)
		if err != nil {
			s.logger.Error().Err(err).Str("tenant", t.Code).Msg("tenant database unavailable")
			errs = append(errs, fmt.Errorf("tenant %s: %w", t.Code, err))
			continue
		}

		res, err := s.processTenant(ctx, t, db, s.tenantLimit(t, limit))
		total.Add(res)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", t.Code, err))
		}
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	if s.bus != nil {
		_ = s.bus.PublishJSON(events.EventBatchCompleted, events.BatchPayload{
			Tenants:   len(tenants),
			Pulled:    total.Pulled,
			Succeeded: total.Succeeded,
			Failed:    total.Failed,
			Duration:  time.Since(started),
		})
	}
	return total, errors.Join(errs...)
}

// tenantLimit uses the tenant's configured batch size when no explicit limit is given.
func (s *Service) tenantLimit(t *models.Tenant, limit int) int {
	if limit > 0 {
		return limit
	}
	if n := s.settings.ForTenant(t).WorkerBatchSize; n > 0 {
		return n
	}
	return models.DefaultBatchSize
}

func (s *Service) batchTenants(ctx context.Context, allTenants bool) ([]models.Tenant, error) {
	if !allTenants {
		t, err := s.router.Current(ctx)
		if err == nil {
			return []models.Tenant{*t}, nil
		}
		if !errors.Is(err, tenant.ErrNoTenant) {
			return nil, err
		}
	}

	all, err := s.router.Tenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	enabled := make([]models.Tenant, 0, len(all))
	for i := range all {
		if s.settings.ForTenant(&all[i]).EnableQueueMode {
			enabled = append(enabled, all[i])
		}
	}
	return enabled, nil
}

func (s *Service) processTenant(ctx context.Context, t *models.Tenant, db *database.DB, limit int) (models.BatchResult, error) {
	var res models.BatchResult

	items, err := db.PendingQueueItems(ctx, limit)
	if err != nil {
		return res, err
	}
	if len(items) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	record := func(ok bool) {
		mu.Lock()
		defer mu.Unlock()
		res.Pulled++
		if ok {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	run := func(item *models.QueueItem) {
		claimed, err := db.ClaimQueueItem(ctx, item.ID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error().Err(err).Int64("queue_id", item.ID).Str("tenant", t.Code).Msg("claim failed")
			}
			return
		}
		if !claimed {
			return
		}
		item.Status = models.StatusProcessing
		handlerErr, _ := s.execute(ctx, t, db, item, false)
		record(handlerErr == nil)
	}

	if s.workers <= 1 {
		for i := range items {
			if ctx.Err() != nil {
				break
			}
			run(&items[i])
		}
		return res, nil
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range items {
		if ctx.Err() != nil {
			break
		}
		item := &items[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			run(item)
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

// execute runs the dispatch rule for an item already in Processing and writes its terminal
// status. Neither the handler nor the status write is bound to ctx cancellation: a claimed
// item runs to completion under the handler timeout even when the round is cancelled.
func (s *Service) execute(ctx context.Context, t *models.Tenant, db *database.DB, item *models.QueueItem, manual bool) (handlerErr, finishErr error) {
	wctx := context.WithoutCancel(ctx)

	h, err := s.registry.resolve(item)
	if err == nil {
		hctx, cancel := context.WithTimeout(wctx, s.timeout)
		err = safeHandle(hctx, h, item, db)
		cancel()
	}
	handlerErr = err

	if handlerErr == nil {
		msg := "Success"
		if manual {
			msg = "Processed manually"
		}
		finishErr = db.FinishQueueItem(wctx, item, models.StatusSucceeded, nil, msg)
	} else {
		msg := models.TruncateError(handlerErr.Error())
		finishErr = db.FinishQueueItem(wctx, item, models.StatusFailed, &msg, msg)
	}

	if finishErr != nil {
		logging.QueueItem(s.logger.Error(), item, t.Code).Err(finishErr).AnErr("handler_error", handlerErr).
			Msg("failed to record queue item outcome, item left in Processing")
		return handlerErr, finishErr
	}

	if handlerErr == nil {
		logging.QueueItem(s.logger.Info(), item, t.Code).Bool("manual", manual).Msg("partner request processed")
		s.publishItem(events.EventItemSucceeded, t, item, "", manual)
	} else {
		logging.QueueItem(s.logger.Warn(), item, t.Code).Err(handlerErr).Bool("manual", manual).
			Str("payload", models.Truncate(item.PayloadJSON, models.PayloadPreviewLength)).
			Msg("partner request failed")
		s.publishItem(events.EventItemFailed, t, item, *item.LastError, manual)
	}
	return handlerErr, nil
}

func safeHandle(ctx context.Context, h Handler, item *models.QueueItem, db *database.DB) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.Key(), r)
		}
	}()
	return h.Handle(ctx, item, db)
}

// ProcessNow runs one item of the ambient tenant immediately, whatever its status.
// A handler failure is reported in the result; the error covers lookup and store problems.
func (s *Service) ProcessNow(ctx context.Context, id int64) (ProcessResult, error) {
	t, db, err := s.currentDB(ctx)
	if err != nil {
		return ProcessResult{}, err
	}

	item, err := s.getItem(ctx, db, id)
	if err != nil {
		return ProcessResult{}, err
	}
	if err := db.MarkProcessing(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ProcessResult{}, ErrNotFound
		}
		return ProcessResult{}, err
	}
	item.Status = models.StatusProcessing

	handlerErr, finishErr := s.execute(ctx, t, db, item, true)
	if finishErr != nil {
		return ProcessResult{Item: *item}, finishErr
	}
	if handlerErr != nil {
		return ProcessResult{Item: *item, Processed: false, Error: *item.LastError}, nil
	}
	return ProcessResult{Item: *item, Processed: true}, nil
}

// List pages through the ambient tenant's items, newest first.
func (s *Service) List(ctx context.Context, filter models.QueueFilter) (models.QueuePage, error) {
	_, db, err := s.currentDB(ctx)
	if err != nil {
		return models.QueuePage{}, err
	}
	if filter.Take <= 0 {
		filter.Take = models.DefaultPageSize
	}
	if filter.Take > models.MaxPageSize {
		filter.Take = models.MaxPageSize
	}
	if filter.Skip < 0 {
		filter.Skip = 0
	}
	return db.ListQueueItems(ctx, filter)
}

// Export returns up to maxRows items matching the filter, ignoring paging.
func (s *Service) Export(ctx context.Context, filter models.QueueFilter, maxRows int) ([]models.QueueItem, error) {
	_, db, err := s.currentDB(ctx)
	if err != nil {
		return nil, err
	}
	if maxRows <= 0 || maxRows > models.MaxExportRows {
		maxRows = models.MaxExportRows
	}
	filter.Skip = 0
	filter.Take = maxRows
	page, err := db.ListQueueItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Details returns the item with its log history, newest first.
func (s *Service) Details(ctx context.Context, id int64) (models.QueueDetails, error) {
	_, db, err := s.currentDB(ctx)
	if err != nil {
		return models.QueueDetails{}, err
	}
	item, err := s.getItem(ctx, db, id)
	if err != nil {
		return models.QueueDetails{}, err
	}
	logs, err := db.QueueLogs(ctx, item.RequestRef)
	if err != nil {
		return models.QueueDetails{}, err
	}
	return models.QueueDetails{Item: *item, Logs: logs}, nil
}

// Delete removes the item. Its log rows stay.
func (s *Service) Delete(ctx context.Context, id int64) error {
	t, db, err := s.currentDB(ctx)
	if err != nil {
		return err
	}
	if err := db.DeleteQueueItem(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.logger.Info().Int64("queue_id", id).Str("tenant", t.Code).Msg("queue item deleted")
	return nil
}

// Stats counts the ambient tenant's items per status.
func (s *Service) Stats(ctx context.Context) (map[string]int64, error) {
	_, db, err := s.currentDB(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := db.QueueStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range []string{models.StatusPending, models.StatusProcessing, models.StatusSucceeded, models.StatusFailed} {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	return counts, nil
}

func (s *Service) currentDB(ctx context.Context) (*models.Tenant, *database.DB, error) {
	t, err := s.router.Current(ctx)
	if err != nil {
		return nil, nil, err
	}
	db, err := s.router.Open(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	return t, db, nil
}

func (s *Service) getItem(ctx context.Context, db *database.DB, id int64) (*models.QueueItem, error) {
	item, err := db.GetQueueItem(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *Service) publishItem(eventType string, t *models.Tenant, item *models.QueueItem, errMsg string, manual bool) {
	if s.bus == nil {
		return
	}
	_ = s.bus.PublishJSON(eventType, events.QueueItemPayload{
		TenantID:     t.ID,
		TenantCode:   t.Code,
		QueueID:      item.ID,
		RequestRef:   item.RequestRef,
		Partner:      item.Partner,
		Operation:    item.Operation,
		OperationKey: item.Key(),
		Status:       item.Status,
		Attempts:     item.Attempts,
		Error:        errMsg,
		Manual:       manual,
		At:           time.Now(),
	})
}

func trimmedPtr(p *string) *string {
	if p == nil {
		return nil
	}
	return models.StringPtr(strings.TrimSpace(*p))
}
