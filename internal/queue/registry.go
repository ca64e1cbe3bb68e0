package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"partnerqueue/internal/database"
	"partnerqueue/internal/models"
)

var (
	ErrUnknownOperation = errors.New("unknown operation key")
	ErrDuplicateKey     = errors.New("duplicate operation key")
)

// Handler applies one queued operation. It must use the tenant database it is given
// and nothing else.
type Handler interface {
	Key() string
	Handle(ctx context.Context, item *models.QueueItem, db *database.DB) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	key string
	fn  func(ctx context.Context, item *models.QueueItem, db *database.DB) error
}

func NewHandlerFunc(key string, fn func(ctx context.Context, item *models.QueueItem, db *database.DB) error) HandlerFunc {
	return HandlerFunc{key: key, fn: fn}
}

func (h HandlerFunc) Key() string { return h.key }

func (h HandlerFunc) Handle(ctx context.Context, item *models.QueueItem, db *database.DB) error {
	return h.fn(ctx, item, db)
}

// Registry maps operation keys to handlers. It is built once and only read afterwards.
type Registry struct {
	handlers map[string]Handler
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// NewRegistry indexes the handlers by key, case-insensitively.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		k := normalizeKey(h.Key())
		if k == "" {
			return nil, fmt.Errorf("handler %T has an empty key", h)
		}
		if prev, ok := r.handlers[k]; ok {
			return nil, fmt.Errorf("%w: %s (%T and %T)", ErrDuplicateKey, h.Key(), prev, h)
		}
		r.handlers[k] = h
	}
	return r, nil
}

// Lookup finds the handler for key. Blank keys never match.
func (r *Registry) Lookup(key string) (Handler, bool) {
	k := normalizeKey(key)
	if k == "" {
		return nil, false
	}
	h, ok := r.handlers[k]
	return h, ok
}

// Validate reports every key that has no handler.
func (r *Registry) Validate(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if _, ok := r.Lookup(key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, strings.Join(missing, ", "))
	}
	return nil
}

// Keys lists the registered keys as the handlers report them, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.handlers))
	for _, h := range r.handlers {
		keys = append(keys, h.Key())
	}
	sort.Strings(keys)
	return keys
}

// resolve applies the dispatch rule: a blank or unregistered key is a hard failure.
func (r *Registry) resolve(item *models.QueueItem) (Handler, error) {
	key := item.Key()
	if key == "" {
		return nil, fmt.Errorf("%w: missing operation_key for request_ref=%s", ErrUnknownOperation, item.RequestRef)
	}
	h, ok := r.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q for request_ref=%s", ErrUnknownOperation, key, item.RequestRef)
	}
	return h, nil
}
