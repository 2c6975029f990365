package cart

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RaikyD/canteen-orders-service/internal/logger"
)

type session struct {
	cart     *Cart
	lastUsed time.Time
}

// Sessions hands out one Cart per session key. A cart is loaded from the
// store on first use and written back after every mutation made through Mutate.
// Carts idle for longer than the eviction window are dropped from memory;
// their persisted drafts stay.
type Sessions struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	carts map[string]*session
}

func NewSessions(store Store) *Sessions {
	return &Sessions{
		store: store,
		now:   time.Now,
		carts: make(map[string]*session),
	}
}

// Open returns the live cart for key, restoring it from the store if needed.
func (s *Sessions) Open(ctx context.Context, key string) (*Cart, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("session key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.carts[key]; ok {
		sess.lastUsed = s.now()
		return sess.cart, nil
	}

	st, found, err := s.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	c := FromState(st)
	if !found {
		c = New()
	}
	s.carts[key] = &session{cart: c, lastUsed: s.now()}
	return c, nil
}

// Mutate applies fn to the session's cart and persists the result.
func (s *Sessions) Mutate(ctx context.Context, key string, fn func(*Cart) error) (*Cart, error) {
	c, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return c, err
	}
	if err := s.Save(ctx, key, c); err != nil {
		return c, err
	}
	return c, nil
}

func (s *Sessions) Save(ctx context.Context, key string, c *Cart) error {
	if err := s.store.Save(ctx, key, c.State()); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// Close drops the in-memory cart at session end. The persisted draft stays.
func (s *Sessions) Close(key string) {
	s.mu.Lock()
	delete(s.carts, key)
	s.mu.Unlock()
}

// Discard ends the session and deletes its persisted draft.
func (s *Sessions) Discard(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("session key is required")
	}
	s.mu.Lock()
	if sess, ok := s.carts[key]; ok {
		// a request still holding the cart must not resurrect its items
		sess.cart.ClearOnVendorSwitch()
		delete(s.carts, key)
	}
	s.mu.Unlock()

	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

// EvictIdle closes every session unused for longer than maxIdle and
// reports how many were closed.
func (s *Sessions) EvictIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, sess := range s.carts {
		if sess.lastUsed.Before(cutoff) {
			delete(s.carts, key)
			n++
		}
	}
	return n
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carts)
}

// RunEvictor sweeps idle sessions every interval until ctx is done.
func (s *Sessions) RunEvictor(ctx context.Context, every, maxIdle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.EvictIdle(maxIdle); n > 0 {
				logger.Debug("idle carts evicted", "count", n)
			}
		}
	}
}
