package account

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/ec-storefront/internal/cart"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/session"
)

// Merger is the cart side of a login. *cart.Synchronizer implements it.
type Merger interface {
	MergeCartsAfterLogin(ctx context.Context, token string) error
	FetchCart(ctx context.Context, explicitSessionID string) (cart.Snapshot, error)
}

// Bridge moves the guest cart into the user cart after a login. A merge
// failure never fails the login.
type Bridge struct {
	merger Merger
	log    *slog.Logger

	mu      sync.Mutex
	handled uint64
}

func NewBridge(merger Merger, log *slog.Logger) *Bridge {
	if log == nil {
		log = logging.New("bridge")
	}
	return &Bridge{merger: merger, log: log}
}

// AfterLogin handles the login transition t at most once. It merges when a
// guest session exists and otherwise just loads the user cart. It reports
// whether a merge happened.
func (b *Bridge) AfterLogin(ctx context.Context, t session.Transition, token string) bool {
	if !t.To.IsAuthenticated() || t.To.Token == t.From.Token {
		return false
	}

	b.mu.Lock()
	if t.Seq <= b.handled {
		b.mu.Unlock()
		b.log.Debug("login transition already handled", "seq", t.Seq)
		return false
	}
	b.handled = t.Seq
	b.mu.Unlock()

	if t.To.SessionID == "" {
		if _, err := b.merger.FetchCart(ctx, ""); err != nil {
			b.log.Warn("failed to load cart after login", "error", err)
		}
		return false
	}

	err := b.merger.MergeCartsAfterLogin(ctx, token)
	switch {
	case errors.Is(err, cart.ErrGuestSessionNotCleared):
		b.log.Warn("guest cart merged, but the stale guest session id is still stored", "error", err)
		return true
	case err != nil:
		b.log.Warn("cart merge failed, keeping guest session", "error", err)
		return false
	}
	b.log.Info("guest cart merged after login")
	return true
}
