// Package promo tracks the display state of a promo code submission:
// Idle -> Applying -> Applied or Rejected, then back to Idle once the result
// message has been shown for the display timeout.
package promo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ec-storefront/internal/cart"
	"github.com/example/ec-storefront/internal/logging"
)

const DefaultDisplayTimeout = 5 * time.Second

type State int

const (
	Idle State = iota
	Applying
	Applied
	Rejected
)

func (s State) String() string {
	switch s {
	case Applying:
		return "applying"
	case Applied:
		return "applied"
	case Rejected:
		return "rejected"
	default:
		return "idle"
	}
}

// Applier submits a code. *cart.Synchronizer implements it.
type Applier interface {
	ApplyPromoCode(ctx context.Context, code string) cart.PromoResult
}

type stopper interface {
	Stop() bool
}

type Machine struct {
	applier   Applier
	display   time.Duration
	afterFunc func(time.Duration, func()) stopper
	log       *slog.Logger

	mu     sync.Mutex
	state  State
	code   string
	result cart.PromoResult
	// gen identifies the latest submission; stale completions and timers
	// compare against it.
	gen   uint64
	timer stopper
}

type Option func(*Machine)

// WithDisplayTimeout sets how long Applied/Rejected is held before Idle.
func WithDisplayTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.display = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

func NewMachine(applier Applier, opts ...Option) *Machine {
	m := &Machine{
		applier: applier,
		display: DefaultDisplayTimeout,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		log: logging.New("promo"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit applies code and holds the outcome for the display timeout. Each call
// is independent: nothing is retried or rate limited, and a new submission
// supersedes the previous one and its pending reset.
func (m *Machine) Submit(ctx context.Context, code string) cart.PromoResult {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.stopTimerLocked()
	m.state = Applying
	m.code = code
	m.result = cart.PromoResult{}
	m.mu.Unlock()

	result := m.applier.ApplyPromoCode(ctx, code)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return result
	}
	m.result = result
	m.state = Rejected
	if result.Success {
		m.state = Applied
	}
	m.log.Debug("promo code settled", "state", m.state.String(), "message", result.Message)
	m.timer = m.afterFunc(m.display, func() { m.expire(gen) })
	return result
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Result is the outcome being displayed; zero while Idle or Applying.
func (m *Machine) Result() cart.PromoResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// Code is the last submitted code.
func (m *Machine) Code() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

// Stop cancels a pending reset and returns to Idle.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.stopTimerLocked()
	m.state = Idle
	m.result = cart.PromoResult{}
}

func (m *Machine) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.state = Idle
	m.result = cart.PromoResult{}
	m.timer = nil
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
