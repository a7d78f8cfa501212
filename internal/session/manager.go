package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/ec-storefront/internal/infrastructure/store"
	"github.com/example/ec-storefront/internal/logging"
)

const subscriberBuffer = 16

// Manager owns the current Identity. Every change is written to the durable
// store before it becomes visible, then fanned out to subscribers.
type Manager struct {
	mu      sync.RWMutex
	kv      store.KeyValueStore
	current Identity
	seq     uint64
	subs    map[int]chan Transition
	nextSub int
	log     *slog.Logger
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager loads the persisted identity from kv.
func NewManager(ctx context.Context, kv store.KeyValueStore, opts ...Option) (*Manager, error) {
	m := &Manager{
		kv:   kv,
		subs: make(map[int]chan Transition),
		log:  logging.New("session"),
	}
	for _, opt := range opts {
		opt(m)
	}

	token, _, err := kv.Get(ctx, store.KeyToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	sessionID, _, err := kv.Get(ctx, store.KeySessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session id: %w", err)
	}
	m.current = Identity{Token: token, SessionID: sessionID}
	return m, nil
}

// Current returns the active identity.
func (m *Manager) Current() Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) SetToken(ctx context.Context, token string) (Transition, error) {
	return m.update(ctx, store.KeyToken, token, func(id *Identity) { id.Token = token })
}

func (m *Manager) ClearToken(ctx context.Context) (Transition, error) {
	return m.update(ctx, store.KeyToken, "", func(id *Identity) { id.Token = "" })
}

func (m *Manager) SetSessionID(ctx context.Context, sessionID string) (Transition, error) {
	return m.update(ctx, store.KeySessionID, sessionID, func(id *Identity) { id.SessionID = sessionID })
}

func (m *Manager) ClearSessionID(ctx context.Context) (Transition, error) {
	return m.update(ctx, store.KeySessionID, "", func(id *Identity) { id.SessionID = "" })
}

// Subscribe registers a listener for identity transitions. The returned func
// unregisters it and closes the channel.
func (m *Manager) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Transition, subscriberBuffer)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

func (m *Manager) update(ctx context.Context, key, value string, apply func(*Identity)) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if value == "" {
		err = m.kv.Delete(ctx, key)
	} else {
		err = m.kv.Set(ctx, key, value)
	}
	if err != nil {
		return Transition{}, fmt.Errorf("failed to persist %s: %w", key, err)
	}

	from := m.current
	apply(&m.current)
	if from == m.current {
		return Transition{Seq: m.seq, From: from, To: from}, nil
	}

	m.seq++
	t := Transition{Seq: m.seq, From: from, To: m.current}
	m.log.Debug("identity changed", "seq", t.Seq, "from", from.Kind().String(), "to", t.To.Kind().String())

	for id, ch := range m.subs {
		select {
		case ch <- t:
		default:
			m.log.Warn("dropping identity transition for slow subscriber", "subscriber", id, "seq", t.Seq)
		}
	}
	return t, nil
}
