// Package activity describes cart activity events and the sinks they are
// published to. Publishing is best-effort: cart operations never fail because
// an event could not be delivered.
package activity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	ItemAdded       Type = "cart.item_added"
	ItemRemoved     Type = "cart.item_removed"
	QuantityUpdated Type = "cart.quantity_updated"
	Cleared         Type = "cart.cleared"
	PromoApplied    Type = "cart.promo_applied"
	Merged          Type = "cart.merged"
)

type Event struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	// Cart is an opaque reference to the cart identity; raw tokens and
	// session ids never leave the client.
	Cart       string    `json:"cart"`
	Identity   string    `json:"identity"`
	ProductID  int64     `json:"product_id,omitempty"`
	Quantity   int       `json:"quantity,omitempty"`
	Code       string    `json:"code,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewEvent(t Type, identityKind, identityKey string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		Cart:       CartRef(identityKey),
		Identity:   identityKind,
		OccurredAt: time.Now().UTC(),
	}
}

// CartRef hashes an identity key into a stable, non-reversible reference.
func CartRef(identityKey string) string {
	if identityKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(identityKey))
	return hex.EncodeToString(sum[:8])
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(l *slog.Logger) *LogPublisher {
	return &LogPublisher{log: l}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.log.InfoContext(ctx, "cart activity",
		"event_id", e.ID,
		"type", string(e.Type),
		"cart", e.Cart,
		"identity", e.Identity,
		"product_id", e.ProductID,
		"quantity", e.Quantity,
		"code", e.Code,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
