package activity

import (
	"context"
	"testing"

	"github.com/example/ec-storefront/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e := NewEvent(ItemAdded, "guest", "guest:sess-1")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, ItemAdded, e.Type)
	assert.Equal(t, "guest", e.Identity)
	assert.Len(t, e.Cart, 16)
	assert.NotContains(t, e.Cart, "sess-1")
	assert.False(t, e.OccurredAt.IsZero())
}

func TestCartRef(t *testing.T) {
	assert.Equal(t, CartRef("user:tok"), CartRef("user:tok"))
	assert.NotEqual(t, CartRef("user:tok"), CartRef("guest:tok"))
	assert.Empty(t, CartRef(""))
}

func TestPublishers(t *testing.T) {
	ctx := context.Background()
	e := NewEvent(Cleared, "authenticated", "user:tok")

	for _, p := range []Publisher{NopPublisher{}, NewLogPublisher(logging.Discard())} {
		require.NoError(t, p.Publish(ctx, e))
		require.NoError(t, p.Close())
	}
}
