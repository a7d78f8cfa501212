package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every KeyValueStore must share.
func exerciseStore(t *testing.T, s KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, KeyToken, "tok-1"))
	require.NoError(t, s.Set(ctx, KeySessionID, "sess-1"))

	v, ok, err := s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", v)

	require.NoError(t, s.Set(ctx, KeyToken, "tok-2"))
	v, _, err = s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", v)

	require.NoError(t, s.Delete(ctx, KeyToken))
	_, ok, err = s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting a missing key is not an error
	require.NoError(t, s.Delete(ctx, KeyToken))

	v, ok, err = s.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", v)

	assert.ErrorIs(t, s.Set(ctx, "", "x"), ErrEmptyKey)
	_, _, err = s.Get(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.ErrorIs(t, s.Delete(ctx, ""), ErrEmptyKey)
}

// ============================================
// Memory Store Tests
// ============================================

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

// ============================================
// File Store Tests
// ============================================

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	exerciseStore(t, NewFileStore(path, "default"))
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, NewFileStore(path, "default").Set(ctx, KeySessionID, "guest-42"))

	v, ok, err := NewFileStore(path, "default").Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "guest-42", v)
}

func TestFileStore_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	alice := NewFileStore(path, "alice")
	bob := NewFileStore(path, "bob")

	require.NoError(t, alice.Set(ctx, KeyToken, "alice-token"))

	_, ok, err := bob.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, bob.Set(ctx, KeyToken, "bob-token"))
	v, _, err := alice.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "alice-token", v)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, _, err := NewFileStore(path, "default").Get(context.Background(), KeyToken)
	assert.Error(t, err)
}

// ============================================
// Redis Store Tests
// ============================================

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "default", ttl), mr
}

func TestRedisStore(t *testing.T) {
	s, _ := setupTestRedis(t, 0)
	exerciseStore(t, s)
}

func TestRedisStore_KeyLayoutAndTTL(t *testing.T) {
	s, mr := setupTestRedis(t, time.Hour)

	require.NoError(t, s.Set(context.Background(), KeySessionID, "guest-1"))

	v, err := mr.Get("storefront:default:session_id")
	require.NoError(t, err)
	assert.Equal(t, "guest-1", v)
	assert.Equal(t, time.Hour, mr.TTL("storefront:default:session_id"))
}

func TestRedisStore_ServerDown(t *testing.T) {
	s, mr := setupTestRedis(t, 0)
	mr.Close()

	_, _, err := s.Get(context.Background(), KeyToken)
	assert.Error(t, err)
}
