package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache is an in-process cache.Cache good enough for the deduper.
type memCache struct {
	keys map[string]time.Time
	err  error
}

func newMemCache() *memCache {
	return &memCache{keys: make(map[string]time.Time)}
}

func (c *memCache) GetJSON(context.Context, string, any) (bool, error) { return false, nil }
func (c *memCache) SetJSON(context.Context, string, any, time.Duration) error {
	return nil
}

func (c *memCache) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if exp, ok := c.keys[key]; ok && time.Now().Before(exp) {
		return false, nil
	}
	c.keys[key] = time.Now().Add(ttl)
	return true, nil
}

func (c *memCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.keys, k)
	}
	return nil
}

func TestDeduperFlagsIdenticalResend(t *testing.T) {
	d := NewDeduper(newMemCache(), time.Minute)
	ctx := context.Background()

	dup, err := d.Duplicate(ctx, "req-1", "cust-1", "hello")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = d.Duplicate(ctx, "req-1", "cust-1", "hello")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestDeduperScopesBySenderTextAndRoom(t *testing.T) {
	d := NewDeduper(newMemCache(), time.Minute)
	ctx := context.Background()

	_, err := d.Duplicate(ctx, "req-1", "cust-1", "hello")
	require.NoError(t, err)

	testCases := []struct {
		name      string
		requestID string
		senderID  string
		text      string
	}{
		{name: "different text", requestID: "req-1", senderID: "cust-1", text: "hello!"},
		{name: "different sender", requestID: "req-1", senderID: "cons-1", text: "hello"},
		{name: "different room", requestID: "req-2", senderID: "cust-1", text: "hello"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dup, err := d.Duplicate(ctx, tc.requestID, tc.senderID, tc.text)
			require.NoError(t, err)
			assert.False(t, dup)
		})
	}
}

func TestDeduperWindowExpires(t *testing.T) {
	d := NewDeduper(newMemCache(), 20*time.Millisecond)
	ctx := context.Background()

	_, err := d.Duplicate(ctx, "req-1", "cust-1", "hello")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	dup, err := d.Duplicate(ctx, "req-1", "cust-1", "hello")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestDeduperPropagatesStoreErrors(t *testing.T) {
	c := newMemCache()
	c.err = errors.New("redis down")
	d := NewDeduper(c, time.Minute)

	dup, err := d.Duplicate(context.Background(), "req-1", "cust-1", "hello")
	require.Error(t, err)
	assert.False(t, dup)
}
