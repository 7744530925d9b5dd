package realtime

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/soulline/backend/internal/cache"
)

// Deduper absorbs reconnect-triggered redelivery of chat messages: two
// identical (sender, text) pairs inside the window count as one message.
type Deduper interface {
	// Duplicate reports whether this exact message from this sender was
	// already seen within the dedup window.
	Duplicate(ctx context.Context, requestID, senderID, text string) (bool, error)
}

// cacheDeduper keys a short-lived idempotency entry per (room, sender,
// text). The first send claims the key; any identical send while the key
// lives is a redelivery.
type cacheDeduper struct {
	c      cache.Cache
	window time.Duration
}

func NewDeduper(c cache.Cache, window time.Duration) Deduper {
	return &cacheDeduper{c: c, window: window}
}

func (d *cacheDeduper) Duplicate(ctx context.Context, requestID, senderID, text string) (bool, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	key := fmt.Sprintf("dedup:%s:%s:%x", requestID, senderID, h.Sum64())

	set, err := d.c.SetNX(ctx, key, d.window)
	if err != nil {
		return false, err
	}
	return !set, nil
}
