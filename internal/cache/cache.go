package cache

import (
	"context"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	// SetNX stores the key only if absent and reports whether it was set.
	// Used as the idempotency primitive for message deduplication.
	SetNX(ctx context.Context, key string, ttl time.Duration) (set bool, err error)
	Del(ctx context.Context, keys ...string) error
}
