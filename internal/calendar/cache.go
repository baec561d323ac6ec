package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultFreeBusyTTL is how long one free/busy answer stays fresh. The
// pipeline asks for the same window several times per utterance; staleness
// beyond a minute only risks proposing a slot the user just booked.
const DefaultFreeBusyTTL = time.Minute

const freeBusyCacheSize = 64

// CachingClient wraps a Client with a short-TTL free/busy cache. Event
// writes pass through and flush the cache, since they change availability.
type CachingClient struct {
	inner Client
	cache *expirable.LRU[string, Availability]
}

// WithCache layers a free/busy cache over a client. A non-positive TTL
// uses the default.
func WithCache(inner Client, ttl time.Duration) *CachingClient {
	if ttl <= 0 {
		ttl = DefaultFreeBusyTTL
	}
	return &CachingClient{
		inner: inner,
		cache: expirable.NewLRU[string, Availability](freeBusyCacheSize, nil, ttl),
	}
}

func (c *CachingClient) FreeBusy(ctx context.Context, window Interval, calendars ...string) Availability {
	key := freeBusyKey(window, calendars)
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}
	availability := c.inner.FreeBusy(ctx, window, calendars...)
	// Degraded answers are not cached so reconnection is noticed promptly.
	if availability.Connected {
		c.cache.Add(key, availability)
	}
	return availability
}

func (c *CachingClient) CreateEvent(ctx context.Context, input EventInput) (string, error) {
	id, err := c.inner.CreateEvent(ctx, input)
	if err == nil {
		c.cache.Purge()
	}
	return id, err
}

func (c *CachingClient) UpdateEvent(ctx context.Context, eventID string, patch EventPatch) error {
	err := c.inner.UpdateEvent(ctx, eventID, patch)
	if err == nil {
		c.cache.Purge()
	}
	return err
}

func (c *CachingClient) DeleteEvent(ctx context.Context, eventID string) error {
	err := c.inner.DeleteEvent(ctx, eventID)
	if err == nil {
		c.cache.Purge()
	}
	return err
}

func (c *CachingClient) ListEvents(ctx context.Context, window Interval) ([]Event, error) {
	return c.inner.ListEvents(ctx, window)
}

func freeBusyKey(window Interval, calendars []string) string {
	key := fmt.Sprintf("%d-%d", window.Start.UnixNano(), window.End.UnixNano())
	for _, id := range calendars {
		key += "|" + id
	}
	return key
}

var _ Client = (*CachingClient)(nil)
