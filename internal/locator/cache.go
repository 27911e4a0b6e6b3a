package locator

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a resolved endpoint is reused.
const DefaultCacheTTL = 60 * time.Second

// Detector is anything that can resolve an endpoint.
type Detector interface {
	Detect(ctx context.Context) (Endpoint, error)
}

// Cache memoizes a Detector's result for a TTL. Callers invalidate it on any
// API failure so the next Get rediscovers.
type Cache struct {
	det Detector
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	endpoint Endpoint
	resolved time.Time
	valid    bool
}

// NewCache wraps det with a TTL cache.
func NewCache(det Detector, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{det: det, ttl: ttl, now: time.Now}
}

// Get returns the cached endpoint or runs detection.
func (c *Cache) Get(ctx context.Context) (Endpoint, error) {
	c.mu.Lock()
	if c.valid && c.now().Sub(c.resolved) < c.ttl {
		ep := c.endpoint
		c.mu.Unlock()
		return ep, nil
	}
	c.mu.Unlock()

	ep, err := c.det.Detect(ctx)
	if err != nil {
		c.Invalidate()
		return Endpoint{}, err
	}

	c.mu.Lock()
	c.endpoint = ep
	c.resolved = c.now()
	c.valid = true
	c.mu.Unlock()
	return ep, nil
}

// Invalidate drops the cached endpoint.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.endpoint = Endpoint{}
	c.mu.Unlock()
}
