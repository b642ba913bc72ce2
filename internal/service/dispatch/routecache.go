package dispatch

import "sync"

// RouteCache remembers which destination type each in-flight id was sent
// with. Results that echo neither a destinationType nor a known sourceId
// are routed from here; entries are popped on use so the cache stays
// bounded by the in-flight set.
type RouteCache struct {
	mu sync.Mutex
	m  map[string]string
}

// NewRouteCache creates an empty route cache.
func NewRouteCache() *RouteCache {
	return &RouteCache{m: make(map[string]string)}
}

// Put records the destination type for an id.
func (c *RouteCache) Put(id, destinationType string) {
	c.mu.Lock()
	c.m[id] = destinationType
	c.mu.Unlock()
}

// Pop returns and removes the destination type for an id.
func (c *RouteCache) Pop(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dt, ok := c.m[id]
	if ok {
		delete(c.m, id)
	}
	return dt, ok
}

// Len reports the number of in-flight routes.
func (c *RouteCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
