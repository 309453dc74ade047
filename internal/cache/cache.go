package cache

import (
	"sync"

	"ordersync/internal/models"
)

// PageCache holds the latest admin list page and its pagination metadata.
// Replace is total: partial merges across differently-filtered result sets
// are unsound, so every new result overwrites everything.
type PageCache struct {
	mu         sync.RWMutex
	orders     []models.OrderSummary
	pagination models.PaginationInfo
	populated  bool
}

func NewPageCache() *PageCache {
	return &PageCache{}
}

func (c *PageCache) Replace(res models.PageResult) {
	orders := make([]models.OrderSummary, len(res.Orders))
	copy(orders, res.Orders)

	c.mu.Lock()
	c.orders = orders
	c.pagination = res.Pagination
	c.populated = true
	c.mu.Unlock()
}

// Get returns the current snapshot. The returned slice is owned by the
// cache's current generation and must not be mutated by callers.
func (c *PageCache) Get() ([]models.OrderSummary, models.PaginationInfo) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orders, c.pagination
}

// Populated reports whether at least one result has arrived.
func (c *PageCache) Populated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.populated
}

// Clear drops the snapshot, e.g. on session end.
func (c *PageCache) Clear() {
	c.mu.Lock()
	c.orders = nil
	c.pagination = models.PaginationInfo{}
	c.populated = false
	c.mu.Unlock()
}
