package cache

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"ordersync/internal/models"
)

func page(ids ...string) models.PageResult {
	res := models.PageResult{
		Pagination: models.PaginationInfo{
			CurrentPage: 1,
			TotalPages:  1,
			TotalCount:  len(ids),
		},
	}
	for _, id := range ids {
		res.Orders = append(res.Orders, models.OrderSummary{
			ID:          id,
			Status:      models.StatusPending,
			TotalAmount: decimal.NewFromInt(100),
		})
	}
	return res
}

func TestReplaceIsWholesale(t *testing.T) {
	c := NewPageCache()
	assert.False(t, c.Populated())

	c.Replace(page("a", "b", "c"))
	orders, pag := c.Get()
	assert.Len(t, orders, 3)
	assert.Equal(t, 3, pag.TotalCount)
	assert.True(t, c.Populated())

	// A later result fully overwrites, nothing survives from the old page.
	c.Replace(page("z"))
	orders, pag = c.Get()
	assert.Len(t, orders, 1)
	assert.Equal(t, "z", orders[0].ID)
	assert.Equal(t, 1, pag.TotalCount)
}

func TestReplaceCopiesInput(t *testing.T) {
	c := NewPageCache()
	src := page("a", "b")
	c.Replace(src)

	src.Orders[0].ID = "mutated"
	orders, _ := c.Get()
	assert.Equal(t, "a", orders[0].ID)
}

func TestClear(t *testing.T) {
	c := NewPageCache()
	c.Replace(page("a"))
	c.Clear()

	orders, pag := c.Get()
	assert.Nil(t, orders)
	assert.Zero(t, pag)
	assert.False(t, c.Populated())
}
