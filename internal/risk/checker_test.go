package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/qaxcore/internal/orders"
)

type fakeMarginSource int64

func (f fakeMarginSource) AvailableMargin(accountID string) int64 { return int64(f) }

func TestCheckSkipsMarginWhenNoSourceAttached(t *testing.T) {
	c := NewChecker(DefaultConfig())

	result := c.Check(&orders.Order{
		AccountID: "acc-1",
		Symbol:    "CLZ5",
		Side:      orders.SideBuy,
		Type:      orders.OrderTypeLimit,
		Price:     100_00,
		Quantity:  1000,
	})

	assert.True(t, result.Passed)
	assert.NotContains(t, result.ChecksRun, "margin")
}

func TestCheckRejectsOrderWithInsufficientMargin(t *testing.T) {
	c := NewChecker(DefaultConfig())
	c.SetMarginSource(fakeMarginSource(500)) // far less than 10% of the order below

	result := c.Check(&orders.Order{
		AccountID: "acc-1",
		Symbol:    "CLZ5",
		Side:      orders.SideBuy,
		Type:      orders.OrderTypeLimit,
		Price:     100_00,
		Quantity:  1000,
	})

	require.False(t, result.Passed)
	assert.Contains(t, result.Reason, "insufficient margin")
	assert.Contains(t, result.ChecksRun, "margin")
}

func TestCheckPassesOrderWithSufficientMargin(t *testing.T) {
	c := NewChecker(DefaultConfig())
	c.SetMarginSource(fakeMarginSource(1_000_000_00))

	result := c.Check(&orders.Order{
		AccountID: "acc-1",
		Symbol:    "CLZ5",
		Side:      orders.SideBuy,
		Type:      orders.OrderTypeLimit,
		Price:     100_00,
		Quantity:  1000,
	})

	assert.True(t, result.Passed)
	assert.Contains(t, result.ChecksRun, "margin")
}
