package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/qaxcore/internal/record"
)

func wireID(s string) [64]byte {
	var b [64]byte
	copy(b[:], s)
	return b
}

func instrumentID(s string) [16]byte {
	var b [16]byte
	copy(b[:], s)
	return b
}

func TestCheckInsertPassesWithinDefaultLimits(t *testing.T) {
	c := NewChecker(DefaultConfig())

	result := c.CheckInsert(&record.OrderInsert{
		OrderID:      wireID("ord-1"),
		AccountID:    wireID("acc-1"),
		InstrumentID: instrumentID("CLZ5"),
		Direction:    uint8(record.DirectionBuy),
		Price:        71.50,
		Volume:       10,
		Timestamp:    1,
	})

	assert.True(t, result.Passed)
}

func TestCheckInsertRejectsOversizedOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOrderSize = 5
	c := NewChecker(cfg)

	result := c.CheckInsert(&record.OrderInsert{
		OrderID:      wireID("ord-1"),
		AccountID:    wireID("acc-1"),
		InstrumentID: instrumentID("CLZ5"),
		Direction:    uint8(record.DirectionBuy),
		Price:        71.50,
		Volume:       10,
		Timestamp:    1,
	})

	require.False(t, result.Passed)
	assert.Contains(t, result.Reason, "order size")
}

func TestRecordTradeUpdatesBothAccountsAndReferencePrice(t *testing.T) {
	c := NewChecker(DefaultConfig())

	c.RecordTrade(&record.TradeExecuted{
		InstrumentID:   instrumentID("CLZ5"),
		Price:          71.50,
		Volume:         10,
		TakerDirection: uint8(record.DirectionBuy),
		Timestamp:      1,
	}, "acc-buyer", "acc-seller")

	assert.Equal(t, int64(10), c.GetPosition("acc-buyer", "CLZ5"))
	assert.Equal(t, int64(-10), c.GetPosition("acc-seller", "CLZ5"))
	assert.Equal(t, int64(7150), c.GetReferencePrice("CLZ5"))
	assert.Equal(t, int64(71500), c.GetDailyVolume("acc-buyer"))
	assert.Equal(t, int64(71500), c.GetDailyVolume("acc-seller"))
}
