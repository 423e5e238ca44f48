package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/qaxcore/internal/record"
)

func instrumentID(s string) [16]byte {
	var b [16]byte
	copy(b[:], s)
	return b
}

func tradeID(s string) [64]byte {
	var b [64]byte
	copy(b[:], s)
	return b
}

func TestRecordTradeExecutedCreatesPendingTrade(t *testing.T) {
	ch := NewClearingHouse()

	trade := ch.RecordTradeExecuted(&record.TradeExecuted{
		TradeID:        tradeID("42"),
		InstrumentID:   instrumentID("CLZ5"),
		Price:          71.50,
		Volume:         10,
		TakerDirection: uint8(record.DirectionBuy),
		Timestamp:      time.Now().UnixNano(),
	}, "acc-buyer", "acc-seller")

	require.NotNil(t, trade)
	assert.Equal(t, uint64(42), trade.ID)
	assert.Equal(t, "CLZ5", trade.Symbol)
	assert.Equal(t, int64(7150), trade.Price)
	assert.Equal(t, int64(10), trade.Quantity)
	assert.Equal(t, "acc-buyer", trade.BuyerAccount)
	assert.Equal(t, "acc-seller", trade.SellerAccount)
	assert.Equal(t, TradeStatusExecuted, trade.Status)

	pending := ch.GetPendingTrades()
	require.Len(t, pending, 1)
	assert.Equal(t, trade.ID, pending[0].ID)
}

func TestRecordTradeExecutedFeedsNetting(t *testing.T) {
	ch := NewClearingHouse()
	ch.GetOrCreateAccount("acc-buyer", 1_000_000)
	ch.GetOrCreateAccount("acc-seller", 0)

	ch.RecordTradeExecuted(&record.TradeExecuted{
		TradeID:        tradeID("1"),
		InstrumentID:   instrumentID("CLZ5"),
		Price:          71.50,
		Volume:         10,
		TakerDirection: uint8(record.DirectionBuy),
		Timestamp:      time.Now().UnixNano(),
	}, "acc-buyer", "acc-seller")

	nets := ch.CalculateNetting()
	require.Contains(t, nets, "acc-buyer")
	require.Contains(t, nets["acc-buyer"], "CLZ5")
	assert.Equal(t, int64(10), nets["acc-buyer"]["CLZ5"].NetQty)
	assert.Equal(t, int64(-10), nets["acc-seller"]["CLZ5"].NetQty)
}
