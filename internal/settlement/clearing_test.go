package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/qaxcore/internal/record"
)

func TestRecordTradeExecutedHoldsMarginAgainstBothAccounts(t *testing.T) {
	ch := NewClearingHouse()
	ch.GetOrCreateAccount("acc-buyer", 1_000_000)
	ch.GetOrCreateAccount("acc-seller", 1_000_000)

	ch.RecordTradeExecuted(&record.TradeExecuted{
		TradeID:        tradeID("1"),
		InstrumentID:   instrumentID("CLZ5"),
		Price:          71.50,
		Volume:         10,
		TakerDirection: uint8(record.DirectionBuy),
		Timestamp:      time.Now().UnixNano(),
	}, "acc-buyer", "acc-seller")

	// notional = 7150 * 10 = 71500, 10% default requirement = 7150 held
	assert.Equal(t, int64(1_000_000-7150), ch.AvailableMargin("acc-buyer"))
	assert.Equal(t, int64(1_000_000-7150), ch.AvailableMargin("acc-seller"))
}

func TestAvailableMarginIsZeroForUnknownAccount(t *testing.T) {
	ch := NewClearingHouse()
	assert.Equal(t, int64(0), ch.AvailableMargin("nobody"))
}

func TestSettleReleasesMarginHeldAgainstSettledTrades(t *testing.T) {
	ch := NewClearingHouse()
	ch.GetOrCreateAccount("acc-buyer", 1_000_000)
	ch.GetOrCreateAccount("acc-seller", 1_000_000)

	trade := ch.RecordTradeExecuted(&record.TradeExecuted{
		TradeID:        tradeID("1"),
		InstrumentID:   instrumentID("CLZ5"),
		Price:          71.50,
		Volume:         10,
		TakerDirection: uint8(record.DirectionBuy),
		Timestamp:      time.Now().UnixNano(),
	}, "acc-buyer", "acc-seller")

	ch.mu.Lock()
	trade.Status = TradeStatusReadyToSettle
	ch.mu.Unlock()

	_, err := ch.Settle()
	require.NoError(t, err)

	assert.Equal(t, int64(1_000_000), ch.AvailableMargin("acc-buyer"))
	assert.Equal(t, int64(1_000_000), ch.AvailableMargin("acc-seller"))
}
