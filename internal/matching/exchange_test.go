package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/qaxcore/internal/record"
)

func wireID(s string) [64]byte {
	var b [64]byte
	encodeID(s, b[:])
	return b
}

func instrumentID(s string) [16]byte {
	var b [16]byte
	encodeID(s, b[:])
	return b
}

func TestExchangeSubmitRestsUnmatchedLimitOrder(t *testing.T) {
	engine := NewEngine()
	engine.AddSymbol("CLZ5")
	x := NewExchange(engine)

	statuses, trades := x.Submit(&record.OrderInsert{
		OrderID:      wireID("ord-1"),
		AccountID:    wireID("acc-1"),
		InstrumentID: instrumentID("CLZ5"),
		Direction:    uint8(record.DirectionBuy),
		Price:        71.50,
		Volume:       10,
		Timestamp:    1,
	})

	assert.Empty(t, trades)
	require.Len(t, statuses, 1)
	status := statuses[0]
	assert.Equal(t, uint8(record.OrderStatusAlive), status.Status)
	assert.Equal(t, float64(0), status.FilledVolume)
	assert.Equal(t, float64(10), status.LeftVolume)
}

func TestExchangeSubmitMatchesRestingOrderAndReportsBothSides(t *testing.T) {
	engine := NewEngine()
	engine.AddSymbol("CLZ5")
	x := NewExchange(engine)

	makerStatuses, makerTrades := x.Submit(&record.OrderInsert{
		OrderID:      wireID("maker-1"),
		AccountID:    wireID("acc-maker"),
		InstrumentID: instrumentID("CLZ5"),
		Direction:    uint8(record.DirectionSell),
		Price:        71.50,
		Volume:       10,
		Timestamp:    1,
	})
	require.Empty(t, makerTrades)
	require.Len(t, makerStatuses, 1)
	require.Equal(t, uint8(record.OrderStatusAlive), makerStatuses[0].Status)

	takerStatuses, trades := x.Submit(&record.OrderInsert{
		OrderID:      wireID("taker-1"),
		AccountID:    wireID("acc-taker"),
		InstrumentID: instrumentID("CLZ5"),
		Direction:    uint8(record.DirectionBuy),
		Price:        71.50,
		Volume:       10,
		Timestamp:    2,
	})

	require.Len(t, trades, 1)
	trade := trades[0]
	assert.Equal(t, wireID("taker-1"), trade.BuyOrderID)
	assert.Equal(t, wireID("maker-1"), trade.SellOrderID)
	assert.Equal(t, 71.50, trade.Price)
	assert.Equal(t, float64(10), trade.Volume)

	// statuses[0] is always the taker's own update; the resting maker-1
	// order Submit just filled gets reported right behind it.
	require.Len(t, takerStatuses, 2)
	takerStatus, makerStatus := takerStatuses[0], takerStatuses[1]

	assert.Equal(t, uint8(record.OrderStatusFinished), takerStatus.Status)
	assert.Equal(t, float64(10), takerStatus.FilledVolume)
	assert.Equal(t, float64(0), takerStatus.LeftVolume)

	assert.Equal(t, wireID("maker-1"), makerStatus.OrderID)
	assert.Equal(t, uint8(record.OrderStatusFinished), makerStatus.Status)
	assert.Equal(t, float64(10), makerStatus.FilledVolume)
	assert.Equal(t, float64(0), makerStatus.LeftVolume)
}

func TestExchangeCancelUsesWireOrderID(t *testing.T) {
	engine := NewEngine()
	engine.AddSymbol("CLZ5")
	x := NewExchange(engine)

	x.Submit(&record.OrderInsert{
		OrderID:      wireID("ord-1"),
		AccountID:    wireID("acc-1"),
		InstrumentID: instrumentID("CLZ5"),
		Direction:    uint8(record.DirectionBuy),
		Price:        71.50,
		Volume:       10,
		Timestamp:    1,
	})

	status, err := x.Cancel("CLZ5", wireID("ord-1"), 2)
	require.NoError(t, err)
	assert.Equal(t, uint8(record.OrderStatusCancelled), status.Status)
	assert.Equal(t, float64(10), status.LeftVolume)

	_, err = x.Cancel("CLZ5", wireID("unknown"), 3)
	assert.Error(t, err)

	book := engine.GetOrderBook("CLZ5")
	assert.Nil(t, book.GetOrder(1))
}

func TestExchangeAccountForResolvesWireOrderID(t *testing.T) {
	engine := NewEngine()
	engine.AddSymbol("CLZ5")
	x := NewExchange(engine)

	x.Submit(&record.OrderInsert{
		OrderID:      wireID("ord-1"),
		AccountID:    wireID("acc-1"),
		InstrumentID: instrumentID("CLZ5"),
		Direction:    uint8(record.DirectionBuy),
		Price:        71.50,
		Volume:       10,
		Timestamp:    1,
	})

	assert.Equal(t, "acc-1", x.AccountFor(wireID("ord-1")))
	assert.Equal(t, "", x.AccountFor(wireID("unknown")))
}

func TestExchangeSubmitAddsUnknownSymbolAutomatically(t *testing.T) {
	engine := NewEngine()
	x := NewExchange(engine)

	statuses, _ := x.Submit(&record.OrderInsert{
		OrderID:      wireID("ord-1"),
		AccountID:    wireID("acc-1"),
		InstrumentID: instrumentID("NEWSYM"),
		Direction:    uint8(record.DirectionBuy),
		Price:        1,
		Volume:       1,
		Timestamp:    1,
	})

	assert.Contains(t, engine.Symbols(), "NEWSYM")
	require.Len(t, statuses, 1)
	assert.Equal(t, uint8(record.OrderStatusAlive), statuses[0].Status)
}
