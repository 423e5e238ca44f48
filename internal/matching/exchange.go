package matching

import (
	"fmt"
	"math"

	"github.com/rishav/qaxcore/internal/orders"
	"github.com/rishav/qaxcore/internal/record"
)

// Exchange sits between Engine and the durable wire format: it converts
// record.OrderInsert into the orders.Order the engine's matching loop
// works with, then converts the resulting fills back into
// record.TradeExecuted/record.OrderStatusUpdate values a caller can hand
// straight to storage.Instrument.Write. Engine's own matching logic never
// sees a record.Payload; Exchange is the only thing that does.
//
// Submit must be called from a single goroutine, the same threading
// contract Engine's own Process path documents — Exchange adds a result
// translation step, not concurrency.
type Exchange struct {
	engine *Engine

	// internalID maps a wire OrderID to the uint64 ID Engine assigned it,
	// so a later Cancel (which only knows the wire ID) can find Engine's
	// book entry. externalID is the reverse, so a fill against a resting
	// maker order can be reported using the wire ID it was submitted with.
	internalID map[[64]byte]uint64
	externalID map[uint64][64]byte

	// accountOf resolves a wire OrderID back to the account that submitted
	// it. TradeExecuted only carries the two order IDs on a match (mirroring
	// the upstream wire format this schema was distilled from), so anything
	// downstream that needs the accounts behind a trade — risk, settlement —
	// goes through this map rather than through the record itself.
	accountOf map[[64]byte]string
}

// NewExchange wraps engine. engine should already have every tradable
// instrument added via AddSymbol, or Submit adds them on first sight.
func NewExchange(engine *Engine) *Exchange {
	return &Exchange{
		engine:     engine,
		internalID: make(map[[64]byte]uint64),
		externalID: make(map[uint64][64]byte),
		accountOf:  make(map[[64]byte]string),
	}
}

// AccountFor returns the account that submitted orderID, or "" if Submit was
// never called with that wire ID.
func (x *Exchange) AccountFor(orderID [64]byte) string {
	return x.accountOf[orderID]
}

// Submit runs ins through the matching engine and translates the result
// into the status updates and trade records that caused it. statuses[0] is
// always ins's own (taker) status; one further entry follows for every
// distinct resting order a fill touched, since a fill changes the maker's
// status exactly as much as the taker's. The caller is responsible for
// persisting every one of them (and the inbound ins itself) before acting
// on them, same as any other record this exchange produces.
func (x *Exchange) Submit(ins *record.OrderInsert) (statuses []*record.OrderStatusUpdate, trades []record.TradeExecuted) {
	symbol := decodeID(ins.InstrumentID[:])
	if x.engine.GetOrderBook(symbol) == nil {
		x.engine.AddSymbol(symbol)
	}

	order := &orders.Order{
		Price:     priceToCents(ins.Price),
		Quantity:  volumeToLots(ins.Volume),
		Timestamp: ins.Timestamp,
		Symbol:    symbol,
		AccountID: decodeID(ins.AccountID[:]),
		Side:      directionToSide(record.Direction(ins.Direction)),
		Type:      orders.OrderTypeLimit,
	}

	result := x.engine.ProcessOrder(order)

	x.internalID[ins.OrderID] = order.ID
	x.externalID[order.ID] = ins.OrderID
	x.accountOf[ins.OrderID] = order.AccountID

	statuses = append(statuses, &record.OrderStatusUpdate{
		OrderID:      ins.OrderID,
		InstrumentID: ins.InstrumentID,
		Status:       uint8(statusToRecord(order.Status)),
		FilledVolume: lotsToVolume(order.FilledQty),
		LeftVolume:   lotsToVolume(order.RemainingQty()),
		Timestamp:    order.Timestamp,
	})

	trades = make([]record.TradeExecuted, 0, len(result.Fills))
	for _, f := range result.Fills {
		makerID := x.externalID[f.MakerOrderID]
		buyOrderID, sellOrderID := ins.OrderID, makerID
		if order.Side == orders.SideSell {
			buyOrderID, sellOrderID = makerID, ins.OrderID
		}
		trades = append(trades, record.TradeExecuted{
			TradeID:        tradeIDToBytes(f.TradeID),
			InstrumentID:   ins.InstrumentID,
			BuyOrderID:     buyOrderID,
			SellOrderID:    sellOrderID,
			Price:          centsToPrice(f.Price),
			Volume:         lotsToVolume(f.Quantity),
			TakerDirection: ins.Direction,
			Timestamp:      f.Timestamp,
		})
	}

	// Every resting order a fill touched gets its own status update too —
	// the taker's status never describes what happened on the maker side.
	for _, maker := range result.MakerOrders {
		makerWireID, ok := x.externalID[maker.ID]
		if !ok {
			continue
		}
		statuses = append(statuses, &record.OrderStatusUpdate{
			OrderID:      makerWireID,
			InstrumentID: ins.InstrumentID,
			Status:       uint8(statusToRecord(maker.Status)),
			FilledVolume: lotsToVolume(maker.FilledQty),
			LeftVolume:   lotsToVolume(maker.RemainingQty()),
			Timestamp:    order.Timestamp,
		})
	}

	return statuses, trades
}

// Cancel cancels the order identified by its wire OrderID, returning the
// status update recording the cancellation.
func (x *Exchange) Cancel(symbol string, orderID [64]byte, timestamp int64) (*record.OrderStatusUpdate, error) {
	internal, ok := x.internalID[orderID]
	if !ok {
		return nil, fmt.Errorf("matching: order %s not found", decodeID(orderID[:]))
	}

	order, err := x.engine.CancelOrder(symbol, internal)
	if err != nil {
		return nil, fmt.Errorf("matching: %w", err)
	}

	var instrumentID [16]byte
	encodeID(symbol, instrumentID[:])

	return &record.OrderStatusUpdate{
		OrderID:      orderID,
		InstrumentID: instrumentID,
		Status:       uint8(statusToRecord(order.Status)),
		FilledVolume: lotsToVolume(order.FilledQty),
		LeftVolume:   lotsToVolume(order.RemainingQty()),
		Timestamp:    timestamp,
	}, nil
}

// priceScale converts between record's decimal Price/Volume and Engine's
// fixed-point cents/integer-lot model. Prices carry two decimal places
// (matching orders.FormatPrice's cents); volumes are whole lots.
const priceScale = 100

func priceToCents(p float64) int64   { return int64(math.Round(p * priceScale)) }
func centsToPrice(c int64) float64   { return float64(c) / priceScale }
func volumeToLots(v float64) int64   { return int64(math.Round(v)) }
func lotsToVolume(lots int64) float64 { return float64(lots) }

func directionToSide(d record.Direction) orders.Side {
	if d == record.DirectionSell {
		return orders.SideSell
	}
	return orders.SideBuy
}

func statusToRecord(s orders.OrderStatus) record.OrderStatus {
	switch s {
	case orders.OrderStatusNew:
		return record.OrderStatusAlive
	case orders.OrderStatusPartiallyFilled:
		return record.OrderStatusPartiallyFilled
	case orders.OrderStatusFilled:
		return record.OrderStatusFinished
	case orders.OrderStatusCancelled:
		return record.OrderStatusCancelled
	case orders.OrderStatusRejected:
		return record.OrderStatusRejected
	default:
		return record.OrderStatusAlive
	}
}

// tradeIDToBytes renders a trade's engine-local uint64 ID as a wire
// TradeID field, the same decimal-text encoding encodeID uses for every
// other ID field.
func tradeIDToBytes(id uint64) [64]byte {
	var b [64]byte
	encodeID(fmt.Sprintf("%d", id), b[:])
	return b
}
