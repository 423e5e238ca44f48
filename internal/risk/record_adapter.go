package risk

import (
	"bytes"
	"math"

	"github.com/rishav/qaxcore/internal/orders"
	"github.com/rishav/qaxcore/internal/record"
)

// priceScale mirrors internal/matching's fixed-point convention: record's
// decimal Price carries two decimal places, record's Volume is whole lots.
// Risk limits are configured in the same cents/lot units orders.Order uses,
// so CheckInsert has to cross that boundary exactly like Exchange.Submit
// does before the order ever reaches the matching engine.
const priceScale = 100

func priceToCents(p float64) int64 { return int64(math.Round(p * priceScale)) }
func volumeToLots(v float64) int64 { return int64(math.Round(v)) }

func decodeID(buf []byte) string {
	if n := bytes.IndexByte(buf, 0); n >= 0 {
		buf = buf[:n]
	}
	return string(buf)
}

// CheckInsert runs the standard pre-trade checks against an inbound order
// before it is handed to the matching engine, translating the wire record
// into the fixed-point orders.Order shape Check already knows how to
// evaluate.
func (c *Checker) CheckInsert(ins *record.OrderInsert) CheckResult {
	order := &orders.Order{
		Price:     priceToCents(ins.Price),
		Quantity:  volumeToLots(ins.Volume),
		Timestamp: ins.Timestamp,
		Symbol:    decodeID(ins.InstrumentID[:]),
		AccountID: decodeID(ins.AccountID[:]),
		Side:      directionToSide(record.Direction(ins.Direction)),
		Type:      orders.OrderTypeLimit,
	}
	return c.Check(order)
}

func directionToSide(d record.Direction) orders.Side {
	if d == record.DirectionSell {
		return orders.SideSell
	}
	return orders.SideBuy
}

// RecordTrade updates position, daily volume, and reference-price state
// after a trade executes, given the wire trade record and the two accounts
// behind it (resolved by the caller from the order IDs the record carries —
// TradeExecuted itself identifies orders, not accounts).
func (c *Checker) RecordTrade(te *record.TradeExecuted, buyerAccount, sellerAccount string) {
	symbol := decodeID(te.InstrumentID[:])
	qty := volumeToLots(te.Volume)
	price := priceToCents(te.Price)
	value := price * qty

	c.UpdatePosition(buyerAccount, symbol, orders.SideBuy, qty)
	c.UpdatePosition(sellerAccount, symbol, orders.SideSell, qty)
	c.UpdateDailyVolume(buyerAccount, value)
	c.UpdateDailyVolume(sellerAccount, value)
	c.SetReferencePrice(symbol, price)
}
