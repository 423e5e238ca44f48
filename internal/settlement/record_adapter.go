package settlement

import (
	"bytes"
	"math"
	"time"

	"github.com/rishav/qaxcore/internal/record"
)

// priceScale matches internal/matching and internal/risk's fixed-point
// convention: record's decimal Price/Volume become the cents/whole-lot
// integers every other component in this system settles in.
const priceScale = 100

func priceToCents(p float64) int64 { return int64(math.Round(p * priceScale)) }
func volumeToLots(v float64) int64 { return int64(math.Round(v)) }

func decodeID(buf []byte) string {
	if n := bytes.IndexByte(buf, 0); n >= 0 {
		buf = buf[:n]
	}
	return string(buf)
}

func tradeIDFromBytes(b [64]byte) uint64 {
	s := decodeID(b[:])
	var id uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// RecordTradeExecuted records a matched trade reported off the wire for
// clearing. buyerAccount/sellerAccount must already be resolved by the
// caller (TradeExecuted identifies the two orders, not the two accounts —
// see matching.Exchange.AccountFor), since the clearing house itself has no
// way to recover an account from an order ID.
func (ch *ClearingHouse) RecordTradeExecuted(te *record.TradeExecuted, buyerAccount, sellerAccount string) *Trade {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	now := time.Unix(0, te.Timestamp)
	settleDate := ch.calculateSettleDate(now)

	trade := &Trade{
		ID:            tradeIDFromBytes(te.TradeID),
		Symbol:        decodeID(te.InstrumentID[:]),
		Price:         priceToCents(te.Price),
		Quantity:      volumeToLots(te.Volume),
		BuyerAccount:  buyerAccount,
		SellerAccount: sellerAccount,
		TradeTime:     now,
		SettleDate:    settleDate,
		Status:        TradeStatusExecuted,
	}

	ch.trades[trade.ID] = trade

	notional := trade.Price * trade.Quantity
	ch.holdMarginLocked(buyerAccount, notional)
	ch.holdMarginLocked(sellerAccount, notional)

	return trade
}
