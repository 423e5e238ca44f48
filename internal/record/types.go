// Package record defines the tagged union of every durable log record in
// the system, plus the fixed-size LogEntry envelope that wraps one on the
// wire. All variants are fixed-layout: fixed-width integers, floats, and
// zero-padded byte arrays for identifiers and free text. No variant holds a
// pointer, slice, or string, so a variant can be read directly off a byte
// buffer without copying (see codec.go).
//
// The variant set and field widths mirror the write-ahead log record
// schema this system's matching core was built against: fixed 16-byte
// instrument ids, 32-byte user ids, 64-byte account/order ids, 128-byte
// free-text reason fields.
package record

// Type is the tag discriminating which variant a LogEntry's payload holds.
type Type uint8

const (
	TypeAccountOpen Type = iota + 1
	TypeAccountUpdate
	TypeAccountSnapshot
	TypeUserRegister
	TypeAccountBind
	TypeUserRoleUpdate
	TypeOrderInsert
	TypeOrderStatusUpdate
	TypeTradeExecuted
	TypePositionSnapshot
	TypeTickData
	TypeOrderBookSnapshot
	TypeOrderBookDelta
	TypeKLineFinished
	TypeExchangeOrderRecord
	TypeExchangeTradeRecord
	TypeExchangeResponseRecord
	TypeFactorUpdate
	TypeFactorSnapshot
	TypeCheckpoint
	typeMax // sentinel, not a valid tag
)

func (t Type) String() string {
	switch t {
	case TypeAccountOpen:
		return "ACCOUNT_OPEN"
	case TypeAccountUpdate:
		return "ACCOUNT_UPDATE"
	case TypeAccountSnapshot:
		return "ACCOUNT_SNAPSHOT"
	case TypeUserRegister:
		return "USER_REGISTER"
	case TypeAccountBind:
		return "ACCOUNT_BIND"
	case TypeUserRoleUpdate:
		return "USER_ROLE_UPDATE"
	case TypeOrderInsert:
		return "ORDER_INSERT"
	case TypeOrderStatusUpdate:
		return "ORDER_STATUS_UPDATE"
	case TypeTradeExecuted:
		return "TRADE_EXECUTED"
	case TypePositionSnapshot:
		return "POSITION_SNAPSHOT"
	case TypeTickData:
		return "TICK_DATA"
	case TypeOrderBookSnapshot:
		return "ORDER_BOOK_SNAPSHOT"
	case TypeOrderBookDelta:
		return "ORDER_BOOK_DELTA"
	case TypeKLineFinished:
		return "KLINE_FINISHED"
	case TypeExchangeOrderRecord:
		return "EXCHANGE_ORDER_RECORD"
	case TypeExchangeTradeRecord:
		return "EXCHANGE_TRADE_RECORD"
	case TypeExchangeResponseRecord:
		return "EXCHANGE_RESPONSE_RECORD"
	case TypeFactorUpdate:
		return "FACTOR_UPDATE"
	case TypeFactorSnapshot:
		return "FACTOR_SNAPSHOT"
	case TypeCheckpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether t is one of the twenty declared variants.
func (t Type) Valid() bool {
	return t >= TypeAccountOpen && t < typeMax
}

// Category buckets a Type for OLAP compression-policy selection. It is the
// tag's coarse grouping, not a wire field.
type Category uint8

const (
	CategoryAccount Category = iota
	CategoryMarketData
	CategoryFactor
	CategoryControl
)

// Category classifies t for the OLAP writer's per-category codec choice.
func (t Type) Category() Category {
	switch t {
	case TypeAccountOpen, TypeAccountUpdate, TypeAccountSnapshot, TypeUserRegister,
		TypeAccountBind, TypeUserRoleUpdate, TypePositionSnapshot:
		return CategoryAccount
	case TypeTickData, TypeOrderBookSnapshot, TypeOrderBookDelta, TypeKLineFinished,
		TypeOrderInsert, TypeOrderStatusUpdate, TypeTradeExecuted,
		TypeExchangeOrderRecord, TypeExchangeTradeRecord, TypeExchangeResponseRecord:
		return CategoryMarketData
	case TypeFactorUpdate, TypeFactorSnapshot:
		return CategoryFactor
	default:
		return CategoryControl
	}
}

// Fixed-width identifier and text array sizes, matching the source system's
// wire format exactly so recovery against an existing WAL stays possible.
const (
	instrumentIDLen = 16
	userIDLen       = 32
	accountIDLen    = 64
	orderIDLen      = 64
	reasonLen       = 128
)

// OrderStatus codes carried by OrderStatusUpdate, preserved verbatim from
// the system this record schema was distilled from.
type OrderStatus uint8

const (
	OrderStatusAlive OrderStatus = iota
	OrderStatusFinished
	OrderStatusCancelled
	OrderStatusRejected
	OrderStatusPartiallyFilled
)

// UserRole bits for UserRegister/UserRoleUpdate's role bitmask.
type UserRole uint8

const (
	RoleTrader UserRole = 1 << iota
	RoleAnalyst
	RoleReadOnly
	RoleRiskManager
	RoleSettlement
	_
	_
	RoleAdmin
)

// Direction mirrors an order's buy/sell side.
type Direction uint8

const (
	DirectionBuy Direction = iota
	DirectionSell
)

// Offset mirrors an order's open/close intent for futures-style accounts.
type Offset uint8

const (
	OffsetOpen Offset = iota
	OffsetClose
	OffsetCloseToday
	OffsetCloseYesterday
)

// AccountOpen records the creation of a trading account.
type AccountOpen struct {
	AccountID     [accountIDLen]byte
	UserID        [userIDLen]byte
	InitialCash   float64
	Timestamp     int64
	_             [8]byte // padding to keep the struct 8-byte aligned for unsafe casts
}

// AccountUpdate records a mutation to an account's balance fields.
type AccountUpdate struct {
	AccountID     [accountIDLen]byte
	Balance       float64
	Available     float64
	Frozen        float64
	Margin        float64
	Commission    float64
	RealizedPNL   float64
	UnrealizedPNL float64
	Timestamp     int64
}

// AccountSnapshot is a point-in-time checkpoint of an account, used by
// recovery to skip replaying the WAL prefix it already reflects.
type AccountSnapshot struct {
	AccountID     [accountIDLen]byte
	Balance       float64
	Available     float64
	Frozen        float64
	Margin        float64
	Commission    float64
	RealizedPNL   float64
	UnrealizedPNL float64
	CheckpointID  uint64
	LastSequence  uint64
	Timestamp     int64
}

// UserRegister records the creation of a user identity and its role mask.
type UserRegister struct {
	UserID    [userIDLen]byte
	Roles     uint8 // UserRole bitmask
	_         [7]byte
	Timestamp int64
}

// AccountBind records a user being linked to a trading account.
type AccountBind struct {
	UserID    [userIDLen]byte
	AccountID [accountIDLen]byte
	Timestamp int64
}

// UserRoleUpdate records a change to a user's role mask.
type UserRoleUpdate struct {
	UserID    [userIDLen]byte
	Roles     uint8
	_         [7]byte
	Timestamp int64
}

// OrderInsert records a new order accepted into an instrument's book.
type OrderInsert struct {
	OrderID      [orderIDLen]byte
	AccountID    [accountIDLen]byte
	InstrumentID [instrumentIDLen]byte
	Direction    uint8
	Offset       uint8
	_            [6]byte
	Price        float64
	Volume       float64
	Timestamp    int64
}

// OrderStatusUpdate records a change in an order's lifecycle state.
type OrderStatusUpdate struct {
	OrderID      [orderIDLen]byte
	InstrumentID [instrumentIDLen]byte
	Status       uint8 // OrderStatus
	_            [7]byte
	FilledVolume float64
	LeftVolume   float64
	Timestamp    int64
}

// TradeExecuted records one match between a resting and an incoming order.
type TradeExecuted struct {
	TradeID        [orderIDLen]byte
	InstrumentID   [instrumentIDLen]byte
	BuyOrderID     [orderIDLen]byte
	SellOrderID    [orderIDLen]byte
	Price          float64
	Volume         float64
	TakerDirection uint8
	_              [7]byte
	Timestamp      int64
}

// PositionSnapshot records an account's position in a single instrument at
// a point in time.
type PositionSnapshot struct {
	AccountID      [accountIDLen]byte
	InstrumentID   [instrumentIDLen]byte
	Long           float64
	Short          float64
	FrozenLong     float64
	FrozenShort    float64
	AvgCostLong    float64
	AvgCostShort   float64
	Timestamp      int64
}

// TickData records a single market tick for an instrument.
type TickData struct {
	InstrumentID [instrumentIDLen]byte
	LastPrice    float64
	Volume       float64
	BidPrice     float64
	BidVolume    float64
	AskPrice     float64
	AskVolume    float64
	Timestamp    int64
}

// OrderBookSnapshot records a full resynchronization view of an order
// book's top N levels (N fixed here at 5 per side to keep fixed layout).
type OrderBookSnapshot struct {
	InstrumentID [instrumentIDLen]byte
	BidPrices    [5]float64
	BidVolumes   [5]float64
	AskPrices    [5]float64
	AskVolumes   [5]float64
	Timestamp    int64
}

// OrderBookDelta records a single price-level change.
type OrderBookDelta struct {
	InstrumentID [instrumentIDLen]byte
	Side         uint8 // Direction: buy = bid side, sell = ask side
	_            [7]byte
	Price        float64
	NewVolume    float64
	Timestamp    int64
}

// KLineFinished records the close of one candlestick period.
type KLineFinished struct {
	InstrumentID [instrumentIDLen]byte
	PeriodSecs   uint32
	_            [4]byte
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	Timestamp    int64
}

// ExchangeOrderRecord mirrors an order acknowledgement as reported by an
// upstream exchange gateway (for reconciliation, not matched internally).
type ExchangeOrderRecord struct {
	ExchangeOrderID [orderIDLen]byte
	InstrumentID    [instrumentIDLen]byte
	Direction       uint8
	_               [7]byte
	Price           float64
	Volume          float64
	Timestamp       int64
}

// ExchangeTradeRecord mirrors a fill as reported by an upstream exchange.
type ExchangeTradeRecord struct {
	ExchangeTradeID [orderIDLen]byte
	ExchangeOrderID [orderIDLen]byte
	InstrumentID    [instrumentIDLen]byte
	Price           float64
	Volume          float64
	Timestamp       int64
}

// ExchangeResponseRecord mirrors a raw request/response acknowledgement
// from an upstream exchange gateway, kept for audit reasons.
type ExchangeResponseRecord struct {
	RequestID [orderIDLen]byte
	Accepted  uint8
	_         [7]byte
	Reason    [reasonLen]byte
	Timestamp int64
}

// FactorUpdate records one computed factor value for an instrument.
type FactorUpdate struct {
	InstrumentID [instrumentIDLen]byte
	FactorID     uint32
	_            [4]byte
	Value        float64
	Timestamp    int64
}

// FactorSnapshot records a checkpoint of a factor's rolling state.
type FactorSnapshot struct {
	InstrumentID [instrumentIDLen]byte
	FactorID     uint32
	_            [4]byte
	State        [reasonLen]byte // opaque serialized rolling-window state
	Timestamp    int64
}

// Checkpoint is a generic marker record for components other than the
// account snapshot path that need a sequence-addressable marker in the
// same log format. The conversion manager does not use it: its state
// transitions go to its own JSON-lines metadata log.
type Checkpoint struct {
	CheckpointID [orderIDLen]byte
	Sequence     uint64
	Kind         uint32
	_            [4]byte
	Timestamp    int64
}
