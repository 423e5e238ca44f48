package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"unsafe"
)

// ErrCorrupt is returned when a buffer's length doesn't match its declared
// type, or a tag discriminant is outside the valid range. Decode failures
// of this shape are always reported as an error, never a panic.
var ErrCorrupt = errors.New("record: corrupt")

// asBytes returns a slice that aliases v's memory directly: no copy, no
// allocation. It is only safe because every variant in this package is a
// flat struct of fixed-width integers, floats, and byte arrays — no
// pointers, slices, or strings that the garbage collector would need to
// chase independently of the struct's own memory.
func asBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// view reinterprets buf as a *T without copying. The caller must not mutate
// buf while the returned pointer is alive, and must not retain the pointer
// past buf's own lifetime — it is a borrowed view, not an owned copy.
func view[T any](buf []byte) (*T, error) {
	var zero T
	want := int(unsafe.Sizeof(zero))
	if len(buf) != want {
		return nil, fmt.Errorf("record: %w: want %d bytes, got %d", ErrCorrupt, want, len(buf))
	}
	return (*T)(unsafe.Pointer(&buf[0])), nil
}

// Payload is implemented by every fixed-layout record variant. It only
// exists so Encode can dispatch on the concrete type; it carries no
// behavior of its own.
type Payload interface {
	recordType() Type
}

func (AccountOpen) recordType() Type             { return TypeAccountOpen }
func (AccountUpdate) recordType() Type           { return TypeAccountUpdate }
func (AccountSnapshot) recordType() Type         { return TypeAccountSnapshot }
func (UserRegister) recordType() Type            { return TypeUserRegister }
func (AccountBind) recordType() Type             { return TypeAccountBind }
func (UserRoleUpdate) recordType() Type          { return TypeUserRoleUpdate }
func (OrderInsert) recordType() Type             { return TypeOrderInsert }
func (OrderStatusUpdate) recordType() Type       { return TypeOrderStatusUpdate }
func (TradeExecuted) recordType() Type           { return TypeTradeExecuted }
func (PositionSnapshot) recordType() Type        { return TypePositionSnapshot }
func (TickData) recordType() Type                { return TypeTickData }
func (OrderBookSnapshot) recordType() Type       { return TypeOrderBookSnapshot }
func (OrderBookDelta) recordType() Type          { return TypeOrderBookDelta }
func (KLineFinished) recordType() Type           { return TypeKLineFinished }
func (ExchangeOrderRecord) recordType() Type     { return TypeExchangeOrderRecord }
func (ExchangeTradeRecord) recordType() Type     { return TypeExchangeTradeRecord }
func (ExchangeResponseRecord) recordType() Type  { return TypeExchangeResponseRecord }
func (FactorUpdate) recordType() Type            { return TypeFactorUpdate }
func (FactorSnapshot) recordType() Type          { return TypeFactorSnapshot }
func (Checkpoint) recordType() Type              { return TypeCheckpoint }

// Encode writes the one-byte type tag followed by p's raw bytes. The
// payload bytes are copied into a freshly allocated slice, so the result
// does not alias p's memory.
func Encode(p Payload) []byte {
	switch v := p.(type) {
	case *AccountOpen:
		return tag(TypeAccountOpen, asBytes(v))
	case *AccountUpdate:
		return tag(TypeAccountUpdate, asBytes(v))
	case *AccountSnapshot:
		return tag(TypeAccountSnapshot, asBytes(v))
	case *UserRegister:
		return tag(TypeUserRegister, asBytes(v))
	case *AccountBind:
		return tag(TypeAccountBind, asBytes(v))
	case *UserRoleUpdate:
		return tag(TypeUserRoleUpdate, asBytes(v))
	case *OrderInsert:
		return tag(TypeOrderInsert, asBytes(v))
	case *OrderStatusUpdate:
		return tag(TypeOrderStatusUpdate, asBytes(v))
	case *TradeExecuted:
		return tag(TypeTradeExecuted, asBytes(v))
	case *PositionSnapshot:
		return tag(TypePositionSnapshot, asBytes(v))
	case *TickData:
		return tag(TypeTickData, asBytes(v))
	case *OrderBookSnapshot:
		return tag(TypeOrderBookSnapshot, asBytes(v))
	case *OrderBookDelta:
		return tag(TypeOrderBookDelta, asBytes(v))
	case *KLineFinished:
		return tag(TypeKLineFinished, asBytes(v))
	case *ExchangeOrderRecord:
		return tag(TypeExchangeOrderRecord, asBytes(v))
	case *ExchangeTradeRecord:
		return tag(TypeExchangeTradeRecord, asBytes(v))
	case *ExchangeResponseRecord:
		return tag(TypeExchangeResponseRecord, asBytes(v))
	case *FactorUpdate:
		return tag(TypeFactorUpdate, asBytes(v))
	case *FactorSnapshot:
		return tag(TypeFactorSnapshot, asBytes(v))
	case *Checkpoint:
		return tag(TypeCheckpoint, asBytes(v))
	default:
		panic(fmt.Sprintf("record: unencodable payload type %T", p))
	}
}

func tag(t Type, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = byte(t)
	copy(out[1:], body)
	return out
}

// Decode reads the leading type tag from buf and returns a borrowed,
// zero-copy view over the remainder as the matching Payload. The returned
// value's concrete type is one of the *Type structs in types.go; callers
// type-switch on it the same way Encode's callers construct one.
func Decode(buf []byte) (Payload, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("record: %w: empty buffer", ErrCorrupt)
	}
	t := Type(buf[0])
	if !t.Valid() {
		return nil, fmt.Errorf("record: %w: invalid tag %d", ErrCorrupt, buf[0])
	}
	body := buf[1:]
	switch t {
	case TypeAccountOpen:
		return view[AccountOpen](body)
	case TypeAccountUpdate:
		return view[AccountUpdate](body)
	case TypeAccountSnapshot:
		return view[AccountSnapshot](body)
	case TypeUserRegister:
		return view[UserRegister](body)
	case TypeAccountBind:
		return view[AccountBind](body)
	case TypeUserRoleUpdate:
		return view[UserRoleUpdate](body)
	case TypeOrderInsert:
		return view[OrderInsert](body)
	case TypeOrderStatusUpdate:
		return view[OrderStatusUpdate](body)
	case TypeTradeExecuted:
		return view[TradeExecuted](body)
	case TypePositionSnapshot:
		return view[PositionSnapshot](body)
	case TypeTickData:
		return view[TickData](body)
	case TypeOrderBookSnapshot:
		return view[OrderBookSnapshot](body)
	case TypeOrderBookDelta:
		return view[OrderBookDelta](body)
	case TypeKLineFinished:
		return view[KLineFinished](body)
	case TypeExchangeOrderRecord:
		return view[ExchangeOrderRecord](body)
	case TypeExchangeTradeRecord:
		return view[ExchangeTradeRecord](body)
	case TypeExchangeResponseRecord:
		return view[ExchangeResponseRecord](body)
	case TypeFactorUpdate:
		return view[FactorUpdate](body)
	case TypeFactorSnapshot:
		return view[FactorSnapshot](body)
	case TypeCheckpoint:
		return view[Checkpoint](body)
	default:
		return nil, fmt.Errorf("record: %w: unhandled tag %d", ErrCorrupt, buf[0])
	}
}

// CRC32 computes the IEEE checksum over an encoded record's bytes
// (including the leading tag byte), the quantity LogEntry.CRC32 protects.
func CRC32(encoded []byte) uint32 {
	return crc32.ChecksumIEEE(encoded)
}

// LogEntry is the envelope every WAL frame carries: a monotonic per-
// instrument sequence number, a nanosecond timestamp, a CRC32 over the
// encoded record, and the record itself (already tagged by Encode).
type LogEntry struct {
	Sequence  uint64
	Timestamp int64
	Checksum  uint32
	Encoded   []byte
}

// EncodeEntry serializes a LogEntry to its on-disk form:
// {sequence u64 LE, timestamp i64 LE, crc32 u32 LE, encoded record bytes}.
func EncodeEntry(e LogEntry) []byte {
	out := make([]byte, 8+8+4+len(e.Encoded))
	binary.LittleEndian.PutUint64(out[0:8], e.Sequence)
	binary.LittleEndian.PutUint64(out[8:16], uint64(e.Timestamp))
	binary.LittleEndian.PutUint32(out[16:20], e.Checksum)
	copy(out[20:], e.Encoded)
	return out
}

// DecodeEntry parses an on-disk LogEntry, verifying the checksum against
// the encoded record payload. A checksum mismatch is reported as
// ErrCorrupt; the caller (the wal package's scanFile) treats that as a
// recovery boundary.
func DecodeEntry(buf []byte) (LogEntry, error) {
	if len(buf) < 20 {
		return LogEntry{}, fmt.Errorf("record: %w: short entry header", ErrCorrupt)
	}
	e := LogEntry{
		Sequence:  binary.LittleEndian.Uint64(buf[0:8]),
		Timestamp: int64(binary.LittleEndian.Uint64(buf[8:16])),
		Checksum:  binary.LittleEndian.Uint32(buf[16:20]),
		Encoded:   buf[20:],
	}
	if CRC32(e.Encoded) != e.Checksum {
		return LogEntry{}, fmt.Errorf("record: %w: checksum mismatch at sequence %d", ErrCorrupt, e.Sequence)
	}
	return e, nil
}

// NewEntry builds a LogEntry ready for EncodeEntry, computing its checksum
// from the encoded payload.
func NewEntry(sequence uint64, timestamp int64, p Payload) LogEntry {
	enc := Encode(p)
	return LogEntry{
		Sequence:  sequence,
		Timestamp: timestamp,
		Checksum:  CRC32(enc),
		Encoded:   enc,
	}
}
