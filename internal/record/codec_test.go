package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var acctID [accountIDLen]byte
	copy(acctID[:], "ACC-0001")

	want := &AccountOpen{
		AccountID:   acctID,
		InitialCash: 100000.0,
		Timestamp:   1234567890,
	}

	enc := Encode(want)
	require.Equal(t, byte(TypeAccountOpen), enc[0])

	got, err := Decode(enc)
	require.NoError(t, err)

	gotOpen, ok := got.(*AccountOpen)
	require.True(t, ok)
	assert.Equal(t, want.AccountID, gotOpen.AccountID)
	assert.Equal(t, want.InitialCash, gotOpen.InitialCash)
	assert.Equal(t, want.Timestamp, gotOpen.Timestamp)
}

func TestDecodeRejectsInvalidTag(t *testing.T) {
	buf := []byte{0xFF, 1, 2, 3}
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	enc := Encode(&Checkpoint{Sequence: 1})
	_, err := Decode(enc[:len(enc)-1])
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestLogEntryRoundTrip(t *testing.T) {
	entry := NewEntry(42, 1700000000000000000, &TradeExecuted{
		Price:  100.5,
		Volume: 4,
	})

	wire := EncodeEntry(entry)
	decoded, err := DecodeEntry(wire)
	require.NoError(t, err)
	assert.Equal(t, entry.Sequence, decoded.Sequence)
	assert.Equal(t, entry.Timestamp, decoded.Timestamp)
	assert.Equal(t, entry.Checksum, decoded.Checksum)

	payload, err := Decode(decoded.Encoded)
	require.NoError(t, err)
	trade, ok := payload.(*TradeExecuted)
	require.True(t, ok)
	assert.Equal(t, 100.5, trade.Price)
	assert.Equal(t, 4.0, trade.Volume)
}

func TestDecodeEntryDetectsCorruption(t *testing.T) {
	entry := NewEntry(1, 1, &Checkpoint{Sequence: 1})
	wire := EncodeEntry(entry)
	wire[len(wire)-1] ^= 0xFF // flip a payload bit without updating the checksum

	_, err := DecodeEntry(wire)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestTypeCategory(t *testing.T) {
	assert.Equal(t, CategoryMarketData, TypeTickData.Category())
	assert.Equal(t, CategoryAccount, TypeAccountOpen.Category())
	assert.Equal(t, CategoryFactor, TypeFactorUpdate.Category())
	assert.Equal(t, CategoryControl, TypeCheckpoint.Category())
}
