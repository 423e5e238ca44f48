package recovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/qaxcore/internal/record"
	"github.com/rishav/qaxcore/internal/storage"
)

func orderID(s string) [64]byte {
	var b [64]byte
	copy(b[:], s)
	return b
}

func accountID(s string) [64]byte {
	var b [64]byte
	copy(b[:], s)
	return b
}

func TestRecoverReplaysSStablesThenWALTailInOrder(t *testing.T) {
	dir := t.TempDir()
	baseDir := filepath.Join(dir, "X")

	entrySize := int64(len(record.Encode(&record.OrderInsert{})))
	cfg := storage.DefaultConfig(baseDir)
	cfg.MemTableBytes = entrySize * 3 // seal/flush after a few writes

	in, err := storage.Open("X", cfg)
	require.NoError(t, err)

	var wantSeqs []uint64
	for i := 1; i <= 10; i++ {
		seq, err := in.Write(&record.OrderInsert{OrderID: orderID("o"), Price: float64(i), Volume: 1})
		require.NoError(t, err)
		wantSeqs = append(wantSeqs, seq)
	}

	require.Eventually(t, func() bool {
		return in.Stats().SSTableCount >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, in.Close())

	var gotSeqs []uint64
	stats, err := Recover(baseDir, HandlerFunc(func(seq uint64, p record.Payload) error {
		gotSeqs = append(gotSeqs, seq)
		return nil
	}))
	require.NoError(t, err)

	assert.Equal(t, wantSeqs, gotSeqs)
	assert.Equal(t, uint64(10), stats.LastSequence)
	assert.Equal(t, 10, stats.SSTableRecords+stats.WALRecords)
}

func TestRecoverSkipsAccountRecordsCoveredBySnapshot(t *testing.T) {
	dir := t.TempDir()
	baseDir := filepath.Join(dir, "X")

	cfg := storage.DefaultConfig(baseDir)
	cfg.MemTableBytes = 1 << 20 // keep everything in one memtable, flushed once at the end

	in, err := storage.Open("X", cfg)
	require.NoError(t, err)

	acc := accountID("acc-1")
	_, err = in.Write(&record.AccountOpen{AccountID: acc, InitialCash: 100})
	require.NoError(t, err)
	_, err = in.Write(&record.AccountUpdate{AccountID: acc, Balance: 150})
	require.NoError(t, err)
	_, err = in.Write(&record.AccountSnapshot{AccountID: acc, Balance: 150, LastSequence: 2})
	require.NoError(t, err)
	_, err = in.Write(&record.AccountUpdate{AccountID: acc, Balance: 200})
	require.NoError(t, err)

	require.NoError(t, in.Close())

	var applied []record.Payload
	stats, err := Recover(baseDir, HandlerFunc(func(seq uint64, p record.Payload) error {
		applied = append(applied, p)
		return nil
	}))
	require.NoError(t, err)

	require.Len(t, applied, 2, "the AccountOpen/AccountUpdate at or before the snapshot's LastSequence must be skipped")
	_, ok := applied[0].(*record.AccountSnapshot)
	require.True(t, ok)
	last, ok := applied[1].(*record.AccountUpdate)
	require.True(t, ok)
	assert.Equal(t, float64(200), last.Balance)
	assert.Equal(t, 2, stats.SkippedBySnapshot)
}
