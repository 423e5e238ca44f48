package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/qaxcore/internal/record"
)

func openTestInstrument(t *testing.T, memtableBytes int64) *Instrument {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(filepath.Join(dir, "X"))
	cfg.MemTableBytes = memtableBytes
	in, err := Open("X", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = in.Close() })
	return in
}

func TestWriteThenRangeQueryReturnsRecordInsertionOrder(t *testing.T) {
	in := openTestInstrument(t, 64<<20)

	var id1, id2 [64]byte
	copy(id1[:], "order-1")
	copy(id2[:], "order-2")

	_, err := in.Write(&record.OrderInsert{OrderID: id1, Price: 100, Volume: 10})
	require.NoError(t, err)
	_, err = in.Write(&record.OrderInsert{OrderID: id2, Price: 101, Volume: 5})
	require.NoError(t, err)

	rows, err := in.RangeQuery(0, time.Now().UnixNano()+1)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	o1, ok := rows[0].(*record.OrderInsert)
	require.True(t, ok)
	assert.Equal(t, id1, o1.OrderID)

	o2, ok := rows[1].(*record.OrderInsert)
	require.True(t, ok)
	assert.Equal(t, id2, o2.OrderID)
}

func TestWriteSealsAndFlushesWhenMemTableFull(t *testing.T) {
	entrySize := int64(len(record.Encode(&record.Checkpoint{})))
	in := openTestInstrument(t, entrySize) // threshold crosses on the first write

	_, err := in.Write(&record.Checkpoint{Sequence: 1})
	require.NoError(t, err)
	_, err = in.Write(&record.Checkpoint{Sequence: 2})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return in.Stats().SSTableCount >= 1
	}, 2*time.Second, 10*time.Millisecond, "flush worker should have produced at least one sstable")

	rows, err := in.RangeQuery(0, time.Now().UnixNano()+1)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "both writes must still be visible across memtable + sstable")
}

func TestStatsReportsQueueDepth(t *testing.T) {
	in := openTestInstrument(t, 64<<20)
	stats := in.Stats()
	assert.Equal(t, 1, stats.MemTableCount)
	assert.Equal(t, 0, stats.SSTableCount)
}
