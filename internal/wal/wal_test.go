package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rishav/qaxcore/internal/record"
)

func openTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(filepath.Join(dir, "wal"))
	w, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, cfg.Dir
}

func TestAppendAssignsDenseMonotonicSequence(t *testing.T) {
	w, _ := openTestWAL(t)

	for i := uint64(1); i <= 5; i++ {
		seq, err := w.Append(&record.Checkpoint{Sequence: i})
		require.NoError(t, err)
		require.Equal(t, i, seq)
	}
}

func TestAppendThenScanReturnsRecordsInOrderWithIntactFields(t *testing.T) {
	w, dir := openTestWAL(t)

	var orderID [64]byte
	copy(orderID[:], "order-1")
	seq1, err := w.Append(&record.OrderInsert{OrderID: orderID, Price: 100, Volume: 10})
	require.NoError(t, err)

	var orderID2 [64]byte
	copy(orderID2[:], "order-2")
	seq2, err := w.Append(&record.OrderInsert{OrderID: orderID2, Price: 101, Volume: 5})
	require.NoError(t, err)

	entries, truncated, err := Scan(dir, 1)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Len(t, entries, 2)
	require.Equal(t, seq1, entries[0].Sequence)
	require.Equal(t, seq2, entries[1].Sequence)

	p0, err := record.Decode(entries[0].Encoded)
	require.NoError(t, err)
	oi, ok := p0.(*record.OrderInsert)
	require.True(t, ok)
	require.Equal(t, orderID, oi.OrderID)
	require.Equal(t, 100.0, oi.Price)
}

func TestAppendAsyncRequiresExplicitFlush(t *testing.T) {
	w, dir := openTestWAL(t)

	_, err := w.AppendAsync(&record.Checkpoint{Sequence: 1})
	require.NoError(t, err)

	entries, _, err := Scan(dir, 1)
	require.NoError(t, err)
	require.Empty(t, entries, "unflushed async append must not be durable yet")

	require.NoError(t, w.FlushGroupCommit())

	entries, _, err = Scan(dir, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestScanStopsAtCorruption(t *testing.T) {
	w, dir := openTestWAL(t)

	_, err := w.Append(&record.Checkpoint{Sequence: 1})
	require.NoError(t, err)
	_, err = w.Append(&record.Checkpoint{Sequence: 2})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	names, err := listSegments(dir)
	require.NoError(t, err)
	require.Len(t, names, 1)

	path := filepath.Join(dir, names[0])
	corruptLastByte(t, path)

	entries, truncated, err := Scan(dir, 1)
	require.NoError(t, err)
	require.True(t, truncated)
	require.Len(t, entries, 1, "only the entry before the corrupted frame should survive")
}

func corruptLastByte(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
