package olap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/qaxcore/internal/memtable"
	"github.com/rishav/qaxcore/internal/record"
)

func buildEntries(fromTS, toTS int64) []memtable.Entry {
	var out []memtable.Entry
	seq := uint64(1)
	for ts := fromTS; ts <= toTS; ts++ {
		p := &record.TickData{LastPrice: float64(ts), Timestamp: ts}
		out = append(out, memtable.Entry{
			Key:     memtable.Key{Timestamp: ts, Sequence: seq},
			Payload: p,
			Encoded: record.Encode(p),
		})
		seq++
	}
	return out
}

func TestWriteFileProducesOneRowGroupPerTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "olap-000001.parquet")

	entries := buildEntries(1, 250)
	require.NoError(t, WriteFile(path, entries, 100))

	r, err := Open(path)
	require.NoError(t, err)
	assert.Len(t, r.manifest.RowGroups, 3)
	assert.Equal(t, int64(100), r.manifest.RowGroups[0].RowCount)
	assert.Equal(t, int64(50), r.manifest.RowGroups[2].RowCount)
}

func TestEstimateRowCountIsIOFree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "olap-000001.parquet")
	require.NoError(t, WriteFile(path, buildEntries(1, 1000), 100))

	r, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, int64(0), r.EstimateRowCount(2000, 3000))
	assert.Equal(t, int64(1000), r.EstimateRowCount(1, 1000))
}

func TestRangeQueryReturnsOnlyRowsInRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "olap-000001.parquet")
	require.NoError(t, WriteFile(path, buildEntries(1, 1000), 100))

	r, err := Open(path)
	require.NoError(t, err)

	rows, err := r.RangeQuery(450, 460)
	require.NoError(t, err)
	assert.Len(t, rows, 11)
	for _, p := range rows {
		tick, ok := p.(*record.TickData)
		require.True(t, ok)
		assert.GreaterOrEqual(t, tick.Timestamp, int64(450))
		assert.LessOrEqual(t, tick.Timestamp, int64(460))
	}
}
