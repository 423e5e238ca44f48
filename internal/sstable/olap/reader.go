package olap

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/parquet"
	pqfile "github.com/apache/arrow-go/v18/parquet/file"

	"github.com/rishav/qaxcore/internal/record"
)

// Reader opens an OLAP file for range queries planned against its sidecar
// manifest. Row groups outside a query's range are never touched.
type Reader struct {
	path     string
	manifest manifest
}

// Open reads path's manifest (not the Parquet file itself — that is opened
// lazily, once per RangeQuery call, and only for the row groups selected).
func Open(path string) (*Reader, error) {
	m, err := readManifest(path)
	if err != nil {
		return nil, err
	}
	return &Reader{path: path, manifest: m}, nil
}

// EstimateRowCount returns the row count covered by row groups whose
// statistics overlap [loTS, hiTS] — fast and I/O-free, since it only reads
// the manifest kept in memory since Open. This happens to be an exact
// count, because row-group row counts are known precisely at write time,
// but callers should still treat it as an upper bound since a future
// per-row filter (e.g. deleted rows) could make the true count lower.
func (r *Reader) EstimateRowCount(loTS, hiTS int64) int64 {
	var n int64
	for _, i := range r.manifest.overlapping(loTS, hiTS) {
		n += r.manifest.RowGroups[i].RowCount
	}
	return n
}

// RangeQuery reads only the row groups whose manifest statistics overlap
// [loTS, hiTS], then applies a final per-row filter (row groups are range-
// accurate at the boundary they were built from, but a query's range may
// still cut through the middle of one).
func (r *Reader) RangeQuery(loTS, hiTS int64) ([]record.Payload, error) {
	groups := r.manifest.overlapping(loTS, hiTS)
	if len(groups) == 0 {
		return nil, nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("olap: open %s: %w", r.path, err)
	}
	defer f.Close()

	pr, err := pqfile.NewParquetReader(f)
	if err != nil {
		return nil, fmt.Errorf("olap: open parquet reader: %w", err)
	}
	defer pr.Close()

	var out []record.Payload
	for _, gi := range groups {
		rg := pr.RowGroup(gi)
		rows, err := readRowGroup(rg, r.manifest.RowGroups[gi].RowCount, r.manifest.PreZstd)
		if err != nil {
			return nil, fmt.Errorf("olap: read row group %d: %w", gi, err)
		}
		for _, row := range rows {
			if row.timestamp < loTS || row.timestamp > hiTS {
				continue
			}
			p, err := record.Decode(row.payload)
			if err != nil {
				return nil, fmt.Errorf("olap: decode row at ts=%d: %w", row.timestamp, err)
			}
			out = append(out, p)
		}
	}
	return out, nil
}

type decodedRow struct {
	sequence  int64
	timestamp int64
	payload   []byte
}

func readRowGroup(rg *pqfile.RowGroupReader, rowCount int64, preZstd bool) ([]decodedRow, error) {
	seqCW, err := rg.Column(colSequence)
	if err != nil {
		return nil, err
	}
	sequences := make([]int64, rowCount)
	if _, _, err := seqCW.(*pqfile.Int64ColumnChunkReader).ReadBatch(rowCount, sequences, nil, nil); err != nil {
		return nil, err
	}

	tsCW, err := rg.Column(colTimestamp)
	if err != nil {
		return nil, err
	}
	timestamps := make([]int64, rowCount)
	if _, _, err := tsCW.(*pqfile.Int64ColumnChunkReader).ReadBatch(rowCount, timestamps, nil, nil); err != nil {
		return nil, err
	}

	payloadCW, err := rg.Column(colPayload)
	if err != nil {
		return nil, err
	}
	payloads := make([]parquet.ByteArray, rowCount)
	if _, _, err := payloadCW.(*pqfile.ByteArrayColumnChunkReader).ReadBatch(rowCount, payloads, nil, nil); err != nil {
		return nil, err
	}

	rows := make([]decodedRow, rowCount)
	for i := range rows {
		body := []byte(payloads[i])
		if preZstd {
			decompressed, err := zstdDecompress(body)
			if err != nil {
				return nil, fmt.Errorf("zstd decompress row %d: %w", i, err)
			}
			body = decompressed
		}
		rows[i] = decodedRow{sequence: sequences[i], timestamp: timestamps[i], payload: body}
	}
	return rows, nil
}
