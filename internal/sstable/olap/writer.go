package olap

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/parquet"
	pqfile "github.com/apache/arrow-go/v18/parquet/file"

	"github.com/rishav/qaxcore/internal/memtable"
	"github.com/rishav/qaxcore/internal/record"
)

// DefaultRowGroupTarget is the default number of records per row group.
// A byte-size cutoff can be layered on by callers that pre-chunk their
// input instead of using a record-count target.
const DefaultRowGroupTarget = 50_000

// WriteFile converts entries (already in key order, as produced by an
// OLTP SSTable scan) into one OLAP Parquet file at path plus its sidecar
// manifest, batching rowGroupTarget records per row group and recording
// each row group's timestamp min/max for predicate pushdown.
func WriteFile(path string, entries []memtable.Entry, rowGroupTarget int) error {
	if rowGroupTarget <= 0 {
		rowGroupTarget = DefaultRowGroupTarget
	}

	// planFor needs each entry's type tag; record.Payload doesn't expose it
	// publicly, so read it back off the already-encoded bytes' leading tag
	// byte instead of type-switching on the concrete payload type.
	types := make([]record.Type, 0, len(entries))
	for _, e := range entries {
		if len(e.Encoded) > 0 {
			types = append(types, record.Type(e.Encoded[0]))
		}
	}
	plan := planFor(types)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("olap: create %s: %w", path, err)
	}
	defer f.Close()

	props := parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(plan.parquetCodec),
	)
	schema := fileSchema()
	pw := pqfile.NewParquetWriter(f, schema, pqfile.WithWriterProps(props))

	var rowGroups []rowGroupStat

	for start := 0; start < len(entries); start += rowGroupTarget {
		end := start + rowGroupTarget
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		stat, err := writeRowGroup(pw, batch, plan)
		if err != nil {
			return fmt.Errorf("olap: write row group [%d:%d): %w", start, end, err)
		}
		rowGroups = append(rowGroups, stat)
	}

	if err := pw.FlushWithFooter(); err != nil {
		return fmt.Errorf("olap: flush footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("olap: fsync: %w", err)
	}

	return writeManifest(path, manifest{RowGroups: rowGroups, PreZstd: plan.preZstd})
}

func writeRowGroup(pw *pqfile.Writer, batch []memtable.Entry, plan codecPlan) (rowGroupStat, error) {
	rgw := pw.AppendBufferedRowGroup()

	sequences := make([]int64, len(batch))
	timestamps := make([]int64, len(batch))
	recordTypes := make([]int32, len(batch))
	payloads := make([]parquet.ByteArray, len(batch))
	defLevels := make([]int16, len(batch))

	minTS, maxTS := batch[0].Key.Timestamp, batch[0].Key.Timestamp
	for i, e := range batch {
		sequences[i] = int64(e.Key.Sequence)
		timestamps[i] = e.Key.Timestamp
		defLevels[i] = 1
		if e.Key.Timestamp < minTS {
			minTS = e.Key.Timestamp
		}
		if e.Key.Timestamp > maxTS {
			maxTS = e.Key.Timestamp
		}

		body := e.Encoded
		var tag byte
		if len(body) > 0 {
			tag = body[0]
		}
		recordTypes[i] = int32(tag)

		payload := body
		if plan.preZstd {
			payload = zstdCompress(body)
		}
		payloads[i] = parquet.ByteArray(payload)
	}

	seqCW, err := rgw.Column(colSequence)
	if err != nil {
		return rowGroupStat{}, err
	}
	if _, err := seqCW.(*pqfile.Int64ColumnChunkWriter).WriteBatch(sequences, defLevels, nil); err != nil {
		return rowGroupStat{}, err
	}

	tsCW, err := rgw.Column(colTimestamp)
	if err != nil {
		return rowGroupStat{}, err
	}
	if _, err := tsCW.(*pqfile.Int64ColumnChunkWriter).WriteBatch(timestamps, defLevels, nil); err != nil {
		return rowGroupStat{}, err
	}

	typeCW, err := rgw.Column(colRecordType)
	if err != nil {
		return rowGroupStat{}, err
	}
	if _, err := typeCW.(*pqfile.Int32ColumnChunkWriter).WriteBatch(recordTypes, defLevels, nil); err != nil {
		return rowGroupStat{}, err
	}

	payloadCW, err := rgw.Column(colPayload)
	if err != nil {
		return rowGroupStat{}, err
	}
	if _, err := payloadCW.(*pqfile.ByteArrayColumnChunkWriter).WriteBatch(payloads, defLevels, nil); err != nil {
		return rowGroupStat{}, err
	}

	if err := rgw.Close(); err != nil {
		return rowGroupStat{}, err
	}

	return rowGroupStat{RowCount: int64(len(batch)), MinTS: minTS, MaxTS: maxTS}, nil
}
