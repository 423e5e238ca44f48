// Package olap implements the columnar SSTable format the conversion
// manager (component G) rewrites cold OLTP files into: a genuine Parquet
// file for the row data plus a small sidecar manifest holding per-row-
// group timestamp statistics, in the spirit of the manifest files
// column-oriented lake formats keep beside their data files. Any external
// Parquet reader can read the data file directly; this package's own
// reader additionally consults the manifest to skip row groups without
// touching the data file at all.
package olap

import (
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/klauspost/compress/zstd"

	"github.com/rishav/qaxcore/internal/record"
)

// codecPlan is the outcome of selecting a compression strategy for one
// file: which native Parquet codec to ask the writer for, and whether the
// payload column should instead be pre-compressed with zstd before being
// handed to the writer as "already compressed" bytes (the archival path).
type codecPlan struct {
	parquetCodec compress.Compression
	preZstd      bool
}

// planFor picks a compression strategy from the dominant record category
// among the entries being written: a fast codec for hot market data, a
// high-ratio codec for archival account/factor data, and a default codec
// for anything mixed or unrecognized.
func planFor(entries []record.Type) codecPlan {
	var counts [4]int
	for _, t := range entries {
		counts[t.Category()]++
	}

	dominant, max := record.CategoryControl, -1
	for cat, n := range counts {
		if n > max {
			max = n
			dominant = record.Category(cat)
		}
	}

	switch dominant {
	case record.CategoryMarketData:
		return codecPlan{parquetCodec: compress.Codecs.Snappy}
	case record.CategoryAccount, record.CategoryFactor:
		return codecPlan{parquetCodec: compress.Codecs.Uncompressed, preZstd: true}
	default:
		return codecPlan{parquetCodec: compress.Codecs.Gzip}
	}
}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
var zstdDecoder, _ = zstd.NewReader(nil)

func zstdCompress(b []byte) []byte {
	return zstdEncoder.EncodeAll(b, nil)
}

func zstdDecompress(b []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(b, nil)
}
