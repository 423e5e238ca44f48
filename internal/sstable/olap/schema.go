package olap

import (
	"github.com/apache/arrow-go/v18/parquet"
	pqschema "github.com/apache/arrow-go/v18/parquet/schema"
)

// Column indices in fileSchema, fixed so writer and reader agree without
// looking names up at runtime.
const (
	colSequence = iota
	colTimestamp
	colRecordType
	colPayload
)

// fileSchema is the four-column layout every OLAP file shares: the WAL
// sequence, a nanosecond timestamp (the column row-group statistics key
// on), the record type tag as an integer discriminator for predicate
// pushdown by category, and the raw encoded record bytes.
func fileSchema() *pqschema.GroupNode {
	return pqschema.MustGroup(pqschema.NewGroupNode("qax_olap", parquet.Repetitions.Required, pqschema.FieldList{
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeLogical(
			"sequence", parquet.Repetitions.Required, nil, parquet.Types.Int64, 0, -1)),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeLogical(
			"timestamp", parquet.Repetitions.Required,
			pqschema.NewTimestampLogicalType(true, pqschema.TimeUnitNanos),
			parquet.Types.Int64, 0, -1)),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeLogical(
			"record_type", parquet.Repetitions.Required,
			pqschema.NewIntLogicalType(8, false), parquet.Types.Int32, 0, -1)),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted(
			"payload", parquet.Repetitions.Required, parquet.Types.ByteArray,
			pqschema.ConvertedTypes.None, 0, 0, 0, -1)),
	}, -1))
}
