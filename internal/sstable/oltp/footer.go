package oltp

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/bloomfilter/v2"
)

// footer is the parsed metadata block following the data entries: entry
// count is already in the header, so the footer carries the pieces that
// can't be bounded ahead of time — the key index, min/max key bytes, the
// Bloom filter, and the creation timestamp.
type footer struct {
	index     []indexEntry
	minKey    []byte
	maxKey    []byte
	filter    *bloomfilter.Filter
	createdAt int64
}

func encodeFooter(index []indexEntry, minKey, maxKey []byte, filter *bloomfilter.Filter, createdAt int64) ([]byte, error) {
	filterBytes, err := marshalFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("oltp: marshal bloom filter: %w", err)
	}

	size := 4 + len(index)*(16+8) + // index count + (key, offset) pairs
		2 + len(minKey) +
		2 + len(maxKey) +
		8 + // createdAt
		4 + len(filterBytes)
	buf := make([]byte, size)
	off := 0

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(index)))
	off += 4
	for _, e := range index {
		copy(buf[off:off+16], e.key)
		off += 16
		binary.LittleEndian.PutUint64(buf[off:], e.offset)
		off += 8
	}

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(minKey)))
	off += 2
	copy(buf[off:], minKey)
	off += len(minKey)

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(maxKey)))
	off += 2
	copy(buf[off:], maxKey)
	off += len(maxKey)

	binary.LittleEndian.PutUint64(buf[off:], uint64(createdAt))
	off += 8

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(filterBytes)))
	off += 4
	copy(buf[off:], filterBytes)

	return buf, nil
}

func decodeFooter(buf []byte) (footer, error) {
	if len(buf) < 4 {
		return footer{}, fmt.Errorf("oltp: %w: short footer", ErrCorrupt)
	}
	off := 0
	count := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	index := make([]indexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+16+8 > len(buf) {
			return footer{}, fmt.Errorf("oltp: %w: truncated index", ErrCorrupt)
		}
		key := make([]byte, 16)
		copy(key, buf[off:off+16])
		off += 16
		offset := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		index = append(index, indexEntry{key: key, offset: offset})
	}

	minKeyLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	minKey := append([]byte(nil), buf[off:off+minKeyLen]...)
	off += minKeyLen

	maxKeyLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	maxKey := append([]byte(nil), buf[off:off+maxKeyLen]...)
	off += maxKeyLen

	createdAt := int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8

	filterLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+filterLen > len(buf) {
		return footer{}, fmt.Errorf("oltp: %w: truncated bloom filter", ErrCorrupt)
	}
	filter, err := unmarshalFilter(buf[off : off+filterLen])
	if err != nil {
		return footer{}, fmt.Errorf("oltp: %w: bad bloom filter: %v", ErrCorrupt, err)
	}

	return footer{
		index:     index,
		minKey:    minKey,
		maxKey:    maxKey,
		filter:    filter,
		createdAt: createdAt,
	}, nil
}
