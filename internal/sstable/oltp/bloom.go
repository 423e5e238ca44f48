package oltp

import (
	"bytes"
	"hash/fnv"

	"github.com/holiman/bloomfilter/v2"
)

// bloomFalsePositiveRate is the target false-positive rate the filter is
// sized for.
const bloomFalsePositiveRate = 0.01

// filterFor builds a bloomfilter.Filter sized for n keys at the target
// false-positive rate.
func filterFor(n uint64) (*bloomfilter.Filter, error) {
	if n == 0 {
		n = 1
	}
	return bloomfilter.NewOptimal(n, bloomFalsePositiveRate)
}

// keyHash reduces a key's bytes to the single uint64 the filter hashes on.
// FNV-1a is used only as the hash feeding the filter's own internal
// permutation — any fast, well-distributed hash works here.
func keyHash(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key)
	return h.Sum64()
}

func addKey(f *bloomfilter.Filter, key []byte) {
	f.Add(keyHash(key))
}

func mightContain(f *bloomfilter.Filter, key []byte) bool {
	return f.Contains(keyHash(key))
}

func marshalFilter(f *bloomfilter.Filter) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalFilter(buf []byte) (*bloomfilter.Filter, error) {
	f := &bloomfilter.Filter{}
	if _, err := f.ReadFrom(bytes.NewReader(buf)); err != nil {
		return nil, err
	}
	return f, nil
}
