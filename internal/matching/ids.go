package matching

import "bytes"

// encodeID copies s into buf, which is a fixed-width field taken from one
// of record's ID arrays (e.g. ins.InstrumentID[:]). Anything beyond len(s)
// is left (or reset to) zero, matching how those fields arrive off the
// wire from a session that null-pads short identifiers.
func encodeID(s string, buf []byte) {
	n := copy(buf, s)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
}

// decodeID recovers the string an encodeID-style field holds, stopping at
// the first zero byte.
func decodeID(buf []byte) string {
	if n := bytes.IndexByte(buf, 0); n >= 0 {
		buf = buf[:n]
	}
	return string(buf)
}
