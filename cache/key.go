package cache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Key hashes a question name and type into a cache key. The name is folded
// to lower case so lookups are case-insensitive.
func Key(qname string, qtype uint16) uint64 {
	h := xxhash.New()

	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, qtype)
	_, _ = h.Write(b)

	for i := range qname {
		c := qname[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		_, _ = h.Write([]byte{c})
	}

	return h.Sum64()
}
