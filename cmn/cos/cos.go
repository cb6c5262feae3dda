// Package cos ("common os"/"common small stuff") holds small cross-package utilities,
// mirroring the teacher's cmn/cos package.
package cos

import (
	"github.com/OneOfOne/xxhash"
)

// ChecksumUint64 computes a cheap, non-cryptographic checksum of a float64 buffer's bit
// pattern. Used by tests to assert bitwise buffer equality across workers without comparing
// potentially large slices element-by-element in assertion failure messages.
func ChecksumUint64(bits []uint64) uint64 {
	h := xxhash.New64()
	buf := make([]byte, 8)
	for _, w := range bits {
		for i := 0; i < 8; i++ {
			buf[i] = byte(w >> (8 * i))
		}
		_, _ = h.Write(buf)
	}
	return h.Sum64()
}
