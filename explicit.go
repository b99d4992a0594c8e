package hll

import (
	"encoding/binary"
	"sort"
)

// explicitStorage is the exact set of raw 64-bit values observed so far,
// used while cardinality is small enough that exact storage is cheaper than
// a probabilistic sketch. Values compare as signed two's-complement 64-bit
// integers for the purposes of the sorted wire format.
type explicitStorage map[uint64]struct{}

func (s explicitStorage) full(settings *resolvedSettings) bool {
	return len(s) > settings.explicitThreshold
}

func (s explicitStorage) byteLen(settings *resolvedSettings) int {
	return 8 * len(s)
}

// writeBytes writes every stored value as an 8-byte big-endian word, sorted
// ascending as signed 64-bit integers. The ordering is load-bearing: other
// implementations of the storage spec reject an explicit payload that isn't
// sorted.
func (s explicitStorage) writeBytes(settings *resolvedSettings, buf []byte) {
	sorted := make([]int64, 0, len(s))
	for v := range s {
		sorted = append(sorted, int64(v))
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for i, v := range sorted {
		pos := i * 8
		binary.BigEndian.PutUint64(buf[pos:pos+8], uint64(v))
	}
}

// readBytes reads a sequence of big-endian 8-byte values. It returns
// ErrInsufficientBytes if the slice isn't an exact multiple of 8 bytes; the
// storage spec carries no explicit count, so a truncated tail can only be
// detected this way.
func (s explicitStorage) readBytes(settings *resolvedSettings, buf []byte) error {
	if len(buf)%8 != 0 {
		return ErrInsufficientBytes
	}

	for i := 0; i < len(buf); i += 8 {
		s[binary.BigEndian.Uint64(buf[i:i+8])] = struct{}{}
	}

	return nil
}

func (s explicitStorage) clone() storage {
	o := make(explicitStorage, len(s))
	for k, v := range s {
		o[k] = v
	}
	return o
}

// set inserts v, reinterpreted as a two's-complement 64-bit value, into the
// set. Repeated insertion of the same value is a no-op.
func (s explicitStorage) set(v uint64) {
	s[v] = struct{}{}
}

// unionExplicit merges another Explicit set's members into s.
func (s explicitStorage) unionExplicit(other explicitStorage) {
	for v := range other {
		s[v] = struct{}{}
	}
}

// promote materializes the probabilistic variant this Explicit set should
// become once it's full: Sparse when sparse storage is enabled, Dense
// otherwise. Every stored value is re-ingested through the normal register
// update path (set-then-setIfGreater), exactly as if it had been added
// directly to the destination variant.
func (s explicitStorage) promote(settings *resolvedSettings) registerStorage {
	var dest registerStorage
	if settings.sparseEnabled {
		dest = make(sparseStorage)
	} else {
		dest = newDenseStorage(settings)
	}

	for v := range s {
		addRawToRegisters(dest, settings, v)
	}

	return dest
}
