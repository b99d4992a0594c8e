package hll

import "sort"

// sparseStorage maps a register index to its register value. A register
// absent from the map is implicitly 0; this is cheaper than a full register
// array while most registers are still unset.
type sparseStorage map[int32]byte

func (s sparseStorage) full(settings *resolvedSettings) bool {
	return len(s) > settings.sparseThreshold
}

func (s sparseStorage) byteLen(settings *resolvedSettings) int {
	return divideBy8RoundUp((settings.log2m + settings.regWidth) * len(s))
}

// writeBytes packs each (register, value) pair into a single big-endian
// short word of width log2m+regWidth bits, in ascending order of register
// index. Sorting isn't strictly required by every reader of the v1 format,
// but several implementations reject out-of-order sparse payloads.
func (s sparseStorage) writeBytes(settings *resolvedSettings, buf []byte) {
	sortedRegs := make([]int32, 0, len(s))
	for reg := range s {
		sortedRegs = append(sortedRegs, reg)
	}
	sort.Slice(sortedRegs, func(i, j int) bool { return sortedRegs[i] < sortedRegs[j] })

	bitsPerWord := settings.log2m + settings.regWidth
	addr := 0
	for _, reg := range sortedRegs {
		shortWord := (uint64(reg) << uint(settings.regWidth)) | uint64(s[reg])
		writeBits(buf, addr, shortWord, bitsPerWord)
		addr += bitsPerWord
	}
}

// readBytes unpacks a stream of short words back into register/value pairs.
// It reads as many whole short words as fit in buf; any trailing zero-pad
// bits that don't form a complete word are ignored.
func (s sparseStorage) readBytes(settings *resolvedSettings, buf []byte) error {
	bitsPerWord := settings.log2m + settings.regWidth
	regMask := byte((1 << uint(settings.regWidth)) - 1)

	numWords := (8 * len(buf)) / bitsPerWord

	for i := 0; i < numWords; i++ {
		shortWord := readBits(buf, i*bitsPerWord, bitsPerWord)
		reg := int32(shortWord >> uint(settings.regWidth))
		s[reg] = byte(shortWord) & regMask
	}

	return nil
}

func (s sparseStorage) clone() storage {
	o := make(sparseStorage, len(s))
	for k, v := range s {
		o[k] = v
	}
	return o
}

// setIfGreater masks value to regWidth bits, then stores it at regnum only
// if it's strictly greater than what's already there (including the
// implicit 0 for an absent key).
func (s sparseStorage) setIfGreater(settings *resolvedSettings, regnum int, value byte) {
	value &= byte((1 << uint(settings.regWidth)) - 1)
	if existing := s[int32(regnum)]; value > existing {
		s[int32(regnum)] = value
	}
}

// indicator computes Σ 2^-M[j] across all m registers, where absent
// registers contribute 2^0 == 1, plus the count of zero-valued (i.e.
// absent) registers.
func (s sparseStorage) indicator(settings *resolvedSettings) (float64, int) {
	sum := float64(0)
	for _, v := range s {
		sum += 1.0 / float64(uint64(1)<<v)
	}

	zeros := (1 << uint(settings.log2m)) - len(s)
	sum += float64(zeros)

	return sum, zeros
}

// toDense materializes a Dense register array equal to this sparse map,
// with every absent register reading as 0.
func (s sparseStorage) toDense(settings *resolvedSettings) denseStorage {
	dense := newDenseStorage(settings)
	for reg, v := range s {
		dense.setReg(settings, int(reg), v)
	}
	return dense
}

// unionExplicit adds every value from an Explicit set via the normal
// register update path.
func (s sparseStorage) unionExplicit(settings *resolvedSettings, other explicitStorage) {
	for v := range other {
		addRawToRegisters(s, settings, v)
	}
}

// unionSparse merges another Sparse map's registers in, keeping the larger
// value per register.
func (s sparseStorage) unionSparse(settings *resolvedSettings, other sparseStorage) {
	for reg, v := range other {
		s.setIfGreater(settings, int(reg), v)
	}
}
