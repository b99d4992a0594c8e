package hll

// denseStorage is a contiguous byte buffer holding m = 2^log2m fixed-width
// register fields, packed MSB-first with register 0 occupying the highest
// bits of byte 0. Every access goes through the bit-engine (bits.go), which
// keeps this type a thin, allocation-free wrapper around []byte rather than
// a second bit-packing implementation.
type denseStorage []byte

// newDenseStorage allocates a zeroed register array sized for settings.
func newDenseStorage(settings *resolvedSettings) denseStorage {
	n := divideBy8RoundUp((1 << uint(settings.log2m)) * settings.regWidth)
	return make(denseStorage, n)
}

// full always returns false: Dense is the terminal storage variant, there's
// nowhere left to promote to.
func (s denseStorage) full(settings *resolvedSettings) bool {
	return false
}

func (s denseStorage) byteLen(settings *resolvedSettings) int {
	return divideBy8RoundUp((1 << uint(settings.log2m)) * settings.regWidth)
}

func (s denseStorage) writeBytes(settings *resolvedSettings, buf []byte) {
	copy(buf, s)
}

func (s denseStorage) readBytes(settings *resolvedSettings, buf []byte) error {
	if len(buf) != s.byteLen(settings) {
		return ErrInsufficientBytes
	}
	copy(s, buf)
	return nil
}

func (s denseStorage) clone() storage {
	o := make(denseStorage, len(s))
	copy(o, s)
	return o
}

// get reads the regWidth-bit field for register i.
func (s denseStorage) get(settings *resolvedSettings, i int) byte {
	idx, pos := calcPosition(i, settings.regWidth)
	return readU8BitsWide(s, idx, pos, settings.regWidth)
}

// setReg writes register regnum unconditionally, without the read-compare
// step.  Used when materializing from a sparse map, where the destination
// register is known to be zero.
func (s denseStorage) setReg(settings *resolvedSettings, regnum int, value byte) {
	value &= byte((1 << uint(settings.regWidth)) - 1)
	idx, pos := calcPosition(regnum, settings.regWidth)
	writeU8BitsWide(s, idx, pos, value, settings.regWidth)
}

// setIfGreater masks value to regWidth bits, reads register regnum, and
// writes value in its place only if it is strictly greater than what was
// stored (treating an unset field as 0, same as a Sparse map's absent key).
func (s denseStorage) setIfGreater(settings *resolvedSettings, regnum int, value byte) {
	value &= byte((1 << uint(settings.regWidth)) - 1)
	idx, pos := calcPosition(regnum, settings.regWidth)
	current := readU8BitsWide(s, idx, pos, settings.regWidth)
	if value > current {
		writeU8BitsWide(s, idx, pos, value, settings.regWidth)
	}
}

// indicator computes Σ 2^-M[j] and the count of zero-valued registers across
// all m registers.
func (s denseStorage) indicator(settings *resolvedSettings) (float64, int) {
	numReg := 1 << uint(settings.log2m)
	regWidth := settings.regWidth

	sum := float64(0)
	zeros := 0

	idx, pos := 0, 0
	for i := 0; i < numReg; i++ {
		value := readU8BitsWide(s, idx, pos, regWidth)
		sum += 1.0 / float64(uint64(1)<<value)
		if value == 0 {
			zeros++
		}
		idx, pos = advance(idx, pos, regWidth)
	}

	return sum, zeros
}

// union merges other into s register-by-register, keeping the larger value.
// Used only when both sides share identical settings; a cross-settings
// union instead walks registers with get/setIfGreater (see denseUnion in
// hll.go), since differing regWidth changes each field's bit width.
func (s denseStorage) union(settings *resolvedSettings, other denseStorage) {
	numReg := 1 << uint(settings.log2m)
	regWidth := settings.regWidth

	idx, pos := 0, 0
	for i := 0; i < numReg; i++ {
		otherValue := readU8BitsWide(other, idx, pos, regWidth)
		if otherValue > 0 {
			thisValue := readU8BitsWide(s, idx, pos, regWidth)
			if otherValue > thisValue {
				writeU8BitsWide(s, idx, pos, otherValue, regWidth)
			}
		}
		idx, pos = advance(idx, pos, regWidth)
	}
}

// unionExplicit adds every value from an Explicit set via the normal
// register update path.
func (s denseStorage) unionExplicit(settings *resolvedSettings, other explicitStorage) {
	for v := range other {
		addRawToRegisters(s, settings, v)
	}
}

// unionSparse merges a Sparse map's registers in, keeping the larger value
// per register.  setIfGreater masks the incoming value to this register
// width, so a value from a wider-register sparse source (non-strict union)
// keeps only its low bits.
func (s denseStorage) unionSparse(settings *resolvedSettings, other sparseStorage) {
	for regnum, value := range other {
		s.setIfGreater(settings, int(regnum), value)
	}
}

// readU8BitsWide and writeU8BitsWide are readBits/writeBits specialized to
// byte-sized results, used for register access (regWidth is always <= 8).
func readU8BitsWide(buf []byte, idx, pos, nBits int) byte {
	return byte(readBits(buf, idx*8+pos, nBits))
}

func writeU8BitsWide(buf []byte, idx, pos int, value byte, nBits int) {
	writeBits(buf, idx*8+pos, uint64(value), nBits)
}
