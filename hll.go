package hll

import (
	"math"
	"math/bits"

	"github.com/pkg/errors"
)

// ErrInsufficientBytes is returned by FromBytes in cases where the provided
// byte slice is truncated.
var ErrInsufficientBytes = errors.New("insufficient bytes to deserialize HLL")

// ErrIncompatible is returned by StrictUnion in cases where the two HLLs
// have incompatible settings that prevent the operation from occurring.
var ErrIncompatible = errors.New("cannot StrictUnion HLLs with different RegWidth or Log2m settings")

// HLL is a probabilistic set of hashed elements.  It supports add and union
// operations in addition to estimating the cardinality.  The zero value is an
// empty set, provided that SetDefaults has been invoked with default settings.
// Otherwise, operations on the zero value will cause a panic as it would be a
// coding error to attempt operations without first configuring the library.
type HLL struct {
	settings *resolvedSettings
	storage  storage
}

// NewHLL creates a new HLL with the provided settings.  It will return an
// error if the settings are invalid.  Since an application usually deals with
// homogeneous HLLs, it's preferable to install default settings and use the
// zero value.  This function is provided in case an application must juggle
// different configurations.
func NewHLL(s Settings) (HLL, error) {
	resolved, err := s.resolve()
	if err != nil {
		return HLL{}, err
	}

	return HLL{settings: resolved}, nil
}

// FromBytes deserializes the provided byte slice into an HLL.  It will return
// an error if the version is anything other than 1, if the leading bytes
// specify an invalid configuration, or if the byte slice is truncated.
func FromBytes(data []byte) (HLL, error) {

	if len(data) < 3 {
		return HLL{}, ErrInsufficientBytes
	}

	version, storageType := int(data[0]>>4), StorageType(data[0]&0xf)
	if version != 1 {
		return HLL{}, errors.Errorf("unsupported HLL version: %d", version)
	}

	// NOTE : this means undefined cannot be instantiated!  this is compatible
	//        with the Java impl even though the PG impl would allow it.
	if storageType < TypeEmpty || storageType > TypeDense {
		return HLL{}, errors.Errorf("invalid HLL type: %d", storageType)
	}

	regWidth, log2m := (data[1]>>5)+1, data[1]&0x1f

	sparseEnabled, explicitThreshold := unpackCutoffByte(data[2])

	resolved, err := Settings{
		Log2m:             int(log2m),
		RegWidth:          int(regWidth),
		SparseEnabled:     sparseEnabled,
		ExplicitThreshold: explicitThreshold,
	}.resolve()
	if err != nil {
		return HLL{}, err
	}

	h := HLL{settings: resolved}

	switch storageType {
	case TypeExplicit:
		h.storage = make(explicitStorage)
	case TypeSparse:
		h.storage = make(sparseStorage)
	case TypeDense:
		h.storage = newDenseStorage(h.settings)
	}

	// trim off the header bytes and populate the storage.
	if h.storage != nil {
		if err := h.storage.readBytes(h.settings, data[3:]); err != nil {
			return HLL{}, err
		}
	}

	return h, nil
}

// Settings returns the Settings for this HLL.
func (h *HLL) Settings() Settings {
	h.initOrPanic()
	return h.settings.toExternal()
}

// StorageType returns the representation this HLL currently uses, matching
// the type value that ToBytes would write into the header.
func (h *HLL) StorageType() StorageType {
	h.initOrPanic()

	switch h.storage.(type) {
	case explicitStorage:
		return TypeExplicit
	case sparseStorage:
		return TypeSparse
	case denseStorage:
		return TypeDense
	default:
		return TypeEmpty
	}
}

// AddRaw adds the observed value into the HLL.  The value is expected to have
// been hashed with a good hash function such as Murmur3 or xxHash.  If the
// value does not have sufficient entropy, then the resulting cardinality
// estimations will not be accurate.
//
// There is an edge case where the raw value of 0 is not added to the HLL.  In
// the sparse or dense representation, a zero value would not affect the
// cardinality calculations because there are no set bits to observe.  In order
// to be consistent, the explicit representation will therefore ignore a 0
// value.
func (h *HLL) AddRaw(value uint64) {

	h.initOrPanic()

	// by contract...ignore zero.
	if value == 0 {
		return
	}

	// bootstrap case...if this is an empty HLL, it needs storage so we can add
	// to it.
	if h.storage == nil {
		switch {
		case h.settings.explicitThreshold > 0:
			h.storage = make(explicitStorage)
		case h.settings.sparseEnabled:
			h.storage = make(sparseStorage)
		default:
			h.storage = newDenseStorage(h.settings)
		}
	}

	switch s := h.storage.(type) {
	case explicitStorage:
		s.set(value)
	case registerStorage:
		addRawToRegisters(s, h.settings, value)
	}

	if h.storage.full(h.settings) {
		h.promoteStorage()
	}
}

// addRawToRegisters derives the (register index, p(w)) pair from a raw hashed
// value and applies it to a register-based storage.
//
// following documentation courtesy of the java implementation:
//
// p(w): position of the least significant set bit (one-indexed)
// By contract: p(w) <= 2^(registerValueInBits) - 1 (the max register value)
//
// By construction of pwMaxMask,
//
//	lsb(pwMaxMask) = 2^(registerValueInBits) - 2,
//
// thus lsb(any_long | pwMaxMask) <= 2^(registerValueInBits) - 2,
// thus 1 + lsb(any_long | pwMaxMask) <= 2^(registerValueInBits) - 1.
func addRawToRegisters(regs registerStorage, settings *resolvedSettings, value uint64) {

	substreamValue := value >> uint(settings.log2m)
	if substreamValue == 0 {
		// The paper does not cover p(0x0), so the special value 0 is used.
		// 0 is the original initialization value of the registers, so by
		// doing this the multiset simply ignores it. This is acceptable
		// because the probability is 1/(2^(2^registerSizeInBits)).
		return
	}

	// NOTE : trailing zeros == the 0-based index of the least significant 1
	//        bit.
	pW := byte(1 + bits.TrailingZeros64(substreamValue|settings.pwMaxMask))
	// NOTE : no +1 as in paper since 0-based indexing
	regnum := int(value & settings.mBitsMask)

	regs.setIfGreater(settings, regnum, pW)
}

// Cardinality estimates the number of values that have been added to this HLL.
func (h *HLL) Cardinality() uint64 {

	h.initOrPanic()

	switch s := h.storage.(type) {
	case explicitStorage:
		return uint64(len(s))
	case registerStorage:
		sum, numberOfZeroes /*"V" in the paper*/ := s.indicator(h.settings)

		// apply the estimate and correction to the indicator function
		estimator := h.settings.alphaMSquared / sum

		if (numberOfZeroes != 0) && (estimator < h.settings.smallEstimatorCutoff) {
			// The "small range correction" formula from the HyperLogLog
			// algorithm.  Only appropriate if both the estimator is smaller
			// than (5/2) * m and there are still registers that have the zero
			// value.
			m := 1 << uint(h.settings.log2m)
			smallEstimator := float64(m) * math.Log(float64(m)/float64(numberOfZeroes))
			return uint64(math.Ceil(smallEstimator))
		}

		if estimator <= h.settings.largeEstimatorCutoff {
			return uint64(math.Ceil(estimator))
		}

		// The "large range correction" formula from the HyperLogLog
		// algorithm, adapted for 64 bit hashes.  Only appropriate for
		// estimators whose value exceeds the calculated cutoff.
		largeEstimator := -1 * h.settings.twoToL * math.Log(1.0-(estimator/h.settings.twoToL))
		return uint64(math.Ceil(largeEstimator))

	default:
		// nil case.
		return 0
	}
}

// Union will calculate the union of this HLL and the other HLL and store the
// results into the receiver.
//
// Unlike StrictUnion, it allows unions between HLLs with different settings to
// be combined, though doing so is not recommended because it will result in a
// loss of accuracy.
//
// As long as your application uses a single group of settings, it is safe to
// use this function.  If there is a possibility that you may union two HLLs
// with incompatible settings, then it's safer to use StrictUnion and check for
// errors.
func (h *HLL) Union(other HLL) {
	if err := h.union(other, false); err != nil {
		// since the above union call passes false to strict, the only way an
		// error could pop up would be due to a bug in code.  handling
		// explicitly nonetheless b/c it was flagged by gosec.
		panic(err)
	}
}

// StrictUnion will calculate the union of this HLL and the other HLL and store
// the results into the receiver.  It will return an error if the two HLLs are
// not compatible where compatibility is defined as having the same register
// width and log2m.  Explicit and sparse thresholds don't factor into
// compatibility.
func (h *HLL) StrictUnion(other HLL) error {
	return h.union(other, true)
}

func (h *HLL) union(other HLL, strict bool) error {

	// this is kind of an ugly method...this is where the abstraction of
	// storage breaks down because something needs to know how to convert
	// between and union the different storage types.

	h.initOrPanic()
	other.initOrPanic()

	sameSettings := h.settings.regWidth == other.settings.regWidth && h.settings.log2m == other.settings.log2m

	if strict && !sameSettings {
		return ErrIncompatible
	}

	// other is empty...there's nothing to do.
	if other.storage == nil {
		return nil
	}

	if h.storage == nil {
		// if this one is empty, deep copy the other's storage.  there's an
		// edge case if sparse is disabled but the other is sparse.  in that
		// case, we need to go straight to dense and copy over reg values.
		if otherSparse, ok := other.storage.(sparseStorage); ok && !h.settings.sparseEnabled {
			h.storage = otherSparse.toDense(h.settings)
		} else {
			h.storage = other.storage.clone()
		}
	} else {
		// otherwise, the union operation depends on which types we're
		// union-ing.
		switch otherStorage := other.storage.(type) {
		case explicitStorage:
			// regardless of the type of the hll we're union-ing into, add the
			// other's identifiers into this one.
			switch thisStorage := h.storage.(type) {
			case explicitStorage:
				thisStorage.unionExplicit(otherStorage)
			case sparseStorage:
				thisStorage.unionExplicit(h.settings, otherStorage)
			case denseStorage:
				thisStorage.unionExplicit(h.settings, otherStorage)
			}
		case sparseStorage:
			switch thisStorage := h.storage.(type) {
			case explicitStorage:
				// if this is explicit, then make a deep copy of the sparse
				// storage and then add all the values from the explicit set.
				// if sparse is not enabled, then we need to go straight to
				// dense storage and copy the sparse registers prior to adding
				// the explicit values.
				if h.settings.sparseEnabled {
					h.storage = otherStorage.clone()
				} else {
					h.storage = otherStorage.toDense(h.settings)
				}
				h.addFromExplicit(thisStorage)
			case sparseStorage:
				thisStorage.unionSparse(h.settings, otherStorage)
			case denseStorage:
				thisStorage.unionSparse(h.settings, otherStorage)
			}
		case denseStorage:
			switch thisStorage := h.storage.(type) {
			case explicitStorage:
				// if this hll is explicit, then make a deep copy of the dense
				// storage and then add all the values from the explicit set.
				h.storage = otherStorage.clone()
				h.addFromExplicit(thisStorage)
			case sparseStorage:
				// if this hll is sparse, then upgrade it to a dense hll and
				// then do a dense union.
				h.storage = thisStorage.toDense(h.settings)
				denseUnion(h.storage.(denseStorage), otherStorage, h.settings, other.settings)
			case denseStorage:
				denseUnion(thisStorage, otherStorage, h.settings, other.settings)
			}
		}
	}

	// once union is complete, upgrade the storage type if we've gone over
	// capacity.
	if h.storage.full(h.settings) {
		h.promoteStorage()
	}

	return nil
}

// ToBytes returns a byte slice with the serialized HLL value per the storage
// spec https://github.com/aggregateknowledge/hll-storage-spec/blob/master/STORAGE.md.
func (h *HLL) ToBytes() []byte {

	h.initOrPanic()

	payloadLen := 0
	if h.storage != nil {
		payloadLen = h.storage.byteLen(h.settings)
	}

	data := make([]byte, 3 /*header bytes*/ +payloadLen)

	data[0] = (1 << 4) | byte(h.StorageType())
	data[1] = byte(((h.settings.regWidth - 1) << 5) | h.settings.log2m)
	data[2] = packCutoffByte(h.settings)

	if h.storage != nil {
		h.storage.writeBytes(h.settings, data[3:])
	}

	return data
}

// Clear resets this HLL to a cardinality of zero.  It keeps the settings and
// the current storage representation: an explicit or sparse HLL is left with
// an empty set or map, a dense one with all registers zeroed, and an empty
// HLL stays empty.
func (h *HLL) Clear() {

	h.initOrPanic()

	switch h.storage.(type) {
	case explicitStorage:
		h.storage = make(explicitStorage)
	case sparseStorage:
		h.storage = make(sparseStorage)
	case denseStorage:
		h.storage = newDenseStorage(h.settings)
	}
}

// Clone returns a deep copy of this HLL.  The copy shares the immutable
// resolved settings but owns its own storage, so mutating either HLL leaves
// the other untouched.
func (h *HLL) Clone() HLL {

	h.initOrPanic()

	clone := HLL{settings: h.settings}
	if h.storage != nil {
		clone.storage = h.storage.clone()
	}

	return clone
}

// initOrPanic is used to lazily initialize a zero value to an empty HLL (in
// the presence of default settings) or to panic if the operation is being
// evaluated against an undefined HLL.  If there are no default settings, the
// zero value will also cause a panic.
func (h *HLL) initOrPanic() {

	// h is initialized if it has non-nil settings.  that will either happen
	// by lazy initialization or via explicit instantiation with NewHLL.
	if h.settings != nil {
		return
	}

	defaults := getDefaultSettings()
	if defaults == nil {
		panic("attempted operation on empty HLL without default settings")
	}

	h.settings = defaults
}

// promoteStorage will bump up the storage to the next tier depending on the
// configured settings.  It's assumed that the current storage has already
// been verified to be over capacity.
//
// upgrade paths supported:
// explicit -> either probabilistic type.  re-ingest each element in the set.
// sparse -> dense.  copy register values.
//
// since this is an internal method, assume that there are no invalid upgrade
// paths being requested.
func (h *HLL) promoteStorage() {

	switch s := h.storage.(type) {
	case explicitStorage:
		h.storage = s.promote(h.settings)
	case sparseStorage:
		h.storage = s.toDense(h.settings)
	}
}

// addFromExplicit loops over all values in the provided storage and adds them
// to this HLL.
func (h *HLL) addFromExplicit(explicit explicitStorage) {
	for value := range explicit {
		h.AddRaw(value)
	}
}

// denseUnion handles union-ing two denseStorage instances.  In case the two
// settings have compatible regwidth and log2m settings, the efficient
// single-pass dense union will be used.  If they differ, then register values
// will be compared one-by-one, taking the largest value for each.
func denseUnion(thisStorage, otherStorage denseStorage, thisSettings, otherSettings *resolvedSettings) {

	if thisSettings.log2m == otherSettings.log2m && thisSettings.regWidth == otherSettings.regWidth {
		thisStorage.union(thisSettings, otherStorage)
		return
	}

	// walk whichever register range both sides have, masking the other's
	// register value to our width (bits above our width are dropped).
	numReg := 1 << uint(thisSettings.log2m)
	if otherReg := 1 << uint(otherSettings.log2m); otherReg < numReg {
		numReg = otherReg
	}

	regMask := byte((1 << uint(thisSettings.regWidth)) - 1)
	for i := 0; i < numReg; i++ {
		thisStorage.setIfGreater(thisSettings, i, otherStorage.get(otherSettings, i)&regMask)
	}
}

// packCutoffByte is a helper function to serialize the byte that contains
// explicit and sparse settings.
func packCutoffByte(settings *resolvedSettings) byte {

	var threshold byte
	if settings.explicitAuto {
		// per the spec, set all 6 bits.
		threshold = 63
	} else if settings.explicitThreshold == 0 {
		threshold = 0
	} else {
		// pack as 1 + floor(log2(threshold)) per the spec.  note that this
		// can be a destructive transformation if the threshold is not a power
		// of 2.  in that case, this behaves the same as the java library
		// where it rounds down.
		threshold = byte(bits.Len32(uint32(settings.explicitThreshold)))
	}

	cutoff := threshold
	if settings.sparseEnabled {
		cutoff |= 1 << 6
	}

	return cutoff
}

// unpackCutoffByte is a helper function to deserialize the byte that contains
// explicit and sparse settings.
func unpackCutoffByte(b byte) (sparseEnabled bool, explicitThreshold int) {

	sparseEnabled = b>>6 == 1
	threshold := b & 0x3f

	switch threshold {
	case 0:
		return sparseEnabled, 0
	case 63:
		return sparseEnabled, AutoThreshold
	default:
		return sparseEnabled, 1 << (threshold - 1)
	}
}
