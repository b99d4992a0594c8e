package hll

// StorageType identifies which internal representation an HLL currently
// uses. The numeric values match the type field in the v1 storage spec's
// header byte. The spec calls the fourth variant "full"; this package calls
// it dense because that's the more descriptive name for what it actually is
// (a fixed-size packed register array).
type StorageType int

const (
	TypeUndefined StorageType = iota
	TypeEmpty
	TypeExplicit
	TypeSparse
	TypeDense
)

func (t StorageType) String() string {
	switch t {
	case TypeEmpty:
		return "EMPTY"
	case TypeExplicit:
		return "EXPLICIT"
	case TypeSparse:
		return "SPARSE"
	case TypeDense:
		return "FULL"
	default:
		return "UNDEFINED"
	}
}

// storage is the interface every non-empty variant implements so the HLL
// facade can serialize, size, and copy them without knowing which one it
// holds.
type storage interface {
	// full reports whether this storage has grown past the promotion
	// threshold in settings. The facade is responsible for knowing how to
	// convert to the next variant; this interface only reports the need.
	full(settings *resolvedSettings) bool

	// byteLen returns the number of bytes writeBytes will write, so the
	// facade can size the output buffer up front.
	byteLen(settings *resolvedSettings) int

	// writeBytes serializes this storage's payload (not the 3-byte header)
	// into buf, which is guaranteed to be at least byteLen(settings) long.
	writeBytes(settings *resolvedSettings, buf []byte)

	// readBytes populates this storage from a serialized payload.
	readBytes(settings *resolvedSettings, buf []byte) error

	// clone returns a deep copy of this storage.
	clone() storage
}

// registerStorage is implemented by the two probabilistic variants (Sparse
// and Dense); ExplicitStorage does not carry registers.
type registerStorage interface {
	storage

	// setIfGreater masks value to the register width, then sets register
	// regnum to it if and only if it is strictly greater than the register's
	// current contents.
	setIfGreater(settings *resolvedSettings, regnum int, value byte)

	// indicator computes the "indicator function" (Z in the HLL paper) by
	// summing 2^-M[j] across every register j, and also returns the count
	// of registers whose value is zero (V in the paper). Both drive
	// Cardinality's correction formulas.
	indicator(settings *resolvedSettings) (sum float64, zeros int)
}
