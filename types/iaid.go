package types

const uint32Max = 1<<32 - 1

// IAID is a validated 32-bit Identity Association Identifier.
type IAID struct {
	value uint32
}

// NewIAID validates and wraps an IAID. The input is accepted as int64 so
// that 2^32-1 can be represented and 2^32 can be rejected without wrapping.
func NewIAID(value int64) (IAID, error) {
	if value < 0 || value > uint32Max {
		return IAID{}, validationErrorf("IAID", value, "must fit in 32 bits")
	}
	return IAID{value: uint32(value)}, nil
}

// Uint32 returns the raw 32-bit value.
func (i IAID) Uint32() uint32 {
	return i.value
}
