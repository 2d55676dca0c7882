package types

import (
	"encoding/hex"
	"strings"
)

// DUID is a validated arbitrary-length colon-hex DHCP Unique Identifier,
// e.g. "00:03:00:01:aa:bb:cc:dd:ee:ff". Its internal structure (DUID-LLT vs
// DUID-LL vs an opaque/unknown type) is interpreted by the packet codec, not
// by this value type.
type DUID struct {
	raw string
}

// NewDUID validates and wraps a colon-hex DUID string.
func NewDUID(value string) (DUID, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 {
		return DUID{}, validationErrorf("DUID", value, "must be a colon-hex byte string with at least 2 bytes")
	}
	for _, part := range parts {
		if len(part) != 2 {
			return DUID{}, validationErrorf("DUID", value, "each byte group must be 2 hex digits, got %q", part)
		}
		if _, err := hex.DecodeString(part); err != nil {
			return DUID{}, validationErrorf("DUID", value, "%w", err)
		}
	}
	return DUID{raw: strings.ToLower(value)}, nil
}

// String returns the canonical lowercase colon-hex representation.
func (d DUID) String() string {
	return d.raw
}

// Equal reports whether two DUID values are byte-for-byte identical.
func (d DUID) Equal(other DUID) bool {
	return d.raw == other.raw
}

// Bytes decodes the DUID into its raw byte sequence.
func (d DUID) Bytes() []byte {
	parts := strings.Split(d.raw, ":")
	out := make([]byte, len(parts))
	for i, part := range parts {
		b, _ := hex.DecodeString(part)
		out[i] = b[0]
	}
	return out
}

// DUIDFromBytes builds the colon-hex DUID wrapper from a raw byte sequence.
// It is infallible for any non-empty input because every byte value is
// representable in colon-hex.
func DUIDFromBytes(b []byte) DUID {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = hex.EncodeToString([]byte{v})
	}
	return DUID{raw: strings.Join(parts, ":")}
}
