package types

import (
	"net"
	"regexp"
)

var macPattern = regexp.MustCompile(`^[0-9a-f]{2}(:[0-9a-f]{2}){5}$`)

// MAC is a validated 48-bit hardware address in lowercase colon-hex form.
type MAC struct {
	raw   string
	bytes net.HardwareAddr
}

// NewMAC validates and wraps a colon-hex MAC address string such as
// "aa:bb:cc:dd:ee:ff".
func NewMAC(value string) (MAC, error) {
	if !macPattern.MatchString(value) {
		return MAC{}, validationErrorf("MAC", value, "must be lowercase colon-hex, e.g. aa:bb:cc:dd:ee:ff")
	}
	hw, err := net.ParseMAC(value)
	if err != nil {
		return MAC{}, validationErrorf("MAC", value, "%w", err)
	}
	return MAC{raw: value, bytes: hw}, nil
}

// String returns the canonical colon-hex representation.
func (m MAC) String() string {
	return m.raw
}

// HardwareAddr returns the net.HardwareAddr form, suitable for framing.
func (m MAC) HardwareAddr() net.HardwareAddr {
	return m.bytes
}

// Equal reports whether two MAC values represent the same address.
func (m MAC) Equal(other MAC) bool {
	return m.raw == other.raw
}
