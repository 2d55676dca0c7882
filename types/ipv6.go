package types

import "net"

// IPv6Address is a validated IPv6 literal. Exact textual format is not
// re-checked beyond "parses as an IPv6 address"; the packet codec is
// responsible for wire-level correctness.
type IPv6Address struct {
	raw string
	ip  net.IP
}

// NewIPv6Address validates and wraps an IPv6 literal such as "2001:db8::1"
// or "fe80::1".
func NewIPv6Address(value string) (IPv6Address, error) {
	ip := net.ParseIP(value)
	if ip == nil {
		return IPv6Address{}, validationErrorf("IPv6Address", value, "not a valid IP literal")
	}
	if ip.To4() != nil && ip.To16() != nil && !isIPv6Text(value) {
		return IPv6Address{}, validationErrorf("IPv6Address", value, "must be an IPv6 literal, not IPv4")
	}
	return IPv6Address{raw: value, ip: ip}, nil
}

// isIPv6Text rejects the dotted-quad textual form, which net.ParseIP also
// accepts and maps onto an IPv4-mapped IPv6 address.
func isIPv6Text(value string) bool {
	for _, r := range value {
		if r == ':' {
			return true
		}
		if r == '.' {
			return false
		}
	}
	return false
}

// String returns the original textual literal.
func (a IPv6Address) String() string {
	return a.raw
}

// IP returns the parsed net.IP.
func (a IPv6Address) IP() net.IP {
	return a.ip
}
