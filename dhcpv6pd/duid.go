// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package dhcpv6pd

import (
	"encoding/binary"

	"github.com/prefixd/prefixd/types"
)

// DUID type codes (RFC 3315 §9).
const (
	duidTypeLLT = 1
	duidTypeLL  = 3

	// hwTypeEthernet is the ARPHRD_ETHER hardware type carried in every
	// DUID-LL/DUID-LLT this daemon builds or derives.
	hwTypeEthernet = 1
)

// DUIDFromLinkLayer builds the DUID-LL the Handler derives from an inbound
// Client ID option's link-layer address: 00:03:00:01:<lladdr>.
func DUIDFromLinkLayer(lladdr []byte) types.DUID {
	b := make([]byte, 0, 4+len(lladdr))
	b = append(b, 0x00, duidTypeLL, 0x00, hwTypeEthernet)
	b = append(b, lladdr...)
	return types.DUIDFromBytes(b)
}

// EncodeDUID returns the on-wire bytes of a DUID value, for embedding in a
// Client ID or Server ID option.
func EncodeDUID(d types.DUID) []byte {
	return d.Bytes()
}

// DecodedDUID is the parsed structure of a DUID's header fields. Types
// other than DUID-LLT and DUID-LL are decoded as opaque: Type and HWType
// still come from the first four bytes, LLAddr holds everything after.
type DecodedDUID struct {
	Type    uint16
	HWType  uint16
	Timeval uint32 // only meaningful when Type == duidTypeLLT
	LLAddr  []byte
}

// DecodeDUIDBytes parses the type field at offset 0, per RFC 3315 §9.
func DecodeDUIDBytes(b []byte) DecodedDUID {
	if len(b) < 4 {
		return DecodedDUID{LLAddr: append([]byte(nil), b...)}
	}
	typ := binary.BigEndian.Uint16(b[0:2])
	hw := binary.BigEndian.Uint16(b[2:4])
	if typ == duidTypeLLT {
		if len(b) < 8 {
			return DecodedDUID{Type: typ, HWType: hw}
		}
		return DecodedDUID{
			Type:    typ,
			HWType:  hw,
			Timeval: binary.BigEndian.Uint32(b[4:8]),
			LLAddr:  append([]byte(nil), b[8:]...),
		}
	}
	return DecodedDUID{Type: typ, HWType: hw, LLAddr: append([]byte(nil), b[4:]...)}
}
