// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package dhcpv6pd

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/prefixd/prefixd/types"
)

// DecodedMessage exposes the fixed set of DHCPv6 options the Manager
// needs from an inbound Advertise or Reply; anything else in the packet
// is ignored.
type DecodedMessage struct {
	MsgType       uint8
	TransactionID uint32

	HasClientID bool
	ClientDUID  types.DUID

	HasServerID bool
	ServerDUID  types.DUID

	HasIAPD bool
	IAID    uint32
	T1, T2  uint32

	HasIAPrefix       bool
	PrefixAddr        net.IP
	PrefixLen         uint8
	PreferredLifetime uint32
	ValidLifetime     uint32

	HasStatusCode bool
	StatusCode    uint16
	StatusMessage string
}

// PrefixText renders the confirmed/advertised prefix as "address/plen",
// for comparison against a ConfiguredPrefix's String().
func (m *DecodedMessage) PrefixText() string {
	if !m.HasIAPrefix {
		return ""
	}
	return fmt.Sprintf("%s/%d", m.PrefixAddr, m.PrefixLen)
}

// DecodeMessage parses a DHCPv6 message body (the UDP payload).
func DecodeMessage(payload []byte) (*DecodedMessage, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("dhcpv6pd: message too short (%d bytes)", len(payload))
	}
	m := &DecodedMessage{
		MsgType:       payload[0],
		TransactionID: uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3]),
	}

	opts := payload[4:]
	for len(opts) >= 4 {
		code := binary.BigEndian.Uint16(opts[0:2])
		olen := binary.BigEndian.Uint16(opts[2:4])
		if len(opts) < 4+int(olen) {
			break
		}
		val := opts[4 : 4+int(olen)]

		switch code {
		case OptClientID:
			m.HasClientID = true
			m.ClientDUID = types.DUIDFromBytes(val)
		case OptServerID:
			m.HasServerID = true
			m.ServerDUID = types.DUIDFromBytes(val)
		case OptIAPD:
			decodeIAPD(m, val)
		case OptStatusCode:
			if len(val) >= 2 {
				m.HasStatusCode = true
				m.StatusCode = binary.BigEndian.Uint16(val[0:2])
				if len(val) > 2 {
					m.StatusMessage = string(val[2:])
				}
			}
		}

		opts = opts[4+int(olen):]
	}

	return m, nil
}

func decodeIAPD(m *DecodedMessage, val []byte) {
	if len(val) < 12 {
		return
	}
	m.HasIAPD = true
	m.IAID = binary.BigEndian.Uint32(val[0:4])
	m.T1 = binary.BigEndian.Uint32(val[4:8])
	m.T2 = binary.BigEndian.Uint32(val[8:12])

	sub := val[12:]
	for len(sub) >= 4 {
		code := binary.BigEndian.Uint16(sub[0:2])
		slen := binary.BigEndian.Uint16(sub[2:4])
		if len(sub) < 4+int(slen) {
			break
		}
		sval := sub[4 : 4+int(slen)]
		if code == OptIAPrefix && len(sval) >= 25 {
			m.HasIAPrefix = true
			m.PreferredLifetime = binary.BigEndian.Uint32(sval[0:4])
			m.ValidLifetime = binary.BigEndian.Uint32(sval[4:8])
			m.PrefixLen = sval[8]
			addr := make(net.IP, 16)
			copy(addr, sval[9:25])
			m.PrefixAddr = addr
		}
		sub = sub[4+int(slen):]
	}
}

// DecodedFrame is an inbound link-layer frame with its DHCPv6 payload
// already parsed.
type DecodedFrame struct {
	EthDst  net.HardwareAddr
	Message *DecodedMessage
}

// DecodeFrame parses a raw captured Ethernet frame down to its DHCPv6
// message. It reports false for anything that isn't an Ethernet/UDP
// frame carrying a well-formed DHCPv6 payload; the Handler is expected to
// silently drop those.
func DecodeFrame(data []byte) (*DecodedFrame, bool) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)

	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, false
	}
	eth, ok := ethLayer.(*layers.Ethernet)
	if !ok {
		return nil, false
	}

	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return nil, false
	}

	msg, err := DecodeMessage(udp.Payload)
	if err != nil {
		return nil, false
	}

	return &DecodedFrame{EthDst: eth.DstMAC, Message: msg}, true
}
