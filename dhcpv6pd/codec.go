// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package dhcpv6pd

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/prefixd/prefixd/types"
)

// DHCPv6 message type codes in use (RFC 3315 §7.3).
const (
	MsgSolicit   uint8 = 1
	MsgAdvertise uint8 = 2
	MsgRequest   uint8 = 3
	MsgRenew     uint8 = 5
	MsgRebind    uint8 = 6
	MsgReply     uint8 = 7
)

// DHCPv6 option codes in use (RFC 3315 §22, RFC 3633 §10).
const (
	OptClientID      uint16 = 1
	OptServerID      uint16 = 2
	OptIAPD          uint16 = 25
	OptIAPrefix      uint16 = 26
	OptOptionRequest uint16 = 6
	OptElapsedTime   uint16 = 8
	OptStatusCode    uint16 = 13
)

var (
	multicastDstMAC, _ = net.ParseMAC("33:33:00:01:00:02")
	multicastDstIP     = net.ParseIP("ff02::1:2")
)

func appendOption(buf []byte, code uint16, value []byte) []byte {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint16(hdr[0:2], code)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(value)))
	buf = append(buf, hdr...)
	buf = append(buf, value...)
	return buf
}

func iaPrefixOptionValue(preferredLifetime, validLifetime uint32, plen uint8, addr net.IP) []byte {
	v := make([]byte, 4+4+1+16)
	binary.BigEndian.PutUint32(v[0:4], preferredLifetime)
	binary.BigEndian.PutUint32(v[4:8], validLifetime)
	v[8] = plen
	copy(v[9:25], addr.To16())
	return v
}

func iaPDOptionValue(iaid, t1, t2 uint32, iaPrefixValue []byte) []byte {
	v := make([]byte, 12, 12+4+len(iaPrefixValue))
	binary.BigEndian.PutUint32(v[0:4], iaid)
	binary.BigEndian.PutUint32(v[4:8], t1)
	binary.BigEndian.PutUint32(v[8:12], t2)
	return appendOption(v, OptIAPrefix, iaPrefixValue)
}

// OutboundMessage carries everything needed to build a Solicit, Request,
// Renew or Rebind message; fields that a given message type omits (T1/T2
// on Solicit, Server ID on Solicit/Rebind) are left at their zero value.
type OutboundMessage struct {
	MsgType       uint8
	TransactionID types.TransactionID
	ClientDUID    types.DUID
	ServerDUID    types.DUID
	IncludeServer bool
	IAID          types.IAID
	T1, T2        uint32
	PrefixAddr    net.IP
	PrefixLen     uint8

	// Lifetimes stay zero on client messages; the pdexchange responder
	// sets them when it answers as the server.
	PreferredLifetime uint32
	ValidLifetime     uint32
}

// EncodeMessage builds the DHCPv6 message body (message type, transaction
// id, and options) described by msg. Framing (Ethernet/IPv6/UDP) is
// applied separately by EncodeFrame.
func EncodeMessage(msg OutboundMessage) []byte {
	trid := msg.TransactionID.Bytes()
	buf := []byte{msg.MsgType, trid[0], trid[1], trid[2]}
	buf = appendOption(buf, OptClientID, EncodeDUID(msg.ClientDUID))
	if msg.IncludeServer {
		buf = appendOption(buf, OptServerID, EncodeDUID(msg.ServerDUID))
	}
	iaPrefix := iaPrefixOptionValue(msg.PreferredLifetime, msg.ValidLifetime, msg.PrefixLen, msg.PrefixAddr)
	iaPD := iaPDOptionValue(msg.IAID.Uint32(), msg.T1, msg.T2, iaPrefix)
	buf = appendOption(buf, OptIAPD, iaPD)
	buf = appendOption(buf, OptElapsedTime, []byte{0x00, 0x00})
	return buf
}

// EncodeFrame wraps a DHCPv6 message body in the Ethernet/IPv6/UDP framing
// every outbound client message shares: link-layer multicast to the DHCPv6
// relay-agents-and-servers group, UDP 546 -> 547.
func EncodeFrame(srcMAC net.HardwareAddr, srcIP net.IP, dhcpPayload []byte) ([]byte, error) {
	return encodeFrame(srcMAC, multicastDstMAC, srcIP, multicastDstIP, 546, 547, dhcpPayload)
}

// EncodeServerFrame builds the reverse framing (unicast to the client's
// MAC, UDP 547 -> 546) used by the pdexchange responder when it answers
// as the upstream server.
func EncodeServerFrame(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, dhcpPayload []byte) ([]byte, error) {
	return encodeFrame(srcMAC, dstMAC, srcIP, dstIP, 547, 546, dhcpPayload)
}

func encodeFrame(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16, dhcpPayload []byte) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolUDP,
		HopLimit:   1,
		SrcIP:      srcIP,
		DstIP:      dstIP,
	}
	udp := layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(&ip6); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip6, &udp, gopacket.Payload(dhcpPayload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
