// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

//go:build linux

package network

import (
	"fmt"
	"net"

	"github.com/mdlayher/packet"
)

// multicastDstMAC is the DHCPv6 relay-agents-and-servers link-layer
// multicast address every outbound message targets (RFC 3315 §21.1).
var multicastDstMAC, _ = net.ParseMAC("33:33:00:01:00:02")

var dhcp6DstMAC = &packet.Addr{HardwareAddr: multicastDstMAC}

// Send transmits an already-framed outbound message (Ethernet header
// included) on this Listener's interface.
func (l *Listener) Send(frame []byte) error {
	_, err := l.conn.WriteTo(frame, dhcp6DstMAC)
	return err
}

// Senders routes Manager's per-interface Send calls to the matching
// Listener, satisfying dhcpv6pd.Sender.
type Senders struct {
	byInterface map[string]*Listener
}

// NewSenders builds a Senders registry over the given Listeners, keyed
// by interface name.
func NewSenders(listeners []*Listener) *Senders {
	byInterface := make(map[string]*Listener, len(listeners))
	for _, l := range listeners {
		byInterface[l.ifaceName] = l
	}
	return &Senders{byInterface: byInterface}
}

// Send implements dhcpv6pd.Sender.
func (s *Senders) Send(ifaceName string, frame []byte) error {
	l, ok := s.byInterface[ifaceName]
	if !ok {
		return fmt.Errorf("network: no listener for interface %s", ifaceName)
	}
	return l.Send(frame)
}
