// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

//go:build linux

package network

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/bpf"
)

// captureTimeout bounds how long a Listener blocks in a single read, so
// it can observe its cancellation flag at least that often.
const captureTimeout = 5 * time.Second

// dhcp6Filter matches "icmp6 or (udp and src port 547 and dst port 546)"
// on raw Ethernet frames: EtherType at offset 12, IPv6 Next Header at
// offset 20, and (assuming no IPv6 extension headers, as this daemon
// never emits any) UDP ports at offsets 54/56.
func dhcp6Filter() ([]bpf.RawInstruction, error) {
	return bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x86DD, SkipFalse: 8},
		bpf.LoadAbsolute{Off: 20, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 58, SkipTrue: 5},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 17, SkipFalse: 5},
		bpf.LoadAbsolute{Off: 54, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 547, SkipFalse: 3},
		bpf.LoadAbsolute{Off: 56, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 546, SkipFalse: 1},
		bpf.RetConstant{Val: 1 << 16},
		bpf.RetConstant{Val: 0},
	})
}

// Listener captures inbound DHCPv6-PD traffic on a single physical
// interface and forwards matching frames to a Handler. It performs no
// parsing itself.
type Listener struct {
	ifaceName string
	conn      *packet.Conn
	handler   *Handler
	log       *logrus.Entry
}

// NewListener opens a raw AF_PACKET socket on ifaceName, filtered to
// DHCPv6-PD traffic.
func NewListener(ifaceName string, handler *Handler, log *logrus.Entry) (*Listener, error) {
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("network: interface %s not found: %w", ifaceName, err)
	}

	filter, err := dhcp6Filter()
	if err != nil {
		return nil, fmt.Errorf("network: could not assemble capture filter: %w", err)
	}

	conn, err := packet.Listen(ifi, packet.Raw, int(ethernet.EtherTypeIPv6), &packet.Config{Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("network: could not open raw socket on %s: %w", ifaceName, err)
	}

	// Capture promiscuously: the configured MAC may differ from the NIC's
	// own, and the Handler re-checks the Ethernet destination anyway.
	if err := conn.SetPromiscuous(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("network: could not enable promiscuous capture on %s: %w", ifaceName, err)
	}

	return &Listener{ifaceName: ifaceName, conn: conn, handler: handler, log: log}, nil
}

// Run captures frames until stop is closed.
func (l *Listener) Run(stop <-chan struct{}) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(captureTimeout)); err != nil {
			l.log.Errorf("listener %s: could not set read deadline: %v", l.ifaceName, err)
			return
		}

		n, _, err := l.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.log.Errorf("listener %s: read error: %v", l.ifaceName, err)
			continue
		}

		l.handler.Submit(l.ifaceName, buf[:n])
	}
}

// Close releases the underlying raw socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}
