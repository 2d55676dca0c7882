// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

//go:build integration
// +build integration

// pdexchange drives a full Solicit -> Advertise -> Request -> Reply
// exchange between prefixd and a minimal embedded DHCPv6-PD responder,
// across a veth pair connecting two network namespaces that must already
// exist ("prefixd-upper" carries the responder, "prefixd-lower" carries
// prefixd itself) - this exercises the raw-socket codec and Manager paths
// that unit tests cannot reach.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
	"github.com/vishvananda/netns"

	"github.com/prefixd/prefixd"
	"github.com/prefixd/prefixd/dhcpv6pd"
	"github.com/prefixd/prefixd/types"
)

const (
	upperNS   = "prefixd-upper"
	lowerNS   = "prefixd-lower"
	upperIf   = "pd_srv"
	lowerIf   = "pd_cli"
	clientMAC = "de:ad:be:ef:00:01"
	serverMAC = "de:ad:be:ef:00:02"
)

// responderConn is a bare raw-socket DHCPv6 responder: just enough framing
// to read a Solicit/Request/Renew/Rebind and answer in kind, without going
// through the Manager's state machine (the responder plays the role of the
// upstream server, not of prefixd itself).
type responderConn struct {
	conn *packet.Conn
}

func newResponderConn(ifaceName string) (*responderConn, error) {
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, err
	}
	conn, err := packet.Listen(ifi, packet.Raw, int(ethernet.EtherTypeIPv6), nil)
	if err != nil {
		return nil, err
	}
	// The client solicits to the 33:33:00:01:00:02 group, which the veth
	// has not joined; capture promiscuously instead.
	if err := conn.SetPromiscuous(true); err != nil {
		conn.Close()
		return nil, err
	}
	return &responderConn{conn: conn}, nil
}

func (r *responderConn) Close() error { return r.conn.Close() }

func (r *responderConn) ReadMessage(timeout time.Duration) (*dhcpv6pd.DecodedMessage, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, 1500)
	n, _, err := r.conn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	frame, ok := dhcpv6pd.DecodeFrame(buf[:n])
	if !ok {
		return nil, fmt.Errorf("pdexchange: not a DHCPv6 frame")
	}
	return frame.Message, nil
}

// SendMessage unicasts a server-side message back to the client whose MAC
// is recoverable from the Client ID DUID's link-layer address; prefixd's
// capture filter only passes UDP 547 -> 546, and its Handler only keeps
// frames addressed to its own MAC.
func (r *responderConn) SendMessage(msg dhcpv6pd.OutboundMessage) error {
	mac, err := types.NewMAC(serverMAC)
	if err != nil {
		return err
	}
	ip, err := types.NewIPv6Address("fe80::2")
	if err != nil {
		return err
	}
	clientHW := net.HardwareAddr(dhcpv6pd.DecodeDUIDBytes(msg.ClientDUID.Bytes()).LLAddr)
	if len(clientHW) != 6 {
		return fmt.Errorf("pdexchange: client DUID %s carries no usable link-layer address", msg.ClientDUID)
	}
	payload := dhcpv6pd.EncodeMessage(msg)
	frame, err := dhcpv6pd.EncodeServerFrame(mac.HardwareAddr(), clientHW, ip.IP(), net.ParseIP("ff02::1:2"), payload)
	if err != nil {
		return err
	}
	_, err = r.conn.WriteTo(frame, &packet.Addr{HardwareAddr: clientHW})
	return err
}

// runResponder answers every Solicit with a matching Advertise and every
// Request/Renew/Rebind with a matching Reply, for the single configured
// prefix. It runs in the upper namespace.
func runResponder(ready chan<- struct{}, prefix string, plen int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ns, err := netns.GetFromName(upperNS)
	if err != nil {
		log.Panicf("netns %s not set up: %v", upperNS, err)
	}
	if err := netns.Set(ns); err != nil {
		log.Panicf("failed to switch to netns %s: %v", upperNS, err)
	}

	serverDUID, _ := types.NewDUID("00:03:00:01:" + serverMAC)
	prefixAddr, _ := types.NewIPv6Address(prefix)

	conn, err := newResponderConn(upperIf)
	if err != nil {
		log.Panicf("responder could not open socket on %s: %v", upperIf, err)
	}
	defer conn.Close()

	ready <- struct{}{}

	for {
		msg, err := conn.ReadMessage(5 * time.Second)
		if err != nil {
			continue
		}

		trid, err := types.NewTransactionID(msg.TransactionID)
		if err != nil {
			continue
		}
		iaid, err := types.NewIAID(int64(msg.IAID))
		if err != nil {
			continue
		}
		reply := dhcpv6pd.OutboundMessage{
			TransactionID:     trid,
			ClientDUID:        msg.ClientDUID,
			ServerDUID:        serverDUID,
			IncludeServer:     true,
			IAID:              iaid,
			T1:                100,
			T2:                200,
			PrefixAddr:        prefixAddr.IP(),
			PrefixLen:         uint8(plen),
			PreferredLifetime: 300,
			ValidLifetime:     400,
		}

		switch msg.MsgType {
		case dhcpv6pd.MsgSolicit:
			reply.MsgType = dhcpv6pd.MsgAdvertise
		case dhcpv6pd.MsgRequest, dhcpv6pd.MsgRenew, dhcpv6pd.MsgRebind:
			reply.MsgType = dhcpv6pd.MsgReply
		default:
			continue
		}

		if err := conn.SendMessage(reply); err != nil {
			log.Printf("responder send error: %v", err)
		}
	}
}

// writeTempConfig writes a one-interface, one-prefix YAML config pointing
// at the lower-namespace interface and returns its path.
func writeTempConfig(ifaceName, mac, prefix string, plen int) string {
	f, err := os.CreateTemp("", "pdexchange-*.yml")
	if err != nil {
		log.Panicf("could not create temp config: %v", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, `
retry_time: 5
expire_time_multi: 1.5
interfaces:
  - name: %s
    mac: %s
prefixes:
  - interface: %s
    duid: "00:03:00:01:%s"
    address: %s
    length: %d
`, ifaceName, mac, ifaceName, clientMAC, prefix, plen)
	if err != nil {
		log.Panicf("could not write temp config: %v", err)
	}
	return f.Name()
}

// main assumes prefixd-upper/prefixd-lower namespaces and a pd_srv<->pd_cli
// veth pair are already created by the surrounding test harness (a shell
// script outside this module's scope).
func main() {
	runtime.LockOSThread()

	const (
		prefix = "2001:db8:f00d::"
		plen   = 56
	)

	ready := make(chan struct{}, 1)
	go runResponder(ready, prefix, plen)
	<-ready

	lowerNetNS, err := netns.GetFromName(lowerNS)
	if err != nil {
		log.Panicf("netns %s not set up: %v", lowerNS, err)
	}
	if err := netns.Set(lowerNetNS); err != nil {
		log.Panicf("failed to switch to netns %s: %v", lowerNS, err)
	}

	cfgPath := writeTempConfig(lowerIf, clientMAC, prefix, plen)
	defer os.Remove(cfgPath)

	daemon, err := prefixd.New(cfgPath)
	if err != nil {
		log.Panicf("prefixd.New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	go func() {
		if err := daemon.Run(ctx, cfgPath); err != nil {
			log.Printf("daemon.Run: %v", err)
		}
	}()

	deadline := time.After(20 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			log.Fatal("timed out waiting for virtual interface to reach Confirmed")
		case <-tick.C:
			for _, v := range daemon.VirtualInterfaces() {
				if v.State == dhcpv6pd.StateConfirmed {
					log.Printf("virtual interface %s reached Confirmed", v)
					return
				}
			}
		}
	}
}
