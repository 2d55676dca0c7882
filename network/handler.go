// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package network captures inbound DHCPv6 traffic on the configured
// physical interfaces and demultiplexes it to the Manager.
package network

import (
	"github.com/sirupsen/logrus"

	"github.com/prefixd/prefixd/dhcpv6pd"
	"github.com/prefixd/prefixd/store"
)

type rawFrame struct {
	ifaceName string
	data      []byte
}

// Handler buffers inbound frames from every Listener in a single FIFO
// queue and processes them on its own goroutine, replacing the source's
// time.sleep(0) busy-wait with a blocking channel receive.
type Handler struct {
	frames    chan rawFrame
	ifaces    *store.InterfaceStore
	prefixes  *store.PrefixStore
	manager   *dhcpv6pd.Manager
	log       *logrus.Entry
	queueSize int
}

// NewHandler builds a Handler with a queue holding up to queueSize
// frames; once full, a Listener's Submit drops the oldest queued frame and
// logs a warning rather than blocking the capture loop.
func NewHandler(queueSize int, ifaces *store.InterfaceStore, prefixes *store.PrefixStore, manager *dhcpv6pd.Manager, log *logrus.Entry) *Handler {
	return &Handler{
		frames:    make(chan rawFrame, queueSize),
		ifaces:    ifaces,
		prefixes:  prefixes,
		manager:   manager,
		log:       log,
		queueSize: queueSize,
	}
}

// Submit enqueues a captured frame for processing. Called by every
// Listener's goroutine; safe for concurrent use.
func (h *Handler) Submit(ifaceName string, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	frame := rawFrame{ifaceName: ifaceName, data: buf}
	for {
		select {
		case h.frames <- frame:
			return
		default:
		}
		select {
		case old := <-h.frames:
			h.log.Warnf("handler queue full (%d frames), dropping oldest frame from %s", h.queueSize, old.ifaceName)
		default:
		}
	}
}

// Run processes queued frames until stop is closed.
func (h *Handler) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case f := <-h.frames:
			h.process(f)
		}
	}
}

func (h *Handler) process(f rawFrame) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorf("unexpected error in handler: %v", r)
		}
	}()

	iface, ok := h.ifaces.GetByName(f.ifaceName)
	if !ok {
		return
	}

	decoded, ok := dhcpv6pd.DecodeFrame(f.data)
	if !ok {
		return
	}

	if decoded.EthDst.String() != iface.MAC.HardwareAddr().String() {
		return
	}

	if !decoded.Message.HasClientID {
		return
	}

	clientDUID := dhcpv6pd.DUIDFromLinkLayer(clientIDLinkLayerAddr(decoded.Message))

	if _, ok := h.prefixes.GetByDUID(clientDUID); !ok {
		h.log.Debugf("dropped frame with unknown client DUID %s on %s", clientDUID, f.ifaceName)
		return
	}

	h.manager.HandlePacket(clientDUID, decoded.Message)
}

// clientIDLinkLayerAddr extracts the link-layer address carried by the
// Client ID option, per the DUID-LL/DUID-LLT layouts recognised in
// dhcpv6pd/duid.go.
func clientIDLinkLayerAddr(msg *dhcpv6pd.DecodedMessage) []byte {
	decoded := dhcpv6pd.DecodeDUIDBytes(msg.ClientDUID.Bytes())
	return decoded.LLAddr
}
