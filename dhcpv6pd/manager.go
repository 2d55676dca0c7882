// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package dhcpv6pd

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prefixd/prefixd/types"
)

// Sender transmits an already-framed outbound message on the named
// physical interface. network.Senders implements it.
type Sender interface {
	Send(ifaceName string, frame []byte) error
}

// inboundPacket is handed from Manager.HandlePacket (called by the
// Handler's goroutine) onto the Manager's own goroutine, so that every
// VirtualInterface mutation - tick-driven or packet-driven - runs on a
// single owner.
type inboundPacket struct {
	clientDUID types.DUID
	msg        *DecodedMessage
}

// Manager owns every VirtualInterface and is the sole driver of its
// transitions: a ~1s tick advances time-driven state, and inbound
// Advertise/Reply packets are dispatched here rather than mutated
// directly by the Handler.
type Manager struct {
	vifaces     []*VirtualInterface
	retryTime   time.Duration
	expireMulti float64
	sender      Sender
	log         *logrus.Entry

	now func() time.Time

	packets chan inboundPacket
	done    chan struct{}
}

// NewManager builds a Manager over the given leases. now defaults to
// time.Now; tests inject a fake clock to exercise timer boundaries
// deterministically.
func NewManager(vifaces []*VirtualInterface, retryTime time.Duration, expireMulti float64, sender Sender, log *logrus.Entry) *Manager {
	return &Manager{
		vifaces:     vifaces,
		retryTime:   retryTime,
		expireMulti: expireMulti,
		sender:      sender,
		log:         log,
		now:         time.Now,
		packets:     make(chan inboundPacket, 256),
		done:        make(chan struct{}),
	}
}

// SetSender wires the Sender used for every outbound message. Exists so a
// Sender keyed by the raw sockets the Manager's own VirtualInterfaces are
// bootstrapped from can be constructed after the Manager itself.
func (m *Manager) SetSender(sender Sender) {
	m.sender = sender
}

// VirtualInterfaces returns the managed leases, in IAID order.
func (m *Manager) VirtualInterfaces() []*VirtualInterface {
	return m.vifaces
}

// HandlePacket queues an inbound Advertise/Reply for processing on the
// Manager's own goroutine. Safe to call from the Handler's goroutine.
func (m *Manager) HandlePacket(clientDUID types.DUID, msg *DecodedMessage) {
	select {
	case m.packets <- inboundPacket{clientDUID: clientDUID, msg: msg}:
	case <-m.done:
	}
}

// Run drives the tick and packet dispatch loops until stop is closed.
func (m *Manager) Run(stop <-chan struct{}) {
	defer close(m.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.safeTick()
		case pkt := <-m.packets:
			m.safeDispatch(pkt)
		}
	}
}

func (m *Manager) safeTick() {
	defer m.recoverFrom("tick")
	m.Tick()
}

func (m *Manager) safeDispatch(pkt inboundPacket) {
	defer m.recoverFrom("packet handler")
	m.dispatch(pkt)
}

func (m *Manager) recoverFrom(where string) {
	if r := recover(); r != nil {
		m.log.Errorf("unexpected error in manager %s: %v", where, r)
	}
}

// Tick runs one scheduling pass: solicit Initial/Withdrawn leases,
// request Advertised ones, evaluate Confirmed leases' expire/T2/T1 in
// that order, then apply retry timeouts to leases waiting on a reply.
func (m *Manager) Tick() {
	now := m.now()

	for _, v := range m.byState(StateInitial, StateWithdrawn) {
		m.solicit(v, now)
	}

	for _, v := range m.byState(StateAdvertised) {
		m.request(v, now)
	}

	for _, v := range m.byState(StateConfirmed) {
		switch {
		case v.Expire.HasOccurred(v.LastConfirm, now):
			m.log.Warnf("unable to renew or rebind prefix %s - resetting state to initial", v.Prefix)
			v.setState(StateInitial)
		case v.T2.HasOccurred(v.LastConfirm, now):
			m.rebind(v, now)
		case v.T1.HasOccurred(v.LastConfirm, now):
			m.renew(v, now)
		}
	}

	trigger := now.Add(-m.retryTime)
	for _, v := range m.byState(StateSolicited, StateRequested, StateRenewing, StateRebinding) {
		if v.LastAction.Before(trigger) {
			m.log.Infof("state %s of prefix %s timed out", v.State, v.Prefix)
			switch v.State {
			case StateSolicited, StateRequested:
				v.setState(StateInitial)
			case StateRenewing, StateRebinding:
				// Fall back to Confirmed without refreshing LastConfirm: the
				// expire timer keeps running from the original confirmation
				// (RFC 3633 §12.1).
				v.setState(StateConfirmed)
			}
		}
	}
}

func (m *Manager) byState(states ...PrefixState) []*VirtualInterface {
	var out []*VirtualInterface
	for _, v := range m.vifaces {
		for _, s := range states {
			if v.State == s {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func (m *Manager) send(v *VirtualInterface, msg OutboundMessage) {
	payload := EncodeMessage(msg)
	frame, err := EncodeFrame(v.Physical.MAC.HardwareAddr(), v.Physical.LinkLocalIP.IP(), payload)
	if err != nil {
		m.log.Errorf("failed to encode outbound message for %s: %v", v, err)
		return
	}
	if err := m.sender.Send(v.Physical.Name, frame); err != nil {
		m.log.Errorf("failed to send outbound message for %s: %v", v, err)
	}
}

func newTransactionID() types.TransactionID {
	trid, err := types.NewTransactionID(rand.Uint32() & 0x00ffffff)
	if err != nil {
		// rand.Uint32() & 0x00ffffff always fits in 24 bits.
		panic(err)
	}
	return trid
}

func (m *Manager) solicit(v *VirtualInterface, now time.Time) {
	v.setState(StateSolicited)
	v.LastAction = now
	v.TransactionID = newTransactionID()

	m.send(v, OutboundMessage{
		MsgType:       MsgSolicit,
		TransactionID: v.TransactionID,
		ClientDUID:    v.ClientDUID,
		IAID:          v.IAID,
		PrefixAddr:    v.Prefix.Address.IP(),
		PrefixLen:     uint8(v.Prefix.Length.Int()),
	})

	m.log.Infof("sent SOLICIT message on virtual interface %s", v)
	m.log.Debugf("> client DUID: %s", v.ClientDUID)
	m.log.Debugf("> prefix: %s", v.Prefix)
}

func (m *Manager) request(v *VirtualInterface, now time.Time) {
	v.setState(StateRequested)
	v.LastAction = now

	m.send(v, OutboundMessage{
		MsgType:       MsgRequest,
		TransactionID: v.TransactionID,
		ClientDUID:    v.ClientDUID,
		ServerDUID:    v.ServerDUID,
		IncludeServer: true,
		IAID:          v.IAID,
		T1:            uint32(v.T1.Seconds()),
		T2:            uint32(v.T2.Seconds()),
		PrefixAddr:    v.Prefix.Address.IP(),
		PrefixLen:     uint8(v.Prefix.Length.Int()),
	})

	m.log.Infof("sent REQUEST message on virtual interface %s", v)
	m.log.Debugf("> client DUID: %s", v.ClientDUID)
	m.log.Debugf("> server DUID: %s", v.ServerDUID)
	m.log.Debugf("> prefix: %s", v.Prefix)
	m.log.Debugf("> timeouts: T1=%.0f, T2=%.0f, expire=%.0f", v.T1.Seconds(), v.T2.Seconds(), v.Expire.Seconds())
}

func (m *Manager) renew(v *VirtualInterface, now time.Time) {
	v.setState(StateRenewing)
	v.LastAction = now

	m.send(v, OutboundMessage{
		MsgType:       MsgRenew,
		TransactionID: v.TransactionID,
		ClientDUID:    v.ClientDUID,
		ServerDUID:    v.ServerDUID,
		IncludeServer: true,
		IAID:          v.IAID,
		T1:            uint32(v.T1.Seconds()),
		T2:            uint32(v.T2.Seconds()),
		PrefixAddr:    v.Prefix.Address.IP(),
		PrefixLen:     uint8(v.Prefix.Length.Int()),
	})

	m.log.Infof("sent RENEW message on virtual interface %s", v)
	m.log.Debugf("> client DUID: %s", v.ClientDUID)
	m.log.Debugf("> server DUID: %s", v.ServerDUID)
	m.log.Debugf("> prefix: %s", v.Prefix)
	m.log.Debugf("> timeouts: T1=%.0f, T2=%.0f, expire=%.0f", v.T1.Seconds(), v.T2.Seconds(), v.Expire.Seconds())
}

func (m *Manager) rebind(v *VirtualInterface, now time.Time) {
	v.setState(StateRebinding)
	v.LastAction = now

	m.send(v, OutboundMessage{
		MsgType:       MsgRebind,
		TransactionID: v.TransactionID,
		ClientDUID:    v.ClientDUID,
		IAID:          v.IAID,
		T1:            uint32(v.T1.Seconds()),
		T2:            uint32(v.T2.Seconds()),
		PrefixAddr:    v.Prefix.Address.IP(),
		PrefixLen:     uint8(v.Prefix.Length.Int()),
	})

	m.log.Infof("sent REBIND message on virtual interface %s", v)
	m.log.Debugf("> client DUID: %s", v.ClientDUID)
	m.log.Debugf("> prefix: %s", v.Prefix)
	m.log.Debugf("> timeouts: T1=%.0f, T2=%.0f, expire=%.0f", v.T1.Seconds(), v.T2.Seconds(), v.Expire.Seconds())
}

func (m *Manager) dispatch(pkt inboundPacket) {
	v := m.byClientDUID(pkt.clientDUID)
	if v == nil {
		m.log.Warnf("could not find virtual interface with client DUID %s", pkt.clientDUID)
		return
	}

	switch pkt.msg.MsgType {
	case MsgAdvertise:
		m.handleAdvertise(v, pkt.msg)
	case MsgReply:
		m.handleReply(v, pkt.msg)
	}
}

func (m *Manager) byClientDUID(duid types.DUID) *VirtualInterface {
	for _, v := range m.vifaces {
		if v.ClientDUID.Equal(duid) {
			return v
		}
	}
	return nil
}

// handleAdvertise applies the Advertise acceptance rules of §4.6. A
// missing Server ID or a non-zero status drops the message and leaves the
// state as it is; a missing prefix resets to Initial at once. The prefix,
// timeout and lifetime checks each reset state and run in sequence rather
// than early-returning, so every applicable warning is logged; the accept
// block only runs if none of them rejected the message.
func (m *Manager) handleAdvertise(v *VirtualInterface, msg *DecodedMessage) {
	if v.State != StateSolicited {
		return
	}

	if !msg.HasServerID {
		m.log.Warnf("dropped ADVERTISE message with no Server ID on virtual interface %s", v)
		return
	}

	if !msg.HasIAPD || !msg.HasIAPrefix {
		m.log.Warnf("ADVERTISE message on virtual interface %s does not contain any prefixes", v)
		v.setState(StateInitial)
		return
	}

	if msg.HasStatusCode && msg.StatusCode != 0 {
		m.log.Warnf("dropped ADVERTISE message with status: %s", msg.StatusMessage)
		return
	}

	// Every check below runs regardless of earlier ones (sequential, not
	// early-returning), but the accept block at the end only fires if
	// none of them rejected the message - otherwise the last-evaluated
	// check would always be the unconditional accept, which can never be
	// the intent (spec.md's Advertise acceptance rules always resolve to
	// either a reset or an accept, never both).
	rejected := false

	configured := v.Prefix.String()
	announced := msg.PrefixText()
	if configured != announced {
		rejected = true
		v.setState(StateInitial)
		m.log.Warnf("announced prefix does not match configured prefix!")
		m.log.Infof("> virtual interface: %s", v)
		m.log.Infof("> announced prefix: %s", announced)
		m.log.Infof("> configured prefix: %s", configured)
	}

	if msg.T1 > msg.T2 {
		rejected = true
		m.log.Warnf("dropped ADVERTISE message with invalid timeouts: T1=%d, T2=%d", msg.T1, msg.T2)
		v.setState(StateInitial)
	}

	if msg.PreferredLifetime == 0 || msg.ValidLifetime == 0 {
		rejected = true
		m.log.Warnf("dropped ADVERTISE message with invalid lifetime: preflft=%d, validlft=%d", msg.PreferredLifetime, msg.ValidLifetime)
		v.setState(StateInitial)
	}

	if rejected {
		return
	}

	v.setState(StateAdvertised)
	v.ServerDUID = msg.ServerDUID
	v.HasServerDUID = true
	v.T1 = NewTimer(float64(msg.T1))
	v.T2 = NewTimer(float64(msg.T2))
	v.Expire = NewTimer(float64(msg.T2) * m.expireMulti)

	m.log.Infof("received ADVERTISE message on virtual interface %s", v)
	m.log.Debugf("> client DUID: %s", v.ClientDUID)
	m.log.Debugf("> server DUID: %s", v.ServerDUID)
	m.log.Debugf("> prefix: %s", v.Prefix)
}

// handleReply applies the Reply acceptance rules of §4.6.
func (m *Manager) handleReply(v *VirtualInterface, msg *DecodedMessage) {
	if v.State != StateRequested && v.State != StateRenewing && v.State != StateRebinding {
		return
	}

	if !msg.HasServerID {
		m.log.Warnf("dropped REPLY message with no Server ID on virtual interface %s", v)
		return
	}

	if v.State == StateRebinding {
		v.ServerDUID = msg.ServerDUID
		v.HasServerDUID = true
	} else if !v.HasServerDUID || !v.ServerDUID.Equal(msg.ServerDUID) {
		m.log.Debugf("dropped REPLY message from unknown server DUID: %s", msg.ServerDUID)
		return
	}

	if msg.HasStatusCode && msg.StatusCode != 0 {
		m.log.Warnf("dropped REPLY message with status: %s", msg.StatusMessage)
		return
	}

	if !msg.HasIAPD || !msg.HasIAPrefix {
		m.log.Warnf("REPLY message on virtual interface %s did not confirm any prefixes", v)
		if v.State != StateRebinding {
			v.setState(StateInitial)
		} else {
			v.setState(StateWithdrawn)
			m.log.Warnf("prefix %s was marked as withdrawn by server", v.Prefix)
		}
		return
	}

	// As in handleAdvertise, every check runs regardless of earlier ones,
	// but the confirm block at the end only fires if none of them
	// rejected the message.
	rejected := false

	configured := v.Prefix.String()
	confirmed := msg.PrefixText()
	if configured != confirmed {
		rejected = true
		v.setState(StateInitial)
		m.log.Warnf("confirmed prefix does not match configured prefix!")
		m.log.Infof("> virtual interface: %s", v)
		m.log.Infof("> confirmed prefix: %s", confirmed)
		m.log.Infof("> configured prefix: %s", configured)
	}

	if msg.T1 > msg.T2 {
		rejected = true
		m.log.Warnf("dropped REPLY message with invalid timeouts: T1=%d, T2=%d", msg.T1, msg.T2)
		v.setState(StateInitial)
	}

	if msg.PreferredLifetime == 0 || msg.ValidLifetime == 0 {
		rejected = true
		m.log.Warnf("prefix %s was marked as withdrawn by server", v.Prefix)
		v.setState(StateWithdrawn)
	}

	if rejected {
		return
	}

	t1, t2 := msg.T1, msg.T2
	if t1 == 0 || t2 == 0 {
		t1 = uint32(float64(msg.PreferredLifetime) * 0.5)
		t2 = uint32(float64(msg.PreferredLifetime) * 0.8)
	}

	v.setState(StateConfirmed)
	v.LastConfirm = m.now()
	v.T1 = NewTimer(float64(t1))
	v.T2 = NewTimer(float64(t2))
	v.Expire = NewTimer(float64(t2) * m.expireMulti)

	m.log.Infof("received REPLY message on virtual interface %s", v)
	m.log.Debugf("> client DUID: %s", v.ClientDUID)
	m.log.Debugf("> server DUID: %s", v.ServerDUID)
	m.log.Debugf("> prefix: %s", v.Prefix)
	m.log.Debugf("> timeouts: T1=%.0f, T2=%.0f, expire=%.0f", v.T1.Seconds(), v.T2.Seconds(), v.Expire.Seconds())
}
