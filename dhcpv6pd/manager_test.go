// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package dhcpv6pd

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefixd/prefixd/store"
	"github.com/prefixd/prefixd/types"
)

// fakeSender records every frame handed to it, in send order, decoded
// back into a DecodedMessage for assertions; the interface name is ignored.
type fakeSender struct {
	sent []*DecodedMessage
}

func (f *fakeSender) Send(ifaceName string, frame []byte) error {
	decoded, ok := DecodeFrame(frame)
	if !ok {
		panic("test: sender received an undecodable frame")
	}
	f.sent = append(f.sent, decoded.Message)
	return nil
}

func (f *fakeSender) last() *DecodedMessage {
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func discardLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestViface(t *testing.T, physicalName, mac, duid, address string, plen int) *VirtualInterface {
	t.Helper()
	physMAC, err := types.NewMAC(mac)
	require.NoError(t, err)
	ll, err := types.NewIPv6Address("fe80::1")
	require.NoError(t, err)
	physical := store.PhysicalInterface{Name: physicalName, MAC: physMAC, LinkLocalIP: ll}

	d, err := types.NewDUID(duid)
	require.NoError(t, err)
	addr, err := types.NewIPv6Address(address)
	require.NoError(t, err)
	length, err := types.NewPrefixLength(plen)
	require.NoError(t, err)
	prefix := store.ConfiguredPrefix{InterfaceName: physicalName, ClientDUID: d, Address: addr, Length: length}

	iaid, err := types.NewIAID(25000)
	require.NoError(t, err)

	return NewVirtualInterface(iaid, prefix, physical, discardLog())
}

func newTestManager(v *VirtualInterface, retry time.Duration, expireMulti float64) (*Manager, *fakeSender, *time.Time) {
	sender := &fakeSender{}
	m := NewManager([]*VirtualInterface{v}, retry, expireMulti, sender, discardLog())
	now := time.Now()
	m.now = func() time.Time { return now }
	return m, sender, &now
}

func advertiseReply(serverDUID types.DUID, prefixAddr string, plen int, t1, t2, pref, valid uint32, status uint16) *DecodedMessage {
	return &DecodedMessage{
		MsgType:           MsgAdvertise,
		HasServerID:       true,
		ServerDUID:        serverDUID,
		HasIAPD:           true,
		T1:                t1,
		T2:                t2,
		HasIAPrefix:       true,
		PrefixAddr:        net.ParseIP(prefixAddr),
		PrefixLen:         uint8(plen),
		PreferredLifetime: pref,
		ValidLifetime:     valid,
		HasStatusCode:     status != 0,
		StatusCode:        status,
	}
}

func replyMessage(serverDUID types.DUID, hasPrefix bool, prefixAddr string, plen int, t1, t2, pref, valid uint32) *DecodedMessage {
	return &DecodedMessage{
		MsgType:           MsgReply,
		HasServerID:       true,
		ServerDUID:        serverDUID,
		HasIAPD:           hasPrefix,
		T1:                t1,
		T2:                t2,
		HasIAPrefix:       hasPrefix,
		PrefixAddr:        net.ParseIP(prefixAddr),
		PrefixLen:         uint8(plen),
		PreferredLifetime: pref,
		ValidLifetime:     valid,
	}
}

// Scenario 1: happy path to Confirmed.
func TestScenarioHappyPath(t *testing.T) {
	v := newTestViface(t, "eth0", "aa:bb:cc:dd:ee:01", "00:03:00:01:aa:bb:cc:dd:ee:02", "2001:db8::", 56)
	m, sender, now := newTestManager(v, 60*time.Second, 1.5)

	m.Tick()
	require.Equal(t, StateSolicited, v.State)
	solicit := sender.last()
	require.NotNil(t, solicit)
	assert.Equal(t, MsgSolicit, solicit.MsgType)

	serverDUID, err := types.NewDUID("00:03:00:01:ff:ff:ff:ff:ff:01")
	require.NoError(t, err)

	m.dispatch(inboundPacket{clientDUID: v.ClientDUID, msg: advertiseReply(serverDUID, "2001:db8::", 56, 100, 200, 300, 400, 0)})
	require.Equal(t, StateAdvertised, v.State)

	*now = now.Add(time.Second)
	m.Tick()
	require.Equal(t, StateRequested, v.State)
	request := sender.last()
	assert.Equal(t, MsgRequest, request.MsgType)

	m.dispatch(inboundPacket{clientDUID: v.ClientDUID, msg: replyMessage(serverDUID, true, "2001:db8::", 56, 100, 200, 300, 400)})

	assert.Equal(t, StateConfirmed, v.State)
	assert.Equal(t, 100.0, v.T1.Seconds())
	assert.Equal(t, 200.0, v.T2.Seconds())
	assert.Equal(t, 300.0, v.Expire.Seconds())
	assert.False(t, v.LastConfirm.IsZero())
}

// Scenario 2: prefix mismatch reverts Advertised candidate to Initial.
func TestScenarioPrefixMismatch(t *testing.T) {
	v := newTestViface(t, "eth0", "aa:bb:cc:dd:ee:01", "00:03:00:01:aa:bb:cc:dd:ee:02", "2001:db8::", 56)
	m, _, _ := newTestManager(v, 60*time.Second, 1.5)

	m.Tick()
	require.Equal(t, StateSolicited, v.State)

	serverDUID, _ := types.NewDUID("00:03:00:01:ff:ff:ff:ff:ff:01")
	m.dispatch(inboundPacket{clientDUID: v.ClientDUID, msg: advertiseReply(serverDUID, "2001:db8:1::", 56, 100, 200, 300, 400, 0)})

	assert.Equal(t, StateInitial, v.State, "mismatched prefix must reset to Initial")
}

// Scenario 3: Rebinding withdraws when the Reply carries no prefix.
func TestScenarioRebindingWithdraws(t *testing.T) {
	v := newTestViface(t, "eth0", "aa:bb:cc:dd:ee:01", "00:03:00:01:aa:bb:cc:dd:ee:02", "2001:db8::", 56)
	m, _, _ := newTestManager(v, 60*time.Second, 1.5)
	v.setState(StateRebinding)
	v.LastAction = time.Now()

	serverDUID, _ := types.NewDUID("00:03:00:01:ff:ff:ff:ff:ff:01")
	noPrefix := replyMessage(serverDUID, false, "", 0, 0, 0, 0, 0)
	m.dispatch(inboundPacket{clientDUID: v.ClientDUID, msg: noPrefix})

	assert.Equal(t, StateWithdrawn, v.State)

	m.Tick()
	assert.Equal(t, StateSolicited, v.State, "the next tick treats Withdrawn like Initial and re-solicits")
}

// Scenario 4: a retry timeout in Solicited reverts to Initial and the next
// solicit carries a fresh transaction id.
func TestScenarioRetryTimeoutInSolicited(t *testing.T) {
	v := newTestViface(t, "eth0", "aa:bb:cc:dd:ee:01", "00:03:00:01:aa:bb:cc:dd:ee:02", "2001:db8::", 56)
	m, sender, now := newTestManager(v, 60*time.Second, 1.5)

	m.Tick()
	require.Equal(t, StateSolicited, v.State)
	firstTrid := v.TransactionID

	*now = now.Add(61 * time.Second)
	m.Tick()
	assert.Equal(t, StateInitial, v.State, "retry timeout resets Solicited back to Initial")

	m.Tick()
	assert.Equal(t, StateSolicited, v.State, "the next tick re-solicits")
	assert.NotEqual(t, firstTrid, v.TransactionID, "a fresh transaction id is generated")
	assert.Len(t, sender.sent, 2)
}

// Scenario 5: an unknown server DUID during Renew is dropped.
func TestScenarioUnknownServerDUIDDuringRenew(t *testing.T) {
	v := newTestViface(t, "eth0", "aa:bb:cc:dd:ee:01", "00:03:00:01:aa:bb:cc:dd:ee:02", "2001:db8::", 56)
	m, _, _ := newTestManager(v, 60*time.Second, 1.5)

	knownServer, _ := types.NewDUID("00:03:00:01:ff:ff:ff:ff:ff:01")
	v.setState(StateRenewing)
	v.ServerDUID = knownServer
	v.HasServerDUID = true
	v.LastAction = time.Now()

	otherServer, _ := types.NewDUID("00:03:00:01:ff:ff:ff:ff:ff:02")
	m.dispatch(inboundPacket{clientDUID: v.ClientDUID, msg: replyMessage(otherServer, true, "2001:db8::", 56, 100, 200, 300, 400)})

	assert.Equal(t, StateRenewing, v.State, "reply from an unrecognized server must be dropped")
}

// Scenario 6: T1=T2=0 in a Reply derives T1/T2 from preferred lifetime.
func TestScenarioDerivedTimers(t *testing.T) {
	v := newTestViface(t, "eth0", "aa:bb:cc:dd:ee:01", "00:03:00:01:aa:bb:cc:dd:ee:02", "2001:db8::", 56)
	m, _, _ := newTestManager(v, 60*time.Second, 1.5)

	serverDUID, _ := types.NewDUID("00:03:00:01:ff:ff:ff:ff:ff:01")
	v.setState(StateRequested)
	v.ServerDUID = serverDUID
	v.HasServerDUID = true
	v.LastAction = time.Now()

	m.dispatch(inboundPacket{clientDUID: v.ClientDUID, msg: replyMessage(serverDUID, true, "2001:db8::", 56, 0, 0, 1000, 2000)})

	require.Equal(t, StateConfirmed, v.State)
	assert.Equal(t, 500.0, v.T1.Seconds())
	assert.Equal(t, 800.0, v.T2.Seconds())
	assert.Equal(t, 1200.0, v.Expire.Seconds())
}

func TestTickConfirmedExpireTakesPriority(t *testing.T) {
	v := newTestViface(t, "eth0", "aa:bb:cc:dd:ee:01", "00:03:00:01:aa:bb:cc:dd:ee:02", "2001:db8::", 56)
	m, sender, now := newTestManager(v, 60*time.Second, 1.5)

	v.setState(StateConfirmed)
	v.LastConfirm = now.Add(-1000 * time.Second)
	v.T1 = NewTimer(10)
	v.T2 = NewTimer(20)
	v.Expire = NewTimer(30)

	m.Tick()

	assert.Equal(t, StateInitial, v.State, "expire takes priority over T2/T1 when all have elapsed")
	assert.Empty(t, sender.sent, "a lease reset by expire does not send in the same tick")
}

func TestConfirmedRebindsAtT2BeforeT1WouldReapply(t *testing.T) {
	v := newTestViface(t, "eth0", "aa:bb:cc:dd:ee:01", "00:03:00:01:aa:bb:cc:dd:ee:02", "2001:db8::", 56)
	m, sender, now := newTestManager(v, 60*time.Second, 1.5)

	v.setState(StateConfirmed)
	v.LastConfirm = now.Add(-25 * time.Second)
	v.T1 = NewTimer(10)
	v.T2 = NewTimer(20)
	v.Expire = NewTimer(1000)

	m.Tick()

	assert.Equal(t, StateRebinding, v.State)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, MsgRebind, sender.sent[0].MsgType)
}

func TestRenewingRetryTimeoutPreservesLastConfirm(t *testing.T) {
	v := newTestViface(t, "eth0", "aa:bb:cc:dd:ee:01", "00:03:00:01:aa:bb:cc:dd:ee:02", "2001:db8::", 56)
	m, _, now := newTestManager(v, 5*time.Second, 1.5)

	confirmedAt := now.Add(-100 * time.Second)
	v.setState(StateRenewing)
	v.LastConfirm = confirmedAt
	v.LastAction = now.Add(-6 * time.Second)

	m.Tick()

	assert.Equal(t, StateConfirmed, v.State)
	assert.Equal(t, confirmedAt, v.LastConfirm, "falling back from Renewing must not refresh LastConfirm")
}

func TestAdvertiseDroppedWhenNotSolicited(t *testing.T) {
	v := newTestViface(t, "eth0", "aa:bb:cc:dd:ee:01", "00:03:00:01:aa:bb:cc:dd:ee:02", "2001:db8::", 56)
	m, _, _ := newTestManager(v, 60*time.Second, 1.5)

	serverDUID, _ := types.NewDUID("00:03:00:01:ff:ff:ff:ff:ff:01")
	m.dispatch(inboundPacket{clientDUID: v.ClientDUID, msg: advertiseReply(serverDUID, "2001:db8::", 56, 100, 200, 300, 400, 0)})

	assert.Equal(t, StateInitial, v.State, "an Advertise received outside Solicited is dropped silently")
}

func TestUnknownClientDUIDIsDroppedNotPanicked(t *testing.T) {
	v := newTestViface(t, "eth0", "aa:bb:cc:dd:ee:01", "00:03:00:01:aa:bb:cc:dd:ee:02", "2001:db8::", 56)
	m, _, _ := newTestManager(v, 60*time.Second, 1.5)

	unknown, _ := types.NewDUID("00:03:00:01:99:99:99:99:99:99")
	assert.NotPanics(t, func() {
		m.dispatch(inboundPacket{clientDUID: unknown, msg: advertiseReply(unknown, "2001:db8::", 56, 1, 2, 3, 4, 0)})
	})
	assert.Equal(t, StateInitial, v.State)
}
