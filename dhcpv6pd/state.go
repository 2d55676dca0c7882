// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package dhcpv6pd implements the DHCPv6 Prefix Delegation client state
// machine (RFC 3315 / RFC 3633): the per-lease VirtualInterface, the
// message codec that drives it, and the Manager that schedules its
// transitions.
package dhcpv6pd

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prefixd/prefixd/store"
	"github.com/prefixd/prefixd/types"
)

// PrefixState is a lease's position in the RFC 3633 state machine.
type PrefixState int

const (
	StateInitial PrefixState = iota
	StateSolicited
	StateAdvertised
	StateRequested
	StateConfirmed
	StateRenewing
	StateRebinding
	StateWithdrawn
)

func (s PrefixState) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateSolicited:
		return "Solicited"
	case StateAdvertised:
		return "Advertised"
	case StateRequested:
		return "Requested"
	case StateConfirmed:
		return "Confirmed"
	case StateRenewing:
		return "Renewing"
	case StateRebinding:
		return "Rebinding"
	case StateWithdrawn:
		return "Withdrawn"
	default:
		return "Unknown"
	}
}

// Timer is a duration plus the ability to test whether it has elapsed
// since a reference instant.
type Timer struct {
	d time.Duration
}

// NewTimer builds a Timer from a number of seconds, as carried in IA_PD
// T1/T2 and preferred-lifetime fields.
func NewTimer(seconds float64) Timer {
	return Timer{d: time.Duration(seconds * float64(time.Second))}
}

// HasOccurred reports whether now is more than the timer's duration past
// reference. A zero reference (never set) never has occurred.
func (t Timer) HasOccurred(reference, now time.Time) bool {
	if reference.IsZero() {
		return false
	}
	return now.Sub(reference) > t.d
}

// Seconds returns the timer's duration in seconds, as logged and as sent
// in the T1/T2 fields of outbound messages.
func (t Timer) Seconds() float64 {
	return t.d.Seconds()
}

// VirtualInterface is the runtime lease state for one ConfiguredPrefix.
// It is owned exclusively by the Manager: every field below is read and
// written only from the Manager's own goroutine.
type VirtualInterface struct {
	IAID       types.IAID
	ClientDUID types.DUID
	Prefix     store.ConfiguredPrefix
	Physical   store.PhysicalInterface

	State         PrefixState
	ServerDUID    types.DUID
	HasServerDUID bool
	TransactionID types.TransactionID
	LastAction    time.Time
	LastConfirm   time.Time
	T1, T2, Expire Timer

	log *logrus.Entry
}

// NewVirtualInterface builds a lease in its Initial state.
func NewVirtualInterface(iaid types.IAID, prefix store.ConfiguredPrefix, physical store.PhysicalInterface, log *logrus.Entry) *VirtualInterface {
	return &VirtualInterface{
		IAID:       iaid,
		ClientDUID: prefix.ClientDUID,
		Prefix:     prefix,
		Physical:   physical,
		State:      StateInitial,
		log:        log,
	}
}

func (v *VirtualInterface) String() string {
	return fmt.Sprintf("%s[%d]", v.Physical.Name, v.IAID.Uint32())
}

// setState transitions the lease, logging at a severity matching the
// destination: reaching Confirmed, Renewing, Rebinding or Withdrawn is
// worth an info line, everything else is debug noise.
func (v *VirtualInterface) setState(s PrefixState) {
	if v.log != nil {
		switch s {
		case StateConfirmed, StateRenewing, StateRebinding, StateWithdrawn:
			v.log.Infof("state of prefix %s has changed to: %s", v.Prefix, s)
		default:
			v.log.Debugf("state of prefix %s has changed to: %s", v.Prefix, s)
		}
	}
	v.State = s
}
