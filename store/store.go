// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package store holds the in-memory registries of configured physical
// interfaces and configured prefixes. Both are populated once at bootstrap
// and are read-only afterwards; N is always small, so lookups are plain
// linear scans rather than indexed maps.
package store

import (
	"fmt"

	"github.com/prefixd/prefixd/types"
)

// PhysicalInterface is a configured network adapter.
type PhysicalInterface struct {
	Name        string
	MAC         types.MAC
	LinkLocalIP types.IPv6Address
}

func (i PhysicalInterface) String() string {
	return i.Name
}

// ConfiguredPrefix is a prefix the daemon must keep leased.
type ConfiguredPrefix struct {
	InterfaceName string
	ClientDUID    types.DUID
	Address       types.IPv6Address
	Length        types.PrefixLength
}

func (p ConfiguredPrefix) String() string {
	return fmt.Sprintf("%s/%d", p.Address, p.Length.Int())
}

// InterfaceStore is an ordered, append-only registry of PhysicalInterfaces.
type InterfaceStore struct {
	items []PhysicalInterface
}

// NewInterfaceStore returns an empty InterfaceStore.
func NewInterfaceStore() *InterfaceStore {
	return &InterfaceStore{}
}

// Add appends an interface to the store and returns it.
func (s *InterfaceStore) Add(iface PhysicalInterface) PhysicalInterface {
	s.items = append(s.items, iface)
	return iface
}

// All returns every registered interface, in insertion order.
func (s *InterfaceStore) All() []PhysicalInterface {
	return s.items
}

// GetByName performs a linear scan for an interface with the given name.
func (s *InterfaceStore) GetByName(name string) (PhysicalInterface, bool) {
	for _, iface := range s.items {
		if iface.Name == name {
			return iface, true
		}
	}
	return PhysicalInterface{}, false
}

// PrefixStore is an ordered, append-only registry of ConfiguredPrefixes.
type PrefixStore struct {
	items []ConfiguredPrefix
}

// NewPrefixStore returns an empty PrefixStore.
func NewPrefixStore() *PrefixStore {
	return &PrefixStore{}
}

// Add appends a prefix to the store and returns it.
func (s *PrefixStore) Add(prefix ConfiguredPrefix) ConfiguredPrefix {
	s.items = append(s.items, prefix)
	return prefix
}

// All returns every registered prefix, in insertion order.
func (s *PrefixStore) All() []ConfiguredPrefix {
	return s.items
}

// GetByDUID performs a linear scan for a prefix with the given client DUID.
func (s *PrefixStore) GetByDUID(duid types.DUID) (ConfiguredPrefix, bool) {
	for _, prefix := range s.items {
		if prefix.ClientDUID.Equal(duid) {
			return prefix, true
		}
	}
	return ConfiguredPrefix{}, false
}
