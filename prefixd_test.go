// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package prefixd

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefixd/prefixd/config"
	"github.com/prefixd/prefixd/store"
	"github.com/prefixd/prefixd/types"
)

func discardLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newIfaceStore(t *testing.T, name string) *store.InterfaceStore {
	t.Helper()
	mac, err := types.NewMAC("aa:bb:cc:dd:ee:01")
	require.NoError(t, err)
	ip, err := types.NewIPv6Address("fe80::1")
	require.NoError(t, err)
	ifaces := store.NewInterfaceStore()
	ifaces.Add(store.PhysicalInterface{Name: name, MAC: mac, LinkLocalIP: ip})
	return ifaces
}

func TestResolveInterfaceMissingOnHost(t *testing.T) {
	_, _, err := resolveInterface(config.InterfaceConfig{Name: "definitely-not-a-real-nic0"}, discardLog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found on host")
}

func TestBuildPrefixStoreUnknownInterface(t *testing.T) {
	ifaces := newIfaceStore(t, "eth0")
	cfgs := []config.PrefixConfig{
		{Interface: "eth1", DUID: "00:03:00:01:aa:bb:cc:dd:ee:02", Address: "2001:db8::", Length: 56},
	}

	_, err := buildPrefixStore(cfgs, ifaces)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown interface")
}

func TestBuildPrefixStoreDuplicateDUID(t *testing.T) {
	ifaces := newIfaceStore(t, "eth0")
	duid := "00:03:00:01:aa:bb:cc:dd:ee:02"
	cfgs := []config.PrefixConfig{
		{Interface: "eth0", DUID: duid, Address: "2001:db8::", Length: 56},
		{Interface: "eth0", DUID: duid, Address: "2001:db8:1::", Length: 56},
	}

	_, err := buildPrefixStore(cfgs, ifaces)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate client DUID")
}

func TestBuildPrefixStorePrefixLengthBoundaries(t *testing.T) {
	ifaces := newIfaceStore(t, "eth0")

	for _, length := range []int{7, 129} {
		cfgs := []config.PrefixConfig{
			{Interface: "eth0", DUID: "00:03:00:01:aa:bb:cc:dd:ee:02", Address: "2001:db8::", Length: length},
		}
		_, err := buildPrefixStore(cfgs, ifaces)
		assert.Error(t, err, "length %d must be rejected", length)
	}

	for _, length := range []int{8, 128} {
		cfgs := []config.PrefixConfig{
			{Interface: "eth0", DUID: "00:03:00:01:aa:bb:cc:dd:ee:02", Address: "2001:db8::", Length: length},
		}
		_, err := buildPrefixStore(cfgs, ifaces)
		assert.NoError(t, err, "length %d must be accepted", length)
	}
}

func TestBuildVirtualInterfacesAssignsSequentialIAIDs(t *testing.T) {
	ifaces := newIfaceStore(t, "eth0")
	cfgs := []config.PrefixConfig{
		{Interface: "eth0", DUID: "00:03:00:01:aa:bb:cc:dd:ee:02", Address: "2001:db8::", Length: 56},
		{Interface: "eth0", DUID: "00:03:00:01:aa:bb:cc:dd:ee:03", Address: "2001:db8:1::", Length: 56},
	}

	prefixes, err := buildPrefixStore(cfgs, ifaces)
	require.NoError(t, err)

	vifaces, err := buildVirtualInterfaces(prefixes, ifaces, discardLog())
	require.NoError(t, err)
	require.Len(t, vifaces, 2)
	assert.Equal(t, uint32(firstIAID), vifaces[0].IAID.Uint32())
	assert.Equal(t, uint32(firstIAID+1), vifaces[1].IAID.Uint32())
}
