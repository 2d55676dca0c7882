// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefixd.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, `
interfaces:
  - name: eth0
prefixes:
  - interface: eth0
    duid: "00:03:00:01:aa:bb:cc:dd:ee:02"
    address: "2001:db8::"
    length: 56
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultRetryTime, cfg.RetryTime)
	assert.Equal(t, DefaultExpireTimeMulti, cfg.ExpireTimeMulti)
	require.Len(t, cfg.Interfaces, 1)
	assert.Equal(t, "eth0", cfg.Interfaces[0].Name)
	assert.Empty(t, cfg.Interfaces[0].MAC)
	require.Len(t, cfg.Prefixes, 1)
	assert.Equal(t, 56, cfg.Prefixes[0].Length)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTemp(t, `
retry_time: 30
expire_time_multi: 2.0
interfaces: []
prefixes: []
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.RetryTime)
	assert.Equal(t, 2.0, cfg.ExpireTimeMulti)
	assert.Empty(t, cfg.Interfaces)
	assert.Empty(t, cfg.Prefixes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeTemp(t, "interfaces: [this is not\n  valid yaml")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadInterfaceMissingName(t *testing.T) {
	path := writeTemp(t, `
interfaces:
  - mac: "aa:bb:cc:dd:ee:01"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}

func TestLoadInterfacesNotAList(t *testing.T) {
	path := writeTemp(t, `
interfaces: "eth0"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadToleratesUnknownKeys(t *testing.T) {
	path := writeTemp(t, `
some_future_option: true
interfaces:
  - name: eth0
    mac: "aa:bb:cc:dd:ee:01"
    ip: "fe80::1"
    unused: "ignored"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Interfaces, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", cfg.Interfaces[0].MAC)
	assert.Equal(t, "fe80::1", cfg.Interfaces[0].IP)
}
