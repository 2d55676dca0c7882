// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package config loads prefixd's YAML configuration file, once, at startup.
package config

import (
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// DefaultRetryTime is applied when retry_time is absent from the config file.
const DefaultRetryTime = 60

// DefaultExpireTimeMulti is applied when expire_time_multi is absent.
const DefaultExpireTimeMulti = 1.5

// InterfaceConfig is one entry of the `interfaces` list.
type InterfaceConfig struct {
	Name string
	MAC  string // empty means auto-discover
	IP   string // empty means auto-discover
}

// PrefixConfig is one entry of the `prefixes` list.
type PrefixConfig struct {
	Interface string
	DUID      string
	Address   string
	Length    int
}

// Config holds the fully parsed prefixd configuration. Once returned from
// Load, it is never mutated.
type Config struct {
	RetryTime       int
	ExpireTimeMulti float64
	Interfaces      []InterfaceConfig
	Prefixes        []PrefixConfig
}

// Load reads the YAML file at path and returns the parsed Config, or a
// *ConfigError if the file is missing, malformed, or a section is not
// shaped as expected. Semantic validation (uniqueness, referential
// integrity) happens at bootstrap, against the value types.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yml")
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, ConfigErrorFromError(err)
	}

	cfg := &Config{
		RetryTime:       DefaultRetryTime,
		ExpireTimeMulti: DefaultExpireTimeMulti,
	}
	if v.IsSet("retry_time") {
		cfg.RetryTime = v.GetInt("retry_time")
	}
	if v.IsSet("expire_time_multi") {
		cfg.ExpireTimeMulti = v.GetFloat64("expire_time_multi")
	}

	ifaces, err := parseInterfaces(v.Get("interfaces"))
	if err != nil {
		return nil, err
	}
	cfg.Interfaces = ifaces

	prefixes, err := parsePrefixes(v.Get("prefixes"))
	if err != nil {
		return nil, err
	}
	cfg.Prefixes = prefixes

	return cfg, nil
}

func parseInterfaces(raw interface{}) ([]InterfaceConfig, error) {
	if raw == nil {
		return nil, nil
	}
	items, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, ConfigErrorFromString("`interfaces` must be a list: %v", err)
	}
	out := make([]InterfaceConfig, 0, len(items))
	for idx, item := range items {
		m, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, ConfigErrorFromString("interfaces[%d] is not a mapping", idx)
		}
		name := cast.ToString(m["name"])
		if name == "" {
			return nil, ConfigErrorFromString("interfaces[%d] is missing `name`", idx)
		}
		out = append(out, InterfaceConfig{
			Name: name,
			MAC:  cast.ToString(m["mac"]),
			IP:   cast.ToString(m["ip"]),
		})
	}
	return out, nil
}

func parsePrefixes(raw interface{}) ([]PrefixConfig, error) {
	if raw == nil {
		return nil, nil
	}
	items, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, ConfigErrorFromString("`prefixes` must be a list: %v", err)
	}
	out := make([]PrefixConfig, 0, len(items))
	for idx, item := range items {
		m, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, ConfigErrorFromString("prefixes[%d] is not a mapping", idx)
		}
		out = append(out, PrefixConfig{
			Interface: cast.ToString(m["interface"]),
			DUID:      cast.ToString(m["duid"]),
			Address:   cast.ToString(m["address"]),
			Length:    cast.ToInt(m["length"]),
		})
	}
	return out, nil
}
