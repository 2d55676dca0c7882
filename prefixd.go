// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package prefixd wires together the configured interfaces and prefixes,
// the packet codec, the Listener/Handler/Manager workers, and blocks until
// told to stop. It is the DHCPv6-PD client daemon's bootstrap.
package prefixd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/prefixd/prefixd/config"
	"github.com/prefixd/prefixd/dhcpv6pd"
	"github.com/prefixd/prefixd/logger"
	"github.com/prefixd/prefixd/network"
	"github.com/prefixd/prefixd/store"
	"github.com/prefixd/prefixd/types"
)

// firstIAID is the first value assigned to a VirtualInterface's IAID;
// subsequent leases get 25001, 25002, ... in configuration order.
const firstIAID = 25000

// Daemon holds the running workers of one prefixd instance.
type Daemon struct {
	ifaces    *store.InterfaceStore
	prefixes  *store.PrefixStore
	manager   *dhcpv6pd.Manager
	handler   *network.Handler
	listeners []*network.Listener

	log *logrus.Entry

	stopListeners chan struct{}
	stopHandler   chan struct{}
	stopManager   chan struct{}
}

// New loads the configuration at path, resolves and validates every
// interface and prefix, and assembles (without starting) the Listener,
// Handler, and Manager workers.
func New(path string) (*Daemon, error) {
	log := logger.GetLogger("bootstrap")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	ifaces, err := buildInterfaceStore(cfg.Interfaces, log)
	if err != nil {
		return nil, err
	}

	prefixes, err := buildPrefixStore(cfg.Prefixes, ifaces)
	if err != nil {
		return nil, err
	}

	vifaces, err := buildVirtualInterfaces(prefixes, ifaces, log)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		ifaces:        ifaces,
		prefixes:      prefixes,
		stopListeners: make(chan struct{}),
		stopHandler:   make(chan struct{}),
		stopManager:   make(chan struct{}),
		log:           log,
	}

	d.manager = dhcpv6pd.NewManager(vifaces, time.Duration(cfg.RetryTime)*time.Second, cfg.ExpireTimeMulti, nil, logger.GetLogger("manager"))
	d.handler = network.NewHandler(256, ifaces, prefixes, d.manager, logger.GetLogger("handler"))

	listeners := make([]*network.Listener, 0, len(ifaces.All()))
	for _, iface := range ifaces.All() {
		l, err := network.NewListener(iface.Name, d.handler, logger.GetLogger("listener:"+iface.Name))
		if err != nil {
			return nil, fmt.Errorf("prefixd: %w", err)
		}
		listeners = append(listeners, l)
	}
	d.listeners = listeners

	// The Manager needs a Sender keyed by every Listener's raw socket, which
	// only exist once the loop above has run; wire it in after the fact.
	d.manager.SetSender(network.NewSenders(listeners))

	return d, nil
}

// VirtualInterfaces returns the managed leases, for tests and the
// integration harness to inspect state without reaching into the Manager.
func (d *Daemon) VirtualInterfaces() []*dhcpv6pd.VirtualInterface {
	return d.manager.VirtualInterfaces()
}

// Run starts the Manager, Handler, and every Listener, watches the config
// file for post-load edits (logged only; prefixd never reloads at
// runtime), and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context, configPath string) error {
	watchConfig(ctx, configPath, d.log)

	go d.manager.Run(d.stopManager)
	go d.handler.Run(d.stopHandler)
	for _, l := range d.listeners {
		go l.Run(d.stopListeners)
	}

	d.log.Infof("prefixd started with %d virtual interface(s)", len(d.manager.VirtualInterfaces()))

	<-ctx.Done()
	d.log.Infof("shutting down")

	close(d.stopListeners)
	close(d.stopHandler)
	close(d.stopManager)

	for _, l := range d.listeners {
		if err := l.Close(); err != nil {
			d.log.Warnf("error closing listener: %v", err)
		}
	}

	return nil
}

// watchConfig logs a warning if configPath changes on disk after load.
// Configuration is immutable for the lifetime of the process; this exists
// only to surface operator drift (editing the file without restarting).
func watchConfig(ctx context.Context, configPath string, log *logrus.Entry) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debugf("could not start config file watcher: %v", err)
		return
	}
	if err := watcher.Add(configPath); err != nil {
		log.Debugf("could not watch config file %s: %v", configPath, err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					log.Warnf("configuration file %s changed on disk; restart prefixd to pick up the change", configPath)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Debugf("config file watcher error: %v", err)
			}
		}
	}()
}

func buildInterfaceStore(cfgs []config.InterfaceConfig, log *logrus.Entry) (*store.InterfaceStore, error) {
	ifaces := store.NewInterfaceStore()

	seenNames := map[string]bool{}
	seenMACs := map[string]bool{}
	seenIPs := map[string]bool{}

	for _, c := range cfgs {
		mac, ip, err := resolveInterface(c, log)
		if err != nil {
			return nil, err
		}

		if seenNames[c.Name] {
			return nil, fmt.Errorf("prefixd: duplicate interface name %q", c.Name)
		}
		if seenMACs[mac.String()] {
			return nil, fmt.Errorf("prefixd: duplicate interface MAC %s", mac)
		}
		if seenIPs[ip.String()] {
			return nil, fmt.Errorf("prefixd: duplicate interface link-local address %s", ip)
		}
		seenNames[c.Name] = true
		seenMACs[mac.String()] = true
		seenIPs[ip.String()] = true

		ifaces.Add(store.PhysicalInterface{Name: c.Name, MAC: mac, LinkLocalIP: ip})
	}

	return ifaces, nil
}

// resolveInterface validates the configured MAC/IP, if given, or else
// auto-discovers them from the named OS interface; discovery failure is a
// fatal environment error per spec.md §7.
func resolveInterface(c config.InterfaceConfig, log *logrus.Entry) (types.MAC, types.IPv6Address, error) {
	ifi, err := net.InterfaceByName(c.Name)
	if err != nil {
		return types.MAC{}, types.IPv6Address{}, fmt.Errorf("prefixd: interface %q not found on host: %w", c.Name, err)
	}

	var mac types.MAC
	if c.MAC != "" {
		mac, err = types.NewMAC(c.MAC)
		if err != nil {
			return types.MAC{}, types.IPv6Address{}, err
		}
	} else {
		mac, err = types.NewMAC(ifi.HardwareAddr.String())
		if err != nil {
			return types.MAC{}, types.IPv6Address{}, fmt.Errorf("prefixd: could not auto-discover MAC for %q: %w", c.Name, err)
		}
		log.Infof("auto-discovered MAC %s for interface %s", mac, c.Name)
	}

	var ip types.IPv6Address
	if c.IP != "" {
		ip, err = types.NewIPv6Address(c.IP)
		if err != nil {
			return types.MAC{}, types.IPv6Address{}, err
		}
	} else {
		discovered, err := discoverLinkLocal(ifi)
		if err != nil {
			return types.MAC{}, types.IPv6Address{}, fmt.Errorf("prefixd: could not auto-discover link-local address for %q: %w", c.Name, err)
		}
		ip, err = types.NewIPv6Address(discovered.String())
		if err != nil {
			return types.MAC{}, types.IPv6Address{}, err
		}
		log.Infof("auto-discovered link-local address %s for interface %s", ip, c.Name)
	}

	return mac, ip, nil
}

// discoverLinkLocal returns the first fe80::/10 address assigned to ifi.
func discoverLinkLocal(ifi *net.Interface) (net.IP, error) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ipnet.IP.To4() != nil {
			continue
		}
		if ipnet.IP.IsLinkLocalUnicast() {
			return ipnet.IP, nil
		}
	}
	return nil, fmt.Errorf("no link-local address found")
}

func buildPrefixStore(cfgs []config.PrefixConfig, ifaces *store.InterfaceStore) (*store.PrefixStore, error) {
	prefixes := store.NewPrefixStore()
	seenDUIDs := map[string]bool{}

	for _, c := range cfgs {
		if _, ok := ifaces.GetByName(c.Interface); !ok {
			return nil, fmt.Errorf("prefixd: prefix references unknown interface %q", c.Interface)
		}

		duid, err := types.NewDUID(c.DUID)
		if err != nil {
			return nil, err
		}
		if seenDUIDs[duid.String()] {
			return nil, fmt.Errorf("prefixd: duplicate client DUID %s across configured prefixes", duid)
		}
		seenDUIDs[duid.String()] = true

		addr, err := types.NewIPv6Address(c.Address)
		if err != nil {
			return nil, err
		}
		length, err := types.NewPrefixLength(c.Length)
		if err != nil {
			return nil, err
		}

		prefixes.Add(store.ConfiguredPrefix{
			InterfaceName: c.Interface,
			ClientDUID:    duid,
			Address:       addr,
			Length:        length,
		})
	}

	return prefixes, nil
}

func buildVirtualInterfaces(prefixes *store.PrefixStore, ifaces *store.InterfaceStore, log *logrus.Entry) ([]*dhcpv6pd.VirtualInterface, error) {
	// IAIDs are assigned in configuration order, which is also the
	// order prefixes.All() returns since PrefixStore is append-only.
	all := prefixes.All()

	vifaces := make([]*dhcpv6pd.VirtualInterface, 0, len(all))
	for i, prefix := range all {
		iface, ok := ifaces.GetByName(prefix.InterfaceName)
		if !ok {
			return nil, fmt.Errorf("prefixd: prefix %s references unknown interface %q", prefix, prefix.InterfaceName)
		}

		iaid, err := types.NewIAID(int64(firstIAID + i))
		if err != nil {
			return nil, err
		}

		vifaces = append(vifaces, dhcpv6pd.NewVirtualInterface(iaid, prefix, iface, log))
	}

	return vifaces, nil
}
