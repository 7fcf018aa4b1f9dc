package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"linkbeam/pkg/logger"
	"linkbeam/pkg/protocol"
	"linkbeam/pkg/registry"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType defines the mDNS service type for linkbeam
	ServiceType = "_linkbeam._tcp"
	// Domain is the local domain for mDNS
	Domain = "local."

	DefaultMDNSRefresh     = 10 * time.Second
	DefaultMDNSScanTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNSConfig controls the optional mDNS mirror of the broadcast announcement.
type MDNSConfig struct {
	DeviceID     string
	DeviceName   string
	TransferPort int

	RefreshInterval time.Duration
	ScanTimeout     time.Duration

	Now          func() time.Time
	OnDiscovered func(p registry.Peer, isNew bool)

	registerFn registerFunc
	browseFn   browseFunc
}

func (c MDNSConfig) withDefaults() MDNSConfig {
	out := c
	if out.DeviceName == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			out.DeviceName = host
		} else {
			out.DeviceName = "linkbeam"
		}
	}
	if out.TransferPort == 0 {
		out.TransferPort = protocol.TransferPort
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultMDNSRefresh
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultMDNSScanTimeout
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// MDNS advertises the transfer endpoint over mDNS and periodically browses
// for other linkbeam instances, feeding the same registry as the broadcast
// listener.
type MDNS struct {
	cfg    MDNSConfig
	reg    *registry.Registry
	browse browseFunc

	mu      sync.Mutex
	running bool
	server  *zeroconf.Server
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMDNS creates a stopped mirror.
func NewMDNS(config MDNSConfig, reg *registry.Registry) (*MDNS, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, errors.New("device ID is required")
	}

	browse := cfg.browseFn
	if browse == nil {
		// A resolver shuts its sockets down when the browse context ends,
		// so every scan gets a fresh one.
		browse = func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			resolver, err := zeroconf.NewResolver(nil)
			if err != nil {
				return fmt.Errorf("failed to create mDNS resolver: %w", err)
			}
			return resolver.Browse(ctx, service, domain, entries)
		}
	}

	return &MDNS{cfg: cfg, reg: reg, browse: browse}, nil
}

// Start registers the service and begins periodic browsing.
func (m *MDNS) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	txtRecords := []string{
		"device_id=" + m.cfg.DeviceID,
		"device_name=" + m.cfg.DeviceName,
	}

	// Ifaces nil binds all interfaces.
	server, err := m.cfg.registerFn(m.cfg.DeviceName, ServiceType, Domain, m.cfg.TransferPort, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	m.server = server

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.loop(ctx)

	logger.Sugar.Infof("[MDNS] advertising %s on port %d", ServiceType, m.cfg.TransferPort)
	return nil
}

// Stop shuts down the advertisement and the browse loop.
func (m *MDNS) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *MDNS) loop(ctx context.Context) {
	defer m.wg.Done()

	m.scan(ctx)

	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *MDNS) scan(parent context.Context) {
	scanCtx, cancel := context.WithTimeout(parent, m.cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				peer, ok := parseEntry(entry, m.cfg.DeviceID)
				if !ok {
					continue
				}
				peer.LastSeen = m.cfg.Now()
				isNew := m.reg.Upsert(peer)
				if isNew {
					logger.Sugar.Infof("[MDNS] discovered peer: id=%s name=%q addr=%s", peer.DeviceID, peer.DeviceName, peer.Address)
				}
				if m.cfg.OnDiscovered != nil {
					m.cfg.OnDiscovered(peer, isNew)
				}
			}
		}
	}()

	if err := m.browse(scanCtx, ServiceType, Domain, entries); err != nil {
		logger.Sugar.Warnf("[MDNS] browse failed: %v", err)
		cancel()
	}

	<-scanCtx.Done()
	<-collectorDone
}

// parseEntry maps a service entry to a peer, dropping self and entries
// without a device id or IPv4 address.
func parseEntry(entry *zeroconf.ServiceEntry, selfDeviceID string) (registry.Peer, bool) {
	txt := make(map[string]string, len(entry.Text))
	for _, record := range entry.Text {
		parts := strings.SplitN(record, "=", 2)
		if len(parts) == 2 {
			txt[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	deviceID := txt["device_id"]
	if deviceID == "" || deviceID == selfDeviceID {
		return registry.Peer{}, false
	}

	var ip string
	for _, addr := range entry.AddrIPv4 {
		if addr != nil {
			ip = addr.String()
			break
		}
	}
	if ip == "" || entry.Port <= 0 {
		return registry.Peer{}, false
	}

	name := txt["device_name"]
	if name == "" {
		name = strings.TrimSpace(entry.Instance)
	}
	if name == "" {
		name = ip
	}

	return registry.Peer{
		DeviceID:   deviceID,
		DeviceName: name,
		Address:    net.JoinHostPort(ip, strconv.Itoa(entry.Port)),
	}, true
}
