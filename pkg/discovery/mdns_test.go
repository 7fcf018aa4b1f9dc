package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"linkbeam/pkg/registry"

	"github.com/grandcat/zeroconf"
)

func TestMDNSAdvertisesAndFeedsRegistry(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotPort     int
		gotTXT      []string
	)

	reg := registry.New(nil)
	found := make(chan registry.Peer, 8)
	m, err := NewMDNS(MDNSConfig{
		DeviceID:        "self-device",
		DeviceName:      "Alice Laptop",
		TransferPort:    12345,
		RefreshInterval: time.Hour,
		ScanTimeout:     40 * time.Millisecond,
		OnDiscovered: func(p registry.Peer, isNew bool) {
			found <- p
		},
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			entries <- testServiceEntry("self-device", "Alice Laptop", 12345, "10.0.0.1")
			entries <- testServiceEntry("peer-1", "Bob", 12345, "10.0.0.2")
			entries <- testServiceEntry("", "Anonymous", 12345, "10.0.0.3")
			<-ctx.Done()
			return nil
		},
	}, reg)
	if err != nil {
		t.Fatalf("NewMDNS failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	select {
	case p := <-found:
		if p.DeviceID != "peer-1" || p.Address != "10.0.0.2:12345" || p.DeviceName != "Bob" {
			t.Fatalf("unexpected peer %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected peer-1 to be discovered")
	}

	if gotInstance != "Alice Laptop" || gotService != ServiceType || gotPort != 12345 {
		t.Fatalf("unexpected registration: instance=%q service=%q port=%d", gotInstance, gotService, gotPort)
	}
	if len(gotTXT) != 2 || gotTXT[0] != "device_id=self-device" {
		t.Fatalf("unexpected TXT records %v", gotTXT)
	}

	waitForCondition(t, time.Second, func() bool { return reg.Len() == 1 })
	if _, ok := reg.Get("self-device"); ok {
		t.Fatalf("self entry must be filtered")
	}
}

func TestParseEntryRequiresIPv4(t *testing.T) {
	entry := testServiceEntry("peer-1", "Bob", 12345, "10.0.0.2")
	entry.AddrIPv4 = nil
	if _, ok := parseEntry(entry, "self"); ok {
		t.Fatalf("expected entry without IPv4 to be dropped")
	}
}

func testServiceEntry(deviceID, instance string, port int, ip string) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  ServiceType,
			Domain:   Domain,
		},
		HostName: instance + ".local",
		Port:     port,
		Text: []string{
			"device_id=" + deviceID,
			"device_name=" + instance,
		},
		AddrIPv4: []net.IP{net.ParseIP(ip)},
	}
}
