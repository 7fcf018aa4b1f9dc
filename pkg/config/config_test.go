package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"linkbeam/pkg/protocol"

	"github.com/google/uuid"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DiscoveryPort != protocol.DiscoveryPort || cfg.TransferPort != protocol.TransferPort {
		t.Fatalf("unexpected ports %+v", cfg)
	}
	if cfg.BroadcastAddr != protocol.BroadcastAddr || cfg.DownloadDir != DefaultDownloadDir {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DeviceName == "" {
		t.Fatalf("expected a default device name")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := Config{
		DeviceName:      "desk",
		TransferPort:    20000,
		DownloadDir:     "/tmp/inbox",
		MDNS:            true,
		MetricsInterval: "30s",
	}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if out.DeviceName != "desk" || out.TransferPort != 20000 || !out.MDNS || out.DownloadDir != "/tmp/inbox" {
		t.Fatalf("unexpected config %+v", out)
	}
	if out.DiscoveryPort != protocol.DiscoveryPort {
		t.Fatalf("default discovery port not applied: %d", out.DiscoveryPort)
	}
	if d, err := out.MetricsEvery(); err != nil || d != 30*time.Second {
		t.Fatalf("MetricsEvery=%v err=%v", d, err)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("transfer_port: [oops"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{}
	ApplyDefaults(&valid)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.DeviceName = " " }},
		{"discovery port", func(c *Config) { c.DiscoveryPort = 70000 }},
		{"transfer port", func(c *Config) { c.TransferPort = -1 }},
		{"broadcast", func(c *Config) { c.BroadcastAddr = "not-an-ip" }},
		{"broadcast v6", func(c *Config) { c.BroadcastAddr = "::1" }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"metrics", func(c *Config) { c.MetricsInterval = "soon" }},
	}
	for _, tc := range cases {
		cfg := valid
		tc.mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestMetricsEveryDisabled(t *testing.T) {
	for _, v := range []string{"0", "off"} {
		d, err := Config{MetricsInterval: v}.MetricsEvery()
		if err != nil || d != 0 {
			t.Fatalf("%q: d=%v err=%v", v, d, err)
		}
	}
}

func TestNewDeviceIDIsUUID(t *testing.T) {
	a, b := NewDeviceID(), NewDeviceID()
	if a == b {
		t.Fatalf("device ids should differ")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("not a uuid: %v", err)
	}
}
