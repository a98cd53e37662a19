package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
bridge:
  url: ws://localhost:9000/bridge
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SIP.Port != defaultSIPPort {
		t.Errorf("SIP.Port = %d, want %d", cfg.SIP.Port, defaultSIPPort)
	}
	if cfg.SIP.Realm != defaultRealm {
		t.Errorf("SIP.Realm = %q, want %q", cfg.SIP.Realm, defaultRealm)
	}
	if cfg.Media.RTPPortMin != defaultRTPPortMin || cfg.Media.RTPPortMax != defaultRTPPortMax {
		t.Errorf("Media range = %d-%d, want %d-%d", cfg.Media.RTPPortMin, cfg.Media.RTPPortMax, defaultRTPPortMin, defaultRTPPortMax)
	}
	if cfg.Bridge.HandshakeTimeout != 5*time.Second {
		t.Errorf("Bridge.HandshakeTimeout = %v, want 5s", cfg.Bridge.HandshakeTimeout)
	}
	if cfg.Admin.BindAddr != defaultAdminAddr {
		t.Errorf("Admin.BindAddr = %q, want %q", cfg.Admin.BindAddr, defaultAdminAddr)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
sip:
  bind_addr: 127.0.0.1
  port: 5070
  realm: example.com
media:
  rtp_port_min: 30000
  rtp_port_max: 30100
bridge:
  url: ws://localhost:9000/bridge
  handshake_timeout: 2500ms
users:
  - username: alice
    password: hunter2
    aor: "sip:alice@example.com"
trunks:
  - id: pstn1
    proxy_address: sip.carrier.example.com
    supports_outbound: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SIP.BindAddr != "127.0.0.1" || cfg.SIP.Port != 5070 || cfg.SIP.Realm != "example.com" {
		t.Errorf("SIP = %+v, unexpected", cfg.SIP)
	}
	if cfg.Media.RTPPortMin != 30000 || cfg.Media.RTPPortMax != 30100 {
		t.Errorf("Media range = %d-%d, want 30000-30100", cfg.Media.RTPPortMin, cfg.Media.RTPPortMax)
	}
	if cfg.Bridge.HandshakeTimeout != 2500*time.Millisecond {
		t.Errorf("Bridge.HandshakeTimeout = %v, want 2.5s", cfg.Bridge.HandshakeTimeout)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Username != "alice" {
		t.Fatalf("Users = %+v", cfg.Users)
	}
	if len(cfg.Trunks) != 1 || cfg.Trunks[0].ID != "pstn1" {
		t.Fatalf("Trunks = %+v", cfg.Trunks)
	}
	if cfg.Trunks[0].Transport != "UDP" {
		t.Errorf("Trunks[0].Transport = %q, want UDP default", cfg.Trunks[0].Transport)
	}
	if cfg.Trunks[0].CallsPerSecond != 5 {
		t.Errorf("Trunks[0].CallsPerSecond = %v, want default 5", cfg.Trunks[0].CallsPerSecond)
	}
}

func TestLoadRequiresBridgeURL(t *testing.T) {
	path := writeTestConfig(t, `
sip:
  port: 5060
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing bridge.url")
	}
}

func TestLoadRejectsInvertedRTPRange(t *testing.T) {
	path := writeTestConfig(t, `
bridge:
  url: ws://localhost:9000/bridge
media:
  rtp_port_min: 20000
  rtp_port_max: 10000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for inverted rtp port range")
	}
}

func TestLoadRejectsUserWithoutCredential(t *testing.T) {
	path := writeTestConfig(t, `
bridge:
  url: ws://localhost:9000/bridge
users:
  - username: alice
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for user missing ha1/password")
	}
}

func TestLoadRejectsTrunkWithoutProxyAddress(t *testing.T) {
	path := writeTestConfig(t, `
bridge:
  url: ws://localhost:9000/bridge
trunks:
  - id: pstn1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for trunk missing proxy_address")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadEnvOverridesAdvertiseAddrAndSecret(t *testing.T) {
	path := writeTestConfig(t, `
bridge:
  url: ws://localhost:9000/bridge
  secret: filesecret
`)

	t.Setenv("VOICEBRIDGE_ADVERTISE_ADDR", "203.0.113.10")
	t.Setenv("VOICEBRIDGE_BRIDGE_SECRET", "envsecret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SIP.AdvertiseAddr != "203.0.113.10" {
		t.Errorf("SIP.AdvertiseAddr = %q, want env override", cfg.SIP.AdvertiseAddr)
	}
	if cfg.Bridge.Secret != "envsecret" {
		t.Errorf("Bridge.Secret = %q, want env override", cfg.Bridge.Secret)
	}
}
