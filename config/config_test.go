package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestReadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, "# empty, everything defaulted\n")

	cfg, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if cfg.DiscoveryPort != DefaultDiscoveryPort {
		t.Errorf("DiscoveryPort = %d, want %d", cfg.DiscoveryPort, DefaultDiscoveryPort)
	}
	if cfg.FallbackSSID != DefaultFallbackSSID {
		t.Errorf("FallbackSSID = %q, want %q", cfg.FallbackSSID, DefaultFallbackSSID)
	}
	if cfg.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %d, want %d", cfg.ConnectTimeout, DefaultConnectTimeout)
	}
	if len(cfg.BackoffSchedule) != len(DefaultBackoffSchedule) {
		t.Fatalf("BackoffSchedule length = %d, want %d", len(cfg.BackoffSchedule), len(DefaultBackoffSchedule))
	}
	for i, d := range DefaultBackoffSchedule {
		if cfg.BackoffSchedule[i] != d {
			t.Errorf("BackoffSchedule[%d] = %d, want %d", i, cfg.BackoffSchedule[i], d)
		}
	}
}

func TestReadConfigOverrides(t *testing.T) {
	path := writeTempConfig(t, `
discoveryPort: 9999
fallbackSSID: LAB-AP
heartbeatInterval: 2
backoffSchedule: [1, 1, 2]
downloadDir: /tmp/kairos
`)

	cfg, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if cfg.DiscoveryPort != 9999 {
		t.Errorf("DiscoveryPort = %d, want 9999", cfg.DiscoveryPort)
	}
	if cfg.FallbackSSID != "LAB-AP" {
		t.Errorf("FallbackSSID = %q, want LAB-AP", cfg.FallbackSSID)
	}
	if cfg.HeartbeatInterval != 2 {
		t.Errorf("HeartbeatInterval = %d, want 2", cfg.HeartbeatInterval)
	}
	if len(cfg.BackoffSchedule) != 3 || cfg.BackoffSchedule[2] != 2 {
		t.Errorf("BackoffSchedule = %v, want [1 1 2]", cfg.BackoffSchedule)
	}
	// untouched keys keep their defaults
	if cfg.ProtocolPort != DefaultProtocolPort {
		t.Errorf("ProtocolPort = %d, want default %d", cfg.ProtocolPort, DefaultProtocolPort)
	}
}

func TestReadConfigMissingFile(t *testing.T) {
	if _, err := ReadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReadConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "discoveryPort: [not an int\n"},
		{"zero timeout", "discoveryTimeout: -1\n"},
		{"bad port", "protocolPort: 123456\n"},
		{"empty backoff", "backoffSchedule: []\n"},
		{"negative backoff entry", "backoffSchedule: [1, -2]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.content)
			if _, err := ReadConfig(path); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}
