//go:build windows
// +build windows

package lib

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// netshBackend drives the Windows WLAN AutoConfig service through netsh.
// Connecting requires a saved profile, so Connect writes a temporary
// profile XML, registers it, and then asks for the association.
type netshBackend struct {
	logger *slog.Logger
}

func newPlatformWifiBackend(logger *slog.Logger) WifiBackend {
	return &netshBackend{logger: logger}
}

func (b *netshBackend) CurrentSSID(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "netsh", "wlan", "show", "interfaces")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to query wlan interfaces: %w\nOutput: %s", err, output)
	}

	for _, line := range strings.Split(string(output), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "SSID") || strings.HasPrefix(trimmed, "BSSID") {
			continue
		}
		if _, value, found := strings.Cut(trimmed, ":"); found {
			return strings.TrimSpace(value), nil
		}
	}
	return "", nil
}

func (b *netshBackend) Scan(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "netsh", "wlan", "show", "networks")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to scan wlan networks: %w\nOutput: %s", err, output)
	}

	var ssids []string
	for _, line := range strings.Split(string(output), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "SSID") {
			continue
		}
		if _, value, found := strings.Cut(trimmed, ":"); found {
			if ssid := strings.TrimSpace(value); ssid != "" {
				ssids = append(ssids, ssid)
			}
		}
	}
	return ssids, nil
}

func (b *netshBackend) Disconnect(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "netsh", "wlan", "disconnect")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to disconnect wlan: %w\nOutput: %s", err, output)
	}
	return nil
}

func (b *netshBackend) Connect(ctx context.Context, ssid, password string) error {
	if err := b.addProfile(ctx, ssid, password); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "netsh", "wlan", "connect", "name="+ssid)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w\nOutput: %s", ssid, err, output)
	}
	b.logger.Debug("wlan connect issued", "ssid", ssid)
	return nil
}

func (b *netshBackend) addProfile(ctx context.Context, ssid, password string) error {
	path := filepath.Join(os.TempDir(), "kairos-wlan-profile.xml")
	if err := os.WriteFile(path, []byte(wlanProfileXML(ssid, password)), 0600); err != nil {
		return fmt.Errorf("failed to write wlan profile: %w", err)
	}
	defer os.Remove(path)

	cmd := exec.CommandContext(ctx, "netsh", "wlan", "add", "profile", "filename="+path, "user=current")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to add wlan profile for %s: %w\nOutput: %s", ssid, err, output)
	}
	return nil
}

func wlanProfileXML(ssid, password string) string {
	esc := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	ssid = esc.Replace(ssid)
	password = esc.Replace(password)
	return fmt.Sprintf(`<?xml version="1.0"?>
<WLANProfile xmlns="http://www.microsoft.com/networking/WLAN/profile/v1">
	<name>%s</name>
	<SSIDConfig><SSID><name>%s</name></SSID></SSIDConfig>
	<connectionType>ESS</connectionType>
	<connectionMode>auto</connectionMode>
	<MSM><security>
		<authEncryption>
			<authentication>WPA2PSK</authentication>
			<encryption>AES</encryption>
			<useOneX>false</useOneX>
		</authEncryption>
		<sharedKey>
			<keyType>passPhrase</keyType>
			<protected>false</protected>
			<keyMaterial>%s</keyMaterial>
		</sharedKey>
	</security></MSM>
</WLANProfile>
`, ssid, ssid, password)
}
