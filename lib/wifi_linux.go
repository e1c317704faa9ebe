//go:build linux
// +build linux

package lib

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// nmcliBackend drives NetworkManager through the nmcli CLI.
type nmcliBackend struct {
	logger *slog.Logger
}

func newPlatformWifiBackend(logger *slog.Logger) WifiBackend {
	return &nmcliBackend{logger: logger}
}

func (b *nmcliBackend) CurrentSSID(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "nmcli", "-t", "-f", "active,ssid", "dev", "wifi")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to query active wifi network: %w\nOutput: %s", err, output)
	}

	for _, line := range strings.Split(string(output), "\n") {
		active, ssid, found := strings.Cut(line, ":")
		if !found || active != "yes" {
			continue
		}
		return unescapeTerse(ssid), nil
	}
	return "", nil
}

func (b *nmcliBackend) Scan(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "nmcli", "-t", "-f", "ssid", "dev", "wifi", "list", "--rescan", "yes")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to scan wifi networks: %w\nOutput: %s", err, output)
	}

	var ssids []string
	for _, line := range strings.Split(string(output), "\n") {
		ssid := unescapeTerse(strings.TrimSpace(line))
		if ssid != "" {
			ssids = append(ssids, ssid)
		}
	}
	return ssids, nil
}

func (b *nmcliBackend) Disconnect(ctx context.Context) error {
	dev, err := b.wifiDevice(ctx)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "nmcli", "dev", "disconnect", dev)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w\nOutput: %s", dev, err, output)
	}
	b.logger.Debug("wifi disconnected", "device", dev)
	return nil
}

func (b *nmcliBackend) Connect(ctx context.Context, ssid, password string) error {
	cmd := exec.CommandContext(ctx, "nmcli", "dev", "wifi", "connect", ssid, "password", password)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w\nOutput: %s", ssid, err, output)
	}
	b.logger.Debug("wifi connect issued", "ssid", ssid)
	return nil
}

func (b *nmcliBackend) wifiDevice(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "nmcli", "-t", "-f", "device,type", "dev")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to list network devices: %w\nOutput: %s", err, output)
	}
	for _, line := range strings.Split(string(output), "\n") {
		dev, typ, found := strings.Cut(line, ":")
		if found && typ == "wifi" {
			return dev, nil
		}
	}
	return "", fmt.Errorf("no wifi device found")
}

// unescapeTerse undoes nmcli -t escaping of ':' and '\' in field values.
func unescapeTerse(s string) string {
	s = strings.ReplaceAll(s, `\:`, ":")
	return strings.ReplaceAll(s, `\\`, `\`)
}
