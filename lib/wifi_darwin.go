//go:build darwin
// +build darwin

package lib

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

const airportBin = "/System/Library/PrivateFrameworks/Apple80211.framework/Versions/Current/Resources/airport"

// networksetupBackend drives macOS Wi-Fi through networksetup plus the
// airport utility for scanning.
type networksetupBackend struct {
	logger *slog.Logger
	device string // resolved lazily
}

func newPlatformWifiBackend(logger *slog.Logger) WifiBackend {
	return &networksetupBackend{logger: logger}
}

func (b *networksetupBackend) CurrentSSID(ctx context.Context) (string, error) {
	dev, err := b.wifiDevice(ctx)
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, "networksetup", "-getairportnetwork", dev)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to query current network: %w\nOutput: %s", err, output)
	}

	text := strings.TrimSpace(string(output))
	if _, value, found := strings.Cut(text, "Current Wi-Fi Network:"); found {
		return strings.TrimSpace(value), nil
	}
	return "", nil // "not associated" phrasing
}

func (b *networksetupBackend) Scan(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, airportBin, "-s")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to scan networks: %w\nOutput: %s", err, output)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) < 2 {
		return nil, nil
	}
	// SSIDs may contain spaces; cut each row at the BSSID column of the
	// header instead of splitting on whitespace.
	cut := strings.Index(lines[0], "BSSID")
	if cut < 0 {
		return nil, fmt.Errorf("unexpected airport scan header: %q", lines[0])
	}

	var ssids []string
	for _, line := range lines[1:] {
		if len(line) < cut {
			continue
		}
		if ssid := strings.TrimSpace(line[:cut]); ssid != "" {
			ssids = append(ssids, ssid)
		}
	}
	return ssids, nil
}

func (b *networksetupBackend) Disconnect(ctx context.Context) error {
	// Power-cycling the interface is the supported way to drop an
	// association without private APIs.
	dev, err := b.wifiDevice(ctx)
	if err != nil {
		return err
	}
	if output, err := exec.CommandContext(ctx, "networksetup", "-setairportpower", dev, "off").CombinedOutput(); err != nil {
		return fmt.Errorf("failed to power off %s: %w\nOutput: %s", dev, err, output)
	}
	if output, err := exec.CommandContext(ctx, "networksetup", "-setairportpower", dev, "on").CombinedOutput(); err != nil {
		return fmt.Errorf("failed to power on %s: %w\nOutput: %s", dev, err, output)
	}
	return nil
}

func (b *networksetupBackend) Connect(ctx context.Context, ssid, password string) error {
	dev, err := b.wifiDevice(ctx)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "networksetup", "-setairportnetwork", dev, ssid, password)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w\nOutput: %s", ssid, err, output)
	}
	// networksetup reports some failures on stdout with a zero exit code
	if text := strings.TrimSpace(string(output)); strings.Contains(text, "Failed") || strings.Contains(text, "Error") {
		return fmt.Errorf("failed to connect to %s: %s", ssid, text)
	}
	b.logger.Debug("airport connect issued", "ssid", ssid, "device", dev)
	return nil
}

func (b *networksetupBackend) wifiDevice(ctx context.Context) (string, error) {
	if b.device != "" {
		return b.device, nil
	}
	cmd := exec.CommandContext(ctx, "networksetup", "-listallhardwareports")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to list hardware ports: %w\nOutput: %s", err, output)
	}

	lines := strings.Split(string(output), "\n")
	for i, line := range lines {
		if !strings.Contains(line, "Wi-Fi") && !strings.Contains(line, "AirPort") {
			continue
		}
		if i+1 < len(lines) {
			if _, value, found := strings.Cut(lines[i+1], "Device:"); found {
				b.device = strings.TrimSpace(value)
				return b.device, nil
			}
		}
	}
	return "", fmt.Errorf("no wifi hardware port found")
}
