package lib

import (
	"context"
	"log/slog"
)

// WifiBackend abstracts the OS Wi-Fi control surface the associator needs.
// Implementations shell out to the platform network tool; tests inject a
// fake. An empty CurrentSSID with nil error means "not associated".
type WifiBackend interface {
	CurrentSSID(ctx context.Context) (string, error)
	Scan(ctx context.Context) ([]string, error)
	Disconnect(ctx context.Context) error
	Connect(ctx context.Context, ssid, password string) error
}

// NewSystemWifiBackend returns the backend for the current OS: nmcli on
// Linux, netsh on Windows, networksetup on macOS.
func NewSystemWifiBackend(logger *slog.Logger) WifiBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return newPlatformWifiBackend(logger)
}
