package lib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNetworkNotFound reports that the fallback access point was not visible
// in a scan. The caller falls back to broadcast discovery instead of
// blind-connecting.
var ErrNetworkNotFound = errors.New("fallback network not visible")

// ErrAssociationVerify reports that the post-association identity check
// read back a different network than the target.
var ErrAssociationVerify = errors.New("association verification failed")

// HotspotConfig carries the fallback network identity and the pacing of the
// association flow. Production uses DefaultHotspotConfig; tests shrink the
// delays to keep the suite fast.
type HotspotConfig struct {
	SSID     string
	Password string
	HostIP   string // the host's fixed address on its own AP

	DisconnectDelay time.Duration // settle time after disassociating
	RetryDelay      time.Duration // pause between association attempts
	VerifyDelay     time.Duration // settle time before re-reading the SSID
	MaxAttempts     int
}

func DefaultHotspotConfig(ssid, password, hostIP string) HotspotConfig {
	return HotspotConfig{
		SSID:            ssid,
		Password:        password,
		HostIP:          hostIP,
		DisconnectDelay: 1 * time.Second,
		RetryDelay:      2 * time.Second,
		VerifyDelay:     2 * time.Second,
		MaxAttempts:     3,
	}
}

// HotspotAssociator moves the device onto the host's fallback access point
// when broadcast discovery cannot find the host on the current network.
type HotspotAssociator struct {
	cfg     HotspotConfig
	backend WifiBackend
	logger  *slog.Logger
}

func NewHotspotAssociator(cfg HotspotConfig, backend WifiBackend, logger *slog.Logger) *HotspotAssociator {
	if logger == nil {
		logger = slog.Default()
	}
	return &HotspotAssociator{cfg: cfg, backend: backend, logger: logger}
}

// Associate returns the host's static address once the device is verified
// to be on the fallback network. Failures are returned, never retried
// beyond the bounded association attempts; the caller owns scheduling.
func (h *HotspotAssociator) Associate(ctx context.Context) (string, error) {
	current, err := h.backend.CurrentSSID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read current network: %w", err)
	}
	if current == h.cfg.SSID {
		h.logger.Info("already on fallback network", "ssid", current)
		return h.cfg.HostIP, nil
	}

	ssids, err := h.backend.Scan(ctx)
	if err != nil {
		return "", fmt.Errorf("wifi scan failed: %w", err)
	}
	visible := false
	for _, ssid := range ssids {
		if ssid == h.cfg.SSID {
			visible = true
			break
		}
	}
	if !visible {
		return "", ErrNetworkNotFound
	}

	if err := h.backend.Disconnect(ctx); err != nil {
		return "", fmt.Errorf("failed to leave current network: %w", err)
	}
	if err := sleepCtx(ctx, h.cfg.DisconnectDelay); err != nil {
		return "", err
	}

	var lastErr error
	associated := false
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		if err := h.backend.Connect(ctx, h.cfg.SSID, h.cfg.Password); err != nil {
			lastErr = err
			h.logger.Warn("association attempt failed", "attempt", attempt, "ssid", h.cfg.SSID, "err", err)
			if attempt < h.cfg.MaxAttempts {
				if err := sleepCtx(ctx, h.cfg.RetryDelay); err != nil {
					return "", err
				}
			}
			continue
		}
		associated = true
		break
	}
	if !associated {
		return "", fmt.Errorf("failed to associate with %s after %d attempts: %w", h.cfg.SSID, h.cfg.MaxAttempts, lastErr)
	}

	// The OS reports success before the association fully settles;
	// re-read the SSID after a pause and insist it matches.
	if err := sleepCtx(ctx, h.cfg.VerifyDelay); err != nil {
		return "", err
	}
	now, err := h.backend.CurrentSSID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to verify association: %w", err)
	}
	if now != h.cfg.SSID {
		return "", fmt.Errorf("%w: on %q, want %q", ErrAssociationVerify, now, h.cfg.SSID)
	}

	h.logger.Info("fallback network associated", "ssid", h.cfg.SSID, "host", h.cfg.HostIP)
	return h.cfg.HostIP, nil
}
