package lib

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeWifi scripts the backend: CurrentSSID walks currentSSIDs (sticking at
// the last entry), Connect consumes connectErrs per call (past the end
// means success).
type fakeWifi struct {
	currentSSIDs  []string
	currentErr    error
	scanResult    []string
	scanErr       error
	disconnectErr error
	connectErrs   []error

	currentCalls    int
	scanCalls       int
	disconnectCalls int
	connectCalls    int
}

func (f *fakeWifi) CurrentSSID(ctx context.Context) (string, error) {
	f.currentCalls++
	if f.currentErr != nil {
		return "", f.currentErr
	}
	if len(f.currentSSIDs) == 0 {
		return "", nil
	}
	i := f.currentCalls - 1
	if i >= len(f.currentSSIDs) {
		i = len(f.currentSSIDs) - 1
	}
	return f.currentSSIDs[i], nil
}

func (f *fakeWifi) Scan(ctx context.Context) ([]string, error) {
	f.scanCalls++
	return f.scanResult, f.scanErr
}

func (f *fakeWifi) Disconnect(ctx context.Context) error {
	f.disconnectCalls++
	return f.disconnectErr
}

func (f *fakeWifi) Connect(ctx context.Context, ssid, password string) error {
	f.connectCalls++
	if f.connectCalls <= len(f.connectErrs) {
		return f.connectErrs[f.connectCalls-1]
	}
	return nil
}

func testHotspotConfig() HotspotConfig {
	return HotspotConfig{
		SSID:            "KAIROS-Hotspot",
		Password:        "kairos2024",
		HostIP:          "192.168.137.1",
		DisconnectDelay: time.Millisecond,
		RetryDelay:      time.Millisecond,
		VerifyDelay:     time.Millisecond,
		MaxAttempts:     3,
	}
}

func TestAssociateAlreadyOnFallback(t *testing.T) {
	wifi := &fakeWifi{currentSSIDs: []string{"KAIROS-Hotspot"}}
	h := NewHotspotAssociator(testHotspotConfig(), wifi, testLogger(t))

	ip, err := h.Associate(context.Background())
	if err != nil {
		t.Fatalf("Associate: %v", err)
	}
	if ip != "192.168.137.1" {
		t.Errorf("ip = %q, want 192.168.137.1", ip)
	}
	if wifi.scanCalls != 0 || wifi.connectCalls != 0 || wifi.disconnectCalls != 0 {
		t.Errorf("already-associated path must not scan/connect: %+v", wifi)
	}
}

func TestAssociateNetworkNotVisible(t *testing.T) {
	wifi := &fakeWifi{
		currentSSIDs: []string{"HomeWifi"},
		scanResult:   []string{"HomeWifi", "Neighbor"},
	}
	h := NewHotspotAssociator(testHotspotConfig(), wifi, testLogger(t))

	_, err := h.Associate(context.Background())
	if !errors.Is(err, ErrNetworkNotFound) {
		t.Fatalf("err = %v, want ErrNetworkNotFound", err)
	}
	if wifi.connectCalls != 0 {
		t.Error("must not attempt association when the network is invisible")
	}
}

func TestAssociateRetriesThenSucceeds(t *testing.T) {
	wifi := &fakeWifi{
		currentSSIDs: []string{"HomeWifi", "KAIROS-Hotspot"},
		scanResult:   []string{"HomeWifi", "KAIROS-Hotspot"},
		connectErrs:  []error{errors.New("busy"), errors.New("busy")},
	}
	h := NewHotspotAssociator(testHotspotConfig(), wifi, testLogger(t))

	ip, err := h.Associate(context.Background())
	if err != nil {
		t.Fatalf("Associate: %v", err)
	}
	if ip != "192.168.137.1" {
		t.Errorf("ip = %q, want 192.168.137.1", ip)
	}
	if wifi.disconnectCalls != 1 {
		t.Errorf("disconnectCalls = %d, want 1", wifi.disconnectCalls)
	}
	if wifi.connectCalls != 3 {
		t.Errorf("connectCalls = %d, want 3 (two failures then success)", wifi.connectCalls)
	}
}

func TestAssociateExhaustsAttempts(t *testing.T) {
	boom := errors.New("radio says no")
	wifi := &fakeWifi{
		currentSSIDs: []string{"HomeWifi"},
		scanResult:   []string{"KAIROS-Hotspot"},
		connectErrs:  []error{boom, boom, boom},
	}
	h := NewHotspotAssociator(testHotspotConfig(), wifi, testLogger(t))

	_, err := h.Associate(context.Background())
	if err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrap of the last connect error", err)
	}
	if wifi.connectCalls != 3 {
		t.Errorf("connectCalls = %d, want exactly 3", wifi.connectCalls)
	}
}

func TestAssociateVerifyMismatch(t *testing.T) {
	// Connect "succeeds" but the settle re-read still shows the old network.
	wifi := &fakeWifi{
		currentSSIDs: []string{"HomeWifi", "HomeWifi"},
		scanResult:   []string{"KAIROS-Hotspot"},
	}
	h := NewHotspotAssociator(testHotspotConfig(), wifi, testLogger(t))

	_, err := h.Associate(context.Background())
	if !errors.Is(err, ErrAssociationVerify) {
		t.Fatalf("err = %v, want ErrAssociationVerify", err)
	}
}

func TestAssociateDisconnectFailureSurfaces(t *testing.T) {
	wifi := &fakeWifi{
		currentSSIDs:  []string{"HomeWifi"},
		scanResult:    []string{"KAIROS-Hotspot"},
		disconnectErr: errors.New("interface stuck"),
	}
	h := NewHotspotAssociator(testHotspotConfig(), wifi, testLogger(t))

	_, err := h.Associate(context.Background())
	if err == nil {
		t.Fatal("expected disconnect failure to surface")
	}
	if wifi.connectCalls != 0 {
		t.Error("must not attempt association after a failed disconnect")
	}
}

func TestAssociateCancelledDuringPause(t *testing.T) {
	cfg := testHotspotConfig()
	cfg.DisconnectDelay = 5 * time.Second
	wifi := &fakeWifi{
		currentSSIDs: []string{"HomeWifi"},
		scanResult:   []string{"KAIROS-Hotspot"},
	}
	h := NewHotspotAssociator(cfg, wifi, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := h.Associate(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation did not abort the settle pause promptly")
	}
}
