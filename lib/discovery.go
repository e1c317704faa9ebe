package lib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// ErrDiscoveryTimeout reports that no valid host advertisement arrived
// within the discovery window. The caller switches strategy on it.
var ErrDiscoveryTimeout = errors.New("discovery timed out waiting for a host advertisement")

// Advertisement is the JSON beacon the companion host broadcasts once per
// second on the discovery port. IP is a pointer so a missing field is
// distinguishable from an empty one; only a null address invalidates the
// advertisement.
type Advertisement struct {
	KairosPC bool    `json:"kairos_pc"`
	IP       *string `json:"ip"`
}

// DiscoveryClient waits on the fixed local UDP port for a host
// advertisement, bounded by a timeout.
type DiscoveryClient struct {
	port    int
	timeout time.Duration
	logger  *slog.Logger
}

func NewDiscoveryClient(port int, timeout time.Duration, logger *slog.Logger) *DiscoveryClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryClient{port: port, timeout: timeout, logger: logger}
}

// Listen binds the discovery port on all interfaces and waits for the
// first valid advertisement, returning the advertised host address.
// It returns ErrDiscoveryTimeout when the window elapses, or ctx.Err()
// when cancelled.
func (d *DiscoveryClient) Listen(ctx context.Context) (string, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: d.port})
	if err != nil {
		return "", fmt.Errorf("failed to bind discovery port %d: %w", d.port, err)
	}
	return d.wait(ctx, conn)
}

// wait consumes datagrams from conn until a valid advertisement arrives,
// the timeout elapses, or ctx is cancelled. It owns conn and closes it;
// closing an already-closed socket is harmless here.
func (d *DiscoveryClient) wait(ctx context.Context, conn *net.UDPConn) (string, error) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return "", fmt.Errorf("failed to arm discovery deadline: %w", err)
	}

	// Cancellation unblocks the read by closing the socket.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	buf := make([]byte, 2048)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return "", ErrDiscoveryTimeout
			}
			return "", fmt.Errorf("discovery receive failed: %w", err)
		}

		var ad Advertisement
		if err := json.Unmarshal(buf[:n], &ad); err != nil {
			d.logger.Debug("ignoring non-advertisement datagram", "from", src.String(), "err", err)
			continue
		}
		if !ad.KairosPC || ad.IP == nil {
			d.logger.Debug("ignoring datagram that is not a host advertisement", "from", src.String())
			continue
		}

		d.logger.Info("host advertisement received", "ip", *ad.IP, "from", src.String())
		return *ad.IP, nil
	}
}
