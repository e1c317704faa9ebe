package lib

import (
	"context"
	"fmt"
	"net"
	"time"
)

// sleepCtx waits for d unless ctx is cancelled first. The OS settle pauses
// in the association flow run through it so a state exit aborts them
// immediately.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LocalAdvertiseIP picks the local IPv4 address a host should put into its
// discovery advertisement. A connected UDP socket to a public address
// reveals the outbound interface without sending anything; if the machine
// is offline it falls back to the first usable interface address.
func LocalAdvertiseIP() (string, error) {
	if conn, err := net.Dial("udp4", "8.8.8.8:80"); err == nil {
		ip := conn.LocalAddr().(*net.UDPAddr).IP.String()
		conn.Close()
		return ip, nil
	}

	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil {
				return ip.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no usable local IPv4 address found")
}
