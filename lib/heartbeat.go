package lib

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// heartbeatMonitor sends the periodic liveness ping while the link is
// connected. It has no receive side: a silent host is only noticed when
// the stream dies or a send fails. The first send failure is reported once
// and the monitor stops itself.
type heartbeatMonitor struct {
	interval  time.Duration
	send      func(ctx context.Context, payload []byte) error
	onFailure func(err error)
	logger    *slog.Logger

	closeSignal chan struct{}
	stopOnce    sync.Once
}

func newHeartbeatMonitor(interval time.Duration, send func(context.Context, []byte) error, onFailure func(error), logger *slog.Logger) *heartbeatMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &heartbeatMonitor{
		interval:    interval,
		send:        send,
		onFailure:   onFailure,
		logger:      logger,
		closeSignal: make(chan struct{}),
	}
}

func (h *heartbeatMonitor) start() {
	go h.run()
}

func (h *heartbeatMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.closeSignal:
			return
		case <-ticker.C:
			payload, err := EncodeHeartbeat()
			if err != nil {
				h.report(fmt.Errorf("encoding heartbeat: %w", err))
				return
			}
			if err := h.send(context.Background(), payload); err != nil {
				h.report(fmt.Errorf("heartbeat send failed: %w", err))
				return
			}
			h.logger.Debug("heartbeat sent")
		}
	}
}

// report delivers the failure unless the monitor was stopped while the
// send was in flight; a stopped monitor's failure is stale by definition.
func (h *heartbeatMonitor) report(err error) {
	select {
	case <-h.closeSignal:
		return
	default:
		h.onFailure(err)
	}
}

// stop halts the ticker. Safe to call any number of times; never blocks,
// so the event loop can call it mid-teardown.
func (h *heartbeatMonitor) stop() {
	h.stopOnce.Do(func() {
		close(h.closeSignal)
	})
}
