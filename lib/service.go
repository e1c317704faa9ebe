package lib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kairos-project/kairos-link/config"
)

// ErrNotConnected reports an operation that needs a live session while the
// link is down.
var ErrNotConnected = errors.New("not connected to a host")

// discoverer and associator are the two peer-address strategies as the
// event loop sees them. *DiscoveryClient and *HotspotAssociator satisfy
// them; tests script their results.
type discoverer interface {
	Listen(ctx context.Context) (string, error)
}

type associator interface {
	Associate(ctx context.Context) (string, error)
}

type dialFunc func(ctx context.Context, url string, cfg SessionConfig) (*TransportSession, error)

const (
	strategyBroadcast = "broadcast"
	strategyFallback  = "fallback"
)

// ServiceConfig carries everything a ConnectionService needs. Production
// fills it from the app config via NewServiceConfig; tests construct it
// directly with millisecond timers.
type ServiceConfig struct {
	DiscoveryPort int
	ProtocolPort  int
	WsPath        string

	DiscoveryTimeout     time.Duration
	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	WriteTimeout         time.Duration
	BackoffSchedule      []time.Duration
	MaxReconnectAttempts int

	Hotspot HotspotConfig

	DownloadDir     string
	PoolSize        int
	ChunkBufferSize int

	// Wifi is the OS backend for fallback association; nil selects the
	// platform backend.
	Wifi WifiBackend

	Collaborators Collaborators

	// Callbacks fire synchronously on the event loop; keep them fast.
	OnStateChange     func(ConnectionState)
	OnTransferStatus  func(TransferStatus)
	OnTerminalFailure func(error)

	Logger   *slog.Logger
	DebugLog *DebugLog
}

// NewServiceConfig derives the runtime service config from the app config,
// converting its integer seconds to durations.
func NewServiceConfig(c *config.Config) ServiceConfig {
	schedule := make([]time.Duration, len(c.BackoffSchedule))
	for i, s := range c.BackoffSchedule {
		schedule[i] = time.Duration(s) * time.Second
	}
	return ServiceConfig{
		DiscoveryPort:        c.DiscoveryPort,
		ProtocolPort:         c.ProtocolPort,
		WsPath:               c.WsPath,
		DiscoveryTimeout:     time.Duration(c.DiscoveryTimeout) * time.Second,
		ConnectTimeout:       time.Duration(c.ConnectTimeout) * time.Second,
		HeartbeatInterval:    time.Duration(c.HeartbeatInterval) * time.Second,
		WriteTimeout:         time.Duration(c.ConnectTimeout) * time.Second,
		BackoffSchedule:      schedule,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		Hotspot:              DefaultHotspotConfig(c.FallbackSSID, c.FallbackPassword, c.FallbackHostIP),
		DownloadDir:          c.DownloadDir,
		PoolSize:             c.PayloadPoolSize,
		ChunkBufferSize:      c.ChunkBufferSize,
	}
}

type eventKind int

const (
	evDiscoveryResult eventKind = iota
	evAssociationResult
	evDialResult
	evConnectTimeout
	evBackoffFire
	evHeartbeatFailure
	evSinkOpened
)

// serviceEvent is one async result posted back into the event loop. epoch
// ties it to the state that armed it; results from an earlier epoch are
// stale and dropped (a late timer must never corrupt a newer state).
type serviceEvent struct {
	kind    eventKind
	epoch   int
	addr    string
	session *TransportSession
	sink    SinkResult
	err     error
}

type commandKind int

const (
	cmdForceReconnect commandKind = iota
	cmdSendClipboard
)

type serviceCommand struct {
	kind    commandKind
	content string
	reply   chan error
}

// ConnectionService is the top-level orchestrator: it discovers the host,
// establishes the session, keeps it alive, and recycles the whole pipeline
// on every failure with bounded backoff. A single event-loop goroutine owns
// every piece of mutable state; helpers post their results as events.
type ConnectionService struct {
	cfg    ServiceConfig
	logger *slog.Logger

	discoverer discoverer
	associator associator
	dial       dialFunc

	router   *MessageRouter
	receiver *FileReceiver

	commands chan serviceCommand
	events   chan serviceEvent

	runCtx      context.Context
	cancelRun   context.CancelFunc
	closeSignal chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	stateMirror atomic.Int32
	peerMirror  atomic.Value // string

	// Everything below is owned by the run loop.
	state          ConnectionState
	retry          retryState
	epoch          int
	peerIP         string
	session        *TransportSession
	frames         <-chan Frame
	heartbeat      *heartbeatMonitor
	connectTimer   *time.Timer
	backoffTimer   *time.Timer
	cancelHelper   context.CancelFunc
	triedBroadcast bool
	triedFallback  bool
}

func NewConnectionService(cfg ServiceConfig) *ConnectionService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DebugLog != nil {
		logger = slog.New(cfg.DebugLog.Handler(logger.Handler()))
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = config.DefaultPayloadPoolSize
	}
	if cfg.ChunkBufferSize <= 0 {
		cfg.ChunkBufferSize = config.DefaultChunkBufferSize
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	s := &ConnectionService{
		cfg:         cfg,
		logger:      logger,
		commands:    make(chan serviceCommand, 4),
		events:      make(chan serviceEvent, 16),
		runCtx:      runCtx,
		cancelRun:   cancelRun,
		closeSignal: make(chan struct{}),
		state:       StateDisconnected,
	}

	s.receiver = NewFileReceiver(FileReceiverConfig{
		Dir:      cfg.DownloadDir,
		Pool:     NewChunkPool(cfg.PoolSize, cfg.ChunkBufferSize, false),
		Viewer:   cfg.Collaborators.Viewer,
		OnStatus: cfg.OnTransferStatus,
		NotifySink: func(res SinkResult) {
			s.postEvent(serviceEvent{kind: evSinkOpened, sink: res})
		},
		Logger: logger,
	})
	s.router = NewMessageRouter(cfg.Collaborators, logger)
	s.discoverer = NewDiscoveryClient(cfg.DiscoveryPort, cfg.DiscoveryTimeout, logger)

	wifi := cfg.Wifi
	if wifi == nil {
		wifi = NewSystemWifiBackend(logger)
	}
	s.associator = NewHotspotAssociator(cfg.Hotspot, wifi, logger)
	s.dial = DialSession

	return s
}

// Start launches the event loop and the first discovery cycle.
func (s *ConnectionService) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop shuts the service down and waits for the loop to exit. Safe to call
// more than once.
func (s *ConnectionService) Stop() {
	s.stopOnce.Do(func() {
		close(s.closeSignal)
		s.cancelRun()
	})
	s.wg.Wait()
}

// State returns a point-in-time snapshot of the connection state. The
// authoritative value lives on the loop; this mirror is for polling UIs.
func (s *ConnectionService) State() ConnectionState {
	return ConnectionState(s.stateMirror.Load())
}

// PeerIP returns the address of the host the service is connecting to or
// connected with, or "" while no peer is known. Callers use it to reach
// the host's REST API next to the WebSocket.
func (s *ConnectionService) PeerIP() string {
	ip, _ := s.peerMirror.Load().(string)
	return ip
}

// ForceReconnect resets the retry budget and restarts discovery from any
// state, including terminal disconnected.
func (s *ConnectionService) ForceReconnect() {
	select {
	case s.commands <- serviceCommand{kind: cmdForceReconnect}:
	case <-s.closeSignal:
	}
}

// SendClipboard pushes a clipboard_update to the host over the live
// session. Returns ErrNotConnected when the link is down; a send failure
// is returned and also recycles the connection.
func (s *ConnectionService) SendClipboard(content string) error {
	reply := make(chan error, 1)
	select {
	case s.commands <- serviceCommand{kind: cmdSendClipboard, content: content, reply: reply}:
	case <-s.closeSignal:
		return ErrNotConnected
	}
	select {
	case err := <-reply:
		return err
	case <-s.closeSignal:
		return ErrNotConnected
	}
}

// postEvent delivers an event from a helper goroutine without wedging it
// if the service stops first.
func (s *ConnectionService) postEvent(ev serviceEvent) {
	select {
	case s.events <- ev:
	case <-s.closeSignal:
	}
}

func (s *ConnectionService) run() {
	defer s.wg.Done()

	s.enterDiscovering()
	for {
		select {
		case <-s.closeSignal:
			s.teardown()
			s.receiver.Reset()
			s.setState(StateDisconnected)
			s.logger.Info("connection service stopped")
			return
		case cmd := <-s.commands:
			s.handleCommand(cmd)
		case ev := <-s.events:
			s.handleEvent(ev)
		case frame := <-s.frames:
			s.handleFrame(frame)
		}
	}
}

func (s *ConnectionService) handleCommand(cmd serviceCommand) {
	switch cmd.kind {
	case cmdForceReconnect:
		s.logger.Info("forced reconnect requested")
		s.retry = s.retry.reset()
		s.enterDiscovering()
	case cmdSendClipboard:
		cmd.reply <- s.pushClipboard(cmd.content)
	}
}

func (s *ConnectionService) handleEvent(ev serviceEvent) {
	switch ev.kind {
	case evSinkOpened:
		// the receiver's generation check handles staleness
		s.receiver.CompleteSinkOpen(s.runCtx, ev.sink)

	case evDiscoveryResult, evAssociationResult:
		if s.state != StateDiscovering || ev.epoch != s.epoch {
			return
		}
		if ev.err != nil {
			name := strategyBroadcast
			if ev.kind == evAssociationResult {
				name = strategyFallback
			}
			s.logger.Warn("discovery strategy failed", "strategy", name, "err", ev.err)
			s.startNextStrategy(ev.err)
			return
		}
		s.enterConnecting(ev.addr)

	case evDialResult:
		if s.state != StateConnecting || ev.epoch != s.epoch {
			if ev.session != nil {
				ev.session.Close()
			}
			return
		}
		if ev.err != nil {
			s.scheduleReconnect("session open failed", ev.err)
			return
		}
		s.session = ev.session
		s.frames = ev.session.Frames()
		// stay in connecting: only an inbound frame proves the host is there

	case evConnectTimeout:
		if s.state != StateConnecting || ev.epoch != s.epoch {
			return
		}
		s.scheduleReconnect("connection timed out",
			fmt.Errorf("no inbound frame within %v", s.cfg.ConnectTimeout))

	case evBackoffFire:
		if s.state != StateReconnecting || ev.epoch != s.epoch {
			return
		}
		s.enterDiscovering()

	case evHeartbeatFailure:
		if s.state != StateConnected || ev.epoch != s.epoch {
			return
		}
		s.scheduleReconnect("heartbeat send failed", ev.err)
	}
}

// handleFrame processes one inbound frame. The first frame of a connecting
// session completes establishment (any decodable frame counts, not a
// specific ack) and is then dispatched like any other.
func (s *ConnectionService) handleFrame(frame Frame) {
	if frame.Err != nil {
		s.scheduleReconnect("session stream failed", frame.Err)
		return
	}
	if s.state == StateConnecting {
		s.becomeConnected()
	}

	if frame.Binary {
		s.receiver.HandleChunk(frame.Data)
		return
	}
	msg, err := DecodeControl(frame.Data)
	if err != nil {
		s.logger.Warn("dropping undecodable control frame", "err", err)
		return
	}
	switch msg.Type {
	case TypeFileStart:
		s.receiver.HandleFileStart(msg)
	case TypeFileEnd:
		s.receiver.HandleFileEnd(s.runCtx)
	default:
		s.router.Route(s.runCtx, msg)
	}
}

// setState mutates the connection state, mirrors it for State(), logs the
// transition, and notifies the observer. Self-transitions are silent.
func (s *ConnectionService) setState(next ConnectionState) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.stateMirror.Store(int32(next))
	s.logger.Info("connection state changed", "from", prev.String(), "to", next.String())
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(next)
	}
}

// teardown releases every state-specific resource: in-flight helpers,
// timers, the heartbeat, and the session. Always called before entering a
// new state so nothing stale leaks into it.
func (s *ConnectionService) teardown() {
	if s.cancelHelper != nil {
		s.cancelHelper()
		s.cancelHelper = nil
	}
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	if s.backoffTimer != nil {
		s.backoffTimer.Stop()
		s.backoffTimer = nil
	}
	if s.heartbeat != nil {
		s.heartbeat.stop()
		s.heartbeat = nil
	}
	if s.session != nil {
		s.session.Close()
		s.session = nil
		s.frames = nil
	}
}

// enterDiscovering begins a fresh connection attempt: peer and transfer
// state are cleared and the first strategy of the cycle starts.
func (s *ConnectionService) enterDiscovering() {
	s.teardown()
	s.epoch++
	s.peerIP = ""
	s.peerMirror.Store("")
	s.receiver.Reset()
	s.triedBroadcast = false
	s.triedFallback = false
	s.setState(StateDiscovering)
	s.startNextStrategy(nil)
}

// startNextStrategy picks and launches the next untried peer-address
// strategy for this cycle, or schedules a reconnect when none remain.
// Early cycles lead with broadcast discovery; once the retry counter
// passes 2 the fallback AP is tried first. Association is additionally
// rate-limited: with a low counter it runs at most once per retry cycle.
func (s *ConnectionService) startNextStrategy(lastErr error) {
	fallbackReady := !s.triedFallback && s.retry.mayAssociate()

	var strategy string
	switch {
	case s.retry.fallbackFirst() && fallbackReady:
		strategy = strategyFallback
	case !s.triedBroadcast:
		strategy = strategyBroadcast
	case fallbackReady:
		strategy = strategyFallback
	default:
		if lastErr == nil {
			lastErr = ErrDiscoveryTimeout
		}
		s.scheduleReconnect("no host found by any strategy", lastErr)
		return
	}

	s.logger.Info("starting discovery strategy", "strategy", strategy, "attempt", s.retry.attempts)

	epoch := s.epoch
	ctx, cancel := context.WithCancel(s.runCtx)
	s.cancelHelper = cancel

	switch strategy {
	case strategyBroadcast:
		s.triedBroadcast = true
		go func() {
			addr, err := s.discoverer.Listen(ctx)
			s.postEvent(serviceEvent{kind: evDiscoveryResult, epoch: epoch, addr: addr, err: err})
		}()
	case strategyFallback:
		s.triedFallback = true
		s.retry = s.retry.markFallbackTried()
		go func() {
			addr, err := s.associator.Associate(ctx)
			s.postEvent(serviceEvent{kind: evAssociationResult, epoch: epoch, addr: addr, err: err})
		}()
	}
}

// enterConnecting dials the discovered peer and arms the connection
// timeout, which spans dial plus the wait for the first inbound frame.
func (s *ConnectionService) enterConnecting(addr string) {
	s.teardown()
	s.epoch++
	s.setState(StateConnecting)

	if addr == "" {
		s.scheduleReconnect("peer address missing", errors.New("discovery produced an empty peer address"))
		return
	}
	s.peerIP = addr
	s.peerMirror.Store(addr)

	epoch := s.epoch
	url := SessionURL(addr, s.cfg.ProtocolPort, s.cfg.WsPath)
	ctx, cancel := context.WithCancel(s.runCtx)
	s.cancelHelper = cancel
	go func() {
		sess, err := s.dial(ctx, url, SessionConfig{WriteTimeout: s.cfg.WriteTimeout, Logger: s.logger})
		s.postEvent(serviceEvent{kind: evDialResult, epoch: epoch, session: sess, err: err})
	}()

	s.connectTimer = time.AfterFunc(s.cfg.ConnectTimeout, func() {
		s.postEvent(serviceEvent{kind: evConnectTimeout, epoch: epoch})
	})
}

// becomeConnected completes establishment: the connect timer dies, the
// retry budget refills, and the heartbeat starts. The session survives, so
// this does not run the full teardown.
func (s *ConnectionService) becomeConnected() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	if s.cancelHelper != nil {
		s.cancelHelper()
		s.cancelHelper = nil
	}
	s.epoch++
	s.setState(StateConnected)
	s.retry = s.retry.reset()

	epoch := s.epoch
	s.heartbeat = newHeartbeatMonitor(s.cfg.HeartbeatInterval, s.session.Send, func(err error) {
		s.postEvent(serviceEvent{kind: evHeartbeatFailure, epoch: epoch, err: err})
	}, s.logger)
	s.heartbeat.start()
	s.logger.Info("link established", "peer", s.peerIP)
}

// scheduleReconnect tears the pipeline down and either arms the next
// backoff timer or, with the attempt budget spent, parks in disconnected
// until a forced reconnect.
func (s *ConnectionService) scheduleReconnect(reason string, cause error) {
	s.teardown()
	s.epoch++

	if cause == nil {
		cause = errors.New(reason)
	}

	next, delay, ok := s.retry.next(s.cfg.BackoffSchedule, s.cfg.MaxReconnectAttempts)
	s.retry = next
	if !ok {
		s.logger.Error("reconnect attempts exhausted, waiting for a manual retry",
			"reason", reason, "err", cause)
		s.receiver.Reset()
		s.setState(StateDisconnected)
		if s.cfg.OnTerminalFailure != nil {
			s.cfg.OnTerminalFailure(cause)
		}
		return
	}

	s.logger.Warn("scheduling reconnect",
		"reason", reason, "attempt", s.retry.attempts, "delay", delay, "err", cause)
	s.setState(StateReconnecting)

	epoch := s.epoch
	s.backoffTimer = time.AfterFunc(delay, func() {
		s.postEvent(serviceEvent{kind: evBackoffFire, epoch: epoch})
	})
}

// pushClipboard sends a clipboard_update on the live session. A send
// failure recycles the connection per the transient-error policy.
func (s *ConnectionService) pushClipboard(content string) error {
	if s.state != StateConnected || s.session == nil {
		return ErrNotConnected
	}
	payload, err := EncodeClipboardUpdate(content)
	if err != nil {
		return fmt.Errorf("encoding clipboard update: %w", err)
	}
	if err := s.session.Send(s.runCtx, payload); err != nil {
		s.scheduleReconnect("outbound send failed", err)
		return err
	}
	return nil
}
