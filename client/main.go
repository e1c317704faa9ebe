package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kairos-project/kairos-link/config"
	"github.com/kairos-project/kairos-link/lib"
)

// Companion client: discovers the host, keeps the link alive, and wires the
// host's messages to whatever this machine can actually do (clipboard tool,
// xdg-open). Interactive commands go in on stdin; plain lines are sent to
// the host as clipboard updates.

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the yaml configuration file")
	downloadDir := flag.String("downloads", "", "Override the download directory for received files")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	var err error
	config.AppConfig, err = config.ReadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Println("No config file found, using protocol defaults")
			config.AppConfig = config.DefaultConfig()
		} else {
			log.Fatalln("Configuration file error:", err)
		}
	}
	if *downloadDir != "" {
		config.AppConfig.DownloadDir = *downloadDir
	}

	level := slog.LevelInfo
	if *debug || config.AppConfig.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	debugLog := lib.NewDebugLog()

	svcConfig := lib.NewServiceConfig(config.AppConfig)
	svcConfig.Logger = logger
	svcConfig.DebugLog = debugLog

	routes := &logRoutes{logger: logger}
	svcConfig.Collaborators = lib.Collaborators{
		Clipboard: detectClipboard(logger),
		Headset:   routes,
		Hotspot:   routes,
		Music:     routes,
	}
	if opener := detectOpener(logger); opener != nil {
		svcConfig.Collaborators.Browser = opener
		svcConfig.Collaborators.Viewer = opener
	}
	svcConfig.OnStateChange = func(st lib.ConnectionState) {
		fmt.Printf("link: %s\n", st)
	}
	svcConfig.OnTransferStatus = func(ts lib.TransferStatus) {
		if ts.Done {
			fmt.Printf("received %s (%d bytes)\n", ts.FileName, ts.Received)
		}
	}
	svcConfig.OnTerminalFailure = func(err error) {
		fmt.Printf("gave up reconnecting: %v\ntype /retry to try again\n", err)
	}

	svc := lib.NewConnectionService(svcConfig)
	svc.Start()

	fmt.Println("Kairos link client started (press Ctrl+C to exit, /help for commands)")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go readCommands(svc, debugLog, done)

	select {
	case <-sigChan:
		fmt.Println("\nShutting down...")
	case <-done:
	}
	svc.Stop()
	fmt.Println("Kairos link client exit")
}

// readCommands serves the stdin command loop until /quit or EOF.
func readCommands(svc *lib.ConnectionService, debugLog *lib.DebugLog, done chan struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/help":
			printHelp()
		case line == "/retry":
			svc.ForceReconnect()
		case line == "/status":
			fmt.Printf("state=%s peer=%s\n", svc.State(), orDash(svc.PeerIP()))
		case line == "/fetch":
			hc, err := hostClient(svc)
			if err != nil {
				fmt.Println(err)
				continue
			}
			content, err := hc.FetchClipboard(context.Background())
			if err != nil {
				fmt.Println("fetch failed:", err)
				continue
			}
			fmt.Printf("host clipboard: %q\n", content)
		case strings.HasPrefix(line, "/upload "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/upload "))
			hc, err := hostClient(svc)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := hc.Upload(context.Background(), path); err != nil {
				fmt.Println("upload failed:", err)
				continue
			}
			fmt.Println("uploaded", path)
		case line == "/debuglog":
			printDebugTail(debugLog, 20)
		case strings.HasPrefix(line, "/"):
			fmt.Println("unknown command, /help lists them")
		default:
			if err := svc.SendClipboard(line); err != nil {
				fmt.Println("send failed:", err)
			}
		}
	}
}

func printHelp() {
	fmt.Print(`commands:
  <text>          send the line to the host as a clipboard update
  /upload <path>  upload a file to the host over its REST API
  /fetch          read the host clipboard over its REST API
  /status         show link state and peer address
  /retry          force a reconnect (also restarts after a terminal failure)
  /debuglog       print the tail of the diagnostic record
  /quit           exit
`)
}

func printDebugTail(debugLog *lib.DebugLog, n int) {
	lines := debugLog.Snapshot()
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}

// hostClient builds a REST client for the currently known peer.
func hostClient(svc *lib.ConnectionService) (*lib.HostClient, error) {
	ip := svc.PeerIP()
	if ip == "" {
		return nil, errors.New("no host known yet, wait for the link to come up")
	}
	timeout := time.Duration(config.AppConfig.RequestTimeout) * time.Second
	return lib.NewHostClient(lib.HostURL(ip, config.AppConfig.ProtocolPort), timeout, slog.Default()), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// execClipboard copies inbound clipboard content into the system clipboard
// through an external tool reading stdin.
type execClipboard struct {
	bin  string
	args []string
}

func (c *execClipboard) SetClipboard(ctx context.Context, content string) error {
	cmd := exec.CommandContext(ctx, c.bin, c.args...)
	cmd.Stdin = strings.NewReader(content)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %v (%s)", c.bin, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func detectClipboard(logger *slog.Logger) lib.Clipboard {
	if path, err := exec.LookPath("wl-copy"); err == nil {
		return &execClipboard{bin: path}
	}
	if path, err := exec.LookPath("xclip"); err == nil {
		return &execClipboard{bin: path, args: []string{"-selection", "clipboard"}}
	}
	logger.Warn("no clipboard tool found, inbound clipboard updates will only be logged")
	return nil
}

// execOpener launches URLs and received documents with the desktop opener.
type execOpener struct {
	bin    string
	logger *slog.Logger
}

func (o *execOpener) OpenURL(ctx context.Context, url string) error {
	return o.open(ctx, url)
}

func (o *execOpener) ShowDocument(ctx context.Context, path string, page int) error {
	if page > 1 {
		o.logger.Info("opener cannot jump to a page, opening at the start", "page", page)
	}
	return o.open(ctx, path)
}

func (o *execOpener) open(ctx context.Context, target string) error {
	cmd := exec.CommandContext(ctx, o.bin, target)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s %s failed: %v (%s)", o.bin, target, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func detectOpener(logger *slog.Logger) *execOpener {
	path, err := exec.LookPath("xdg-open")
	if err != nil {
		logger.Warn("xdg-open not found, URLs and documents will only be logged")
		return nil
	}
	return &execOpener{bin: path, logger: logger}
}

// logRoutes answers the collaborator contracts this machine has no real
// implementation for by logging what the host asked.
type logRoutes struct {
	logger *slog.Logger
}

func (l *logRoutes) RouteToHeadset(_ context.Context, name string) error {
	l.logger.Info("host asked to route audio", "headset", name)
	return nil
}

func (l *logRoutes) RequestHotspotOn(context.Context) error {
	l.logger.Info("host asked for the fallback hotspot; raise it manually if needed")
	return nil
}

func (l *logRoutes) ResumePlayback(_ context.Context, state lib.SpotifyHandoffMessage) error {
	l.logger.Info("host handed off playback",
		"track", state.TrackName, "artist", state.ArtistName,
		"progress_ms", state.ProgressMs, "playing", state.IsPlaying)
	return nil
}
