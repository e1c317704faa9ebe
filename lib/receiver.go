package lib

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// TransferStatus is published after every chunk and at completion.
// Progress is clamped to [0,1]; a transfer announcing zero total bytes
// reports 0 until the final 100% at file_end.
type TransferStatus struct {
	FileName string
	Received int64
	Total    int64
	Progress float64
	Done     bool
}

// SinkResult carries the outcome of an asynchronous sink open back into
// the owning event loop. Gen ties it to the transfer that requested it;
// results for superseded transfers are discarded.
type SinkResult struct {
	Gen  int
	File *os.File
	Err  error
}

// FileReceiverConfig wires the receiver's collaborators and callbacks.
// NotifySink must route the result back to the goroutine that owns the
// receiver; everything else is invoked on that same goroutine.
type FileReceiverConfig struct {
	Dir        string
	Pool       *ChunkPool
	Viewer     DocumentViewer
	OnStatus   func(TransferStatus)
	NotifySink func(SinkResult)
	Logger     *slog.Logger
}

// FileReceiver materializes one incoming file at a time from file_start /
// binary chunks / file_end traffic. Chunks may arrive before the write
// sink has finished opening; they are staged in pool buffers and flushed
// in arrival order once the sink is ready, which is what keeps the final
// file equal to the chunk concatenation regardless of the race. All
// methods must be called from a single goroutine.
type FileReceiver struct {
	dir      string
	pool     *ChunkPool
	viewer   DocumentViewer
	onStatus func(TransferStatus)
	notify   func(SinkResult)
	openFile func(path string) (*os.File, error)
	logger   *slog.Logger

	active        bool
	gen           int
	fileName      string
	path          string
	totalBytes    int64
	receivedBytes int64
	page          int
	pending       []stagedChunk
	sinkOpen      bool
	sink          *os.File
	endPending    bool
}

func NewFileReceiver(cfg FileReceiverConfig) *FileReceiver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FileReceiver{
		dir:      cfg.Dir,
		pool:     cfg.Pool,
		viewer:   cfg.Viewer,
		onStatus: cfg.OnStatus,
		notify:   cfg.NotifySink,
		openFile: createDownloadFile,
		logger:   logger,
	}
}

func createDownloadFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}
	return os.Create(path)
}

// HandleFileStart begins a new transfer, unconditionally discarding any
// transfer already in flight (the host never cancels explicitly; a new
// announcement is the only signal). A file_start without a usable name or
// a size leaves the receiver inactive.
func (r *FileReceiver) HandleFileStart(msg ControlMessage) {
	var fs FileStartMessage
	if err := json.Unmarshal(msg.Raw, &fs); err != nil {
		r.logger.Warn("dropping malformed file_start", "err", err)
		return
	}

	r.discardCurrent()

	base := filepath.Base(fs.FileName)
	if fs.FileName == "" || base == "." || base == ".." || base == "/" {
		r.logger.Warn("file_start without a usable file name, transfer aborted")
		return
	}
	if fs.FileSize == nil {
		r.logger.Warn("file_start without a file size, transfer aborted", "name", base)
		return
	}
	page := 1
	if fs.PageNumber != nil {
		page = *fs.PageNumber
	}

	r.gen++
	r.active = true
	r.fileName = base
	r.path = filepath.Join(r.dir, base)
	r.totalBytes = *fs.FileSize
	r.receivedBytes = 0
	r.page = page
	r.logger.Info("file transfer started", "name", base, "bytes", r.totalBytes, "page", page)

	gen := r.gen
	path := r.path
	go func() {
		f, err := r.openFile(path)
		r.notify(SinkResult{Gen: gen, File: f, Err: err})
	}()
}

// HandleChunk consumes one binary frame. Before the sink is open the chunk
// is staged without advancing receivedBytes; afterwards it goes straight
// to disk.
func (r *FileReceiver) HandleChunk(data []byte) {
	if !r.active {
		r.logger.Debug("discarding chunk outside an active transfer", "bytes", len(data))
		return
	}

	if !r.sinkOpen {
		r.pending = append(r.pending, r.pool.Stage(data))
		r.publishProgress()
		return
	}

	if _, err := r.sink.Write(data); err != nil {
		r.logger.Error("sink write failed, transfer aborted", "path", r.path, "err", err)
		r.abortTransfer()
		return
	}
	r.receivedBytes += int64(len(data))
	r.publishProgress()
}

// CompleteSinkOpen finishes the asynchronous sink open: staged chunks are
// flushed in arrival order, each advancing receivedBytes, then subsequent
// chunks write directly. A result for a superseded generation only closes
// its stray handle.
func (r *FileReceiver) CompleteSinkOpen(ctx context.Context, res SinkResult) {
	if res.Gen != r.gen || !r.active {
		if res.File != nil {
			res.File.Close()
			r.logger.Debug("stale sink open discarded", "gen", res.Gen)
		}
		return
	}
	if res.Err != nil {
		r.logger.Error("failed to open file sink, transfer aborted", "path", r.path, "err", res.Err)
		r.abortTransfer()
		return
	}

	r.sink = res.File
	pending := r.pending
	r.pending = nil
	for i, c := range pending {
		data := c.bytes()
		if _, err := r.sink.Write(data); err != nil {
			for _, rest := range pending[i:] {
				r.pool.Release(rest)
			}
			r.logger.Error("staged chunk flush failed, transfer aborted", "path", r.path, "err", err)
			r.abortTransfer()
			return
		}
		r.receivedBytes += int64(len(data))
		r.pool.Release(c)
		r.publishProgress()
	}
	r.sinkOpen = true

	if r.endPending {
		r.finish(ctx)
	}
}

// HandleFileEnd completes the transfer. If the sink is still opening, the
// completion is deferred until CompleteSinkOpen so staged chunks are never
// lost to the arrival-order race.
func (r *FileReceiver) HandleFileEnd(ctx context.Context) {
	if !r.active {
		r.logger.Debug("file_end without an active transfer ignored")
		return
	}
	if !r.sinkOpen {
		r.endPending = true
		return
	}
	r.finish(ctx)
}

func (r *FileReceiver) finish(ctx context.Context) {
	if err := r.sink.Sync(); err != nil {
		r.logger.Warn("sink flush failed", "path", r.path, "err", err)
	}
	if err := r.sink.Close(); err != nil {
		r.logger.Warn("sink close failed", "path", r.path, "err", err)
	}
	r.sink = nil

	name, path, page := r.fileName, r.path, r.page
	received, total := r.receivedBytes, r.totalBytes
	r.active = false
	r.sinkOpen = false
	r.endPending = false

	r.logger.Info("file transfer complete", "name", name, "bytes", received)
	if r.onStatus != nil {
		r.onStatus(TransferStatus{FileName: name, Received: received, Total: total, Progress: 1.0, Done: true})
	}

	if _, err := os.Stat(path); err != nil {
		r.logger.Warn("finished transfer but the file is missing, viewer skipped", "path", path, "err", err)
		return
	}
	if r.viewer == nil {
		r.logger.Debug("no viewer collaborator, file left in place", "path", path)
		return
	}
	if err := r.viewer.ShowDocument(ctx, path, page); err != nil {
		r.logger.Warn("viewer hand-off failed", "path", path, "err", err)
	}
}

// Reset discards all transfer state. The service calls it at the start of
// every connection attempt; in-flight sink opens from before the reset
// die on the generation check.
func (r *FileReceiver) Reset() {
	r.gen++
	r.discardCurrent()
}

// Active reports whether a transfer is in flight.
func (r *FileReceiver) Active() bool {
	return r.active
}

// abortTransfer tears down the current transfer after an I/O failure.
// Only the transfer dies; the connection is untouched.
func (r *FileReceiver) abortTransfer() {
	r.discardCurrent()
}

func (r *FileReceiver) discardCurrent() {
	if r.sink != nil {
		// no graceful flush here: a discarded transfer's bytes are gone
		r.sink.Close()
		r.sink = nil
	}
	for _, c := range r.pending {
		r.pool.Release(c)
	}
	r.pending = nil
	r.active = false
	r.sinkOpen = false
	r.endPending = false
	r.fileName = ""
	r.path = ""
	r.totalBytes = 0
	r.receivedBytes = 0
	r.page = 0
}

func (r *FileReceiver) publishProgress() {
	if r.onStatus == nil {
		return
	}
	p := 0.0
	if r.totalBytes > 0 {
		p = float64(r.receivedBytes) / float64(r.totalBytes)
		if p > 1 {
			p = 1
		}
	}
	r.onStatus(TransferStatus{
		FileName: r.fileName,
		Received: r.receivedBytes,
		Total:    r.totalBytes,
		Progress: p,
	})
}
