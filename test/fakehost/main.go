/*
fakehost stands in for the desktop companion so the mobile client can be
exercised end to end on one machine or a LAN. It broadcasts the discovery
advertisement once per second, accepts the WebSocket session, answers
heartbeats with heartbeat_ack, and optionally pushes a clipboard update
and streams a file (file_start, 64 KiB binary chunks, file_end) to every
client that completes the handshake. The host REST surface (/upload_file,
/clipboard) is served on the same port.

Usage:
  ./fakehost [options]
  Options:
    -listen string    Listen address (default ":8000", or config protocolPort)
    -advertise string Advertise destination (default "255.255.255.255", "" disables)
    -file string      File to stream to each connecting client
    -page int         Page number to announce in file_start (default 1)
    -clip string      Clipboard text to push to each connecting client
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/kairos-project/kairos-link/config"
	"github.com/kairos-project/kairos-link/lib"
)

func main() {
	listen := flag.String("listen", "", "Listen address, host:port (default uses the config protocol port)")
	advertise := flag.String("advertise", "255.255.255.255", "Destination for discovery datagrams, empty to disable")
	file := flag.String("file", "", "File to stream to each connecting client")
	page := flag.Int("page", 1, "Page number announced with the streamed file")
	clip := flag.String("clip", "", "Clipboard text to push to each connecting client")
	flag.Parse()

	var err error
	config.AppConfig, err = config.ReadConfig("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Println("No config file found, using protocol defaults")
			config.AppConfig = config.DefaultConfig()
		} else {
			log.Fatalln("Configuration file error:", err)
		}
	}
	if *listen == "" {
		*listen = fmt.Sprintf(":%d", config.AppConfig.ProtocolPort)
	}
	if *file != "" {
		if _, err := os.Stat(*file); err != nil {
			log.Fatalln("Cannot stream file:", err)
		}
	}

	if *advertise != "" {
		go advertiseLoop(*advertise, config.AppConfig.DiscoveryPort)
	}

	h := &host{
		file:      *file,
		page:      *page,
		clip:      *clip,
		chunkSize: config.AppConfig.ChunkBufferSize,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.AppConfig.WsPath, h.handleSession)
	mux.HandleFunc("/upload_file", h.handleUpload)
	mux.HandleFunc("/clipboard", h.handleClipboard)

	log.Printf("Fake host listening on %s (ws path %s)\n", *listen, config.AppConfig.WsPath)
	if err := http.ListenAndServe(*listen, mux); err != nil {
		log.Fatalln("Serve error:", err)
	}
}

// advertiseLoop broadcasts the discovery beacon once per second, matching
// the desktop host's cadence. Go's UDP sockets allow broadcast by default.
func advertiseLoop(dest string, port int) {
	addr := &net.UDPAddr{IP: net.ParseIP(dest), Port: port}
	if addr.IP == nil {
		log.Fatalln("Bad advertise destination:", dest)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		log.Fatalln("Advertise socket error:", err)
	}
	defer conn.Close()

	for {
		ip, err := lib.LocalAdvertiseIP()
		if err != nil {
			log.Println("Advertise skipped:", err)
			time.Sleep(5 * time.Second)
			continue
		}
		payload, err := json.Marshal(lib.Advertisement{KairosPC: true, IP: &ip})
		if err != nil {
			log.Fatalln("Advertisement encode error:", err)
		}
		if _, err := conn.Write(payload); err != nil {
			log.Println("Advertise send failed:", err)
		}
		time.Sleep(1 * time.Second)
	}
}

type host struct {
	file      string
	page      int
	clip      string
	chunkSize int

	mu        sync.Mutex
	clipboard string
}

func (h *host) handleSession(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Println("Accept error:", err)
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "host closing")
	log.Printf("New session from %s\n", r.RemoteAddr)

	ctx := r.Context()
	scripted := false
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			log.Println("Session closed:", err)
			return
		}
		if typ == websocket.MessageBinary {
			log.Printf("Unexpected %d binary bytes from client ignored\n", len(data))
			continue
		}

		msg, err := lib.DecodeControl(data)
		if err != nil {
			log.Println("Undecodable frame:", err)
			continue
		}
		switch msg.Type {
		case lib.TypeMobileConnect:
			log.Printf("Client handshake: %s\n", data)
			if !scripted {
				scripted = true
				go h.runScript(ctx, c)
			}
		case lib.TypeHeartbeat:
			ack, err := lib.EncodeHeartbeatAck()
			if err != nil {
				log.Println("Ack encode error:", err)
				continue
			}
			if err := c.Write(ctx, websocket.MessageText, ack); err != nil {
				log.Println("Ack send failed:", err)
				return
			}
		case lib.TypeClipboardUpdate:
			var m lib.ClipboardMessage
			if err := json.Unmarshal(msg.Raw, &m); err != nil {
				log.Println("Bad clipboard_update:", err)
				continue
			}
			h.mu.Lock()
			h.clipboard = m.Content
			h.mu.Unlock()
			log.Printf("Client clipboard: %q\n", m.Content)
		default:
			log.Printf("Client sent %s: %s\n", msg.Type, data)
		}
	}
}

// runScript pushes the scripted actions to a freshly connected client:
// a clipboard update first, then the file stream.
func (h *host) runScript(ctx context.Context, c *websocket.Conn) {
	if h.clip != "" {
		payload, err := lib.EncodeClipboardUpdate(h.clip)
		if err != nil {
			log.Println("Clipboard encode error:", err)
			return
		}
		if err := c.Write(ctx, websocket.MessageText, payload); err != nil {
			log.Println("Clipboard push failed:", err)
			return
		}
		log.Println("Pushed clipboard update")
	}
	if h.file != "" {
		if err := h.streamFile(ctx, c); err != nil {
			log.Println("File stream failed:", err)
		}
	}
}

func (h *host) streamFile(ctx context.Context, c *websocket.Conn) error {
	f, err := os.Open(h.file)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	start, err := lib.EncodeFileStart(filepath.Base(h.file), info.Size(), h.page)
	if err != nil {
		return err
	}
	if err := c.Write(ctx, websocket.MessageText, start); err != nil {
		return err
	}

	sent := 0
	buf := make([]byte, h.chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if err := c.Write(ctx, websocket.MessageBinary, buf[:n]); err != nil {
				return err
			}
			sent += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	end, err := lib.EncodeFileEnd()
	if err != nil {
		return err
	}
	if err := c.Write(ctx, websocket.MessageText, end); err != nil {
		return err
	}
	log.Printf("Streamed %s (%d bytes, page %d)\n", filepath.Base(h.file), sent, h.page)
	return nil
}

// handleUpload saves a multipart upload under uploads/ the way the desktop
// host does.
func (h *host) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := os.MkdirAll("uploads", 0o755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	dest := filepath.Join("uploads", filepath.Base(header.Filename))
	out, err := os.Create(dest)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("Received upload %s\n", dest)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"success","filename":%q}`, filepath.Base(header.Filename))
}

func (h *host) handleClipboard(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.mu.Lock()
		content := h.clipboard
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "success", "content": content})
	case http.MethodPost:
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		h.clipboard = req.Content
		h.mu.Unlock()
		log.Printf("Clipboard set via REST: %q\n", req.Content)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success"}`))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
