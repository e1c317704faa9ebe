package lib

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Control message type tags carried in the "type" field of JSON frames.
// These match the companion host's protocol and must not change.
const (
	TypeMobileConnect   = "mobile_connect"
	TypeHeartbeat       = "heartbeat"
	TypeHeartbeatAck    = "heartbeat_ack"
	TypeClipboardUpdate = "clipboard_update"
	TypeBrowserHandoff  = "browser_handoff"
	TypeHeadsetHandoff  = "headset_handoff"
	TypePrepareHandoff  = "prepare_handoff"
	TypeSpotifyHandoff  = "spotify_handoff"
	TypeFileStart       = "file_start"
	TypeFileEnd         = "file_end"
)

// ControlMessage is one decoded inbound JSON frame: the peeked type tag
// plus the raw bytes, which the consumer unmarshals into the concrete
// shape for its type.
type ControlMessage struct {
	Type string
	Raw  []byte
}

// DecodeControl validates a text frame and peeks its type tag without a
// full unmarshal. Frames without a string "type" field are protocol
// errors; the caller logs and drops them.
func DecodeControl(data []byte) (ControlMessage, error) {
	if !gjson.ValidBytes(data) {
		return ControlMessage{}, fmt.Errorf("malformed control frame: %.80q", data)
	}
	tag := gjson.GetBytes(data, "type")
	if tag.Type != gjson.String || tag.Str == "" {
		return ControlMessage{}, fmt.Errorf("control frame missing type tag: %.80q", data)
	}
	return ControlMessage{Type: tag.Str, Raw: data}, nil
}

// HandshakeMessage opens every session, identifying the client to the host.
type HandshakeMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"client_id"`
}

// HeartbeatMessage is the periodic liveness ping. The host may answer with
// a heartbeat_ack, which the router treats as a no-op.
type HeartbeatMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type ClipboardMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type BrowserHandoffMessage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type HeadsetHandoffMessage struct {
	Type        string `json:"type"`
	HeadsetName string `json:"headset_name"`
}

// SpotifyHandoffMessage carries the host's playback position so the client
// can resume it locally.
type SpotifyHandoffMessage struct {
	Type       string `json:"type"`
	TrackURI   string `json:"track_uri"`
	ProgressMs int64  `json:"progress_ms"`
	IsPlaying  bool   `json:"is_playing"`
	TrackName  string `json:"track_name"`
	ArtistName string `json:"artist_name"`
}

// FileStartMessage announces an incoming file. FileSize and PageNumber are
// pointers so a missing field is distinguishable from an explicit zero:
// a transfer without name or size must be aborted, while page defaults to 1.
type FileStartMessage struct {
	Type       string `json:"type"`
	FileName   string `json:"file_name"`
	FileSize   *int64 `json:"file_size"`
	PageNumber *int   `json:"page_number"`
}

// NewClientID derives a best-effort unique client identifier from the
// current wall clock. Uniqueness is not cryptographic; the host only uses
// it to tell concurrent clients apart in logs.
func NewClientID() string {
	return "mobile_" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func EncodeHandshake(clientID string) ([]byte, error) {
	return json.Marshal(HandshakeMessage{
		Type:      TypeMobileConnect,
		Timestamp: nowMillis(),
		ClientID:  clientID,
	})
}

func EncodeHeartbeat() ([]byte, error) {
	return json.Marshal(HeartbeatMessage{
		Type:      TypeHeartbeat,
		Timestamp: nowMillis(),
	})
}

func EncodeHeartbeatAck() ([]byte, error) {
	return json.Marshal(map[string]string{"type": TypeHeartbeatAck})
}

func EncodeClipboardUpdate(content string) ([]byte, error) {
	return json.Marshal(ClipboardMessage{
		Type:    TypeClipboardUpdate,
		Content: content,
	})
}

// EncodeFileStart and EncodeFileEnd build the host-side file transfer
// framing. The client library never sends these; the fake host and the
// receiver tests do.
func EncodeFileStart(name string, size int64, page int) ([]byte, error) {
	return json.Marshal(FileStartMessage{
		Type:       TypeFileStart,
		FileName:   name,
		FileSize:   &size,
		PageNumber: &page,
	})
}

func EncodeFileEnd() ([]byte, error) {
	return json.Marshal(map[string]string{"type": TypeFileEnd})
}
