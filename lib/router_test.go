package lib

import (
	"context"
	"errors"
	"testing"
)

type recordingCollaborators struct {
	clipboard []string
	urls      []string
	headsets  []string
	hotspotOn int
	playback  []SpotifyHandoffMessage

	clipboardErr error
}

func (c *recordingCollaborators) SetClipboard(ctx context.Context, content string) error {
	if c.clipboardErr != nil {
		return c.clipboardErr
	}
	c.clipboard = append(c.clipboard, content)
	return nil
}

func (c *recordingCollaborators) OpenURL(ctx context.Context, url string) error {
	c.urls = append(c.urls, url)
	return nil
}

func (c *recordingCollaborators) RouteToHeadset(ctx context.Context, name string) error {
	c.headsets = append(c.headsets, name)
	return nil
}

func (c *recordingCollaborators) RequestHotspotOn(ctx context.Context) error {
	c.hotspotOn++
	return nil
}

func (c *recordingCollaborators) ResumePlayback(ctx context.Context, state SpotifyHandoffMessage) error {
	c.playback = append(c.playback, state)
	return nil
}

func routeRaw(t *testing.T, r *MessageRouter, raw string) {
	t.Helper()
	msg, err := DecodeControl([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeControl(%s): %v", raw, err)
	}
	r.Route(context.Background(), msg)
}

func newTestRouter(t *testing.T, rec *recordingCollaborators) *MessageRouter {
	t.Helper()
	return NewMessageRouter(Collaborators{
		Clipboard: rec,
		Browser:   rec,
		Headset:   rec,
		Hotspot:   rec,
		Music:     rec,
	}, testLogger(t))
}

func TestRouterDispatchesByType(t *testing.T) {
	rec := &recordingCollaborators{}
	r := newTestRouter(t, rec)

	routeRaw(t, r, `{"type":"clipboard_update","content":"copied text"}`)
	routeRaw(t, r, `{"type":"browser_handoff","url":"https://example.com/doc"}`)
	routeRaw(t, r, `{"type":"headset_handoff","headset_name":"WH-1000XM4"}`)
	routeRaw(t, r, `{"type":"prepare_handoff"}`)
	routeRaw(t, r, `{"type":"spotify_handoff","track_uri":"spotify:track:abc","progress_ms":42000,"is_playing":true,"track_name":"Song","artist_name":"Band"}`)

	if len(rec.clipboard) != 1 || rec.clipboard[0] != "copied text" {
		t.Errorf("clipboard = %v", rec.clipboard)
	}
	if len(rec.urls) != 1 || rec.urls[0] != "https://example.com/doc" {
		t.Errorf("urls = %v", rec.urls)
	}
	if len(rec.headsets) != 1 || rec.headsets[0] != "WH-1000XM4" {
		t.Errorf("headsets = %v", rec.headsets)
	}
	if rec.hotspotOn != 1 {
		t.Errorf("hotspotOn = %d, want 1", rec.hotspotOn)
	}
	if len(rec.playback) != 1 || rec.playback[0].TrackURI != "spotify:track:abc" || rec.playback[0].ProgressMs != 42000 {
		t.Errorf("playback = %+v", rec.playback)
	}
}

func TestRouterHeartbeatsAreNoOps(t *testing.T) {
	rec := &recordingCollaborators{}
	r := newTestRouter(t, rec)

	routeRaw(t, r, `{"type":"heartbeat","timestamp":123}`)
	routeRaw(t, r, `{"type":"heartbeat_ack"}`)

	if len(rec.clipboard)+len(rec.urls)+len(rec.headsets)+rec.hotspotOn+len(rec.playback) != 0 {
		t.Error("liveness messages must not reach collaborators")
	}
}

func TestRouterUnknownTypeIsLoggedNotFatal(t *testing.T) {
	rec := &recordingCollaborators{}
	r := newTestRouter(t, rec)

	routeRaw(t, r, `{"type":"quantum_entangle","qubits":7}`)
	// nothing to assert beyond "no panic, no dispatch"
	if len(rec.clipboard)+len(rec.urls) != 0 {
		t.Error("unknown type dispatched somewhere")
	}
}

func TestRouterMalformedPayloadDropped(t *testing.T) {
	rec := &recordingCollaborators{}
	r := newTestRouter(t, rec)

	// valid type tag, wrong field type for the concrete struct
	routeRaw(t, r, `{"type":"browser_handoff","url":12345}`)
	if len(rec.urls) != 0 {
		t.Errorf("urls = %v, want malformed payload dropped", rec.urls)
	}
}

func TestRouterNilCollaboratorsAreSafe(t *testing.T) {
	r := NewMessageRouter(Collaborators{}, testLogger(t))

	routeRaw(t, r, `{"type":"clipboard_update","content":"x"}`)
	routeRaw(t, r, `{"type":"browser_handoff","url":"https://x"}`)
	routeRaw(t, r, `{"type":"headset_handoff","headset_name":"h"}`)
	routeRaw(t, r, `{"type":"prepare_handoff"}`)
	routeRaw(t, r, `{"type":"spotify_handoff","track_uri":"u"}`)
}

func TestRouterCollaboratorErrorIsSwallowed(t *testing.T) {
	rec := &recordingCollaborators{clipboardErr: errors.New("clipboard locked")}
	r := newTestRouter(t, rec)

	routeRaw(t, r, `{"type":"clipboard_update","content":"x"}`)
	// the error must not escape Route; subsequent routing still works
	routeRaw(t, r, `{"type":"prepare_handoff"}`)
	if rec.hotspotOn != 1 {
		t.Error("routing stopped after a collaborator error")
	}
}
