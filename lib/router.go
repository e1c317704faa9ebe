package lib

import (
	"context"
	"encoding/json"
	"log/slog"
)

// MessageRouter dispatches decoded control messages to the external
// collaborators. Routing never returns an error: a malformed payload, a
// missing collaborator, or a collaborator failure each cost one log line
// and the message, never the session.
type MessageRouter struct {
	clipboard Clipboard
	browser   URLOpener
	headset   HeadsetRouter
	hotspot   HotspotRequester
	music     MusicPlayer
	logger    *slog.Logger
}

func NewMessageRouter(c Collaborators, logger *slog.Logger) *MessageRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageRouter{
		clipboard: c.Clipboard,
		browser:   c.Browser,
		headset:   c.Headset,
		hotspot:   c.Hotspot,
		music:     c.Music,
		logger:    logger,
	}
}

func (r *MessageRouter) Route(ctx context.Context, msg ControlMessage) {
	switch msg.Type {
	case TypeHeartbeat, TypeHeartbeatAck:
		// liveness traffic, nothing to do

	case TypeClipboardUpdate:
		var m ClipboardMessage
		if err := json.Unmarshal(msg.Raw, &m); err != nil {
			r.logger.Warn("dropping malformed clipboard_update", "err", err)
			return
		}
		if r.clipboard == nil {
			r.logger.Debug("clipboard_update ignored, no clipboard collaborator")
			return
		}
		if err := r.clipboard.SetClipboard(ctx, m.Content); err != nil {
			r.logger.Warn("clipboard collaborator failed", "err", err)
		}

	case TypeBrowserHandoff:
		var m BrowserHandoffMessage
		if err := json.Unmarshal(msg.Raw, &m); err != nil {
			r.logger.Warn("dropping malformed browser_handoff", "err", err)
			return
		}
		if r.browser == nil {
			r.logger.Debug("browser_handoff ignored, no browser collaborator")
			return
		}
		if err := r.browser.OpenURL(ctx, m.URL); err != nil {
			r.logger.Warn("browser collaborator failed", "url", m.URL, "err", err)
		}

	case TypeHeadsetHandoff:
		var m HeadsetHandoffMessage
		if err := json.Unmarshal(msg.Raw, &m); err != nil {
			r.logger.Warn("dropping malformed headset_handoff", "err", err)
			return
		}
		if r.headset == nil {
			r.logger.Debug("headset_handoff ignored, no headset collaborator")
			return
		}
		if err := r.headset.RouteToHeadset(ctx, m.HeadsetName); err != nil {
			r.logger.Warn("headset collaborator failed", "headset", m.HeadsetName, "err", err)
		}

	case TypePrepareHandoff:
		if r.hotspot == nil {
			r.logger.Debug("prepare_handoff ignored, no hotspot collaborator")
			return
		}
		if err := r.hotspot.RequestHotspotOn(ctx); err != nil {
			r.logger.Warn("hotspot collaborator failed", "err", err)
		}

	case TypeSpotifyHandoff:
		var m SpotifyHandoffMessage
		if err := json.Unmarshal(msg.Raw, &m); err != nil {
			r.logger.Warn("dropping malformed spotify_handoff", "err", err)
			return
		}
		if r.music == nil {
			r.logger.Debug("spotify_handoff ignored, no music collaborator")
			return
		}
		if err := r.music.ResumePlayback(ctx, m); err != nil {
			r.logger.Warn("music collaborator failed", "track", m.TrackName, "err", err)
		}

	default:
		r.logger.Info("unknown control message ignored", "type", msg.Type)
	}
}
