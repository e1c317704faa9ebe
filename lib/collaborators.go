package lib

import "context"

// External collaborator contracts. The link core only moves bytes and
// dispatches typed messages; clipboard access, URL launching, audio
// routing, hotspot toggling, playback, and document display are owned by
// whoever constructs the service. Any of these may be left nil, in which
// case the corresponding messages are logged and dropped.

type Clipboard interface {
	SetClipboard(ctx context.Context, content string) error
}

type URLOpener interface {
	OpenURL(ctx context.Context, url string) error
}

type HeadsetRouter interface {
	RouteToHeadset(ctx context.Context, name string) error
}

// HotspotRequester asks the device side to raise its fallback access point
// so the host can migrate onto it (prepare_handoff).
type HotspotRequester interface {
	RequestHotspotOn(ctx context.Context) error
}

type MusicPlayer interface {
	ResumePlayback(ctx context.Context, state SpotifyHandoffMessage) error
}

// DocumentViewer receives the finished file and the page to open it at.
type DocumentViewer interface {
	ShowDocument(ctx context.Context, path string, page int) error
}

// Collaborators bundles the injection points for service construction.
type Collaborators struct {
	Clipboard Clipboard
	Browser   URLOpener
	Headset   HeadsetRouter
	Hotspot   HotspotRequester
	Music     MusicPlayer
	Viewer    DocumentViewer
}
