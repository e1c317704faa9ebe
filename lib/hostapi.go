package lib

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kairos-project/kairos-link/config"
)

// HostURL builds the base address of the host's HTTP API. The API shares
// its port with the WebSocket endpoint.
func HostURL(ip string, port int) string {
	return fmt.Sprintf("http://%s:%d", ip, port)
}

// clipboardResource is the body of the host's /clipboard endpoint, both
// directions. Unlike the in-band clipboard_update frame it carries no type
// tag.
type clipboardResource struct {
	Content string `json:"content"`
}

// HostClient talks to the companion host's REST API: multipart file upload
// and the shared clipboard resource. It is independent of the WebSocket
// session; callers construct one once the peer address is known.
type HostClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

func NewHostClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HostClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = config.DefaultRequestTimeout * time.Second
	}
	return &HostClient{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

// Upload posts the file at path to the host's upload endpoint as a
// multipart form under the field name the host expects.
func (c *HostClient) Upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening upload file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("building multipart form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("reading upload file: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("finishing multipart form: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, c.baseURL+"/upload_file", &body)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload of %s rejected: %s", filepath.Base(path), resp.Status)
	}
	c.logger.Info("file uploaded to host", "file", filepath.Base(path))
	return nil
}

// FetchClipboard reads the host's clipboard resource.
func (c *HostClient) FetchClipboard(ctx context.Context) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, c.baseURL+"/clipboard", nil)
	if err != nil {
		return "", fmt.Errorf("building clipboard request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching host clipboard: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("clipboard fetch rejected: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading clipboard response: %w", err)
	}
	content := gjson.GetBytes(data, "content")
	if !content.Exists() {
		return "", fmt.Errorf("clipboard response missing content field: %.80q", data)
	}
	return content.String(), nil
}

// PushClipboard writes content to the host's clipboard resource.
func (c *HostClient) PushClipboard(ctx context.Context, content string) error {
	payload, err := json.Marshal(clipboardResource{Content: content})
	if err != nil {
		return fmt.Errorf("encoding clipboard payload: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, c.baseURL+"/clipboard", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building clipboard request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushing host clipboard: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clipboard push rejected: %s", resp.Status)
	}
	return nil
}
