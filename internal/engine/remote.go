package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"streamwatch/internal/domain"
)

// RemoteClient talks to another coordinator's engine API over HTTP. The wire
// shapes match the handlers in internal/http, so an embedded instance can
// serve as the engine for a remote one.
type RemoteClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRemoteClient builds a client for the engine at baseURL. token, when set,
// is sent as a bearer token on every request.
func NewRemoteClient(baseURL, token string) *RemoteClient {
	return &RemoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type statusPayload struct {
	ID           string  `json:"id"`
	State        string  `json:"state"`
	Progress     float64 `json:"progress"`
	DownloadRate int64   `json:"download_rate"`
	NumPeers     int     `json:"num_peers"`
	ETASeconds   *int64  `json:"eta,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

type videoFilePayload struct {
	Name       string  `json:"name"`
	Size       int64   `json:"size"`
	Downloaded int64   `json:"downloaded"`
	Progress   float64 `json:"progress"`
	MimeType   string  `json:"mime_type"`
}

type streamingInfoPayload struct {
	State     string            `json:"state"`
	Progress  float64           `json:"progress"`
	VideoFile *videoFilePayload `json:"video_file,omitempty"`
}

func (c *RemoteClient) Status(ctx context.Context, id string) (*domain.DownloadStatus, error) {
	var payload statusPayload
	if err := c.getJSON(ctx, fmt.Sprintf("/api/downloads/%s/status", url.PathEscape(id)), domain.ErrDownloadNotFound, &payload); err != nil {
		return nil, err
	}
	return &domain.DownloadStatus{
		ID:           payload.ID,
		State:        domain.DownloadState(payload.State),
		Progress:     payload.Progress,
		DownloadRate: payload.DownloadRate,
		NumPeers:     payload.NumPeers,
		ETASeconds:   payload.ETASeconds,
		ErrorMessage: payload.ErrorMessage,
	}, nil
}

func (c *RemoteClient) StreamingInfo(ctx context.Context, id string) (*domain.StreamingInfo, error) {
	var payload streamingInfoPayload
	if err := c.getJSON(ctx, fmt.Sprintf("/api/downloads/%s/streaming-info", url.PathEscape(id)), domain.ErrStreamingNotReady, &payload); err != nil {
		return nil, err
	}
	info := &domain.StreamingInfo{
		State:    domain.DownloadState(payload.State),
		Progress: payload.Progress,
	}
	if payload.VideoFile != nil {
		info.VideoFile = &domain.VideoFile{
			Name:       payload.VideoFile.Name,
			Size:       payload.VideoFile.Size,
			Downloaded: payload.VideoFile.Downloaded,
			Progress:   payload.VideoFile.Progress,
			MimeType:   payload.VideoFile.MimeType,
		}
	}
	return info, nil
}

func (c *RemoteClient) StreamURL(id, quality string) string {
	u := fmt.Sprintf("%s/api/stream/%s", c.baseURL, url.PathEscape(id))
	if quality != "" {
		u += "?quality=" + url.QueryEscape(quality)
	}
	return u
}

func (c *RemoteClient) PrioritizeStreaming(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+fmt.Sprintf("/api/downloads/%s/prioritize", url.PathEscape(id)), nil)
	if err != nil {
		return fmt.Errorf("build prioritize request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("prioritize streaming: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrDownloadNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("prioritize streaming: engine returned %s", resp.Status)
	}
	return nil
}

func (c *RemoteClient) getJSON(ctx context.Context, path string, notFound error, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build engine request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fetch %s: engine returned %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}
	return nil
}

func (c *RemoteClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

var _ Client = (*RemoteClient)(nil)
