package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultVolumeHTTPTimeout = 30 * time.Second

// httpVolumeClient talks to the managed volume service's files API.
// Volume paths map directly onto the URL: {endpoint}/api/files{path}.
type httpVolumeClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newHTTPVolumeClient(endpoint, token string) (*httpVolumeClient, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("volume endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid volume endpoint %q: %w", endpoint, err)
	}
	return &httpVolumeClient{
		baseURL: endpoint,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: defaultVolumeHTTPTimeout},
	}, nil
}

func (c *httpVolumeClient) fileURL(path string) string {
	return c.baseURL + "/api/files" + path
}

func (c *httpVolumeClient) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// statusError builds the error for a non-2xx response. The status code is
// part of the text so callers can detect not-found responses.
func statusError(op, path string, resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(detail))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s %s: status %d: %s", op, path, resp.StatusCode, text)
}

func (c *httpVolumeClient) Upload(ctx context.Context, path string, content []byte) error {
	req, err := c.newRequest(ctx, http.MethodPut, c.fileURL(path), bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(content))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("upload", path, resp)
	}
	return nil
}

func (c *httpVolumeClient) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.fileURL(path), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError("download", path, resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *httpVolumeClient) Stat(ctx context.Context, path string) (VolumeFileInfo, error) {
	req, err := c.newRequest(ctx, http.MethodHead, c.fileURL(path), nil)
	if err != nil {
		return VolumeFileInfo{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return VolumeFileInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return VolumeFileInfo{}, statusError("stat", path, resp)
	}

	info := VolumeFileInfo{Path: path}
	if raw := resp.Header.Get("Content-Length"); raw != "" {
		if size, err := strconv.ParseInt(raw, 10, 64); err == nil {
			info.SizeBytes = size
		}
	}
	return info, nil
}

func (c *httpVolumeClient) ListDirectory(ctx context.Context, dir string) ([]VolumeFileInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.fileURL(dir)+"?list=true", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError("list", dir, resp)
	}

	var entries []VolumeFileInfo
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode listing for %s: %w", dir, err)
	}
	return entries, nil
}

func (c *httpVolumeClient) Delete(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.fileURL(path), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("delete", path, resp)
	}
	return nil
}
