package aiwaverider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/backend"
)

// Config holds the AIWaverider Drive API settings. Token and base URL come
// from configuration, never hardcoded.
type Config struct {
	BaseURL         string          `yaml:"base_url"`
	Token           string          `yaml:"token"`
	UploadTimeout   domain.Duration `yaml:"upload_timeout"`
	ChunkTimeout    domain.Duration `yaml:"chunk_timeout"`
	ListTimeout     domain.Duration `yaml:"list_timeout"`
	VideoFolder     string          `yaml:"video_folder"`
	ThumbnailFolder string          `yaml:"thumbnail_folder"`
}

// Client talks to the AIWaverider Drive HTTP API with bearer-token auth.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a client. Timeouts default to 300s whole-file, 60s per chunk,
// 30s listing.
func New(cfg Config) *Client {
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = domain.Duration(300 * time.Second)
	}
	if cfg.ChunkTimeout == 0 {
		cfg.ChunkTimeout = domain.Duration(60 * time.Second)
	}
	if cfg.ListTimeout == 0 {
		cfg.ListTimeout = domain.Duration(30 * time.Second)
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name implements backend.Backend.
func (c *Client) Name() string { return domain.BackendAIWaverider }

type listResponse struct {
	Files []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"files"`
}

// List returns the files in a remote folder via GET /files/list.
func (c *Client) List(ctx context.Context, folder string) ([]domain.RemoteFile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ListTimeout.Std())
	defer cancel()

	u := fmt.Sprintf("%s/files/list?%s", c.cfg.BaseURL,
		url.Values{"folder_path": {folder}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.Permanent(c.Name(), "list", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(c.Name(), "list", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backend.ClassifyStatus(c.Name(), "list", resp)
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, domain.Transient(c.Name(), "list", fmt.Errorf("decode response: %w", err))
	}

	files := make([]domain.RemoteFile, 0, len(lr.Files))
	for _, f := range lr.Files {
		files = append(files, domain.RemoteFile{ID: f.ID, Name: f.Name, URL: f.URL})
	}
	return files, nil
}

type uploadResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Upload sends a small file in one multipart request to POST /files/upload.
// The contentHash parameter is unused; the API has no metadata field for it.
func (c *Client) Upload(ctx context.Context, folder, localPath, contentHash string) (*domain.RemoteFile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout.Std())
	defer cancel()

	f, err := os.Open(localPath)
	if err != nil {
		return nil, domain.Permanent(c.Name(), "upload", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return nil, domain.Permanent(c.Name(), "upload", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, domain.Transient(c.Name(), "upload", err)
	}
	if err := mw.WriteField("folder_path", folder); err != nil {
		return nil, domain.Permanent(c.Name(), "upload", err)
	}
	if err := mw.Close(); err != nil {
		return nil, domain.Permanent(c.Name(), "upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/files/upload", &buf)
	if err != nil {
		return nil, domain.Permanent(c.Name(), "upload", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(c.Name(), "upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backend.ClassifyStatus(c.Name(), "upload", resp)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, domain.Transient(c.Name(), "upload", fmt.Errorf("decode response: %w", err))
	}
	return &domain.RemoteFile{ID: ur.ID, Name: filepath.Base(localPath), URL: ur.URL}, nil
}

// Update re-uploads the file; the API overwrites by name within a folder and
// exposes no update-by-id endpoint.
func (c *Client) Update(ctx context.Context, remoteID, folder, localPath, contentHash string) (*domain.RemoteFile, error) {
	if folder == "" {
		return nil, domain.Permanent(c.Name(), "update", errors.New("empty folder path"))
	}
	return c.Upload(ctx, folder, localPath, contentHash)
}

// UploadChunk sends one chunk via POST /files/upload-chunk. index is 1-based
// and chunks must arrive in strictly increasing order.
func (c *Client) UploadChunk(ctx context.Context, sess backend.ChunkSession, index int, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ChunkTimeout.Std())
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fmt.Sprintf("chunk_%d", index))
	if err != nil {
		return domain.Permanent(c.Name(), "upload-chunk", err)
	}
	if _, err := part.Write(data); err != nil {
		return domain.Permanent(c.Name(), "upload-chunk", err)
	}
	fields := map[string]string{
		"upload_id":    sess.ID,
		"chunk_number": fmt.Sprintf("%d", index),
		"total_chunks": fmt.Sprintf("%d", sess.TotalChunks),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return domain.Permanent(c.Name(), "upload-chunk", err)
		}
	}
	if err := mw.Close(); err != nil {
		return domain.Permanent(c.Name(), "upload-chunk", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/files/upload-chunk", &buf)
	if err != nil {
		return domain.Permanent(c.Name(), "upload-chunk", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Transient(c.Name(), "upload-chunk", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return backend.ClassifyStatus(c.Name(), "upload-chunk", resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// CompleteChunked finishes a session via POST /files/complete-chunked-upload.
// The session id doubles as a client-side idempotency key so a retried
// completion of an already-completed session is safe.
func (c *Client) CompleteChunked(ctx context.Context, sess backend.ChunkSession, folder string) (*domain.RemoteFile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout.Std())
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"upload_id":    sess.ID,
		"filename":     sess.Filename,
		"total_chunks": sess.TotalChunks,
		"folder_path":  folder,
	})
	if err != nil {
		return nil, domain.Permanent(c.Name(), "complete-chunked-upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/files/complete-chunked-upload", bytes.NewReader(body))
	if err != nil {
		return nil, domain.Permanent(c.Name(), "complete-chunked-upload", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", sess.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(c.Name(), "complete-chunked-upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backend.ClassifyStatus(c.Name(), "complete-chunked-upload", resp)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, domain.Transient(c.Name(), "complete-chunked-upload", fmt.Errorf("decode response: %w", err))
	}
	return &domain.RemoteFile{ID: ur.ID, Name: sess.Filename, URL: ur.URL}, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
}

var (
	_ backend.ChunkBackend = (*Client)(nil)
)
