package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/backend"
)

// Config holds the cloud-drive API settings.
type Config struct {
	BaseURL       string          `yaml:"base_url"`
	Token         string          `yaml:"token"`
	UploadTimeout domain.Duration `yaml:"upload_timeout"`
	ListTimeout   domain.Duration `yaml:"list_timeout"`
	VideoFolderID string          `yaml:"video_folder_id"`
	ThumbFolderID string          `yaml:"thumbnail_folder_id"`
	SheetFolderID string          `yaml:"sheet_folder_id"`
}

// Client talks to the cloud-drive object storage API: folder-scoped list,
// create, and update-by-id. The content hash is embedded in each file's
// description as "hash:<sha256>" so uploads are findable by content.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a client with pooled connections.
func New(cfg Config) *Client {
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = domain.Duration(300 * time.Second)
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
func (c *Client) Name() string { return domain.BackendDrive }

// HashTag formats a content hash the way it is stored in file descriptions.
func HashTag(contentHash string) string {
	return "hash:" + contentHash
}

type fileResource struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"webViewLink"`
}

type fileList struct {
	Files []fileResource `json:"files"`
}

// List returns the files in a folder.
func (c *Client) List(ctx context.Context, folder string) ([]domain.RemoteFile, error) {
	files, err := c.list(ctx, folder)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RemoteFile, 0, len(files))
	for _, f := range files {
		out = append(out, domain.RemoteFile{
			ID:          f.ID,
			Name:        f.Name,
			URL:         f.URL,
			Description: f.Description,
		})
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, folder string) ([]fileResource, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ListTimeout.Std())
	defer cancel()

	u := fmt.Sprintf("%s/files?%s", c.cfg.BaseURL, url.Values{
		"folderId": {folder},
		"fields":   {"files(id,name,description,webViewLink)"},
	}.Encode())
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

	var fl fileList
	if err := json.NewDecoder(resp.Body).Decode(&fl); err != nil {
		return nil, domain.Transient(c.Name(), "list", fmt.Errorf("decode response: %w", err))
	}
	return fl.Files, nil
}

// SearchByHash scans folder metadata for a file whose description carries the
// content hash tag. Returns nil when no match exists.
func (c *Client) SearchByHash(ctx context.Context, folder, contentHash string) (*domain.RemoteFile, error) {
	files, err := c.list(ctx, folder)
	if err != nil {
		return nil, err
	}
	tag := HashTag(contentHash)
	for _, f := range files {
		if strings.Contains(f.Description, tag) {
			return &domain.RemoteFile{
				ID:          f.ID,
				Name:        f.Name,
				URL:         f.URL,
				Description: f.Description,
			}, nil
		}
	}
	return nil, nil
}

// Upload creates a file in the folder with a multipart request: a JSON
// metadata part (name, description with hash tag, parent folder) followed by
// the media part.
func (c *Client) Upload(ctx context.Context, folder, localPath, contentHash string) (*domain.RemoteFile, error) {
	return c.send(ctx, http.MethodPost, c.cfg.BaseURL+"/files?uploadType=multipart",
		"upload", folder, localPath, contentHash)
}

// Update replaces the content of an existing file by id, keeping its folder.
func (c *Client) Update(ctx context.Context, remoteID, folder, localPath, contentHash string) (*domain.RemoteFile, error) {
	u := fmt.Sprintf("%s/files/%s?uploadType=multipart", c.cfg.BaseURL, url.PathEscape(remoteID))
	return c.send(ctx, http.MethodPatch, u, "update", folder, localPath, contentHash)
}

func (c *Client) send(ctx context.Context, method, u, op, folder, localPath, contentHash string) (*domain.RemoteFile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout.Std())
	defer cancel()

	f, err := os.Open(localPath)
	if err != nil {
		return nil, domain.Permanent(c.Name(), op, err)
	}
	defer f.Close()

	meta, err := json.Marshal(map[string]any{
		"name":        filepath.Base(localPath),
		"description": HashTag(contentHash),
		"parents":     []string{folder},
	})
	if err != nil {
		return nil, domain.Permanent(c.Name(), op, err)
	}

	// The body is streamed through a pipe so a multi-GB video never sits in
	// memory; the writer goroutine's errors surface from Do via the pipe.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeBody(mw, meta, f))
	}()

	req, err := http.NewRequestWithContext(ctx, method, u, pr)
	if err != nil {
		_ = pr.Close()
		return nil, domain.Permanent(c.Name(), op, err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(c.Name(), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backend.ClassifyStatus(c.Name(), op, resp)
	}

	var fr fileResource
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, domain.Transient(c.Name(), op, fmt.Errorf("decode response: %w", err))
	}
	return &domain.RemoteFile{ID: fr.ID, Name: fr.Name, URL: fr.URL, Description: fr.Description}, nil
}

// writeBody emits the multipart/related request: the JSON metadata part
// followed by the media part copied straight from the source reader.
func writeBody(mw *multipart.Writer, meta []byte, media io.Reader) error {
	metaPart, err := mw.CreatePart(map[string][]string{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return err
	}
	if _, err := metaPart.Write(meta); err != nil {
		return err
	}
	mediaPart, err := mw.CreatePart(map[string][]string{
		"Content-Type": {"application/octet-stream"},
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(mediaPart, media); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
}

var (
	_ backend.Backend         = (*Client)(nil)
	_ backend.ContentSearcher = (*Client)(nil)
)
