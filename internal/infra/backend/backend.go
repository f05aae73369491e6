package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aiwaverider/mediasync/internal/core/domain"
)

// Backend is an upload destination. Implementations map HTTP failures onto
// the upload error taxonomy so the retry layer can classify them.
type Backend interface {
	// Name returns the stable backend name used for breakers and ledger keys
	Name() string

	// List returns the files in a remote folder
	List(ctx context.Context, folder string) ([]domain.RemoteFile, error)

	// Upload sends the whole file in one request. contentHash may be embedded
	// in remote metadata where the backend supports it.
	Upload(ctx context.Context, folder, localPath, contentHash string) (*domain.RemoteFile, error)

	// Update replaces an existing remote file's content by id
	Update(ctx context.Context, remoteID, folder, localPath, contentHash string) (*domain.RemoteFile, error)
}

// ChunkSession identifies one in-flight chunked upload.
type ChunkSession struct {
	ID          string
	Filename    string
	TotalChunks int
}

// ChunkBackend is implemented by backends that support the chunked upload
// protocol: N ordered chunk requests followed by one completion call.
type ChunkBackend interface {
	Backend

	// UploadChunk sends one chunk. index is 1-based.
	UploadChunk(ctx context.Context, sess ChunkSession, index int, data []byte) error

	// CompleteChunked finishes the session and returns the remote identity.
	// Must be idempotent server-side for duplicate completion calls.
	CompleteChunked(ctx context.Context, sess ChunkSession, folder string) (*domain.RemoteFile, error)
}

// ContentSearcher is implemented by backends that can locate a remote file by
// its embedded content hash tag.
type ContentSearcher interface {
	// SearchByHash returns the remote file carrying the hash, or nil
	SearchByHash(ctx context.Context, folder, contentHash string) (*domain.RemoteFile, error)
}

// ClassifyStatus maps a non-2xx HTTP response onto the error taxonomy:
// 429 and 5xx are transient, everything else is permanent. The body is
// truncated into the error message for diagnostics.
func ClassifyStatus(backend, op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, string(body))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return domain.Transient(backend, op, err)
	}
	return domain.Permanent(backend, op, err)
}
