package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/backend"
	"github.com/aiwaverider/mediasync/internal/upload/metrics"
	"github.com/aiwaverider/mediasync/internal/upload/retry"
)

const (
	// DefaultThreshold is the size at or above which the chunked path is used.
	DefaultThreshold = 10 * 1024 * 1024
	// DefaultChunkSize is the fixed chunk size for large uploads.
	DefaultChunkSize = 5 * 1024 * 1024
)

// Config holds the chunked upload knobs.
type Config struct {
	ThresholdBytes int64 `yaml:"threshold_bytes"`
	ChunkSizeBytes int64 `yaml:"chunk_size_bytes"`
}

func (c Config) threshold() int64 {
	if c.ThresholdBytes <= 0 {
		return DefaultThreshold
	}
	return c.ThresholdBytes
}

func (c Config) chunkSize() int64 {
	if c.ChunkSizeBytes <= 0 {
		return DefaultChunkSize
	}
	return c.ChunkSizeBytes
}

// TotalChunks is the ceiling division of size by chunkSize.
func TotalChunks(size, chunkSize int64) int {
	return int((size + chunkSize - 1) / chunkSize)
}

// Uploader sends files to one backend, choosing the single-request path for
// small files and the chunked protocol for large ones. Every network call is
// individually wrapped by the backend's retry manager.
type Uploader struct {
	cfg Config
	mgr *retry.Manager
	log *slog.Logger
}

// New creates an uploader bound to one backend's retry profile.
func New(cfg Config, mgr *retry.Manager, log *slog.Logger) *Uploader {
	if log == nil {
		log = slog.Default()
	}
	return &Uploader{cfg: cfg, mgr: mgr, log: log}
}

// Upload sends the file and returns its remote identity. When existingID is
// non-empty the single-request path updates that remote file in place instead
// of creating a new one.
func (u *Uploader) Upload(ctx context.Context, be backend.Backend, folder, localPath, contentHash, existingID string) (*domain.RemoteFile, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, domain.Permanent(be.Name(), "upload", err)
	}
	size := info.Size()

	cb, chunked := be.(backend.ChunkBackend)
	if size >= u.cfg.threshold() && chunked {
		return u.uploadChunked(ctx, cb, folder, localPath, size)
	}
	return u.uploadWhole(ctx, be, folder, localPath, contentHash, existingID, size)
}

func (u *Uploader) uploadWhole(ctx context.Context, be backend.Backend, folder, localPath, contentHash, existingID string, size int64) (*domain.RemoteFile, error) {
	var remote *domain.RemoteFile
	op := func(ctx context.Context) error {
		var err error
		if existingID != "" {
			remote, err = be.Update(ctx, existingID, folder, localPath, contentHash)
		} else {
			remote, err = be.Upload(ctx, folder, localPath, contentHash)
		}
		return err
	}

	if err := u.mgr.Run(ctx, be.Name(), op); err != nil {
		metrics.UploadsTotal.WithLabelValues(be.Name(), "failure").Inc()
		return nil, err
	}

	metrics.UploadsTotal.WithLabelValues(be.Name(), "success").Inc()
	metrics.UploadBytes.WithLabelValues(be.Name()).Add(float64(size))
	u.log.Info("uploaded file",
		"backend", be.Name(), "file", filepath.Base(localPath), "bytes", size)
	return remote, nil
}

// uploadChunked streams the file sequentially, sending chunks in strictly
// increasing index order. Any chunk failing after its own retries aborts the
// whole upload; a restart re-uploads from chunk 1 under a new session id.
// Only the completion call yields the remote id.
func (u *Uploader) uploadChunked(ctx context.Context, cb backend.ChunkBackend, folder, localPath string, size int64) (*domain.RemoteFile, error) {
	chunkSize := u.cfg.chunkSize()
	sess := backend.ChunkSession{
		ID:          uuid.NewString(),
		Filename:    filepath.Base(localPath),
		TotalChunks: TotalChunks(size, chunkSize),
	}

	u.log.Info("starting chunked upload",
		"backend", cb.Name(),
		"file", sess.Filename,
		"bytes", size,
		"total_chunks", sess.TotalChunks,
		"upload_id", sess.ID)

	f, err := os.Open(localPath)
	if err != nil {
		return nil, domain.Permanent(cb.Name(), "upload-chunk", err)
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	sent := 0
	for index := 1; index <= sess.TotalChunks; index++ {
		n, err := io.ReadFull(f, buf)
		switch {
		case err == nil:
		case errors.Is(err, io.ErrUnexpectedEOF) && index == sess.TotalChunks:
			// Final partial chunk.
		case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
			return nil, domain.ChunkProtocol(cb.Name(), "upload-chunk",
				fmt.Errorf("file shrank during upload: read %d of %d chunks", index-1, sess.TotalChunks))
		default:
			return nil, domain.Transient(cb.Name(), "upload-chunk", err)
		}

		data := buf[:n]
		send := func(ctx context.Context) error {
			return cb.UploadChunk(ctx, sess, index, data)
		}
		if err := u.mgr.Run(ctx, cb.Name(), send); err != nil {
			metrics.UploadsTotal.WithLabelValues(cb.Name(), "failure").Inc()
			return nil, fmt.Errorf("chunk %d/%d: %w", index, sess.TotalChunks, err)
		}

		sent++
		metrics.ChunksUploaded.WithLabelValues(cb.Name()).Inc()
		u.log.Debug("uploaded chunk",
			"backend", cb.Name(), "chunk", index, "total_chunks", sess.TotalChunks)
	}

	if sent != sess.TotalChunks {
		return nil, domain.ChunkProtocol(cb.Name(), "upload-chunk",
			fmt.Errorf("sent %d chunks, expected %d", sent, sess.TotalChunks))
	}

	// Completion is retried like any call; the session id doubles as an
	// idempotency key in case a completed session sees a duplicate call.
	var remote *domain.RemoteFile
	complete := func(ctx context.Context) error {
		var err error
		remote, err = cb.CompleteChunked(ctx, sess, folder)
		return err
	}
	if err := u.mgr.Run(ctx, cb.Name(), complete); err != nil {
		metrics.UploadsTotal.WithLabelValues(cb.Name(), "failure").Inc()
		return nil, fmt.Errorf("complete chunked upload: %w", err)
	}

	metrics.UploadsTotal.WithLabelValues(cb.Name(), "success").Inc()
	metrics.UploadBytes.WithLabelValues(cb.Name()).Add(float64(size))
	u.log.Info("completed chunked upload",
		"backend", cb.Name(), "file", sess.Filename, "remote_id", remote.ID)
	return remote, nil
}
