package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/semaphore"

	"github.com/aiwaverider/mediasync/internal/core/domain"
)

// hashBlockSize keeps memory bounded while hashing multi-hundred-MB videos.
const hashBlockSize = 64 * 1024

// Hasher computes streaming SHA-256 content hashes. A weighted semaphore
// bounds how many file reads run at once so large files can't stall every
// worker simultaneously.
type Hasher struct {
	sem *semaphore.Weighted
}

// NewHasher creates a hasher allowing maxConcurrent file reads.
func NewHasher(maxConcurrent int64) *Hasher {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Hasher{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Sum returns the hex SHA-256 of the file contents, read in fixed-size
// blocks. The file is never loaded into memory whole.
func (h *Hasher) Sum(ctx context.Context, path string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	f, err := os.Open(path)
	if err != nil {
		return "", domain.Permanent("", "hash", err)
	}
	defer f.Close()

	sum := sha256.New()
	buf := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(sum, f, buf); err != nil {
		return "", domain.Transient("", "hash", fmt.Errorf("read %s: %w", path, err))
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
