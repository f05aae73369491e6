package chunk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/backend"
	"github.com/aiwaverider/mediasync/internal/upload/retry"
)

func TestTotalChunks(t *testing.T) {
	const chunkSize = 5 * 1024 * 1024
	cases := []struct {
		size int64
		want int
	}{
		{1, 1},
		{chunkSize - 1, 1},
		{chunkSize, 1},
		{chunkSize + 1, 2},
		{10 * chunkSize, 10},
		{10*chunkSize + 1, 11},
	}
	for _, tc := range cases {
		if got := TotalChunks(tc.size, chunkSize); got != tc.want {
			t.Errorf("TotalChunks(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}

// fakeChunkBackend records the protocol calls it receives.
type fakeChunkBackend struct {
	wholeCalls    int
	updateCalls   int
	chunkIndexes  []int
	chunkSizes    []int
	sessionIDs    map[string]bool
	completeCalls int

	// failChunk/failTimes make one chunk fail transiently N times.
	failChunk int
	failTimes int
	failed    int
}

func newFakeChunkBackend() *fakeChunkBackend {
	return &fakeChunkBackend{sessionIDs: make(map[string]bool)}
}

func (b *fakeChunkBackend) Name() string { return "be" }

func (b *fakeChunkBackend) List(ctx context.Context, folder string) ([]domain.RemoteFile, error) {
	return nil, nil
}

func (b *fakeChunkBackend) Upload(ctx context.Context, folder, localPath, contentHash string) (*domain.RemoteFile, error) {
	b.wholeCalls++
	return &domain.RemoteFile{ID: "whole-1", URL: "http://r/whole-1"}, nil
}

func (b *fakeChunkBackend) Update(ctx context.Context, remoteID, folder, localPath, contentHash string) (*domain.RemoteFile, error) {
	b.updateCalls++
	return &domain.RemoteFile{ID: remoteID}, nil
}

func (b *fakeChunkBackend) UploadChunk(ctx context.Context, sess backend.ChunkSession, index int, data []byte) error {
	if index == b.failChunk && b.failed < b.failTimes {
		b.failed++
		return domain.Transient("be", "upload-chunk", fmt.Errorf("http 503 on chunk %d", index))
	}
	b.chunkIndexes = append(b.chunkIndexes, index)
	b.chunkSizes = append(b.chunkSizes, len(data))
	b.sessionIDs[sess.ID] = true
	return nil
}

func (b *fakeChunkBackend) CompleteChunked(ctx context.Context, sess backend.ChunkSession, folder string) (*domain.RemoteFile, error) {
	b.completeCalls++
	return &domain.RemoteFile{ID: "chunked-1", URL: "http://r/chunked-1"}, nil
}

func fastManager(maxRetries int) *retry.Manager {
	return retry.NewManager(retry.Config{
		MaxRetries:      maxRetries,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
	}, retry.NewRegistry(retry.DefaultBreakerConfig), nil)
}

func writeFileOfSize(t *testing.T, size int) string {
	t.Helper()
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadSmallFileUsesWholePath(t *testing.T) {
	be := newFakeChunkBackend()
	u := New(Config{ThresholdBytes: 100, ChunkSizeBytes: 40}, fastManager(2), nil)

	remote, err := u.Upload(context.Background(), be, "folder", writeFileOfSize(t, 99), "hash", "")
	if err != nil {
		t.Fatalf("Upload() = %v", err)
	}
	if remote.ID != "whole-1" {
		t.Errorf("remote id = %s, want whole-1", remote.ID)
	}
	if be.wholeCalls != 1 || len(be.chunkIndexes) != 0 {
		t.Errorf("wholeCalls = %d, chunks = %d; want single-request path",
			be.wholeCalls, len(be.chunkIndexes))
	}
}

func TestUploadAtThresholdUsesChunkedPath(t *testing.T) {
	be := newFakeChunkBackend()
	u := New(Config{ThresholdBytes: 100, ChunkSizeBytes: 40}, fastManager(2), nil)

	remote, err := u.Upload(context.Background(), be, "folder", writeFileOfSize(t, 100), "hash", "")
	if err != nil {
		t.Fatalf("Upload() = %v", err)
	}
	if remote.ID != "chunked-1" {
		t.Errorf("remote id = %s, want chunked-1", remote.ID)
	}
	if be.wholeCalls != 0 {
		t.Errorf("wholeCalls = %d, want 0", be.wholeCalls)
	}
	// 100 bytes in 40-byte chunks: 40, 40, 20.
	wantIndexes := []int{1, 2, 3}
	wantSizes := []int{40, 40, 20}
	if len(be.chunkIndexes) != len(wantIndexes) {
		t.Fatalf("sent %d chunks, want %d", len(be.chunkIndexes), len(wantIndexes))
	}
	for i := range wantIndexes {
		if be.chunkIndexes[i] != wantIndexes[i] {
			t.Errorf("chunk %d index = %d, want %d", i, be.chunkIndexes[i], wantIndexes[i])
		}
		if be.chunkSizes[i] != wantSizes[i] {
			t.Errorf("chunk %d size = %d, want %d", i, be.chunkSizes[i], wantSizes[i])
		}
	}
	if be.completeCalls != 1 {
		t.Errorf("completeCalls = %d, want 1", be.completeCalls)
	}
	if len(be.sessionIDs) != 1 {
		t.Errorf("chunks used %d session ids, want 1", len(be.sessionIDs))
	}
}

func TestUploadExactMultipleOfChunkSize(t *testing.T) {
	be := newFakeChunkBackend()
	u := New(Config{ThresholdBytes: 100, ChunkSizeBytes: 40}, fastManager(2), nil)

	if _, err := u.Upload(context.Background(), be, "folder", writeFileOfSize(t, 120), "hash", ""); err != nil {
		t.Fatalf("Upload() = %v", err)
	}
	if len(be.chunkIndexes) != 3 {
		t.Fatalf("sent %d chunks, want 3", len(be.chunkIndexes))
	}
	for i, size := range be.chunkSizes {
		if size != 40 {
			t.Errorf("chunk %d size = %d, want 40: no empty trailing chunk", i+1, size)
		}
	}
}

func TestUploadChunkRetriedThenSucceeds(t *testing.T) {
	be := newFakeChunkBackend()
	be.failChunk = 2
	be.failTimes = 2
	u := New(Config{ThresholdBytes: 100, ChunkSizeBytes: 40}, fastManager(3), nil)

	remote, err := u.Upload(context.Background(), be, "folder", writeFileOfSize(t, 100), "hash", "")
	if err != nil {
		t.Fatalf("Upload() = %v", err)
	}
	if remote.ID != "chunked-1" {
		t.Errorf("remote id = %s, want chunked-1", remote.ID)
	}
	if be.completeCalls != 1 {
		t.Errorf("completeCalls = %d, want exactly 1", be.completeCalls)
	}
	// Chunk 2 failed twice before landing; order stays strictly increasing.
	wantIndexes := []int{1, 2, 3}
	if len(be.chunkIndexes) != len(wantIndexes) {
		t.Fatalf("recorded %d chunk sends, want %d", len(be.chunkIndexes), len(wantIndexes))
	}
	for i := range wantIndexes {
		if be.chunkIndexes[i] != wantIndexes[i] {
			t.Errorf("send %d index = %d, want %d", i, be.chunkIndexes[i], wantIndexes[i])
		}
	}
}

func TestUploadChunkExhaustionAbortsWholeUpload(t *testing.T) {
	be := newFakeChunkBackend()
	be.failChunk = 2
	be.failTimes = 100
	u := New(Config{ThresholdBytes: 100, ChunkSizeBytes: 40}, fastManager(2), nil)

	_, err := u.Upload(context.Background(), be, "folder", writeFileOfSize(t, 100), "hash", "")
	if err == nil {
		t.Fatal("Upload() = nil, want chunk failure")
	}
	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Errorf("error does not wrap ExhaustedError: %v", err)
	}
	if be.completeCalls != 0 {
		t.Errorf("completeCalls = %d, want 0: aborted upload must not complete", be.completeCalls)
	}
	if len(be.chunkIndexes) != 1 {
		t.Errorf("chunks after the failed one were sent: %v", be.chunkIndexes)
	}
}

func TestUploadExistingIDUpdatesInPlace(t *testing.T) {
	be := newFakeChunkBackend()
	u := New(Config{ThresholdBytes: 100, ChunkSizeBytes: 40}, fastManager(2), nil)

	remote, err := u.Upload(context.Background(), be, "folder", writeFileOfSize(t, 50), "hash", "r-old")
	if err != nil {
		t.Fatalf("Upload() = %v", err)
	}
	if remote.ID != "r-old" {
		t.Errorf("remote id = %s, want r-old", remote.ID)
	}
	if be.updateCalls != 1 || be.wholeCalls != 0 {
		t.Errorf("updateCalls = %d, wholeCalls = %d; want update path", be.updateCalls, be.wholeCalls)
	}
}

func TestUploadMissingFileIsPermanent(t *testing.T) {
	be := newFakeChunkBackend()
	u := New(Config{}, fastManager(2), nil)

	_, err := u.Upload(context.Background(), be, "folder", filepath.Join(t.TempDir(), "gone.mp4"), "hash", "")
	if err == nil {
		t.Fatal("Upload() = nil for missing file")
	}
	if !domain.IsPermanent(err) {
		t.Errorf("missing file error not classified permanent: %v", err)
	}
}

// plainBackend does not implement the chunked protocol.
type plainBackend struct{ wholeCalls int }

func (b *plainBackend) Name() string { return "plain" }
func (b *plainBackend) List(ctx context.Context, folder string) ([]domain.RemoteFile, error) {
	return nil, nil
}
func (b *plainBackend) Upload(ctx context.Context, folder, localPath, contentHash string) (*domain.RemoteFile, error) {
	b.wholeCalls++
	return &domain.RemoteFile{ID: "p1"}, nil
}
func (b *plainBackend) Update(ctx context.Context, remoteID, folder, localPath, contentHash string) (*domain.RemoteFile, error) {
	return &domain.RemoteFile{ID: remoteID}, nil
}

func TestUploadLargeFileOnPlainBackendStaysWhole(t *testing.T) {
	be := &plainBackend{}
	u := New(Config{ThresholdBytes: 100, ChunkSizeBytes: 40}, fastManager(2), nil)

	if _, err := u.Upload(context.Background(), be, "folder", writeFileOfSize(t, 500), "hash", ""); err != nil {
		t.Fatalf("Upload() = %v", err)
	}
	if be.wholeCalls != 1 {
		t.Errorf("wholeCalls = %d, want 1: backend without chunk support uses one request", be.wholeCalls)
	}
}
