package e2e

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/backend/aiwaverider"
	"github.com/aiwaverider/mediasync/internal/infra/storage"
	"github.com/aiwaverider/mediasync/internal/infra/storage/sqlite"
	"github.com/aiwaverider/mediasync/internal/pipeline"
	"github.com/aiwaverider/mediasync/internal/queue"
	"github.com/aiwaverider/mediasync/internal/upload/chunk"
	"github.com/aiwaverider/mediasync/internal/upload/gate"
	"github.com/aiwaverider/mediasync/internal/upload/retry"
)

func newE2EDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewDB(context.Background(), sqlite.Config{
		Path: filepath.Join(t.TempDir(), "e2e.db"),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func fastManager(maxRetries int) *retry.Manager {
	return retry.NewManager(retry.Config{
		MaxRetries:      maxRetries,
		BaseDelay:       time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		ExponentialBase: 2.0,
	}, retry.NewRegistry(retry.DefaultBreakerConfig), nil)
}

func waitTerminal(t *testing.T, tasks storage.TaskRepository, id int64) *domain.Task {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		task, err := tasks.Get(context.Background(), id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("poll task %d: %v", id, err)
		}
		if err == nil && task.Terminal() {
			return task
		}
		select {
		case <-deadline:
			t.Fatalf("task %d never reached a terminal state (last: %+v)", id, task)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// chunkServer fakes the AIWaverider chunked upload API. failures maps a chunk
// number to how many times it should be rejected with 503 before succeeding.
type chunkServer struct {
	mu          sync.Mutex
	chunkSeq    []int
	chunkBytes  map[int][]byte
	completions int
	failures    map[int]int
}

func (s *chunkServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/list":
			w.Write([]byte(`{"files":[]}`))

		case "/files/upload-chunk":
			if err := r.ParseMultipartForm(32 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			index, _ := strconv.Atoi(r.FormValue("chunk_number"))
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer f.Close()
			var buf bytes.Buffer
			buf.ReadFrom(f)

			s.mu.Lock()
			s.chunkSeq = append(s.chunkSeq, index)
			if s.failures[index] > 0 {
				s.failures[index]--
				s.mu.Unlock()
				http.Error(w, "storage node unavailable", http.StatusServiceUnavailable)
				return
			}
			s.chunkBytes[index] = buf.Bytes()
			s.mu.Unlock()
			w.Write([]byte(`{}`))

		case "/files/complete-chunked-upload":
			s.mu.Lock()
			s.completions++
			s.mu.Unlock()
			w.Write([]byte(`{"id":"remote-big","url":"http://aw/remote-big"}`))

		default:
			http.NotFound(w, r)
		}
	}
}

// A file above the chunk threshold is uploaded through the chunked protocol
// end to end: through the durable queue, a real worker, the gate, and the
// retry layer, against a backend that rejects chunk 2 twice before accepting
// it. The upload must recover in order, complete exactly once, and leave both
// the task and the ledger COMPLETED.
func TestChunkedUploadRecoversFromTransientChunkFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &chunkServer{
		chunkBytes: make(map[int][]byte),
		failures:   map[int]int{2: 2},
	}
	api := httptest.NewServer(srv.handler())
	defer api.Close()

	db := newE2EDB(t)
	ledger := sqlite.NewLedgerRepo(db)
	tasks := sqlite.NewTaskRepo(db)

	// 250 bytes at 100-byte chunks: two full chunks and one partial.
	payload := bytes.Repeat([]byte("v"), 250)
	path := filepath.Join(t.TempDir(), "big.mp4")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	be := aiwaverider.New(aiwaverider.Config{BaseURL: api.URL, Token: "secret"})
	exec := pipeline.NewUploadExecutor(
		domain.TaskUploadAIWaverider,
		be,
		map[domain.FileType]string{domain.FileVideo: "videos"},
		gate.New(gate.Config{}, ledger, gate.NewHasher(2), nil),
		chunk.New(chunk.Config{ThresholdBytes: 200, ChunkSizeBytes: 100}, fastManager(3), nil),
		ledger,
		tasks,
		semaphore.NewWeighted(2),
		nil,
	)

	q := queue.New(queue.Config{SweepInterval: domain.Duration(50 * time.Millisecond)}, tasks, nil)
	go queue.NewWorker(exec, tasks, q, nil).Run(ctx)

	id, err := q.Add(ctx, domain.TaskUploadAIWaverider, pipeline.UploadPayload{
		LogicalID: "v1", FileType: domain.FileVideo, LocalPath: path,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task := waitTerminal(t, tasks, id)
	if task.Status != domain.TaskCompleted {
		t.Fatalf("task status = %s (%s), want COMPLETED", task.Status, task.LastError)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	wantSeq := []int{1, 2, 2, 2, 3}
	if len(srv.chunkSeq) != len(wantSeq) {
		t.Fatalf("chunk sequence = %v, want %v", srv.chunkSeq, wantSeq)
	}
	for i, n := range wantSeq {
		if srv.chunkSeq[i] != n {
			t.Fatalf("chunk sequence = %v, want %v", srv.chunkSeq, wantSeq)
		}
	}
	if srv.completions != 1 {
		t.Errorf("completions = %d, want exactly 1", srv.completions)
	}

	var got []byte
	for i := 1; i <= 3; i++ {
		got = append(got, srv.chunkBytes[i]...)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("reassembled %d bytes, want the original %d", len(got), len(payload))
	}

	entry, err := ledger.Get(ctx, domain.LedgerKey{
		LogicalID: "v1", FileType: domain.FileVideo, Backend: domain.BackendAIWaverider,
	})
	if err != nil {
		t.Fatalf("ledger entry: %v", err)
	}
	if entry.Status != domain.UploadCompleted || entry.RemoteID != "remote-big" {
		t.Errorf("ledger entry = %s/%s, want COMPLETED/remote-big", entry.Status, entry.RemoteID)
	}
}
