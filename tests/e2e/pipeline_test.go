package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/backend/aiwaverider"
	"github.com/aiwaverider/mediasync/internal/infra/backend/drive"
	"github.com/aiwaverider/mediasync/internal/infra/storage/sqlite"
	"github.com/aiwaverider/mediasync/internal/pipeline"
	"github.com/aiwaverider/mediasync/internal/queue"
	"github.com/aiwaverider/mediasync/internal/upload/chunk"
	"github.com/aiwaverider/mediasync/internal/upload/gate"
	"github.com/aiwaverider/mediasync/internal/upload/retry"
)

type fakeDownloader struct {
	dir string
}

func (d *fakeDownloader) Download(ctx context.Context, url string) (*pipeline.DownloadResult, error) {
	path := filepath.Join(d.dir, "reel-42.mp4")
	if err := os.WriteFile(path, []byte("reel-bytes"), 0o644); err != nil {
		return nil, err
	}
	return &pipeline.DownloadResult{
		LogicalID: "reel-42",
		VideoPath: path,
		Title:     "Morning routine",
	}, nil
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	return "good morning everyone", nil
}

type sheetRecorder struct {
	mu   sync.Mutex
	rows []pipeline.SheetRow
}

func (s *sheetRecorder) AppendRow(ctx context.Context, row pipeline.SheetRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

func driveAPI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.Write([]byte(`{"files":[]}`))
		case r.Method == http.MethodPost:
			w.Write([]byte(`{"id":"drv-1","name":"reel-42.mp4","webViewLink":"http://drive/drv-1"}`))
		default:
			http.NotFound(w, r)
		}
	}
}

func aiwaveriderAPI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/list":
			w.Write([]byte(`{"files":[]}`))
		case "/files/upload":
			w.Write([]byte(`{"id":"aw-1","url":"http://aw/aw-1"}`))
		default:
			http.NotFound(w, r)
		}
	}
}

// The whole DAG for one URL runs through real workers over sqlite: download
// first, then both uploads and the transcription in parallel, and the sheet
// row last, assembled from the stored results of its parents.
func TestVideoPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driveSrv := httptest.NewServer(driveAPI())
	defer driveSrv.Close()
	awSrv := httptest.NewServer(aiwaveriderAPI())
	defer awSrv.Close()

	db := newE2EDB(t)
	ledger := sqlite.NewLedgerRepo(db)
	tasks := sqlite.NewTaskRepo(db)

	registry := retry.NewRegistry(retry.DefaultBreakerConfig)
	g := gate.New(gate.Config{}, ledger, gate.NewHasher(2), nil)
	sem := semaphore.NewWeighted(3)
	uploader := chunk.New(chunk.Config{}, retry.NewManager(retry.Config{
		MaxRetries:      2,
		BaseDelay:       time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		ExponentialBase: 2.0,
	}, registry, nil), nil)

	driveBE := drive.New(drive.Config{BaseURL: driveSrv.URL, Token: "secret"})
	awBE := aiwaverider.New(aiwaverider.Config{BaseURL: awSrv.URL, Token: "secret"})

	sheet := &sheetRecorder{}
	execs := []queue.Executor{
		pipeline.NewDownloadExecutor(&fakeDownloader{dir: t.TempDir()}, nil),
		pipeline.NewUploadExecutor(domain.TaskUploadDrive, driveBE,
			map[domain.FileType]string{domain.FileVideo: "drive-videos"},
			g, uploader, ledger, tasks, sem, nil),
		pipeline.NewUploadExecutor(domain.TaskUploadAIWaverider, awBE,
			map[domain.FileType]string{domain.FileVideo: "aw-videos"},
			g, uploader, ledger, tasks, sem, nil),
		pipeline.NewTranscribeExecutor(fakeTranscriber{}, tasks, nil),
		pipeline.NewSheetExecutor(sheet, tasks, nil),
	}

	q := queue.New(queue.Config{SweepInterval: domain.Duration(50 * time.Millisecond)}, tasks, nil)
	go q.Start(ctx)
	for _, exec := range execs {
		go queue.NewWorker(exec, tasks, q, nil).Run(ctx)
	}

	enq, err := pipeline.New(q, nil).EnqueueVideo(ctx, "https://social/reel/42", 0)
	if err != nil {
		t.Fatalf("EnqueueVideo() = %v", err)
	}

	sheetTask := waitTerminal(t, tasks, enq.SheetID)
	if sheetTask.Status != domain.TaskCompleted {
		t.Fatalf("sheet task = %s (%s), want COMPLETED", sheetTask.Status, sheetTask.LastError)
	}

	for _, id := range []int64{enq.DownloadID, enq.DriveID, enq.AIWaveriderID, enq.TranscribeID} {
		task := waitTerminal(t, tasks, id)
		if task.Status != domain.TaskCompleted {
			t.Errorf("task %d (%s) = %s (%s), want COMPLETED",
				id, task.Type, task.Status, task.LastError)
		}
	}

	sheet.mu.Lock()
	defer sheet.mu.Unlock()
	if len(sheet.rows) != 1 {
		t.Fatalf("sheet rows = %d, want 1", len(sheet.rows))
	}
	row := sheet.rows[0]
	if row.LogicalID != "reel-42" || row.Title != "Morning routine" {
		t.Errorf("row identity = %q/%q", row.LogicalID, row.Title)
	}
	if row.VideoURL != "http://drive/drv-1" {
		t.Errorf("row video url = %q, want the drive link", row.VideoURL)
	}
	if row.Transcript != "good morning everyone" {
		t.Errorf("row transcript = %q", row.Transcript)
	}

	for backendName, remoteID := range map[string]string{
		domain.BackendDrive:       "drv-1",
		domain.BackendAIWaverider: "aw-1",
	} {
		entry, err := ledger.Get(ctx, domain.LedgerKey{
			LogicalID: "reel-42", FileType: domain.FileVideo, Backend: backendName,
		})
		if err != nil {
			t.Fatalf("%s ledger entry: %v", backendName, err)
		}
		if entry.Status != domain.UploadCompleted || entry.RemoteID != remoteID {
			t.Errorf("%s ledger = %s/%s, want COMPLETED/%s",
				backendName, entry.Status, entry.RemoteID, remoteID)
		}
	}
}
