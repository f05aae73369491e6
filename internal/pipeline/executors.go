package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/backend"
	"github.com/aiwaverider/mediasync/internal/infra/storage"
	"github.com/aiwaverider/mediasync/internal/upload/chunk"
	"github.com/aiwaverider/mediasync/internal/upload/gate"
)

// DownloadExecutor fetches a URL to local disk and stores the download result
// for dependent tasks.
type DownloadExecutor struct {
	dl  Downloader
	log *slog.Logger
}

func NewDownloadExecutor(dl Downloader, log *slog.Logger) *DownloadExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &DownloadExecutor{dl: dl, log: log}
}

func (e *DownloadExecutor) Type() domain.TaskType { return domain.TaskDownloadVideo }

func (e *DownloadExecutor) Execute(ctx context.Context, task *domain.Task) ([]byte, error) {
	var p DownloadPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, domain.Permanent("", "download", fmt.Errorf("decode payload: %w", err))
	}
	if p.URL == "" {
		return nil, domain.Permanent("", "download", errors.New("empty url"))
	}

	res, err := e.dl.Download(ctx, p.URL)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", p.URL, err)
	}

	e.log.Info("downloaded video",
		"logical_id", res.LogicalID, "path", res.VideoPath, "title", res.Title)
	return json.Marshal(res)
}

// UploadExecutor drives the gate-then-upload flow for one backend. Each
// backend has its own executor, bound to that backend's retry profile and
// folder layout; a shared semaphore bounds uploads in flight across all of
// them.
type UploadExecutor struct {
	taskType domain.TaskType
	be       backend.Backend
	folders  map[domain.FileType]string
	gate     *gate.Gate
	uploader *chunk.Uploader
	ledger   storage.LedgerRepository
	tasks    storage.TaskRepository
	sem      *semaphore.Weighted
	log      *slog.Logger
}

func NewUploadExecutor(
	taskType domain.TaskType,
	be backend.Backend,
	folders map[domain.FileType]string,
	g *gate.Gate,
	uploader *chunk.Uploader,
	ledger storage.LedgerRepository,
	tasks storage.TaskRepository,
	sem *semaphore.Weighted,
	log *slog.Logger,
) *UploadExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &UploadExecutor{
		taskType: taskType,
		be:       be,
		folders:  folders,
		gate:     g,
		uploader: uploader,
		ledger:   ledger,
		tasks:    tasks,
		sem:      sem,
		log:      log.With("backend", be.Name()),
	}
}

func (e *UploadExecutor) Type() domain.TaskType { return e.taskType }

// UploadTaskResult is stored on completed upload tasks for sheet updates.
type UploadTaskResult struct {
	Skipped   bool   `json:"skipped"`
	RemoteID  string `json:"remote_id,omitempty"`
	RemoteURL string `json:"remote_url,omitempty"`
}

func (e *UploadExecutor) Execute(ctx context.Context, task *domain.Task) ([]byte, error) {
	var p UploadPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, domain.Permanent(e.be.Name(), "upload", fmt.Errorf("decode payload: %w", err))
	}
	cand, err := p.candidate(ctx, e.tasks)
	if err != nil {
		return nil, err
	}

	folder, ok := e.folders[cand.FileType]
	if !ok {
		return nil, domain.Permanent(e.be.Name(), "upload",
			fmt.Errorf("no folder configured for %s files", cand.FileType))
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, domain.Transient(e.be.Name(), "upload", err)
	}
	defer e.sem.Release(1)

	decision, hash, err := e.gate.Decide(ctx, cand, e.be, folder)
	if err != nil {
		return nil, err
	}
	key := cand.Key(e.be.Name())

	if decision == gate.SkipAlreadyUploaded {
		e.log.Info("upload skipped, already present",
			"logical_id", cand.LogicalID, "file", cand.Filename())
		return e.result(ctx, key, &UploadTaskResult{Skipped: true})
	}

	// A stale COMPLETED entry keeps its remote id so the single-request path
	// can update the remote file in place instead of duplicating it.
	var existingID string
	if entry, err := e.ledger.Get(ctx, key); err == nil && entry.RemoteID != "" {
		existingID = entry.RemoteID
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if err := e.ledger.RecordAttempt(ctx, key, cand.LocalPath, hash); err != nil {
		return nil, err
	}

	remote, err := e.uploader.Upload(ctx, e.be, folder, cand.LocalPath, hash, existingID)
	if err != nil {
		if markErr := e.ledger.MarkFailed(ctx, key); markErr != nil {
			e.log.Error("failed to mark ledger entry failed",
				"logical_id", cand.LogicalID, "error", markErr)
		}
		return nil, err
	}

	if err := e.ledger.MarkCompleted(ctx, key, remote.ID, remote.URL, hash); err != nil {
		return nil, err
	}
	e.gate.RecordUploaded(e.be.Name(), folder, cand.Filename(), remote.ID)

	return json.Marshal(&UploadTaskResult{RemoteID: remote.ID, RemoteURL: remote.URL})
}

// result resolves the remote identity for a skipped upload from the ledger so
// dependents still see a URL.
func (e *UploadExecutor) result(ctx context.Context, key domain.LedgerKey, r *UploadTaskResult) ([]byte, error) {
	if entry, err := e.ledger.Get(ctx, key); err == nil {
		r.RemoteID = entry.RemoteID
		r.RemoteURL = entry.RemoteURL
	}
	return json.Marshal(r)
}

// TranscribeExecutor produces a transcript for a downloaded file.
type TranscribeExecutor struct {
	tr    Transcriber
	tasks storage.TaskRepository
	log   *slog.Logger
}

func NewTranscribeExecutor(tr Transcriber, tasks storage.TaskRepository, log *slog.Logger) *TranscribeExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &TranscribeExecutor{tr: tr, tasks: tasks, log: log}
}

func (e *TranscribeExecutor) Type() domain.TaskType { return domain.TaskTranscribeAudio }

// TranscribeTaskResult is stored on completed transcription tasks.
type TranscribeTaskResult struct {
	Transcript string `json:"transcript"`
}

func (e *TranscribeExecutor) Execute(ctx context.Context, task *domain.Task) ([]byte, error) {
	var p TranscribePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, domain.Permanent("", "transcribe", fmt.Errorf("decode payload: %w", err))
	}

	path := p.LocalPath
	if path == "" {
		dr, err := downloadResultOf(ctx, e.tasks, p.DownloadTaskID)
		if err != nil {
			return nil, err
		}
		path = dr.VideoPath
	}

	text, err := e.tr.Transcribe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", path, err)
	}
	e.log.Info("transcribed file", "path", path, "chars", len(text))
	return json.Marshal(&TranscribeTaskResult{Transcript: text})
}

// SheetExecutor appends the finished video's row to the tracking sheet,
// collecting fields from its parent tasks' stored results.
type SheetExecutor struct {
	sheet SheetUpdater
	tasks storage.TaskRepository
	log   *slog.Logger
}

func NewSheetExecutor(sheet SheetUpdater, tasks storage.TaskRepository, log *slog.Logger) *SheetExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &SheetExecutor{sheet: sheet, tasks: tasks, log: log}
}

func (e *SheetExecutor) Type() domain.TaskType { return domain.TaskUpdateSheet }

func (e *SheetExecutor) Execute(ctx context.Context, task *domain.Task) ([]byte, error) {
	var p SheetPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, domain.Permanent("", "sheet", fmt.Errorf("decode payload: %w", err))
	}

	dr, err := downloadResultOf(ctx, e.tasks, p.DownloadTaskID)
	if err != nil {
		return nil, err
	}

	row := SheetRow{LogicalID: dr.LogicalID, Title: dr.Title}

	if p.UploadTaskID != 0 {
		t, err := e.tasks.Get(ctx, p.UploadTaskID)
		if err != nil {
			return nil, fmt.Errorf("load upload task %d: %w", p.UploadTaskID, err)
		}
		var ur UploadTaskResult
		if len(t.Result) > 0 {
			if err := json.Unmarshal(t.Result, &ur); err != nil {
				return nil, domain.Permanent("", "sheet", fmt.Errorf("decode upload result: %w", err))
			}
		}
		row.VideoURL = ur.RemoteURL
	}

	if p.TranscribeTaskID != 0 {
		t, err := e.tasks.Get(ctx, p.TranscribeTaskID)
		if err != nil {
			return nil, fmt.Errorf("load transcribe task %d: %w", p.TranscribeTaskID, err)
		}
		var tr TranscribeTaskResult
		if len(t.Result) > 0 {
			if err := json.Unmarshal(t.Result, &tr); err != nil {
				return nil, domain.Permanent("", "sheet", fmt.Errorf("decode transcript result: %w", err))
			}
		}
		row.Transcript = tr.Transcript
	}

	if err := e.sheet.AppendRow(ctx, row); err != nil {
		return nil, fmt.Errorf("append sheet row: %w", err)
	}
	e.log.Info("sheet updated", "logical_id", row.LogicalID)
	return nil, nil
}
