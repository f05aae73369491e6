package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/queue"
)

// Pipeline enqueues the full processing DAG for one video: download, then the
// two uploads in parallel, transcription, and finally the sheet update once
// everything upstream has completed.
type Pipeline struct {
	queue *queue.Queue
	log   *slog.Logger
}

func New(q *queue.Queue, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{queue: q, log: log}
}

// EnqueuedVideo holds the task ids of one enqueued pipeline run.
type EnqueuedVideo struct {
	DownloadID    int64
	DriveID       int64
	AIWaveriderID int64
	TranscribeID  int64
	SheetID       int64
}

// EnqueueVideo builds the task DAG for a URL. The download runs at elevated
// priority so fresh URLs start moving before backlogged uploads; the sheet
// update depends on every other task, so it runs last and is failed by the
// sweep if any upstream stage fails.
func (p *Pipeline) EnqueueVideo(ctx context.Context, url string, priority int) (*EnqueuedVideo, error) {
	downloadID, err := p.queue.Add(ctx, domain.TaskDownloadVideo,
		DownloadPayload{URL: url},
		queue.WithPriority(priority+1))
	if err != nil {
		return nil, fmt.Errorf("enqueue download: %w", err)
	}

	driveID, err := p.queue.Add(ctx, domain.TaskUploadDrive,
		UploadPayload{DownloadTaskID: downloadID, FileType: domain.FileVideo},
		queue.WithPriority(priority),
		queue.DependsOn(downloadID))
	if err != nil {
		return nil, fmt.Errorf("enqueue drive upload: %w", err)
	}

	awID, err := p.queue.Add(ctx, domain.TaskUploadAIWaverider,
		UploadPayload{DownloadTaskID: downloadID, FileType: domain.FileVideo},
		queue.WithPriority(priority),
		queue.DependsOn(downloadID))
	if err != nil {
		return nil, fmt.Errorf("enqueue aiwaverider upload: %w", err)
	}

	transcribeID, err := p.queue.Add(ctx, domain.TaskTranscribeAudio,
		TranscribePayload{DownloadTaskID: downloadID},
		queue.WithPriority(priority),
		queue.DependsOn(downloadID))
	if err != nil {
		return nil, fmt.Errorf("enqueue transcription: %w", err)
	}

	sheetID, err := p.queue.Add(ctx, domain.TaskUpdateSheet,
		SheetPayload{
			DownloadTaskID:   downloadID,
			TranscribeTaskID: transcribeID,
			UploadTaskID:     driveID,
		},
		queue.WithPriority(priority),
		queue.DependsOn(downloadID, driveID, awID, transcribeID))
	if err != nil {
		return nil, fmt.Errorf("enqueue sheet update: %w", err)
	}

	p.log.Info("enqueued video pipeline",
		"url", url,
		"download_task", downloadID,
		"drive_task", driveID,
		"aiwaverider_task", awID,
		"transcribe_task", transcribeID,
		"sheet_task", sheetID)

	return &EnqueuedVideo{
		DownloadID:    downloadID,
		DriveID:       driveID,
		AIWaveriderID: awID,
		TranscribeID:  transcribeID,
		SheetID:       sheetID,
	}, nil
}
