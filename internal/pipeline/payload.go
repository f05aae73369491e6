package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/storage"
)

// DownloadPayload asks for one URL to be fetched locally.
type DownloadPayload struct {
	URL string `json:"url"`
}

// UploadPayload identifies the file to upload. Either the candidate fields
// are set directly (upload-only flows), or DownloadTaskID points at the
// download task whose stored result carries them.
type UploadPayload struct {
	LogicalID      string          `json:"logical_id,omitempty"`
	FileType       domain.FileType `json:"file_type,omitempty"`
	LocalPath      string          `json:"local_path,omitempty"`
	DownloadTaskID int64           `json:"download_task_id,omitempty"`
}

// TranscribePayload asks for a downloaded file to be transcribed.
type TranscribePayload struct {
	LocalPath      string `json:"local_path,omitempty"`
	DownloadTaskID int64  `json:"download_task_id,omitempty"`
}

// SheetPayload collects the task ids whose results feed the sheet row.
type SheetPayload struct {
	DownloadTaskID   int64 `json:"download_task_id"`
	TranscribeTaskID int64 `json:"transcribe_task_id,omitempty"`
	UploadTaskID     int64 `json:"upload_task_id,omitempty"`
}

// downloadResultOf reads the stored result of a completed download task.
func downloadResultOf(ctx context.Context, tasks storage.TaskRepository, id int64) (*DownloadResult, error) {
	t, err := tasks.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load download task %d: %w", id, err)
	}
	if t.Status != domain.TaskCompleted {
		return nil, domain.Permanent("", "payload",
			fmt.Errorf("download task %d is %s, expected COMPLETED", id, t.Status))
	}
	if len(t.Result) == 0 {
		return nil, domain.Permanent("", "payload",
			errors.New("download task has no stored result"))
	}
	var dr DownloadResult
	if err := json.Unmarshal(t.Result, &dr); err != nil {
		return nil, domain.Permanent("", "payload", fmt.Errorf("decode download result: %w", err))
	}
	return &dr, nil
}

// candidate resolves the upload payload into a concrete candidate, following
// the download-task reference when the fields aren't inline.
func (p UploadPayload) candidate(ctx context.Context, tasks storage.TaskRepository) (domain.FileUploadCandidate, error) {
	if p.LocalPath != "" {
		ft := p.FileType
		if ft == "" {
			ft = domain.FileVideo
		}
		return domain.FileUploadCandidate{
			LogicalID: p.LogicalID,
			FileType:  ft,
			LocalPath: p.LocalPath,
		}, nil
	}
	if p.DownloadTaskID == 0 {
		return domain.FileUploadCandidate{}, domain.Permanent("", "payload",
			errors.New("upload payload has neither local_path nor download_task_id"))
	}
	dr, err := downloadResultOf(ctx, tasks, p.DownloadTaskID)
	if err != nil {
		return domain.FileUploadCandidate{}, err
	}
	ft := p.FileType
	path := dr.VideoPath
	if ft == domain.FileThumbnail {
		path = dr.ThumbnailPath
	} else if ft == "" {
		ft = domain.FileVideo
	}
	if path == "" {
		return domain.FileUploadCandidate{}, domain.Permanent("", "payload",
			fmt.Errorf("download result has no %s path", ft))
	}
	return domain.FileUploadCandidate{
		LogicalID: dr.LogicalID,
		FileType:  ft,
		LocalPath: path,
	}, nil
}
