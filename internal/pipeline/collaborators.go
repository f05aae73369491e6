package pipeline

import (
	"context"
	"time"
)

// DownloadResult is what the downloader collaborator produces for one URL.
type DownloadResult struct {
	LogicalID     string        `json:"logical_id"`
	VideoPath     string        `json:"video_path"`
	ThumbnailPath string        `json:"thumbnail_path,omitempty"`
	Title         string        `json:"title,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
}

// Downloader turns a social-media URL into local files plus metadata. The
// extraction mechanics live outside this core.
type Downloader interface {
	Download(ctx context.Context, url string) (*DownloadResult, error)
}

// Transcriber turns an audio/video file into text. Speech-model internals
// live outside this core.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// SheetRow is one tracking-sheet update.
type SheetRow struct {
	LogicalID  string `json:"logical_id"`
	Title      string `json:"title"`
	VideoURL   string `json:"video_url"`
	Transcript string `json:"transcript"`
}

// SheetUpdater appends rows to the tracking spreadsheet.
type SheetUpdater interface {
	AppendRow(ctx context.Context, row SheetRow) error
}
