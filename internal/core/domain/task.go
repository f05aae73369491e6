package domain

import (
	"encoding/json"
	"time"
)

// TaskType identifies which worker handles a task.
type TaskType string

const (
	TaskDownloadVideo     TaskType = "download_video"
	TaskUploadDrive       TaskType = "upload_google_drive"
	TaskUploadAIWaverider TaskType = "upload_aiwaverider"
	TaskTranscribeAudio   TaskType = "transcribe_audio"
	TaskUpdateSheet       TaskType = "update_sheets"
)

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskRetrying   TaskStatus = "RETRYING"
)

// Task is one unit of queued work. DependsOn lists task ids that must be
// COMPLETED before this task may be claimed; if any of them ends FAILED the
// task is failed without ever running.
type Task struct {
	ID         int64
	Type       TaskType
	Payload    json.RawMessage
	Result     json.RawMessage
	Status     TaskStatus
	Priority   int
	RetryCount int
	MaxRetries int
	DependsOn  []int64
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Terminal reports whether the task has reached a final state.
func (t *Task) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}
