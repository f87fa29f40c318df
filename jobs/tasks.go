package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeScheduledImport is the task type for the recurring feed import.
	TaskTypeScheduledImport = "import:scheduled"
)

// ScheduledImportPayload names the feed a scheduled import should pull.
type ScheduledImportPayload struct {
	FeedURL      string    `json:"feed_url"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewScheduledImportTask constructs an Asynq task for one feed pull.
func NewScheduledImportTask(feedURL string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledImportPayload{FeedURL: feedURL, ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeScheduledImport, body, asynq.Queue(QueueDefault)), nil
}
