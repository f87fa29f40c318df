package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/shelfline-wms/shelfline/internal/reconcile"
)

// BulkImporter is the slice of the reconciliation orchestrator the scheduled
// import drives.
type BulkImporter interface {
	BulkUpsert(ctx context.Context, src reconcile.RowSource, kind reconcile.SourceKind) (reconcile.Run, error)
}

// ScheduledImporter pulls the configured feed on a cron and bulk-upserts it.
type ScheduledImporter struct {
	importer BulkImporter
	coord    *reconcile.Coordinator
	logger   *slog.Logger
}

// NewScheduledImporter constructs the job handler.
func NewScheduledImporter(importer BulkImporter, coord *reconcile.Coordinator, logger *slog.Logger) *ScheduledImporter {
	if coord == nil {
		coord = reconcile.NewCoordinator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduledImporter{importer: importer, coord: coord, logger: logger}
}

// Handle processes TaskTypeScheduledImport tasks. An overlapping run for the
// same feed skips quietly; a fetch failure returns the error so asynq
// retries.
func (s *ScheduledImporter) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ScheduledImportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.FeedURL == "" {
		return asynq.SkipRetry
	}

	token := payload.ScheduledFor.String()
	if !s.coord.Acquire(payload.FeedURL, token) {
		s.logger.Info("scheduled import skipped, feed busy", slog.String("feed", payload.FeedURL))
		return nil
	}
	defer s.coord.Release(payload.FeedURL, token)

	run, err := s.importer.BulkUpsert(ctx, reconcile.NewURLSource(nil, payload.FeedURL), reconcile.SourceScheduled)
	if err != nil {
		s.logger.Error("scheduled import failed",
			slog.String("feed", payload.FeedURL), slog.Any("error", err))
		return err
	}
	s.logger.Info("scheduled import finished",
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int("parked", run.Summary.Conflicts))
	return nil
}
