package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// IdempotencyCleanupJob prunes operation keys past their retention window.
type IdempotencyCleanupJob struct {
	store  *shared.IdempotencyStore
	logger *slog.Logger
}

func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, logger *slog.Logger) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, logger: logger}
}

// Handle processes one TaskIdempotencyCleanup run.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	removed, err := j.store.Cleanup(ctx, retention)
	if err != nil {
		return err
	}
	j.logger.Info("idempotency keys pruned", "removed", removed, "retention", retention)
	return nil
}
