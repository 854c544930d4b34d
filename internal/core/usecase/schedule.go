package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/core/ports"
)

// SyncScheduler hands deferred sync runs to the task queue. It never waits
// for the run itself.
type SyncScheduler struct {
	queue ports.TaskQueue
	now   func() time.Time
}

func NewSyncScheduler(queue ports.TaskQueue) *SyncScheduler {
	return &SyncScheduler{queue: queue, now: time.Now}
}

// ScheduleSync returns the task id. A queue failure is logged and returned
// as a temporary error; callers may ignore it and re-trigger manually.
func (s *SyncScheduler) ScheduleSync(ctx context.Context, publicationID int64, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	now := s.now().UTC()
	task := domain.SyncTask{
		ID:            uuid.NewString(),
		PublicationID: publicationID,
		EnqueuedAt:    now,
		NotBefore:     now.Add(delay),
	}
	if err := s.queue.ScheduleOnce(ctx, task); err != nil {
		slog.Warn("schedule_sync_failed",
			"publication_id", publicationID,
			"task_id", task.ID,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if domain.IsKind(err, domain.ErrTemporary) {
			return "", err
		}
		return "", domain.WrapError(domain.ErrTemporary, "schedule sync", err)
	}
	slog.Info("sync_scheduled",
		"publication_id", publicationID,
		"task_id", task.ID,
		"not_before", task.NotBefore,
	)
	return task.ID, nil
}
