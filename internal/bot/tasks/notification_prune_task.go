package tasks

import (
	"context"
	"fmt"
	"time"
)

func newNotificationPruneTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "notification_prune")

	return func(ctx context.Context) error {
		retention := deps.Notifications.Retention
		if retention <= 0 {
			log.DebugContext(ctx, "Notification retention disabled, nothing to prune")
			return nil
		}

		cutoff := time.Now().Add(-retention)
		n, err := deps.Store.PruneNotifications(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune notifications: %w", err)
		}

		log.InfoContext(ctx, "Pruned seen notifications", "deleted", n, "cutoff", cutoff)
		return nil
	}
}
