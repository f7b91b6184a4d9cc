package tasks

import (
	"context"
	"fmt"
	"time"
)

// newSQLMaintenanceTask compacts the fleet database and logs how much space pruned
// subscribers and notifications gave back.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")

	return func(ctx context.Context) error {
		startTime := time.Now()

		report, err := deps.Store.RunSQLMaintenance(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Fleet database maintenance failed", "error", err, "duration", time.Since(startTime))
			return fmt.Errorf("sql maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Fleet database compacted",
			"size_before", report.SizeBefore,
			"size_after", report.SizeAfter,
			"reclaimed_bytes", report.Reclaimed(),
			"running_bots", len(deps.Registry.List()),
			"duration", time.Since(startTime),
		)
		return nil
	}
}
