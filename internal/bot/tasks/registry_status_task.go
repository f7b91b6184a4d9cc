package tasks

import (
	"context"
	"fmt"
)

// newRegistryStatusTask logs how the running set compares with the enabled bots. Enabled bots
// without an instance are reported, not relaunched; a restart request is the retry path.
func newRegistryStatusTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "registry_status")

	return func(ctx context.Context) error {
		enabled, err := deps.Store.ListEnabledBots(ctx)
		if err != nil {
			return fmt.Errorf("list enabled bots: %w", err)
		}

		running := make(map[string]bool)
		for _, id := range deps.Registry.List() {
			running[id] = true
		}

		var idle []string
		for _, b := range enabled {
			if !running[b.ID] {
				idle = append(idle, b.ID)
			}
		}

		log.InfoContext(ctx, "Registry status", "enabled", len(enabled), "running", len(running), "idle", len(idle))
		if len(idle) > 0 {
			log.WarnContext(ctx, "Enabled bots without a running instance", "bot_ids", idle)
		}
		return nil
	}
}
