package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrConfiguration marks every error returned by Load.
var ErrConfiguration = errors.New("configuration error")

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if !strings.Contains(c.Messages.ForceJoinReminder, "%s") {
		return errors.New("messages.force_join_reminder must contain %s for the channel")
	}

	for name, task := range c.Scheduler.Tasks {
		if task.Enabled && strings.TrimSpace(task.Schedule) == "" {
			return fmt.Errorf("scheduler task %q is enabled but has an empty schedule", name)
		}
	}

	return nil
}
