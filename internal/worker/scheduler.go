package worker

import (
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"priceaggregator/internal/config"
)

// Registrar is satisfied by *asynq.Scheduler.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// RegisterSchedule adds the periodic fan-out tasks. Empty cron expressions are skipped.
func RegisterSchedule(s Registrar, cfg config.ScheduleConfig, logger *zap.SugaredLogger, opts ...asynq.Option) error {
	entries := []struct {
		cron     string
		taskType string
	}{
		{cfg.IngestCron, TypeIngestAll},
		{cfg.AggregateCron, TypeAggregateAll},
		{cfg.ArbitrageCron, TypeArbitrageAll},
	}
	for _, e := range entries {
		if e.cron == "" {
			continue
		}
		id, err := s.Register(e.cron, asynq.NewTask(e.taskType, nil), opts...)
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", e.taskType, e.cron, err)
		}
		logger.Infow("Scheduled task", "type", e.taskType, "cron", e.cron, "entry_id", id)
	}
	return nil
}
