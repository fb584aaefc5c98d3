package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer puts pipeline tasks on the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload any) error
}

// AsynqEnqueuer enqueues tasks with a retry limit and timeout. A task identical to
// one still queued within the uniqueness window is dropped silently.
type AsynqEnqueuer struct {
	client   *asynq.Client
	maxRetry int
	timeout  time.Duration
	unique   time.Duration
}

// NewAsynqEnqueuer creates a new AsynqEnqueuer. unique below one second disables de-duplication.
func NewAsynqEnqueuer(client *asynq.Client, maxRetry int, timeout, unique time.Duration) *AsynqEnqueuer {
	return &AsynqEnqueuer{
		client:   client,
		maxRetry: maxRetry,
		timeout:  timeout,
		unique:   unique,
	}
}

// Enqueue encodes payload as JSON and enqueues a task of taskType.
func (e *AsynqEnqueuer) Enqueue(ctx context.Context, taskType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, asynq.NewTask(taskType, data), e.options()...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// TriggerPass enqueues an ingestion pass.
func (e *AsynqEnqueuer) TriggerPass(ctx context.Context, force bool) error {
	return e.Enqueue(ctx, TypeIngestAll, PassPayload{Force: force})
}

func (e *AsynqEnqueuer) options() []asynq.Option {
	opts := []asynq.Option{asynq.MaxRetry(e.maxRetry)}
	if e.timeout > 0 {
		opts = append(opts, asynq.Timeout(e.timeout))
	}
	if e.unique >= time.Second {
		opts = append(opts, asynq.Unique(e.unique))
	}
	return opts
}
