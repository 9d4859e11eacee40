package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"inmocrm_backend/platform/config"
	"inmocrm_backend/platform/logger"
)

// Dispatcher is the slice of the campaign engine the worker drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, applicationID, tenantID uuid.UUID) error
}

// Worker consumes campaign dispatch jobs from the queue.
type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	dispatcher Dispatcher
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, dispatcher Dispatcher, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:     server,
		mux:        mux,
		dispatcher: dispatcher,
		log:        log,
	}

	mux.HandleFunc(TaskCampaignStepDue, w.handleCampaignStepDue)

	return w, nil
}

func (w *Worker) handleCampaignStepDue(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseCampaignStepDuePayload(task)
	if err != nil {
		return err
	}

	applicationID, err := uuid.Parse(payload.ApplicationID)
	if err != nil {
		return err
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return err
	}

	// Dispatch swallows application-level failures: a dead application is
	// finished in the database, not retried by the queue. Errors returned
	// here are infrastructure problems worth an asynq retry.
	return w.dispatcher.Dispatch(ctx, applicationID, tenantID)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
