package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

type ExportRequests interface {
	Dequeue(ctx context.Context, wait time.Duration) (*redisclient.ExportRequest, error)
}

// ExportWorker drains the export request queue and runs the history export
// job for each request.
type ExportWorker struct {
	queue   ExportRequests
	runner  *Runner
	job     Job
	log     *zap.Logger
	wait    time.Duration
	backoff time.Duration
}

func NewExportWorker(queue ExportRequests, runner *Runner, job Job, logger *zap.Logger) *ExportWorker {
	return &ExportWorker{
		queue:   queue,
		runner:  runner,
		job:     job,
		log:     logger.With(zap.String("component", "export-worker")),
		wait:    5 * time.Second,
		backoff: 2 * time.Second,
	}
}

func (w *ExportWorker) Run(ctx context.Context) error {
	w.log.Info("export worker started")

	for {
		if ctx.Err() != nil {
			w.log.Info("export worker stopping")
			return nil
		}

		req, err := w.queue.Dequeue(ctx, w.wait)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.log.Error("dequeue export request", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.backoff):
			}
			continue
		}
		if req == nil {
			continue
		}

		w.log.Info("export request received",
			zap.String("request_id", req.RequestID.String()),
			zap.String("user_id", req.UserID.String()),
		)
		w.runner.Execute(ctx, w.job, Trigger{
			Time:   req.RequestedAt,
			Source: SourceQueue,
			UserID: req.UserID,
		})
	}
}
