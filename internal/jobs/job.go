package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

const (
	SourceCron   = "cron"
	SourceQueue  = "queue"
	SourceManual = "manual"
)

// Trigger is the wake-up event handed to a job.
type Trigger struct {
	Time   time.Time
	Source string
	// UserID identifies the requesting patient for on-demand exports.
	UserID uuid.UUID
}

// AsOf is the clinic calendar day the trigger fired on.
func (t Trigger) AsOf(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return appointment.Day(t.Time.In(loc))
}

// Summary counts what a run produced.
type Summary struct {
	Artifacts int
	Skipped   int
}

type Job interface {
	Name() string
	Run(ctx context.Context, trigger Trigger) (Summary, error)
}

type State string

const (
	StateIdle      State = "Idle"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
	// StateSkipped means another worker held the lease for this trigger.
	StateSkipped State = "Skipped"
)

type Run struct {
	Job        string
	Trigger    Trigger
	State      State
	Summary    Summary
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Runner executes jobs one trigger at a time and records the outcome. A
// failing or panicking job is reported as Failed and never escapes Execute.
type Runner struct {
	log     *zap.Logger
	timeout time.Duration
	locker  redisclient.Locker
	loc     *time.Location

	mu   sync.Mutex
	last map[string]Run
}

type RunnerOption func(*Runner)

// WithLocker makes cron-triggered runs take a lease per job and trigger
// minute, so only one of several workers runs each scheduled firing.
func WithLocker(l redisclient.Locker) RunnerOption {
	return func(r *Runner) { r.locker = l }
}

func WithLocation(loc *time.Location) RunnerOption {
	return func(r *Runner) { r.loc = loc }
}

func NewRunner(logger *zap.Logger, timeout time.Duration, opts ...RunnerOption) *Runner {
	r := &Runner{
		log:     logger.With(zap.String("component", "job-runner")),
		timeout: timeout,
		loc:     time.UTC,
		last:    make(map[string]Run),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Last returns the most recent run of the named job. A job that never ran
// reports StateIdle.
func (r *Runner) Last(name string) Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.last[name]
	if !ok {
		return Run{Job: name, State: StateIdle}
	}
	return run
}

func (r *Runner) record(run Run) {
	r.mu.Lock()
	r.last[run.Job] = run
	r.mu.Unlock()
}

func (r *Runner) Execute(ctx context.Context, job Job, trigger Trigger) Run {
	if trigger.Time.IsZero() {
		trigger.Time = time.Now()
	}

	if r.locker != nil && trigger.Source == SourceCron {
		key := fmt.Sprintf("job:%s:%s", job.Name(), trigger.Time.In(r.loc).Format("200601021504"))

		var run Run
		// the lease outlives the run so a worker firing later in the same
		// minute still sees it
		err := r.locker.WithLease(ctx, key, func(ctx context.Context) error {
			run = r.execute(ctx, job, trigger)
			return nil
		})
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			r.log.Info("job lease held elsewhere, skipping",
				zap.String("job", job.Name()),
				zap.Time("trigger_time", trigger.Time),
			)
			return Run{Job: job.Name(), Trigger: trigger, State: StateSkipped}
		}
		if err != nil {
			run = Run{Job: job.Name(), Trigger: trigger, State: StateFailed, Err: err, StartedAt: time.Now(), FinishedAt: time.Now()}
			r.log.Error("job lease failed",
				zap.String("job", job.Name()),
				zap.Time("trigger_time", trigger.Time),
				zap.Error(err),
			)
			r.record(run)
		}
		return run
	}

	return r.execute(ctx, job, trigger)
}

func (r *Runner) execute(ctx context.Context, job Job, trigger Trigger) Run {
	run := Run{
		Job:       job.Name(),
		Trigger:   trigger,
		State:     StateRunning,
		StartedAt: time.Now(),
	}
	r.record(run)

	fields := []zap.Field{
		zap.String("job", run.Job),
		zap.String("source", trigger.Source),
		zap.Time("trigger_time", trigger.Time),
	}
	r.log.Info("job started", fields...)

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	run.Summary, run.Err = r.safeRun(runCtx, job, trigger)
	run.FinishedAt = time.Now()

	fields = append(fields,
		zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
		zap.Int("artifacts", run.Summary.Artifacts),
		zap.Int("skipped", run.Summary.Skipped),
	)
	if run.Err != nil {
		run.State = StateFailed
		r.log.Error("job failed", append(fields, zap.Error(run.Err))...)
	} else {
		run.State = StateSucceeded
		r.log.Info("job succeeded", fields...)
	}

	r.record(run)
	return run
}

func (r *Runner) safeRun(ctx context.Context, job Job, trigger Trigger) (summary Summary, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("job panicked",
				zap.String("job", job.Name()),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("job %s panicked: %v", job.Name(), p)
		}
	}()
	return job.Run(ctx, trigger)
}
