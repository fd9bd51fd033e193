package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronSource fires scheduled jobs through a Runner. Schedules use the
// standard five-field cron syntax in the clinic time zone.
type CronSource struct {
	cron   *cron.Cron
	runner *Runner
	loc    *time.Location
	log    *zap.Logger
	ctx    context.Context
}

func NewCronSource(runner *Runner, loc *time.Location, logger *zap.Logger) *CronSource {
	if loc == nil {
		loc = time.UTC
	}
	return &CronSource{
		cron:   cron.New(cron.WithLocation(loc)),
		runner: runner,
		loc:    loc,
		log:    logger.With(zap.String("component", "cron")),
		ctx:    context.Background(),
	}
}

func (s *CronSource) Schedule(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runner.Execute(s.ctx, job, Trigger{
			Time:   time.Now().In(s.loc),
			Source: SourceCron,
		})
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name(), spec, err)
	}
	s.log.Info("job scheduled", zap.String("job", job.Name()), zap.String("spec", spec))
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// in-flight jobs to finish.
func (s *CronSource) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))

	<-ctx.Done()

	s.log.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	return nil
}
