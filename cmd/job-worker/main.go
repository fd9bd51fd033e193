package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-appointment-scheduling/internal/bootstrap"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/jobs"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New("job-worker", cfg.LogPath, cfg.LogDebug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("job-worker stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("job-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("timezone", cfg.Timezone),
		zap.String("reminder_schedule", cfg.ReminderSchedule),
		zap.String("monthly_report_schedule", cfg.MonthlyReportSchedule),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sink, closeSink := jobs.NewSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer func() {
		if err := closeSink(); err != nil {
			logger.Warn("error closing artifact sink", zap.Error(err))
		}
	}()

	loc := cfg.Location()
	opts := []jobs.RunnerOption{jobs.WithLocation(loc)}

	var queue *redisclient.ExportQueue
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.OptionsFromConfig(cfg))
	if err != nil {
		logger.Warn("redis unavailable, running without job leases or export queue", zap.Error(err))
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		logger.Info("connected to Redis")
		opts = append(opts, jobs.WithLocker(redisclient.NewRedisLocker(rdb, cfg.JobLockTTL)))
		queue = redisclient.NewExportQueue(rdb, cfg.ExportQueue)
	}

	runner := jobs.NewRunner(logger, cfg.JobTimeout, opts...)

	scheduler := jobs.NewCronSource(runner, loc, logger)
	if err := scheduler.Schedule(cfg.ReminderSchedule, jobs.NewDailyReminderJob(store, sink, loc, logger)); err != nil {
		return err
	}
	if err := scheduler.Schedule(cfg.MonthlyReportSchedule, jobs.NewMonthlyReportJob(store, sink, loc, logger)); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return scheduler.Run(gctx) })

	if queue != nil {
		exportJob := jobs.NewHistoryExportJob(store, sink, logger)
		worker := jobs.NewExportWorker(queue, runner, exportJob, logger)
		g.Go(func() error { return worker.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("job-worker stopped")
	return err
}
