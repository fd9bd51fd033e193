package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/bootstrap"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/jobs"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
)

// jobEnv is what every job subcommand needs. close releases it.
type jobEnv struct {
	cfg    config.Config
	logger *zap.Logger
	store  *bootstrap.Store
	sink   jobs.ArtifactSink
	runner *jobs.Runner
	close  func()
}

func openJobEnv(ctx context.Context) (*jobEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New("clinicctl", cfg.LogPath, cfg.LogDebug)
	if err != nil {
		return nil, err
	}

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	sink, closeSink := jobs.NewSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger)

	return &jobEnv{
		cfg:    cfg,
		logger: logger,
		store:  store,
		sink:   sink,
		runner: jobs.NewRunner(logger, cfg.JobTimeout, jobs.WithLocation(cfg.Location())),
		close: func() {
			if err := closeSink(); err != nil {
				logger.Warn("error closing artifact sink", zap.Error(err))
			}
			store.Close()
			_ = logger.Sync()
		},
	}, nil
}

// execute runs job once as a manual trigger and turns a failed run into a
// command error.
func (e *jobEnv) execute(ctx context.Context, out io.Writer, job jobs.Job, trigger jobs.Trigger) error {
	run := e.runner.Execute(ctx, job, trigger)
	if run.State != jobs.StateSucceeded {
		return fmt.Errorf("%s %s: %w", job.Name(), run.State, run.Err)
	}
	fmt.Fprintf(out, "%s succeeded: %d artifact(s), %d skipped\n", job.Name(), run.Summary.Artifacts, run.Summary.Skipped)
	return nil
}

func parseDay(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Now().In(loc), nil
	}
	t, err := time.ParseInLocation(appointment.DateLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
	}
	return t, nil
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run a batch job once, outside the schedule",
	}
	cmd.AddCommand(remindersCmd(), monthlyReportCmd(), exportCmd())
	return cmd
}

func remindersCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Send reminders for every booked appointment on a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openJobEnv(ctx)
			if err != nil {
				return err
			}
			defer env.close()

			loc := env.cfg.Location()
			day, err := parseDay(date, loc)
			if err != nil {
				return err
			}

			job := jobs.NewDailyReminderJob(env.store, env.sink, loc, env.logger)
			return env.execute(ctx, cmd.OutOrStdout(), job, jobs.Trigger{Time: day, Source: jobs.SourceManual})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to remind for (YYYY-MM-DD), defaults to today")
	return cmd
}

func monthlyReportCmd() *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "monthly-report",
		Short: "Report per doctor on the month before --as-of",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openJobEnv(ctx)
			if err != nil {
				return err
			}
			defer env.close()

			loc := env.cfg.Location()
			day, err := parseDay(asOf, loc)
			if err != nil {
				return err
			}

			job := jobs.NewMonthlyReportJob(env.store, env.sink, loc, env.logger)
			return env.execute(ctx, cmd.OutOrStdout(), job, jobs.Trigger{Time: day, Source: jobs.SourceManual})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "reference day (YYYY-MM-DD); the previous calendar month is reported")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		userID  string
		outPath string
		deliver bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a patient's treatment history as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("--user-id must be a valid UUID: %w", err)
			}

			ctx := cmd.Context()
			env, err := openJobEnv(ctx)
			if err != nil {
				return err
			}
			defer env.close()

			job := jobs.NewHistoryExportJob(env.store, env.sink, env.logger)
			if deliver {
				return env.execute(ctx, cmd.OutOrStdout(), job, jobs.Trigger{Source: jobs.SourceManual, UserID: id})
			}

			artifact, skipped, err := job.Export(ctx, id)
			if err != nil {
				return err
			}
			if skipped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d completed visit(s) without treatment were left out\n", skipped)
			}

			if outPath == "" || outPath == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), artifact.Body)
				return err
			}
			return os.WriteFile(outPath, []byte(artifact.Body), 0o600)
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user id of the patient")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the CSV here instead of stdout")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "send the export through the artifact sink instead of writing it locally")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
