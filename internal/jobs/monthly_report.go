package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

type VisitCounter interface {
	ListApprovedDoctors(ctx context.Context) ([]appointment.Doctor, error)
	CountVisitsBetween(ctx context.Context, from, to time.Time) (map[uuid.UUID]appointment.VisitCounts, error)
}

// MonthlyReportJob reports per approved doctor on the calendar month before
// the trigger day. Doctors without appointments get an all-zero report.
type MonthlyReportJob struct {
	store VisitCounter
	sink  ArtifactSink
	loc   *time.Location
	log   *zap.Logger
}

func NewMonthlyReportJob(store VisitCounter, sink ArtifactSink, loc *time.Location, logger *zap.Logger) *MonthlyReportJob {
	return &MonthlyReportJob{store: store, sink: sink, loc: loc, log: logger}
}

func (j *MonthlyReportJob) Name() string { return "monthly-report" }

// PreviousMonth returns the first and last day of the month before asOf.
func PreviousMonth(asOf time.Time) (first, last time.Time) {
	y, m, _ := asOf.Date()
	firstOfThis := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	first = firstOfThis.AddDate(0, -1, 0)
	last = firstOfThis.AddDate(0, 0, -1)
	return first, last
}

func (j *MonthlyReportJob) Run(ctx context.Context, trigger Trigger) (Summary, error) {
	first, last := PreviousMonth(trigger.AsOf(j.loc))

	doctors, err := j.store.ListApprovedDoctors(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list doctors: %w", err)
	}
	counts, err := j.store.CountVisitsBetween(ctx, first, last)
	if err != nil {
		return Summary{}, fmt.Errorf("count visits: %w", err)
	}

	var (
		summary Summary
		errs    []error
	)
	for _, d := range doctors {
		report := buildMonthlyReport(d, first, counts[d.ID])
		if err := j.sink.Emit(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("report for doctor %s: %w", d.ID, err))
			continue
		}
		summary.Artifacts++
	}

	j.log.Info("monthly reports generated",
		zap.String("period", first.Format("2006-01")),
		zap.Int("doctors", len(doctors)),
		zap.Int("sent", summary.Artifacts),
	)
	return summary, errors.Join(errs...)
}

func buildMonthlyReport(d appointment.Doctor, month time.Time, c appointment.VisitCounts) Artifact {
	body := fmt.Sprintf("REPORT FOR DR. %s\nPeriod: %s\nTotal Appointments: %d\nCompleted: %d\nCancelled: %d",
		d.Name, month.Format("2006-01"), c.Total, c.Completed, c.Cancelled)
	return Artifact{
		Kind:        KindMonthlyReport,
		Recipient:   d.Email,
		Subject:     fmt.Sprintf("Monthly report %s", month.Format("2006-01")),
		Body:        body,
		ContentType: "text/plain",
		CreatedAt:   time.Now().UTC(),
	}
}
