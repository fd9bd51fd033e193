package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

type BookedLister interface {
	ListBookedOn(ctx context.Context, day time.Time) ([]appointment.AppointmentDetail, error)
}

// DailyReminderJob emits one reminder per Booked appointment on the trigger
// day. It only reads, so a re-run after a crash re-sends some reminders.
type DailyReminderJob struct {
	store BookedLister
	sink  ArtifactSink
	loc   *time.Location
	log   *zap.Logger
}

func NewDailyReminderJob(store BookedLister, sink ArtifactSink, loc *time.Location, logger *zap.Logger) *DailyReminderJob {
	return &DailyReminderJob{store: store, sink: sink, loc: loc, log: logger}
}

func (j *DailyReminderJob) Name() string { return "daily-reminders" }

func (j *DailyReminderJob) Run(ctx context.Context, trigger Trigger) (Summary, error) {
	day := trigger.AsOf(j.loc)

	appts, err := j.store.ListBookedOn(ctx, day)
	if err != nil {
		return Summary{}, fmt.Errorf("list booked appointments: %w", err)
	}

	var (
		summary Summary
		errs    []error
	)
	for _, a := range appts {
		reminder, ok := buildReminder(a)
		if !ok {
			j.log.Warn("appointment has no patient or doctor profile, skipping reminder",
				zap.String("appointment_id", a.ID.String()))
			summary.Skipped++
			continue
		}
		if err := j.sink.Emit(ctx, reminder); err != nil {
			errs = append(errs, fmt.Errorf("reminder for %s: %w", a.ID, err))
			continue
		}
		summary.Artifacts++
	}

	j.log.Info("daily reminders sent",
		zap.String("date", day.Format(appointment.DateLayout)),
		zap.Int("appointments", len(appts)),
		zap.Int("sent", summary.Artifacts),
	)
	return summary, errors.Join(errs...)
}

func buildReminder(a appointment.AppointmentDetail) (Artifact, bool) {
	if a.Patient == nil || a.Doctor == nil {
		return Artifact{}, false
	}
	return Artifact{
		Kind:      KindReminder,
		Recipient: a.Patient.Contact(),
		Subject:   "Appointment reminder",
		Body: fmt.Sprintf("Reminder: Dear %s, you have an appointment with Dr. %s today at %s.",
			a.Patient.Name, a.Doctor.Name, a.TimeSlot),
		ContentType: "text/plain",
		CreatedAt:   time.Now().UTC(),
	}, true
}
