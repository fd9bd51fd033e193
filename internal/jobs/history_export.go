package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

var historyHeader = []string{"Date", "Time", "Doctor", "Diagnosis", "Prescription", "Notes"}

type HistorySource interface {
	GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*appointment.Patient, error)
	ListCompletedForPatient(ctx context.Context, patientID uuid.UUID) ([]appointment.HistoryEntry, error)
}

// HistoryExportJob builds a CSV of a patient's completed visits. It runs on
// demand for the user named in the trigger.
type HistoryExportJob struct {
	store HistorySource
	sink  ArtifactSink
	log   *zap.Logger
}

func NewHistoryExportJob(store HistorySource, sink ArtifactSink, logger *zap.Logger) *HistoryExportJob {
	return &HistoryExportJob{store: store, sink: sink, log: logger}
}

func (j *HistoryExportJob) Name() string { return "history-export" }

func (j *HistoryExportJob) Run(ctx context.Context, trigger Trigger) (Summary, error) {
	artifact, skipped, err := j.Export(ctx, trigger.UserID)
	if err != nil {
		return Summary{}, err
	}
	if err := j.sink.Emit(ctx, artifact); err != nil {
		return Summary{Skipped: skipped}, fmt.Errorf("deliver export: %w", err)
	}
	return Summary{Artifacts: 1, Skipped: skipped}, nil
}

// Export renders the CSV without delivering it. Completed visits that lack a
// treatment are left out and counted in skipped.
func (j *HistoryExportJob) Export(ctx context.Context, userID uuid.UUID) (artifact Artifact, skipped int, err error) {
	if userID == uuid.Nil {
		return Artifact{}, 0, fmt.Errorf("export history: %w", appointment.ErrPatientNotFound)
	}

	patient, err := j.store.GetPatientByUserID(ctx, userID)
	if err != nil {
		return Artifact{}, 0, fmt.Errorf("resolve patient: %w", err)
	}

	entries, err := j.store.ListCompletedForPatient(ctx, patient.ID)
	if err != nil {
		return Artifact{}, 0, fmt.Errorf("list history: %w", err)
	}

	intact, broken := appointment.SplitIntact(entries)
	for _, e := range broken {
		j.log.Warn("completed appointment has no treatment, skipping",
			zap.String("appointment_id", e.ID.String()),
			zap.String("patient_id", patient.ID.String()),
		)
	}

	body, err := renderHistoryCSV(intact)
	if err != nil {
		return Artifact{}, len(broken), err
	}

	return Artifact{
		Kind:        KindHistoryExport,
		Recipient:   patient.Email,
		Subject:     "Your medical history export",
		Body:        body,
		Filename:    "history.csv",
		ContentType: "text/csv",
		CreatedAt:   time.Now().UTC(),
	}, len(broken), nil
}

func renderHistoryCSV(entries []appointment.HistoryEntry) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(historyHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		if e.Treatment == nil {
			return "", errors.New("history entry without treatment")
		}
		notes := ""
		if e.Treatment.Notes != nil {
			notes = *e.Treatment.Notes
		}
		row := []string{
			e.Date.Format(appointment.DateLayout),
			e.TimeSlot,
			e.DoctorName,
			e.Treatment.Diagnosis,
			e.Treatment.Prescription,
			notes,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}
