package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	ErrMissingField      = errors.New("required field missing")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidField      = errors.New("invalid field")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("caller may not act on this appointment")
)

type Service struct {
	store Store
	log   *zap.Logger
	cfg   config.Config
}

func NewService(store Store, logger *zap.Logger, cfg config.Config) *Service {
	return &Service{
		store: store,
		log:   logger.With(zap.String("service", "appointment")),
		cfg:   cfg,
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

func (s *Service) logEvent(eventType string, appt *Appointment, fields ...zap.Field) {
	s.log.Info("appointment event", append([]zap.Field{
		zap.String("event", eventType),
		zap.String("appointment_id", appt.ID.String()),
		zap.String("patient_id", appt.PatientID.String()),
		zap.String("doctor_id", appt.DoctorID.String()),
		zap.String("date", appt.Date.Format(DateLayout)),
		zap.String("time_slot", appt.TimeSlot),
		zap.String("status", string(appt.Status)),
	}, fields...)...)
}

// GetAppointment retrieves a single appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// GetPatient loads a patient profile, used by callers to enforce the blocked
// flag before booking.
func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := s.store.GetPatientByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

// ListDoctors returns the doctors patients may book with.
func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doctors, err := s.store.ListApprovedDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// ListUpcomingForDoctor returns Booked appointments ordered by date then slot,
// with the patient attached.
func (s *Service) ListUpcomingForDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	appts, err := s.store.ListUpcomingForDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list upcoming for doctor: %w", err)
	}
	return appts, nil
}

// ListAssignedPatients returns the patients the doctor has completed visits
// with. An unknown doctor yields ErrDoctorNotFound.
func (s *Service) ListAssignedPatients(ctx context.Context, doctorID uuid.UUID) ([]AssignedPatient, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.store.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("list assigned patients: %w", err)
	}
	patients, err := s.store.ListAssignedPatients(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list assigned patients: %w", err)
	}
	return patients, nil
}

func (s *Service) Stats(ctx context.Context) (ClinicStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stats, err := s.store.CountClinic(ctx)
	if err != nil {
		return ClinicStats{}, fmt.Errorf("clinic stats: %w", err)
	}
	return stats, nil
}

// ListHistoryForPatient returns completed visits with their treatment. A
// completed appointment without a treatment is logged and left out. An
// unknown patient yields ErrPatientNotFound.
func (s *Service) ListHistoryForPatient(ctx context.Context, patientID uuid.UUID) ([]HistoryEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.store.GetPatientByID(ctx, patientID); err != nil {
		return nil, fmt.Errorf("list history for patient: %w", err)
	}
	entries, err := s.store.ListCompletedForPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list history for patient: %w", err)
	}

	intact, broken := SplitIntact(entries)
	for _, e := range broken {
		s.log.Warn("completed appointment has no treatment, skipping",
			zap.String("appointment_id", e.ID.String()),
			zap.String("patient_id", patientID.String()),
		)
	}
	return intact, nil
}

// ListAppointments pages through all appointments, newest first.
func (s *Service) ListAppointments(ctx context.Context, limit, offset int) ([]AppointmentDetail, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	appts, err := s.store.ListAppointments(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}
