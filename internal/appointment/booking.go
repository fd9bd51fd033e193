package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookRequest asks for one slot. PatientID comes from the caller's identity;
// the patient's blocked flag must be checked by the caller beforehand.
type BookRequest struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
	DoctorID  string `json:"doctor_id" validate:"required,uuid"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot  string `json:"time_slot" validate:"required,max=20"`
}

func (r BookRequest) trimmed() BookRequest {
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.DoctorID = strings.TrimSpace(r.DoctorID)
	r.Date = strings.TrimSpace(r.Date)
	r.TimeSlot = strings.TrimSpace(r.TimeSlot)
	return r
}

// Validate checks the request shape without touching the store. It returns a
// *ValidationError.
func (r BookRequest) Validate() error {
	return validateStruct(r.trimmed())
}

// Book reserves (doctor, date, slot) for a patient. The slot check and the
// insert share a transaction and the store's unique index is the final word
// on conflicts, so concurrent callers in any number of processes see at most
// one success.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	req = req.trimmed()

	if err := req.Validate(); err != nil {
		s.log.Warn("book appointment validation failed", zap.Error(err))
		return nil, err
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return nil, &ValidationError{Field: "patient_id", Reason: "must be a valid UUID", Err: ErrInvalidField}
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return nil, &ValidationError{Field: "doctor_id", Reason: "must be a valid UUID", Err: ErrInvalidField}
	}
	date, err := time.Parse(DateLayout, req.Date)
	if err != nil {
		return nil, &ValidationError{Field: "date", Reason: "must be a calendar date (YYYY-MM-DD)", Err: ErrInvalidDate}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.store.GetPatientByID(ctx, patientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.store.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	var created *Appointment

	err = s.store.InTx(ctx, func(ctx context.Context, q Queries) error {
		existing, err := q.GetActiveAppointmentForSlot(ctx, doctorID, date, req.TimeSlot)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check slot: %w", err)
		}
		if existing != nil {
			return ErrSlotConflict
		}

		appt, err := q.CreateAppointment(ctx, NewAppointment{
			PatientID: patientID,
			DoctorID:  doctorID,
			Date:      date,
			TimeSlot:  req.TimeSlot,
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.log.Info("slot conflict",
				zap.String("doctor_id", doctorID.String()),
				zap.String("date", req.Date),
				zap.String("time_slot", req.TimeSlot),
			)
		}
		return nil, err
	}

	s.logEvent(EventAppointmentBooked, created)
	return created, nil
}
