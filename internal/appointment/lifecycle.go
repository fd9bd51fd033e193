package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CompleteRequest struct {
	Diagnosis    string  `json:"diagnosis" validate:"required"`
	Prescription string  `json:"prescription" validate:"required"`
	Notes        *string `json:"notes,omitempty"`
}

// Cancel moves a Booked appointment to Cancelled, freeing its slot. Patients
// may cancel their own appointments and admins any. Cancelling a terminal
// appointment is an error, not a no-op.
func (s *Service) Cancel(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	if caller.Role != RolePatient && caller.Role != RoleAdmin {
		return nil, ErrUnauthorized
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var updated *Appointment

	err := s.store.InTx(ctx, func(ctx context.Context, q Queries) error {
		appt, err := q.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if caller.Role == RolePatient && appt.PatientID != caller.ProfileID {
			return ErrUnauthorized
		}
		if appt.Status != StatusBooked {
			return fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, appt.Status)
		}

		updated, err = q.UpdateAppointmentStatus(ctx, id, StatusBooked, StatusCancelled)
		if errors.Is(err, ErrAppointmentNotFound) {
			// lost a race with another transition
			return fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
		}
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(EventAppointmentCancelled, updated, zap.String("role", string(caller.Role)))
	return updated, nil
}

// Complete records the treatment and marks the appointment Completed in one
// transaction. Only the appointment's doctor may complete it.
func (s *Service) Complete(ctx context.Context, caller Caller, id uuid.UUID, req CompleteRequest) (*Appointment, *Treatment, error) {
	req.Diagnosis = strings.TrimSpace(req.Diagnosis)
	req.Prescription = strings.TrimSpace(req.Prescription)
	if req.Notes != nil {
		notes := strings.TrimSpace(*req.Notes)
		req.Notes = &notes
		if notes == "" {
			req.Notes = nil
		}
	}

	if err := validateStruct(req); err != nil {
		s.log.Warn("complete visit validation failed", zap.Error(err))
		return nil, nil, err
	}
	if caller.Role != RoleDoctor {
		return nil, nil, ErrUnauthorized
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		updated   *Appointment
		treatment *Treatment
	)

	err := s.store.InTx(ctx, func(ctx context.Context, q Queries) error {
		appt, err := q.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if appt.DoctorID != caller.ProfileID {
			return ErrUnauthorized
		}
		if appt.Status != StatusBooked {
			return fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, appt.Status)
		}

		updated, err = q.UpdateAppointmentStatus(ctx, id, StatusBooked, StatusCompleted)
		if errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
		}
		if err != nil {
			return fmt.Errorf("complete appointment: %w", err)
		}

		treatment, err = q.CreateTreatment(ctx, NewTreatment{
			AppointmentID: id,
			Diagnosis:     req.Diagnosis,
			Prescription:  req.Prescription,
			Notes:         req.Notes,
		})
		if err != nil {
			return fmt.Errorf("record treatment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logEvent(EventAppointmentCompleted, updated, zap.String("treatment_id", treatment.ID.String()))
	return updated, treatment, nil
}
