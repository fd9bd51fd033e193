package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotConflict        = errors.New("time slot is already booked")
	ErrTreatmentExists     = errors.New("treatment already recorded for appointment")

	// ErrStoreUnavailable matches every StoreError.
	ErrStoreUnavailable = errors.New("appointment store unavailable")
)

// StoreError reports an infrastructure failure (connection, timeout, driver)
// as opposed to a business rule rejection.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Queries contains all reads and writes the services and jobs need.
type Queries interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListApprovedDoctors(ctx context.Context) ([]Doctor, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// For conflict checks. Returns ErrAppointmentNotFound when the slot is free.
	GetActiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, timeSlot string) (*Appointment, error)

	// CreateAppointment inserts a Booked appointment. A non-cancelled
	// appointment on the same doctor, date and slot yields ErrSlotConflict.
	CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error)
	// UpdateAppointmentStatus only matches rows currently in from and returns
	// ErrAppointmentNotFound when nothing matched.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	CreateTreatment(ctx context.Context, t NewTreatment) (*Treatment, error)

	ListUpcomingForDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error)
	ListCompletedForPatient(ctx context.Context, patientID uuid.UUID) ([]HistoryEntry, error)
	ListAppointments(ctx context.Context, limit, offset int) ([]AppointmentDetail, error)
	// ListAssignedPatients returns each patient with a completed visit with
	// the doctor once, most recent visit first.
	ListAssignedPatients(ctx context.Context, doctorID uuid.UUID) ([]AssignedPatient, error)
	CountClinic(ctx context.Context) (ClinicStats, error)

	// Job reads
	ListBookedOn(ctx context.Context, day time.Time) ([]AppointmentDetail, error)
	CountVisitsBetween(ctx context.Context, from, to time.Time) (map[uuid.UUID]VisitCounts, error)
}

// Store is the durable appointment table plus its transaction boundary. fn
// must only use the Queries it is handed; everything it does commits or
// rolls back together.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
}
