package appointment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusBooked    Status = "Booked"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Caller is the authenticated identity behind a request. ProfileID is the
// patient or doctor id for those roles and is unused for admins.
type Caller struct {
	UserID    uuid.UUID
	ProfileID uuid.UUID
	Role      Role
}

// DateLayout is the ISO-8601 calendar date format used on the wire.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar day, expressed as midnight UTC. Appointment
// dates are always stored in this form.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type Patient struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	Email       string
	ContactInfo *string
	Blocked     bool
}

// Contact returns the reminder address for the patient.
func (p Patient) Contact() string {
	if p.ContactInfo != nil && *p.ContactInfo != "" {
		return *p.ContactInfo
	}
	return p.Email
}

type Doctor struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Name     string
	Email    string
	Approved bool
	// Availability is the doctor's declared weekly schedule. It is advisory
	// and never checked when booking.
	Availability json.RawMessage
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	TimeSlot  string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Treatment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Diagnosis     string
	Prescription  string
	Notes         *string
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Patient *Patient
	Doctor  *Doctor
}

// HistoryEntry is a completed appointment with its treatment. Treatment is nil
// only when the stored data breaks the completion invariant.
type HistoryEntry struct {
	Appointment
	DoctorName string
	Treatment  *Treatment
}

// VisitCounts aggregates one doctor's appointments over a date range.
type VisitCounts struct {
	DoctorID  uuid.UUID
	Total     int
	Completed int
	Cancelled int
}

// ClinicStats are the headline counts on the admin dashboard.
type ClinicStats struct {
	Doctors      int
	Patients     int
	Appointments int
}

// AssignedPatient is a patient with at least one completed visit with a
// doctor. LastVisit is the date of the most recent one.
type AssignedPatient struct {
	Patient
	LastVisit time.Time
}

type NewAppointment struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	TimeSlot  string
}

type NewTreatment struct {
	AppointmentID uuid.UUID
	Diagnosis     string
	Prescription  string
	Notes         *string
}

// SplitIntact separates history entries that carry a treatment from those
// that do not.
func SplitIntact(entries []HistoryEntry) (intact, broken []HistoryEntry) {
	for _, e := range entries {
		if e.Treatment == nil {
			broken = append(broken, e)
			continue
		}
		intact = append(intact, e)
	}
	return intact, broken
}
