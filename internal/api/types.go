package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	TimeSlot string `json:"time_slot"`
}

type CompleteAppointmentRequest struct {
	Diagnosis    string  `json:"diagnosis"`
	Prescription string  `json:"prescription"`
	Notes        *string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	TimeSlot  string    `json:"time_slot"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TreatmentResponse struct {
	ID           uuid.UUID `json:"id"`
	Diagnosis    string    `json:"diagnosis"`
	Prescription string    `json:"prescription"`
	Notes        *string   `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type CompletedVisitResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Treatment   TreatmentResponse   `json:"treatment"`
}

type HistoryEntryResponse struct {
	AppointmentResponse
	DoctorName string            `json:"doctor_name"`
	Treatment  TreatmentResponse `json:"treatment"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	PatientName string `json:"patient_name,omitempty"`
	DoctorName  string `json:"doctor_name,omitempty"`
}

type AssignedPatientResponse struct {
	PatientID   uuid.UUID `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	Email       string    `json:"email"`
	Contact     *string   `json:"contact"`
	LastVisit   string    `json:"last_visit"`
}

type ClinicStatsResponse struct {
	Doctors      int `json:"doctors"`
	Patients     int `json:"patients"`
	Appointments int `json:"appointments"`
}

type StatsResponse struct {
	Stats ClinicStatsResponse `json:"stats"`
}

type DoctorResponse struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Availability json.RawMessage `json:"availability,omitempty"`
}

type ExportAcceptedResponse struct {
	RequestID   uuid.UUID `json:"request_id"`
	Status      string    `json:"status"`
	RequestedAt time.Time `json:"requested_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Date:      a.Date.Format(appointment.DateLayout),
		TimeSlot:  a.TimeSlot,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toAppointmentDetailResponse(a *appointment.AppointmentDetail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{AppointmentResponse: toAppointmentResponse(&a.Appointment)}
	if a.Patient != nil {
		resp.PatientName = a.Patient.Name
	}
	if a.Doctor != nil {
		resp.DoctorName = a.Doctor.Name
	}
	return resp
}

func toTreatmentResponse(t *appointment.Treatment) TreatmentResponse {
	return TreatmentResponse{
		ID:           t.ID,
		Diagnosis:    t.Diagnosis,
		Prescription: t.Prescription,
		Notes:        t.Notes,
		CreatedAt:    t.CreatedAt,
	}
}
