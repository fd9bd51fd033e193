package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

// ExportEnqueuer accepts history export requests for the job worker.
type ExportEnqueuer interface {
	Enqueue(ctx context.Context, userID uuid.UUID) (redisclient.ExportRequest, error)
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		book := appointment.BookRequest{
			PatientID: caller.ProfileID.String(),
			DoctorID:  req.DoctorID,
			Date:      req.Date,
			TimeSlot:  req.TimeSlot,
		}
		if err := book.Validate(); err != nil {
			writeServiceError(w, err)
			return
		}

		patient, err := svc.GetPatient(r.Context(), caller.ProfileID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if patient.Blocked {
			writeError(w, http.StatusForbidden, "patient_blocked", "this account may not book appointments")
			return
		}

		appt, err := svc.Book(r.Context(), book)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Cancel(r.Context(), caller, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CompleteAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, treatment, err := svc.Complete(r.Context(), caller, id, appointment.CompleteRequest{
			Diagnosis:    req.Diagnosis,
			Prescription: req.Prescription,
			Notes:        req.Notes,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CompletedVisitResponse{
			Appointment: toAppointmentResponse(appt),
			Treatment:   toTreatmentResponse(treatment),
		})
	}
}

func listDoctorsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, DoctorResponse{
				ID:           d.ID,
				Name:         d.Name,
				Email:        d.Email,
				Availability: d.Availability,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func upcomingForDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}
		if caller.Role != appointment.RoleAdmin && caller.ProfileID != doctorID {
			writeError(w, http.StatusForbidden, "forbidden", "doctors may only list their own schedule")
			return
		}

		appts, err := svc.ListUpcomingForDoctor(r.Context(), doctorID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]AppointmentDetailResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentDetailResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func assignedPatientsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}
		if caller.Role != appointment.RoleAdmin && caller.ProfileID != doctorID {
			writeError(w, http.StatusForbidden, "forbidden", "doctors may only list their own patients")
			return
		}

		patients, err := svc.ListAssignedPatients(r.Context(), doctorID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]AssignedPatientResponse, 0, len(patients))
		for _, p := range patients {
			resp = append(resp, AssignedPatientResponse{
				PatientID:   p.ID,
				PatientName: p.Name,
				Email:       p.Email,
				Contact:     p.ContactInfo,
				LastVisit:   p.LastVisit.Format(appointment.DateLayout),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, StatsResponse{Stats: ClinicStatsResponse{
			Doctors:      stats.Doctors,
			Patients:     stats.Patients,
			Appointments: stats.Appointments,
		}})
	}
}

func patientHistoryHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}
		if caller.Role == appointment.RolePatient && caller.ProfileID != patientID {
			writeError(w, http.StatusForbidden, "forbidden", "patients may only view their own history")
			return
		}

		entries, err := svc.ListHistoryForPatient(r.Context(), patientID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]HistoryEntryResponse, 0, len(entries))
		for i := range entries {
			e := &entries[i]
			resp = append(resp, HistoryEntryResponse{
				AppointmentResponse: toAppointmentResponse(&e.Appointment),
				DoctorName:          e.DoctorName,
				Treatment:           toTreatmentResponse(e.Treatment),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func exportHistoryHandler(exports ExportEnqueuer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		if exports == nil {
			writeError(w, http.StatusServiceUnavailable, "exports_unavailable", "history export is not configured")
			return
		}

		req, err := exports.Enqueue(r.Context(), caller.UserID)
		if err != nil {
			logger.Error("enqueue history export",
				zap.String("user_id", caller.UserID.String()),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err),
			)
			writeError(w, http.StatusServiceUnavailable, "exports_unavailable", "could not queue the export, retry later")
			return
		}

		writeJSON(w, http.StatusAccepted, ExportAcceptedResponse{
			RequestID:   req.RequestID,
			Status:      "queued",
			RequestedAt: req.RequestedAt,
		})
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListAppointments(r.Context(), limit, offset)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]AppointmentDetailResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentDetailResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
