package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps domain and store errors onto HTTP statuses.
// Infrastructure failures get 503 so clients can tell them from rejections.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *appointment.ValidationError
	if errors.As(err, &verr) {
		code := "invalid_field"
		switch {
		case errors.Is(err, appointment.ErrMissingField):
			code = "missing_field"
		case errors.Is(err, appointment.ErrInvalidDate):
			code = "invalid_date"
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: code, Details: verr.Reason, Field: verr.Field})
		return
	}

	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrTreatmentExists):
		writeError(w, http.StatusConflict, "treatment_exists", err.Error())
	case errors.Is(err, appointment.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "the appointment store could not be reached, retry later")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
