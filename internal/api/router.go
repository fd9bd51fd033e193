package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

type RouterConfig struct {
	Service        *appointment.Service
	Exports        ExportEnqueuer
	Logger         *zap.Logger
	Dependencies   []Dependency
	RateLimitRPS   float64
	RateLimitBurst int
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoverMiddleware(logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Dependencies...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
		r.Use(IdentityMiddleware)

		r.Get("/doctors", listDoctorsHandler(cfg.Service))

		r.With(RequireRole(appointment.RolePatient)).
			Post("/appointments", createAppointmentHandler(cfg.Service))
		r.With(RequireRole(appointment.RolePatient, appointment.RoleAdmin)).
			Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.With(RequireRole(appointment.RoleDoctor)).
			Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))

		r.With(RequireRole(appointment.RoleDoctor, appointment.RoleAdmin)).
			Get("/doctors/{id}/appointments/upcoming", upcomingForDoctorHandler(cfg.Service))
		r.With(RequireRole(appointment.RoleDoctor, appointment.RoleAdmin)).
			Get("/doctors/{id}/patients", assignedPatientsHandler(cfg.Service))
		r.Get("/patients/{id}/history", patientHistoryHandler(cfg.Service))
		r.With(RequireRole(appointment.RolePatient)).
			Post("/patients/me/history/export", exportHistoryHandler(cfg.Exports, logger))

		r.With(RequireRole(appointment.RoleAdmin)).
			Get("/admin/appointments", listAppointmentsHandler(cfg.Service))
		r.With(RequireRole(appointment.RoleAdmin)).
			Get("/admin/stats", statsHandler(cfg.Service))
	})

	return r
}
