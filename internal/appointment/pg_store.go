package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	activeSlotConstraint  = "appointments_active_slot_key"
	treatmentApptKey      = "treatments_appointment_id_key"
	appointmentPatientFK  = "appointments_patient_id_fkey"
	appointmentDoctorFK   = "appointments_doctor_id_fkey"
	appointmentColumns    = "a.id, a.patient_id, a.doctor_id, a.date, a.time_slot, a.status, a.created_at, a.updated_at"
	patientColumns        = "p.id, p.user_id, p.name, p.email, p.contact_info, p.is_blocked"
	doctorColumns         = "d.id, d.user_id, d.name, d.email, d.is_approved, d.availability"
	appointmentReturnCols = "id, patient_id, doctor_id, date, time_slot, status, created_at, updated_at"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgQueries struct {
	db dbtx
}

type PgStore struct {
	pgQueries
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pgQueries: pgQueries{db: pool}, pool: pool}
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgQueries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit transaction", err)
	}
	return nil
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Email, &p.ContactInfo, &p.Blocked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, storeErr("scan patient", err)
	}
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var availability []byte
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Email, &d.Approved, &availability)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, storeErr("scan doctor", err)
	}
	d.Availability = availability
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&a.TimeSlot,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, storeErr("scan appointment", err)
	}
	a.Date = Day(a.Date)
	return &a, nil
}

// classify turns constraint violations into domain errors and everything else
// into a StoreError.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activeSlotConstraint:
			return ErrSlotConflict
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == treatmentApptKey:
			return ErrTreatmentExists
		case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == appointmentPatientFK:
			return ErrPatientNotFound
		case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == appointmentDoctorFK:
			return ErrDoctorNotFound
		}
	}
	return storeErr(op, err)
}

// Interface methods

func (q *pgQueries) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := q.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients p WHERE p.id = $1`, id)
	return scanPatient(row)
}

func (q *pgQueries) GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	row := q.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients p WHERE p.user_id = $1`, userID)
	return scanPatient(row)
}

func (q *pgQueries) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := q.db.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors d WHERE d.id = $1`, id)
	return scanDoctor(row)
}

func (q *pgQueries) ListApprovedDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors d
		WHERE d.is_approved
		ORDER BY d.name, d.id
	`)
	if err != nil {
		return nil, storeErr("list approved doctors", err)
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list approved doctors", err)
	}
	return result, nil
}

func (q *pgQueries) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments a WHERE a.id = $1`, id)
	return scanAppointment(row)
}

func (q *pgQueries) GetActiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, timeSlot string) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.doctor_id = $1
		  AND a.date = $2
		  AND a.time_slot = $3
		  AND a.status <> 'Cancelled'
	`, doctorID, Day(date), timeSlot)
	return scanAppointment(row)
}

func (q *pgQueries) CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	id := uuid.New()

	row := q.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, date, time_slot, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'Booked', now(), now())
		RETURNING `+appointmentReturnCols,
		id, a.PatientID, a.DoctorID, Day(a.Date), a.TimeSlot)

	created, err := scanAppointment(row)
	if err != nil {
		var se *StoreError
		if errors.As(err, &se) {
			return nil, classify("create appointment", se.Err)
		}
		return nil, err
	}
	return created, nil
}

func (q *pgQueries) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentReturnCols,
		id, to, from)

	return scanAppointment(row)
}

func (q *pgQueries) CreateTreatment(ctx context.Context, t NewTreatment) (*Treatment, error) {
	out := Treatment{
		AppointmentID: t.AppointmentID,
		Diagnosis:     t.Diagnosis,
		Prescription:  t.Prescription,
		Notes:         t.Notes,
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO treatments (id, appointment_id, diagnosis, prescription, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, created_at
	`, uuid.New(), t.AppointmentID, t.Diagnosis, t.Prescription, t.Notes).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, classify("create treatment", err)
	}
	return &out, nil
}

func (q *pgQueries) ListUpcomingForDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error) {
	return q.listDetails(ctx, "list upcoming for doctor", `
		WHERE a.doctor_id = $1
		  AND a.status = 'Booked'
		ORDER BY a.date, a.time_slot, a.id
	`, doctorID)
}

func (q *pgQueries) ListCompletedForPatient(ctx context.Context, patientID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+appointmentColumns+`, d.name,
		       t.id, t.diagnosis, t.prescription, t.notes, t.created_at
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		LEFT JOIN treatments t ON t.appointment_id = a.id
		WHERE a.patient_id = $1
		  AND a.status = 'Completed'
		ORDER BY a.date, a.time_slot
	`, patientID)
	if err != nil {
		return nil, storeErr("list completed for patient", err)
	}
	defer rows.Close()

	var result []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var (
			treatmentID  *uuid.UUID
			diagnosis    *string
			prescription *string
			notes        *string
			createdAt    *time.Time
		)
		err := rows.Scan(
			&e.ID, &e.PatientID, &e.DoctorID, &e.Date, &e.TimeSlot, &e.Status, &e.CreatedAt, &e.UpdatedAt,
			&e.DoctorName,
			&treatmentID, &diagnosis, &prescription, &notes, &createdAt,
		)
		if err != nil {
			return nil, storeErr("scan history entry", err)
		}
		e.Date = Day(e.Date)
		if treatmentID != nil {
			e.Treatment = &Treatment{
				ID:            *treatmentID,
				AppointmentID: e.ID,
				Diagnosis:     deref(diagnosis),
				Prescription:  deref(prescription),
				Notes:         notes,
				CreatedAt:     derefTime(createdAt),
			}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list completed for patient", err)
	}
	return result, nil
}

func (q *pgQueries) ListAppointments(ctx context.Context, limit, offset int) ([]AppointmentDetail, error) {
	return q.listDetails(ctx, "list appointments", `
		ORDER BY a.date DESC, a.time_slot DESC, a.id
		LIMIT $1 OFFSET $2
	`, limit, offset)
}

func (q *pgQueries) ListAssignedPatients(ctx context.Context, doctorID uuid.UUID) ([]AssignedPatient, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+patientColumns+`, max(a.date)
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.doctor_id = $1
		  AND a.status = 'Completed'
		GROUP BY p.id
		ORDER BY max(a.date) DESC, p.name, p.id
	`, doctorID)
	if err != nil {
		return nil, storeErr("list assigned patients", err)
	}
	defer rows.Close()

	var result []AssignedPatient
	for rows.Next() {
		var ap AssignedPatient
		p := &ap.Patient
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Email, &p.ContactInfo, &p.Blocked, &ap.LastVisit); err != nil {
			return nil, storeErr("scan assigned patient", err)
		}
		ap.LastVisit = Day(ap.LastVisit)
		result = append(result, ap)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list assigned patients", err)
	}
	return result, nil
}

func (q *pgQueries) CountClinic(ctx context.Context) (ClinicStats, error) {
	var stats ClinicStats
	err := q.db.QueryRow(ctx, `
		SELECT (SELECT count(*) FROM doctors),
		       (SELECT count(*) FROM patients),
		       (SELECT count(*) FROM appointments)
	`).Scan(&stats.Doctors, &stats.Patients, &stats.Appointments)
	if err != nil {
		return ClinicStats{}, storeErr("count clinic", err)
	}
	return stats, nil
}

func (q *pgQueries) ListBookedOn(ctx context.Context, day time.Time) ([]AppointmentDetail, error) {
	return q.listDetails(ctx, "list booked on", `
		WHERE a.date = $1
		  AND a.status = 'Booked'
		ORDER BY a.time_slot, a.id
	`, Day(day))
}

func (q *pgQueries) listDetails(ctx context.Context, op, tail string, args ...any) ([]AppointmentDetail, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+appointmentColumns+`, `+patientColumns+`, `+doctorColumns+`
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN doctors d ON d.id = a.doctor_id
	`+tail, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		var (
			detail       AppointmentDetail
			p            Patient
			d            Doctor
			availability []byte
		)
		a := &detail.Appointment
		err := rows.Scan(
			&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.TimeSlot, &a.Status, &a.CreatedAt, &a.UpdatedAt,
			&p.ID, &p.UserID, &p.Name, &p.Email, &p.ContactInfo, &p.Blocked,
			&d.ID, &d.UserID, &d.Name, &d.Email, &d.Approved, &availability,
		)
		if err != nil {
			return nil, storeErr(op, err)
		}
		a.Date = Day(a.Date)
		d.Availability = availability
		detail.Patient = &p
		detail.Doctor = &d
		result = append(result, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return result, nil
}

func (q *pgQueries) CountVisitsBetween(ctx context.Context, from, to time.Time) (map[uuid.UUID]VisitCounts, error) {
	rows, err := q.db.Query(ctx, `
		SELECT doctor_id,
		       count(*),
		       count(*) FILTER (WHERE status = 'Completed'),
		       count(*) FILTER (WHERE status = 'Cancelled')
		FROM appointments
		WHERE date >= $1
		  AND date <= $2
		GROUP BY doctor_id
	`, Day(from), Day(to))
	if err != nil {
		return nil, storeErr("count visits", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]VisitCounts)
	for rows.Next() {
		var c VisitCounts
		if err := rows.Scan(&c.DoctorID, &c.Total, &c.Completed, &c.Cancelled); err != nil {
			return nil, storeErr("scan visit counts", err)
		}
		result[c.DoctorID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("count visits", err)
	}
	return result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
