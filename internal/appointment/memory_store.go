package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type slotKey struct {
	doctorID uuid.UUID
	date     time.Time
	timeSlot string
}

type memoryState struct {
	patients     map[uuid.UUID]Patient
	doctors      map[uuid.UUID]Doctor
	appointments map[uuid.UUID]Appointment
	treatments   map[uuid.UUID]Treatment // keyed by appointment id
	activeSlots  map[slotKey]uuid.UUID   // non-cancelled appointments only
}

func newMemoryState() *memoryState {
	return &memoryState{
		patients:     map[uuid.UUID]Patient{},
		doctors:      map[uuid.UUID]Doctor{},
		appointments: map[uuid.UUID]Appointment{},
		treatments:   map[uuid.UUID]Treatment{},
		activeSlots:  map[slotKey]uuid.UUID{},
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		patients:     make(map[uuid.UUID]Patient, len(s.patients)),
		doctors:      make(map[uuid.UUID]Doctor, len(s.doctors)),
		appointments: make(map[uuid.UUID]Appointment, len(s.appointments)),
		treatments:   make(map[uuid.UUID]Treatment, len(s.treatments)),
		activeSlots:  make(map[slotKey]uuid.UUID, len(s.activeSlots)),
	}
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.doctors {
		c.doctors[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.treatments {
		c.treatments[k] = v
	}
	for k, v := range s.activeSlots {
		c.activeSlots[k] = v
	}
	return c
}

// MemoryStore is a process-local Store. InTx serialises transactions and
// works on a copy of the state that replaces the live one only on success.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState(), now: time.Now}
}

// AddPatient registers a patient profile, assigning ids when missing.
func (m *MemoryStore) AddPatient(p Patient) Patient {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.UserID == uuid.Nil {
		p.UserID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.patients[p.ID] = p
	return p
}

// AddDoctor registers a doctor profile, assigning ids when missing.
func (m *MemoryStore) AddDoctor(d Doctor) Doctor {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.UserID == uuid.Nil {
		d.UserID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.doctors[d.ID] = d
	return d
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return storeErr("begin transaction", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(ctx, &memoryQueries{state: working, now: m.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storeErr("commit transaction", err)
	}
	m.state = working
	return nil
}

func (m *MemoryStore) read() *memoryQueries {
	return &memoryQueries{state: m.state, now: m.now}
}

func (m *MemoryStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPatientByID(ctx, id)
}

func (m *MemoryStore) GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPatientByUserID(ctx, userID)
}

func (m *MemoryStore) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetDoctorByID(ctx, id)
}

func (m *MemoryStore) ListApprovedDoctors(ctx context.Context) ([]Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListApprovedDoctors(ctx)
}

func (m *MemoryStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetAppointmentByID(ctx, id)
}

func (m *MemoryStore) GetActiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, timeSlot string) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetActiveAppointmentForSlot(ctx, doctorID, date, timeSlot)
}

func (m *MemoryStore) CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateAppointment(ctx, a)
}

func (m *MemoryStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateAppointmentStatus(ctx, id, from, to)
}

func (m *MemoryStore) CreateTreatment(ctx context.Context, t NewTreatment) (*Treatment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateTreatment(ctx, t)
}

func (m *MemoryStore) ListUpcomingForDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListUpcomingForDoctor(ctx, doctorID)
}

func (m *MemoryStore) ListCompletedForPatient(ctx context.Context, patientID uuid.UUID) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListCompletedForPatient(ctx, patientID)
}

func (m *MemoryStore) ListAppointments(ctx context.Context, limit, offset int) ([]AppointmentDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListAppointments(ctx, limit, offset)
}

func (m *MemoryStore) ListAssignedPatients(ctx context.Context, doctorID uuid.UUID) ([]AssignedPatient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListAssignedPatients(ctx, doctorID)
}

func (m *MemoryStore) CountClinic(ctx context.Context) (ClinicStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CountClinic(ctx)
}

func (m *MemoryStore) ListBookedOn(ctx context.Context, day time.Time) ([]AppointmentDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListBookedOn(ctx, day)
}

func (m *MemoryStore) CountVisitsBetween(ctx context.Context, from, to time.Time) (map[uuid.UUID]VisitCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CountVisitsBetween(ctx, from, to)
}

// memoryQueries operates on a state the caller has already locked.
type memoryQueries struct {
	state *memoryState
	now   func() time.Time
}

func (q *memoryQueries) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := q.state.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (q *memoryQueries) GetPatientByUserID(_ context.Context, userID uuid.UUID) (*Patient, error) {
	for _, p := range q.state.patients {
		if p.UserID == userID {
			p := p
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (q *memoryQueries) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := q.state.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (q *memoryQueries) ListApprovedDoctors(_ context.Context) ([]Doctor, error) {
	var result []Doctor
	for _, d := range q.state.doctors {
		if d.Approved {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (q *memoryQueries) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := q.state.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (q *memoryQueries) GetActiveAppointmentForSlot(_ context.Context, doctorID uuid.UUID, date time.Time, timeSlot string) (*Appointment, error) {
	id, ok := q.state.activeSlots[slotKey{doctorID: doctorID, date: Day(date), timeSlot: timeSlot}]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a := q.state.appointments[id]
	return &a, nil
}

func (q *memoryQueries) CreateAppointment(_ context.Context, in NewAppointment) (*Appointment, error) {
	if _, ok := q.state.patients[in.PatientID]; !ok {
		return nil, ErrPatientNotFound
	}
	if _, ok := q.state.doctors[in.DoctorID]; !ok {
		return nil, ErrDoctorNotFound
	}

	key := slotKey{doctorID: in.DoctorID, date: Day(in.Date), timeSlot: in.TimeSlot}
	if _, taken := q.state.activeSlots[key]; taken {
		return nil, ErrSlotConflict
	}

	now := q.now()
	a := Appointment{
		ID:        uuid.New(),
		PatientID: in.PatientID,
		DoctorID:  in.DoctorID,
		Date:      key.date,
		TimeSlot:  in.TimeSlot,
		Status:    StatusBooked,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.state.appointments[a.ID] = a
	q.state.activeSlots[key] = a.ID
	return &a, nil
}

func (q *memoryQueries) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	a, ok := q.state.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	key := slotKey{doctorID: a.DoctorID, date: a.Date, timeSlot: a.TimeSlot}
	if to == StatusCancelled {
		delete(q.state.activeSlots, key)
	} else if from == StatusCancelled {
		if _, taken := q.state.activeSlots[key]; taken {
			return nil, ErrSlotConflict
		}
		q.state.activeSlots[key] = a.ID
	}

	a.Status = to
	a.UpdatedAt = q.now()
	q.state.appointments[id] = a
	return &a, nil
}

func (q *memoryQueries) CreateTreatment(_ context.Context, in NewTreatment) (*Treatment, error) {
	if _, ok := q.state.appointments[in.AppointmentID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	if _, exists := q.state.treatments[in.AppointmentID]; exists {
		return nil, ErrTreatmentExists
	}

	t := Treatment{
		ID:            uuid.New(),
		AppointmentID: in.AppointmentID,
		Diagnosis:     in.Diagnosis,
		Prescription:  in.Prescription,
		Notes:         in.Notes,
		CreatedAt:     q.now(),
	}
	q.state.treatments[in.AppointmentID] = t
	return &t, nil
}

func (q *memoryQueries) ListUpcomingForDoctor(_ context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error) {
	var appts []Appointment
	for _, a := range q.state.appointments {
		if a.DoctorID == doctorID && a.Status == StatusBooked {
			appts = append(appts, a)
		}
	}
	sortByDateSlot(appts)
	return q.details(appts), nil
}

func (q *memoryQueries) ListCompletedForPatient(_ context.Context, patientID uuid.UUID) ([]HistoryEntry, error) {
	var appts []Appointment
	for _, a := range q.state.appointments {
		if a.PatientID == patientID && a.Status == StatusCompleted {
			appts = append(appts, a)
		}
	}
	sortByDateSlot(appts)

	result := make([]HistoryEntry, 0, len(appts))
	for _, a := range appts {
		e := HistoryEntry{Appointment: a, DoctorName: q.state.doctors[a.DoctorID].Name}
		if t, ok := q.state.treatments[a.ID]; ok {
			t := t
			e.Treatment = &t
		}
		result = append(result, e)
	}
	return result, nil
}

func (q *memoryQueries) ListAppointments(_ context.Context, limit, offset int) ([]AppointmentDetail, error) {
	appts := make([]Appointment, 0, len(q.state.appointments))
	for _, a := range q.state.appointments {
		appts = append(appts, a)
	}
	sortByDateSlot(appts)
	// newest first
	for i, j := 0, len(appts)-1; i < j; i, j = i+1, j-1 {
		appts[i], appts[j] = appts[j], appts[i]
	}

	if offset >= len(appts) {
		return nil, nil
	}
	appts = appts[offset:]
	if limit > 0 && limit < len(appts) {
		appts = appts[:limit]
	}
	return q.details(appts), nil
}

func (q *memoryQueries) ListAssignedPatients(_ context.Context, doctorID uuid.UUID) ([]AssignedPatient, error) {
	last := make(map[uuid.UUID]time.Time)
	for _, a := range q.state.appointments {
		if a.DoctorID != doctorID || a.Status != StatusCompleted {
			continue
		}
		if seen, ok := last[a.PatientID]; !ok || a.Date.After(seen) {
			last[a.PatientID] = a.Date
		}
	}

	result := make([]AssignedPatient, 0, len(last))
	for id, visit := range last {
		result = append(result, AssignedPatient{Patient: q.state.patients[id], LastVisit: visit})
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastVisit.Equal(result[j].LastVisit) {
			return result[i].LastVisit.After(result[j].LastVisit)
		}
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (q *memoryQueries) CountClinic(_ context.Context) (ClinicStats, error) {
	return ClinicStats{
		Doctors:      len(q.state.doctors),
		Patients:     len(q.state.patients),
		Appointments: len(q.state.appointments),
	}, nil
}

func (q *memoryQueries) ListBookedOn(_ context.Context, day time.Time) ([]AppointmentDetail, error) {
	day = Day(day)
	var appts []Appointment
	for _, a := range q.state.appointments {
		if a.Status == StatusBooked && a.Date.Equal(day) {
			appts = append(appts, a)
		}
	}
	sortByDateSlot(appts)
	return q.details(appts), nil
}

func (q *memoryQueries) CountVisitsBetween(_ context.Context, from, to time.Time) (map[uuid.UUID]VisitCounts, error) {
	from, to = Day(from), Day(to)
	result := make(map[uuid.UUID]VisitCounts)
	for _, a := range q.state.appointments {
		if a.Date.Before(from) || a.Date.After(to) {
			continue
		}
		c := result[a.DoctorID]
		c.DoctorID = a.DoctorID
		c.Total++
		switch a.Status {
		case StatusCompleted:
			c.Completed++
		case StatusCancelled:
			c.Cancelled++
		}
		result[a.DoctorID] = c
	}
	return result, nil
}

func (q *memoryQueries) details(appts []Appointment) []AppointmentDetail {
	result := make([]AppointmentDetail, 0, len(appts))
	for _, a := range appts {
		p := q.state.patients[a.PatientID]
		d := q.state.doctors[a.DoctorID]
		result = append(result, AppointmentDetail{Appointment: a, Patient: &p, Doctor: &d})
	}
	return result
}

func sortByDateSlot(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].Date.Equal(appts[j].Date) {
			return appts[i].Date.Before(appts[j].Date)
		}
		if appts[i].TimeSlot != appts[j].TimeSlot {
			return appts[i].TimeSlot < appts[j].TimeSlot
		}
		return appts[i].ID.String() < appts[j].ID.String()
	})
}
