package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
)

var testDate = "2030-05-20"

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	return NewService(store, zap.NewNop(), config.Config{QueryTimeout: time.Second})
}

func bookReq(p Patient, d Doctor, slot string) BookRequest {
	return BookRequest{
		PatientID: p.ID.String(),
		DoctorID:  d.ID.String(),
		Date:      testDate,
		TimeSlot:  slot,
	}
}

func patientCaller(p Patient) Caller {
	return Caller{UserID: p.UserID, ProfileID: p.ID, Role: RolePatient}
}

func doctorCaller(d Doctor) Caller {
	return Caller{UserID: d.UserID, ProfileID: d.ID, Role: RoleDoctor}
}

// failingTreatmentStore fails every treatment insert made inside a
// transaction, after the status update has already been applied.
type failingTreatmentStore struct {
	*MemoryStore
}

func (s failingTreatmentStore) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	return s.MemoryStore.InTx(ctx, func(ctx context.Context, q Queries) error {
		return fn(ctx, failingTreatmentQueries{Queries: q})
	})
}

type failingTreatmentQueries struct {
	Queries
}

func (failingTreatmentQueries) CreateTreatment(context.Context, NewTreatment) (*Treatment, error) {
	return nil, storeErr("insert treatment", errors.New("connection reset"))
}

func TestBook_ConflictCancelRebook(t *testing.T) {
	store, p1, d := seedStore(t)
	p2 := store.AddPatient(Patient{Name: "Bob", Email: "bob@example.com"})
	svc := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.Book(ctx, bookReq(p1, d, "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Status != StatusBooked {
		t.Errorf("expected Booked, got %s", first.Status)
	}

	if _, err := svc.Book(ctx, bookReq(p2, d, "10:00")); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	if _, err := svc.Cancel(ctx, patientCaller(p1), first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	second, err := svc.Book(ctx, bookReq(p2, d, "10:00"))
	if err != nil {
		t.Fatalf("expected rebook to succeed, got %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a new appointment id for the rebooked slot")
	}
}

func TestBook_TrimsTimeSlot(t *testing.T) {
	store, p, d := seedStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	if _, err := svc.Book(ctx, bookReq(p, d, " 10:00 ")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Book(ctx, bookReq(p, d, "10:00")); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected padded and bare slots to collide, got %v", err)
	}
}

func TestBook_Validation(t *testing.T) {
	store, p, d := seedStore(t)
	svc := newTestService(t, store)

	tests := []struct {
		name  string
		req   BookRequest
		want  error
		field string
	}{
		{"missing doctor", BookRequest{PatientID: p.ID.String(), Date: testDate, TimeSlot: "10:00"}, ErrMissingField, "doctor_id"},
		{"missing slot", BookRequest{PatientID: p.ID.String(), DoctorID: d.ID.String(), Date: testDate, TimeSlot: "  "}, ErrMissingField, "time_slot"},
		{"bad date", BookRequest{PatientID: p.ID.String(), DoctorID: d.ID.String(), Date: "2030-02-30", TimeSlot: "10:00"}, ErrInvalidDate, "date"},
		{"date with time", BookRequest{PatientID: p.ID.String(), DoctorID: d.ID.String(), Date: "20/05/2030", TimeSlot: "10:00"}, ErrInvalidDate, "date"},
		{"bad doctor id", BookRequest{PatientID: p.ID.String(), DoctorID: "dr-who", Date: testDate, TimeSlot: "10:00"}, ErrInvalidField, "doctor_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Book(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestBook_UnknownReferences(t *testing.T) {
	store, p, d := seedStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	req := bookReq(p, d, "10:00")
	req.DoctorID = uuid.NewString()
	if _, err := svc.Book(ctx, req); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound, got %v", err)
	}

	req = bookReq(p, d, "10:00")
	req.PatientID = uuid.NewString()
	if _, err := svc.Book(ctx, req); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	store, _, d := seedStore(t)
	svc := newTestService(t, store)

	const callers = 25
	patients := make([]Patient, callers)
	for i := range patients {
		patients[i] = store.AddPatient(Patient{Name: "patient", Email: "p@example.com"})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(p Patient) {
			defer wg.Done()
			<-start
			_, err := svc.Book(context.Background(), bookReq(p, d, "09:30"))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(patients[i])
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if successes != 1 {
		t.Fatalf("expected exactly one booking, got %d", successes)
	}
	if conflicts != callers-1 {
		t.Fatalf("expected %d conflicts, got %d", callers-1, conflicts)
	}
}

func TestCancel_Authorization(t *testing.T) {
	store, p, d := seedStore(t)
	other := store.AddPatient(Patient{Name: "Eve", Email: "eve@example.com"})
	svc := newTestService(t, store)
	ctx := context.Background()

	appt, err := svc.Book(ctx, bookReq(p, d, "10:00"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := svc.Cancel(ctx, patientCaller(other), appt.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for another patient, got %v", err)
	}
	if _, err := svc.Cancel(ctx, doctorCaller(d), appt.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for doctor, got %v", err)
	}

	admin := Caller{UserID: uuid.New(), Role: RoleAdmin}
	cancelled, err := svc.Cancel(ctx, admin, appt.ID)
	if err != nil {
		t.Fatalf("expected admin cancel to succeed, got %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected Cancelled, got %s", cancelled.Status)
	}
}

func TestCancel_NotFoundAndTerminal(t *testing.T) {
	store, p, d := seedStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	if _, err := svc.Cancel(ctx, patientCaller(p), uuid.New()); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}

	appt, err := svc.Book(ctx, bookReq(p, d, "10:00"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.Cancel(ctx, patientCaller(p), appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Cancel(ctx, patientCaller(p), appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second cancel, got %v", err)
	}
}

func TestComplete_RecordsTreatment(t *testing.T) {
	store, p, d := seedStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	appt, err := svc.Book(ctx, bookReq(p, d, "10:00"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	notes := "  follow up in a week "
	done, treatment, err := svc.Complete(ctx, doctorCaller(d), appt.ID, CompleteRequest{
		Diagnosis:    "Influenza",
		Prescription: "Oseltamivir",
		Notes:        &notes,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected Completed, got %s", done.Status)
	}
	if treatment.AppointmentID != appt.ID {
		t.Errorf("treatment points at %s, want %s", treatment.AppointmentID, appt.ID)
	}
	if treatment.Notes == nil || *treatment.Notes != "follow up in a week" {
		t.Errorf("expected trimmed notes, got %v", treatment.Notes)
	}

	history, err := svc.ListHistoryForPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Treatment == nil || history[0].Treatment.Diagnosis != "Influenza" {
		t.Fatalf("unexpected history %+v", history)
	}
	if history[0].DoctorName != d.Name {
		t.Errorf("expected doctor name %q, got %q", d.Name, history[0].DoctorName)
	}

	if _, err := svc.Cancel(ctx, patientCaller(p), appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition cancelling a completed visit, got %v", err)
	}
	if _, _, err := svc.Complete(ctx, doctorCaller(d), appt.ID, CompleteRequest{Diagnosis: "x", Prescription: "y"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition completing twice, got %v", err)
	}
}

func TestComplete_Authorization(t *testing.T) {
	store, p, d := seedStore(t)
	otherDoctor := store.AddDoctor(Doctor{Name: "House", Approved: true})
	svc := newTestService(t, store)
	ctx := context.Background()

	appt, err := svc.Book(ctx, bookReq(p, d, "10:00"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	req := CompleteRequest{Diagnosis: "Cold", Prescription: "Tea"}

	if _, _, err := svc.Complete(ctx, doctorCaller(otherDoctor), appt.ID, req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for another doctor, got %v", err)
	}
	if _, _, err := svc.Complete(ctx, patientCaller(p), appt.ID, req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for patient, got %v", err)
	}

	got, err := svc.GetAppointment(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusBooked {
		t.Errorf("expected appointment to stay Booked, got %s", got.Status)
	}
}

func TestComplete_ValidationBeforeStore(t *testing.T) {
	store, p, d := seedStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	appt, err := svc.Book(ctx, bookReq(p, d, "10:00"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	_, _, err = svc.Complete(ctx, doctorCaller(d), appt.ID, CompleteRequest{Diagnosis: "  ", Prescription: "Tea"})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}

	_, _, err = svc.Complete(ctx, doctorCaller(d), uuid.New(), CompleteRequest{Diagnosis: "Cold"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "prescription" {
		t.Fatalf("expected prescription validation error, got %v", err)
	}
}

func TestComplete_TreatmentFailureRollsBack(t *testing.T) {
	mem, p, d := seedStore(t)
	ctx := context.Background()

	appt, err := newTestService(t, mem).Book(ctx, bookReq(p, d, "10:00"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	svc := newTestService(t, failingTreatmentStore{MemoryStore: mem})
	_, _, err = svc.Complete(ctx, doctorCaller(d), appt.ID, CompleteRequest{Diagnosis: "Cold", Prescription: "Tea"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	got, err := mem.GetAppointmentByID(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusBooked {
		t.Fatalf("expected status to roll back to Booked, got %s", got.Status)
	}

	history, err := mem.ListCompletedForPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no completed visits, got %d", len(history))
	}
}

func TestListHistory_SkipsVisitWithoutTreatment(t *testing.T) {
	store, p, d := seedStore(t)
	ctx := context.Background()

	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewService(store, zap.New(core), config.Config{QueryTimeout: time.Second})

	intact, err := svc.Book(ctx, bookReq(p, d, "09:00"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, _, err := svc.Complete(ctx, doctorCaller(d), intact.ID, CompleteRequest{Diagnosis: "Cold", Prescription: "Tea"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	broken, err := svc.Book(ctx, bookReq(p, d, "11:00"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	// bypass the service to simulate a row written without its treatment
	if _, err := store.UpdateAppointmentStatus(ctx, broken.ID, StatusBooked, StatusCompleted); err != nil {
		t.Fatalf("force complete: %v", err)
	}

	history, err := svc.ListHistoryForPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ID != intact.ID {
		t.Fatalf("expected only the intact visit, got %+v", history)
	}

	warnings := logs.FilterMessage("completed appointment has no treatment, skipping").All()
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(warnings))
	}
	if got := warnings[0].ContextMap()["appointment_id"]; got != broken.ID.String() {
		t.Errorf("warning names %v, want %s", got, broken.ID)
	}
}

func TestListAppointments_Clamps(t *testing.T) {
	store, p, d := seedStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	for _, slot := range []string{"09:00", "10:00", "11:00"} {
		if _, err := svc.Book(ctx, bookReq(p, d, slot)); err != nil {
			t.Fatalf("book: %v", err)
		}
	}

	all, err := svc.ListAppointments(ctx, 0, -5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 appointments, got %d", len(all))
	}
	if all[0].Patient == nil || all[0].Patient.ID != p.ID {
		t.Errorf("expected patient detail to be populated")
	}

	page, err := svc.ListAppointments(ctx, 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 appointment on second page, got %d", len(page))
	}
}

func TestListDoctors_OnlyApproved(t *testing.T) {
	store, _, d := seedStore(t)
	store.AddDoctor(Doctor{Name: "Pending", Approved: false})
	svc := newTestService(t, store)

	doctors, err := svc.ListDoctors(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(doctors) != 1 || doctors[0].ID != d.ID {
		t.Fatalf("expected only the approved doctor, got %+v", doctors)
	}
}

// staleStatusStore makes every status update inside a transaction match no
// rows, as when another transaction changed the appointment after it was read.
type staleStatusStore struct {
	*MemoryStore
}

func (s staleStatusStore) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	return s.MemoryStore.InTx(ctx, func(ctx context.Context, q Queries) error {
		return fn(ctx, staleStatusQueries{Queries: q})
	})
}

type staleStatusQueries struct {
	Queries
}

func (staleStatusQueries) UpdateAppointmentStatus(context.Context, uuid.UUID, Status, Status) (*Appointment, error) {
	return nil, ErrAppointmentNotFound
}

func TestTransitions_StaleStatusIsInvalidTransition(t *testing.T) {
	mem, p, d := seedStore(t)
	ctx := context.Background()

	appt, err := newTestService(t, mem).Book(ctx, bookReq(p, d, "10:00"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	svc := newTestService(t, staleStatusStore{MemoryStore: mem})

	if _, err := svc.Cancel(ctx, patientCaller(p), appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition from cancel, got %v", err)
	}
	_, _, err = svc.Complete(ctx, doctorCaller(d), appt.ID, CompleteRequest{Diagnosis: "Flu", Prescription: "Rest"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition from complete, got %v", err)
	}
	if errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("a lost race must not look like a missing appointment: %v", err)
	}

	history, err := mem.ListCompletedForPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no completed visits, got %d", len(history))
	}
}

func TestTransitions_CancelRacesComplete(t *testing.T) {
	for i := 0; i < 20; i++ {
		store, p, d := seedStore(t)
		svc := newTestService(t, store)
		ctx := context.Background()

		appt, err := svc.Book(ctx, bookReq(p, d, "10:00"))
		if err != nil {
			t.Fatalf("book: %v", err)
		}

		var (
			wg          sync.WaitGroup
			start       = make(chan struct{})
			cancelErr   error
			completeErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr = svc.Cancel(ctx, patientCaller(p), appt.ID)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, _, completeErr = svc.Complete(ctx, doctorCaller(d), appt.ID, CompleteRequest{Diagnosis: "Flu", Prescription: "Rest"})
		}()
		close(start)
		wg.Wait()

		if (cancelErr == nil) == (completeErr == nil) {
			t.Fatalf("expected exactly one winner, cancel=%v complete=%v", cancelErr, completeErr)
		}

		final, err := store.GetAppointmentByID(ctx, appt.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		history, _ := store.ListCompletedForPatient(ctx, p.ID)

		if cancelErr == nil {
			if !errors.Is(completeErr, ErrInvalidTransition) {
				t.Fatalf("expected losing complete to see ErrInvalidTransition, got %v", completeErr)
			}
			if final.Status != StatusCancelled || len(history) != 0 {
				t.Fatalf("expected Cancelled with no treatment, got %s and %d visits", final.Status, len(history))
			}
		} else {
			if !errors.Is(cancelErr, ErrInvalidTransition) {
				t.Fatalf("expected losing cancel to see ErrInvalidTransition, got %v", cancelErr)
			}
			if final.Status != StatusCompleted || len(history) != 1 || history[0].Treatment == nil {
				t.Fatalf("expected Completed with a treatment, got %s and %+v", final.Status, history)
			}
		}
	}
}

func TestListHistory_UnknownPatient(t *testing.T) {
	store, _, _ := seedStore(t)
	svc := newTestService(t, store)

	if _, err := svc.ListHistoryForPatient(context.Background(), uuid.New()); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestListAssignedPatients(t *testing.T) {
	store, p, d := seedStore(t)
	other := store.AddPatient(Patient{Name: "Bo", Email: "bo@example.com"})
	waiting := store.AddPatient(Patient{Name: "Cy", Email: "cy@example.com"})
	svc := newTestService(t, store)
	ctx := context.Background()

	complete := func(patient Patient, date, slot string) {
		t.Helper()
		req := bookReq(patient, d, slot)
		req.Date = date
		appt, err := svc.Book(ctx, req)
		if err != nil {
			t.Fatalf("book: %v", err)
		}
		if _, _, err := svc.Complete(ctx, doctorCaller(d), appt.ID, CompleteRequest{Diagnosis: "Flu", Prescription: "Rest"}); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	complete(p, "2030-05-01", "09:00")
	complete(p, "2030-05-10", "09:00")
	complete(other, "2030-05-05", "10:00")
	if _, err := svc.Book(ctx, bookReq(waiting, d, "11:00")); err != nil {
		t.Fatalf("book: %v", err)
	}

	got, err := svc.ListAssignedPatients(ctx, d.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 assigned patients, got %d", len(got))
	}
	if got[0].ID != p.ID || got[0].LastVisit.Format(DateLayout) != "2030-05-10" {
		t.Errorf("unexpected first patient %s last visit %s", got[0].Name, got[0].LastVisit)
	}
	if got[1].ID != other.ID {
		t.Errorf("unexpected second patient %s", got[1].Name)
	}

	if _, err := svc.ListAssignedPatients(ctx, uuid.New()); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound, got %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats != (ClinicStats{Doctors: 1, Patients: 3, Appointments: 4}) {
		t.Errorf("unexpected stats %+v", stats)
	}
}
