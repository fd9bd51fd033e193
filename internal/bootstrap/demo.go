package bootstrap

import (
	"encoding/json"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

var weekdays = []string{"mon", "tue", "wed", "thu", "fri"}

// DemoSlots are the time slot labels used by generated availability.
var DemoSlots = []string{"09:00", "09:30", "10:00", "10:30", "11:00", "14:00", "14:30", "15:00"}

// FakeAvailability builds a weekly availability document for a doctor.
func FakeAvailability(f *gofakeit.Faker) json.RawMessage {
	schedule := make(map[string][]string)
	for _, day := range weekdays {
		if f.Bool() {
			continue
		}
		start := f.Number(0, len(DemoSlots)-3)
		schedule[day] = DemoSlots[start : start+3]
	}
	raw, _ := json.Marshal(schedule)
	return raw
}

// SeedDemo fills a memory store with generated profiles so a local server
// has something to book against.
func SeedDemo(store *appointment.MemoryStore, f *gofakeit.Faker, doctors, patients int) ([]appointment.Doctor, []appointment.Patient) {
	ds := make([]appointment.Doctor, 0, doctors)
	for i := 0; i < doctors; i++ {
		ds = append(ds, store.AddDoctor(appointment.Doctor{
			Name:         f.LastName(),
			Email:        f.Email(),
			Approved:     i%5 != 4,
			Availability: FakeAvailability(f),
		}))
	}

	ps := make([]appointment.Patient, 0, patients)
	for i := 0; i < patients; i++ {
		phone := fmt.Sprintf("+1-%s", f.Phone())
		ps = append(ps, store.AddPatient(appointment.Patient{
			Name:        f.Name(),
			Email:       f.Email(),
			ContactInfo: &phone,
		}))
	}
	return ds, ps
}
