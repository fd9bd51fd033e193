package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/bootstrap"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
)

var diagnoses = []string{
	"Influenza",
	"Hypertension",
	"Migraine",
	"Acute bronchitis",
	"Seasonal allergies",
	"Lower back pain",
	"Gastritis",
	"Sinusitis",
}

var prescriptions = []string{
	"Rest and fluids",
	"Ibuprofen 400mg twice daily",
	"Amoxicillin 500mg for 7 days",
	"Cetirizine 10mg daily",
	"Physiotherapy twice a week",
	"Omeprazole 20mg before breakfast",
}

var notes = []string{
	"Follow up in two weeks",
	"Return if symptoms persist",
	"Referred for blood work",
	"Advised lifestyle changes",
}

func main() {
	doctors := flag.Int("doctors", 40, "doctors to create")
	patients := flag.Int("patients", 2000, "patients to create")
	history := flag.Int("history", 3, "past completed visits per patient")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New("seed", cfg.LogPath, cfg.LogDebug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.StoreDriver != config.StoreDriverPostgres {
		logger.Fatal("seed writes to Postgres, set STORE_DRIVER=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxConns)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	f := gofakeit.New(0)
	s := &seeder{pool: pool, faker: f, log: logger}

	doctorIDs, err := s.seedDoctors(ctx, *doctors)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	patientIDs, err := s.seedPatients(ctx, *patients)
	if err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}
	if err := s.seedHistory(ctx, doctorIDs, patientIDs, *history); err != nil {
		logger.Fatal("seed history", zap.Error(err))
	}

	logger.Info("seed complete",
		zap.Int("doctors", len(doctorIDs)),
		zap.Int("patients", len(patientIDs)),
	)
}

type seeder struct {
	pool  *pgxpool.Pool
	faker *gofakeit.Faker
	log   *zap.Logger
}

func (s *seeder) seedDoctors(ctx context.Context, count int) ([]uuid.UUID, error) {
	s.log.Info("seeding doctors", zap.Int("count", count))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		approved := s.faker.Number(1, 10) > 1

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, user_id, name, email, is_approved, availability)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, uuid.New(), s.faker.LastName(), s.faker.Email(), approved, bootstrap.FakeAvailability(s.faker))
		if err != nil {
			return nil, err
		}
		if approved {
			ids = append(ids, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("doctors seeded", zap.Int("approved", len(ids)))
	return ids, nil
}

func (s *seeder) seedPatients(ctx context.Context, count int) ([]uuid.UUID, error) {
	s.log.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			id := uuid.New()
			ids = append(ids, id)
			batch.Queue(`
				INSERT INTO patients (id, user_id, name, email, contact_info, is_blocked)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, id, uuid.New(), s.faker.Name(), s.faker.Email(), s.faker.Phone(), s.faker.Number(1, 50) == 1)
		}

		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return nil, err
		}
		s.log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return ids, nil
}

// seedHistory books past visits and completes them with a treatment in the
// same transaction, matching how the lifecycle service writes them.
func (s *seeder) seedHistory(ctx context.Context, doctors, patients []uuid.UUID, perPatient int) error {
	if len(doctors) == 0 || perPatient <= 0 {
		return nil
	}
	s.log.Info("seeding visit history", zap.Int("per_patient", perPatient))

	today := time.Now().UTC().Truncate(24 * time.Hour)
	for i, patientID := range patients {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}

		for v := 0; v < perPatient; v++ {
			apptID := uuid.New()
			doctorID := doctors[s.faker.Number(0, len(doctors)-1)]
			date := today.AddDate(0, 0, -s.faker.Number(1, 365))
			slot := bootstrap.DemoSlots[s.faker.Number(0, len(bootstrap.DemoSlots)-1)]

			tag, err := tx.Exec(ctx, `
				INSERT INTO appointments (id, patient_id, doctor_id, date, time_slot, status)
				VALUES ($1, $2, $3, $4, $5, 'Completed')
				ON CONFLICT DO NOTHING
			`, apptID, patientID, doctorID, date, slot)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			if tag.RowsAffected() == 0 {
				continue
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO treatments (id, appointment_id, diagnosis, prescription, notes)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), apptID,
				diagnoses[s.faker.Number(0, len(diagnoses)-1)],
				prescriptions[s.faker.Number(0, len(prescriptions)-1)],
				notes[s.faker.Number(0, len(notes)-1)])
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		if (i+1)%500 == 0 {
			s.log.Info("history seeded", zap.Int("patients", i+1))
		}
	}
	return nil
}
