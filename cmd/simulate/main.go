package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/api"
	"github.com/hackgods/clinic-appointment-scheduling/internal/bootstrap"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookRatio    float64
	CancelRatio  float64
	CompleteRate float64
	ReadRatio    float64
	Days         int
	PatientLimit int
	DoctorLimit  int
}

type profile struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

type booked struct {
	ID       uuid.UUID
	Patient  profile
	DoctorID uuid.UUID
}

// DataPool holds the profiles loaded from Postgres and the appointments the
// simulation has created so far.
type DataPool struct {
	Patients []profile
	Doctors  []profile

	mu     sync.Mutex
	booked []booked
}

func (dp *DataPool) Add(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, b)
}

// Take removes and returns a random booked appointment.
func (dp *DataPool) Take(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return booked{}, false
	}
	i := rng.Intn(len(dp.booked))
	b := dp.booked[i]
	dp.booked[i] = dp.booked[len(dp.booked)-1]
	dp.booked = dp.booked[:len(dp.booked)-1]
	return b, true
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *zap.Logger
	metrics map[string]*OperationMetrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New("simulate", baseCfg.LogPath, baseCfg.LogDebug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadSimConfig()
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		logger.Fatal("SIM_WORKERS and SIM_DURATION must be positive")
	}
	if baseCfg.StoreDriver != config.StoreDriverPostgres {
		logger.Fatal("the simulator reads profiles from Postgres, set STORE_DRIVER=postgres")
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("book", cfg.BookRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("complete", cfg.CompleteRate),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, baseCfg.DBMaxConns)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("profiles loaded", zap.Int("patients", len(dataPool.Patients)), zap.Int("doctors", len(dataPool.Doctors)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
		metrics: map[string]*OperationMetrics{
			"book":     {},
			"cancel":   {},
			"complete": {},
			"upcoming": {},
			"history":  {},
		},
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer verifyCancel()
	if err := verifySlots(verifyCtx, pgPool); err != nil {
		logger.Fatal("slot invariant violated", zap.Error(err))
	}
	logger.Info("no doctor slot holds more than one active appointment")
}

func loadSimConfig() SimConfig {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SIM_API_BASE_URL", "http://localhost:8080")
	v.SetDefault("SIM_DURATION", "30s")
	v.SetDefault("SIM_WORKERS", 10)
	v.SetDefault("SIM_BOOK_RATIO", 0.5)
	v.SetDefault("SIM_CANCEL_RATIO", 0.15)
	v.SetDefault("SIM_COMPLETE_RATIO", 0.15)
	v.SetDefault("SIM_READ_RATIO", 0.2)
	v.SetDefault("SIM_DAYS", 5)
	v.SetDefault("SIM_PATIENT_LIMIT", 4000)
	v.SetDefault("SIM_DOCTOR_LIMIT", 20)

	cfg := SimConfig{
		APIBaseURL:   v.GetString("SIM_API_BASE_URL"),
		Duration:     v.GetDuration("SIM_DURATION"),
		Workers:      v.GetInt("SIM_WORKERS"),
		BookRatio:    v.GetFloat64("SIM_BOOK_RATIO"),
		CancelRatio:  v.GetFloat64("SIM_CANCEL_RATIO"),
		CompleteRate: v.GetFloat64("SIM_COMPLETE_RATIO"),
		ReadRatio:    v.GetFloat64("SIM_READ_RATIO"),
		Days:         v.GetInt("SIM_DAYS"),
		PatientLimit: v.GetInt("SIM_PATIENT_LIMIT"),
		DoctorLimit:  v.GetInt("SIM_DOCTOR_LIMIT"),
	}

	// Normalize ratios
	total := cfg.BookRatio + cfg.CancelRatio + cfg.CompleteRate + cfg.ReadRatio
	if total > 0 {
		cfg.BookRatio /= total
		cfg.CancelRatio /= total
		cfg.CompleteRate /= total
		cfg.ReadRatio /= total
	}
	if cfg.Days <= 0 {
		cfg.Days = 1
	}
	return cfg
}

func loadProfiles(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]profile, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []profile
	for rows.Next() {
		var p profile
		if err := rows.Scan(&p.ID, &p.UserID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	patients, err := loadProfiles(ctx, pool,
		`SELECT id, user_id FROM patients WHERE NOT is_blocked LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	// a small doctor pool keeps slot contention high
	doctors, err := loadProfiles(ctx, pool,
		`SELECT id, user_id FROM doctors WHERE is_approved LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}
	return &DataPool{Patients: patients, Doctors: doctors}, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookRatio:
			s.doBook(ctx, rng)
		case r < s.config.BookRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.BookRatio+s.config.CancelRatio+s.config.CompleteRate:
			s.doComplete(ctx, rng)
		case rng.Intn(2) == 0:
			s.doUpcoming(ctx, rng)
		default:
			s.doHistory(ctx, rng)
		}
	}
}

// call sends one request as the given identity and returns the status code.
func (s *Simulator) call(ctx context.Context, method, path, role string, who profile, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.HeaderUserID, who.UserID.String())
	req.Header.Set(api.HeaderProfileID, who.ID.String())
	req.Header.Set(api.HeaderRole, role)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	date := time.Now().UTC().AddDate(0, 0, 1+rng.Intn(s.config.Days))

	body := map[string]string{
		"doctor_id": doctor.ID.String(),
		"date":      date.Format("2006-01-02"),
		"time_slot": bootstrap.DemoSlots[rng.Intn(len(bootstrap.DemoSlots))],
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	start := time.Now()
	code, err := s.call(ctx, http.MethodPost, "/appointments", "patient", patient, body, &created)
	s.metrics["book"].Record(time.Since(start), err == nil && code == http.StatusCreated, code == http.StatusConflict)

	if code == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.Add(booked{ID: created.ID, Patient: patient, DoctorID: doctor.ID})
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.Take(rng)
	if !ok {
		return
	}
	start := time.Now()
	code, err := s.call(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/cancel", "patient", b.Patient, nil, nil)
	s.metrics["cancel"].Record(time.Since(start), err == nil && code == http.StatusOK, code == http.StatusConflict)
}

func (s *Simulator) doComplete(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.Take(rng)
	if !ok {
		return
	}

	var doctor profile
	for _, d := range s.pool.Doctors {
		if d.ID == b.DoctorID {
			doctor = d
			break
		}
	}

	body := map[string]string{"diagnosis": "Influenza", "prescription": "Rest and fluids"}
	start := time.Now()
	code, err := s.call(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/complete", "doctor", doctor, body, nil)
	s.metrics["complete"].Record(time.Since(start), err == nil && code == http.StatusOK, code == http.StatusConflict)
}

func (s *Simulator) doUpcoming(ctx context.Context, rng *rand.Rand) {
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	start := time.Now()
	code, err := s.call(ctx, http.MethodGet, "/doctors/"+doctor.ID.String()+"/appointments/upcoming", "doctor", doctor, nil, nil)
	s.metrics["upcoming"].Record(time.Since(start), err == nil && code == http.StatusOK, false)
}

func (s *Simulator) doHistory(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	start := time.Now()
	code, err := s.call(ctx, http.MethodGet, "/patients/"+patient.ID.String()+"/history", "patient", patient, nil, nil)
	s.metrics["history"].Record(time.Since(start), err == nil && code == http.StatusOK, false)
}

// verifySlots fails if any doctor, date and slot holds more than one
// non-cancelled appointment.
func verifySlots(ctx context.Context, pool *pgxpool.Pool) error {
	var dupes int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT 1 FROM appointments
			WHERE status <> 'Cancelled'
			GROUP BY doctor_id, date, time_slot
			HAVING count(*) > 1
		) d
	`).Scan(&dupes)
	if err != nil {
		return err
	}
	if dupes > 0 {
		return fmt.Errorf("%d slot(s) double booked", dupes)
	}
	return nil
}
