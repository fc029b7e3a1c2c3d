package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/config"
	"github.com/hackgods/locum-marketplace/internal/db"
	"github.com/hackgods/locum-marketplace/internal/logging"
)

// openRequest is a request together with the actor allowed to manage it.
type openRequest struct {
	ID         uuid.UUID
	Role       string
	OwnerID    uuid.UUID
	OwnerKind  string
	PracticeID uuid.UUID
}

type locum struct {
	ID   uuid.UUID
	Role string
}

type DataPool struct {
	Requests []openRequest
	Locums   []locum
	byRole   map[string][]locum

	mu      sync.RWMutex
	applied map[uuid.UUID][]uuid.UUID // request -> locums whose application went through
}

func (dp *DataPool) AddApplicant(requestID, locumID uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.applied[requestID] = append(dp.applied[requestID], locumID)
}

func (dp *DataPool) RandomApplicant(rng *rand.Rand, requestID uuid.UUID) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	list := dp.applied[requestID]
	if len(list) == 0 {
		return uuid.Nil, false
	}
	return list[rng.Intn(len(list))], true
}

// OperationMetrics tallies outcomes for one endpoint by response status.
type OperationMetrics struct {
	Total          int64
	Success        int64
	Conflict       int64
	PaymentMissing int64
	Error          int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, okStatus int) {
	atomic.AddInt64(&om.Total, 1)
	counter := &om.Error
	switch status {
	case okStatus:
		counter = &om.Success
	case http.StatusConflict:
		counter = &om.Conflict
	case http.StatusPaymentRequired:
		counter = &om.PaymentMissing
	}
	atomic.AddInt64(counter, 1)

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

type latencySummary struct {
	Mean, Slowest, P50, P95 time.Duration
}

func (om *OperationMetrics) Summary() latencySummary {
	om.mu.Lock()
	sorted := slices.Clone(om.latencies)
	om.mu.Unlock()

	if len(sorted) == 0 {
		return latencySummary{}
	}
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	at := func(q int) time.Duration {
		return sorted[min(len(sorted)*q/100, len(sorted)-1)]
	}
	return latencySummary{
		Mean:    sum / time.Duration(len(sorted)),
		Slowest: sorted[len(sorted)-1],
		P50:     at(50),
		P95:     at(95),
	}
}

type Metrics struct {
	Apply      OperationMetrics
	Select     OperationMetrics
	Available  OperationMetrics
	Applicants OperationMetrics
}

type Simulator struct {
	config  config.Simulation
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *zap.Logger
}

func main() {
	cfg, err := config.LoadSimulation()
	if err != nil {
		panic("config load error: " + err.Error())
	}
	logger := logging.New(cfg.Base.Env).Named("simulate")
	defer func() { _ = logger.Sync() }()

	logger.Info("simulator starting",
		zap.String("target", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("apply", cfg.ApplyRatio),
		zap.Float64("select", cfg.SelectRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.Base.PostgresDSN, 4)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data loaded",
		zap.Int("requests", len(dataPool.Requests)),
		zap.Int("locums", len(dataPool.Locums)),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport(os.Stdout)
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg config.Simulation) (*DataPool, error) {
	dp := &DataPool{byRole: map[string][]locum{}, applied: map[uuid.UUID][]uuid.UUID{}}

	rows, err := pool.Query(ctx, `SELECT id, role FROM locums LIMIT $1`, cfg.LocumLimit)
	if err != nil {
		return nil, fmt.Errorf("load locums: %w", err)
	}
	for rows.Next() {
		var l locum
		if err := rows.Scan(&l.ID, &l.Role); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Locums = append(dp.Locums, l)
		dp.byRole[l.Role] = append(dp.byRole[l.Role], l)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT id, required_role, practice_id, branch_id
		FROM appointment_requests
		WHERE status = 'OPEN' AND starts_at > now()
		LIMIT $1
	`, cfg.RequestLimit)
	if err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r        openRequest
			branchID *uuid.UUID
		)
		if err := rows.Scan(&r.ID, &r.Role, &r.PracticeID, &branchID); err != nil {
			return nil, err
		}
		r.OwnerID, r.OwnerKind = r.PracticeID, "practice"
		if branchID != nil {
			r.OwnerID, r.OwnerKind = *branchID, "branch"
		}
		dp.Requests = append(dp.Requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dp.Locums) == 0 {
		return nil, fmt.Errorf("no locums loaded")
	}
	if len(dp.Requests) == 0 {
		return nil, fmt.Errorf("no open requests loaded")
	}
	return dp, nil
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
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.ApplyRatio:
				s.doApply(ctx, rng)
			case r < s.config.ApplyRatio+s.config.SelectRatio:
				s.doSelect(ctx, rng)
			case rng.Intn(2) == 0:
				s.doAvailable(ctx, rng)
			default:
				s.doApplicants(ctx, rng)
			}
		}
	}
}

func (s *Simulator) randomRequest(rng *rand.Rand) openRequest {
	return s.pool.Requests[rng.Intn(len(s.pool.Requests))]
}

func (s *Simulator) doApply(ctx context.Context, rng *rand.Rand) {
	req := s.randomRequest(rng)
	candidates := s.pool.byRole[req.Role]
	if len(candidates) == 0 {
		return
	}
	l := candidates[rng.Intn(len(candidates))]

	status, latency := s.call(ctx, http.MethodPost, "/accept", l.ID, "locum", uuid.Nil, map[string]string{
		"request_id": req.ID.String(),
		"locum_id":   l.ID.String(),
	})
	if status == http.StatusCreated {
		s.pool.AddApplicant(req.ID, l.ID)
	}
	s.metrics.Apply.Record(latency, status, http.StatusCreated)
}

// doSelect picks an applicant for a request. Several workers selecting on
// the same request at once is what this exercises: all but one must see 409.
func (s *Simulator) doSelect(ctx context.Context, rng *rand.Rand) {
	req := s.randomRequest(rng)
	locumID, ok := s.pool.RandomApplicant(rng, req.ID)
	if !ok {
		return
	}

	status, latency := s.call(ctx, http.MethodPost, "/select-applicant", req.OwnerID, req.OwnerKind, req.PracticeID, map[string]string{
		"request_id": req.ID.String(),
		"locum_id":   locumID.String(),
	})
	s.metrics.Select.Record(latency, status, http.StatusCreated)
}

func (s *Simulator) doAvailable(ctx context.Context, rng *rand.Rand) {
	l := s.pool.Locums[rng.Intn(len(s.pool.Locums))]
	status, latency := s.call(ctx, http.MethodGet, "/available-requests?max_distance_km=30", l.ID, "locum", uuid.Nil, nil)
	s.metrics.Available.Record(latency, status, http.StatusOK)
}

func (s *Simulator) doApplicants(ctx context.Context, rng *rand.Rand) {
	req := s.randomRequest(rng)
	status, latency := s.call(ctx, http.MethodGet, "/applicants?request_id="+req.ID.String(), req.OwnerID, req.OwnerKind, req.PracticeID, nil)
	s.metrics.Applicants.Record(latency, status, http.StatusOK)
}

func (s *Simulator) call(ctx context.Context, method, path string, actorID uuid.UUID, kind string, practiceID uuid.UUID, body any) (int, time.Duration) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", actorID.String())
	req.Header.Set("X-Actor-Kind", kind)
	if kind == "branch" {
		req.Header.Set("X-Practice-ID", practiceID.String())
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()
	return resp.StatusCode, latency
}

func (s *Simulator) PrintReport(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "\nsimulation: %d workers for %s against %s\n\n", s.config.Workers, s.config.Duration, s.config.APIBaseURL)
	fmt.Fprintln(tw, "operation\ttotal\tok\tconflict\tno card\terror\tmean\tp50\tp95\tmax\t")

	for _, op := range []struct {
		name string
		om   *OperationMetrics
	}{
		{"apply", &s.metrics.Apply},
		{"select-applicant", &s.metrics.Select},
		{"available-requests", &s.metrics.Available},
		{"applicants", &s.metrics.Applicants},
	} {
		total := atomic.LoadInt64(&op.om.Total)
		if total == 0 {
			continue
		}
		sum := op.om.Summary()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t\n",
			op.name, total,
			atomic.LoadInt64(&op.om.Success),
			atomic.LoadInt64(&op.om.Conflict),
			atomic.LoadInt64(&op.om.PaymentMissing),
			atomic.LoadInt64(&op.om.Error),
			sum.Mean.Round(time.Millisecond),
			sum.P50.Round(time.Millisecond),
			sum.P95.Round(time.Millisecond),
			sum.Slowest.Round(time.Millisecond),
		)
	}
}
