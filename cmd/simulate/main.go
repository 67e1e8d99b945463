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
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rxdesk/pharmacy-service/internal/config"
	"github.com/rxdesk/pharmacy-service/internal/db"
	"github.com/rxdesk/pharmacy-service/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Password        string
	Duration        time.Duration
	Workers         int
	OrderRatio      float64
	PayRatio        float64
	ReadRatio       float64
	RetryRatio      float64 // share of orders resent with the same Idempotency-Key
	PatientLimit    int
	InventoryLimit  int
	ContentionStock int
	ContentionBuyer int
	PostgresDSN     string
}

var paymentMethods = []string{"card", "cash", "upi", "insurance", "wallet"}

type patient struct {
	ID    uuid.UUID
	Token string
}

type DataPool struct {
	Patients  []patient
	Inventory []uuid.UUID
	mu        sync.RWMutex
	orders    []placedOrder
}

type placedOrder struct {
	ID    uuid.UUID
	Owner patient
}

func (dp *DataPool) AddOrder(o placedOrder) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.orders = append(dp.orders, o)
}

func (dp *DataPool) RandomOrder(rng *rand.Rand) (placedOrder, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.orders) == 0 {
		return placedOrder{}, false
	}
	return dp.orders[rng.Intn(len(dp.orders))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	PlaceOrder    OperationMetrics
	Replay        OperationMetrics
	Pay           OperationMetrics
	ListInventory OperationMetrics
	ListOrders    OperationMetrics
}

type contentionResult struct {
	InitialStock int
	FinalStock   int
	Placed       int64
	Insufficient int64
	Other        int64
}

type Simulator struct {
	config     SimConfig
	pool       *DataPool
	client     *http.Client
	metrics    Metrics
	contention *contentionResult
	log        zerolog.Logger
}

func main() {
	cfg, baseCfg := loadConfig()
	logger := logging.New("simulate", baseCfg.Env, baseCfg.LogLevel)

	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("order", cfg.OrderRatio).
		Float64("pay", cfg.PayRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.pool, err = sim.loadDataPool(ctx, pgPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("patients", len(sim.pool.Patients)).
		Int("inventory", len(sim.pool.Inventory)).
		Msg("data pool loaded")

	if err := sim.RunContention(ctx); err != nil {
		logger.Error().Err(err).Msg("contention phase failed")
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() (SimConfig, config.Config) {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Password:        getEnv("SIM_PASSWORD", "password123"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		OrderRatio:      getFloat("SIM_ORDER_RATIO", 0.4),
		PayRatio:        getFloat("SIM_PAY_RATIO", 0.2),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.4),
		RetryRatio:      getFloat("SIM_RETRY_RATIO", 0.1),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 50),
		InventoryLimit:  getInt("SIM_INVENTORY_LIMIT", 200),
		ContentionStock: getInt("SIM_CONTENTION_STOCK", 5),
		ContentionBuyer: getInt("SIM_CONTENTION_BUYERS", 40),
		PostgresDSN:     baseCfg.PostgresDSN,
	}

	total := cfg.OrderRatio + cfg.PayRatio + cfg.ReadRatio
	if total > 0 {
		cfg.OrderRatio /= total
		cfg.PayRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg, baseCfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.ContentionStock < 0 || cfg.ContentionBuyer < 0 {
		return fmt.Errorf("SIM_CONTENTION_STOCK and SIM_CONTENTION_BUYERS must be >= 0")
	}
	return nil
}

// loadDataPool picks seeded patients and in-stock medicines from Postgres and
// logs every patient in so workers can act on their behalf.
func (s *Simulator) loadDataPool(ctx context.Context, pool *pgxpool.Pool) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT email FROM users WHERE role = 'patient' ORDER BY created_at LIMIT $1
	`, s.config.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			rows.Close()
			return nil, err
		}
		emails = append(emails, email)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT id FROM pharmacy_inventory WHERE stock > 0 LIMIT $1
	`, s.config.InventoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Inventory = append(dataPool.Inventory, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, 8)
	for _, email := range emails {
		wg.Add(1)
		sem <- struct{}{}
		go func(email string) {
			defer wg.Done()
			defer func() { <-sem }()

			p, err := s.login(ctx, email)
			if err != nil {
				s.log.Warn().Err(err).Str("email", email).Msg("login failed")
				return
			}
			mu.Lock()
			dataPool.Patients = append(dataPool.Patients, p)
			mu.Unlock()
		}(email)
	}
	wg.Wait()

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients could log in (is the seed password %q?)", s.config.Password)
	}
	if len(dataPool.Inventory) == 0 {
		return nil, fmt.Errorf("no inventory with stock loaded")
	}

	return dataPool, nil
}

func (s *Simulator) login(ctx context.Context, email string) (patient, error) {
	var res struct {
		User struct {
			ID uuid.UUID `json:"id"`
		} `json:"user"`
		Token string `json:"token"`
	}
	status, err := s.call(ctx, http.MethodPost, "/auth/login", "", nil, map[string]string{
		"email":    email,
		"password": s.config.Password,
	}, &res)
	if err != nil {
		return patient{}, err
	}
	if status != http.StatusOK {
		return patient{}, fmt.Errorf("login status %d", status)
	}
	return patient{ID: res.User.ID, Token: res.Token}, nil
}

// RunContention stocks one fresh item with only a few units and fires many
// concurrent single-unit orders at it. Successful orders must equal the stock
// consumed and the stock must never go below zero.
func (s *Simulator) RunContention(ctx context.Context) error {
	if s.config.ContentionBuyer == 0 {
		return nil
	}

	ph, err := s.loginAs(ctx, "pharmacist@pharmacy.local")
	if err != nil {
		return fmt.Errorf("pharmacist login: %w", err)
	}

	var item struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.call(ctx, http.MethodPost, "/inventory", ph, nil, map[string]any{
		"medicine_name": "Contention Test " + uuid.NewString()[:8],
		"generic_name":  "Placebo",
		"stock":         s.config.ContentionStock,
		"price":         decimal.NewFromInt(10),
	}, &item)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("create contention item: status %d", status)
	}

	res := &contentionResult{InitialStock: s.config.ContentionStock}
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < s.config.ContentionBuyer; i++ {
		buyer := s.pool.Patients[i%len(s.pool.Patients)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			status, err := s.call(ctx, http.MethodPost, "/orders", buyer.Token,
				map[string]string{"Idempotency-Key": uuid.NewString()},
				map[string]any{
					"items":          []map[string]any{{"inventory_id": item.ID, "quantity": 1}},
					"payment_method": "card",
				}, nil)
			switch {
			case err == nil && status == http.StatusCreated:
				atomic.AddInt64(&res.Placed, 1)
			case err == nil && status == http.StatusBadRequest:
				atomic.AddInt64(&res.Insufficient, 1)
			default:
				atomic.AddInt64(&res.Other, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	var after struct {
		Stock int `json:"stock"`
	}
	if _, err := s.call(ctx, http.MethodGet, "/inventory/"+item.ID.String(), ph, nil, nil, &after); err != nil {
		return err
	}
	res.FinalStock = after.Stock
	s.contention = res

	if int64(res.InitialStock-res.FinalStock) != res.Placed || res.FinalStock < 0 {
		s.log.Error().
			Int("initial", res.InitialStock).
			Int("final", res.FinalStock).
			Int64("placed", res.Placed).
			Msg("stock accounting mismatch")
	}
	return nil
}

func (s *Simulator) loginAs(ctx context.Context, email string) (string, error) {
	p, err := s.login(ctx, email)
	if err != nil {
		return "", err
	}
	return p.Token, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
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
			case r < s.config.OrderRatio:
				s.doPlaceOrder(ctx, rng)
			case r < s.config.OrderRatio+s.config.PayRatio:
				s.doPay(ctx, rng)
			case rng.Intn(2) == 0:
				s.doListInventory(ctx)
			default:
				s.doListOrders(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doPlaceOrder(ctx context.Context, rng *rand.Rand) {
	buyer := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	lines := make([]map[string]any, 0, 3)
	for i := 0; i < 1+rng.Intn(3); i++ {
		lines = append(lines, map[string]any{
			"inventory_id": s.pool.Inventory[rng.Intn(len(s.pool.Inventory))],
			"quantity":     1 + rng.Intn(3),
		})
	}
	body := map[string]any{
		"items":          lines,
		"payment_method": paymentMethods[rng.Intn(len(paymentMethods))],
	}
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/orders", buyer.Token, headers, body, &created)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	// out of stock is an expected business outcome under load
	conflict := err == nil && (status == http.StatusBadRequest || status == http.StatusConflict)
	s.metrics.PlaceOrder.Record(latency, success, conflict)

	if !success || created.ID == uuid.Nil {
		return
	}
	s.pool.AddOrder(placedOrder{ID: created.ID, Owner: buyer})

	if rng.Float64() < s.config.RetryRatio {
		var replay struct {
			ID uuid.UUID `json:"id"`
		}
		start := time.Now()
		status, err := s.call(ctx, http.MethodPost, "/orders", buyer.Token, headers, body, &replay)
		ok := err == nil && status == http.StatusOK && replay.ID == created.ID
		s.metrics.Replay.Record(time.Since(start), ok, false)
	}
}

func (s *Simulator) doPay(ctx context.Context, rng *rand.Rand) {
	o, ok := s.pool.RandomOrder(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/orders/%s/pay", o.ID), o.Owner.Token, nil,
		map[string]string{"payment_method": ""}, nil)
	latency := time.Since(start)

	// paying twice is rejected with 400, which is the point of the check
	s.metrics.Pay.Record(latency, err == nil && status == http.StatusOK, err == nil && status == http.StatusBadRequest)
}

func (s *Simulator) doListInventory(ctx context.Context) {
	buyer := s.pool.Patients[0]

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/inventory?limit=20", buyer.Token, nil, nil, nil)
	s.metrics.ListInventory.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListOrders(ctx context.Context, rng *rand.Rand) {
	buyer := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/orders?limit=20&offset=0", buyer.Token, nil, nil, nil)
	s.metrics.ListOrders.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// call sends one JSON request and decodes a 2xx body into out when non-nil.
func (s *Simulator) call(ctx context.Context, method, path, token string, headers map[string]string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	if c := s.contention; c != nil {
		fmt.Println("Stock contention:")
		fmt.Printf("  Buyers: %d  Stock: %d -> %d\n", s.config.ContentionBuyer, c.InitialStock, c.FinalStock)
		fmt.Printf("  Placed: %d  Insufficient: %d  Other: %d\n", c.Placed, c.Insufficient, c.Other)
		verdict := "OK"
		if int64(c.InitialStock-c.FinalStock) != c.Placed || c.FinalStock < 0 {
			verdict = "MISMATCH"
		}
		fmt.Printf("  Accounting: %s\n\n", verdict)
	}

	printOperationReport("Place order", &s.metrics.PlaceOrder)
	printOperationReport("Idempotent replay", &s.metrics.Replay)
	printOperationReport("Pay", &s.metrics.Pay)
	printOperationReport("List inventory", &s.metrics.ListInventory)
	printOperationReport("List orders", &s.metrics.ListOrders)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
