package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/lox/elyos/internal/predict"
)

// IncidentAlcohol is the out-of-range alcohol value sent to exercise validation.
const IncidentAlcohol = 150.0

type Config struct {
	URL          string
	Requests     int
	Delay        time.Duration
	Workers      int
	IncidentRate float64
	Seed         uint64
	// FailureThreshold is the number of consecutive transport errors that
	// opens the breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:              "http://localhost:8080/predict",
		Requests:         50,
		Delay:            500 * time.Millisecond,
		Workers:          1,
		IncidentRate:     0.05,
		Seed:             42,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Report counts request outcomes.
type Report struct {
	OK              int
	Rejected        int // 422
	Failed          int // 500
	Unavailable     int // 503
	Other           int
	TransportErrors int
	Skipped         int // not sent while the breaker was open
	Incidents       int
}

func (r Report) Total() int {
	return r.OK + r.Rejected + r.Failed + r.Unavailable + r.Other + r.TransportErrors + r.Skipped
}

type Simulator struct {
	client  *http.Client
	cfg     Config
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

func New(client *http.Client, cfg Config) *Simulator {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "predict",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("simulate: breaker %s %s -> %s", name, from, to)
		},
	})
	return &Simulator{client: client, cfg: cfg, breaker: cb}
}

func uniform(rng *rand.Rand, lo, hi float64, decimals int) *float64 {
	p := math.Pow(10, float64(decimals))
	v := math.Round((lo+rng.Float64()*(hi-lo))*p) / p
	return &v
}

// RandomWine draws a plausible wine from the ranges of the red wine archive.
func RandomWine(rng *rand.Rand) predict.Features {
	return predict.Features{
		FixedAcidity:       uniform(rng, 5.0, 15.0, 1),
		VolatileAcidity:    uniform(rng, 0.1, 1.5, 2),
		CitricAcid:         uniform(rng, 0.0, 1.0, 2),
		ResidualSugar:      uniform(rng, 0.9, 15.0, 1),
		Chlorides:          uniform(rng, 0.01, 0.2, 3),
		FreeSulfurDioxide:  uniform(rng, 5, 70, 0),
		TotalSulfurDioxide: uniform(rng, 10, 250, 0),
		Density:            uniform(rng, 0.990, 1.005, 4),
		PH:                 uniform(rng, 2.8, 4.0, 2),
		Sulphates:          uniform(rng, 0.3, 1.5, 2),
		Alcohol:            uniform(rng, 8.0, 15.0, 1),
		Temperature:        uniform(rng, 10.0, 30.0, 1),
		Rain:               uniform(rng, 0.0, 1000.0, 1),
	}
}

// Run sends cfg.Requests wines, one every cfg.Delay, over cfg.Workers
// concurrent senders. It stops early when ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) (Report, error) {
	rng := rand.New(rand.NewPCG(s.cfg.Seed, 0))
	workers := max(s.cfg.Workers, 1)
	log.Printf("simulate: sending %d requests to %s (%d workers)", s.cfg.Requests, s.cfg.URL, workers)

	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 1; i <= s.cfg.Requests; i++ {
		if i > 1 && s.cfg.Delay > 0 {
			select {
			case <-gctx.Done():
			case <-time.After(s.cfg.Delay):
			}
		}
		if gctx.Err() != nil {
			break
		}

		wine := RandomWine(rng)
		incident := rng.Float64() < s.cfg.IncidentRate
		if incident {
			log.Printf("simulate: #%d injecting alcohol=%v", i, IncidentAlcohol)
			v := IncidentAlcohol
			wine.Alcohol = &v
		}

		g.Go(func() error {
			outcome := s.send(gctx, i, wine)
			mu.Lock()
			defer mu.Unlock()
			outcome(&report)
			if incident {
				report.Incidents++
			}
			return nil
		})
	}

	g.Wait()
	log.Printf("simulate: sent=%d ok=%d rejected=%d failed=%d unavailable=%d other=%d transport=%d skipped=%d",
		report.Total(), report.OK, report.Rejected, report.Failed, report.Unavailable, report.Other, report.TransportErrors, report.Skipped)
	return report, ctx.Err()
}

// send posts one wine and returns how to record its outcome.
func (s *Simulator) send(ctx context.Context, i int, wine predict.Features) func(*Report) {
	body, err := json.Marshal(wine)
	if err != nil {
		return func(r *Report) { r.Other++ }
	}

	resp, err := s.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return s.client.Do(req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		log.Printf("simulate: #%d skipped, breaker open", i)
		return func(r *Report) { r.Skipped++ }
	}
	if err != nil {
		log.Printf("simulate: #%d connection error: %v", i, err)
		return func(r *Report) { r.TransportErrors++ }
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out struct {
			PredictedQuality float64 `json:"predicted_quality"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			log.Printf("simulate: #%d ok but unreadable body: %v", i, err)
		} else {
			log.Printf("simulate: #%d ok quality=%.2f", i, out.PredictedQuality)
		}
		return func(r *Report) { r.OK++ }
	case http.StatusUnprocessableEntity:
		log.Printf("simulate: #%d rejected 422: %s", i, detail(resp.Body))
		return func(r *Report) { r.Rejected++ }
	case http.StatusInternalServerError:
		log.Printf("simulate: #%d error 500: %s", i, detail(resp.Body))
		return func(r *Report) { r.Failed++ }
	case http.StatusServiceUnavailable:
		log.Printf("simulate: #%d unavailable 503: %s", i, detail(resp.Body))
		return func(r *Report) { r.Unavailable++ }
	default:
		log.Printf("simulate: #%d status %d", i, resp.StatusCode)
		return func(r *Report) { r.Other++ }
	}
}

func detail(body io.Reader) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&e); err != nil {
		return fmt.Sprintf("(no detail: %v)", err)
	}
	return e.Detail
}
