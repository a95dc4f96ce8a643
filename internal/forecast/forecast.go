// Package forecast implements the Forecast Client: an HTTP collaborator
// over the prediction service that caches the last forecast for
// CACHE_TTL, coalesces concurrent callers with singleflight, and trips a
// one-way latch into reactive mode after the service starts failing.
package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fleetwatch/controlplane/pkg/circuit"
	"github.com/rs/zerolog"
)

// ErrUnavailable is returned by Predict on any transport failure,
// protocol error, malformed response, or timeout. FC never panics or
// returns a typed protocol error to callers; everything collapses to
// this single sentinel per spec §4.3/§7.
var ErrUnavailable = errors.New("forecast: service unavailable")

// PredictionContext is the input to Predict.
type PredictionContext struct {
	Now             time.Time
	CurrentLoad     float64 // req/hour
	HistoricalLoads []float64
}

// Forecast is the output of a successful prediction.
type Forecast struct {
	Point          float64
	Lo             float64
	Hi             float64
	HorizonLabel   string
	Quality        float64
	IssuedAt       time.Time
}

type predictRequest struct {
	CurrentTime      string    `json:"current_time"`
	CurrentLoad      float64   `json:"current_load"`
	HistoricalLoads  []float64 `json:"historical_loads"`
}

type predictResponse struct {
	PredictedLoad      float64 `json:"predicted_load"`
	ConfidenceLower    float64 `json:"confidence_lower"`
	ConfidenceUpper    float64 `json:"confidence_upper"`
	PredictionHorizon  string  `json:"prediction_horizon"`
	ModelAccuracy      float64 `json:"model_accuracy"`
}

type recordActualRequest struct {
	PredictedLoad float64 `json:"predicted_load"`
	ActualLoad    float64 `json:"actual_load"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Metrics tracks cumulative prediction and failure counters, updated on
// every Predict call that reaches the service (cache hits are not counted).
type Metrics struct {
	mu          sync.Mutex
	Predictions int64
	Failures    int64
	LastError   error
}

func (m *Metrics) recordPrediction() {
	m.mu.Lock()
	m.Predictions++
	m.mu.Unlock()
}

func (m *Metrics) recordFailure(err error) {
	m.mu.Lock()
	m.Failures++
	m.LastError = err
	m.mu.Unlock()
}

// Snapshot returns a copy of the metrics counters.
func (m *Metrics) Snapshot() (predictions, failures int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Predictions, m.Failures
}

// Client is the Forecast Client. Construct with New.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cacheTTL   time.Duration

	mu       sync.Mutex
	cached   *Forecast

	group   singleflight.Group
	breaker *circuit.Breaker

	// latched is the one-way reactive latch: once tripped it never
	// resets for the lifetime of the process (spec §4.3).
	latched bool
	latchMu sync.Mutex

	metrics *Metrics
	log     zerolog.Logger
}

// New creates a Client pointed at baseURL (the prediction service root,
// e.g. "http://localhost:9090"). timeout bounds every outbound call.
func New(baseURL string, timeout time.Duration, cacheTTL time.Duration, log zerolog.Logger) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		cacheTTL:   cacheTTL,
		metrics:    &Metrics{},
		log:        log,
	}
	c.breaker = circuit.NewBreaker(circuit.Config{
		Name: "forecast-predict", MaxFailures: 3, Timeout: 30 * time.Second, HalfOpenMax: 1,
		OnStateChange: func(from, to circuit.State) {
			if to == circuit.StateOpen {
				c.tripLatch()
			}
		},
	})
	return c
}

// Metrics exposes the client's running accuracy/failure counters.
func (c *Client) Metrics() *Metrics { return c.metrics }

// Latched reports whether the one-way reactive latch has tripped.
func (c *Client) Latched() bool {
	c.latchMu.Lock()
	defer c.latchMu.Unlock()
	return c.latched
}

func (c *Client) tripLatch() {
	c.latchMu.Lock()
	defer c.latchMu.Unlock()
	if !c.latched {
		c.latched = true
		c.log.Warn().Msg("forecast: one-way latch tripped, controller falling back to reactive mode for remainder of process lifetime")
	}
}

// Predict returns a cached Forecast if the cache is fresh, otherwise
// issues a coalesced HTTP request. Every failure path collapses to
// ErrUnavailable; the one-way latch only trips once the underlying
// breaker itself trips open (MaxFailures consecutive failures), so a
// single transient error doesn't permanently sideline proactive mode.
func (c *Client) Predict(ctx context.Context, pctx PredictionContext) (Forecast, error) {
	c.mu.Lock()
	if c.cached != nil && time.Since(c.cached.IssuedAt) < c.cacheTTL {
		f := *c.cached
		c.mu.Unlock()
		return f, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("predict", func() (interface{}, error) {
		return c.fetch(ctx, pctx)
	})
	if err != nil {
		c.metrics.recordFailure(err)
		c.log.Warn().Err(err).Msg("forecast: predict failed")
		return Forecast{}, ErrUnavailable
	}

	f := v.(Forecast)
	c.mu.Lock()
	c.cached = &f
	c.mu.Unlock()
	c.metrics.recordPrediction()
	return f, nil
}

func (c *Client) fetch(ctx context.Context, pctx PredictionContext) (Forecast, error) {
	var result Forecast
	err := c.breaker.Execute(ctx, func() error {
		f, err := c.doPredict(ctx, pctx)
		if err != nil {
			return err
		}
		result = f
		return nil
	})
	if err != nil {
		return Forecast{}, err
	}
	return result, nil
}

func (c *Client) doPredict(ctx context.Context, pctx PredictionContext) (Forecast, error) {
	reqBody := predictRequest{
		CurrentTime:     pctx.Now.Format(time.RFC3339),
		CurrentLoad:     pctx.CurrentLoad,
		HistoricalLoads: pctx.HistoricalLoads,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Forecast{}, fmt.Errorf("marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return Forecast{}, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Forecast{}, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Forecast{}, fmt.Errorf("predict returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Forecast{}, fmt.Errorf("read predict response: %w", err)
	}

	var out predictResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Forecast{}, fmt.Errorf("decode predict response: %w", err)
	}

	return Forecast{
		Point:        out.PredictedLoad,
		Lo:           out.ConfidenceLower,
		Hi:           out.ConfidenceUpper,
		HorizonLabel: out.PredictionHorizon,
		Quality:      out.ModelAccuracy,
		IssuedAt:     time.Now(),
	}, nil
}

// IsServiceUp performs a cheap liveness probe against /health, separate
// from the prediction endpoint's breaker. It uses the same HTTP client,
// and so the same timeout, as Predict; there is no separate health timeout.
func (c *Client) IsServiceUp(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var out healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Status == "healthy" && out.ModelLoaded
}

// RecordActual informs the service of the realized load so it can
// update its own accuracy records. It does not update the client's local
// Metrics. This is best-effort and fire-and-forget: failures are logged,
// never returned.
func (c *Client) RecordActual(ctx context.Context, f Forecast, observed float64) {
	payload, err := json.Marshal(recordActualRequest{PredictedLoad: f.Point, ActualLoad: observed})
	if err != nil {
		c.log.Warn().Err(err).Msg("forecast: failed to marshal record_actual payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/record_actual", bytes.NewReader(payload))
	if err != nil {
		c.log.Warn().Err(err).Msg("forecast: failed to build record_actual request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("forecast: record_actual request failed")
		return
	}
	defer resp.Body.Close()
}

// InvalidateCache clears the cached forecast. It does not reset the
// one-way latch; only CACHE_TTL expiry and InvalidateCache evict the
// cache, and neither affects the latch.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
}
