package raster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/exposure-cli/internal/resilience"
)

// Client talks to the raster evaluation service over HTTP. All calls are
// rate-limited, retried on transient failures, and guarded by a circuit
// breaker so a struggling service sheds load quickly.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithRateLimit sets the requests-per-second cap for evaluation calls.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a raster service client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("raster service circuit state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// evaluateRequest is the wire format of an evaluation call.
type evaluateRequest struct {
	Layer  string          `json:"layer"`
	Op     string          `json:"op"`
	ScaleM float64         `json:"scale_m"`
	Region json.RawMessage `json:"region"`
}

// evaluateResponse is the wire format of an evaluation result.
type evaluateResponse struct {
	Value  float64 `json:"value"`
	NoData bool    `json:"no_data"`
}

// apiError is the service's error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EvaluateRegionMean implements Evaluator. Timeouts and 5xx responses are
// retried with backoff; pixel-budget rejections surface immediately so the
// caller can subdivide or coarsen.
func (c *Client) EvaluateRegionMean(ctx context.Context, layer Layer, region *geom.Polygon, scaleM float64) (Value, error) {
	regionJSON, err := geojson.Marshal(region)
	if err != nil {
		return NoData(), eris.Wrap(err, "raster: encode region")
	}

	req := evaluateRequest{
		Layer:  layer.ID,
		Op:     "mean",
		ScaleM: scaleM,
		Region: regionJSON,
	}

	retryCfg := c.retry
	retryCfg.ShouldRetry = func(err error) bool {
		if eris.Is(err, ErrPixelBudgetExceeded) {
			return false
		}
		return eris.Is(err, ErrTimeout) || resilience.IsTransient(err)
	}
	retryCfg.OnRetry = resilience.RetryLogger(layer.Name, "evaluate_region_mean")

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (Value, error) {
		var out Value
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			v, callErr := c.doEvaluate(ctx, req)
			out = v
			return callErr
		})
		return out, err
	})
}

func (c *Client) doEvaluate(ctx context.Context, req evaluateRequest) (Value, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return NoData(), eris.Wrap(err, "raster: rate limit wait")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return NoData(), eris.Wrap(err, "raster: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/evaluate", bytes.NewReader(body))
	if err != nil {
		return NoData(), eris.Wrap(err, "raster: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return NoData(), eris.Wrap(err, "raster: evaluate request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NoData(), c.statusError(resp)
	}

	var out evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return NoData(), eris.Wrap(err, "raster: decode response")
	}
	if out.NoData {
		return NoData(), nil
	}
	return Some(out.Value), nil
}

// statusError maps a non-200 response to the error taxonomy.
func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var ae apiError
	_ = json.Unmarshal(raw, &ae)

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return ErrTimeout
	case resp.StatusCode == http.StatusRequestEntityTooLarge,
		ae.Code == "pixel_budget_exceeded":
		return ErrPixelBudgetExceeded
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(
			eris.Errorf("raster: service returned %d: %s", resp.StatusCode, ae.Message),
			resp.StatusCode,
		)
	default:
		return eris.Errorf("raster: service returned %d: %s", resp.StatusCode, string(raw))
	}
}

// ExportRegion submits a bulk export of a layer over a region to the given
// destination. The export runs server-side; the returned job ID can be polled
// out of band. Exports bypass the evaluation pixel budget.
func (c *Client) ExportRegion(ctx context.Context, layer Layer, region *geom.Polygon, scaleM float64, dest string) (string, error) {
	regionJSON, err := geojson.Marshal(region)
	if err != nil {
		return "", eris.Wrap(err, "raster: encode region")
	}

	body, err := json.Marshal(map[string]any{
		"layer":       layer.ID,
		"scale_m":     scaleM,
		"region":      json.RawMessage(regionJSON),
		"destination": dest,
	})
	if err != nil {
		return "", eris.Wrap(err, "raster: marshal export request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/export", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "raster: build export request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "raster: export request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", c.statusError(resp)
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", eris.Wrap(err, "raster: decode export response")
	}
	if out.JobID == "" {
		return "", eris.New("raster: export response missing job id")
	}
	return out.JobID, nil
}

var _ Evaluator = (*Client)(nil)

// String implements fmt.Stringer for log readability.
func (l Layer) String() string {
	return fmt.Sprintf("%s(%s @ %.0fm)", l.Name, l.ID, l.NativeResolutionM)
}
