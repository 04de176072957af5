package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/air-quality-service/internal/models"
	"github.com/kjstillabower/air-quality-service/internal/observability"
	"github.com/kjstillabower/air-quality-service/internal/reqctx"
)

// AirQualityClient fetches the three upstream collections a snapshot is built from.
type AirQualityClient interface {
	FetchLocations(ctx context.Context) ([]models.RawLocation, error)
	FetchParameters(ctx context.Context) ([]models.RawParameter, error)
	FetchLatestMeasurements(ctx context.Context, locationIDs []int64) ([]models.RawLatest, error)
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrUpstreamRejected = errors.New("upstream rejected request")
	ErrRateLimited      = errors.New("rate limited")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Endpoint labels, also used as path segments under the base URL.
const (
	EndpointLocations  = "locations"
	EndpointParameters = "parameters"
	EndpointLatest     = "latest"
)

// Area is the geographic query: every location within RadiusMeters of the center.
type Area struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters int
}

type OpenAQClient struct {
	apiKey         string
	baseURL        string
	area           Area
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// NewOpenAQClient returns a client that makes exactly one attempt per call.
func NewOpenAQClient(apiKey, baseURL string, area Area, timeout time.Duration) (*OpenAQClient, error) {
	return NewOpenAQClientWithRetry(apiKey, baseURL, area, timeout, 1, 100*time.Millisecond, 2*time.Second)
}

func NewOpenAQClientWithRetry(apiKey, baseURL string, area Area, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenAQClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &OpenAQClient{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		area:           area,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// resultsEnvelope is the common OpenAQ response wrapper. A nil Results means the field was absent.
type resultsEnvelope[T any] struct {
	Results *[]T `json:"results"`
}

// FetchLocations returns every location within the configured radius of the center.
func (c *OpenAQClient) FetchLocations(ctx context.Context) ([]models.RawLocation, error) {
	params := url.Values{}
	params.Set("coordinates", formatCoordinate(c.area.Latitude)+","+formatCoordinate(c.area.Longitude))
	params.Set("radius", strconv.Itoa(c.area.RadiusMeters))
	return fetchResults[models.RawLocation](ctx, c, EndpointLocations, params)
}

// FetchParameters returns the full parameter catalog.
func (c *OpenAQClient) FetchParameters(ctx context.Context) ([]models.RawParameter, error) {
	return fetchResults[models.RawParameter](ctx, c, EndpointParameters, nil)
}

// FetchLatestMeasurements returns the latest readings for the given locations, one repeated
// location filter per id. An empty id list makes no call: an unfiltered /latest would
// return the global feed.
func (c *OpenAQClient) FetchLatestMeasurements(ctx context.Context, locationIDs []int64) ([]models.RawLatest, error) {
	if len(locationIDs) == 0 {
		return []models.RawLatest{}, nil
	}
	params := url.Values{}
	for _, id := range locationIDs {
		params.Add("location", strconv.FormatInt(id, 10))
	}
	return fetchResults[models.RawLatest](ctx, c, EndpointLatest, params)
}

func fetchResults[T any](ctx context.Context, c *OpenAQClient, endpoint string, params url.Values) ([]T, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamAPIRetriesTotal.WithLabelValues(endpoint).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.callAPI(ctx, endpoint, params)
		if err == nil {
			results, err := decodeResults[T](body)
			if err != nil {
				observability.UpstreamAPIErrorsTotal.WithLabelValues(endpoint, string(CategorizeError(err))).Inc()
				return nil, fmt.Errorf("%s: %w", endpoint, err)
			}
			return results, nil
		}

		observability.UpstreamAPIErrorsTotal.WithLabelValues(endpoint, string(CategorizeError(err))).Inc()
		lastErr = err
		if !c.isRetryable(ctx, err) {
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
	}

	if c.retryAttempts == 1 {
		return nil, fmt.Errorf("%s: %w", endpoint, lastErr)
	}
	return nil, fmt.Errorf("%s: exhausted retries: %w", endpoint, lastErr)
}

func decodeResults[T any](body []byte) ([]T, error) {
	var env resultsEnvelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrMalformedPayload, err)
	}
	if env.Results == nil {
		return nil, fmt.Errorf("%w: missing results", ErrMalformedPayload)
	}
	return *env.Results, nil
}

func (c *OpenAQClient) callAPI(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, endpoint, params)
	if err != nil {
		observability.UpstreamAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	if corrID := reqctx.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UpstreamAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.UpstreamAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.UpstreamAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// isRetryable reports whether another attempt may succeed. A cancelled parent context never retries.
func (c *OpenAQClient) isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	return CategorizeError(err) == ErrorCategoryTimeout
}

func (c *OpenAQClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenAQClient) buildRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + "/" + endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamRejected, resp.StatusCode)
	}
	return nil
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
