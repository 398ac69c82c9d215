package restapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// metadataStartTime is the Request.Metadata key holding the send time.
const metadataStartTime = "restapi.start_time"

// Request is the view of an outgoing request given to interceptors. Headers
// set here are sent; pipeline-owned headers (Authorization, If-None-Match,
// User-Agent, Accept) are applied afterwards and win.
type Request struct {
	Method   string
	URI      string
	Headers  http.Header
	Body     []byte
	Metadata map[string]interface{}
}

// Response is the view of a completed exchange given to interceptors.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	FromCache  bool
	Error      error
}

// RequestInterceptor runs before a request is sent. An error aborts the call.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor runs after the response has been classified, including
// for failures and for 304s answered from the cache.
type ResponseInterceptor func(ctx context.Context, req *Request, resp *Response) error

// InterceptorChain runs interceptors in registration order. It is built once
// before the client is shared and must not be modified afterwards.
type InterceptorChain struct {
	onRequest  []RequestInterceptor
	onResponse []ResponseInterceptor
}

// NewInterceptorChain returns an empty chain.
func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

// AddRequestInterceptor appends interceptor to the request stage.
func (c *InterceptorChain) AddRequestInterceptor(interceptor RequestInterceptor) {
	c.onRequest = append(c.onRequest, interceptor)
}

// AddResponseInterceptor appends interceptor to the response stage.
func (c *InterceptorChain) AddResponseInterceptor(interceptor ResponseInterceptor) {
	c.onResponse = append(c.onResponse, interceptor)
}

// ExecuteRequestInterceptors stops at the first failing interceptor.
func (c *InterceptorChain) ExecuteRequestInterceptors(ctx context.Context, req *Request) error {
	for position, interceptor := range c.onRequest {
		err := interceptor(ctx, req)
		if err != nil {
			return fmt.Errorf("request interceptor %d failed: %w", position, err)
		}
	}

	return nil
}

// ExecuteResponseInterceptors stops at the first failing interceptor.
func (c *InterceptorChain) ExecuteResponseInterceptors(ctx context.Context, req *Request, resp *Response) error {
	for position, interceptor := range c.onResponse {
		err := interceptor(ctx, req, resp)
		if err != nil {
			return fmt.Errorf("response interceptor %d failed: %w", position, err)
		}
	}

	return nil
}

// LoggingInterceptor logs every outgoing call at debug level.
func LoggingInterceptor(logger Logger) RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		logger.Debug("API Request", map[string]interface{}{
			"method":     req.Method,
			"uri":        req.URI,
			"body_bytes": len(req.Body),
		})

		return nil
	}
}

// LoggingResponseInterceptor logs completed calls. Rate-limited calls are
// logged at warn with the delay until reset; other failures at error.
func LoggingResponseInterceptor(logger Logger) ResponseInterceptor {
	return func(_ context.Context, req *Request, resp *Response) error {
		fields := map[string]interface{}{
			"method":      req.Method,
			"uri":         req.URI,
			"status_code": resp.StatusCode,
			"from_cache":  resp.FromCache,
			"body_bytes":  len(resp.Body),
		}

		if resp.Error == nil {
			logger.Debug("API Response", fields)

			return nil
		}

		fields["error"] = resp.Error.Error()

		if limited, ok := IsRateLimited(resp.Error); ok {
			fields["retry_after"] = limited.RetryAfter.String()
			logger.Warn("API Rate Limited", fields)

			return nil
		}

		logger.Error("API Response Error", fields)

		return nil
	}
}

// HeaderInterceptor sets fixed headers on every request.
func HeaderInterceptor(headers map[string]string) RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		if req.Headers == nil {
			req.Headers = make(http.Header, len(headers))
		}

		for key, value := range headers {
			req.Headers.Set(key, value)
		}

		return nil
	}
}

// RateTracker remembers the most recent rate-limit state reported by the
// server.
type RateTracker struct {
	mu        sync.RWMutex
	state     RateState
	updatedAt time.Time
}

// NewRateTracker creates an empty tracker.
func NewRateTracker() *RateTracker {
	return &RateTracker{}
}

// Last returns the latest state and when it was observed. The time is zero
// before any response carried rate headers.
func (t *RateTracker) Last() (RateState, time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.state, t.updatedAt
}

func (t *RateTracker) observe(state RateState, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = state
	t.updatedAt = at
}

// RateTrackerInterceptor records rate headers from every live response.
// Replayed cache entries carry no fresh state and are ignored.
func RateTrackerInterceptor(tracker *RateTracker) ResponseInterceptor {
	return func(_ context.Context, _ *Request, resp *Response) error {
		if resp.FromCache || resp.Headers == nil {
			return nil
		}

		state := ParseRateState(resp.Headers)
		if state.Remaining != nil || state.ResetAt != nil {
			tracker.observe(state, time.Now())
		}

		return nil
	}
}

// Metrics holds per-endpoint counters.
type Metrics struct {
	TotalRequests   int64
	TotalErrors     int64
	CacheHits       int64
	TotalLatency    time.Duration
	AverageLatency  time.Duration
	LastRequestTime time.Time
}

func (m *Metrics) record(resp *Response, latency time.Duration, at time.Time) {
	m.TotalRequests++
	m.LastRequestTime = at

	if latency > 0 {
		m.TotalLatency += latency
		m.AverageLatency = m.TotalLatency / time.Duration(m.TotalRequests)
	}

	if resp.FromCache {
		m.CacheHits++
	}

	if resp.Error != nil || resp.StatusCode >= http.StatusBadRequest {
		m.TotalErrors++
	}
}

// MetricsCollector aggregates Metrics per "METHOD url" endpoint. The url
// carries no query string, so every page of a collection shares one entry.
type MetricsCollector struct {
	mu       sync.Mutex
	metrics  map[string]*Metrics
	onChange func(endpoint string, metrics Metrics)
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{metrics: make(map[string]*Metrics)}
}

// SetOnChange registers fn to receive a snapshot after every recorded call.
// fn runs outside the collector's lock.
func (m *MetricsCollector) SetOnChange(fn func(endpoint string, metrics Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onChange = fn
}

// GetMetrics returns a copy of the metrics for an endpoint.
func (m *MetricsCollector) GetMetrics(endpoint string) (Metrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, ok := m.metrics[endpoint]
	if !ok {
		return Metrics{}, false
	}

	return *metrics, true
}

func (m *MetricsCollector) record(endpoint string, resp *Response, latency time.Duration) {
	m.mu.Lock()

	metrics, ok := m.metrics[endpoint]
	if !ok {
		metrics = &Metrics{}
		m.metrics[endpoint] = metrics
	}

	metrics.record(resp, latency, time.Now())

	snapshot := *metrics
	onChange := m.onChange

	m.mu.Unlock()

	if onChange != nil {
		onChange(endpoint, snapshot)
	}
}

// MetricsRequestInterceptor stamps the send time into the request metadata.
func MetricsRequestInterceptor(_ *MetricsCollector) RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		if req.Metadata == nil {
			req.Metadata = make(map[string]interface{})
		}

		req.Metadata[metadataStartTime] = time.Now()

		return nil
	}
}

// MetricsResponseInterceptor records the call under "METHOD uri", with the
// query string dropped.
func MetricsResponseInterceptor(collector *MetricsCollector) ResponseInterceptor {
	return func(_ context.Context, req *Request, resp *Response) error {
		var latency time.Duration
		if started, ok := req.Metadata[metadataStartTime].(time.Time); ok {
			latency = time.Since(started)
		}

		endpoint, _, _ := strings.Cut(req.URI, "?")
		collector.record(req.Method+" "+endpoint, resp, latency)

		return nil
	}
}
