package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fivetwenty-io/restclient/internal/auth"
	"github.com/fivetwenty-io/restclient/internal/constants"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

// Request is one logical API call.
type Request struct {
	Method string
	// URI is a path relative to the base URL, optionally with a query string,
	// or an absolute URL such as a pagination continuation.
	URI       string
	Query     url.Values
	Body      []byte
	MediaType restapi.MediaType
	Auth      restapi.AuthConstraint
	Headers   map[string]string
}

// Response is the interpreted result of a call. For a 304 answered from the
// cache, Body and Next come from the stored entry and FromCache is set.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Next       string
	Rate       restapi.RateState
	FromCache  bool
}

// Client executes requests against one API host. It is safe for concurrent
// use; the only mutable state is the credential slot.
type Client struct {
	baseURL      *url.URL
	httpClient   *retryablehttp.Client
	callerClient bool
	credentials  *auth.CredentialStore
	resolver     *auth.Resolver
	refresher    *auth.TokenRefresher
	cache        restapi.ResponseCache
	interceptors *restapi.InterceptorChain
	tracer       trace.Tracer
	logger       restapi.Logger
	userAgent    string
	tokenPath    string
	debug        bool
	now          func() time.Time
}

// Option configures the HTTP client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger restapi.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDebug enables request and response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithRetryConfig opts into transport retries of 429 and 5xx responses.
func WithRetryConfig(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = maxRetries
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient.HTTPClient = client
			c.callerClient = true
		}
	}
}

// WithTimeout sets the timeout of the default underlying *http.Client. A
// client supplied through WithHTTPClient keeps its own timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 && !c.callerClient {
			c.httpClient.HTTPClient.Timeout = timeout
		}
	}
}

// WithCredential sets the initially active credential.
func WithCredential(credential restapi.Credential) Option {
	return func(c *Client) {
		c.credentials.Set(credential)
	}
}

// WithResponseCache enables conditional fetches backed by cache.
func WithResponseCache(cache restapi.ResponseCache) Option {
	return func(c *Client) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithInterceptors sets the interceptor chain.
func WithInterceptors(chain *restapi.InterceptorChain) Option {
	return func(c *Client) {
		if chain != nil {
			c.interceptors = chain
		}
	}
}

// WithTokenPath overrides the delegated token-issuing path template.
func WithTokenPath(path string) Option {
	return func(c *Client) {
		c.tokenPath = path
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithClock sets the time source used for rate-limit delays and token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a new HTTP client for baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = restapi.DefaultBaseURL
	}

	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", restapi.ErrInvalidBaseURL, baseURL)
	}

	client := &Client{
		baseURL: parsed,
		httpClient: &retryablehttp.Client{
			HTTPClient:   &http.Client{Timeout: constants.DefaultHTTPTimeout},
			RetryWaitMin: constants.DefaultRetryWaitMin,
			RetryWaitMax: constants.DefaultRetryWaitMax,
			RetryMax:     constants.DefaultRetryMax,
			Backoff:      retryablehttp.DefaultBackoff,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		},
		credentials:  auth.NewCredentialStore(nil),
		cache:        restapi.NoCache(),
		interceptors: restapi.NewInterceptorChain(),
		tracer:       otel.Tracer(constants.TracerName),
		logger:       restapi.NopLogger{},
		now:          time.Now,
	}
	client.httpClient.CheckRetry = retryPolicy

	for _, opt := range opts {
		opt(client)
	}

	if client.debug {
		client.httpClient.Logger = &leveledLogger{logger: client.logger}
	}

	client.refresher = auth.NewTokenRefresher(client.issueToken,
		auth.WithTokenPath(client.tokenPath),
		auth.WithRefresherLogger(client.logger),
		auth.WithClock(client.now),
	)
	client.resolver = auth.NewResolver(client.credentials, client.refresher)

	return client, nil
}

// BaseURL returns the API host requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// SetCredentials replaces the active credential. Nil makes subsequent
// requests unauthenticated.
func (c *Client) SetCredentials(credential restapi.Credential) {
	c.credentials.Set(credential)
}

// Credentials returns the active credential, or nil.
func (c *Client) Credentials() restapi.Credential {
	return c.credentials.Get()
}

// Refresher returns the refresher that keeps delegated tokens live.
func (c *Client) Refresher() *auth.TokenRefresher {
	return c.refresher
}

// Do executes an HTTP request. On a failure status the interpreted response
// is returned together with the classified error.
//
//nolint:funlen,cyclop
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	target, cacheKey, err := c.resolveURL(req.URI, req.Query)
	if err != nil {
		return nil, err
	}

	material, err := c.resolver.Resolve(ctx, req.Auth)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials for %s %s: %w", req.Method, cacheKey, err)
	}

	if len(material.Query) > 0 {
		query := target.Query()
		for key, values := range material.Query {
			query[key] = values
		}

		target.RawQuery = query.Encode()
	}

	ctx, span := c.tracer.Start(ctx, constants.RequestSpanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", cacheKey),
		),
	)
	defer span.End()

	view := &restapi.Request{
		Method:  req.Method,
		URI:     cacheKey,
		Headers: make(http.Header),
		Body:    req.Body,
	}
	for key, value := range req.Headers {
		view.Headers.Set(key, value)
	}

	err = c.interceptors.ExecuteRequestInterceptors(ctx, view)
	if err != nil {
		return nil, c.fail(span, err)
	}

	var rawBody interface{}
	if len(view.Body) > 0 {
		rawBody = view.Body
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, target.String(), rawBody)
	if err != nil {
		return nil, c.fail(span, fmt.Errorf("failed to create request: %w", err))
	}

	for key, values := range view.Headers {
		httpReq.Header[key] = values
	}

	if len(view.Body) > 0 && httpReq.Header.Get(constants.HeaderContentType) == "" {
		httpReq.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	}

	httpReq.Header.Set(constants.HeaderAccept, req.MediaType.String())

	if c.userAgent != "" {
		httpReq.Header.Set(constants.HeaderUserAgent, c.userAgent)
	}

	if material.Authorization != "" {
		httpReq.Header.Set(constants.HeaderAuthorization, material.Authorization)
	}

	var cached *cachedResponse
	if req.Method == http.MethodGet {
		cached = c.lookupCached(ctx, cacheKey)
		if cached != nil {
			httpReq.Header.Set(constants.HeaderIfNoneMatch, cached.validator)
		}
	}

	if c.debug {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method":       req.Method,
			"url":          cacheKey,
			"auth":         req.Auth.String(),
			"conditional":  cached != nil,
			"content_size": len(view.Body),
		})
	}

	start := time.Now()

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.fail(span, fmt.Errorf("executing request: %w", err))
	}

	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.fail(span, fmt.Errorf("failed to read response body: %w", err))
	}

	if c.debug {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"status":   httpResp.StatusCode,
			"url":      cacheKey,
			"duration": time.Since(start).String(),
			"size":     len(body),
		})
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Next:       restapi.ParseLinkNext(httpResp.Header.Get(constants.HeaderLink)),
		Rate:       restapi.ParseRateState(httpResp.Header),
	}

	classified := c.classify(ctx, req, cacheKey, resp, cached)

	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Bool("restclient.from_cache", resp.FromCache),
	)

	err = c.interceptors.ExecuteResponseInterceptors(ctx, view, &restapi.Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       resp.Body,
		FromCache:  resp.FromCache,
		Error:      classified,
	})
	if err != nil && classified == nil {
		classified = err
	}

	if classified != nil {
		return resp, c.fail(span, classified)
	}

	return resp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URI: path, Query: query})
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.send(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.send(ctx, http.MethodPut, path, body)
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.send(ctx, http.MethodPatch, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, URI: path})
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	encoded, err := EncodeBody(body)
	if err != nil {
		return nil, err
	}

	return c.Do(ctx, &Request{Method: method, URI: path, Body: encoded})
}

// EncodeBody serializes a request body. Byte slices and json.RawMessage are
// sent verbatim; nil produces no body.
func EncodeBody(body interface{}) ([]byte, error) {
	switch value := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return value, nil
	case json.RawMessage:
		return value, nil
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}

		return encoded, nil
	}
}

func (c *Client) classify(ctx context.Context, req *Request, cacheKey string, resp *Response, cached *cachedResponse) error {
	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		if req.Method == http.MethodGet {
			c.storeResponse(ctx, cacheKey, resp)
		}

		return nil

	case resp.StatusCode == http.StatusNotModified:
		return answerFromCache(resp, cached)

	case resp.Rate.Exhausted():
		return restapi.NewRateLimitError(resp.StatusCode, *resp.Rate.ResetAt, c.now())

	default:
		if resp.StatusCode == http.StatusUnauthorized && req.Auth == restapi.Unconstrained {
			c.invalidateDelegated()
		}

		return &restapi.RequestError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
}

func (c *Client) storeResponse(ctx context.Context, cacheKey string, resp *Response) {
	etag := resp.Header.Get(constants.HeaderETag)
	if etag == "" {
		return
	}

	err := c.cache.Store(ctx, &restapi.CacheEntry{
		URI:          cacheKey,
		Body:         resp.Body,
		ETag:         etag,
		Continuation: resp.Next,
	})
	if err != nil {
		c.logger.Warn("Failed to store cached response", map[string]interface{}{
			"url":   cacheKey,
			"error": err.Error(),
		})
	}
}

// cachedResponse is the stored entry a conditional GET was sent for. A 304 is
// answered from this copy, so an eviction while the request is in flight
// cannot fail the call.
type cachedResponse struct {
	validator string
	body      []byte
	next      string
}

func answerFromCache(resp *Response, cached *cachedResponse) error {
	if cached == nil {
		return restapi.ErrCacheUnreachable
	}

	if resp.Next == "" {
		resp.Next = cached.next
	}

	resp.Body = cached.body
	resp.FromCache = true

	return nil
}

// lookupCached returns the stored entry for cacheKey, or nil when there is no
// usable one. The validator is only sent when the body is in hand.
func (c *Client) lookupCached(ctx context.Context, cacheKey string) *cachedResponse {
	validator, err := c.cache.LookupValidator(ctx, cacheKey)
	if err != nil {
		c.warnLookup("Failed to read cached validator", cacheKey, err)

		return nil
	}

	body, err := c.cache.LookupBody(ctx, cacheKey)
	if err != nil {
		c.warnLookup("Failed to read cached response", cacheKey, err)

		return nil
	}

	next, err := c.cache.LookupContinuation(ctx, cacheKey)
	if err != nil {
		next = ""
	}

	return &cachedResponse{validator: validator, body: body, next: next}
}

func (c *Client) warnLookup(msg, cacheKey string, err error) {
	if errors.Is(err, restapi.ErrCacheMiss) {
		return
	}

	c.logger.Warn(msg, map[string]interface{}{
		"url":   cacheKey,
		"error": err.Error(),
	})
}

// invalidateDelegated drops a delegated token the server has rejected so the
// next request issues a fresh one.
func (c *Client) invalidateDelegated() {
	delegated, ok := c.credentials.Get().(*restapi.DelegatedAccessToken)
	if !ok {
		return
	}

	delegated.Invalidate()

	c.logger.Debug("Invalidated rejected delegated access token", map[string]interface{}{
		"credential": delegated.Masked(),
	})
}

// issueToken POSTs to the token-issuing endpoint under the signed assertion.
func (c *Client) issueToken(ctx context.Context, path string, body []byte) ([]byte, error) {
	resp, err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		URI:    path,
		Body:   body,
		Auth:   restapi.AssertionOnly,
	})
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// resolveURL returns the request URL and the key its response is cached
// under. Relative URIs are joined to the base URL path; absolute ones pass
// through unchanged.
func (c *Client) resolveURL(uri string, query url.Values) (*url.URL, string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return nil, "", fmt.Errorf("parsing request URI %q: %w", uri, err)
	}

	target := ref
	if !ref.IsAbs() {
		joined := *c.baseURL
		joined.Path = strings.TrimSuffix(c.baseURL.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
		joined.RawPath = ""
		joined.RawQuery = ref.RawQuery
		joined.Fragment = ""
		target = &joined
	}

	if len(query) > 0 {
		merged := target.Query()
		for key, values := range query {
			merged[key] = values
		}

		target.RawQuery = merged.Encode()
	}

	return target, target.String(), nil
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return err
}

// retryPolicy retries transport errors, 429 and 5xx other than 501. It only
// takes effect when RetryMax is raised above zero.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}

	if resp.StatusCode >= http.StatusInternalServerError && resp.StatusCode != http.StatusNotImplemented {
		return true, nil
	}

	return false, nil
}
