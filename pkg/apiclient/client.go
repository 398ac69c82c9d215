package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/fivetwenty-io/restclient/internal/auth"
	resthttp "github.com/fivetwenty-io/restclient/internal/http"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

// Static errors for err113 compliance.
var (
	ErrNotDelegated = errors.New("active credential is not a delegated access token")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// InstallationToken is a newly issued delegated access token.
type InstallationToken = auth.InstallationToken

// Client executes API calls through the shared request pipeline. It is safe
// for concurrent use.
type Client struct {
	http    *resthttp.Client
	cache   restapi.ResponseCache
	rate    *restapi.RateTracker
	metrics *restapi.MetricsCollector
	logger  restapi.Logger
}

// New creates a client from config. Config is validated before use.
func New(config *restapi.Config) (*Client, error) {
	if config == nil {
		return nil, restapi.ErrConfigRequired
	}

	err := validate.Struct(config)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = restapi.NopLogger{}
	}

	cache, err := responseCache(config)
	if err != nil {
		return nil, err
	}

	client := &Client{
		cache:   cache,
		rate:    restapi.NewRateTracker(),
		metrics: restapi.NewMetricsCollector(),
		logger:  logger,
	}

	chain := restapi.NewInterceptorChain()
	chain.AddRequestInterceptor(restapi.MetricsRequestInterceptor(client.metrics))
	chain.AddResponseInterceptor(restapi.RateTrackerInterceptor(client.rate))
	chain.AddResponseInterceptor(restapi.MetricsResponseInterceptor(client.metrics))

	if config.Debug {
		chain.AddRequestInterceptor(restapi.LoggingInterceptor(logger))
		chain.AddResponseInterceptor(restapi.LoggingResponseInterceptor(logger))
	}

	opts := []resthttp.Option{
		resthttp.WithUserAgent(config.UserAgent),
		resthttp.WithLogger(logger),
		resthttp.WithDebug(config.Debug),
		resthttp.WithCredential(config.Credential),
		resthttp.WithResponseCache(cache),
		resthttp.WithInterceptors(chain),
		resthttp.WithTokenPath(config.InstallationTokenPath),
	}

	if config.HTTPClient != nil {
		opts = append(opts, resthttp.WithHTTPClient(config.HTTPClient))
	} else {
		opts = append(opts, resthttp.WithTimeout(config.HTTPTimeout))
	}

	if config.RetryMax > 0 {
		opts = append(opts, resthttp.WithRetryConfig(config.RetryMax, config.RetryWaitMin, config.RetryWaitMax))
	}

	client.http, err = resthttp.NewClient(config.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return client, nil
}

// NewWithToken creates a client that sends a static token.
func NewWithToken(baseURL, userAgent, token string) (*Client, error) {
	return New(&restapi.Config{
		BaseURL:    baseURL,
		UserAgent:  userAgent,
		Credential: restapi.BearerToken{Token: token},
	})
}

// NewWithKeyPair creates a client that authenticates with a client id and
// secret.
func NewWithKeyPair(baseURL, userAgent, clientID, clientSecret string) (*Client, error) {
	return New(&restapi.Config{
		BaseURL:    baseURL,
		UserAgent:  userAgent,
		Credential: restapi.BasicKeyPair{ClientID: clientID, ClientSecret: clientSecret},
	})
}

// NewForInstallation creates a client acting as an app installation. Tokens
// are minted with the app's private key and refreshed on demand.
func NewForInstallation(baseURL, userAgent string, appID, installationID int64, privateKeyPEM []byte) (*Client, error) {
	assertion, err := restapi.NewSignedAssertion(appID, privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("creating signed assertion: %w", err)
	}

	return New(&restapi.Config{
		BaseURL:    baseURL,
		UserAgent:  userAgent,
		Credential: restapi.NewDelegatedAccessToken(installationID, assertion),
	})
}

// SetCredentials replaces the active credential for all subsequent calls.
func (c *Client) SetCredentials(credential restapi.Credential) {
	c.http.SetCredentials(credential)
}

// Credentials returns the active credential, or nil.
func (c *Client) Credentials() restapi.Credential {
	return c.http.Credentials()
}

// BaseURL returns the API host.
func (c *Client) BaseURL() string {
	return c.http.BaseURL()
}

// RateState returns the most recent rate-limit state reported by the server
// and when it was observed.
func (c *Client) RateState() (restapi.RateState, bool) {
	state, observed := c.rate.Last()

	return state, !observed.IsZero()
}

// Metrics returns the counters for one endpoint, keyed "METHOD url".
func (c *Client) Metrics(endpoint string) (restapi.Metrics, bool) {
	return c.metrics.GetMetrics(endpoint)
}

// OnMetrics registers fn to be called after every completed call.
func (c *Client) OnMetrics(fn func(endpoint string, metrics restapi.Metrics)) {
	c.metrics.SetOnChange(fn)
}

// RefreshInstallationToken forces a new delegated access token to be issued
// for the active credential.
func (c *Client) RefreshInstallationToken(ctx context.Context) (*InstallationToken, error) {
	delegated, ok := c.Credentials().(*restapi.DelegatedAccessToken)
	if !ok {
		return nil, ErrNotDelegated
	}

	issued, err := c.http.Refresher().Refresh(ctx, delegated)
	if err != nil {
		return nil, err //nolint:wrapcheck // TokenRefreshError carries the context
	}

	return issued, nil
}

func responseCache(config *restapi.Config) (restapi.ResponseCache, error) {
	if config.ResponseCache != nil {
		return config.ResponseCache, nil
	}

	if config.Cache == nil {
		return restapi.NoCache(), nil
	}

	cache, err := restapi.NewResponseCacheFromConfig(config.Cache)
	if err != nil {
		return nil, fmt.Errorf("creating response cache: %w", err)
	}

	return cache, nil
}

func (c *Client) do(ctx context.Context, req *resthttp.Request) (*resthttp.Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	return c.http.Do(ctx, req)
}
