package restapi

import (
	"net/http"
	"time"
)

// DefaultBaseURL is the host used when Config.BaseURL is empty.
const DefaultBaseURL = "https://api.github.com"

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Config represents client configuration for building an apiclient.Client.
//
// # Authentication
//
// Exactly one Credential is active. It may be replaced later with
// Client.SetCredentials, which swaps it wholesale. A nil Credential sends
// requests unauthenticated, which public endpoints accept.
//
// # Caching
//
// ResponseCache takes precedence over Cache. When both are nil, conditional
// requests are disabled and no response is ever stored.
//
// # Timeouts and retries
//
// Per-request deadlines should be set on the context passed to each call.
// The pipeline itself never retries: RetryMax defaults to zero and only a
// caller that sets it opts into transport-level retries of 429 and 5xx.
type Config struct {
	// BaseURL is the API host, e.g. "https://api.github.com". Relative request
	// paths are joined to it; absolute continuation URLs bypass it.
	BaseURL string `validate:"omitempty,url"`

	// UserAgent is sent on every request. Vendors commonly reject requests
	// without one.
	UserAgent string `validate:"required"`

	// Credential is the initially active credential. Optional.
	Credential Credential

	// Cache builds a key/value backend that is wrapped in a ResponseCache.
	Cache *CacheConfig

	// ResponseCache is used as-is when set.
	ResponseCache ResponseCache

	// HTTPClient replaces the underlying *http.Client, e.g. for custom TLS
	// or proxies.
	HTTPClient *http.Client

	// HTTPTimeout bounds a single HTTP exchange when HTTPClient is nil.
	HTTPTimeout time.Duration `validate:"gte=0"`

	// RetryMax is the number of transport retries for 429 and 5xx responses.
	// Zero disables retries.
	RetryMax int `validate:"gte=0,lte=10"`
	// RetryWaitMin is the minimum backoff between retries.
	RetryWaitMin time.Duration `validate:"gte=0"`
	// RetryWaitMax is the maximum backoff between retries.
	RetryWaitMax time.Duration `validate:"gte=0"`

	// Debug enables "HTTP Request" / "HTTP Response" logging.
	Debug bool

	// Logger receives structured log output. Defaults to NopLogger.
	Logger Logger

	// InstallationTokenPath is the token-issuing endpoint template. The
	// single %d verb receives the installation id.
	InstallationTokenPath string
}

// NopLogger discards everything.
type NopLogger struct{}

// Debug implements Logger.
func (NopLogger) Debug(string, map[string]interface{}) {}

// Info implements Logger.
func (NopLogger) Info(string, map[string]interface{}) {}

// Warn implements Logger.
func (NopLogger) Warn(string, map[string]interface{}) {}

// Error implements Logger.
func (NopLogger) Error(string, map[string]interface{}) {}
