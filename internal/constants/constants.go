package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration files.
	ConfigFilePerm = 0600
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for quick operations such as token exchange.
	ShortHTTPTimeout = 10 * time.Second
)

// Retry limits. The pipeline never retries unless a caller opts in.
const (
	// DefaultRetryMax is the default maximum number of retries.
	DefaultRetryMax = 0

	// DefaultRetryWaitMin is the minimum wait time between opt-in retries.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum wait time between opt-in retries.
	DefaultRetryWaitMax = 10 * time.Second
)

// Request headers.
const (
	HeaderAccept        = "Accept"
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderETag          = "ETag"
	HeaderIfNoneMatch   = "If-None-Match"
	HeaderLink          = "Link"
	HeaderUserAgent     = "User-Agent"

	// HeaderRateLimitRemaining is the number of requests left in the window.
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"

	// HeaderRateLimitReset is the epoch second at which the window resets.
	HeaderRateLimitReset = "X-RateLimit-Reset"
)

// Content types.
const (
	// ContentTypeJSON is sent with request bodies that carry no explicit type.
	ContentTypeJSON = "application/json"
)

// Authentication.
const (
	// DefaultInstallationTokenPath is the token-issuing endpoint for
	// delegated access tokens.
	DefaultInstallationTokenPath = "/app/installations/%d/access_tokens"

	// TokenExpirationBuffer is how long before its expiry a token is treated
	// as stale.
	TokenExpirationBuffer = 30 * time.Second

	// TokenRefreshTimeout bounds a shared token refresh, which runs detached
	// from the cancellation of the caller that started it.
	TokenRefreshTimeout = 30 * time.Second

	// QueryClientID carries the key pair id.
	QueryClientID = "client_id"

	// QueryClientSecret carries the key pair secret.
	QueryClientSecret = "client_secret"

	// SchemeToken prefixes static and delegated tokens.
	SchemeToken = "token"

	// SchemeBearer prefixes signed assertions and OAuth access tokens.
	SchemeBearer = "Bearer"
)

// Cache constants.
const (
	// DefaultCacheSize is the default cache size limit.
	DefaultCacheSize = 1000

	// DefaultCacheTTL is the default cache time-to-live.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCacheKeyPrefix namespaces entries in shared backends.
	DefaultCacheKeyPrefix = "restclient:"

	// DefaultRedisKeyPrefix is used when a Redis backend is configured
	// without a prefix, so Clear never scans the whole keyspace.
	DefaultRedisKeyPrefix = "restclient"

	// DefaultNATSBucket is the JetStream KV bucket used by the NATS backend.
	DefaultNATSBucket = "restclient-cache"

	// MaxCacheValueSize is the maximum size for cached values (1MB).
	MaxCacheValueSize = 1024 * 1024
)

// Tracing.
const (
	// TracerName identifies spans emitted by the executor.
	TracerName = "github.com/fivetwenty-io/restclient"

	// RequestSpanName is the span created per executed request.
	RequestSpanName = "restclient.request"
)

// Format constants.
const (
	// FormatJSON for JSON output format.
	FormatJSON = "json"

	// FormatYAML for YAML output format.
	FormatYAML = "yaml"

	// FormatTable for table output format.
	FormatTable = "table"

	// JSONIndentSize is the number of spaces for JSON indentation.
	JSONIndentSize = 2
)

// UI and display constants.
const (
	// NotAvailable is used when information is not available.
	NotAvailable = "N/A"

	// MaskedSecret is used to hide sensitive information.
	MaskedSecret = "***"
)
