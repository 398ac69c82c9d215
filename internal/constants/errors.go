package constants

import "errors"

// Configuration errors.
var (
	ErrNoBaseURL         = errors.New("no base URL configured, set base_url or RESTCLI_BASE_URL")
	ErrNoCredential      = errors.New("no credential configured")
	ErrConflictingAuth   = errors.New("a profile may configure either a token or an app key, not both")
	ErrNoInstallationID  = errors.New("installation_id is required for a delegated token")
	ErrNoPrivateKey      = errors.New("private_key_path is required when app_id is set")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrNoRefreshToken    = errors.New("no refresh token available, run 'restcli login' again")
)

// File system errors.
var (
	ErrNotRegularFile             = errors.New("path is not a regular file")
	ErrDirectoryTraversalDetected = errors.New("directory traversal detected in file path")
)
