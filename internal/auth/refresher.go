package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fivetwenty-io/restclient/internal/constants"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

// Static errors for err113 compliance.
var (
	ErrEmptyIssuedToken = errors.New("token endpoint returned an empty token")
)

// IssueFunc POSTs body to the token-issuing path, authenticating with the
// signed assertion, and returns the response body. It is implemented by the
// request executor.
type IssueFunc func(ctx context.Context, path string, body []byte) ([]byte, error)

// installationTokenRequest asks for a token with the installation's full
// permission set.
type installationTokenRequest struct {
	Permissions   map[string]string `json:"permissions"`
	Repositories  []string          `json:"repositories"`
	RepositoryIDs []int64           `json:"repository_ids"`
}

// InstallationToken is the token-issuing endpoint's response.
type InstallationToken struct {
	Token               string            `json:"token"`
	ExpiresAt           time.Time         `json:"expires_at"`
	Permissions         map[string]string `json:"permissions,omitempty"`
	RepositorySelection string            `json:"repository_selection,omitempty"`
}

// TokenRefresher keeps delegated access tokens live. Each token is refreshed
// lazily on first use after it goes stale, and concurrent refreshes of one
// token share a single request.
type TokenRefresher struct {
	issue  IssueFunc
	path   string
	logger restapi.Logger
	now    func() time.Time
	group  singleflight.Group
}

// RefresherOption configures a TokenRefresher.
type RefresherOption func(*TokenRefresher)

// WithTokenPath overrides the token-issuing path template. It must contain
// one %d verb for the installation id.
func WithTokenPath(path string) RefresherOption {
	return func(r *TokenRefresher) {
		if path != "" {
			r.path = path
		}
	}
}

// WithRefresherLogger sets the logger.
func WithRefresherLogger(logger restapi.Logger) RefresherOption {
	return func(r *TokenRefresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *TokenRefresher) {
		r.now = now
	}
}

// NewTokenRefresher creates a refresher that issues tokens through issue.
func NewTokenRefresher(issue IssueFunc, opts ...RefresherOption) *TokenRefresher {
	refresher := &TokenRefresher{
		issue:  issue,
		path:   constants.DefaultInstallationTokenPath,
		logger: restapi.NopLogger{},
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(refresher)
	}

	return refresher
}

// Token implements DelegatedTokenSource. A live value is returned as-is;
// otherwise a new token is issued and published into the shared slot.
func (r *TokenRefresher) Token(ctx context.Context, delegated *restapi.DelegatedAccessToken) (string, error) {
	if value, ok := delegated.Current(r.now()); ok {
		return value, nil
	}

	key := fmt.Sprintf("%p", delegated)

	// The shared refresh outlives any one caller, so a caller that gives up
	// does not fail the others waiting on it.
	results := r.group.DoChan(key, func() (interface{}, error) {
		// Another caller may have published while this one waited.
		if value, ok := delegated.Current(r.now()); ok {
			return value, nil
		}

		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.TokenRefreshTimeout)
		defer cancel()

		issued, err := r.Refresh(refreshCtx, delegated)
		if err != nil {
			return "", err
		}

		return issued.Token, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return "", result.Err //nolint:wrapcheck // already a TokenRefreshError
		}

		token, _ := result.Val.(string)

		return token, nil
	}
}

// Refresh unconditionally issues a new token and publishes it.
func (r *TokenRefresher) Refresh(ctx context.Context, delegated *restapi.DelegatedAccessToken) (*InstallationToken, error) {
	installationID := delegated.InstallationID()
	fail := func(err error) (*InstallationToken, error) {
		return nil, &restapi.TokenRefreshError{InstallationID: installationID, Err: err}
	}

	body, err := json.Marshal(installationTokenRequest{
		Permissions:   map[string]string{},
		Repositories:  []string{},
		RepositoryIDs: []int64{},
	})
	if err != nil {
		return fail(fmt.Errorf("encoding token request: %w", err))
	}

	path := fmt.Sprintf(r.path, installationID)

	respBody, err := r.issue(ctx, path, body)
	if err != nil {
		return fail(err)
	}

	var issued InstallationToken

	err = json.Unmarshal(respBody, &issued)
	if err != nil {
		return fail(&restapi.DecodeError{Err: err})
	}

	if issued.Token == "" {
		return fail(ErrEmptyIssuedToken)
	}

	delegated.Publish(restapi.Token{Value: issued.Token, ExpiresAt: issued.ExpiresAt})

	r.logger.Info("Refreshed delegated access token", map[string]interface{}{
		"installation_id": strconv.FormatInt(installationID, 10),
		"expires_at":      issued.ExpiresAt,
	})

	return &issued, nil
}
