package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fivetwenty-io/restclient/internal/auth"
	"github.com/fivetwenty-io/restclient/internal/constants"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

// Static errors for err113 compliance.
var (
	ErrOAuthStateMismatch = errors.New("oauth state does not match the consent request")
	ErrNoConsentRequest   = errors.New("no consent request is pending")
	ErrNoRefreshToken     = errors.New("no refresh token available")
	ErrEmptyAccessToken   = errors.New("token endpoint returned no access token")
)

const (
	// DefaultAuthURL is the consent page of refresh-token vendors modelled on
	// GitHub apps.
	DefaultAuthURL = "https://github.com/login/oauth/authorize"
	// DefaultTokenURL is the matching token endpoint.
	DefaultTokenURL = "https://github.com/login/oauth/access_token"
)

// OAuthToken is an access token obtained through the consent flow.
type OAuthToken = auth.Token

// OAuthConfig configures an OAuthClient.
type OAuthConfig struct {
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	RedirectURL  string `validate:"omitempty,url"`
	AuthURL      string `validate:"omitempty,url"`
	TokenURL     string `validate:"omitempty,url"`
	Scopes       []string
	// RefreshToken resumes a previous session.
	RefreshToken string
	HTTPClient   *http.Client
}

// OAuthClient drives the user consent flow for vendors whose user tokens
// expire and are renewed with a refresh token. Every token it obtains is
// published to the client as a Bearer credential.
type OAuthClient struct {
	client  *Client
	manager *auth.OAuth2TokenManager

	mu    sync.Mutex
	state string
}

// NewOAuthClient creates an OAuthClient publishing tokens to client.
func NewOAuthClient(client *Client, config *OAuthConfig) (*OAuthClient, error) {
	if config == nil {
		return nil, restapi.ErrConfigRequired
	}

	err := validate.Struct(config)
	if err != nil {
		return nil, fmt.Errorf("invalid oauth config: %w", err)
	}

	authURL := config.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}

	tokenURL := config.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	manager := auth.NewOAuth2TokenManager(&auth.OAuth2Config{
		AuthURL:      authURL,
		TokenURL:     tokenURL,
		RedirectURL:  config.RedirectURL,
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RefreshToken: config.RefreshToken,
		Scopes:       config.Scopes,
		HTTPClient:   config.HTTPClient,
	})

	oauthClient := &OAuthClient{client: client, manager: manager}
	manager.OnToken(oauthClient.publish)

	return oauthClient, nil
}

// Manager returns the underlying token manager, e.g. to persist tokens.
func (o *OAuthClient) Manager() *auth.OAuth2TokenManager {
	return o.manager
}

// UserConsentURL returns the URL the user must visit to grant access. A new
// random state is generated for every call and checked by GetAccessToken.
func (o *OAuthClient) UserConsentURL(scopes ...string) string {
	state := uuid.NewString()

	o.mu.Lock()
	o.state = state
	o.mu.Unlock()

	return o.manager.AuthCodeURL(state, scopes...)
}

// GetAccessToken exchanges the authorization code from the consent redirect
// for a token and makes it the client's active credential.
func (o *OAuthClient) GetAccessToken(ctx context.Context, code, state string) (*OAuthToken, error) {
	o.mu.Lock()
	expected := o.state
	o.mu.Unlock()

	if expected == "" {
		return nil, ErrNoConsentRequest
	}

	if state != expected {
		return nil, ErrOAuthStateMismatch
	}

	token, err := o.manager.Exchange(ctx, code)
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped by the manager
	}

	if token.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}

	o.mu.Lock()
	o.state = ""
	o.mu.Unlock()

	return token, nil
}

// RefreshAccessToken renews the access token with the stored refresh token.
func (o *OAuthClient) RefreshAccessToken(ctx context.Context) (*OAuthToken, error) {
	current := o.manager.Token()
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	err := o.manager.RefreshToken(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped by the manager
	}

	return o.manager.Token(), nil
}

// TokenExpiry returns when the current access token expires, zero if unknown.
func (o *OAuthClient) TokenExpiry() time.Time {
	token := o.manager.Token()
	if token == nil {
		return time.Time{}
	}

	return token.ExpiresAt
}

func (o *OAuthClient) publish(token *auth.Token) {
	if token.AccessToken == "" {
		return
	}

	o.client.SetCredentials(restapi.BearerToken{Token: token.AccessToken, Scheme: constants.SchemeBearer})
	o.client.logger.Info("Obtained OAuth access token", map[string]interface{}{
		"expires_at": token.ExpiresAt,
		"scope":      token.Scope,
	})
}
