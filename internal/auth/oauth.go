package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fivetwenty-io/restclient/internal/constants"
)

// Static errors for err113 compliance.
var (
	ErrNoValidCredentials = errors.New("no valid credentials available for token refresh")
)

// Token is an OAuth2 access token as returned by a token endpoint.
type Token struct {
	TokenType             string    `json:"token_type"`
	AccessToken           string    `json:"access_token"`
	ExpiresIn             int64     `json:"expires_in,omitempty"`
	RefreshToken          string    `json:"refresh_token,omitempty"`
	RefreshTokenExpiresIn int64     `json:"refresh_token_expires_in,omitempty"`
	Scope                 string    `json:"scope,omitempty"`
	ExpiresAt             time.Time `json:"-"`
}

// Valid reports whether the token is usable, with a 30 second buffer
// before expiry.
func (t *Token) Valid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}

	if t.ExpiresAt.IsZero() {
		return true
	}

	return time.Now().Add(constants.TokenExpirationBuffer).Before(t.ExpiresAt)
}

// TokenStore provides thread-safe token storage.
type TokenStore struct {
	mu    sync.RWMutex
	token *Token
}

// NewTokenStore creates an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Get returns the stored token, or nil.
func (s *TokenStore) Get() *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token
}

// Set replaces the stored token.
func (s *TokenStore) Set(token *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
}

// Clear removes the stored token.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = nil
}

// OAuth2Config configures an OAuth2TokenManager.
type OAuth2Config struct {
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	RefreshToken string
	AccessToken  string
	Scopes       []string
	// HTTPClient is used for token endpoint calls. Defaults to a client with
	// a short timeout.
	HTTPClient *http.Client
}

// OAuth2TokenManager obtains and refreshes OAuth2 access tokens using the
// authorization code, refresh token, client credentials and password grants.
type OAuth2TokenManager struct {
	config    *OAuth2Config
	oauth     *oauth2.Config
	store     *TokenStore
	mu        sync.Mutex
	listeners []func(*Token)
}

// NewOAuth2TokenManager creates a manager. A configured AccessToken is used
// until it is refreshed.
func NewOAuth2TokenManager(config *OAuth2Config) *OAuth2TokenManager {
	manager := &OAuth2TokenManager{
		config: config,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       config.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.AuthURL,
				TokenURL: config.TokenURL,
			},
		},
		store: NewTokenStore(),
	}

	if config.AccessToken != "" || config.RefreshToken != "" {
		manager.store.Set(&Token{
			AccessToken:  config.AccessToken,
			RefreshToken: config.RefreshToken,
			TokenType:    "bearer",
		})
	}

	return manager
}

// OnToken registers fn to be called with every newly obtained token.
func (m *OAuth2TokenManager) OnToken(fn func(*Token)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, fn)
}

// AuthCodeURL returns the consent URL carrying state. Scopes, when given,
// replace the configured ones for this request.
func (m *OAuth2TokenManager) AuthCodeURL(state string, scopes ...string) string {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if len(scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(scopes, " ")))
	}

	return m.oauth.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for a token and stores it.
func (m *OAuth2TokenManager) Exchange(ctx context.Context, code string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oauthToken, err := m.oauth.Exchange(m.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	return m.storeLocked(oauthToken), nil
}

// GetToken returns a valid access token, refreshing if necessary.
func (m *OAuth2TokenManager) GetToken(ctx context.Context) (string, error) {
	if token := m.store.Get(); token.Valid() {
		return token.AccessToken, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if token := m.store.Get(); token.Valid() {
		return token.AccessToken, nil
	}

	token, err := m.refreshLocked(ctx)
	if err != nil {
		return "", err
	}

	return token.AccessToken, nil
}

// RefreshToken forces a token refresh.
func (m *OAuth2TokenManager) RefreshToken(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.refreshLocked(ctx)

	return err
}

// Token returns the stored token, or nil.
func (m *OAuth2TokenManager) Token() *Token {
	return m.store.Get()
}

// SetToken manually sets the access token.
func (m *OAuth2TokenManager) SetToken(accessToken string, expiresAt time.Time) {
	refreshToken := ""
	if current := m.store.Get(); current != nil {
		refreshToken = current.RefreshToken
	}

	m.store.Set(&Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
	})
}

func (m *OAuth2TokenManager) refreshLocked(ctx context.Context) (*Token, error) {
	ctx = m.withHTTPClient(ctx)

	var (
		oauthToken *oauth2.Token
		err        error
	)

	refreshToken := m.config.RefreshToken
	if current := m.store.Get(); current != nil && current.RefreshToken != "" {
		refreshToken = current.RefreshToken
	}

	switch {
	case refreshToken != "":
		oauthToken, err = m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	case m.config.Username != "" && m.config.Password != "":
		oauthToken, err = m.oauth.PasswordCredentialsToken(ctx, m.config.Username, m.config.Password)
	case m.config.ClientID != "" && m.config.ClientSecret != "":
		cc := &clientcredentials.Config{
			ClientID:     m.config.ClientID,
			ClientSecret: m.config.ClientSecret,
			TokenURL:     m.config.TokenURL,
			Scopes:       m.config.Scopes,
		}
		oauthToken, err = cc.Token(ctx)
	default:
		return nil, ErrNoValidCredentials
	}

	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	return m.storeLocked(oauthToken), nil
}

func (m *OAuth2TokenManager) storeLocked(oauthToken *oauth2.Token) *Token {
	token := fromOAuth2(oauthToken)

	// Refresh responses may omit the refresh token; keep the previous one.
	if token.RefreshToken == "" {
		if current := m.store.Get(); current != nil {
			token.RefreshToken = current.RefreshToken
		}
	}

	m.store.Set(token)

	for _, listener := range m.listeners {
		listener(token)
	}

	return token
}

func (m *OAuth2TokenManager) withHTTPClient(ctx context.Context) context.Context {
	client := m.config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: constants.ShortHTTPTimeout}
	}

	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

func fromOAuth2(oauthToken *oauth2.Token) *Token {
	token := &Token{
		TokenType:    oauthToken.TokenType,
		AccessToken:  oauthToken.AccessToken,
		RefreshToken: oauthToken.RefreshToken,
		ExpiresAt:    oauthToken.Expiry,
	}

	if !oauthToken.Expiry.IsZero() {
		token.ExpiresIn = int64(time.Until(oauthToken.Expiry).Round(time.Second) / time.Second)
	}

	if scope, ok := oauthToken.Extra("scope").(string); ok {
		token.Scope = scope
	}

	if expiresIn, ok := oauthToken.Extra("refresh_token_expires_in").(float64); ok {
		token.RefreshTokenExpiresIn = int64(expiresIn)
	}

	return token
}
