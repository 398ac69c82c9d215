package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

// Static errors for err113 compliance.
var (
	ErrNoConfigPersister = errors.New("no config persister configured")
)

// ConfigPersister saves OAuth tokens for a profile.
type ConfigPersister interface {
	UpdateProfileToken(profile string, token *Token) error
}

// ConfigTokenManager wraps OAuth2TokenManager and persists every newly
// obtained token for its profile. Persistence failures are logged and do not
// fail the request that triggered the refresh.
type ConfigTokenManager struct {
	oauth2Manager   *OAuth2TokenManager
	configPersister ConfigPersister
	profile         string
	logger          restapi.Logger
}

// NewConfigTokenManager creates a config-persisting token manager.
func NewConfigTokenManager(
	config *OAuth2Config,
	configPersister ConfigPersister,
	profile string,
	initialExpiry time.Time,
	logger restapi.Logger,
) *ConfigTokenManager {
	if logger == nil {
		logger = restapi.NopLogger{}
	}

	oauth2Manager := NewOAuth2TokenManager(config)
	if config.AccessToken != "" {
		oauth2Manager.SetToken(config.AccessToken, initialExpiry)
	}

	manager := &ConfigTokenManager{
		oauth2Manager:   oauth2Manager,
		configPersister: configPersister,
		profile:         profile,
		logger:          logger,
	}

	oauth2Manager.OnToken(func(token *Token) {
		persistErr := manager.persistToken(token)
		if persistErr != nil {
			manager.logger.Warn("Failed to persist refreshed token", map[string]interface{}{
				"profile": profile,
				"error":   persistErr.Error(),
			})
		}
	})

	return manager
}

// Manager returns the wrapped OAuth2TokenManager.
func (m *ConfigTokenManager) Manager() *OAuth2TokenManager {
	return m.oauth2Manager
}

// GetToken returns a valid access token, refreshing if necessary.
func (m *ConfigTokenManager) GetToken(ctx context.Context) (string, error) {
	return m.oauth2Manager.GetToken(ctx)
}

// RefreshToken forces a token refresh.
func (m *ConfigTokenManager) RefreshToken(ctx context.Context) error {
	return m.oauth2Manager.RefreshToken(ctx)
}

// IsTokenExpiringSoon returns true if the token expires within the given duration.
func (m *ConfigTokenManager) IsTokenExpiringSoon(within time.Duration) bool {
	token := m.oauth2Manager.Token()
	if token == nil {
		return true
	}

	if token.ExpiresAt.IsZero() {
		return false
	}

	return time.Now().Add(within).After(token.ExpiresAt)
}

// GetTokenExpiry returns the current token's expiration time.
func (m *ConfigTokenManager) GetTokenExpiry() time.Time {
	token := m.oauth2Manager.Token()
	if token == nil {
		return time.Time{}
	}

	return token.ExpiresAt
}

func (m *ConfigTokenManager) persistToken(token *Token) error {
	if m.configPersister == nil {
		return ErrNoConfigPersister
	}

	err := m.configPersister.UpdateProfileToken(m.profile, token)
	if err != nil {
		return fmt.Errorf("failed to update profile token: %w", err)
	}

	return nil
}
