package commands

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/fivetwenty-io/restclient/internal/auth"
)

// ConfigPersister implements the auth.ConfigPersister interface.
type ConfigPersister struct {
	mutex sync.Mutex
	viper *viper.Viper
	now   func() time.Time
}

// NewConfigPersister creates a new config persister writing to the config
// file selected by v.
func NewConfigPersister(v *viper.Viper) *ConfigPersister {
	return &ConfigPersister{viper: v, now: time.Now}
}

// UpdateProfileToken stores token on the named profile.
func (p *ConfigPersister) UpdateProfileToken(profile string, token *auth.Token) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	config, err := loadConfig(p.viper)
	if err != nil {
		return err
	}

	stored, exists := config.Profiles[profile]
	if !exists {
		return fmt.Errorf("profile '%s': %w", profile, ErrProfileNotFound)
	}

	stored.Token = token.AccessToken
	if !token.ExpiresAt.IsZero() {
		expiresAt := token.ExpiresAt
		stored.TokenExpiresAt = &expiresAt
	}

	if token.RefreshToken != "" {
		stored.RefreshToken = token.RefreshToken
	}

	now := p.now()
	stored.LastRefreshed = &now

	return saveConfig(p.viper, config)
}
