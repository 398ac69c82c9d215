package auth_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/restclient/internal/auth"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

func TestToken_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		token    *auth.Token
		expected bool
	}{
		{name: "nil token", token: nil, expected: false},
		{name: "empty access token", token: &auth.Token{}, expected: false},
		{name: "no expiry", token: &auth.Token{AccessToken: "t"}, expected: true},
		{
			name:     "future expiry",
			token:    &auth.Token{AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)},
			expected: true,
		},
		{
			name:     "expired",
			token:    &auth.Token{AccessToken: "t", ExpiresAt: time.Now().Add(-time.Hour)},
			expected: false,
		},
		{
			name:     "inside expiry buffer",
			token:    &auth.Token{AccessToken: "t", ExpiresAt: time.Now().Add(15 * time.Second)},
			expected: false,
		},
		{
			name:     "just outside expiry buffer",
			token:    &auth.Token{AccessToken: "t", ExpiresAt: time.Now().Add(35 * time.Second)},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.token.Valid())
		})
	}
}

func TestTokenStore(t *testing.T) {
	t.Parallel()

	store := auth.NewTokenStore()
	assert.Nil(t, store.Get())

	store.Set(&auth.Token{AccessToken: "a", TokenType: "bearer"})

	got := store.Get()
	require.NotNil(t, got)
	assert.Equal(t, "a", got.AccessToken)
	assert.Equal(t, "bearer", got.TokenType)

	store.Clear()
	assert.Nil(t, store.Get())
}

func TestCredentialStore_WholesaleReplace(t *testing.T) {
	t.Parallel()

	store := auth.NewCredentialStore(nil)
	assert.Nil(t, store.Get())

	store.Set(restapi.BearerToken{Token: "one"})
	assert.Equal(t, restapi.BearerToken{Token: "one"}, store.Get())

	store.Set(restapi.BasicKeyPair{ClientID: "id", ClientSecret: "secret"})
	assert.Equal(t, restapi.BasicKeyPair{ClientID: "id", ClientSecret: "secret"}, store.Get())

	store.Set(nil)
	assert.Nil(t, store.Get())
}

func TestCredentialStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := auth.NewCredentialStore(restapi.BearerToken{Token: "initial"})
	candidates := []restapi.Credential{
		restapi.BearerToken{Token: "initial"},
		restapi.BearerToken{Token: "token-1"},
		restapi.BasicKeyPair{ClientID: "id", ClientSecret: "secret"},
	}

	var wg sync.WaitGroup

	for i := range 100 {
		wg.Add(2)

		go func() {
			defer wg.Done()

			store.Set(candidates[1+i%2])
		}()

		go func() {
			defer wg.Done()

			// A reader sees one complete credential, never a mix.
			assert.Contains(t, candidates, store.Get())
		}()
	}

	wg.Wait()
	assert.Contains(t, candidates, store.Get())
}
