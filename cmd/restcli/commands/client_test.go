//nolint:testpackage // Need access to internal types
package commands

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/restclient/internal/constants"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

func writeKey(t *testing.T) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "app.pem")
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(path, keyPEM, 0o600))

	return path
}

func TestCredentialFor(t *testing.T) {
	t.Parallel()

	keyPath := writeKey(t)

	credential, err := credentialFor(&Profile{})
	require.NoError(t, err)
	assert.Nil(t, credential)

	credential, err = credentialFor(&Profile{Token: "ghp_x"})
	require.NoError(t, err)
	assert.Equal(t, restapi.BearerToken{Token: "ghp_x"}, credential)

	credential, err = credentialFor(&Profile{Token: "ghu_x", RefreshToken: "ghr_x", ClientID: "id", ClientSecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, restapi.BearerToken{Token: "ghu_x", Scheme: constants.SchemeBearer}, credential)

	credential, err = credentialFor(&Profile{ClientID: "id", ClientSecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, restapi.BasicKeyPair{ClientID: "id", ClientSecret: "s"}, credential)

	credential, err = credentialFor(&Profile{AppID: 1, PrivateKeyPath: keyPath})
	require.NoError(t, err)
	assert.IsType(t, &restapi.SignedAssertion{}, credential)

	credential, err = credentialFor(&Profile{AppID: 1, InstallationID: 9, PrivateKeyPath: keyPath})
	require.NoError(t, err)

	delegated, ok := credential.(*restapi.DelegatedAccessToken)
	require.True(t, ok)
	assert.Equal(t, int64(9), delegated.InstallationID())

	_, err = credentialFor(&Profile{AppID: 1})
	require.ErrorIs(t, err, constants.ErrNoPrivateKey)

	_, err = credentialFor(&Profile{AppID: 1, Token: "ghp_x"})
	require.ErrorIs(t, err, constants.ErrConflictingAuth)
}

func TestReadKeyFile(t *testing.T) {
	t.Parallel()

	keyPath := writeKey(t)

	data, err := readKeyFile(keyPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "RSA PRIVATE KEY")

	_, err = readKeyFile("../../etc/app.pem")
	require.ErrorIs(t, err, constants.ErrDirectoryTraversalDetected)

	_, err = readKeyFile(filepath.Dir(keyPath) + "/../" + filepath.Base(filepath.Dir(keyPath)) + "/app.pem")
	require.ErrorIs(t, err, constants.ErrDirectoryTraversalDetected)

	_, err = readKeyFile(filepath.Dir(keyPath))
	require.ErrorIs(t, err, constants.ErrNotRegularFile)

	_, err = readKeyFile(filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
}

func TestSetProfileValue_Cache(t *testing.T) {
	t.Parallel()

	profile := &Profile{}

	require.NoError(t, setProfileValue(profile, "cache", "memory"))
	require.NotNil(t, profile.Cache)
	assert.Equal(t, restapi.CacheTypeMemory, profile.Cache.Type)
	require.NotNil(t, profile.Cache.Memory)

	require.NoError(t, setProfileValue(profile, "cache", "none"))
	assert.Equal(t, restapi.CacheTypeNone, profile.Cache.Type)
}

func TestAuthKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		profile  Profile
		expected string
	}{
		{Profile{AppID: 1, InstallationID: 2}, "installation"},
		{Profile{AppID: 1}, "app"},
		{Profile{Token: "t", RefreshToken: "r", ClientID: "c", ClientSecret: "s"}, "oauth"},
		{Profile{Token: "t"}, "token"},
		{Profile{ClientID: "c"}, "key pair"},
		{Profile{}, constants.NotAvailable},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, authKind(&tt.profile))
	}
}
