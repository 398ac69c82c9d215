package commands_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/restclient/cmd/restcli/commands"
	"github.com/fivetwenty-io/restclient/internal/constants"
)

type result struct {
	stdout string
	stderr string
}

// run executes restcli with args against the config file at configPath.
func run(t *testing.T, configPath string, stdin io.Reader, args ...string) (result, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	root := commands.NewRootCommand(commands.VersionInfo{Version: "1.2.3", Commit: "abc", Built: "today"})
	root.SetArgs(append([]string{"--config", configPath, "--env-file="}, args...))
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	if stdin == nil {
		stdin = strings.NewReader("")
	}

	root.SetIn(stdin)

	err := root.ExecuteContext(context.Background())

	return result{stdout: stdout.String(), stderr: stderr.String()}, err
}

func writeConfig(t *testing.T, config *commands.Config) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")

	data, err := yaml.Marshal(config)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func readConfig(t *testing.T, path string) *commands.Config {
	t.Helper()

	data, err := os.ReadFile(path) //nolint:gosec // test file
	require.NoError(t, err)

	config := &commands.Config{}
	require.NoError(t, yaml.Unmarshal(data, config))

	return config
}

func TestVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yml")

	out, err := run(t, path, nil, "version", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.2.3","commit":"abc","built":"today"}`, out.stdout)

	out, err = run(t, path, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out.stdout, "1.2.3")

	_, err = run(t, path, nil, "version", "-o", "xml")
	require.ErrorIs(t, err, constants.ErrUnsupportedFormat)
}

func TestGet(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/repos/octo/hello", request.URL.Path)
		assert.Equal(t, "token ghp_flag", request.Header.Get("Authorization"))
		assert.Equal(t, "restcli", request.Header.Get("User-Agent"))

		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"id":12345678901,"name":"hello","owner":{"login":"octo"}}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "config.yml")

	out, err := run(t, path, nil, "--base-url", server.URL, "--token", "ghp_flag", "get", "/repos/octo/hello", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":12345678901,"name":"hello","owner":{"login":"octo"}}`, out.stdout)

	out, err = run(t, path, nil, "--base-url", server.URL, "--token", "ghp_flag", "get", "/repos/octo/hello")
	require.NoError(t, err)
	assert.Contains(t, out.stdout, "12345678901")
	assert.Contains(t, out.stdout, `{"login":"octo"}`)
}

func TestGet_RequestFlags(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "application/vnd.github.mercy-preview+json", request.Header.Get("Accept"))
		assert.Equal(t, "open", request.URL.Query().Get("state"))
		assert.Equal(t, "2022-11-28", request.Header.Get("X-Api-Version"))

		writer.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	path := writeConfig(t, &commands.Config{
		Profiles: map[string]*commands.Profile{"default": {BaseURL: server.URL}},
	})

	out, err := run(t, path, nil, "get", "/issues",
		"--preview", "mercy", "-q", "state=open", "-H", "X-Api-Version: 2022-11-28")
	require.NoError(t, err)
	assert.Equal(t, "No content\n", out.stdout)

	_, err = run(t, path, nil, "get", "/issues", "-q", "broken")
	require.ErrorIs(t, err, commands.ErrInvalidQuery)
}

func TestGet_Errors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusNotFound)
		_, _ = writer.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer server.Close()

	empty := filepath.Join(t.TempDir(), "config.yml")

	_, err := run(t, empty, nil, "get", "/x")
	require.ErrorIs(t, err, constants.ErrNoBaseURL)

	_, err = run(t, empty, nil, "--base-url", server.URL, "get", "/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	conflicting := writeConfig(t, &commands.Config{
		Profiles: map[string]*commands.Profile{
			"default": {BaseURL: server.URL, Token: "ghp_x", AppID: 1, PrivateKeyPath: "/tmp/key.pem"},
		},
	})

	_, err = run(t, conflicting, nil, "get", "/x")
	require.ErrorIs(t, err, constants.ErrConflictingAuth)
}

func TestPaginate(t *testing.T) {
	t.Parallel()

	var server *httptest.Server

	server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Query().Get("page") == "2" {
			_, _ = writer.Write([]byte(`[{"id":3,"name":"c"}]`))

			return
		}

		assert.Equal(t, "2", request.URL.Query().Get("per_page"))
		writer.Header().Set("Link", `<`+server.URL+`/items?page=2>; rel="next"`)
		_, _ = writer.Write([]byte(`[{"id":1,"name":"a"},{"id":2}]`))
	}))
	defer server.Close()

	path := writeConfig(t, &commands.Config{
		Profiles: map[string]*commands.Profile{"default": {BaseURL: server.URL}},
	})

	out, err := run(t, path, nil, "paginate", "/items", "-q", "per_page=2", "--fields", "id,name")
	require.NoError(t, err)
	assert.Contains(t, out.stdout, "3 items")
	assert.Contains(t, out.stdout, constants.NotAvailable)

	out, err = run(t, path, nil, "paginate", "/items", "-q", "per_page=2", "--max-pages", "1")
	require.NoError(t, err)
	assert.Contains(t, out.stdout, "2 items")

	out, err = run(t, path, nil, "paginate", "/items", "-q", "per_page=2", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"name":"a"},{"id":2},{"id":3,"name":"c"}]`, out.stdout)
}

func TestRate(t *testing.T) {
	t.Parallel()

	reset := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/rate_limit", request.URL.Path)
		writer.Header().Set("X-RateLimit-Remaining", "0")
		writer.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		writer.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "config.yml")

	out, err := run(t, path, nil, "--base-url", server.URL, "rate", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"remaining":0,"reset_at":"2030-01-02T03:04:05Z","exhausted":true}`, out.stdout)

	out, err = run(t, path, nil, "--base-url", server.URL, "rate")
	require.NoError(t, err)
	assert.Contains(t, out.stdout, "2030-01-02T03:04:05Z")
}

func TestConfigCommands(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yml")

	_, err := run(t, path, nil, "config", "set", "base_url", "https://api.example.com")
	require.NoError(t, err)

	_, err = run(t, path, nil, "config", "set", "token", "ghp_secret")
	require.NoError(t, err)

	_, err = run(t, path, nil, "-p", "work", "config", "set", "app_id", "42")
	require.NoError(t, err)

	_, err = run(t, path, nil, "config", "set", "app_id", "forty-two")
	require.Error(t, err)

	_, err = run(t, path, nil, "config", "set", "nope", "x")
	require.ErrorIs(t, err, commands.ErrUnknownConfigKey)

	_, err = run(t, path, nil, "config", "use", "missing")
	require.ErrorIs(t, err, commands.ErrProfileNotFound)

	out, err := run(t, path, nil, "config", "use", "work")
	require.NoError(t, err)
	assert.Contains(t, out.stdout, "Switched to profile work")

	config := readConfig(t, path)
	assert.Equal(t, "work", config.CurrentProfile)
	assert.Equal(t, "ghp_secret", config.Profiles["default"].Token)
	assert.Equal(t, int64(42), config.Profiles["work"].AppID)

	out, err = run(t, path, nil, "config", "show", "-o", "json")
	require.NoError(t, err)
	assert.NotContains(t, out.stdout, "ghp_secret")
	assert.Contains(t, out.stdout, constants.MaskedSecret)

	out, err = run(t, path, nil, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out.stdout, "https://api.example.com")
}

func TestTokenSet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yml")

	out, err := run(t, path, strings.NewReader("ghp_from_stdin\n"), "--base-url", "https://api.example.com", "token", "set")
	require.NoError(t, err)
	assert.Contains(t, out.stdout, "ghp_****")
	assert.NotContains(t, out.stdout, "ghp_from_stdin")

	config := readConfig(t, path)
	assert.Equal(t, "ghp_from_stdin", config.Profiles["default"].Token)
	assert.Equal(t, "https://api.example.com", config.Profiles["default"].BaseURL)

	_, err = run(t, path, strings.NewReader("\n"), "token", "set")
	require.ErrorIs(t, err, constants.ErrNoCredential)
}

func TestTokenRefresh_Installation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodPost, request.Method)
		assert.Equal(t, "/app/installations/7/access_tokens", request.URL.Path)
		assert.True(t, strings.HasPrefix(request.Header.Get("Authorization"), "Bearer "))

		writer.WriteHeader(http.StatusCreated)
		_, _ = writer.Write([]byte(`{"token":"ghs_issued","expires_at":"2030-01-01T00:00:00Z","repository_selection":"all"}`))
	}))
	defer server.Close()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "app.pem")
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))

	path := writeConfig(t, &commands.Config{
		Profiles: map[string]*commands.Profile{
			"default": {BaseURL: server.URL, AppID: 1, InstallationID: 7, PrivateKeyPath: keyPath},
			"app":     {BaseURL: server.URL, AppID: 1, PrivateKeyPath: keyPath},
		},
	})

	out, err := run(t, path, nil, "token", "refresh", "-o", "json")
	require.NoError(t, err)

	var info commands.TokenInfo
	require.NoError(t, json.Unmarshal([]byte(out.stdout), &info))
	assert.Equal(t, "installation", info.Kind)
	assert.NotContains(t, info.Token, "ghs_issued")
	assert.Equal(t, "all", info.RepositorySelection)
	require.NotNil(t, info.ExpiresAt)
	assert.Equal(t, 2030, info.ExpiresAt.Year())

	_, err = run(t, path, nil, "-p", "app", "token", "refresh")
	require.ErrorIs(t, err, constants.ErrNoInstallationID)
}

func TestTokenRefresh_OAuth(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.NoError(t, request.ParseForm())
		assert.Equal(t, "refresh_token", request.PostForm.Get("grant_type"))
		assert.Equal(t, "ghr_old", request.PostForm.Get("refresh_token"))

		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"access_token":"ghu_new","refresh_token":"ghr_new","token_type":"bearer","expires_in":28800}`))
	}))
	defer tokenServer.Close()

	path := writeConfig(t, &commands.Config{
		Profiles: map[string]*commands.Profile{
			"default": {
				BaseURL:      "https://api.example.com",
				Token:        "ghu_old",
				RefreshToken: "ghr_old",
				ClientID:     "Iv1.client",
				ClientSecret: "shh",
				TokenURL:     tokenServer.URL,
			},
			"static": {BaseURL: "https://api.example.com", Token: "ghp_static"},
			"empty":  {BaseURL: "https://api.example.com"},
		},
	})

	out, err := run(t, path, nil, "token", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out.stdout, "oauth")

	profile := readConfig(t, path).Profiles["default"]
	assert.Equal(t, "ghu_new", profile.Token)
	assert.Equal(t, "ghr_new", profile.RefreshToken)
	require.NotNil(t, profile.TokenExpiresAt)
	assert.WithinDuration(t, time.Now().Add(8*time.Hour), *profile.TokenExpiresAt, time.Minute)
	assert.NotNil(t, profile.LastRefreshed)

	_, err = run(t, path, nil, "-p", "static", "token", "refresh")
	require.ErrorIs(t, err, constants.ErrNoRefreshToken)

	_, err = run(t, path, nil, "-p", "empty", "token", "refresh")
	require.ErrorIs(t, err, constants.ErrNoCredential)
}

var consentPattern = regexp.MustCompile(`https://auth\.example\.com/authorize\?\S+`)

// redirectReader answers the redirect prompt with a callback URL carrying
// the state printed in the consent URL.
type redirectReader struct {
	output *bytes.Buffer
	code   string
	data   io.Reader
}

func (r *redirectReader) Read(p []byte) (int, error) {
	if r.data == nil {
		consent, err := url.Parse(consentPattern.FindString(r.output.String()))
		if err != nil {
			return 0, err
		}

		callback := "http://localhost:8976/callback?code=" + r.code + "&state=" + consent.Query().Get("state")
		r.data = strings.NewReader(callback + "\n")
	}

	return r.data.Read(p)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.NoError(t, request.ParseForm())
		assert.Equal(t, "authorization_code", request.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", request.PostForm.Get("code"))

		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"access_token":"ghu_login","refresh_token":"ghr_login","token_type":"bearer","expires_in":28800}`))
	}))
	defer tokenServer.Close()

	path := filepath.Join(t.TempDir(), "config.yml")

	var stdout, stderr bytes.Buffer

	root := commands.NewRootCommand(commands.VersionInfo{})
	root.SetArgs([]string{
		"--config", path, "--env-file=", "--base-url", "https://api.example.com",
		"login", "--client-id", "Iv1.client", "--client-secret", "shh",
		"--auth-url", "https://auth.example.com/authorize", "--token-url", tokenServer.URL,
		"--scope", "repo",
	})
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(&redirectReader{output: &stdout, code: "the-code"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, stdout.String(), "scope=repo")
	assert.Contains(t, stdout.String(), "Logged in on profile default")

	config := readConfig(t, path)
	assert.Equal(t, "default", config.CurrentProfile)

	profile := config.Profiles["default"]
	require.NotNil(t, profile)
	assert.Equal(t, "https://api.example.com", profile.BaseURL)
	assert.Equal(t, "ghu_login", profile.Token)
	assert.Equal(t, "ghr_login", profile.RefreshToken)
	assert.Equal(t, "Iv1.client", profile.ClientID)
	assert.Equal(t, tokenServer.URL, profile.TokenURL)
	require.NotNil(t, profile.TokenExpiresAt)
}

func TestLogin_RedirectWithoutCode(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yml")

	_, err := run(t, path, strings.NewReader("http://localhost:8976/callback?error=access_denied\n"),
		"login", "--client-id", "Iv1.client", "--client-secret", "shh")
	require.ErrorIs(t, err, commands.ErrNoRedirect)
}
