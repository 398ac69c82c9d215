package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/fivetwenty-io/restclient/internal/constants"
	"github.com/fivetwenty-io/restclient/pkg/apiclient"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

const defaultUserAgent = "restcli"

// newLogger returns a console logger on errOut. Verbose output enables debug
// level, which also turns on request logging in the client.
func newLogger(v *viper.Viper, errOut io.Writer) restapi.Logger {
	level := zerolog.WarnLevel
	if v.GetBool("verbose") {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: errOut, NoColor: v.GetBool("no_color")}).
		Level(level).
		With().
		Timestamp().
		Logger()

	return restapi.NewZerologLogger(logger)
}

// newClient builds an API client for profile.
func newClient(v *viper.Viper, profile *Profile, errOut io.Writer) (*apiclient.Client, error) {
	credential, err := credentialFor(profile)
	if err != nil {
		return nil, err
	}

	userAgent := profile.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return apiclient.New(&restapi.Config{ //nolint:wrapcheck // apiclient errors are descriptive
		BaseURL:     profile.BaseURL,
		UserAgent:   userAgent,
		Credential:  credential,
		Cache:       profile.Cache,
		HTTPTimeout: constants.DefaultHTTPTimeout,
		RetryMax:    v.GetInt("retries"),
		Debug:       v.GetBool("verbose"),
		Logger:      newLogger(v, errOut),
	})
}

// credentialFor picks the single credential a profile describes. A profile
// without any credential yields nil, which sends unauthenticated requests.
func credentialFor(profile *Profile) (restapi.Credential, error) {
	if profile.AppID != 0 && profile.Token != "" {
		return nil, constants.ErrConflictingAuth
	}

	switch {
	case profile.AppID != 0:
		return appCredential(profile)
	case profile.Token != "" && profile.isOAuth():
		return restapi.BearerToken{Token: profile.Token, Scheme: constants.SchemeBearer}, nil
	case profile.Token != "":
		return restapi.BearerToken{Token: profile.Token}, nil
	case profile.ClientID != "" && profile.ClientSecret != "":
		return restapi.BasicKeyPair{ClientID: profile.ClientID, ClientSecret: profile.ClientSecret}, nil
	default:
		return nil, nil //nolint:nilnil // unauthenticated
	}
}

// appCredential signs assertions with the profile's private key. With an
// installation id the assertion backs a delegated access token.
func appCredential(profile *Profile) (restapi.Credential, error) {
	if profile.PrivateKeyPath == "" {
		return nil, constants.ErrNoPrivateKey
	}

	keyPEM, err := readKeyFile(profile.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	assertion, err := restapi.NewSignedAssertion(profile.AppID, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("loading private key: %w", err)
	}

	if profile.InstallationID == 0 {
		return assertion, nil
	}

	return restapi.NewDelegatedAccessToken(profile.InstallationID, assertion), nil
}

// readKeyFile reads a private key after checking the path is clean and names
// a regular file.
func readKeyFile(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)

	if filepath.IsAbs(path) {
		if cleanPath != path {
			return nil, constants.ErrDirectoryTraversalDetected
		}
	} else if strings.HasPrefix(cleanPath, "..") {
		return nil, constants.ErrDirectoryTraversalDetected
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("private key not accessible: %w", err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", cleanPath, constants.ErrNotRegularFile)
	}

	// cleanPath has been validated above
	// #nosec G304
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	return data, nil
}
