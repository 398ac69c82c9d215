package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/fivetwenty-io/restclient/internal/auth"
	"github.com/fivetwenty-io/restclient/internal/constants"
	"github.com/fivetwenty-io/restclient/pkg/apiclient"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

// TokenInfo describes a freshly issued token without revealing it.
type TokenInfo struct {
	Kind                string     `json:"kind"                           yaml:"kind"`
	Token               string     `json:"token"                          yaml:"token"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"           yaml:"expires_at,omitempty"`
	RepositorySelection string     `json:"repository_selection,omitempty" yaml:"repository_selection,omitempty"`
}

func newTokenCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
	}

	cmd.AddCommand(newTokenRefreshCommand(v))
	cmd.AddCommand(newTokenSetCommand(v))

	return cmd
}

func newTokenRefreshCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a new access token",
		Long: `Issue a new installation token for app profiles, or renew the OAuth
access token of profiles created with 'restcli login'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, profile, err := activeProfile(v)
			if err != nil {
				return err
			}

			var info *TokenInfo

			switch {
			case profile.AppID != 0:
				info, err = refreshInstallation(cmd, v, profile)
			case profile.isOAuth():
				info, err = refreshOAuth(cmd, v, name, profile)
			case profile.Token != "":
				err = constants.ErrNoRefreshToken
			default:
				err = constants.ErrNoCredential
			}

			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), outputFormat(v, nil), info, func(out io.Writer) error {
				return tokenTable(out, info)
			})
		},
	}
}

func refreshInstallation(cmd *cobra.Command, v *viper.Viper, profile *Profile) (*TokenInfo, error) {
	if profile.InstallationID == 0 {
		return nil, constants.ErrNoInstallationID
	}

	client, err := newClient(v, profile, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	issued, err := client.RefreshInstallationToken(cmd.Context())
	if err != nil {
		return nil, err //nolint:wrapcheck // TokenRefreshError carries the context
	}

	expiresAt := issued.ExpiresAt

	return &TokenInfo{
		Kind:                "installation",
		Token:               restapi.BearerToken{Token: issued.Token}.Masked(),
		ExpiresAt:           &expiresAt,
		RepositorySelection: issued.RepositorySelection,
	}, nil
}

// refreshOAuth renews the profile's access token. The new token is written
// back to the config file by the persister.
func refreshOAuth(cmd *cobra.Command, v *viper.Viper, name string, profile *Profile) (*TokenInfo, error) {
	tokenURL := profile.TokenURL
	if tokenURL == "" {
		tokenURL = apiclient.DefaultTokenURL
	}

	var initialExpiry time.Time
	if profile.TokenExpiresAt != nil {
		initialExpiry = *profile.TokenExpiresAt
	}

	manager := auth.NewConfigTokenManager(&auth.OAuth2Config{
		TokenURL:     tokenURL,
		ClientID:     profile.ClientID,
		ClientSecret: profile.ClientSecret,
		RefreshToken: profile.RefreshToken,
		AccessToken:  profile.Token,
	}, NewConfigPersister(v), name, initialExpiry, newLogger(v, cmd.ErrOrStderr()))

	err := manager.RefreshToken(cmd.Context())
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped by the manager
	}

	info := &TokenInfo{
		Kind:  "oauth",
		Token: restapi.BearerToken{Token: manager.Manager().Token().AccessToken}.Masked(),
	}

	if expiry := manager.GetTokenExpiry(); !expiry.IsZero() {
		info.ExpiresAt = &expiry
	}

	return info, nil
}

func newTokenSetCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Store a static token on the active profile",
		Long:  "Prompt for a token without echoing it and store it on the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readSecret(cmd, bufio.NewReader(cmd.InOrStdin()), "Token: ")
			if err != nil {
				return err
			}

			if token == "" {
				return constants.ErrNoCredential
			}

			config, err := loadConfig(v)
			if err != nil {
				return err
			}

			name := profileName(v, config)

			profile, ok := config.Profiles[name]
			if !ok {
				profile = &Profile{BaseURL: v.GetString("base_url")}
				config.Profiles[name] = profile
			}

			profile.Token = token
			profile.RefreshToken = ""
			profile.TokenExpiresAt = nil

			err = saveConfig(v, config)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored token %s on profile %s\n",
				restapi.BearerToken{Token: token}.Masked(), name)

			return nil
		},
	}
}

// readSecret reads a line without echo when stdin is a terminal, otherwise
// from input.
func readSecret(cmd *cobra.Command, input *bufio.Reader, prompt string) (string, error) {
	_, _ = fmt.Fprint(cmd.ErrOrStderr(), prompt)

	if cmd.InOrStdin() == os.Stdin && term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // fd fits in int
		secret, err := term.ReadPassword(int(os.Stdin.Fd())) //nolint:gosec // fd fits in int
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())

		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}

		return strings.TrimSpace(string(secret)), nil
	}

	return readLine(input)
}

func readLine(input *bufio.Reader) (string, error) {
	line, err := input.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	return strings.TrimSpace(line), nil
}

func tokenTable(out io.Writer, info *TokenInfo) error {
	expires := constants.NotAvailable
	if info.ExpiresAt != nil {
		expires = info.ExpiresAt.Format(time.RFC3339)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Property", "Value")
	_ = table.Append("Kind", info.Kind)
	_ = table.Append("Token", info.Token)
	_ = table.Append("Expires At", expires)

	if info.RepositorySelection != "" {
		_ = table.Append("Repository Selection", info.RepositorySelection)
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}
