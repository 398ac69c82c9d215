package commands

import (
	"bufio"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fivetwenty-io/restclient/pkg/apiclient"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

const defaultRedirectURL = "http://localhost:8976/callback"

type loginFlags struct {
	clientID     string
	clientSecret string
	authURL      string
	tokenURL     string
	redirectURL  string
	scopes       []string
}

// newLoginCommand creates the login command.
func newLoginCommand(v *viper.Viper) *cobra.Command {
	var flags loginFlags

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize restcli as a user through OAuth",
		Long: `Print the consent URL of an OAuth app, then exchange the code from the
redirect for an access token. The token and its refresh token are stored on
the active profile and renewed with 'restcli token refresh'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(v)
			if err != nil {
				return err
			}

			name := profileName(v, config)

			profile, ok := config.Profiles[name]
			if !ok {
				profile = &Profile{}
				config.Profiles[name] = profile
			}

			if baseURL := v.GetString("base_url"); baseURL != "" {
				profile.BaseURL = baseURL
			}

			input := bufio.NewReader(cmd.InOrStdin())

			err = flags.complete(cmd, input, profile)
			if err != nil {
				return err
			}

			client, err := apiclient.New(&restapi.Config{
				BaseURL:   profile.BaseURL,
				UserAgent: defaultUserAgent,
				Logger:    newLogger(v, cmd.ErrOrStderr()),
			})
			if err != nil {
				return err //nolint:wrapcheck // apiclient errors are descriptive
			}

			oauthClient, err := apiclient.NewOAuthClient(client, &apiclient.OAuthConfig{
				ClientID:     profile.ClientID,
				ClientSecret: profile.ClientSecret,
				RedirectURL:  flags.redirectURL,
				AuthURL:      profile.AuthURL,
				TokenURL:     profile.TokenURL,
			})
			if err != nil {
				return err //nolint:wrapcheck // apiclient errors are descriptive
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in your browser:\n\n  %s\n\n",
				oauthClient.UserConsentURL(flags.scopes...))
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Paste the URL you were redirected to: ")

			redirect, err := readLine(input)
			if err != nil {
				return err
			}

			code, state, err := parseRedirect(redirect)
			if err != nil {
				return err
			}

			token, err := oauthClient.GetAccessToken(cmd.Context(), code, state)
			if err != nil {
				return err //nolint:wrapcheck // apiclient errors are descriptive
			}

			if config.CurrentProfile == "" {
				config.CurrentProfile = name
			}

			err = saveConfig(v, config)
			if err != nil {
				return err
			}

			err = NewConfigPersister(v).UpdateProfileToken(name, token)
			if err != nil {
				return err
			}

			expires := "never"
			if !token.ExpiresAt.IsZero() {
				expires = token.ExpiresAt.Format(time.RFC3339)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in on profile %s, token expires %s\n", name, expires)

			return nil
		},
	}

	cmd.Flags().StringVar(&flags.clientID, "client-id", "", "OAuth app client id")
	cmd.Flags().StringVar(&flags.clientSecret, "client-secret", "", "OAuth app client secret (prompted when omitted)")
	cmd.Flags().StringVar(&flags.authURL, "auth-url", "", "consent page URL")
	cmd.Flags().StringVar(&flags.tokenURL, "token-url", "", "token endpoint URL")
	cmd.Flags().StringVar(&flags.redirectURL, "redirect-url", defaultRedirectURL, "redirect URL registered for the app")
	cmd.Flags().StringSliceVar(&flags.scopes, "scope", nil, "scopes to request")

	return cmd
}

// complete fills the profile's OAuth app settings from flags, falling back
// to stored values and finally to prompts.
func (f *loginFlags) complete(cmd *cobra.Command, input *bufio.Reader, profile *Profile) error {
	if f.clientID != "" {
		profile.ClientID = f.clientID
	}

	if f.clientSecret != "" {
		profile.ClientSecret = f.clientSecret
	}

	if f.authURL != "" {
		profile.AuthURL = f.authURL
	}

	if f.tokenURL != "" {
		profile.TokenURL = f.tokenURL
	}

	if profile.ClientID == "" {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Client ID: ")

		clientID, err := readLine(input)
		if err != nil {
			return err
		}

		profile.ClientID = clientID
	}

	if profile.ClientSecret == "" {
		secret, err := readSecret(cmd, input, "Client Secret: ")
		if err != nil {
			return err
		}

		profile.ClientSecret = secret
	}

	return nil
}

func parseRedirect(redirect string) (string, string, error) {
	parsed, err := url.Parse(redirect)
	if err != nil {
		return "", "", fmt.Errorf("invalid redirect URL: %w", err)
	}

	query := parsed.Query()

	code := query.Get("code")
	if code == "" {
		return "", "", ErrNoRedirect
	}

	return code, query.Get("state"), nil
}
