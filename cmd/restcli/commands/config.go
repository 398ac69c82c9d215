package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/restclient/internal/constants"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

const defaultProfile = "default"

// Static errors for err113 compliance.
var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrUnknownConfigKey = errors.New("unknown config key")
	ErrInvalidQuery     = errors.New("invalid query parameter")
	ErrInvalidHeader    = errors.New("invalid header")
	ErrNoRedirect       = errors.New("redirect URL carries no authorization code")
)

// Config is the on-disk CLI configuration.
type Config struct {
	CurrentProfile string              `json:"current_profile,omitempty" yaml:"current_profile,omitempty"`
	Output         string              `json:"output,omitempty"          yaml:"output,omitempty"`
	Profiles       map[string]*Profile `json:"profiles,omitempty"        yaml:"profiles,omitempty"`
}

// Profile holds connection and credential settings for one API.
type Profile struct {
	BaseURL   string `json:"base_url"             yaml:"base_url"`
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`

	// Token is a static or OAuth access token.
	Token          string     `json:"token,omitempty"            yaml:"token,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty" yaml:"token_expires_at,omitempty"`
	RefreshToken   string     `json:"refresh_token,omitempty"    yaml:"refresh_token,omitempty"`
	LastRefreshed  *time.Time `json:"last_refreshed,omitempty"   yaml:"last_refreshed,omitempty"`

	// ClientID and ClientSecret are a key pair, or the OAuth app used by login.
	ClientID     string `json:"client_id,omitempty"     yaml:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	AuthURL      string `json:"auth_url,omitempty"      yaml:"auth_url,omitempty"`
	TokenURL     string `json:"token_url,omitempty"     yaml:"token_url,omitempty"`

	AppID          int64  `json:"app_id,omitempty"           yaml:"app_id,omitempty"`
	InstallationID int64  `json:"installation_id,omitempty"  yaml:"installation_id,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty" yaml:"private_key_path,omitempty"`

	Cache *restapi.CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`
}

// isOAuth reports whether the token was obtained through login and can be
// renewed with the refresh token.
func (p *Profile) isOAuth() bool {
	return p.RefreshToken != "" && p.ClientID != "" && p.ClientSecret != ""
}

func (p *Profile) masked() *Profile {
	clone := *p
	if clone.Token != "" {
		clone.Token = constants.MaskedSecret
	}

	if clone.RefreshToken != "" {
		clone.RefreshToken = constants.MaskedSecret
	}

	if clone.ClientSecret != "" {
		clone.ClientSecret = constants.MaskedSecret
	}

	return &clone
}

func configPath(v *viper.Viper) (string, error) {
	if path := v.GetString("config"); path != "" {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".restcli", "config.yml"), nil
}

// loadConfig reads the config file. A missing file yields an empty config.
func loadConfig(v *viper.Viper) (*Config, error) {
	path, err := configPath(v)
	if err != nil {
		return nil, err
	}

	config := &Config{Profiles: map[string]*Profile{}}

	// path comes from the --config flag or the user's home directory
	// #nosec G304
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if config.Profiles == nil {
		config.Profiles = map[string]*Profile{}
	}

	return config, nil
}

func saveConfig(v *viper.Viper, config *Config) error {
	path, err := configPath(v)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(path), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// profileName returns the --profile flag, the current profile, or "default".
func profileName(v *viper.Viper, config *Config) string {
	if name := v.GetString("profile"); name != "" {
		return name
	}

	if config.CurrentProfile != "" {
		return config.CurrentProfile
	}

	return defaultProfile
}

// activeProfile returns the selected profile with flag and environment
// overrides applied. A profile missing from the file is built from the
// overrides alone.
func activeProfile(v *viper.Viper) (string, *Profile, error) {
	config, err := loadConfig(v)
	if err != nil {
		return "", nil, err
	}

	name := profileName(v, config)

	profile := &Profile{}
	if stored, ok := config.Profiles[name]; ok {
		copied := *stored
		profile = &copied
	}

	if baseURL := v.GetString("base_url"); baseURL != "" {
		profile.BaseURL = baseURL
	}

	if token := v.GetString("token"); token != "" {
		profile.Token = token
	}

	if userAgent := v.GetString("user_agent"); userAgent != "" {
		profile.UserAgent = userAgent
	}

	if profile.BaseURL == "" {
		return "", nil, constants.ErrNoBaseURL
	}

	return name, profile, nil
}

func newConfigCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Show and edit restcli profiles",
	}

	cmd.AddCommand(newConfigShowCommand(v))
	cmd.AddCommand(newConfigSetCommand(v))
	cmd.AddCommand(newConfigUseCommand(v))

	return cmd
}

func newConfigShowCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show profiles with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(v)
			if err != nil {
				return err
			}

			masked := &Config{
				CurrentProfile: config.CurrentProfile,
				Output:         config.Output,
				Profiles:       make(map[string]*Profile, len(config.Profiles)),
			}
			for name, profile := range config.Profiles {
				masked.Profiles[name] = profile.masked()
			}

			return render(cmd.OutOrStdout(), outputFormat(v, config), masked, func(out io.Writer) error {
				return profilesTable(out, masked)
			})
		},
	}
}

func newConfigSetCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a value on the active profile",
		Args:  cobra.ExactArgs(2), //nolint:mnd // key and value
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

			err = setProfileValue(profile, args[0], args[1])
			if err != nil {
				return err
			}

			err = saveConfig(v, config)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s on profile %s\n", args[0], name)

			return nil
		},
	}
}

func newConfigUseCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "use PROFILE",
		Short: "Make a profile the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(v)
			if err != nil {
				return err
			}

			if _, ok := config.Profiles[args[0]]; !ok {
				return fmt.Errorf("%w: %s", ErrProfileNotFound, args[0])
			}

			config.CurrentProfile = args[0]

			err = saveConfig(v, config)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Switched to profile %s\n", args[0])

			return nil
		},
	}
}

func setProfileValue(profile *Profile, key, value string) error {
	handlers := map[string]func(string) error{
		"base_url":         assign(&profile.BaseURL),
		"user_agent":       assign(&profile.UserAgent),
		"token":            assign(&profile.Token),
		"client_id":        assign(&profile.ClientID),
		"client_secret":    assign(&profile.ClientSecret),
		"auth_url":         assign(&profile.AuthURL),
		"token_url":        assign(&profile.TokenURL),
		"private_key_path": assign(&profile.PrivateKeyPath),
		"app_id":           func(v string) error { return parseID(v, &profile.AppID) },
		"installation_id":  func(v string) error { return parseID(v, &profile.InstallationID) },
		"cache": func(v string) error {
			profile.Cache = &restapi.CacheConfig{Type: restapi.CacheType(v)}
			if profile.Cache.Type == restapi.CacheTypeMemory {
				profile.Cache = restapi.DefaultCacheConfig()
			}

			return nil
		},
	}

	handler, ok := handlers[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConfigKey, key)
	}

	return handler(value)
}

func assign(field *string) func(string) error {
	return func(value string) error {
		*field = value

		return nil
	}
}

func parseID(value string, target *int64) error {
	var id int64

	_, err := fmt.Sscan(value, &id)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", value, err)
	}

	*target = id

	return nil
}

func profilesTable(out io.Writer, config *Config) error {
	names := make([]string, 0, len(config.Profiles))
	for name := range config.Profiles {
		names = append(names, name)
	}

	sort.Strings(names)

	table := tablewriter.NewWriter(out)
	table.Header("Profile", "Base URL", "Auth", "Current")

	for _, name := range names {
		current := ""
		if name == config.CurrentProfile {
			current = "*"
		}

		_ = table.Append(name, config.Profiles[name].BaseURL, authKind(config.Profiles[name]), current)
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

func authKind(profile *Profile) string {
	switch {
	case profile.AppID != 0 && profile.InstallationID != 0:
		return "installation"
	case profile.AppID != 0:
		return "app"
	case profile.isOAuth():
		return "oauth"
	case profile.Token != "":
		return "token"
	case profile.ClientID != "":
		return "key pair"
	default:
		return constants.NotAvailable
	}
}
