package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand creates the restcli command tree. Settings are read from
// flags, RESTCLI_* environment variables (optionally loaded from an env
// file) and the YAML config file, in that order of precedence.
func NewRootCommand(info VersionInfo) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "restcli",
		Short: "Call REST APIs through the restclient pipeline",
		Long: `A command-line interface for REST APIs that authenticate with static
tokens, key pairs, app installations or OAuth user tokens.

Responses are cached with ETag revalidation when the profile enables a cache,
and paginated collections are followed through their Link headers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(v.GetString("env_file"))
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.restcli/config.yml)")
	flags.StringP("profile", "p", "", "profile to use")
	flags.String("base-url", "", "API base URL")
	flags.StringP("token", "t", "", "static access token")
	flags.String("user-agent", "", "User-Agent header")
	flags.StringP("output", "o", "", "output format (table, json, yaml)")
	flags.Int("retries", 0, "retries for 429 and 5xx responses")
	flags.String("env-file", ".env", "dotenv file with RESTCLI_* variables")
	flags.BoolP("verbose", "v", false, "log requests and responses")
	flags.Bool("no-color", false, "disable colored log output")

	for _, name := range []string{
		"config", "profile", "base-url", "token", "user-agent", "output",
		"retries", "env-file", "verbose", "no-color",
	} {
		_ = v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}

	v.SetEnvPrefix("RESTCLI")
	v.AutomaticEnv()

	cmd.AddCommand(newVersionCommand(v, info))
	cmd.AddCommand(newConfigCommand(v))
	cmd.AddCommand(newGetCommand(v))
	cmd.AddCommand(newPaginateCommand(v))
	cmd.AddCommand(newRateCommand(v))
	cmd.AddCommand(newTokenCommand(v))
	cmd.AddCommand(newLoginCommand(v))

	return cmd
}

// loadEnvFile loads RESTCLI_* variables from path. A missing file is not an
// error; variables already set in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}

	return nil
}
