package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/restclient/internal/constants"
)

// outputFormat returns the --output flag, the configured default, or table.
func outputFormat(v *viper.Viper, config *Config) string {
	if format := v.GetString("output"); format != "" {
		return format
	}

	if config != nil && config.Output != "" {
		return config.Output
	}

	return constants.FormatTable
}

// render writes value as JSON or YAML, or calls table for the table format.
func render(out io.Writer, format string, value interface{}, table func(io.Writer) error) error {
	switch strings.ToLower(format) {
	case constants.FormatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", strings.Repeat(" ", constants.JSONIndentSize))

		return encoder.Encode(value)
	case constants.FormatYAML:
		encoder := yaml.NewEncoder(out)
		defer func() { _ = encoder.Close() }()

		return encoder.Encode(value)
	case constants.FormatTable:
		return table(out)
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnsupportedFormat, format)
	}
}

// cell formats a decoded JSON value for a table column.
func cell(value interface{}) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(typed)
		if err != nil {
			return constants.NotAvailable
		}

		return string(data)
	default:
		return fmt.Sprint(typed)
	}
}
