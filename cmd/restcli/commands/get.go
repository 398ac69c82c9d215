package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fivetwenty-io/restclient/internal/constants"
	"github.com/fivetwenty-io/restclient/pkg/apiclient"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

type requestFlags struct {
	preview string
	asApp   bool
	query   []string
	headers []string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.preview, "preview", "", "request a preview media type, e.g. machine-man")
	cmd.Flags().BoolVar(&f.asApp, "app", false, "authenticate as the app rather than the installation")
	cmd.Flags().StringArrayVarP(&f.query, "query", "q", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "request header as key:value (repeatable)")
}

func (f *requestFlags) options() ([]apiclient.CallOption, error) {
	var opts []apiclient.CallOption

	if f.preview != "" {
		opts = append(opts, apiclient.WithMediaType(restapi.Preview(f.preview)))
	}

	if f.asApp {
		opts = append(opts, apiclient.WithAuth(restapi.AssertionOnly))
	}

	if len(f.query) > 0 {
		values := url.Values{}

		for _, pair := range f.query {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("%w: %q, expected key=value", ErrInvalidQuery, pair)
			}

			values.Add(key, value)
		}

		opts = append(opts, apiclient.WithQuery(values))
	}

	for _, header := range f.headers {
		key, value, ok := strings.Cut(header, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q, expected key:value", ErrInvalidHeader, header)
		}

		opts = append(opts, apiclient.WithHeader(strings.TrimSpace(key), strings.TrimSpace(value)))
	}

	return opts, nil
}

func newGetCommand(v *viper.Viper) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "get PATH",
		Short: "Fetch a resource",
		Long:  "Fetch PATH relative to the profile's base URL and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, profile, err := activeProfile(v)
			if err != nil {
				return err
			}

			client, err := newClient(v, profile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			opts, err := flags.options()
			if err != nil {
				return err
			}

			body, err := apiclient.Get[json.RawMessage](cmd.Context(), client, args[0], opts...)
			if err != nil {
				return err
			}

			if body == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No content")

				return nil
			}

			value, err := decodeJSON(*body)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), outputFormat(v, nil), value, func(out io.Writer) error {
				return valueTable(out, value)
			})
		},
	}

	flags.register(cmd)

	return cmd
}

func newPaginateCommand(v *viper.Viper) *cobra.Command {
	var (
		flags    requestFlags
		fields   []string
		maxPages int
	)

	cmd := &cobra.Command{
		Use:   "paginate PATH",
		Short: "Fetch every page of a collection",
		Long:  "Follow Link continuation headers from PATH and print the combined items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, profile, err := activeProfile(v)
			if err != nil {
				return err
			}

			client, err := newClient(v, profile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			opts, err := flags.options()
			if err != nil {
				return err
			}

			var raw []json.RawMessage
			if maxPages > 0 {
				raw, err = firstPages(cmd, client, args[0], maxPages, opts)
			} else {
				raw, err = apiclient.GetAllPages[json.RawMessage](cmd.Context(), client, args[0], opts...)
			}

			if err != nil {
				return err
			}

			items := make([]interface{}, 0, len(raw))

			for _, item := range raw {
				value, err := decodeJSON(item)
				if err != nil {
					return err
				}

				items = append(items, value)
			}

			return render(cmd.OutOrStdout(), outputFormat(v, nil), items, func(out io.Writer) error {
				return itemsTable(out, items, fields)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringSliceVar(&fields, "fields", []string{"id"}, "fields shown in table output")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages (0 fetches all)")

	return cmd
}

func firstPages(
	cmd *cobra.Command,
	client *apiclient.Client,
	path string,
	maxPages int,
	opts []apiclient.CallOption,
) ([]json.RawMessage, error) {
	iterator := apiclient.Pages[json.RawMessage](client, path, opts...)

	var all []json.RawMessage

	for page := 0; page < maxPages && !iterator.Done(); page++ {
		items, err := iterator.Next(cmd.Context())
		if err != nil {
			return nil, err //nolint:wrapcheck // pipeline errors are descriptive
		}

		all = append(all, items...)
	}

	return all, nil
}

// decodeJSON keeps numbers as json.Number so large ids print verbatim.
func decodeJSON(data []byte) (interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var value interface{}

	err := decoder.Decode(&value)
	if err != nil {
		return nil, &restapi.DecodeError{Err: err}
	}

	return value, nil
}

func valueTable(out io.Writer, value interface{}) error {
	object, ok := value.(map[string]interface{})
	if !ok {
		if list, isList := value.([]interface{}); isList {
			return itemsTable(out, list, []string{"id"})
		}

		_, err := fmt.Fprintln(out, cell(value))

		return err //nolint:wrapcheck // plain write
	}

	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")

	for _, key := range keys {
		_ = table.Append(key, cell(object[key]))
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

func itemsTable(out io.Writer, items []interface{}, fields []string) error {
	table := tablewriter.NewWriter(out)

	header := make([]interface{}, 0, len(fields))
	for _, field := range fields {
		header = append(header, strings.ToUpper(field))
	}

	table.Header(header...)

	for _, item := range items {
		object, _ := item.(map[string]interface{})

		row := make([]string, 0, len(fields))
		for _, field := range fields {
			value, ok := object[field]
			if !ok {
				row = append(row, constants.NotAvailable)

				continue
			}

			row = append(row, cell(value))
		}

		_ = table.Append(row)
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	_, _ = fmt.Fprintf(out, "%d items\n", len(items))

	return nil
}
