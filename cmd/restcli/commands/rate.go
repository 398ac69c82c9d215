package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fivetwenty-io/restclient/internal/constants"
	"github.com/fivetwenty-io/restclient/pkg/apiclient"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

// RateInfo is the rate-limit state printed by the rate command.
type RateInfo struct {
	Remaining *uint64    `json:"remaining,omitempty" yaml:"remaining,omitempty"`
	ResetAt   *time.Time `json:"reset_at,omitempty"  yaml:"reset_at,omitempty"`
	Exhausted bool       `json:"exhausted"           yaml:"exhausted"`
}

func newRateCommand(v *viper.Viper) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Show the current rate-limit state",
		Long:  "Call a cheap endpoint and report the rate-limit headers of its response",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, profile, err := activeProfile(v)
			if err != nil {
				return err
			}

			client, err := newClient(v, profile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			_, err = apiclient.Get[json.RawMessage](cmd.Context(), client, path)
			if _, limited := restapi.IsRateLimited(err); err != nil && !limited {
				return err
			}

			state, observed := client.RateState()

			info := RateInfo{Remaining: state.Remaining, Exhausted: state.Exhausted()}
			if observed && state.ResetAt != nil {
				resetAt := time.Unix(int64(*state.ResetAt), 0).UTC() //nolint:gosec // epoch seconds fit
				info.ResetAt = &resetAt
			}

			return render(cmd.OutOrStdout(), outputFormat(v, nil), info, func(out io.Writer) error {
				return rateTable(out, info)
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "/rate_limit", "endpoint used to read rate-limit headers")

	return cmd
}

func rateTable(out io.Writer, info RateInfo) error {
	remaining := constants.NotAvailable
	if info.Remaining != nil {
		remaining = strconv.FormatUint(*info.Remaining, 10)
	}

	resetAt := constants.NotAvailable
	if info.ResetAt != nil {
		resetAt = info.ResetAt.Format(time.RFC3339)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Property", "Value")
	_ = table.Append("Remaining", remaining)
	_ = table.Append("Resets At", resetAt)
	_ = table.Append("Exhausted", strconv.FormatBool(info.Exhausted))

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}
