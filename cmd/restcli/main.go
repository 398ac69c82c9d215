package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fivetwenty-io/restclient/cmd/restcli/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := commands.NewRootCommand(commands.VersionInfo{
		Version: version,
		Commit:  commit,
		Built:   date,
	})

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already called
	}
}
