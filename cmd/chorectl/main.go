package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	serverFlag string
	rootCmd    = &cobra.Command{
		Use:           "chorectl",
		Short:         "Offline-first command line client for the chore server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "", "Chore server base URL (overrides CHORECTL_SERVER_URL)")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
