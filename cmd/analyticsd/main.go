package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"tick-analytics/config"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:          "analyticsd",
		Short:        "NSE tick analytics engine",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			*cfg = *config.Load()
		},
	}

	root.AddCommand(newServeCmd(cfg))
	root.AddCommand(newProfilesCmd(cfg))
	root.AddCommand(newLatestCmd(cfg))
	root.AddCommand(newIVCmd(cfg))
	root.AddCommand(newSimulateCmd(cfg))
	return root
}
