package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mdbridge/internal/bridge"
	"mdbridge/internal/monitor"
)

func main() {
	root := &cobra.Command{
		Use:           "mdbridge",
		Short:         "ML-potential bridge utilities: standalone driver and deviation log tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		lvl := zerolog.InfoLevel
		if f := cmd.InheritedFlags().Lookup("log-level"); f != nil {
			if p, err := zerolog.ParseLevel(f.Value.String()); err == nil {
				lvl = p
			}
		}
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
		bridge.SetLogger(logger)
		monitor.SetLogger(logger)
	}

	root.AddCommand(newRunCmd(), newDeviCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
