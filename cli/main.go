package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowmesh",
		Short: "A declarative streaming pipeline runtime",
	}

	cmd.AddCommand(newRunCmd(logger))
	cmd.AddCommand(newDotCmd())

	return cmd
}
