package main

import (
	"fmt"
	"os"

	"github.com/forrest/flowmesh/config"
	"github.com/forrest/flowmesh/visualization"
	"github.com/spf13/cobra"
)

func newDotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dot <topology-file>",
		Short: "Render a topology document's inter-pipeline DAG as Graphviz DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening topology document: %w", err)
			}
			defer f.Close()

			topology, err := config.Load(f)
			if err != nil {
				return fmt.Errorf("loading topology: %w", err)
			}

			fmt.Println(visualization.ToDOT(topology))
			return nil
		},
	}
}
