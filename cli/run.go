package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/forrest/flowmesh/components"
	"github.com/forrest/flowmesh/config"
	"github.com/forrest/flowmesh/core"
	"github.com/forrest/flowmesh/execution"
	"github.com/forrest/flowmesh/peerstub"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	localPeerID       = "local"
	peerVirtualNodes  = 32
	peerMaxAttempts   = 3
	peerBaseBackoff   = 200 * time.Millisecond
	gracefulDrain     = 5 * time.Second
)

// newRunCmd wires config.Load -> core.TopologyValidator -> core.Builder
// -> execution.Runtime into a single command, per §6's "CLI surface: a
// single command taking the path to the topology document".
func newRunCmd(logger zerolog.Logger) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run <topology-file>",
		Short: "Run the pipelines declared in a topology document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopology(cmd.Context(), logger, args[0], metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	return cmd
}

func runTopology(ctx context.Context, logger zerolog.Logger, path, metricsAddr string) error {
	if metricsAddr != "" {
		core.StartMetricsServer(metricsAddr, logger)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening topology document: %w", err)
	}
	defer f.Close()

	topology, err := config.Load(f)
	if err != nil {
		return fmt.Errorf("loading topology: %w", err)
	}

	result, err := core.NewTopologyValidator().Validate(topology)
	if err != nil {
		return fmt.Errorf("validating topology: %w", err)
	}
	for _, warning := range result.Warnings {
		logger.Warn().Msg(warning)
	}

	cluster := peerstub.NewCluster()
	transport := cluster.Join(localPeerID)
	selector := core.NewConsistentHashRing(localPeerID, peerVirtualNodes, localPeerID)

	builder := core.NewBuilder(&core.BuildContext{
		Topology:        topology,
		Registry:        core.DefaultRegistry,
		Selector:        selector,
		Transport:       transport,
		PeerMaxAttempts: peerMaxAttempts,
		PeerBaseBackoff: peerBaseBackoff,
	})

	runnable, buildErrs := builder.Build(result.BuildOrder)
	for _, buildErr := range buildErrs {
		logger.Error().Err(buildErr).Msg("pipeline excluded from run")
	}
	if len(runnable) == 0 {
		return fmt.Errorf("no pipeline could be built")
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtimes := make([]*execution.Runtime, 0, len(runnable))
	errs := make(chan error, len(runnable))
	for _, name := range topology.Names() {
		pipeline, ok := runnable[name]
		if !ok {
			continue
		}
		rt := execution.NewRuntime(pipeline, logger, gracefulDrain)
		runtimes = append(runtimes, rt)
		go func() {
			errs <- rt.Start(runCtx)
		}()
	}

	<-runCtx.Done()
	logger.Info().Msg("shutdown signal received, stopping pipelines")

	stopCtx, cancel := context.WithTimeout(context.Background(), gracefulDrain+time.Second)
	defer cancel()
	for _, rt := range runtimes {
		if err := rt.Stop(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("pipeline stop did not complete cleanly")
		}
	}

	for range runtimes {
		if err := <-errs; err != nil {
			logger.Error().Err(err).Msg("pipeline terminated with error")
		}
	}
	return nil
}
