// Package daemon assembles the relay system from configuration and runs it.
package daemon

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/modlnet/modl/internal/api"
	"github.com/modlnet/modl/internal/config"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/metrics"
	"github.com/modlnet/modl/internal/util"
)

const shutdownTimeout = 10 * time.Second

// RunOptions tune Run.
type RunOptions struct {
	// ConfigPath is watched for log level and rate limit changes when set.
	ConfigPath string
	// SnapshotPath receives a ledger summary on shutdown when set.
	SnapshotPath string
	// LogOutput defaults to stderr.
	LogOutput io.Writer
	// Ready is called once the node is built and the API is listening.
	// apiAddr is empty when the API is disabled.
	Ready func(n *Node, apiAddr string)
}

// Run builds a node from cfg and serves it until ctx is done.
func Run(ctx context.Context, cfg *config.Config, opts RunOptions) error {
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	if err := logging.Configure(out, cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	node, err := NewNode(cfg)
	if err != nil {
		return err
	}
	defer node.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	pc := metrics.NewPrometheusCollector(metrics.NewCollector())
	watchBalances(pc, node)
	wg.Add(1)
	util.SafeGoWithName("metrics-events", func() {
		defer wg.Done()
		if err := pc.Run(ctx, node.State()); err != nil {
			logging.Warn("metrics event feed ended", logging.Err(err), logging.Component("daemon"))
		}
	})

	var srv *api.Server
	var apiAddr string
	if cfg.API.Enabled {
		srv = api.NewServer(api.ServerConfigFrom(cfg), node, pc)
		if err := srv.Start(ctx); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to start API server: %w", err)
		}
		apiAddr = srv.Addr()
	}

	if opts.ConfigPath != "" {
		wg.Add(1)
		util.SafeGoWithName("config-watch", func() {
			defer wg.Done()
			if err := config.Watch(ctx, opts.ConfigPath, func(next *config.Config) { applyReload(next, srv) }); err != nil {
				logging.Warn("config watch stopped", logging.Err(err), logging.Component("daemon"))
			}
		})
	}

	logging.Info("node running",
		"api", apiAddr,
		"block", node.State().BlockNumber(),
		logging.Component("daemon"))
	if opts.Ready != nil {
		opts.Ready(node, apiAddr)
	}

	<-ctx.Done()
	logging.Info("shutting down", logging.Component("daemon"))

	var stopErr error
	if srv != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		stopErr = srv.Stop(stopCtx)
		stopCancel()
	}
	cancel()
	wg.Wait()

	if opts.SnapshotPath != "" {
		if err := node.WriteSnapshot(opts.SnapshotPath); err != nil {
			logging.Error("failed to write snapshot", logging.Err(err), logging.Component("daemon"))
			if stopErr == nil {
				stopErr = err
			}
		}
	}
	return stopErr
}

// applyReload applies the settings that can change without a restart.
func applyReload(next *config.Config, srv *api.Server) {
	if lvl, err := logging.ParseLevel(next.Logging.Level); err == nil {
		logging.SetLevel(lvl)
	}
	if srv != nil {
		srv.SetRateLimits(next.Tier.Levels)
	}
	logging.Audit(logging.AuditEvent{
		Operation: "config_reload",
		Actor:     "file",
		Target:    "node",
		Result:    "success",
		Details:   fmt.Sprintf("log_level=%s tiers=%d", next.Logging.Level, len(next.Tier.Levels)),
	})
}

// watchBalances exposes the ledger balances operators alert on.
func watchBalances(pc *metrics.PrometheusCollector, n *Node) {
	read := func(fn func() *big.Int) func() *big.Int {
		return func() *big.Int {
			var v *big.Int
			n.State().View(func() { v = fn() })
			return v
		}
	}
	pc.WatchBalance("relayhub", "deposits_wei", "Native balance held by the relay hub for all depositors.",
		read(n.Hub().TotalBalances))
	pc.WatchBalance("paymaster", "hub_balance_wei", "Paymaster deposit at the relay hub.",
		read(n.Paymaster().HubBalance))
	pc.WatchBalance("paymaster", "earmarked", "Fee token held for user deposits and unswept revenue.",
		read(n.Paymaster().Earmarked))
	pc.WatchBalance("audit", "reward_pool", "Fee token available for audit rewards.",
		read(n.Audits().RewardPool))
}
