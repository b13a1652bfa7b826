/*
 *
 * Copyright 2025 The ns3-platform Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/qiliang336/ns3-platform/internal/agent"
	"github.com/qiliang336/ns3-platform/internal/logger"
	"github.com/qiliang336/ns3-platform/internal/metrics"
	"github.com/qiliang336/ns3-platform/internal/trace"
	"github.com/qiliang336/ns3-platform/internal/transport/shm"
)

type serveFlags struct {
	create      bool
	metricsAddr string
	tracePath   string
	maxSteps    uint64
	stepTimeout time.Duration
	actions     []int
}

// NewServeCommand returns the cobra command for "serve".
func NewServeCommand() *cobra.Command {
	f := &serveFlags{}
	sc := &cobra.Command{
		Use:   "serve",
		Short: "answer the simulator's observations with a static policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCommandFunc(cmd, f)
		},
	}
	sc.Flags().BoolVar(&f.create, "create", false, "create the pool if it does not exist")
	sc.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	sc.Flags().StringVar(&f.tracePath, "trace", "", "record every step in this SQLite database")
	sc.Flags().Uint64Var(&f.maxSteps, "max-steps", 0, "stop after this many steps, 0 runs until closed")
	sc.Flags().DurationVar(&f.stepTimeout, "step-timeout", 0, "warn when an observation takes longer than this")
	sc.Flags().IntSliceVar(&f.actions, "actions", nil, "static action pair, usage: --actions=1450,0")
	return sc
}

func serveCommandFunc(cmd *cobra.Command, f *serveFlags) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if flags.Changed("trace") {
		cfg.Trace.Path = f.tracePath
	}
	if flags.Changed("step-timeout") {
		cfg.Agent.StepTimeout = f.stepTimeout
	}
	if flags.Changed("actions") {
		if len(f.actions) != 2 {
			return fmt.Errorf("--actions needs two values, got %d", len(f.actions))
		}
		for _, v := range f.actions {
			if v < math.MinInt16 || v > math.MaxInt16 {
				return fmt.Errorf("--actions value %d outside [%d, %d]", v, math.MinInt16, math.MaxInt16)
			}
		}
		cfg.Agent.Actions = [2]int16{int16(f.actions[0]), int16(f.actions[1])}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openOrCreatePool(cfg, f.create)
	if err != nil {
		return err
	}
	defer p.Close()

	ex, err := shm.OpenExchange(p, cfg.Pool.BlockKey)
	if err != nil {
		return err
	}

	opts := agent.Options{
		StepTimeout: cfg.Agent.StepTimeout,
		StaleAfter:  cfg.Agent.StaleAfter,
		MaxSteps:    f.maxSteps,
	}

	if cfg.Trace.Path != "" {
		store, err := trace.Open(cfg.Trace.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Trace = store
	}

	if cfg.Metrics.Addr != "" {
		registry := prometheus.NewRegistry()
		opts.Emitter = metrics.InitMetricsAndEmitter(registry)
		srv, err := startMetricsServer(ctx, cfg.Metrics.Addr, registry)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	policy := agent.StaticPolicy{First: cfg.Agent.Actions[0], Second: cfg.Agent.Actions[1]}
	a := agent.New(ex, policy, opts)
	if err := a.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "answered %d steps on block %d\n", a.Steps(), ex.Key())
	return nil
}

func startMetricsServer(ctx context.Context, addr string, registry *prometheus.Registry) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Metrics server failed - ", "addr: ", addr, " , error: ", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logger.Log.Info("Serving metrics - ", "addr: ", ln.Addr().String())
	return srv, nil
}
