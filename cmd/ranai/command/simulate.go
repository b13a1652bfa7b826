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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qiliang336/ns3-platform/internal/logger"
	"github.com/qiliang336/ns3-platform/internal/record"
	"github.com/qiliang336/ns3-platform/internal/simulator"
	"github.com/qiliang336/ns3-platform/internal/transport/shm"
)

type simulateFlags struct {
	create      bool
	steps       uint64
	interval    time.Duration
	entities    int
	seed        uint64
	stepTimeout time.Duration
}

// NewSimulateCommand returns the cobra command for "simulate".
func NewSimulateCommand() *cobra.Command {
	def := simulator.DefaultOptions()
	f := &simulateFlags{}
	sc := &cobra.Command{
		Use:   "simulate",
		Short: "publish synthetic observations in place of the network simulator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulateCommandFunc(cmd, f)
		},
	}
	sc.Flags().BoolVar(&f.create, "create", true, "create the pool if it does not exist")
	sc.Flags().Uint64Var(&f.steps, "steps", def.Steps, "number of steps to publish")
	sc.Flags().DurationVar(&f.interval, "interval", def.Interval, "time between steps, 0 runs unpaced")
	sc.Flags().IntVar(&f.entities, "entities", def.Entities, "number of active subscribers")
	sc.Flags().Uint64Var(&f.seed, "seed", def.Seed, "statistics generator seed")
	sc.Flags().DurationVar(&f.stepTimeout, "step-timeout", 0, "fail when the controller takes longer than this to answer")
	return sc
}

func simulateCommandFunc(cmd *cobra.Command, f *simulateFlags) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
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

	var answered uint64
	sim := simulator.New(ex, simulator.Options{
		Steps:       f.steps,
		Interval:    f.interval,
		Entities:    f.entities,
		Seed:        f.seed,
		StepTimeout: f.stepTimeout,
		OnAction: func(step uint64, act *record.ActionRecord) {
			answered++
			logger.Log.Debug("Action received - ", "step: ", step, " , entity-0: ", act.Actions[0])
		},
	})
	if err := sim.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %d steps on block %d\n", answered, ex.Key())
	return nil
}
