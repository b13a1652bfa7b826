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

// Package simulator drives the producer side of an exchange with synthetic
// statistics, standing in for the network simulator in local runs.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/rand"

	"github.com/qiliang336/ns3-platform/internal/constants"
	"github.com/qiliang336/ns3-platform/internal/logger"
	"github.com/qiliang336/ns3-platform/internal/record"
	"github.com/qiliang336/ns3-platform/internal/transport/shm"
)

// Per-entity statistic columns the simulator fills with named values. The
// remaining columns get unit-scale noise.
const (
	FieldIMSI = iota
	FieldDelay
	FieldPRR
	FieldThroughput
	FieldSINR
)

// Options configures a Simulator.
type Options struct {
	// Steps is the number of observations to publish.
	Steps uint64
	// Interval paces the steps; zero publishes as fast as the consumer
	// answers.
	Interval time.Duration
	// Entities is the number of active subscribers; the remaining rows
	// stay zero.
	Entities int
	// Seed seeds the statistic generator.
	Seed uint64
	// StepTimeout bounds one observation/action round trip.
	StepTimeout time.Duration
	// OnAction receives each action the consumer answered with.
	OnAction func(step uint64, act *record.ActionRecord)
}

// DefaultOptions paces steps at constants.StepDuration with every entity
// active.
func DefaultOptions() Options {
	return Options{
		Steps:    100,
		Interval: constants.StepDuration,
		Entities: record.Entities,
		Seed:     1,
	}
}

// Simulator publishes synthetic observations on an exchange.
type Simulator struct {
	ex   *shm.Exchange
	rng  *rand.Rand
	opts Options
}

// New creates a simulator producing on ex.
func New(ex *shm.Exchange, opts Options) *Simulator {
	if opts.Entities <= 0 || opts.Entities > record.Entities {
		opts.Entities = record.Entities
	}
	return &Simulator{
		ex:   ex,
		rng:  rand.New(rand.NewSource(opts.Seed)),
		opts: opts,
	}
}

// Fill writes one step of statistics into obs.
func (s *Simulator) Fill(obs *record.ObservationRecord) {
	obs.Reset()
	budget := constants.StepDuration.Seconds()
	for i := 0; i < s.opts.Entities; i++ {
		row := obs.Entity(i)
		row[FieldIMSI] = float64(i + 1)
		row[FieldDelay] = s.rng.ExpFloat64() * budget / 4
		row[FieldPRR] = math.Min(1, 0.95+s.rng.Float64()*0.05)
		row[FieldThroughput] = math.Max(0, 20e6+s.rng.NormFloat64()*5e6)
		row[FieldSINR] = 15 + s.rng.NormFloat64()*5
		for j := FieldSINR + 1; j < record.ObservationFields; j++ {
			row[j] = s.rng.Float64()
		}
	}
}

// Run publishes Options.Steps observations, waiting for each action, and
// closes the exchange when it returns. A consumer closing the exchange ends
// the run without error.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.ex.Close()

	var ticker *time.Ticker
	if s.opts.Interval > 0 {
		ticker = time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
	}

	var (
		obs record.ObservationRecord
		act record.ActionRecord
	)
	logger.Log.Info("Simulator started - ", "block-key: ", s.ex.Key(), " , steps: ", s.opts.Steps)
	for i := uint64(0); i < s.opts.Steps; i++ {
		if ticker != nil && i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}

		s.Fill(&obs)
		step, err := s.step(ctx, &obs, &act)
		if errors.Is(err, shm.ErrClosed) {
			logger.Log.Info("Exchange closed by consumer - ", "block-key: ", s.ex.Key(), " , steps: ", i)
			return nil
		}
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if s.opts.OnAction != nil {
			s.opts.OnAction(step, &act)
		}
	}
	logger.Log.Info("Simulator finished - ", "block-key: ", s.ex.Key(), " , steps: ", s.opts.Steps)
	return nil
}

func (s *Simulator) step(ctx context.Context, obs *record.ObservationRecord, act *record.ActionRecord) (uint64, error) {
	if s.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.StepTimeout)
		defer cancel()
	}
	return s.ex.Step(ctx, obs, act)
}
