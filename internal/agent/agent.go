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

// Package agent runs the controller side of an exchange: it answers every
// observation the simulator publishes with an action from a Policy.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qiliang336/ns3-platform/internal/logger"
	"github.com/qiliang336/ns3-platform/internal/metrics"
	"github.com/qiliang336/ns3-platform/internal/record"
	"github.com/qiliang336/ns3-platform/internal/trace"
	"github.com/qiliang336/ns3-platform/internal/transport/shm"
)

// Policy chooses the actions for one observation. act arrives zeroed.
type Policy interface {
	Act(ctx context.Context, step uint64, obs *record.ObservationRecord, act *record.ActionRecord) error
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, step uint64, obs *record.ObservationRecord, act *record.ActionRecord) error

// Act calls f.
func (f PolicyFunc) Act(ctx context.Context, step uint64, obs *record.ObservationRecord, act *record.ActionRecord) error {
	return f(ctx, step, obs, act)
}

// StaticPolicy answers every entity with the same action pair.
type StaticPolicy struct {
	First, Second int16
}

// Act fills act with the static pair.
func (p StaticPolicy) Act(_ context.Context, _ uint64, _ *record.ObservationRecord, act *record.ActionRecord) error {
	act.Fill(p.First, p.Second)
	return nil
}

// Options configures an Agent. Zero values disable the feature.
type Options struct {
	// Trace records every completed step.
	Trace *trace.Store
	// Emitter publishes step metrics.
	Emitter *metrics.MetricsEmitter
	// StepTimeout bounds the wait for one observation. A timeout is
	// logged and the agent keeps waiting.
	StepTimeout time.Duration
	// StaleAfter warns when the handshake has been idle this long.
	StaleAfter time.Duration
	// MaxSteps stops the agent after this many steps.
	MaxSteps uint64
}

// Agent is the consumer loop of one exchange.
type Agent struct {
	ex     *shm.Exchange
	policy Policy
	opts   Options

	obs   record.ObservationRecord
	act   record.ActionRecord
	steps uint64
}

// New creates an agent answering on ex with policy.
func New(ex *shm.Exchange, policy Policy, opts Options) *Agent {
	if opts.Emitter == nil {
		opts.Emitter = metrics.NewMetricsEmitter()
	}
	return &Agent{ex: ex, policy: policy, opts: opts}
}

// Steps returns the number of steps answered so far.
func (a *Agent) Steps() uint64 {
	return a.steps
}

// Run answers observations until ctx ends, the exchange is closed or
// MaxSteps is reached; those return nil. Policy and trace failures stop the
// loop with an error.
func (a *Agent) Run(ctx context.Context) error {
	key := a.ex.Key()
	logger.Log.Info("Agent started - ", "block-key: ", key, " , seq: ", a.ex.Seq())

	for a.opts.MaxSteps == 0 || a.steps < a.opts.MaxSteps {
		err := a.step(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, shm.ErrClosed):
			logger.Log.Info("Exchange closed by peer - ", "block-key: ", key, " , steps: ", a.steps)
			return nil
		case ctx.Err() != nil:
			logger.Log.Info("Agent stopped - ", "block-key: ", key, " , steps: ", a.steps)
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			a.opts.Emitter.EmitErrorMetrics(ctx, key, err)
			a.checkStale(ctx)
			continue
		default:
			a.opts.Emitter.EmitErrorMetrics(ctx, key, err)
			return err
		}
	}
	logger.Log.Info("Agent reached step limit - ", "block-key: ", key, " , steps: ", a.steps)
	return nil
}

func (a *Agent) step(ctx context.Context) error {
	waitCtx := ctx
	if a.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.opts.StepTimeout)
		defer cancel()
	}

	start := time.Now()
	step, err := a.ex.GetObservation(waitCtx, &a.obs)
	if err != nil {
		return err
	}
	wait := time.Since(start)

	a.act.Reset()
	if err := a.policy.Act(ctx, step, &a.obs, &a.act); err != nil {
		return fmt.Errorf("policy at step %d: %w", step, err)
	}
	if err := a.ex.PutAction(&a.act); err != nil {
		return fmt.Errorf("put action at step %d: %w", step, err)
	}
	a.steps++

	if a.opts.Trace != nil {
		if err := a.opts.Trace.Record(ctx, step, time.Now(), &a.obs, &a.act); err != nil {
			return err
		}
	}
	a.opts.Emitter.EmitStepMetrics(ctx, a.ex.Key(), step, wait)
	logger.Log.Debug("Step answered - ", "step: ", step, " , wait: ", wait)
	return nil
}

// checkStale reports how long the simulator has been silent.
func (a *Agent) checkStale(ctx context.Context) {
	last := a.ex.LastPublish()
	if last.IsZero() {
		logger.Log.Warn("Waiting for first observation - ", "block-key: ", a.ex.Key())
		return
	}
	age := time.Since(last)
	a.opts.Emitter.EmitPublishAge(ctx, a.ex.Key(), age)
	if a.opts.StaleAfter > 0 && age > a.opts.StaleAfter {
		logger.Log.Warn("Simulator stalled - ", "block-key: ", a.ex.Key(), " , idle: ", age, " , seq: ", a.ex.Seq())
	}
}
