//go:build linux

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

package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiliang336/ns3-platform/internal/metrics"
	"github.com/qiliang336/ns3-platform/internal/record"
	"github.com/qiliang336/ns3-platform/internal/simulator"
	"github.com/qiliang336/ns3-platform/internal/trace"
	"github.com/qiliang336/ns3-platform/internal/transport/shm"
)

const (
	testPoolKey  = 4100
	testBlockKey = 4101
)

// exchangePair returns the producer and consumer ends of one exchange, each
// through its own mapping of a file-backed pool.
func exchangePair(t *testing.T) (producer, consumer *shm.Exchange) {
	t.Helper()
	opts := shm.Options{Backend: shm.BackendFile, Dir: t.TempDir()}

	pp, err := shm.CreatePool(testPoolKey, shm.MinPoolCapacity, opts)
	require.NoError(t, err)
	t.Cleanup(func() { pp.Close() })
	cp, err := shm.OpenPool(testPoolKey, opts)
	require.NoError(t, err)
	t.Cleanup(func() { cp.Close() })

	producer, err = shm.OpenExchange(pp, testBlockKey)
	require.NoError(t, err)
	consumer, err = shm.OpenExchange(cp, testBlockKey)
	require.NoError(t, err)
	producer.SetWaitSlice(5 * time.Millisecond)
	consumer.SetWaitSlice(5 * time.Millisecond)
	return producer, consumer
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestStaticPolicy(t *testing.T) {
	var act record.ActionRecord
	require.NoError(t, StaticPolicy{First: 2, Second: 1450}.Act(context.Background(), 0, nil, &act))
	for i := 0; i < record.Entities; i++ {
		assert.Equal(t, [2]int16{2, 1450}, act.Actions[i])
	}
}

func TestAgentAnswersSimulator(t *testing.T) {
	producer, consumer := exchangePair(t)

	store, err := trace.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	defer store.Close()

	reg := prometheus.NewRegistry()
	a := New(consumer, StaticPolicy{First: 3, Second: 7}, Options{
		Trace:   store,
		Emitter: metrics.InitMetricsAndEmitter(reg),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var actions []record.ActionRecord
	sim := simulator.New(producer, simulator.Options{
		Steps: 5,
		Seed:  42,
		OnAction: func(step uint64, act *record.ActionRecord) {
			assert.Equal(t, uint64(len(actions)), step)
			actions = append(actions, *act)
		},
	})
	require.NoError(t, sim.Run(ctx))

	// the simulator closes the exchange, which ends the agent
	require.NoError(t, <-done)
	assert.Equal(t, uint64(5), a.Steps())

	require.Len(t, actions, 5)
	for _, act := range actions {
		assert.Equal(t, [2]int16{3, 7}, act.Actions[0])
		assert.Equal(t, [2]int16{3, 7}, act.Actions[record.Entities-1])
	}

	steps, err := store.Steps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, steps)
	imsi, err := store.Series(ctx, 2, simulator.FieldIMSI)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3, 3, 3, 3}, imsi)

	assert.Equal(t, 5.0, counterValue(t, reg, "ranai_steps_total", map[string]string{"block_key": "4101"}))
}

func TestBackToBackSessionsOnOnePool(t *testing.T) {
	producer, consumer := exchangePair(t)
	pp, cp := producer.Block().Pool(), consumer.Block().Pool()

	store, err := trace.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for session := 0; session < 2; session++ {
		prod, err := shm.OpenExchange(pp, testBlockKey)
		require.NoError(t, err)
		cons, err := shm.OpenExchange(cp, testBlockKey)
		require.NoError(t, err)
		require.False(t, cons.Closed(), "session %d", session)

		a := New(cons, StaticPolicy{First: 1, Second: int16(session)}, Options{Trace: store})
		done := make(chan error, 1)
		go func() { done <- a.Run(ctx) }()

		published := 0
		sim := simulator.New(prod, simulator.Options{
			Steps: 5,
			Seed:  uint64(session + 1),
			OnAction: func(step uint64, act *record.ActionRecord) {
				assert.Equal(t, [2]int16{1, int16(session)}, act.Actions[0])
				published++
			},
		})
		require.NoError(t, sim.Run(ctx))
		require.NoError(t, <-done)
		assert.Equal(t, 5, published, "session %d", session)
		assert.Equal(t, uint64(5), a.Steps(), "session %d", session)
	}

	steps, err := store.Steps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, steps)
}

func TestAgentPolicyReceivesObservation(t *testing.T) {
	producer, consumer := exchangePair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	policy := PolicyFunc(func(_ context.Context, step uint64, obs *record.ObservationRecord, act *record.ActionRecord) error {
		// echo the first statistic of each entity back as its action
		for i := 0; i < record.Entities; i++ {
			act.Set(i, int16(obs.IMSIStats[i][0]), int16(step))
		}
		return nil
	})
	a := New(consumer, policy, Options{MaxSteps: 2})
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	for step := uint64(0); step < 2; step++ {
		var obs record.ObservationRecord
		for i := 0; i < record.Entities; i++ {
			obs.IMSIStats[i][0] = float64(i * 10)
		}
		var act record.ActionRecord
		got, err := producer.Step(ctx, &obs, &act)
		require.NoError(t, err)
		assert.Equal(t, step, got)
		assert.Equal(t, [2]int16{490, int16(step)}, act.Actions[49])
	}

	require.NoError(t, <-done)
	assert.Equal(t, uint64(2), a.Steps())
	assert.False(t, consumer.Closed())
}

func TestAgentPolicyError(t *testing.T) {
	producer, consumer := exchangePair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errPolicy := errors.New("policy failed")
	a := New(consumer, PolicyFunc(func(context.Context, uint64, *record.ObservationRecord, *record.ActionRecord) error {
		return errPolicy
	}), Options{})

	var obs record.ObservationRecord
	_, err := producer.PutObservation(ctx, &obs)
	require.NoError(t, err)

	err = a.Run(ctx)
	assert.ErrorIs(t, err, errPolicy)
	assert.Equal(t, uint64(0), a.Steps())
}

func TestAgentStopsOnCancel(t *testing.T) {
	_, consumer := exchangePair(t)
	ctx, cancel := context.WithCancel(context.Background())

	a := New(consumer, StaticPolicy{}, Options{})
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop after cancel")
	}
	assert.Equal(t, uint64(0), a.Steps())
}

func TestAgentStepTimeoutKeepsWaiting(t *testing.T) {
	producer, consumer := exchangePair(t)
	reg := prometheus.NewRegistry()
	a := New(consumer, StaticPolicy{First: 1}, Options{
		Emitter:     metrics.InitMetricsAndEmitter(reg),
		StepTimeout: 20 * time.Millisecond,
		StaleAfter:  time.Millisecond,
		MaxSteps:    1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// let a few step timeouts pass before publishing
	time.Sleep(100 * time.Millisecond)

	var (
		obs record.ObservationRecord
		act record.ActionRecord
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := producer.Step(ctx, &obs, &act)
		assert.NoError(t, err)
	}()
	wg.Wait()

	require.NoError(t, <-done)
	assert.Equal(t, uint64(1), a.Steps())
	assert.Equal(t, int16(1), act.Actions[0][0])
	assert.GreaterOrEqual(t, counterValue(t, reg, "ranai_step_errors_total", map[string]string{"error_type": metrics.ErrorTypeTimeout}), 1.0)
}
