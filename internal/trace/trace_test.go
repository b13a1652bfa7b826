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

package trace

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiliang336/ns3-platform/internal/record"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func stepRecords(step uint64) (*record.ObservationRecord, *record.ActionRecord) {
	obs := &record.ObservationRecord{}
	act := &record.ActionRecord{}
	for i := 0; i < record.Entities; i++ {
		for j := 0; j < record.ObservationFields; j++ {
			obs.IMSIStats[i][j] = float64(step)*1000 + float64(i*record.ObservationFields+j)
		}
		act.Set(i, int16(step), int16(-i))
	}
	return obs, act
}

func TestRecordAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 123)

	obs, act := stepRecords(4)
	obs.IMSIStats[0][0] = math.Inf(-1)
	require.NoError(t, s.Record(ctx, 4, at, obs, act))

	got, err := s.Load(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.Number)
	assert.True(t, at.Equal(got.RecordedAt))
	assert.Equal(t, *obs, got.Observation)
	assert.Equal(t, *act, got.Action)
}

func TestLoadMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load(context.Background(), 1)
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestRecordReplacesStep(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	obs, act := stepRecords(1)
	require.NoError(t, s.Record(ctx, 1, time.Now(), obs, act))
	act.Fill(9, 9)
	require.NoError(t, s.Record(ctx, 1, time.Now(), obs, act))

	got, err := s.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int16(9), got.Action.Actions[49][1])

	steps, err := s.Steps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, steps)
}

func TestStepsAndSeriesOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, step := range []uint64{3, 0, 2, 1} {
		obs, act := stepRecords(step)
		require.NoError(t, s.Record(ctx, step, time.Now(), obs, act))
	}

	steps, err := s.Steps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2, 3}, steps)

	// entity 2, field 5 -> offset 61
	series, err := s.Series(ctx, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{61, 1061, 2061, 3061}, series)

	actions, err := s.ActionSeries(ctx, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{-7, -7, -7, -7}, actions)

	actions, err = s.ActionSeries(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, actions)
}

func TestSeriesOutOfRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, idx := range [][2]int{{-1, 0}, {record.Entities, 0}, {0, -1}, {0, record.ObservationFields}} {
		_, err := s.Series(ctx, idx[0], idx[1])
		assert.ErrorIs(t, err, ErrOutOfRange, "%v", idx)
	}
	_, err := s.ActionSeries(ctx, 0, record.ActionCodes)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestEmptyStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	steps, err := s.Steps(ctx)
	require.NoError(t, err)
	assert.Empty(t, steps)

	series, err := s.Series(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestReopenKeepsSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	obs, act := stepRecords(8)
	require.NoError(t, s.Record(ctx, 8, time.Now(), obs, act))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())
	got, err := s.Load(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, *obs, got.Observation)
}
