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

package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qiliang336/ns3-platform/internal/transport/shm"
)

// Error types reported by EmitErrorMetrics.
const (
	ErrorTypeTimeout   = "timeout"
	ErrorTypeClosed    = "closed"
	ErrorTypeCanceled  = "canceled"
	ErrorTypeOutOfTurn = "out_of_turn"
	ErrorTypeOther     = "other"
)

var (
	stepsTotal      *prometheus.CounterVec
	stepWaitSeconds *prometheus.HistogramVec
	stepErrors      *prometheus.CounterVec
	lastStep        *prometheus.GaugeVec
	lastPublishAge  *prometheus.GaugeVec
)

// InitMetrics registers all exchange metrics with the provided registry
func InitMetrics(registry prometheus.Registerer) {
	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranai_steps_total",
			Help: "Total number of completed observation/action exchanges",
		},
		[]string{"block_key"},
	)
	stepWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ranai_step_wait_seconds",
			Help: "Time spent waiting for the simulator to publish an observation",
			// step cadence is 100ms, so most waits land below it
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1, 5},
		},
		[]string{"block_key"},
	)
	stepErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranai_step_errors_total",
			Help: "Total number of failed exchange steps",
		},
		[]string{"block_key", "error_type"},
	)
	lastStep = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ranai_last_step",
			Help: "Step number of the last completed exchange",
		},
		[]string{"block_key"},
	)
	lastPublishAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ranai_last_publish_age_seconds",
			Help: "Seconds since either side last advanced the handshake",
		},
		[]string{"block_key"},
	)

	registry.MustRegister(stepsTotal)
	registry.MustRegister(stepWaitSeconds)
	registry.MustRegister(stepErrors)
	registry.MustRegister(lastStep)
	registry.MustRegister(lastPublishAge)
}

// InitMetricsAndEmitter registers metrics with Prometheus and creates a metrics emitter
func InitMetricsAndEmitter(registry prometheus.Registerer) *MetricsEmitter {
	InitMetrics(registry)
	return NewMetricsEmitter()
}

// MetricsEmitter handles emission of exchange metrics. Its methods are
// no-ops until InitMetrics has run.
type MetricsEmitter struct{}

// NewMetricsEmitter creates a new metrics emitter
func NewMetricsEmitter() *MetricsEmitter {
	return &MetricsEmitter{}
}

// EmitStepMetrics records one completed step and the time spent waiting
// for its observation.
func (m *MetricsEmitter) EmitStepMetrics(ctx context.Context, blockKey int32, step uint64, wait time.Duration) {
	if stepsTotal == nil {
		return
	}
	key := strconv.Itoa(int(blockKey))
	stepsTotal.WithLabelValues(key).Inc()
	stepWaitSeconds.WithLabelValues(key).Observe(wait.Seconds())
	lastStep.WithLabelValues(key).Set(float64(step))
}

// EmitPublishAge records how long the handshake has been idle.
func (m *MetricsEmitter) EmitPublishAge(ctx context.Context, blockKey int32, age time.Duration) {
	if lastPublishAge == nil {
		return
	}
	lastPublishAge.WithLabelValues(strconv.Itoa(int(blockKey))).Set(age.Seconds())
}

// EmitErrorMetrics counts a failed step under the type of err.
func (m *MetricsEmitter) EmitErrorMetrics(ctx context.Context, blockKey int32, err error) {
	if stepErrors == nil || err == nil {
		return
	}
	stepErrors.WithLabelValues(strconv.Itoa(int(blockKey)), ErrorType(err)).Inc()
}

// ErrorType classifies an exchange error for the error_type label.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, shm.ErrClosed):
		return ErrorTypeClosed
	case errors.Is(err, shm.ErrOutOfTurn):
		return ErrorTypeOutOfTurn
	default:
		return ErrorTypeOther
	}
}
