package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPositionsIndexed   = "risk_engine_positions_indexed"
	MetricPositionsRejected  = "risk_engine_positions_rejected_total"
	MetricTriggersFired      = "risk_engine_triggers_fired_total"
	MetricCloseFailures      = "risk_engine_close_failures_total"
	MetricCycleDuration      = "risk_engine_cycle_duration_ms"
	MetricCandidatesPerCycle = "risk_engine_candidates_per_cycle"
	MetricTrailingUpdates    = "risk_engine_trailing_updates_total"
)

// MetricsHolder holds initialized instruments. Recording before InitMetrics
// has run is a no-op except for the gauges, which buffer their last value.
type MetricsHolder struct {
	PositionsIndexed   metric.Int64ObservableGauge
	PositionsRejected  metric.Int64Counter
	TriggersFired      metric.Int64Counter
	CloseFailures      metric.Int64Counter
	CycleDuration      metric.Float64Histogram
	CandidatesPerCycle metric.Int64Histogram
	TrailingUpdates    metric.Int64Counter

	positionsIndexed atomic.Int64
	initialized      atomic.Bool
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics creates the instruments on the given meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PositionsIndexed, err = meter.Int64ObservableGauge(MetricPositionsIndexed,
		metric.WithDescription("Number of open positions currently indexed"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.positionsIndexed.Load())
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionsRejected, err = meter.Int64Counter(MetricPositionsRejected,
		metric.WithDescription("Positions excluded from indexing by normalization failures"))
	if err != nil {
		return err
	}

	m.TriggersFired, err = meter.Int64Counter(MetricTriggersFired,
		metric.WithDescription("Protective closes triggered, labeled by reason"))
	if err != nil {
		return err
	}

	m.CloseFailures, err = meter.Int64Counter(MetricCloseFailures,
		metric.WithDescription("Close order attempts that failed and will be retried"))
	if err != nil {
		return err
	}

	m.CycleDuration, err = meter.Float64Histogram(MetricCycleDuration,
		metric.WithDescription("Evaluation cycle duration in milliseconds"))
	if err != nil {
		return err
	}

	m.CandidatesPerCycle, err = meter.Int64Histogram(MetricCandidatesPerCycle,
		metric.WithDescription("Candidate positions returned by range queries per cycle"))
	if err != nil {
		return err
	}

	m.TrailingUpdates, err = meter.Int64Counter(MetricTrailingUpdates,
		metric.WithDescription("Trailing stop activations and ratchet moves"))
	if err != nil {
		return err
	}

	m.initialized.Store(true)
	return nil
}

// SetPositionsIndexed records the current indexed position count
func (m *MetricsHolder) SetPositionsIndexed(n int64) {
	m.positionsIndexed.Store(n)
}

// IncPositionsRejected counts a position excluded by normalization
func (m *MetricsHolder) IncPositionsRejected() {
	if !m.initialized.Load() {
		return
	}
	m.PositionsRejected.Add(context.Background(), 1)
}

// IncTriggersFired counts a protective close by reason
func (m *MetricsHolder) IncTriggersFired(reason string) {
	if !m.initialized.Load() {
		return
	}
	m.TriggersFired.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// IncCloseFailures counts a failed close attempt
func (m *MetricsHolder) IncCloseFailures() {
	if !m.initialized.Load() {
		return
	}
	m.CloseFailures.Add(context.Background(), 1)
}

// IncTrailingUpdates counts a trailing activation or ratchet
func (m *MetricsHolder) IncTrailingUpdates() {
	if !m.initialized.Load() {
		return
	}
	m.TrailingUpdates.Add(context.Background(), 1)
}

// RecordCycle records one evaluation cycle's duration and candidate count
func (m *MetricsHolder) RecordCycle(durationMs float64, candidates int64) {
	if !m.initialized.Load() {
		return
	}
	ctx := context.Background()
	m.CycleDuration.Record(ctx, durationMs)
	m.CandidatesPerCycle.Record(ctx, candidates)
}
