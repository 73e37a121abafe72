// Package metrics provides the default registry.MetricSink implementation,
// backed by OpenTelemetry. Grounded on stacklok-toolhive's pkg/telemetry
// meter-provider idiom (pkg/telemetry/config.go): a single MeterProvider
// supplied by the caller, instruments created once at construction and
// reused for the lifetime of the sink.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

const meterName = "fleetregistry/internal/registry"

// Sink is the default registry.MetricSink: one otel meter, six instruments
// (four monotonic counters, two async gauges backed by observed values).
type Sink struct {
	registrations metric.Int64Counter
	updates       metric.Int64Counter
	unregisters   metric.Int64Counter
	evictions     metric.Int64Counter

	subscribers *observableValue
	busDepth    *observableValue
}

// New creates a Sink registering its instruments against provider's meter.
func New(provider metric.MeterProvider) (*Sink, error) {
	meter := provider.Meter(meterName)

	registrations, err := meter.Int64Counter("fleetregistry.registrations",
		metric.WithDescription("total register operations accepted by the holder layer"))
	if err != nil {
		return nil, fmt.Errorf("metrics: create registrations counter: %w", err)
	}
	updates, err := meter.Int64Counter("fleetregistry.updates",
		metric.WithDescription("total update operations accepted by the holder layer"))
	if err != nil {
		return nil, fmt.Errorf("metrics: create updates counter: %w", err)
	}
	unregisters, err := meter.Int64Counter("fleetregistry.unregisters",
		metric.WithDescription("total unregister operations, including controller-driven evictions"))
	if err != nil {
		return nil, fmt.Errorf("metrics: create unregisters counter: %w", err)
	}
	evictions, err := meter.Int64Counter("fleetregistry.evictions",
		metric.WithDescription("total completions drained from the preservation/eviction controller"))
	if err != nil {
		return nil, fmt.Errorf("metrics: create evictions counter: %w", err)
	}

	s := &Sink{
		registrations: registrations,
		updates:       updates,
		unregisters:   unregisters,
		evictions:     evictions,
		subscribers:   newObservableValue(),
		busDepth:      newObservableValue(),
	}

	if _, err := meter.Int64ObservableGauge("fleetregistry.subscribers",
		metric.WithDescription("current live subscription count"),
		metric.WithInt64Callback(s.subscribers.callback),
	); err != nil {
		return nil, fmt.Errorf("metrics: create subscribers gauge: %w", err)
	}
	if _, err := meter.Int64ObservableGauge("fleetregistry.bus_depth",
		metric.WithDescription("current notification bus log length"),
		metric.WithInt64Callback(s.busDepth.callback),
	); err != nil {
		return nil, fmt.Errorf("metrics: create bus depth gauge: %w", err)
	}

	return s, nil
}

func (s *Sink) IncRegistrations() { s.registrations.Add(context.Background(), 1) }
func (s *Sink) IncUpdates()       { s.updates.Add(context.Background(), 1) }
func (s *Sink) IncUnregisters()   { s.unregisters.Add(context.Background(), 1) }
func (s *Sink) IncEvictions()     { s.evictions.Add(context.Background(), 1) }
func (s *Sink) SetSubscribers(n int) { s.subscribers.set(int64(n)) }
func (s *Sink) SetBusDepth(n int)    { s.busDepth.set(int64(n)) }
