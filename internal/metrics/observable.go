package metrics

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
)

// observableValue backs an async otel gauge with a value set synchronously
// by the owning component and read back only when the SDK's collector
// invokes the callback.
type observableValue struct {
	v atomic.Int64
}

func newObservableValue() *observableValue {
	return &observableValue{}
}

func (o *observableValue) set(n int64) {
	o.v.Store(n)
}

func (o *observableValue) callback(_ context.Context, obs metric.Int64Observer) error {
	obs.Observe(o.v.Load())
	return nil
}
