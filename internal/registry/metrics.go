package registry

// MetricSink is the core's injected metrics collaborator (spec §6). The
// core never imports a specific metrics backend; internal/metrics provides
// a default OpenTelemetry-backed implementation.
type MetricSink interface {
	IncRegistrations()
	IncUpdates()
	IncUnregisters()
	IncEvictions()
	SetSubscribers(n int)
	SetBusDepth(n int)
}

// noopMetricSink discards everything. Used when no MetricSink is injected.
type noopMetricSink struct{}

func (noopMetricSink) IncRegistrations()  {}
func (noopMetricSink) IncUpdates()        {}
func (noopMetricSink) IncUnregisters()    {}
func (noopMetricSink) IncEvictions()      {}
func (noopMetricSink) SetSubscribers(int) {}
func (noopMetricSink) SetBusDepth(int)    {}
