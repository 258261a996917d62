package device

import "github.com/rcrowley/go-metrics"

// stackStats collects the stack's bus-facing counters. Every counter
// registers under the "usb.device." prefix so several stacks can share
// a process-wide registry by passing distinct sub-registries.
type stackStats struct {
	registry metrics.Registry

	setupPackets  metrics.Counter
	requestErrors metrics.Counter
	transactions  metrics.Counter
	bytesIn       metrics.Counter
	bytesOut      metrics.Counter
	resets        metrics.Counter
	suspends      metrics.Counter
	resumes       metrics.Counter
	sofs          metrics.Counter
	busErrors     metrics.Counter
}

func newStackStats(registry metrics.Registry) *stackStats {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	counter := func(name string) metrics.Counter {
		return metrics.GetOrRegisterCounter("usb.device."+name, registry)
	}
	return &stackStats{
		registry:      registry,
		setupPackets:  counter("setup_packets"),
		requestErrors: counter("request_errors"),
		transactions:  counter("transactions"),
		bytesIn:       counter("bytes_in"),
		bytesOut:      counter("bytes_out"),
		resets:        counter("resets"),
		suspends:      counter("suspends"),
		resumes:       counter("resumes"),
		sofs:          counter("sofs"),
		busErrors:     counter("bus_errors"),
	}
}

// Metrics returns the registry holding the stack's counters.
func (s *Stack) Metrics() metrics.Registry {
	return s.stats.registry
}
