package quic

import (
	"github.com/docker/go-metrics"
)

// bindingNamespace is the docker/go-metrics namespace every Binding
// registers its counters/gauges under, grounded on
// distribution-distribution/metrics/prometheus.go's
// metrics.NewNamespace(prefix, subsystem, labels) pattern.
var bindingNamespace = metrics.NewNamespace("quic", "binding", nil)

// bindingMetrics instruments the receive/send/stateless paths described in
// spec §2 and §4.4. A nil *bindingMetrics is never passed to a Binding;
// newBindingMetrics(nil) builds one against the package-wide
// bindingNamespace, and tests may build their own private namespace so
// metrics registration doesn't collide across parallel test bindings.
type bindingMetrics struct {
	datagramsReceived metrics.Counter
	datagramsDropped  metrics.LabeledCounter
	statelessQueued   metrics.LabeledCounter
	statelessOpsGauge metrics.Gauge
	connsCreated      metrics.Counter
	connsCollided     metrics.Counter
}

func newBindingMetrics(ns *metrics.Namespace) *bindingMetrics {
	if ns == nil {
		ns = bindingNamespace
	}
	m := &bindingMetrics{
		datagramsReceived: ns.NewCounter("datagrams_received_total", "datagrams handed to the receive pipeline"),
		datagramsDropped:  ns.NewLabeledCounter("datagrams_dropped_total", "datagrams dropped on the receive path", "reason"),
		statelessQueued:   ns.NewLabeledCounter("stateless_operations_queued_total", "stateless responses queued", "kind"),
		statelessOpsGauge: ns.NewGauge("stateless_operations_in_flight", "in-flight stateless operations", metrics.Total),
		connsCreated:      ns.NewCounter("connections_created_total", "connections created from the receive path"),
		connsCollided:     ns.NewCounter("connections_collided_total", "connection creations that lost an AddRemoteHash race"),
	}
	return m
}

func statelessKindLabel(k statelessOpKind) string {
	switch k {
	case statelessOpVN:
		return "version_negotiation"
	case statelessOpRetry:
		return "retry"
	default:
		return "stateless_reset"
	}
}

func init() {
	metrics.Register(bindingNamespace)
}
