// Package metrics holds the agent's prometheus collectors. Collectors are
// registered on a private registry served by Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	registry = prometheus.NewPedanticRegistry()

	// Namespace is prepended to every metric name.
	Namespace = "hwagent"

	// LabelValueOutcomeSuccess is used as a successful outcome of an operation
	LabelValueOutcomeSuccess = "success"

	// LabelValueOutcomeFail is used as an unsuccessful outcome of an operation
	LabelValueOutcomeFail = "fail"

	// HardwareCalls counts hardware API calls by operation, object type and
	// outcome.
	HardwareCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "hardware_calls_total",
		Help:      "Hardware API calls, tagged by operation, object type and outcome",
	}, []string{"op", "object_type", "outcome"})

	// StoreObjects is the number of objects held by each store.
	StoreObjects = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "store_objects",
		Help:      "Hardware objects tracked by the object stores",
	}, []string{"object_type"})

	// ManagedEntries is the number of managed entries per kind and state.
	ManagedEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "managed_entries",
		Help:      "Managed software entries, tagged by kind and realization state",
	}, []string{"kind", "state"})

	// DeltaApplications counts applied state deltas by outcome.
	DeltaApplications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "delta_applications_total",
		Help:      "State deltas applied, tagged by outcome",
	}, []string{"outcome"})

	// L2LearningUpdates counts learning callbacks from the driver.
	L2LearningUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "l2_learning_updates_total",
		Help:      "L2 learning updates received, tagged by update type",
	}, []string{"type"})
)

func init() {
	MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}))
	MustRegister(collectors.NewGoCollector())

	MustRegister(HardwareCalls)
	MustRegister(StoreObjects)
	MustRegister(ManagedEntries)
	MustRegister(DeltaApplications)
	MustRegister(L2LearningUpdates)
}

// MustRegister adds the collector to the registry, exposing this metric to
// prometheus scrapes.
func MustRegister(c prometheus.Collector) {
	registry.MustRegister(c)
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Outcome maps an error to an outcome label value.
func Outcome(err error) string {
	if err != nil {
		return LabelValueOutcomeFail
	}
	return LabelValueOutcomeSuccess
}

// GetCounterValue returns the current value stored for the counter
func GetCounterValue(m prometheus.Counter) float64 {
	var pm dto.Metric
	if err := m.Write(&pm); err == nil {
		return *pm.Counter.Value
	}
	return 0
}

// GetGaugeValue returns the current value stored for the gauge
func GetGaugeValue(m prometheus.Gauge) float64 {
	var pm dto.Metric
	if err := m.Write(&pm); err == nil {
		return *pm.Gauge.Value
	}
	return 0
}
