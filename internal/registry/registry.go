// Package registry holds the current value and label schema of every
// exported series. Schemas are established by the first observation of a
// metric name; later observations with a different label-key set are
// rejected, never migrated. The registry implements prometheus.Collector so
// the HTTP layer renders the text exposition format from a consistent
// snapshot.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/script-exporter/internal/labels"
)

// Kind is the exposition type of a metric series.
type Kind string

const (
	KindGauge   Kind = "gauge"
	KindCounter Kind = "counter"
)

// ErrorsSuffix is appended to a job's metric name for its companion
// execution-error counter.
const ErrorsSuffix = "_errors_total"

// LabelMismatchError reports an observation whose label-key set disagrees
// with the series' canonical schema. The series keeps its original schema
// and the observation is dropped.
type LabelMismatchError struct {
	Metric    string
	Canonical []string
	Submitted []string
}

func (e *LabelMismatchError) Error() string {
	return fmt.Sprintf("metric %q label mismatch: series has keys [%s], observation has [%s]",
		e.Metric, strings.Join(e.Canonical, ","), strings.Join(e.Submitted, ","))
}

// sample is the latest value for one concrete label-value tuple.
type sample struct {
	values []string
	value  float64
}

// series owns one metric name: help, kind, the canonical label keys set by
// its first observation, and the latest value per label-value tuple.
type series struct {
	help    string
	kind    Kind
	keys    []string
	samples map[string]*sample
}

// Registry is the single shared mutable resource between in-flight job
// executions and the exposition path. The mutex is held only for the
// duration of one write or one snapshot, never across command execution.
type Registry struct {
	mu     sync.RWMutex
	series map[string]*series
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{series: make(map[string]*series)}
}

// Observe inserts or overwrites the value for one label-value tuple of the
// named metric. The first observation of a name registers help, kind and
// the label-key set as canonical.
func (r *Registry) Observe(name, help string, kind Kind, set labels.Set, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.seriesFor(name, help, kind, set)
	if err != nil {
		return err
	}
	vals := set.Values()
	s.samples[tupleKey(vals)] = &sample{values: vals, value: value}
	return nil
}

// ObserveError increments the companion "<metric>_errors_total" counter for
// a failed run. The counter shares the job's label schema; a schema
// conflict on the error series is itself reported as a mismatch.
func (r *Registry) ObserveError(name, help string, set labels.Set) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.seriesFor(name+ErrorsSuffix, help, KindCounter, set)
	if err != nil {
		return err
	}
	vals := set.Values()
	key := tupleKey(vals)
	if existing, ok := s.samples[key]; ok {
		existing.value++
		return nil
	}
	s.samples[key] = &sample{values: vals, value: 1}
	return nil
}

// seriesFor returns the series for name, creating it with the given schema
// on first use. Callers must hold the write lock.
func (r *Registry) seriesFor(name, help string, kind Kind, set labels.Set) (*series, error) {
	s, ok := r.series[name]
	if !ok {
		s = &series{
			help:    help,
			kind:    kind,
			keys:    set.Keys(),
			samples: make(map[string]*sample),
		}
		r.series[name] = s
		return s, nil
	}
	if !equalKeys(s.keys, set.Keys()) {
		return nil, &LabelMismatchError{Metric: name, Canonical: s.keys, Submitted: set.Keys()}
	}
	return s, nil
}

// Sample is one (label-value tuple, value) entry of a snapshot.
type Sample struct {
	LabelValues []string
	Value       float64
}

// MetricFamily is the snapshot of one metric name.
type MetricFamily struct {
	Name      string
	Help      string
	Kind      Kind
	LabelKeys []string
	Samples   []Sample
}

// Snapshot returns a name-ordered, read-consistent view of every series.
// Samples within a family are ordered by label-value tuple.
func (r *Registry) Snapshot() []MetricFamily {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.series))
	for name := range r.series {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]MetricFamily, 0, len(names))
	for _, name := range names {
		s := r.series[name]
		fam := MetricFamily{
			Name:      name,
			Help:      s.help,
			Kind:      s.kind,
			LabelKeys: append([]string(nil), s.keys...),
			Samples:   make([]Sample, 0, len(s.samples)),
		}
		keys := make([]string, 0, len(s.samples))
		for k := range s.samples {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			smp := s.samples[k]
			fam.Samples = append(fam.Samples, Sample{
				LabelValues: append([]string(nil), smp.values...),
				Value:       smp.value,
			})
		}
		out = append(out, fam)
	}
	return out
}

// Describe implements prometheus.Collector. The set of series is dynamic,
// so the registry is an unchecked collector.
func (r *Registry) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector from a snapshot, so one metric's
// update is atomic relative to scrapes.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for _, fam := range r.Snapshot() {
		desc := prometheus.NewDesc(fam.Name, fam.Help, fam.LabelKeys, nil)
		valueType := prometheus.GaugeValue
		if fam.Kind == KindCounter {
			valueType = prometheus.CounterValue
		}
		for _, smp := range fam.Samples {
			m, err := prometheus.NewConstMetric(desc, valueType, smp.Value, smp.LabelValues...)
			if err != nil {
				ch <- prometheus.NewInvalidMetric(desc, err)
				continue
			}
			ch <- m
		}
	}
}

func tupleKey(values []string) string {
	return strings.Join(values, "\xff")
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
