// Package labels merges global and per-job label sets into the label schema
// attached to every exported sample. The runtime-assigned "component" key is
// reserved: a user-supplied key of that name is renamed so it can never
// shadow the runtime value.
package labels

import "sort"

const (
	// Component is the reserved label key assigned by the exporter at runtime.
	Component = "component"
	// UserDefinedComponent is where a user-supplied "component" key is moved.
	UserDefinedComponent = "user_defined_component"
)

// Set is an immutable label name->value mapping with a stable key order.
type Set struct {
	keys []string
	vals map[string]string
}

// Resolve merges global labels with a job's static labels and assigns the
// runtime component value. Merge order: global first, job overlays (the job
// value wins on key collision), then any user "component" key is renamed to
// "user_defined_component" before the runtime component is set.
func Resolve(global, job map[string]string, component string) Set {
	vals := make(map[string]string, len(global)+len(job)+1)
	for k, v := range global {
		vals[k] = v
	}
	for k, v := range job {
		vals[k] = v
	}
	if v, ok := vals[Component]; ok {
		vals[UserDefinedComponent] = v
	}
	vals[Component] = component

	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Set{keys: keys, vals: vals}
}

// HasReservedKey reports whether the given static labels contain the
// reserved "component" key. The config loader uses this to warn about the
// rename at load time.
func HasReservedKey(job map[string]string) bool {
	_, ok := job[Component]
	return ok
}

// WithComponent returns a copy of the set with the component value replaced.
// The key schema is unchanged, so observations produced from the same job
// always share one canonical key set.
func (s Set) WithComponent(component string) Set {
	vals := make(map[string]string, len(s.vals))
	for k, v := range s.vals {
		vals[k] = v
	}
	vals[Component] = component
	return Set{keys: s.keys, vals: vals}
}

// Keys returns the label names in sorted order.
func (s Set) Keys() []string {
	return s.keys
}

// Values returns the label values in key order, aligned with Keys.
func (s Set) Values() []string {
	out := make([]string, len(s.keys))
	for i, k := range s.keys {
		out[i] = s.vals[k]
	}
	return out
}

// Get returns the value for a label name.
func (s Set) Get(key string) (string, bool) {
	v, ok := s.vals[key]
	return v, ok
}

// Len returns the number of labels in the set.
func (s Set) Len() int {
	return len(s.keys)
}
