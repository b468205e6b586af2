// Package executor runs one job's external command and classifies its
// captured stdout into numeric observations. Classification is decided here
// once; downstream code never re-inspects raw output text.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/script-exporter/internal/labels"
	"github.com/script-exporter/internal/registry"
)

// Job is one configured external command with its execution interval and
// metric identity. Jobs are built once at load time; only the scheduler
// tracks their due times.
type Job struct {
	Name     string
	Command  []string
	Interval time.Duration
	Metric   string
	Help     string
	Kind     registry.Kind
	Labels   labels.Set
	Timeout  time.Duration
}

// Observation is one (component, numeric value) result from a single run.
// Scalar output produces a single observation with component "main"; a JSON
// object of numbers produces one observation per key.
type Observation struct {
	Component string
	Value     float64
}

// MainComponent is the component assigned to scalar command output.
const MainComponent = "main"

// ErrorKind distinguishes the failure modes of one run.
type ErrorKind int

const (
	// KindLaunch means the command could not be started at all.
	KindLaunch ErrorKind = iota
	// KindExit means the command ran but returned a non-zero status.
	KindExit
	// KindTimeout means the command exceeded the job's timeout.
	KindTimeout
	// KindParse means the output was neither a number nor a JSON object of
	// numbers.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindLaunch:
		return "launch"
	case KindExit:
		return "exit"
	case KindTimeout:
		return "timeout"
	case KindParse:
		return "parse"
	}
	return "unknown"
}

// Error is a classified execution failure. None of these are fatal to the
// process; the run is skipped and the previous series values stay in place.
type Error struct {
	Kind ErrorKind
	Job  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("job %q %s error: %v", e.Job, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Executor runs job commands via os/exec.
type Executor struct{}

// New creates an executor.
func New() *Executor {
	return &Executor{}
}

// Execute runs the job's command to completion and classifies its stdout.
// A returned error is always of type *Error.
func (e *Executor) Execute(ctx context.Context, job *Job) ([]Observation, error) {
	cmd := exec.CommandContext(ctx, job.Command[0], job.Command[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{Kind: KindTimeout, Job: job.Name, Err: ctx.Err()}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &Error{
				Kind: KindExit,
				Job:  job.Name,
				Err:  fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String())),
			}
		}
		return nil, &Error{Kind: KindLaunch, Job: job.Name, Err: err}
	}

	obs, err := classify(strings.TrimSpace(stdout.String()))
	if err != nil {
		return nil, &Error{Kind: KindParse, Job: job.Name, Err: err}
	}
	return obs, nil
}

// classify turns trimmed stdout into observations. Tried in order: a single
// number, then a JSON object whose values are all numeric.
func classify(output string) ([]Observation, error) {
	if v, err := strconv.ParseFloat(output, 64); err == nil {
		return []Observation{{Component: MainComponent, Value: v}}, nil
	}

	obs, ok := parseJSONObject(output)
	if !ok {
		return nil, fmt.Errorf("output is neither a number nor a JSON object of numbers: %q", truncate(output, 120))
	}
	return obs, nil
}

// parseJSONObject accepts only an object whose values are all numbers.
// Observations come back in key order so repeated runs are deterministic.
func parseJSONObject(output string) ([]Observation, bool) {
	dec := json.NewDecoder(strings.NewReader(output))
	dec.UseNumber()

	var raw map[string]json.Number
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}
	// reject trailing garbage after the object
	if dec.More() {
		return nil, false
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	obs := make([]Observation, 0, len(keys))
	for _, k := range keys {
		v, err := raw[k].Float64()
		if err != nil {
			return nil, false
		}
		obs = append(obs, Observation{Component: k, Value: v})
	}
	return obs, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
