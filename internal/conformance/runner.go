package conformance

import (
	"fmt"
	"time"
)

// Check is a Go-implemented scenario body, registered under the name
// a Scenario refers to it by. It returns a non-nil error on failure;
// Checks that need *testing.T-style fatal behavior report it through
// the returned error instead, since a Check runs on its own goroutine
// under a timeout rather than directly on the test goroutine.
type Check func() error

// Registry maps scenario names to their Check implementations, the
// Go-side counterpart of the teacher's evaluator dispatching MOO
// source per TestCase.
type Registry struct {
	checks map[string]Check
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

func (r *Registry) Register(name string, c Check) {
	r.checks[name] = c
}

// Result mirrors the teacher's TestResult: which scenario ran, whether
// it passed, and why not if it didn't.
type Result struct {
	Scenario Scenario
	Passed   bool
	Skipped  bool
	Error    error
}

// Run executes every scenario in suite against registry, enforcing
// each scenario's timeout (or DefaultTimeoutMS) by racing the Check
// against a timer on its own goroutine, the way a blocked native call
// would be bounded in the VM itself.
func Run(suite Suite, registry *Registry) []Result {
	results := make([]Result, 0, len(suite.Scenarios))
	for _, sc := range suite.Scenarios {
		results = append(results, runOne(sc, registry))
	}
	return results
}

func runOne(sc Scenario, registry *Registry) Result {
	if sc.Skip {
		return Result{Scenario: sc, Skipped: true}
	}
	check, ok := registry.checks[sc.Name]
	if !ok {
		return Result{Scenario: sc, Error: fmt.Errorf("conformance: no check registered for %q", sc.Name)}
	}

	timeout := time.Duration(sc.TimeoutMS) * time.Millisecond
	if sc.TimeoutMS == 0 {
		timeout = time.Duration(DefaultTimeoutMS) * time.Millisecond
	}

	done := make(chan error, 1)
	go func() {
		done <- check()
	}()

	select {
	case err := <-done:
		return Result{Scenario: sc, Passed: err == nil, Error: err}
	case <-time.After(timeout):
		return Result{Scenario: sc, Error: fmt.Errorf("conformance: %q exceeded %s", sc.Name, timeout)}
	}
}
