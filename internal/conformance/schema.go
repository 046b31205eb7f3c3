// Package conformance runs the named end-to-end and property scenarios
// of §8 against a real vmctx.VM, driven by a YAML manifest the way the
// teacher's conformance package drives MOO test cases from YAML — but
// since this VM has no textual source language to embed inline code
// in, a Scenario names a Go-implemented Check registered under that
// name instead of carrying expression/statement source itself.
package conformance

// Scenario is one named check the manifest asks the runner to run,
// with the metadata a teacher TestCase would carry (description, skip
// reason, a timeout) but no inline source.
type Scenario struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	TimeoutMS   int      `yaml:"timeout_ms,omitempty"`
	Skip        bool     `yaml:"skip,omitempty"`
	SkipReason  string   `yaml:"skip_reason,omitempty"`
}

// DefaultTimeoutMS applies when a Scenario doesn't set its own.
const DefaultTimeoutMS = 10_000

// Suite is a complete YAML manifest file: a named group of Scenarios,
// mirroring the shape of a teacher TestSuite without its Setup/
// Teardown/Requires blocks, which belonged to a shared MOO database
// fixture this VM has no equivalent of.
type Suite struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Scenarios   []Scenario `yaml:"scenarios"`
}
