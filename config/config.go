// Package config loads a VM's tuning knobs from a YAML file, the way
// the teacher's conformance package loads test manifests, and overlays
// them on vmctx.DefaultConfig so an embedder only has to name the
// fields it wants to override.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"raya/vmctx"
)

// File is the on-disk shape of a VM's configuration: every tunable
// vmctx.Config exposes, plus the handful of settings that live outside
// a running VM (log verbosity, where to snapshot to).
type File struct {
	Workers          int    `yaml:"workers,omitempty"`
	IoWorkers        int    `yaml:"io_workers,omitempty"`
	MaxHeapBytes     uint64 `yaml:"max_heap_bytes,omitempty"`
	PreemptThreshold string `yaml:"preempt_threshold,omitempty"`
	TaskTickBudget   int64  `yaml:"task_tick_budget,omitempty"`

	StackPoolSize int `yaml:"stack_pool_size,omitempty"`
	StackValueCap int `yaml:"stack_value_cap,omitempty"`
	StackRegCap   int `yaml:"stack_reg_cap,omitempty"`
	StackFrameCap int `yaml:"stack_frame_cap,omitempty"`

	LogLevel    string `yaml:"log_level,omitempty"`
	SnapshotDir string `yaml:"snapshot_dir,omitempty"`
}

// Load reads and parses path into a File. A missing or empty file is
// not an error: the caller gets a zero File, which ToVMConfig turns
// into vmctx.DefaultConfig unchanged.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}

// ToVMConfig converts f into a vmctx.Config, leaving any field f
// didn't set at zero so vmctx.Config.withDefaults supplies the
// baseline for it.
func (f File) ToVMConfig() (vmctx.Config, error) {
	cfg := vmctx.Config{
		Workers:        f.Workers,
		IoWorkers:      f.IoWorkers,
		MaxHeapBytes:   f.MaxHeapBytes,
		TaskTickBudget: f.TaskTickBudget,
		StackPoolSize:  f.StackPoolSize,
		StackValueCap:  f.StackValueCap,
		StackRegCap:    f.StackRegCap,
		StackFrameCap:  f.StackFrameCap,
	}
	if f.PreemptThreshold != "" {
		d, err := time.ParseDuration(f.PreemptThreshold)
		if err != nil {
			return vmctx.Config{}, fmt.Errorf("config: preempt_threshold: %w", err)
		}
		cfg.PreemptThreshold = d
	}
	return cfg, nil
}
