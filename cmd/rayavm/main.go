// Command rayavm loads a compiled module and runs its entry function
// to completion, the way cmd/barn loads a database and starts serving
// it, trimmed to what a bytecode runtime needs: no telnet listener, no
// database inspection flags, just "load this module, run it, report
// what it returned or why it failed."
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"raya/config"
	"raya/internal/interp"
	"raya/internal/module"
	"raya/internal/native"
	"raya/internal/rtobject"
	"raya/internal/taskid"
	"raya/value"
	"raya/vmctx"
)

func main() {
	modPath := flag.String("module", "", "Compiled module file to run (required)")
	entry := flag.String("entry", "main", "Name of the entry function to spawn")
	configPath := flag.String("config", "", "VM tuning config YAML (optional)")
	argStrs := flag.String("args", "", "Comma-separated string arguments passed to the entry function")
	timeout := flag.Duration("timeout", 30*time.Second, "How long to wait for the entry task to finish")

	flag.Parse()

	if *modPath == "" {
		fmt.Fprintln(os.Stderr, "rayavm: -module is required")
		flag.Usage()
		os.Exit(2)
	}

	f, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("rayavm: %v", err)
	}
	cfg, err := f.ToVMConfig()
	if err != nil {
		log.Fatalf("rayavm: %v", err)
	}

	mf, err := os.Open(*modPath)
	if err != nil {
		log.Fatalf("rayavm: %v", err)
	}
	mod, err := module.Read(mf)
	mf.Close()
	if err != nil {
		log.Fatalf("rayavm: failed to read module %s: %v", *modPath, err)
	}
	log.Printf("rayavm: loaded %q (%d functions, checksum %x)", mod.Name, len(mod.Functions), mod.Checksum[:8])

	vm := vmctx.New(mod, native.NewRegistry(), cfg)
	vm.Start()
	defer vm.Stop()

	args, err := entryArgs(vm, *argStrs)
	if err != nil {
		log.Fatalf("rayavm: %v", err)
	}

	id, err := vm.SpawnMain(*entry, args)
	if err != nil {
		log.Fatalf("rayavm: %v", err)
	}

	result, taskErr, err := waitForResult(vm, id, *timeout)
	if err != nil {
		log.Fatalf("rayavm: %v", err)
	}
	if taskErr != nil {
		var ut *interp.UncaughtThrow
		if errors.As(taskErr, &ut) {
			fmt.Fprintf(os.Stderr, "uncaught error: %s\n", describeValue(vm, ut.Value))
		} else {
			fmt.Fprintf(os.Stderr, "uncaught error: %v\n", taskErr)
		}
		os.Exit(1)
	}
	fmt.Println(describeValue(vm, result))
}

// entryArgs turns a comma-separated flag into string Values allocated
// on the VM's heap, the entry function's positional arguments.
func entryArgs(vm *vmctx.VM, raw string) ([]value.Value, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	args := make([]value.Value, len(parts))
	for i, p := range parts {
		v, err := rtobject.NewString(vm.Heap(), p)
		if err != nil {
			return nil, fmt.Errorf("allocating argument %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

// waitForResult polls TaskResult until the entry task reaches a
// terminal state or timeout elapses. The interpreter has no
// notification channel for task completion visible to an embedder, so
// this is the same poll the conformance checks use against a running
// VM. The returned task error (if any) is the task's own FailError,
// distinct from the final error result which only ever reports a
// timeout or a bad task id.
func waitForResult(vm *vmctx.VM, id taskid.ID, timeout time.Duration) (value.Value, error, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		v, done, taskErr := vm.TaskResult(id)
		if done {
			return v, taskErr, nil
		}
		time.Sleep(time.Millisecond)
	}
	return value.Null(), nil, fmt.Errorf("task %d never reached a terminal state within %s", id, timeout)
}

func describeValue(vm *vmctx.VM, v value.Value) string {
	switch value.KindOf(v) {
	case value.KindI32:
		return fmt.Sprintf("%d", value.UnboxI32(v))
	case value.KindF64:
		return fmt.Sprintf("%g", value.UnboxF64(v))
	case value.KindBool:
		return fmt.Sprintf("%t", value.UnboxBool(v))
	case value.KindNull:
		return "null"
	case value.KindPtr:
		if s, ok := rtobject.AsString(vm.Heap(), v); ok {
			return s.Data
		}
		if a, ok := rtobject.AsArray(vm.Heap(), v); ok {
			parts := make([]string, len(a.Elems))
			for i, e := range a.Elems {
				parts[i] = describeValue(vm, e)
			}
			return "[" + strings.Join(parts, ", ") + "]"
		}
		return "<object>"
	default:
		return "<unknown>"
	}
}
