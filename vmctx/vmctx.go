// Package vmctx wires the interpreter, scheduler, heap, and
// synchronization primitives built elsewhere in this module into one
// running VM: the SharedVmState of §9 (module registry, native
// registry, safepoint coordinator, task registry, work-stealing
// injector, timer thread) plus the mutex/semaphore/channel tables and
// task bookkeeping the interpreter's Runtime interface needs from
// outside a task's own stack.
package vmctx

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"raya/internal/auth"
	"raya/internal/gcheap"
	"raya/internal/interp"
	"raya/internal/module"
	"raya/internal/native"
	"raya/internal/reflect"
	"raya/internal/rtobject"
	"raya/internal/scheduler"
	"raya/internal/stackframe"
	"raya/internal/syncprim"
	"raya/internal/taskid"
	"raya/value"
)

// Config tunes the resource limits and worker counts of a VM (§5:
// "per VM {max_heap_bytes?, max_tasks?, max_step_budget?}"). Zero
// values fall back to DefaultConfig's defaults; MaxHeapBytes left at
// zero means the heap is unbounded. TaskTickBudget is copied onto each
// spawned task as Task.TicksLimit, but no step count is kept or
// enforced, so it sets no limit. There is no task-count limit.
type Config struct {
	Workers          int
	IoWorkers        int
	MaxHeapBytes     uint64
	PreemptThreshold time.Duration
	TaskTickBudget   int64

	StackPoolSize int
	StackValueCap int
	StackRegCap   int
	StackFrameCap int
}

// DefaultConfig returns the configuration a VM uses when the embedder
// supplies a zero Config; the config package loads these from YAML and
// overlays user overrides on top of this same baseline.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		IoWorkers:        4,
		PreemptThreshold: scheduler.DefaultPreemptThreshold,
		StackPoolSize:    256,
		StackValueCap:    64,
		StackRegCap:      32,
		StackFrameCap:    16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.IoWorkers <= 0 {
		c.IoWorkers = d.IoWorkers
	}
	if c.PreemptThreshold <= 0 {
		c.PreemptThreshold = d.PreemptThreshold
	}
	if c.StackPoolSize <= 0 {
		c.StackPoolSize = d.StackPoolSize
	}
	if c.StackValueCap <= 0 {
		c.StackValueCap = d.StackValueCap
	}
	if c.StackRegCap <= 0 {
		c.StackRegCap = d.StackRegCap
	}
	if c.StackFrameCap <= 0 {
		c.StackFrameCap = d.StackFrameCap
	}
	return c
}

// VM is a single running instance: one VmContext's heap and class/
// global state (via Interp), the SharedVmState registries, and the
// scheduler machinery that drives tasks through it. Every exported
// method is safe for concurrent use by worker goroutines.
type VM struct {
	Modules   *ModuleRegistry
	Natives   *native.Registry
	Safepoint *gcheap.SafepointCoordinator
	Tasks     *scheduler.Registry

	// Capabilities gates which bearer tokens may reach which natives.
	// A native.Func that wraps host-sensitive functionality (file
	// system, network, process control) checks
	// vm.Capabilities.Allowed(token, name) itself before proceeding;
	// the registry has no hook into NativeCall dispatch, since most
	// natives need no such check at all.
	Capabilities *auth.Registry

	// Reflect is the metadata store for reflection §3 names: class
	// shape, vtable, and ancestry queries over the entry module's
	// class table, independent of the class registry used for object
	// construction and dispatch.
	Reflect *reflect.Registry

	ip        *interp.Interp
	heap      *gcheap.Heap
	contextID uint64

	pool    *scheduler.Pool
	timers  *scheduler.TimerWheel
	io      *scheduler.IoPool
	preempt *scheduler.PreemptMonitor
	stacks  *stackframe.Pool

	cfg Config

	mu       sync.Mutex
	mutexes  map[syncprim.MutexID]*syncprim.Mutex
	sems     map[syncprim.SemaphoreID]*syncprim.Semaphore
	channels map[syncprim.ChannelID]*syncprim.Channel
	ioResult map[taskid.ID]scheduler.Result

	awaitMu sync.Mutex
	waiters map[taskid.ID][]taskid.ID // tasks parked on BlockAwaitTask, by awaitee

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a VM bound to mod as its entry module, running natives
// registered in reg. Call Start before Spawn.
func New(mod *module.Module, reg *native.Registry, cfg Config) *VM {
	cfg = cfg.withDefaults()

	contextID := uint64(1)
	heap := gcheap.NewHeap(contextID, cfg.MaxHeapBytes)
	safepoint := gcheap.NewSafepointCoordinator()

	ip := interp.New(mod, heap, reg)
	ip.Safepoint = safepoint
	ip.Reflect = reflect.New(mod)

	ctx, cancel := context.WithCancel(context.Background())

	vm := &VM{
		Modules:      NewModuleRegistry(),
		Natives:      reg,
		Safepoint:    safepoint,
		Tasks:        scheduler.NewRegistry(),
		Capabilities: auth.NewRegistry(),
		Reflect:   ip.Reflect,
		ip:        ip,
		heap:      heap,
		contextID: contextID,
		timers:    scheduler.NewTimerWheel(),
		stacks:    stackframe.NewPool(cfg.StackPoolSize, cfg.StackValueCap, cfg.StackRegCap, cfg.StackFrameCap),
		cfg:       cfg,
		mutexes:   make(map[syncprim.MutexID]*syncprim.Mutex),
		sems:      make(map[syncprim.SemaphoreID]*syncprim.Semaphore),
		channels:  make(map[syncprim.ChannelID]*syncprim.Channel),
		ioResult:  make(map[taskid.ID]scheduler.Result),
		waiters:   make(map[taskid.ID][]taskid.ID),
		ctx:       ctx,
		cancel:    cancel,
	}
	vm.Modules.Register(mod)
	vm.io = scheduler.NewIoPool(vm.onIoDone)
	vm.pool = scheduler.NewPool(cfg.Workers, vm.execute)
	vm.preempt = scheduler.NewPreemptMonitor(vm.Tasks, cfg.PreemptThreshold)
	return vm
}

// Start launches the worker pool, the I/O offload pool, the preemption
// monitor, and the timer wheel's wake thread.
func (vm *VM) Start() {
	vm.pool.Start()
	vm.io.Start(vm.cfg.IoWorkers)
	vm.preempt.Start()
	vm.wg.Add(1)
	go vm.runTimers()
	log.Printf("vmctx: started with %d workers, %d io workers", vm.cfg.Workers, vm.cfg.IoWorkers)
}

// Stop halts every subsystem and waits for their goroutines to exit.
// Tasks mid-execution are allowed to finish their current quantum.
func (vm *VM) Stop() {
	vm.cancel()
	vm.wg.Wait()
	vm.preempt.Stop()
	vm.io.Stop()
	vm.pool.Stop()
	log.Printf("vmctx: stopped")
}

func (vm *VM) runTimers() {
	defer vm.wg.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-vm.ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range vm.timers.Ready(now) {
				vm.submitByID(id)
			}
		}
	}
}

func (vm *VM) submitByID(id taskid.ID) {
	t := vm.Tasks.Get(id)
	if t == nil {
		return
	}
	vm.pool.Submit(t)
}

// Spawn starts functionID running as a new task and returns its
// identity, usable as a TaskHandle and as the argument to AwaitTask.
func (vm *VM) Spawn(functionID uint32, args []value.Value) taskid.ID {
	t := scheduler.New(vm.contextID, vm.stacks, vm.cfg.TaskTickBudget)
	t.EntryFunc = functionID
	t.EntryArgs = args
	t.QueueTime = time.Now()
	vm.Tasks.Register(t)
	vm.pool.Submit(t)
	return t.ID()
}

// SpawnMain spawns the module's named entry function (the front end's
// conventional "main"), used by cmd/rayavm to start a loaded program.
func (vm *VM) SpawnMain(name string, args []value.Value) (taskid.ID, error) {
	idx, ok := vm.ip.Mod.FunctionIndexByName(name)
	if !ok {
		return taskid.None, fmt.Errorf("vmctx: no such function %q", name)
	}
	return vm.Spawn(uint32(idx), args), nil
}

// execute runs one scheduling quantum of t: begin it if this is its
// first dispatch, otherwise resume it with whatever value its
// suspension is now owed, then route the outcome (completion, failure,
// or a fresh suspension) accordingly. This is the scheduler.Pool's
// ExecuteFunc.
func (vm *VM) execute(t *scheduler.Task) {
	token := vm.Safepoint.Register(func() []value.Value { return t.Stack.Roots() })
	defer vm.Safepoint.Unregister(token)

	var (
		result  value.Value
		outcome interp.Outcome
		err     error
	)

	if !t.Started {
		t.Started = true
		t.StartTime = time.Now()
		result, outcome, err = vm.ip.Start(t, vm, t.EntryFunc, t.EntryArgs)
	} else {
		result, outcome, err = vm.resumeSuspended(t)
	}

	switch outcome {
	case interp.OutcomeCompleted:
		t.Result = result
		t.SetState(scheduler.Completed)
		vm.finishTask(t, result, nil)
	case interp.OutcomeFailed:
		t.FailError = err
		t.SetState(scheduler.Failed)
		vm.finishTask(t, value.Null(), err)
	case interp.OutcomeSuspended:
		vm.routeSuspend(t)
	}
}

// resumeSuspended derives the value(s) a suspended task's blocking
// opcode is owed and continues it, re-deriving from the synchronization
// primitive itself rather than threading the value through WakeTask so
// that TryX stays the single source of truth for what was actually
// delivered.
func (vm *VM) resumeSuspended(t *scheduler.Task) (value.Value, interp.Outcome, error) {
	reason := t.SuspendReason
	switch reason.Kind {
	case scheduler.BlockMutexLock:
		// FIFO handoff already made t the owner (Mutex.Unlock/
		// ForceRelease only returns a waiter's ID once it has); record
		// that the way the synchronous acquire path does, so a later
		// MutexUnlock/force-release on task failure sees it held.
		t.HeldMutexes = append(t.HeldMutexes, reason.MutexID)
		return vm.ip.Resume(t, vm, value.Null())
	case scheduler.BlockSleep, scheduler.BlockSemaphoreAcquire:
		return vm.ip.Resume(t, vm, value.Null())
	case scheduler.BlockChannelSend:
		return vm.ip.Resume(t, vm, value.BoxBool(true))
	case scheduler.BlockChannelReceive:
		outcome := vm.ChannelTryReceive(reason.ChannelID, t.ID())
		if outcome.WakeSender != taskid.None {
			vm.WakeTask(outcome.WakeSender)
		}
		if outcome.Got {
			return vm.ip.ResumeN(t, vm, outcome.Value, value.BoxBool(true))
		}
		return vm.ip.ResumeN(t, vm, value.Null(), value.BoxBool(false))
	case scheduler.BlockAwaitTask:
		v, done, err := vm.TaskResult(reason.AwaitTask)
		if !done {
			// Spurious wake (shouldn't happen: WakeTask for an awaiter
			// only fires from finishTask once the awaitee is terminal).
			// Re-park rather than risk reading a zero Value as real.
			t.SetState(scheduler.Suspended)
			return value.Null(), interp.OutcomeSuspended, nil
		}
		if err != nil {
			if ut, ok := err.(*interp.UncaughtThrow); ok {
				return vm.ip.ResumeError(t, vm, ut.Value)
			}
			msg, mkErr := rtobject.NewString(vm.heap, err.Error())
			if mkErr != nil {
				msg = value.Null()
			}
			return vm.ip.ResumeError(t, vm, msg)
		}
		return vm.ip.Resume(t, vm, v)
	case scheduler.BlockIoWait:
		vm.mu.Lock()
		res, ok := vm.ioResult[t.ID()]
		delete(vm.ioResult, t.ID())
		vm.mu.Unlock()
		if !ok {
			t.SetState(scheduler.Suspended)
			return value.Null(), interp.OutcomeSuspended, nil
		}
		if res.Err != nil {
			msg, mkErr := rtobject.NewString(vm.heap, res.Err.Error())
			if mkErr != nil {
				msg = value.Null()
			}
			return vm.ip.ResumeError(t, vm, msg)
		}
		return vm.ip.Resume(t, vm, res.Value)
	default:
		return vm.ip.Resume(t, vm, value.Null())
	}
}

// routeSuspend hands a freshly suspended task to whatever wait
// structure its SuspendReason names. Mutex/semaphore/channel waiters
// are already recorded by the primitive itself at the TryX call that
// caused the suspension (§4.4); only sleep (the timer wheel) and await
// (this VM's waiter list) need bookkeeping here.
func (vm *VM) routeSuspend(t *scheduler.Task) {
	switch t.SuspendReason.Kind {
	case scheduler.BlockNone:
		// A bare yield: no external event will ever wake this task, so
		// hand it straight back to Ready. workerLoop's post-execute
		// switch requeues it on the same worker's own deque rather than
		// the shared injector, since we're still inside the synchronous
		// call from that loop.
		t.SetState(scheduler.Ready)
	case scheduler.BlockSleep:
		vm.timers.Schedule(t.ID(), t.SuspendReason.WakeAt)
	case scheduler.BlockAwaitTask:
		vm.registerAwaiter(t.SuspendReason.AwaitTask, t.ID())
	case scheduler.BlockMutexLock, scheduler.BlockSemaphoreAcquire,
		scheduler.BlockChannelSend, scheduler.BlockChannelReceive,
		scheduler.BlockIoWait:
		// Already enqueued (sync primitives) or submitted (I/O pool);
		// the task simply waits in the registry until WakeTask fires.
	}
}

func (vm *VM) registerAwaiter(awaitee, waiter taskid.ID) {
	vm.awaitMu.Lock()
	defer vm.awaitMu.Unlock()
	vm.waiters[awaitee] = append(vm.waiters[awaitee], waiter)
}

// finishTask records a task's terminal result, wakes every task that
// awaited it, and force-releases any mutexes it still held (§8: "a
// task that crashes with the lock held ... must have released the
// lock").
func (vm *VM) finishTask(t *scheduler.Task, result value.Value, failErr error) {
	for _, id := range t.HeldMutexes {
		if next := vm.MutexForceRelease(id); next != taskid.None {
			vm.WakeTask(next)
		}
	}
	t.HeldMutexes = nil

	vm.awaitMu.Lock()
	waiting := vm.waiters[t.ID()]
	delete(vm.waiters, t.ID())
	vm.awaitMu.Unlock()

	for _, w := range waiting {
		vm.WakeTask(w)
	}
}

// --- interp.Runtime ---

func (vm *VM) NewMutex() syncprim.MutexID {
	id := syncprim.NewMutexID()
	vm.mu.Lock()
	vm.mutexes[id] = syncprim.NewMutex(id)
	vm.mu.Unlock()
	return id
}

func (vm *VM) mutex(id syncprim.MutexID) *syncprim.Mutex {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.mutexes[id]
}

func (vm *VM) MutexTryLock(id syncprim.MutexID, owner taskid.ID) bool {
	m := vm.mutex(id)
	if m == nil {
		return false
	}
	return m.TryLock(owner)
}

func (vm *VM) MutexUnlock(id syncprim.MutexID, owner taskid.ID) (taskid.ID, error) {
	m := vm.mutex(id)
	if m == nil {
		return taskid.None, fmt.Errorf("vmctx: no such mutex %d", id)
	}
	return m.Unlock(owner)
}

func (vm *VM) MutexForceRelease(id syncprim.MutexID) taskid.ID {
	m := vm.mutex(id)
	if m == nil {
		return taskid.None
	}
	return m.ForceRelease()
}

func (vm *VM) NewSemaphore(initial int) syncprim.SemaphoreID {
	id := syncprim.NewSemaphoreID()
	vm.mu.Lock()
	vm.sems[id] = syncprim.NewSemaphore(id, initial)
	vm.mu.Unlock()
	return id
}

func (vm *VM) semaphore(id syncprim.SemaphoreID) *syncprim.Semaphore {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.sems[id]
}

func (vm *VM) SemTryAcquire(id syncprim.SemaphoreID, owner taskid.ID) bool {
	s := vm.semaphore(id)
	if s == nil {
		return false
	}
	return s.TryAcquire(owner)
}

func (vm *VM) SemRelease(id syncprim.SemaphoreID) taskid.ID {
	s := vm.semaphore(id)
	if s == nil {
		return taskid.None
	}
	return s.Release()
}

func (vm *VM) NewChannel(capacity int) syncprim.ChannelID {
	id := syncprim.NewChannelID()
	vm.mu.Lock()
	vm.channels[id] = syncprim.NewChannel(id, capacity)
	vm.mu.Unlock()
	return id
}

func (vm *VM) channel(id syncprim.ChannelID) *syncprim.Channel {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.channels[id]
}

func (vm *VM) ChannelTrySend(id syncprim.ChannelID, sender taskid.ID, v value.Value) (syncprim.SendOutcome, error) {
	c := vm.channel(id)
	if c == nil {
		return syncprim.SendOutcome{}, fmt.Errorf("vmctx: no such channel %d", id)
	}
	return c.TrySend(sender, v)
}

func (vm *VM) ChannelTryReceive(id syncprim.ChannelID, receiver taskid.ID) syncprim.ReceiveOutcome {
	c := vm.channel(id)
	if c == nil {
		return syncprim.ReceiveOutcome{}
	}
	return c.TryReceive(receiver)
}

func (vm *VM) ChannelClose(id syncprim.ChannelID) []taskid.ID {
	c := vm.channel(id)
	if c == nil {
		return nil
	}
	return c.Close()
}

func (vm *VM) ChannelIsClosed(id syncprim.ChannelID) bool {
	c := vm.channel(id)
	if c == nil {
		return true
	}
	return c.IsClosed()
}

func (vm *VM) SpawnFunction(functionID uint32, args []value.Value) taskid.ID {
	return vm.Spawn(functionID, args)
}

// WakeTask moves a Suspended task back onto the pool's Ready queue.
// A no-op if the task is unknown or not actually suspended (guards
// against a double wake racing two wakers of the same primitive).
func (vm *VM) WakeTask(id taskid.ID) {
	t := vm.Tasks.Get(id)
	if t == nil || t.State() != scheduler.Suspended {
		return
	}
	vm.timers.Cancel(id)
	vm.pool.Submit(t)
}

// CancelTask requests cooperative cancellation of id (§5: "atomically
// requests cancellation... If the task is already Completed, cancellation
// is a no-op"). The target raises a Cancelled exception itself, at its
// own next safepoint or suspension resume; CancelTask only sets the flag
// a running or suspended task later observes, rather than forcing it
// off whatever it is blocked on.
func (vm *VM) CancelTask(id taskid.ID) {
	t := vm.Tasks.Get(id)
	if t == nil {
		return
	}
	switch t.State() {
	case scheduler.Completed, scheduler.Failed:
		return
	}
	t.RequestCancel()
}

func (vm *VM) TaskResult(id taskid.ID) (value.Value, bool, error) {
	t := vm.Tasks.Get(id)
	if t == nil {
		return value.Null(), false, fmt.Errorf("vmctx: no such task %d", id)
	}
	switch t.State() {
	case scheduler.Completed:
		return t.Result, true, nil
	case scheduler.Failed:
		return value.Null(), true, t.FailError
	default:
		return value.Null(), false, nil
	}
}

// Heap exposes the VM's object heap so an embedder can read fields out
// of a returned string/array/object value with rtobject's accessors.
func (vm *VM) Heap() *gcheap.Heap {
	return vm.heap
}

// ClassOf reports the class an instance value was constructed with,
// delegating to the Reflect metadata store.
func (vm *VM) ClassOf(v value.Value) (int, bool) {
	return reflect.ClassOf(vm.heap, v)
}

// IsInstanceOf reports whether v is an instance of classID or one of
// its subclasses.
func (vm *VM) IsInstanceOf(v value.Value, classID int) bool {
	return vm.Reflect.IsInstanceOf(vm.heap, v, classID)
}

func (vm *VM) ScheduleSleep(task taskid.ID, wakeAt time.Time) {
	vm.timers.Schedule(task, wakeAt)
}

func (vm *VM) NativeCall(ctx native.Context, id int, args []value.Value) native.CallResult {
	fn, ok := vm.Natives.ByID(id)
	if !ok {
		return native.Error(fmt.Sprintf("vmctx: no such native function %d", id))
	}
	return fn(ctx, args)
}

func (vm *VM) ScheduleNativeWork(task taskid.ID, req native.IoRequest) {
	vm.io.Submit(scheduler.IoJob{
		Task: task,
		Work: func() scheduler.Result {
			completion := req.Work()
			return scheduler.Result{Value: completion.Value, Err: completion.Err}
		},
	})
}

func (vm *VM) onIoDone(task taskid.ID, res scheduler.Result) {
	vm.mu.Lock()
	vm.ioResult[task] = res
	vm.mu.Unlock()
	vm.WakeTask(task)
}
