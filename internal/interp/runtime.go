package interp

import (
	"time"

	"raya/internal/native"
	"raya/internal/syncprim"
	"raya/internal/taskid"
	"raya/value"
)

// Runtime is everything the dispatch loop needs from outside the
// current Task's own stack: the synchronization primitive tables, task
// spawn/await/wake, sleep scheduling, and native dispatch. vmctx
// supplies the concrete implementation once the VM's shared state
// exists; Interp only depends on this narrow interface so the opcode
// handlers never reach into the scheduler or heap directly.
type Runtime interface {
	NewMutex() syncprim.MutexID
	MutexTryLock(id syncprim.MutexID, owner taskid.ID) bool
	MutexUnlock(id syncprim.MutexID, owner taskid.ID) (taskid.ID, error)
	MutexForceRelease(id syncprim.MutexID) taskid.ID

	NewSemaphore(initial int) syncprim.SemaphoreID
	SemTryAcquire(id syncprim.SemaphoreID, owner taskid.ID) bool
	SemRelease(id syncprim.SemaphoreID) taskid.ID

	NewChannel(capacity int) syncprim.ChannelID
	ChannelTrySend(id syncprim.ChannelID, sender taskid.ID, v value.Value) (syncprim.SendOutcome, error)
	ChannelTryReceive(id syncprim.ChannelID, receiver taskid.ID) syncprim.ReceiveOutcome
	ChannelClose(id syncprim.ChannelID) []taskid.ID
	ChannelIsClosed(id syncprim.ChannelID) bool

	SpawnFunction(functionID uint32, args []value.Value) taskid.ID
	WakeTask(id taskid.ID)
	TaskResult(id taskid.ID) (value.Value, bool, error)
	ScheduleSleep(task taskid.ID, wakeAt time.Time)

	// CancelTask requests cooperative cancellation of id; a no-op if
	// id names a task that has already reached a terminal state.
	CancelTask(id taskid.ID)

	NativeCall(ctx native.Context, id int, args []value.Value) native.CallResult

	// ScheduleNativeWork hands req.Work to the scheduler's I/O offload
	// pool; its completion resumes task with the resulting value or
	// error.
	ScheduleNativeWork(task taskid.ID, req native.IoRequest)
}

func syncprimMutexID(id uint64) syncprim.MutexID         { return syncprim.MutexID(id) }
func syncprimChannelID(id uint64) syncprim.ChannelID     { return syncprim.ChannelID(id) }
func syncprimSemaphoreID(id uint64) syncprim.SemaphoreID { return syncprim.SemaphoreID(id) }
