// Package taskid defines the Task identity type shared by the scheduler
// and the synchronization primitives without creating an import cycle
// between them (mirrors the teacher's use of a bare types.ObjID as the
// identity carried across task/db/vm package boundaries).
package taskid

import "sync/atomic"

// ID identifies a Task for the lifetime of a VM.
type ID uint64

var counter uint64

// Next mints a fresh, process-unique Task ID.
func Next() ID {
	return ID(atomic.AddUint64(&counter, 1))
}

// None is never returned by Next and marks "no task" in contexts that
// need an explicit absence (e.g. an unowned Mutex).
const None ID = 0
