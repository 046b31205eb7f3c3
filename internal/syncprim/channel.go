package syncprim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"raya/internal/taskid"
	"raya/value"
)

var nextChannelID uint64

// ChannelID identifies a Channel for snapshotting and bytecode handles.
type ChannelID uint64

// NewChannelID mints a fresh, process-unique channel identity.
func NewChannelID() ChannelID {
	return ChannelID(atomic.AddUint64(&nextChannelID, 1))
}

// ChannelError reports an operation on a closed channel.
type ChannelError struct {
	Op string
	ID ChannelID
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %d: %s: channel closed", e.ID, e.Op)
}

type sendWaiter struct {
	task  taskid.ID
	value value.Value
}

// Channel is a bounded, FIFO channel. Capacity 0 means pure rendezvous:
// a send only completes by handing directly to a waiting receiver, never
// through the (empty) buffer.
//
// Both directions are independently FIFO: the n-th successful receive
// observes the value from the n-th successful send, and senders queued
// behind a full buffer are drained in the order they arrived.
type Channel struct {
	id       ChannelID
	capacity int

	mu sync.Mutex

	buf []value.Value

	sendWaiters []sendWaiter
	recvWaiters []taskid.ID

	closed bool
}

// NewChannel creates an open channel with the given bounded capacity.
func NewChannel(id ChannelID, capacity int) *Channel {
	return &Channel{
		id:       id,
		capacity: capacity,
		buf:      make([]value.Value, 0, capacity),
	}
}

// ID returns the channel's identity.
func (c *Channel) ID() ChannelID { return c.id }

// Capacity returns the channel's configured buffer capacity.
func (c *Channel) Capacity() int { return c.capacity }

// SendOutcome reports the result of a TrySend.
type SendOutcome struct {
	// Delivered is true when the value was accepted (buffered or handed
	// directly to a waiting receiver).
	Delivered bool
	// WakeReceiver is non-zero when a parked receiver was just given a
	// value directly and should be moved back to Ready.
	WakeReceiver taskid.ID
}

// TrySend attempts to hand v into the channel on behalf of sender. If a
// receiver is already parked waiting, v is delivered to it directly
// (bypassing the buffer) and WakeReceiver names that task. Otherwise, if
// the buffer has room, v is enqueued. If neither applies, TrySend
// enqueues (sender, v) on the FIFO send-wait list and returns
// Delivered=false — the caller must suspend sender with BlockReason
// ChannelSend{channel_id}; the queued value is handed off by a later
// TryReceive.
func (c *Channel) TrySend(sender taskid.ID, v value.Value) (SendOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return SendOutcome{}, &ChannelError{Op: "send", ID: c.id}
	}

	if len(c.recvWaiters) > 0 {
		who := c.recvWaiters[0]
		c.recvWaiters = c.recvWaiters[1:]
		c.buf = append(c.buf, v)
		return SendOutcome{Delivered: true, WakeReceiver: who}, nil
	}

	if len(c.buf) < c.capacity {
		c.buf = append(c.buf, v)
		return SendOutcome{Delivered: true}, nil
	}

	c.sendWaiters = append(c.sendWaiters, sendWaiter{task: sender, value: v})
	return SendOutcome{Delivered: false}, nil
}

// ReceiveOutcome reports the result of a TryReceive.
type ReceiveOutcome struct {
	Got   bool
	Value value.Value
	// WakeSender is non-zero when a parked sender's queued value was
	// just admitted into the buffer and that sender should be moved
	// back to Ready.
	WakeSender taskid.ID
}

// TryReceive attempts to take a value on behalf of receiver. If the
// channel is closed and drained, Got is false with no error. Otherwise:
// if the buffer holds a value, it is popped (and a queued sender's value
// backfills the buffer, waking that sender); if the buffer is empty but
// a sender is parked (the capacity-0 rendezvous case), its value is
// taken directly and that sender is woken; otherwise receiver is
// enqueued on the FIFO recv-wait list and Got is false.
func (c *Channel) TryReceive(receiver taskid.ID) ReceiveOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) > 0 {
		v := c.buf[0]
		c.buf = c.buf[1:]
		out := ReceiveOutcome{Got: true, Value: v}
		if len(c.sendWaiters) > 0 {
			w := c.sendWaiters[0]
			c.sendWaiters = c.sendWaiters[1:]
			c.buf = append(c.buf, w.value)
			out.WakeSender = w.task
		}
		return out
	}

	if len(c.sendWaiters) > 0 {
		w := c.sendWaiters[0]
		c.sendWaiters = c.sendWaiters[1:]
		return ReceiveOutcome{Got: true, Value: w.value, WakeSender: w.task}
	}

	if c.closed {
		return ReceiveOutcome{Got: false}
	}

	c.recvWaiters = append(c.recvWaiters, receiver)
	return ReceiveOutcome{Got: false}
}

// Close marks the channel closed. Already-buffered and already-queued
// sender values remain receivable; new sends fail with ChannelError.
// Parked receivers with nothing left to receive must be woken by the
// caller (the scheduler) to observe Got=false on their next TryReceive.
func (c *Channel) Close() []taskid.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if len(c.buf) > 0 || len(c.sendWaiters) > 0 {
		return nil
	}
	woken := c.recvWaiters
	c.recvWaiters = nil
	return woken
}

// IsClosed reports whether Close has been called.
func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len reports the number of values currently buffered.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}
