package syncprim

import (
	"encoding/binary"
	"io"

	"raya/internal/taskid"
	"raya/value"
)

// SerializedMutex is the on-disk form of a Mutex used by the snapshot
// writer: mutex ID, current owner (0 = unlocked), and the FIFO wait
// queue, little-endian throughout.
type SerializedMutex struct {
	MutexID   MutexID
	Owner     taskid.ID
	WaitQueue []taskid.ID
}

// Serialize captures a Mutex's current owner and wait queue.
func (m *Mutex) Serialize() SerializedMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := make([]taskid.ID, len(m.waiters))
	copy(queue, m.waiters)
	return SerializedMutex{MutexID: m.id, Owner: m.owner, WaitQueue: queue}
}

// RestoreMutex reconstructs a Mutex from its serialized form.
func RestoreMutex(s SerializedMutex) *Mutex {
	m := NewMutex(s.MutexID)
	m.owner = s.Owner
	m.waiters = append([]taskid.ID(nil), s.WaitQueue...)
	return m
}

// Encode writes the serialized mutex: 8 bytes mutex ID, 1 byte owner
// presence + 8 bytes owner if present, 4 bytes wait-queue length, then
// 8 bytes per queued task ID.
func (s SerializedMutex) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(s.MutexID)); err != nil {
		return err
	}
	if s.Owner != taskid.None {
		if _, err := w.Write([]byte{1}); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(s.Owner)); err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s.WaitQueue))); err != nil {
		return err
	}
	for _, t := range s.WaitQueue {
		if err := binary.Write(w, binary.LittleEndian, uint64(t)); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMutex reads a SerializedMutex written by Encode.
func DecodeMutex(r io.Reader) (SerializedMutex, error) {
	var out SerializedMutex

	var rawID uint64
	if err := binary.Read(r, binary.LittleEndian, &rawID); err != nil {
		return out, err
	}
	out.MutexID = MutexID(rawID)

	var presence [1]byte
	if _, err := io.ReadFull(r, presence[:]); err != nil {
		return out, err
	}
	if presence[0] == 1 {
		var owner uint64
		if err := binary.Read(r, binary.LittleEndian, &owner); err != nil {
			return out, err
		}
		out.Owner = taskid.ID(owner)
	}

	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return out, err
	}
	out.WaitQueue = make([]taskid.ID, n)
	for i := range out.WaitQueue {
		var t uint64
		if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
			return out, err
		}
		out.WaitQueue[i] = taskid.ID(t)
	}
	return out, nil
}

// SerializedSemaphore is the on-disk form of a Semaphore.
type SerializedSemaphore struct {
	SemaphoreID SemaphoreID
	Permits     uint32
	WaitQueue   []taskid.ID
}

// Serialize captures a Semaphore's current permit count and wait queue.
func (s *Semaphore) Serialize() SerializedSemaphore {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := make([]taskid.ID, len(s.waiters))
	copy(queue, s.waiters)
	return SerializedSemaphore{SemaphoreID: s.id, Permits: uint32(s.permits), WaitQueue: queue}
}

// RestoreSemaphore reconstructs a Semaphore from its serialized form.
func RestoreSemaphore(s SerializedSemaphore) *Semaphore {
	sem := NewSemaphore(s.SemaphoreID, int(s.Permits))
	sem.waiters = append([]taskid.ID(nil), s.WaitQueue...)
	return sem
}

// Encode writes the serialized semaphore using the same length-prefixed
// little-endian layout as SerializedMutex's wait queue.
func (s SerializedSemaphore) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(s.SemaphoreID)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, s.Permits); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s.WaitQueue))); err != nil {
		return err
	}
	for _, t := range s.WaitQueue {
		if err := binary.Write(w, binary.LittleEndian, uint64(t)); err != nil {
			return err
		}
	}
	return nil
}

// DecodeSemaphore reads a SerializedSemaphore written by Encode.
func DecodeSemaphore(r io.Reader) (SerializedSemaphore, error) {
	var out SerializedSemaphore

	var rawID uint64
	if err := binary.Read(r, binary.LittleEndian, &rawID); err != nil {
		return out, err
	}
	out.SemaphoreID = SemaphoreID(rawID)

	if err := binary.Read(r, binary.LittleEndian, &out.Permits); err != nil {
		return out, err
	}

	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return out, err
	}
	out.WaitQueue = make([]taskid.ID, n)
	for i := range out.WaitQueue {
		var t uint64
		if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
			return out, err
		}
		out.WaitQueue[i] = taskid.ID(t)
	}
	return out, nil
}

// SerializedChannel is the on-disk form of a Channel: identity,
// configured capacity, whatever values are currently buffered, the
// FIFO receive-waiter queue, and the closed flag. Queued senders are
// not preserved: neither their task IDs nor the values they were
// waiting to send are captured.
type SerializedChannel struct {
	ChannelID   ChannelID
	Capacity    int
	Buffered    []value.Value
	RecvWaiters []taskid.ID
	Closed      bool
}

// Serialize captures a Channel's buffered values, receive-waiter
// queue, and closed state.
func (c *Channel) Serialize() SerializedChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]value.Value, len(c.buf))
	copy(buf, c.buf)
	waiters := make([]taskid.ID, len(c.recvWaiters))
	copy(waiters, c.recvWaiters)
	return SerializedChannel{
		ChannelID:   c.id,
		Capacity:    c.capacity,
		Buffered:    buf,
		RecvWaiters: waiters,
		Closed:      c.closed,
	}
}

// RestoreChannel reconstructs a Channel from its serialized form.
func RestoreChannel(s SerializedChannel) *Channel {
	c := NewChannel(s.ChannelID, s.Capacity)
	c.buf = append(c.buf[:0], s.Buffered...)
	c.recvWaiters = append([]taskid.ID(nil), s.RecvWaiters...)
	c.closed = s.Closed
	return c
}

// Encode writes the serialized channel: 8 bytes channel ID, 4 bytes
// capacity, 4 bytes buffered-value count then 8 bytes per value, 4
// bytes waiter count then 8 bytes per waiting task ID, 1 byte closed.
func (s SerializedChannel) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(s.ChannelID)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(s.Capacity)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s.Buffered))); err != nil {
		return err
	}
	for _, v := range s.Buffered {
		if err := binary.Write(w, binary.LittleEndian, uint64(v)); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s.RecvWaiters))); err != nil {
		return err
	}
	for _, t := range s.RecvWaiters {
		if err := binary.Write(w, binary.LittleEndian, uint64(t)); err != nil {
			return err
		}
	}
	closed := byte(0)
	if s.Closed {
		closed = 1
	}
	_, err := w.Write([]byte{closed})
	return err
}

// DecodeChannel reads a SerializedChannel written by Encode.
func DecodeChannel(r io.Reader) (SerializedChannel, error) {
	var out SerializedChannel

	var rawID uint64
	if err := binary.Read(r, binary.LittleEndian, &rawID); err != nil {
		return out, err
	}
	out.ChannelID = ChannelID(rawID)

	var capacity uint32
	if err := binary.Read(r, binary.LittleEndian, &capacity); err != nil {
		return out, err
	}
	out.Capacity = int(capacity)

	var bufCount uint32
	if err := binary.Read(r, binary.LittleEndian, &bufCount); err != nil {
		return out, err
	}
	out.Buffered = make([]value.Value, bufCount)
	for i := range out.Buffered {
		var raw uint64
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return out, err
		}
		out.Buffered[i] = value.Value(raw)
	}

	var waiterCount uint32
	if err := binary.Read(r, binary.LittleEndian, &waiterCount); err != nil {
		return out, err
	}
	out.RecvWaiters = make([]taskid.ID, waiterCount)
	for i := range out.RecvWaiters {
		var t uint64
		if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
			return out, err
		}
		out.RecvWaiters[i] = taskid.ID(t)
	}

	var closed [1]byte
	if _, err := io.ReadFull(r, closed[:]); err != nil {
		return out, err
	}
	out.Closed = closed[0] == 1
	return out, nil
}
