package snapshot

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"os"

	"raya/internal/syncprim"
)

// hashingWriter tees every write through a running SHA-256 digest, the
// same approach module.Write uses: the checksum accumulates as bytes
// are produced instead of being computed over a buffered copy
// afterward.
type hashingWriter struct {
	w io.Writer
	h hash.Hash
}

func newHashingWriter(w io.Writer) *hashingWriter {
	return &hashingWriter{w: w, h: sha256.New()}
}

func (h *hashingWriter) Write(p []byte) (int, error) {
	h.h.Write(p)
	return h.w.Write(p)
}

// Writer accumulates a VM's checkpointable state — tasks, a heap
// capture, the scheduler's ready queue, and live sync primitives —
// and serializes it to the segmented snapshot format.
type Writer struct {
	moduleName    string
	functionCount uint32

	tasks       []Task
	heap        Heap
	readyQueue  []uint64
	mutexes     []syncprim.SerializedMutex
	semaphores  []syncprim.SerializedSemaphore
	channels    []syncprim.SerializedChannel
}

// NewWriter creates an empty Writer for a module with the given name
// and function count, recorded in the metadata segment.
func NewWriter(moduleName string, functionCount uint32) *Writer {
	return &Writer{moduleName: moduleName, functionCount: functionCount, heap: EmptyHeap()}
}

// AddTask appends a task to the snapshot's task segment.
func (w *Writer) AddTask(t Task) { w.tasks = append(w.tasks, t) }

// SetHeap sets the snapshot's heap segment.
func (w *Writer) SetHeap(h Heap) { w.heap = h }

// SetReadyQueue records the task IDs currently queued ready-to-run, in
// dispatch order.
func (w *Writer) SetReadyQueue(ids []uint64) { w.readyQueue = ids }

// AddMutex appends a mutex to the snapshot's sync segment.
func (w *Writer) AddMutex(m syncprim.SerializedMutex) { w.mutexes = append(w.mutexes, m) }

// AddSemaphore appends a semaphore to the snapshot's sync segment.
func (w *Writer) AddSemaphore(s syncprim.SerializedSemaphore) { w.semaphores = append(w.semaphores, s) }

// AddChannel appends a channel to the snapshot's sync segment.
func (w *Writer) AddChannel(c syncprim.SerializedChannel) { w.channels = append(w.channels, c) }

// WriteFile writes the snapshot to a new file at path, truncating any
// existing file there.
func (w *Writer) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", path, err)
	}
	defer f.Close()
	return w.Write(f)
}

// Write serializes the snapshot to out: header, segment count, the
// five segments in fixed order (each tee-hashed as it's written), then
// the trailing checksum over every segment header and payload byte.
func (w *Writer) Write(out io.Writer) error {
	bw := bufio.NewWriter(out)
	header := newHeader()
	order := header.order()

	if err := header.encode(bw); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	if err := binary.Write(bw, order, uint32(len(segmentOrder))); err != nil {
		return fmt.Errorf("snapshot: write segment count: %w", err)
	}

	hw := newHashingWriter(bw)
	for _, typ := range segmentOrder {
		if err := w.writeSegment(hw, order, typ); err != nil {
			return fmt.Errorf("snapshot: write %s segment: %w", typ, err)
		}
	}

	if _, err := bw.Write(hw.h.Sum(nil)); err != nil {
		return fmt.Errorf("snapshot: write checksum: %w", err)
	}
	return bw.Flush()
}

func (w *Writer) writeSegment(hw *hashingWriter, order binary.ByteOrder, typ SegmentType) error {
	var payload []byte
	var err error
	switch typ {
	case SegmentMetadata:
		payload, err = w.encodeMetadata(order)
	case SegmentHeap:
		payload, err = encodeToBytes(order, w.heap.encode)
	case SegmentTask:
		payload, err = w.encodeTasks(order)
	case SegmentScheduler:
		payload, err = w.encodeScheduler(order)
	case SegmentSync:
		payload, err = w.encodeSync(order)
	}
	if err != nil {
		return err
	}
	sh := segmentHeader{Type: typ, Length: uint64(len(payload))}
	if err := sh.encode(hw, order); err != nil {
		return err
	}
	_, err = hw.Write(payload)
	return err
}

// encodeToBytes runs encode against a fresh buffer so the resulting
// segment header can record its exact length before either is
// written to the real output.
func encodeToBytes(order binary.ByteOrder, encode func(io.Writer, binary.ByteOrder) error) ([]byte, error) {
	buf := &bufferWriter{}
	if err := encode(buf, order); err != nil {
		return nil, err
	}
	return buf.buf, nil
}

type bufferWriter struct{ buf []byte }

func (b *bufferWriter) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (w *Writer) encodeMetadata(order binary.ByteOrder) ([]byte, error) {
	buf := &bufferWriter{}
	if err := binary.Write(buf, order, uint32(len(w.moduleName))); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(buf, w.moduleName); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, order, w.functionCount); err != nil {
		return nil, err
	}
	return buf.buf, nil
}

func (w *Writer) encodeTasks(order binary.ByteOrder) ([]byte, error) {
	buf := &bufferWriter{}
	if err := binary.Write(buf, order, uint64(len(w.tasks))); err != nil {
		return nil, err
	}
	for _, t := range w.tasks {
		if err := t.encode(buf, order); err != nil {
			return nil, err
		}
	}
	return buf.buf, nil
}

func (w *Writer) encodeScheduler(order binary.ByteOrder) ([]byte, error) {
	buf := &bufferWriter{}
	if err := binary.Write(buf, order, uint64(len(w.readyQueue))); err != nil {
		return nil, err
	}
	for _, id := range w.readyQueue {
		if err := binary.Write(buf, order, id); err != nil {
			return nil, err
		}
	}
	return buf.buf, nil
}

// encodeSync delegates to each primitive's own Encode, which is always
// little-endian regardless of order: Writer never sets the header's
// endianness to big, so this only matters if that changes.
func (w *Writer) encodeSync(order binary.ByteOrder) ([]byte, error) {
	buf := &bufferWriter{}
	if err := binary.Write(buf, order, uint32(len(w.mutexes))); err != nil {
		return nil, err
	}
	for _, m := range w.mutexes {
		if err := m.Encode(buf); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(buf, order, uint32(len(w.semaphores))); err != nil {
		return nil, err
	}
	for _, s := range w.semaphores {
		if err := s.Encode(buf); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(buf, order, uint32(len(w.channels))); err != nil {
		return nil, err
	}
	for _, c := range w.channels {
		if err := c.Encode(buf); err != nil {
			return nil, err
		}
	}
	return buf.buf, nil
}
