package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"raya/internal/syncprim"
)

// Metadata is the decoded metadata segment.
type Metadata struct {
	ModuleName    string
	FunctionCount uint32
}

// Reader is a parsed, checksum-verified snapshot ready to be handed to
// a scheduler and heap to resume from.
type Reader struct {
	header   Header
	metadata Metadata
	tasks    []Task
	heap     Heap

	readyQueue []uint64
	mutexes    []syncprim.SerializedMutex
	semaphores []syncprim.SerializedSemaphore
	channels   []syncprim.SerializedChannel
}

// ReadFile loads and verifies a snapshot from path.
func ReadFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read loads and verifies a snapshot from r. Verification failures
// (bad magic, an unsupported version or endianness, truncation,
// checksum mismatch) are returned as the Err* sentinels in format.go
// so a caller can distinguish them from ordinary I/O errors.
func Read(r io.Reader) (*Reader, error) {
	header, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	order := header.order()

	var segmentCount uint32
	if err := binary.Read(r, order, &segmentCount); err != nil {
		return nil, ErrTruncated
	}

	// All segment header+payload bytes are accumulated here as they're
	// read so the checksum can be verified over exactly the same bytes
	// the writer hashed, without re-encoding anything.
	var allSegmentBytes bytes.Buffer
	tee := io.TeeReader(r, &allSegmentBytes)

	type rawSegment struct {
		typ  SegmentType
		data []byte
	}
	segments := make([]rawSegment, 0, segmentCount)

	for i := uint32(0); i < segmentCount; i++ {
		sh, err := decodeSegmentHeader(tee, order)
		if err != nil {
			return nil, err
		}
		data := make([]byte, sh.Length)
		if _, err := io.ReadFull(tee, data); err != nil {
			return nil, ErrTruncated
		}
		segments = append(segments, rawSegment{typ: sh.Type, data: data})
	}

	var gotChecksum [checksumSize]byte
	if _, err := io.ReadFull(r, gotChecksum[:]); err != nil {
		return nil, ErrTruncated
	}
	wantChecksum := sha256.Sum256(allSegmentBytes.Bytes())
	if gotChecksum != wantChecksum {
		return nil, ErrChecksumMismatch
	}

	out := &Reader{header: header, heap: EmptyHeap()}
	for _, seg := range segments {
		sr := bytes.NewReader(seg.data)
		switch seg.typ {
		case SegmentMetadata:
			out.metadata, err = decodeMetadata(sr, order)
		case SegmentHeap:
			out.heap, err = decodeHeap(sr, order)
		case SegmentTask:
			out.tasks, err = decodeTasks(sr, order)
		case SegmentScheduler:
			out.readyQueue, err = decodeScheduler(sr, order)
		case SegmentSync:
			out.mutexes, out.semaphores, out.channels, err = decodeSync(sr, order)
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot: decode %s segment: %w", seg.typ, err)
		}
	}

	return out, nil
}

// Header returns the snapshot's decoded header.
func (r *Reader) Header() Header { return r.header }

// Metadata returns the decoded metadata segment.
func (r *Reader) Metadata() Metadata { return r.metadata }

// Tasks returns the decoded task segment.
func (r *Reader) Tasks() []Task { return r.tasks }

// Heap returns the decoded heap segment.
func (r *Reader) Heap() Heap { return r.heap }

// ReadyQueue returns the task IDs the scheduler segment recorded as
// ready-to-run, in dispatch order.
func (r *Reader) ReadyQueue() []uint64 { return r.readyQueue }

// Mutexes returns the decoded sync segment's mutexes.
func (r *Reader) Mutexes() []syncprim.SerializedMutex { return r.mutexes }

// Semaphores returns the decoded sync segment's semaphores.
func (r *Reader) Semaphores() []syncprim.SerializedSemaphore { return r.semaphores }

// Channels returns the decoded sync segment's channels.
func (r *Reader) Channels() []syncprim.SerializedChannel { return r.channels }

func decodeMetadata(r io.Reader, order binary.ByteOrder) (Metadata, error) {
	var m Metadata
	var nameLen uint32
	if err := binary.Read(r, order, &nameLen); err != nil {
		return m, ErrTruncated
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return m, ErrTruncated
	}
	m.ModuleName = string(name)
	if err := binary.Read(r, order, &m.FunctionCount); err != nil {
		return m, ErrTruncated
	}
	return m, nil
}

func decodeTasks(r io.Reader, order binary.ByteOrder) ([]Task, error) {
	var count uint64
	if err := binary.Read(r, order, &count); err != nil {
		return nil, ErrTruncated
	}
	out := make([]Task, count)
	for i := range out {
		t, err := decodeTask(r, order)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func decodeScheduler(r io.Reader, order binary.ByteOrder) ([]uint64, error) {
	var count uint64
	if err := binary.Read(r, order, &count); err != nil {
		return nil, ErrTruncated
	}
	out := make([]uint64, count)
	for i := range out {
		if err := binary.Read(r, order, &out[i]); err != nil {
			return nil, ErrTruncated
		}
	}
	return out, nil
}

func decodeSync(r io.Reader, order binary.ByteOrder) ([]syncprim.SerializedMutex, []syncprim.SerializedSemaphore, []syncprim.SerializedChannel, error) {
	var mutexCount uint32
	if err := binary.Read(r, order, &mutexCount); err != nil {
		return nil, nil, nil, ErrTruncated
	}
	mutexes := make([]syncprim.SerializedMutex, mutexCount)
	for i := range mutexes {
		m, err := syncprim.DecodeMutex(r)
		if err != nil {
			return nil, nil, nil, err
		}
		mutexes[i] = m
	}

	var semCount uint32
	if err := binary.Read(r, order, &semCount); err != nil {
		return nil, nil, nil, ErrTruncated
	}
	semaphores := make([]syncprim.SerializedSemaphore, semCount)
	for i := range semaphores {
		s, err := syncprim.DecodeSemaphore(r)
		if err != nil {
			return nil, nil, nil, err
		}
		semaphores[i] = s
	}

	var chanCount uint32
	if err := binary.Read(r, order, &chanCount); err != nil {
		return nil, nil, nil, ErrTruncated
	}
	channels := make([]syncprim.SerializedChannel, chanCount)
	for i := range channels {
		c, err := syncprim.DecodeChannel(r)
		if err != nil {
			return nil, nil, nil, err
		}
		channels[i] = c
	}

	return mutexes, semaphores, channels, nil
}
