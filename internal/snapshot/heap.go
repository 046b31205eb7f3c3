package snapshot

import (
	"encoding/binary"
	"io"
)

// Heap is the heap segment's payload: an object count plus an opaque
// byte blob. Full object-graph capture (reachable object enumeration,
// pointer fixup on restore) belongs to the GC heap package and isn't
// implemented there yet, so this only records a count and whatever
// bytes the caller already has for forward compatibility.
type Heap struct {
	ObjectCount uint64
	Data        []byte
}

// EmptyHeap is the zero-object heap segment a snapshot writes when the
// caller has nothing more specific to capture.
func EmptyHeap() Heap {
	return Heap{}
}

func (h Heap) encode(w io.Writer, order binary.ByteOrder) error {
	if err := binary.Write(w, order, h.ObjectCount); err != nil {
		return err
	}
	if err := binary.Write(w, order, uint64(len(h.Data))); err != nil {
		return err
	}
	_, err := w.Write(h.Data)
	return err
}

func decodeHeap(r io.Reader, order binary.ByteOrder) (Heap, error) {
	var h Heap
	if err := binary.Read(r, order, &h.ObjectCount); err != nil {
		return h, ErrTruncated
	}
	var dataLen uint64
	if err := binary.Read(r, order, &dataLen); err != nil {
		return h, ErrTruncated
	}
	h.Data = make([]byte, dataLen)
	if _, err := io.ReadFull(r, h.Data); err != nil {
		return h, ErrTruncated
	}
	return h, nil
}
