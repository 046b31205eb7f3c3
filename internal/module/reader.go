package module

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Verification errors: fatal to the load, per the error taxonomy.
var (
	ErrInvalidMagic      = errors.New("module: invalid magic")
	ErrChecksumMismatch  = errors.New("module: checksum mismatch")
	ErrTruncated         = errors.New("module: truncated file")
	ErrUnsupportedFormat = errors.New("module: unsupported format version")
)

// Read parses and checksum-verifies a .ryb image. Any verification
// failure (bad magic, truncation, checksum mismatch) is returned
// unwrapped as one of the Err* sentinels above so the loader can
// distinguish them.
func Read(r io.Reader) (*Module, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("module: read: %w", err)
	}
	if len(all) < sha256.Size {
		return nil, ErrTruncated
	}

	body := all[:len(all)-sha256.Size]
	trailer := all[len(all)-sha256.Size:]

	sum := sha256.Sum256(body)
	if !bytesEqual(sum[:], trailer) {
		return nil, ErrChecksumMismatch
	}

	br := &byteReader{buf: body}
	m, err := readModule(br)
	if err != nil {
		return nil, err
	}
	copy(m.Checksum[:], trailer)
	return m, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// byteReader is a minimal bounds-checked cursor over an in-memory
// buffer — the whole module body is read upfront by Read so the
// checksum can be verified over an exact byte range before any field
// is trusted.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return ErrTruncated
	}
	return nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) u8() (uint8, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *byteReader) f64() (float64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (r *byteReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) optionalStr() (string, error) {
	present, err := r.u8()
	if err != nil {
		return "", err
	}
	if present == 0 {
		return "", nil
	}
	return r.str()
}

func readModule(r *byteReader) (*Module, error) {
	m := &Module{}

	magicBytes, err := r.bytes(4)
	if err != nil {
		return nil, ErrTruncated
	}
	if string(magicBytes) != string(magic[:]) {
		return nil, ErrInvalidMagic
	}

	version, err := r.u32()
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, ErrUnsupportedFormat
	}

	if m.Flags, err = r.u32(); err != nil {
		return nil, err
	}

	if err := readConstantPool(r, &m.Pool); err != nil {
		return nil, err
	}
	if m.Functions, err = readFunctions(r); err != nil {
		return nil, err
	}
	if m.Classes, err = readClasses(r); err != nil {
		return nil, err
	}
	if m.Exports, err = readExports(r); err != nil {
		return nil, err
	}
	if m.Imports, err = readImports(r); err != nil {
		return nil, err
	}
	if m.NativeNames, err = readStrings(r); err != nil {
		return nil, err
	}
	if m.Name, err = r.str(); err != nil {
		return nil, err
	}
	if m.SourceFile, err = r.optionalStr(); err != nil {
		return nil, err
	}

	return m, nil
}

func readStrings(r *byteReader) ([]string, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = r.str(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readConstantPool(r *byteReader, p *ConstantPool) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	p.Integers = make([]int32, n)
	for i := range p.Integers {
		if p.Integers[i], err = r.i32(); err != nil {
			return err
		}
	}

	n, err = r.u32()
	if err != nil {
		return err
	}
	p.Floats = make([]float64, n)
	for i := range p.Floats {
		if p.Floats[i], err = r.f64(); err != nil {
			return err
		}
	}

	p.Strings, err = readStrings(r)
	return err
}

func readFunctions(r *byteReader) ([]Function, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Function, n)
	for i := range out {
		if out[i].Name, err = r.str(); err != nil {
			return nil, err
		}
		if out[i].ParamCount, err = r.u8(); err != nil {
			return nil, err
		}
		if out[i].LocalCount, err = r.u16(); err != nil {
			return nil, err
		}
		codeLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		if out[i].Code, err = r.bytes(int(codeLen)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readClasses(r *byteReader) ([]Class, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Class, n)
	for i := range out {
		if out[i].Name, err = r.str(); err != nil {
			return nil, err
		}
		if out[i].FieldCount, err = r.u16(); err != nil {
			return nil, err
		}
		hasParent, err := r.u8()
		if err != nil {
			return nil, err
		}
		if hasParent != 0 {
			pid, err := r.u32()
			if err != nil {
				return nil, err
			}
			out[i].ParentID = int32(pid)
		} else {
			out[i].ParentID = -1
		}
		methodCount, err := r.u16()
		if err != nil {
			return nil, err
		}
		out[i].Methods = make([]Method, methodCount)
		for j := range out[i].Methods {
			if out[i].Methods[j].Slot, err = r.u16(); err != nil {
				return nil, err
			}
			if out[i].Methods[j].FunctionID, err = r.u32(); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func readExports(r *byteReader) ([]Export, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Export, n)
	for i := range out {
		if out[i].Name, err = r.str(); err != nil {
			return nil, err
		}
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		out[i].Kind = SymbolKind(kind)
		if out[i].Index, err = r.u32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readImports(r *byteReader) ([]Import, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Import, n)
	for i := range out {
		if out[i].Specifier, err = r.str(); err != nil {
			return nil, err
		}
		if out[i].Symbol, err = r.str(); err != nil {
			return nil, err
		}
		if out[i].Alias, err = r.optionalStr(); err != nil {
			return nil, err
		}
		if out[i].Constraint, err = r.optionalStr(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
