package module

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
)

var magic = [4]byte{'R', 'A', 'Y', 'A'}

const formatVersion = 1

// hashingWriter tees every write through a running SHA-256 digest, the
// same "compute the checksum as we go" approach as the snapshot writer
// (internal/snapshot) rather than buffering the whole module to hash it
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

// Write serializes m to .ryb binary format per the module file format:
// header, constant pool, functions, classes, exports, imports, native
// names, metadata, then a 32-byte SHA-256 trailer over everything
// written before it.
func Write(w io.Writer, m *Module) error {
	bw := bufio.NewWriter(w)
	hw := newHashingWriter(bw)

	if err := writeHeader(hw, m); err != nil {
		return fmt.Errorf("module: write header: %w", err)
	}
	if err := writeConstantPool(hw, &m.Pool); err != nil {
		return fmt.Errorf("module: write constant pool: %w", err)
	}
	if err := writeFunctions(hw, m.Functions); err != nil {
		return fmt.Errorf("module: write functions: %w", err)
	}
	if err := writeClasses(hw, m.Classes); err != nil {
		return fmt.Errorf("module: write classes: %w", err)
	}
	if err := writeExports(hw, m.Exports); err != nil {
		return fmt.Errorf("module: write exports: %w", err)
	}
	if err := writeImports(hw, m.Imports); err != nil {
		return fmt.Errorf("module: write imports: %w", err)
	}
	if err := writeStrings(hw, m.NativeNames); err != nil {
		return fmt.Errorf("module: write native names: %w", err)
	}
	if err := writeMetadata(hw, m); err != nil {
		return fmt.Errorf("module: write metadata: %w", err)
	}

	sum := hw.h.Sum(nil)
	if _, err := bw.Write(sum); err != nil {
		return fmt.Errorf("module: write checksum: %w", err)
	}
	copy(m.Checksum[:], sum)

	return bw.Flush()
}

func writeHeader(w io.Writer, m *Module) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(formatVersion)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, m.Flags)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeStrings(w io.Writer, ss []string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func writeConstantPool(w io.Writer, p *ConstantPool) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.Integers))); err != nil {
		return err
	}
	for _, v := range p.Integers {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.Floats))); err != nil {
		return err
	}
	for _, v := range p.Floats {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	return writeStrings(w, p.Strings)
}

func writeFunctions(w io.Writer, fns []Function) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(fns))); err != nil {
		return err
	}
	for _, fn := range fns {
		if err := writeString(w, fn.Name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, fn.ParamCount); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, fn.LocalCount); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(fn.Code))); err != nil {
			return err
		}
		if _, err := w.Write(fn.Code); err != nil {
			return err
		}
	}
	return nil
}

func writeClasses(w io.Writer, classes []Class) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(classes))); err != nil {
		return err
	}
	for _, c := range classes {
		if err := writeString(w, c.Name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, c.FieldCount); err != nil {
			return err
		}
		if c.ParentID >= 0 {
			if _, err := w.Write([]byte{1}); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(c.ParentID)); err != nil {
				return err
			}
		} else {
			if _, err := w.Write([]byte{0}); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(c.Methods))); err != nil {
			return err
		}
		for _, meth := range c.Methods {
			if err := binary.Write(w, binary.LittleEndian, meth.Slot); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, meth.FunctionID); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeExports(w io.Writer, exports []Export) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(exports))); err != nil {
		return err
	}
	for _, e := range exports {
		if err := writeString(w, e.Name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(e.Kind)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, e.Index); err != nil {
			return err
		}
	}
	return nil
}

func writeOptionalString(w io.Writer, s string) error {
	if s == "" {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	return writeString(w, s)
}

func writeImports(w io.Writer, imports []Import) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(imports))); err != nil {
		return err
	}
	for _, im := range imports {
		if err := writeString(w, im.Specifier); err != nil {
			return err
		}
		if err := writeString(w, im.Symbol); err != nil {
			return err
		}
		if err := writeOptionalString(w, im.Alias); err != nil {
			return err
		}
		if err := writeOptionalString(w, im.Constraint); err != nil {
			return err
		}
	}
	return nil
}

func writeMetadata(w io.Writer, m *Module) error {
	if err := writeString(w, m.Name); err != nil {
		return err
	}
	return writeOptionalString(w, m.SourceFile)
}
