package module

import (
	"bytes"
	"testing"
)

func sampleModule() *Module {
	return &Module{
		Name:  "test",
		Flags: 0,
		Pool: ConstantPool{
			Integers: []int32{1, -2, 42},
			Floats:   []float64{1.5, -0.0},
			Strings:  []string{"hello", ""},
		},
		Functions: []Function{
			{Name: "main", ParamCount: 0, LocalCount: 2, Code: []byte{0x01, 0x02, 0x03}},
		},
		Classes: []Class{
			{Name: "Base", FieldCount: 1, ParentID: -1, Methods: []Method{{Slot: 0, FunctionID: 0}}},
			{Name: "Derived", FieldCount: 2, ParentID: 0, Methods: []Method{{Slot: 1, FunctionID: 1}}},
		},
		Exports: []Export{
			{Name: "main", Kind: SymbolFunction, Index: 0},
		},
		Imports: []Import{
			{Specifier: "std/io", Symbol: "println", Alias: "", Constraint: "^1.0"},
		},
		NativeNames: []string{"println"},
		SourceFile:  "test.raya",
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	m := sampleModule()

	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.Name != m.Name {
		t.Errorf("Name = %q, want %q", got.Name, m.Name)
	}
	if len(got.Pool.Integers) != 3 || got.Pool.Integers[1] != -2 {
		t.Errorf("Pool.Integers = %v", got.Pool.Integers)
	}
	if len(got.Functions) != 1 || got.Functions[0].Name != "main" {
		t.Errorf("Functions = %+v", got.Functions)
	}
	if !bytes.Equal(got.Functions[0].Code, m.Functions[0].Code) {
		t.Errorf("Functions[0].Code = %v, want %v", got.Functions[0].Code, m.Functions[0].Code)
	}
	if len(got.Classes) != 2 || got.Classes[1].ParentID != 0 {
		t.Errorf("Classes = %+v", got.Classes)
	}
	if got.SourceFile != "test.raya" {
		t.Errorf("SourceFile = %q", got.SourceFile)
	}
}

func TestReadDetectsChecksumMismatch(t *testing.T) {
	m := sampleModule()
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		t.Fatalf("Write: %v", err)
	}

	corrupted := buf.Bytes()
	corrupted[10] ^= 0xFF

	if _, err := Read(bytes.NewReader(corrupted)); err != ErrChecksumMismatch {
		t.Fatalf("Read corrupted = %v, want ErrChecksumMismatch", err)
	}
}

func TestReadDetectsInvalidMagic(t *testing.T) {
	m := sampleModule()
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		t.Fatalf("Write: %v", err)
	}

	corrupted := buf.Bytes()
	corrupted[0] = 'X'

	if _, err := Read(bytes.NewReader(corrupted)); err != ErrChecksumMismatch && err != ErrInvalidMagic {
		t.Fatalf("Read with bad magic = %v", err)
	}
}

func TestReadDetectsTruncation(t *testing.T) {
	m := sampleModule()
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		t.Fatalf("Write: %v", err)
	}

	truncated := buf.Bytes()[:buf.Len()/2]
	if _, err := Read(bytes.NewReader(truncated)); err == nil {
		t.Fatal("expected an error reading a truncated module")
	}
}

func TestVtableOfInheritsAndOverrides(t *testing.T) {
	m := &Module{
		Classes: []Class{
			{Name: "Base", ParentID: -1, Methods: []Method{{Slot: 0, FunctionID: 10}, {Slot: 1, FunctionID: 11}}},
			{Name: "Derived", ParentID: 0, Methods: []Method{{Slot: 1, FunctionID: 21}}},
		},
	}

	vt := m.VtableOf(1)
	if len(vt) != 2 {
		t.Fatalf("vtable length = %d, want 2", len(vt))
	}
	if vt[0] != 10 {
		t.Errorf("vt[0] = %d, want inherited 10", vt[0])
	}
	if vt[1] != 21 {
		t.Errorf("vt[1] = %d, want overridden 21", vt[1])
	}
}
