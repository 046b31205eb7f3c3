package value

import (
	"math"
	"testing"
)

func TestBoxUnboxI32(t *testing.T) {
	tests := []struct {
		name string
		in   int32
	}{
		{"zero", 0},
		{"positive", 1234},
		{"negative", -1234},
		{"min", math.MinInt32},
		{"max", math.MaxInt32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := BoxI32(tt.in)
			if !IsI32(v) {
				t.Fatalf("IsI32 false for boxed %d", tt.in)
			}
			if got := UnboxI32(v); got != tt.in {
				t.Errorf("UnboxI32 = %d, want %d", got, tt.in)
			}
		})
	}
}

func TestBoxUnboxF64(t *testing.T) {
	tests := []float64{0, 1.5, -1.5, math.Inf(1), math.Inf(-1), math.Copysign(0, -1)}
	for _, f := range tests {
		v := BoxF64(f)
		if !IsF64(v) {
			t.Fatalf("IsF64 false for boxed %v", f)
		}
		got := UnboxF64(v)
		if math.Float64bits(got) != math.Float64bits(f) {
			t.Errorf("UnboxF64(%v) = %v, want exact bit match", f, got)
		}
	}
}

func TestNaNCanonicalization(t *testing.T) {
	// Any NaN bit pattern that collides with the tag region must
	// canonicalize to the single positive quiet NaN.
	weirdNaN := math.Float64frombits(0xFFF8_0000_0000_0001)
	v := BoxF64(weirdNaN)
	if !IsF64(v) {
		t.Fatal("boxed NaN should still be IsF64")
	}
	got := UnboxF64(v)
	if !math.IsNaN(got) {
		t.Fatalf("expected NaN, got %v", got)
	}
	if math.Float64bits(got) != canonicalNaN {
		t.Errorf("NaN not canonicalized: got bits %x, want %x", math.Float64bits(got), canonicalNaN)
	}
}

func TestBoxUnboxBool(t *testing.T) {
	for _, b := range []bool{true, false} {
		v := BoxBool(b)
		if !IsBool(v) {
			t.Fatalf("IsBool false for boxed %v", b)
		}
		if got := UnboxBool(v); got != b {
			t.Errorf("UnboxBool = %v, want %v", got, b)
		}
	}
}

func TestBoxUnboxPtr(t *testing.T) {
	addrs := []uintptr{0, 0x1000, 0x7fffffffffff}
	for _, a := range addrs {
		v := BoxPtr(a)
		if !IsPtr(v) {
			t.Fatalf("IsPtr false for boxed %x", a)
		}
		if got := UnboxPtr(v); got != a {
			t.Errorf("UnboxPtr = %x, want %x", got, a)
		}
	}
}

func TestNull(t *testing.T) {
	n := Null()
	if !IsNull(n) {
		t.Fatal("Null() is not IsNull")
	}
	if IsPtr(n) || IsI32(n) || IsBool(n) || IsF64(n) {
		t.Fatal("Null() misclassified as another kind")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		v    Value
		want Kind
	}{
		{BoxF64(3.14), KindF64},
		{BoxI32(7), KindI32},
		{BoxBool(true), KindBool},
		{BoxPtr(0x100), KindPtr},
		{Null(), KindNull},
	}
	for _, c := range cases {
		if got := KindOf(c.v); got != c.want {
			t.Errorf("KindOf = %v, want %v", got, c.want)
		}
	}
}

// TestNonPointerBitwiseEquality covers the universal invariant: for any
// pair of non-pointer Values, bitwise equality iff logically equal.
func TestNonPointerBitwiseEquality(t *testing.T) {
	a := BoxI32(42)
	b := BoxI32(42)
	if !Eq(a, b) {
		t.Error("equal i32 boxes should be bitwise equal")
	}
	c := BoxI32(43)
	if Eq(a, c) {
		t.Error("distinct i32 boxes should not be bitwise equal")
	}
}

func TestPointerIdentity(t *testing.T) {
	p1 := BoxPtr(0x1000)
	p2 := BoxPtr(0x1000)
	p3 := BoxPtr(0x2000)
	if !Eq(p1, p2) {
		t.Error("same address should compare equal")
	}
	if Eq(p1, p3) {
		t.Error("different addresses should not compare equal")
	}
}
