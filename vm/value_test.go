package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Value representation
// ---------------------------------------------------------------------------

func TestValueRoundTrip(t *testing.T) {
	if got := IntVal(-42).AsInt(); got != -42 {
		t.Errorf("IntVal(-42).AsInt() = %d, want -42", got)
	}
	if got := IntVal(math.MaxInt64).AsInt(); got != math.MaxInt64 {
		t.Errorf("IntVal(MaxInt64) lost precision: %d", got)
	}
	if got := FloatVal(3.25).AsFloat(); got != 3.25 {
		t.Errorf("FloatVal(3.25).AsFloat() = %v", got)
	}
	if !BoolVal(true).AsBool() || BoolVal(false).AsBool() {
		t.Error("BoolVal round trip failed")
	}
	if !NoneVal().IsNone() {
		t.Error("NoneVal should be none")
	}
	if !NotImplVal().IsNotImpl() {
		t.Error("NotImplVal should be NotImplemented")
	}
}

func TestKwargsNeverEqualsManagedValues(t *testing.T) {
	kw := KwargsVal(3)
	if !kw.IsKwargs() {
		t.Fatal("kwargs marker lost its kind")
	}
	for _, v := range []Value{NoneVal(), IntVal(3), BoolVal(true), FloatVal(3)} {
		if ValuesEqual(kw, v) {
			t.Errorf("kwargs marker compared equal to %s", rawRepr(v))
		}
	}
}

func TestTruthiness(t *testing.T) {
	falsey := []Value{NoneVal(), BoolVal(false), IntVal(0), FloatVal(0)}
	for _, v := range falsey {
		if !v.IsFalsey() {
			t.Errorf("%s should be falsey", rawRepr(v))
		}
	}
	truthy := []Value{BoolVal(true), IntVal(-1), FloatVal(0.5)}
	for _, v := range truthy {
		if v.IsFalsey() {
			t.Errorf("%s should be truthy", rawRepr(v))
		}
	}
}

func TestNumericEqualityCrossesKinds(t *testing.T) {
	cases := []struct {
		a, b Value
		want bool
	}{
		{IntVal(1), BoolVal(true), true},
		{IntVal(0), BoolVal(false), true},
		{IntVal(2), FloatVal(2.0), true},
		{FloatVal(2.5), IntVal(2), false},
		{IntVal(1), NoneVal(), false},
		{NoneVal(), NoneVal(), true},
	}
	for _, c := range cases {
		if got := ValuesEqual(c.a, c.b); got != c.want {
			t.Errorf("ValuesEqual(%s, %s) = %v, want %v", rawRepr(c.a), rawRepr(c.b), got, c.want)
		}
	}
}

// Equal values must hash equal, across int/float/bool.
func TestHashContract(t *testing.T) {
	pairs := [][2]Value{
		{IntVal(7), FloatVal(7.0)},
		{IntVal(1), BoolVal(true)},
		{IntVal(0), BoolVal(false)},
		{IntVal(-3), FloatVal(-3.0)},
	}
	for _, p := range pairs {
		if !ValuesEqual(p[0], p[1]) {
			t.Fatalf("%s and %s should be equal", rawRepr(p[0]), rawRepr(p[1]))
		}
		if HashValue(p[0]) != HashValue(p[1]) {
			t.Errorf("hash(%s) != hash(%s)", rawRepr(p[0]), rawRepr(p[1]))
		}
	}
}

func TestStringInterning(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	a := machine.CopyString("hello interning")
	b := machine.CopyString("hello interning")
	if a != b {
		t.Error("equal strings should intern to the same object")
	}
	if a.Hash != hashString("hello interning") {
		t.Error("intern-time hash mismatch")
	}
	if !ValuesEqual(ObjectVal(a), ObjectVal(b)) {
		t.Error("interned strings should compare equal")
	}
}

func TestTupleEqualityAndHash(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	t1 := machine.NewTuple([]Value{IntVal(1), IntVal(2)})
	t2 := machine.NewTuple([]Value{IntVal(1), IntVal(2)})
	t3 := machine.NewTuple([]Value{IntVal(1), IntVal(3)})
	if !ValuesEqual(ObjectVal(t1), ObjectVal(t2)) {
		t.Error("equal tuples should compare equal")
	}
	if ValuesEqual(ObjectVal(t1), ObjectVal(t3)) {
		t.Error("different tuples should not compare equal")
	}
	if HashValue(ObjectVal(t1)) != HashValue(ObjectVal(t2)) {
		t.Error("equal tuples should hash equal")
	}
}

func TestRawReprFloats(t *testing.T) {
	cases := map[float64]string{
		1.0:  "1.0",
		2.5:  "2.5",
		-0.5: "-0.5",
	}
	for f, want := range cases {
		if got := rawRepr(FloatVal(f)); got != want {
			t.Errorf("rawRepr(%v) = %q, want %q", f, got, want)
		}
	}
}
