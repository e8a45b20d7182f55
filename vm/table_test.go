package vm

import (
	"fmt"
	"testing"
)

// ---------------------------------------------------------------------------
// Hash table
// ---------------------------------------------------------------------------

func TestTableSetGet(t *testing.T) {
	var table Table
	if !table.Set(IntVal(1), IntVal(100)) {
		t.Error("first Set should report a new key")
	}
	if table.Set(IntVal(1), IntVal(200)) {
		t.Error("overwriting Set should not report a new key")
	}
	v, ok := table.Get(IntVal(1))
	if !ok || v.AsInt() != 200 {
		t.Errorf("Get(1) = %v, %v; want 200", v, ok)
	}
	if _, ok := table.Get(IntVal(2)); ok {
		t.Error("Get of a missing key should fail")
	}
}

func TestTableDeleteLeavesProbeChainsIntact(t *testing.T) {
	var table Table
	// Fill enough entries that linear probe chains form.
	for i := int64(0); i < 64; i++ {
		table.Set(IntVal(i), IntVal(i*10))
	}
	for i := int64(0); i < 64; i += 2 {
		if !table.Delete(IntVal(i)) {
			t.Fatalf("Delete(%d) failed", i)
		}
	}
	for i := int64(1); i < 64; i += 2 {
		v, ok := table.Get(IntVal(i))
		if !ok || v.AsInt() != i*10 {
			t.Errorf("after deletions, Get(%d) = %v, %v", i, v, ok)
		}
	}
	for i := int64(0); i < 64; i += 2 {
		if _, ok := table.Get(IntVal(i)); ok {
			t.Errorf("deleted key %d still present", i)
		}
	}
	if table.Delete(IntVal(0)) {
		t.Error("double Delete should fail")
	}
}

func TestTableTombstoneReuse(t *testing.T) {
	var table Table
	table.Set(IntVal(1), IntVal(1))
	table.Delete(IntVal(1))
	if !table.Set(IntVal(1), IntVal(2)) {
		t.Error("re-inserting a deleted key should report a new key")
	}
	v, _ := table.Get(IntVal(1))
	if v.AsInt() != 2 {
		t.Error("tombstone slot did not take the new value")
	}
}

func TestTableResizePreservesEntries(t *testing.T) {
	var table Table
	const n = 500
	for i := int64(0); i < n; i++ {
		table.Set(IntVal(i), IntVal(-i))
	}
	if table.Count() != n {
		t.Fatalf("Count() = %d, want %d", table.Count(), n)
	}
	cap := table.Capacity()
	if cap&(cap-1) != 0 {
		t.Errorf("capacity %d is not a power of two", cap)
	}
	for i := int64(0); i < n; i++ {
		v, ok := table.Get(IntVal(i))
		if !ok || v.AsInt() != -i {
			t.Fatalf("lost entry %d across resizes", i)
		}
	}
}

func TestTableAddAll(t *testing.T) {
	var from, to Table
	for i := int64(0); i < 10; i++ {
		from.Set(IntVal(i), IntVal(i))
	}
	to.Set(IntVal(3), IntVal(99))
	from.AddAll(&to)
	if to.Count() != 10 {
		t.Errorf("AddAll result has %d entries, want 10", to.Count())
	}
	v, _ := to.Get(IntVal(3))
	if v.AsInt() != 3 {
		t.Error("AddAll should overwrite existing keys")
	}
}

func TestTableEachSkipsTombstones(t *testing.T) {
	var table Table
	for i := int64(0); i < 8; i++ {
		table.Set(IntVal(i), IntVal(i))
	}
	table.Delete(IntVal(2))
	table.Delete(IntVal(5))
	seen := 0
	table.Each(func(k, v Value) {
		seen++
		if k.AsInt() == 2 || k.AsInt() == 5 {
			t.Errorf("iteration visited deleted key %d", k.AsInt())
		}
	})
	if seen != 6 {
		t.Errorf("iteration visited %d entries, want 6", seen)
	}
}

func TestTableFindString(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	s := machine.CopyString("findme")
	found := machine.Strings.FindString("findme", hashString("findme"))
	if found != s {
		t.Error("FindString should return the interned object")
	}
	if machine.Strings.FindString("absent", hashString("absent")) != nil {
		t.Error("FindString should miss for unknown bytes")
	}
}

func TestTableMixedKeyKinds(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	var table Table
	keys := []Value{
		IntVal(5),
		FloatVal(2.5),
		BoolVal(true),
		NoneVal(),
		ObjectVal(machine.CopyString("key")),
		ObjectVal(machine.NewTuple([]Value{IntVal(1), IntVal(2)})),
	}
	for i, k := range keys {
		table.Set(k, IntVal(int64(i)))
	}
	for i, k := range keys {
		v, ok := table.Get(k)
		if !ok || v.AsInt() != int64(i) {
			t.Errorf("key %s lookup failed", fmt.Sprint(rawRepr(k)))
		}
	}
	// int 1 and True collide by equality; 1 is set after True was inserted.
	table.Set(IntVal(1), IntVal(42))
	v, _ := table.Get(BoolVal(true))
	if v.AsInt() != 42 {
		t.Error("numerically equal keys should share a slot")
	}
}
