package vm

import "testing"

// ---------------------------------------------------------------------------
// Classes and dispatch
// ---------------------------------------------------------------------------

func TestBaseChainTerminatesAtObject(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	for _, cls := range []*Class{
		machine.BaseClasses.List,
		machine.BaseClasses.Dict,
		machine.BaseClasses.Str,
		machine.Exceptions.ValueError,
	} {
		steps := 0
		cur := cls
		for cur != nil && cur != machine.BaseClasses.Object {
			cur = cur.Base
			steps++
			if steps > 100 {
				t.Fatalf("base chain of %s does not terminate", cls.Name.Chars)
			}
		}
		if cur != machine.BaseClasses.Object {
			t.Errorf("base chain of %s does not reach object", cls.Name.Chars)
		}
	}
}

func TestFinalizeClassPopulatesInheritedSlots(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	sub := machine.MakeClass(nil, "ValueErrorChild", machine.Exceptions.ValueError)
	machine.FinalizeClass(sub)
	if sub.Special(SpecialInit).IsNone() {
		t.Error("subclass did not inherit __init__ through the slot cache")
	}
	if sub.Special(SpecialStr).IsNone() {
		t.Error("subclass did not inherit __str__ through the slot cache")
	}
}

func TestFinalizeClassPrefersDerived(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	base := machine.MakeClass(nil, "B1", nil)
	baseRepr := machine.NewNative(func(vm *VM, args []Value, hasKw bool) Value {
		return ObjectVal(vm.CopyString("base"))
	}, ".__repr__")
	base.Methods.Set(machine.specialNames[SpecialRepr], ObjectVal(baseRepr))
	machine.FinalizeClass(base)

	derived := machine.MakeClass(nil, "D1", base)
	derivedRepr := machine.NewNative(func(vm *VM, args []Value, hasKw bool) Value {
		return ObjectVal(vm.CopyString("derived"))
	}, ".__repr__")
	derived.Methods.Set(machine.specialNames[SpecialRepr], ObjectVal(derivedRepr))
	machine.FinalizeClass(derived)

	if derived.Special(SpecialRepr).AsObj() != Obj(derivedRepr) {
		t.Error("derived class slot cache should prefer its own method")
	}
	if base.Special(SpecialRepr).AsObj() != Obj(baseRepr) {
		t.Error("base class slot cache was clobbered")
	}
}

func TestSubclassesTrackAndRefinalize(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	base := machine.MakeClass(nil, "B2", nil)
	machine.FinalizeClass(base)
	sub := machine.MakeClass(nil, "D2", base)
	machine.FinalizeClass(sub)
	if _, ok := base.Subclasses[sub]; !ok {
		t.Fatal("subclass not recorded on its base")
	}

	// Attaching a method to the base and refinalizing is visible in the
	// subclass's cache.
	iter := machine.NewNative(iterReturnSelf, ".__iter__")
	base.Methods.Set(machine.specialNames[SpecialIter], ObjectVal(iter))
	machine.FinalizeClass(base)
	if sub.Special(SpecialIter).IsNone() {
		t.Error("subclass cache not refreshed when base was refinalized")
	}
}

func TestGetTypeOfValues(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	bc := machine.BaseClasses
	cases := []struct {
		v    Value
		want *Class
	}{
		{IntVal(1), bc.Int},
		{FloatVal(1.5), bc.Float},
		{BoolVal(true), bc.Bool},
		{NoneVal(), bc.NoneType},
		{ObjectVal(machine.CopyString("s")), bc.Str},
		{ObjectVal(machine.NewListOf(nil)), bc.List},
		{ObjectVal(machine.NewDict()), bc.Dict},
		{ObjectVal(machine.NewTuple(nil)), bc.Tuple},
	}
	for _, c := range cases {
		if got := machine.GetType(c.v); got != c.want {
			t.Errorf("GetType(%s) = %s, want %s", rawRepr(c.v), got.Name.Chars, c.want.Name.Chars)
		}
	}
}

func TestIsInstanceOfWalksChain(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	inst := machine.NewInstance(machine.Exceptions.ValueError)
	v := ObjectVal(inst)
	if !machine.IsInstanceOf(v, machine.Exceptions.ValueError) {
		t.Error("instance should match its own class")
	}
	if !machine.IsInstanceOf(v, machine.Exceptions.Exception) {
		t.Error("instance should match an ancestor class")
	}
	if !machine.IsInstanceOf(v, machine.BaseClasses.Object) {
		t.Error("everything is an object")
	}
	if machine.IsInstanceOf(v, machine.Exceptions.TypeError) {
		t.Error("instance should not match an unrelated class")
	}
}

func TestListSubclassCarriesPayload(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	sub := machine.MakeClass(nil, "MyList", machine.BaseClasses.List)
	machine.FinalizeClass(sub)
	o := machine.NewInstance(sub)
	l, ok := o.(*List)
	if !ok {
		t.Fatal("subclass of list did not allocate a list payload")
	}
	if l.Class != sub {
		t.Error("payload instance carries the wrong class")
	}
	if !l.Class.HasBase(machine.BaseClasses.List) {
		t.Error("subclass chain does not reach list")
	}
}

func TestStackOps(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	thread := machine.CurrentThread()
	base := thread.top

	thread.Push(IntVal(1))
	thread.Push(IntVal(2))
	thread.Push(IntVal(3))
	if thread.Peek(0).AsInt() != 3 || thread.Peek(2).AsInt() != 1 {
		t.Error("Peek misread the stack")
	}
	thread.Swap(2)
	if thread.Peek(0).AsInt() != 1 || thread.Peek(2).AsInt() != 3 {
		t.Error("Swap(2) did not exchange the ends")
	}
	thread.Pop()
	thread.Pop()
	thread.Pop()
	if thread.top != base {
		t.Error("stack not balanced after pops")
	}
}

func TestStackGrowthKeepsOpenUpvaluesValid(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	thread := machine.CurrentThread()

	thread.Push(ObjectVal(machine.CopyString("pinned")))
	upvalue := thread.captureUpvalue(thread.top - 1)

	// Force several stack growths; index-based upvalues must keep reading
	// the same slot.
	for i := 0; i < 5000; i++ {
		thread.Push(IntVal(int64(i)))
	}
	s, ok := asString(upvalue.Get())
	if !ok || s.Chars != "pinned" {
		t.Error("open upvalue lost its slot across stack growth")
	}
	for i := 0; i < 5000; i++ {
		thread.Pop()
	}
	thread.closeUpvalues(0)
	thread.Pop()
}
