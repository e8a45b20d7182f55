package vm

import "fmt"

// ---------------------------------------------------------------------------
// Iterators
// ---------------------------------------------------------------------------
//
// Iterators are callables: each call produces the next element, and an
// exhausted iterator returns itself. The identity sentinel keeps loop
// termination out of the exception machinery.

const (
	iterSeqField   = "__seq__"
	iterIndexField = "__i__"
)

// newSeqIterator builds an iterator instance over seq for one of the
// iterator classes created below.
func (vm *VM) newSeqIterator(cls *Class, seq Value) Obj {
	t := vm.currentThread
	o := vm.NewInstance(cls)
	t.Push(ObjectVal(o))
	inst := mustInstance(o)
	inst.Fields.Set(ObjectVal(vm.CopyString(iterSeqField)), seq)
	inst.Fields.Set(ObjectVal(vm.CopyString(iterIndexField)), IntVal(0))
	t.Pop()
	return o
}

func iterState(vm *VM, v Value) (*Instance, Value, int64) {
	inst := mustInstance(v.AsObj())
	seq, _ := inst.Fields.Get(ObjectVal(vm.CopyString(iterSeqField)))
	index, _ := inst.Fields.Get(ObjectVal(vm.CopyString(iterIndexField)))
	return inst, seq, index.AsInt()
}

func iterReturnSelf(vm *VM, args []Value, hasKw bool) Value {
	return args[0]
}

// makeSeqIteratorClass builds an iterator class whose next function indexes
// a sequence.
func (vm *VM) makeSeqIteratorClass(name string, next func(vm *VM, seq Value, index int64) (Value, bool)) *Class {
	cls := vm.MakeClass(nil, name, vm.BaseClasses.Object)
	cls.SetFlag(FlagNoInherit)
	call := func(vm *VM, args []Value, hasKw bool) Value {
		inst, seq, index := iterState(vm, args[0])
		value, ok := next(vm, seq, index)
		if !ok {
			return args[0]
		}
		inst.Fields.Set(ObjectVal(vm.CopyString(iterIndexField)), IntVal(index+1))
		return value
	}
	vm.DefineNative(&cls.Methods, ".__call__", call)
	vm.DefineNative(&cls.Methods, ".__iter__", iterReturnSelf)
	vm.FinalizeClass(cls)
	return cls
}

// makeDictIteratorClass builds an iterator class that walks a dict's slots
// in order, projecting each live entry through pick.
func (vm *VM) makeDictIteratorClass(name string, pick func(vm *VM, k, v Value) Value) *Class {
	cls := vm.MakeClass(nil, name, vm.BaseClasses.Object)
	cls.SetFlag(FlagNoInherit)
	call := func(vm *VM, args []Value, hasKw bool) Value {
		inst, seq, index := iterState(vm, args[0])
		d, ok := asDict(vm, seq)
		if !ok {
			return args[0]
		}
		k, v, slot, found := dictEntryAt(d, index)
		if !found {
			return args[0]
		}
		inst.Fields.Set(ObjectVal(vm.CopyString(iterIndexField)), IntVal(slot+1))
		return pick(vm, k, v)
	}
	vm.DefineNative(&cls.Methods, ".__call__", call)
	vm.DefineNative(&cls.Methods, ".__iter__", iterReturnSelf)
	vm.FinalizeClass(cls)
	return cls
}

// ---------------------------------------------------------------------------
// Range
// ---------------------------------------------------------------------------

func rangeField(vm *VM, v Value, name string) int64 {
	inst := mustInstance(v.AsObj())
	field, _ := inst.Fields.Get(ObjectVal(vm.CopyString(name)))
	if !field.IsInt() {
		return 0
	}
	return field.AsInt()
}

func rangeInit(vm *VM, args []Value, hasKw bool) Value {
	if len(args) < 2 || len(args) > 4 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError,
			"range expected 1 to 3 arguments (%d given)", len(args)-1)
	}
	var start, stop, step int64 = 0, 0, 1
	for _, a := range args[1:] {
		if !a.IsInt() {
			return vm.RuntimeError(vm.Exceptions.TypeError, "range arguments must be integers")
		}
	}
	switch len(args) {
	case 2:
		stop = args[1].AsInt()
	case 3:
		start, stop = args[1].AsInt(), args[2].AsInt()
	case 4:
		start, stop, step = args[1].AsInt(), args[2].AsInt(), args[3].AsInt()
		if step == 0 {
			return vm.RuntimeError(vm.Exceptions.ValueError, "range() arg 3 must not be zero")
		}
	}
	inst := mustInstance(args[0].AsObj())
	inst.Fields.Set(ObjectVal(vm.CopyString("start")), IntVal(start))
	inst.Fields.Set(ObjectVal(vm.CopyString("stop")), IntVal(stop))
	inst.Fields.Set(ObjectVal(vm.CopyString("step")), IntVal(step))
	return NoneVal()
}

func rangeRepr(vm *VM, args []Value, hasKw bool) Value {
	start := rangeField(vm, args[0], "start")
	stop := rangeField(vm, args[0], "stop")
	step := rangeField(vm, args[0], "step")
	if step == 1 {
		return ObjectVal(vm.CopyString(fmt.Sprintf("range(%d, %d)", start, stop)))
	}
	return ObjectVal(vm.CopyString(fmt.Sprintf("range(%d, %d, %d)", start, stop, step)))
}

func rangeLen(vm *VM, args []Value, hasKw bool) Value {
	start := rangeField(vm, args[0], "start")
	stop := rangeField(vm, args[0], "stop")
	step := rangeField(vm, args[0], "step")
	n := int64(0)
	if step > 0 && stop > start {
		n = (stop - start + step - 1) / step
	} else if step < 0 && start > stop {
		n = (start - stop - step - 1) / -step
	}
	return IntVal(n)
}

func rangeIterNative(vm *VM, args []Value, hasKw bool) Value {
	iterator := vm.newSeqIterator(vm.BaseClasses.RangeIterator, args[0])
	return ObjectVal(iterator)
}

// registerRangeClass builds range and its iterator.
func (vm *VM) registerRangeClass() {
	bc := vm.BaseClasses
	bc.Range = vm.MakeClass(vm.Builtins, "range", bc.Object)
	bc.Range.SetFlag(FlagNoInherit)
	m := &bc.Range.Methods
	vm.DefineNative(m, ".__init__", rangeInit)
	vm.DefineNative(m, ".__repr__", rangeRepr)
	vm.DefineNative(m, ".__str__", rangeRepr)
	vm.DefineNative(m, ".__len__", rangeLen)
	vm.DefineNative(m, ".__iter__", rangeIterNative)
	vm.FinalizeClass(bc.Range)

	bc.RangeIterator = vm.makeSeqIteratorClass("rangeiterator", func(vm *VM, seq Value, index int64) (Value, bool) {
		start := rangeField(vm, seq, "start")
		stop := rangeField(vm, seq, "stop")
		step := rangeField(vm, seq, "step")
		value := start + index*step
		if step > 0 && value >= stop {
			return NoneVal(), false
		}
		if step < 0 && value <= stop {
			return NoneVal(), false
		}
		return IntVal(value), true
	})
}

// ---------------------------------------------------------------------------
// Slices
// ---------------------------------------------------------------------------

// sliceParts is the decoded form of a slice object, pre-clamping.
type sliceParts struct {
	start, stop, step Value
}

// asSlice decodes a slice instance.
func (vm *VM) asSlice(v Value) (*sliceParts, bool) {
	if !v.IsObject() {
		return nil, false
	}
	inst, ok := asInstanceObj(v.AsObj())
	if !ok || inst.Class != vm.BaseClasses.Slice {
		return nil, false
	}
	start, _ := inst.Fields.Get(ObjectVal(vm.CopyString("start")))
	stop, _ := inst.Fields.Get(ObjectVal(vm.CopyString("stop")))
	step, _ := inst.Fields.Get(ObjectVal(vm.CopyString("step")))
	return &sliceParts{start: start, stop: stop, step: step}, true
}

// indices clamps a slice against a sequence length, returning the effective
// start, stop, step and element count.
func (s *sliceParts) indices(length int) (start, stop, step, count int) {
	step = 1
	if s.step.IsInt() {
		step = int(s.step.AsInt())
	}
	if step == 0 {
		step = 1
	}
	if step > 0 {
		start, stop = 0, length
	} else {
		start, stop = length-1, -1
	}
	clamp := func(v, low, high int) int {
		if v < low {
			return low
		}
		if v > high {
			return high
		}
		return v
	}
	if s.start.IsInt() {
		start = int(s.start.AsInt())
		if start < 0 {
			start += length
		}
		if step > 0 {
			start = clamp(start, 0, length)
		} else {
			start = clamp(start, -1, length-1)
		}
	}
	if s.stop.IsInt() {
		stop = int(s.stop.AsInt())
		if stop < 0 {
			stop += length
		}
		if step > 0 {
			stop = clamp(stop, 0, length)
		} else {
			stop = clamp(stop, -1, length-1)
		}
	}
	if step > 0 && stop > start {
		count = (stop - start + step - 1) / step
	} else if step < 0 && start > stop {
		count = (start - stop - step - 1) / -step
	}
	return start, stop, step, count
}

// buildSlice materializes a slice object from 2 or 3 stack operands.
func (vm *VM) buildSlice(operandCount int) {
	t := vm.currentThread
	step := NoneVal()
	if operandCount == 3 {
		step = t.Pop()
	}
	stop := t.Pop()
	start := t.Pop()
	t.Push(start)
	t.Push(stop)
	t.Push(step)
	o := vm.NewInstance(vm.BaseClasses.Slice)
	inst := mustInstance(o)
	inst.Fields.Set(ObjectVal(vm.CopyString("start")), t.Peek(2))
	inst.Fields.Set(ObjectVal(vm.CopyString("stop")), t.Peek(1))
	inst.Fields.Set(ObjectVal(vm.CopyString("step")), t.Peek(0))
	t.Pop()
	t.Pop()
	t.Pop()
	t.Push(ObjectVal(o))
}

// unpackSequence spreads an iterable into exactly count stack slots.
func (vm *VM) unpackSequence(count int) {
	t := vm.currentThread
	v := t.Peek(0)
	var values []Value
	if tuple, ok := v.AsObjIf().(*Tuple); ok {
		values = tuple.Values
	} else if l, ok := asList(vm, v); ok {
		values = l.Values
	} else {
		if !vm.unpackIterable(v, &values) {
			return
		}
	}
	if len(values) != count {
		vm.RuntimeError(vm.Exceptions.ValueError,
			"not enough values to unpack (expected %d, got %d)", count, len(values))
		return
	}
	t.Pop()
	for _, e := range values {
		t.Push(e)
	}
}

// registerSliceClass builds the slice class.
func (vm *VM) registerSliceClass() {
	bc := vm.BaseClasses
	bc.Slice = vm.MakeClass(vm.Builtins, "slice", bc.Object)
	bc.Slice.SetFlag(FlagNoInherit)
	vm.FinalizeClass(bc.Slice)
}
