package vm

import "strings"

// ---------------------------------------------------------------------------
// List: mutable value sequences
// ---------------------------------------------------------------------------

// List is the built-in mutable sequence: an instance carrying a native
// value-slice payload. Subclasses of list allocate the same payload via the
// class allocator.
type List struct {
	Instance
	Values []Value
}

func (l *List) rawRepr() string {
	if l.HasFlag(FlagInRepr) {
		return "[...]"
	}
	l.SetFlag(FlagInRepr)
	defer l.ClearFlag(FlagInRepr)
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range l.Values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(rawRepr(v))
	}
	b.WriteByte(']')
	return b.String()
}

func allocListInstance(vm *VM, cls *Class) Obj {
	l := &List{}
	l.Kind = ObjInstanceKind
	l.Class = cls
	vm.allocateObject(&l.ObjHeader, l, cls.AllocSize)
	return l
}

// NewListOf allocates a list taking ownership of values.
func (vm *VM) NewListOf(values []Value) *List {
	l := allocListInstance(vm, vm.BaseClasses.List).(*List)
	l.Values = values
	vm.gcTakeBytes(len(values) * sizeofValue)
	return l
}

// asList extracts the list payload of a value if its class descends from
// list.
func asList(vm *VM, v Value) (*List, bool) {
	if !v.IsObject() {
		return nil, false
	}
	l, ok := v.AsObj().(*List)
	if !ok {
		return nil, false
	}
	if vm != nil && !l.Class.HasBase(vm.BaseClasses.List) {
		return nil, false
	}
	return l, true
}

func scanList(gc *collector, o Obj) {
	gc.markValues(o.(*List).Values)
}

func sweepList(vm *VM, o Obj) {
	l := o.(*List)
	vm.gcReleaseBytes(len(l.Values) * sizeofValue)
	l.Values = nil
}

// ---------------------------------------------------------------------------
// List natives
// ---------------------------------------------------------------------------

func listSelf(vm *VM, args []Value) (*List, bool) {
	if len(args) == 0 {
		vm.RuntimeError(vm.Exceptions.TypeError, "expected list")
		return nil, false
	}
	l, ok := asList(vm, args[0])
	if !ok {
		vm.RuntimeError(vm.Exceptions.TypeError, "expected list, not '%s'", vm.TypeName(args[0]))
	}
	return l, ok
}

func listInit(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	if len(args) > 1 {
		var values []Value
		if !vm.unpackIterable(args[1], &values) {
			return NoneVal()
		}
		self.Values = values
	}
	return NoneVal()
}

func listGetItem(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	if len(args) > 1 {
		if slice, sok := vm.asSlice(args[1]); sok {
			start, _, step, n := slice.indices(len(self.Values))
			out := make([]Value, 0, n)
			for i, idx := 0, start; i < n; i, idx = i+1, idx+step {
				out = append(out, self.Values[idx])
			}
			return ObjectVal(vm.NewListOf(out))
		}
	}
	index, ok := vm.sequenceIndex(args, len(self.Values))
	if !ok {
		return NoneVal()
	}
	return self.Values[index]
}

func listSetItem(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	index, ok := vm.sequenceIndex(args, len(self.Values))
	if !ok {
		return NoneVal()
	}
	self.Values[index] = args[2]
	return args[2]
}

func listDelItem(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	index, ok := vm.sequenceIndex(args, len(self.Values))
	if !ok {
		return NoneVal()
	}
	self.Values = append(self.Values[:index], self.Values[index+1:]...)
	return NoneVal()
}

func listAppend(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok || len(args) < 2 {
		return NoneVal()
	}
	self.Values = append(self.Values, args[1])
	vm.gcTakeBytes(sizeofValue)
	return NoneVal()
}

func listInsert(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok || len(args) < 3 {
		vm.RuntimeError(vm.Exceptions.ArgumentError, "insert() expects two arguments")
		return NoneVal()
	}
	if !args[1].IsInt() {
		return vm.RuntimeError(vm.Exceptions.TypeError, "index must be an integer")
	}
	index := int(args[1].AsInt())
	if index < 0 {
		index += len(self.Values)
	}
	if index < 0 {
		index = 0
	}
	if index > len(self.Values) {
		index = len(self.Values)
	}
	self.Values = append(self.Values, NoneVal())
	copy(self.Values[index+1:], self.Values[index:])
	self.Values[index] = args[2]
	return NoneVal()
}

func listPop(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	if len(self.Values) == 0 {
		return vm.RuntimeError(vm.Exceptions.IndexError, "pop from empty list")
	}
	index := len(self.Values) - 1
	if len(args) > 1 {
		var iok bool
		index, iok = vm.sequenceIndex(args, len(self.Values))
		if !iok {
			return NoneVal()
		}
	}
	out := self.Values[index]
	self.Values = append(self.Values[:index], self.Values[index+1:]...)
	return out
}

func listExtend(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok || len(args) < 2 {
		return NoneVal()
	}
	var values []Value
	if !vm.unpackIterable(args[1], &values) {
		return NoneVal()
	}
	self.Values = append(self.Values, values...)
	return NoneVal()
}

func listLen(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return IntVal(int64(len(self.Values)))
}

func listContains(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok || len(args) < 2 {
		return BoolVal(false)
	}
	for _, v := range self.Values {
		if ValuesEqual(v, args[1]) {
			return BoolVal(true)
		}
	}
	return BoolVal(false)
}

func listAdd(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	other, ook := asList(vm, args[1])
	if !ook {
		return NotImplVal()
	}
	out := make([]Value, 0, len(self.Values)+len(other.Values))
	out = append(out, self.Values...)
	out = append(out, other.Values...)
	return ObjectVal(vm.NewListOf(out))
}

func listMul(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	if !args[1].IsInt() {
		return NotImplVal()
	}
	count := int(args[1].AsInt())
	var out []Value
	for i := 0; i < count; i++ {
		out = append(out, self.Values...)
	}
	return ObjectVal(vm.NewListOf(out))
}

func listEq(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok || len(args) < 2 {
		return NotImplVal()
	}
	other, ook := asList(vm, args[1])
	if !ook {
		return NotImplVal()
	}
	if len(self.Values) != len(other.Values) {
		return BoolVal(false)
	}
	for i := range self.Values {
		if !ValuesEqual(self.Values[i], other.Values[i]) {
			return BoolVal(false)
		}
	}
	return BoolVal(true)
}

func listRepr(vm *VM, args []Value, hasKw bool) Value {
	self, ok := listSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	if self.HasFlag(FlagInRepr) {
		return ObjectVal(vm.CopyString("[...]"))
	}
	self.SetFlag(FlagInRepr)
	defer self.ClearFlag(FlagInRepr)
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range self.Values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(vm.reprString(v))
	}
	b.WriteByte(']')
	return ObjectVal(vm.CopyString(b.String()))
}

func listIter(vm *VM, args []Value, hasKw bool) Value {
	_, ok := listSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return ObjectVal(vm.newSeqIterator(vm.BaseClasses.ListIterator, args[0]))
}

// registerListClass builds the list class and its iterator.
func (vm *VM) registerListClass() {
	bc := vm.BaseClasses
	bc.List = vm.MakeClass(vm.Builtins, "list", bc.Object)
	bc.List.Allocator = allocListInstance
	bc.List.AllocSize = sizeofInstance + 3*wordSize
	bc.List.OnGCScan = scanList
	bc.List.OnGCSweep = sweepList
	m := &bc.List.Methods
	vm.DefineNative(m, ".__init__", listInit)
	vm.DefineNative(m, ".__getitem__", listGetItem)
	vm.DefineNative(m, ".__setitem__", listSetItem)
	vm.DefineNative(m, ".__delitem__", listDelItem)
	vm.DefineNative(m, ".__len__", listLen)
	vm.DefineNative(m, ".__contains__", listContains)
	vm.DefineNative(m, ".__add__", listAdd)
	vm.DefineNative(m, ".__mul__", listMul)
	vm.DefineNative(m, ".__eq__", listEq)
	vm.DefineNative(m, ".__repr__", listRepr)
	vm.DefineNative(m, ".__str__", listRepr)
	vm.DefineNative(m, ".__iter__", listIter)
	vm.DefineNative(m, ".append", listAppend)
	vm.DefineNative(m, ".insert", listInsert)
	vm.DefineNative(m, ".pop", listPop)
	vm.DefineNative(m, ".extend", listExtend)
	vm.FinalizeClass(bc.List)

	bc.ListIterator = vm.makeSeqIteratorClass("listiterator", func(vm *VM, seq Value, index int64) (Value, bool) {
		l, ok := asList(vm, seq)
		if !ok || index >= int64(len(l.Values)) {
			return NoneVal(), false
		}
		return l.Values[index], true
	})
}

// sequenceIndex validates args[1] as an index into a sequence of the given
// length, handling negative indexing.
func (vm *VM) sequenceIndex(args []Value, length int) (int, bool) {
	if len(args) < 2 || !args[1].IsInt() {
		vm.RuntimeError(vm.Exceptions.TypeError, "indices must be integers")
		return 0, false
	}
	index := int(args[1].AsInt())
	if index < 0 {
		index += length
	}
	if index < 0 || index >= length {
		vm.RuntimeError(vm.Exceptions.IndexError, "index out of range: %d", args[1].AsInt())
		return 0, false
	}
	return index, true
}
