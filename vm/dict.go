package vm

import "strings"

// ---------------------------------------------------------------------------
// Dict: mutable hash mappings
// ---------------------------------------------------------------------------

// Dict is the built-in mapping type: an instance carrying a native table
// payload.
type Dict struct {
	Instance
	Entries Table
}

func (d *Dict) rawRepr() string {
	if d.HasFlag(FlagInRepr) {
		return "{...}"
	}
	d.SetFlag(FlagInRepr)
	defer d.ClearFlag(FlagInRepr)
	var b strings.Builder
	b.WriteByte('{')
	first := true
	d.Entries.Each(func(k, v Value) {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(rawRepr(k))
		b.WriteString(": ")
		b.WriteString(rawRepr(v))
	})
	b.WriteByte('}')
	return b.String()
}

func allocDictInstance(vm *VM, cls *Class) Obj {
	d := &Dict{}
	d.Kind = ObjInstanceKind
	d.Class = cls
	vm.allocateObject(&d.ObjHeader, d, cls.AllocSize)
	return d
}

// NewDict allocates an empty dict.
func (vm *VM) NewDict() *Dict {
	return allocDictInstance(vm, vm.BaseClasses.Dict).(*Dict)
}

// asDict extracts the dict payload of a value if its class descends from
// dict.
func asDict(vm *VM, v Value) (*Dict, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObj().(*Dict)
	if !ok {
		return nil, false
	}
	if vm != nil && !d.Class.HasBase(vm.BaseClasses.Dict) {
		return nil, false
	}
	return d, true
}

func scanDict(gc *collector, o Obj) {
	gc.markTable(&o.(*Dict).Entries)
}

func sweepDict(vm *VM, o Obj) {
	d := o.(*Dict)
	vm.gcReleaseBytes(d.Entries.Capacity() * sizeofTableEntry)
	d.Entries.Reset()
}

// ---------------------------------------------------------------------------
// Dict natives
// ---------------------------------------------------------------------------

func dictSelf(vm *VM, args []Value) (*Dict, bool) {
	if len(args) == 0 {
		vm.RuntimeError(vm.Exceptions.TypeError, "expected dict")
		return nil, false
	}
	d, ok := asDict(vm, args[0])
	if !ok {
		vm.RuntimeError(vm.Exceptions.TypeError, "expected dict, not '%s'", vm.TypeName(args[0]))
	}
	return d, ok
}

func dictInit(vm *VM, args []Value, hasKw bool) Value {
	self, ok := dictSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	if len(args) > 1 {
		// dict(other) copies; dict(pairs) consumes an iterable of pairs.
		if other, dok := asDict(vm, args[1]); dok {
			other.Entries.AddAll(&self.Entries)
			return NoneVal()
		}
		var pairs []Value
		if !vm.unpackIterable(args[1], &pairs) {
			return NoneVal()
		}
		for _, pair := range pairs {
			tuple, tok := pair.AsObj().(*Tuple)
			if !tok || len(tuple.Values) != 2 {
				return vm.RuntimeError(vm.Exceptions.ValueError,
					"dictionary update sequence elements must be pairs")
			}
			self.Entries.Set(tuple.Values[0], tuple.Values[1])
		}
	}
	return NoneVal()
}

func dictGetItem(vm *VM, args []Value, hasKw bool) Value {
	self, ok := dictSelf(vm, args)
	if !ok || len(args) < 2 {
		return NoneVal()
	}
	if v, found := self.Entries.Get(args[1]); found {
		return v
	}
	return vm.RuntimeError(vm.Exceptions.KeyError, "%s", rawRepr(args[1]))
}

func dictSetItem(vm *VM, args []Value, hasKw bool) Value {
	self, ok := dictSelf(vm, args)
	if !ok || len(args) < 3 {
		return NoneVal()
	}
	if args[1].IsKwargs() {
		return vm.RuntimeError(vm.Exceptions.TypeError, "unhashable key")
	}
	if self.Entries.Set(args[1], args[2]) {
		vm.gcTakeBytes(sizeofTableEntry)
	}
	return args[2]
}

func dictDelItem(vm *VM, args []Value, hasKw bool) Value {
	self, ok := dictSelf(vm, args)
	if !ok || len(args) < 2 {
		return NoneVal()
	}
	if !self.Entries.Delete(args[1]) {
		return vm.RuntimeError(vm.Exceptions.KeyError, "%s", rawRepr(args[1]))
	}
	return NoneVal()
}

func dictLen(vm *VM, args []Value, hasKw bool) Value {
	self, ok := dictSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return IntVal(int64(self.Entries.Count()))
}

func dictContains(vm *VM, args []Value, hasKw bool) Value {
	self, ok := dictSelf(vm, args)
	if !ok || len(args) < 2 {
		return BoolVal(false)
	}
	_, found := self.Entries.Get(args[1])
	return BoolVal(found)
}

func dictGet(vm *VM, args []Value, hasKw bool) Value {
	self, ok := dictSelf(vm, args)
	if !ok || len(args) < 2 {
		return NoneVal()
	}
	if v, found := self.Entries.Get(args[1]); found {
		return v
	}
	if len(args) > 2 {
		return args[2]
	}
	return NoneVal()
}

func dictKeys(vm *VM, args []Value, hasKw bool) Value {
	_, ok := dictSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return ObjectVal(vm.newSeqIterator(vm.BaseClasses.DictKeys, args[0]))
}

func dictValues(vm *VM, args []Value, hasKw bool) Value {
	_, ok := dictSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return ObjectVal(vm.newSeqIterator(vm.BaseClasses.DictValues, args[0]))
}

func dictItems(vm *VM, args []Value, hasKw bool) Value {
	_, ok := dictSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return ObjectVal(vm.newSeqIterator(vm.BaseClasses.DictItems, args[0]))
}

func dictRepr(vm *VM, args []Value, hasKw bool) Value {
	self, ok := dictSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	if self.HasFlag(FlagInRepr) {
		return ObjectVal(vm.CopyString("{...}"))
	}
	self.SetFlag(FlagInRepr)
	defer self.ClearFlag(FlagInRepr)
	var b strings.Builder
	b.WriteByte('{')
	first := true
	self.Entries.Each(func(k, v Value) {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(vm.reprString(k))
		b.WriteString(": ")
		b.WriteString(vm.reprString(v))
	})
	b.WriteByte('}')
	return ObjectVal(vm.CopyString(b.String()))
}

func dictEq(vm *VM, args []Value, hasKw bool) Value {
	self, ok := dictSelf(vm, args)
	if !ok || len(args) < 2 {
		return NotImplVal()
	}
	other, ook := asDict(vm, args[1])
	if !ook {
		return NotImplVal()
	}
	if self.Entries.Count() != other.Entries.Count() {
		return BoolVal(false)
	}
	equal := true
	self.Entries.Each(func(k, v Value) {
		if !equal {
			return
		}
		ov, found := other.Entries.Get(k)
		if !found || !ValuesEqual(v, ov) {
			equal = false
		}
	})
	return BoolVal(equal)
}

// dictEntryAt walks the table's slots in order, skipping empty and tombstone
// slots, and reports the first occupied slot at or after index.
func dictEntryAt(d *Dict, index int64) (key, value Value, next int64, ok bool) {
	for i := index; i < int64(d.Entries.Capacity()); i++ {
		entry := &d.Entries.entries[i]
		if entry.Key.IsKwargs() {
			continue
		}
		return entry.Key, entry.Value, i, true
	}
	return NoneVal(), NoneVal(), 0, false
}

// registerDictClass builds the dict class and its view iterators.
func (vm *VM) registerDictClass() {
	bc := vm.BaseClasses
	bc.Dict = vm.MakeClass(vm.Builtins, "dict", bc.Object)
	bc.Dict.Allocator = allocDictInstance
	bc.Dict.AllocSize = sizeofInstance + 4*wordSize
	bc.Dict.OnGCScan = scanDict
	bc.Dict.OnGCSweep = sweepDict
	m := &bc.Dict.Methods
	vm.DefineNative(m, ".__init__", dictInit)
	vm.DefineNative(m, ".__getitem__", dictGetItem)
	vm.DefineNative(m, ".__setitem__", dictSetItem)
	vm.DefineNative(m, ".__delitem__", dictDelItem)
	vm.DefineNative(m, ".__len__", dictLen)
	vm.DefineNative(m, ".__contains__", dictContains)
	vm.DefineNative(m, ".__repr__", dictRepr)
	vm.DefineNative(m, ".__str__", dictRepr)
	vm.DefineNative(m, ".__eq__", dictEq)
	vm.DefineNative(m, ".__iter__", dictKeys)
	vm.DefineNative(m, ".get", dictGet)
	vm.DefineNative(m, ".keys", dictKeys)
	vm.DefineNative(m, ".values", dictValues)
	vm.DefineNative(m, ".items", dictItems)
	vm.FinalizeClass(bc.Dict)

	bc.DictKeys = vm.makeDictIteratorClass("dictkeys", func(vm *VM, k, v Value) Value { return k })
	bc.DictValues = vm.makeDictIteratorClass("dictvalues", func(vm *VM, k, v Value) Value { return v })
	bc.DictItems = vm.makeDictIteratorClass("dictitems", func(vm *VM, k, v Value) Value {
		return ObjectVal(vm.NewTuple([]Value{k, v}))
	})
}
