package vm

import (
	"fmt"
	"os"
	"strings"
)

// ---------------------------------------------------------------------------
// Bootstrap: built-in classes, exceptions, and the __builtins__ module
// ---------------------------------------------------------------------------

// bootstrapClasses builds the core type tree. Object, type and module come
// first by hand, because everything else (including the module the classes
// are attached to) depends on them.
func (vm *VM) bootstrapClasses() {
	bc := vm.BaseClasses

	bc.Object = vm.NewClass(vm.CopyString("object"), nil)
	bc.Type = vm.NewClass(vm.CopyString("type"), bc.Object)
	bc.Module = vm.NewClass(vm.CopyString("module"), bc.Object)

	vm.Builtins = mustInstance(vm.NewInstance(bc.Module))
	vm.Builtins.Kind = ObjModuleKind
	vm.AttachNamedValue(&vm.Builtins.Fields, "__name__", ObjectVal(vm.CopyString("__builtins__")))
	vm.AttachNamedObject(&vm.Builtins.Fields, "object", bc.Object)
	vm.AttachNamedObject(&vm.Builtins.Fields, "type", bc.Type)

	vm.DefineNative(&bc.Object.Methods, ".__repr__", objectRepr)
	vm.DefineNative(&bc.Object.Methods, ".__str__", objectRepr)
	vm.DefineNative(&bc.Object.Methods, ".__dir__", objectDir)
	vm.FinalizeClass(bc.Object)

	bc.Type.NativeCtor = typeCtor
	vm.DefineNative(&bc.Type.Methods, ".__repr__", classRepr)
	vm.FinalizeClass(bc.Type)

	vm.DefineNative(&bc.Module.Methods, ".__repr__", moduleRepr)
	vm.FinalizeClass(bc.Module)

	// Pseudoclasses for the immediate value kinds.
	bc.Int = vm.MakeClass(vm.Builtins, "int", bc.Object)
	bc.Int.SetFlag(FlagNoInherit)
	bc.Int.NativeCtor = intCtor
	vm.FinalizeClass(bc.Int)

	bc.Float = vm.MakeClass(vm.Builtins, "float", bc.Object)
	bc.Float.SetFlag(FlagNoInherit)
	bc.Float.NativeCtor = floatCtor
	vm.FinalizeClass(bc.Float)

	bc.Bool = vm.MakeClass(vm.Builtins, "bool", bc.Object)
	bc.Bool.SetFlag(FlagNoInherit)
	bc.Bool.NativeCtor = boolCtor
	vm.FinalizeClass(bc.Bool)

	bc.NoneType = vm.MakeClass(nil, "NoneType", bc.Object)
	bc.NoneType.SetFlag(FlagNoInherit)
	vm.FinalizeClass(bc.NoneType)

	bc.NotImplType = vm.MakeClass(nil, "NotImplementedType", bc.Object)
	bc.NotImplType.SetFlag(FlagNoInherit)
	vm.FinalizeClass(bc.NotImplType)

	bc.Function = vm.MakeClass(nil, "function", bc.Object)
	bc.Function.SetFlag(FlagNoInherit)
	vm.DefineNativeProperty(&bc.Function.Methods, "__doc__", functionDoc)
	vm.DefineNativeProperty(&bc.Function.Methods, "__name__", functionName)
	vm.FinalizeClass(bc.Function)

	bc.Method = vm.MakeClass(nil, "method", bc.Object)
	bc.Method.SetFlag(FlagNoInherit)
	vm.FinalizeClass(bc.Method)

	bc.CodeObject = vm.MakeClass(nil, "codeobject", bc.Object)
	bc.CodeObject.SetFlag(FlagNoInherit)
	vm.FinalizeClass(bc.CodeObject)

	bc.Property = vm.MakeClass(vm.Builtins, "property", bc.Object)
	bc.Property.SetFlag(FlagNoInherit)
	bc.Property.NativeCtor = propertyCtor
	vm.FinalizeClass(bc.Property)

	bc.Generator = vm.MakeClass(nil, "generator", bc.Object)
	bc.Generator.SetFlag(FlagNoInherit)
	vm.DefineNative(&bc.Generator.Methods, ".__iter__", iterReturnSelf)
	vm.FinalizeClass(bc.Generator)

	bc.Tuple = vm.MakeClass(vm.Builtins, "tuple", bc.Object)
	bc.Tuple.SetFlag(FlagNoInherit)
	bc.Tuple.NativeCtor = tupleCtor
	m := &bc.Tuple.Methods
	vm.DefineNative(m, ".__len__", tupleLen)
	vm.DefineNative(m, ".__getitem__", tupleGetItem)
	vm.DefineNative(m, ".__contains__", tupleContains)
	vm.DefineNative(m, ".__repr__", tupleRepr)
	vm.DefineNative(m, ".__str__", tupleRepr)
	vm.DefineNative(m, ".__iter__", tupleIterNative)
	vm.FinalizeClass(bc.Tuple)
	bc.TupleIterator = vm.makeSeqIteratorClass("tupleiterator", func(vm *VM, seq Value, index int64) (Value, bool) {
		tup := seq.AsObj().(*Tuple)
		if index >= int64(len(tup.Values)) {
			return NoneVal(), false
		}
		return tup.Values[index], true
	})

	bc.Bytes = vm.MakeClass(vm.Builtins, "bytes", bc.Object)
	bc.Bytes.SetFlag(FlagNoInherit)
	mb := &bc.Bytes.Methods
	vm.DefineNative(mb, ".__len__", bytesLen)
	vm.DefineNative(mb, ".__getitem__", bytesGetItem)
	vm.DefineNative(mb, ".__repr__", bytesRepr)
	vm.DefineNative(mb, ".__str__", bytesRepr)
	vm.DefineNative(mb, ".__iter__", bytesIterNative)
	vm.FinalizeClass(bc.Bytes)
	bc.BytesIterator = vm.makeSeqIteratorClass("bytesiterator", func(vm *VM, seq Value, index int64) (Value, bool) {
		b := seq.AsObj().(*Bytes)
		if index >= int64(len(b.Data)) {
			return NoneVal(), false
		}
		return IntVal(int64(b.Data[index])), true
	})

	vm.registerStrClass()
	vm.registerListClass()
	vm.registerDictClass()
	vm.registerRangeClass()
	vm.registerSliceClass()
}

// bootstrapExceptions builds the exception hierarchy.
func (vm *VM) bootstrapExceptions() {
	e := vm.Exceptions

	e.BaseException = vm.MakeClass(vm.Builtins, "BaseException", vm.BaseClasses.Object)
	m := &e.BaseException.Methods
	vm.DefineNative(m, ".__init__", exceptionInit)
	vm.DefineNative(m, ".__repr__", exceptionRepr)
	vm.DefineNative(m, ".__str__", exceptionStr)
	vm.FinalizeClass(e.BaseException)

	sub := func(name string, base *Class) *Class {
		cls := vm.MakeClass(vm.Builtins, name, base)
		vm.FinalizeClass(cls)
		return cls
	}

	e.Exception = sub("Exception", e.BaseException)
	e.TypeError = sub("TypeError", e.Exception)
	e.ArgumentError = sub("ArgumentError", e.Exception)
	e.IndexError = sub("IndexError", e.Exception)
	e.KeyError = sub("KeyError", e.Exception)
	e.AttributeError = sub("AttributeError", e.Exception)
	e.NameError = sub("NameError", e.Exception)
	e.ImportError = sub("ImportError", e.Exception)
	e.IOError = sub("IOError", e.Exception)
	e.ValueError = sub("ValueError", e.Exception)
	e.ZeroDivisionError = sub("ZeroDivisionError", e.Exception)
	e.NotImplementedError = sub("NotImplementedError", e.Exception)
	e.SyntaxError = sub("SyntaxError", e.Exception)
	e.AssertionError = sub("AssertionError", e.Exception)
	e.RecursionError = sub("RecursionError", e.Exception)
	e.KeyboardInterrupt = sub("KeyboardInterrupt", e.BaseException)
}

// bootstrapBuiltins attaches the builtin functions and the kuroko module.
func (vm *VM) bootstrapBuiltins() {
	b := &vm.Builtins.Fields
	vm.DefineNative(b, "print", builtinPrint)
	vm.DefineNative(b, "len", builtinLen)
	vm.DefineNative(b, "isinstance", builtinIsinstance)
	vm.DefineNative(b, "repr", builtinRepr)
	vm.DefineNative(b, "id", builtinID)
	vm.DefineNative(b, "hash", builtinHash)
	vm.DefineNative(b, "ord", builtinOrd)
	vm.DefineNative(b, "chr", builtinChr)
	vm.DefineNative(b, "abs", builtinAbs)
	vm.DefineNative(b, "getattr", builtinGetattr)
	vm.DefineNative(b, "setattr", builtinSetattr)
	vm.DefineNative(b, "hasattr", builtinHasattr)
	vm.DefineNative(b, "dir", objectDir)
	vm.DefineNative(b, "globals", builtinGlobals)
	vm.DefineNative(b, "iter", builtinIter)
	vm.AttachNamedValue(b, "NotImplemented", NotImplVal())

	// The kuroko module carries interpreter state visible to managed code.
	vm.System = mustInstance(vm.NewInstance(vm.BaseClasses.Module))
	vm.System.Kind = ObjModuleKind
	vm.AttachNamedValue(&vm.System.Fields, "__name__", ObjectVal(vm.CopyString("kuroko")))
	vm.AttachNamedValue(&vm.System.Fields, "version", ObjectVal(vm.CopyString(Version)))
	paths := vm.NewListOf(nil)
	vm.AttachNamedObject(&vm.System.Fields, "module_paths", paths)
	vm.Modules.Set(ObjectVal(vm.CopyString("kuroko")), ObjectVal(vm.System))

	vm.DefineNative(&vm.System.Fields, "collect", builtinCollect)
	vm.DefineNative(&vm.System.Fields, "pause_gc", builtinPauseGC)
	vm.DefineNative(&vm.System.Fields, "resume_gc", builtinResumeGC)
}

// Version is the interpreter version reported by the kuroko module.
const Version = "1.0.0"

// ---------------------------------------------------------------------------
// Value rendering through managed code
// ---------------------------------------------------------------------------

// strString renders a value via its __str__, falling back to __repr__ and
// then to the raw renderer.
func (vm *VM) strString(v Value) string {
	return vm.renderValue(v, SpecialStr)
}

// reprString renders a value via its __repr__.
func (vm *VM) reprString(v Value) string {
	return vm.renderValue(v, SpecialRepr)
}

func (vm *VM) renderValue(v Value, slot SpecialMethod) string {
	if s, ok := asString(v); ok && slot == SpecialStr {
		return s.Chars
	}
	t := vm.currentThread
	cls := vm.GetType(v)
	method := cls.Special(slot)
	if method.IsNone() && slot == SpecialStr {
		method = cls.Special(SpecialRepr)
	}
	if method.IsNone() {
		return rawRepr(v)
	}
	t.Push(v)
	result := vm.CallSimple(method, 1, 0)
	if t.HasException() {
		return rawRepr(v)
	}
	if s, ok := asString(result); ok {
		return s.Chars
	}
	return rawRepr(result)
}

// ---------------------------------------------------------------------------
// Object / type / module natives
// ---------------------------------------------------------------------------

func objectRepr(vm *VM, args []Value, hasKw bool) Value {
	return ObjectVal(vm.CopyString(rawRepr(args[0])))
}

// objectDir lists the attributes reachable from a value: its fields and the
// methods along its class chain.
func objectDir(vm *VM, args []Value, hasKw bool) Value {
	if len(args) == 0 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "dir() expects one argument")
	}
	seen := map[string]struct{}{}
	var names []Value
	add := func(k Value) {
		if s, ok := asString(k); ok {
			if _, dup := seen[s.Chars]; !dup {
				seen[s.Chars] = struct{}{}
				names = append(names, k)
			}
		}
	}
	if args[0].IsObject() {
		if inst, ok := asInstanceObj(args[0].AsObj()); ok {
			inst.Fields.Each(func(k, v Value) { add(k) })
		}
		if cls, ok := args[0].AsObj().(*Class); ok {
			for cur := cls; cur != nil; cur = cur.Base {
				cur.Methods.Each(func(k, v Value) { add(k) })
			}
		}
	}
	for cur := vm.GetType(args[0]); cur != nil; cur = cur.Base {
		cur.Methods.Each(func(k, v Value) { add(k) })
	}
	return ObjectVal(vm.NewListOf(names))
}

func classRepr(vm *VM, args []Value, hasKw bool) Value {
	return ObjectVal(vm.CopyString(rawRepr(args[0])))
}

func moduleRepr(vm *VM, args []Value, hasKw bool) Value {
	inst := mustInstance(args[0].AsObj())
	name := "?"
	if v, ok := inst.Fields.Get(ObjectVal(vm.CopyString("__name__"))); ok {
		if s, sok := asString(v); sok {
			name = s.Chars
		}
	}
	return ObjectVal(vm.CopyString(fmt.Sprintf("<module '%s'>", name)))
}

func functionDoc(vm *VM, args []Value, hasKw bool) Value {
	if c, ok := args[0].AsObjIf().(*Closure); ok {
		return c.Function.Docstring
	}
	return NoneVal()
}

func functionName(vm *VM, args []Value, hasKw bool) Value {
	if c, ok := args[0].AsObjIf().(*Closure); ok && c.Function.Name != nil {
		return ObjectVal(c.Function.Name)
	}
	if n, ok := args[0].AsObjIf().(*Native); ok {
		return ObjectVal(vm.CopyString(n.Name))
	}
	return ObjectVal(vm.CopyString(""))
}

// ---------------------------------------------------------------------------
// Primitive constructors
// ---------------------------------------------------------------------------

func typeCtor(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 1 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "type() takes exactly one argument")
	}
	return ObjectVal(vm.GetType(args[0]))
}

func intCtor(vm *VM, args []Value, hasKw bool) Value {
	if len(args) == 0 {
		return IntVal(0)
	}
	v := args[0]
	switch v.Kind() {
	case ValInt:
		return v
	case ValBool:
		if v.AsBool() {
			return IntVal(1)
		}
		return IntVal(0)
	case ValFloat:
		return IntVal(int64(v.AsFloat()))
	}
	if s, ok := asString(v); ok {
		return strToInt(vm, s)
	}
	return vm.RuntimeError(vm.Exceptions.TypeError,
		"int() argument must be a number or string, not '%s'", vm.TypeName(v))
}

func floatCtor(vm *VM, args []Value, hasKw bool) Value {
	if len(args) == 0 {
		return FloatVal(0)
	}
	v := args[0]
	switch v.Kind() {
	case ValFloat:
		return v
	case ValInt:
		return FloatVal(float64(v.AsInt()))
	case ValBool:
		if v.AsBool() {
			return FloatVal(1)
		}
		return FloatVal(0)
	}
	if s, ok := asString(v); ok {
		return strToFloat(vm, s)
	}
	return vm.RuntimeError(vm.Exceptions.TypeError,
		"float() argument must be a number or string, not '%s'", vm.TypeName(v))
}

func boolCtor(vm *VM, args []Value, hasKw bool) Value {
	if len(args) == 0 {
		return BoolVal(false)
	}
	return BoolVal(!args[0].IsFalsey())
}

func tupleCtor(vm *VM, args []Value, hasKw bool) Value {
	if len(args) == 0 {
		return ObjectVal(vm.NewTuple(nil))
	}
	var values []Value
	if !vm.unpackIterable(args[0], &values) {
		return NoneVal()
	}
	return ObjectVal(vm.NewTuple(values))
}

func propertyCtor(vm *VM, args []Value, hasKw bool) Value {
	if len(args) == 0 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "property() expects a getter")
	}
	p := vm.NewProperty(args[0])
	if len(args) > 1 {
		p.Setter = args[1]
	}
	return ObjectVal(p)
}

// ---------------------------------------------------------------------------
// Tuple and bytes natives
// ---------------------------------------------------------------------------

func tupleLen(vm *VM, args []Value, hasKw bool) Value {
	return IntVal(int64(len(args[0].AsObj().(*Tuple).Values)))
}

func tupleGetItem(vm *VM, args []Value, hasKw bool) Value {
	tup := args[0].AsObj().(*Tuple)
	index, ok := vm.sequenceIndex(args, len(tup.Values))
	if !ok {
		return NoneVal()
	}
	return tup.Values[index]
}

func tupleContains(vm *VM, args []Value, hasKw bool) Value {
	tup := args[0].AsObj().(*Tuple)
	for _, v := range tup.Values {
		if ValuesEqual(v, args[1]) {
			return BoolVal(true)
		}
	}
	return BoolVal(false)
}

func tupleRepr(vm *VM, args []Value, hasKw bool) Value {
	tup := args[0].AsObj().(*Tuple)
	if tup.HasFlag(FlagInRepr) {
		return ObjectVal(vm.CopyString("(...)"))
	}
	tup.SetFlag(FlagInRepr)
	defer tup.ClearFlag(FlagInRepr)
	var b strings.Builder
	b.WriteByte('(')
	for i, v := range tup.Values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(vm.reprString(v))
	}
	if len(tup.Values) == 1 {
		b.WriteByte(',')
	}
	b.WriteByte(')')
	return ObjectVal(vm.CopyString(b.String()))
}

func tupleIterNative(vm *VM, args []Value, hasKw bool) Value {
	return ObjectVal(vm.newSeqIterator(vm.BaseClasses.TupleIterator, args[0]))
}

func bytesLen(vm *VM, args []Value, hasKw bool) Value {
	return IntVal(int64(len(args[0].AsObj().(*Bytes).Data)))
}

func bytesGetItem(vm *VM, args []Value, hasKw bool) Value {
	b := args[0].AsObj().(*Bytes)
	index, ok := vm.sequenceIndex(args, len(b.Data))
	if !ok {
		return NoneVal()
	}
	return IntVal(int64(b.Data[index]))
}

func bytesRepr(vm *VM, args []Value, hasKw bool) Value {
	return ObjectVal(vm.CopyString(args[0].AsObj().(*Bytes).rawRepr()))
}

func bytesIterNative(vm *VM, args []Value, hasKw bool) Value {
	return ObjectVal(vm.newSeqIterator(vm.BaseClasses.BytesIterator, args[0]))
}

// ---------------------------------------------------------------------------
// Exception natives
// ---------------------------------------------------------------------------

func exceptionInit(vm *VM, args []Value, hasKw bool) Value {
	inst := mustInstance(args[0].AsObj())
	if len(args) > 1 {
		inst.Fields.Set(ObjectVal(vm.CopyString("arg")), args[1])
	}
	return NoneVal()
}

func exceptionRepr(vm *VM, args []Value, hasKw bool) Value {
	inst := mustInstance(args[0].AsObj())
	name := inst.Class.Name.Chars
	if arg, ok := inst.Fields.Get(ObjectVal(vm.CopyString("arg"))); ok {
		return ObjectVal(vm.CopyString(fmt.Sprintf("%s(%s)", name, vm.reprString(arg))))
	}
	return ObjectVal(vm.CopyString(name + "()"))
}

func exceptionStr(vm *VM, args []Value, hasKw bool) Value {
	inst := mustInstance(args[0].AsObj())
	if arg, ok := inst.Fields.Get(ObjectVal(vm.CopyString("arg"))); ok {
		return ObjectVal(vm.CopyString(vm.strString(arg)))
	}
	return ObjectVal(vm.CopyString(""))
}

// ---------------------------------------------------------------------------
// Builtin functions
// ---------------------------------------------------------------------------

func builtinPrint(vm *VM, args []Value, hasKw bool) Value {
	sep := " "
	end := "\n"
	if hasKw {
		kw := args[len(args)-1].AsObj().(*Dict)
		args = args[:len(args)-1]
		if v, ok := kw.Entries.Get(ObjectVal(vm.CopyString("sep"))); ok {
			if s, sok := asString(v); sok {
				sep = s.Chars
			}
		}
		if v, ok := kw.Entries.Get(ObjectVal(vm.CopyString("end"))); ok {
			if s, sok := asString(v); sok {
				end = s.Chars
			}
		}
	}
	out := vm.Stdout
	if out == nil {
		out = os.Stdout
	}
	for i, v := range args {
		if i > 0 {
			fmt.Fprint(out, sep)
		}
		fmt.Fprint(out, vm.strString(v))
		if vm.currentThread.HasException() {
			return NoneVal()
		}
	}
	fmt.Fprint(out, end)
	return NoneVal()
}

func builtinLen(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 1 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "len() takes exactly one argument")
	}
	slot := vm.GetType(args[0]).Special(SpecialLen)
	if slot.IsNone() {
		return vm.RuntimeError(vm.Exceptions.TypeError,
			"object of type '%s' has no len()", vm.TypeName(args[0]))
	}
	vm.Push(args[0])
	result := vm.CallSimple(slot, 1, 0)
	if vm.currentThread.HasException() {
		return NoneVal()
	}
	if !result.IsInt() {
		return vm.RuntimeError(vm.Exceptions.TypeError, "__len__ should return an int")
	}
	return result
}

func builtinIsinstance(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 2 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "isinstance() takes exactly two arguments")
	}
	if cls, ok := args[1].AsObjIf().(*Class); ok {
		return BoolVal(vm.IsInstanceOf(args[0], cls))
	}
	if tup, ok := args[1].AsObjIf().(*Tuple); ok {
		for _, t := range tup.Values {
			cls, cok := t.AsObjIf().(*Class)
			if !cok {
				return vm.RuntimeError(vm.Exceptions.TypeError,
					"isinstance() arg 2 must be a type or tuple of types")
			}
			if vm.IsInstanceOf(args[0], cls) {
				return BoolVal(true)
			}
		}
		return BoolVal(false)
	}
	return vm.RuntimeError(vm.Exceptions.TypeError,
		"isinstance() arg 2 must be a type or tuple of types")
}

func builtinRepr(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 1 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "repr() takes exactly one argument")
	}
	return ObjectVal(vm.CopyString(vm.reprString(args[0])))
}

func builtinID(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 1 || !args[0].IsObject() {
		return vm.RuntimeError(vm.Exceptions.TypeError, "id() expects a heap object")
	}
	return IntVal(int64(args[0].AsObj().Header().id))
}

func builtinHash(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 1 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "hash() takes exactly one argument")
	}
	if slot := vm.GetType(args[0]).Special(SpecialHash); !slot.IsNone() {
		vm.Push(args[0])
		return vm.CallSimple(slot, 1, 0)
	}
	return IntVal(int64(HashValue(args[0])))
}

func builtinOrd(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 1 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "ord() takes exactly one argument")
	}
	s, ok := asString(args[0])
	if !ok || s.Length() != 1 {
		return vm.RuntimeError(vm.Exceptions.TypeError,
			"ord() expected a character")
	}
	for _, r := range s.Chars {
		return IntVal(int64(r))
	}
	return NoneVal()
}

func builtinChr(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 1 || !args[0].IsInt() {
		return vm.RuntimeError(vm.Exceptions.TypeError, "chr() expects an integer")
	}
	return ObjectVal(vm.CopyString(string(rune(args[0].AsInt()))))
}

func builtinAbs(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 1 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "abs() takes exactly one argument")
	}
	switch args[0].Kind() {
	case ValInt:
		v := args[0].AsInt()
		if v < 0 {
			v = -v
		}
		return IntVal(v)
	case ValFloat:
		v := args[0].AsFloat()
		if v < 0 {
			v = -v
		}
		return FloatVal(v)
	}
	return vm.RuntimeError(vm.Exceptions.TypeError,
		"bad operand type for abs(): '%s'", vm.TypeName(args[0]))
}

func builtinGetattr(vm *VM, args []Value, hasKw bool) Value {
	if len(args) < 2 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "getattr() expects at least two arguments")
	}
	name, ok := asString(args[1])
	if !ok {
		return vm.RuntimeError(vm.Exceptions.TypeError, "attribute name must be a string")
	}
	t := vm.currentThread
	t.Push(args[0])
	vm.getAttributeOnTop(name)
	if t.HasException() {
		if len(args) > 2 {
			t.CurrentException = NoneVal()
			t.flags &^= ThreadHasException
			return args[2]
		}
		return NoneVal()
	}
	return t.Pop()
}

func builtinSetattr(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 3 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "setattr() takes exactly three arguments")
	}
	name, ok := asString(args[1])
	if !ok {
		return vm.RuntimeError(vm.Exceptions.TypeError, "attribute name must be a string")
	}
	return vm.ValueSetAttribute(args[0], name.Chars, args[2])
}

func builtinHasattr(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 2 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "hasattr() takes exactly two arguments")
	}
	name, ok := asString(args[1])
	if !ok {
		return vm.RuntimeError(vm.Exceptions.TypeError, "attribute name must be a string")
	}
	t := vm.currentThread
	t.Push(args[0])
	vm.getAttributeOnTop(name)
	if t.HasException() {
		t.CurrentException = NoneVal()
		t.flags &^= ThreadHasException
		return BoolVal(false)
	}
	t.Pop()
	return BoolVal(true)
}

func builtinGlobals(vm *VM, args []Value, hasKw bool) Value {
	t := vm.currentThread
	d := vm.NewDict()
	if t.frameCount > 0 {
		t.Push(ObjectVal(d))
		t.currentFrame().Globals.AddAll(&d.Entries)
		t.Pop()
	}
	return ObjectVal(d)
}

func builtinIter(vm *VM, args []Value, hasKw bool) Value {
	if len(args) != 1 {
		return vm.RuntimeError(vm.Exceptions.ArgumentError, "iter() takes exactly one argument")
	}
	slot := vm.GetType(args[0]).Special(SpecialIter)
	if slot.IsNone() {
		return vm.RuntimeError(vm.Exceptions.TypeError,
			"'%s' object is not iterable", vm.TypeName(args[0]))
	}
	vm.Push(args[0])
	return vm.CallSimple(slot, 1, 0)
}

func builtinCollect(vm *VM, args []Value, hasKw bool) Value {
	return IntVal(int64(vm.Collect()))
}

func builtinPauseGC(vm *VM, args []Value, hasKw bool) Value {
	vm.pauseGC()
	return NoneVal()
}

func builtinResumeGC(vm *VM, args []Value, hasKw bool) Value {
	vm.resumeGC()
	return NoneVal()
}
