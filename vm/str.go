package vm

import (
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// String natives
// ---------------------------------------------------------------------------

func strSelf(vm *VM, args []Value) (*String, bool) {
	if len(args) == 0 {
		vm.RuntimeError(vm.Exceptions.TypeError, "expected str")
		return nil, false
	}
	s, ok := asString(args[0])
	if !ok {
		vm.RuntimeError(vm.Exceptions.TypeError, "expected str, not '%s'", vm.TypeName(args[0]))
	}
	return s, ok
}

func strCtor(vm *VM, args []Value, hasKw bool) Value {
	if len(args) == 0 {
		return ObjectVal(vm.CopyString(""))
	}
	return ObjectVal(vm.CopyString(vm.strString(args[0])))
}

func strAdd(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	other, ook := asString(args[1])
	if !ook {
		return NotImplVal()
	}
	return ObjectVal(vm.CopyString(self.Chars + other.Chars))
}

func strMul(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	if !args[1].IsInt() {
		return NotImplVal()
	}
	count := args[1].AsInt()
	if count < 0 {
		count = 0
	}
	return ObjectVal(vm.CopyString(strings.Repeat(self.Chars, int(count))))
}

func strLen(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return IntVal(int64(self.Length()))
}

func strGetItem(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	runes := []rune(self.Chars)
	if len(args) > 1 {
		if slice, sok := vm.asSlice(args[1]); sok {
			start, _, step, n := slice.indices(len(runes))
			out := make([]rune, 0, n)
			for i, idx := 0, start; i < n; i, idx = i+1, idx+step {
				out = append(out, runes[idx])
			}
			return ObjectVal(vm.CopyString(string(out)))
		}
	}
	index, iok := vm.sequenceIndex(args, len(runes))
	if !iok {
		return NoneVal()
	}
	return ObjectVal(vm.CopyString(string(runes[index])))
}

func strContains(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok || len(args) < 2 {
		return BoolVal(false)
	}
	other, ook := asString(args[1])
	if !ook {
		return vm.RuntimeError(vm.Exceptions.TypeError, "'in <string>' requires string operand")
	}
	return BoolVal(strings.Contains(self.Chars, other.Chars))
}

func strRepr(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return ObjectVal(vm.CopyString(self.rawRepr()))
}

func strStr(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return ObjectVal(self)
}

func strIterNative(vm *VM, args []Value, hasKw bool) Value {
	_, ok := strSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return ObjectVal(vm.newSeqIterator(vm.BaseClasses.StrIterator, args[0]))
}

func strJoin(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok || len(args) < 2 {
		return NoneVal()
	}
	var parts []Value
	if !vm.unpackIterable(args[1], &parts) {
		return NoneVal()
	}
	var b strings.Builder
	for i, p := range parts {
		s, sok := asString(p)
		if !sok {
			return vm.RuntimeError(vm.Exceptions.TypeError,
				"join() expects strings, not '%s'", vm.TypeName(p))
		}
		if i > 0 {
			b.WriteString(self.Chars)
		}
		b.WriteString(s.Chars)
	}
	return ObjectVal(vm.CopyString(b.String()))
}

func strSplit(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	var parts []string
	if len(args) > 1 {
		sep, sok := asString(args[1])
		if !sok {
			return vm.RuntimeError(vm.Exceptions.TypeError, "separator must be a string")
		}
		parts = strings.Split(self.Chars, sep.Chars)
	} else {
		parts = strings.Fields(self.Chars)
	}
	values := make([]Value, len(parts))
	for i, p := range parts {
		values[i] = ObjectVal(vm.CopyString(p))
	}
	return ObjectVal(vm.NewListOf(values))
}

func strStrip(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	if len(args) > 1 {
		chars, sok := asString(args[1])
		if !sok {
			return vm.RuntimeError(vm.Exceptions.TypeError, "strip arg must be a string")
		}
		return ObjectVal(vm.CopyString(strings.Trim(self.Chars, chars.Chars)))
	}
	return ObjectVal(vm.CopyString(strings.TrimSpace(self.Chars)))
}

func strStartswith(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok || len(args) < 2 {
		return BoolVal(false)
	}
	prefix, pok := asString(args[1])
	if !pok {
		return vm.RuntimeError(vm.Exceptions.TypeError, "startswith arg must be a string")
	}
	return BoolVal(strings.HasPrefix(self.Chars, prefix.Chars))
}

func strEndswith(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok || len(args) < 2 {
		return BoolVal(false)
	}
	suffix, sok := asString(args[1])
	if !sok {
		return vm.RuntimeError(vm.Exceptions.TypeError, "endswith arg must be a string")
	}
	return BoolVal(strings.HasSuffix(self.Chars, suffix.Chars))
}

func strUpper(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return ObjectVal(vm.CopyString(strings.ToUpper(self.Chars)))
}

func strLower(vm *VM, args []Value, hasKw bool) Value {
	self, ok := strSelf(vm, args)
	if !ok {
		return NoneVal()
	}
	return ObjectVal(vm.CopyString(strings.ToLower(self.Chars)))
}

// strToInt backs int(str).
func strToInt(vm *VM, s *String) Value {
	text := strings.TrimSpace(s.Chars)
	parsed, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		return vm.RuntimeError(vm.Exceptions.ValueError,
			"invalid literal for int(): '%s'", s.Chars)
	}
	return IntVal(parsed)
}

// strToFloat backs float(str).
func strToFloat(vm *VM, s *String) Value {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(s.Chars), 64)
	if err != nil {
		return vm.RuntimeError(vm.Exceptions.ValueError,
			"could not convert string to float: '%s'", s.Chars)
	}
	return FloatVal(parsed)
}

// registerStrClass builds the str class and its iterator.
func (vm *VM) registerStrClass() {
	bc := vm.BaseClasses
	bc.Str = vm.MakeClass(vm.Builtins, "str", bc.Object)
	bc.Str.SetFlag(FlagNoInherit)
	bc.Str.NativeCtor = strCtor
	m := &bc.Str.Methods
	vm.DefineNative(m, ".__add__", strAdd)
	vm.DefineNative(m, ".__mul__", strMul)
	vm.DefineNative(m, ".__len__", strLen)
	vm.DefineNative(m, ".__getitem__", strGetItem)
	vm.DefineNative(m, ".__contains__", strContains)
	vm.DefineNative(m, ".__repr__", strRepr)
	vm.DefineNative(m, ".__str__", strStr)
	vm.DefineNative(m, ".__iter__", strIterNative)
	vm.DefineNative(m, ".join", strJoin)
	vm.DefineNative(m, ".split", strSplit)
	vm.DefineNative(m, ".strip", strStrip)
	vm.DefineNative(m, ".startswith", strStartswith)
	vm.DefineNative(m, ".endswith", strEndswith)
	vm.DefineNative(m, ".upper", strUpper)
	vm.DefineNative(m, ".lower", strLower)
	vm.FinalizeClass(bc.Str)

	bc.StrIterator = vm.makeSeqIteratorClass("striterator", func(vm *VM, seq Value, index int64) (Value, bool) {
		s, ok := asString(seq)
		if !ok {
			return NoneVal(), false
		}
		runes := []rune(s.Chars)
		if index >= int64(len(runes)) {
			return NoneVal(), false
		}
		return ObjectVal(vm.CopyString(string(runes[index]))), true
	})
}
