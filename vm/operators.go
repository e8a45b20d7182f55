package vm

import "math"

// ---------------------------------------------------------------------------
// Operator dispatch
// ---------------------------------------------------------------------------

// binaryOp implements the binary operators: a numeric fast path, then the
// left operand's dunder, then the right operand's reflected dunder when the
// first answers NotImplemented, then TypeError.
func (vm *VM) binaryOp(slot, rslot SpecialMethod, opName string) {
	t := vm.currentThread
	left := t.Peek(1)
	right := t.Peek(0)

	if result, ok := vm.numericBinary(left, right, opName); ok {
		if !t.HasException() {
			t.Pop()
			t.Pop()
			t.Push(result)
		}
		return
	}

	if method := vm.GetType(left).Special(slot); !method.IsNone() {
		t.Push(left)
		t.Push(right)
		result := vm.CallSimple(method, 2, 0)
		if t.HasException() {
			return
		}
		if !result.IsNotImpl() {
			t.Pop()
			t.Pop()
			t.Push(result)
			return
		}
	}
	if method := vm.GetType(right).Special(rslot); !method.IsNone() {
		t.Push(right)
		t.Push(left)
		result := vm.CallSimple(method, 2, 0)
		if t.HasException() {
			return
		}
		if !result.IsNotImpl() {
			t.Pop()
			t.Pop()
			t.Push(result)
			return
		}
	}
	vm.RuntimeError(vm.Exceptions.TypeError,
		"unsupported operand type(s) for %s: '%s' and '%s'",
		opName, vm.TypeName(left), vm.TypeName(right))
}

// numericBinary handles int/float/bool operands directly. Returns ok=false
// when either operand is not numeric; an exception may be set for domain
// errors like division by zero.
func (vm *VM) numericBinary(left, right Value, opName string) (Value, bool) {
	li, lInt := asIntLike(left)
	ri, rInt := asIntLike(right)
	if lInt && rInt {
		switch opName {
		case "+":
			return IntVal(li + ri), true
		case "-":
			return IntVal(li - ri), true
		case "*":
			return IntVal(li * ri), true
		case "/":
			if ri == 0 {
				return vm.RuntimeError(vm.Exceptions.ZeroDivisionError, "division by zero"), true
			}
			return FloatVal(float64(li) / float64(ri)), true
		case "//":
			if ri == 0 {
				return vm.RuntimeError(vm.Exceptions.ZeroDivisionError, "integer division by zero"), true
			}
			return IntVal(floorDivInt(li, ri)), true
		case "%":
			if ri == 0 {
				return vm.RuntimeError(vm.Exceptions.ZeroDivisionError, "integer modulo by zero"), true
			}
			return IntVal(li - floorDivInt(li, ri)*ri), true
		case "**":
			if ri >= 0 {
				return IntVal(intPow(li, ri)), true
			}
			return FloatVal(math.Pow(float64(li), float64(ri))), true
		case "|":
			return IntVal(li | ri), true
		case "^":
			return IntVal(li ^ ri), true
		case "&":
			return IntVal(li & ri), true
		case "<<":
			if ri < 0 {
				return vm.RuntimeError(vm.Exceptions.ValueError, "negative shift count"), true
			}
			return IntVal(li << uint(ri)), true
		case ">>":
			if ri < 0 {
				return vm.RuntimeError(vm.Exceptions.ValueError, "negative shift count"), true
			}
			return IntVal(li >> uint(ri)), true
		}
		return NoneVal(), false
	}

	lf, lNum := left.numeric()
	rf, rNum := right.numeric()
	if !lNum || !rNum {
		return NoneVal(), false
	}
	switch opName {
	case "+":
		return FloatVal(lf + rf), true
	case "-":
		return FloatVal(lf - rf), true
	case "*":
		return FloatVal(lf * rf), true
	case "/":
		if rf == 0 {
			return vm.RuntimeError(vm.Exceptions.ZeroDivisionError, "float division by zero"), true
		}
		return FloatVal(lf / rf), true
	case "//":
		if rf == 0 {
			return vm.RuntimeError(vm.Exceptions.ZeroDivisionError, "float floor division by zero"), true
		}
		return FloatVal(math.Floor(lf / rf)), true
	case "%":
		if rf == 0 {
			return vm.RuntimeError(vm.Exceptions.ZeroDivisionError, "float modulo by zero"), true
		}
		m := math.Mod(lf, rf)
		if m != 0 && (m < 0) != (rf < 0) {
			m += rf
		}
		return FloatVal(m), true
	case "**":
		return FloatVal(math.Pow(lf, rf)), true
	}
	// Bitwise operators have no float forms.
	return NoneVal(), false
}

func asIntLike(v Value) (int64, bool) {
	switch v.Kind() {
	case ValInt:
		return v.AsInt(), true
	case ValBool:
		if v.AsBool() {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// floorDivInt rounds toward negative infinity, following managed semantics
// rather than Go's truncation.
func floorDivInt(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func intPow(base, exp int64) int64 {
	var result int64 = 1
	for exp > 0 {
		if exp&1 != 0 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// compareEqual implements == (and != via negate): identity and numeric fast
// paths first, then __eq__ with the reflected retry, then plain equality.
func (vm *VM) compareEqual(negate bool) {
	t := vm.currentThread
	left := t.Peek(1)
	right := t.Peek(0)

	result, decided := BoolVal(false), false
	if ValuesSame(left, right) {
		result, decided = BoolVal(true), true
	}
	if !decided {
		if _, lNum := left.numeric(); lNum {
			result, decided = BoolVal(ValuesEqual(left, right)), true
		}
	}
	if !decided {
		if method := vm.GetType(left).Special(SpecialEq); !method.IsNone() {
			t.Push(left)
			t.Push(right)
			r := vm.CallSimple(method, 2, 0)
			if t.HasException() {
				return
			}
			if !r.IsNotImpl() {
				result, decided = r, true
			}
		}
	}
	if !decided {
		if method := vm.GetType(right).Special(SpecialEq); !method.IsNone() {
			t.Push(right)
			t.Push(left)
			r := vm.CallSimple(method, 2, 0)
			if t.HasException() {
				return
			}
			if !r.IsNotImpl() {
				result, decided = r, true
			}
		}
	}
	if !decided {
		result = BoolVal(ValuesEqual(left, right))
	}
	t.Pop()
	t.Pop()
	if negate {
		t.Push(BoolVal(result.IsFalsey()))
	} else {
		t.Push(result)
	}
}

// compareOrder implements the ordering operators with numeric and string
// fast paths, falling back to the operand dunders (the reflected retry uses
// the mirrored operator).
func (vm *VM) compareOrder(slot, mirror SpecialMethod, opName string) {
	t := vm.currentThread
	left := t.Peek(1)
	right := t.Peek(0)

	lf, lNum := left.numeric()
	rf, rNum := right.numeric()
	if lNum && rNum {
		t.Pop()
		t.Pop()
		var b bool
		switch opName {
		case "<":
			b = lf < rf
		case ">":
			b = lf > rf
		case "<=":
			b = lf <= rf
		case ">=":
			b = lf >= rf
		}
		t.Push(BoolVal(b))
		return
	}

	ls, lStr := asString(left)
	rs, rStr := asString(right)
	if lStr && rStr {
		t.Pop()
		t.Pop()
		var b bool
		switch opName {
		case "<":
			b = ls.Chars < rs.Chars
		case ">":
			b = ls.Chars > rs.Chars
		case "<=":
			b = ls.Chars <= rs.Chars
		case ">=":
			b = ls.Chars >= rs.Chars
		}
		t.Push(BoolVal(b))
		return
	}

	if method := vm.GetType(left).Special(slot); !method.IsNone() {
		t.Push(left)
		t.Push(right)
		result := vm.CallSimple(method, 2, 0)
		if t.HasException() {
			return
		}
		if !result.IsNotImpl() {
			t.Pop()
			t.Pop()
			t.Push(result)
			return
		}
	}
	if method := vm.GetType(right).Special(mirror); !method.IsNone() {
		t.Push(right)
		t.Push(left)
		result := vm.CallSimple(method, 2, 0)
		if t.HasException() {
			return
		}
		if !result.IsNotImpl() {
			t.Pop()
			t.Pop()
			t.Push(result)
			return
		}
	}
	vm.RuntimeError(vm.Exceptions.TypeError,
		"'%s' not supported between instances of '%s' and '%s'",
		opName, vm.TypeName(left), vm.TypeName(right))
}

// containsOp implements `in`: __contains__ when the container provides it,
// otherwise a linear scan through the iterator protocol.
func (vm *VM) containsOp() {
	t := vm.currentThread
	container := t.Peek(0)
	item := t.Peek(1)

	cls := vm.GetType(container)
	if method := cls.Special(SpecialContains); !method.IsNone() {
		t.Push(container)
		t.Push(item)
		result := vm.CallSimple(method, 2, 0)
		if t.HasException() {
			return
		}
		t.Pop()
		t.Pop()
		t.Push(BoolVal(!result.IsFalsey()))
		return
	}

	iterSlot := cls.Special(SpecialIter)
	if iterSlot.IsNone() {
		vm.RuntimeError(vm.Exceptions.TypeError,
			"argument of type '%s' is not iterable", vm.TypeName(container))
		return
	}
	t.Push(container)
	iterator := vm.CallSimple(iterSlot, 1, 0)
	if t.HasException() {
		return
	}
	t.setScratch(0, iterator)
	found := false
	for {
		t.Push(iterator)
		next := vm.CallSimple(iterator, 0, 1)
		if t.HasException() {
			t.clearScratch()
			return
		}
		if ValuesSame(next, iterator) {
			break
		}
		if ValuesEqual(next, item) {
			found = true
			break
		}
	}
	t.clearScratch()
	t.Pop()
	t.Pop()
	t.Push(BoolVal(found))
}

// ---------------------------------------------------------------------------
// Unary operators
// ---------------------------------------------------------------------------

func (vm *VM) unaryNegate() {
	t := vm.currentThread
	v := t.Peek(0)
	switch v.Kind() {
	case ValInt:
		t.Pop()
		t.Push(IntVal(-v.AsInt()))
		return
	case ValBool:
		t.Pop()
		if v.AsBool() {
			t.Push(IntVal(-1))
		} else {
			t.Push(IntVal(0))
		}
		return
	case ValFloat:
		t.Pop()
		t.Push(FloatVal(-v.AsFloat()))
		return
	}
	if method := vm.GetType(v).Special(SpecialNeg); !method.IsNone() {
		t.Push(v)
		result := vm.CallSimple(method, 1, 0)
		if !t.HasException() {
			t.Pop()
			t.Push(result)
		}
		return
	}
	vm.RuntimeError(vm.Exceptions.TypeError,
		"bad operand type for unary -: '%s'", vm.TypeName(v))
}

func (vm *VM) unaryInvert() {
	t := vm.currentThread
	if v, ok := asIntLike(t.Peek(0)); ok {
		t.Pop()
		t.Push(IntVal(^v))
		return
	}
	v := t.Peek(0)
	if method := vm.GetType(v).Special(SpecialInvert); !method.IsNone() {
		t.Push(v)
		result := vm.CallSimple(method, 1, 0)
		if !t.HasException() {
			t.Pop()
			t.Push(result)
		}
		return
	}
	vm.RuntimeError(vm.Exceptions.TypeError,
		"bad operand type for unary ~: '%s'", vm.TypeName(t.Peek(0)))
}
