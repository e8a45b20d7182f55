package vm

import (
	"fmt"
	"os"
	"strings"
)

// ---------------------------------------------------------------------------
// The dispatch loop
// ---------------------------------------------------------------------------

// RunNext resumes the dispatch loop until execution returns to the frame
// depth current at the time of the call. Use after CallValue reports that a
// frame was pushed.
func (vm *VM) RunNext() Value {
	t := vm.currentThread
	oldExit := t.exitOnFrame
	t.exitOnFrame = t.frameCount - 1
	result := vm.run()
	t.exitOnFrame = oldExit
	return result
}

// run executes bytecode from the topmost frame until execution returns past
// the thread's exit frame or an exception escapes it. The returned value is
// the result of the exiting frame; on an escaped exception the thread's
// HasException flag is the authoritative signal.
func (vm *VM) run() Value {
	t := vm.currentThread
	frame := t.currentFrame()
	code := frame.Closure.Function

	readByte := func() int {
		b := code.Code[frame.ip]
		frame.ip++
		return int(b)
	}
	readShort := func() int {
		v := int(code.Code[frame.ip])<<8 | int(code.Code[frame.ip+1])
		frame.ip += 2
		return v
	}
	reload := func() {
		frame = t.currentFrame()
		code = frame.Closure.Function
	}
	constantName := func(operand int) *String {
		s, ok := asString(code.Constants[operand])
		if !ok {
			panic("kuroko: operand constant is not a name")
		}
		return s
	}

	for {
		if t.flags&ThreadSignalled != 0 {
			t.flags &^= ThreadSignalled
			vm.RuntimeError(vm.Exceptions.KeyboardInterrupt, "keyboard interrupt")
			if vm.unwind() {
				return NoneVal()
			}
			reload()
		}

		if t.flags&ThreadEnableTracing != 0 {
			vm.traceInstruction(frame, code)
		}

		op := Opcode(code.Code[frame.ip])
		frame.ip++
		operand := 0
		switch op.Info().Operand {
		case operandByte:
			if op.isLongForm() {
				operand = readShort()
			} else {
				operand = readByte()
			}
		case operandShort, operandJump, operandLoop:
			operand = readShort()
		case operandClosure:
			if op.isLongForm() {
				operand = readShort()
			} else {
				operand = readByte()
			}
		}

		switch op {
		case OpConstant, OpConstantLong:
			t.Push(code.Constants[operand])
		case OpNone:
			t.Push(NoneVal())
		case OpTrue:
			t.Push(BoolVal(true))
		case OpFalse:
			t.Push(BoolVal(false))
		case OpNotImplemented:
			t.Push(NotImplVal())
		case OpPop:
			t.Pop()
		case OpDup:
			t.Push(t.Peek(operand))
		case OpSwap:
			t.Swap(operand)
		case OpKwargs:
			t.Push(KwargsVal(uint64(operand)))

		case OpTuple:
			values := make([]Value, operand)
			copy(values, t.stack[t.top-operand:t.top])
			tuple := vm.NewTuple(values)
			t.top -= operand
			t.Push(ObjectVal(tuple))
		case OpBuildList:
			values := make([]Value, operand)
			copy(values, t.stack[t.top-operand:t.top])
			list := vm.NewListOf(values)
			t.top -= operand
			t.Push(ObjectVal(list))
		case OpBuildDict:
			d := vm.NewDict()
			base := t.top - operand*2
			for i := 0; i < operand; i++ {
				d.Entries.Set(t.stack[base+i*2], t.stack[base+i*2+1])
			}
			t.top = base
			t.Push(ObjectVal(d))
		case OpBuildSlice:
			vm.buildSlice(operand)
		case OpUnpack:
			vm.unpackSequence(operand)

		case OpDefineGlobal, OpDefineGlobalLong:
			frame.Globals.Set(ObjectVal(constantName(operand)), t.Peek(0))
			t.Pop()
		case OpGetGlobal, OpGetGlobalLong:
			name := constantName(operand)
			if v, ok := frame.Globals.Get(ObjectVal(name)); ok {
				t.Push(v)
			} else if v, ok := vm.Builtins.Fields.Get(ObjectVal(name)); ok {
				t.Push(v)
			} else {
				vm.RuntimeError(vm.Exceptions.NameError, "name '%s' is not defined", name.Chars)
			}
		case OpSetGlobal, OpSetGlobalLong:
			name := constantName(operand)
			if frame.Globals.Set(ObjectVal(name), t.Peek(0)) {
				frame.Globals.Delete(ObjectVal(name))
				vm.RuntimeError(vm.Exceptions.NameError, "name '%s' is not defined", name.Chars)
			}
		case OpDelGlobal, OpDelGlobalLong:
			name := constantName(operand)
			if !frame.Globals.Delete(ObjectVal(name)) {
				vm.RuntimeError(vm.Exceptions.NameError, "name '%s' is not defined", name.Chars)
			}

		case OpGetLocal, OpGetLocalLong:
			t.Push(t.stack[frame.Slots+operand])
		case OpSetLocal, OpSetLocalLong:
			t.stack[frame.Slots+operand] = t.Peek(0)

		case OpGetUpvalue, OpGetUpvalueLong:
			t.Push(frame.Closure.Upvalues[operand].Get())
		case OpSetUpvalue, OpSetUpvalueLong:
			frame.Closure.Upvalues[operand].Set(t.Peek(0))
		case OpCloseUpvalue:
			t.closeUpvalues(t.top - 1)
			t.Pop()

		case OpGetProperty, OpGetPropertyLong:
			vm.getAttributeOnTop(constantName(operand))
		case OpSetProperty, OpSetPropertyLong:
			vm.setAttributeOnTop(constantName(operand))
		case OpDelProperty, OpDelPropertyLong:
			vm.delAttributeOnTop(constantName(operand))

		case OpSubscrGet:
			receiver := t.Peek(1)
			slot := vm.GetType(receiver).Special(SpecialGetItem)
			if slot.IsNone() {
				vm.RuntimeError(vm.Exceptions.TypeError,
					"'%s' object is not subscriptable", vm.TypeName(receiver))
				break
			}
			result := vm.CallSimple(slot, 2, 0)
			if !t.HasException() {
				t.Push(result)
			}
		case OpSubscrSet:
			receiver := t.Peek(2)
			slot := vm.GetType(receiver).Special(SpecialSetItem)
			if slot.IsNone() {
				vm.RuntimeError(vm.Exceptions.TypeError,
					"'%s' object does not support item assignment", vm.TypeName(receiver))
				break
			}
			vm.CallSimple(slot, 3, 0)
		case OpSubscrDel:
			receiver := t.Peek(1)
			slot := vm.GetType(receiver).Special(SpecialDelItem)
			if slot.IsNone() {
				vm.RuntimeError(vm.Exceptions.TypeError,
					"'%s' object does not support item deletion", vm.TypeName(receiver))
				break
			}
			vm.CallSimple(slot, 2, 0)

		case OpAdd:
			vm.binaryOp(SpecialAdd, SpecialRAdd, "+")
		case OpSubtract:
			vm.binaryOp(SpecialSub, SpecialRSub, "-")
		case OpMultiply:
			vm.binaryOp(SpecialMul, SpecialRMul, "*")
		case OpDivide:
			vm.binaryOp(SpecialTrueDiv, SpecialRTrueDiv, "/")
		case OpFloorDivide:
			vm.binaryOp(SpecialFloorDiv, SpecialRFloorDiv, "//")
		case OpModulo:
			vm.binaryOp(SpecialMod, SpecialRMod, "%")
		case OpPower:
			vm.binaryOp(SpecialPow, SpecialRPow, "**")
		case OpBitOr:
			vm.binaryOp(SpecialOr, SpecialROr, "|")
		case OpBitXor:
			vm.binaryOp(SpecialXor, SpecialRXor, "^")
		case OpBitAnd:
			vm.binaryOp(SpecialAnd, SpecialRAnd, "&")
		case OpShiftLeft:
			vm.binaryOp(SpecialLShift, SpecialRLShift, "<<")
		case OpShiftRight:
			vm.binaryOp(SpecialRShift, SpecialRRShift, ">>")

		case OpNegate:
			vm.unaryNegate()
		case OpBitNegate:
			vm.unaryInvert()
		case OpNot:
			v := t.Pop()
			t.Push(BoolVal(v.IsFalsey()))

		case OpEqual:
			vm.compareEqual(false)
		case OpGreater:
			vm.compareOrder(SpecialGt, SpecialLt, ">")
		case OpLess:
			vm.compareOrder(SpecialLt, SpecialGt, "<")
		case OpGreaterEqual:
			vm.compareOrder(SpecialGe, SpecialLe, ">=")
		case OpLessEqual:
			vm.compareOrder(SpecialLe, SpecialGe, "<=")
		case OpIs:
			b := t.Pop()
			a := t.Pop()
			t.Push(BoolVal(ValuesSame(a, b)))
		case OpContains:
			vm.containsOp()

		case OpJump:
			frame.ip += operand
		case OpJumpIfFalse:
			if t.Peek(0).IsFalsey() {
				frame.ip += operand
			}
		case OpJumpIfTrue:
			if !t.Peek(0).IsFalsey() {
				frame.ip += operand
			}
		case OpLoop:
			frame.ip -= operand

		case OpGetIter:
			v := t.Peek(0)
			slot := vm.GetType(v).Special(SpecialIter)
			if slot.IsNone() {
				vm.RuntimeError(vm.Exceptions.TypeError,
					"'%s' object is not iterable", vm.TypeName(v))
				break
			}
			result := vm.CallSimple(slot, 1, 0)
			if !t.HasException() {
				t.Push(result)
			}
		case OpForIter:
			iterator := t.Peek(0)
			t.Push(iterator)
			result := vm.CallSimple(iterator, 0, 1)
			if t.HasException() {
				break
			}
			if ValuesSame(result, iterator) {
				// The iterator returned itself: exhausted.
				t.Pop()
				frame.ip += operand
			} else {
				t.Push(result)
			}
			reload()

		case OpClosure, OpClosureLong:
			fn := code.Constants[operand].AsObj().(*CodeObject)
			closure := vm.NewClosure(fn, frame.Closure.GlobalsOwner)
			nDefaults := fn.KeywordArgs
			closure.Defaults = make([]Value, nDefaults)
			copy(closure.Defaults, t.stack[t.top-nDefaults:t.top])
			t.top -= nDefaults
			t.Push(ObjectVal(closure))
			for i, descriptor := range fn.Upvalues {
				if descriptor.IsLocal {
					closure.Upvalues[i] = t.captureUpvalue(frame.Slots + int(descriptor.Index))
				} else {
					closure.Upvalues[i] = frame.Closure.Upvalues[descriptor.Index]
				}
			}

		case OpCall:
			switch vm.CallValue(t.Peek(operand), operand, 1) {
			case CallResumeVM:
				reload()
			case CallNativeDone:
				// Result already on the stack.
			}

		case OpReturn:
			result := t.Pop()
			if frame.returnsSelf {
				result = t.stack[frame.Slots]
			}
			if frame.generator != nil {
				frame.generator.state = genFinished
				result = ObjectVal(frame.generator)
			}
			if len(frame.handlers) > 0 {
				t.setScratch(2, result)
				for len(frame.handlers) > 0 {
					handler := frame.handlers[len(frame.handlers)-1]
					frame.handlers = frame.handlers[:len(frame.handlers)-1]
					if handler.kind == handlerWith {
						vm.runExitHandler(t, handler)
					}
				}
				result = t.scratch[2]
				t.setScratch(2, NoneVal())
			}
			t.closeUpvalues(frame.Slots)
			t.frameCount--
			t.top = frame.OutSlots
			if t.frameCount == t.exitOnFrame || t.frameCount == 0 {
				return result
			}
			t.Push(result)
			reload()

		case OpYield:
			value := t.Pop()
			t.closeUpvalues(frame.Slots)
			t.suspendGenerator(frame)
			t.frameCount--
			t.top = frame.OutSlots
			if t.frameCount == t.exitOnFrame || t.frameCount == 0 {
				return value
			}
			t.Push(value)
			reload()

		case OpClass, OpClassLong:
			name := constantName(operand)
			baseValue := t.Pop()
			base := vm.BaseClasses.Object
			if !baseValue.IsNone() {
				cls, ok := baseValue.AsObjIf().(*Class)
				if !ok {
					vm.RuntimeError(vm.Exceptions.TypeError,
						"class base must be a class, not '%s'", vm.TypeName(baseValue))
					break
				}
				if cls.HasFlag(FlagNoInherit) {
					vm.RuntimeError(vm.Exceptions.TypeError,
						"'%s' may not be subclassed", cls.Name.Chars)
					break
				}
				base = cls
			}
			t.Push(ObjectVal(vm.NewClass(name, base)))
			t.Peek(0).AsObj().(*Class).Filename = code.Filename

		case OpMethod, OpMethodLong:
			name := constantName(operand)
			cls := t.Peek(1).AsObj().(*Class)
			cls.Methods.Set(ObjectVal(name), t.Peek(0))
			t.Pop()

		case OpClassProperty, OpClassPropertyLong:
			name := constantName(operand)
			cls := t.Peek(1).AsObj().(*Class)
			property := vm.NewProperty(t.Peek(0))
			cls.Methods.Set(ObjectVal(name), ObjectVal(property))
			t.Pop()

		case OpFinalize:
			vm.FinalizeClass(t.Peek(0).AsObj().(*Class))

		case OpDocstring:
			doc := t.Pop()
			if cls, ok := t.Peek(0).AsObj().(*Class); ok {
				cls.Docstring = doc
			}

		case OpPushTry:
			frame.handlers = append(frame.handlers, tryHandler{
				kind:   handlerTry,
				target: frame.ip + operand,
				depth:  t.top,
			})
		case OpPopTry:
			frame.handlers = frame.handlers[:len(frame.handlers)-1]
		case OpRaise:
			vm.raiseFromStack()

		case OpPushWith:
			ctx := t.Peek(0)
			cls := vm.GetType(ctx)
			enter := cls.Special(SpecialEnter)
			exit := cls.Special(SpecialExit)
			if enter.IsNone() || exit.IsNone() {
				vm.RuntimeError(vm.Exceptions.TypeError,
					"'%s' object does not support the context manager protocol", vm.TypeName(ctx))
				break
			}
			t.Push(ctx)
			result := vm.CallSimple(enter, 1, 0)
			if t.HasException() {
				break
			}
			frame.handlers = append(frame.handlers, tryHandler{
				kind:   handlerWith,
				target: frame.ip + operand,
				depth:  t.top - 1,
			})
			t.Push(result)
		case OpExitWith:
			handler := frame.handlers[len(frame.handlers)-1]
			frame.handlers = frame.handlers[:len(frame.handlers)-1]
			vm.runExitHandler(t, handler)

		case OpImport, OpImportLong:
			name := constantName(operand)
			if module, ok := vm.importModuleValue(name); ok {
				t.Push(module)
			}
		case OpImportFrom, OpImportFromLong:
			vm.getAttributeOnTop(constantName(operand))

		default:
			panic(fmt.Sprintf("kuroko: unhandled opcode %s at %d in %s",
				op, frame.ip-1, code.rawRepr()))
		}

		if t.HasException() {
			if vm.unwind() {
				return NoneVal()
			}
			reload()
		}
	}
}

// raiseFromStack implements OP_RAISE: the value on top is either an
// exception class (instantiated with no arguments) or an exception instance.
// Re-raising an instance that already has a traceback preserves it.
func (vm *VM) raiseFromStack() {
	t := vm.currentThread
	v := t.Peek(0)
	if v.IsObject() {
		if _, ok := v.AsObj().(*Class); ok {
			instance := vm.CallSimple(v, 0, 1)
			if t.HasException() {
				return
			}
			vm.raiseValue(instance)
			return
		}
		if inst, ok := asInstanceObj(v.AsObj()); ok {
			if inst.Class.HasBase(vm.Exceptions.BaseException) {
				t.Pop()
				vm.raiseValue(v)
				return
			}
		}
	}
	t.Pop()
	vm.RuntimeError(vm.Exceptions.TypeError, "exceptions must derive from BaseException")
}

// traceInstruction writes a one-line disassembly of the next instruction to
// stderr, for -t mode.
func (vm *VM) traceInstruction(frame *CallFrame, code *CodeObject) {
	var b strings.Builder
	DisassembleInstruction(&b, code, frame.ip)
	out := vm.Stderr
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprintf(out, "%-24s | %s\n", fnName(code), b.String())
}
