package vm

import "time"

// ---------------------------------------------------------------------------
// Calling convention
// ---------------------------------------------------------------------------

// CallValue results: how the caller obtains the result of a call.
const (
	CallFailed     = 0 // exception set; nothing to collect
	CallResumeVM   = 1 // a frame was pushed; resume the dispatch loop
	CallNativeDone = 2 // native completed; result is on the stack
)

// complexArgs is the unpacked form of a keyword-bearing argument range.
type complexArgs struct {
	positionals []Value
	keywords    Table
}

// processComplexArguments unpacks an argument range whose top holds a kwargs
// counter: positionals (including * expansions) in order, keyword pairs and
// ** expansions into a table. Consumes the counter; the raw arguments remain
// on the stack for rooting until the caller rewrites them.
func (vm *VM) processComplexArguments(argCount int) (*complexArgs, bool) {
	t := vm.currentThread
	pairCount := int(t.Peek(0).KwargsPayload())
	t.Pop()
	argCount--

	out := &complexArgs{}
	plainArgs := argCount - pairCount*2
	base := t.top - argCount
	for i := 0; i < plainArgs; i++ {
		out.positionals = append(out.positionals, t.stack[base+i])
	}

	for i := 0; i < pairCount; i++ {
		key := t.stack[base+plainArgs+i*2]
		value := t.stack[base+plainArgs+i*2+1]
		if key.IsKwargs() {
			switch key.KwargsPayload() {
			case KwargsSingle:
				out.positionals = append(out.positionals, value)
			case KwargsList:
				if !vm.unpackIterable(value, &out.positionals) {
					return nil, false
				}
			case KwargsDict:
				d, ok := asDict(vm, value)
				if !ok {
					vm.RuntimeError(vm.Exceptions.TypeError, "**expression value is not a dict")
					return nil, false
				}
				failed := false
				d.Entries.Each(func(k, v Value) {
					if failed {
						return
					}
					if _, ok := asString(k); !ok {
						vm.RuntimeError(vm.Exceptions.TypeError, "**expression contains non-string key")
						failed = true
						return
					}
					if !out.keywords.Set(k, v) {
						vm.RuntimeError(vm.Exceptions.TypeError,
							"got multiple values for argument '%s'", rawRepr(k))
						failed = true
					}
				})
				if failed {
					return nil, false
				}
			}
		} else if _, ok := asString(key); ok {
			if !out.keywords.Set(key, value) {
				vm.RuntimeError(vm.Exceptions.TypeError,
					"got multiple values for argument '%s'", key.AsObj().(*String).Chars)
				return nil, false
			}
		}
	}
	return out, true
}

// unpackIterable spreads a *expression into positionals. Tuples and lists
// take fast paths; anything else goes through the iterator protocol.
func (vm *VM) unpackIterable(value Value, into *[]Value) bool {
	t := vm.currentThread
	if value.IsObject() {
		switch o := value.AsObj().(type) {
		case *Tuple:
			*into = append(*into, o.Values...)
			return true
		}
	}
	if l, ok := asList(vm, value); ok {
		*into = append(*into, l.Values...)
		return true
	}
	cls := vm.GetType(value)
	iterSlot := cls.Special(SpecialIter)
	if iterSlot.IsNone() {
		vm.RuntimeError(vm.Exceptions.TypeError,
			"'%s' object is not iterable", vm.TypeName(value))
		return false
	}
	t.Push(value)
	iterator := vm.CallSimple(iterSlot, 1, 0)
	if t.HasException() {
		return false
	}
	t.setScratch(0, iterator)
	defer t.clearScratch()
	for {
		t.Push(iterator)
		next := vm.CallSimple(iterator, 0, 1)
		if t.HasException() {
			return false
		}
		if ValuesSame(next, iterator) {
			return true
		}
		*into = append(*into, next)
	}
}

// checkArgumentCount validates a plain positional count against a code
// object's arity.
func (vm *VM) checkArgumentCount(fn *CodeObject, argCount int) bool {
	minArgs := fn.RequiredArgs
	maxArgs := minArgs + fn.KeywordArgs
	if argCount < minArgs || (argCount > maxArgs && !fn.CollectsArgs) {
		name := "<unnamed function>"
		if fn.Name != nil && len(fn.Name.Chars) > 0 {
			name = fn.Name.Chars
		}
		qualifier := "exactly"
		wanted := minArgs
		if minArgs != maxArgs || fn.CollectsArgs {
			if argCount < minArgs {
				qualifier = "at least"
			} else {
				qualifier = "at most"
				wanted = maxArgs
			}
		}
		vm.RuntimeError(vm.Exceptions.ArgumentError,
			"%s() takes %s %d argument%s (%d given)",
			name, qualifier, wanted, plural(wanted), argCount)
		return false
	}
	return true
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// call binds arguments and pushes a frame for a managed function. The
// argument range starts argCount slots down; extra tells whether the callee
// itself occupies one more slot below (where the return value then lands).
func (vm *VM) call(closure *Closure, argCount, extra int, returnsSelf bool) int {
	t := vm.currentThread
	fn := closure.Function

	var positionals []Value
	var keywords *Table
	hadKwargs := argCount > 0 && t.Peek(0).IsKwargs()

	// Everything between unpacking and the final stack rewrite keeps values
	// in Go slices the collector cannot see; hold it off until the frame is
	// in place.
	vm.pauseGC()
	defer vm.resumeGC()

	if hadKwargs {
		complex, ok := vm.processComplexArguments(argCount)
		if !ok {
			return CallFailed
		}
		argCount-- // the counter was popped
		positionals = complex.positionals
		keywords = &complex.keywords
	} else {
		base := t.top - argCount
		positionals = append(positionals, t.stack[base:t.top]...)
	}

	named := fn.RequiredArgs + fn.KeywordArgs
	slots := make([]Value, named)
	assigned := make([]bool, named)

	// Positionals fill the named slots left to right; extras spill into the
	// *args collector or are an arity error.
	var extras []Value
	for i, v := range positionals {
		if i < named {
			slots[i] = v
			assigned[i] = true
		} else if fn.CollectsArgs {
			extras = append(extras, v)
		} else {
			vm.checkArgumentCount(fn, len(positionals))
			return CallFailed
		}
	}

	// Keywords bind by name; unknown names go to the **kwargs collector.
	var leftover []TableEntry
	if keywords != nil {
		failed := false
		keywords.Each(func(k, v Value) {
			if failed {
				return
			}
			name := k.AsObj().(*String)
			slot := -1
			for i, argName := range fn.RequiredArgNames {
				if ValuesSame(argName, k) {
					slot = i
				}
			}
			for i, argName := range fn.KeywordArgNames {
				if ValuesSame(argName, k) {
					slot = fn.RequiredArgs + i
				}
			}
			if slot >= 0 {
				if assigned[slot] {
					vm.RuntimeError(vm.Exceptions.TypeError,
						"%s() got multiple values for argument '%s'", fnName(fn), name.Chars)
					failed = true
					return
				}
				slots[slot] = v
				assigned[slot] = true
				return
			}
			if !fn.CollectsKwargs {
				vm.RuntimeError(vm.Exceptions.TypeError,
					"%s() got an unexpected keyword argument '%s'", fnName(fn), name.Chars)
				failed = true
				return
			}
			leftover = append(leftover, TableEntry{Key: k, Value: v})
		})
		if failed {
			return CallFailed
		}
	}

	// Defaults cover the optional parameters; required ones must be bound.
	for i := 0; i < named; i++ {
		if assigned[i] {
			continue
		}
		if i >= fn.RequiredArgs {
			slots[i] = closure.Defaults[i-fn.RequiredArgs]
			continue
		}
		if hadKwargs || keywords != nil {
			vm.RuntimeError(vm.Exceptions.TypeError,
				"%s() missing required positional argument: '%s'",
				fnName(fn), rawRepr(fn.RequiredArgNames[i]))
		} else {
			vm.checkArgumentCount(fn, len(positionals))
		}
		return CallFailed
	}

	// Rewrite the stack into the frame's argument layout.
	t.top -= argCount
	t.reserve(fn.TotalArgs() + 1)
	for _, v := range slots {
		t.Push(v)
	}
	if fn.CollectsArgs {
		t.Push(ObjectVal(vm.NewListOf(extras)))
	}
	if fn.CollectsKwargs {
		d := vm.NewDict()
		t.Push(ObjectVal(d))
		for _, e := range leftover {
			d.Entries.Set(e.Key, e.Value)
		}
	}

	if fn.IsGenerator {
		return vm.makeGenerator(closure, extra, returnsSelf)
	}

	limit := t.frameCount
	if limit >= len(t.frames) || limit >= vm.MaximumCallDepth {
		vm.RuntimeError(vm.Exceptions.RecursionError, "maximum recursion depth exceeded")
		return CallFailed
	}

	frame := &t.frames[t.frameCount]
	t.frameCount++
	frame.Closure = closure
	frame.ip = 0
	frame.Slots = t.top - fn.TotalArgs()
	frame.OutSlots = frame.Slots - extra
	frame.Globals = &closure.GlobalsOwner.Fields
	frame.handlers = frame.handlers[:0]
	frame.returnsSelf = returnsSelf
	frame.generator = nil
	frame.InTime = time.Now()
	return CallResumeVM
}

func fnName(fn *CodeObject) string {
	if fn.Name != nil && len(fn.Name.Chars) > 0 {
		return fn.Name.Chars
	}
	return "<unnamed function>"
}

// CallValue initiates a call to callee with argCount arguments already on
// the stack. callableOnStack is 1 when the callee sits one slot below its
// arguments (the slot the result will be written to).
func (vm *VM) CallValue(callee Value, argCount, callableOnStack int) int {
	t := vm.currentThread
	if !callee.IsObject() {
		vm.RuntimeError(vm.Exceptions.TypeError,
			"'%s' object is not callable", vm.TypeName(callee))
		return CallFailed
	}
	switch o := callee.AsObj().(type) {
	case *Closure:
		return vm.call(o, argCount, callableOnStack, false)

	case *Native:
		return vm.callNativeFn(o.Function, argCount, callableOnStack)

	case *BoundMethod:
		if o.Method == nil {
			vm.RuntimeError(vm.Exceptions.ArgumentError,
				"method binding has no attached callable")
			return CallFailed
		}
		t.stack[t.top-argCount-1] = o.Receiver
		return vm.CallValue(ObjectVal(o.Method), argCount+1, 0)

	case *Class:
		if o.NativeCtor != nil {
			return vm.callNativeFn(o.NativeCtor, argCount, callableOnStack)
		}
		instance := vm.NewInstance(o)
		t.stack[t.top-argCount-1] = ObjectVal(instance)
		init := o.Special(SpecialInit)
		if init.IsNone() {
			if argCount != 0 {
				vm.RuntimeError(vm.Exceptions.TypeError,
					"%s() takes no arguments (%d given)", o.Name.Chars, argCount)
				return CallFailed
			}
			return CallNativeDone
		}
		if closure, ok := init.AsObj().(*Closure); ok {
			return vm.call(closure, argCount+1, 0, true)
		}
		// Native __init__: run it, discard its result, keep the instance.
		result := vm.callNativeFn(init.AsObj().(*Native).Function, argCount+1, 0)
		if result == CallFailed {
			return CallFailed
		}
		t.Pop()
		t.Push(ObjectVal(instance))
		return CallNativeDone

	case *Generator:
		return vm.resumeGenerator(o, argCount, callableOnStack)

	default:
		if inst, ok := asInstanceObj(callee.AsObj()); ok {
			call := inst.Class.Special(SpecialCall)
			if !call.IsNone() {
				return vm.CallValue(call, argCount+1, 0)
			}
		}
		vm.RuntimeError(vm.Exceptions.TypeError,
			"'%s' object is not callable", vm.TypeName(callee))
		return CallFailed
	}
}

// callNativeFn invokes a Go function over a copy of the argument range. The
// originals stay on the stack for rooting until the call completes.
func (vm *VM) callNativeFn(fn NativeFn, argCount, extra int) int {
	t := vm.currentThread
	hasKw := false

	if argCount > 0 && t.Peek(0).IsKwargs() {
		vm.pauseGC()
		complex, ok := vm.processComplexArguments(argCount)
		if !ok {
			vm.resumeGC()
			return CallFailed
		}
		argCount--
		// Root the unpacked arguments in a list, and carry the keywords as a
		// trailing dict argument.
		rooted := vm.NewListOf(append([]Value{}, complex.positionals...))
		d := vm.NewDict()
		complex.keywords.AddAll(&d.Entries)
		vm.resumeGC()

		t.top -= argCount + extra
		t.Push(ObjectVal(rooted))
		t.Push(ObjectVal(d))
		args := append(append([]Value{}, rooted.Values...), ObjectVal(d))
		hasKw = true
		result := fn(vm, args, hasKw)
		if t.HasException() {
			return CallFailed
		}
		t.Pop()
		t.Pop()
		t.Push(result)
		return CallNativeDone
	}

	args := make([]Value, argCount)
	copy(args, t.stack[t.top-argCount:t.top])
	result := fn(vm, args, false)
	if t.HasException() {
		return CallFailed
	}
	t.top -= argCount + extra
	t.Push(result)
	return CallNativeDone
}

// CallStack calls the value argCount slots down with argCount arguments and
// returns the result, resuming the VM when managed code must run. Pops the
// callable and the arguments.
func (vm *VM) CallStack(argCount int) Value {
	switch vm.CallValue(vm.Peek(argCount), argCount, 1) {
	case CallNativeDone:
		return vm.Pop()
	case CallResumeVM:
		return vm.RunNext()
	}
	return NoneVal()
}

// CallSimple calls value with argCount arguments from the stack, managing
// the resume/pop protocol. isMethod is 1 when the receiver occupies the slot
// below the arguments.
func (vm *VM) CallSimple(value Value, argCount, isMethod int) Value {
	switch vm.CallValue(value, argCount, isMethod) {
	case CallNativeDone:
		return vm.Pop()
	case CallResumeVM:
		return vm.RunNext()
	}
	if !vm.currentThread.HasException() {
		vm.RuntimeError(vm.Exceptions.TypeError, "invalid internal method call")
	}
	return NoneVal()
}

// BindMethod resolves name on a class and replaces the receiver on top of
// the stack with a bound method. Dynamic properties are invoked instead.
// Returns false if the class chain does not provide name.
func (vm *VM) BindMethod(cls *Class, name *String) bool {
	t := vm.currentThread
	var method Value
	found := false
	for cur := cls; cur != nil; cur = cur.Base {
		if m, ok := cur.Methods.Get(ObjectVal(name)); ok {
			method = m
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if method.IsObject() && method.AsObj().Header().HasFlag(FlagIsDynamicProperty) {
		// The receiver on the stack becomes the property call's argument.
		out := vm.CallSimple(method, 1, 0)
		t.Push(out)
		return true
	}
	out := method
	if method.IsObject() {
		switch method.AsObj().(type) {
		case *Closure, *Native:
			out = ObjectVal(vm.NewBoundMethod(t.Peek(0), method.AsObj()))
		}
	}
	t.Pop()
	t.Push(out)
	return true
}
