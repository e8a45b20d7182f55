package vm

import "fmt"

// ---------------------------------------------------------------------------
// Generators: suspendable call frames
// ---------------------------------------------------------------------------

// genState tracks where a generator is in its lifecycle.
type genState uint8

const (
	genSuspended genState = iota
	genRunning
	genFinished
)

// Generator is a coroutine-like object produced by calling a function whose
// code object contains a yield. The frame state (instruction pointer and the
// frame's slice of the value stack) is saved across suspensions. Iteration
// follows the core protocol: __iter__ returns the generator, calling it
// resumes, and exhaustion is signalled by the call returning the generator
// itself rather than by an exception.
type Generator struct {
	ObjHeader
	Closure *Closure
	ip      int
	saved   []Value
	state   genState
	started bool
	result  Value
}

func (g *Generator) rawRepr() string {
	return fmt.Sprintf("<generator %s>", fnName(g.Closure.Function))
}

// makeGenerator packages the bound argument slots at the top of the stack
// into a fresh generator instead of pushing a call frame. Runs with the
// collector paused by the caller.
func (vm *VM) makeGenerator(closure *Closure, extra int, _ bool) int {
	t := vm.currentThread
	total := closure.Function.TotalArgs()

	g := &Generator{Closure: closure, result: NoneVal()}
	g.Kind = ObjGeneratorKind
	vm.allocateObject(&g.ObjHeader, g, sizeofGenerator+total*sizeofValue)

	g.saved = make([]Value, total)
	copy(g.saved, t.stack[t.top-total:t.top])
	t.top -= total + extra
	t.Push(ObjectVal(g))
	return CallNativeDone
}

// resumeGenerator restores a suspended generator's frame onto the stack. An
// exhausted generator immediately returns itself, the stop sentinel.
func (vm *VM) resumeGenerator(g *Generator, argCount, extra int) int {
	t := vm.currentThread

	switch g.state {
	case genRunning:
		vm.RuntimeError(vm.Exceptions.ValueError, "generator already executing")
		return CallFailed
	case genFinished:
		t.top -= argCount + extra
		t.Push(ObjectVal(g))
		return CallNativeDone
	}

	if t.frameCount >= len(t.frames) || t.frameCount >= vm.MaximumCallDepth {
		vm.RuntimeError(vm.Exceptions.RecursionError, "maximum recursion depth exceeded")
		return CallFailed
	}

	t.top -= argCount + extra
	frame := &t.frames[t.frameCount]
	t.frameCount++
	frame.Closure = g.Closure
	frame.ip = g.ip
	frame.Slots = t.top
	frame.OutSlots = t.top
	frame.Globals = &g.Closure.GlobalsOwner.Fields
	frame.handlers = frame.handlers[:0]
	frame.returnsSelf = false
	frame.generator = g

	t.reserve(len(g.saved) + 1)
	for _, v := range g.saved {
		t.Push(v)
	}
	if g.started {
		// The resumed yield expression evaluates to None.
		t.Push(NoneVal())
	}
	g.started = true
	g.state = genRunning
	return CallResumeVM
}

// suspendGenerator records the yielding frame's state back onto its
// generator. Called by the dispatch loop on OP_YIELD with the yielded value
// already popped.
func (t *Thread) suspendGenerator(frame *CallFrame) {
	g := frame.generator
	g.saved = make([]Value, t.top-frame.Slots)
	copy(g.saved, t.stack[frame.Slots:t.top])
	g.ip = frame.ip
	g.state = genSuspended
}
