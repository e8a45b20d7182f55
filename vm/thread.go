package vm

import "time"

// ---------------------------------------------------------------------------
// Threads: per-thread execution state
// ---------------------------------------------------------------------------

// CallFramesMax is the default maximum depth of the call frame stack.
const CallFramesMax = 64

// threadScratchSize is the number of scratch slots each thread keeps for
// shielding in-progress constructions from the collector.
const threadScratchSize = 3

// Thread-local flag bits.
const (
	ThreadEnableTracing = 1 << 0
	ThreadEnableDis     = 1 << 1
	ThreadHasException  = 1 << 3
	ThreadSignalled     = 1 << 5
)

// handlerKind distinguishes entries on a frame's handler stack.
type handlerKind uint8

const (
	handlerTry  handlerKind = iota // except clause target
	handlerWith                    // context manager cleanup
)

// tryHandler is one entry of a frame's handler stack: where to jump and how
// deep the value stack was when the handler was installed. For with-handlers
// the recorded depth addresses the context manager value itself.
type tryHandler struct {
	kind   handlerKind
	target int
	depth  int
}

// CallFrame records the runtime state of one active call: the closure being
// executed, the instruction pointer, the base slot where local 0 lives, the
// slot the return value will be placed at, and the globals table in effect.
type CallFrame struct {
	Closure  *Closure
	ip       int
	Slots    int
	OutSlots int
	Globals  *Table
	handlers []tryHandler
	InTime   time.Time

	// returnsSelf marks an __init__ frame: the return value is replaced by
	// the receiver so class construction leaves the instance on the stack.
	returnsSelf bool
	// generator links a resumed generator frame back to its object.
	generator *Generator
}

// Thread is the execution state of one VM thread: a growable value stack, a
// bounded call-frame stack, the open-upvalue list, scratch space, and the
// current exception. Managed code runs serially per thread; the heap and the
// tables on VM are shared.
type Thread struct {
	vm   *VM
	next *Thread

	stack      []Value
	top        int
	frames     []CallFrame
	frameCount int

	openUpvalues *Upvalue
	exitOnFrame  int

	Module           *Instance
	CurrentException Value
	flags            int
	scratch          [threadScratchSize]Value
}

func (vm *VM) newThread() *Thread {
	t := &Thread{
		vm:          vm,
		stack:       make([]Value, 256),
		frames:      make([]CallFrame, CallFramesMax),
		exitOnFrame: -1,
	}
	t.CurrentException = NoneVal()
	t.next = vm.threads
	vm.threads = t
	return t
}

// HasException reports whether an exception is in flight on this thread.
func (t *Thread) HasException() bool { return t.flags&ThreadHasException != 0 }

// Signal requests a KeyboardInterrupt at the next instruction boundary.
func (t *Thread) Signal() { t.flags |= ThreadSignalled }

// EnableTracing turns on per-instruction trace output for this thread.
func (t *Thread) EnableTracing() { t.flags |= ThreadEnableTracing }

// ClearException drops any in-flight exception, e.g. between REPL lines.
func (t *Thread) ClearException() {
	t.CurrentException = NoneVal()
	t.flags &^= ThreadHasException
}

// reserve grows the stack until it can hold space more values past the
// current top. Open upvalues hold slot indices, so growth needs no rebasing.
func (t *Thread) reserve(space int) {
	needed := t.top + space
	old := len(t.stack)
	size := old
	for needed > size {
		size = growCapacity(size)
	}
	if size != old {
		grown := make([]Value, size)
		copy(grown, t.stack[:t.top])
		t.stack = grown
		t.vm.gcTakeBytes((size - old) * sizeofValue)
	}
}

// Push places a value on the stack, growing it if needed.
func (t *Thread) Push(v Value) {
	if t.top == len(t.stack) {
		t.reserve(1)
	}
	t.stack[t.top] = v
	t.top++
}

// Pop removes and returns the top of the stack. A popped value may be
// reclaimed by the next collection; prefer Peek when the value must stay
// reachable.
func (t *Thread) Pop() Value {
	if t.top == 0 {
		panic("kuroko: stack underflow")
	}
	t.top--
	return t.stack[t.top]
}

// Peek reads the value distance slots down from the top without mutating
// the stack (0 is the top).
func (t *Thread) Peek(distance int) Value {
	return t.stack[t.top-1-distance]
}

// Swap exchanges the top of the stack with the value distance slots down.
func (t *Thread) Swap(distance int) {
	t.stack[t.top-1], t.stack[t.top-1-distance] = t.stack[t.top-1-distance], t.stack[t.top-1]
}

// setScratch parks a value in a scratch slot, safe from collection.
func (t *Thread) setScratch(i int, v Value) { t.scratch[i] = v }

// clearScratch releases all scratch slots.
func (t *Thread) clearScratch() {
	for i := range t.scratch {
		t.scratch[i] = NoneVal()
	}
}

// ResetStack clears the stack and frame state, e.g. between REPL lines
// after an uncaught exception. Values on the stack may be collected after
// this call.
func (t *Thread) ResetStack() {
	t.top = 0
	t.frameCount = 0
	t.openUpvalues = nil
}

// currentFrame returns the topmost call frame.
func (t *Thread) currentFrame() *CallFrame {
	return &t.frames[t.frameCount-1]
}

// captureUpvalue finds or creates the open upvalue for a stack slot. The
// open list is kept sorted by descending slot so capture is a linear scan
// and closing above a slot pops from the head.
func (t *Thread) captureUpvalue(index int) *Upvalue {
	var prev *Upvalue
	upvalue := t.openUpvalues
	for upvalue != nil && upvalue.Location > index {
		prev = upvalue
		upvalue = upvalue.next
	}
	if upvalue != nil && upvalue.Location == index {
		return upvalue
	}
	created := t.vm.NewUpvalue(t, index)
	created.next = upvalue
	if prev == nil {
		t.openUpvalues = created
	} else {
		prev.next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given slot,
// moving the captured values off the stack and into the cells.
func (t *Thread) closeUpvalues(last int) {
	for t.openUpvalues != nil && t.openUpvalues.Location >= last {
		upvalue := t.openUpvalues
		upvalue.Closed = t.stack[upvalue.Location]
		upvalue.Location = -1
		t.openUpvalues = upvalue.next
		upvalue.next = nil
	}
}
