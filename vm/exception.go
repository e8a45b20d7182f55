package vm

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// ---------------------------------------------------------------------------
// Exceptions: raising, tracebacks, unwinding
// ---------------------------------------------------------------------------

// RuntimeError raises an exception of the given class with a formatted
// message: an instance is created, a traceback is captured, and the current
// thread is marked as having an exception in flight. Returns None as a
// convenience for native functions.
func (vm *VM) RuntimeError(cls *Class, format string, args ...interface{}) Value {
	t := vm.currentThread
	message := fmt.Sprintf(format, args...)

	vm.pauseGC()
	instance := vm.NewInstance(cls)
	t.Push(ObjectVal(instance))
	mustInstance(instance).Fields.Set(ObjectVal(vm.CopyString("arg")), ObjectVal(vm.CopyString(message)))
	vm.resumeGC()
	t.Pop()

	vm.raiseValue(ObjectVal(instance))
	return NoneVal()
}

// raiseValue sets an exception value on the current thread, attaching a
// traceback if the value does not already carry one so that re-raising from
// a handler preserves the original trace.
func (vm *VM) raiseValue(exc Value) {
	t := vm.currentThread
	// The exception may have already left the stack; shield it while the
	// traceback is built.
	t.setScratch(1, exc)
	defer t.setScratch(1, NoneVal())
	if inst, ok := excInstance(exc); ok {
		tbName := ObjectVal(vm.CopyString("__traceback__"))
		if _, has := inst.Fields.Get(tbName); !has {
			vm.pauseGC()
			tb := vm.NewListOf(nil)
			inst.Fields.Set(tbName, ObjectVal(tb))
			for i := 0; i < t.frameCount; i++ {
				frame := &t.frames[i]
				offset := frame.ip - 1
				if offset < 0 {
					offset = 0
				}
				entry := vm.NewTuple([]Value{
					ObjectVal(frame.Closure.Function),
					IntVal(int64(offset)),
				})
				tb.Values = append(tb.Values, ObjectVal(entry))
			}
			vm.resumeGC()
		}
	}
	t.CurrentException = exc
	t.flags |= ThreadHasException
}

func excInstance(v Value) (*Instance, bool) {
	if !v.IsObject() {
		return nil, false
	}
	return asInstanceObj(v.AsObj())
}

// unwind walks the call stack looking for a handler for the exception in
// flight. With-handlers run their context manager's __exit__ as they are
// crossed. Returns true when no handler exists at or above exitOnFrame and
// the dispatch loop must exit, leaving the exception for the caller.
func (vm *VM) unwind() bool {
	t := vm.currentThread
	floor := t.exitOnFrame
	if floor < 0 {
		floor = 0
	}
	for t.frameCount > floor {
		frame := t.currentFrame()
		for len(frame.handlers) > 0 {
			handler := frame.handlers[len(frame.handlers)-1]
			frame.handlers = frame.handlers[:len(frame.handlers)-1]
			switch handler.kind {
			case handlerWith:
				vm.runExitHandler(t, handler)
			case handlerTry:
				// Truncate the stack to the recorded depth, leave the
				// exception value for the handler, and resume there.
				exc := t.CurrentException
				t.closeUpvalues(handler.depth)
				t.top = handler.depth
				t.Push(exc)
				frame.ip = handler.target
				t.CurrentException = NoneVal()
				t.flags &^= ThreadHasException
				return false
			}
		}
		if frame.generator != nil {
			frame.generator.state = genFinished
		}
		t.closeUpvalues(frame.Slots)
		t.frameCount--
		t.top = frame.OutSlots
	}
	// No handler: leave the exception in the thread state for the host.
	return true
}

// runExitHandler calls __exit__ on a context manager during unwinding,
// keeping the in-flight exception parked while managed code runs.
func (vm *VM) runExitHandler(t *Thread, handler tryHandler) {
	exc := t.CurrentException
	flags := t.flags
	t.CurrentException = NoneVal()
	t.flags &^= ThreadHasException

	ctx := t.stack[handler.depth]
	cls := vm.GetType(ctx)
	if exit := cls.Special(SpecialExit); !exit.IsNone() {
		t.Push(ctx)
		vm.CallSimple(exit, 1, 0)
	}

	t.CurrentException = exc
	t.flags = flags
}

// ---------------------------------------------------------------------------
// Traceback printing
// ---------------------------------------------------------------------------

// DumpTraceback prints the current exception's traceback to the VM's stderr,
// outermost frame first, with source lines where the files are readable.
// Safe to call from a REPL after an uncaught exception.
func (vm *VM) DumpTraceback() {
	t := vm.currentThread
	if t.CurrentException.IsNone() && !t.HasException() {
		return
	}
	out := vm.Stderr
	if out == nil {
		out = os.Stderr
	}

	useColor := vm.GlobalFlags&GlobalCleanOutput == 0
	header := func(s string) string { return s }
	emphasis := func(s string) string { return s }
	if useColor {
		boldColor := color.New(color.Bold)
		redBoldColor := color.New(color.FgRed, color.Bold)
		header = func(s string) string { return boldColor.Sprint(s) }
		emphasis = func(s string) string { return redBoldColor.Sprint(s) }
	}

	exc := t.CurrentException
	if inst, ok := excInstance(exc); ok {
		if tbVal, has := inst.Fields.Get(ObjectVal(vm.CopyString("__traceback__"))); has {
			if tb, ok := asList(vm, tbVal); ok && len(tb.Values) > 0 {
				fmt.Fprintf(out, "%s\n", header("Traceback (most recent call last):"))
				for _, entry := range tb.Values {
					tuple, ok := entry.AsObj().(*Tuple)
					if !ok || len(tuple.Values) != 2 {
						continue
					}
					code := tuple.Values[0].AsObj().(*CodeObject)
					offset := int(tuple.Values[1].AsInt())
					line := code.LineFor(offset)
					name := "<module>"
					if code.Name != nil && len(code.Name.Chars) > 0 {
						name = code.Name.Chars
					}
					filename := "?"
					if code.Filename != nil {
						filename = code.Filename.Chars
					}
					fmt.Fprintf(out, "  File \"%s\", line %d, in %s\n", filename, line, name)
					if src := sourceLine(filename, line); src != "" {
						fmt.Fprintf(out, "    %s\n", src)
					}
				}
			}
		}
	}

	clsName := vm.TypeName(exc)
	message := vm.exceptionMessage(exc)
	if message != "" {
		fmt.Fprintf(out, "%s: %s\n", emphasis(clsName), message)
	} else {
		fmt.Fprintf(out, "%s\n", emphasis(clsName))
	}
}

// exceptionMessage renders the exception via its __str__, falling back to
// the raw arg field if managed code cannot run.
func (vm *VM) exceptionMessage(exc Value) string {
	t := vm.currentThread
	savedExc := t.CurrentException
	savedFlags := t.flags
	t.CurrentException = NoneVal()
	t.flags &^= ThreadHasException

	result := ""
	cls := vm.GetType(exc)
	if str := cls.Special(SpecialStr); !str.IsNone() {
		t.Push(exc)
		rendered := vm.CallSimple(str, 1, 0)
		if s, ok := asString(rendered); ok && !t.HasException() {
			result = s.Chars
		}
	}
	if result == "" {
		if inst, ok := excInstance(exc); ok {
			if arg, has := inst.Fields.Get(ObjectVal(vm.CopyString("arg"))); has {
				if s, ok := asString(arg); ok {
					result = s.Chars
				} else {
					result = rawRepr(arg)
				}
			}
		}
	}

	t.CurrentException = savedExc
	t.flags = savedFlags
	return result
}

// sourceLine fetches one line of a source file for traceback display.
func sourceLine(filename string, line int) string {
	data, err := os.ReadFile(filename)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}
