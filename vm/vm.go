package vm

import (
	"fmt"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: shared interpreter state
// ---------------------------------------------------------------------------

// Global VM flags, passed to New.
const (
	GlobalEnableStressGC = 1 << 8  // collect on every allocation
	GlobalCleanOutput    = 1 << 10 // suppress traceback decoration
	GlobalReportGC       = 1 << 12 // not read by the VM; cycle stats go to the kuroko.gc logger at debug level
)

// BaseClasses names the classes of the built-in object types, populated at
// startup and used for integrated type checking.
type BaseClasses struct {
	Object        *Class
	Module        *Class
	Type          *Class
	Int           *Class
	Float         *Class
	Bool          *Class
	NoneType      *Class
	NotImplType   *Class
	Str           *Class
	Function      *Class
	Method        *Class
	Tuple         *Class
	Bytes         *Class
	List          *Class
	Dict          *Class
	Range         *Class
	Slice         *Class
	Property      *Class
	CodeObject    *Class
	Generator     *Class
	ListIterator  *Class
	TupleIterator *Class
	StrIterator   *Class
	BytesIterator *Class
	RangeIterator *Class
	DictItems     *Class
	DictKeys      *Class
	DictValues    *Class
}

func (b *BaseClasses) each(fn func(*Class)) {
	for _, c := range []*Class{
		b.Object, b.Module, b.Type, b.Int, b.Float, b.Bool, b.NoneType,
		b.NotImplType, b.Str, b.Function, b.Method, b.Tuple, b.Bytes,
		b.List, b.Dict, b.Range, b.Slice, b.Property, b.CodeObject,
		b.Generator, b.ListIterator, b.TupleIterator, b.StrIterator,
		b.BytesIterator, b.RangeIterator, b.DictItems, b.DictKeys,
		b.DictValues,
	} {
		if c != nil {
			fn(c)
		}
	}
}

// Exceptions names the core exception classes, available to native code
// without table lookups.
type Exceptions struct {
	BaseException       *Class
	Exception           *Class
	TypeError           *Class
	ArgumentError       *Class
	IndexError          *Class
	KeyError            *Class
	AttributeError      *Class
	NameError           *Class
	ImportError         *Class
	IOError             *Class
	ValueError          *Class
	KeyboardInterrupt   *Class
	ZeroDivisionError   *Class
	NotImplementedError *Class
	SyntaxError         *Class
	AssertionError      *Class
	RecursionError      *Class
}

func (e *Exceptions) each(fn func(*Class)) {
	for _, c := range []*Class{
		e.BaseException, e.Exception, e.TypeError, e.ArgumentError,
		e.IndexError, e.KeyError, e.AttributeError, e.NameError,
		e.ImportError, e.IOError, e.ValueError, e.KeyboardInterrupt,
		e.ZeroDivisionError, e.NotImplementedError, e.SyntaxError,
		e.AssertionError, e.RecursionError,
	} {
		if c != nil {
			fn(c)
		}
	}
}

// CompileFn is the contract the compiler front end satisfies: compile source
// into a code object ready to wrap in a closure. A failing compile sets a
// SyntaxError on the current thread and returns nil.
type CompileFn func(vm *VM, source, filename string) *CodeObject

// VM is the shared interpreter state: the interned strings table, the module
// cache, the built-in classes and exception types, the garbage collector
// state, and the thread list. One VM runs managed code serially per thread.
type VM struct {
	GlobalFlags int

	Strings Table // interning set: every live String appears here once
	Modules Table // dotted name -> module instance

	Builtins *Instance // the __builtins__ module
	System   *Instance // the kuroko module

	BaseClasses *BaseClasses
	Exceptions  *Exceptions

	specialNames [specialMax]Value // interned dunder name strings

	// Collector state.
	objects        Obj
	objectID       uint64
	bytesAllocated int
	nextGC         int
	gcPaused       int
	stressGC       bool

	threads       *Thread
	currentThread *Thread

	MaximumCallDepth int
	ModulePaths      []string

	compile       CompileFn
	compilerRoots func(mark func(Value)) // extra roots while a compile is running

	gcLog     commonlog.Logger
	importLog commonlog.Logger

	// Stdout is where print writes; swappable for tests and embedding.
	Stdout Writer
	Stderr Writer
}

// Writer is the minimal output surface the VM needs from its host.
type Writer interface {
	Write(p []byte) (int, error)
}

// New creates and initializes a VM: interns the special method names, builds
// the built-in class and exception hierarchies, and prepares the __builtins__
// and kuroko modules. Call Shutdown when finished.
func New(flags int) *VM {
	vm := &VM{
		GlobalFlags:      flags,
		nextGC:           MinHeap,
		MaximumCallDepth: CallFramesMax,
		stressGC:         flags&GlobalEnableStressGC != 0,
		gcLog:            commonlog.GetLogger("kuroko.gc"),
		importLog:        commonlog.GetLogger("kuroko.import"),
	}
	vm.currentThread = vm.newThread()

	// Nothing is reachable until the root structures exist; hold the
	// collector off while the world is wired together.
	vm.pauseGC()
	vm.BaseClasses = &BaseClasses{}
	vm.Exceptions = &Exceptions{}
	for i := SpecialMethod(0); i < specialMax; i++ {
		vm.specialNames[i] = ObjectVal(vm.CopyString(specialMethodNames[i]))
	}
	vm.bootstrapClasses()
	vm.bootstrapExceptions()
	vm.bootstrapBuiltins()
	vm.resumeGC()
	return vm
}

// Shutdown releases the VM's object graph. The VM must not be used after.
func (vm *VM) Shutdown() {
	vm.Strings.Reset()
	vm.Modules.Reset()
	vm.Builtins = nil
	vm.System = nil
	vm.threads = nil
	vm.currentThread = nil
	for o := vm.objects; o != nil; {
		next := o.Header().next
		o.Header().next = nil
		o = next
	}
	vm.objects = nil
}

// CurrentThread returns the thread the VM considers current.
func (vm *VM) CurrentThread() *Thread { return vm.currentThread }

// SetCompiler installs the compiler front end.
func (vm *VM) SetCompiler(fn CompileFn) { vm.compile = fn }

// SetCompilerRoots registers a callback that marks values owned by an
// in-progress compile, so code objects under construction survive collection.
func (vm *VM) SetCompilerRoots(fn func(mark func(Value))) { vm.compilerRoots = fn }

// Push pushes onto the current thread's stack.
func (vm *VM) Push(v Value) { vm.currentThread.Push(v) }

// Pop pops the current thread's stack.
func (vm *VM) Pop() Value { return vm.currentThread.Pop() }

// Peek peeks the current thread's stack.
func (vm *VM) Peek(distance int) Value { return vm.currentThread.Peek(distance) }

// Swap swaps on the current thread's stack.
func (vm *VM) Swap(distance int) { vm.currentThread.Swap(distance) }

// ---------------------------------------------------------------------------
// Type queries
// ---------------------------------------------------------------------------

// GetType returns the class representing a value's type; immediates map to
// their pseudoclasses.
func (vm *VM) GetType(v Value) *Class {
	switch v.Kind() {
	case ValNone:
		return vm.BaseClasses.NoneType
	case ValBool:
		return vm.BaseClasses.Bool
	case ValInt:
		return vm.BaseClasses.Int
	case ValFloat:
		return vm.BaseClasses.Float
	case ValNotImpl:
		return vm.BaseClasses.NotImplType
	case ValObject:
		switch v.AsObj().(type) {
		case *String:
			return vm.BaseClasses.Str
		case *Bytes:
			return vm.BaseClasses.Bytes
		case *Tuple:
			return vm.BaseClasses.Tuple
		case *CodeObject:
			return vm.BaseClasses.CodeObject
		case *Native, *Closure:
			return vm.BaseClasses.Function
		case *BoundMethod:
			return vm.BaseClasses.Method
		case *Class:
			return vm.BaseClasses.Type
		case *Property:
			return vm.BaseClasses.Property
		case *Generator:
			return vm.BaseClasses.Generator
		default:
			if inst, ok := asInstanceObj(v.AsObj()); ok {
				return inst.Class
			}
		}
	}
	return vm.BaseClasses.Object
}

// TypeName returns the name of a value's type, for diagnostics.
func (vm *VM) TypeName(v Value) string {
	cls := vm.GetType(v)
	if cls != nil && cls.Name != nil {
		return cls.Name.Chars
	}
	return "?"
}

// IsInstanceOf reports whether v is an instance of cls or of a subclass.
func (vm *VM) IsInstanceOf(v Value, cls *Class) bool {
	return vm.GetType(v).HasBase(cls)
}

// asInstanceObj recovers the embedded Instance of instance-like objects
// (plain instances, modules, and the built-in payload carriers).
func asInstanceObj(o Obj) (*Instance, bool) {
	il, ok := o.(interface{ instanceRef() *Instance })
	if !ok {
		return nil, false
	}
	return il.instanceRef(), true
}

func (i *Instance) instanceRef() *Instance { return i }

func asString(v Value) (*String, bool) {
	if !v.IsObject() {
		return nil, false
	}
	s, ok := v.AsObj().(*String)
	return s, ok
}

// ---------------------------------------------------------------------------
// Attachment helpers
// ---------------------------------------------------------------------------

// AttachNamedValue stores a value in an attribute table under an interned
// name, shielding both from collection during the writes.
func (vm *VM) AttachNamedValue(table *Table, name string, v Value) {
	t := vm.currentThread
	t.Push(v)
	t.Push(ObjectVal(vm.CopyString(name)))
	table.Set(t.Peek(0), t.Peek(1))
	t.Pop()
	t.Pop()
}

// AttachNamedObject is AttachNamedValue for objects.
func (vm *VM) AttachNamedObject(table *Table, name string, o Obj) {
	vm.AttachNamedValue(table, name, ObjectVal(o))
}

// DefineNative wraps fn as a native function and attaches it to a table. A
// leading '.' marks a method, a leading ':' a dynamic property.
func (vm *VM) DefineNative(table *Table, name string, fn NativeFn) *Native {
	native := vm.NewNative(fn, name)
	vm.AttachNamedObject(table, native.Name, native)
	return native
}

// DefineNativeProperty attaches a dynamic property backed by fn.
func (vm *VM) DefineNativeProperty(table *Table, name string, fn NativeFn) *Native {
	native := vm.NewNative(fn, ":"+name)
	vm.AttachNamedObject(table, native.Name, native)
	return native
}

// ---------------------------------------------------------------------------
// Top-level execution
// ---------------------------------------------------------------------------

// Interpret compiles and runs source in the current module context,
// returning the result of execution. On an uncaught exception the returned
// value is None and the current thread reports HasException.
func (vm *VM) Interpret(source, filename string) Value {
	if vm.compile == nil {
		panic("kuroko: no compiler installed")
	}
	t := vm.currentThread
	if t.Module == nil {
		t.Module = vm.StartModule("__main__")
	}
	code := vm.compile(vm, source, filename)
	if code == nil {
		// Compile error; the thread exception is set.
		return NoneVal()
	}
	t.Push(ObjectVal(code))
	closure := vm.NewClosure(code, t.Module)
	t.Pop()
	t.Push(ObjectVal(closure))
	return vm.CallStack(0)
}

func (vm *VM) String() string {
	return fmt.Sprintf("<vm %d objects, %d bytes>", vm.objectID, vm.bytesAllocated)
}
