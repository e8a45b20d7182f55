package vm

import "fmt"

// ---------------------------------------------------------------------------
// Callable objects: natives, closures, bound methods, properties
// ---------------------------------------------------------------------------

// NativeFn is the signature of functions implemented in Go. Arguments are a
// read-only view of the caller's argument range; if hasKw is set the final
// argument is a dict of keyword arguments. A failing native sets the thread
// exception and returns None; callers must check HasException.
type NativeFn func(vm *VM, args []Value, hasKw bool) Value

// Native wraps a Go function as a callable object.
type Native struct {
	ObjHeader
	Function NativeFn
	Name     string
	Doc      string
}

func (n *Native) rawRepr() string { return fmt.Sprintf("<built-in function %s>", n.Name) }

// NewNative allocates a native function object. Names beginning with '.'
// mark the function as a method; names beginning with ':' mark it as a
// dynamic property, called on attribute access.
func (vm *VM) NewNative(fn NativeFn, name string) *Native {
	var flags uint16
	for len(name) > 0 {
		if name[0] == '.' {
			flags |= FlagIsMethod
			name = name[1:]
			continue
		}
		if name[0] == ':' {
			flags |= FlagIsDynamicProperty | FlagIsMethod
			name = name[1:]
			continue
		}
		break
	}
	n := &Native{Function: fn, Name: name}
	n.Kind = ObjNativeKind
	n.Flags |= flags
	vm.allocateObject(&n.ObjHeader, n, sizeofNative)
	return n
}

// Upvalue is the indirection cell that lets a closure share a variable with
// its enclosing scope. While the variable lives on the stack the upvalue is
// open and Location indexes the owning thread's stack; when the slot leaves
// scope the value moves into Closed and Location becomes -1. Stack growth is
// safe because open upvalues hold indices, not pointers.
type Upvalue struct {
	ObjHeader
	Location int // stack slot index, or -1 once closed
	Closed   Value
	Owner    *Thread
	next     *Upvalue // open-upvalue list, sorted by descending Location
}

func (u *Upvalue) rawRepr() string { return "<upvalue>" }

// Get reads through the cell.
func (u *Upvalue) Get() Value {
	if u.Location < 0 {
		return u.Closed
	}
	return u.Owner.stack[u.Location]
}

// Set writes through the cell.
func (u *Upvalue) Set(v Value) {
	if u.Location < 0 {
		u.Closed = v
	} else {
		u.Owner.stack[u.Location] = v
	}
}

// NewUpvalue allocates an open upvalue over a stack slot of t.
func (vm *VM) NewUpvalue(t *Thread, location int) *Upvalue {
	u := &Upvalue{Location: location, Closed: NoneVal(), Owner: t}
	u.Kind = ObjUpvalueKind
	vm.allocateObject(&u.ObjHeader, u, sizeofUpvalue)
	return u
}

// Closure is a callable formed from a code object plus captured upvalues,
// default argument values, and the globals table of the module it was
// defined in.
type Closure struct {
	ObjHeader
	Function     *CodeObject
	Upvalues     []*Upvalue
	Defaults     []Value // values for the optional positional parameters
	Annotations  Value
	GlobalsOwner *Instance // module whose fields serve as this closure's globals
}

func (c *Closure) rawRepr() string {
	name := "<lambda>"
	if c.Function.Name != nil && len(c.Function.Name.Chars) > 0 {
		name = c.Function.Name.Chars
	}
	return fmt.Sprintf("<function %s>", name)
}

// NewClosure allocates a closure over fn with room for its upvalues.
func (vm *VM) NewClosure(fn *CodeObject, globalsOwner *Instance) *Closure {
	c := &Closure{
		Function:     fn,
		Upvalues:     make([]*Upvalue, len(fn.Upvalues)),
		Annotations:  NoneVal(),
		GlobalsOwner: globalsOwner,
	}
	c.Kind = ObjClosureKind
	vm.allocateObject(&c.ObjHeader, c, sizeofClosure+len(fn.Upvalues)*wordSize)
	return c
}

// BoundMethod pairs a receiver with a method so that calling it inserts the
// receiver as the first argument.
type BoundMethod struct {
	ObjHeader
	Receiver Value
	Method   Obj // *Closure or *Native
}

func (b *BoundMethod) rawRepr() string {
	return fmt.Sprintf("<bound method %s>", b.Method.rawRepr())
}

// NewBoundMethod allocates a method binding.
func (vm *VM) NewBoundMethod(receiver Value, method Obj) *BoundMethod {
	b := &BoundMethod{Receiver: receiver, Method: method}
	b.Kind = ObjBoundMethodKind
	vm.allocateObject(&b.ObjHeader, b, sizeofBound)
	return b
}

// Property is a data descriptor: its getter runs on attribute reads from
// instances, and its setter (when present) intercepts writes.
type Property struct {
	ObjHeader
	Getter Value
	Setter Value
}

func (p *Property) rawRepr() string { return "<property>" }

// NewProperty allocates a property descriptor with the given getter.
func (vm *VM) NewProperty(getter Value) *Property {
	p := &Property{Getter: getter, Setter: NoneVal()}
	p.Kind = ObjPropertyKind
	vm.allocateObject(&p.ObjHeader, p, sizeofProperty)
	return p
}
