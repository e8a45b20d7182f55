package vm

import "fmt"

// ---------------------------------------------------------------------------
// CodeObject: immutable compiled code
// ---------------------------------------------------------------------------

// LineEntry maps the start of a bytecode range to a source line. Entries are
// stored in ascending offset order; the line for an offset is the line of the
// last entry at or before it.
type LineEntry struct {
	Offset int
	Line   int
}

// LocalEntry describes a local variable for traceback and debugging use.
type LocalEntry struct {
	Slot  int
	Birth int // bytecode offset where the local enters scope
	Death int // bytecode offset where the local leaves scope
	Name  *String
}

// UpvalueDescriptor tells closure construction where a captured variable
// comes from: a local slot of the enclosing frame, or one of the enclosing
// closure's own upvalues.
type UpvalueDescriptor struct {
	IsLocal bool
	Index   uint16
}

// CodeObject is an immutable unit of compiled code: bytecode, constant pool,
// line table, argument metadata, and descriptors for locals and upvalues.
// Code objects are shared by every closure built over them and never mutate
// after compilation.
type CodeObject struct {
	ObjHeader
	Code      []byte
	Lines     []LineEntry
	Constants []Value

	RequiredArgs     int // positional parameters without defaults
	KeywordArgs      int // positional parameters with defaults
	CollectsArgs     bool
	CollectsKwargs   bool
	RequiredArgNames []Value // *String values, for keyword binding
	KeywordArgNames  []Value

	LocalNames []LocalEntry
	Upvalues   []UpvalueDescriptor

	Name        *String
	QualName    *String
	Filename    *String
	Docstring   Value
	IsGenerator bool
}

func (c *CodeObject) rawRepr() string {
	name := "<module>"
	if c.Name != nil && len(c.Name.Chars) > 0 {
		name = c.Name.Chars
	}
	return fmt.Sprintf("<code object %s>", name)
}

// NewCodeObject allocates an empty code object for the compiler to fill in.
// The compiler must finish writing before the object becomes reachable from
// managed code.
func (vm *VM) NewCodeObject(name *String, filename *String) *CodeObject {
	co := &CodeObject{Name: name, QualName: name, Filename: filename, Docstring: NoneVal()}
	co.Kind = ObjCodeKind
	vm.allocateObject(&co.ObjHeader, co, sizeofCodeObject)
	return co
}

// Write appends one byte of bytecode attributed to the given source line.
func (c *CodeObject) Write(b byte, line int) {
	if n := len(c.Lines); n == 0 || c.Lines[n-1].Line != line {
		c.Lines = append(c.Lines, LineEntry{Offset: len(c.Code), Line: line})
	}
	c.Code = append(c.Code, b)
}

// AddConstant returns the constant-pool index of a value, reusing an
// existing entry that is the same value and appending otherwise.
func (c *CodeObject) AddConstant(v Value) int {
	for i, existing := range c.Constants {
		if ValuesSame(existing, v) {
			return i
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// LineFor returns the source line for a bytecode offset.
func (c *CodeObject) LineFor(offset int) int {
	line := 0
	for _, e := range c.Lines {
		if e.Offset > offset {
			break
		}
		line = e.Line
	}
	return line
}

// TotalArgs is the number of argument slots a frame for this code object
// reserves: named parameters plus the *args and **kwargs collectors.
func (c *CodeObject) TotalArgs() int {
	total := c.RequiredArgs + c.KeywordArgs
	if c.CollectsArgs {
		total++
	}
	if c.CollectsKwargs {
		total++
	}
	return total
}

// LocalNameFor resolves the name of a local slot at a given bytecode offset,
// for tracebacks. Returns nil if no metadata covers the slot there.
func (c *CodeObject) LocalNameFor(slot, offset int) *String {
	for i := range c.LocalNames {
		l := &c.LocalNames[i]
		if l.Slot == slot && l.Birth <= offset && offset < l.Death {
			return l.Name
		}
	}
	return nil
}
