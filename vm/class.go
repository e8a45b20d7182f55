package vm

import "fmt"

// ---------------------------------------------------------------------------
// Special method slots
// ---------------------------------------------------------------------------

// SpecialMethod indexes the per-class cache of dunder methods. Class
// finalization scans the methods table (and the base chain) to populate the
// cache so the hot paths never do a hash lookup.
type SpecialMethod int

const (
	SpecialInit SpecialMethod = iota
	SpecialRepr
	SpecialStr
	SpecialLen
	SpecialGetItem
	SpecialSetItem
	SpecialDelItem
	SpecialEq
	SpecialHash
	SpecialIter
	SpecialCall
	SpecialEnter
	SpecialExit
	SpecialGetAttr
	SpecialSetAttr
	SpecialDelAttr
	SpecialContains
	SpecialAdd
	SpecialRAdd
	SpecialSub
	SpecialRSub
	SpecialMul
	SpecialRMul
	SpecialTrueDiv
	SpecialRTrueDiv
	SpecialFloorDiv
	SpecialRFloorDiv
	SpecialMod
	SpecialRMod
	SpecialPow
	SpecialRPow
	SpecialLShift
	SpecialRLShift
	SpecialRShift
	SpecialRRShift
	SpecialAnd
	SpecialRAnd
	SpecialOr
	SpecialROr
	SpecialXor
	SpecialRXor
	SpecialLt
	SpecialGt
	SpecialLe
	SpecialGe
	SpecialNeg
	SpecialInvert
	SpecialSet // descriptor write hook
	SpecialGet // descriptor read hook
	specialMax
)

// specialMethodNames lists the managed names of the cached slots, indexed by
// SpecialMethod.
var specialMethodNames = [specialMax]string{
	"__init__", "__repr__", "__str__", "__len__",
	"__getitem__", "__setitem__", "__delitem__",
	"__eq__", "__hash__", "__iter__", "__call__",
	"__enter__", "__exit__",
	"__getattr__", "__setattr__", "__delattr__", "__contains__",
	"__add__", "__radd__", "__sub__", "__rsub__",
	"__mul__", "__rmul__", "__truediv__", "__rtruediv__",
	"__floordiv__", "__rfloordiv__", "__mod__", "__rmod__",
	"__pow__", "__rpow__",
	"__lshift__", "__rlshift__", "__rshift__", "__rrshift__",
	"__and__", "__rand__", "__or__", "__ror__", "__xor__", "__rxor__",
	"__lt__", "__gt__", "__le__", "__ge__",
	"__neg__", "__invert__",
	"__set__", "__get__",
}

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// InstanceAllocator builds a fresh, empty instance for a class, returning
// the outer object. Built-in types install allocators that reserve their
// native payloads so that subclasses of list, dict, etc. carry the payload
// their inherited methods expect.
type InstanceAllocator func(vm *VM, cls *Class) Obj

// GCScanHook re-marks the native payload of an instance during collection.
type GCScanHook func(gc *collector, o Obj)

// GCSweepHook releases the native payload of an unreachable instance.
type GCSweepHook func(vm *VM, o Obj)

// Class is a managed type: a name, an optional base (single inheritance,
// terminating at object), a methods table, and the cached dunder slots.
type Class struct {
	ObjHeader
	Name      *String
	Filename  *String
	Docstring Value
	Base      *Class
	Methods   Table

	// Allocation behavior for instances, inherited on subclassing.
	Allocator InstanceAllocator
	AllocSize int

	// NativeCtor, when set, replaces instantiation entirely: calling the
	// class invokes it like a native function. Used by the primitive types
	// (str, int, float, ...) whose values are not instances.
	NativeCtor NativeFn

	// Weak set of direct subclasses; never traversed by the GC.
	Subclasses map[*Class]struct{}

	specials  [specialMax]Value
	OnGCScan  GCScanHook
	OnGCSweep GCSweepHook
}

func (c *Class) rawRepr() string {
	if c.Name != nil {
		return fmt.Sprintf("<class '%s'>", c.Name.Chars)
	}
	return "<class>"
}

// Special returns the cached dunder slot, or None if the class chain does
// not define it.
func (c *Class) Special(m SpecialMethod) Value { return c.specials[m] }

// HasBase reports whether other appears on c's base chain (including c).
func (c *Class) HasBase(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Base {
		if cur == other {
			return true
		}
	}
	return false
}

// NewClass allocates a class with the given name and base. The class is not
// finalized; callers attach methods and then call FinalizeClass.
func (vm *VM) NewClass(name *String, base *Class) *Class {
	c := &Class{Name: name, Docstring: NoneVal(), Subclasses: make(map[*Class]struct{})}
	c.Kind = ObjClassKind
	for i := range c.specials {
		c.specials[i] = NoneVal()
	}
	vm.allocateObject(&c.ObjHeader, c, sizeofClass)
	if base != nil {
		c.Base = base
		c.Allocator = base.Allocator
		c.AllocSize = base.AllocSize
		base.Subclasses[c] = struct{}{}
	} else {
		c.Allocator = allocPlainInstance
		c.AllocSize = sizeofInstance
	}
	return c
}

// MakeClass creates a class, attaches it to a module's fields under its
// name, and returns it. The module may be nil to skip attachment.
func (vm *VM) MakeClass(module *Instance, name string, base *Class) *Class {
	if base == nil {
		base = vm.BaseClasses.Object
	}
	cls := vm.NewClass(vm.CopyString(name), base)
	if module != nil {
		vm.AttachNamedObject(&module.Fields, name, cls)
		if fileVal, ok := module.Fields.Get(ObjectVal(vm.CopyString("__file__"))); ok {
			if s, sok := asString(fileVal); sok {
				cls.Filename = s
			}
		}
	}
	return cls
}

// FinalizeClass populates the cached dunder slots from the methods table,
// walking the base chain so inherited slots are visible without a hash
// lookup, and inherits the GC hooks.
func (vm *VM) FinalizeClass(c *Class) {
	for i := SpecialMethod(0); i < specialMax; i++ {
		c.specials[i] = NoneVal()
	}
	// Most-derived wins: walk from the base down would overwrite, so walk
	// from c upward and only fill empty slots.
	for cur := c; cur != nil; cur = cur.Base {
		for i := SpecialMethod(0); i < specialMax; i++ {
			if !c.specials[i].IsNone() {
				continue
			}
			if m, ok := cur.Methods.Get(vm.specialNames[i]); ok {
				c.specials[i] = m
			}
		}
		if c.OnGCScan == nil {
			c.OnGCScan = cur.OnGCScan
		}
		if c.OnGCSweep == nil {
			c.OnGCSweep = cur.OnGCSweep
		}
	}
	// Finalize subclasses so their caches pick up changes in this class.
	for sub := range c.Subclasses {
		vm.FinalizeClass(sub)
	}
}

// ---------------------------------------------------------------------------
// Instance
// ---------------------------------------------------------------------------

// Instance is an object of a managed class: a class pointer plus a fields
// table. Built-in subclassable types embed Instance and add their native
// payload after it.
type Instance struct {
	ObjHeader
	Class  *Class
	Fields Table
}

func (i *Instance) rawRepr() string {
	return fmt.Sprintf("<%s object at 0x%x>", i.Class.Name.Chars, i.id)
}

func allocPlainInstance(vm *VM, cls *Class) Obj {
	i := &Instance{Class: cls}
	i.Kind = ObjInstanceKind
	vm.allocateObject(&i.ObjHeader, i, cls.AllocSize)
	return i
}

// NewInstance allocates an instance of cls using the class's allocator, so
// built-in payloads are reserved for subclasses too.
func (vm *VM) NewInstance(cls *Class) Obj {
	return cls.Allocator(vm, cls)
}

// mustInstance recovers the embedded instance header of an instance-like
// object.
func mustInstance(o Obj) *Instance {
	inst, ok := asInstanceObj(o)
	if !ok {
		panic("kuroko: object is not instance-like")
	}
	return inst
}
