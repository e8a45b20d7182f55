package vm

// ---------------------------------------------------------------------------
// Attribute access and the descriptor protocol
// ---------------------------------------------------------------------------

// classChainLookup finds name along a class's base chain.
func classChainLookup(cls *Class, name *String) (Value, bool) {
	for cur := cls; cur != nil; cur = cur.Base {
		if v, ok := cur.Methods.Get(ObjectVal(name)); ok {
			return v, true
		}
	}
	return NoneVal(), false
}

// isDataDescriptor reports whether a class attribute intercepts writes: a
// Property with a setter, or an instance whose class defines __set__.
func (vm *VM) isDataDescriptor(attr Value) bool {
	if !attr.IsObject() {
		return false
	}
	if p, ok := attr.AsObj().(*Property); ok {
		return !p.Setter.IsNone()
	}
	if inst, ok := asInstanceObj(attr.AsObj()); ok {
		return !inst.Class.Special(SpecialSet).IsNone()
	}
	return false
}

// descriptorGet runs a descriptor's read protocol for a receiver.
func (vm *VM) descriptorGet(attr, receiver Value) Value {
	t := vm.currentThread
	if p, ok := attr.AsObj().(*Property); ok {
		t.Push(receiver)
		return vm.CallSimple(p.Getter, 1, 0)
	}
	if inst, ok := asInstanceObj(attr.AsObj()); ok {
		if get := inst.Class.Special(SpecialGet); !get.IsNone() {
			t.Push(attr)
			t.Push(receiver)
			return vm.CallSimple(get, 2, 0)
		}
	}
	return attr
}

// getAttributeOnTop resolves an attribute for the value on top of the stack,
// replacing it with the result:
//
//  1. instance fields win, unless the class carries a data descriptor;
//  2. the class chain is searched; dynamic properties are invoked, functions
//     bind to the receiver, plain values return as-is;
//  3. __getattr__ runs as the final fallback;
//  4. otherwise AttributeError.
func (vm *VM) getAttributeOnTop(name *String) {
	t := vm.currentThread
	receiver := t.Peek(0)

	// Attribute access on a class object reads its (inherited) methods
	// table directly, unbound.
	if receiver.IsObject() {
		if cls, ok := receiver.AsObj().(*Class); ok {
			if attr, found := classChainLookup(cls, name); found {
				t.Pop()
				t.Push(attr)
				return
			}
			switch name.Chars {
			case "__name__":
				t.Pop()
				t.Push(ObjectVal(cls.Name))
				return
			case "__base__":
				t.Pop()
				if cls.Base != nil {
					t.Push(ObjectVal(cls.Base))
				} else {
					t.Push(NoneVal())
				}
				return
			}
			vm.RuntimeError(vm.Exceptions.AttributeError,
				"type object '%s' has no attribute '%s'", cls.Name.Chars, name.Chars)
			return
		}
	}

	cls := vm.GetType(receiver)
	classAttr, inClass := classChainLookup(cls, name)

	if receiver.IsObject() {
		if inst, ok := asInstanceObj(receiver.AsObj()); ok {
			if inClass && vm.isDataDescriptor(classAttr) {
				result := vm.descriptorGet(classAttr, receiver)
				if !t.HasException() {
					t.Pop()
					t.Push(result)
				}
				return
			}
			if field, ok := inst.Fields.Get(ObjectVal(name)); ok {
				t.Pop()
				t.Push(field)
				return
			}
		}
	}

	if inClass {
		if classAttr.IsObject() && classAttr.AsObj().Header().HasFlag(FlagIsDynamicProperty) {
			// Receiver on the stack becomes the property's argument.
			result := vm.CallSimple(classAttr, 1, 0)
			if !t.HasException() {
				t.Push(result)
			}
			return
		}
		if classAttr.IsObject() {
			if p, ok := classAttr.AsObj().(*Property); ok {
				result := vm.descriptorGet(ObjectVal(p), receiver)
				if !t.HasException() {
					t.Pop()
					t.Push(result)
				}
				return
			}
			switch classAttr.AsObj().(type) {
			case *Closure, *Native:
				bound := vm.NewBoundMethod(receiver, classAttr.AsObj())
				t.Pop()
				t.Push(ObjectVal(bound))
				return
			}
		}
		t.Pop()
		t.Push(classAttr)
		return
	}

	if getattr := cls.Special(SpecialGetAttr); !getattr.IsNone() {
		t.Push(receiver)
		t.Push(ObjectVal(name))
		result := vm.CallSimple(getattr, 2, 0)
		if !t.HasException() {
			t.Pop()
			t.Push(result)
		}
		return
	}

	vm.RuntimeError(vm.Exceptions.AttributeError,
		"'%s' object has no attribute '%s'", vm.TypeName(receiver), name.Chars)
}

// setAttributeOnTop assigns an attribute: the stack holds the target below
// the value, and the value remains after assignment. Data descriptors and
// __setattr__ intercept; otherwise the fields table is written.
func (vm *VM) setAttributeOnTop(name *String) {
	t := vm.currentThread
	receiver := t.Peek(1)
	value := t.Peek(0)

	if receiver.IsObject() {
		if cls, ok := receiver.AsObj().(*Class); ok {
			cls.Methods.Set(ObjectVal(name), value)
			vm.FinalizeClass(cls)
			t.Swap(1)
			t.Pop()
			return
		}
	}

	cls := vm.GetType(receiver)
	if classAttr, ok := classChainLookup(cls, name); ok && vm.isDataDescriptor(classAttr) {
		if p, pok := classAttr.AsObj().(*Property); pok {
			t.Push(receiver)
			t.Push(value)
			vm.CallSimple(p.Setter, 2, 0)
		} else {
			set := vm.GetType(classAttr).Special(SpecialSet)
			t.Push(classAttr)
			t.Push(receiver)
			t.Push(value)
			vm.CallSimple(set, 3, 0)
		}
		if !t.HasException() {
			t.Swap(1)
			t.Pop()
		}
		return
	}

	if setattr := cls.Special(SpecialSetAttr); !setattr.IsNone() {
		t.Push(receiver)
		t.Push(ObjectVal(name))
		t.Push(value)
		vm.CallSimple(setattr, 3, 0)
		if !t.HasException() {
			t.Swap(1)
			t.Pop()
		}
		return
	}

	if receiver.IsObject() {
		if inst, ok := asInstanceObj(receiver.AsObj()); ok {
			inst.Fields.Set(ObjectVal(name), value)
			t.Swap(1)
			t.Pop()
			return
		}
	}

	vm.RuntimeError(vm.Exceptions.AttributeError,
		"'%s' object has no attribute '%s'", vm.TypeName(receiver), name.Chars)
}

// delAttributeOnTop deletes an attribute of the value on top of the stack.
func (vm *VM) delAttributeOnTop(name *String) {
	t := vm.currentThread
	receiver := t.Peek(0)

	cls := vm.GetType(receiver)
	if delattr := cls.Special(SpecialDelAttr); !delattr.IsNone() {
		t.Push(ObjectVal(name))
		vm.CallSimple(delattr, 2, 0)
		return
	}

	if receiver.IsObject() {
		if inst, ok := asInstanceObj(receiver.AsObj()); ok {
			if inst.Fields.Delete(ObjectVal(name)) {
				t.Pop()
				return
			}
		}
	}
	vm.RuntimeError(vm.Exceptions.AttributeError,
		"'%s' object has no attribute '%s'", vm.TypeName(receiver), name.Chars)
}

// ---------------------------------------------------------------------------
// Embedding conveniences
// ---------------------------------------------------------------------------

// ValueGetAttribute reads an attribute of a value by name, the way the
// GET_PROPERTY instruction would.
func (vm *VM) ValueGetAttribute(v Value, name string) Value {
	t := vm.currentThread
	t.Push(v)
	vm.getAttributeOnTop(vm.CopyString(name))
	if t.HasException() {
		return NoneVal()
	}
	return t.Pop()
}

// ValueSetAttribute writes an attribute of a value by name, the way the
// SET_PROPERTY instruction would.
func (vm *VM) ValueSetAttribute(owner Value, name string, to Value) Value {
	t := vm.currentThread
	t.Push(owner)
	t.Push(to)
	vm.setAttributeOnTop(vm.CopyString(name))
	if t.HasException() {
		return NoneVal()
	}
	return t.Pop()
}
