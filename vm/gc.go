package vm

import (
	"reflect"
	"time"
)

// ---------------------------------------------------------------------------
// Garbage collector: stop-the-world tri-color mark and sweep
// ---------------------------------------------------------------------------

// MinHeap is the floor for the next-collection target.
const MinHeap = 1024 * 1024

// linearGrowthThreshold is the point past which the pacing switches from
// doubling to fixed 64 MiB increments; doubling runs away once allocation
// climbs toward the GiB range.
const linearGrowthThreshold = 0x4000000

// collector carries the marking state for one collection cycle. The gray
// worklist holds objects that have been reached but whose referents have not
// been scanned yet.
type collector struct {
	vm   *VM
	gray []Obj
}

// gcTakeBytes records an auxiliary allocation against the pacing budget.
func (vm *VM) gcTakeBytes(size int) { vm.bytesAllocated += size }

// gcReleaseBytes returns auxiliary bytes to the budget.
func (vm *VM) gcReleaseBytes(size int) { vm.bytesAllocated -= size }

// pauseGC defers collection; allocations still occur. Used around sequences
// that produce transiently unreachable values.
func (vm *VM) pauseGC() { vm.gcPaused++ }

// resumeGC re-enables collection after a matching pauseGC.
func (vm *VM) resumeGC() { vm.gcPaused-- }

// allocateObject links a freshly built object into the collector's object
// list and charges its size. Collection may run before the object is linked;
// the object is not yet reachable and always survives its own allocation.
// Callers must have set the header's Kind.
func (vm *VM) allocateObject(h *ObjHeader, o Obj, size int) {
	if vm.stressGC || vm.bytesAllocated+size > vm.nextGC {
		if vm.gcPaused == 0 {
			vm.Collect()
		}
	}
	vm.bytesAllocated += size
	vm.objectID++
	h.id = vm.objectID
	h.next = vm.objects
	vm.objects = o
}

// Collect runs one full mark/sweep cycle and reschedules the next one.
// Returns the number of objects freed.
func (vm *VM) Collect() int {
	start := time.Now()
	before := vm.bytesAllocated

	gc := &collector{vm: vm}
	gc.markRoots()
	gc.traceReferences()
	gc.removeWhiteStrings()
	freed := gc.sweep()

	if vm.bytesAllocated < linearGrowthThreshold {
		vm.nextGC = vm.bytesAllocated * 2
	} else {
		vm.nextGC = vm.bytesAllocated + linearGrowthThreshold
	}
	if vm.nextGC < MinHeap {
		vm.nextGC = MinHeap
	}

	vm.gcLog.Debugf("collected %d objects in %s; %d bytes before, %d after; next collection at %d",
		freed, time.Since(start), before, vm.bytesAllocated, vm.nextGC)
	return freed
}

// ---------------------------------------------------------------------------
// Marking
// ---------------------------------------------------------------------------

// markObject grays an unmarked object. A nil pointer (including a typed nil
// such as an unset *String field) is ignored.
func (gc *collector) markObject(o Obj) {
	if o == nil || reflect.ValueOf(o).IsNil() {
		return
	}
	h := o.Header()
	if h.Flags&FlagMarked != 0 {
		return
	}
	h.Flags |= FlagMarked
	gc.gray = append(gc.gray, o)
}

// markValue grays the object a value references, if any.
func (gc *collector) markValue(v Value) {
	if v.IsObject() {
		gc.markObject(v.AsObj())
	}
}

// markTable grays every key and value of a table.
func (gc *collector) markTable(t *Table) {
	for i := range t.entries {
		gc.markValue(t.entries[i].Key)
		gc.markValue(t.entries[i].Value)
	}
}

func (gc *collector) markValues(vs []Value) {
	for _, v := range vs {
		gc.markValue(v)
	}
}

func (gc *collector) markThreadRoots(t *Thread) {
	for i := 0; i < t.top; i++ {
		gc.markValue(t.stack[i])
	}
	for i := 0; i < t.frameCount; i++ {
		frame := &t.frames[i]
		gc.markObject(frame.Closure)
	}
	for u := t.openUpvalues; u != nil; u = u.next {
		gc.markObject(u)
	}
	gc.markValue(t.CurrentException)
	if t.Module != nil {
		gc.markObject(t.Module)
	}
	for i := range t.scratch {
		gc.markValue(t.scratch[i])
	}
}

func (gc *collector) markRoots() {
	for t := gc.vm.threads; t != nil; t = t.next {
		gc.markThreadRoots(t)
	}
	gc.markTable(&gc.vm.Modules)
	if gc.vm.Builtins != nil {
		gc.markObject(gc.vm.Builtins)
	}
	if gc.vm.System != nil {
		gc.markObject(gc.vm.System)
	}
	for i := range gc.vm.specialNames {
		gc.markValue(gc.vm.specialNames[i])
	}
	gc.vm.BaseClasses.each(func(c *Class) { gc.markObject(c) })
	gc.vm.Exceptions.each(func(c *Class) { gc.markObject(c) })
	if gc.vm.compilerRoots != nil {
		gc.vm.compilerRoots(gc.markValue)
	}
}

// traceReferences drains the gray worklist, blackening each object by
// scanning its referents.
func (gc *collector) traceReferences() {
	for len(gc.gray) > 0 {
		o := gc.gray[len(gc.gray)-1]
		gc.gray = gc.gray[:len(gc.gray)-1]
		gc.blackenObject(o)
	}
}

// blackenObject re-marks everything an object references. One type switch
// over the concrete object type; instances additionally run their class's
// scan hook for native payloads.
func (gc *collector) blackenObject(o Obj) {
	switch obj := o.(type) {
	case *String, *Bytes, *Native:
		// Leaves.
	case *Tuple:
		gc.markValues(obj.Values)
	case *CodeObject:
		gc.markObject(obj.Name)
		gc.markObject(obj.QualName)
		gc.markObject(obj.Filename)
		gc.markValue(obj.Docstring)
		gc.markValues(obj.Constants)
		gc.markValues(obj.RequiredArgNames)
		gc.markValues(obj.KeywordArgNames)
		for i := range obj.LocalNames {
			gc.markObject(obj.LocalNames[i].Name)
		}
	case *Closure:
		gc.markObject(obj.Function)
		for _, u := range obj.Upvalues {
			if u != nil {
				gc.markObject(u)
			}
		}
		gc.markValues(obj.Defaults)
		gc.markValue(obj.Annotations)
		if obj.GlobalsOwner != nil {
			gc.markObject(obj.GlobalsOwner)
		}
	case *Upvalue:
		gc.markValue(obj.Closed)
	case *Class:
		gc.markObject(obj.Name)
		gc.markObject(obj.Filename)
		gc.markValue(obj.Docstring)
		gc.markObject(obj.Base)
		gc.markTable(&obj.Methods)
		for i := range obj.specials {
			gc.markValue(obj.specials[i])
		}
	case *BoundMethod:
		gc.markValue(obj.Receiver)
		gc.markObject(obj.Method)
	case *Property:
		gc.markValue(obj.Getter)
		gc.markValue(obj.Setter)
	case *Generator:
		gc.markObject(obj.Closure)
		gc.markValues(obj.saved)
		gc.markValue(obj.result)
	default:
		if inst, ok := asInstanceObj(o); ok {
			gc.markObject(inst.Class)
			if inst.Class.OnGCScan != nil {
				inst.Class.OnGCScan(gc, o)
			}
			gc.markTable(&inst.Fields)
		}
	}
}

// ---------------------------------------------------------------------------
// Sweeping
// ---------------------------------------------------------------------------

// removeWhiteStrings drops unmarked strings from the intern table before the
// general sweep, so the table never holds dangling interned entries.
func (gc *collector) removeWhiteStrings() {
	table := &gc.vm.Strings
	for i := range table.entries {
		entry := &table.entries[i]
		if entry.Key.IsObject() && entry.Key.AsObj().Header().Flags&FlagMarked == 0 {
			table.Delete(entry.Key)
		}
	}
}

// sweep unlinks every unmarked object, running sweep hooks to release native
// payloads, and clears the mark bit on survivors.
func (gc *collector) sweep() int {
	vm := gc.vm
	var previous Obj
	object := vm.objects
	count := 0
	for object != nil {
		h := object.Header()
		if h.Flags&(FlagMarked|FlagImmortal) != 0 {
			h.Flags &^= FlagMarked
			previous = object
			object = h.next
			continue
		}
		unreached := object
		object = h.next
		if previous != nil {
			previous.Header().next = object
		} else {
			vm.objects = object
		}
		vm.freeObject(unreached)
		count++
	}
	return count
}

// freeObject releases an object's payload charges and runs class sweep
// hooks. The Go runtime reclaims the memory once the object is unlinked.
func (vm *VM) freeObject(o Obj) {
	switch obj := o.(type) {
	case *String:
		vm.gcReleaseBytes(sizeofString + len(obj.Chars))
	case *Bytes:
		vm.gcReleaseBytes(sizeofBytes + len(obj.Data))
	case *Tuple:
		vm.gcReleaseBytes(sizeofTuple + len(obj.Values)*sizeofValue)
	case *CodeObject:
		vm.gcReleaseBytes(sizeofCodeObject)
	case *Native:
		vm.gcReleaseBytes(sizeofNative)
	case *Closure:
		vm.gcReleaseBytes(sizeofClosure + len(obj.Upvalues)*wordSize)
	case *Upvalue:
		vm.gcReleaseBytes(sizeofUpvalue)
	case *Class:
		if obj.Base != nil {
			delete(obj.Base.Subclasses, obj)
		}
		vm.gcReleaseBytes(sizeofClass)
	case *BoundMethod:
		vm.gcReleaseBytes(sizeofBound)
	case *Property:
		vm.gcReleaseBytes(sizeofProperty)
	case *Generator:
		vm.gcReleaseBytes(sizeofGenerator)
	default:
		if inst, ok := asInstanceObj(o); ok {
			if inst.Class.OnGCSweep != nil {
				inst.Class.OnGCSweep(vm, o)
			}
			vm.gcReleaseBytes(inst.Class.AllocSize)
		}
	}
	o.Header().next = nil
}
