package vm

import "testing"

// ---------------------------------------------------------------------------
// Garbage collector
// ---------------------------------------------------------------------------

func TestCollectKeepsStackRoots(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	thread := machine.CurrentThread()

	keep := machine.NewListOf([]Value{IntVal(1), IntVal(2)})
	thread.Push(ObjectVal(keep))
	machine.Collect()
	if len(keep.Values) != 2 || keep.Values[0].AsInt() != 1 {
		t.Error("reachable list was damaged by collection")
	}
	thread.Pop()
}

func TestCollectSweepsUnreachableStrings(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	thread := machine.CurrentThread()

	kept := machine.CopyString("kept string value")
	thread.Push(ObjectVal(kept))
	machine.CopyString("doomed string value")

	freed := machine.Collect()
	if freed == 0 {
		t.Error("collection should free the unreachable string")
	}
	if machine.Strings.FindString("doomed string value", hashString("doomed string value")) != nil {
		t.Error("intern table still holds the dead string")
	}
	if machine.Strings.FindString("kept string value", hashString("kept string value")) != kept {
		t.Error("intern table lost a reachable string")
	}
	thread.Pop()
}

func TestCollectKeepsScratch(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	thread := machine.CurrentThread()

	d := machine.NewDict()
	thread.setScratch(0, ObjectVal(d))
	d.Entries.Set(IntVal(1), IntVal(2))
	machine.Collect()
	if v, ok := d.Entries.Get(IntVal(1)); !ok || v.AsInt() != 2 {
		t.Error("scratch-rooted dict was damaged by collection")
	}
	thread.clearScratch()
}

func TestPauseDefersCollection(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	machine.stressGC = true

	machine.pauseGC()
	// With the collector paused and stress mode on, transiently unreachable
	// allocations must survive until resume.
	a := machine.NewTuple([]Value{IntVal(1)})
	b := machine.NewTuple([]Value{ObjectVal(a)})
	if b.Values[0].AsObj() != Obj(a) {
		t.Error("allocation under pause was corrupted")
	}
	machine.resumeGC()
}

func TestCollectReschedulesNextGC(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	machine.Collect()
	if machine.nextGC < MinHeap {
		t.Errorf("nextGC = %d, below the minimum heap", machine.nextGC)
	}
	if machine.nextGC < machine.bytesAllocated {
		t.Error("nextGC scheduled below current allocation")
	}
}

func TestCollectClearsMarkBits(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	thread := machine.CurrentThread()
	l := machine.NewListOf(nil)
	thread.Push(ObjectVal(l))
	machine.Collect()
	if l.HasFlag(FlagMarked) {
		t.Error("mark bit not cleared on a surviving object")
	}
	thread.Pop()
}

func TestUpvalueSurvivesCollectionAfterClose(t *testing.T) {
	machine := New(0)
	defer machine.Shutdown()
	thread := machine.CurrentThread()

	thread.Push(ObjectVal(machine.CopyString("captured")))
	upvalue := thread.captureUpvalue(thread.top - 1)
	thread.closeUpvalues(thread.top - 1)
	thread.Pop()

	// The closed cell is now only reachable through the upvalue itself.
	thread.Push(ObjectVal(upvalue))
	machine.Collect()
	s, ok := asString(upvalue.Get())
	if !ok || s.Chars != "captured" {
		t.Error("closed upvalue lost its value across collection")
	}
	thread.Pop()
}
