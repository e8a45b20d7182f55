package vm_test

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Exceptions and unwinding
// ---------------------------------------------------------------------------

func TestExceptTypeSelection(t *testing.T) {
	source := "def boom(kind):\n" +
		"    try:\n" +
		"        raise kind('msg')\n" +
		"    except KeyError:\n" +
		"        return 'key'\n" +
		"    except ValueError:\n" +
		"        return 'value'\n" +
		"print(boom(ValueError), boom(KeyError))\n"
	expect(t, source, "value key\n")
}

func TestExceptionPropagatesThroughFrames(t *testing.T) {
	source := "def inner():\n" +
		"    raise ValueError('deep')\n" +
		"def outer():\n" +
		"    inner()\n" +
		"try:\n" +
		"    outer()\n" +
		"except ValueError as e:\n" +
		"    print('caught', e)\n"
	expect(t, source, "caught deep\n")
}

func TestUnmatchedExceptionRaisesOutward(t *testing.T) {
	source := "caught = 'no'\n" +
		"try:\n" +
		"    try:\n" +
		"        raise ValueError('v')\n" +
		"    except KeyError:\n" +
		"        caught = 'inner'\n" +
		"except ValueError:\n" +
		"    caught = 'outer'\n" +
		"print(caught)\n"
	expect(t, source, "outer\n")
}

func TestReRaisePreservesException(t *testing.T) {
	source := "def f():\n" +
		"    try:\n" +
		"        raise ValueError('original')\n" +
		"    except ValueError as e:\n" +
		"        raise e\n" +
		"try:\n" +
		"    f()\n" +
		"except ValueError as e:\n" +
		"    print(e)\n"
	expect(t, source, "original\n")
}

func TestElseClauseRunsWithoutException(t *testing.T) {
	source := "log = []\n" +
		"try:\n" +
		"    log.append('body')\n" +
		"except ValueError:\n" +
		"    log.append('handler')\n" +
		"else:\n" +
		"    log.append('else')\n" +
		"print(log)\n"
	expect(t, source, "['body', 'else']\n")
}

func TestFinallyRunsOnBothPaths(t *testing.T) {
	source := "log = []\n" +
		"try:\n" +
		"    log.append(1)\n" +
		"finally:\n" +
		"    log.append(2)\n" +
		"def g():\n" +
		"    try:\n" +
		"        raise ValueError('v')\n" +
		"    finally:\n" +
		"        log.append(3)\n" +
		"try:\n" +
		"    g()\n" +
		"except ValueError:\n" +
		"    log.append(4)\n" +
		"print(log)\n"
	expect(t, source, "[1, 2, 3, 4]\n")
}

func TestUserExceptionSubclass(t *testing.T) {
	source := "class AppError(ValueError):\n" +
		"    pass\n" +
		"try:\n" +
		"    raise AppError('custom')\n" +
		"except ValueError as e:\n" +
		"    print(isinstance(e, AppError), e)\n"
	expect(t, source, "True custom\n")
}

func TestRaiseClassInstantiates(t *testing.T) {
	source := "try:\n" +
		"    raise KeyError\n" +
		"except KeyError:\n" +
		"    print('bare class raise')\n"
	expect(t, source, "bare class raise\n")
}

func TestRaiseNonExceptionIsTypeError(t *testing.T) {
	source := "try:\n" +
		"    raise 42\n" +
		"except TypeError:\n" +
		"    print('rejected')\n"
	expect(t, source, "rejected\n")
}

func TestDivisionByZero(t *testing.T) {
	source := "try:\n" +
		"    1 // 0\n" +
		"except ZeroDivisionError:\n" +
		"    print('div')\n"
	expect(t, source, "div\n")
}

func TestTracebackOutput(t *testing.T) {
	machine, out := newMachine(t, 0)
	machine.Interpret("def f():\n    raise ValueError('trace me')\nf()\n", "<tb>")
	thread := machine.CurrentThread()
	if !thread.HasException() {
		t.Fatal("expected the exception to escape")
	}
	machine.DumpTraceback()
	text := out.String()
	if !strings.Contains(text, "Traceback (most recent call last):") {
		t.Errorf("missing traceback header:\n%s", text)
	}
	if !strings.Contains(text, "ValueError: trace me") {
		t.Errorf("missing exception line:\n%s", text)
	}
	if !strings.Contains(text, "<tb>") {
		t.Errorf("missing filename in traceback:\n%s", text)
	}
	if !strings.Contains(text, "in f") {
		t.Errorf("missing function name in traceback:\n%s", text)
	}
}

func TestContextManagerAllPaths(t *testing.T) {
	source := "class CM:\n" +
		"    def __init__(self, log):\n" +
		"        self.log = log\n" +
		"    def __enter__(self):\n" +
		"        self.log.append('enter')\n" +
		"        return self.log\n" +
		"    def __exit__(self):\n" +
		"        self.log.append('exit')\n" +
		"log = []\n" +
		"with CM(log) as l:\n" +
		"    l.append('body')\n" +
		"try:\n" +
		"    with CM(log):\n" +
		"        raise ValueError('x')\n" +
		"except ValueError:\n" +
		"    log.append('caught')\n" +
		"def early(log):\n" +
		"    with CM(log):\n" +
		"        return 'early'\n" +
		"early(log)\n" +
		"print(log)\n"
	want := "['enter', 'body', 'exit', 'enter', 'exit', 'caught', 'enter', 'exit']\n"
	expect(t, source, want)
}

func TestHasExceptionFlagCleanupOnCatch(t *testing.T) {
	machine, _ := newMachine(t, 0)
	machine.Interpret("try:\n    raise ValueError('x')\nexcept ValueError:\n    pass\n", "<flag>")
	if machine.CurrentThread().HasException() {
		t.Error("flag should be cleared once a handler catches")
	}
	if !machine.CurrentThread().CurrentException.IsNone() {
		t.Error("current exception should be cleared once caught")
	}
}

func TestRuntimeErrorSetsThreadState(t *testing.T) {
	machine, _ := newMachine(t, 0)
	machine.RuntimeError(machine.Exceptions.TypeError, "bad %s", "thing")
	thread := machine.CurrentThread()
	if !thread.HasException() {
		t.Fatal("RuntimeError should set the exception flag")
	}
	if !machine.IsInstanceOf(thread.CurrentException, machine.Exceptions.TypeError) {
		t.Error("exception has the wrong class")
	}
	thread.ClearException()
	if thread.HasException() {
		t.Error("ClearException should reset the flag")
	}
}
