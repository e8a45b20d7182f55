package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kuroko-lang/gokuroko/compiler"
	"github.com/kuroko-lang/gokuroko/vm"
)

// ---------------------------------------------------------------------------
// End-to-end execution
// ---------------------------------------------------------------------------

// newMachine builds a VM with the compiler installed and output captured.
func newMachine(t *testing.T, flags int) (*vm.VM, *bytes.Buffer) {
	t.Helper()
	machine := vm.New(flags | vm.GlobalCleanOutput)
	compiler.Install(machine)
	var out bytes.Buffer
	machine.Stdout = &out
	machine.Stderr = &out
	t.Cleanup(machine.Shutdown)
	return machine, &out
}

// run executes source and returns what it printed; any uncaught exception
// fails the test.
func run(t *testing.T, source string) string {
	t.Helper()
	return runFlags(t, source, 0)
}

func runFlags(t *testing.T, source string, flags int) string {
	t.Helper()
	machine, out := newMachine(t, flags)
	machine.Interpret(source, "<test>")
	if machine.CurrentThread().HasException() {
		machine.DumpTraceback()
		t.Fatalf("uncaught exception:\n%s", out.String())
	}
	return out.String()
}

func expect(t *testing.T, source, want string) {
	t.Helper()
	if got := run(t, source); got != want {
		t.Errorf("source:\n%s\ngot  %q\nwant %q", source, got, want)
	}
}

// The concrete acceptance scenarios.

func TestLambdaCall(t *testing.T) {
	run(t, "assert (lambda x: x*x)(5) == 25\n")
}

func TestDictInsertAndLen(t *testing.T) {
	expect(t, "d = {1:'a', 2:'b'}\nd[1] = 'c'\nprint(d[1], len(d))\n", "c 2\n")
}

func TestRecursiveFactorial(t *testing.T) {
	expect(t, "def f(n): return 1 if n<2 else n*f(n-1)\nprint(f(10))\n", "3628800\n")
}

func TestIsinstanceWithInheritance(t *testing.T) {
	expect(t, "class A:\n    pass\nclass B(A): pass\nprint(isinstance(B(), A))\n", "True\n")
}

func TestExceptionUnwind(t *testing.T) {
	source := "try:\n" +
		"    raise ValueError('x')\n" +
		"except ValueError as e:\n" +
		"    print(e)\n"
	expect(t, source, "x\n")
}

func TestLoopScopedClosureCapture(t *testing.T) {
	source := "def mk():\n" +
		"    xs = []\n" +
		"    for i in range(3):\n" +
		"        xs.append(lambda: i)\n" +
		"    return xs\n" +
		"print([f() for f in mk()])\n"
	expect(t, source, "[2, 2, 2]\n")
}

// Language behavior beyond the acceptance set.

func TestArithmetic(t *testing.T) {
	expect(t, "print(2 + 3 * 4, 7 // 2, 7 % 3, 2 ** 10, -7 // 2)\n", "14 3 1 1024 -4\n")
	expect(t, "print(7 / 2)\n", "3.5\n")
	expect(t, "print(1 | 6, 7 & 5, 7 ^ 1, 1 << 4, 32 >> 2, ~0)\n", "7 5 6 16 8 -1\n")
}

func TestComparisonsAndLogic(t *testing.T) {
	expect(t, "print(1 < 2, 2 <= 2, 3 > 4, 'a' < 'b', 1 == 1.0, 1 != 2)\n",
		"True True False True True True\n")
	expect(t, "print(1 and 2, 0 or 'x', not 0, None is None, 3 in [1, 2, 3])\n",
		"2 x True True True\n")
}

func TestStringOperations(t *testing.T) {
	expect(t, "s = 'ab' + 'cd'\nprint(s, len(s), s[1], s[1:3], 'b' in s)\n", "abcd 4 b bc True\n")
	expect(t, "print('-'.join(['a', 'b', 'c']), 'a b'.split(), 'AbC'.lower())\n",
		"a-b-c ['a', 'b'] abc\n")
	expect(t, "print('x' * 3, str(12), int('42'), float('2.5'))\n", "xxx 12 42 2.5\n")
}

func TestListOperations(t *testing.T) {
	expect(t, "xs = [1, 2]\nxs.append(3)\nxs.extend([4, 5])\nprint(xs, xs[-1] if False else xs[4], xs[1:3])\n",
		"[1, 2, 3, 4, 5] 5 [2, 3]\n")
	expect(t, "print([1, 2] + [3], [0] * 3, len([]))\n", "[1, 2, 3] [0, 0, 0] 0\n")
	expect(t, "xs = [1, 2, 3]\nxs.pop()\ndel xs[0]\nprint(xs)\n", "[2]\n")
}

func TestDictOperations(t *testing.T) {
	expect(t, "d = {'a': 1}\nd['b'] = 2\nprint(d.get('a'), d.get('zz', 99), 'b' in d)\n", "1 99 True\n")
	expect(t, "d = {1: 'x', 2: 'y'}\ndel d[1]\nprint(len(d), list(d.keys()), list(d.values()))\n",
		"1 [2] ['y']\n")
	expect(t, "d = {1: 'a', 2: 'b'}\nassert dict(d.items()) == d\nprint('ok')\n", "ok\n")
}

func TestTupleUnpackingInForLoop(t *testing.T) {
	expect(t, "d = {1: 10, 2: 20}\ntotal = 0\nfor k, v in d.items():\n    total = total + k + v\nprint(total)\n",
		"33\n")
}

func TestWhileBreakContinue(t *testing.T) {
	source := "i = 0\n" +
		"total = 0\n" +
		"while True:\n" +
		"    i += 1\n" +
		"    if i == 3:\n" +
		"        continue\n" +
		"    if i > 5:\n" +
		"        break\n" +
		"    total += i\n" +
		"print(total, i)\n"
	expect(t, source, "12 6\n")
}

func TestFunctionDefaultsAndCollectors(t *testing.T) {
	source := "def f(a, b=2, *args, **kw):\n" +
		"    return [a, b, len(args), len(kw)]\n" +
		"print(f(1))\n" +
		"print(f(1, 3, 4, 5, x=9))\n" +
		"print(f(1, b=7))\n"
	expect(t, source, "[1, 2, 0, 0]\n[1, 3, 2, 1]\n[1, 7, 0, 0]\n")
}

func TestStarArgsExpansion(t *testing.T) {
	source := "def f(a, b, c):\n" +
		"    return a + b + c\n" +
		"xs = [1, 2, 3]\n" +
		"print(f(*xs))\n" +
		"print(f(1, *[2, 3]))\n"
	expect(t, source, "6\n6\n")
}

func TestKeywordErrors(t *testing.T) {
	source := "def f(a):\n" +
		"    return a\n" +
		"try:\n" +
		"    f(1, zzz=2)\n" +
		"except TypeError as e:\n" +
		"    print('caught')\n"
	expect(t, source, "caught\n")
}

func TestArgumentCountError(t *testing.T) {
	source := "def f(a, b):\n" +
		"    return a\n" +
		"try:\n" +
		"    f(1)\n" +
		"except ArgumentError:\n" +
		"    print('too few')\n"
	expect(t, source, "too few\n")
}

func TestUpvalueSharedMutation(t *testing.T) {
	source := "def mk():\n" +
		"    i = 0\n" +
		"    def inc():\n" +
		"        i += 1\n" +
		"        return i\n" +
		"    return inc\n" +
		"c = mk()\n" +
		"c()\n" +
		"c()\n" +
		"print(c())\n"
	expect(t, source, "3\n")
}

func TestClassMethodsAndFields(t *testing.T) {
	source := "class Point:\n" +
		"    def __init__(self, x, y):\n" +
		"        self.x = x\n" +
		"        self.y = y\n" +
		"    def dist2(self):\n" +
		"        return self.x * self.x + self.y * self.y\n" +
		"p = Point(3, 4)\n" +
		"print(p.x, p.dist2())\n" +
		"p.x = 6\n" +
		"print(p.dist2())\n"
	expect(t, source, "3 25\n52\n")
}

func TestInheritedMethodBinding(t *testing.T) {
	source := "class Base:\n" +
		"    def name(self):\n" +
		"        return 'base'\n" +
		"class Child(Base):\n" +
		"    def shout(self):\n" +
		"        return self.name().upper()\n" +
		"print(Child().shout())\n"
	expect(t, source, "BASE\n")
}

func TestDunderOverloading(t *testing.T) {
	source := "class Vec:\n" +
		"    def __init__(self, x):\n" +
		"        self.x = x\n" +
		"    def __add__(self, other):\n" +
		"        return Vec(self.x + other.x)\n" +
		"    def __repr__(self):\n" +
		"        return 'Vec(' + str(self.x) + ')'\n" +
		"    def __eq__(self, other):\n" +
		"        return self.x == other.x\n" +
		"print(Vec(1) + Vec(2))\n" +
		"print(Vec(3) == Vec(3), Vec(3) == Vec(4))\n"
	expect(t, source, "Vec(3)\nTrue False\n")
}

func TestReflectedOperand(t *testing.T) {
	source := "class R:\n" +
		"    def __radd__(self, other):\n" +
		"        return 'radd:' + str(other)\n" +
		"print([] + R() if False else 1 + R())\n"
	expect(t, source, "radd:1\n")
}

func TestPropertyDescriptor(t *testing.T) {
	source := "class Box:\n" +
		"    def __init__(self, v):\n" +
		"        self._v = v\n" +
		"    @property\n" +
		"    def value(self):\n" +
		"        return self._v\n" +
		"b = Box(42)\n" +
		"print(b.value)\n"
	expect(t, source, "42\n")
}

func TestGetattrFallback(t *testing.T) {
	source := "class D:\n" +
		"    def __getattr__(self, name):\n" +
		"        return 'missing:' + name\n" +
		"d = D()\n" +
		"d.real = 1\n" +
		"print(d.real, d.nope)\n"
	expect(t, source, "1 missing:nope\n")
}

func TestInstanceCallable(t *testing.T) {
	source := "class F:\n" +
		"    def __call__(self, x):\n" +
		"        return x * 2\n" +
		"f = F()\n" +
		"print(f(21))\n"
	expect(t, source, "42\n")
}

func TestIterationProtocolEquivalence(t *testing.T) {
	// Iterating iter(seq) must visit the same elements as iterating seq.
	source := "seq = [1, 2, 3]\n" +
		"a = []\n" +
		"for x in iter(seq):\n" +
		"    a.append(x)\n" +
		"b = []\n" +
		"for x in seq:\n" +
		"    b.append(x)\n" +
		"print(a == b, a)\n"
	expect(t, source, "True [1, 2, 3]\n")
}

func TestRangeIteration(t *testing.T) {
	expect(t, "print([x for x in range(5)], [x for x in range(2, 8, 3)], len(range(10)))\n",
		"[0, 1, 2, 3, 4] [2, 5] 10\n")
}

func TestComprehensionWithCondition(t *testing.T) {
	expect(t, "print([x * x for x in range(6) if x % 2 == 0])\n", "[0, 4, 16]\n")
}

func TestSelfRecursiveListRepr(t *testing.T) {
	expect(t, "xs = [1]\nxs.append(xs)\nprint(xs)\n", "[1, [...]]\n")
}

func TestStackDisciplineAcrossCalls(t *testing.T) {
	// Deeply nested calls returning through several frames must leave the
	// module-level expression with exactly one result.
	source := "def a(): return 1\n" +
		"def b(): return a() + a()\n" +
		"def c(): return b() + b()\n" +
		"print(c() + c())\n"
	expect(t, source, "8\n")
}

func TestGCStressPreservesSemantics(t *testing.T) {
	// With a collection on every allocation, observable behavior must not
	// change.
	source := "def f(n): return 1 if n<2 else n*f(n-1)\n" +
		"xs = [str(f(i)) for i in range(8)]\n" +
		"print(' '.join(xs))\n"
	want := "1 1 2 6 24 120 720 5040\n"
	if got := runFlags(t, source, vm.GlobalEnableStressGC); got != want {
		t.Errorf("stress-GC run diverged: got %q want %q", got, want)
	}
	if got := run(t, source); got != want {
		t.Errorf("plain run diverged: got %q want %q", got, want)
	}
}

func TestRecursionLimit(t *testing.T) {
	source := "def r(): return r()\n" +
		"try:\n" +
		"    r()\n" +
		"except RecursionError:\n" +
		"    print('deep')\n"
	expect(t, source, "deep\n")
}

func TestInterpretReturnsModuleResult(t *testing.T) {
	machine, _ := newMachine(t, 0)
	machine.Interpret("x = 41\n", "<test>")
	if machine.CurrentThread().HasException() {
		t.Fatal("unexpected exception")
	}
	v := machine.ValueGetAttribute(vm.ObjectVal(machine.CurrentThread().Module), "x")
	if !v.IsInt() || v.AsInt() != 41 {
		t.Errorf("module global x = %v, want 41", v)
	}
}

func TestSyntaxErrorReported(t *testing.T) {
	machine, _ := newMachine(t, 0)
	machine.Interpret("def (\n", "<test>")
	thread := machine.CurrentThread()
	if !thread.HasException() {
		t.Fatal("expected a syntax error")
	}
	if !machine.IsInstanceOf(thread.CurrentException, machine.Exceptions.SyntaxError) {
		t.Error("compile failure should raise SyntaxError")
	}
}

func TestDisassembleSmoke(t *testing.T) {
	machine, _ := newMachine(t, 0)
	code := compiler.Compile(machine, "def f(x):\n    return x + 1\nprint(f(1))\n", "<dis>")
	if code == nil {
		t.Fatal("compile failed")
	}
	listing := vm.Disassemble(code)
	for _, mnemonic := range []string{"CLOSURE", "CALL", "RETURN", "ADD", "GET_LOCAL"} {
		if !strings.Contains(listing, mnemonic) {
			t.Errorf("disassembly missing %s:\n%s", mnemonic, listing)
		}
	}
}
