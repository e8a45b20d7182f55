package compiler

import (
	"strings"
	"testing"

	"github.com/kuroko-lang/gokuroko/vm"
)

// ---------------------------------------------------------------------------
// Compiler
// ---------------------------------------------------------------------------

func compileSource(t *testing.T, source string) (*vm.VM, *vm.CodeObject) {
	t.Helper()
	machine := vm.New(vm.GlobalCleanOutput)
	t.Cleanup(machine.Shutdown)
	Install(machine)
	machine.StartModule("__main__")
	code := Compile(machine, source, "<test>")
	return machine, code
}

func mustCompile(t *testing.T, source string) string {
	t.Helper()
	machine, code := compileSource(t, source)
	if code == nil {
		t.Fatalf("compile failed: %s", source)
	}
	if machine.CurrentThread().HasException() {
		t.Fatalf("compile left an exception set: %s", source)
	}
	return vm.Disassemble(code)
}

func TestCompileExpressionStatement(t *testing.T) {
	listing := mustCompile(t, "1 + 2\n")
	for _, mnemonic := range []string{"CONSTANT", "ADD", "POP", "RETURN"} {
		if !strings.Contains(listing, mnemonic) {
			t.Errorf("missing %s in:\n%s", mnemonic, listing)
		}
	}
}

func TestCompileGlobalAssignment(t *testing.T) {
	listing := mustCompile(t, "x = 10\ny = x\n")
	if !strings.Contains(listing, "DEFINE_GLOBAL") {
		t.Errorf("module assignment should define a global:\n%s", listing)
	}
	if !strings.Contains(listing, "GET_GLOBAL") {
		t.Errorf("module read should load a global:\n%s", listing)
	}
}

func TestCompileFunctionLocals(t *testing.T) {
	listing := mustCompile(t, "def f(a):\n    b = a\n    return b\n")
	if !strings.Contains(listing, "GET_LOCAL") {
		t.Errorf("parameter reads should be locals:\n%s", listing)
	}
	if !strings.Contains(listing, "CLOSURE") {
		t.Errorf("def should build a closure:\n%s", listing)
	}
}

func TestCompileUpvalueCapture(t *testing.T) {
	source := "def outer():\n" +
		"    x = 1\n" +
		"    def inner():\n" +
		"        return x\n" +
		"    return inner\n"
	listing := mustCompile(t, source)
	if !strings.Contains(listing, "GET_UPVALUE") {
		t.Errorf("inner function should read an upvalue:\n%s", listing)
	}
	if !strings.Contains(listing, "(1 upvalues)") {
		t.Errorf("closure should carry one upvalue descriptor:\n%s", listing)
	}
}

func TestCompileControlFlow(t *testing.T) {
	listing := mustCompile(t, "while 1:\n    if 0:\n        break\n")
	for _, mnemonic := range []string{"JUMP_IF_FALSE", "LOOP", "JUMP"} {
		if !strings.Contains(listing, mnemonic) {
			t.Errorf("missing %s in:\n%s", mnemonic, listing)
		}
	}
}

func TestCompileForLoopUsesIterProtocol(t *testing.T) {
	listing := mustCompile(t, "for i in range(3):\n    i\n")
	for _, mnemonic := range []string{"GET_ITER", "FOR_ITER"} {
		if !strings.Contains(listing, mnemonic) {
			t.Errorf("missing %s in:\n%s", mnemonic, listing)
		}
	}
}

func TestCompileTryExcept(t *testing.T) {
	listing := mustCompile(t, "try:\n    1\nexcept ValueError:\n    2\n")
	for _, mnemonic := range []string{"PUSH_TRY", "POP_TRY", "RAISE"} {
		if !strings.Contains(listing, mnemonic) {
			t.Errorf("missing %s in:\n%s", mnemonic, listing)
		}
	}
}

func TestCompileWith(t *testing.T) {
	listing := mustCompile(t, "with x as y:\n    y\n")
	for _, mnemonic := range []string{"PUSH_WITH", "EXIT_WITH"} {
		if !strings.Contains(listing, mnemonic) {
			t.Errorf("missing %s in:\n%s", mnemonic, listing)
		}
	}
}

func TestCompileClassBody(t *testing.T) {
	source := "class C(object):\n" +
		"    kind = 'c'\n" +
		"    def m(self):\n" +
		"        return self\n"
	listing := mustCompile(t, source)
	for _, mnemonic := range []string{"CLASS", "METHOD", "FINALIZE"} {
		if !strings.Contains(listing, mnemonic) {
			t.Errorf("missing %s in:\n%s", mnemonic, listing)
		}
	}
}

func TestCompileKeywordCall(t *testing.T) {
	listing := mustCompile(t, "f(1, x=2)\n")
	if !strings.Contains(listing, "KWARGS") {
		t.Errorf("keyword call should emit KWARGS:\n%s", listing)
	}
}

func TestCompileGeneratorFlag(t *testing.T) {
	machine, code := compileSource(t, "def g():\n    yield 1\n")
	if code == nil {
		t.Fatal("compile failed")
	}
	var genCode *vm.CodeObject
	for _, c := range code.Constants {
		if c.IsObject() {
			if fn, ok := c.AsObj().(*vm.CodeObject); ok {
				genCode = fn
			}
		}
	}
	if genCode == nil {
		t.Fatal("nested code object not found")
	}
	if !genCode.IsGenerator {
		t.Error("function containing yield should be flagged as a generator")
	}
	_ = machine
}

func TestCompileDocstrings(t *testing.T) {
	machine, code := compileSource(t, "'''module doc'''\ndef f():\n    'fn doc'\n    return 1\n")
	if code == nil {
		t.Fatal("compile failed")
	}
	doc, ok := docString(code)
	if !ok || doc != "module doc" {
		t.Errorf("module docstring = %q", doc)
	}
	for _, c := range code.Constants {
		if c.IsObject() {
			if fn, fok := c.AsObj().(*vm.CodeObject); fok {
				if d, dok := docString(fn); !dok || d != "fn doc" {
					t.Errorf("function docstring = %q", d)
				}
			}
		}
	}
	_ = machine
}

func docString(code *vm.CodeObject) (string, bool) {
	if !code.Docstring.IsObject() {
		return "", false
	}
	s, ok := code.Docstring.AsObj().(*vm.String)
	if !ok {
		return "", false
	}
	return s.Chars, true
}

func TestCompileArityMetadata(t *testing.T) {
	_, code := compileSource(t, "def f(a, b, c=3, *rest, **kw):\n    return a\n")
	if code == nil {
		t.Fatal("compile failed")
	}
	var fn *vm.CodeObject
	for _, c := range code.Constants {
		if c.IsObject() {
			if nested, ok := c.AsObj().(*vm.CodeObject); ok {
				fn = nested
			}
		}
	}
	if fn == nil {
		t.Fatal("nested code object not found")
	}
	if fn.RequiredArgs != 2 || fn.KeywordArgs != 1 {
		t.Errorf("arity = (%d, %d), want (2, 1)", fn.RequiredArgs, fn.KeywordArgs)
	}
	if !fn.CollectsArgs || !fn.CollectsKwargs {
		t.Error("collector flags not set")
	}
}

func TestCompileErrorsProduceSyntaxError(t *testing.T) {
	cases := []string{
		"def (\n",
		"if\n",
		"class\n",
		"x = = 1\n",
		"return 1\n",
	}
	for _, source := range cases {
		machine, code := compileSource(t, source)
		if code != nil {
			t.Errorf("compile of %q should fail", source)
			continue
		}
		thread := machine.CurrentThread()
		if !thread.HasException() {
			t.Errorf("compile of %q should set an exception", source)
			continue
		}
		if !machine.IsInstanceOf(thread.CurrentException, machine.Exceptions.SyntaxError) {
			t.Errorf("compile of %q should raise SyntaxError", source)
		}
	}
}

func TestCompileLineNumbers(t *testing.T) {
	_, code := compileSource(t, "x = 1\ny = 2\nz = 3\n")
	if code == nil {
		t.Fatal("compile failed")
	}
	if code.LineFor(0) != 1 {
		t.Errorf("first instruction attributed to line %d", code.LineFor(0))
	}
	last := len(code.Code) - 1
	if code.LineFor(last) < 2 {
		t.Errorf("last instruction attributed to line %d", code.LineFor(last))
	}
}
