package vm_test

import (
	"os"
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// Imports
// ---------------------------------------------------------------------------

func writeModule(t *testing.T, dir, name, source string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestImportModule(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "mathy.krk", "def double(x):\n    return x * 2\nanswer = 21\n")

	machine, out := newMachine(t, 0)
	machine.ModulePaths = []string{dir}
	machine.Interpret("import mathy\nprint(mathy.double(mathy.answer))\n", "<test>")
	if machine.CurrentThread().HasException() {
		machine.DumpTraceback()
		t.Fatalf("import failed:\n%s", out.String())
	}
	if out.String() != "42\n" {
		t.Errorf("got %q, want %q", out.String(), "42\n")
	}
}

func TestFromImport(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "helpers.krk", "greeting = 'hi'\ndef shout():\n    return greeting.upper()\n")

	machine, out := newMachine(t, 0)
	machine.ModulePaths = []string{dir}
	machine.Interpret("from helpers import greeting, shout\nprint(greeting, shout())\n", "<test>")
	if machine.CurrentThread().HasException() {
		machine.DumpTraceback()
		t.Fatalf("from-import failed:\n%s", out.String())
	}
	if out.String() != "hi HI\n" {
		t.Errorf("got %q, want %q", out.String(), "hi HI\n")
	}
}

func TestImportIsCached(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "counted.krk", "print('loaded')\nvalue = 1\n")

	machine, out := newMachine(t, 0)
	machine.ModulePaths = []string{dir}
	machine.Interpret("import counted\nimport counted\nprint(counted.value)\n", "<test>")
	if machine.CurrentThread().HasException() {
		t.Fatalf("import failed:\n%s", out.String())
	}
	if out.String() != "loaded\n1\n" {
		t.Errorf("module body ran more than once: %q", out.String())
	}
}

func TestImportMissingModule(t *testing.T) {
	machine, _ := newMachine(t, 0)
	machine.ModulePaths = []string{t.TempDir()}
	source := "try:\n" +
		"    import definitely_absent\n" +
		"except ImportError:\n" +
		"    print('missing')\n"
	machine.Interpret(source, "<test>")
	if machine.CurrentThread().HasException() {
		t.Fatal("ImportError should have been caught")
	}
}

func TestPackageInit(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeModule(t, filepath.Join(dir, "pkg"), "__init__.krk", "marker = 'pkg-init'\n")

	machine, out := newMachine(t, 0)
	machine.ModulePaths = []string{dir}
	machine.Interpret("import pkg\nprint(pkg.marker)\n", "<test>")
	if machine.CurrentThread().HasException() {
		machine.DumpTraceback()
		t.Fatalf("package import failed:\n%s", out.String())
	}
	if out.String() != "pkg-init\n" {
		t.Errorf("got %q", out.String())
	}
}

func TestRunFileSetsDunderFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.krk")
	if err := os.WriteFile(path, []byte("print(__name__)\nprint(__file__)\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	machine, out := newMachine(t, 0)
	machine.RunFile(path, "__main__")
	if machine.CurrentThread().HasException() {
		machine.DumpTraceback()
		t.Fatalf("run failed:\n%s", out.String())
	}
	if want := "__main__\n" + path + "\n"; out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}
