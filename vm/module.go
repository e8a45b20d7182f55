package vm

import (
	"os"
	"path/filepath"
	"strings"
)

// ---------------------------------------------------------------------------
// Modules and imports
// ---------------------------------------------------------------------------

// sourceExtension is the file extension of managed source modules.
const sourceExtension = ".krk"

// StartModule creates a fresh module instance, links __builtins__ into its
// fields, and makes it the current thread's module context. The module is
// not added to the modules table; importers do that once execution succeeds.
func (vm *VM) StartModule(name string) *Instance {
	module := mustInstance(vm.NewInstance(vm.BaseClasses.Module))
	module.Kind = ObjModuleKind
	vm.currentThread.Module = module
	vm.AttachNamedValue(&module.Fields, "__name__", ObjectVal(vm.CopyString(name)))
	if vm.Builtins != nil {
		vm.AttachNamedObject(&module.Fields, "__builtins__", vm.Builtins)
	}
	return module
}

// searchPaths is the effective module search list: configured paths, then
// KUROKO_PATH entries, then the working directory.
func (vm *VM) searchPaths() []string {
	paths := append([]string{}, vm.ModulePaths...)
	if env := os.Getenv("KUROKO_PATH"); env != "" {
		paths = append(paths, strings.Split(env, ":")...)
	}
	return append(paths, ".")
}

// findModuleFile resolves a dotted module name against the search paths,
// trying name.krk and then name/__init__.krk.
func (vm *VM) findModuleFile(dotted string) (string, bool) {
	relative := filepath.FromSlash(strings.ReplaceAll(dotted, ".", "/"))
	for _, dir := range vm.searchPaths() {
		candidate := filepath.Join(dir, relative+sourceExtension)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		candidate = filepath.Join(dir, relative, "__init__"+sourceExtension)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// ImportModule loads a dotted module name into the modules table, running it
// as runAs, and reports success. Already-loaded modules are found in the
// cache and not run again.
func (vm *VM) ImportModule(dotted, runAs string) bool {
	_, ok := vm.importNamed(dotted, runAs)
	return ok
}

// importModuleValue backs the IMPORT instruction.
func (vm *VM) importModuleValue(name *String) (Value, bool) {
	return vm.importNamed(name.Chars, name.Chars)
}

func (vm *VM) importNamed(dotted, runAs string) (Value, bool) {
	t := vm.currentThread
	cacheKey := ObjectVal(vm.CopyString(dotted))
	if module, ok := vm.Modules.Get(cacheKey); ok {
		return module, true
	}

	if vm.compile == nil {
		vm.RuntimeError(vm.Exceptions.ImportError, "no compiler installed")
		return NoneVal(), false
	}
	fileName, found := vm.findModuleFile(dotted)
	if !found {
		vm.RuntimeError(vm.Exceptions.ImportError, "no module named '%s'", dotted)
		return NoneVal(), false
	}
	vm.importLog.Debugf("importing %s from %s", dotted, fileName)

	source, err := os.ReadFile(fileName)
	if err != nil {
		vm.RuntimeError(vm.Exceptions.IOError, "could not read '%s'", fileName)
		return NoneVal(), false
	}

	previous := t.Module
	module := vm.StartModule(runAs)
	t.Push(ObjectVal(module))
	vm.AttachNamedValue(&module.Fields, "__file__", ObjectVal(vm.CopyString(fileName)))

	code := vm.compile(vm, string(source), fileName)
	if code == nil {
		t.Pop()
		t.Module = previous
		return NoneVal(), false
	}
	t.Push(ObjectVal(code))
	closure := vm.NewClosure(code, module)
	t.Pop()
	t.Push(ObjectVal(closure))
	vm.CallStack(0)
	t.Module = previous
	if t.HasException() {
		t.Pop()
		return NoneVal(), false
	}
	t.Pop()

	vm.Modules.Set(cacheKey, ObjectVal(module))
	return ObjectVal(module), true
}

// RunFile executes a source file in a new module context named runAs
// (typically __main__), returning the module's result value.
func (vm *VM) RunFile(fileName, runAs string) Value {
	source, err := os.ReadFile(fileName)
	if err != nil {
		vm.RuntimeError(vm.Exceptions.IOError, "could not read '%s'", fileName)
		return NoneVal()
	}
	module := vm.StartModule(runAs)
	vm.AttachNamedValue(&module.Fields, "__file__", ObjectVal(vm.CopyString(fileName)))
	return vm.Interpret(string(source), fileName)
}
