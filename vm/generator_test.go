package vm_test

import "testing"

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

func TestGeneratorBasicIteration(t *testing.T) {
	source := "def gen(n):\n" +
		"    i = 0\n" +
		"    while i < n:\n" +
		"        yield i\n" +
		"        i += 1\n" +
		"print([x for x in gen(3)])\n"
	expect(t, source, "[0, 1, 2]\n")
}

func TestGeneratorLocalStatePersists(t *testing.T) {
	source := "def fib():\n" +
		"    a = 0\n" +
		"    b = 1\n" +
		"    while a < 30:\n" +
		"        yield a\n" +
		"        n = a + b\n" +
		"        a = b\n" +
		"        b = n\n" +
		"print([x for x in fib()])\n"
	expect(t, source, "[0, 1, 1, 2, 3, 5, 8, 13, 21]\n")
}

func TestGeneratorSignalsExhaustionByIdentity(t *testing.T) {
	// Calling the generator object returns the generator itself once it is
	// finished, the iteration stop sentinel.
	source := "def g():\n" +
		"    yield 1\n" +
		"it = g()\n" +
		"first = it()\n" +
		"second = it()\n" +
		"third = it()\n" +
		"print(first, second is it, third is it)\n"
	expect(t, source, "1 True True\n")
}

func TestGeneratorIterReturnsSelf(t *testing.T) {
	source := "def g():\n" +
		"    yield 1\n" +
		"it = g()\n" +
		"print(iter(it) is it)\n"
	expect(t, source, "True\n")
}

func TestTwoGeneratorsAreIndependent(t *testing.T) {
	source := "def g(n):\n" +
		"    yield n\n" +
		"    yield n + 1\n" +
		"a = g(10)\n" +
		"b = g(20)\n" +
		"print(a(), b(), a(), b())\n"
	expect(t, source, "10 20 11 21\n")
}

func TestGeneratorInForLoop(t *testing.T) {
	source := "def squares(n):\n" +
		"    i = 0\n" +
		"    while i < n:\n" +
		"        yield i * i\n" +
		"        i += 1\n" +
		"total = 0\n" +
		"for s in squares(5):\n" +
		"    total += s\n" +
		"print(total)\n"
	expect(t, source, "30\n")
}
