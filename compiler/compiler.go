package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kuroko-lang/gokuroko/vm"
)

// ---------------------------------------------------------------------------
// Single-pass compiler: tokens straight to bytecode
// ---------------------------------------------------------------------------

// funcType tells the compiler what kind of code object it is building.
type funcType int

const (
	typeModule funcType = iota
	typeFunction
	typeMethod
	typeLambda
)

// local is one declared local variable slot.
type local struct {
	name       string
	depth      int
	isCaptured bool
}

// loopContext tracks the innermost loop for break/continue.
type loopContext struct {
	start       int
	breakJumps  []int
	scopeDepth  int
	regionDepth int
}

// region tracks an active protected region (try or with) so break can emit
// the matching unwind opcode before jumping out.
type region struct {
	exitOp vm.Opcode
}

// compiler holds per-function compilation state. Compilers nest along the
// lexical function structure for upvalue resolution.
type compiler struct {
	enclosing *compiler
	function  *vm.CodeObject
	kind      funcType

	locals     []local
	scopeDepth int
	loops      []loopContext
	regions    []region
}

// parser drives the scanner and owns error state shared by the nested
// compilers.
type parser struct {
	vmr      *vm.VM
	scanner  *Scanner
	filename string

	current  Token
	previous Token

	hadError  bool
	panicMode bool
	errorMsg  string
	errorLine int

	comp *compiler
}

// Install wires this front end into a VM.
func Install(vmr *vm.VM) {
	vmr.SetCompiler(Compile)
}

// Compile compiles source into a code object for the VM, or returns nil with
// a SyntaxError set on the current thread.
func Compile(vmr *vm.VM, source, filename string) *vm.CodeObject {
	p := &parser{
		vmr:      vmr,
		scanner:  NewScanner(source),
		filename: filename,
	}
	p.comp = newCompiler(p, nil, typeModule, "<module>")

	// Keep in-flight code objects alive across collections triggered by
	// constant interning.
	vmr.SetCompilerRoots(func(mark func(vm.Value)) {
		for c := p.comp; c != nil; c = c.enclosing {
			mark(vm.ObjectVal(c.function))
		}
	})
	defer vmr.SetCompilerRoots(nil)

	p.advance()
	p.skipNewlines()
	p.moduleDocstring()
	for !p.check(TokenEOF) {
		p.declaration()
		p.skipNewlines()
	}
	code := p.endCompiler()
	if p.hadError {
		vmr.RuntimeError(vmr.Exceptions.SyntaxError, "%s (%s, line %d)",
			p.errorMsg, filename, p.errorLine)
		return nil
	}
	return code
}

func newCompiler(p *parser, enclosing *compiler, kind funcType, name string) *compiler {
	c := &compiler{
		enclosing: enclosing,
		function:  p.vmr.NewCodeObject(p.vmr.CopyString(name), p.vmr.CopyString(p.filename)),
		kind:      kind,
	}
	if kind == typeModule {
		c.function.Name = nil
	}
	return c
}

// ---------------------------------------------------------------------------
// Parser plumbing
// ---------------------------------------------------------------------------

func (p *parser) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.Next()
		if p.current.Type != TokenError {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *parser) check(t TokenType) bool { return p.current.Type == t }

func (p *parser) match(t TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *parser) consume(t TokenType, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *parser) skipNewlines() {
	for p.check(TokenNewline) {
		p.advance()
	}
}

func (p *parser) errorAtCurrent(message string) { p.errorAt(p.current, message) }

func (p *parser) error(message string) { p.errorAt(p.previous, message) }

func (p *parser) errorAt(tok Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true
	p.errorMsg = message
	p.errorLine = tok.Line
	if tok.Type == TokenEOF {
		p.errorMsg = message + " at end of input"
	}
}

// synchronize skips to a statement boundary after a parse error.
func (p *parser) synchronize() {
	p.panicMode = false
	for !p.check(TokenEOF) {
		if p.previous.Type == TokenNewline {
			return
		}
		switch p.current.Type {
		case TokenClass, TokenDef, TokenFor, TokenIf, TokenWhile, TokenReturn, TokenTry:
			return
		}
		p.advance()
	}
}

// ---------------------------------------------------------------------------
// Emit helpers
// ---------------------------------------------------------------------------

func (p *parser) emitByte(b byte) { p.comp.function.Write(b, p.previous.Line) }

func (p *parser) emitOp(op vm.Opcode) { p.emitByte(byte(op)) }

func (p *parser) emitShortOperand(v int) {
	p.emitByte(byte(v >> 8))
	p.emitByte(byte(v))
}

// longForms maps byte-operand opcodes to their wide variants.
var longForms = map[vm.Opcode]vm.Opcode{
	vm.OpConstant:      vm.OpConstantLong,
	vm.OpDefineGlobal:  vm.OpDefineGlobalLong,
	vm.OpGetGlobal:     vm.OpGetGlobalLong,
	vm.OpSetGlobal:     vm.OpSetGlobalLong,
	vm.OpDelGlobal:     vm.OpDelGlobalLong,
	vm.OpGetLocal:      vm.OpGetLocalLong,
	vm.OpSetLocal:      vm.OpSetLocalLong,
	vm.OpGetUpvalue:    vm.OpGetUpvalueLong,
	vm.OpSetUpvalue:    vm.OpSetUpvalueLong,
	vm.OpGetProperty:   vm.OpGetPropertyLong,
	vm.OpSetProperty:   vm.OpSetPropertyLong,
	vm.OpDelProperty:   vm.OpDelPropertyLong,
	vm.OpClosure:       vm.OpClosureLong,
	vm.OpClass:         vm.OpClassLong,
	vm.OpMethod:        vm.OpMethodLong,
	vm.OpClassProperty: vm.OpClassPropertyLong,
	vm.OpImport:        vm.OpImportLong,
	vm.OpImportFrom:    vm.OpImportFromLong,
}

// emitWithOperand writes op with a byte operand, switching to the long form
// when the operand does not fit.
func (p *parser) emitWithOperand(op vm.Opcode, operand int) {
	if operand > 0xff {
		long, ok := longForms[op]
		if !ok || operand > 0xffff {
			p.error("too many names in one chunk")
			return
		}
		p.emitOp(long)
		p.emitShortOperand(operand)
		return
	}
	p.emitOp(op)
	p.emitByte(byte(operand))
}

func (p *parser) emitShortOp(op vm.Opcode, operand int) {
	if operand > 0xffff {
		p.error("operand does not fit in two bytes")
		return
	}
	p.emitOp(op)
	p.emitShortOperand(operand)
}

// emitJump writes a forward jump with a placeholder offset, returning the
// patch location.
func (p *parser) emitJump(op vm.Opcode) int {
	p.emitOp(op)
	p.emitByte(0xff)
	p.emitByte(0xff)
	return len(p.comp.function.Code) - 2
}

func (p *parser) patchJump(at int) {
	jump := len(p.comp.function.Code) - at - 2
	if jump > 0xffff {
		p.error("jump distance too large")
		return
	}
	p.comp.function.Code[at] = byte(jump >> 8)
	p.comp.function.Code[at+1] = byte(jump)
}

// emitLoop writes a backward jump to start.
func (p *parser) emitLoop(start int) {
	p.emitOp(vm.OpLoop)
	offset := len(p.comp.function.Code) - start + 2
	if offset > 0xffff {
		p.error("loop body too large")
		return
	}
	p.emitShortOperand(offset)
}

func (p *parser) makeConstant(v vm.Value) int {
	return p.comp.function.AddConstant(v)
}

func (p *parser) emitConstant(v vm.Value) {
	p.emitWithOperand(vm.OpConstant, p.makeConstant(v))
}

func (p *parser) identifierConstant(name string) int {
	return p.makeConstant(vm.ObjectVal(p.vmr.CopyString(name)))
}

func (p *parser) emitReturnNone() {
	p.emitOp(vm.OpNone)
	p.emitOp(vm.OpReturn)
}

func (p *parser) endCompiler() *vm.CodeObject {
	p.emitReturnNone()
	fn := p.comp.function
	p.comp = p.comp.enclosing
	return fn
}

// ---------------------------------------------------------------------------
// Scopes and variables
// ---------------------------------------------------------------------------

func (p *parser) beginScope() { p.comp.scopeDepth++ }

func (p *parser) endScope() {
	c := p.comp
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		if c.locals[len(c.locals)-1].isCaptured {
			p.emitOp(vm.OpCloseUpvalue)
		} else {
			p.emitOp(vm.OpPop)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

// addLocal declares a new local for the value currently on top of the
// stack. Records metadata for tracebacks.
func (p *parser) addLocal(name string) int {
	c := p.comp
	c.locals = append(c.locals, local{name: name, depth: c.scopeDepth})
	slot := len(c.locals) - 1
	c.function.LocalNames = append(c.function.LocalNames, vm.LocalEntry{
		Slot:  slot,
		Birth: len(c.function.Code),
		Death: 1 << 30,
		Name:  p.vmr.CopyString(name),
	})
	return slot
}

func (c *compiler) resolveLocal(name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			return i
		}
	}
	return -1
}

func (c *compiler) addUpvalue(index uint16, isLocal bool) int {
	for i, u := range c.function.Upvalues {
		if u.Index == index && u.IsLocal == isLocal {
			return i
		}
	}
	c.function.Upvalues = append(c.function.Upvalues, vm.UpvalueDescriptor{
		IsLocal: isLocal,
		Index:   index,
	})
	return len(c.function.Upvalues) - 1
}

func (c *compiler) resolveUpvalue(name string) int {
	if c.enclosing == nil {
		return -1
	}
	if l := c.enclosing.resolveLocal(name); l != -1 {
		c.enclosing.locals[l].isCaptured = true
		return c.addUpvalue(uint16(l), true)
	}
	if u := c.enclosing.resolveUpvalue(name); u != -1 {
		return c.addUpvalue(uint16(u), false)
	}
	return -1
}

// namedVariable compiles a read, write, or augmented write of name.
func (p *parser) namedVariable(name string, canAssign bool) {
	var getOp, setOp vm.Opcode
	operand := p.comp.resolveLocal(name)
	if operand != -1 {
		getOp, setOp = vm.OpGetLocal, vm.OpSetLocal
	} else if up := p.comp.resolveUpvalue(name); up != -1 {
		operand = up
		getOp, setOp = vm.OpGetUpvalue, vm.OpSetUpvalue
	} else {
		operand = p.identifierConstant(name)
		getOp, setOp = vm.OpGetGlobal, vm.OpSetGlobal
	}

	if canAssign && p.match(TokenEqual) {
		p.expression()
		p.storeNamed(name, getOp, setOp, operand)
		p.emitOp(vm.OpNone) // assignments are statements; the POP needs a value
		return
	}
	if canAssign && p.matchAugmented() {
		binOp := p.augmentedOp(p.previous.Type)
		p.emitWithOperand(getOp, operand)
		p.expression()
		p.emitOp(binOp)
		p.storeAugmented(getOp, setOp, operand)
		p.emitOp(vm.OpNone)
		return
	}
	p.emitWithOperand(getOp, operand)
}

// storeNamed writes the value on top of the stack into a name, declaring a
// new variable where assignment introduces one.
func (p *parser) storeNamed(name string, getOp, setOp vm.Opcode, operand int) {
	if getOp == vm.OpGetGlobal {
		if p.comp.kind == typeModule {
			p.emitWithOperand(vm.OpDefineGlobal, operand)
			return
		}
		// First assignment inside a function declares a local; the value on
		// the stack becomes its slot.
		p.addLocal(name)
		return
	}
	p.emitWithOperand(setOp, operand)
	p.emitOp(vm.OpPop)
}

func (p *parser) storeAugmented(getOp, setOp vm.Opcode, operand int) {
	if getOp == vm.OpGetGlobal {
		if p.comp.kind == typeModule {
			p.emitWithOperand(vm.OpDefineGlobal, operand)
			return
		}
		p.emitWithOperand(vm.OpSetGlobal, operand)
		p.emitOp(vm.OpPop)
		return
	}
	p.emitWithOperand(setOp, operand)
	p.emitOp(vm.OpPop)
}

func (p *parser) matchAugmented() bool {
	switch p.current.Type {
	case TokenPlusEqual, TokenMinusEqual, TokenStarEqual, TokenSlashEqual, TokenPercentEqual:
		p.advance()
		return true
	}
	return false
}

func (p *parser) augmentedOp(t TokenType) vm.Opcode {
	switch t {
	case TokenPlusEqual:
		return vm.OpAdd
	case TokenMinusEqual:
		return vm.OpSubtract
	case TokenStarEqual:
		return vm.OpMultiply
	case TokenSlashEqual:
		return vm.OpDivide
	case TokenPercentEqual:
		return vm.OpModulo
	}
	return vm.OpAdd
}

// ---------------------------------------------------------------------------
// Declarations and statements
// ---------------------------------------------------------------------------

func (p *parser) declaration() {
	switch {
	case p.match(TokenDef):
		p.defStatement()
	case p.match(TokenClass):
		p.classStatement()
	case p.match(TokenLet):
		p.letStatement()
	default:
		p.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
}

func (p *parser) statement() {
	switch {
	case p.match(TokenIf):
		p.ifStatement()
	case p.match(TokenWhile):
		p.whileStatement()
	case p.match(TokenFor):
		p.forStatement()
	case p.match(TokenReturn):
		p.returnStatement()
	case p.match(TokenTry):
		p.tryStatement()
	case p.match(TokenRaise):
		p.raiseStatement()
	case p.match(TokenWith):
		p.withStatement()
	case p.match(TokenImport):
		p.importStatement()
	case p.match(TokenFrom):
		p.fromImportStatement()
	case p.match(TokenBreak):
		p.breakStatement()
	case p.match(TokenContinue):
		p.continueStatement()
	case p.match(TokenAssert):
		p.assertStatement()
	case p.match(TokenDel):
		p.delStatement()
	case p.match(TokenPass):
		p.endOfStatement()
	case p.match(TokenNewline):
		// Empty statement.
	default:
		p.expressionStatement()
	}
}

func (p *parser) endOfStatement() {
	if p.check(TokenEOF) || p.check(TokenDedent) {
		return
	}
	if p.match(TokenSemicolon) {
		if p.check(TokenNewline) {
			p.advance()
		}
		return
	}
	p.consume(TokenNewline, "expected end of statement")
}

// block compiles an indented suite (or a single inline statement after the
// colon).
func (p *parser) block() {
	p.consume(TokenColon, "expected ':'")
	if p.match(TokenNewline) {
		p.skipNewlines()
		p.consume(TokenIndent, "expected an indented block")
		p.skipNewlines()
		for !p.check(TokenDedent) && !p.check(TokenEOF) {
			p.declaration()
			p.skipNewlines()
		}
		p.consume(TokenDedent, "expected dedent")
		return
	}
	// Inline suite: statements separated by semicolons on the same line.
	p.statement()
	for p.match(TokenSemicolon) {
		if p.check(TokenNewline) || p.check(TokenEOF) {
			break
		}
		p.statement()
	}
	if p.check(TokenNewline) {
		p.advance()
	}
}

func (p *parser) expressionStatement() {
	p.expression()
	p.emitOp(vm.OpPop)
	p.endOfStatement()
}

// Assignments have no statement form of their own: the expression parser
// handles them via canAssign and emits their stores.

func (p *parser) letStatement() {
	for {
		p.consume(TokenIdentifier, "expected variable name")
		name := p.previous.Lexeme
		if p.match(TokenEqual) {
			p.expression()
		} else {
			p.emitOp(vm.OpNone)
		}
		if p.comp.kind == typeModule {
			p.emitWithOperand(vm.OpDefineGlobal, p.identifierConstant(name))
		} else {
			p.addLocal(name)
		}
		if !p.match(TokenComma) {
			break
		}
	}
	p.endOfStatement()
}

func (p *parser) ifStatement() {
	p.expression()
	thenJump := p.emitJump(vm.OpJumpIfFalse)
	p.emitOp(vm.OpPop)
	p.beginScope()
	p.block()
	p.endScope()
	elseJump := p.emitJump(vm.OpJump)
	p.patchJump(thenJump)
	p.emitOp(vm.OpPop)
	p.skipNewlines()
	if p.match(TokenElif) {
		p.ifStatement()
	} else if p.match(TokenElse) {
		p.beginScope()
		p.block()
		p.endScope()
	}
	p.patchJump(elseJump)
}

func (p *parser) whileStatement() {
	loopStart := len(p.comp.function.Code)
	p.comp.loops = append(p.comp.loops, loopContext{
		start:       loopStart,
		scopeDepth:  p.comp.scopeDepth,
		regionDepth: len(p.comp.regions),
	})
	p.expression()
	exitJump := p.emitJump(vm.OpJumpIfFalse)
	p.emitOp(vm.OpPop)
	p.beginScope()
	p.block()
	p.endScope()
	p.emitLoop(loopStart)
	p.patchJump(exitJump)
	p.emitOp(vm.OpPop)
	p.finishLoop()
}

func (p *parser) forStatement() {
	p.beginScope()

	// Loop variables share one slot across all iterations, so closures made
	// in the body observe the final value after the loop closes the scope.
	var names []string
	p.consume(TokenIdentifier, "expected loop variable name")
	names = append(names, p.previous.Lexeme)
	for p.match(TokenComma) {
		p.consume(TokenIdentifier, "expected loop variable name")
		names = append(names, p.previous.Lexeme)
	}
	p.consume(TokenIn, "expected 'in'")

	atModule := p.comp.kind == typeModule
	var slots []int
	if !atModule {
		for _, name := range names {
			p.emitOp(vm.OpNone)
			slots = append(slots, p.addLocal(name))
		}
	}

	p.expression()
	p.emitOp(vm.OpGetIter)
	iterSlot := p.addLocal("@iter")

	loopStart := len(p.comp.function.Code)
	p.comp.loops = append(p.comp.loops, loopContext{
		start:       loopStart,
		scopeDepth:  p.comp.scopeDepth,
		regionDepth: len(p.comp.regions),
	})

	p.emitWithOperand(vm.OpGetLocal, iterSlot)
	exitJump := p.emitJump(vm.OpForIter)
	// Next value is on the stack above the iterator copy.
	if len(names) > 1 {
		p.emitWithOperand(vm.OpUnpack, len(names))
		for i := len(names) - 1; i >= 0; i-- {
			p.storeForTarget(names[i], slots, i, atModule)
		}
	} else {
		p.storeForTarget(names[0], slots, 0, atModule)
	}
	p.emitOp(vm.OpPop) // the iterator copy

	p.beginScope()
	p.block()
	p.endScope()
	p.emitLoop(loopStart)
	p.patchJump(exitJump)
	p.finishLoop()
	p.endScope()
}

func (p *parser) storeForTarget(name string, slots []int, i int, atModule bool) {
	if atModule {
		p.emitWithOperand(vm.OpDefineGlobal, p.identifierConstant(name))
		return
	}
	p.emitWithOperand(vm.OpSetLocal, slots[i])
	p.emitOp(vm.OpPop)
}

// finishLoop patches pending break jumps.
func (p *parser) finishLoop() {
	loop := p.comp.loops[len(p.comp.loops)-1]
	p.comp.loops = p.comp.loops[:len(p.comp.loops)-1]
	for _, at := range loop.breakJumps {
		p.patchJump(at)
	}
}

func (p *parser) breakStatement() {
	if len(p.comp.loops) == 0 {
		p.error("'break' outside loop")
		return
	}
	loop := &p.comp.loops[len(p.comp.loops)-1]
	p.unwindForJump(loop.scopeDepth, loop.regionDepth)
	loop.breakJumps = append(loop.breakJumps, p.emitJump(vm.OpJump))
	p.endOfStatement()
}

func (p *parser) continueStatement() {
	if len(p.comp.loops) == 0 {
		p.error("'continue' outside loop")
		return
	}
	loop := p.comp.loops[len(p.comp.loops)-1]
	p.unwindForJump(loop.scopeDepth, loop.regionDepth)
	p.emitLoop(loop.start)
	p.endOfStatement()
}

// unwindForJump emits the cleanup needed to jump out of nested blocks:
// close protected regions entered since the loop, then pop block locals.
func (p *parser) unwindForJump(targetDepth, targetRegions int) {
	for i := len(p.comp.regions) - 1; i >= targetRegions; i-- {
		p.emitOp(p.comp.regions[i].exitOp)
	}
	for i := len(p.comp.locals) - 1; i >= 0; i-- {
		if p.comp.locals[i].depth <= targetDepth {
			break
		}
		if p.comp.locals[i].isCaptured {
			p.emitOp(vm.OpCloseUpvalue)
		} else {
			p.emitOp(vm.OpPop)
		}
	}
}

func (p *parser) returnStatement() {
	if p.comp.kind == typeModule {
		p.error("'return' outside function")
		return
	}
	if p.check(TokenNewline) || p.check(TokenEOF) || p.check(TokenDedent) {
		p.emitOp(vm.OpNone)
	} else {
		p.expression()
	}
	p.emitOp(vm.OpReturn)
	p.endOfStatement()
}

func (p *parser) raiseStatement() {
	p.expression()
	p.emitOp(vm.OpRaise)
	p.endOfStatement()
}

func (p *parser) assertStatement() {
	p.expression()
	okJump := p.emitJump(vm.OpJumpIfTrue)
	p.emitOp(vm.OpPop)
	p.emitWithOperand(vm.OpGetGlobal, p.identifierConstant("AssertionError"))
	argc := 0
	if p.match(TokenComma) {
		p.expression()
		argc = 1
	}
	p.emitWithOperand(vm.OpCall, argc)
	p.emitOp(vm.OpRaise)
	p.patchJump(okJump)
	p.emitOp(vm.OpPop)
	p.endOfStatement()
}

func (p *parser) delStatement() {
	for {
		p.delTarget()
		if !p.match(TokenComma) {
			break
		}
	}
	p.endOfStatement()
}

func (p *parser) delTarget() {
	p.consume(TokenIdentifier, "expected a deletable target")
	name := p.previous.Lexeme
	// Attribute and subscript deletes re-parse as postfix chains.
	if p.check(TokenDot) || p.check(TokenLeftBracket) {
		p.namedVariableLoadOnly(name)
		for {
			if p.match(TokenDot) {
				p.consume(TokenIdentifier, "expected attribute name")
				attr := p.previous.Lexeme
				if p.check(TokenDot) || p.check(TokenLeftBracket) {
					p.emitWithOperand(vm.OpGetProperty, p.identifierConstant(attr))
					continue
				}
				p.emitWithOperand(vm.OpDelProperty, p.identifierConstant(attr))
				return
			}
			if p.match(TokenLeftBracket) {
				p.expression()
				p.consume(TokenRightBracket, "expected ']'")
				if p.check(TokenDot) || p.check(TokenLeftBracket) {
					p.emitOp(vm.OpSubscrGet)
					continue
				}
				p.emitOp(vm.OpSubscrDel)
				return
			}
			return
		}
	}
	if slot := p.comp.resolveLocal(name); slot != -1 {
		p.error("cannot delete local variables")
		return
	}
	p.emitWithOperand(vm.OpDelGlobal, p.identifierConstant(name))
}

func (p *parser) namedVariableLoadOnly(name string) {
	if slot := p.comp.resolveLocal(name); slot != -1 {
		p.emitWithOperand(vm.OpGetLocal, slot)
		return
	}
	if up := p.comp.resolveUpvalue(name); up != -1 {
		p.emitWithOperand(vm.OpGetUpvalue, up)
		return
	}
	p.emitWithOperand(vm.OpGetGlobal, p.identifierConstant(name))
}

func (p *parser) importStatement() {
	for {
		name := p.dottedName()
		bind := name
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			bind = name[idx+1:]
		}
		if p.match(TokenAs) {
			p.consume(TokenIdentifier, "expected name after 'as'")
			bind = p.previous.Lexeme
		}
		p.emitWithOperand(vm.OpImport, p.identifierConstant(name))
		p.defineNamed(bind)
		if !p.match(TokenComma) {
			break
		}
	}
	p.endOfStatement()
}

func (p *parser) fromImportStatement() {
	module := p.dottedName()
	p.consume(TokenImport, "expected 'import'")
	p.emitWithOperand(vm.OpImport, p.identifierConstant(module))

	if p.comp.kind != typeModule {
		// Inside a function the module value becomes a hidden local, so the
		// imported names can stack above it as locals of their own.
		moduleSlot := p.addLocal("@import")
		for {
			p.consume(TokenIdentifier, "expected name to import")
			name := p.previous.Lexeme
			bind := name
			if p.match(TokenAs) {
				p.consume(TokenIdentifier, "expected name after 'as'")
				bind = p.previous.Lexeme
			}
			p.emitWithOperand(vm.OpGetLocal, moduleSlot)
			p.emitWithOperand(vm.OpImportFrom, p.identifierConstant(name))
			p.addLocal(bind)
			if !p.match(TokenComma) {
				break
			}
		}
		p.endOfStatement()
		return
	}

	for {
		p.consume(TokenIdentifier, "expected name to import")
		name := p.previous.Lexeme
		bind := name
		if p.match(TokenAs) {
			p.consume(TokenIdentifier, "expected name after 'as'")
			bind = p.previous.Lexeme
		}
		p.emitWithOperand(vm.OpDup, 0)
		p.emitWithOperand(vm.OpImportFrom, p.identifierConstant(name))
		p.emitWithOperand(vm.OpDefineGlobal, p.identifierConstant(bind))
		if !p.match(TokenComma) {
			break
		}
	}
	p.emitOp(vm.OpPop)
	p.endOfStatement()
}

func (p *parser) dottedName() string {
	p.consume(TokenIdentifier, "expected module name")
	name := p.previous.Lexeme
	for p.match(TokenDot) {
		p.consume(TokenIdentifier, "expected name after '.'")
		name += "." + p.previous.Lexeme
	}
	return name
}

// defineNamed binds the value on top of the stack to a fresh name.
func (p *parser) defineNamed(name string) {
	if p.comp.kind == typeModule {
		p.emitWithOperand(vm.OpDefineGlobal, p.identifierConstant(name))
		return
	}
	p.addLocal(name)
}

func (p *parser) tryStatement() {
	tryJump := p.emitJump(vm.OpPushTry)
	p.comp.regions = append(p.comp.regions, region{exitOp: vm.OpPopTry})
	p.beginScope()
	p.block()
	p.endScope()
	p.comp.regions = p.comp.regions[:len(p.comp.regions)-1]
	p.emitOp(vm.OpPopTry)
	successJump := p.emitJump(vm.OpJump)

	// Handler entry: the exception value is on the stack.
	p.patchJump(tryJump)
	p.skipNewlines()

	var endJumps []int
	sawCatchAll := false
	for p.match(TokenExcept) {
		var nextClause = -1
		if !p.check(TokenColon) {
			// except SomeType [as name]:
			p.emitWithOperand(vm.OpDup, 0)
			p.emitWithOperand(vm.OpGetGlobal, p.identifierConstant("isinstance"))
			p.emitWithOperand(vm.OpSwap, 1)
			p.orExpression(false)
			p.emitWithOperand(vm.OpCall, 2)
			nextClause = p.emitJump(vm.OpJumpIfFalse)
			p.emitOp(vm.OpPop) // the test result
		} else {
			sawCatchAll = true
		}
		p.beginScope()
		if p.match(TokenAs) {
			p.consume(TokenIdentifier, "expected name after 'as'")
			p.addLocal(p.previous.Lexeme)
			p.block()
		} else {
			p.emitOp(vm.OpPop) // discard the exception
			p.block()
		}
		p.endScope()
		endJumps = append(endJumps, p.emitJump(vm.OpJump))
		if nextClause != -1 {
			p.patchJump(nextClause)
			p.emitOp(vm.OpPop) // the failed test result
		}
		p.skipNewlines()
	}

	if p.match(TokenFinally) {
		// The unmatched-exception path arrives here with the exception on
		// the stack as its own marker; the other paths join with None.
		toFinally := p.emitJump(vm.OpJump)
		p.patchJump(successJump)
		for _, at := range endJumps {
			p.patchJump(at)
		}
		p.emitOp(vm.OpNone)
		p.patchJump(toFinally)
		p.beginScope()
		p.block()
		p.endScope()
		reRaise := p.emitJump(vm.OpJumpIfTrue)
		p.emitOp(vm.OpPop)
		doneJump := p.emitJump(vm.OpJump)
		p.patchJump(reRaise)
		p.emitOp(vm.OpRaise)
		p.patchJump(doneJump)
		return
	}

	// No finally: an unmatched exception re-raises to the next handler out.
	if !sawCatchAll {
		p.emitOp(vm.OpRaise)
	} else {
		p.emitOp(vm.OpPop)
	}
	p.patchJump(successJump)
	if p.match(TokenElse) {
		p.beginScope()
		p.block()
		p.endScope()
	}
	for _, at := range endJumps {
		p.patchJump(at)
	}
}

func (p *parser) withStatement() {
	p.beginScope()
	p.expression()
	p.addLocal("@with")
	withJump := p.emitJump(vm.OpPushWith)
	p.comp.regions = append(p.comp.regions, region{exitOp: vm.OpExitWith})
	if p.match(TokenAs) {
		p.consume(TokenIdentifier, "expected name after 'as'")
		p.addLocal(p.previous.Lexeme)
	} else {
		p.emitOp(vm.OpPop)
	}
	p.block()
	p.comp.regions = p.comp.regions[:len(p.comp.regions)-1]
	p.emitOp(vm.OpExitWith)
	p.endScope()
	p.patchJump(withJump)
}

// ---------------------------------------------------------------------------
// Functions and classes
// ---------------------------------------------------------------------------

func (p *parser) defStatement() {
	p.consume(TokenIdentifier, "expected function name")
	name := p.previous.Lexeme
	p.functionBody(name, typeFunction)
	p.defineNamed(name)
	p.skipNewlines()
}

// functionBody compiles a def or lambda into a code object and emits the
// closure construction (defaults first, then OP_CLOSURE).
func (p *parser) functionBody(name string, kind funcType) {
	enclosing := p.comp
	p.comp = newCompiler(p, enclosing, kind, name)
	p.beginScope()

	fn := p.comp.function
	defaultCount := 0

	parseParams := func(terminator TokenType) {
		if p.check(terminator) {
			return
		}
		sawCollector := false
		addParam := func(name string) {
			p.comp.locals = append(p.comp.locals, local{name: name, depth: p.comp.scopeDepth})
		}
		for {
			if p.match(TokenStar) {
				p.consume(TokenIdentifier, "expected parameter name after '*'")
				if sawCollector {
					p.error("*args must come before **kwargs")
				}
				fn.CollectsArgs = true
				sawCollector = true
				addParam(p.previous.Lexeme)
			} else if p.match(TokenDoubleStar) {
				p.consume(TokenIdentifier, "expected parameter name after '**'")
				fn.CollectsKwargs = true
				sawCollector = true
				addParam(p.previous.Lexeme)
			} else {
				p.consume(TokenIdentifier, "expected parameter name")
				if sawCollector {
					p.error("named parameters must come before collectors")
				}
				paramName := p.previous.Lexeme
				nameValue := vm.ObjectVal(p.vmr.CopyString(paramName))
				if p.match(TokenEqual) {
					// Default expressions evaluate in the enclosing scope at
					// definition time.
					saved := p.comp
					p.comp = enclosing
					p.expression()
					p.comp = saved
					fn.KeywordArgs++
					fn.KeywordArgNames = append(fn.KeywordArgNames, nameValue)
					defaultCount++
				} else {
					if defaultCount > 0 {
						p.error("non-default parameter follows default parameter")
					}
					fn.RequiredArgs++
					fn.RequiredArgNames = append(fn.RequiredArgNames, nameValue)
				}
				addParam(paramName)
			}
			if !p.match(TokenComma) {
				break
			}
		}
	}

	if kind == typeLambda {
		if !p.check(TokenColon) {
			parseParams(TokenColon)
		}
		p.consume(TokenColon, "expected ':' after lambda parameters")
		p.expression()
		p.emitOp(vm.OpReturn)
	} else {
		p.consume(TokenLeftParen, "expected '(' after function name")
		parseParams(TokenRightParen)
		p.consume(TokenRightParen, "expected ')' after parameters")
		if p.match(TokenArrow) {
			// Return annotation: parsed and discarded.
			p.typeAnnotation()
		}
		p.functionSuite()
	}

	compiled := p.endCompiler()
	p.emitWithOperand(vm.OpClosure, p.makeConstant(vm.ObjectVal(compiled)))
}

// functionSuite compiles a def body, peeling off a leading docstring.
func (p *parser) functionSuite() {
	p.consume(TokenColon, "expected ':' before function body")
	if p.match(TokenNewline) {
		p.skipNewlines()
		p.consume(TokenIndent, "expected an indented block")
		p.skipNewlines()
		if p.check(TokenString) {
			p.advance()
			p.comp.function.Docstring = vm.ObjectVal(p.vmr.CopyString(p.stringValue(p.previous.Lexeme)))
			p.skipNewlines()
		}
		for !p.check(TokenDedent) && !p.check(TokenEOF) {
			p.declaration()
			p.skipNewlines()
		}
		p.consume(TokenDedent, "expected dedent after function body")
		return
	}
	p.statement()
}

// typeAnnotation consumes a type expression without emitting code for it.
func (p *parser) typeAnnotation() {
	p.consume(TokenIdentifier, "expected type annotation")
	for p.match(TokenDot) {
		p.consume(TokenIdentifier, "expected name after '.'")
	}
	if p.match(TokenLeftBracket) {
		depth := 1
		for depth > 0 && !p.check(TokenEOF) {
			if p.match(TokenLeftBracket) {
				depth++
			} else if p.match(TokenRightBracket) {
				depth--
			} else {
				p.advance()
			}
		}
	}
}

func (p *parser) classStatement() {
	p.consume(TokenIdentifier, "expected class name")
	name := p.previous.Lexeme
	nameConstant := p.identifierConstant(name)

	if p.match(TokenLeftParen) {
		if p.check(TokenRightParen) {
			p.emitOp(vm.OpNone)
		} else {
			p.expression()
		}
		p.consume(TokenRightParen, "expected ')' after base class")
	} else {
		p.emitOp(vm.OpNone)
	}
	p.emitWithOperand(vm.OpClass, nameConstant)

	p.consume(TokenColon, "expected ':' after class header")
	if !p.match(TokenNewline) {
		// Inline class body: `class A: pass` and simple attributes.
		for {
			switch {
			case p.match(TokenPass):
			case p.match(TokenIdentifier):
				attrName := p.previous.Lexeme
				p.consume(TokenEqual, "expected '=' in class attribute")
				p.expression()
				p.emitWithOperand(vm.OpMethod, p.identifierConstant(attrName))
			default:
				p.errorAtCurrent("unexpected statement in class body")
				p.advance()
			}
			if !p.match(TokenSemicolon) {
				break
			}
		}
		if p.check(TokenNewline) {
			p.advance()
		}
		p.emitOp(vm.OpFinalize)
		p.defineNamed(name)
		return
	}
	p.skipNewlines()
	p.consume(TokenIndent, "expected an indented class body")
	p.skipNewlines()

	if p.check(TokenString) {
		p.advance()
		p.emitConstant(vm.ObjectVal(p.vmr.CopyString(p.stringValue(p.previous.Lexeme))))
		p.emitOp(vm.OpDocstring)
		p.skipNewlines()
	}

	for !p.check(TokenDedent) && !p.check(TokenEOF) {
		switch {
		case p.match(TokenAt):
			// Only the property decorator is supported in class bodies.
			p.consume(TokenIdentifier, "expected decorator name")
			if p.previous.Lexeme != "property" {
				p.error("unsupported decorator in class body")
			}
			p.consume(TokenNewline, "expected newline after decorator")
			p.skipNewlines()
			p.consume(TokenDef, "expected method after decorator")
			p.consume(TokenIdentifier, "expected method name")
			propName := p.previous.Lexeme
			p.functionBody(propName, typeMethod)
			p.emitWithOperand(vm.OpClassProperty, p.identifierConstant(propName))
		case p.match(TokenDef):
			p.consume(TokenIdentifier, "expected method name")
			methodName := p.previous.Lexeme
			p.functionBody(methodName, typeMethod)
			p.emitWithOperand(vm.OpMethod, p.identifierConstant(methodName))
		case p.match(TokenPass):
			p.endOfStatement()
		case p.match(TokenIdentifier):
			attrName := p.previous.Lexeme
			p.consume(TokenEqual, "expected '=' in class attribute")
			p.expression()
			p.emitWithOperand(vm.OpMethod, p.identifierConstant(attrName))
			p.endOfStatement()
		default:
			p.errorAtCurrent("unexpected statement in class body")
			p.advance()
		}
		p.skipNewlines()
	}
	p.consume(TokenDedent, "expected dedent after class body")

	p.emitOp(vm.OpFinalize)
	p.defineNamed(name)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (p *parser) expression() {
	p.assignmentExpression()
}

// assignmentExpression parses ternaries and the yield form; assignment
// itself is folded into the primary/postfix handlers via canAssign.
func (p *parser) assignmentExpression() {
	if p.match(TokenYield) {
		p.comp.function.IsGenerator = true
		if p.check(TokenNewline) || p.check(TokenEOF) || p.check(TokenDedent) ||
			p.check(TokenRightParen) {
			p.emitOp(vm.OpNone)
		} else {
			p.ternary(true)
		}
		p.emitOp(vm.OpYield)
		return
	}
	p.ternary(true)
}

// ternary compiles `a if cond else b`. The true-value is evaluated eagerly
// (a single-pass concession); the condition then selects between it and the
// alternative.
func (p *parser) ternary(canAssign bool) {
	p.orExpression(canAssign)
	if p.match(TokenIf) {
		p.orExpression(false)
		useValue := p.emitJump(vm.OpJumpIfTrue)
		p.emitOp(vm.OpPop) // the condition
		p.emitOp(vm.OpPop) // the eagerly-computed true value
		p.consume(TokenElse, "expected 'else' in conditional expression")
		p.ternary(false)
		done := p.emitJump(vm.OpJump)
		p.patchJump(useValue)
		p.emitOp(vm.OpPop) // the condition; the true value remains
		p.patchJump(done)
	}
}

func (p *parser) orExpression(canAssign bool) {
	p.andExpression(canAssign)
	for p.match(TokenOr) {
		endJump := p.emitJump(vm.OpJumpIfTrue)
		p.emitOp(vm.OpPop)
		p.andExpression(false)
		p.patchJump(endJump)
	}
}

func (p *parser) andExpression(canAssign bool) {
	p.notExpression(canAssign)
	for p.match(TokenAnd) {
		endJump := p.emitJump(vm.OpJumpIfFalse)
		p.emitOp(vm.OpPop)
		p.notExpression(false)
		p.patchJump(endJump)
	}
}

func (p *parser) notExpression(canAssign bool) {
	if p.match(TokenNot) {
		p.notExpression(false)
		p.emitOp(vm.OpNot)
		return
	}
	p.comparison(canAssign)
}

func (p *parser) comparison(canAssign bool) {
	p.bitOr(canAssign)
	for {
		switch {
		case p.match(TokenEqualEqual):
			p.bitOr(false)
			p.emitOp(vm.OpEqual)
		case p.match(TokenBangEqual):
			p.bitOr(false)
			p.emitOp(vm.OpEqual)
			p.emitOp(vm.OpNot)
		case p.match(TokenLess):
			p.bitOr(false)
			p.emitOp(vm.OpLess)
		case p.match(TokenLessEqual):
			p.bitOr(false)
			p.emitOp(vm.OpLessEqual)
		case p.match(TokenGreater):
			p.bitOr(false)
			p.emitOp(vm.OpGreater)
		case p.match(TokenGreaterEqual):
			p.bitOr(false)
			p.emitOp(vm.OpGreaterEqual)
		case p.match(TokenIn):
			p.bitOr(false)
			p.emitOp(vm.OpContains)
		case p.match(TokenIs):
			negate := p.match(TokenNot)
			p.bitOr(false)
			p.emitOp(vm.OpIs)
			if negate {
				p.emitOp(vm.OpNot)
			}
		case p.match(TokenNot):
			p.consume(TokenIn, "expected 'in' after 'not'")
			p.bitOr(false)
			p.emitOp(vm.OpContains)
			p.emitOp(vm.OpNot)
		default:
			return
		}
	}
}

func (p *parser) bitOr(canAssign bool) {
	p.bitXor(canAssign)
	for p.match(TokenPipe) {
		p.bitXor(false)
		p.emitOp(vm.OpBitOr)
	}
}

func (p *parser) bitXor(canAssign bool) {
	p.bitAnd(canAssign)
	for p.match(TokenCaret) {
		p.bitAnd(false)
		p.emitOp(vm.OpBitXor)
	}
}

func (p *parser) bitAnd(canAssign bool) {
	p.shift(canAssign)
	for p.match(TokenAmp) {
		p.shift(false)
		p.emitOp(vm.OpBitAnd)
	}
}

func (p *parser) shift(canAssign bool) {
	p.arith(canAssign)
	for {
		if p.match(TokenLeftShift) {
			p.arith(false)
			p.emitOp(vm.OpShiftLeft)
		} else if p.match(TokenRightShift) {
			p.arith(false)
			p.emitOp(vm.OpShiftRight)
		} else {
			return
		}
	}
}

func (p *parser) arith(canAssign bool) {
	p.term(canAssign)
	for {
		if p.match(TokenPlus) {
			p.term(false)
			p.emitOp(vm.OpAdd)
		} else if p.match(TokenMinus) {
			p.term(false)
			p.emitOp(vm.OpSubtract)
		} else {
			return
		}
	}
}

func (p *parser) term(canAssign bool) {
	p.factor(canAssign)
	for {
		switch {
		case p.match(TokenStar):
			p.factor(false)
			p.emitOp(vm.OpMultiply)
		case p.match(TokenSlash):
			p.factor(false)
			p.emitOp(vm.OpDivide)
		case p.match(TokenDoubleSlash):
			p.factor(false)
			p.emitOp(vm.OpFloorDivide)
		case p.match(TokenPercent):
			p.factor(false)
			p.emitOp(vm.OpModulo)
		default:
			return
		}
	}
}

func (p *parser) factor(canAssign bool) {
	switch {
	case p.match(TokenMinus):
		p.factor(false)
		p.emitOp(vm.OpNegate)
	case p.match(TokenPlus):
		p.factor(false)
	case p.match(TokenTilde):
		p.factor(false)
		p.emitOp(vm.OpBitNegate)
	default:
		p.power(canAssign)
	}
}

func (p *parser) power(canAssign bool) {
	p.postfix(canAssign)
	if p.match(TokenDoubleStar) {
		p.factor(false)
		p.emitOp(vm.OpPower)
	}
}

// postfix parses primary expressions followed by call, attribute, and
// subscript suffixes; trailing assignments route through the suffix kind.
func (p *parser) postfix(canAssign bool) {
	p.primary(canAssign)
	for {
		switch {
		case p.match(TokenLeftParen):
			p.callArguments()
		case p.match(TokenDot):
			p.consume(TokenIdentifier, "expected attribute name")
			name := p.previous.Lexeme
			constant := p.identifierConstant(name)
			if canAssign && p.match(TokenEqual) {
				p.expression()
				p.emitWithOperand(vm.OpSetProperty, constant)
				p.emitOp(vm.OpPop)
				p.emitOp(vm.OpNone) // statements pop a value
				return
			}
			if canAssign && p.matchAugmented() {
				binOp := p.augmentedOp(p.previous.Type)
				p.emitWithOperand(vm.OpDup, 0)
				p.emitWithOperand(vm.OpGetProperty, constant)
				p.expression()
				p.emitOp(binOp)
				p.emitWithOperand(vm.OpSetProperty, constant)
				p.emitOp(vm.OpPop)
				p.emitOp(vm.OpNone)
				return
			}
			p.emitWithOperand(vm.OpGetProperty, constant)
		case p.match(TokenLeftBracket):
			p.subscript(canAssign)
		default:
			return
		}
	}
}

// subscript parses `[...]` with optional slice syntax.
func (p *parser) subscript(canAssign bool) {
	parts := 0
	sawColon := false
	if p.check(TokenColon) {
		p.emitOp(vm.OpNone)
		parts = 1
	} else {
		p.expression()
		parts = 1
	}
	for p.match(TokenColon) {
		sawColon = true
		if p.check(TokenRightBracket) || p.check(TokenColon) {
			p.emitOp(vm.OpNone)
		} else {
			p.expression()
		}
		parts++
	}
	p.consume(TokenRightBracket, "expected ']'")
	if sawColon {
		if parts > 3 {
			p.error("too many slice parts")
			return
		}
		p.emitWithOperand(vm.OpBuildSlice, parts)
	}
	if canAssign && p.match(TokenEqual) {
		p.expression()
		p.emitOp(vm.OpSubscrSet)
		p.emitOp(vm.OpNone) // statements pop a value
		return
	}
	if canAssign && p.matchAugmented() {
		binOp := p.augmentedOp(p.previous.Type)
		// obj, key on stack: duplicate both for the read.
		p.emitWithOperand(vm.OpDup, 1)
		p.emitWithOperand(vm.OpDup, 1)
		p.emitOp(vm.OpSubscrGet)
		p.expression()
		p.emitOp(binOp)
		p.emitOp(vm.OpSubscrSet)
		p.emitOp(vm.OpNone)
		return
	}
	p.emitOp(vm.OpSubscrGet)
}

// callArguments parses a call's argument list and emits the call.
func (p *parser) callArguments() {
	argc := 0
	specialPairs := 0
	sawSpecial := false
	for !p.check(TokenRightParen) {
		switch {
		case p.match(TokenStar):
			p.emitConstant(vm.KwargsVal(vm.KwargsList))
			p.expression()
			specialPairs++
			sawSpecial = true
		case p.match(TokenDoubleStar):
			p.emitConstant(vm.KwargsVal(vm.KwargsDict))
			p.expression()
			specialPairs++
			sawSpecial = true
		case p.check(TokenIdentifier) && p.peekIsKeywordArg():
			p.advance()
			name := p.previous.Lexeme
			p.advance() // '='
			p.emitConstant(vm.ObjectVal(p.vmr.CopyString(name)))
			p.expression()
			specialPairs++
			sawSpecial = true
		default:
			if sawSpecial {
				p.emitConstant(vm.KwargsVal(vm.KwargsSingle))
				p.expression()
				specialPairs++
			} else {
				p.expression()
				argc++
			}
		}
		if !p.match(TokenComma) {
			break
		}
	}
	p.consume(TokenRightParen, "expected ')' after arguments")
	if specialPairs > 0 {
		p.emitShortOp(vm.OpKwargs, specialPairs)
		p.emitWithOperand(vm.OpCall, argc+specialPairs*2+1)
		return
	}
	p.emitWithOperand(vm.OpCall, argc)
}

// peekIsKeywordArg reports whether the current identifier begins a
// name=value keyword argument rather than an expression. One token of
// lookahead against a throwaway copy of the scanner.
func (p *parser) peekIsKeywordArg() bool {
	save := *p.scanner
	next := save.Next()
	return next.Type == TokenEqual
}

func (p *parser) primary(canAssign bool) {
	switch {
	case p.match(TokenNumber):
		p.numberLiteral()
	case p.match(TokenString):
		text := p.stringValue(p.previous.Lexeme)
		for p.check(TokenString) {
			// Adjacent string literals concatenate.
			p.advance()
			text += p.stringValue(p.previous.Lexeme)
		}
		p.emitConstant(vm.ObjectVal(p.vmr.CopyString(text)))
	case p.match(TokenNone):
		p.emitOp(vm.OpNone)
	case p.match(TokenTrue):
		p.emitOp(vm.OpTrue)
	case p.match(TokenFalse):
		p.emitOp(vm.OpFalse)
	case p.match(TokenIdentifier):
		p.namedVariable(p.previous.Lexeme, canAssign)
	case p.match(TokenLambda):
		p.functionBody("<lambda>", typeLambda)
	case p.match(TokenLeftParen):
		p.groupingOrTuple()
	case p.match(TokenLeftBracket):
		p.listDisplayOrComprehension()
	case p.match(TokenLeftBrace):
		p.dictDisplay()
	default:
		p.errorAtCurrent("expected an expression")
		p.advance()
	}
}

func (p *parser) numberLiteral() {
	text := p.previous.Lexeme
	if strings.ContainsAny(text, ".eE") && !strings.HasPrefix(text, "0x") && !strings.HasPrefix(text, "0X") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.error(fmt.Sprintf("invalid number literal '%s'", text))
			return
		}
		p.emitConstant(vm.FloatVal(f))
		return
	}
	i, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil {
			p.error(fmt.Sprintf("invalid number literal '%s'", text))
			return
		}
		p.emitConstant(vm.FloatVal(f))
		return
	}
	p.emitConstant(vm.IntVal(i))
}

// stringValue strips quotes and processes escapes.
func (p *parser) stringValue(lexeme string) string {
	quote := lexeme[0]
	body := lexeme[1 : len(lexeme)-1]
	if len(lexeme) >= 6 && lexeme[1] == quote && lexeme[2] == quote {
		body = lexeme[3 : len(lexeme)-3]
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		case '\'':
			b.WriteByte('\'')
		case '"':
			b.WriteByte('"')
		case '0':
			b.WriteByte(0)
		case 'x':
			if i+2 < len(body) {
				if v, err := strconv.ParseUint(body[i+1:i+3], 16, 8); err == nil {
					b.WriteByte(byte(v))
					i += 2
					continue
				}
			}
			b.WriteByte('x')
		default:
			b.WriteByte('\\')
			b.WriteByte(body[i])
		}
	}
	return b.String()
}

func (p *parser) groupingOrTuple() {
	if p.match(TokenRightParen) {
		p.emitShortOp(vm.OpTuple, 0)
		return
	}
	p.expression()
	if p.check(TokenComma) {
		count := 1
		for p.match(TokenComma) {
			if p.check(TokenRightParen) {
				break
			}
			p.expression()
			count++
		}
		p.emitShortOp(vm.OpTuple, count)
	}
	p.consume(TokenRightParen, "expected ')'")
}

// listDisplayOrComprehension compiles [a, b, ...] or [expr for x in seq].
func (p *parser) listDisplayOrComprehension() {
	if p.match(TokenRightBracket) {
		p.emitShortOp(vm.OpBuildList, 0)
		return
	}

	// A comprehension needs the element expression compiled inside the
	// loop, but the tokens arrive first. Capture the element expression by
	// position and re-scan it once the loop header is known.
	elementStart := *p.scanner
	elementStartTok := p.current
	p.skipExpressionTokens()
	if p.check(TokenFor) {
		p.comprehension(elementStart, elementStartTok)
		return
	}

	// Plain display: rewind is impossible, so the skip above must not have
	// emitted anything; re-scan from the captured position and compile each
	// element for real.
	*p.scanner = elementStart
	p.current = elementStartTok
	count := 0
	p.expression()
	count++
	for p.match(TokenComma) {
		if p.check(TokenRightBracket) {
			break
		}
		p.expression()
		count++
	}
	p.consume(TokenRightBracket, "expected ']'")
	p.emitShortOp(vm.OpBuildList, count)
}

// skipExpressionTokens advances over one expression without emitting any
// bytecode, used for comprehension lookahead.
func (p *parser) skipExpressionTokens() {
	depth := 0
	for !p.check(TokenEOF) {
		switch p.current.Type {
		case TokenLeftParen, TokenLeftBracket, TokenLeftBrace:
			depth++
		case TokenRightParen, TokenRightBrace:
			depth--
		case TokenRightBracket:
			if depth == 0 {
				return
			}
			depth--
		case TokenFor, TokenComma:
			if depth == 0 {
				return
			}
		}
		p.advance()
	}
}

// comprehension compiles [element for name in iterable [if cond]] with the
// accumulator in a hidden local.
func (p *parser) comprehension(elementScanner Scanner, elementTok Token) {
	p.beginScope()
	p.emitShortOp(vm.OpBuildList, 0)
	accSlot := p.addLocal("@comp")

	p.consume(TokenFor, "expected 'for' in comprehension")
	var names []string
	p.consume(TokenIdentifier, "expected loop variable")
	names = append(names, p.previous.Lexeme)
	for p.match(TokenComma) {
		p.consume(TokenIdentifier, "expected loop variable")
		names = append(names, p.previous.Lexeme)
	}
	var slots []int
	for _, name := range names {
		p.emitOp(vm.OpNone)
		slots = append(slots, p.addLocal(name))
	}
	p.consume(TokenIn, "expected 'in'")
	p.orExpression(false)
	p.emitOp(vm.OpGetIter)
	iterSlot := p.addLocal("@iter")

	loopStart := len(p.comp.function.Code)
	p.emitWithOperand(vm.OpGetLocal, iterSlot)
	exitJump := p.emitJump(vm.OpForIter)
	if len(names) > 1 {
		p.emitWithOperand(vm.OpUnpack, len(names))
		for i := len(names) - 1; i >= 0; i-- {
			p.emitWithOperand(vm.OpSetLocal, slots[i])
			p.emitOp(vm.OpPop)
		}
	} else {
		p.emitWithOperand(vm.OpSetLocal, slots[0])
		p.emitOp(vm.OpPop)
	}
	p.emitOp(vm.OpPop) // iterator copy

	condJump := -1
	if p.match(TokenIf) {
		p.orExpression(false)
		condJump = p.emitJump(vm.OpJumpIfFalse)
		p.emitOp(vm.OpPop)
	}

	// Append the element: acc.append(element), element re-scanned from the
	// captured position.
	p.emitWithOperand(vm.OpGetLocal, accSlot)
	p.emitWithOperand(vm.OpGetProperty, p.identifierConstant("append"))
	closeScanner := *p.scanner
	closeTok := p.current
	*p.scanner = elementScanner
	p.current = elementTok
	p.ternary(false)
	*p.scanner = closeScanner
	p.current = closeTok
	p.emitWithOperand(vm.OpCall, 1)
	p.emitOp(vm.OpPop)

	if condJump != -1 {
		skip := p.emitJump(vm.OpJump)
		p.patchJump(condJump)
		p.emitOp(vm.OpPop)
		p.patchJump(skip)
	}
	p.emitLoop(loopStart)
	p.patchJump(exitJump)

	p.consume(TokenRightBracket, "expected ']' after comprehension")
	// Leave the accumulator as the expression result before unwinding the
	// hidden locals.
	p.emitWithOperand(vm.OpGetLocal, accSlot)
	p.endScopeKeepTop()
}

// endScopeKeepTop ends the scope while preserving the value on top of the
// stack: the result is swapped below the scope's locals before they pop.
func (p *parser) endScopeKeepTop() {
	c := p.comp
	c.scopeDepth--
	count := 0
	for i := len(c.locals) - 1; i >= 0 && c.locals[i].depth > c.scopeDepth; i-- {
		count++
	}
	p.emitWithOperand(vm.OpSwap, count)
	for i := 0; i < count; i++ {
		if c.locals[len(c.locals)-1].isCaptured {
			p.emitOp(vm.OpCloseUpvalue)
		} else {
			p.emitOp(vm.OpPop)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (p *parser) dictDisplay() {
	count := 0
	for !p.check(TokenRightBrace) {
		p.expression()
		p.consume(TokenColon, "expected ':' in dict display")
		p.expression()
		count++
		if !p.match(TokenComma) {
			break
		}
	}
	p.consume(TokenRightBrace, "expected '}'")
	p.emitShortOp(vm.OpBuildDict, count)
}

func (p *parser) moduleDocstring() {
	if p.check(TokenString) {
		p.advance()
		p.comp.function.Docstring = vm.ObjectVal(p.vmr.CopyString(p.stringValue(p.previous.Lexeme)))
		p.skipNewlines()
	}
}
