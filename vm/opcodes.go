package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single bytecode instruction. Operands wider than one byte are
// big-endian 16-bit shorts; the *Long variants widen one-byte operands.
type Opcode byte

// Stack manipulation and constants.
const (
	OpConstant Opcode = iota + 1
	OpNone
	OpTrue
	OpFalse
	OpNotImplemented
	OpPop
	OpDup
	OpSwap // operand: distance
	OpKwargs
	OpTuple
	OpBuildList
	OpBuildDict
	OpBuildSlice // operand: 2 or 3 (start/stop[/step])
	OpUnpack     // operand: target count

	// Locals and globals.
	OpDefineGlobal
	OpGetGlobal
	OpSetGlobal
	OpDelGlobal
	OpGetLocal
	OpSetLocal

	// Upvalues.
	OpGetUpvalue
	OpSetUpvalue
	OpCloseUpvalue

	// Attributes and items.
	OpGetProperty
	OpSetProperty
	OpDelProperty
	OpSubscrGet
	OpSubscrSet
	OpSubscrDel

	// Arithmetic, comparison, logic.
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpFloorDivide
	OpModulo
	OpPower
	OpBitOr
	OpBitXor
	OpBitAnd
	OpShiftLeft
	OpShiftRight
	OpBitNegate
	OpNegate
	OpNot
	OpEqual
	OpGreater
	OpLess
	OpGreaterEqual
	OpLessEqual
	OpIs
	OpContains

	// Control flow.
	OpJump
	OpJumpIfFalse
	OpJumpIfTrue
	OpLoop
	OpGetIter
	OpForIter

	// Functions, classes, calls.
	OpClosure
	OpCall
	OpReturn
	OpYield
	OpClass
	OpMethod
	OpClassProperty
	OpFinalize
	OpDocstring

	// Exceptions and context managers.
	OpPushTry
	OpPopTry
	OpRaise
	OpPushWith
	OpExitWith

	// Imports.
	OpImport
	OpImportFrom
)

// Long variants carry 16-bit operands where the base form carries one byte.
const (
	OpConstantLong Opcode = iota + 128
	OpDefineGlobalLong
	OpGetGlobalLong
	OpSetGlobalLong
	OpDelGlobalLong
	OpGetLocalLong
	OpSetLocalLong
	OpGetUpvalueLong
	OpSetUpvalueLong
	OpGetPropertyLong
	OpSetPropertyLong
	OpDelPropertyLong
	OpClosureLong
	OpClassLong
	OpMethodLong
	OpClassPropertyLong
	OpImportLong
	OpImportFromLong
)

// operandKind describes how to decode an instruction's operand.
type operandKind uint8

const (
	operandNone operandKind = iota
	operandByte
	operandShort   // big-endian u16
	operandJump    // big-endian u16, forward relative
	operandLoop    // big-endian u16, backward relative
	operandClosure // constant index + inline upvalue descriptors
)

// opcodeInfo holds display metadata for an opcode.
type opcodeInfo struct {
	Name    string
	Operand operandKind
}

var opcodeTable = map[Opcode]opcodeInfo{
	OpConstant:       {"CONSTANT", operandByte},
	OpNone:           {"NONE", operandNone},
	OpTrue:           {"TRUE", operandNone},
	OpFalse:          {"FALSE", operandNone},
	OpNotImplemented: {"NOT_IMPLEMENTED", operandNone},
	OpPop:            {"POP", operandNone},
	OpDup:            {"DUP", operandByte},
	OpSwap:           {"SWAP", operandByte},
	OpKwargs:         {"KWARGS", operandShort},
	OpTuple:          {"TUPLE", operandShort},
	OpBuildList:      {"BUILD_LIST", operandShort},
	OpBuildDict:      {"BUILD_DICT", operandShort},
	OpBuildSlice:     {"BUILD_SLICE", operandByte},
	OpUnpack:         {"UNPACK", operandByte},

	OpDefineGlobal: {"DEFINE_GLOBAL", operandByte},
	OpGetGlobal:    {"GET_GLOBAL", operandByte},
	OpSetGlobal:    {"SET_GLOBAL", operandByte},
	OpDelGlobal:    {"DEL_GLOBAL", operandByte},
	OpGetLocal:     {"GET_LOCAL", operandByte},
	OpSetLocal:     {"SET_LOCAL", operandByte},

	OpGetUpvalue:   {"GET_UPVALUE", operandByte},
	OpSetUpvalue:   {"SET_UPVALUE", operandByte},
	OpCloseUpvalue: {"CLOSE_UPVALUE", operandNone},

	OpGetProperty: {"GET_PROPERTY", operandByte},
	OpSetProperty: {"SET_PROPERTY", operandByte},
	OpDelProperty: {"DEL_PROPERTY", operandByte},
	OpSubscrGet:   {"SUBSCR_GET", operandNone},
	OpSubscrSet:   {"SUBSCR_SET", operandNone},
	OpSubscrDel:   {"SUBSCR_DEL", operandNone},

	OpAdd:          {"ADD", operandNone},
	OpSubtract:     {"SUBTRACT", operandNone},
	OpMultiply:     {"MULTIPLY", operandNone},
	OpDivide:       {"DIVIDE", operandNone},
	OpFloorDivide:  {"FLOOR_DIVIDE", operandNone},
	OpModulo:       {"MODULO", operandNone},
	OpPower:        {"POWER", operandNone},
	OpBitOr:        {"BIT_OR", operandNone},
	OpBitXor:       {"BIT_XOR", operandNone},
	OpBitAnd:       {"BIT_AND", operandNone},
	OpShiftLeft:    {"SHIFT_LEFT", operandNone},
	OpShiftRight:   {"SHIFT_RIGHT", operandNone},
	OpBitNegate:    {"BIT_NEGATE", operandNone},
	OpNegate:       {"NEGATE", operandNone},
	OpNot:          {"NOT", operandNone},
	OpEqual:        {"EQUAL", operandNone},
	OpGreater:      {"GREATER", operandNone},
	OpLess:         {"LESS", operandNone},
	OpGreaterEqual: {"GREATER_EQUAL", operandNone},
	OpLessEqual:    {"LESS_EQUAL", operandNone},
	OpIs:           {"IS", operandNone},
	OpContains:     {"CONTAINS", operandNone},

	OpJump:        {"JUMP", operandJump},
	OpJumpIfFalse: {"JUMP_IF_FALSE", operandJump},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", operandJump},
	OpLoop:        {"LOOP", operandLoop},
	OpGetIter:     {"GET_ITER", operandNone},
	OpForIter:     {"FOR_ITER", operandJump},

	OpClosure:       {"CLOSURE", operandClosure},
	OpCall:          {"CALL", operandByte},
	OpReturn:        {"RETURN", operandNone},
	OpYield:         {"YIELD", operandNone},
	OpClass:         {"CLASS", operandByte},
	OpMethod:        {"METHOD", operandByte},
	OpClassProperty: {"CLASS_PROPERTY", operandByte},
	OpFinalize:      {"FINALIZE", operandNone},
	OpDocstring:     {"DOCSTRING", operandNone},

	OpPushTry:  {"PUSH_TRY", operandJump},
	OpPopTry:   {"POP_TRY", operandNone},
	OpRaise:    {"RAISE", operandNone},
	OpPushWith: {"PUSH_WITH", operandJump},
	OpExitWith: {"EXIT_WITH", operandNone},

	OpImport:     {"IMPORT", operandByte},
	OpImportFrom: {"IMPORT_FROM", operandByte},

	OpConstantLong:      {"CONSTANT_LONG", operandShort},
	OpDefineGlobalLong:  {"DEFINE_GLOBAL_LONG", operandShort},
	OpGetGlobalLong:     {"GET_GLOBAL_LONG", operandShort},
	OpSetGlobalLong:     {"SET_GLOBAL_LONG", operandShort},
	OpDelGlobalLong:     {"DEL_GLOBAL_LONG", operandShort},
	OpGetLocalLong:      {"GET_LOCAL_LONG", operandShort},
	OpSetLocalLong:      {"SET_LOCAL_LONG", operandShort},
	OpGetUpvalueLong:    {"GET_UPVALUE_LONG", operandShort},
	OpSetUpvalueLong:    {"SET_UPVALUE_LONG", operandShort},
	OpGetPropertyLong:   {"GET_PROPERTY_LONG", operandShort},
	OpSetPropertyLong:   {"SET_PROPERTY_LONG", operandShort},
	OpDelPropertyLong:   {"DEL_PROPERTY_LONG", operandShort},
	OpClosureLong:       {"CLOSURE_LONG", operandClosure},
	OpClassLong:         {"CLASS_LONG", operandShort},
	OpMethodLong:        {"METHOD_LONG", operandShort},
	OpClassPropertyLong: {"CLASS_PROPERTY_LONG", operandShort},
	OpImportLong:        {"IMPORT_LONG", operandShort},
	OpImportFromLong:    {"IMPORT_FROM_LONG", operandShort},
}

// Info returns display metadata for an opcode.
func (op Opcode) Info() opcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return opcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string { return op.Info().Name }

func (op Opcode) String() string { return op.Name() }

// isLongForm reports whether the opcode takes wide operands.
func (op Opcode) isLongForm() bool { return op >= 128 }

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders the instruction at offset and returns the
// offset of the next instruction.
func DisassembleInstruction(b *strings.Builder, code *CodeObject, offset int) int {
	op := Opcode(code.Code[offset])
	info := op.Info()
	fmt.Fprintf(b, "%04d  %4d  ", offset, code.LineFor(offset))

	readShort := func(at int) int {
		return int(code.Code[at])<<8 | int(code.Code[at+1])
	}

	switch info.Operand {
	case operandNone:
		fmt.Fprintf(b, "%s", info.Name)
		return offset + 1
	case operandByte:
		operand := int(code.Code[offset+1])
		fmt.Fprintf(b, "%-18s %d", info.Name, operand)
		disassembleConstantHint(b, code, op, operand)
		return offset + 2
	case operandShort:
		operand := readShort(offset + 1)
		fmt.Fprintf(b, "%-18s %d", info.Name, operand)
		disassembleConstantHint(b, code, op, operand)
		return offset + 3
	case operandJump:
		operand := readShort(offset + 1)
		fmt.Fprintf(b, "%-18s %d (-> %04d)", info.Name, operand, offset+3+operand)
		return offset + 3
	case operandLoop:
		operand := readShort(offset + 1)
		fmt.Fprintf(b, "%-18s %d (-> %04d)", info.Name, operand, offset+3-operand)
		return offset + 3
	case operandClosure:
		var constant int
		next := offset
		if op.isLongForm() {
			constant = readShort(offset + 1)
			next = offset + 3
		} else {
			constant = int(code.Code[offset+1])
			next = offset + 2
		}
		fmt.Fprintf(b, "%-18s %d %s", info.Name, constant, rawRepr(code.Constants[constant]))
		if fn, ok := code.Constants[constant].AsObj().(*CodeObject); ok {
			fmt.Fprintf(b, " (%d upvalues)", len(fn.Upvalues))
		}
		return next
	}
	return offset + 1
}

func disassembleConstantHint(b *strings.Builder, code *CodeObject, op Opcode, operand int) {
	switch op {
	case OpConstant, OpConstantLong,
		OpDefineGlobal, OpDefineGlobalLong, OpGetGlobal, OpGetGlobalLong,
		OpSetGlobal, OpSetGlobalLong, OpDelGlobal, OpDelGlobalLong,
		OpGetProperty, OpGetPropertyLong, OpSetProperty, OpSetPropertyLong,
		OpDelProperty, OpDelPropertyLong, OpClass, OpClassLong,
		OpMethod, OpMethodLong, OpClassProperty, OpClassPropertyLong,
		OpImport, OpImportLong, OpImportFrom, OpImportFromLong:
		if operand < len(code.Constants) {
			fmt.Fprintf(b, " (%s)", rawRepr(code.Constants[operand]))
		}
	}
}

// Disassemble renders a full listing of a code object, recursing into any
// code objects found in its constant pool.
func Disassemble(code *CodeObject) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", code.rawRepr())
	for offset := 0; offset < len(code.Code); {
		offset = DisassembleInstruction(&b, code, offset)
		b.WriteByte('\n')
	}
	for _, c := range code.Constants {
		if c.IsObject() {
			if fn, ok := c.AsObj().(*CodeObject); ok {
				b.WriteString(Disassemble(fn))
			}
		}
	}
	return b.String()
}
