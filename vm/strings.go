package vm

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// String: interned immutable unicode strings
// ---------------------------------------------------------------------------

// String is an immutable string object. All strings are interned in the VM's
// strings table: two strings with the same bytes are the same pointer, and
// string equality reduces to pointer equality. Bytes are interpreted as UTF-8
// for codepoint-indexed operations; no locale-sensitive decoding is done.
type String struct {
	ObjHeader
	Chars string
	Hash  uint32
	// CodesLength is the codepoint count, computed lazily (-1 when unset).
	CodesLength int
}

func (s *String) rawRepr() string { return "'" + escapeString(s.Chars) + "'" }

// Length returns the codepoint length of the string.
func (s *String) Length() int {
	if s.CodesLength < 0 {
		s.CodesLength = utf8.RuneCountInString(s.Chars)
	}
	return s.CodesLength
}

// hashString is FNV-1a over the raw bytes, computed once at intern time.
func hashString(chars string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(chars); i++ {
		hash ^= uint32(chars[i])
		hash *= 16777619
	}
	return hash
}

// CopyString interns the given bytes, returning the canonical String object.
func (vm *VM) CopyString(chars string) *String {
	hash := hashString(chars)
	if interned := vm.Strings.FindString(chars, hash); interned != nil {
		return interned
	}
	str := &String{Chars: chars, Hash: hash, CodesLength: -1}
	str.Kind = ObjStringKind
	vm.allocateObject(&str.ObjHeader, str, sizeofString+len(chars))
	// Shield the new string while the intern table may resize.
	vm.pauseGC()
	vm.Strings.Set(ObjectVal(str), NoneVal())
	vm.resumeGC()
	return str
}

func escapeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString("\\'")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Bytes: immutable byte sequences
// ---------------------------------------------------------------------------

// Bytes is an immutable sequence of raw bytes. Unlike strings they are not
// interned; the hash is computed at construction with the same function.
type Bytes struct {
	ObjHeader
	Data []byte
	Hash uint32
}

func (b *Bytes) rawRepr() string {
	var sb strings.Builder
	sb.WriteString("b'")
	for _, c := range b.Data {
		if c >= 0x20 && c < 0x7f && c != '\'' && c != '\\' {
			sb.WriteByte(c)
		} else {
			fmt.Fprintf(&sb, "\\x%02x", c)
		}
	}
	sb.WriteString("'")
	return sb.String()
}

// NewBytes allocates a bytes object over a copy of data.
func (vm *VM) NewBytes(data []byte) *Bytes {
	owned := make([]byte, len(data))
	copy(owned, data)
	b := &Bytes{Data: owned, Hash: hashString(string(owned))}
	b.Kind = ObjBytesKind
	vm.allocateObject(&b.ObjHeader, b, sizeofBytes+len(owned))
	return b
}

// ---------------------------------------------------------------------------
// Tuple: immutable value sequences
// ---------------------------------------------------------------------------

// Tuple is an immutable collection of values. Tuples hash by combining the
// hashes of their elements and compare pairwise.
type Tuple struct {
	ObjHeader
	Values []Value
}

func (t *Tuple) rawRepr() string {
	if t.HasFlag(FlagInRepr) {
		return "(...)"
	}
	t.SetFlag(FlagInRepr)
	defer t.ClearFlag(FlagInRepr)
	var b strings.Builder
	b.WriteByte('(')
	for i, v := range t.Values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(rawRepr(v))
	}
	if len(t.Values) == 1 {
		b.WriteByte(',')
	}
	b.WriteByte(')')
	return b.String()
}

// NewTuple allocates a tuple taking ownership of values.
func (vm *VM) NewTuple(values []Value) *Tuple {
	t := &Tuple{Values: values}
	t.Kind = ObjTupleKind
	vm.allocateObject(&t.ObjHeader, t, sizeofTuple+len(values)*sizeofValue)
	return t
}
