// Package value implements the tagged runtime datum of the smog virtual
// machine.
//
// A Value carries a type tag drawn from a closed set (null, reference,
// number, string, vector, table, codeFunction, externalFunction,
// internalFunction) plus an independent set of boolean flags (assigned,
// constant, global). The type and the flags are orthogonal: a value's
// flags do not change when its payload is reassigned to a new type.
//
// Ownership: a Value owns its payload. Strings, vectors, and tables are
// deep-copied on Copy and freed (by the garbage collector, since this is
// Go) when no longer referenced. References, codeFunction handles, and
// externalFunction descriptors are never owned - they alias state that
// lives elsewhere and must outlive the Value that points to them.
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Type is the closed set of runtime value tags.
type Type byte

const (
	// TypeNull carries no payload.
	TypeNull Type = iota
	// TypeReference is a non-owning pointer to another value.
	TypeReference
	// TypeNumber is an IEEE-754 double.
	TypeNumber
	// TypeString is owned UTF-8 text.
	TypeString
	// TypeVector is an owned ordered sequence of values.
	TypeVector
	// TypeTable is an owned mapping from string keys to owned values.
	TypeTable
	// TypeCodeFunction is a non-owning handle to a function-definition
	// node used only by the tree-walking collaborator.
	TypeCodeFunction
	// TypeExternalFunction is a non-owning host-callable descriptor.
	TypeExternalFunction
	// TypeInternalFunction is a bytecode address.
	TypeInternalFunction
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeReference:
		return "reference"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeVector:
		return "vector"
	case TypeTable:
		return "table"
	case TypeCodeFunction:
		return "function"
	case TypeExternalFunction:
		return "function"
	case TypeInternalFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Flag is a bit in the independent assigned/constant/global flag set.
type Flag uint8

const (
	// FlagAssigned marks that a value has received at least one
	// mutating assignment since it was created.
	FlagAssigned Flag = 1 << iota
	// FlagConstant forbids subsequent payload mutation.
	FlagConstant
	// FlagGlobal marks a binding that lives in the root scope.
	FlagGlobal
)

// ExternalFunction is the non-owning descriptor of a host-provided
// callable. Two dispatch variants existed in the original lk source (a
// direct callable and an adapter for dynamically loaded libraries); per
// the spec's design notes these collapse into a single Go function
// value. UserData is opaque state the host attaches at registration.
type ExternalFunction struct {
	Callable func(inv *Invocation) error
	UserData interface{}
}

// Value is one runtime datum: a type tag, independent flags, and a
// payload selected by the tag.
type Value struct {
	typ   Type
	flags Flag

	num float64
	str string
	vec []*Value
	tbl map[string]*Value

	ref  *Value
	code interface{} // non-owning AST function-definition handle
	ext  *ExternalFunction
	addr uint32 // internalFunction bytecode address
}

// New returns a fresh null value.
func New() *Value {
	return &Value{typ: TypeNull}
}

// Type returns the value's type tag.
func (v *Value) Type() Type { return v.typ }

// HasFlag reports whether the given flag is set.
func (v *Value) HasFlag(f Flag) bool { return v.flags&f != 0 }

// SetFlag sets the given flag.
func (v *Value) SetFlag(f Flag) { v.flags |= f }

// ClearFlag clears the given flag.
func (v *Value) ClearFlag(f Flag) { v.flags &^= f }

// errSelfReference is returned by Deref when a reference chain cycles
// back on itself.
var errSelfReference = fmt.Errorf("self referential reference")

// derefInlineDepth bounds how many reference hops Deref follows before
// falling back to a map for cycle detection. Reference chains this deep
// essentially never occur outside a cycle, so this keeps the common
// case (zero or one hop) allocation-free without giving up on
// pathologically long legitimate chains.
const derefInlineDepth = 8

// Deref follows a chain of TypeReference payloads to their ultimate
// target, detecting cycles. Non-reference values deref to themselves.
// The non-reference case - the overwhelming majority of calls from the
// VM's instruction loop - allocates nothing.
func (v *Value) Deref() (*Value, error) {
	cur := v
	for i := 0; i < derefInlineDepth; i++ {
		if cur.typ != TypeReference {
			return cur, nil
		}
		if cur.ref == nil {
			return nil, fmt.Errorf("unassigned reference")
		}
		if cur.ref == v {
			return nil, errSelfReference
		}
		cur = cur.ref
	}

	seen := map[*Value]bool{v: true, cur: true}
	for cur.typ == TypeReference {
		if cur.ref == nil {
			return nil, fmt.Errorf("unassigned reference")
		}
		cur = cur.ref
		if seen[cur] {
			return nil, errSelfReference
		}
		seen[cur] = true
	}
	return cur, nil
}

// nullify releases the current payload, returning the value to null.
// Strings, vectors, and tables are released recursively (their
// contained values are owned); references, code-function handles, and
// external-function descriptors are never freed since they are not
// owned.
func (v *Value) nullify() {
	switch v.typ {
	case TypeString:
		v.str = ""
	case TypeVector:
		v.vec = nil
	case TypeTable:
		v.tbl = nil
	}
	v.typ = TypeNull
	v.ref = nil
	v.code = nil
	v.ext = nil
	v.addr = 0
}

// AssignNumber overwrites the payload with a number.
func (v *Value) AssignNumber(n float64) {
	v.nullify()
	v.typ = TypeNumber
	v.num = n
}

// AssignString overwrites the payload with a string. If the value is
// already a string, the existing slot is reused rather than released
// and reallocated - mirroring the original lk env's in-place rewrite of
// string payloads.
func (v *Value) AssignString(s string) {
	if v.typ != TypeString {
		v.nullify()
		v.typ = TypeString
	}
	v.str = s
}

// EmptyVector overwrites the payload with a zero-length vector.
func (v *Value) EmptyVector() {
	v.nullify()
	v.typ = TypeVector
	v.vec = []*Value{}
}

// EmptyTable overwrites the payload with an empty table.
func (v *Value) EmptyTable() {
	v.nullify()
	v.typ = TypeTable
	v.tbl = map[string]*Value{}
}

// AssignReference overwrites the payload with a non-owning pointer to
// target.
func (v *Value) AssignReference(target *Value) {
	v.nullify()
	v.typ = TypeReference
	v.ref = target
}

// AssignCodeFunction overwrites the payload with a non-owning handle to
// a compiler AST function-definition node.
func (v *Value) AssignCodeFunction(node interface{}) {
	v.nullify()
	v.typ = TypeCodeFunction
	v.code = node
}

// AssignExternalFunction overwrites the payload with a non-owning host
// function descriptor.
func (v *Value) AssignExternalFunction(fn *ExternalFunction) {
	v.nullify()
	v.typ = TypeExternalFunction
	v.ext = fn
}

// AssignInternalFunction overwrites the payload with a bytecode address.
func (v *Value) AssignInternalFunction(addr uint32) {
	v.nullify()
	v.typ = TypeInternalFunction
	v.addr = addr
}

// Resize extends or shrinks a vector to n elements, filling new slots
// with null values. If the value is not already a vector it is first
// switched to one (discarding any prior payload).
func (v *Value) Resize(n int) {
	if v.typ != TypeVector {
		v.nullify()
		v.typ = TypeVector
		v.vec = []*Value{}
	}
	if n < len(v.vec) {
		v.vec = v.vec[:n]
		return
	}
	for len(v.vec) < n {
		v.vec = append(v.vec, New())
	}
}

// Index returns a mutable handle to element i of a vector. It is an
// error if v is not a vector or i is out of range.
func (v *Value) Index(i int) (*Value, error) {
	if v.typ != TypeVector {
		return nil, fmt.Errorf("index on non-vector")
	}
	if i < 0 || i >= len(v.vec) {
		return nil, fmt.Errorf("vector index out of range: %d", i)
	}
	return v.vec[i], nil
}

// Append appends an element to a vector's contents.
func (v *Value) Append(elem *Value) {
	v.vec = append(v.vec, elem)
}

// Len returns the element count of a vector.
func (v *Value) Len() int {
	return len(v.vec)
}

// Lookup returns the value bound to key in a table, or nil if absent.
// It is an error if v is not a table. Lookup never creates entries.
func (v *Value) Lookup(key string) (*Value, error) {
	if v.typ != TypeTable {
		return nil, fmt.Errorf("lookup on non-table")
	}
	return v.tbl[key], nil
}

// HashItem returns the value bound to key in a table, inserting a fresh
// null value first if absent.
func (v *Value) HashItem(key string) (*Value, error) {
	if v.typ != TypeTable {
		return nil, fmt.Errorf("hash_item on non-table")
	}
	if existing, ok := v.tbl[key]; ok {
		return existing, nil
	}
	fresh := New()
	v.tbl[key] = fresh
	return fresh, nil
}

// Keys returns the table's keys in an unspecified but stable-for-this-
// call order.
func (v *Value) Keys() ([]string, error) {
	if v.typ != TypeTable {
		return nil, fmt.Errorf("keys on non-table")
	}
	keys := make([]string, 0, len(v.tbl))
	for k := range v.tbl {
		keys = append(keys, k)
	}
	return keys, nil
}

// Remove erases a table entry or vector element, used by the MAT
// opcode. It is an error on any other type.
func (v *Value) Remove(key string) error {
	switch v.typ {
	case TypeTable:
		delete(v.tbl, key)
		return nil
	case TypeVector:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(v.vec) {
			return fmt.Errorf("vector index out of range: %s", key)
		}
		v.vec = slices.Delete(v.vec, idx, idx+1)
		return nil
	default:
		return fmt.Errorf("remove on unsupported type %s", v.typ)
	}
}

// AsBoolean converts the dereferenced value to its truth value: null is
// false; number is false iff 0.0; string is false iff (case
// insensitive) "false" or "f"; other types are true.
func (v *Value) AsBoolean() (bool, error) {
	d, err := v.Deref()
	if err != nil {
		return false, err
	}
	switch d.typ {
	case TypeNull:
		return false, nil
	case TypeNumber:
		return d.num != 0, nil
	case TypeString:
		lower := strings.ToLower(d.str)
		return lower != "false" && lower != "f", nil
	default:
		return true, nil
	}
}

// AsNumber converts the dereferenced value to a number: null -> 0;
// number -> itself; string -> parsed double (NaN on failure);
// everything else -> NaN.
func (v *Value) AsNumber() (float64, error) {
	d, err := v.Deref()
	if err != nil {
		return 0, err
	}
	switch d.typ {
	case TypeNull:
		return 0, nil
	case TypeNumber:
		return d.num, nil
	case TypeString:
		n, err := strconv.ParseFloat(strings.TrimSpace(d.str), 64)
		if err != nil {
			return math.NaN(), nil
		}
		return n, nil
	default:
		return math.NaN(), nil
	}
}

// AsInt truncates AsNumber to a signed integer.
func (v *Value) AsInt() (int64, error) {
	n, err := v.AsNumber()
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// AsUint truncates AsNumber to an unsigned integer.
func (v *Value) AsUint() (uint64, error) {
	n, err := v.AsNumber()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	return uint64(n), nil
}

// AsString converts the dereferenced value to its string form.
func (v *Value) AsString() (string, error) {
	d, err := v.Deref()
	if err != nil {
		return "", err
	}
	switch d.typ {
	case TypeNull:
		return "<null>", nil
	case TypeNumber:
		if d.num == math.Trunc(d.num) && !math.IsInf(d.num, 0) {
			return strconv.FormatInt(int64(d.num), 10), nil
		}
		return strconv.FormatFloat(d.num, 'g', 6, 64), nil
	case TypeString:
		return d.str, nil
	case TypeVector:
		parts := make([]string, len(d.vec))
		for i, e := range d.vec {
			parts[i], err = e.AsString()
			if err != nil {
				return "", err
			}
		}
		return strings.Join(parts, ","), nil
	case TypeTable:
		var b strings.Builder
		b.WriteString("{")
		for k, e := range d.tbl {
			es, err := e.AsString()
			if err != nil {
				return "", err
			}
			b.WriteString(" ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(es)
		}
		b.WriteString(" }")
		return b.String(), nil
	case TypeCodeFunction, TypeExternalFunction, TypeInternalFunction:
		return "<function>", nil
	default:
		return "<invalid?>", nil
	}
}

// Equals compares two dereferenced values. Mismatched type tags are
// never equal. Containers (vector, table) are never equal to anything,
// including themselves.
func (v *Value) Equals(other *Value) (bool, error) {
	a, err := v.Deref()
	if err != nil {
		return false, err
	}
	b, err := other.Deref()
	if err != nil {
		return false, err
	}
	if a.typ != b.typ {
		return false, nil
	}
	switch a.typ {
	case TypeNull:
		return true, nil
	case TypeNumber:
		return a.num == b.num, nil
	case TypeString:
		return a.str == b.str, nil
	case TypeCodeFunction:
		return a.code == b.code, nil
	case TypeExternalFunction:
		return a.ext == b.ext, nil
	case TypeInternalFunction:
		return a.addr == b.addr, nil
	default:
		return false, nil
	}
}

// LessThan is defined only for number<number and string<string
// (lexicographic byte comparison); all other comparisons are false.
func (v *Value) LessThan(other *Value) (bool, error) {
	a, err := v.Deref()
	if err != nil {
		return false, err
	}
	b, err := other.Deref()
	if err != nil {
		return false, err
	}
	if a.typ != b.typ {
		return false, nil
	}
	switch a.typ {
	case TypeNumber:
		return a.num < b.num, nil
	case TypeString:
		return a.str < b.str, nil
	default:
		return false, nil
	}
}

// Copy deep-copies src's payload into v, releasing v's current payload
// first. Strings, vectors, and tables are copied recursively. References,
// code-function handles, and external-function descriptors copy only
// the (non-owned) pointer/identity, never their target. Flags are never
// touched by Copy - they belong to v's binding, not to src's payload,
// which is what lets WR re-check the constant flag on the same Value
// across repeated assignment.
func (v *Value) Copy(src *Value) {
	v.nullify()
	switch src.typ {
	case TypeNull:
		// already nullified
	case TypeReference:
		v.typ = TypeReference
		v.ref = src.ref
	case TypeNumber:
		v.typ = TypeNumber
		v.num = src.num
	case TypeString:
		v.typ = TypeString
		v.str = src.str
	case TypeVector:
		v.typ = TypeVector
		v.vec = make([]*Value, len(src.vec))
		for i, e := range src.vec {
			cp := New()
			cp.Copy(e)
			v.vec[i] = cp
		}
	case TypeTable:
		v.typ = TypeTable
		v.tbl = make(map[string]*Value, len(src.tbl))
		for k, e := range src.tbl {
			cp := New()
			cp.Copy(e)
			v.tbl[k] = cp
		}
	case TypeCodeFunction:
		v.typ = TypeCodeFunction
		v.code = src.code
	case TypeExternalFunction:
		v.typ = TypeExternalFunction
		v.ext = src.ext
	case TypeInternalFunction:
		v.typ = TypeInternalFunction
		v.addr = src.addr
	}
}

// Clone returns a fresh deep copy of v, equivalent to New().Copy(v).
func (v *Value) Clone() *Value {
	cp := New()
	cp.Copy(v)
	return cp
}

// TypeName returns the type-name string used by the TYP opcode.
func (v *Value) TypeName() string {
	return v.typ.String()
}

// Ref returns the reference target with no dereference loop and no
// error, for callers that already know v is a TypeReference. Returns
// nil if v is not a reference.
func (v *Value) Ref() *Value {
	if v.typ != TypeReference {
		return nil
	}
	return v.ref
}

// ExternalFuncDescriptor returns the external-function descriptor, or
// nil if v does not carry one.
func (v *Value) ExternalFuncDescriptor() *ExternalFunction {
	if v.typ != TypeExternalFunction {
		return nil
	}
	return v.ext
}

// InternalFuncAddress returns the bytecode address, valid only when
// Type() == TypeInternalFunction.
func (v *Value) InternalFuncAddress() uint32 {
	return v.addr
}

// CodeFuncNode returns the non-owning AST function-definition handle,
// valid only when Type() == TypeCodeFunction.
func (v *Value) CodeFuncNode() interface{} {
	return v.code
}

// RawNumber returns the raw number payload without dereferencing -
// callers that have already deref'd should use this to avoid a second
// traversal.
func (v *Value) RawNumber() float64 { return v.num }

// RawString returns the raw string payload without dereferencing.
func (v *Value) RawString() string { return v.str }

// Reset releases v's payload and flags, returning it to a fresh null
// value. Used by the VM to recycle stack slots between pushes.
func (v *Value) Reset() {
	v.nullify()
	v.flags = 0
}
