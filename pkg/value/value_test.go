package value_test

import (
	"math"
	"testing"

	"github.com/kristofer/smog/pkg/value"
)

func TestNewIsNull(t *testing.T) {
	v := value.New()
	if v.Type() != value.TypeNull {
		t.Errorf("Type() = %s, want null", v.Type())
	}
}

func TestAssignNumberAndAsNumber(t *testing.T) {
	v := value.New()
	v.AssignNumber(3.5)
	n, err := v.AsNumber()
	if err != nil || n != 3.5 {
		t.Errorf("AsNumber() = %v, %v, want 3.5, nil", n, err)
	}
}

func TestAssignStringAndAsString(t *testing.T) {
	v := value.New()
	v.AssignString("hello")
	s, err := v.AsString()
	if err != nil || s != "hello" {
		t.Errorf("AsString() = %q, %v, want hello, nil", s, err)
	}
}

func TestNullAsStringIsAngleBracketNull(t *testing.T) {
	v := value.New()
	s, err := v.AsString()
	if err != nil || s != "<null>" {
		t.Errorf("AsString() = %q, %v, want <null>, nil", s, err)
	}
}

func TestAsBooleanTruthTable(t *testing.T) {
	cases := []struct {
		setup func(*value.Value)
		want  bool
	}{
		{func(v *value.Value) {}, false}, // null
		{func(v *value.Value) { v.AssignNumber(0) }, false},
		{func(v *value.Value) { v.AssignNumber(1) }, true},
		{func(v *value.Value) { v.AssignNumber(-1) }, true},
		{func(v *value.Value) { v.AssignString("false") }, false},
		{func(v *value.Value) { v.AssignString("FALSE") }, false},
		{func(v *value.Value) { v.AssignString("f") }, false},
		{func(v *value.Value) { v.AssignString("anything else") }, true},
		{func(v *value.Value) { v.EmptyVector() }, true},
		{func(v *value.Value) { v.EmptyTable() }, true},
	}
	for i, c := range cases {
		v := value.New()
		c.setup(v)
		got, err := v.AsBoolean()
		if err != nil {
			t.Fatalf("case %d: AsBoolean() error: %v", i, err)
		}
		if got != c.want {
			t.Errorf("case %d: AsBoolean() = %v, want %v", i, got, c.want)
		}
	}
}

func TestAsNumberStringParsing(t *testing.T) {
	v := value.New()
	v.AssignString("42.5")
	n, err := v.AsNumber()
	if err != nil || n != 42.5 {
		t.Errorf("AsNumber() = %v, %v, want 42.5, nil", n, err)
	}

	v.AssignString("not a number")
	n, err = v.AsNumber()
	if err != nil || !math.IsNaN(n) {
		t.Errorf("AsNumber() on unparseable string = %v, %v, want NaN, nil", n, err)
	}
}

func TestDerefFollowsReferenceChain(t *testing.T) {
	target := value.New()
	target.AssignNumber(7)

	middle := value.New()
	middle.AssignReference(target)

	ref := value.New()
	ref.AssignReference(middle)

	d, err := ref.Deref()
	if err != nil {
		t.Fatalf("Deref: %v", err)
	}
	n, _ := d.AsNumber()
	if n != 7 {
		t.Errorf("Deref chain resolved to %v, want 7", n)
	}
}

func TestDerefDetectsSelfReferenceCycle(t *testing.T) {
	a := value.New()
	b := value.New()
	a.AssignReference(b)
	b.AssignReference(a)

	if _, err := a.Deref(); err == nil {
		t.Fatal("Deref succeeded on a self-referential cycle, want error")
	}
}

func TestVectorAppendIndexAndLen(t *testing.T) {
	v := value.New()
	v.EmptyVector()
	for i := 0; i < 3; i++ {
		elem := value.New()
		elem.AssignNumber(float64(i))
		v.Append(elem)
	}
	if v.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", v.Len())
	}
	elem, err := v.Index(1)
	if err != nil {
		t.Fatalf("Index(1): %v", err)
	}
	n, _ := elem.AsNumber()
	if n != 1 {
		t.Errorf("Index(1) = %v, want 1", n)
	}
	if _, err := v.Index(5); err == nil {
		t.Error("Index(5) succeeded out of range, want error")
	}
}

func TestVectorResizeGrowsAndShrinks(t *testing.T) {
	v := value.New()
	v.Resize(3)
	if v.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", v.Len())
	}
	v.Resize(1)
	if v.Len() != 1 {
		t.Fatalf("Len() after shrink = %d, want 1", v.Len())
	}
}

func TestTableHashItemAutovivifiesAndLookupDoesNot(t *testing.T) {
	v := value.New()
	v.EmptyTable()

	missing, err := v.Lookup("x")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if missing != nil {
		t.Errorf("Lookup on missing key = %v, want nil", missing)
	}

	item, err := v.HashItem("x")
	if err != nil {
		t.Fatalf("HashItem: %v", err)
	}
	item.AssignNumber(99)

	again, err := v.Lookup("x")
	if err != nil || again == nil {
		t.Fatalf("Lookup after HashItem = %v, %v, want the same entry", again, err)
	}
	n, _ := again.AsNumber()
	if n != 99 {
		t.Errorf("Lookup(\"x\") = %v, want 99", n)
	}
}

func TestTableKeysAndRemove(t *testing.T) {
	v := value.New()
	v.EmptyTable()
	v.HashItem("a")
	v.HashItem("b")

	keys, err := v.Keys()
	if err != nil || len(keys) != 2 {
		t.Fatalf("Keys() = %v, %v, want 2 keys", keys, err)
	}

	if err := v.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	keys, _ = v.Keys()
	if len(keys) != 1 || keys[0] != "b" {
		t.Errorf("Keys() after Remove(\"a\") = %v, want [b]", keys)
	}
}

func TestVectorRemoveByIndex(t *testing.T) {
	v := value.New()
	v.EmptyVector()
	for i := 0; i < 3; i++ {
		e := value.New()
		e.AssignNumber(float64(i))
		v.Append(e)
	}
	if err := v.Remove("1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if v.Len() != 2 {
		t.Fatalf("Len() after Remove = %d, want 2", v.Len())
	}
	first, _ := v.Index(0)
	second, _ := v.Index(1)
	n0, _ := first.AsNumber()
	n1, _ := second.AsNumber()
	if n0 != 0 || n1 != 2 {
		t.Errorf("remaining elements = %v, %v, want 0, 2", n0, n1)
	}
}

func TestEqualsMismatchedTypesAreNeverEqual(t *testing.T) {
	n := value.New()
	n.AssignNumber(0)
	s := value.New()
	s.AssignString("0")
	eq, err := n.Equals(s)
	if err != nil {
		t.Fatalf("Equals: %v", err)
	}
	if eq {
		t.Error("number 0 and string \"0\" compared equal, want unequal (type-tagged equality)")
	}
}

func TestEqualsContainersAreNeverEqual(t *testing.T) {
	a := value.New()
	a.EmptyVector()
	b := value.New()
	b.EmptyVector()
	eq, err := a.Equals(b)
	if err != nil {
		t.Fatalf("Equals: %v", err)
	}
	if eq {
		t.Error("two empty vectors compared equal, want containers never equal")
	}
	selfEq, err := a.Equals(a)
	if err != nil {
		t.Fatalf("Equals: %v", err)
	}
	if selfEq {
		t.Error("a vector compared equal to itself, want containers never equal, even to themselves")
	}
}

func TestLessThanOnlyDefinedForNumberAndString(t *testing.T) {
	a := value.New()
	a.AssignNumber(1)
	b := value.New()
	b.AssignNumber(2)
	lt, err := a.LessThan(b)
	if err != nil || !lt {
		t.Errorf("1 < 2 = %v, %v, want true, nil", lt, err)
	}

	v1 := value.New()
	v1.EmptyVector()
	v2 := value.New()
	v2.EmptyVector()
	lt, err = v1.LessThan(v2)
	if err != nil || lt {
		t.Errorf("vector < vector = %v, %v, want false, nil", lt, err)
	}
}

func TestCopyDeepCopiesContainers(t *testing.T) {
	src := value.New()
	src.EmptyVector()
	elem := value.New()
	elem.AssignNumber(1)
	src.Append(elem)

	dst := value.New()
	dst.Copy(src)

	// Mutating the copy's element must not affect the source's.
	dstElem, _ := dst.Index(0)
	dstElem.AssignNumber(99)

	srcElem, _ := src.Index(0)
	n, _ := srcElem.AsNumber()
	if n != 1 {
		t.Errorf("source element mutated through a deep copy: = %v, want 1", n)
	}
}

func TestCloneIsIndependentCopy(t *testing.T) {
	src := value.New()
	src.AssignString("original")
	clone := src.Clone()
	clone.AssignString("changed")

	s, _ := src.AsString()
	if s != "original" {
		t.Errorf("source mutated through Clone: = %q, want original", s)
	}
}

func TestFlagsAreIndependentOfPayload(t *testing.T) {
	v := value.New()
	v.SetFlag(value.FlagConstant)
	v.AssignNumber(5)
	if !v.HasFlag(value.FlagConstant) {
		t.Error("FlagConstant cleared by AssignNumber, want flags independent of payload type")
	}
	v.ClearFlag(value.FlagConstant)
	if v.HasFlag(value.FlagConstant) {
		t.Error("ClearFlag did not clear FlagConstant")
	}
}

func TestTypeNameMatchesType(t *testing.T) {
	v := value.New()
	v.AssignNumber(1)
	if v.TypeName() != "number" {
		t.Errorf("TypeName() = %q, want number", v.TypeName())
	}
}

func TestResetReturnsToFreshNull(t *testing.T) {
	v := value.New()
	v.SetFlag(value.FlagAssigned)
	v.AssignString("x")
	v.Reset()
	if v.Type() != value.TypeNull {
		t.Errorf("Type() after Reset = %s, want null", v.Type())
	}
	if v.HasFlag(value.FlagAssigned) {
		t.Error("FlagAssigned survived Reset")
	}
}
