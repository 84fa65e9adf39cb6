package env_test

import (
	"sort"
	"testing"

	"github.com/kristofer/smog/pkg/env"
	"github.com/kristofer/smog/pkg/value"
)

func numVal(n float64) *value.Value {
	v := value.New()
	v.AssignNumber(n)
	return v
}

func TestAssignAndLookupLocalOnly(t *testing.T) {
	root := env.New()
	root.Assign("x", numVal(1))

	child := root.NewChild()
	if _, ok := child.Lookup("x", false); ok {
		t.Error("Lookup(searchParents=false) found a parent binding, want local-only")
	}
	if v, ok := child.Lookup("x", true); !ok {
		t.Error("Lookup(searchParents=true) did not find the parent's binding")
	} else if n, _ := v.AsNumber(); n != 1 {
		t.Errorf("found value = %v, want 1", n)
	}
}

func TestUnassignRemovesBinding(t *testing.T) {
	s := env.New()
	s.Assign("x", numVal(1))
	s.Unassign("x")
	if _, ok := s.Lookup("x", false); ok {
		t.Error("Lookup found x after Unassign")
	}
}

func TestGlobalWalksToRoot(t *testing.T) {
	root := env.New()
	child := root.NewChild()
	grandchild := child.NewChild()
	if grandchild.Global() != root {
		t.Error("Global() did not return the root scope")
	}
}

func TestParentOfRootIsNil(t *testing.T) {
	root := env.New()
	if root.Parent() != nil {
		t.Error("Parent() of a root scope is not nil")
	}
}

func TestFirstNextIteratesOwnBindingsOnly(t *testing.T) {
	s := env.New()
	s.Assign("a", numVal(1))
	s.Assign("b", numVal(2))
	s.NewChild().Assign("c", numVal(3)) // child's binding must not appear

	var names []string
	for name, ok := s.First(); ok; name, ok = s.Next() {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("First/Next produced %v, want [a b]", names)
	}
}

func TestFirstOnEmptyScopeReportsNotOK(t *testing.T) {
	s := env.New()
	if _, ok := s.First(); ok {
		t.Error("First() on an empty scope reported ok=true")
	}
}

func TestSizeCountsOwnBindingsOnly(t *testing.T) {
	s := env.New()
	s.Assign("a", numVal(1))
	s.Assign("b", numVal(2))
	if s.Size() != 2 {
		t.Errorf("Size() = %d, want 2", s.Size())
	}
}

func makeEchoFunc(name string) *value.ExternalFunction {
	return &value.ExternalFunction{
		Callable: func(inv *value.Invocation) error {
			inv.Document(value.Doc{Name: name})
			if inv.DocMode() {
				return nil
			}
			return nil
		},
	}
}

func TestRegisterFuncAndLookupFunc(t *testing.T) {
	s := env.New()
	fn := makeEchoFunc("greet")
	if err := s.RegisterFunc(fn); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}

	d, ok := s.LookupFunc("greet")
	if !ok {
		t.Fatal("LookupFunc did not find the registered function")
	}
	if d.Name != "greet" || d.Fn != fn {
		t.Errorf("descriptor = %+v, want Name=greet and matching Fn", d)
	}
}

func TestRegisterFuncFailsWithoutPublishedName(t *testing.T) {
	s := env.New()
	silent := &value.ExternalFunction{
		Callable: func(inv *value.Invocation) error { return nil }, // never documents
	}
	if err := s.RegisterFunc(silent); err == nil {
		t.Fatal("RegisterFunc succeeded for a callable that never published a name")
	}
}

func TestLookupFuncSearchesParentChain(t *testing.T) {
	root := env.New()
	if err := root.RegisterFunc(makeEchoFunc("root_fn")); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}
	child := root.NewChild()
	if _, ok := child.LookupFunc("root_fn"); !ok {
		t.Error("LookupFunc from a child scope did not find a function registered on the root")
	}
}

func TestListFuncsDeduplicatesAcrossScopes(t *testing.T) {
	root := env.New()
	root.RegisterFunc(makeEchoFunc("shared"))
	child := root.NewChild()
	child.RegisterFunc(makeEchoFunc("child_only"))

	names := child.ListFuncs()
	count := map[string]int{}
	for _, n := range names {
		count[n]++
	}
	if count["shared"] != 1 {
		t.Errorf("\"shared\" appears %d times in ListFuncs(), want 1", count["shared"])
	}
	if count["child_only"] != 1 {
		t.Errorf("\"child_only\" appears %d times in ListFuncs(), want 1", count["child_only"])
	}
}

type dummyObject struct{ name string }

func (d *dummyObject) TypeName() string { return "dummy" }

func TestObjectTableRoundTrip(t *testing.T) {
	root := env.New()
	obj := &dummyObject{name: "a"}
	handle := root.InsertObject(obj)
	if handle == 0 {
		t.Fatal("InsertObject returned handle 0, which is reserved for \"none\"")
	}

	got := root.QueryObject(handle)
	if got != obj {
		t.Errorf("QueryObject(%d) = %v, want the inserted object", handle, got)
	}

	root.DestroyObject(handle)
	if root.QueryObject(handle) != nil {
		t.Error("QueryObject after DestroyObject returned a non-nil object")
	}
}

func TestObjectTableDedupesByIdentity(t *testing.T) {
	root := env.New()
	obj := &dummyObject{name: "shared"}
	h1 := root.InsertObject(obj)
	h2 := root.InsertObject(obj)
	if h1 != h2 {
		t.Errorf("InsertObject returned distinct handles %d, %d for the same object", h1, h2)
	}
}

func TestObjectTableIsSharedFromChildScopes(t *testing.T) {
	root := env.New()
	child := root.NewChild()
	handle := child.InsertObject(&dummyObject{name: "x"})
	if root.QueryObject(handle) == nil {
		t.Error("object inserted via a child scope is not visible from the root's object table")
	}
}

func TestQueryObjectOutOfRangeReturnsNil(t *testing.T) {
	root := env.New()
	if root.QueryObject(999) != nil {
		t.Error("QueryObject on an unused handle returned non-nil")
	}
	if root.QueryObject(0) != nil {
		t.Error("QueryObject(0) (the reserved \"none\" handle) returned non-nil")
	}
}
