// Package env implements the lexically-scoped environment that binds
// names to owned values and to host-provided functions, plus the
// process-wide (root-owned) table of opaque host object handles.
//
// Grounded on _examples/original_source/include/lk/env.h and
// lk_env.cpp's env_t: a scope owns the values it stores, routes object
// operations to the root of its scope tree, and supports the
// "documentation mode" dance by which a registered host function's name
// is discovered at registration time rather than declared up front.
package env

import (
	"fmt"

	"golang.org/x/exp/maps"

	"github.com/kristofer/smog/pkg/value"
)

// FuncDescriptor is a registered host function together with the name
// its documentation-mode dry run published.
type FuncDescriptor struct {
	Name string
	Fn   *value.ExternalFunction
}

// HostObject is the discriminator every object inserted into the root
// scope's object table must expose.
type HostObject interface {
	TypeName() string
}

// Scope is one node in the environment tree: a mapping from identifier
// to owned value, a mapping from identifier to host-function
// descriptor, and an optional non-owning parent pointer.
type Scope struct {
	parent *Scope

	vars  map[string]*value.Value
	funcs map[string]*FuncDescriptor

	iterKeys []string // snapshot for First/Next, local scope only
	iterPos  int

	// objects is non-nil only on the root scope; handle i lives at
	// objects[i-1] (handle 0 is reserved as "none").
	objects []HostObject
}

// New creates a root scope with no parent.
func New() *Scope {
	return &Scope{
		vars:    map[string]*value.Value{},
		funcs:   map[string]*FuncDescriptor{},
		objects: []HostObject{},
	}
}

// NewChild creates a scope whose parent is s. The child must not
// outlive s; Go's garbage collector enforces this automatically via
// the parent pointer keeping s alive for as long as the child does.
func (s *Scope) NewChild() *Scope {
	return &Scope{
		parent: s,
		vars:   map[string]*value.Value{},
		funcs:  map[string]*FuncDescriptor{},
	}
}

// Parent returns the scope's parent, or nil at the root.
func (s *Scope) Parent() *Scope { return s.parent }

// Global walks the parent chain to the root scope.
func (s *Scope) Global() *Scope {
	cur := s
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Assign binds name to value in this scope. If name is already bound to
// a different object the old binding is simply dropped (Go's GC reclaims
// it); the scope takes ownership of the new value.
func (s *Scope) Assign(name string, v *value.Value) {
	s.vars[name] = v
}

// Unassign removes name's binding from this scope, if any.
func (s *Scope) Unassign(name string) {
	delete(s.vars, name)
}

// Lookup returns the value bound to name in this scope, optionally
// walking the parent chain, and whether it was found.
func (s *Scope) Lookup(name string, searchParents bool) (*value.Value, bool) {
	cur := s
	for cur != nil {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
		if !searchParents {
			return nil, false
		}
		cur = cur.parent
	}
	return nil, false
}

// First begins (or restarts) stateful iteration over this scope's own
// bindings and returns the first name, or ok=false if the scope is
// empty. Iteration order is unspecified but stable across the call.
func (s *Scope) First() (name string, ok bool) {
	s.iterKeys = maps.Keys(s.vars)
	s.iterPos = 0
	return s.Next()
}

// Next returns the next name in the iteration started by First, or
// ok=false when exhausted.
func (s *Scope) Next() (name string, ok bool) {
	if s.iterPos >= len(s.iterKeys) {
		return "", false
	}
	name = s.iterKeys[s.iterPos]
	s.iterPos++
	return name, true
}

// Size returns the number of bindings in this scope only.
func (s *Scope) Size() int { return len(s.vars) }

// RegisterFunc installs a host function under the name discovered by
// calling it once in documentation mode. Failure to document (an empty
// published name) is failure to register.
func (s *Scope) RegisterFunc(fn *value.ExternalFunction) error {
	doc := value.NewDocInvocation()
	if err := fn.Callable(doc); err != nil {
		return fmt.Errorf("register_func: documentation call failed: %w", err)
	}
	d := doc.Documented()
	if d.Name == "" {
		return fmt.Errorf("register_func: callable did not publish a name")
	}
	s.funcs[d.Name] = &FuncDescriptor{Name: d.Name, Fn: fn}
	return nil
}

// RegisterFuncs installs a list of host functions, as RegisterFunc.
func (s *Scope) RegisterFuncs(fns []*value.ExternalFunction) error {
	for _, fn := range fns {
		if err := s.RegisterFunc(fn); err != nil {
			return err
		}
	}
	return nil
}

// LookupFunc searches this scope then its parents for a registered host
// function.
func (s *Scope) LookupFunc(name string) (*FuncDescriptor, bool) {
	cur := s
	for cur != nil {
		if d, ok := cur.funcs[name]; ok {
			return d, true
		}
		cur = cur.parent
	}
	return nil, false
}

// ListFuncs enumerates the names of every host function visible from
// this scope (this scope and all ancestors).
func (s *Scope) ListFuncs() []string {
	seen := map[string]bool{}
	var names []string
	for cur := s; cur != nil; cur = cur.parent {
		for name := range cur.funcs {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// InsertObject appends obj to the root scope's object table,
// deduplicating by pointer identity, and returns its 1-based handle.
func (s *Scope) InsertObject(obj HostObject) int {
	root := s.Global()
	for i, existing := range root.objects {
		if existing == obj {
			return i + 1
		}
	}
	root.objects = append(root.objects, obj)
	return len(root.objects)
}

// QueryObject returns the object registered under handle, or nil if the
// handle is 0, out of range, or has been destroyed.
func (s *Scope) QueryObject(handle int) HostObject {
	root := s.Global()
	idx := handle - 1
	if idx < 0 || idx >= len(root.objects) {
		return nil
	}
	return root.objects[idx]
}

// DestroyObject removes the object registered under handle. Subsequent
// QueryObject calls with that handle return nil.
func (s *Scope) DestroyObject(handle int) {
	root := s.Global()
	idx := handle - 1
	if idx < 0 || idx >= len(root.objects) {
		return
	}
	root.objects[idx] = nil
}
