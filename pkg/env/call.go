package env

import (
	"fmt"

	"github.com/kristofer/smog/pkg/value"
)

// TreeWalker is the out-of-scope tree-walking evaluator collaborator
// invoked by Call. The compiler/parser front end supplies the concrete
// implementation; pkg/env only defines the reentrant entry point spec'd
// in §4.2, not the evaluator itself.
type TreeWalker interface {
	// Eval executes a code-function's AST body in the given child
	// scope and returns its result.
	Eval(fnNode interface{}, scope *Scope) (*value.Value, error)
}

// Call looks up name as a code-function, binds a fresh child scope with
// __args (a vector of every argument) plus each formal parameter by
// position, and invokes the tree-walking collaborator. Extra arguments
// beyond the function's declared parameters remain reachable only via
// __args. It is an error to call with fewer arguments than the
// function declares.
func (s *Scope) Call(walker TreeWalker, name string, args []*value.Value, result *value.Value) error {
	fnVal, ok := s.Lookup(name, true)
	if !ok {
		return fmt.Errorf("call: undefined function %q", name)
	}
	fnVal, err := fnVal.Deref()
	if err != nil {
		return err
	}
	if fnVal.Type() != value.TypeCodeFunction {
		return fmt.Errorf("call: %q is not a code function", name)
	}
	node := fnVal.CodeFuncNode()

	params, minArgs := functionSignature(node)
	if len(args) < minArgs {
		return fmt.Errorf("call: %q expects at least %d arguments, got %d", name, minArgs, len(args))
	}

	child := s.NewChild()
	argsVec := value.New()
	argsVec.EmptyVector()
	for _, a := range args {
		argsVec.Append(a.Clone())
	}
	child.Assign("__args", argsVec)

	for i, p := range params {
		if i >= len(args) {
			break
		}
		child.Assign(p, args[i].Clone())
	}

	out, err := walker.Eval(node, child)
	if err != nil {
		return err
	}
	result.Copy(out)
	return nil
}

// functionSignature reads a function node's formal parameter names from
// its ParamNames() []string method, and every parameter is required; a
// node without that method yields no parameters. Declared here as a var
// so pkg/env has no compile-time dependency on pkg/ast.
var functionSignature = func(node interface{}) (params []string, minArgs int) {
	type paramNamed interface{ ParamNames() []string }
	if pn, ok := node.(paramNamed); ok {
		names := pn.ParamNames()
		return names, len(names)
	}
	return nil, 0
}
