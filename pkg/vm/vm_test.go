package vm_test

import (
	"testing"

	"github.com/kristofer/smog/pkg/compiler"
	"github.com/kristofer/smog/pkg/env"
	"github.com/kristofer/smog/pkg/lexer"
	"github.com/kristofer/smog/pkg/parser"
	"github.com/kristofer/smog/pkg/vm"
)

// run compiles and executes source against a fresh VM and root scope,
// returning the VM and its root frame's scope, which holds the
// program's top-level bindings (such as `result`).
func run(t *testing.T, source string) (*vm.VM, *env.Scope) {
	t.Helper()
	l := lexer.New(source, "<test>")
	program, errs := parser.ParseProgram(l, "<test>")
	if len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	c := compiler.New()
	bc, err := c.Compile(program)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	root := env.New()
	v := vm.New()
	v.Load(bc)
	v.Initialize(root)
	if err := v.Run(vm.Normal); err != nil {
		t.Fatalf("runtime error: %v", err)
	}
	return v, v.Frames()[0].Scope
}

func TestVMArithmetic(t *testing.T) {
	_, root := run(t, `result = 1 + 2 * 3;`)
	v, ok := root.Lookup("result", false)
	if !ok {
		t.Fatal("result not bound")
	}
	n, err := v.AsNumber()
	if err != nil {
		t.Fatalf("AsNumber: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7, got %v", n)
	}
}

func TestVMStringConcatenation(t *testing.T) {
	_, root := run(t, `result = "foo" + "bar";`)
	v, _ := root.Lookup("result", false)
	s, err := v.AsString()
	if err != nil {
		t.Fatalf("AsString: %v", err)
	}
	if s != "foobar" {
		t.Errorf("expected foobar, got %q", s)
	}
}

func TestVMWhileLoop(t *testing.T) {
	_, root := run(t, `
i = 0;
sum = 0;
while (i < 5) {
	sum = sum + i;
	i = i + 1;
}
result = sum;
`)
	v, _ := root.Lookup("result", false)
	n, _ := v.AsNumber()
	if n != 10 {
		t.Errorf("expected 10, got %v", n)
	}
}

func TestVMForLoopBreakContinue(t *testing.T) {
	_, root := run(t, `
total = 0;
for (i = 0; i < 10; i++) {
	if (i == 3) { continue; }
	if (i == 5) { break; }
	total = total + i;
}
result = total;
`)
	v, _ := root.Lookup("result", false)
	n, _ := v.AsNumber()
	// 0+1+2+4 = 7 (3 skipped by continue, loop breaks before 5 is added)
	if n != 7 {
		t.Errorf("expected 7, got %v", n)
	}
}

func TestVMFunctionCallAndReturn(t *testing.T) {
	_, root := run(t, `
function add(a, b) {
	return a + b;
}
result = add(3, 4);
`)
	v, _ := root.Lookup("result", false)
	n, _ := v.AsNumber()
	if n != 7 {
		t.Errorf("expected 7, got %v", n)
	}
}

func TestVMRecursiveFunction(t *testing.T) {
	_, root := run(t, `
function fact(n) {
	if (n < 2) { return 1; }
	return n * fact(n - 1);
}
result = fact(5);
`)
	v, _ := root.Lookup("result", false)
	n, _ := v.AsNumber()
	if n != 120 {
		t.Errorf("expected 120, got %v", n)
	}
}

func TestVMVectorAndIndex(t *testing.T) {
	_, root := run(t, `
v = [1, 2, 3];
v[1] = 99;
result = v[1];
`)
	v, _ := root.Lookup("result", false)
	n, _ := v.AsNumber()
	if n != 99 {
		t.Errorf("expected 99, got %v", n)
	}
}

func TestVMTableKeyAccess(t *testing.T) {
	_, root := run(t, `
t = {x: 1, y: 2};
t.x = t.x + t.y;
result = t.x;
`)
	v, _ := root.Lookup("result", false)
	n, _ := v.AsNumber()
	if n != 3 {
		t.Errorf("expected 3, got %v", n)
	}
}

func TestVMDivisionByZeroIsQuietNaN(t *testing.T) {
	_, root := run(t, `result = 1 / 0;`)
	v, _ := root.Lookup("result", false)
	n, err := v.AsNumber()
	if err != nil {
		t.Fatalf("AsNumber: %v", err)
	}
	if n == n {
		t.Errorf("expected NaN, got %v", n)
	}
}
