// Package compiler walks an ast.Program and emits the flat instruction
// stream, constant pool, identifier pool, and parallel debug-position
// table that bytecode.Bytecode carries and pkg/vm executes.
//
// Function bodies (define/function) are compiled out of line: the
// compiler emits a jump around the body at the point the literal
// appears, compiles the body where that jump lands, then backpatches
// the jump's target to the first instruction after the body and emits
// FREF with the body's start address at the original call site. This
// mirrors how the teacher's compiler backpatches branch targets for
// if/while, generalized to functions.
package compiler

import (
	"fmt"

	"github.com/kristofer/smog/pkg/ast"
	"github.com/kristofer/smog/pkg/bytecode"
	"github.com/kristofer/smog/pkg/value"
)

// Compiler holds the in-progress program image for one compilation.
type Compiler struct {
	program     []bytecode.Instruction
	debug       []bytecode.DebugPos
	constants   []*value.Value
	constIndex  map[string]uint32
	identifiers []string
	identIndex  map[string]uint32

	// loop tracks break/continue targets for the innermost enclosing
	// while/for, so nested loops backpatch the correct jumps.
	loopBreaks    [][]int
	loopContinues [][]int
}

// New creates an empty Compiler.
func New() *Compiler {
	return &Compiler{
		constIndex: make(map[string]uint32),
		identIndex: make(map[string]uint32),
	}
}

// Compile compiles an entire program, returning the finished image. The
// top-level statement list runs as the root frame's body; an OpEND is
// appended so execution halts cleanly if control falls off the end.
func (c *Compiler) Compile(program *ast.Program) (*bytecode.Bytecode, error) {
	for _, stmt := range program.Statements {
		if err := c.compileStatement(stmt); err != nil {
			return nil, err
		}
	}
	c.emit(bytecode.OpEND, 0, ast.Pos{})

	return &bytecode.Bytecode{
		Program:     c.program,
		Constants:   c.constants,
		Identifiers: c.identifiers,
		Debug:       c.debug,
	}, nil
}

// --- pool management ---

func (c *Compiler) emit(op bytecode.Opcode, arg uint32, pos ast.Pos) int {
	c.program = append(c.program, bytecode.Instruction{Op: op, Arg: arg})
	c.debug = append(c.debug, bytecode.DebugPos{File: pos.File, Line: pos.Line})
	return len(c.program) - 1
}

func (c *Compiler) patch(addr int, arg uint32) {
	c.program[addr].Arg = arg
}

func (c *Compiler) here() uint32 { return uint32(len(c.program)) }

func (c *Compiler) identifier(name string) uint32 {
	if idx, ok := c.identIndex[name]; ok {
		return idx
	}
	idx := uint32(len(c.identifiers))
	c.identifiers = append(c.identifiers, name)
	c.identIndex[name] = idx
	return idx
}

func (c *Compiler) numberConstant(n float64) uint32 {
	key := fmt.Sprintf("n:%v", n)
	if idx, ok := c.constIndex[key]; ok {
		return idx
	}
	v := value.New()
	v.AssignNumber(n)
	idx := uint32(len(c.constants))
	c.constants = append(c.constants, v)
	c.constIndex[key] = idx
	return idx
}

func (c *Compiler) stringConstant(s string) uint32 {
	key := "s:" + s
	if idx, ok := c.constIndex[key]; ok {
		return idx
	}
	v := value.New()
	v.AssignString(s)
	idx := uint32(len(c.constants))
	c.constants = append(c.constants, v)
	c.constIndex[key] = idx
	return idx
}

// --- statements ---

func (c *Compiler) compileStatement(stmt ast.Statement) error {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		if err := c.compileExpr(s.Expr); err != nil {
			return err
		}
		c.emit(bytecode.OpPOP, 0, s.Position())
		return nil

	case *ast.Block:
		for _, inner := range s.Statements {
			if err := c.compileStatement(inner); err != nil {
				return err
			}
		}
		return nil

	case *ast.If:
		return c.compileIf(s)

	case *ast.While:
		return c.compileWhile(s)

	case *ast.For:
		return c.compileFor(s)

	case *ast.Return:
		if s.Value != nil {
			if err := c.compileExpr(s.Value); err != nil {
				return err
			}
		} else {
			c.emit(bytecode.OpNUL, 0, s.Position())
		}
		c.emit(bytecode.OpRET, 0, s.Position())
		return nil

	case *ast.Break:
		if len(c.loopBreaks) == 0 {
			return fmt.Errorf("%s:%d: break outside of a loop", s.Position().File, s.Position().Line)
		}
		addr := c.emit(bytecode.OpJ, 0, s.Position())
		top := len(c.loopBreaks) - 1
		c.loopBreaks[top] = append(c.loopBreaks[top], addr)
		return nil

	case *ast.Continue:
		if len(c.loopContinues) == 0 {
			return fmt.Errorf("%s:%d: continue outside of a loop", s.Position().File, s.Position().Line)
		}
		addr := c.emit(bytecode.OpJ, 0, s.Position())
		top := len(c.loopContinues) - 1
		c.loopContinues[top] = append(c.loopContinues[top], addr)
		return nil

	case *ast.FuncStatement:
		addr, err := c.compileFuncBody(s.Fn)
		if err != nil {
			return err
		}
		c.emit(bytecode.OpFREF, addr, s.Position())
		c.emit(bytecode.OpCREF, c.identifier(s.Name), s.Position())
		c.emit(bytecode.OpWR, 0, s.Position())
		c.emit(bytecode.OpPOP, 0, s.Position())
		return nil

	default:
		return fmt.Errorf("compiler: unhandled statement type %T", stmt)
	}
}

func (c *Compiler) compileIf(s *ast.If) error {
	if err := c.compileExpr(s.Cond); err != nil {
		return err
	}
	jf := c.emit(bytecode.OpJF, 0, s.Position())
	if err := c.compileStatement(s.Then); err != nil {
		return err
	}
	if s.Else == nil {
		c.patch(jf, c.here())
		return nil
	}
	jEnd := c.emit(bytecode.OpJ, 0, s.Position())
	c.patch(jf, c.here())
	if err := c.compileStatement(s.Else); err != nil {
		return err
	}
	c.patch(jEnd, c.here())
	return nil
}

func (c *Compiler) compileWhile(s *ast.While) error {
	c.loopBreaks = append(c.loopBreaks, nil)
	c.loopContinues = append(c.loopContinues, nil)

	top := c.here()
	if err := c.compileExpr(s.Cond); err != nil {
		return err
	}
	jf := c.emit(bytecode.OpJF, 0, s.Position())
	if err := c.compileStatement(s.Body); err != nil {
		return err
	}
	c.emit(bytecode.OpJ, top, s.Position())
	end := c.here()
	c.patch(jf, end)

	c.resolveLoop(top, end)
	return nil
}

func (c *Compiler) compileFor(s *ast.For) error {
	if s.Init != nil {
		if err := c.compileStatement(s.Init); err != nil {
			return err
		}
	}
	c.loopBreaks = append(c.loopBreaks, nil)
	c.loopContinues = append(c.loopContinues, nil)

	top := c.here()
	var jf int
	haveCond := s.Cond != nil
	if haveCond {
		if err := c.compileExpr(s.Cond); err != nil {
			return err
		}
		jf = c.emit(bytecode.OpJF, 0, s.Position())
	}
	if err := c.compileStatement(s.Body); err != nil {
		return err
	}
	advAddr := c.here()
	if s.Adv != nil {
		if err := c.compileStatement(s.Adv); err != nil {
			return err
		}
	}
	c.emit(bytecode.OpJ, top, s.Position())
	end := c.here()
	if haveCond {
		c.patch(jf, end)
	}

	// continue jumps to the advance step, not to top, so `for(;;i++)`
	// still runs the increment before re-testing the condition.
	c.resolveLoop(advAddr, end)
	return nil
}

func (c *Compiler) resolveLoop(continueTarget, breakTarget uint32) {
	for _, addr := range c.loopContinues[len(c.loopContinues)-1] {
		c.patch(addr, continueTarget)
	}
	c.loopContinues = c.loopContinues[:len(c.loopContinues)-1]
	for _, addr := range c.loopBreaks[len(c.loopBreaks)-1] {
		c.patch(addr, breakTarget)
	}
	c.loopBreaks = c.loopBreaks[:len(c.loopBreaks)-1]
}

// compileFuncBody emits a jump around a function body, compiles the
// body at the landing address, and returns that address for FREF.
func (c *Compiler) compileFuncBody(fn *ast.FuncDef) (uint32, error) {
	jmp := c.emit(bytecode.OpJ, 0, fn.Position())
	addr := c.here()

	for _, param := range fn.Params {
		c.emit(bytecode.OpARG, c.identifier(param), fn.Position())
	}
	for _, stmt := range fn.Body {
		if err := c.compileStatement(stmt); err != nil {
			return 0, err
		}
	}
	// Implicit `return null;` if control falls off the end of the body.
	c.emit(bytecode.OpNUL, 0, fn.Position())
	c.emit(bytecode.OpRET, 0, fn.Position())

	c.patch(jmp, c.here())
	return addr, nil
}

// --- expressions ---

func (c *Compiler) compileExpr(expr ast.Expression) error {
	switch e := expr.(type) {
	case *ast.NumberLiteral:
		c.emit(bytecode.OpPSH, c.numberConstant(e.Value), e.Position())
		return nil

	case *ast.StringLiteral:
		c.emit(bytecode.OpPSH, c.stringConstant(e.Value), e.Position())
		return nil

	case *ast.NullLiteral:
		c.emit(bytecode.OpNUL, 0, e.Position())
		return nil

	case *ast.Identifier, *ast.Index, *ast.Key:
		return c.emitRef(expr, false)

	case *ast.TypeOf:
		c.emit(bytecode.OpTYP, c.identifier(e.Name), e.Position())
		return nil

	case *ast.UnaryOp:
		return c.compileUnary(e)

	case *ast.BinaryOp:
		if err := c.compileExpr(e.Left); err != nil {
			return err
		}
		if err := c.compileExpr(e.Right); err != nil {
			return err
		}
		op, ok := binaryOpcodes[e.Op]
		if !ok {
			return fmt.Errorf("%s:%d: unsupported operator %q", e.Position().File, e.Position().Line, e.Op)
		}
		c.emit(op, 0, e.Position())
		return nil

	case *ast.Assign:
		return c.compileAssign(e)

	case *ast.Erase:
		if err := c.emitRef(e.Container, false); err != nil {
			return err
		}
		if err := c.compileExpr(e.Selector); err != nil {
			return err
		}
		c.emit(bytecode.OpMAT, 0, e.Position())
		return nil

	case *ast.WhereAt:
		if err := c.emitRef(e.Container, false); err != nil {
			return err
		}
		if err := c.compileExpr(e.Selector); err != nil {
			return err
		}
		c.emit(bytecode.OpWAT, 0, e.Position())
		return nil

	case *ast.VectorLiteral:
		for _, elem := range e.Elements {
			if err := c.compileExpr(elem); err != nil {
				return err
			}
		}
		c.emit(bytecode.OpVEC, uint32(len(e.Elements)), e.Position())
		return nil

	case *ast.HashLiteral:
		for _, entry := range e.Entries {
			c.emit(bytecode.OpPSH, c.stringConstant(entry.Key), e.Position())
			if err := c.compileExpr(entry.Value); err != nil {
				return err
			}
		}
		c.emit(bytecode.OpHASH, uint32(len(e.Entries)), e.Position())
		return nil

	case *ast.FuncDef:
		addr, err := c.compileFuncBody(e)
		if err != nil {
			return err
		}
		c.emit(bytecode.OpFREF, addr, e.Position())
		return nil

	case *ast.Call:
		return c.compileCall(e)

	case *ast.MethodCall:
		return c.compileMethodCall(e)

	default:
		return fmt.Errorf("compiler: unhandled expression type %T", expr)
	}
}

var binaryOpcodes = map[string]bytecode.Opcode{
	"+": bytecode.OpADD, "-": bytecode.OpSUB, "*": bytecode.OpMUL,
	"/": bytecode.OpDIV, "^": bytecode.OpEXP,
	"<": bytecode.OpLT, "<=": bytecode.OpLE, ">": bytecode.OpGT, ">=": bytecode.OpGE,
	"==": bytecode.OpEQ, "!=": bytecode.OpNE,
	"&&": bytecode.OpAND, "||": bytecode.OpOR,
}

var compoundBase = map[string]string{
	"+=": "+", "-=": "-", "*=": "*", "/=": "/",
}

func (c *Compiler) compileUnary(e *ast.UnaryOp) error {
	switch e.Op {
	case "-":
		if err := c.compileExpr(e.Operand); err != nil {
			return err
		}
		c.emit(bytecode.OpNEG, 0, e.Position())
		return nil
	case "!":
		if err := c.compileExpr(e.Operand); err != nil {
			return err
		}
		c.emit(bytecode.OpNOT, 0, e.Position())
		return nil
	case "@":
		if err := c.compileExpr(e.Operand); err != nil {
			return err
		}
		c.emit(bytecode.OpKEYS, 0, e.Position())
		return nil
	case "#":
		if err := c.compileExpr(e.Operand); err != nil {
			return err
		}
		c.emit(bytecode.OpSZ, 0, e.Position())
		return nil
	case "++", "--":
		if err := c.emitRef(e.Operand, false); err != nil {
			return err
		}
		if e.Op == "++" {
			c.emit(bytecode.OpINC, 0, e.Position())
		} else {
			c.emit(bytecode.OpDEC, 0, e.Position())
		}
		return nil
	default:
		return fmt.Errorf("%s:%d: unsupported unary operator %q", e.Position().File, e.Position().Line, e.Op)
	}
}

// emitRef compiles expr so that a *reference* to its storage location
// ends up on top of stack, as required by assignment targets, INC/DEC
// operands, and MAT/WAT containers. mutable controls whether NREF (vs
// RREF) and IDX/KEY's auto-vivify argument are used; it propagates
// through nested Index/Key containers so `t.a.b = 1` can create `a` as
// a table inside `t` when `t` itself is a fresh mutable binding.
func (c *Compiler) emitRef(expr ast.Expression, mutable bool) error {
	switch e := expr.(type) {
	case *ast.Identifier:
		switch {
		case e.Const:
			c.emit(bytecode.OpCREF, c.identifier(e.Name), e.Position())
		case mutable:
			c.emit(bytecode.OpNREF, c.identifier(e.Name), e.Position())
		default:
			c.emit(bytecode.OpRREF, c.identifier(e.Name), e.Position())
		}
		return nil

	case *ast.Index:
		if err := c.emitRef(e.Container, mutable); err != nil {
			return err
		}
		if err := c.compileExpr(e.Subscript); err != nil {
			return err
		}
		arg := uint32(0)
		if mutable {
			arg = 1
		}
		c.emit(bytecode.OpIDX, arg, e.Position())
		return nil

	case *ast.Key:
		if err := c.emitRef(e.Container, mutable); err != nil {
			return err
		}
		c.emit(bytecode.OpPSH, c.stringConstant(e.Name), e.Position())
		arg := uint32(0)
		if mutable {
			arg = 1
		}
		c.emit(bytecode.OpKEY, arg, e.Position())
		return nil

	default:
		// A container produced by an arbitrary expression (e.g. a call
		// result) can be read from but never auto-vivified.
		return c.compileExpr(expr)
	}
}

func (c *Compiler) compileAssign(a *ast.Assign) error {
	if base, ok := compoundBase[a.Op]; ok {
		if err := c.emitRef(a.Target, false); err != nil {
			return err
		}
		if err := c.compileExpr(a.Value); err != nil {
			return err
		}
		c.emit(binaryOpcodes[base], 0, a.Position())
		if err := c.emitRef(a.Target, true); err != nil {
			return err
		}
		c.emit(bytecode.OpWR, 0, a.Position())
		return nil
	}

	if err := c.compileExpr(a.Value); err != nil {
		return err
	}
	if err := c.emitRef(a.Target, true); err != nil {
		return err
	}
	c.emit(bytecode.OpWR, 0, a.Position())
	return nil
}

// compileCall emits a plain function call: a result placeholder, the
// arguments, the callee, then CALL n. See vm.go's OpCALL/OpTCALL
// handling - the placeholder slot is where RET ultimately deposits the
// return value (or, for a host/external function, the slot Invocation
// writes Result() into directly).
func (c *Compiler) compileCall(call *ast.Call) error {
	c.emit(bytecode.OpNUL, 0, call.Position())
	for _, arg := range call.Args {
		if err := c.compileExpr(arg); err != nil {
			return err
		}
	}
	if err := c.compileExpr(call.Callee); err != nil {
		return err
	}
	c.emit(bytecode.OpCALL, uint32(len(call.Args)), call.Position())
	return nil
}

// compileMethodCall emits `receiver->name(args)`: the receiver doubles
// as both the `this` source and the eventual result slot, followed by
// the arguments, the callee (name resolved as an ordinary identifier),
// then TCALL n.
func (c *Compiler) compileMethodCall(call *ast.MethodCall) error {
	if err := c.compileExpr(call.Receiver); err != nil {
		return err
	}
	for _, arg := range call.Args {
		if err := c.compileExpr(arg); err != nil {
			return err
		}
	}
	c.emit(bytecode.OpRREF, c.identifier(call.Name), call.Position())
	c.emit(bytecode.OpTCALL, uint32(len(call.Args)), call.Position())
	return nil
}
