// Package vm implements the stack-based bytecode virtual machine.
//
// The VM executes the four parallel artifacts described in bytecode.Bytecode
// (program, constants, identifiers, debug positions) against a value.Value
// operand stack and a stack of call frames, each frame owning an env.Scope.
// Execution never panics: every precondition failure (stack underflow,
// out-of-range constant/identifier, a failed typecheck, a host exception
// crossing CALL) is reported as a *RuntimeError return from Run, and the VM's
// internal state is left exactly as it was at the moment of failure so the
// caller can inspect the stack and frames for diagnostics.
package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/kristofer/smog/pkg/bytecode"
	"github.com/kristofer/smog/pkg/env"
	"github.com/kristofer/smog/pkg/value"
)

// RunMode selects how Run paces execution.
type RunMode int

const (
	// Normal runs to completion or error.
	Normal RunMode = iota
	// SingleStep executes exactly one instruction then returns.
	SingleStep
	// Debug runs until the next instruction whose debug line equals
	// breakLine, or completion.
	Debug
)

func (m RunMode) String() string {
	switch m {
	case Normal:
		return "normal"
	case SingleStep:
		return "single-step"
	case Debug:
		return "debug"
	default:
		return "unknown"
	}
}

// DefaultStackSize is the operand stack capacity used by New.
const DefaultStackSize = 8192

// SpecialVars is the host hook behind the GET/SET opcodes. Get must write
// its result into out; Set receives the dereferenced value being written.
type SpecialVars interface {
	Get(name string, out *value.Value) error
	Set(name string, v *value.Value) error
}

// Frame is one active call's bookkeeping: its owned scope and the state
// ARG/RET need to locate arguments on the raw stack and unwind correctly.
type Frame struct {
	Scope         *env.Scope
	FP            int // sp at the moment this frame was pushed
	ReturnAddress int
	Nargs         int
	ArgIndex      int
	ThisCall      bool
}

// VM is one interpreter instance: program state plus the preallocated
// operand stack. The stack's *value.Value slots are allocated once and
// recycled across pushes/pops via Value.Copy/Assign*/Reset rather than
// reallocated, so a VM generates no per-instruction garbage in the steady
// state.
type VM struct {
	program     []bytecode.Instruction
	constants   []*value.Value
	identifiers []string
	debug       []bytecode.DebugPos

	stack []*value.Value
	sp    int
	ip    int

	frames []*Frame

	breakLine int
	halted    bool

	// Specials backs the GET/SET opcodes. May be left nil if the
	// embedding program never emits them.
	Specials SpecialVars
}

// New returns a VM with the default stack capacity.
func New() *VM {
	return NewWithStackSize(DefaultStackSize)
}

// NewWithStackSize returns a VM whose operand stack holds at most size
// values.
func NewWithStackSize(size int) *VM {
	stack := make([]*value.Value, size)
	for i := range stack {
		stack[i] = value.New()
	}
	return &VM{stack: stack, breakLine: -1}
}

// Load replaces the VM's program state and drops all frames. Call
// Initialize afterward to begin a fresh run.
func (vm *VM) Load(bc *bytecode.Bytecode) {
	vm.program = bc.Program
	vm.constants = bc.Constants
	vm.identifiers = bc.Identifiers
	vm.debug = bc.Debug
	vm.frames = nil
	vm.sp = 0
	vm.ip = 0
	vm.halted = false
}

// Initialize clears the stack, resets ip/sp to 0, pushes a single root
// frame whose scope is a child of rootEnv, and clears the break line.
func (vm *VM) Initialize(rootEnv *env.Scope) {
	for _, slot := range vm.stack {
		slot.Reset()
	}
	vm.sp = 0
	vm.ip = 0
	vm.halted = false
	vm.breakLine = -1
	vm.frames = []*Frame{{
		Scope:         rootEnv.NewChild(),
		FP:            0,
		ReturnAddress: len(vm.program),
	}}
}

// SetBreak sets breakLine to the smallest debug line >= line and returns
// it, or -1 if no instruction has such a line.
func (vm *VM) SetBreak(line int) int {
	best := -1
	for _, d := range vm.debug {
		if d.Line >= line && (best == -1 || d.Line < best) {
			best = d.Line
		}
	}
	vm.breakLine = best
	return best
}

// IP returns the current instruction pointer.
func (vm *VM) IP() int { return vm.ip }

// SP returns the current stack pointer (count of live operand slots).
func (vm *VM) SP() int { return vm.sp }

// Halted reports whether the program has run to completion.
func (vm *VM) Halted() bool { return vm.halted }

// Frames returns the live call-frame stack, root first.
func (vm *VM) Frames() []*Frame { return vm.frames }

// Stack returns the live portion of the operand stack, bottom first.
func (vm *VM) Stack() []*value.Value { return vm.stack[:vm.sp] }

// Program exposes the loaded instruction stream, mainly for disassembly.
func (vm *VM) Program() []bytecode.Instruction { return vm.program }

// Debug exposes the loaded debug-position table.
func (vm *VM) Debug() []bytecode.DebugPos { return vm.debug }

func (vm *VM) currentFrame() *Frame { return vm.frames[len(vm.frames)-1] }

func (vm *VM) currentScope() *env.Scope { return vm.currentFrame().Scope }

// Run executes according to mode until completion, a debug breakpoint, a
// single step's completion, or an error. A nil return with Halted()==false
// under Debug mode means a breakpoint was hit; the caller may inspect state
// and call Run again to resume.
func (vm *VM) Run(mode RunMode) error {
	switch mode {
	case SingleStep:
		if vm.halted {
			return nil
		}
		return vm.step()
	case Debug:
		for !vm.halted {
			if vm.atBreakLine() {
				return nil
			}
			if err := vm.step(); err != nil {
				return err
			}
		}
		return nil
	default:
		for !vm.halted {
			if err := vm.step(); err != nil {
				return err
			}
		}
		return nil
	}
}

func (vm *VM) atBreakLine() bool {
	if vm.breakLine < 0 || vm.ip >= len(vm.debug) {
		return false
	}
	return vm.debug[vm.ip].Line == vm.breakLine
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// fail builds a RuntimeError carrying the current ip, the opcode name, and
// a snapshot of every active frame for diagnostics.
func (vm *VM) fail(op bytecode.Opcode, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	trace := make([]StackFrame, len(vm.frames))
	for i, f := range vm.frames {
		ip := vm.ip
		if i+1 < len(vm.frames) {
			// An outer frame sits at the call that pushed the next frame.
			ip = vm.frames[i+1].ReturnAddress - 1
		}
		sf := StackFrame{IP: ip, FP: f.FP}
		if ip >= 0 && ip < len(vm.debug) {
			sf.SourceFile = vm.debug[ip].File
			sf.SourceLine = vm.debug[ip].Line
		}
		trace[i] = sf
	}
	return newRuntimeError(msg, vm.ip, op.String(), trace)
}

func (vm *VM) requireArgs(op bytecode.Opcode, n int) error {
	if vm.sp < n {
		return vm.fail(op, "stack corruption: need %d operand(s), have %d", n, vm.sp)
	}
	return nil
}

// reserve grows the stack by one slot, reset to null, and returns it.
func (vm *VM) reserve(op bytecode.Opcode) (*value.Value, error) {
	if vm.sp >= len(vm.stack) {
		return nil, vm.fail(op, "stack overflow")
	}
	slot := vm.stack[vm.sp]
	slot.Reset()
	vm.sp++
	return slot, nil
}

// binaryOperands returns the second-from-top ("lhs") and top ("rhs")
// slots without popping, per §4.3.2's operand-stack conventions.
func (vm *VM) binaryOperands(op bytecode.Opcode) (lhs, rhs *value.Value, err error) {
	if err := vm.requireArgs(op, 2); err != nil {
		return nil, nil, err
	}
	return vm.stack[vm.sp-2], vm.stack[vm.sp-1], nil
}

func (vm *VM) checkIdentifier(op bytecode.Opcode, arg uint32) (string, error) {
	if int(arg) >= len(vm.identifiers) {
		return "", vm.fail(op, "identifier index out of range: %d", arg)
	}
	return vm.identifiers[arg], nil
}

// step executes exactly one instruction.
func (vm *VM) step() error {
	if vm.ip >= len(vm.program) {
		vm.halted = true
		return nil
	}
	ins := vm.program[vm.ip]
	op := ins.Op
	arg := ins.Arg
	nextIP := vm.ip + 1

	switch op {
	case bytecode.OpPSH:
		if int(arg) >= len(vm.constants) {
			return vm.fail(op, "constant index out of range: %d", arg)
		}
		slot, err := vm.reserve(op)
		if err != nil {
			return err
		}
		slot.Copy(vm.constants[arg])

	case bytecode.OpPOP:
		if err := vm.requireArgs(op, 1); err != nil {
			return err
		}
		vm.sp--

	case bytecode.OpNUL:
		if _, err := vm.reserve(op); err != nil {
			return err
		}

	case bytecode.OpDUP:
		if err := vm.requireArgs(op, 1); err != nil {
			return err
		}
		slot, err := vm.reserve(op)
		if err != nil {
			return err
		}
		slot.Copy(vm.stack[vm.sp-2])

	case bytecode.OpJ:
		nextIP = int(arg)

	case bytecode.OpJT, bytecode.OpJF:
		if err := vm.requireArgs(op, 1); err != nil {
			return err
		}
		top := vm.stack[vm.sp-1]
		b, err := top.AsBoolean()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		vm.sp--
		if (op == bytecode.OpJT) == b {
			nextIP = int(arg)
		}

	case bytecode.OpRREF, bytecode.OpNREF, bytecode.OpCREF:
		name, err := vm.checkIdentifier(op, arg)
		if err != nil {
			return err
		}
		scope := vm.currentScope()
		if fd, ok := scope.LookupFunc(name); ok {
			slot, err := vm.reserve(op)
			if err != nil {
				return err
			}
			slot.AssignExternalFunction(fd.Fn)
			break
		}
		if v, ok := scope.Lookup(name, true); ok {
			slot, err := vm.reserve(op)
			if err != nil {
				return err
			}
			slot.AssignReference(v)
			break
		}
		if op == bytecode.OpRREF {
			return vm.fail(op, "referencing unassigned variable: %s", name)
		}
		fresh := value.New()
		if op == bytecode.OpCREF {
			fresh.SetFlag(value.FlagConstant)
			fresh.ClearFlag(value.FlagAssigned)
		}
		scope.Assign(name, fresh)
		slot, err := vm.reserve(op)
		if err != nil {
			return err
		}
		slot.AssignReference(fresh)

	case bytecode.OpFREF:
		slot, err := vm.reserve(op)
		if err != nil {
			return err
		}
		slot.AssignInternalFunction(arg)

	case bytecode.OpGET:
		name, err := vm.checkIdentifier(op, arg)
		if err != nil {
			return err
		}
		slot, err := vm.reserve(op)
		if err != nil {
			return err
		}
		if vm.Specials == nil {
			return vm.fail(op, "special variable not handled: %s", name)
		}
		if err := vm.Specials.Get(name, slot); err != nil {
			return vm.fail(op, "failed to read special variable %q: %v", name, err)
		}

	case bytecode.OpSET:
		name, err := vm.checkIdentifier(op, arg)
		if err != nil {
			return err
		}
		if err := vm.requireArgs(op, 1); err != nil {
			return err
		}
		target, err := vm.stack[vm.sp-1].Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		if vm.Specials == nil {
			return vm.fail(op, "special variable not handled: %s", name)
		}
		if err := vm.Specials.Set(name, target); err != nil {
			return vm.fail(op, "failed to write special variable %q: %v", name, err)
		}
		vm.sp--

	case bytecode.OpTYP:
		name, err := vm.checkIdentifier(op, arg)
		if err != nil {
			return err
		}
		slot, err := vm.reserve(op)
		if err != nil {
			return err
		}
		if v, ok := vm.currentScope().Lookup(name, true); ok {
			d, err := v.Deref()
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			slot.AssignString(d.TypeName())
		} else {
			slot.AssignString("unknown")
		}

	case bytecode.OpADD:
		lhs, rhs, err := vm.binaryOperands(op)
		if err != nil {
			return err
		}
		lhsD, err := lhs.Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		rhsD, err := rhs.Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		if lhsD.Type() == value.TypeString || rhsD.Type() == value.TypeString {
			ls, _ := lhs.AsString()
			rs, _ := rhs.AsString()
			lhs.AssignString(ls + rs)
		} else {
			ln, _ := lhs.AsNumber()
			rn, _ := rhs.AsNumber()
			lhs.AssignNumber(ln + rn)
		}
		vm.sp--

	case bytecode.OpSUB, bytecode.OpMUL, bytecode.OpEXP, bytecode.OpDIV:
		lhs, rhs, err := vm.binaryOperands(op)
		if err != nil {
			return err
		}
		ln, _ := lhs.AsNumber()
		rn, _ := rhs.AsNumber()
		switch op {
		case bytecode.OpSUB:
			lhs.AssignNumber(ln - rn)
		case bytecode.OpMUL:
			lhs.AssignNumber(ln * rn)
		case bytecode.OpEXP:
			lhs.AssignNumber(math.Pow(ln, rn))
		case bytecode.OpDIV:
			if rn == 0.0 {
				lhs.AssignNumber(math.NaN())
			} else {
				lhs.AssignNumber(ln / rn)
			}
		}
		vm.sp--

	case bytecode.OpLT, bytecode.OpLE, bytecode.OpGT, bytecode.OpGE, bytecode.OpEQ, bytecode.OpNE:
		lhs, rhs, err := vm.binaryOperands(op)
		if err != nil {
			return err
		}
		lt, err := lhs.LessThan(rhs)
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		eq, err := lhs.Equals(rhs)
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		var out bool
		switch op {
		case bytecode.OpLT:
			out = lt
		case bytecode.OpLE:
			out = lt || eq
		case bytecode.OpGT:
			out = !lt && !eq
		case bytecode.OpGE:
			out = !lt
		case bytecode.OpEQ:
			out = eq
		case bytecode.OpNE:
			out = !eq
		}
		lhs.AssignNumber(boolNum(out))
		vm.sp--

	case bytecode.OpAND, bytecode.OpOR:
		lhs, rhs, err := vm.binaryOperands(op)
		if err != nil {
			return err
		}
		ln, _ := lhs.AsNumber()
		rn, _ := rhs.AsNumber()
		lb, rb := int64(ln) != 0, int64(rn) != 0
		var out bool
		if op == bytecode.OpAND {
			out = lb && rb
		} else {
			out = lb || rb
		}
		lhs.AssignNumber(boolNum(out))
		vm.sp--

	case bytecode.OpNOT:
		if err := vm.requireArgs(op, 1); err != nil {
			return err
		}
		top := vm.stack[vm.sp-1]
		n, err := top.AsNumber()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		top.AssignNumber(boolNum(int64(n) == 0))

	case bytecode.OpNEG:
		if err := vm.requireArgs(op, 1); err != nil {
			return err
		}
		top := vm.stack[vm.sp-1]
		n, err := top.AsNumber()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		top.AssignNumber(-n)

	case bytecode.OpINC, bytecode.OpDEC:
		if err := vm.requireArgs(op, 1); err != nil {
			return err
		}
		target, err := vm.stack[vm.sp-1].Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		n, err := target.AsNumber()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		if op == bytecode.OpINC {
			target.AssignNumber(n + 1.0)
		} else {
			target.AssignNumber(n - 1.0)
		}

	case bytecode.OpIDX:
		lhs, rhs, err := vm.binaryOperands(op)
		if err != nil {
			return err
		}
		idx, err := rhs.AsUint()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		container, err := lhs.Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		mutable := arg != 0
		if mutable && (container.Type() != value.TypeVector || container.Len() <= int(idx)) {
			container.Resize(int(idx) + 1)
		}
		elem, err := container.Index(int(idx))
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		lhs.AssignReference(elem)
		vm.sp--

	case bytecode.OpKEY:
		lhs, rhs, err := vm.binaryOperands(op)
		if err != nil {
			return err
		}
		key, err := rhs.AsString()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		container, err := lhs.Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		mutable := arg != 0
		if mutable && container.Type() != value.TypeTable {
			container.EmptyTable()
		}
		var elem *value.Value
		if mutable {
			elem, err = container.HashItem(key)
			if err != nil {
				return vm.fail(op, "%v", err)
			}
		} else {
			if container.Type() != value.TypeTable {
				return vm.fail(op, "key access on non-table")
			}
			elem, err = container.Lookup(key)
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			if elem == nil {
				return vm.fail(op, "undefined table key: %s", key)
			}
		}
		lhs.AssignReference(elem)
		vm.sp--

	case bytecode.OpMAT:
		lhs, rhs, err := vm.binaryOperands(op)
		if err != nil {
			return err
		}
		container, err := lhs.Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		switch container.Type() {
		case value.TypeTable:
			key, err := rhs.AsString()
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			container.Remove(key)
		case value.TypeVector:
			idx, err := rhs.AsUint()
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			if int(idx) < container.Len() {
				if err := container.Remove(fmt.Sprintf("%d", idx)); err != nil {
					return vm.fail(op, "%v", err)
				}
			}
		default:
			return vm.fail(op, "-@ requires a table or vector")
		}
		vm.sp--

	case bytecode.OpWAT:
		lhs, rhs, err := vm.binaryOperands(op)
		if err != nil {
			return err
		}
		container, err := lhs.Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		switch container.Type() {
		case value.TypeTable:
			key, err := rhs.AsString()
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			entry, err := container.Lookup(key)
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			lhs.AssignNumber(boolNum(entry != nil))
		case value.TypeVector:
			found := -1.0
			for i := 0; i < container.Len(); i++ {
				elem, _ := container.Index(i)
				eq, err := elem.Equals(rhs)
				if err != nil {
					return vm.fail(op, "%v", err)
				}
				if eq {
					found = float64(i)
					break
				}
			}
			lhs.AssignNumber(found)
		case value.TypeString:
			needle, err := rhs.AsString()
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			lhs.AssignNumber(float64(strings.Index(container.RawString(), needle)))
		default:
			return vm.fail(op, "?@ requires a table, vector, or string")
		}
		vm.sp--

	case bytecode.OpSZ:
		if err := vm.requireArgs(op, 1); err != nil {
			return err
		}
		top := vm.stack[vm.sp-1]
		target, err := top.Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		switch target.Type() {
		case value.TypeVector:
			top.AssignNumber(float64(target.Len()))
		case value.TypeString:
			top.AssignNumber(float64(len(target.RawString())))
		case value.TypeTable:
			count, err := countLiveEntries(target)
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			top.AssignNumber(float64(count))
		default:
			return vm.fail(op, "operand to sz must be a vector, string, or table")
		}

	case bytecode.OpKEYS:
		if err := vm.requireArgs(op, 1); err != nil {
			return err
		}
		top := vm.stack[vm.sp-1]
		target, err := top.Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		if target.Type() != value.TypeTable {
			return vm.fail(op, "operand to keys must be a table")
		}
		allKeys, err := target.Keys()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		filtered := make([]string, 0, len(allKeys))
		for _, k := range allKeys {
			entry, _ := target.Lookup(k)
			d, derr := entry.Deref()
			if derr != nil {
				return vm.fail(op, "%v", derr)
			}
			if d.Type() != value.TypeNull {
				filtered = append(filtered, k)
			}
		}
		top.EmptyVector()
		for _, k := range filtered {
			elem := value.New()
			elem.AssignString(k)
			top.Append(elem)
		}
		// Deliberately falls through to normal continuation here,
		// unlike the source this opcode is grounded on, which returns
		// from the whole run loop right after building the vector.

	case bytecode.OpWR:
		lhs, rhs, err := vm.binaryOperands(op)
		if err != nil {
			return err
		}
		target, err := rhs.Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		if target.HasFlag(value.FlagConstant) && target.HasFlag(value.FlagAssigned) {
			return vm.fail(op, "assignment to constant")
		}
		src, err := lhs.Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}
		target.Copy(src)
		target.SetFlag(value.FlagAssigned)
		vm.sp--

	case bytecode.OpVEC:
		n := int(arg)
		if err := vm.requireArgs(op, n); err != nil {
			return err
		}
		if n == 0 {
			slot, err := vm.reserve(op)
			if err != nil {
				return err
			}
			slot.EmptyVector()
			break
		}
		elems := make([]*value.Value, n)
		for i := 0; i < n; i++ {
			d, err := vm.stack[vm.sp-n+i].Deref()
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			elems[i] = d.Clone()
		}
		base := vm.stack[vm.sp-n]
		base.EmptyVector()
		for _, e := range elems {
			base.Append(e)
		}
		vm.sp -= n - 1

	case bytecode.OpHASH:
		n := int(arg)
		total := n * 2
		if err := vm.requireArgs(op, total); err != nil {
			return err
		}
		if n == 0 {
			slot, err := vm.reserve(op)
			if err != nil {
				return err
			}
			slot.EmptyTable()
			break
		}
		type kv struct {
			key string
			val *value.Value
		}
		pairs := make([]kv, n)
		for i := 0; i < n; i++ {
			keySlot := vm.stack[vm.sp-total+2*i]
			valSlot := vm.stack[vm.sp-total+2*i+1]
			k, err := keySlot.AsString()
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			v, err := valSlot.Deref()
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			pairs[i] = kv{key: k, val: v.Clone()}
		}
		base := vm.stack[vm.sp-total]
		base.EmptyTable()
		for _, p := range pairs {
			item, err := base.HashItem(p.key)
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			item.Copy(p.val)
		}
		vm.sp -= total - 1

	case bytecode.OpARG:
		name, err := vm.checkIdentifier(op, arg)
		if err != nil {
			return err
		}
		frame := vm.currentFrame()
		if frame.ArgIndex >= frame.Nargs {
			return vm.fail(op, "too few arguments passed to function")
		}
		offset := 1
		if frame.ThisCall {
			offset = 2
		}
		idx := frame.FP - frame.Nargs - offset + frame.ArgIndex
		if idx < 0 || idx >= len(vm.stack) {
			return vm.fail(op, "argument index out of range")
		}
		ref := value.New()
		ref.AssignReference(vm.stack[idx])
		frame.Scope.Assign(name, ref)
		frame.ArgIndex++

	case bytecode.OpCALL, bytecode.OpTCALL:
		n := int(arg)
		if err := vm.requireArgs(op, n+2); err != nil {
			return err
		}
		calleeSlot := vm.stack[vm.sp-1]
		callee, err := calleeSlot.Deref()
		if err != nil {
			return vm.fail(op, "%v", err)
		}

		switch {
		case callee.Type() == value.TypeExternalFunction && op == bytecode.OpCALL:
			fn := callee.ExternalFuncDescriptor()
			result := vm.stack[vm.sp-n-2]
			args := make([]*value.Value, n)
			for i := 0; i < n; i++ {
				args[i] = vm.stack[vm.sp-n-1+i].Clone()
			}
			inv := value.NewInvocation(vm.currentScope(), result, args, fn.UserData)
			if err := invokeExternal(fn, inv); err != nil {
				return vm.fail(op, "%v", err)
			}
			vm.sp -= n + 1

		case callee.Type() == value.TypeInternalFunction:
			offset := 1
			thisCall := op == bytecode.OpTCALL
			if thisCall {
				offset = 2
			}

			child := vm.currentScope().NewChild()
			frame := &Frame{Scope: child, FP: vm.sp, ReturnAddress: nextIP, Nargs: n, ThisCall: thisCall}

			argsVec := value.New()
			argsVec.EmptyVector()
			for i := 0; i < n; i++ {
				elem := value.New()
				elem.Copy(vm.stack[vm.sp-n-offset+i])
				argsVec.Append(elem)
			}
			child.Assign("__args", argsVec)

			if thisCall {
				thisVal := value.New()
				thisVal.Copy(vm.stack[vm.sp-2])
				child.Assign("this", thisVal)
			}

			vm.frames = append(vm.frames, frame)
			nextIP = int(callee.InternalFuncAddress())

		default:
			return vm.fail(op, "invalid function access")
		}

	case bytecode.OpRET:
		if len(vm.frames) > 1 {
			if vm.sp < 1 {
				return vm.fail(op, "stack corruption upon function return")
			}
			result := vm.stack[vm.sp-1]
			resultD, err := result.Deref()
			if err != nil {
				return vm.fail(op, "%v", err)
			}
			frame := vm.currentFrame()
			// The call site always leaves Nargs+2 slots below FP (the
			// result placeholder or this-call receiver, the arguments,
			// and the callee/method reference), matching the
			// external-function branch above: dest is where that
			// placeholder lives, and new sp keeps exactly that one
			// slot live for the result. This holds for both CALL and
			// TCALL - a this-call's receiver occupies the same
			// placeholder position a plain call's OpNUL does.
			dest := frame.FP - frame.Nargs - 2 - int(arg)
			if dest < 0 {
				return vm.fail(op, "stack corruption upon function return (fp=%d, nargs=%d, dest=%d)", frame.FP, frame.Nargs, dest)
			}
			vm.stack[dest].Copy(resultD)
			vm.sp = dest + 1
			nextIP = frame.ReturnAddress
			vm.frames = vm.frames[:len(vm.frames)-1]
		} else {
			nextIP = len(vm.program)
		}

	case bytecode.OpEND:
		nextIP = len(vm.program)

	default:
		return vm.fail(op, "invalid instruction (0x%02X)", byte(op))
	}

	vm.ip = nextIP
	if vm.ip >= len(vm.program) {
		vm.halted = true
	}
	return nil
}

func countLiveEntries(table *value.Value) (int, error) {
	keys, err := table.Keys()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, k := range keys {
		entry, err := table.Lookup(k)
		if err != nil {
			return 0, err
		}
		d, err := entry.Deref()
		if err != nil {
			return 0, err
		}
		if d.Type() != value.TypeNull {
			count++
		}
	}
	return count, nil
}

func invokeExternal(fn *value.ExternalFunction, inv *value.Invocation) error {
	if fn == nil || fn.Callable == nil {
		return fmt.Errorf("invalid internal reference to function")
	}
	if err := fn.Callable(inv); err != nil {
		return err
	}
	if inv.HasError() {
		return fmt.Errorf("%s", inv.Error())
	}
	return nil
}
