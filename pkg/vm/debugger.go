// Package vm - debugger support
package vm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kristofer/smog/pkg/bytecode"
)

// Debugger drives a VM one instruction (or one breakpoint) at a time and
// offers an interactive inspection prompt, mirroring the teacher's REPL
// debugger but over the stack-machine's Frame/operand-stack shape instead
// of a call-stack of named method activations.
type Debugger struct {
	vm          *VM
	breakpoints map[int]bool
	stepMode    bool
	enabled     bool

	// sessionID tags this debugger instance in diagnostic output so
	// multiple VMs debugged concurrently in one process (an embedding
	// host driving several scripts) can be told apart in logs.
	sessionID string
}

// NewDebugger creates a new debugger instance for vm.
func NewDebugger(vm *VM) *Debugger {
	return &Debugger{
		vm:          vm,
		breakpoints: make(map[int]bool),
		sessionID:   uuid.New().String(),
	}
}

// SessionID returns the debugger's unique session identifier.
func (d *Debugger) SessionID() string { return d.sessionID }

// Enable activates the debugger.
func (d *Debugger) Enable() { d.enabled = true }

// Disable deactivates the debugger.
func (d *Debugger) Disable() { d.enabled = false }

// SetStepMode enables or disables step mode. In step mode, execution
// pauses after each instruction.
func (d *Debugger) SetStepMode(enabled bool) { d.stepMode = enabled }

// AddBreakpoint adds a breakpoint at the specified instruction position.
func (d *Debugger) AddBreakpoint(ip int) { d.breakpoints[ip] = true }

// RemoveBreakpoint removes a breakpoint at the specified instruction
// position.
func (d *Debugger) RemoveBreakpoint(ip int) { delete(d.breakpoints, ip) }

// ClearBreakpoints removes all breakpoints.
func (d *Debugger) ClearBreakpoints() { d.breakpoints = make(map[int]bool) }

// ShouldPause reports whether execution should pause at the VM's current
// instruction: either step mode is on, or ip sits at a registered
// breakpoint.
func (d *Debugger) ShouldPause() bool {
	if !d.enabled {
		return false
	}
	if d.stepMode {
		return true
	}
	return d.breakpoints[d.vm.ip]
}

// ShowCurrentInstruction displays the current instruction being executed.
func (d *Debugger) ShowCurrentInstruction() {
	prog := d.vm.Program()
	if d.vm.ip >= len(prog) {
		fmt.Println("No current instruction")
		return
	}
	ins := prog[d.vm.ip]
	fmt.Printf("  %4d: %s", d.vm.ip, ins.Op)
	d.formatOperand(ins)
	fmt.Println()
}

// formatOperand renders an instruction's argument, resolving it against
// the constant or identifier pool where that makes the output legible.
func (d *Debugger) formatOperand(ins bytecode.Instruction) {
	switch ins.Op {
	case bytecode.OpPSH:
		if int(ins.Arg) < len(d.vm.constants) {
			s, _ := d.vm.constants[ins.Arg].AsString()
			fmt.Printf(" const=%d (%s)", ins.Arg, s)
			return
		}
	case bytecode.OpRREF, bytecode.OpNREF, bytecode.OpCREF, bytecode.OpGET, bytecode.OpSET,
		bytecode.OpTYP, bytecode.OpARG:
		if int(ins.Arg) < len(d.vm.identifiers) {
			fmt.Printf(" id=%d (%s)", ins.Arg, d.vm.identifiers[ins.Arg])
			return
		}
	}
	if ins.Arg != 0 {
		fmt.Printf(" %d", ins.Arg)
	}
}

// ShowStack displays the current VM operand stack, top first.
func (d *Debugger) ShowStack() {
	fmt.Println("Stack (top to bottom):")
	stack := d.vm.Stack()
	if len(stack) == 0 {
		fmt.Println("  (empty)")
		return
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s, err := stack[i].AsString()
		if err != nil {
			s = fmt.Sprintf("<error: %v>", err)
		}
		fmt.Printf("  [%d] %s : %s\n", i, stack[i].Type(), s)
	}
}

// ShowLocals displays the bindings owned by the current (innermost)
// frame's scope.
func (d *Debugger) ShowLocals() {
	fmt.Println("Local variables:")
	scope := d.vm.currentScope()
	hasAny := false
	for name, ok := scope.First(); ok; name, ok = scope.Next() {
		hasAny = true
		v, _ := scope.Lookup(name, false)
		s, err := v.AsString()
		if err != nil {
			s = fmt.Sprintf("<error: %v>", err)
		}
		fmt.Printf("  %s = %s (%s)\n", name, s, v.Type())
	}
	if !hasAny {
		fmt.Println("  (none set)")
	}
}

// ShowGlobals displays the bindings in the root scope, plus every
// registered host function name visible from there.
func (d *Debugger) ShowGlobals() {
	root := d.vm.currentScope().Global()
	fmt.Println("Global variables:")
	hasAny := false
	for name, ok := root.First(); ok; name, ok = root.Next() {
		hasAny = true
		v, _ := root.Lookup(name, false)
		s, err := v.AsString()
		if err != nil {
			s = fmt.Sprintf("<error: %v>", err)
		}
		fmt.Printf("  %s = %s (%s)\n", name, s, v.Type())
	}
	if !hasAny {
		fmt.Println("  (none)")
	}
	fmt.Println("Host functions:")
	funcs := root.ListFuncs()
	if len(funcs) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, name := range funcs {
		fmt.Printf("  %s\n", name)
	}
}

// ShowCallStack displays the current frame stack, innermost first.
func (d *Debugger) ShowCallStack() {
	fmt.Println("Call stack (innermost first):")
	frames := d.vm.Frames()
	if len(frames) == 0 {
		fmt.Println("  (empty)")
		return
	}
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		fmt.Printf("  frame %d: fp=%d nargs=%d thisCall=%t returnAddress=%d\n",
			i, f.FP, f.Nargs, f.ThisCall, f.ReturnAddress)
	}
}

// InteractivePrompt provides an interactive debugger prompt. It is called
// when execution pauses at a breakpoint or in step mode.
func (d *Debugger) InteractivePrompt() (continueExecution bool) {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Printf("\n=== Debugger Paused (session %s) ===\n", d.sessionID)
	d.ShowCurrentInstruction()

	for {
		fmt.Print("debug> ")
		if !scanner.Scan() {
			return false
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := parts[0]

		switch command {
		case "help", "h", "?":
			d.printHelp()

		case "continue", "c":
			d.SetStepMode(false)
			return true

		case "step", "s":
			d.SetStepMode(true)
			return true

		case "next", "n":
			return true

		case "stack", "st":
			d.ShowStack()

		case "locals", "l":
			d.ShowLocals()

		case "globals", "g":
			d.ShowGlobals()

		case "callstack", "cs":
			d.ShowCallStack()

		case "instruction", "i":
			d.ShowCurrentInstruction()

		case "breakpoint", "b":
			if len(parts) < 2 {
				fmt.Println("Usage: breakpoint <instruction_number>")
				continue
			}
			ip, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("Invalid instruction number")
				continue
			}
			d.AddBreakpoint(ip)
			fmt.Printf("Breakpoint added at instruction %d\n", ip)

		case "delete", "d":
			if len(parts) < 2 {
				fmt.Println("Usage: delete <instruction_number>")
				continue
			}
			ip, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("Invalid instruction number")
				continue
			}
			d.RemoveBreakpoint(ip)
			fmt.Printf("Breakpoint removed at instruction %d\n", ip)

		case "list", "ls":
			d.listInstructions()

		case "quit", "q":
			return false

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", command)
		}
	}
}

// printHelp displays available debugger commands.
func (d *Debugger) printHelp() {
	fmt.Println("Debugger Commands:")
	fmt.Println("  help, h, ?           Show this help")
	fmt.Println("  continue, c          Continue execution")
	fmt.Println("  step, s              Enable step mode (pause after each instruction)")
	fmt.Println("  next, n              Execute next instruction")
	fmt.Println("  stack, st            Show operand stack")
	fmt.Println("  locals, l            Show current frame's local variables")
	fmt.Println("  globals, g           Show global variables and host functions")
	fmt.Println("  callstack, cs        Show call-frame stack")
	fmt.Println("  instruction, i       Show current instruction")
	fmt.Println("  breakpoint <n>, b    Add breakpoint at instruction n")
	fmt.Println("  delete <n>, d        Remove breakpoint at instruction n")
	fmt.Println("  list, ls             List all instructions")
	fmt.Println("  quit, q              Quit debugging (abort execution)")
}

// listInstructions displays the full loaded program, marking the current
// ip and any active breakpoints.
func (d *Debugger) listInstructions() {
	fmt.Println("Instructions:")
	for i, ins := range d.vm.Program() {
		marker := "  "
		if i == d.vm.ip {
			marker = "->"
		} else if d.breakpoints[i] {
			marker = "*"
		}
		fmt.Printf("%s %4d: %s", marker, i, ins.Op)
		d.formatOperand(ins)
		fmt.Println()
	}
}
