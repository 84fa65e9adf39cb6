// Package vm - error handling with stack traces
package vm

import (
	"fmt"
	"strings"
)

// StackFrame captures one call frame's state at the time a RuntimeError
// was raised, for diagnostics. Spec §4.3.5/§7: the VM is never rolled
// back on error, so the stack and frames remain inspectable.
type StackFrame struct {
	IP         int    // instruction pointer within this frame
	FP         int    // stack index at the frame's call site
	SourceFile string // debug file, if available
	SourceLine int    // debug line, if available
}

// RuntimeError is the single in-module error type the VM raises.
// Spec §7: error kinds are distinguished by message, not by Go type -
// access violation, out-of-bounds, unassigned reference, stack
// corruption, arity mismatch, host exception, unsupported operand,
// unknown opcode, special-variable not handled.
type RuntimeError struct {
	Message    string
	IP         int
	Op         string
	StackTrace []StackFrame
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (ip=%d", e.Message, e.IP)
	if e.Op != "" {
		fmt.Fprintf(&b, ", op=%s", e.Op)
	}
	b.WriteString(")")

	if len(e.StackTrace) > 0 {
		b.WriteString("\n\nCall stack:")
		for i := len(e.StackTrace) - 1; i >= 0; i-- {
			f := e.StackTrace[i]
			fmt.Fprintf(&b, "\n  at ip=%d fp=%d", f.IP, f.FP)
			if f.SourceLine > 0 {
				fmt.Fprintf(&b, " [%s:%d]", f.SourceFile, f.SourceLine)
			}
		}
	}

	return b.String()
}

func newRuntimeError(message string, ip int, op string, stack []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, IP: ip, Op: op, StackTrace: stack}
}
