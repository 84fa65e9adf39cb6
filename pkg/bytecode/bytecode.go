// Package bytecode defines the instruction set and program image
// consumed by the smog virtual machine.
//
// Each instruction is logically a single 32-bit word: the low 8 bits
// are the opcode, the high 24 bits are an unsigned argument. Constants,
// identifiers, and jump targets are all addressed through that
// argument. In memory an Instruction keeps the opcode and argument as
// separate fields for convenience; Pack/Unpack round-trip the 32-bit
// encoding used by the on-disk image (see format.go).
package bytecode

import (
	"fmt"

	"github.com/kristofer/smog/pkg/value"
)

// Opcode is one instruction in the VM's ~40-entry instruction set.
type Opcode byte

const (
	// OpPSH pushes a deep copy of constants[A].
	OpPSH Opcode = iota
	// OpPOP drops the top of stack.
	OpPOP
	// OpNUL pushes a null value.
	OpNUL
	// OpDUP pushes a deep copy of the top of stack.
	OpDUP
	// OpJ unconditionally jumps: ip <- A.
	OpJ
	// OpJT pops and jumps to A if the popped value is truthy.
	OpJT
	// OpJF pops and jumps to A if the popped value is falsy.
	OpJF
	// OpRREF resolves identifiers[A]: pushes a host-function descriptor
	// if registered, else a reference to its value (searching
	// parents), else errors.
	OpRREF
	// OpNREF is like OpRREF but creates a mutable null binding in the
	// current scope if the identifier is not found.
	OpNREF
	// OpCREF is like OpNREF but marks the new binding constant and
	// not-yet-assigned.
	OpCREF
	// OpFREF pushes an internal-function value whose address is A.
	OpFREF
	// OpGET reads a host "special" variable by name identifiers[A].
	OpGET
	// OpSET writes the dereferenced top to special variable
	// identifiers[A], then pops.
	OpSET
	// OpTYP pushes the type-name string of identifier A resolved in
	// the scope chain, or "unknown".
	OpTYP
	// OpADD adds numerically, or concatenates if either side is a
	// string.
	OpADD
	// OpSUB subtracts numerically.
	OpSUB
	// OpMUL multiplies numerically.
	OpMUL
	// OpEXP raises lhs to the power of rhs.
	OpEXP
	// OpDIV divides numerically; division by zero yields quiet NaN,
	// never an error.
	OpDIV
	// OpLT pushes 1.0/0.0 for lhs < rhs.
	OpLT
	// OpLE pushes 1.0/0.0 for lhs <= rhs.
	OpLE
	// OpGT pushes 1.0/0.0 for lhs > rhs.
	OpGT
	// OpGE pushes 1.0/0.0 for lhs >= rhs.
	OpGE
	// OpEQ pushes 1.0/0.0 for type-tagged equality.
	OpEQ
	// OpNE pushes 1.0/0.0 for type-tagged inequality.
	OpNE
	// OpAND is logical AND on truthified operands.
	OpAND
	// OpOR is logical OR on truthified operands.
	OpOR
	// OpNOT pushes 1 if the top is falsy else 0.
	OpNOT
	// OpNEG negates the top numerically.
	OpNEG
	// OpINC increments the top's target by 1.0.
	OpINC
	// OpDEC decrements the top's target by 1.0.
	OpDEC
	// OpIDX pops an index and replaces a container with a reference to
	// the element. If A != 0 the container grows to fit (mutable mode).
	OpIDX
	// OpKEY is like OpIDX but for tables by string key.
	OpKEY
	// OpMAT erases a table entry or vector element.
	OpMAT
	// OpWAT is membership/index-of: table pushes 1/0, vector pushes
	// first index or -1, string pushes first byte offset or -1.
	OpWAT
	// OpSZ pushes the length of a vector, byte length of a string, or
	// non-null entry count of a table.
	OpSZ
	// OpKEYS replaces a table with a vector of the keys whose values
	// are non-null.
	OpKEYS
	// OpWR deep-copies lhs into rhs's target (assignment), then pops.
	OpWR
	// OpVEC constructs a vector literal from the top A stack slots.
	OpVEC
	// OpHASH constructs a table literal from the top 2*A stack slots.
	OpHASH
	// OpARG binds the next positional argument from the active frame
	// to identifier A.
	OpARG
	// OpCALL invokes the callee at the top of stack with A arguments
	// below it.
	OpCALL
	// OpTCALL is like OpCALL but additionally binds `this` to the slot
	// immediately beneath the function (method call).
	OpTCALL
	// OpRET returns from the current frame; A is the count of extra
	// locals to discard beyond normal frame cleanup.
	OpRET
	// OpEND halts execution cleanly.
	OpEND
)

var opcodeNames = [...]string{
	"PSH", "POP", "NUL", "DUP", "J", "JT", "JF", "RREF", "NREF", "CREF",
	"FREF", "GET", "SET", "TYP", "ADD", "SUB", "MUL", "EXP", "DIV", "LT",
	"LE", "GT", "GE", "EQ", "NE", "AND", "OR", "NOT", "NEG", "INC", "DEC",
	"IDX", "KEY", "MAT", "WAT", "SZ", "KEYS", "WR", "VEC", "HASH", "ARG",
	"CALL", "TCALL", "RET", "END",
}

// String returns a human-readable mnemonic, used by the disassembler
// and the debugger.
func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return "UNKNOWN"
}

// Instruction is one decoded bytecode instruction: an opcode and its
// 24-bit unsigned argument.
type Instruction struct {
	Op  Opcode
	Arg uint32
}

// Pack encodes the instruction as the 32-bit word described in §3.4:
// low 8 bits opcode, high 24 bits argument.
func (i Instruction) Pack() uint32 {
	return uint32(i.Op) | (i.Arg << 8)
}

// Unpack decodes a 32-bit word into an Instruction.
func Unpack(word uint32) Instruction {
	return Instruction{Op: Opcode(word & 0xFF), Arg: word >> 8}
}

func (i Instruction) String() string {
	if i.Arg == 0 {
		return i.Op.String()
	}
	return fmt.Sprintf("%s %d", i.Op, i.Arg)
}

// DebugPos is one (source file, line) pair, parallel to Program.
type DebugPos struct {
	File string
	Line int
}

// Bytecode is the complete image the VM consumes: the four parallel
// artifacts named in §6.1.
type Bytecode struct {
	Program     []Instruction
	Constants   []*value.Value
	Identifiers []string
	Debug       []DebugPos
}
