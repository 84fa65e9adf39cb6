// Command smog is the command-line front end for the scripting
// language: it runs source or bytecode files, compiles source to the
// .sg binary format, disassembles .sg files, and drives an interactive
// REPL, all against the pkg/vm virtual machine.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v3"

	"github.com/kristofer/smog/pkg/builtins"
	"github.com/kristofer/smog/pkg/bytecode"
	"github.com/kristofer/smog/pkg/compiler"
	"github.com/kristofer/smog/pkg/env"
	"github.com/kristofer/smog/pkg/lexer"
	"github.com/kristofer/smog/pkg/parser"
	"github.com/kristofer/smog/pkg/vm"
)

// registerBuiltins installs the standard library into a fresh root
// scope, aborting the process if a builtin fails its own
// documentation-mode registration (a programmer error, never a user
// one).
func registerBuiltins(root *env.Scope) {
	if err := builtins.Register(root); err != nil {
		fmt.Fprintf(os.Stderr, "internal error: %v\n", err)
		os.Exit(1)
	}
}

const version = "0.5.0"

func main() {
	app := &cli.Command{
		Name:  "smog",
		Usage: "an embeddable scripting language runtime",
		Commands: []*cli.Command{
			runCommand,
			compileCommand,
			disassembleCommand,
			replCommand,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() > 0 {
				runFile(cmd.Args().Get(0))
				return nil
			}
			runREPL()
			return nil
		},
		Version: version,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "run a .smog source file or .sg bytecode file",
	ArgsUsage: "<file>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() < 1 {
			return fmt.Errorf("no file specified")
		}
		runFile(cmd.Args().Get(0))
		return nil
	},
}

var compileCommand = &cli.Command{
	Name:      "compile",
	Usage:     "compile a .smog source file to .sg bytecode",
	ArgsUsage: "<input.smog> [output.sg]",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() < 1 {
			return fmt.Errorf("no file specified")
		}
		out := ""
		if cmd.Args().Len() >= 2 {
			out = cmd.Args().Get(1)
		}
		compileFile(cmd.Args().Get(0), out)
		return nil
	},
}

var disassembleCommand = &cli.Command{
	Name:      "disassemble",
	Aliases:   []string{"disasm"},
	Usage:     "disassemble a .sg bytecode file",
	ArgsUsage: "<file.sg>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() < 1 {
			return fmt.Errorf("no file specified")
		}
		disassembleFile(cmd.Args().Get(0))
		return nil
	},
}

var replCommand = &cli.Command{
	Name:   "repl",
	Usage:  "start the interactive REPL",
	Action: func(ctx context.Context, cmd *cli.Command) error { runREPL(); return nil },
}

// runFile runs a .smog source file or .sg bytecode file, detected by
// extension: .sg loads directly as bytecode (fast), anything else is
// parsed and compiled first.
func runFile(filename string) {
	if filepath.Ext(filename) == ".sg" {
		runBytecodeFile(filename)
		return
	}
	runSourceFile(filename)
}

func compileSource(filename, src string) (*bytecode.Bytecode, error) {
	l := lexer.New(src, filename)
	program, errs := parser.ParseProgram(l, filename)
	if len(errs) > 0 {
		return nil, fmt.Errorf("parse error:\n  %s", strings.Join(errs, "\n  "))
	}
	c := compiler.New()
	bc, err := c.Compile(program)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}
	return bc, nil
}

func runBytecode(bc *bytecode.Bytecode) error {
	root := env.New()
	registerBuiltins(root)
	v := vm.New()
	v.Load(bc)
	v.Initialize(root)
	return v.Run(vm.Normal)
}

func runSourceFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}
	bc, err := compileSource(filename, string(data))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := runBytecode(bc); err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
		os.Exit(1)
	}
}

func runBytecodeFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	bc, err := bytecode.Decode(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
		os.Exit(1)
	}
	if err := runBytecode(bc); err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
		os.Exit(1)
	}
}

// compileFile compiles a .smog source file to a .sg bytecode file,
// defaulting the output name by swapping the .smog extension for .sg.
func compileFile(inputFile, outputFile string) {
	if outputFile == "" {
		if filepath.Ext(inputFile) == ".smog" {
			outputFile = inputFile[:len(inputFile)-len(".smog")] + ".sg"
		} else {
			outputFile = inputFile + ".sg"
		}
	}

	data, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}
	bc, err := compileSource(inputFile, string(data))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	outFile, err := os.Create(outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
		os.Exit(1)
	}
	defer outFile.Close()

	if err := bytecode.Encode(bc, outFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing bytecode: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Compiled %s -> %s\n", inputFile, outputFile)
}

// disassembleFile prints a human-readable listing of a .sg bytecode
// file: its constant pool followed by the instruction stream.
func disassembleFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	bc, err := bytecode.Decode(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Bytecode Disassembly: %s ===\n\n", filename)
	fmt.Println("Constants:")
	if len(bc.Constants) == 0 {
		fmt.Println("  (empty)")
	} else {
		for i, c := range bc.Constants {
			s, _ := c.AsString()
			fmt.Printf("  [%d] %s: %s\n", i, c.TypeName(), s)
		}
	}

	fmt.Println("\nIdentifiers:")
	for i, name := range bc.Identifiers {
		fmt.Printf("  [%d] %s\n", i, name)
	}

	fmt.Println("\nInstructions:")
	for i, ins := range bc.Program {
		pos := ""
		if i < len(bc.Debug) {
			pos = fmt.Sprintf(" ; %s:%d", bc.Debug[i].File, bc.Debug[i].Line)
		}
		fmt.Printf("  %4d: %s%s\n", i, ins, pos)
	}
}

// runREPL starts an interactive read-eval-print loop, built on
// chzyer/readline for history and line editing. A persistent VM carries
// bindings across inputs: each input is compiled as its own small
// program and run under the previous input's root-frame scope, so
// `x = 1;` followed by `x + 1;` both see the same `x`.
//
// Multi-line input is buffered until open braces/parens/brackets
// balance, matching the block-oriented grammar's `{ ... }` bodies.
func runREPL() {
	fmt.Printf("smog REPL v%s\n", version)
	fmt.Println("Type :help for help, :quit or :exit to leave")

	rl, err := readline.New("smog> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting REPL: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	root := env.New()
	registerBuiltins(root)
	v := vm.New()
	scope := root

	var buf strings.Builder
	for {
		if buf.Len() == 0 {
			rl.SetPrompt("smog> ")
		} else {
			rl.SetPrompt("....> ")
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			buf.Reset()
			continue
		}
		if err == io.EOF {
			fmt.Println("Goodbye!")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			return
		}

		if buf.Len() == 0 {
			switch strings.TrimSpace(line) {
			case ":quit", ":exit":
				fmt.Println("Goodbye!")
				return
			case ":help":
				printREPLHelp(root)
				continue
			case "":
				continue
			}
		}

		buf.WriteString(line)
		buf.WriteString("\n")

		if needsMoreInput(buf.String()) {
			continue
		}

		input := strings.TrimSpace(buf.String())
		buf.Reset()
		if input == "" {
			continue
		}
		scope = evalREPL(v, scope, input)
	}
}

// needsMoreInput reports whether code has unbalanced braces, parens,
// brackets, or an open string literal, in which case the REPL keeps
// reading lines before compiling.
func needsMoreInput(code string) bool {
	depth := 0
	inString := false
	escaped := false
	for _, ch := range code {
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			depth--
		}
	}
	return depth > 0 || inString
}

// evalREPL parses, compiles, and runs one REPL input on the shared VM
// under scope, printing a parse/compile/runtime error without exiting
// the process. It returns the scope the next input runs under: this
// run's root-frame scope, or scope itself if the input did not compile.
func evalREPL(v *vm.VM, scope *env.Scope, input string) *env.Scope {
	bc, err := compileSource("<repl>", input)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return scope
	}
	v.Load(bc)
	v.Initialize(scope)
	if err := v.Run(vm.Normal); err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
	}
	return v.Frames()[0].Scope
}

func printREPLHelp(root *env.Scope) {
	fmt.Println("smog REPL help")
	fmt.Println()
	fmt.Println("  :help     show this help message")
	fmt.Println("  :quit     leave the REPL")
	fmt.Println("  :exit     leave the REPL")
	fmt.Println()
	fmt.Println("Variables persist across inputs. Example:")
	fmt.Println("  smog> x = 42;")
	fmt.Println("  smog> x + 8;")
	fmt.Println()
	fmt.Println("Registered host functions:")
	names := root.ListFuncs()
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
}
