// Completion: 100% - CLI subcommands complete
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tebeka/atexit"
	"github.com/xyproto/tachyon/internal/asm"
	"github.com/xyproto/tachyon/internal/backend"
	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/bridge"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/frontend"
	"github.com/xyproto/tachyon/internal/image"
	"github.com/xyproto/tachyon/internal/ir"
	"github.com/xyproto/tachyon/internal/mcb"
	"github.com/xyproto/tachyon/internal/pipeline"
)

// cli.go - subcommands of the tachyon tool
//
// - tachyon listing <file.js>              (print the code block listing)
// - tachyon run <file.js> <func> [ints]    (compile and call a function)
// - tachyon build <file.js> -o <out.tyi>   (save a code image)
// - tachyon exec <file.tyi> <func> [ints]  (call a function in an image)
// - tachyon fib [n]                        (hand-assembled Fibonacci)
// - tachyon prims                          (list the primitives)

// CommandContext holds the execution context for a CLI command
type CommandContext struct {
	Args       []string
	Params     *engine.Params
	Out        io.Writer
	OutputPath string
}

// RunCLI dispatches to the subcommand named by the first argument
func RunCLI(ctx *CommandContext) error {
	if len(ctx.Args) == 0 {
		return cmdHelp(ctx)
	}
	args := ctx.Args[1:]
	switch ctx.Args[0] {
	case "listing":
		if len(args) != 1 {
			return fmt.Errorf("usage: tachyon listing <file.js>")
		}
		return cmdListing(ctx, args[0])
	case "run":
		if len(args) < 2 {
			return fmt.Errorf("usage: tachyon run <file.js> <func> [ints...]")
		}
		return cmdRun(ctx, args[0], args[1], args[2:])
	case "build":
		return cmdBuild(ctx, args)
	case "exec":
		if len(args) < 2 {
			return fmt.Errorf("usage: tachyon exec <file.tyi> <func> [ints...]")
		}
		return cmdExec(ctx, args[0], args[1], args[2:])
	case "fib":
		return cmdFib(ctx, args)
	case "prims":
		return cmdPrims(ctx)
	case "help", "--help", "-h":
		return cmdHelp(ctx)
	case "version", "--version", "-V":
		fmt.Fprintln(ctx.Out, versionString)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\n\nRun 'tachyon help' for usage information", ctx.Args[0])
	}
}

// compileFile runs the whole pipeline over one source file
func compileFile(ctx *CommandContext, path string) (*pipeline.Pipeline, *ir.Module, *asm.CodeBlock, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	pl, err := pipeline.New(ctx.Params, pipeline.WithSourceName(path))
	if err != nil {
		return nil, nil, nil, err
	}
	m, cb, err := pl.CompileSrcToCB(string(src))
	if err != nil {
		return nil, nil, nil, err
	}
	return pl, m, cb, nil
}

func parseInts(args []string) ([]int64, error) {
	out := make([]int64, len(args))
	for i, a := range args {
		n, err := strconv.ParseInt(a, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %q is not an integer", i+1, a)
		}
		out[i] = n
	}
	return out, nil
}

// install puts cb in executable memory that is released when the process
// exits through atexit
func install(cb *asm.CodeBlock) (*mcb.Block, error) {
	block, err := cb.AssembleToMachineCodeBlock()
	if err != nil {
		return nil, err
	}
	atexit.Register(func() {
		if !block.Freed() {
			_ = block.Free()
		}
	})
	return block, nil
}

func cmdListing(ctx *CommandContext, path string) error {
	_, m, cb, err := compileFile(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprint(ctx.Out, backend.Listing(cb))
	if used := backend.UsedPrimitives(m); len(used) > 0 {
		fmt.Fprintf(ctx.Out, "; primitives: %s\n", strings.Join(used, ", "))
	}
	fmt.Fprintf(ctx.Out, "; %d bytes\n", len(cb.Bytes()))
	return nil
}

// cmdRun calls the function through a bridge, so generated code with any
// supported calling convention can run
func cmdRun(ctx *CommandContext, path, name string, rawArgs []string) error {
	ints, err := parseInts(rawArgs)
	if err != nil {
		return err
	}
	pl, m, _, err := compileFile(ctx, path)
	if err != nil {
		return err
	}
	fn := m.Lookup(name)
	if fn == nil {
		return fmt.Errorf("%w: %s", backend.ErrNoFunction, name)
	}
	specs := make([]bridge.Spec, len(fn.Params))
	args := make([]box.Value, len(ints))
	for i := range specs {
		specs[i] = bridge.IntAsBox
	}
	for i, n := range ints {
		args[i] = box.Int(n)
	}
	b, err := bridge.MakeBridge(fn, pl.Params(), specs, bridge.IntAsBox)
	if err != nil {
		return err
	}
	atexit.Register(func() { _ = b.Close() })
	v, err := b.Call(args...)
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, v)
	return nil
}

func cmdBuild(ctx *CommandContext, args []string) error {
	input, output := "", ctx.OutputPath
	for i := 0; i < len(args); i++ {
		if args[i] == "-o" && i+1 < len(args) {
			output = args[i+1]
			i++
		} else if input == "" {
			input = args[i]
		}
	}
	if input == "" {
		return fmt.Errorf("usage: tachyon build <file.js> [-o out.tyi]")
	}
	if output == "" {
		output = strings.TrimSuffix(input, ".js") + ".tyi"
	}
	pl, m, cb, err := compileFile(ctx, input)
	if err != nil {
		return err
	}
	img, err := image.FromCodeBlock(cb, m, pl.Params())
	if err != nil {
		return err
	}
	if err := img.Save(output); err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "Built: %s (%s)\n", output, img)
	return nil
}

func cmdExec(ctx *CommandContext, path, name string, rawArgs []string) error {
	ints, err := parseInts(rawArgs)
	if err != nil {
		return err
	}
	img, err := image.Load(path)
	if err != nil {
		return err
	}
	args := make([]box.Value, len(ints))
	for i, n := range ints {
		args[i] = box.Int(n)
	}
	v, err := img.Call(name, args...)
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, v)
	return nil
}

// buildFib hand-assembles an iterative Fibonacci taking n in rdi
func buildFib(a *asm.Assembler) {
	loop, done := a.Label("loop"), a.Label("done")
	a.Here("fib").Mov(asm.Imm(0), asm.RAX).Mov(asm.Imm(1), asm.RCX)
	a.Define(loop).
		Test(asm.RDI, asm.RDI).
		Je(done).
		Mov(asm.RCX, asm.RDX).
		Add(asm.RAX, asm.RDX).
		Mov(asm.RCX, asm.RAX).
		Mov(asm.RDX, asm.RCX).
		Sub(asm.Imm(1), asm.RDI).
		Jmp(loop)
	a.Define(done).Ret()
}

func cmdFib(ctx *CommandContext, args []string) error {
	n := int64(10)
	if len(args) > 0 {
		ints, err := parseInts(args[:1])
		if err != nil {
			return err
		}
		n = ints[0]
	}
	if n < 0 || n > 92 {
		return fmt.Errorf("fib: n must be in 0..92, got %d", n)
	}
	a := asm.NewAssembler()
	buildFib(a)
	cb, err := a.Assemble()
	if err != nil {
		return err
	}
	fmt.Fprint(ctx.Out, cb.ListingWithBytes())
	if !mcb.Supported() {
		fmt.Fprintln(ctx.Out, "; native execution is not supported on this host")
		return nil
	}
	block, err := install(cb)
	if err != nil {
		return err
	}
	got, err := block.Execute(0, uint64(n))
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "fib(%d) = %d\n", n, got)
	return nil
}

func cmdPrims(ctx *CommandContext) error {
	pl, err := pipeline.New(ctx.Params)
	if err != nil {
		return err
	}
	set := pl.Primitives()
	for _, name := range set.Names() {
		fn := set.Lookup(name)
		types := make([]string, len(fn.Params))
		for i, t := range fn.ParamTypes() {
			types[i] = t.String()
		}
		fmt.Fprintf(ctx.Out, "%-12s (%s) %s\n", name, strings.Join(types, ", "), fn.Ret)
	}
	return nil
}

// formatError renders frontend errors with their source excerpt
func formatError(err error) string {
	var se *frontend.SyntaxError
	if errors.As(err, &se) {
		return se.Format()
	}
	var le *frontend.LoweringError
	if errors.As(err, &le) {
		return le.Format()
	}
	return "Error: " + err.Error()
}

func cmdHelp(ctx *CommandContext) error {
	fmt.Fprintf(ctx.Out, `%s - native code for a JavaScript subset on x86_64

USAGE:
    tachyon [flags] <command> [arguments]

COMMANDS:
    listing <file.js>               Print the assembled listing of a program
    run <file.js> <func> [ints]     Compile a program and call one function
    build <file.js> [-o out.tyi]    Save a program as a code image
    exec <file.tyi> <func> [ints]   Call a function in a code image
    fib [n]                         Run a hand-assembled Fibonacci
    prims                           List the runtime primitives
    help                            Show this help message
    version                         Show version information

FLAGS (must come before the command):
    -params <file>       TOML target parameters (default: $%s)
    -regalloc <name>     Register allocator: linearscan, spillall
    -callconv <name>     Calling convention of generated code: sysv, win64
    -debug               Trap on unboxing with the wrong tag
    -o <file>            Output file for build
    -v, -verbose         Debug logging

EXAMPLES:
    tachyon run fib.js fib 10
    tachyon -regalloc spillall listing fib.js
    tachyon build fib.js -o fib.tyi && tachyon exec fib.tyi fib 20
`, versionString, engine.EnvParams)
	return nil
}
