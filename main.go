// Completion: 100% - CLI interface complete, all flags working
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tebeka/atexit"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/xyproto/tachyon/internal/engine"
)

// A native backend for a small JavaScript subset on x86_64

const versionString = "tachyon 0.3.0"

func main() {
	// NOTE: Go's flag package stops parsing at the first non-flag argument
	// So flags must come BEFORE the command: tachyon -v run fib.js fib 10
	var paramsFlag = flag.String("params", "", "TOML file with target parameters (default: $"+engine.EnvParams+")")
	var regallocFlag = flag.String("regalloc", "", "register allocator (linearscan, spillall)")
	var callconvFlag = flag.String("callconv", "", "calling convention of generated code (sysv, win64)")
	var debugFlag = flag.Bool("debug", false, "trap on unboxing with the wrong tag")
	var outputFlag = flag.String("o", "", "output file for build")
	var verbose = flag.Bool("v", false, "verbose mode (debug logging)")
	var verboseLong = flag.Bool("verbose", false, "verbose mode (debug logging)")
	var versionShort = flag.Bool("V", false, "print version information and exit")
	var version = flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *version || *versionShort {
		fmt.Println(versionString)
		atexit.Exit(0)
	}

	verbosity := engine.Verbosity()
	if *verbose || *verboseLong {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	params, err := loadParams(*paramsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}
	if *regallocFlag != "" {
		params.RegAlloc = *regallocFlag
	}
	if *callconvFlag != "" {
		params.CallConv = *callconvFlag
	}
	if *debugFlag {
		params.Debug = true
	}
	if err := params.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}

	ctx := &CommandContext{
		Args:       flag.Args(),
		Params:     params,
		Out:        os.Stdout,
		OutputPath: *outputFlag,
	}
	if err := RunCLI(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", formatError(err))
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// loadParams reads an explicit parameters file, or falls back to the
// TACHYON_* environment
func loadParams(path string) (*engine.Params, error) {
	if path != "" {
		return engine.LoadParams(path)
	}
	return engine.FromEnv()
}
