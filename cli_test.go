package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/frontend"
	"github.com/xyproto/tachyon/internal/mcb"
)

const fibSource = `// fib.js
function fib(n) {
    if (n < 2) return n;
    return fib(n - 1) + fib(n - 2);
}
`

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	p := engine.DefaultParams()
	p.Platform = engine.Platform{Arch: engine.ArchX86_64, OS: engine.OSLinux}
	p.CallConv = "sysv"
	var out bytes.Buffer
	err := RunCLI(&CommandContext{Args: args, Params: p, Out: &out})
	return out.String(), err
}

func writeSource(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.js")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("Failed to write source: %v", err)
	}
	return path
}

func TestHelpAndVersion(t *testing.T) {
	out, err := runCommand(t)
	if err != nil || !strings.Contains(out, "COMMANDS:") {
		t.Errorf("Expected help text, got %q, %v", out, err)
	}
	out, err = runCommand(t, "version")
	if err != nil || strings.TrimSpace(out) != versionString {
		t.Errorf("Expected %q, got %q, %v", versionString, out, err)
	}
	if _, err := runCommand(t, "frobnicate"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("Expected an unknown command error, got %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{{"listing"}, {"run", "x.js"}, {"exec", "x.tyi"}, {"build"}} {
		if _, err := runCommand(t, args...); err == nil || !strings.Contains(err.Error(), "usage") {
			t.Errorf("%v: expected a usage error, got %v", args, err)
		}
	}
}

func TestPrims(t *testing.T) {
	out, err := runCommand(t, "prims")
	if err != nil {
		t.Fatalf("Failed to list primitives: %v", err)
	}
	for _, want := range []string{"add", "(box, box) box", "boxToBool", "unboxInt"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}
}

func TestListing(t *testing.T) {
	out, err := runCommand(t, "listing", writeSource(t, fibSource))
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	for _, want := range []string{"0000: fib:", "call fib", "; primitives: lt, sub, add"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}
}

func TestListingReportsSourceErrors(t *testing.T) {
	_, err := runCommand(t, "listing", writeSource(t, "function f() {\n  return x;\n}\n"))
	var le *frontend.LoweringError
	if !errors.As(err, &le) {
		t.Fatalf("Expected a LoweringError, got %v", err)
	}
	if msg := formatError(err); !strings.Contains(msg, "undefined variable 'x'") || !strings.Contains(msg, "^") {
		t.Errorf("Expected a formatted diagnostic, got:\n%s", msg)
	}
	if msg := formatError(errors.New("plain")); msg != "Error: plain" {
		t.Errorf("Expected Error: plain, got %q", msg)
	}
}

func TestBuildAndExec(t *testing.T) {
	src := writeSource(t, fibSource)
	img := filepath.Join(t.TempDir(), "fib.tyi")
	out, err := runCommand(t, "build", src, "-o", img)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}
	if !strings.Contains(out, "Built: "+img) {
		t.Errorf("Expected a build message, got %q", out)
	}
	if _, err := os.Stat(img); err != nil {
		t.Fatalf("Expected the image to exist: %v", err)
	}
	if !mcb.Supported() {
		t.Skip("native execution is not supported on this host")
	}
	out, err = runCommand(t, "exec", img, "fib", "12")
	if err != nil {
		t.Fatalf("Failed to exec: %v", err)
	}
	if strings.TrimSpace(out) != "144" {
		t.Errorf("Expected 144, got %q", out)
	}
}

func TestRun(t *testing.T) {
	if !mcb.Supported() {
		t.Skip("native execution is not supported on this host")
	}
	src := writeSource(t, fibSource)
	out, err := runCommand(t, "run", src, "fib", "10")
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}
	if strings.TrimSpace(out) != "55" {
		t.Errorf("Expected 55, got %q", out)
	}
	if _, err := runCommand(t, "run", src, "fib", "ten"); err == nil {
		t.Errorf("Expected an error for a non-integer argument")
	}
	if _, err := runCommand(t, "run", src, "fob"); err == nil {
		t.Errorf("Expected an error for an unknown function")
	}
}

func TestFib(t *testing.T) {
	out, err := runCommand(t, "fib", "10")
	if err != nil {
		t.Fatalf("Failed to run fib: %v", err)
	}
	if !strings.HasPrefix(out, "0000: fib:\n") {
		t.Errorf("Expected the listing first, got:\n%s", out)
	}
	if mcb.Supported() && !strings.Contains(out, "fib(10) = 55") {
		t.Errorf("Expected fib(10) = 55 in:\n%s", out)
	}
	if _, err := runCommand(t, "fib", "93"); err == nil {
		t.Errorf("Expected an out of range error")
	}
}
