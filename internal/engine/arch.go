// Completion: 100% - Platform description complete
package engine

import (
	"fmt"
	"runtime"
	"strings"
)

// Arch identifies an instruction set. Only ArchX86_64 has a code generator;
// the others exist so that configuration files naming them fail validation
// with a clear message instead of a parse error.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86_64
	ArchARM64
	ArchRiscv64
)

func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchARM64:
		return "aarch64"
	case ArchRiscv64:
		return "riscv64"
	default:
		return "unknown"
	}
}

// ParseArch parses an architecture string (like GOARCH values)
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x86_64", "amd64", "x86-64", "x64":
		return ArchX86_64, nil
	case "aarch64", "arm64":
		return ArchARM64, nil
	case "riscv64", "riscv", "rv64":
		return ArchRiscv64, nil
	default:
		return ArchUnknown, fmt.Errorf("unknown architecture: %s (known: x86_64, arm64, riscv64)", s)
	}
}

// OS selects the host conventions that matter to generated code: the
// default calling convention and how executable pages are obtained
type OS int

const (
	OSLinux OS = iota
	OSDarwin
	OSFreeBSD
	OSWindows
)

var osNames = [...]string{OSLinux: "linux", OSDarwin: "darwin", OSFreeBSD: "freebsd", OSWindows: "windows"}

func (o OS) String() string {
	if o < 0 || int(o) >= len(osNames) {
		return "unknown"
	}
	return osNames[o]
}

// ParseOS accepts GOOS values and a few aliases
func ParseOS(s string) (OS, error) {
	s = strings.ToLower(s)
	switch s {
	case "macos":
		return OSDarwin, nil
	case "win":
		return OSWindows, nil
	}
	for i, name := range osNames {
		if name == s {
			return OS(i), nil
		}
	}
	return 0, fmt.Errorf("unsupported OS: %s (supported: %s)", s, strings.Join(osNames[:], ", "))
}

// Platform is an architecture + OS pair
type Platform struct {
	Arch Arch
	OS   OS
}

func (p Platform) String() string {
	return fmt.Sprintf("%s-%s", p.Arch, p.OS)
}

// ParsePlatform accepts "arch-os" or "arch/os".
func ParsePlatform(s string) (Platform, error) {
	sep := strings.IndexAny(s, "-/")
	if sep < 0 {
		return Platform{}, fmt.Errorf("malformed platform %q, want arch-os", s)
	}
	// "x86-64-linux" has a dash inside the arch name
	if strings.HasPrefix(strings.ToLower(s), "x86-64") {
		sep = len("x86-64")
	}
	arch, err := ParseArch(s[:sep])
	if err != nil {
		return Platform{}, err
	}
	os, err := ParseOS(s[sep+1:])
	if err != nil {
		return Platform{}, err
	}
	return Platform{Arch: arch, OS: os}, nil
}

// HostPlatform describes the process we are running in. Unknown GOOS values
// fall back to linux, which shares the System V convention with the BSDs.
func HostPlatform() Platform {
	arch, err := ParseArch(runtime.GOARCH)
	if err != nil {
		arch = ArchUnknown
	}
	os, err := ParseOS(runtime.GOOS)
	if err != nil {
		os = OSLinux
	}
	return Platform{Arch: arch, OS: os}
}
