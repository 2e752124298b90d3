package backend

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/xyproto/tachyon/internal/engine"
)

// pinnedWords returns n heap words that keep their address while native
// code writes to them
func pinnedWords(t *testing.T, n int) []uint64 {
	t.Helper()
	buf := make([]uint64, n)
	var pin runtime.Pinner
	pin.Pin(&buf[0])
	t.Cleanup(pin.Unpin)
	return buf
}

func addressOf(buf []uint64) uintptr { return uintptr(unsafe.Pointer(&buf[0])) }

// testParams targets x86_64 System V whatever the host is
func testParams() *engine.Params {
	p := engine.DefaultParams()
	p.Platform = engine.Platform{Arch: engine.ArchX86_64, OS: engine.OSLinux}
	p.CallConv = "sysv"
	return p
}
