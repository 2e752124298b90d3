//go:build !amd64

package mcb

import "unsafe"

const nativeCalls = false

func callNative(entry uintptr, frame unsafe.Pointer) {
	panic("mcb: native calls are not supported on this architecture")
}
