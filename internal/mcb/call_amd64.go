//go:build amd64

package mcb

import "unsafe"

const nativeCalls = true

// callNative switches to a native stack area inside its own frame and
// calls entry with rdi = frame. Implemented in call_amd64.s.
func callNative(entry uintptr, frame unsafe.Pointer)
