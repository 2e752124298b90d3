package mcb

import (
	"errors"
	"testing"
)

// mov rdi, rax; add rsi, rax; ret
var addCode = []byte{0x48, 0x89, 0xf8, 0x48, 0x01, 0xf0, 0xc3}

func TestExecuteAdd(t *testing.T) {
	if !Supported() {
		t.Skip("native execution not supported on this host")
	}
	b, err := New(addCode)
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}
	defer b.Free()

	got, err := b.Execute(0, 40, 2)
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
}

func TestExecuteAllArgs(t *testing.T) {
	if !Supported() {
		t.Skip("native execution not supported on this host")
	}
	// mov r9, rax; ret
	b, err := New([]byte{0x4c, 0x89, 0xc8, 0xc3})
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}
	defer b.Free()
	got, err := b.Execute(0, 1, 2, 3, 4, 5, 6)
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if got != 6 {
		t.Errorf("Expected sixth argument 6, got %d", got)
	}
}

func TestDoubleFree(t *testing.T) {
	if !Supported() {
		t.Skip("native execution not supported on this host")
	}
	b, err := New(addCode)
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}
	if err := b.Free(); err != nil {
		t.Fatalf("First free failed: %v", err)
	}
	if err := b.Free(); !errors.Is(err, ErrDoubleFree) {
		t.Errorf("Expected ErrDoubleFree, got %v", err)
	}
	if _, err := b.Execute(0); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("Expected ErrUseAfterFree, got %v", err)
	}
	if _, err := b.Bytes(); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("Expected ErrUseAfterFree from Bytes, got %v", err)
	}
	if b.Addr() != 0 {
		t.Errorf("Expected zero address after free, got %#x", b.Addr())
	}
}

func TestBlockErrors(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("Expected ErrEmpty, got %v", err)
	}
	if !Supported() {
		t.Skip("native execution not supported on this host")
	}
	b, err := New(addCode)
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}
	defer b.Free()
	if _, err := b.Execute(len(addCode)); !errors.Is(err, ErrBadOffset) {
		t.Errorf("Expected ErrBadOffset, got %v", err)
	}
	if _, err := b.Execute(0, 1, 2, 3, 4, 5, 6, 7); !errors.Is(err, ErrTooManyArgs) {
		t.Errorf("Expected ErrTooManyArgs, got %v", err)
	}
	code, err := b.Bytes()
	if err != nil {
		t.Fatalf("Failed to read bytes: %v", err)
	}
	if string(code) != string(addCode) {
		t.Errorf("Expected installed bytes % x, got % x", addCode, code)
	}
}

func TestTrampolineShape(t *testing.T) {
	code := TrampolineCode()
	if code[len(code)-1] != 0xc3 {
		t.Errorf("Expected trampoline to end in ret, got 0x%x", code[len(code)-1])
	}
	// six pushes, six pops and one alignment adjustment each way
	if code[0] != 0x53 || code[len(code)-2] != 0x5b {
		t.Errorf("Expected rbx saved first and restored last")
	}
	code[0] = 0
	if TrampolineCode()[0] != 0x53 {
		t.Errorf("TrampolineCode must return a copy")
	}
}
