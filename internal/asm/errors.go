package asm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnresolvedLabel      = errors.New("unresolved label")
	ErrLabelRedefined       = errors.New("label redefined")
	ErrForeignLabel         = errors.New("label belongs to another code block")
	ErrDisplacementOverflow = errors.New("displacement overflow")
	ErrUnsupportedOperand   = errors.New("unsupported operand")
	ErrUnknownMnemonic      = errors.New("unknown mnemonic")
	ErrFrozen               = errors.New("code block is frozen after assembly")
	ErrNotAssembled         = errors.New("code block has not been assembled")
	ErrForeignByteOrder     = errors.New("big-endian code block cannot execute on x86_64")
)

// UnresolvedLabelError names a label that was referenced but never defined
type UnresolvedLabelError struct {
	Name        string
	Refs        []string // listing position of each referencing instruction
	Suggestions []string
}

func (e *UnresolvedLabelError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "unresolved label %q", e.Name)
	if len(e.Refs) > 0 {
		fmt.Fprintf(&sb, " referenced at %s", strings.Join(e.Refs, ", "))
	}
	if len(e.Suggestions) > 0 {
		fmt.Fprintf(&sb, " (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return sb.String()
}

func (e *UnresolvedLabelError) Unwrap() error { return ErrUnresolvedLabel }

// LabelError reports a label misuse during emission
type LabelError struct {
	Name string
	Err  error
}

func (e *LabelError) Error() string { return fmt.Sprintf("label %q: %v", e.Name, e.Err) }

func (e *LabelError) Unwrap() error { return e.Err }

// DisplacementError reports a relative target beyond a signed 32-bit field
type DisplacementError struct {
	Label string
	From  int
	To    int
}

func (e *DisplacementError) Error() string {
	return fmt.Sprintf("displacement overflow: %s at %#x is %d bytes from %#x", e.Label, e.To, int64(e.To)-int64(e.From), e.From)
}

func (e *DisplacementError) Unwrap() error { return ErrDisplacementOverflow }

// InstructionError wraps an encoding failure with the instruction text
type InstructionError struct {
	Index int
	Text  string
	Pos   string
	Err   error
}

func (e *InstructionError) Error() string {
	if e.Pos != "" {
		return fmt.Sprintf("instruction %d (%s) at %s: %v", e.Index, e.Text, e.Pos, e.Err)
	}
	return fmt.Sprintf("instruction %d (%s): %v", e.Index, e.Text, e.Err)
}

func (e *InstructionError) Unwrap() error { return e.Err }

// AssemblyError reports use of a code block that is not ready for execution
type AssemblyError struct {
	Op  string
	Err error
}

func (e *AssemblyError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *AssemblyError) Unwrap() error { return e.Err }
