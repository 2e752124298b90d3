// Completion: 100% - Code block assembly complete
package asm

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/tliron/commonlog"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/mcb"
)

var log = commonlog.GetLogger("tachyon.asm")

// Label is a symbolic position inside one code block
type Label struct {
	Name string

	block   *CodeBlock
	defined bool
	index   int // instruction the label is bound to; len(instrs) means the end
	offset  int
}

func (*Label) operand() {}

func (l *Label) String() string { return l.Name }

// Defined reports whether the label has been bound
func (l *Label) Defined() bool { return l.defined }

// CodeBlock is an ordered sequence of instructions and labels. It is mutable
// while emitting and frozen by a successful Assemble.
type CodeBlock struct {
	// BigEndian selects the byte order of immediates and displacements
	BigEndian bool
	// CallConv names the calling convention the code was generated for;
	// empty means System V
	CallConv string

	instrs    []*Instruction
	labels    map[string]*Label
	marks     []*Label // labels in definition order
	code      []byte
	assembled bool
	err       error
}

// NewCodeBlock returns an empty little-endian code block
func NewCodeBlock() *CodeBlock {
	return &CodeBlock{labels: make(map[string]*Label)}
}

func (cb *CodeBlock) order() binary.ByteOrder {
	if cb.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// record keeps the first emission error
func (cb *CodeBlock) record(err error) {
	if cb.err == nil {
		cb.err = err
	}
}

// Err returns the first error recorded while emitting or assembling
func (cb *CodeBlock) Err() error { return cb.err }

// Assembled reports whether Assemble has succeeded
func (cb *CodeBlock) Assembled() bool { return cb.assembled }

// Instructions returns the emitted instructions in order
func (cb *CodeBlock) Instructions() []*Instruction { return cb.instrs }

// Len returns the number of instructions
func (cb *CodeBlock) Len() int { return len(cb.instrs) }

// Bytes returns the assembled machine code, nil before Assemble
func (cb *CodeBlock) Bytes() []byte { return cb.code }

// Label returns the label with the given name, creating it if needed
func (cb *CodeBlock) Label(name string) *Label {
	if l, ok := cb.labels[name]; ok {
		return l
	}
	l := &Label{Name: name, block: cb}
	cb.labels[name] = l
	return l
}

// LabelOffset returns the resolved offset of a defined label
func (cb *CodeBlock) LabelOffset(name string) (int, bool) {
	l, ok := cb.labels[name]
	if !ok || !l.defined || !cb.assembled {
		return 0, false
	}
	return l.offset, true
}

// DefinedLabels returns the names of all defined labels in definition order
func (cb *CodeBlock) DefinedLabels() []string {
	names := make([]string, len(cb.marks))
	for i, l := range cb.marks {
		names[i] = l.Name
	}
	return names
}

func (cb *CodeBlock) define(l *Label) error {
	switch {
	case l == nil || l.block != cb:
		name := "<nil>"
		if l != nil {
			name = l.Name
		}
		return &LabelError{Name: name, Err: ErrForeignLabel}
	case cb.assembled:
		return &LabelError{Name: l.Name, Err: ErrFrozen}
	case l.defined:
		return &LabelError{Name: l.Name, Err: ErrLabelRedefined}
	}
	l.defined = true
	l.index = len(cb.instrs)
	cb.marks = append(cb.marks, l)
	return nil
}

func (cb *CodeBlock) append(in *Instruction) {
	if cb.assembled {
		cb.record(fmt.Errorf("%s: %w", in.Text(), ErrFrozen))
		return
	}
	for _, o := range in.Operands {
		if l, ok := o.(*Label); ok && (l == nil || l.block != cb) {
			name := "<nil>"
			if l != nil {
				name = l.Name
			}
			cb.record(&LabelError{Name: name, Err: ErrForeignLabel})
		}
	}
	// Encoding does not depend on label offsets, so operand errors surface
	// at emission time
	in.fixup = -1
	if err := encode(in, cb.order()); err != nil {
		cb.record(&InstructionError{Index: len(cb.instrs), Text: in.Text(), Pos: in.Pos, Err: err})
	}
	cb.instrs = append(cb.instrs, in)
}

// layout encodes every instruction and assigns offsets. It returns the total
// length, or the index of the first instruction that failed to encode.
func (cb *CodeBlock) layout() (int, int, error) {
	order := cb.order()
	off := 0
	for i, in := range cb.instrs {
		if err := encode(in, order); err != nil {
			return off, i, &InstructionError{Index: i, Text: in.Text(), Pos: in.Pos, Err: err}
		}
		in.Offset = off
		off += in.Len()
	}
	return off, len(cb.instrs), nil
}

// relDisplacement computes a rel32 field from the branch target and the
// offset of the instruction that follows the branch
func relDisplacement(label string, target, next int) (int32, error) {
	d := int64(target) - int64(next)
	if !fits32(d) {
		return 0, &DisplacementError{Label: label, From: next, To: target}
	}
	return int32(d), nil
}

// Assemble encodes every instruction, resolves labels, patches relative
// displacements and concatenates the result. It is idempotent once it
// succeeds and the block is frozen afterwards.
func (cb *CodeBlock) Assemble() error {
	if cb.assembled {
		return nil
	}
	if cb.err != nil {
		return cb.err
	}

	// Pass 1: lengths and offsets with zeroed label fields
	total, _, err := cb.layout()
	if err != nil {
		cb.record(err)
		return err
	}

	// Pass 2: resolve labels
	for _, l := range cb.marks {
		if l.index < len(cb.instrs) {
			l.offset = cb.instrs[l.index].Offset
		} else {
			l.offset = total
		}
	}
	if err := cb.unresolved(); err != nil {
		cb.record(err)
		return err
	}

	// Pass 3: patch displacements
	order := cb.order()
	for _, in := range cb.instrs {
		if in.fixup < 0 {
			continue
		}
		disp, err := relDisplacement(in.label.Name, in.label.offset, in.Offset+in.Len())
		if err != nil {
			cb.record(err)
			return err
		}
		order.PutUint32(in.bytes[in.fixup:], uint32(disp))
	}

	code := make([]byte, 0, total)
	for _, in := range cb.instrs {
		code = append(code, in.bytes...)
	}
	cb.code = code
	cb.assembled = true
	log.Debugf("assembled %d instructions, %d labels, %d bytes", len(cb.instrs), len(cb.marks), total)
	return nil
}

// unresolved reports the first referenced label that was never defined
func (cb *CodeBlock) unresolved() error {
	var first *Label
	var refs []string
	for _, in := range cb.instrs {
		if in.label == nil || in.label.defined {
			continue
		}
		if first == nil {
			first = in.label
		}
		if in.label == first {
			ref := in.Pos
			if ref == "" {
				ref = fmt.Sprintf("%04x", in.Offset)
			}
			refs = append(refs, ref)
		}
	}
	if first == nil {
		return nil
	}
	defined := cb.DefinedLabels()
	sort.Strings(defined)
	return &UnresolvedLabelError{
		Name:        first.Name,
		Refs:        refs,
		Suggestions: engine.SimilarNames(first.Name, defined, 3),
	}
}

// ListingString renders the block one line per instruction and label in
// emission order. Offsets come from the current layout; past an instruction
// that cannot be encoded they are shown as ????.
func (cb *CodeBlock) ListingString() string {
	return cb.listing(false)
}

// ListingWithBytes is ListingString with the encoded bytes of each instruction
func (cb *CodeBlock) ListingWithBytes() string {
	return cb.listing(true)
}

func (cb *CodeBlock) listing(withBytes bool) string {
	total, bad := 0, len(cb.instrs)
	if !cb.assembled {
		total, bad, _ = cb.layout()
	} else if n := len(cb.instrs); n > 0 {
		last := cb.instrs[n-1]
		total = last.Offset + last.Len()
	}

	marks := make(map[int][]*Label)
	for _, l := range cb.marks {
		marks[l.index] = append(marks[l.index], l)
	}
	// the instruction that failed to encode still has a known offset
	offs := make([]string, len(cb.instrs)+1)
	for i := range offs {
		switch {
		case i < bad:
			offs[i] = fmt.Sprintf("%04x", cb.instrs[i].Offset)
		case i == bad:
			offs[i] = fmt.Sprintf("%04x", total)
		default:
			offs[i] = "????"
		}
	}

	var sb strings.Builder
	for i := 0; i <= len(cb.instrs); i++ {
		for _, l := range marks[i] {
			fmt.Fprintf(&sb, "%s: %s:\n", offs[i], l.Name)
		}
		if i == len(cb.instrs) {
			break
		}
		in := cb.instrs[i]
		if withBytes && i < bad {
			fmt.Fprintf(&sb, "%s: %-24s %s\n", offs[i], hexBytes(in.bytes), in.Text())
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", offs[i], in.Text())
	}
	return sb.String()
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, " ")
}

// AssembleToMachineCodeBlock installs the assembled bytes in executable
// memory. The block must have been assembled and must be little-endian.
func (cb *CodeBlock) AssembleToMachineCodeBlock() (*mcb.Block, error) {
	if !cb.assembled {
		return nil, &AssemblyError{Op: "install", Err: ErrNotAssembled}
	}
	if cb.BigEndian {
		return nil, &AssemblyError{Op: "install", Err: ErrForeignByteOrder}
	}
	b, err := mcb.New(cb.code)
	if err != nil {
		return nil, &AssemblyError{Op: "install", Err: err}
	}
	log.Debugf("installed %d bytes at %#x", b.Size(), b.Addr())
	return b, nil
}
