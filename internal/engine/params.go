// Completion: 100% - Target parameters complete
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidParams is wrapped by every Validate failure
var ErrInvalidParams = errors.New("invalid target parameters")

// Endian selects the byte order of multi-byte immediate and displacement
// fields written by the assembler.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

// ParseEndian parses "little" or "big"
func ParseEndian(s string) (Endian, error) {
	switch strings.ToLower(s) {
	case "little", "le", "":
		return LittleEndian, nil
	case "big", "be":
		return BigEndian, nil
	default:
		return LittleEndian, fmt.Errorf("unknown endianness %q", s)
	}
}

// BoxingLayout fixes how dynamic values are packed into 64-bit words.
//
// Integers carry a zero tag in the low IntTagBits bits. Every reference
// carries a non-zero tag in the low RefTagBits bits, so references must be
// aligned to 1<<RefTagBits bytes. The "other" tag holds the special
// constants (false, true, null, undefined) with the payload above the tag.
type BoxingLayout struct {
	IntTagBits  int    `toml:"int_tag_bits"`
	RefTagBits  int    `toml:"ref_tag_bits"`
	TagOther    uint64 `toml:"tag_other"`
	TagString   uint64 `toml:"tag_string"`
	TagFloat    uint64 `toml:"tag_float"`
	TagArray    uint64 `toml:"tag_array"`
	TagFunction uint64 `toml:"tag_function"`
	TagObject   uint64 `toml:"tag_object"`
}

// DefaultBoxingLayout is the layout the runtime primitives are written against
func DefaultBoxingLayout() BoxingLayout {
	return BoxingLayout{
		IntTagBits:  2,
		RefTagBits:  3,
		TagOther:    1,
		TagString:   2,
		TagFloat:    3,
		TagArray:    5,
		TagFunction: 6,
		TagObject:   7,
	}
}

// IntMask selects the integer tag bits
func (l BoxingLayout) IntMask() uint64 {
	return 1<<uint(l.IntTagBits) - 1
}

// RefMask selects the reference tag bits
func (l BoxingLayout) RefMask() uint64 {
	return 1<<uint(l.RefTagBits) - 1
}

// RefTags returns the reference tags keyed by kind name
func (l BoxingLayout) RefTags() map[string]uint64 {
	return map[string]uint64{
		"other":    l.TagOther,
		"string":   l.TagString,
		"float":    l.TagFloat,
		"array":    l.TagArray,
		"function": l.TagFunction,
		"object":   l.TagObject,
	}
}

// Validate checks that every reference tag is representable, distinct and
// distinguishable from an integer.
func (l BoxingLayout) Validate() error {
	if l.IntTagBits < 1 || l.IntTagBits > l.RefTagBits {
		return fmt.Errorf("%w: int_tag_bits %d must be in 1..ref_tag_bits (%d)", ErrInvalidParams, l.IntTagBits, l.RefTagBits)
	}
	if l.RefTagBits > 4 {
		return fmt.Errorf("%w: ref_tag_bits %d exceeds 4", ErrInvalidParams, l.RefTagBits)
	}
	seen := make(map[uint64]string)
	for _, name := range []string{"other", "string", "float", "array", "function", "object"} {
		tag := l.RefTags()[name]
		if tag == 0 || tag > l.RefMask() {
			return fmt.Errorf("%w: tag_%s %d out of range 1..%d", ErrInvalidParams, name, tag, l.RefMask())
		}
		if tag&l.IntMask() == 0 {
			return fmt.Errorf("%w: tag_%s %d collides with the integer tag", ErrInvalidParams, name, tag)
		}
		if prev, ok := seen[tag]; ok {
			return fmt.Errorf("%w: tag_%s and tag_%s share value %d", ErrInvalidParams, prev, name, tag)
		}
		seen[tag] = name
	}
	return nil
}

// Register allocator names accepted by the backend
const (
	RegAllocLinearScan = "linearscan"
	RegAllocSpillAll   = "spillall"
)

// Params is the read-only target description consumed by the backend
type Params struct {
	Name     string
	Platform Platform
	Endian   Endian
	Boxing   BoxingLayout
	CallConv string
	RegAlloc string

	// Debug makes generated code trap on unboxing with the wrong tag
	Debug bool
	// DebugTrace logs every compiled function's listing
	DebugTrace bool
}

// HostParams describes the process the compiler itself runs in
func HostParams() *Params {
	p := HostPlatform()
	return &Params{
		Name:     "host",
		Platform: p,
		Endian:   LittleEndian,
		Boxing:   DefaultBoxingLayout(),
		CallConv: CallingConventionFor(p).Name(),
		RegAlloc: RegAllocLinearScan,
	}
}

// ClientParams describes code compiled for execution by the host. It is the
// same target as HostParams; it is kept separate so that either side can be
// reconfigured independently.
func ClientParams() *Params {
	p := HostParams()
	p.Name = "client"
	return p
}

// ClientDebugParams is ClientParams with runtime checks and tracing enabled
func ClientDebugParams() *Params {
	p := ClientParams()
	p.Name = "client-debug"
	p.Debug = true
	p.DebugTrace = true
	return p
}

// DefaultParams returns the parameters used when nothing else is configured
func DefaultParams() *Params {
	return ClientParams()
}

// Clone returns a copy that can be modified without touching p
func (p *Params) Clone() *Params {
	c := *p
	return &c
}

// CallingConvention resolves the configured convention
func (p *Params) CallingConvention() CallingConvention {
	cc, err := LookupCallingConvention(p.CallConv)
	if err != nil {
		return CallingConventionFor(p.Platform)
	}
	return cc
}

// Validate rejects parameters the backend cannot honor
func (p *Params) Validate() error {
	if p.Platform.Arch != ArchX86_64 {
		return fmt.Errorf("%w: no code generator for %s", ErrInvalidParams, p.Platform.Arch)
	}
	if err := p.Boxing.Validate(); err != nil {
		return err
	}
	cc, err := LookupCallingConvention(p.CallConv)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	callee := make(map[string]bool)
	for _, r := range cc.CalleeSavedRegs() {
		callee[r] = true
	}
	for _, r := range cc.IntegerArgRegs() {
		if callee[r] {
			return fmt.Errorf("%w: argument register %s is callee-saved", ErrInvalidParams, r)
		}
	}
	switch p.RegAlloc {
	case RegAllocLinearScan, RegAllocSpillAll:
	default:
		return fmt.Errorf("%w: unknown register allocator %q (known: %s, %s)",
			ErrInvalidParams, p.RegAlloc, RegAllocLinearScan, RegAllocSpillAll)
	}
	return nil
}

func (p *Params) String() string {
	return fmt.Sprintf("%s: %s %s-endian cc=%s regalloc=%s", p.Name, p.Platform, p.Endian, p.CallConv, p.RegAlloc)
}
