// Completion: 100% - Value representation complete
package box

import (
	"errors"
	"fmt"

	"github.com/xyproto/tachyon/internal/engine"
)

// Boxed values are 64-bit words whose low bits hold a type tag.
//
// Encoding (default layout, see engine.DefaultBoxingLayout):
//   - Integer:   payload << 2, low two bits 00
//   - Reference: aligned address | tag, tag in the low three bits
//   - Special:   id << 3 | other-tag, id 0..3 = false, true, null, undefined
//
// Integers are the only boxed form with a zero tag, so integer arithmetic
// on boxed words needs no unboxing for add and sub.

var (
	ErrTypeMismatch = errors.New("type mismatch")
	ErrUnknownTag   = errors.New("unknown tag")
	ErrIntRange     = errors.New("integer out of boxable range")
	ErrMisaligned   = errors.New("reference is not tag-aligned")
)

// TypeMismatchError reports an unbox with the wrong expected tag
type TypeMismatchError struct {
	Word     Word
	Expected Tag
	Got      Tag
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: unboxing %#x as %s, word is tagged %s", uint64(e.Word), e.Expected, e.Got)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// Word is a boxed machine word
type Word uint64

// Special constant ids carried under the "other" tag
const (
	specialFalse uint64 = iota
	specialTrue
	specialNull
	specialUndefined
)

// Scheme boxes and unboxes words for one boxing layout. A Scheme is
// immutable and safe for concurrent use.
type Scheme struct {
	layout  engine.BoxingLayout
	tagBits map[Tag]uint64
	byBits  map[uint64]Tag
}

// NewScheme validates the layout and builds its tag tables
func NewScheme(layout engine.BoxingLayout) (*Scheme, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	s := &Scheme{
		layout: layout,
		tagBits: map[Tag]uint64{
			TagInt:      0,
			TagOther:    layout.TagOther,
			TagString:   layout.TagString,
			TagFloat:    layout.TagFloat,
			TagArray:    layout.TagArray,
			TagFunction: layout.TagFunction,
			TagObject:   layout.TagObject,
		},
		byBits: make(map[uint64]Tag),
	}
	// every tag but the integer one is told apart by the reference mask
	for t, b := range s.tagBits {
		if t != TagInt {
			s.byBits[b] = t
		}
	}
	return s, nil
}

// MustScheme is NewScheme for layouts known to be valid
func MustScheme(layout engine.BoxingLayout) *Scheme {
	s, err := NewScheme(layout)
	if err != nil {
		panic(err)
	}
	return s
}

// Layout returns the layout the scheme was built from
func (s *Scheme) Layout() engine.BoxingLayout {
	return s.layout
}

// TagBits returns the raw low-bit pattern of a tag
func (s *Scheme) TagBits(t Tag) (uint64, error) {
	b, ok := s.tagBits[t]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownTag, int(t))
	}
	return b, nil
}

// IntRange returns the smallest and largest boxable integers
func (s *Scheme) IntRange() (int64, int64) {
	bits := 64 - uint(s.layout.IntTagBits)
	return -(1 << (bits - 1)), 1<<(bits-1) - 1
}

// Box packs a native value under a tag. For TagInt the value is the integer,
// for TagOther the special id, and for reference tags the aligned address.
func (s *Scheme) Box(native int64, t Tag) (Word, error) {
	bits, err := s.TagBits(t)
	if err != nil {
		return 0, err
	}
	switch {
	case t == TagInt:
		lo, hi := s.IntRange()
		if native < lo || native > hi {
			return 0, fmt.Errorf("%w: %d", ErrIntRange, native)
		}
		return Word(uint64(native) << uint(s.layout.IntTagBits)), nil
	case t == TagOther:
		return Word(uint64(native)<<uint(s.layout.RefTagBits) | bits), nil
	default:
		if uint64(native)&s.layout.RefMask() != 0 {
			return 0, fmt.Errorf("%w: %#x as %s", ErrMisaligned, uint64(native), t)
		}
		return Word(uint64(native) | bits), nil
	}
}

// Unbox recovers the native value of a word, failing with a
// *TypeMismatchError if the word does not carry the expected tag.
func (s *Scheme) Unbox(w Word, expected Tag) (int64, error) {
	if _, err := s.TagBits(expected); err != nil {
		return 0, err
	}
	got, err := s.TagOf(w)
	if err != nil {
		return 0, err
	}
	if got != expected {
		return 0, &TypeMismatchError{Word: w, Expected: expected, Got: got}
	}
	switch expected {
	case TagInt:
		return int64(w) >> uint(s.layout.IntTagBits), nil
	case TagOther:
		return int64(uint64(w) >> uint(s.layout.RefTagBits)), nil
	default:
		return int64(uint64(w) &^ s.layout.RefMask()), nil
	}
}

// TagOf classifies a word by its low bits
func (s *Scheme) TagOf(w Word) (Tag, error) {
	if uint64(w)&s.layout.IntMask() == 0 {
		return TagInt, nil
	}
	t, ok := s.byBits[uint64(w)&s.layout.RefMask()]
	if !ok {
		return 0, fmt.Errorf("%w: word %#x has tag bits %#x", ErrUnknownTag, uint64(w), uint64(w)&s.layout.RefMask())
	}
	return t, nil
}

func (s *Scheme) special(id uint64) Word {
	return Word(id<<uint(s.layout.RefTagBits) | s.layout.TagOther)
}

func (s *Scheme) False() Word     { return s.special(specialFalse) }
func (s *Scheme) True() Word      { return s.special(specialTrue) }
func (s *Scheme) Null() Word      { return s.special(specialNull) }
func (s *Scheme) Undefined() Word { return s.special(specialUndefined) }

// FromBool boxes a boolean
func (s *Scheme) FromBool(b bool) Word {
	if b {
		return s.True()
	}
	return s.False()
}
