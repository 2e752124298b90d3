// Completion: 100% - Code images complete
package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	"github.com/xyproto/tachyon/internal/asm"
	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/bridge"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/ir"
	"github.com/xyproto/tachyon/internal/mcb"
)

var log = commonlog.GetLogger("tachyon.image")

const (
	Magic   = "tachyon-image"
	Version = 1
)

var (
	ErrBadImage     = errors.New("malformed code image")
	ErrIncompatible = errors.New("code image cannot run on this host")
	ErrNoEntry      = errors.New("no such entry point in code image")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Entry is one function in an image
type Entry struct {
	Name      string   `cbor:"1,keyasint"`
	Offset    int      `cbor:"2,keyasint"`
	Params    []string `cbor:"3,keyasint,omitempty"` // IR type names
	Ret       string   `cbor:"4,keyasint"`
	Primitive bool     `cbor:"5,keyasint,omitempty"`
}

// Image is an assembled module saved with what is needed to run it again:
// the code bytes, entry points and the target they were compiled for
type Image struct {
	Magic     string              `cbor:"1,keyasint"`
	Version   int                 `cbor:"2,keyasint"`
	Module    string              `cbor:"3,keyasint"`
	Arch      string              `cbor:"4,keyasint"`
	BigEndian bool                `cbor:"5,keyasint"`
	CallConv  string              `cbor:"6,keyasint"`
	Boxing    engine.BoxingLayout `cbor:"7,keyasint"`
	Code      []byte              `cbor:"8,keyasint"`
	Entries   []Entry             `cbor:"9,keyasint"`
}

// FromCodeBlock captures an assembled block of module m compiled with p
func FromCodeBlock(cb *asm.CodeBlock, m *ir.Module, p *engine.Params) (*Image, error) {
	if !cb.Assembled() {
		return nil, &asm.AssemblyError{Op: "image", Err: asm.ErrNotAssembled}
	}
	img := &Image{
		Magic:     Magic,
		Version:   Version,
		Module:    m.Name,
		Arch:      p.Platform.Arch.String(),
		BigEndian: p.Endian == engine.BigEndian,
		CallConv:  p.CallingConvention().Name(),
		Boxing:    p.Boxing,
		Code:      append([]byte(nil), cb.Bytes()...),
	}
	for _, fn := range m.Reachable() {
		off, ok := cb.LabelOffset(fn.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no code in the block", ErrBadImage, fn.Name)
		}
		e := Entry{Name: fn.Name, Offset: off, Ret: fn.Ret.String(), Primitive: fn.Primitive}
		for _, t := range fn.ParamTypes() {
			e.Params = append(e.Params, t.String())
		}
		img.Entries = append(img.Entries, e)
	}
	return img, nil
}

// Validate checks the header and that every entry lies inside the code
func (img *Image) Validate() error {
	if img.Magic != Magic {
		return fmt.Errorf("%w: bad magic %q", ErrBadImage, img.Magic)
	}
	if img.Version != Version {
		return fmt.Errorf("%w: version %d, want %d", ErrBadImage, img.Version, Version)
	}
	if err := img.Boxing.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadImage, err)
	}
	seen := make(map[string]bool)
	for _, e := range img.Entries {
		if e.Offset < 0 || e.Offset >= len(img.Code) {
			return fmt.Errorf("%w: entry %s at %d outside %d code bytes", ErrBadImage, e.Name, e.Offset, len(img.Code))
		}
		if seen[e.Name] {
			return fmt.Errorf("%w: duplicate entry %s", ErrBadImage, e.Name)
		}
		seen[e.Name] = true
		for _, t := range append([]string{e.Ret}, e.Params...) {
			if _, err := ir.ParseType(t); err != nil {
				return fmt.Errorf("%w: entry %s: %w", ErrBadImage, e.Name, err)
			}
		}
	}
	return nil
}

// Lookup returns the entry with the given name
func (img *Image) Lookup(name string) (Entry, bool) {
	for _, e := range img.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

func (img *Image) String() string {
	return fmt.Sprintf("%s: %d entries, %d bytes, %s %s", img.Module, len(img.Entries), len(img.Code), img.Arch, img.CallConv)
}

// Marshal encodes the image as canonical CBOR
func (img *Image) Marshal() ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// Unmarshal decodes and validates an image
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadImage, err)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return &img, nil
}

// Write encodes the image to w
func (img *Image) Write(w io.Writer) error {
	data, err := img.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Read decodes an image from r
func Read(r io.Reader) (*Image, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return Unmarshal(buf.Bytes())
}

// Save writes the image to path
func (img *Image) Save(path string) error {
	data, err := img.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Debugf("saved %s to %s", img, path)
	return nil
}

// Load reads an image from path
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("loaded %s from %s", img, path)
	return img, nil
}

// params rebuilds the target parameters the image was compiled with
func (img *Image) params() (*engine.Params, error) {
	arch, err := engine.ParseArch(img.Arch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompatible, err)
	}
	p := engine.DefaultParams()
	p.Platform.Arch = arch
	p.Boxing = img.Boxing
	p.CallConv = img.CallConv
	if img.BigEndian {
		p.Endian = engine.BigEndian
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompatible, err)
	}
	if p.Endian == engine.BigEndian {
		return nil, fmt.Errorf("%w: %w", ErrIncompatible, asm.ErrForeignByteOrder)
	}
	return p, nil
}

// Call installs the image, runs the named entry and releases the code.
// Box parameters take any host value; pint parameters take integers.
func (img *Image) Call(name string, args ...box.Value) (box.Value, error) {
	e, ok := img.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, name)
	}
	if len(args) != len(e.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", name, len(e.Params), len(args))
	}
	p, err := img.params()
	if err != nil {
		return nil, err
	}
	scheme, err := box.NewScheme(p.Boxing)
	if err != nil {
		return nil, err
	}

	frame := make([]uint64, mcb.FrameWords)
	for i, t := range e.Params {
		w, err := toWord(scheme, t, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s: %w", i, name, err)
		}
		frame[mcb.FrameArgs+i] = w
	}

	tcb, err := bridge.Trampoline(p, len(args))
	if err != nil {
		return nil, err
	}
	tramp, err := tcb.AssembleToMachineCodeBlock()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tramp.Free(); err != nil {
			log.Errorf("release after call: %v", err)
		}
	}()
	code, err := mcb.New(img.Code)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := code.Free(); err != nil {
			log.Errorf("release after call: %v", err)
		}
	}()
	entry, err := code.Entry(e.Offset)
	if err != nil {
		return nil, err
	}
	frame[mcb.FrameEntry] = uint64(entry)
	if err := mcb.Call(tramp.Addr(), frame); err != nil {
		return nil, err
	}
	return fromWord(scheme, e.Ret, frame[mcb.FrameResult])
}

func toWord(scheme *box.Scheme, t string, v box.Value) (uint64, error) {
	switch t {
	case "box":
		w, err := scheme.Encode(v)
		return uint64(w), err
	case "pint", "i64":
		n, ok := v.(box.Int)
		if !ok {
			return 0, fmt.Errorf("%s parameter needs an integer, got %v", t, v)
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("%w: cannot pass %s parameters", ErrIncompatible, t)
	}
}

func fromWord(scheme *box.Scheme, t string, w uint64) (box.Value, error) {
	switch t {
	case "box":
		return scheme.Decode(box.Word(w))
	case "pint", "i64":
		return box.Int(int64(w)), nil
	case "bool":
		return box.Bool(w&0xff != 0), nil
	default:
		return nil, fmt.Errorf("%w: cannot return %s", ErrIncompatible, t)
	}
}
