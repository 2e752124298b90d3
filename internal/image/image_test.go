package image

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xyproto/tachyon/internal/asm"
	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/mcb"
	"github.com/xyproto/tachyon/internal/pipeline"
)

const fibSource = `
function fib(n) {
    if (n < 2) return n;
    return fib(n - 1) + fib(n - 2);
}
`

func fibImage(t *testing.T) *Image {
	t.Helper()
	p := engine.DefaultParams()
	p.Platform = engine.Platform{Arch: engine.ArchX86_64, OS: engine.OSLinux}
	p.CallConv = "sysv"
	pl, err := pipeline.New(p)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	m, cb, err := pl.CompileSrcToCB(fibSource)
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	img, err := FromCodeBlock(cb, m, pl.Params())
	if err != nil {
		t.Fatalf("Failed to capture image: %v", err)
	}
	return img
}

func TestFromCodeBlock(t *testing.T) {
	img := fibImage(t)
	if img.Arch != "x86_64" || img.CallConv != "sysv" || img.BigEndian {
		t.Errorf("Expected an x86_64 sysv little-endian image, got %s", img)
	}
	names := make([]string, len(img.Entries))
	for i, e := range img.Entries {
		names[i] = e.Name
	}
	if !reflect.DeepEqual(names, []string{"fib", "lt", "sub", "add"}) {
		t.Errorf("Expected entries fib lt sub add, got %v", names)
	}
	fib, ok := img.Lookup("fib")
	if !ok || fib.Offset != 0 || fib.Primitive || fib.Ret != "box" || len(fib.Params) != 1 {
		t.Errorf("Unexpected fib entry: %+v", fib)
	}
	if add, _ := img.Lookup("add"); !add.Primitive {
		t.Errorf("Expected add to be marked primitive")
	}

	if _, err := FromCodeBlock(asm.NewCodeBlock(), nil, engine.DefaultParams()); !errors.Is(err, asm.ErrNotAssembled) {
		t.Errorf("Expected ErrNotAssembled, got %v", err)
	}
}

func TestWriteRead(t *testing.T) {
	img := fibImage(t)
	var a, b bytes.Buffer
	if err := img.Write(&a); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := img.Write(&b); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Errorf("Expected canonical encoding to be deterministic")
	}
	got, err := Read(&a)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if !reflect.DeepEqual(got, img) {
		t.Errorf("Expected %+v, got %+v", img, got)
	}
}

func TestSaveLoad(t *testing.T) {
	img := fibImage(t)
	path := filepath.Join(t.TempDir(), "fib.tyi")
	if err := img.Save(path); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if !bytes.Equal(got.Code, img.Code) {
		t.Errorf("Expected the same code bytes back")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.tyi")); err == nil {
		t.Errorf("Expected an error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Image)
	}{
		{"magic", func(img *Image) { img.Magic = "elf" }},
		{"version", func(img *Image) { img.Version = 99 }},
		{"offset", func(img *Image) { img.Entries[0].Offset = len(img.Code) }},
		{"duplicate", func(img *Image) { img.Entries[1].Name = img.Entries[0].Name }},
		{"type", func(img *Image) { img.Entries[0].Ret = "quux" }},
		{"boxing", func(img *Image) { img.Boxing.TagArray = img.Boxing.TagObject }},
	}
	for _, tt := range tests {
		img := fibImage(t)
		tt.mutate(img)
		data, err := img.Marshal()
		if err != nil {
			t.Fatalf("%s: failed to marshal: %v", tt.name, err)
		}
		if _, err := Unmarshal(data); !errors.Is(err, ErrBadImage) {
			t.Errorf("%s: expected ErrBadImage, got %v", tt.name, err)
		}
	}
	if _, err := Unmarshal([]byte{0xff, 0x00}); !errors.Is(err, ErrBadImage) {
		t.Errorf("Expected ErrBadImage for garbage, got %v", err)
	}
}

func TestCall(t *testing.T) {
	img := fibImage(t)
	if _, err := img.Call("fob"); !errors.Is(err, ErrNoEntry) {
		t.Errorf("Expected ErrNoEntry, got %v", err)
	}
	if _, err := img.Call("fib"); err == nil {
		t.Errorf("Expected an arity error")
	}

	big := *img
	big.BigEndian = true
	if _, err := big.Call("fib", box.Int(1)); !errors.Is(err, ErrIncompatible) {
		t.Errorf("Expected ErrIncompatible for a big-endian image, got %v", err)
	}

	if !mcb.Supported() {
		t.Skip("native execution is not supported on this host")
	}
	v, err := img.Call("fib", box.Int(10))
	if err != nil {
		t.Fatalf("Failed to call fib: %v", err)
	}
	if v != box.Int(55) {
		t.Errorf("Expected 55, got %v", v)
	}
	v, err = img.Call("lt", box.Int(1), box.Int(2))
	if err != nil {
		t.Fatalf("Failed to call lt: %v", err)
	}
	if v != box.Bool(true) {
		t.Errorf("Expected true, got %v", v)
	}
}
