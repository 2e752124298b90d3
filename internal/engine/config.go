// Completion: 100% - Configuration loading complete
package engine

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"
)

// Environment variables consulted by FromEnv
const (
	EnvParams    = "TACHYON_PARAMS"
	EnvRegAlloc  = "TACHYON_REGALLOC"
	EnvBigEndian = "TACHYON_BIG_ENDIAN"
	EnvDebug     = "TACHYON_DEBUG"
	EnvVerbose   = "TACHYON_VERBOSE"
)

// paramsFile mirrors the on-disk TOML layout:
//
//	[target]
//	platform = "x86_64-linux"
//	endian = "little"
//	[boxing]
//	int_tag_bits = 2
//	[callconv]
//	name = "sysv"
//	[backend]
//	regalloc = "linearscan"
//	debug = false
type paramsFile struct {
	Name   string `toml:"name"`
	Target struct {
		Platform string `toml:"platform"`
		Endian   string `toml:"endian"`
	} `toml:"target"`
	Boxing   *BoxingLayout `toml:"boxing"`
	CallConv struct {
		Name string `toml:"name"`
	} `toml:"callconv"`
	Backend struct {
		RegAlloc   string `toml:"regalloc"`
		Debug      bool   `toml:"debug"`
		DebugTrace bool   `toml:"debug_trace"`
	} `toml:"backend"`
}

// ParseParams decodes TOML parameters on top of DefaultParams
func ParseParams(data []byte) (*Params, error) {
	var f paramsFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	p := DefaultParams()
	if f.Name != "" {
		p.Name = f.Name
	}
	if f.Target.Platform != "" {
		plat, err := ParsePlatform(f.Target.Platform)
		if err != nil {
			return nil, err
		}
		p.Platform = plat
		p.CallConv = CallingConventionFor(plat).Name()
	}
	if f.Target.Endian != "" {
		e, err := ParseEndian(f.Target.Endian)
		if err != nil {
			return nil, err
		}
		p.Endian = e
	}
	if f.Boxing != nil {
		p.Boxing = mergeBoxing(p.Boxing, *f.Boxing)
	}
	if f.CallConv.Name != "" {
		p.CallConv = f.CallConv.Name
	}
	if f.Backend.RegAlloc != "" {
		p.RegAlloc = f.Backend.RegAlloc
	}
	p.Debug = p.Debug || f.Backend.Debug
	p.DebugTrace = p.DebugTrace || f.Backend.DebugTrace

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// mergeBoxing fills zero fields of b from defaults
func mergeBoxing(defaults, b BoxingLayout) BoxingLayout {
	pick := func(v, d uint64) uint64 {
		if v == 0 {
			return d
		}
		return v
	}
	if b.IntTagBits == 0 {
		b.IntTagBits = defaults.IntTagBits
	}
	if b.RefTagBits == 0 {
		b.RefTagBits = defaults.RefTagBits
	}
	b.TagOther = pick(b.TagOther, defaults.TagOther)
	b.TagString = pick(b.TagString, defaults.TagString)
	b.TagFloat = pick(b.TagFloat, defaults.TagFloat)
	b.TagArray = pick(b.TagArray, defaults.TagArray)
	b.TagFunction = pick(b.TagFunction, defaults.TagFunction)
	b.TagObject = pick(b.TagObject, defaults.TagObject)
	return b
}

// LoadParams reads a TOML parameter file
func LoadParams(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	p, err := ParseParams(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return p, nil
}

// FromEnv loads the file named by TACHYON_PARAMS (if set) and applies the
// remaining TACHYON_* overrides.
func FromEnv() (*Params, error) {
	p := DefaultParams()
	if path := env.Str(EnvParams); path != "" {
		var err error
		if p, err = LoadParams(path); err != nil {
			return nil, err
		}
	}
	if ra := env.Str(EnvRegAlloc); ra != "" {
		p.RegAlloc = ra
	}
	if env.Has(EnvBigEndian) {
		if env.Bool(EnvBigEndian) {
			p.Endian = BigEndian
		} else {
			p.Endian = LittleEndian
		}
	}
	if env.Bool(EnvDebug) {
		p.Debug = true
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Verbosity returns the log verbosity requested through TACHYON_VERBOSE
func Verbosity() int {
	return env.Int(EnvVerbose, 0)
}
