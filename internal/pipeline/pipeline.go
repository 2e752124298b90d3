// Completion: 100% - Compile pipeline complete
package pipeline

import (
	"github.com/tliron/commonlog"
	"github.com/xyproto/tachyon/internal/asm"
	"github.com/xyproto/tachyon/internal/backend"
	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/frontend"
	"github.com/xyproto/tachyon/internal/ir"
	"github.com/xyproto/tachyon/internal/prims"
)

var log = commonlog.GetLogger("tachyon.pipeline")

// Frontend turns source text into an IR module
type Frontend interface {
	Compile(name, src string) (*ir.Module, error)
}

// Option configures a Pipeline before it is brought up
type Option func(*Pipeline)

// WithFrontend replaces the built-in JavaScript subset frontend
func WithFrontend(f Frontend) Option {
	return func(pl *Pipeline) { pl.frontend = f }
}

// WithLayouts sets the object layouts the primitives are built against
func WithLayouts(l prims.Layouts) Option {
	return func(pl *Pipeline) { pl.layouts = l }
}

// WithSourceName sets the file name reported in diagnostics
func WithSourceName(name string) Option {
	return func(pl *Pipeline) { pl.source = name }
}

// Pipeline compiles source to IR and IR to code blocks for one target
type Pipeline struct {
	params   *engine.Params
	scheme   *box.Scheme
	prims    *prims.Set
	frontend Frontend
	layouts  prims.Layouts
	source   string

	stage   Stage
	history []Stage
}

// New validates p and brings a pipeline up to StageReady. A nil p means
// engine.DefaultParams. The pipeline keeps its own copy of the parameters.
func New(p *engine.Params, opts ...Option) (*Pipeline, error) {
	pl := &Pipeline{
		layouts: prims.DefaultLayouts(),
		source:  "<input>",
		stage:   StageInit,
		history: []Stage{StageInit},
	}
	for _, opt := range opts {
		opt(pl)
	}

	if p == nil {
		p = engine.DefaultParams()
	}
	pl.params = p.Clone()
	if err := pl.params.Validate(); err != nil {
		return nil, err
	}
	pl.AdvanceTo(StageParams)

	scheme, err := box.NewScheme(pl.params.Boxing)
	if err != nil {
		return nil, err
	}
	pl.scheme = scheme
	pl.AdvanceTo(StageBoxing)

	set, err := prims.New(pl.params, pl.layouts)
	if err != nil {
		return nil, err
	}
	pl.prims = set
	pl.AdvanceTo(StagePrimitives)

	if pl.frontend == nil {
		pl.frontend = frontend.New(set)
	}
	pl.AdvanceTo(StageFrontend)

	pl.AdvanceTo(StageReady)
	log.Debugf("pipeline ready: %s", pl.params)
	return pl, nil
}

// Params returns the pipeline's target parameters. Callers must not modify
// them.
func (pl *Pipeline) Params() *engine.Params { return pl.params }

// Scheme returns the boxing scheme of the target
func (pl *Pipeline) Scheme() *box.Scheme { return pl.scheme }

// Primitives returns the primitive set source programs may call
func (pl *Pipeline) Primitives() *prims.Set { return pl.prims }

// CompileSrcString compiles one source text to an IR module. Errors are
// *frontend.SyntaxError or *frontend.LoweringError for the built-in
// frontend.
func (pl *Pipeline) CompileSrcString(src string) (*ir.Module, error) {
	pl.ValidateStage(StageReady, "CompileSrcString")
	m, err := pl.frontend.Compile(pl.source, src)
	if err != nil {
		return nil, err
	}
	pl.Checkpoint("source compiled")
	log.Debugf("%s: %d functions", pl.source, len(m.Funcs))
	return m, nil
}

// CompileIRToCB compiles a module and returns its assembled code block
func (pl *Pipeline) CompileIRToCB(m *ir.Module) (*asm.CodeBlock, error) {
	pl.ValidateStage(StageReady, "CompileIRToCB")
	cb, err := backend.Compile(m, pl.params)
	if err != nil {
		return nil, err
	}
	pl.Checkpoint("module assembled")
	return cb, nil
}

// CompileSrcToCB runs both halves of the pipeline
func (pl *Pipeline) CompileSrcToCB(src string) (*ir.Module, *asm.CodeBlock, error) {
	m, err := pl.CompileSrcString(src)
	if err != nil {
		return nil, nil, err
	}
	cb, err := pl.CompileIRToCB(m)
	if err != nil {
		return m, nil, err
	}
	return m, cb, nil
}

// Run installs cb, calls the named function with boxed integer arguments in
// the calling convention cb was compiled for and decodes the result. The block is released before Run returns.
func (pl *Pipeline) Run(cb *asm.CodeBlock, name string, args ...int64) (box.Value, error) {
	off, err := backend.EntryOffset(cb, name)
	if err != nil {
		return nil, err
	}
	words := make([]uint64, len(args))
	for i, a := range args {
		w, err := pl.scheme.Box(a, box.TagInt)
		if err != nil {
			return nil, err
		}
		words[i] = uint64(w)
	}
	cc, err := engine.LookupCallingConvention(cb.CallConv)
	if err != nil {
		return nil, err
	}
	code, err := cb.AssembleToMachineCodeBlock()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := code.Free(); err != nil {
			log.Errorf("release after run: %v", err)
		}
	}()
	w, err := backend.Invoke(code, cc, off, words...)
	if err != nil {
		return nil, err
	}
	return pl.scheme.Decode(box.Word(w))
}
