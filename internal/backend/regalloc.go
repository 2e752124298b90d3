// Completion: 100% - Register allocator complete, linear scan and spill-all
package backend

// Register Allocator for generated functions
//
// Every SSA value that is used gets one home for its whole lifetime: a
// callee-saved register (rbx, r12-r15) or an 8-byte spill slot in the
// frame. Homes are never argument or scratch registers, so values survive
// calls and instruction selection may clobber rax, rcx, rdx, r10 and r11.
//
// Algorithm: Linear Scan Register Allocation
// - Number instructions in block order
// - Compute block liveness, then one conservative interval per value
// - Sort intervals by start position
// - Scan through intervals, allocating registers
// - Spill the interval that ends last when no register is free
//
// References:
// - Poletto & Sarkar (1999): Linear Scan Register Allocation
// - Wimmer & Franz (2010): Linear Scan Register Allocation on SSA Form

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xyproto/tachyon/internal/asm"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/ir"
)

// allocatable registers in allocation order
var allocatable = []asm.Register{asm.RBX, asm.R12, asm.R13, asm.R14, asm.R15}

// Location is where a value lives between its definition and last use
type Location struct {
	Reg     asm.Register
	Slot    int
	Spilled bool
}

func (l Location) String() string {
	if l.Spilled {
		return fmt.Sprintf("slot%d", l.Slot)
	}
	return l.Reg.Name
}

// Allocation is the result of allocating one function
type Allocation struct {
	Locs  map[ir.Value]Location
	Saved []asm.Register // callee-saved registers in use, in push order
	Slots int
}

// Lookup returns the home of v; values that are never used have none
func (a *Allocation) Lookup(v ir.Value) (Location, bool) {
	l, ok := a.Locs[v]
	return l, ok
}

// Allocator assigns homes to the values of a function
type Allocator interface {
	Name() string
	Allocate(fn *ir.Function) *Allocation
}

// NewAllocator returns the allocator registered under name
func NewAllocator(name string) (Allocator, error) {
	switch name {
	case engine.RegAllocLinearScan, "":
		return &LinearScan{}, nil
	case engine.RegAllocSpillAll:
		return &SpillAll{}, nil
	}
	return nil, fmt.Errorf("%w: register allocator %q", ErrUnsupported, name)
}

// LiveInterval represents the lifetime of a value
type LiveInterval struct {
	Value     ir.Value
	Start     int // First position the value must be preserved at
	End       int // Last position the value must be preserved at
	Reg       asm.Register
	HasReg    bool
	Spilled   bool
	SpillSlot int
	Defs      []int // Definition points, including phi writes at predecessor ends
	Uses      []int // Operand uses
}

func (iv *LiveInterval) touch(pos int) {
	if pos < iv.Start {
		iv.Start = pos
	}
	if pos > iv.End {
		iv.End = pos
	}
}

// tracked reports values that need a home
func tracked(v ir.Value) bool {
	switch v := v.(type) {
	case *ir.Arg:
		return true
	case *ir.Instr:
		return v.Typ != ir.TypeNone
	}
	return false
}

type valueSet map[ir.Value]bool

// numbering gives each instruction a position; parameters are defined at 0
type numbering struct {
	pos        map[*ir.Instr]int
	start, end map[*ir.Block]int
}

func number(fn *ir.Function) numbering {
	n := numbering{
		pos:   make(map[*ir.Instr]int),
		start: make(map[*ir.Block]int),
		end:   make(map[*ir.Block]int),
	}
	p := 1
	for _, b := range fn.Blocks {
		n.start[b] = p
		for _, in := range b.Instrs {
			n.pos[in] = p
			p++
		}
		n.end[b] = p - 1
	}
	return n
}

// liveness computes live-in and live-out sets. Phi operands are live out of
// the predecessor they arrive from, not live into the phi's block.
func liveness(fn *ir.Function) (map[*ir.Block]valueSet, map[*ir.Block]valueSet) {
	gen := make(map[*ir.Block]valueSet)
	kill := make(map[*ir.Block]valueSet)
	edge := make(map[*ir.Block]valueSet) // phi operands flowing out of a block
	for _, b := range fn.Blocks {
		gen[b], kill[b] = valueSet{}, valueSet{}
		if edge[b] == nil {
			edge[b] = valueSet{}
		}
		for _, in := range b.Instrs {
			if in.Op == ir.OpPhi {
				for k, v := range in.Args {
					pred := in.Incoming[k]
					if edge[pred] == nil {
						edge[pred] = valueSet{}
					}
					if tracked(v) {
						edge[pred][v] = true
					}
				}
			} else {
				for _, v := range in.Args {
					if tracked(v) && !kill[b][v] {
						gen[b][v] = true
					}
				}
			}
			if tracked(in) {
				kill[b][in] = true
			}
		}
	}

	liveIn := make(map[*ir.Block]valueSet)
	liveOut := make(map[*ir.Block]valueSet)
	for _, b := range fn.Blocks {
		liveIn[b], liveOut[b] = valueSet{}, valueSet{}
	}
	for changed := true; changed; {
		changed = false
		for i := len(fn.Blocks) - 1; i >= 0; i-- {
			b := fn.Blocks[i]
			out := valueSet{}
			for v := range edge[b] {
				out[v] = true
			}
			for _, s := range b.Succs() {
				for v := range liveIn[s] {
					out[v] = true
				}
			}
			in := valueSet{}
			for v := range gen[b] {
				in[v] = true
			}
			for v := range out {
				if !kill[b][v] {
					in[v] = true
				}
			}
			if len(out) != len(liveOut[b]) || len(in) != len(liveIn[b]) {
				changed = true
			}
			liveOut[b], liveIn[b] = out, in
		}
	}
	return liveIn, liveOut
}

// BuildIntervals computes one interval per used value, sorted by start.
// A phi's interval covers the end of each predecessor, where it is written.
func BuildIntervals(fn *ir.Function) []*LiveInterval {
	n := number(fn)
	liveIn, liveOut := liveness(fn)

	var order []*LiveInterval
	byValue := make(map[ir.Value]*LiveInterval)
	get := func(v ir.Value, def int) *LiveInterval {
		iv, ok := byValue[v]
		if !ok {
			iv = &LiveInterval{Value: v, Start: def, End: def}
			byValue[v] = iv
			order = append(order, iv)
		}
		return iv
	}

	for _, p := range fn.Params {
		iv := get(p, 0)
		iv.Defs = append(iv.Defs, 0)
	}
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			at := n.pos[in]
			if in.Op == ir.OpPhi {
				at = n.start[b]
			}
			if tracked(in) {
				iv := get(in, at)
				iv.touch(at)
				iv.Defs = append(iv.Defs, at)
			}
			for k, v := range in.Args {
				if !tracked(v) {
					continue
				}
				use := at
				if in.Op == ir.OpPhi {
					pred := n.end[in.Incoming[k]]
					use = pred
					phi := byValue[in]
					phi.touch(pred)
					phi.Defs = append(phi.Defs, pred)
				}
				iv := get(v, use)
				iv.touch(use)
				iv.Uses = append(iv.Uses, use)
			}
		}
	}
	for _, b := range fn.Blocks {
		for v := range liveIn[b] {
			if iv, ok := byValue[v]; ok {
				iv.touch(n.start[b])
			}
		}
		for v := range liveOut[b] {
			if iv, ok := byValue[v]; ok {
				iv.touch(n.end[b])
			}
		}
	}

	var used []*LiveInterval
	for _, iv := range order {
		if len(iv.Uses) > 0 {
			used = append(used, iv)
		}
	}
	sort.SliceStable(used, func(i, j int) bool { return used[i].Start < used[j].Start })
	return used
}

// LinearScan allocates registers with the linear scan algorithm
type LinearScan struct {
	active     []*LiveInterval
	freeRegs   []asm.Register
	spillSlots int
}

func (ra *LinearScan) Name() string { return engine.RegAllocLinearScan }

// Allocate performs the linear scan allocation algorithm
func (ra *LinearScan) Allocate(fn *ir.Function) *Allocation {
	ra.reset()
	intervals := BuildIntervals(fn)
	used := make(map[asm.Register]bool)

	for _, interval := range intervals {
		// Expire old intervals (no longer live)
		ra.expireOldIntervals(interval)

		if len(ra.freeRegs) > 0 {
			reg := ra.freeRegs[len(ra.freeRegs)-1]
			ra.freeRegs = ra.freeRegs[:len(ra.freeRegs)-1]
			interval.Reg, interval.HasReg = reg, true
			used[reg] = true
			ra.active = append(ra.active, interval)
		} else {
			ra.spillAtInterval(interval)
		}
	}

	out := &Allocation{Locs: make(map[ir.Value]Location, len(intervals)), Slots: ra.spillSlots}
	for _, iv := range intervals {
		if iv.Spilled {
			out.Locs[iv.Value] = Location{Slot: iv.SpillSlot, Spilled: true}
		} else {
			out.Locs[iv.Value] = Location{Reg: iv.Reg}
		}
	}
	for _, r := range allocatable {
		if used[r] {
			out.Saved = append(out.Saved, r)
		}
	}
	log.Debugf("%s: %d intervals, %d registers, %d spill slots", fn.Name, len(intervals), len(out.Saved), out.Slots)
	return out
}

func (ra *LinearScan) reset() {
	ra.active = nil
	ra.spillSlots = 0
	// popped from the end, so rbx is handed out first
	ra.freeRegs = ra.freeRegs[:0]
	for i := len(allocatable) - 1; i >= 0; i-- {
		ra.freeRegs = append(ra.freeRegs, allocatable[i])
	}
}

// endsAtUse reports whether the interval ends at one of its operand uses
// rather than at a block boundary it is live across
func (iv *LiveInterval) endsAtUse() bool {
	for _, u := range iv.Uses {
		if u == iv.End {
			return true
		}
	}
	return false
}

// expires reports whether iv no longer needs its register once the value
// starting at pos is defined. Instruction selection reads every operand into
// scratch registers before writing a result, so the last operand use and the
// definition may share a register.
func (iv *LiveInterval) expires(pos int) bool {
	return iv.End < pos || (iv.End == pos && iv.endsAtUse())
}

// expireOldIntervals removes intervals that are dead where the current one
// starts
func (ra *LinearScan) expireOldIntervals(interval *LiveInterval) {
	sort.SliceStable(ra.active, func(i, j int) bool {
		return ra.active[i].End < ra.active[j].End
	})

	var stillActive []*LiveInterval
	for _, active := range ra.active {
		if !active.expires(interval.Start) {
			stillActive = append(stillActive, active)
		} else if active.HasReg {
			ra.freeRegs = append(ra.freeRegs, active.Reg)
		}
	}
	ra.active = stillActive
}

// spillAtInterval spills whichever of the current interval and the active
// interval ending last lives longer
func (ra *LinearScan) spillAtInterval(interval *LiveInterval) {
	spill := ra.active[len(ra.active)-1]

	if spill.End > interval.End {
		interval.Reg, interval.HasReg = spill.Reg, true
		spill.HasReg = false
		spill.Spilled = true
		spill.SpillSlot = ra.allocateSpillSlot()

		ra.active = ra.active[:len(ra.active)-1]
		ra.active = append(ra.active, interval)
		sort.SliceStable(ra.active, func(i, j int) bool {
			return ra.active[i].End < ra.active[j].End
		})
	} else {
		interval.Spilled = true
		interval.SpillSlot = ra.allocateSpillSlot()
	}
}

func (ra *LinearScan) allocateSpillSlot() int {
	slot := ra.spillSlots
	ra.spillSlots++
	return slot
}

// SpillAll gives every value its own stack slot
type SpillAll struct{}

func (SpillAll) Name() string { return engine.RegAllocSpillAll }

func (SpillAll) Allocate(fn *ir.Function) *Allocation {
	intervals := BuildIntervals(fn)
	out := &Allocation{Locs: make(map[ir.Value]Location, len(intervals))}
	for i, iv := range intervals {
		out.Locs[iv.Value] = Location{Slot: i, Spilled: true}
	}
	out.Slots = len(intervals)
	return out
}

// FormatAllocation renders the allocation of fn, one value per line
func FormatAllocation(fn *ir.Function, a *Allocation) string {
	var sb strings.Builder
	for _, iv := range BuildIntervals(fn) {
		loc, _ := a.Lookup(iv.Value)
		fmt.Fprintf(&sb, "%s: %s (live %d-%d)\n", iv.Value, loc, iv.Start, iv.End)
	}
	fmt.Fprintf(&sb, "saved: %v, slots: %d\n", a.Saved, a.Slots)
	return sb.String()
}
