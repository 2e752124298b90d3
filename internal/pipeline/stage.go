// Completion: 100% - Bootstrap stages complete
package pipeline

import (
	"fmt"
	"strings"
)

// Stage is one step of bringing a pipeline up. Stages are entered in order
// and each is entered once.
type Stage int

const (
	StageInit Stage = iota
	StageParams
	StageBoxing
	StagePrimitives
	StageFrontend
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "Initialization"
	case StageParams:
		return "Target Parameters"
	case StageBoxing:
		return "Boxing Scheme"
	case StagePrimitives:
		return "Primitive Functions"
	case StageFrontend:
		return "Frontend"
	case StageReady:
		return "Ready"
	default:
		return fmt.Sprintf("Unknown Stage %d", int(s))
	}
}

// AdvanceTo moves to the next stage. Skipping a stage, going back or
// advancing past StageReady is a bug in the caller and panics.
func (pl *Pipeline) AdvanceTo(stage Stage) {
	if pl.stage == StageReady || stage != pl.stage+1 {
		panic(fmt.Sprintf("invalid pipeline stage transition: %s -> %s (history: %s)",
			pl.stage, stage, pl.historyString()))
	}
	pl.stage = stage
	pl.history = append(pl.history, stage)
	log.Debugf("advanced to stage: %s", stage)
}

// CurrentStage returns the stage the pipeline has reached
func (pl *Pipeline) CurrentStage() Stage { return pl.stage }

// History lists the stages entered so far, StageInit first
func (pl *Pipeline) History() []Stage {
	if len(pl.history) == 0 {
		return []Stage{StageInit}
	}
	return append([]Stage(nil), pl.history...)
}

// ValidateStage panics if operation is attempted before the pipeline has
// reached expected
func (pl *Pipeline) ValidateStage(expected Stage, operation string) {
	if pl.stage != expected {
		panic(fmt.Sprintf("invalid operation '%s' at stage %s, expected %s", operation, pl.stage, expected))
	}
}

// Checkpoint logs a named point at the current stage
func (pl *Pipeline) Checkpoint(name string) {
	log.Debugf("checkpoint %s at stage %s", name, pl.stage)
}

func (pl *Pipeline) historyString() string {
	names := make([]string, 0, len(pl.history))
	for _, s := range pl.History() {
		names = append(names, s.String())
	}
	return strings.Join(names, " -> ")
}
