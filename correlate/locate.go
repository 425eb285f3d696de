package correlate

import (
	"fmt"

	"github.com/colorfulnotion/zkmut/insn"
	"github.com/colorfulnotion/zkmut/log"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/colorfulnotion/zkmut/zkerrors"
)

// Strategy records how a location was chosen among candidate cycles.
type Strategy int

const (
	// StrategyUnique: exactly one cycle matched.
	StrategyUnique Strategy = iota
	// StrategyOffset: closest to faultStep - offset.
	StrategyOffset
	// StrategyHeuristic: largest step not after faultStep.
	StrategyHeuristic
	// StrategyClosest: every candidate is after faultStep; nearest wins.
	StrategyClosest
)

func (s Strategy) String() string {
	switch s {
	case StrategyUnique:
		return "unique"
	case StrategyOffset:
		return "offset"
	case StrategyHeuristic:
		return "latest_not_after"
	case StrategyClosest:
		return "closest"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Query describes the fault to locate in the preflight trace.
type Query struct {
	FaultStep uint64
	FaultPC   uint32
	// Offset is the estimated drift (A - B); nil when unknown.
	Offset *int64
	// Class restricts candidates to cycles of this opcode class.
	Class *insn.Class
}

// Location is the preflight step executing the faulted instruction.
type Location struct {
	Step       uint64
	Cycle      *trace.CycleRecord
	PC         uint32
	Fallback   bool // matched the fault PC itself instead of PC+4
	Strategy   Strategy
	Candidates int
}

// Ambiguous reports whether several cycles matched and a tie-break was used.
func (l *Location) Ambiguous() bool { return l.Candidates > 1 }

func (l *Location) String() string {
	return fmt.Sprintf("step %d (pc 0x%08x, %s of %d, fallback=%v)", l.Step, l.PC, l.Strategy, l.Candidates, l.Fallback)
}

// Locate finds the instruction cycle that executed the faulted instruction.
// Preflight cycles record the PC after execution, so the instruction at
// FaultPC is first searched at FaultPC+4; when that PC is never reached
// (jumps, branches taken) the fault PC itself is tried.
func Locate(ix *trace.Index, q Query) (*Location, error) {
	expected := q.FaultPC + 4
	cands, mismatch := candidates(ix, expected, q.Class)
	fallback := false
	if len(cands) == 0 {
		var mm bool
		cands, mm = candidates(ix, q.FaultPC, q.Class)
		mismatch = mismatch || mm
		fallback = true
	}
	if len(cands) == 0 {
		if mismatch {
			return nil, fmt.Errorf("%w: pc 0x%08x never executed as %s", zkerrors.ErrSClassMismatch, expected, q.Class)
		}
		return nil, fmt.Errorf("%w: no instruction cycle at pc 0x%08x or 0x%08x", zkerrors.ErrSStepNotFound, expected, q.FaultPC)
	}

	loc := &Location{PC: cands[0].PC, Fallback: fallback, Candidates: len(cands)}
	switch {
	case len(cands) == 1:
		loc.Cycle, loc.Strategy = cands[0], StrategyUnique
	case q.Offset != nil:
		loc.Cycle, loc.Strategy = ByOffset(cands, q.FaultStep, *q.Offset), StrategyOffset
	default:
		loc.Cycle, loc.Strategy = ByBound(cands, q.FaultStep)
	}
	loc.Step = loc.Cycle.Step
	log.Debug(log.CorrelateModule, "located fault", "faultStep", q.FaultStep, "faultPC", fmt.Sprintf("0x%08x", q.FaultPC), "location", loc.String())
	return loc, nil
}

func candidates(ix *trace.Index, pc uint32, class *insn.Class) ([]*trace.CycleRecord, bool) {
	all := ix.InstructionCyclesAtPC(pc)
	if class == nil {
		return all, false
	}
	out := all[:0:0]
	for _, c := range all {
		if c.Class() == *class {
			out = append(out, c)
		}
	}
	return out, len(all) > 0 && len(out) == 0
}

// ByOffset picks the candidate closest to faultStep - offset. Candidates after
// faultStep are only considered when no other candidate exists, whatever the
// sign of offset.
func ByOffset(cands []*trace.CycleRecord, faultStep uint64, offset int64) *trace.CycleRecord {
	if offset < 0 {
		log.Warn(log.CorrelateModule, "negative step offset, preflight trace runs ahead of injector", "offset", offset)
	}
	pool := cands
	if bounded := notAfter(cands, faultStep); len(bounded) > 0 {
		pool = bounded
	}
	return closest(pool, int64(faultStep)-offset)
}

// ByBound picks the largest step not after faultStep, or the closest one when
// every candidate comes later.
func ByBound(cands []*trace.CycleRecord, faultStep uint64) (*trace.CycleRecord, Strategy) {
	var best *trace.CycleRecord
	for _, c := range cands {
		if c.Step <= faultStep && (best == nil || c.Step > best.Step) {
			best = c
		}
	}
	if best != nil {
		return best, StrategyHeuristic
	}
	return closest(cands, int64(faultStep)), StrategyClosest
}

func notAfter(cands []*trace.CycleRecord, faultStep uint64) []*trace.CycleRecord {
	var out []*trace.CycleRecord
	for _, c := range cands {
		if c.Step <= faultStep {
			out = append(out, c)
		}
	}
	return out
}

// closest returns the candidate nearest to target; ties go to the earlier step.
func closest(cands []*trace.CycleRecord, target int64) *trace.CycleRecord {
	var best *trace.CycleRecord
	var bestDist int64
	for _, c := range cands {
		d := int64(c.Step) - target
		if d < 0 {
			d = -d
		}
		if best == nil || d < bestDist || (d == bestDist && c.Step < best.Step) {
			best, bestDist = c, d
		}
	}
	return best
}
