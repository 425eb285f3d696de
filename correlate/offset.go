package correlate

import (
	"github.com/colorfulnotion/zkmut/log"
	"github.com/colorfulnotion/zkmut/trace"
	"golang.org/x/exp/slices"
)

// Sample is one program counter observed by both traces.
type Sample struct {
	PC     uint32
	StepA  uint64
	StepB  uint64
	Offset int64 // StepA - StepB
}

// Estimate is the systematic step drift between the injector's trace (A)
// and the preflight trace (B).
type Estimate struct {
	Offset  int64
	Samples []Sample // sorted by StepA
}

// Found reports whether the traces shared at least one program counter.
func (e *Estimate) Found() bool { return len(e.Samples) > 0 }

// EstimateOffset pairs the first occurrence of every program counter in
// both traces and returns the median of the per-PC step differences.
// Only instruction cycles of B take part. With no shared PC the offset is 0.
func EstimateOffset(execA []trace.ExecRecord, cyclesB []trace.CycleRecord) *Estimate {
	firstA := make(map[uint32]uint64, len(execA))
	for _, r := range execA {
		if s, ok := firstA[r.PC]; !ok || r.Step < s {
			firstA[r.PC] = r.Step
		}
	}
	firstB := make(map[uint32]uint64, len(cyclesB))
	for i := range cyclesB {
		c := &cyclesB[i]
		if !c.IsInstruction() {
			continue
		}
		if s, ok := firstB[c.PC]; !ok || c.Step < s {
			firstB[c.PC] = c.Step
		}
	}

	est := &Estimate{}
	for pc, stepA := range firstA {
		stepB, ok := firstB[pc]
		if !ok {
			continue
		}
		est.Samples = append(est.Samples, Sample{PC: pc, StepA: stepA, StepB: stepB, Offset: int64(stepA) - int64(stepB)})
	}
	if len(est.Samples) == 0 {
		log.Debug(log.CorrelateModule, "no common pc between traces", "execA", len(execA), "cyclesB", len(cyclesB))
		return est
	}
	slices.SortFunc(est.Samples, func(a, b Sample) int {
		if a.StepA != b.StepA {
			if a.StepA < b.StepA {
				return -1
			}
			return 1
		}
		return int(int64(a.PC) - int64(b.PC))
	})

	offsets := make([]int64, len(est.Samples))
	for i, s := range est.Samples {
		offsets[i] = s.Offset
	}
	slices.Sort(offsets)
	est.Offset = offsets[len(offsets)/2]
	log.Debug(log.CorrelateModule, "estimated step offset", "offset", est.Offset, "samples", len(offsets),
		"min", offsets[0], "max", offsets[len(offsets)-1])
	return est
}
