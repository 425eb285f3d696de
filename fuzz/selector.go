package fuzz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/colorfulnotion/zkmut/trace"
	"github.com/colorfulnotion/zkmut/zkerrors"
	"golang.org/x/exp/rand"
)

type SelectorStrategy string

const (
	SelectRandom     SelectorStrategy = "random"
	SelectHeuristic  SelectorStrategy = "heuristic"
	SelectGuided     SelectorStrategy = "guided"
	SelectSequential SelectorStrategy = "sequential"
)

func ParseSelectorStrategy(s string) (SelectorStrategy, error) {
	switch v := SelectorStrategy(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return SelectRandom, nil
	case SelectRandom, SelectHeuristic, SelectGuided, SelectSequential:
		return v, nil
	}
	return "", fmt.Errorf("%w: step selector %q", zkerrors.ErrKUnknownStrategy, s)
}

// StepSelector picks the step of the next mutation among the steps valid for
// a kind. ok is false when the trace has no such step.
type StepSelector interface {
	Select(ix *trace.Index, kind trace.MutationKind) (step uint64, ok bool)
}

// Observer is implemented by selectors that learn from mutation outcomes.
type Observer interface {
	Observe(step uint64, newCoverage int)
}

func NewStepSelector(s SelectorStrategy, rng *rand.Rand) (StepSelector, error) {
	switch s {
	case SelectRandom, "":
		return &RandomSelector{rng: rng}, nil
	case SelectHeuristic:
		return &HeuristicSelector{rng: rng, weights: defaultMajorWeights}, nil
	case SelectGuided:
		return NewGuidedSelector(rng), nil
	case SelectSequential:
		return &SequentialSelector{}, nil
	}
	return nil, fmt.Errorf("%w: step selector %q", zkerrors.ErrKUnknownStrategy, s)
}

type RandomSelector struct {
	rng *rand.Rand
}

func (s *RandomSelector) Select(ix *trace.Index, kind trace.MutationKind) (uint64, bool) {
	steps := ix.ValidSteps(kind)
	if len(steps) == 0 {
		return 0, false
	}
	return steps[s.rng.Intn(len(steps))], true
}

// memory and control flow first
var defaultMajorWeights = map[uint8]float64{
	0: 1.0,
	1: 1.5,
	2: 2.0,
	3: 1.2,
	4: 1.5,
	5: 2.5,
	6: 2.5,
}

// HeuristicSelector draws steps with probability proportional to the weight
// of their cycle's major. Cumulative weights are kept per kind for the last
// index seen.
type HeuristicSelector struct {
	rng     *rand.Rand
	weights map[uint8]float64

	ix   *trace.Index
	cums map[trace.MutationKind][]float64
}

func (s *HeuristicSelector) weight(ix *trace.Index, step uint64) float64 {
	c, ok := ix.CycleByStep(step)
	if !ok {
		return 1.0
	}
	if w, ok := s.weights[c.Major]; ok {
		return w
	}
	return 1.0
}

func (s *HeuristicSelector) cumulative(ix *trace.Index, kind trace.MutationKind, steps []uint64) []float64 {
	if s.ix != ix {
		s.ix, s.cums = ix, make(map[trace.MutationKind][]float64)
	}
	if cum, ok := s.cums[kind]; ok {
		return cum
	}
	cum := make([]float64, len(steps))
	var total float64
	for i, step := range steps {
		total += s.weight(ix, step)
		cum[i] = total
	}
	s.cums[kind] = cum
	return cum
}

func (s *HeuristicSelector) Select(ix *trace.Index, kind trace.MutationKind) (uint64, bool) {
	steps := ix.ValidSteps(kind)
	if len(steps) == 0 {
		return 0, false
	}
	cum := s.cumulative(ix, kind, steps)
	r := s.rng.Float64() * cum[len(cum)-1]
	i := sort.SearchFloat64s(cum, r)
	if i < len(cum) && cum[i] == r {
		i++
	}
	if i >= len(steps) {
		i = len(steps) - 1
	}
	return steps[i], true
}

const guidedRadius = 10

// GuidedSelector prefers steps not yet mutated, and among those the steps
// near a mutation that produced new coverage.
type GuidedSelector struct {
	rng       *rand.Rand
	mutated   map[uint64]struct{}
	highValue map[uint64]struct{}
}

func NewGuidedSelector(rng *rand.Rand) *GuidedSelector {
	return &GuidedSelector{
		rng:       rng,
		mutated:   make(map[uint64]struct{}),
		highValue: make(map[uint64]struct{}),
	}
}

func (s *GuidedSelector) Observe(step uint64, newCoverage int) {
	s.mutated[step] = struct{}{}
	if newCoverage <= 0 {
		return
	}
	lo := uint64(0)
	if step > guidedRadius {
		lo = step - guidedRadius
	}
	for n := lo; n < step+guidedRadius; n++ {
		s.highValue[n] = struct{}{}
	}
}

func (s *GuidedSelector) Select(ix *trace.Index, kind trace.MutationKind) (uint64, bool) {
	steps := ix.ValidSteps(kind)
	if len(steps) == 0 {
		return 0, false
	}
	var fresh, hot []uint64
	for _, step := range steps {
		if _, done := s.mutated[step]; done {
			continue
		}
		fresh = append(fresh, step)
		if _, ok := s.highValue[step]; ok {
			hot = append(hot, step)
		}
	}
	switch {
	case len(hot) > 0:
		return hot[s.rng.Intn(len(hot))], true
	case len(fresh) > 0:
		return fresh[s.rng.Intn(len(fresh))], true
	}
	return steps[s.rng.Intn(len(steps))], true
}

// SequentialSelector walks the valid steps in order, wrapping around. The
// position resets when the kind changes.
type SequentialSelector struct {
	kind trace.MutationKind
	next int
}

func (s *SequentialSelector) Select(ix *trace.Index, kind trace.MutationKind) (uint64, bool) {
	steps := ix.ValidSteps(kind)
	if len(steps) == 0 {
		return 0, false
	}
	if kind != s.kind {
		s.kind, s.next = kind, 0
	}
	if s.next >= len(steps) {
		s.next = 0
	}
	step := steps[s.next]
	s.next++
	return step, true
}

func (s *SequentialSelector) Reset() { s.next = 0 }
