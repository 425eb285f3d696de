package fuzz

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/zkmut/insn"
	"github.com/colorfulnotion/zkmut/zkerrors"
	"golang.org/x/exp/rand"
)

type ValueStrategy string

const (
	ValueRandom     ValueStrategy = "random"
	ValueBitFlip    ValueStrategy = "bitflip"
	ValueBoundary   ValueStrategy = "boundary"
	ValueArithmetic ValueStrategy = "arithmetic"
	ValueSmart      ValueStrategy = "smart"
	ValueMixed      ValueStrategy = "mixed"
)

func ValueStrategies() []ValueStrategy {
	return []ValueStrategy{ValueRandom, ValueBitFlip, ValueBoundary, ValueArithmetic, ValueSmart, ValueMixed}
}

func ParseValueStrategy(s string) (ValueStrategy, error) {
	v := ValueStrategy(strings.ToLower(strings.TrimSpace(s)))
	if v == "" {
		return ValueMixed, nil
	}
	for _, known := range ValueStrategies() {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: value strategy %q", zkerrors.ErrKUnknownStrategy, s)
}

const maxBitFlips = 8

var boundaryValues = func() []uint32 {
	v := []uint32{
		0, 1, 0xFFFFFFFF, 0x7FFFFFFF, 0x80000000,
		0xFF, 0x100, 0xFFFF, 0x10000, 0x7FFF, 0x8000,
	}
	for i := 0; i < 32; i++ {
		v = append(v, 1<<i)
	}
	return v
}()

var (
	arithDeltas  = []uint32{1, 2, 4, 8, 16, 256, 65536}
	arithFactors = []uint32{2, 3, 4, 8, 16}
)

type weighted struct {
	strategy ValueStrategy
	weight   float64
}

var mixedWeights = []weighted{
	{ValueRandom, 0.3},
	{ValueBitFlip, 0.3},
	{ValueBoundary, 0.2},
	{ValueArithmetic, 0.2},
}

// ValueGenerator produces replacement words for transaction targets.
// It is not safe for concurrent use.
type ValueGenerator struct {
	strategy ValueStrategy
	rng      *rand.Rand
}

func NewValueGenerator(strategy ValueStrategy, rng *rand.Rand) *ValueGenerator {
	return &ValueGenerator{strategy: strategy, rng: rng}
}

func (g *ValueGenerator) Strategy() ValueStrategy { return g.strategy }

// Generate returns a replacement for original. class is the class of the
// cycle owning the edited transaction; only the smart strategy reads it.
func (g *ValueGenerator) Generate(original uint32, class insn.Class) uint32 {
	return g.generate(g.strategy, original, class)
}

func (g *ValueGenerator) generate(s ValueStrategy, v uint32, class insn.Class) uint32 {
	switch s {
	case ValueBitFlip:
		return g.bitflip(v)
	case ValueBoundary:
		return boundaryValues[g.rng.Intn(len(boundaryValues))]
	case ValueArithmetic:
		return g.arithmetic(v)
	case ValueSmart:
		return g.smart(v, class)
	case ValueMixed:
		return g.generate(g.pickWeighted(), v, class)
	}
	return g.rng.Uint32()
}

func (g *ValueGenerator) bitflip(v uint32) uint32 {
	n := 1 + g.rng.Intn(maxBitFlips)
	for i := 0; i < n; i++ {
		v ^= 1 << g.rng.Intn(32)
	}
	return v
}

func (g *ValueGenerator) arithmetic(v uint32) uint32 {
	switch g.rng.Intn(5) {
	case 0:
		return v + arithDeltas[g.rng.Intn(len(arithDeltas))]
	case 1:
		return v - arithDeltas[g.rng.Intn(len(arithDeltas))]
	case 2:
		return v * arithFactors[g.rng.Intn(len(arithFactors))]
	case 3:
		return -v
	}
	return ^v
}

func (g *ValueGenerator) smart(v uint32, class insn.Class) uint32 {
	switch class.Major {
	case insn.MajorMem0, insn.MajorMem1:
		switch g.rng.Intn(3) {
		case 0:
			// misalign
			return v + uint32(1+g.rng.Intn(3))
		case 1:
			return g.rng.Uint32()
		}
		return []uint32{0, 0xFFFFFFFC, 0x80000000}[g.rng.Intn(3)]
	case insn.MajorMisc1, insn.MajorMisc2:
		switch g.rng.Intn(3) {
		case 0:
			return -v
		case 1:
			if v != 0 {
				return 0
			}
			return 1
		}
		if v < 0x80000000 {
			return 0x7FFFFFFF
		}
		return 0x80000000
	case insn.MajorMisc0, insn.MajorMul0, insn.MajorDiv0:
		return []uint32{0x7FFFFFFF, 0x80000000, 0xFFFFFFFF, v + 1, v - 1}[g.rng.Intn(5)]
	}
	return g.rng.Uint32()
}

func (g *ValueGenerator) pickWeighted() ValueStrategy {
	var total float64
	for _, w := range mixedWeights {
		total += w.weight
	}
	r := g.rng.Float64() * total
	for _, w := range mixedWeights {
		if r < w.weight {
			return w.strategy
		}
		r -= w.weight
	}
	return mixedWeights[len(mixedWeights)-1].strategy
}

// MutateClass picks a different instruction class for an instruction-type
// target: a new major, a new minor in 0..15, or both. The result never equals
// c.
func MutateClass(c insn.Class, rng *rand.Rand) insn.Class {
	otherMajor := func() uint8 {
		m := uint8(rng.Intn(insn.MaxInstructionMajor))
		if m >= c.Major {
			m++
		}
		return m
	}
	switch rng.Intn(3) {
	case 0:
		return insn.Class{Major: otherMajor(), Minor: c.Minor}
	case 1:
		minor := uint8(rng.Intn(15))
		if minor >= c.Minor {
			minor++
		}
		return insn.Class{Major: c.Major, Minor: minor}
	}
	return insn.Class{Major: otherMajor(), Minor: uint8(rng.Intn(16))}
}
