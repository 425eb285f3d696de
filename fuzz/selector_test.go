package fuzz

import (
	"testing"

	"github.com/colorfulnotion/zkmut/trace"
	"github.com/colorfulnotion/zkmut/trace/tracetest"
	"github.com/colorfulnotion/zkmut/zkerrors"
	"github.com/stretchr/testify/require"
)

// steps: 10 add, 11 sw, 12 poseidon, 13 lw, 14 addi
func fixture() *trace.Index {
	return tracetest.New().
		Cycle(10, 0x1004, 0, 0, tracetest.RegRead("a1", 1), tracetest.RegRead("a2", 2), tracetest.RegWrite("a0", 3, 0)).
		Cycle(11, 0x1008, 6, 2, tracetest.RegRead("sp", 0x800), tracetest.RegRead("a0", 3), tracetest.Write(0x200, 3, 0)).
		Cycle(12, 0x100c, 9, 0, tracetest.RegRead("s3", 7)).
		Cycle(13, 0x1010, 5, 2, tracetest.RegRead("sp", 0x800), tracetest.Read(0x200, 3), tracetest.RegWrite("a4", 3, 0)).
		Cycle(14, 0x1014, 0, 7, tracetest.RegRead("a4", 3), tracetest.RegWrite("a4", 4, 3)).
		Index()
}

func TestParseSelectorStrategy(t *testing.T) {
	s, err := ParseSelectorStrategy("Guided")
	require.NoError(t, err)
	require.Equal(t, SelectGuided, s)

	s, err = ParseSelectorStrategy("")
	require.NoError(t, err)
	require.Equal(t, SelectRandom, s)

	_, err = ParseSelectorStrategy("bfs")
	require.ErrorIs(t, err, zkerrors.ErrKUnknownStrategy)
	_, err = NewStepSelector("bfs", newRng(1))
	require.ErrorIs(t, err, zkerrors.ErrKUnknownStrategy)
}

func TestSelectorsStayOnValidSteps(t *testing.T) {
	ix := fixture()
	for _, strategy := range []SelectorStrategy{SelectRandom, SelectHeuristic, SelectGuided, SelectSequential} {
		sel, err := NewStepSelector(strategy, newRng(7))
		require.NoError(t, err)
		for _, kind := range trace.MutationKinds() {
			valid := make(map[uint64]bool)
			for _, s := range ix.ValidSteps(kind) {
				valid[s] = true
			}
			for i := 0; i < 50; i++ {
				step, ok := sel.Select(ix, kind)
				require.True(t, ok)
				require.True(t, valid[step], "%s picked step %d for %s", strategy, step, kind)
			}
		}
	}
}

func TestSelectorNoValidStep(t *testing.T) {
	ix := tracetest.New().
		Cycle(1, 0x1000, 0, 0, tracetest.RegWrite("a0", 1, 0)).
		Index()
	for _, strategy := range []SelectorStrategy{SelectRandom, SelectHeuristic, SelectGuided, SelectSequential} {
		sel, err := NewStepSelector(strategy, newRng(1))
		require.NoError(t, err)
		_, ok := sel.Select(ix, trace.KindLoadVal)
		require.False(t, ok, strategy)
	}
}

func TestSequentialSelector(t *testing.T) {
	ix := fixture()
	sel := &SequentialSelector{}

	var got []uint64
	for i := 0; i < 3; i++ {
		s, _ := sel.Select(ix, trace.KindCompOut)
		got = append(got, s)
	}
	require.Equal(t, []uint64{10, 14, 10}, got)

	s, _ := sel.Select(ix, trace.KindPreExecReg)
	require.Equal(t, uint64(10), s)
	s, _ = sel.Select(ix, trace.KindPreExecReg)
	require.Equal(t, uint64(11), s)

	sel.Reset()
	s, _ = sel.Select(ix, trace.KindPreExecReg)
	require.Equal(t, uint64(10), s)
}

func TestGuidedSelector(t *testing.T) {
	ix := fixture()
	sel := NewGuidedSelector(newRng(3))

	sel.Observe(10, 0)
	for i := 0; i < 20; i++ {
		s, _ := sel.Select(ix, trace.KindCompOut)
		require.Equal(t, uint64(14), s)
	}

	// new coverage at 12 marks its neighbourhood
	sel.Observe(12, 2)
	for i := 0; i < 20; i++ {
		s, _ := sel.Select(ix, trace.KindPreExecReg)
		require.Contains(t, []uint64{11, 13, 14}, s)
	}

	sel.Observe(14, 0)
	for i := 0; i < 20; i++ {
		s, ok := sel.Select(ix, trace.KindCompOut)
		require.True(t, ok)
		require.Contains(t, []uint64{10, 14}, s)
	}
}

func TestGuidedPrefersHotSteps(t *testing.T) {
	b := tracetest.New()
	for s := uint64(0); s < 100; s++ {
		b.Cycle(s, uint32(0x1000+4*s), 0, 0, tracetest.RegWrite("a0", uint32(s), 0))
	}
	ix := b.Index()
	sel := NewGuidedSelector(newRng(9))
	sel.Observe(50, 1)
	for i := 0; i < 50; i++ {
		s, _ := sel.Select(ix, trace.KindCompOut)
		require.GreaterOrEqual(t, s, uint64(40))
		require.Less(t, s, uint64(60))
		require.NotEqual(t, uint64(50), s)
	}
}

func TestHeuristicWeights(t *testing.T) {
	ix := fixture()
	sel, err := NewStepSelector(SelectHeuristic, newRng(11))
	require.NoError(t, err)

	counts := make(map[uint64]int)
	for i := 0; i < 4000; i++ {
		s, _ := sel.Select(ix, trace.KindPreExecReg)
		counts[s]++
	}
	// sw and lw weigh 2.5, add and addi 1.0
	require.Greater(t, counts[11], counts[10])
	require.Greater(t, counts[13], counts[14])
	require.Zero(t, counts[12])
}

func TestHeuristicFollowsIndex(t *testing.T) {
	sel, err := NewStepSelector(SelectHeuristic, newRng(3))
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, ok := sel.Select(fixture(), trace.KindCompOut)
		require.True(t, ok)
	}

	other := tracetest.New().
		Cycle(100, 0x3004, 0, 0, tracetest.RegWrite("a0", 1, 0)).
		Cycle(101, 0x3008, 5, 0, tracetest.RegWrite("a1", 1, 0)).
		Index()
	for i := 0; i < 50; i++ {
		s, ok := sel.Select(other, trace.KindCompOut)
		require.True(t, ok)
		require.Equal(t, uint64(100), s)
	}
	s, ok := sel.Select(other, trace.KindLoadVal)
	require.True(t, ok)
	require.Equal(t, uint64(101), s)
}
