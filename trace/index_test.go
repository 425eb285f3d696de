package trace_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/colorfulnotion/zkmut/trace"
	"github.com/colorfulnotion/zkmut/trace/tracetest"
	"github.com/stretchr/testify/require"
)

func sampleIndex() *trace.Index {
	return tracetest.New().
		Cycle(0, 0x1004, 0, 7, tracetest.RegRead("a0", 1), tracetest.RegWrite("a0", 2, 1)).
		Cycle(1, 0x1008, 5, 2, tracetest.RegRead("sp", 0x100), tracetest.Read(0x40, 9), tracetest.RegWrite("a1", 9, 0)).
		Cycle(2, 0x2000, 9, 0, tracetest.RegRead("s3", 5)).
		Cycle(2, 0x100c, 6, 2, tracetest.RegRead("a1", 9), tracetest.Write(0x44, 9, 0)).
		Cycle(3, 0x1010, 7, 0).
		Index()
}

func TestIndexLookups(t *testing.T) {
	ix := sampleIndex()

	require.Equal(t, []uint64{0, 1, 2, 3}, ix.Steps())
	require.Len(t, ix.Cycles(), 5)
	require.Len(t, ix.Txns(), 8)

	c, ok := ix.CycleByStep(2)
	require.True(t, ok)
	require.Equal(t, uint8(6), c.Major, "instruction cycle wins over the accelerator cycle")

	start, end, ok := ix.StepWindow(2)
	require.True(t, ok)
	require.Equal(t, 5, start)
	require.Equal(t, 8, end)
	require.Len(t, ix.StepTxns(1), 3)

	owner := ix.Owner(5)
	require.NotNil(t, owner)
	require.Equal(t, uint8(9), owner.Major)

	_, _, ok = ix.StepWindow(3)
	require.False(t, ok, "cycle without transactions has no window")
	require.Equal(t, 5, ix.FirstPosAtOrAfter(2))
	require.Equal(t, 8, ix.FirstPosAtOrAfter(3))

	require.Len(t, ix.InstructionCyclesAtPC(0x1008), 1)
	require.Empty(t, ix.InstructionCyclesAtPC(0x2000), "accelerator cycles are not indexed by pc")
}

func TestValidSteps(t *testing.T) {
	ix := sampleIndex()
	require.Equal(t, []uint64{0}, ix.ValidSteps(trace.KindCompOut))
	require.Equal(t, []uint64{1}, ix.ValidSteps(trace.KindLoadVal))
	require.Equal(t, []uint64{2}, ix.ValidSteps(trace.KindStoreOut))
	require.Equal(t, []uint64{0, 1, 2}, ix.ValidSteps(trace.KindPreExecReg))
	require.Equal(t, []uint64{0, 1, 2}, ix.ValidSteps(trace.KindInstrType))
	require.Empty(t, ix.ValidSteps("NOPE"))

	a, b := ix.ValidSteps(trace.KindPreExecReg), ix.ValidSteps(trace.KindPreExecReg)
	require.Same(t, &a[0], &b[0], "valid steps are computed once per index")

	s := ix.Summary()
	require.Contains(t, s, "POSEIDON0")
	require.Contains(t, s, "CONTROL0")
}

func TestNewIndexRejectsDisorder(t *testing.T) {
	cycles := []trace.CycleRecord{
		{CycleIdx: 0, Step: 5, TxnIdx: 0},
		{CycleIdx: 1, Step: 4, TxnIdx: 1},
	}
	_, err := trace.NewIndex(cycles, nil)
	require.Error(t, err)

	cycles[1].Step = 5
	cycles[1].CycleIdx = 0
	_, err = trace.NewIndex(cycles, nil)
	require.Error(t, err)
}

func TestLoadIndexFromJSONL(t *testing.T) {
	cycles, txns := tracetest.New().
		Cycle(0, 0x1004, 0, 0, tracetest.RegWrite("a0", 3, 0)).
		Cycle(1, 0x1008, 0, 0).
		Records()

	dir := t.TempDir()
	cp, tp := filepath.Join(dir, "cycles.jsonl"), filepath.Join(dir, "txns.jsonl")
	require.NoError(t, trace.WriteJSONLFile(cp, cycles))
	require.NoError(t, trace.WriteJSONLFile(tp, txns))

	ix, err := trace.LoadIndex(cp, tp)
	require.NoError(t, err)
	require.Len(t, ix.Cycles(), 2)
	txn, ok := ix.TxnByIdx(0)
	require.True(t, ok)
	require.True(t, txn.IsWrite())
	r, ok := txn.Register()
	require.True(t, ok)
	require.Equal(t, "a0", trace.RegisterName(r))
}

func TestReadJSONLReportsLine(t *testing.T) {
	in := "{\"step\":1,\"pc\":4}\n\n# comment\n{\"step\":2,\"pc\":\"x\"}\n"
	_, err := trace.ReadJSONL[trace.ExecRecord](strings.NewReader(in))
	require.ErrorContains(t, err, "line 4")
}

func TestJSONLWriterAndReader(t *testing.T) {
	var buf bytes.Buffer
	w := trace.NewJSONLWriter(&buf)
	require.NoError(t, w.Write(trace.ExecRecord{Step: 1, PC: 0x1000}))
	require.NoError(t, w.Write(trace.ExecRecord{Step: 2, PC: 0x1004}))
	require.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.Error(t, w.Write(trace.ExecRecord{}))

	src := "# injector log\n\n" + buf.String()
	recs, err := trace.ReadJSONL[trace.ExecRecord](strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, []trace.ExecRecord{{Step: 1, PC: 0x1000}, {Step: 2, PC: 0x1004}}, recs)

	_, err = trace.ReadJSONL[trace.ExecRecord](strings.NewReader("{\"step\":1}\nnot json\n"))
	require.ErrorContains(t, err, "line 2")
}
