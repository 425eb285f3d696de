package resolve

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/zkmut/insn"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/colorfulnotion/zkmut/trace/tracetest"
	"github.com/colorfulnotion/zkmut/zkerrors"
	"github.com/stretchr/testify/require"
)

// txn indices: add 0-2, sw 3-5, poseidon 6, lw 7-9, addi 10-11
func fixture() *trace.Index {
	return tracetest.New().
		Cycle(10, 0x1004, 0, 0, tracetest.RegRead("a1", 1), tracetest.RegRead("a2", 2), tracetest.RegWrite("a0", 3, 0)).
		Cycle(11, 0x1008, 6, 2, tracetest.RegRead("sp", 0x800), tracetest.RegRead("a0", 3), tracetest.Write(0x200, 3, 0)).
		Cycle(12, 0x100c, 9, 0, tracetest.RegRead("s3", 7)).
		Cycle(13, 0x1010, 5, 2, tracetest.RegRead("sp", 0x800), tracetest.Read(0x200, 3), tracetest.RegWrite("a4", 3, 0)).
		Cycle(14, 0x1014, 0, 7, tracetest.RegRead("a4", 3), tracetest.RegWrite("a4", 4, 3)).
		Index()
}

func TestResolveOutputs(t *testing.T) {
	r := New(fixture(), Options{})

	cases := []struct {
		name    string
		fault   trace.FaultRecord
		txn     uint64
		step    uint64
		reg     int
		regName string
	}{
		{"compute", trace.FaultRecord{Kind: trace.KindCompOut, Step: 10, PC: 0x1000, Original: 3, Mutated: 0x1234}, 2, 10, 10, "a0"},
		{"store", trace.FaultRecord{Kind: trace.KindStoreOut, Step: 11, PC: 0x1004, Original: 3, Mutated: 0x1234}, 5, 11, -1, ""},
		{"load", trace.FaultRecord{Kind: trace.KindLoadVal, Step: 13, PC: 0x100c, Original: 3, Mutated: 0x1234}, 9, 13, 14, "a4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target, err := r.Resolve(&tc.fault)
			require.NoError(t, err)
			require.Equal(t, tc.txn, target.Txn.TxnIdx)
			require.Equal(t, tc.step, target.Step)
			require.Equal(t, tc.reg, target.Register)
			require.Equal(t, uint32(0x1234), target.Replacement)
			require.Equal(t, uint32(3), target.Original())
			require.NotNil(t, target.Location)

			d := target.Descriptor()
			require.NoError(t, d.Validate())
			require.Equal(t, tc.txn, *d.TxnIdx)
			if tc.regName != "" {
				require.Equal(t, tc.regName, d.Info["register"])
			} else {
				require.Equal(t, "0x00000800", d.Info["memory_addr"])
			}
		})
	}
}

func TestResolveOutputNeverTouched(t *testing.T) {
	ix := tracetest.New().
		Cycle(1, 0x2004, 0, 0, tracetest.RegRead("a0", 1)).
		Cycle(2, 0x2008, 6, 0, tracetest.RegRead("a0", 1)).
		Index()
	r := New(ix, Options{})

	_, err := r.Resolve(&trace.FaultRecord{Kind: trace.KindCompOut, Step: 1, PC: 0x2000})
	require.ErrorIs(t, err, zkerrors.ErrTTargetNeverTouched)
	require.ErrorContains(t, err, "register write")

	_, err = r.Resolve(&trace.FaultRecord{Kind: trace.KindStoreOut, Step: 2, PC: 0x2004})
	require.ErrorIs(t, err, zkerrors.ErrTTargetNeverTouched)
	require.ErrorContains(t, err, "memory write")
}

func TestResolveOutputSkipsPaddingCycle(t *testing.T) {
	// A padding cycle at the same step writes a0 after the add does.
	ix := tracetest.New().
		Cycle(1, 0x2004, 0, 0, tracetest.RegRead("a1", 1), tracetest.RegWrite("a0", 3, 0)).
		Cycle(1, 0x2004, 8, 0, tracetest.RegWrite("a0", 0, 3)).
		Cycle(2, 0x2008, 6, 2, tracetest.Write(0x300, 1, 0)).
		Cycle(2, 0x2008, 8, 0, tracetest.Write(0x304, 0, 0)).
		Cycle(3, 0x200c, 8, 0, tracetest.RegWrite("a0", 0, 3)).
		Index()
	r := New(ix, Options{})

	target, err := r.Resolve(&trace.FaultRecord{Kind: trace.KindCompOut, Step: 1, PC: 0x2000, Original: 3, Mutated: 9})
	require.NoError(t, err)
	require.Equal(t, uint64(1), target.Txn.TxnIdx)
	require.Equal(t, uint32(3), target.Original())

	target, err = r.Resolve(&trace.FaultRecord{Kind: trace.KindStoreOut, Step: 2, PC: 0x2004, Original: 1, Mutated: 9})
	require.NoError(t, err)
	require.Equal(t, uint64(3), target.Txn.TxnIdx)

	_, err = r.outputAt(trace.KindCompOut, 3, 9)
	require.ErrorIs(t, err, zkerrors.ErrTTargetExemptCycle)
}

func TestPreExecNextReadExemptCycle(t *testing.T) {
	r := New(fixture(), Options{Strategy: NextRead})
	_, err := r.Resolve(&trace.FaultRecord{Kind: trace.KindPreExecReg, Step: 11, PC: 0x1004, Register: "s3", Mutated: 9})
	require.ErrorIs(t, err, zkerrors.ErrTTargetExemptCycle)
	require.True(t, zkerrors.IsSkip(err))
	require.ErrorContains(t, err, "register READ found at step 12 but it's during POSEIDON0 (non-instruction cycle)")
}

func TestPreExecNextRead(t *testing.T) {
	r := New(fixture(), Options{})
	target, err := r.Resolve(&trace.FaultRecord{Kind: trace.KindPreExecReg, Step: 11, PC: 0x1004, Register: "a4", Mutated: 0xdead})
	require.NoError(t, err)
	require.Equal(t, uint64(10), target.Txn.TxnIdx)
	require.Equal(t, uint64(14), target.Step)
	require.Equal(t, uint64(11), target.InjectionStep)
	require.True(t, target.Txn.IsRead())
	require.Equal(t, NextRead, target.Strategy)

	d := target.Descriptor()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	require.Equal(t, "PRE_EXEC_REG_MOD", doc["mutation_type"])
	require.Equal(t, "next_read", doc["strategy"])
	require.EqualValues(t, 14, doc["step"])
	require.EqualValues(t, 10, doc["txn_idx"])
	require.EqualValues(t, 0xdead, doc["word"])
	info := doc["_info"].(map[string]any)
	require.EqualValues(t, 11, info["injection_step"])
	require.Equal(t, "a4", info["register"])
	require.NotContains(t, doc, "major")

	_, err = r.Resolve(&trace.FaultRecord{Kind: trace.KindPreExecReg, Step: 13, PC: 0x100c, Register: "a0"})
	require.ErrorIs(t, err, zkerrors.ErrTTargetNeverTouched)
	require.ErrorContains(t, err, "register not read during any instruction execution after injection point")
}

func TestPreExecPrevWrite(t *testing.T) {
	r := New(fixture(), Options{Strategy: PrevWrite})
	target, err := r.Resolve(&trace.FaultRecord{Kind: trace.KindPreExecReg, Step: 13, PC: 0x100c, Register: "x10", Mutated: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(2), target.Txn.TxnIdx)
	require.Equal(t, uint64(10), target.Step)
	require.True(t, target.Txn.IsWrite())

	_, err = r.Resolve(&trace.FaultRecord{Kind: trace.KindPreExecReg, Step: 13, PC: 0x100c, Register: "t6"})
	require.ErrorIs(t, err, zkerrors.ErrTTargetNeverTouched)
	require.ErrorContains(t, err, "register not written before injection point")
}

func TestPreExecRegisterErrors(t *testing.T) {
	r := New(fixture(), Options{})
	_, err := r.Resolve(&trace.FaultRecord{Kind: trace.KindPreExecReg, Step: 13, PC: 0x100c, Register: "q9"})
	require.ErrorIs(t, err, zkerrors.ErrRUnknownRegister)
	_, err = r.Resolve(&trace.FaultRecord{Kind: trace.KindPreExecReg, Step: 13, PC: 0x100c})
	require.ErrorIs(t, err, zkerrors.ErrRMissingRegister)

	r = New(fixture(), Options{Strategy: "sideways"})
	_, err = r.Resolve(&trace.FaultRecord{Kind: trace.KindPreExecReg, Step: 13, PC: 0x100c, Register: "a0"})
	require.ErrorIs(t, err, zkerrors.ErrKUnknownStrategy)
	require.False(t, zkerrors.IsSkip(err))
}

// The register and address of a target are recoverable from the trace
// through the transaction index alone.
func TestTargetRoundTrip(t *testing.T) {
	ix := fixture()
	for _, strategy := range []RegStrategy{NextRead, PrevWrite} {
		r := New(ix, Options{Strategy: strategy})
		for _, step := range ix.ValidSteps(trace.KindPreExecReg) {
			targets, err := r.AtStep(trace.KindPreExecReg, step)
			if err != nil {
				require.ErrorIs(t, err, zkerrors.ErrTTargetNeverTouched)
				continue
			}
			for _, target := range targets {
				d := target.Descriptor()
				txn, ok := ix.TxnByIdx(*d.TxnIdx)
				require.True(t, ok)
				reg, ok := trace.RegisterIndexOf(txn.Addr)
				require.True(t, ok)
				require.Equal(t, target.Register, reg)
				require.Equal(t, trace.RegisterName(reg), d.Info["register"])
				require.Equal(t, step, ix.Owner(txn.TxnIdx).Step)
			}
		}
	}
}

func TestResolveInstrType(t *testing.T) {
	r := New(fixture(), Options{})

	target, err := r.Resolve(&trace.FaultRecord{Kind: trace.KindInstrType, Step: 10, PC: 0x1000, Original: 0x00c58533, Mutated: 0x40c58533})
	require.NoError(t, err)
	require.Nil(t, target.Txn)
	require.Equal(t, uint64(10), target.Step)
	require.Equal(t, insn.Class{Major: 0, Minor: 1}, target.NewClass)

	d := target.Descriptor()
	require.NoError(t, d.Validate())
	require.Nil(t, d.TxnIdx)
	require.Equal(t, uint8(0), *d.Major)
	require.Equal(t, uint8(1), *d.Minor)

	mutated := target.Mutated().(*trace.CycleRecord)
	require.Equal(t, uint8(1), mutated.Minor)
	require.Equal(t, uint8(0), target.Cycle.Minor, "trace left untouched")

	_, err = r.Resolve(&trace.FaultRecord{Kind: trace.KindInstrType, Step: 10, PC: 0x1000, Original: 0x00c58533, Mutated: 0xffffffff})
	require.ErrorIs(t, err, zkerrors.ErrDInvalidInstruction)

	// mul was never executed at this pc
	_, err = r.Resolve(&trace.FaultRecord{Kind: trace.KindInstrType, Step: 10, PC: 0x1000, Original: 0x02c58533, Mutated: 0x00c58533})
	require.ErrorIs(t, err, zkerrors.ErrSClassMismatch)
}

func TestResolveStepNotFound(t *testing.T) {
	r := New(fixture(), Options{})
	_, err := r.Resolve(&trace.FaultRecord{Kind: trace.KindCompOut, Step: 10, PC: 0x9000})
	require.ErrorIs(t, err, zkerrors.ErrSStepNotFound)

	_, err = r.Resolve(&trace.FaultRecord{Kind: "NOPE"})
	require.ErrorIs(t, err, zkerrors.ErrKUnknownMutationKind)
}

func TestAtStep(t *testing.T) {
	r := New(fixture(), Options{})

	targets, err := r.AtStep(trace.KindCompOut, 14)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, uint64(11), targets[0].Txn.TxnIdx)

	targets, err = r.AtStep(trace.KindPreExecReg, 13)
	require.NoError(t, err)
	require.Len(t, targets, 1, "only the sp read is a register read")
	require.Equal(t, "sp", trace.RegisterName(targets[0].Register))

	_, err = r.AtStep(trace.KindLoadVal, 10)
	require.ErrorIs(t, err, zkerrors.ErrKKindStepMismatch)
	_, err = r.AtStep(trace.KindPreExecReg, 12)
	require.ErrorIs(t, err, zkerrors.ErrKKindStepMismatch)
	_, err = r.AtStep(trace.KindCompOut, 99)
	require.ErrorIs(t, err, zkerrors.ErrTCycleNotFound)
}

func TestScanWindows(t *testing.T) {
	ix := fixture()
	res := Scan(ix, From(ix, 11), Forward, InstructionReadOf(trace.RegisterAddr(19)))
	require.Nil(t, res.Match)
	require.NotNil(t, res.Exempt)
	require.Equal(t, uint64(6), res.Exempt.Txn.TxnIdx)

	res = Scan(ix, Before(ix, 14), Backward, RegisterWrite)
	require.Equal(t, uint64(9), res.Match.Txn.TxnIdx)

	res = Scan(ix, Window{Start: -5, End: 100}, Forward, MemoryWrite)
	require.Equal(t, uint64(5), res.Match.Txn.TxnIdx)
}

func TestDescriptorFingerprintAndFile(t *testing.T) {
	r := New(fixture(), Options{})
	a, err := r.Resolve(&trace.FaultRecord{Kind: trace.KindCompOut, Step: 10, PC: 0x1000, Mutated: 1})
	require.NoError(t, err)
	b, err := r.Resolve(&trace.FaultRecord{Kind: trace.KindCompOut, Step: 10, PC: 0x1000, Mutated: 2})
	require.NoError(t, err)

	da, db := a.Descriptor(), b.Descriptor()
	require.NotEqual(t, da.Fingerprint(), db.Fingerprint())

	db.Info = map[string]any{"note": "ignored"}
	w := *da.Word
	db.Word = &w
	require.Equal(t, da.Fingerprint(), db.Fingerprint(), "only harness fields are hashed")

	db.Strategy = PrevWrite
	require.NotEqual(t, da.Fingerprint(), db.Fingerprint())
	db.Strategy, db.TxnIdx = "", nil
	require.NotEqual(t, da.Fingerprint(), db.Fingerprint(), "missing txn_idx differs from txn_idx 0")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, da.WriteFile(path))
	back, err := ReadDescriptorFile(path)
	require.NoError(t, err)
	require.Equal(t, da.Fingerprint(), back.Fingerprint())
}

func TestTargetDiff(t *testing.T) {
	r := New(fixture(), Options{})
	target, err := r.Resolve(&trace.FaultRecord{Kind: trace.KindCompOut, Step: 10, PC: 0x1000, Mutated: 4660})
	require.NoError(t, err)
	out, err := target.Diff()
	require.NoError(t, err)
	require.Contains(t, out, "word")
	require.Contains(t, out, "4660")
}

func TestParseRegStrategy(t *testing.T) {
	s, err := ParseRegStrategy("PREV_WRITE")
	require.NoError(t, err)
	require.Equal(t, PrevWrite, s)
	s, err = ParseRegStrategy("")
	require.NoError(t, err)
	require.Equal(t, NextRead, s)
	_, err = ParseRegStrategy("x")
	require.ErrorIs(t, err, zkerrors.ErrKUnknownStrategy)
}
