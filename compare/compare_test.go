package compare

import (
	"strings"
	"testing"

	"github.com/colorfulnotion/zkmut/trace"
	"github.com/stretchr/testify/require"
)

func TestShortLoc(t *testing.T) {
	cases := []struct{ in, want string }{
		{`loc(callsite( MemoryWrite ( zirgen/circuit/rv32im/v2/dsl/mem.zir :99:5) at ...)`, "MemoryWrite@mem.zir:99"},
		{`IsRead(zirgen/circuit/rv32im/v2/dsl/mem.zir:79)`, "IsRead@mem.zir:79"},
		{`loc(callsite( VerifyOpcode ( <unknown>)))`, "VerifyOpcode"},
		{`Top(unknown)`, "Top"},
		{strings.Repeat(" ", 45) + "unnamed", strings.Repeat(" ", 40)},
		{`short`, "short"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ShortLoc(tc.in), tc.in)
	}
}

func failure(step uint64, pc uint32, major, minor uint8, loc string) trace.ConstraintFailure {
	return trace.ConstraintFailure{Step: step, PC: pc, Major: major, Minor: minor, Loc: loc}
}

const (
	isRead   = `IsRead(zirgen/dsl/mem.zir:79)`
	memWrite = `MemoryWrite(zirgen/dsl/mem.zir:99)`
	opcode   = `VerifyOpcodeF3(zirgen/dsl/inst.zir:123)`
)

func TestSignature(t *testing.T) {
	f := failure(5, 4100, 0, 1, isRead)
	require.Equal(t, "5:4100:0:1:IsRead@mem.zir:79", Signature(&f))
}

func TestCompareExact(t *testing.T) {
	a := []trace.ConstraintFailure{
		failure(5, 4100, 0, 1, isRead),
		failure(5, 4100, 0, 1, isRead), // duplicate
		failure(6, 4104, 0, 0, opcode),
	}
	b := []trace.ConstraintFailure{
		failure(5, 4100, 0, 1, isRead),
		failure(9, 4200, 0, 0, memWrite),
	}
	r := Compare(a, b, Exact)
	require.Equal(t, []string{"5:4100:0:1:IsRead@mem.zir:79"}, r.Common)
	require.Equal(t, []string{"6:4104:0:0:VerifyOpcodeF3@inst.zir:123"}, r.AOnly)
	require.Equal(t, []string{"9:4200:0:0:MemoryWrite@mem.zir:99"}, r.BOnly)
	require.Equal(t, VerdictPartial, r.Verdict())

	r = Compare(a[:1], b[:1], Exact)
	require.Equal(t, VerdictMatch, r.Verdict())
	require.Equal(t, VerdictClean, Compare(nil, nil, Exact).Verdict())
	require.Equal(t, VerdictMiss, Compare(a[2:], b[1:], Exact).Verdict())
}

func TestCompareConstraintOnly(t *testing.T) {
	a := []trace.ConstraintFailure{
		failure(11, 4100, 0, 0, isRead),
		failure(11, 4100, 0, 0, memWrite),
		failure(11, 4100, 0, 0, opcode),
	}
	b := []trace.ConstraintFailure{
		failure(14, 4300, 0, 7, memWrite),
		failure(14, 4300, 0, 7, isRead),
		failure(20, 4400, 0, 7, `Other(x)`),
	}
	r := Compare(a, b, ModeFor(trace.KindPreExecReg))
	require.Equal(t, ConstraintOnly, r.Mode)
	require.Equal(t, []string{"MATCH:IsRead@mem.zir:79", "MATCH:MemoryWrite@mem.zir:99"}, r.Common)
	require.Equal(t, []string{"11:4100:0:0:VerifyOpcodeF3@inst.zir:123"}, r.AOnly)
	require.Equal(t, []string{"20:4400:0:7:Other"}, r.BOnly)
}

func TestModeFor(t *testing.T) {
	for _, k := range trace.MutationKinds() {
		want := Exact
		if k == trace.KindPreExecReg {
			want = ConstraintOnly
		}
		require.Equal(t, want, ModeFor(k), string(k))
	}
}

// Result lists are sorted regardless of input order.
func TestCompareOrderIndependent(t *testing.T) {
	a := []trace.ConstraintFailure{failure(3, 1, 0, 0, opcode), failure(1, 1, 0, 0, isRead), failure(2, 1, 0, 0, memWrite)}
	rev := []trace.ConstraintFailure{a[2], a[0], a[1]}
	r1 := Compare(a, nil, Exact)
	r2 := Compare(rev, nil, Exact)
	require.Equal(t, r1.AOnly, r2.AOnly)
	require.IsIncreasing(t, r1.AOnly)
}

func TestResultTree(t *testing.T) {
	r := Compare([]trace.ConstraintFailure{failure(1, 2, 0, 0, isRead)}, nil, Exact)
	out := r.Tree()
	require.Contains(t, out, "A only (1)")
	require.Contains(t, out, "step=1 pc=2 major=0 minor=0: IsRead@mem.zir:79")

	s := Skipped("register not read during any instruction execution after injection point")
	require.Equal(t, VerdictSkipped, s.Verdict())
	require.True(t, strings.Contains(s.Tree(), "reason: register not read"))
}
