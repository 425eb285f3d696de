package main

import (
	"bytes"
	"testing"

	"github.com/colorfulnotion/zkmut/storage"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/stretchr/testify/require"
)

const memWriteLoc = "MemoryWrite(zirgen/circuit/rv32im/v2/dsl/mem.zir:99)"

func seededStore(t *testing.T) (*storage.CoverageStore, uint64) {
	t.Helper()
	cs, err := storage.NewMemoryCoverageStore()
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	id, err := cs.StartCampaign("guest", []string{"--iterations", "3"}, "all", 7)
	require.NoError(t, err)
	txn := uint64(2)
	for _, m := range []*storage.MutationRecord{
		{CampaignID: id, Kind: trace.KindCompOut, Step: 10, TxnIdx: &txn, Value: 0x99},
		{CampaignID: id, Kind: trace.KindStoreOut, Step: 11, Value: 7, VerifierAccepted: true},
	} {
		mid, err := cs.RecordMutation(m)
		require.NoError(t, err)
		if m.Kind == trace.KindCompOut {
			_, _, err = cs.RecordFailures(mid, []trace.ConstraintFailure{{Cycle: 40, Step: 10, PC: 0x1004, Loc: memWriteLoc}})
			require.NoError(t, err)
		}
	}
	require.NoError(t, cs.EndCampaign(id))
	return cs, id
}

func TestCoverageReport(t *testing.T) {
	cs, _ := seededStore(t)
	var buf bytes.Buffer
	require.NoError(t, coverageReport(&buf, cs, 10))
	out := buf.String()
	require.Contains(t, out, "1 constraint sites, 2 mutations, 1 failures")
	require.Contains(t, out, string(trace.KindCompOut)+": 1")
	require.Contains(t, out, "MemoryWrite@mem.zir:99: 1 hits, first by mutation 1")
}

func TestCampaignReport(t *testing.T) {
	cs, id := seededStore(t)
	var buf bytes.Buffer
	require.NoError(t, campaignReport(&buf, cs, id))
	out := buf.String()
	require.Contains(t, out, "guest --iterations 3")
	require.Contains(t, out, "2 mutations, 1 unique constraint sites")
	require.Contains(t, out, "#1 step 10 txn 2 value 0x00000099, 1 failures")
	require.Contains(t, out, "VERIFIER ACCEPTED")
	require.NotContains(t, out, "running")

	require.ErrorContains(t, campaignReport(&buf, cs, id+1), "not found")
}

func TestConstraintReport(t *testing.T) {
	cs, id := seededStore(t)
	var buf bytes.Buffer
	require.NoError(t, constraintReport(&buf, cs, memWriteLoc))
	require.Contains(t, buf.String(), "constraint MemoryWrite@mem.zir:99: hit by 1 mutations")
	require.Contains(t, buf.String(), "campaign 1 #1 step 10")
	require.Equal(t, uint64(1), id)

	buf.Reset()
	require.NoError(t, constraintReport(&buf, cs, "MemoryWrite@mem.zir:9"))
	require.Contains(t, buf.String(), "hit by 0 mutations")
}

func TestAnalyzeFlags(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"analyze", "--store", t.TempDir(), "--campaign", "1", "--constraint", "x"})
	root.SetOut(new(bytes.Buffer))
	require.Error(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"analyze", "--store", t.TempDir()})
	root.SetOut(new(bytes.Buffer))
	require.Error(t, root.Execute())
}
