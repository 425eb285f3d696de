package storage

import (
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/zkmut/trace"
	"github.com/stretchr/testify/require"
)

const (
	isRead   = `IsRead(zirgen/dsl/mem.zir:79)`
	memWrite = `MemoryWrite(zirgen/dsl/mem.zir:99)`
)

func newStore(t *testing.T) *CoverageStore {
	cs, err := NewMemoryCoverageStore()
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestCoverageStoreCampaignLifecycle(t *testing.T) {
	cs := newStore(t)

	id, err := cs.StartCampaign("risc0-host", []string{"--guest", "fib"}, "all", 42)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	txn := uint64(7)
	mid, err := cs.RecordMutation(&MutationRecord{CampaignID: id, Kind: trace.KindCompOut, Step: 10, TxnIdx: &txn, Value: 5, Fingerprint: "abc"})
	require.NoError(t, err)

	total, fresh, err := cs.RecordFailures(mid, []trace.ConstraintFailure{
		{Step: 10, PC: 4, Loc: isRead},
		{Step: 10, PC: 4, Loc: isRead},
		{Step: 11, PC: 8, Loc: memWrite},
	})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Equal(t, 2, fresh)

	mid2, err := cs.RecordMutation(&MutationRecord{CampaignID: id, Kind: trace.KindPreExecReg, Step: 12, VerifierAccepted: true})
	require.NoError(t, err)
	_, fresh, err = cs.RecordFailures(mid2, []trace.ConstraintFailure{{Step: 12, Loc: isRead}})
	require.NoError(t, err)
	require.Zero(t, fresh)

	require.NoError(t, cs.EndCampaign(id))
	c, found, err := cs.Campaign(id)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, c.EndedAt)
	require.Equal(t, 2, c.TotalMutations)
	require.Equal(t, 2, c.UniqueConstraints)

	m, found, err := cs.Mutation(mid)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 3, m.NumFailures)
	require.Equal(t, uint64(7), *m.TxnIdx)

	seen, err := cs.Seen("abc")
	require.NoError(t, err)
	require.True(t, seen)
	seen, err = cs.Seen("def")
	require.NoError(t, err)
	require.False(t, seen)

	hits, err := cs.MutationsHittingConstraint("IsRead@mem.zir:79")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, mid, hits[0].ID)

	cov, err := cs.Coverage()
	require.NoError(t, err)
	require.Len(t, cov, 2)
	require.Equal(t, "IsRead@mem.zir:79", cov[0].Site)
	require.Equal(t, 3, cov[0].HitCount)
	require.Equal(t, mid, cov[0].FirstHitMutation)

	st, err := cs.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, st.TotalConstraints)
	require.Equal(t, 2, st.TotalMutations)
	require.Equal(t, 4, st.TotalFailures)
	require.Equal(t, 1, st.MutationsByKind[trace.KindCompOut])
	require.InDelta(t, 0.5, st.VerifierAcceptanceRate, 1e-9)
}

func TestCoverageStoreMissing(t *testing.T) {
	cs := newStore(t)
	_, found, err := cs.Campaign(9)
	require.NoError(t, err)
	require.False(t, found)
	require.Error(t, cs.EndCampaign(9))
	_, _, err = cs.RecordFailures(9, nil)
	require.Error(t, err)
}

func TestCoverageStoreOnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cov")
	cs, err := NewCoverageStore(dir)
	require.NoError(t, err)
	id, err := cs.StartCampaign("host", nil, "COMP_OUT_MOD", 1)
	require.NoError(t, err)
	require.NoError(t, cs.Close())

	cs, err = NewCoverageStore(dir)
	require.NoError(t, err)
	defer cs.Close()
	c, found, err := cs.Campaign(id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "COMP_OUT_MOD", c.Kind)

	next, err := cs.StartCampaign("host", nil, "all", 2)
	require.NoError(t, err)
	require.Equal(t, id+1, next)
}

func TestMutationsHittingConstraintNestedSites(t *testing.T) {
	cs := newStore(t)
	id, err := cs.StartCampaign("host", nil, "all", 1)
	require.NoError(t, err)

	sites := []string{"mem", "mem/zir", "mem/zir/99"}
	ids := make(map[string]uint64)
	for _, site := range sites {
		mid, err := cs.RecordMutation(&MutationRecord{CampaignID: id, Kind: trace.KindStoreOut, Step: 3})
		require.NoError(t, err)
		_, _, err = cs.RecordFailures(mid, []trace.ConstraintFailure{{Step: 3, Loc: site}})
		require.NoError(t, err)
		ids[site] = mid
	}

	for _, site := range sites {
		hits, err := cs.MutationsHittingConstraint(site)
		require.NoError(t, err)
		require.Len(t, hits, 1, site)
		require.Equal(t, ids[site], hits[0].ID, site)
	}
	hits, err := cs.MutationsHittingConstraint("me")
	require.NoError(t, err)
	require.Empty(t, hits)
}
