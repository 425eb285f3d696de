package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/colorfulnotion/zkmut/compare"
	"github.com/colorfulnotion/zkmut/log"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/crypto/blake2b"
)

const (
	prefixCampaign = "campaign/"
	prefixMutation = "mutation/"
	prefixFailure  = "failure/"
	prefixCoverage = "coverage/"
	prefixHit      = "hit/"
	prefixSeen     = "seen/"

	seqCampaign = "campaign"
	seqMutation = "mutation"
)

// Campaign is the metadata of one fuzzing run.
type Campaign struct {
	ID        uint64     `json:"id"`
	Target    string     `json:"target"`
	Args      []string   `json:"args"`
	Kind      string     `json:"kind"`
	Seed      uint64     `json:"seed"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// filled on read
	TotalMutations    int `json:"-"`
	UniqueConstraints int `json:"-"`
}

// MutationRecord is one executed mutation.
type MutationRecord struct {
	ID               uint64             `json:"id"`
	CampaignID       uint64             `json:"campaign_id"`
	Kind             trace.MutationKind `json:"kind"`
	Step             uint64             `json:"step"`
	TxnIdx           *uint64            `json:"txn_idx,omitempty"`
	Value            uint32             `json:"mutated_value"`
	Config           json.RawMessage    `json:"config"`
	Fingerprint      string             `json:"fingerprint"`
	ExecutedAt       time.Time          `json:"executed_at"`
	NumFailures      int                `json:"num_failures"`
	VerifierAccepted bool               `json:"verifier_accepted"`
	GuestCrashed     bool               `json:"guest_crashed"`
}

// FailureRecord is a constraint failure attributed to a mutation.
type FailureRecord struct {
	MutationID uint64 `json:"mutation_id"`
	Site       string `json:"constraint_loc"`
	trace.ConstraintFailure
}

// CoverageEntry counts hits of one constraint site.
type CoverageEntry struct {
	Site             string    `json:"constraint_loc"`
	FirstHitMutation uint64    `json:"first_hit_mutation_id"`
	FirstHitAt       time.Time `json:"first_hit_at"`
	HitCount         int       `json:"hit_count"`
}

type CoverageStats struct {
	TotalConstraints       int
	TotalMutations         int
	TotalFailures          int
	MutationsByKind        map[trace.MutationKind]int
	TopConstraints         []CoverageEntry
	VerifierAcceptanceRate float64
}

// CoverageStore tracks campaigns, mutations, failures and constraint
// coverage on top of a PersistenceStore.
type CoverageStore struct {
	ps  *PersistenceStore
	now func() time.Time
}

func NewCoverageStore(path string) (*CoverageStore, error) {
	ps, err := NewPersistenceStore(path)
	if err != nil {
		return nil, err
	}
	return &CoverageStore{ps: ps, now: time.Now}, nil
}

// NewMemoryCoverageStore creates an in-memory store for testing.
func NewMemoryCoverageStore() (*CoverageStore, error) {
	return NewCoverageStore("")
}

func (cs *CoverageStore) Close() error { return cs.ps.Close() }

func idKey(prefix string, id uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(prefix), id)
}

// hitKey is prefixHit | blake2b-256(site) | mutation id. The fixed-width
// digest keeps one site's keys from being a prefix of another's.
func hitKey(site string, mutationID uint64) []byte {
	return binary.BigEndian.AppendUint64(hitPrefix(site), mutationID)
}

func hitPrefix(site string) []byte {
	sum := blake2b.Sum256([]byte(site))
	return append([]byte(prefixHit), sum[:]...)
}

func (cs *CoverageStore) getJSON(key []byte, v any) (bool, error) {
	raw, found, err := cs.ps.Get(key)
	if err != nil || !found {
		return found, err
	}
	return true, json.Unmarshal(raw, v)
}

func putJSON(b *leveldb.Batch, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Put(key, raw)
	return nil
}

// scanJSON decodes every value under prefix as a T.
func scanJSON[T any](ps *PersistenceStore, prefix []byte, fn func(*T)) error {
	return ps.Scan(prefix, func(k, v []byte) error {
		var rec T
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("record %x: %w", k, err)
		}
		fn(&rec)
		return nil
	})
}

// StartCampaign records a new campaign and returns its id.
func (cs *CoverageStore) StartCampaign(target string, args []string, kind string, seed uint64) (uint64, error) {
	id, err := cs.ps.NextSeq(seqCampaign)
	if err != nil {
		return 0, err
	}
	c := &Campaign{ID: id, Target: target, Args: args, Kind: kind, Seed: seed, StartedAt: cs.now()}
	b := new(leveldb.Batch)
	if err := putJSON(b, idKey(prefixCampaign, id), c); err != nil {
		return 0, err
	}
	log.Debug(log.StorageModule, "campaign started", "id", id, "kind", kind, "seed", seed)
	return id, cs.ps.Write(b)
}

// EndCampaign stamps the campaign's end time.
func (cs *CoverageStore) EndCampaign(id uint64) error {
	var c Campaign
	found, err := cs.getJSON(idKey(prefixCampaign, id), &c)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("campaign %d not found", id)
	}
	now := cs.now()
	c.EndedAt = &now
	b := new(leveldb.Batch)
	if err := putJSON(b, idKey(prefixCampaign, id), &c); err != nil {
		return err
	}
	return cs.ps.Write(b)
}

// Campaign loads a campaign with its mutation and unique constraint totals.
func (cs *CoverageStore) Campaign(id uint64) (*Campaign, bool, error) {
	var c Campaign
	found, err := cs.getJSON(idKey(prefixCampaign, id), &c)
	if err != nil || !found {
		return nil, found, err
	}
	muts, err := cs.Mutations(id)
	if err != nil {
		return nil, false, err
	}
	c.TotalMutations = len(muts)
	sites := make(map[string]struct{})
	for _, m := range muts {
		fs, err := cs.Failures(m.ID)
		if err != nil {
			return nil, false, err
		}
		for _, f := range fs {
			sites[f.Site] = struct{}{}
		}
	}
	c.UniqueConstraints = len(sites)
	return &c, true, nil
}

// RecordMutation stores m, assigning its id and execution time.
func (cs *CoverageStore) RecordMutation(m *MutationRecord) (uint64, error) {
	id, err := cs.ps.NextSeq(seqMutation)
	if err != nil {
		return 0, err
	}
	m.ID = id
	if m.ExecutedAt.IsZero() {
		m.ExecutedAt = cs.now()
	}
	b := new(leveldb.Batch)
	if err := putJSON(b, idKey(prefixMutation, id), m); err != nil {
		return 0, err
	}
	if m.Fingerprint != "" {
		b.Put([]byte(prefixSeen+m.Fingerprint), binary.BigEndian.AppendUint64(nil, id))
	}
	return id, cs.ps.Write(b)
}

// Seen reports whether a mutation with this fingerprint was recorded.
func (cs *CoverageStore) Seen(fingerprint string) (bool, error) {
	_, found, err := cs.ps.Get([]byte(prefixSeen + fingerprint))
	return found, err
}

func (cs *CoverageStore) Mutation(id uint64) (*MutationRecord, bool, error) {
	var m MutationRecord
	found, err := cs.getJSON(idKey(prefixMutation, id), &m)
	if err != nil || !found {
		return nil, found, err
	}
	return &m, true, nil
}

// Mutations lists the mutations of a campaign (every campaign when id is 0)
// in id order.
func (cs *CoverageStore) Mutations(campaignID uint64) ([]*MutationRecord, error) {
	var out []*MutationRecord
	err := scanJSON(cs.ps, []byte(prefixMutation), func(m *MutationRecord) {
		if campaignID == 0 || m.CampaignID == campaignID {
			out = append(out, m)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordFailures attributes failures to a mutation and updates coverage.
// It returns the number recorded and how many constraint sites were hit for
// the first time.
func (cs *CoverageStore) RecordFailures(mutationID uint64, failures []trace.ConstraintFailure) (int, int, error) {
	m, found, err := cs.Mutation(mutationID)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, fmt.Errorf("mutation %d not found", mutationID)
	}

	now := cs.now()
	b := new(leveldb.Batch)
	pending := make(map[string]*CoverageEntry)
	newCoverage := 0
	for i := range failures {
		f := failures[i]
		site := compare.ShortLoc(f.Loc)
		fkey := binary.BigEndian.AppendUint64(idKey(prefixFailure, mutationID), uint64(i))
		if err := putJSON(b, fkey, &FailureRecord{MutationID: mutationID, Site: site, ConstraintFailure: f}); err != nil {
			return 0, 0, err
		}

		entry, ok := pending[site]
		if !ok {
			var stored CoverageEntry
			found, err := cs.getJSON([]byte(prefixCoverage+site), &stored)
			if err != nil {
				return 0, 0, err
			}
			if found {
				entry = &stored
			} else {
				entry = &CoverageEntry{Site: site, FirstHitMutation: mutationID, FirstHitAt: now}
				newCoverage++
			}
			pending[site] = entry
		}
		entry.HitCount++
		b.Put(hitKey(site, mutationID), nil)
	}
	for site, entry := range pending {
		if err := putJSON(b, []byte(prefixCoverage+site), entry); err != nil {
			return 0, 0, err
		}
	}

	m.NumFailures = len(failures)
	if err := putJSON(b, idKey(prefixMutation, mutationID), m); err != nil {
		return 0, 0, err
	}
	if err := cs.ps.Write(b); err != nil {
		return 0, 0, err
	}
	log.Debug(log.StorageModule, "failures recorded", "mutation", mutationID, "failures", len(failures), "newCoverage", newCoverage)
	return len(failures), newCoverage, nil
}

// Failures lists the failures attributed to a mutation.
func (cs *CoverageStore) Failures(mutationID uint64) ([]*FailureRecord, error) {
	var out []*FailureRecord
	err := scanJSON(cs.ps, idKey(prefixFailure, mutationID), func(f *FailureRecord) {
		out = append(out, f)
	})
	return out, err
}

// Coverage lists every constraint site hit so far, most hit first.
func (cs *CoverageStore) Coverage() ([]CoverageEntry, error) {
	var out []CoverageEntry
	err := scanJSON(cs.ps, []byte(prefixCoverage), func(e *CoverageEntry) {
		out = append(out, *e)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HitCount != out[j].HitCount {
			return out[i].HitCount > out[j].HitCount
		}
		return out[i].Site < out[j].Site
	})
	return out, nil
}

// MutationsHittingConstraint lists the mutations that failed at site.
func (cs *CoverageStore) MutationsHittingConstraint(site string) ([]*MutationRecord, error) {
	var ids []uint64
	err := cs.ps.Scan(hitPrefix(site), func(k, _ []byte) error {
		ids = append(ids, binary.BigEndian.Uint64(k[len(k)-8:]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	var out []*MutationRecord
	for _, id := range ids {
		m, found, err := cs.Mutation(id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, m)
		}
	}
	return out, nil
}

// Stats summarises the whole store.
func (cs *CoverageStore) Stats() (*CoverageStats, error) {
	cov, err := cs.Coverage()
	if err != nil {
		return nil, err
	}
	muts, err := cs.Mutations(0)
	if err != nil {
		return nil, err
	}
	failures, err := cs.ps.CountPrefix([]byte(prefixFailure))
	if err != nil {
		return nil, err
	}

	st := &CoverageStats{
		TotalConstraints: len(cov),
		TotalMutations:   len(muts),
		TotalFailures:    failures,
		MutationsByKind:  make(map[trace.MutationKind]int),
	}
	accepted := 0
	for _, m := range muts {
		st.MutationsByKind[m.Kind]++
		if m.VerifierAccepted {
			accepted++
		}
	}
	if len(muts) > 0 {
		st.VerifierAcceptanceRate = float64(accepted) / float64(len(muts))
	}
	if len(cov) > 10 {
		cov = cov[:10]
	}
	st.TopConstraints = cov
	return st, nil
}
