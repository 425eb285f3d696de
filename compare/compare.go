package compare

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/zkmut/log"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/xlab/treeprint"
	"golang.org/x/exp/slices"
)

// Mode selects the failure key used for matching.
type Mode int

const (
	// Exact keys failures by full signature.
	Exact Mode = iota
	// ConstraintOnly keys failures by constraint site alone, for edits that
	// land on a different step than the original fault.
	ConstraintOnly
)

func (m Mode) String() string {
	if m == ConstraintOnly {
		return "constraint_only"
	}
	return "exact"
}

// ModeFor returns the comparison mode suited to a mutation kind.
func ModeFor(kind trace.MutationKind) Mode {
	if kind == trace.KindPreExecReg {
		return ConstraintOnly
	}
	return Exact
}

const matchPrefix = "MATCH:"

// Result of comparing the injector's failures (A) with the replay's (B).
// All signature lists are sorted.
type Result struct {
	Mode       Mode
	A, B       []trace.ConstraintFailure
	Common     []string
	AOnly      []string
	BOnly      []string
	Skipped    bool
	SkipReason string
}

// Verdict summarises a comparison.
type Verdict string

const (
	VerdictSkipped Verdict = "skipped"
	VerdictClean   Verdict = "clean"   // neither run failed a constraint
	VerdictMatch   Verdict = "match"   // identical failure sets
	VerdictPartial Verdict = "partial" // some failures in common
	VerdictMiss    Verdict = "miss"    // nothing in common
)

func (r *Result) Verdict() Verdict {
	switch {
	case r.Skipped:
		return VerdictSkipped
	case len(r.A) == 0 && len(r.B) == 0:
		return VerdictClean
	case len(r.Common) > 0 && len(r.AOnly) == 0 && len(r.BOnly) == 0:
		return VerdictMatch
	case len(r.Common) > 0:
		return VerdictPartial
	}
	return VerdictMiss
}

// Skipped records that no comparison took place.
func Skipped(reason string) *Result {
	return &Result{Skipped: true, SkipReason: reason}
}

// Compare dispatches on mode.
func Compare(a, b []trace.ConstraintFailure, mode Mode) *Result {
	var r *Result
	if mode == ConstraintOnly {
		r = CompareConstraintOnly(a, b)
	} else {
		r = CompareExact(a, b)
	}
	log.Debug(log.CompareModule, "compared failures", "mode", mode, "a", len(a), "b", len(b),
		"common", len(r.Common), "aOnly", len(r.AOnly), "bOnly", len(r.BOnly))
	return r
}

func signatureSet(fs []trace.ConstraintFailure) map[string]struct{} {
	set := make(map[string]struct{}, len(fs))
	for i := range fs {
		set[Signature(&fs[i])] = struct{}{}
	}
	return set
}

// CompareExact intersects full signatures. Both runs report failures at the
// step where the constraint fired, so no offset is applied.
func CompareExact(a, b []trace.ConstraintFailure) *Result {
	sa, sb := signatureSet(a), signatureSet(b)
	r := &Result{Mode: Exact, A: a, B: b}
	for s := range sa {
		if _, ok := sb[s]; ok {
			r.Common = append(r.Common, s)
		} else {
			r.AOnly = append(r.AOnly, s)
		}
	}
	for s := range sb {
		if _, ok := sa[s]; !ok {
			r.BOnly = append(r.BOnly, s)
		}
	}
	slices.Sort(r.Common)
	slices.Sort(r.AOnly)
	slices.Sort(r.BOnly)
	return r
}

func bySite(fs []trace.ConstraintFailure) map[string][]string {
	m := make(map[string][]string)
	for i := range fs {
		loc := ShortLoc(fs[i].Loc)
		m[loc] = append(m[loc], Signature(&fs[i]))
	}
	return m
}

// CompareConstraintOnly intersects constraint sites. Common entries are
// reported as "MATCH:<site>"; one-sided entries keep their full signatures.
func CompareConstraintOnly(a, b []trace.ConstraintFailure) *Result {
	ma, mb := bySite(a), bySite(b)
	r := &Result{Mode: ConstraintOnly, A: a, B: b}
	var onlyA, onlyB []string
	for loc := range ma {
		if _, ok := mb[loc]; ok {
			r.Common = append(r.Common, matchPrefix+loc)
		} else {
			onlyA = append(onlyA, loc)
		}
	}
	for loc := range mb {
		if _, ok := ma[loc]; !ok {
			onlyB = append(onlyB, loc)
		}
	}
	slices.Sort(r.Common)
	slices.Sort(onlyA)
	slices.Sort(onlyB)
	for _, loc := range onlyA {
		r.AOnly = append(r.AOnly, ma[loc]...)
	}
	for _, loc := range onlyB {
		r.BOnly = append(r.BOnly, mb[loc]...)
	}
	return r
}

func describe(sig string) string {
	if strings.HasPrefix(sig, matchPrefix) {
		return strings.TrimPrefix(sig, matchPrefix)
	}
	parts := strings.SplitN(sig, ":", 5)
	if len(parts) < 5 {
		return sig
	}
	return fmt.Sprintf("step=%s pc=%s major=%s minor=%s: %s", parts[0], parts[1], parts[2], parts[3], parts[4])
}

// Tree renders the comparison for terminal output.
func (r *Result) Tree() string {
	tree := treeprint.New()
	if r.Skipped {
		tree.SetValue("comparison skipped")
		tree.AddNode("reason: " + r.SkipReason)
		return tree.String()
	}
	tree.SetValue(fmt.Sprintf("comparison (%s): %s, A %d failures, B %d failures", r.Mode, r.Verdict(), len(r.A), len(r.B)))
	for _, sec := range []struct {
		name string
		sigs []string
	}{{"common", r.Common}, {"A only", r.AOnly}, {"B only", r.BOnly}} {
		br := tree.AddBranch(fmt.Sprintf("%s (%d)", sec.name, len(sec.sigs)))
		for _, s := range sec.sigs {
			br.AddNode(describe(s))
		}
	}
	return tree.String()
}
