package fuzz

import (
	"encoding/json"
	"math"
	"time"

	"github.com/colorfulnotion/zkmut/trace"
)

type Stats struct {
	Attempts        int                        `json:"attempts"`
	Mutations       int                        `json:"mutations"`         // descriptors handed to the runner
	Skipped         int                        `json:"skipped"`           // no valid step or target
	Duplicates      int                        `json:"duplicates"`        // fingerprint already recorded
	RunErrors       int                        `json:"run_errors"`        // runner failed
	Detected        int                        `json:"detected"`          // at least one constraint failed
	VerifierAccepts int                        `json:"verifier_accepts"`  // mutated proof accepted
	GuestCrashes    int                        `json:"guest_crashes"`     // prover died without failures
	TotalFailures   int                        `json:"total_failures"`
	NewCoverage     int                        `json:"new_coverage"`
	ByKind          map[trace.MutationKind]int `json:"by_kind"`
	Sites           map[string]int             `json:"sites"`
	Elapsed         time.Duration              `json:"elapsed"`
}

func NewStats() *Stats {
	return &Stats{
		ByKind: make(map[trace.MutationKind]int),
		Sites:  make(map[string]int),
	}
}

func Ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0.0
	}
	ratio := float64(numerator) / float64(denominator)
	return math.Round(ratio*1000) / 1000
}

func (s *Stats) Metrics() map[string]interface{} {
	if s.Attempts == 0 {
		return nil
	}
	basic := map[string]interface{}{
		"Attempts":   s.Attempts,
		"Mutations":  s.Mutations,
		"Skipped":    s.Skipped,
		"Duplicates": s.Duplicates,
		"RunErrors":  s.RunErrors,
		"ExecRate":   Ratio(s.Mutations, s.Attempts),
	}

	outcome := map[string]interface{}{
		"DetectionRate":        Ratio(s.Detected, s.Mutations),
		"VerifierAcceptRate":   Ratio(s.VerifierAccepts, s.Mutations),
		"GuestCrashRate":       Ratio(s.GuestCrashes, s.Mutations),
		"FailuresPerMutation":  Ratio(s.TotalFailures, s.Mutations),
		"UndetectedMutations":  s.Mutations - s.Detected - s.GuestCrashes,
		"VerifierAcceptsTotal": s.VerifierAccepts,
	}

	coverage := map[string]interface{}{
		"UniqueSites": len(s.Sites),
		"NewCoverage": s.NewCoverage,
		"NewPerRun":   Ratio(s.NewCoverage, s.Mutations),
	}

	byKind := make(map[string]interface{}, len(s.ByKind))
	for k, n := range s.ByKind {
		byKind[string(k)] = n
	}

	return map[string]interface{}{
		"basic":    basic,
		"outcome":  outcome,
		"coverage": coverage,
		"kinds":    byKind,
		"elapsed":  s.Elapsed.String(),
	}
}

func (s *Stats) DumpMetrics() (string, error) {
	jsonBytes, err := json.MarshalIndent(s.Metrics(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

func (s *Stats) record(o *Outcome) {
	s.Mutations++
	s.ByKind[o.Kind]++
	s.NewCoverage += o.NewCoverage
	if o.Result == nil {
		return
	}
	if o.Result.VerifierAccepted {
		s.VerifierAccepts++
	}
	if o.Result.GuestCrashed() {
		s.GuestCrashes++
	}
	if n := len(o.Result.Failures); n > 0 {
		s.Detected++
		s.TotalFailures += n
	}
	for _, site := range o.Sites {
		s.Sites[site]++
	}
}
