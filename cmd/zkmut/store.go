package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/colorfulnotion/zkmut/compare"
	"github.com/colorfulnotion/zkmut/storage"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
	"golang.org/x/exp/slices"
)

func newCoverageCmd() *cobra.Command {
	var (
		storePath string
		top       int
	)
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Summarise constraint coverage recorded by fuzzing campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := storage.NewCoverageStore(storePath)
			if err != nil {
				return err
			}
			defer cs.Close()
			return coverageReport(cmd.OutOrStdout(), cs, top)
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "Coverage store directory")
	cmd.Flags().IntVar(&top, "top", 20, "Constraint sites to list (0 for all)")
	cmd.MarkFlagRequired("store")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var (
		storePath  string
		campaignID uint64
		site       string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Inspect one campaign or the mutations that hit one constraint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := storage.NewCoverageStore(storePath)
			if err != nil {
				return err
			}
			defer cs.Close()
			if site != "" {
				return constraintReport(cmd.OutOrStdout(), cs, site)
			}
			return campaignReport(cmd.OutOrStdout(), cs, campaignID)
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "Coverage store directory")
	cmd.Flags().Uint64Var(&campaignID, "campaign", 0, "Campaign id")
	cmd.Flags().StringVar(&site, "constraint", "", "Constraint location (raw or Name@file:line)")
	cmd.MarkFlagRequired("store")
	cmd.MarkFlagsOneRequired("campaign", "constraint")
	cmd.MarkFlagsMutuallyExclusive("campaign", "constraint")
	return cmd
}

func coverageReport(w io.Writer, cs *storage.CoverageStore, top int) error {
	st, err := cs.Stats()
	if err != nil {
		return err
	}
	cov, err := cs.Coverage()
	if err != nil {
		return err
	}

	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("coverage: %d constraint sites, %d mutations, %d failures, verifier acceptance %.3f",
		st.TotalConstraints, st.TotalMutations, st.TotalFailures, st.VerifierAcceptanceRate))
	kinds := tree.AddBranch("mutations by kind")
	for _, k := range trace.MutationKinds() {
		if n := st.MutationsByKind[k]; n > 0 {
			kinds.AddNode(fmt.Sprintf("%s: %d", k, n))
		}
	}
	if top > 0 && len(cov) > top {
		cov = cov[:top]
	}
	sites := tree.AddBranch(fmt.Sprintf("constraint sites (%d shown)", len(cov)))
	for _, e := range cov {
		sites.AddNode(fmt.Sprintf("%s: %d hits, first by mutation %d at %s",
			e.Site, e.HitCount, e.FirstHitMutation, e.FirstHitAt.Format(time.DateTime)))
	}
	_, err = io.WriteString(w, tree.String())
	return err
}

func campaignReport(w io.Writer, cs *storage.CoverageStore, id uint64) error {
	c, found, err := cs.Campaign(id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("campaign %d not found", id)
	}
	muts, err := cs.Mutations(id)
	if err != nil {
		return err
	}

	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("campaign %d: %s %s", c.ID, c.Target, strings.Join(c.Args, " ")))
	tree.AddNode(fmt.Sprintf("kind %s, seed %d", c.Kind, c.Seed))
	ended := "running"
	if c.EndedAt != nil {
		ended = c.EndedAt.Format(time.DateTime)
	}
	tree.AddNode(fmt.Sprintf("started %s, ended %s", c.StartedAt.Format(time.DateTime), ended))
	tree.AddNode(fmt.Sprintf("%d mutations, %d unique constraint sites", c.TotalMutations, c.UniqueConstraints))

	byKind := make(map[trace.MutationKind][]*storage.MutationRecord)
	for _, m := range muts {
		byKind[m.Kind] = append(byKind[m.Kind], m)
	}
	kinds := make([]trace.MutationKind, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		br := tree.AddBranch(fmt.Sprintf("%s (%d)", k, len(byKind[k])))
		for _, m := range byKind[k] {
			br.AddNode(mutationLine(m))
		}
	}
	_, err = io.WriteString(w, tree.String())
	return err
}

func constraintReport(w io.Writer, cs *storage.CoverageStore, loc string) error {
	site := compare.ShortLoc(loc)
	muts, err := cs.MutationsHittingConstraint(site)
	if err != nil {
		return err
	}
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("constraint %s: hit by %d mutations", site, len(muts)))
	for _, m := range muts {
		tree.AddNode(fmt.Sprintf("campaign %d %s", m.CampaignID, mutationLine(m)))
	}
	_, err = io.WriteString(w, tree.String())
	return err
}

func mutationLine(m *storage.MutationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d step %d", m.ID, m.Step)
	if m.TxnIdx != nil {
		fmt.Fprintf(&b, " txn %d", *m.TxnIdx)
	}
	fmt.Fprintf(&b, " value 0x%08x, %d failures", m.Value, m.NumFailures)
	if m.VerifierAccepted {
		b.WriteString(", VERIFIER ACCEPTED")
	}
	if m.GuestCrashed {
		b.WriteString(", guest crashed")
	}
	return b.String()
}
