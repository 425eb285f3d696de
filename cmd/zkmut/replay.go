package main

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/zkmut/fuzz"
	"github.com/colorfulnotion/zkmut/resolve"
	"github.com/colorfulnotion/zkmut/storage"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/nsf/jsondiff"
	"github.com/spf13/cobra"
)

func newReplayCmd() *cobra.Command {
	var (
		storePath, cyclesPath, txnsPath string
		campaignID                      uint64
		verbose                         bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-derive stored campaign mutations against a trace and report drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewCoverageStore(storePath)
			if err != nil {
				return err
			}
			defer store.Close()
			ix, err := trace.LoadIndex(cyclesPath, txnsPath)
			if err != nil {
				return err
			}
			muts, err := store.Mutations(campaignID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var matched, drifted, failed int
			for _, m := range muts {
				var stored resolve.Descriptor
				if err := json.Unmarshal(m.Config, &stored); err != nil {
					return fmt.Errorf("mutation %d: %w", m.ID, err)
				}
				derived, err := fuzz.Rederive(ix, &stored)
				if err != nil {
					failed++
					fmt.Fprintf(out, "mutation %d %s step %d: %v\n", m.ID, m.Kind, m.Step, err)
					continue
				}
				diff, text, err := fuzz.Drift(&stored, derived)
				if err != nil {
					return err
				}
				if diff == jsondiff.FullMatch {
					matched++
					if verbose {
						fmt.Fprintf(out, "mutation %d %s step %d: ok\n", m.ID, m.Kind, m.Step)
					}
					continue
				}
				drifted++
				fmt.Fprintf(out, "mutation %d %s step %d: %s\n%s\n", m.ID, m.Kind, m.Step, diff, text)
			}
			fmt.Fprintf(out, "%d mutations: %d match, %d drifted, %d not derivable\n", len(muts), matched, drifted, failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "Coverage store directory")
	cmd.Flags().Uint64Var(&campaignID, "campaign", 0, "Campaign id (0 for all)")
	cmd.Flags().StringVar(&cyclesPath, "cycles", "", "Preflight cycles (JSONL)")
	cmd.Flags().StringVar(&txnsPath, "txns", "", "Preflight transactions (JSONL)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Also list matching mutations")
	for _, f := range []string{"store", "cycles", "txns"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}
