package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/colorfulnotion/zkmut/compare"
	"github.com/colorfulnotion/zkmut/fuzz"
	"github.com/colorfulnotion/zkmut/resolve"
	"github.com/colorfulnotion/zkmut/storage"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
)

func newDifferentialCmd() *cobra.Command {
	var (
		faultPath, failuresPath, cyclesPath, txnsPath string
		execPath, offset, strategy                    string
		harness, harnessArgs, workDir                 string
	)
	cmd := &cobra.Command{
		Use:   "differential",
		Short: "Replay injector faults through a prover harness and compare the failures of both schemes",
		Long: `Each fault is resolved against the preflight trace, run once through the
harness and its scheme-B constraint failures compared with --failures-a.
The harness reads the descriptor path from $A4_MUTATION_CONFIG and writes
its result JSON to $ZKMUT_RESULT.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			faults, err := trace.ReadJSONLFile[trace.FaultRecord](faultPath)
			if err != nil {
				return err
			}
			failuresA, err := trace.ReadJSONLFile[trace.ConstraintFailure](failuresPath)
			if err != nil {
				return err
			}
			ix, err := trace.LoadIndex(cyclesPath, txnsPath)
			if err != nil {
				return err
			}
			off, err := stepOffset(offset, execPath, ix)
			if err != nil {
				return err
			}
			strat, err := resolve.ParseRegStrategy(strategy)
			if err != nil {
				return err
			}
			if workDir == "" {
				if workDir, err = os.MkdirTemp("", "zkmut_differential"); err != nil {
					return err
				}
			}
			runner, err := fuzz.NewCommandRunner(harness, strings.Fields(harnessArgs), workDir)
			if err != nil {
				return err
			}
			cfg := fuzz.Config{Target: harness, Offset: off, RegStrategy: strat}
			return runDifferential(cmd.Context(), cmd.OutOrStdout(), ix, runner, cfg, faults, failuresA)
		},
	}
	cmd.Flags().StringVar(&faultPath, "fault", "", "Injector fault records (JSONL)")
	cmd.Flags().StringVar(&failuresPath, "failures-a", "", "Scheme-A constraint failures (JSONL)")
	cmd.Flags().StringVar(&cyclesPath, "cycles", "", "Preflight cycles (JSONL)")
	cmd.Flags().StringVar(&txnsPath, "txns", "", "Preflight transactions (JSONL)")
	cmd.Flags().StringVar(&execPath, "exec", "", "Injector execution log for offset estimation")
	cmd.Flags().StringVar(&offset, "offset", "", "Known step offset (overrides --exec)")
	cmd.Flags().StringVar(&strategy, "strategy", string(resolve.NextRead), "Register strategy (next_read, prev_write)")
	cmd.Flags().StringVar(&harness, "harness", "", "Prover harness binary")
	cmd.Flags().StringVar(&harnessArgs, "harness-args", "", "Space separated harness arguments")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Directory for descriptors and harness results (default a fresh temp dir)")
	for _, f := range []string{"fault", "failures-a", "cycles", "txns", "harness"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

// runDifferential runs every fault against the same scheme-A failures. The
// campaign only serves Differential, so its coverage store is in-memory.
func runDifferential(ctx context.Context, w io.Writer, ix *trace.Index, runner fuzz.Runner, cfg fuzz.Config,
	faults []trace.FaultRecord, failuresA []trace.ConstraintFailure) error {
	store, err := storage.NewMemoryCoverageStore()
	if err != nil {
		return err
	}
	defer store.Close()
	c, err := fuzz.NewCampaign(ix, store, runner, cfg)
	if err != nil {
		return err
	}

	verdicts := map[compare.Verdict]int{}
	for i := range faults {
		f := &faults[i]
		out, err := c.Differential(ctx, f, failuresA)
		if err != nil {
			return fmt.Errorf("fault %d: %w", i, err)
		}
		fmt.Fprintf(w, "[%d] %s\n", i, f)
		if out.Target != nil {
			fmt.Fprintf(w, "     target %s\n", out.Target)
		}
		if out.Result != nil && out.Result.VerifierAccepted {
			fmt.Fprintln(w, "     VERIFIER ACCEPTED the mutated proof")
		}
		fmt.Fprint(w, indent(out.Compare.Tree(), "     "))
		verdicts[out.Compare.Verdict()]++
	}

	names := make([]compare.Verdict, 0, len(verdicts))
	for v := range verdicts {
		names = append(names, v)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, v := range names {
		parts = append(parts, fmt.Sprintf("%s %d", v, verdicts[v]))
	}
	fmt.Fprintf(w, "%d faults: %s\n", len(faults), strings.Join(parts, ", "))
	return nil
}
