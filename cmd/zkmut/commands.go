package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/colorfulnotion/zkmut/compare"
	"github.com/colorfulnotion/zkmut/correlate"
	"github.com/colorfulnotion/zkmut/insn"
	"github.com/colorfulnotion/zkmut/resolve"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/colorfulnotion/zkmut/zkerrors"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <word>...",
		Short: "Decode instruction words into opcode classes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, a := range args {
				w, err := parseUint(a, 32)
				if err != nil {
					return fmt.Errorf("word %q: %w", a, err)
				}
				fmt.Fprintln(out, insn.Describe(uint32(w)))
			}
			return nil
		},
	}
}

func newOffsetCmd() *cobra.Command {
	var execPath, cyclesPath, chartPath string
	cmd := &cobra.Command{
		Use:   "offset",
		Short: "Estimate the step drift between an injector trace and a preflight trace",
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := trace.ReadJSONLFile[trace.ExecRecord](execPath)
			if err != nil {
				return err
			}
			cycles, err := trace.ReadJSONLFile[trace.CycleRecord](cyclesPath)
			if err != nil {
				return err
			}
			est := correlate.EstimateOffset(exec, cycles)
			out := cmd.OutOrStdout()
			if !est.Found() {
				fmt.Fprintln(out, "offset 0 (no common pc)")
			} else {
				fmt.Fprintf(out, "offset %d (%d common pcs)\n", est.Offset, len(est.Samples))
			}
			if chartPath != "" {
				if err := correlate.RenderOffsetChartFile(chartPath, est); err != nil {
					return err
				}
				fmt.Fprintf(out, "chart written to %s\n", chartPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&execPath, "exec", "", "Injector execution log (JSONL of {step, pc})")
	cmd.Flags().StringVar(&cyclesPath, "cycles", "", "Preflight cycles (JSONL)")
	cmd.Flags().StringVar(&chartPath, "chart", "", "Write an HTML chart of per-pc offsets")
	cmd.MarkFlagRequired("exec")
	cmd.MarkFlagRequired("cycles")
	return cmd
}

func newLocateCmd() *cobra.Command {
	var (
		cyclesPath, txnsPath, execPath string
		step                           uint64
		pc, offset, class              string
	)
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Find the preflight step executing a faulted instruction",
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := openIndex(cyclesPath, txnsPath)
			if err != nil {
				return err
			}
			faultPC, err := parseUint(pc, 32)
			if err != nil {
				return fmt.Errorf("--pc: %w", err)
			}
			off, err := stepOffset(offset, execPath, ix)
			if err != nil {
				return err
			}
			cls, err := parseClass(class)
			if err != nil {
				return err
			}
			loc, err := correlate.Locate(ix, correlate.Query{FaultStep: step, FaultPC: uint32(faultPC), Offset: off, Class: cls})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", loc, loc.Cycle)
			return nil
		},
	}
	cmd.Flags().StringVar(&cyclesPath, "cycles", "", "Preflight cycles (JSONL)")
	cmd.Flags().StringVar(&txnsPath, "txns", "", "Preflight transactions (JSONL, optional)")
	cmd.Flags().StringVar(&execPath, "exec", "", "Injector execution log for offset estimation")
	cmd.Flags().Uint64Var(&step, "step", 0, "Fault step in the injector trace")
	cmd.Flags().StringVar(&pc, "pc", "", "Fault program counter")
	cmd.Flags().StringVar(&offset, "offset", "", "Known step offset (overrides --exec)")
	cmd.Flags().StringVar(&class, "class", "", "Restrict to opcode class major.minor")
	cmd.MarkFlagRequired("cycles")
	cmd.MarkFlagRequired("pc")
	return cmd
}

func newResolveCmd() *cobra.Command {
	var (
		faultPath, cyclesPath, txnsPath, execPath string
		offset, strategy, outPath, jsonlPath      string
		showDiff                                  bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Map injector faults to preflight mutation descriptors",
		RunE: func(cmd *cobra.Command, args []string) error {
			faults, err := trace.ReadJSONLFile[trace.FaultRecord](faultPath)
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
			r := resolve.New(ix, resolve.Options{Offset: off, Strategy: strat})

			var batch *trace.JSONLWriter
			if jsonlPath != "" {
				if batch, err = trace.CreateJSONL(jsonlPath); err != nil {
					return err
				}
				defer batch.Close()
			}

			out := cmd.OutOrStdout()
			resolved := 0
			skipped := map[string]int{}
			for i := range faults {
				f := &faults[i]
				t, err := r.Resolve(f)
				if err != nil {
					if !zkerrors.IsSkip(err) {
						return fmt.Errorf("fault %d: %w", i, err)
					}
					fmt.Fprintf(out, "[%d] SKIP %s %s: %s\n", i, f, zkerrors.GetErrorCodeWithName(err), zkerrors.GetErrorDesc(err))
					skipped[zkerrors.Category(err)]++
					continue
				}
				fmt.Fprintf(out, "[%d] %s\n     via %s\n", i, t, t.Location)
				if showDiff {
					d, err := t.Diff()
					if err != nil {
						return err
					}
					fmt.Fprint(out, indent(d, "     "))
				}
				if outPath != "" {
					path := outPath
					if len(faults) > 1 {
						path = numbered(outPath, i)
					}
					if err := t.Descriptor().WriteFile(path); err != nil {
						return err
					}
					fmt.Fprintf(out, "     wrote %s\n", path)
				}
				if batch != nil {
					if err := batch.Write(t.Descriptor()); err != nil {
						return err
					}
				}
				resolved++
			}
			fmt.Fprintf(out, "%d/%d faults resolved\n", resolved, len(faults))
			cats := make([]string, 0, len(skipped))
			for c := range skipped {
				cats = append(cats, c)
			}
			slices.Sort(cats)
			for _, c := range cats {
				fmt.Fprintf(out, "  skipped (%s): %d\n", c, skipped[c])
			}
			if batch != nil {
				if err := batch.Close(); err != nil {
					return err
				}
				fmt.Fprintf(out, "%d descriptors written to %s\n", batch.Count(), jsonlPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&faultPath, "fault", "", "Injector fault records (JSONL)")
	cmd.Flags().StringVar(&cyclesPath, "cycles", "", "Preflight cycles (JSONL)")
	cmd.Flags().StringVar(&txnsPath, "txns", "", "Preflight transactions (JSONL)")
	cmd.Flags().StringVar(&execPath, "exec", "", "Injector execution log for offset estimation")
	cmd.Flags().StringVar(&offset, "offset", "", "Known step offset (overrides --exec)")
	cmd.Flags().StringVar(&strategy, "strategy", string(resolve.NextRead), "Register strategy (next_read, prev_write)")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the mutation descriptor here (numbered per fault when several)")
	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", "Also write every resolved descriptor to one JSONL file")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "Print the edited record as a JSON diff")
	for _, f := range []string{"fault", "cycles", "txns"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newCompareCmd() *cobra.Command {
	var kind, aPath, bPath string
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare the constraint failures of the two schemes",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := trace.ParseMutationKind(kind)
			if err != nil {
				return err
			}
			a, err := trace.ReadJSONLFile[trace.ConstraintFailure](aPath)
			if err != nil {
				return err
			}
			b, err := trace.ReadJSONLFile[trace.ConstraintFailure](bPath)
			if err != nil {
				return err
			}
			res := compare.Compare(a, b, compare.ModeFor(k))
			fmt.Fprint(cmd.OutOrStdout(), res.Tree())
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Mutation kind of the fault")
	cmd.Flags().StringVar(&aPath, "a", "", "Scheme-A failures (JSONL)")
	cmd.Flags().StringVar(&bPath, "b", "", "Scheme-B failures (JSONL)")
	for _, f := range []string{"kind", "a", "b"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func numbered(path string, i int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s.%d%s", strings.TrimSuffix(path, ext), i, ext)
}

func indent(s, prefix string) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return prefix + strings.Join(lines, "\n"+prefix) + "\n"
}
