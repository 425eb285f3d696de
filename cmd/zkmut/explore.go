package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/zkmut/correlate"
	"github.com/colorfulnotion/zkmut/insn"
	"github.com/colorfulnotion/zkmut/resolve"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/dop251/goja"
	"github.com/spf13/cobra"
)

const exploreHelp = `commands:
  summary                      trace overview
  cycle <step>                 cycle executed at step
  step <step>                  cycle and transactions of step
  txns <step>                  transactions of step
  pc <pc>                      instruction cycles at pc
  decode <word>                decode an instruction word
  locate <step> <pc> [offset]  locate a fault
  targets <kind> <step>        natural mutation targets at step
  exit
anything else is evaluated as JavaScript with the same functions bound,
e.g. cycle(12).pc or txns(12).filter(t => t.addr > 0x100)`

func newExploreCmd() *cobra.Command {
	var cyclesPath, txnsPath string
	cmd := &cobra.Command{
		Use:   "explore",
		Short: "Interactive shell over a preflight trace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := openIndex(cyclesPath, txnsPath)
			if err != nil {
				return err
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:      "zkmut> ",
				HistoryFile: filepath.Join(os.TempDir(), "zkmut_explore_history.txt"),
			})
			if err != nil {
				return err
			}
			defer rl.Close()

			sh := newShell(ix, rl.Stdout())
			fmt.Fprintln(rl.Stdout(), ix.Summary())
			fmt.Fprintln(rl.Stdout(), "type 'help' for commands")
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						return nil
					}
					continue
				}
				if err != nil {
					return nil
				}
				line = strings.TrimSpace(line)
				if line == "exit" || line == "quit" {
					return nil
				}
				if err := sh.exec(line); err != nil {
					fmt.Fprintln(rl.Stdout(), "error:", err)
				}
			}
		},
	}
	cmd.Flags().StringVar(&cyclesPath, "cycles", "", "Preflight cycles (JSONL)")
	cmd.Flags().StringVar(&txnsPath, "txns", "", "Preflight transactions (JSONL)")
	cmd.MarkFlagRequired("cycles")
	return cmd
}

type shell struct {
	ix  *trace.Index
	res *resolve.Resolver
	vm  *goja.Runtime
	out io.Writer
}

func newShell(ix *trace.Index, out io.Writer) *shell {
	s := &shell{ix: ix, res: resolve.New(ix, resolve.Options{}), vm: goja.New(), out: out}
	s.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	s.vm.Set("summary", ix.Summary)
	s.vm.Set("cycle", func(step int64) *trace.CycleRecord {
		c, _ := ix.CycleByStep(uint64(step))
		return c
	})
	s.vm.Set("txns", func(step int64) []trace.Transaction {
		return ix.StepTxns(uint64(step))
	})
	s.vm.Set("pc", func(pc int64) []*trace.CycleRecord {
		return ix.InstructionCyclesAtPC(uint32(pc))
	})
	s.vm.Set("decode", func(word int64) string {
		return insn.Describe(uint32(word))
	})
	s.vm.Set("locate", func(step, pc int64, offset goja.Value) (*correlate.Location, error) {
		q := correlate.Query{FaultStep: uint64(step), FaultPC: uint32(pc)}
		if offset != nil && !goja.IsUndefined(offset) && !goja.IsNull(offset) {
			v := offset.ToInteger()
			q.Offset = &v
		}
		return correlate.Locate(ix, q)
	})
	s.vm.Set("targets", func(kind string, step int64) ([]string, error) {
		return s.targets(kind, uint64(step))
	})
	return s
}

func (s *shell) targets(kind string, step uint64) ([]string, error) {
	k, err := trace.ParseMutationKind(kind)
	if err != nil {
		return nil, err
	}
	ts, err := s.res.AtStep(k, step)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out, nil
}

func (s *shell) exec(line string) error {
	if line == "" {
		return nil
	}
	fields := strings.Fields(line)
	nums := func(n int) ([]uint64, error) {
		if len(fields)-1 < n {
			return nil, fmt.Errorf("%s: want %d argument(s)", fields[0], n)
		}
		out := make([]uint64, n)
		for i := range out {
			v, err := parseUint(fields[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fields[0], err)
			}
			out[i] = v
		}
		return out, nil
	}

	switch fields[0] {
	case "help":
		fmt.Fprintln(s.out, exploreHelp)
		return nil
	case "summary":
		fmt.Fprintln(s.out, s.ix.Summary())
		return nil
	case "cycle", "step", "txns":
		if len(fields) != 2 {
			break
		}
		a, err := nums(1)
		if err != nil {
			return err
		}
		if fields[0] != "txns" {
			c, ok := s.ix.CycleByStep(a[0])
			if !ok {
				return fmt.Errorf("no cycle at step %d", a[0])
			}
			fmt.Fprintln(s.out, c)
			if fields[0] == "cycle" {
				return nil
			}
		}
		for _, t := range s.ix.StepTxns(a[0]) {
			fmt.Fprintf(s.out, "  %s\n", &t)
		}
		return nil
	case "pc", "decode":
		if len(fields) != 2 {
			break
		}
		a, err := nums(1)
		if err != nil {
			return err
		}
		if fields[0] == "decode" {
			fmt.Fprintln(s.out, insn.Describe(uint32(a[0])))
			return nil
		}
		for _, c := range s.ix.InstructionCyclesAtPC(uint32(a[0])) {
			fmt.Fprintln(s.out, c)
		}
		return nil
	case "locate":
		if len(fields) != 3 && len(fields) != 4 {
			break
		}
		a, err := nums(2)
		if err != nil {
			return err
		}
		q := correlate.Query{FaultStep: a[0], FaultPC: uint32(a[1])}
		if len(fields) == 4 {
			off, err := stepOffset(fields[3], "", s.ix)
			if err != nil {
				return err
			}
			q.Offset = off
		}
		loc, err := correlate.Locate(s.ix, q)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, loc)
		return nil
	case "targets":
		if len(fields) != 3 {
			break
		}
		step, err := parseUint(fields[2], 64)
		if err != nil {
			return err
		}
		ts, err := s.targets(fields[1], step)
		if err != nil {
			return err
		}
		for _, t := range ts {
			fmt.Fprintln(s.out, t)
		}
		return nil
	}
	return s.eval(line)
}

func (s *shell) eval(src string) error {
	v, err := s.vm.RunString(src)
	if err != nil {
		return err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		fmt.Fprintln(s.out, v)
		return nil
	}
	switch x := v.Export().(type) {
	case fmt.Stringer:
		fmt.Fprintln(s.out, x)
	case string, int64, float64, bool:
		fmt.Fprintln(s.out, x)
	default:
		b, err := json.MarshalIndent(x, "", "  ")
		if err != nil {
			fmt.Fprintln(s.out, v.String())
			return nil
		}
		fmt.Fprintln(s.out, string(b))
	}
	return nil
}
