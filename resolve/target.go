package resolve

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/colorfulnotion/zkmut/correlate"
	"github.com/colorfulnotion/zkmut/insn"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/colorfulnotion/zkmut/zkerrors"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// RegStrategy selects which transaction a pre-execution register fault is
// replayed on.
type RegStrategy string

const (
	// NextRead edits the first instruction-cycle read of the register at or
	// after the injection step.
	NextRead RegStrategy = "next_read"
	// PrevWrite edits the last write of the register before the injection step.
	PrevWrite RegStrategy = "prev_write"
)

func ParseRegStrategy(s string) (RegStrategy, error) {
	switch RegStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case NextRead, "":
		return NextRead, nil
	case PrevWrite:
		return PrevWrite, nil
	}
	return "", fmt.Errorf("%w: %q", zkerrors.ErrKUnknownStrategy, s)
}

// Target is one concrete edit to apply to the preflight trace.
type Target struct {
	Kind trace.MutationKind
	// Step of the edited record.
	Step  uint64
	Cycle *trace.CycleRecord
	// Txn is the edited transaction; nil for instruction-type targets.
	Txn *trace.Transaction
	// Register index of Txn, -1 when Txn is a memory access or absent.
	Register    int
	Replacement uint32
	// NewClass replaces the cycle's class for instruction-type targets.
	NewClass insn.Class

	Strategy      RegStrategy
	InjectionStep uint64
	// Location is how the fault was mapped; nil for standalone targets.
	Location *correlate.Location
}

func newTxnTarget(kind trace.MutationKind, hit *Hit, replacement uint32) *Target {
	t := &Target{
		Kind:        kind,
		Step:        hit.Owner.Step,
		Cycle:       hit.Owner,
		Txn:         hit.Txn,
		Register:    -1,
		Replacement: replacement,
	}
	if r, ok := hit.Txn.Register(); ok {
		t.Register = r
	}
	return t
}

// Original returns the value the edit replaces; for instruction-type targets
// that is the cycle's packed class.
func (t *Target) Original() uint32 {
	if t.Txn != nil {
		return t.Txn.Word
	}
	return t.Cycle.Class().Packed()
}

func (t *Target) String() string {
	if t.Txn == nil {
		return fmt.Sprintf("%s step %d cycle %d %s -> %s", t.Kind, t.Step, t.Cycle.CycleIdx, t.Cycle.Class(), t.NewClass)
	}
	where := fmt.Sprintf("0x%08x", t.Txn.Addr)
	if t.Register >= 0 {
		where = trace.RegisterName(t.Register)
	}
	return fmt.Sprintf("%s step %d txn %d %s %s 0x%08x -> 0x%08x", t.Kind, t.Step, t.Txn.TxnIdx, t.Txn.Op(), where, t.Txn.Word, t.Replacement)
}

// Mutated returns the edited record: a Transaction with the replacement word,
// or a CycleRecord with the new class.
func (t *Target) Mutated() any {
	if t.Txn == nil {
		c := *t.Cycle
		c.Major, c.Minor = t.NewClass.Major, t.NewClass.Minor
		return &c
	}
	txn := *t.Txn
	txn.Word = t.Replacement
	return &txn
}

func (t *Target) originalRecord() any {
	if t.Txn == nil {
		return t.Cycle
	}
	return t.Txn
}

// Diff renders the edit as an ASCII JSON diff of the record.
func (t *Target) Diff() (string, error) {
	before, err := json.Marshal(t.originalRecord())
	if err != nil {
		return "", err
	}
	after, err := json.Marshal(t.Mutated())
	if err != nil {
		return "", err
	}
	diff, err := gojsondiff.New().Compare(before, after)
	if err != nil {
		return "", err
	}
	if !diff.Modified() {
		return "", nil
	}
	var left map[string]interface{}
	if err := json.Unmarshal(before, &left); err != nil {
		return "", err
	}
	f := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true, Coloring: false})
	return f.Format(diff)
}

// Descriptor is the JSON document the external runner consumes.
func (t *Target) Descriptor() *Descriptor {
	d := &Descriptor{
		MutationType: t.Kind,
		Step:         t.Step,
		Info:         map[string]any{"cycle_idx": t.Cycle.CycleIdx, "pc": fmt.Sprintf("0x%08x", t.Cycle.PC)},
	}
	if t.Txn == nil {
		major, minor := t.NewClass.Major, t.NewClass.Minor
		d.Major, d.Minor = &major, &minor
		d.Info["original_class"] = t.Cycle.Class().String()
		d.Info["mutated_class"] = t.NewClass.String()
	} else {
		idx, word := t.Txn.TxnIdx, t.Replacement
		d.TxnIdx, d.Word = &idx, &word
		d.Info["original_value"] = t.Txn.Word
		if t.Register >= 0 {
			d.Info["register"] = trace.RegisterName(t.Register)
			d.Info["register_idx"] = t.Register
		} else {
			d.Info["memory_addr"] = fmt.Sprintf("0x%08x", t.Txn.Addr*4)
		}
	}
	if t.Kind == trace.KindPreExecReg {
		d.Strategy = t.Strategy
		d.Info["injection_step"] = t.InjectionStep
		d.Info["prev_word"] = t.Txn.PrevWord
		d.Info["is_write_target"] = t.Txn.IsWrite()
	}
	if t.Location != nil {
		d.Info["locate_strategy"] = t.Location.Strategy.String()
		d.Info["candidates"] = t.Location.Candidates
	}
	return d
}
