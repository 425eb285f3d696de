package fuzz

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/zkmut/insn"
	"github.com/colorfulnotion/zkmut/resolve"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/nsf/jsondiff"
)

// Rederive rebuilds a stored descriptor from the trace: the target at the
// descriptor's step is looked up again and the stored value reapplied.
// Drift between the two means the trace no longer matches the campaign.
func Rederive(ix *trace.Index, d *resolve.Descriptor) (*resolve.Descriptor, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	r := resolve.New(ix, resolve.Options{Strategy: d.Strategy})
	targets, err := r.AtStep(d.MutationType, d.Step)
	if err != nil {
		return nil, err
	}
	if d.MutationType == trace.KindInstrType {
		t := targets[0]
		t.NewClass = insn.Class{Major: *d.Major, Minor: *d.Minor}
		return t.Descriptor(), nil
	}
	for _, t := range targets {
		if t.Txn.TxnIdx == *d.TxnIdx {
			t.Replacement = *d.Word
			return t.Descriptor(), nil
		}
	}
	// the edited txn moved: report the first natural target instead
	t := targets[0]
	t.Replacement = *d.Word
	return t.Descriptor(), nil
}

// Drift compares two descriptors ignoring _info. The text is a console
// rendering of the differences.
func Drift(stored, derived *resolve.Descriptor) (jsondiff.Difference, string, error) {
	a, err := json.Marshal(stripInfo(stored))
	if err != nil {
		return jsondiff.NoMatch, "", err
	}
	b, err := json.Marshal(stripInfo(derived))
	if err != nil {
		return jsondiff.NoMatch, "", err
	}
	opts := jsondiff.DefaultConsoleOptions()
	diff, text := jsondiff.Compare(a, b, &opts)
	if diff == jsondiff.FirstArgIsInvalidJson || diff == jsondiff.SecondArgIsInvalidJson || diff == jsondiff.BothArgsAreInvalidJson {
		return diff, text, fmt.Errorf("descriptor diff: %s", diff)
	}
	return diff, text, nil
}

func stripInfo(d *resolve.Descriptor) *resolve.Descriptor {
	c := *d
	c.Info = nil
	return &c
}
