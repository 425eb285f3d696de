package resolve

import (
	"fmt"

	"github.com/colorfulnotion/zkmut/trace"
	"github.com/colorfulnotion/zkmut/zkerrors"
)

// AtStep lists the natural targets of kind at step without a fault to map
// from. Values are left zero for the caller to fill: Replacement for
// transaction targets, NewClass for instruction-type targets.
// Register targets follow the resolver's strategy: reads of the step for
// NextRead, writes of the step for PrevWrite.
func (r *Resolver) AtStep(kind trace.MutationKind, step uint64) ([]*Target, error) {
	cycle, ok := r.ix.CycleByStep(step)
	if !ok {
		return nil, fmt.Errorf("%w: step %d", zkerrors.ErrTCycleNotFound, step)
	}
	if !trace.KindAcceptsClass(kind, cycle.Class()) {
		return nil, fmt.Errorf("%w: %s at step %d is %s", zkerrors.ErrKKindStepMismatch, kind, step, cycle.Class())
	}

	switch kind {
	case trace.KindInstrType:
		return []*Target{{
			Kind:          kind,
			Step:          step,
			Cycle:         cycle,
			Register:      -1,
			NewClass:      cycle.Class(),
			InjectionStep: step,
		}}, nil
	case trace.KindCompOut, trace.KindLoadVal, trace.KindStoreOut:
		t, err := r.outputAt(kind, step, 0)
		if err != nil {
			return nil, err
		}
		return []*Target{t}, nil
	case trace.KindPreExecReg:
		return r.registerTargetsAt(step)
	}
	return nil, fmt.Errorf("%w: %q", zkerrors.ErrKUnknownMutationKind, kind)
}

func (r *Resolver) registerTargetsAt(step uint64) ([]*Target, error) {
	w, ok := StepWindow(r.ix, step)
	if !ok {
		return nil, fmt.Errorf("%w: step %d issued no transactions", zkerrors.ErrTTargetNeverTouched, step)
	}
	wantWrite := r.opts.Strategy == PrevWrite
	txns := r.ix.Txns()

	var out []*Target
	for p := w.Start; p < w.End; p++ {
		t, owner := &txns[p], r.ix.OwnerAt(p)
		if !t.IsRegister() || t.IsWrite() != wantWrite || owner == nil || !owner.IsInstruction() {
			continue
		}
		target := newTxnTarget(trace.KindPreExecReg, &Hit{Txn: t, Owner: owner}, 0)
		target.Strategy = r.opts.Strategy
		target.InjectionStep = step
		out = append(out, target)
	}
	if len(out) == 0 {
		op := trace.OpRead
		if wantWrite {
			op = trace.OpWrite
		}
		return nil, fmt.Errorf("%w: no register %s in step %d", zkerrors.ErrTTargetNeverTouched, op, step)
	}
	return out, nil
}
