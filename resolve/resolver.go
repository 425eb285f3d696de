package resolve

import (
	"fmt"

	"github.com/colorfulnotion/zkmut/correlate"
	"github.com/colorfulnotion/zkmut/insn"
	"github.com/colorfulnotion/zkmut/log"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/colorfulnotion/zkmut/zkerrors"
)

// Options tune fault-driven resolution.
type Options struct {
	// Offset is the estimated step drift between the injector and preflight
	// traces; nil falls back to the step-bound heuristic.
	Offset *int64
	// Strategy for pre-execution register faults; empty means NextRead.
	Strategy RegStrategy
}

// Resolver maps injector faults onto concrete edits of one preflight trace.
// It only reads the index and is safe for concurrent use.
type Resolver struct {
	ix   *trace.Index
	opts Options
}

func New(ix *trace.Index, opts Options) *Resolver {
	if opts.Strategy == "" {
		opts.Strategy = NextRead
	}
	return &Resolver{ix: ix, opts: opts}
}

func (r *Resolver) Index() *trace.Index { return r.ix }

// Resolve finds the target for a fault. Skips are returned as errors wrapping
// a zkerrors sentinel with the reason attached.
func (r *Resolver) Resolve(f *trace.FaultRecord) (*Target, error) {
	var (
		t   *Target
		err error
	)
	switch f.Kind {
	case trace.KindInstrType:
		t, err = r.resolveInstrType(f)
	case trace.KindCompOut, trace.KindLoadVal, trace.KindStoreOut:
		t, err = r.resolveOutput(f)
	case trace.KindPreExecReg:
		t, err = r.resolvePreExecReg(f)
	default:
		err = fmt.Errorf("%w: %q", zkerrors.ErrKUnknownMutationKind, f.Kind)
	}
	if err != nil {
		log.Debug(log.ResolveModule, "fault not resolved", "fault", f.String(), "err", err)
		return nil, err
	}
	log.Debug(log.ResolveModule, "fault resolved", "fault", f.String(), "target", t.String())
	return t, nil
}

func (r *Resolver) locate(f *trace.FaultRecord, class *insn.Class) (*correlate.Location, error) {
	return correlate.Locate(r.ix, correlate.Query{
		FaultStep: f.Step,
		FaultPC:   f.PC,
		Offset:    r.opts.Offset,
		Class:     class,
	})
}

// The injector swapped the instruction word; the preflight equivalent is to
// overwrite the cycle's class with the class of the mutated word.
func (r *Resolver) resolveInstrType(f *trace.FaultRecord) (*Target, error) {
	orig, ok := insn.Decode(f.Original)
	if !ok {
		return nil, fmt.Errorf("%w: original word 0x%08x", zkerrors.ErrDInvalidInstruction, f.Original)
	}
	mutated, ok := insn.Decode(f.Mutated)
	if !ok {
		return nil, fmt.Errorf("%w: mutated word 0x%08x", zkerrors.ErrDInvalidInstruction, f.Mutated)
	}
	loc, err := r.locate(f, &orig)
	if err != nil {
		return nil, err
	}
	return &Target{
		Kind:          trace.KindInstrType,
		Step:          loc.Step,
		Cycle:         loc.Cycle,
		Register:      -1,
		NewClass:      mutated,
		InjectionStep: loc.Step,
		Location:      loc,
	}, nil
}

// Compute and load outputs land in the destination register; store outputs
// land in memory. The last such write of the step issued by the instruction
// cycle is the instruction's own; padding cycles sharing the step are passed
// over.
func (r *Resolver) resolveOutput(f *trace.FaultRecord) (*Target, error) {
	loc, err := r.locate(f, nil)
	if err != nil {
		return nil, err
	}
	t, err := r.outputAt(f.Kind, loc.Step, f.Mutated)
	if err != nil {
		return nil, err
	}
	t.Location = loc
	return t, nil
}

func (r *Resolver) outputAt(kind trace.MutationKind, step uint64, value uint32) (*Target, error) {
	pred, what := RegisterWrite, "register write"
	if kind == trace.KindStoreOut {
		pred, what = MemoryWrite, "memory write"
	}
	w, ok := StepWindow(r.ix, step)
	if !ok {
		return nil, fmt.Errorf("%w: step %d issued no transactions", zkerrors.ErrTTargetNeverTouched, step)
	}
	res := Scan(r.ix, w, Backward, pred)
	if res.Match == nil {
		if res.Exempt != nil && res.Exempt.Owner != nil {
			return nil, fmt.Errorf("%w: step %d: %s issued only by %s (non-instruction cycle)",
				zkerrors.ErrTTargetExemptCycle, step, what, insn.MajorName(res.Exempt.Owner.Major))
		}
		return nil, fmt.Errorf("%w: no %s in step %d", zkerrors.ErrTTargetNeverTouched, what, step)
	}
	t := newTxnTarget(kind, res.Match, value)
	t.InjectionStep = step
	return t, nil
}

// A corrupted register before execution is replayed on the register's next
// instruction-cycle read (or its previous write), which is where the memory
// consistency constraints can observe it.
func (r *Resolver) resolvePreExecReg(f *trace.FaultRecord) (*Target, error) {
	reg, err := trace.RegisterIndex(f.Register)
	if err != nil {
		return nil, err
	}
	loc, err := r.locate(f, nil)
	if err != nil {
		return nil, err
	}
	t, err := r.registerTarget(reg, loc.Step, r.opts.Strategy, f.Mutated)
	if err != nil {
		return nil, err
	}
	t.Location = loc
	return t, nil
}

func (r *Resolver) registerTarget(reg int, injection uint64, strategy RegStrategy, value uint32) (*Target, error) {
	addr := trace.RegisterAddr(reg)
	name := trace.RegisterName(reg)

	var res ScanResult
	switch strategy {
	case NextRead:
		res = Scan(r.ix, From(r.ix, injection), Forward, InstructionReadOf(addr))
		if res.Match == nil {
			if res.Exempt != nil {
				return nil, fmt.Errorf("%w: %s: register READ found at step %d but it's during %s (non-instruction cycle); IsRead constraints not checked during special operations",
					zkerrors.ErrTTargetExemptCycle, name, res.Exempt.Owner.Step, insn.MajorName(res.Exempt.Owner.Major))
			}
			return nil, fmt.Errorf("%w: %s: register not read during any instruction execution after injection point", zkerrors.ErrTTargetNeverTouched, name)
		}
	case PrevWrite:
		res = Scan(r.ix, Before(r.ix, injection), Backward, WriteOf(addr))
		if res.Match == nil {
			return nil, fmt.Errorf("%w: %s: register not written before injection point", zkerrors.ErrTTargetNeverTouched, name)
		}
	default:
		return nil, fmt.Errorf("%w: %q", zkerrors.ErrKUnknownStrategy, strategy)
	}

	t := newTxnTarget(trace.KindPreExecReg, res.Match, value)
	t.Strategy = strategy
	t.InjectionStep = injection
	return t, nil
}
