package fuzz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/colorfulnotion/zkmut/compare"
	"github.com/colorfulnotion/zkmut/log"
	"github.com/colorfulnotion/zkmut/resolve"
	"github.com/colorfulnotion/zkmut/storage"
	"github.com/colorfulnotion/zkmut/trace"
	"github.com/colorfulnotion/zkmut/zkerrors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/rand"
)

const tracerName = "zkmut/fuzz"

// KindAll draws a kind uniformly per mutation.
const KindAll = "all"

type Config struct {
	// Target and Args identify the guest program in the campaign record.
	Target string
	Args   []string
	// Kind is a mutation kind or KindAll.
	Kind        string
	Selector    SelectorStrategy
	Values      ValueStrategy
	RegStrategy resolve.RegStrategy
	// Offset between the scheme-A injector trace and the preflight trace,
	// used by Differential.
	Offset *int64
	Seed   uint64
	// AllowDuplicates runs descriptors whose fingerprint is already stored.
	AllowDuplicates bool
}

func (c *Config) SetDefaults() {
	if c.Kind == "" {
		c.Kind = KindAll
	}
	if c.Selector == "" {
		c.Selector = SelectRandom
	}
	if c.Values == "" {
		c.Values = ValueMixed
	}
	if c.RegStrategy == "" {
		c.RegStrategy = resolve.NextRead
	}
	if c.Seed == 0 {
		c.Seed = uint64(time.Now().UnixNano())
	}
}

// Outcome is one executed (or skipped) mutation.
type Outcome struct {
	Kind        trace.MutationKind
	Step        uint64
	Target      *resolve.Target
	Descriptor  *resolve.Descriptor
	Result      *RunResult
	MutationID  uint64
	NewCoverage int
	Sites       []string
	Duplicate   bool
	// SkipReason is set when no descriptor was run.
	SkipReason string
}

// Campaign mutates one preflight trace repeatedly and tracks which
// constraint sites the prover reports.
type Campaign struct {
	cfg      Config
	ix       *trace.Index
	res      *resolve.Resolver
	store    *storage.CoverageStore
	runner   Runner
	rng      *rand.Rand
	selector StepSelector
	values   *ValueGenerator
	kinds    []trace.MutationKind
	tracer   oteltrace.Tracer
	id       uint64
}

func NewCampaign(ix *trace.Index, store *storage.CoverageStore, runner Runner, cfg Config) (*Campaign, error) {
	cfg.SetDefaults()
	kinds := trace.MutationKinds()
	if !strings.EqualFold(cfg.Kind, KindAll) {
		k, err := trace.ParseMutationKind(cfg.Kind)
		if err != nil {
			return nil, err
		}
		kinds = []trace.MutationKind{k}
		cfg.Kind = string(k)
	} else {
		cfg.Kind = KindAll
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	selector, err := NewStepSelector(cfg.Selector, rng)
	if err != nil {
		return nil, err
	}
	if _, err := ParseValueStrategy(string(cfg.Values)); err != nil {
		return nil, err
	}
	return &Campaign{
		cfg:      cfg,
		ix:       ix,
		res:      resolve.New(ix, resolve.Options{Offset: cfg.Offset, Strategy: cfg.RegStrategy}),
		store:    store,
		runner:   runner,
		rng:      rng,
		selector: selector,
		values:   NewValueGenerator(cfg.Values, rng),
		kinds:    kinds,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

func (c *Campaign) Config() Config { return c.cfg }

// ID is the stored campaign id, 0 before Run.
func (c *Campaign) ID() uint64 { return c.id }

// Run attempts n mutations. Attempts without a target are counted as skipped.
// The loop stops early only on context cancellation or a store error.
func (c *Campaign) Run(ctx context.Context, n int) (*Stats, error) {
	ctx, span := c.tracer.Start(ctx, "fuzz.Campaign.Run",
		oteltrace.WithAttributes(
			attribute.String("kind", c.cfg.Kind),
			attribute.String("selector", string(c.cfg.Selector)),
			attribute.String("values", string(c.cfg.Values)),
			attribute.Int64("seed", int64(c.cfg.Seed)),
			attribute.Int("mutations", n),
		),
	)
	defer span.End()

	id, err := c.store.StartCampaign(c.cfg.Target, c.cfg.Args, c.cfg.Kind, c.cfg.Seed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start campaign failed")
		return nil, err
	}
	c.id = id
	log.Info(log.FuzzModule, "campaign started", "id", id, "kind", c.cfg.Kind, "mutations", n, "seed", c.cfg.Seed)

	stats := NewStats()
	start := time.Now()
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			stats.Elapsed = time.Since(start)
			return stats, err
		}
		stats.Attempts++
		o, err := c.Mutate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				stats.Elapsed = time.Since(start)
				return stats, ctx.Err()
			}
			var runErr *RunError
			if errors.As(err, &runErr) {
				stats.RunErrors++
				log.Warn(log.FuzzModule, "mutation run failed", "n", i, "err", err)
				continue
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "mutation failed")
			stats.Elapsed = time.Since(start)
			return stats, err
		}
		switch {
		case o.SkipReason != "":
			stats.Skipped++
			log.Debug(log.FuzzModule, "mutation skipped", "n", i, "kind", o.Kind, "step", o.Step, "reason", o.SkipReason)
		case o.Duplicate:
			stats.Duplicates++
			log.Debug(log.FuzzModule, "duplicate mutation", "n", i, "kind", o.Kind, "step", o.Step)
		default:
			stats.record(o)
			log.Debug(log.FuzzModule, "mutation", "n", i, "target", o.Target, "failures", len(o.Result.Failures),
				"newCoverage", o.NewCoverage, "accepted", o.Result.VerifierAccepted)
			if o.Result.VerifierAccepted {
				log.Warn(log.FuzzModule, "verifier accepted mutated proof", "mutation", o.MutationID, "target", o.Target)
			}
		}
	}
	stats.Elapsed = time.Since(start)

	if err := c.store.EndCampaign(id); err != nil {
		return stats, err
	}
	span.SetAttributes(
		attribute.Int("executed", stats.Mutations),
		attribute.Int("detected", stats.Detected),
		attribute.Int("verifier_accepts", stats.VerifierAccepts),
		attribute.Int("unique_sites", len(stats.Sites)),
	)
	log.Info(log.FuzzModule, "campaign finished", "id", id, "executed", stats.Mutations, "skipped", stats.Skipped,
		"detected", stats.Detected, "accepts", stats.VerifierAccepts, "sites", len(stats.Sites), "elapsed", stats.Elapsed)
	return stats, nil
}

// RunError wraps a runner failure; the campaign records it and moves on.
type RunError struct {
	Descriptor *resolve.Descriptor
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s step %d: %v", e.Descriptor.MutationType, e.Descriptor.Step, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Mutate plans, runs and records one mutation. Run must have started the
// campaign.
func (c *Campaign) Mutate(ctx context.Context) (*Outcome, error) {
	kind := c.kinds[c.rng.Intn(len(c.kinds))]
	o := &Outcome{Kind: kind}

	step, ok := c.selector.Select(c.ix, kind)
	if !ok {
		o.SkipReason = fmt.Sprintf("no valid step for %s", kind)
		return o, nil
	}
	o.Step = step

	targets, err := c.res.AtStep(kind, step)
	if err != nil {
		if zkerrors.IsSkip(err) {
			o.SkipReason = err.Error()
			return o, nil
		}
		return nil, err
	}
	t := targets[c.rng.Intn(len(targets))]
	value := c.fill(t)
	o.Target = t
	o.Descriptor = t.Descriptor()

	fp := o.Descriptor.Fingerprint()
	if !c.cfg.AllowDuplicates {
		seen, err := c.store.Seen(fp)
		if err != nil {
			return nil, err
		}
		if seen {
			o.Duplicate = true
			return o, nil
		}
	}

	ctx, span := c.tracer.Start(ctx, "fuzz.Campaign.Mutate",
		oteltrace.WithAttributes(
			attribute.String("kind", string(kind)),
			attribute.Int64("step", int64(step)),
			attribute.String("fingerprint", fp),
		),
	)
	defer span.End()

	res, err := c.runner.Run(ctx, o.Descriptor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "runner failed")
		return nil, &RunError{Descriptor: o.Descriptor, Err: err}
	}
	o.Result = res

	config, err := json.Marshal(o.Descriptor)
	if err != nil {
		return nil, err
	}
	mid, err := c.store.RecordMutation(&storage.MutationRecord{
		CampaignID:       c.id,
		Kind:             kind,
		Step:             t.Step,
		TxnIdx:           o.Descriptor.TxnIdx,
		Value:            value,
		Config:           config,
		Fingerprint:      fp,
		VerifierAccepted: res.VerifierAccepted,
		GuestCrashed:     res.GuestCrashed(),
	})
	if err != nil {
		return nil, err
	}
	o.MutationID = mid
	if _, o.NewCoverage, err = c.store.RecordFailures(mid, res.Failures); err != nil {
		return nil, err
	}
	for i := range res.Failures {
		o.Sites = append(o.Sites, compare.ShortLoc(res.Failures[i].Loc))
	}
	if obs, ok := c.selector.(Observer); ok {
		obs.Observe(step, o.NewCoverage)
	}
	span.SetAttributes(
		attribute.Int("failures", len(res.Failures)),
		attribute.Int("new_coverage", o.NewCoverage),
		attribute.Bool("verifier_accepted", res.VerifierAccepted),
	)
	return o, nil
}

// fill sets the mutated value on t and returns it in the form stored with
// the mutation record. Instruction-type values are packed classes.
func (c *Campaign) fill(t *resolve.Target) uint32 {
	if t.Kind == trace.KindInstrType {
		t.NewClass = MutateClass(t.Cycle.Class(), c.rng)
		return t.NewClass.Packed()
	}
	t.Replacement = c.values.Generate(t.Original(), t.Cycle.Class())
	return t.Replacement
}

// DiffOutcome is the result of replaying one injector fault on the preflight
// trace.
type DiffOutcome struct {
	Target  *resolve.Target
	Result  *RunResult
	Compare *compare.Result
}

// Differential resolves a scheme-A fault against the campaign trace, runs the
// resulting descriptor and compares the scheme-B failures with failuresA.
// Faults that cannot be mapped yield a skipped comparison, not an error.
func (c *Campaign) Differential(ctx context.Context, fault *trace.FaultRecord, failuresA []trace.ConstraintFailure) (*DiffOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "fuzz.Campaign.Differential",
		oteltrace.WithAttributes(
			attribute.String("kind", string(fault.Kind)),
			attribute.Int64("fault_step", int64(fault.Step)),
			attribute.Int64("fault_pc", int64(fault.PC)),
		),
	)
	defer span.End()

	t, err := c.res.Resolve(fault)
	if err != nil {
		if zkerrors.IsSkip(err) {
			log.Info(log.CompareModule, "fault skipped", "kind", fault.Kind, "step", fault.Step, "reason", err)
			span.SetAttributes(attribute.String("skip_reason", err.Error()))
			return &DiffOutcome{Compare: compare.Skipped(err.Error())}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return nil, err
	}
	res, err := c.runner.Run(ctx, t.Descriptor())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "runner failed")
		return nil, &RunError{Descriptor: t.Descriptor(), Err: err}
	}
	cmp := compare.Compare(failuresA, res.Failures, compare.ModeFor(fault.Kind))
	span.SetAttributes(
		attribute.String("verdict", string(cmp.Verdict())),
		attribute.Int("common", len(cmp.Common)),
	)
	log.Debug(log.CompareModule, "differential", "target", t, "verdict", cmp.Verdict(),
		"common", len(cmp.Common), "aOnly", len(cmp.AOnly), "bOnly", len(cmp.BOnly))
	return &DiffOutcome{Target: t, Result: res, Compare: cmp}, nil
}
