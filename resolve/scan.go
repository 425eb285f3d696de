package resolve

import (
	"github.com/colorfulnotion/zkmut/trace"
)

// Direction of a transaction scan.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Verdict is a predicate's decision on one transaction.
type Verdict int

const (
	Reject Verdict = iota
	Accept
	// Exempt: the transaction matches, but its owning cycle is not checked
	// by the constraints being targeted. The scan continues and remembers
	// the first exempt match.
	Exempt
)

// Predicate judges a transaction together with the cycle that issued it
// (nil when the transaction precedes every recorded cycle).
type Predicate func(t *trace.Transaction, owner *trace.CycleRecord) Verdict

// Window is a half-open range of positions in Index.Txns().
type Window struct {
	Start, End int
}

// StepWindow covers the transactions of one step; ok is false when the step
// issued none.
func StepWindow(ix *trace.Index, step uint64) (Window, bool) {
	s, e, ok := ix.StepWindow(step)
	return Window{Start: s, End: e}, ok
}

// From covers every transaction issued at or after step.
func From(ix *trace.Index, step uint64) Window {
	return Window{Start: ix.FirstPosAtOrAfter(step), End: len(ix.Txns())}
}

// Before covers every transaction issued before step.
func Before(ix *trace.Index, step uint64) Window {
	return Window{Start: 0, End: ix.FirstPosAtOrAfter(step)}
}

// Hit is a transaction found by a scan, with its owning cycle.
type Hit struct {
	Txn   *trace.Transaction
	Owner *trace.CycleRecord
}

// ScanResult holds the accepted transaction (if any) and the first exempt
// one encountered before it.
type ScanResult struct {
	Match  *Hit
	Exempt *Hit
}

// Scan walks the window in the given direction and stops at the first
// accepted transaction.
func Scan(ix *trace.Index, w Window, dir Direction, pred Predicate) ScanResult {
	txns := ix.Txns()
	if w.Start < 0 {
		w.Start = 0
	}
	if w.End > len(txns) {
		w.End = len(txns)
	}

	var res ScanResult
	visit := func(p int) bool {
		t, owner := &txns[p], ix.OwnerAt(p)
		switch pred(t, owner) {
		case Accept:
			res.Match = &Hit{Txn: t, Owner: owner}
			return true
		case Exempt:
			if res.Exempt == nil {
				res.Exempt = &Hit{Txn: t, Owner: owner}
			}
		}
		return false
	}

	if dir == Forward {
		for p := w.Start; p < w.End; p++ {
			if visit(p) {
				break
			}
		}
	} else {
		for p := w.End - 1; p >= w.Start; p-- {
			if visit(p) {
				break
			}
		}
	}
	return res
}

// RegisterWrite accepts writes into the register file issued by instruction
// cycles; writes from padding or accelerator cycles are exempt.
func RegisterWrite(t *trace.Transaction, owner *trace.CycleRecord) Verdict {
	if !t.IsWrite() || !t.IsRegister() {
		return Reject
	}
	return ownedByInstruction(owner)
}

// MemoryWrite is RegisterWrite for writes outside the register file.
func MemoryWrite(t *trace.Transaction, owner *trace.CycleRecord) Verdict {
	if !t.IsWrite() || t.IsRegister() {
		return Reject
	}
	return ownedByInstruction(owner)
}

func ownedByInstruction(owner *trace.CycleRecord) Verdict {
	if owner != nil && owner.IsInstruction() {
		return Accept
	}
	return Exempt
}

// InstructionReadOf accepts reads of addr issued by instruction cycles;
// reads from accelerator cycles are exempt.
func InstructionReadOf(addr uint32) Predicate {
	return func(t *trace.Transaction, owner *trace.CycleRecord) Verdict {
		if !t.IsRead() || t.Addr != addr || owner == nil {
			return Reject
		}
		if owner.IsInstruction() {
			return Accept
		}
		return Exempt
	}
}

// WriteOf accepts any write to addr issued by a recorded cycle.
func WriteOf(addr uint32) Predicate {
	return func(t *trace.Transaction, owner *trace.CycleRecord) Verdict {
		if owner != nil && t.IsWrite() && t.Addr == addr {
			return Accept
		}
		return Reject
	}
}
