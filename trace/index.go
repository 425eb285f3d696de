package trace

import (
	"fmt"
	"sort"

	"github.com/colorfulnotion/zkmut/insn"
	"github.com/xlab/treeprint"
)

type span struct{ start, end int }

// Index is a read-only view of one preflight trace with the lookup tables
// every resolver needs. It is built once and safe for concurrent reads.
type Index struct {
	cycles []CycleRecord
	txns   []Transaction

	cyclePos  map[uint64]int
	txnPos    map[uint64]int
	owner     []int // txn position -> cycle position, -1 when unowned
	stepCycle map[uint64]int
	stepSpan  map[uint64]span
	pcCycles  map[uint32][]int
	steps     []uint64
	valid     map[MutationKind][]uint64
}

// NewIndex sorts the records (cycles by index, transactions by index) and
// builds the lookup tables. Cycles must carry non-decreasing steps and first
// transaction indices.
func NewIndex(cycles []CycleRecord, txns []Transaction) (*Index, error) {
	ix := &Index{
		cycles:    append([]CycleRecord(nil), cycles...),
		txns:      append([]Transaction(nil), txns...),
		cyclePos:  make(map[uint64]int, len(cycles)),
		txnPos:    make(map[uint64]int, len(txns)),
		stepCycle: make(map[uint64]int),
		stepSpan:  make(map[uint64]span),
		pcCycles:  make(map[uint32][]int),
	}
	sort.SliceStable(ix.cycles, func(i, j int) bool { return ix.cycles[i].CycleIdx < ix.cycles[j].CycleIdx })
	sort.SliceStable(ix.txns, func(i, j int) bool { return ix.txns[i].TxnIdx < ix.txns[j].TxnIdx })

	for i := range ix.cycles {
		c := &ix.cycles[i]
		if i > 0 {
			prev := &ix.cycles[i-1]
			if c.CycleIdx == prev.CycleIdx {
				return nil, fmt.Errorf("duplicate cycle %d", c.CycleIdx)
			}
			if c.Step < prev.Step {
				return nil, fmt.Errorf("cycle %d step %d precedes step %d of cycle %d", c.CycleIdx, c.Step, prev.Step, prev.CycleIdx)
			}
			if c.TxnIdx < prev.TxnIdx {
				return nil, fmt.Errorf("cycle %d txn_idx %d precedes txn_idx %d of cycle %d", c.CycleIdx, c.TxnIdx, prev.TxnIdx, prev.CycleIdx)
			}
		}
		ix.cyclePos[c.CycleIdx] = i

		if cur, ok := ix.stepCycle[c.Step]; !ok {
			ix.stepCycle[c.Step] = i
			ix.steps = append(ix.steps, c.Step)
		} else if !ix.cycles[cur].IsInstruction() && c.IsInstruction() {
			ix.stepCycle[c.Step] = i
		}
		if c.IsInstruction() {
			ix.pcCycles[c.PC] = append(ix.pcCycles[c.PC], i)
		}
	}

	ix.owner = make([]int, len(ix.txns))
	for p := range ix.txns {
		t := &ix.txns[p]
		ix.txnPos[t.TxnIdx] = p
		// last cycle whose first transaction is at or before this one
		o := sort.Search(len(ix.cycles), func(i int) bool { return ix.cycles[i].TxnIdx > t.TxnIdx }) - 1
		ix.owner[p] = o
		if o < 0 {
			continue
		}
		step := ix.cycles[o].Step
		if s, ok := ix.stepSpan[step]; ok {
			s.end = p + 1
			ix.stepSpan[step] = s
		} else {
			ix.stepSpan[step] = span{start: p, end: p + 1}
		}
	}

	ix.valid = make(map[MutationKind][]uint64)
	for _, s := range ix.steps {
		c := &ix.cycles[ix.stepCycle[s]]
		for _, k := range MutationKinds() {
			if KindAcceptsClass(k, c.Class()) {
				ix.valid[k] = append(ix.valid[k], s)
			}
		}
	}
	return ix, nil
}

// LoadIndex reads cycles and transactions from JSON Lines files.
func LoadIndex(cyclesPath, txnsPath string) (*Index, error) {
	cycles, err := ReadJSONLFile[CycleRecord](cyclesPath)
	if err != nil {
		return nil, err
	}
	var txns []Transaction
	if txnsPath != "" {
		if txns, err = ReadJSONLFile[Transaction](txnsPath); err != nil {
			return nil, err
		}
	}
	return NewIndex(cycles, txns)
}

// Cycles returns the cycles in index order. Callers must not modify them.
func (ix *Index) Cycles() []CycleRecord { return ix.cycles }

// Txns returns the transactions in index order. Callers must not modify them.
func (ix *Index) Txns() []Transaction { return ix.txns }

// Steps returns the distinct steps in ascending order.
func (ix *Index) Steps() []uint64 { return ix.steps }

// CycleByStep returns the cycle representing step: the instruction cycle
// when one exists, otherwise the first cycle recorded for the step.
func (ix *Index) CycleByStep(step uint64) (*CycleRecord, bool) {
	p, ok := ix.stepCycle[step]
	if !ok {
		return nil, false
	}
	return &ix.cycles[p], true
}

func (ix *Index) CycleByIdx(cycleIdx uint64) (*CycleRecord, bool) {
	p, ok := ix.cyclePos[cycleIdx]
	if !ok {
		return nil, false
	}
	return &ix.cycles[p], true
}

func (ix *Index) TxnByIdx(txnIdx uint64) (*Transaction, bool) {
	p, ok := ix.txnPos[txnIdx]
	if !ok {
		return nil, false
	}
	return &ix.txns[p], true
}

// OwnerAt returns the cycle owning the transaction at position pos of Txns().
func (ix *Index) OwnerAt(pos int) *CycleRecord {
	if pos < 0 || pos >= len(ix.owner) || ix.owner[pos] < 0 {
		return nil
	}
	return &ix.cycles[ix.owner[pos]]
}

// Owner returns the cycle that issued transaction txnIdx.
func (ix *Index) Owner(txnIdx uint64) *CycleRecord {
	p, ok := ix.txnPos[txnIdx]
	if !ok {
		return nil
	}
	return ix.OwnerAt(p)
}

// StepWindow returns the half-open range of Txns() positions issued during
// step.
func (ix *Index) StepWindow(step uint64) (start, end int, ok bool) {
	s, ok := ix.stepSpan[step]
	return s.start, s.end, ok
}

// FirstPosAtOrAfter returns the first Txns() position whose owner step is
// >= step, or len(Txns()) when there is none.
func (ix *Index) FirstPosAtOrAfter(step uint64) int {
	return sort.Search(len(ix.txns), func(p int) bool {
		o := ix.OwnerAt(p)
		return o != nil && o.Step >= step
	})
}

// StepTxns returns the transactions issued during step.
func (ix *Index) StepTxns(step uint64) []Transaction {
	s, ok := ix.stepSpan[step]
	if !ok {
		return nil
	}
	return ix.txns[s.start:s.end]
}

// InstructionCyclesAtPC returns the instruction cycles whose post-execution
// PC equals pc, in cycle order.
func (ix *Index) InstructionCyclesAtPC(pc uint32) []*CycleRecord {
	ps := ix.pcCycles[pc]
	out := make([]*CycleRecord, len(ps))
	for i, p := range ps {
		out[i] = &ix.cycles[p]
	}
	return out
}

// KindAcceptsClass reports whether a cycle of class c can host a mutation of
// kind k.
func KindAcceptsClass(k MutationKind, c insn.Class) bool {
	switch k {
	case KindCompOut:
		return c.Major <= insn.MajorDiv0
	case KindLoadVal:
		return c.Major == insn.MajorMem0
	case KindStoreOut:
		return c.Major == insn.MajorMem1
	case KindPreExecReg, KindInstrType:
		return c.IsInstruction()
	}
	return false
}

// ValidSteps returns the steps whose cycle can host a mutation of kind k, in
// step order. The slice is shared and must not be modified.
func (ix *Index) ValidSteps(k MutationKind) []uint64 {
	return ix.valid[k]
}

// MajorCounts counts cycles per major category.
func (ix *Index) MajorCounts() map[uint8]int {
	counts := make(map[uint8]int)
	for i := range ix.cycles {
		counts[ix.cycles[i].Major]++
	}
	return counts
}

// Summary renders cycle counts per category and per mutation kind.
func (ix *Index) Summary() string {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("trace: %d cycles, %d steps, %d txns", len(ix.cycles), len(ix.steps), len(ix.txns)))

	counts := ix.MajorCounts()
	majors := tree.AddBranch("majors")
	for m := 0; m < 256; m++ {
		if n, ok := counts[uint8(m)]; ok {
			majors.AddNode(fmt.Sprintf("%-9s %d", insn.MajorName(uint8(m)), n))
		}
	}
	kinds := tree.AddBranch("valid steps")
	for _, k := range MutationKinds() {
		kinds.AddNode(fmt.Sprintf("%-16s %d", k, len(ix.ValidSteps(k))))
	}
	return tree.String()
}
