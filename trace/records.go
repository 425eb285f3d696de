package trace

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/colorfulnotion/zkmut/insn"
	"github.com/colorfulnotion/zkmut/zkerrors"
)

// CycleRecord is one prover cycle as dumped by the preflight pass.
// PC is the program counter after the instruction executed.
type CycleRecord struct {
	CycleIdx uint64 `json:"cycle_idx"`
	Step     uint64 `json:"step"`
	PC       uint32 `json:"pc"`
	TxnIdx   uint64 `json:"txn_idx"`
	Major    uint8  `json:"major"`
	Minor    uint8  `json:"minor"`
}

func (c *CycleRecord) Class() insn.Class {
	return insn.Class{Major: c.Major, Minor: c.Minor}
}

// IsInstruction reports whether the cycle executes an ordinary instruction.
func (c *CycleRecord) IsInstruction() bool {
	return insn.IsInstructionMajor(c.Major)
}

func (c *CycleRecord) String() string {
	return fmt.Sprintf("cycle %d step %d pc 0x%08x %s txn %d", c.CycleIdx, c.Step, c.PC, c.Class(), c.TxnIdx)
}

// Op is the direction of a memory transaction.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "WRITE"
	}
	return "READ"
}

// Transaction is one memory access. The parity of Cycle encodes the
// direction: even is a read, odd is a write.
type Transaction struct {
	TxnIdx    uint64 `json:"txn_idx"`
	Addr      uint32 `json:"addr"`
	Cycle     uint64 `json:"cycle"`
	Word      uint32 `json:"word"`
	PrevCycle int64  `json:"prev_cycle"`
	PrevWord  uint32 `json:"prev_word"`
}

func (t *Transaction) Op() Op {
	if t.Cycle%2 == 1 {
		return OpWrite
	}
	return OpRead
}

func (t *Transaction) IsRead() bool  { return t.Op() == OpRead }
func (t *Transaction) IsWrite() bool { return t.Op() == OpWrite }

// IsRegister reports whether the address falls in the user register window.
func (t *Transaction) IsRegister() bool {
	return IsRegisterAddr(t.Addr)
}

// Register returns the register index addressed by the transaction.
func (t *Transaction) Register() (int, bool) {
	return RegisterIndexOf(t.Addr)
}

func (t *Transaction) String() string {
	loc := fmt.Sprintf("0x%08x", t.Addr)
	if r, ok := t.Register(); ok {
		loc = RegisterName(r)
	}
	return fmt.Sprintf("txn %d %s %s 0x%08x (prev 0x%08x)", t.TxnIdx, t.Op(), loc, t.Word, t.PrevWord)
}

// ExecRecord is one instruction step of the injector's own execution trace.
// PC is the program counter before the instruction executed.
type ExecRecord struct {
	Step uint64 `json:"step"`
	PC   uint32 `json:"pc"`
}

// MutationKind names the class of corruption a fault introduced.
type MutationKind string

const (
	KindInstrType  MutationKind = "INSTR_TYPE_MOD"
	KindCompOut    MutationKind = "COMP_OUT_MOD"
	KindLoadVal    MutationKind = "LOAD_VAL_MOD"
	KindStoreOut   MutationKind = "STORE_OUT_MOD"
	KindPreExecReg MutationKind = "PRE_EXEC_REG_MOD"
)

// the injector reports instruction-word faults under this name
const instrWordAlias = "INSTR_WORD_MOD"

// MutationKinds lists every kind in resolution order.
func MutationKinds() []MutationKind {
	return []MutationKind{KindInstrType, KindCompOut, KindLoadVal, KindStoreOut, KindPreExecReg}
}

func ParseMutationKind(s string) (MutationKind, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	if up == instrWordAlias {
		return KindInstrType, nil
	}
	for _, k := range MutationKinds() {
		if string(k) == up {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", zkerrors.ErrKUnknownMutationKind, s)
}

func (k *MutationKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMutationKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// FaultRecord is one fault reported by the injector. Original and Mutated
// hold the instruction word (instruction type), the output value (compute,
// load, store) or, for register faults, only Mutated is meaningful.
type FaultRecord struct {
	Step     uint64       `json:"step"`
	PC       uint32       `json:"pc"`
	Kind     MutationKind `json:"kind"`
	Original uint32       `json:"original"`
	Mutated  uint32       `json:"mutated"`
	Register string       `json:"register,omitempty"`
}

func (f *FaultRecord) String() string {
	if f.Kind == KindPreExecReg {
		return fmt.Sprintf("%s step %d pc 0x%08x %s <- 0x%08x", f.Kind, f.Step, f.PC, f.Register, f.Mutated)
	}
	return fmt.Sprintf("%s step %d pc 0x%08x 0x%08x -> 0x%08x", f.Kind, f.Step, f.PC, f.Original, f.Mutated)
}

// ConstraintFailure is one failed constraint reported by the prover.
type ConstraintFailure struct {
	Cycle uint64 `json:"cycle"`
	Step  uint64 `json:"step"`
	PC    uint32 `json:"pc"`
	Major uint8  `json:"major"`
	Minor uint8  `json:"minor"`
	Loc   string `json:"loc"`
	Value uint64 `json:"value"`
}
