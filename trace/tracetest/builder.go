// Package tracetest builds small synthetic preflight traces for tests.
package tracetest

import (
	"github.com/colorfulnotion/zkmut/trace"
)

// Access is one memory transaction issued by a cycle.
type Access struct {
	Addr  uint32
	Write bool
	Word  uint32
	Prev  uint32
}

func Read(addr, word uint32) Access { return Access{Addr: addr, Word: word, Prev: word} }

func Write(addr, word, prev uint32) Access {
	return Access{Addr: addr, Write: true, Word: word, Prev: prev}
}

func RegRead(name string, word uint32) Access { return Read(reg(name), word) }

func RegWrite(name string, word, prev uint32) Access { return Write(reg(name), word, prev) }

func reg(name string) uint32 {
	idx, err := trace.RegisterIndex(name)
	if err != nil {
		panic(err)
	}
	return trace.RegisterAddr(idx)
}

// Builder appends cycles in execution order, numbering cycles and
// transactions consecutively.
type Builder struct {
	cycles  []trace.CycleRecord
	txns    []trace.Transaction
	nextTxn uint64
}

func New() *Builder { return &Builder{} }

// Cycle appends one cycle with its transactions.
func (b *Builder) Cycle(step uint64, pc uint32, major, minor uint8, accesses ...Access) *Builder {
	idx := uint64(len(b.cycles))
	b.cycles = append(b.cycles, trace.CycleRecord{
		CycleIdx: idx,
		Step:     step,
		PC:       pc,
		TxnIdx:   b.nextTxn,
		Major:    major,
		Minor:    minor,
	})
	for _, a := range accesses {
		counter := 4 * idx
		if a.Write {
			counter++
		}
		b.txns = append(b.txns, trace.Transaction{
			TxnIdx:    b.nextTxn,
			Addr:      a.Addr,
			Cycle:     counter,
			Word:      a.Word,
			PrevCycle: -1,
			PrevWord:  a.Prev,
		})
		b.nextTxn++
	}
	return b
}

func (b *Builder) Records() ([]trace.CycleRecord, []trace.Transaction) {
	return b.cycles, b.txns
}

// Index builds the trace index and panics on malformed input.
func (b *Builder) Index() *trace.Index {
	ix, err := trace.NewIndex(b.cycles, b.txns)
	if err != nil {
		panic(err)
	}
	return ix
}
