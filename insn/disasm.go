package insn

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// Disassemble renders word in GNU assembler syntax. Words the RISC-V decoder
// rejects are printed as a raw .word directive.
func Disassemble(word uint32) string {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], word)
	inst, err := riscv64asm.Decode(buf[:])
	if err != nil {
		return fmt.Sprintf(".word 0x%08x", word)
	}
	return riscv64asm.GNUSyntax(inst)
}

// Describe is a one-line summary used by the CLI and descriptors' _info.
func Describe(word uint32) string {
	k := DecodeKind(word)
	if k == KindInvalid {
		return fmt.Sprintf("0x%08x %s [invalid]", word, Disassemble(word))
	}
	return fmt.Sprintf("0x%08x %s [%s %s]", word, Disassemble(word), k, k.Class())
}
