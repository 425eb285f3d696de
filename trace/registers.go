package trace

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/colorfulnotion/zkmut/zkerrors"
)

// RegisterBase is the word address of x0 in the prover's user register file.
const RegisterBase uint32 = 0xFFFF0080 / 4

const NumRegisters = 32

var abiNames = [NumRegisters]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

var registerByName = func() map[string]int {
	m := make(map[string]int, 2*NumRegisters+2)
	for i, n := range abiNames {
		m[n] = i
		m["x"+strconv.Itoa(i)] = i
	}
	m["fp"] = 8
	m["s0/fp"] = 8
	return m
}()

// RegisterIndex resolves an ABI name ("s3"), an alias ("fp") or a raw
// name ("x19") to a register index.
func RegisterIndex(name string) (int, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return 0, zkerrors.ErrRMissingRegister
	}
	if idx, ok := registerByName[n]; ok {
		return idx, nil
	}
	return 0, fmt.Errorf("%w: %q", zkerrors.ErrRUnknownRegister, name)
}

// RegisterName returns the ABI name of idx.
func RegisterName(idx int) string {
	if idx < 0 || idx >= NumRegisters {
		return fmt.Sprintf("x?%d", idx)
	}
	return abiNames[idx]
}

// RegisterAddr returns the word address of register idx.
func RegisterAddr(idx int) uint32 {
	return RegisterBase + uint32(idx)
}

func IsRegisterAddr(addr uint32) bool {
	return addr >= RegisterBase && addr < RegisterBase+NumRegisters
}

// RegisterIndexOf maps a word address back to a register index.
func RegisterIndexOf(addr uint32) (int, bool) {
	if !IsRegisterAddr(addr) {
		return 0, false
	}
	return int(addr - RegisterBase), true
}
