package insn

import (
	"fmt"

	"github.com/colorfulnotion/zkmut/log"
)

// Kind is the flat instruction kind index; major = kind/8, minor = kind%8.
type Kind uint8

const (
	KindAdd    Kind = 0
	KindSub    Kind = 1
	KindXor    Kind = 2
	KindOr     Kind = 3
	KindAnd    Kind = 4
	KindSlt    Kind = 5
	KindSltU   Kind = 6
	KindAddI   Kind = 7
	KindXorI   Kind = 8
	KindOrI    Kind = 9
	KindAndI   Kind = 10
	KindSltI   Kind = 11
	KindSltIU  Kind = 12
	KindBeq    Kind = 13
	KindBne    Kind = 14
	KindBlt    Kind = 15
	KindBge    Kind = 16
	KindBltU   Kind = 17
	KindBgeU   Kind = 18
	KindJal    Kind = 19
	KindJalR   Kind = 20
	KindLui    Kind = 21
	KindAuipc  Kind = 22
	KindSll    Kind = 24
	KindSllI   Kind = 25
	KindMul    Kind = 26
	KindMulH   Kind = 27
	KindMulHSU Kind = 28
	KindMulHU  Kind = 29
	KindSrl    Kind = 32
	KindSra    Kind = 33
	KindSrlI   Kind = 34
	KindSraI   Kind = 35
	KindDiv    Kind = 36
	KindDivU   Kind = 37
	KindRem    Kind = 38
	KindRemU   Kind = 39
	KindLb     Kind = 40
	KindLh     Kind = 41
	KindLw     Kind = 42
	KindLbU    Kind = 43
	KindLhU    Kind = 44
	KindSb     Kind = 48
	KindSh     Kind = 49
	KindSw     Kind = 50
	KindEany   Kind = 56
	KindMret   Kind = 57

	KindInvalid Kind = 255
)

var kindNames = map[Kind]string{
	KindAdd: "Add", KindSub: "Sub", KindXor: "Xor", KindOr: "Or", KindAnd: "And",
	KindSlt: "Slt", KindSltU: "SltU", KindAddI: "AddI", KindXorI: "XorI", KindOrI: "OrI",
	KindAndI: "AndI", KindSltI: "SltI", KindSltIU: "SltIU", KindBeq: "Beq", KindBne: "Bne",
	KindBlt: "Blt", KindBge: "Bge", KindBltU: "BltU", KindBgeU: "BgeU", KindJal: "Jal",
	KindJalR: "JalR", KindLui: "Lui", KindAuipc: "Auipc", KindSll: "Sll", KindSllI: "SllI",
	KindMul: "Mul", KindMulH: "MulH", KindMulHSU: "MulHSU", KindMulHU: "MulHU", KindSrl: "Srl",
	KindSra: "Sra", KindSrlI: "SrlI", KindSraI: "SraI", KindDiv: "Div", KindDivU: "DivU",
	KindRem: "Rem", KindRemU: "RemU", KindLb: "Lb", KindLh: "Lh", KindLw: "Lw",
	KindLbU: "LbU", KindLhU: "LhU", KindSb: "Sb", KindSh: "Sh", KindSw: "Sw",
	KindEany: "Eany", KindMret: "Mret", KindInvalid: "Invalid",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is a decodable instruction kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok && k != KindInvalid
}

// Class returns the (major, minor) pair of the kind.
func (k Kind) Class() Class {
	return Class{Major: uint8(k) / 8, Minor: uint8(k) % 8}
}

// Kinds returns every valid kind in ascending order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames)-1)
	for k := 0; k < 64; k++ {
		if Kind(k).Valid() {
			out = append(out, Kind(k))
		}
	}
	return out
}

// Class is the coarse opcode category recorded per cycle by the prover.
type Class struct {
	Major uint8 `json:"major"`
	Minor uint8 `json:"minor"`
}

// Kind maps the class back to its flat kind index.
func (c Class) Kind() Kind {
	return Kind(c.Major*8 + c.Minor)
}

func (c Class) String() string {
	return fmt.Sprintf("%s(%d,%d)", MajorName(c.Major), c.Major, c.Minor)
}

// IsInstruction reports whether the class belongs to an ordinary instruction
// cycle rather than a control or accelerator cycle.
// Packed encodes the class as major<<16 | minor, the form recorded for
// instruction-type mutations.
func (c Class) Packed() uint32 {
	return uint32(c.Major)<<16 | uint32(c.Minor)
}

func (c Class) IsInstruction() bool {
	return IsInstructionMajor(c.Major)
}

const MaxInstructionMajor = 6

func IsInstructionMajor(major uint8) bool {
	return major <= MaxInstructionMajor
}

const (
	MajorMisc0 uint8 = iota
	MajorMisc1
	MajorMisc2
	MajorMul0
	MajorDiv0
	MajorMem0
	MajorMem1
	MajorControl0
	MajorEcall0
	MajorPoseidon0
	MajorPoseidon1
	MajorSha0
	MajorBigInt0
)

var majorNames = []string{
	"MISC0", "MISC1", "MISC2", "MUL0", "DIV0", "MEM0", "MEM1",
	"CONTROL0", "ECALL0", "POSEIDON0", "POSEIDON1", "SHA0", "BIGINT0",
}

// MajorName returns the category name of a major, e.g. 9 -> POSEIDON0.
func MajorName(major uint8) string {
	if int(major) < len(majorNames) {
		return majorNames[major]
	}
	return fmt.Sprintf("MAJOR%d", major)
}

// NumMajors is the number of named major categories.
func NumMajors() int { return len(majorNames) }

// RISC-V base opcodes
const (
	opcodeLoad   = 0x03
	opcodeOpImm  = 0x13
	opcodeAuipc  = 0x17
	opcodeStore  = 0x23
	opcodeOp     = 0x33
	opcodeLui    = 0x37
	opcodeBranch = 0x63
	opcodeJalR   = 0x67
	opcodeJal    = 0x6f
	opcodeSystem = 0x73

	wordEcall = 0x00000073
	wordMret  = 0x30200073
)

var (
	opFunct7Zero = [8]Kind{KindAdd, KindSll, KindSlt, KindSltU, KindXor, KindSrl, KindOr, KindAnd}
	opFunct7Mul  = [8]Kind{KindMul, KindMulH, KindMulHSU, KindMulHU, KindDiv, KindDivU, KindRem, KindRemU}
	loadKinds    = map[uint32]Kind{0: KindLb, 1: KindLh, 2: KindLw, 4: KindLbU, 5: KindLhU}
	storeKinds   = map[uint32]Kind{0: KindSb, 1: KindSh, 2: KindSw}
	branchKinds  = map[uint32]Kind{0: KindBeq, 1: KindBne, 4: KindBlt, 5: KindBge, 6: KindBltU, 7: KindBgeU}
)

// DecodeKind classifies a 32-bit instruction word. Unknown encodings return
// KindInvalid.
func DecodeKind(word uint32) Kind {
	opcode := word & 0x7f
	funct3 := (word >> 12) & 0x7
	funct7 := (word >> 25) & 0x7f

	switch opcode {
	case opcodeOp:
		switch funct7 {
		case 0x00:
			return opFunct7Zero[funct3]
		case 0x20:
			switch funct3 {
			case 0:
				return KindSub
			case 5:
				return KindSra
			}
		case 0x01:
			return opFunct7Mul[funct3]
		}
	case opcodeOpImm:
		switch funct3 {
		case 0:
			return KindAddI
		case 1:
			if funct7 == 0 {
				return KindSllI
			}
		case 2:
			return KindSltI
		case 3:
			return KindSltIU
		case 4:
			return KindXorI
		case 5:
			switch funct7 {
			case 0x00:
				return KindSrlI
			case 0x20:
				return KindSraI
			}
		case 6:
			return KindOrI
		case 7:
			return KindAndI
		}
	case opcodeLoad:
		if k, ok := loadKinds[funct3]; ok {
			return k
		}
	case opcodeStore:
		if k, ok := storeKinds[funct3]; ok {
			return k
		}
	case opcodeBranch:
		if k, ok := branchKinds[funct3]; ok {
			return k
		}
	case opcodeJal:
		return KindJal
	case opcodeJalR:
		return KindJalR
	case opcodeLui:
		return KindLui
	case opcodeAuipc:
		return KindAuipc
	case opcodeSystem:
		switch word {
		case wordEcall:
			return KindEany
		case wordMret:
			return KindMret
		}
	}
	return KindInvalid
}

// Decode returns the opcode class of word, or ok=false for encodings the
// prover does not recognise.
func Decode(word uint32) (Class, bool) {
	k := DecodeKind(word)
	if k == KindInvalid {
		log.Trace(log.DecodeModule, "invalid instruction word", "word", fmt.Sprintf("0x%08x", word))
		return Class{}, false
	}
	return k.Class(), true
}
