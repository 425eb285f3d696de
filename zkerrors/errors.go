package zkerrors

import (
	"errors"
	"strings"
)

// Decode (D) Errors
var (
	ErrDInvalidInstruction = errors.New("D1|InvalidInstruction: Instruction word does not decode to a known opcode class.")
)

// Step location (S) Errors
var (
	ErrSStepNotFound  = errors.New("S1|StepNotFound: No instruction cycle executed at the expected program counter.")
	ErrSClassMismatch = errors.New("S2|ClassMismatch: Program counter reached, but never with the expected opcode class.")
)

// Target (T) Errors
var (
	ErrTTargetNeverTouched = errors.New("T1|TargetNeverTouched: No transaction satisfies the target predicate in the scan window.")
	ErrTTargetExemptCycle  = errors.New("T2|TargetExemptCycle: Matching transactions exist only in non-instruction cycles.")
	ErrTCycleNotFound      = errors.New("T3|CycleNotFound: No cycle recorded for the resolved step.")
)

// Register (R) Errors
var (
	ErrRUnknownRegister = errors.New("R1|UnknownRegister: Register name is not part of the RV32 ABI table.")
	ErrRMissingRegister = errors.New("R2|MissingRegister: Fault record does not name a target register.")
)

// Kind (K) Errors
var (
	ErrKUnknownMutationKind = errors.New("K1|UnknownMutationKind: Mutation kind is not recognised.")
	ErrKUnknownStrategy     = errors.New("K2|UnknownStrategy: Register strategy must be next_read or prev_write.")
	ErrKKindStepMismatch    = errors.New("K3|KindStepMismatch: Cycle at this step does not belong to the mutation kind.")
)

// Ambiguity (A) Errors
var (
	ErrAAmbiguousMatch = errors.New("A1|AmbiguousMatch: Several cycles matched the expected program counter.")
)

var skipErrors = []error{
	ErrDInvalidInstruction,
	ErrSStepNotFound,
	ErrSClassMismatch,
	ErrTTargetNeverTouched,
	ErrTTargetExemptCycle,
	ErrTCycleNotFound,
	ErrRUnknownRegister,
	ErrRMissingRegister,
	ErrKKindStepMismatch,
}

// IsSkip reports whether err ends a resolution with a reason rather than
// signalling a malformed request or an I/O failure.
func IsSkip(err error) bool {
	for _, s := range skipErrors {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

var categories = map[byte]string{
	'D': "decode",
	'S': "locate",
	'T': "target",
	'R': "register",
	'K': "kind",
	'A': "ambiguity",
}

// parse splits the innermost coded message "CODE|Name: desc". Wrapping
// context added with %w sits after the sentinel text and ends up in desc.
func parse(err error) (code, name, desc string, ok bool) {
	msg := err.Error()
	bar := strings.IndexByte(msg, '|')
	if bar <= 0 {
		return "", "", "", false
	}
	code, rest := msg[:bar], msg[bar+1:]
	name, desc, _ = strings.Cut(rest, ":")
	return strings.TrimSpace(code), strings.TrimSpace(name), strings.TrimSpace(desc), true
}

// GetErrorName returns the Name part, the whole message for uncoded errors
// and "No Error" for nil.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	if _, name, _, ok := parse(err); ok {
		return name
	}
	return err.Error()
}

func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	code, _, _, _ := parse(err)
	return code
}

// GetErrorCodeWithName formats "CODE_Name", empty for uncoded errors.
func GetErrorCodeWithName(err error) string {
	if err == nil {
		return ""
	}
	code, name, _, ok := parse(err)
	if !ok || name == "" {
		return ""
	}
	return code + "_" + name
}

func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	if _, _, desc, ok := parse(err); ok && desc != "" {
		return desc
	}
	return "DESC NOT SET"
}

// Category names the family of a coded error ("locate", "target", ...), or
// "other".
func Category(err error) string {
	if err == nil {
		return ""
	}
	if code := GetErrorCode(err); code != "" {
		if c, ok := categories[code[0]]; ok {
			return c
		}
	}
	return "other"
}
