package resolve

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/colorfulnotion/zkmut/trace"
	"golang.org/x/crypto/blake2b"
)

// Descriptor is the mutation configuration handed to the prover harness.
// Fields under _info are diagnostic and ignored by the harness.
type Descriptor struct {
	MutationType trace.MutationKind `json:"mutation_type"`
	Step         uint64             `json:"step"`
	TxnIdx       *uint64            `json:"txn_idx,omitempty"`
	Word         *uint32            `json:"word,omitempty"`
	Major        *uint8             `json:"major,omitempty"`
	Minor        *uint8             `json:"minor,omitempty"`
	Strategy     RegStrategy        `json:"strategy,omitempty"`
	Info         map[string]any     `json:"_info,omitempty"`
}

// Fingerprint is the blake2b-256 hash of the fields the harness reads; _info
// is left out.
func (d *Descriptor) Fingerprint() string {
	b := append([]byte(d.MutationType), 0)
	b = binary.BigEndian.AppendUint64(b, d.Step)
	b = appendOptional(b, d.TxnIdx)
	b = appendOptional(b, d.Word)
	b = appendOptional(b, d.Major)
	b = appendOptional(b, d.Minor)
	b = append(b, d.Strategy...)
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func appendOptional[T uint8 | uint32 | uint64](b []byte, v *T) []byte {
	if v == nil {
		return append(b, 0)
	}
	return binary.BigEndian.AppendUint64(append(b, 1), uint64(*v))
}

func (d *Descriptor) Validate() error {
	if _, err := trace.ParseMutationKind(string(d.MutationType)); err != nil {
		return err
	}
	if d.MutationType == trace.KindInstrType {
		if d.Major == nil || d.Minor == nil {
			return fmt.Errorf("%s descriptor requires major and minor", d.MutationType)
		}
		return nil
	}
	if d.TxnIdx == nil || d.Word == nil {
		return fmt.Errorf("%s descriptor requires txn_idx and word", d.MutationType)
	}
	if d.MutationType == trace.KindPreExecReg {
		if _, err := ParseRegStrategy(string(d.Strategy)); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes the descriptor as indented JSON.
func (d *Descriptor) WriteFile(path string) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0644)
}

func ReadDescriptorFile(path string) (*Descriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &d, d.Validate()
}
