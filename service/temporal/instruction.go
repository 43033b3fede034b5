package temporal

import (
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// AccountMetaSpec is the JSON form of an instruction account.
type AccountMetaSpec struct {
	PublicKey string `json:"pubkey"`
	Signer    bool   `json:"signer,omitempty"`
	Writable  bool   `json:"writable,omitempty"`
}

// InstructionSpec is the JSON form of a solana instruction, used in workflow payloads.
// Data is base64 encoded on the wire.
type InstructionSpec struct {
	ProgramID string            `json:"program_id"`
	Accounts  []AccountMetaSpec `json:"accounts,omitempty"`
	Data      []byte            `json:"data,omitempty"`
}

// NewInstructionSpec converts an instruction into its payload form.
func NewInstructionSpec(ix solanago.Instruction) (InstructionSpec, error) {
	data, err := ix.Data()
	if err != nil {
		return InstructionSpec{}, fmt.Errorf("failed to encode instruction data: %w", err)
	}

	spec := InstructionSpec{
		ProgramID: ix.ProgramID().String(),
		Data:      data,
	}
	for _, meta := range ix.Accounts() {
		spec.Accounts = append(spec.Accounts, AccountMetaSpec{
			PublicKey: meta.PublicKey.String(),
			Signer:    meta.IsSigner,
			Writable:  meta.IsWritable,
		})
	}
	return spec, nil
}

// Instruction rebuilds the solana instruction.
func (s InstructionSpec) Instruction() (solanago.Instruction, error) {
	programID, err := solanago.PublicKeyFromBase58(s.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id %q: %w", s.ProgramID, err)
	}

	metas := make(solanago.AccountMetaSlice, 0, len(s.Accounts))
	for i, acc := range s.Accounts {
		pk, err := solanago.PublicKeyFromBase58(acc.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid account %d %q: %w", i, acc.PublicKey, err)
		}
		metas = append(metas, solanago.NewAccountMeta(pk, acc.Writable, acc.Signer))
	}

	return solanago.NewInstruction(programID, metas, s.Data), nil
}

// ToInstructions rebuilds every instruction in specs, in order.
func ToInstructions(specs []InstructionSpec) ([]solanago.Instruction, error) {
	out := make([]solanago.Instruction, 0, len(specs))
	for i, spec := range specs {
		ix, err := spec.Instruction()
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		out = append(out, ix)
	}
	return out, nil
}

// MemoInstruction builds a memo program instruction signed by signer.
func MemoInstruction(signer solanago.PublicKey, memo string) solanago.Instruction {
	return solanago.NewInstruction(
		solanago.MemoProgramID,
		solanago.AccountMetaSlice{solanago.Meta(signer).SIGNER()},
		[]byte(memo),
	)
}
