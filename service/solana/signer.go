package solana

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// SignerKind is the capability tag that decides how the payer signs.
type SignerKind int

const (
	// SignerLocal signs with private key material held in process.
	SignerLocal SignerKind = iota + 1
	// SignerInteractive delegates signing to an external signer.
	SignerInteractive
)

func (k SignerKind) String() string {
	switch k {
	case SignerLocal:
		return "local"
	case SignerInteractive:
		return "interactive"
	default:
		return "unknown"
	}
}

// InteractiveSigner signs transactions out of process (wallet adapter, HSM, remote service).
// SignTransaction must add the signer's signature and may block on user approval.
type InteractiveSigner interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
}

// Payer is the fee payer of a transaction. Its SignerKind is fixed at construction.
type Payer struct {
	kind        SignerKind
	key         solana.PrivateKey
	interactive InteractiveSigner
}

// LocalPayer returns a payer that signs with key.
func LocalPayer(key solana.PrivateKey) Payer {
	return Payer{kind: SignerLocal, key: key}
}

// InteractivePayer returns a payer that delegates signing to signer.
func InteractivePayer(signer InteractiveSigner) Payer {
	return Payer{kind: SignerInteractive, interactive: signer}
}

// Kind returns the payer's capability tag.
func (p Payer) Kind() SignerKind {
	return p.kind
}

// PublicKey returns the fee payer address.
func (p Payer) PublicKey() solana.PublicKey {
	switch p.kind {
	case SignerLocal:
		return p.key.PublicKey()
	case SignerInteractive:
		return p.interactive.PublicKey()
	default:
		return solana.PublicKey{}
	}
}

func (p Payer) validate() error {
	switch p.kind {
	case SignerLocal:
		if len(p.key) != ed25519.PrivateKeySize {
			return fmt.Errorf("%w: local payer key is %d bytes, want %d", ErrInvalidPayer, len(p.key), ed25519.PrivateKeySize)
		}
	case SignerInteractive:
		if p.interactive == nil {
			return fmt.Errorf("%w: interactive payer has no signer", ErrInvalidPayer)
		}
	default:
		return fmt.Errorf("%w: unknown signer kind %d", ErrInvalidPayer, p.kind)
	}
	return nil
}

func validateSigners(signers []solana.PrivateKey) error {
	for i, k := range signers {
		if len(k) != ed25519.PrivateKeySize {
			return fmt.Errorf("%w: signer %d key is %d bytes, want %d", ErrInvalidSigner, i, len(k), ed25519.PrivateKeySize)
		}
	}
	return nil
}
