package solana

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MaxTransactionSize is the largest serialized transaction accepted by the network.
const MaxTransactionSize = 1232

// SubmissionStatus is the state of a submitted transaction.
type SubmissionStatus string

const (
	StatusPending   SubmissionStatus = "pending"
	StatusConfirmed SubmissionStatus = "confirmed"
	StatusFailed    SubmissionStatus = "failed"
)

// SubmissionResult is returned by Submit. It is also returned alongside
// SubmissionError and ExpiredError so callers can record the signature.
type SubmissionResult struct {
	Signature            solana.Signature
	Status               SubmissionStatus
	Slot                 uint64
	Commitment           rpc.CommitmentType
	LastValidBlockHeight uint64
	Err                  string
}

// Blockhash is a recent blockhash and the last block height at which it is valid.
// A zero LastValidBlockHeight means the validity window is unknown.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// AccountUpdate is a single account change notification.
type AccountUpdate struct {
	Address  solana.PublicKey
	Slot     uint64
	Lamports uint64
	Owner    solana.PublicKey
	Data     []byte
}

// AccountLookupStatus distinguishes an account that does not exist yet from one that does.
type AccountLookupStatus int

const (
	AccountMissing AccountLookupStatus = iota
	AccountFound
)

func (s AccountLookupStatus) String() string {
	switch s {
	case AccountFound:
		return "found"
	default:
		return "missing"
	}
}

// AccountLookup is the result of a speculative account fetch.
// Account is nil when Status is AccountMissing.
type AccountLookup struct {
	Status  AccountLookupStatus
	Account *AccountUpdate
}

// Exists reports whether the account was found.
func (l *AccountLookup) Exists() bool {
	return l != nil && l.Status == AccountFound
}

// commitmentRank orders commitment levels; unknown levels rank lowest.
func commitmentRank(c rpc.CommitmentType) int {
	switch c {
	case rpc.CommitmentProcessed:
		return 1
	case rpc.CommitmentConfirmed:
		return 2
	case rpc.CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

func confirmationRank(s rpc.ConfirmationStatusType) int {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

// reachedCommitment reports whether a signature status satisfies the target commitment.
func reachedCommitment(status rpc.ConfirmationStatusType, target rpc.CommitmentType) bool {
	rank := confirmationRank(status)
	return rank > 0 && rank >= commitmentRank(target)
}

// ParseCommitment maps a commitment name to its rpc.CommitmentType.
func ParseCommitment(s string) (rpc.CommitmentType, bool) {
	switch rpc.CommitmentType(s) {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return rpc.CommitmentType(s), true
	default:
		return "", false
	}
}
