package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
)

// MaxMemoBytes is the wire limit for text memos. Payment identifiers longer
// than this cannot be linked to the on-chain transaction and are rejected
// before an envelope is built.
const MaxMemoBytes = 28

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrMemoTooLong     = errors.New("payment identifier exceeds memo size limit")
	ErrInvalidKey      = errors.New("key does not match envelope source account")
)

// AccountSnapshot is a live read of the paying account. It is fetched fresh
// before every build and never cached: the account may have been merged,
// re-keyed, or had its sequence advanced by a transaction this process did
// not originate.
type AccountSnapshot struct {
	AccountID string
	Sequence  int64
	BaseFee   int64
}

type ValidityWindow struct {
	MinTime int64
	MaxTime int64
}

// ValidityWindowFor computes wall-clock-relative time bounds for a single
// attempt. Windows are recomputed per attempt, never reused.
func ValidityWindowFor(d time.Duration) ValidityWindow {
	now := time.Now().Unix()
	return ValidityWindow{MinTime: now, MaxTime: now + int64(d.Seconds())}
}

type Outcome string

const (
	OutcomeAccepted          Outcome = "accepted"
	OutcomeRejectedRetryable Outcome = "rejected_retryable"
	OutcomeRejectedTerminal  Outcome = "rejected_terminal"
	OutcomeTimedOut          Outcome = "timed_out"
)

// SubmissionResult classifies what the network said about a submitted
// envelope. FeeCharged marks rejections that still consumed the transaction
// fee, so operators can reconcile fee spend without a matching transfer.
type SubmissionResult struct {
	Outcome    Outcome
	Hash       string
	Code       string
	FeeCharged bool
}

// BuildParams carries everything a single build attempt needs. All of it is
// re-derived per attempt from fresh reads.
type BuildParams struct {
	Snapshot    AccountSnapshot
	Destination string
	AmountUnits int64
	BaseFee     int64
	Window      ValidityWindow
	// PaymentID becomes the transaction memo. It is the sole linkage between
	// the platform payment record and the on-chain transaction, so the
	// platform can reconcile via a chain watcher even if the submission
	// response is lost.
	PaymentID string
}

// BuildPayment assembles an unsigned single-payment envelope with sequence
// number snapshot.Sequence + 1. Deterministic and free of network calls.
func BuildPayment(p BuildParams) (*txnbuild.Transaction, error) {
	if len(p.PaymentID) > MaxMemoBytes {
		return nil, fmt.Errorf("%w: %q is %d bytes", ErrMemoTooLong, p.PaymentID, len(p.PaymentID))
	}

	fee := p.BaseFee
	if fee < txnbuild.MinBaseFee {
		fee = txnbuild.MinBaseFee
	}

	tx, err := txnbuild.NewTransaction(
		txnbuild.TransactionParams{
			SourceAccount: &txnbuild.SimpleAccount{
				AccountID: p.Snapshot.AccountID,
				Sequence:  p.Snapshot.Sequence,
			},
			IncrementSequenceNum: true,
			BaseFee:              fee,
			Memo:                 txnbuild.MemoText(p.PaymentID),
			Preconditions: txnbuild.Preconditions{
				TimeBounds: txnbuild.NewTimebounds(p.Window.MinTime, p.Window.MaxTime),
			},
			Operations: []txnbuild.Operation{
				&txnbuild.Payment{
					Destination: p.Destination,
					Amount:      amount.StringFromInt64(p.AmountUnits),
					Asset:       txnbuild.NativeAsset{},
				},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	return tx, nil
}

// Sign appends one signature to the envelope. The seed must correspond to the
// envelope's declared source account. Key material is never logged or
// persisted here.
func Sign(tx *txnbuild.Transaction, seed, networkPassphrase string) (*txnbuild.Transaction, error) {
	kp, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable seed", ErrInvalidKey)
	}

	if kp.Address() != tx.SourceAccount().AccountID {
		return nil, fmt.Errorf("%w: signer is %s", ErrInvalidKey, kp.Address())
	}

	signed, err := tx.Sign(networkPassphrase, kp)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return signed, nil
}
