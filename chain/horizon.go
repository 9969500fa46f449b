package chain

import (
	"fmt"
	"net/http"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/txnbuild"
)

// Gateway is the blockchain capability set the engine depends on. The
// production implementation talks to a Horizon server; tests substitute
// their own.
type Gateway interface {
	FetchSnapshot(accountID string) (AccountSnapshot, error)
	FetchBaseFee() (int64, error)
	Submit(tx *txnbuild.Transaction) SubmissionResult
	SequenceAdvanced(accountID string, sequence int64) (bool, error)
}

type HorizonGateway struct {
	client *horizonclient.Client
}

func NewHorizonGateway(horizonURL string, timeout time.Duration) *HorizonGateway {
	return &HorizonGateway{
		client: &horizonclient.Client{
			HorizonURL: horizonURL,
			HTTP:       &http.Client{Timeout: timeout},
		},
	}
}

// FetchSnapshot performs a live account read. Results must not be cached
// across build attempts.
func (g *HorizonGateway) FetchSnapshot(accountID string) (AccountSnapshot, error) {
	acct, err := g.client.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	if err != nil {
		if herr := horizonclient.GetError(err); herr != nil && herr.Problem.Status == http.StatusNotFound {
			return AccountSnapshot{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return AccountSnapshot{}, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}

	seq, err := acct.GetSequenceNumber()
	if err != nil {
		return AccountSnapshot{}, fmt.Errorf("failed to read sequence for %s: %w", accountID, err)
	}

	return AccountSnapshot{AccountID: accountID, Sequence: seq}, nil
}

func (g *HorizonGateway) FetchBaseFee() (int64, error) {
	stats, err := g.client.FeeStats()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch fee stats: %w", err)
	}

	fee := stats.LastLedgerBaseFee
	if fee < txnbuild.MinBaseFee {
		fee = txnbuild.MinBaseFee
	}
	return fee, nil
}

// retryable transaction result codes: safe to rebuild from a fresh snapshot
// and resubmit without duplicate-payment risk.
var retryableCodes = map[string]bool{
	"tx_bad_seq":          true,
	"tx_insufficient_fee": true,
	"tx_too_late":         true,
}

// Submit sends a signed envelope and classifies the response. A transport
// error or a Horizon 504 is an ambiguous outcome: the transaction may still
// have landed, so the caller must resolve it via SequenceAdvanced before
// deciding anything.
func (g *HorizonGateway) Submit(tx *txnbuild.Transaction) SubmissionResult {
	resp, err := g.client.SubmitTransaction(tx)
	if err == nil {
		return SubmissionResult{Outcome: OutcomeAccepted, Hash: resp.Hash}
	}

	herr := horizonclient.GetError(err)
	if herr == nil || herr.Problem.Status == http.StatusGatewayTimeout {
		return SubmissionResult{Outcome: OutcomeTimedOut}
	}

	codes, cerr := herr.ResultCodes()
	if cerr != nil {
		return SubmissionResult{Outcome: OutcomeRejectedTerminal, Code: herr.Problem.Title}
	}

	if retryableCodes[codes.TransactionCode] {
		return SubmissionResult{Outcome: OutcomeRejectedRetryable, Code: codes.TransactionCode}
	}

	result := SubmissionResult{Outcome: OutcomeRejectedTerminal, Code: codes.TransactionCode}
	if codes.TransactionCode == "tx_failed" {
		// an operation failed on-chain; the fee was still consumed
		result.FeeCharged = true
		if len(codes.OperationCodes) > 0 {
			result.Code = codes.OperationCodes[0]
		}
	}
	return result
}

// SequenceAdvanced reports whether the account's sequence has reached the
// given value. Used to resolve timed-out submissions: if the slot was
// consumed, the envelope landed.
func (g *HorizonGateway) SequenceAdvanced(accountID string, sequence int64) (bool, error) {
	snap, err := g.FetchSnapshot(accountID)
	if err != nil {
		return false, err
	}
	return snap.Sequence >= sequence, nil
}
