package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stellar/go/amount"
	"github.com/stellar/go/keypair"
	"github.com/yourusername/a2u-payout/chain"
	"github.com/yourusername/a2u-payout/config"
	"github.com/yourusername/a2u-payout/metrics"
	"github.com/yourusername/a2u-payout/models"
	"github.com/yourusername/a2u-payout/platform"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrRetriesExhausted = errors.New("retry limit exhausted")
	ErrNotCancellable   = errors.New("payout is not cancellable")
	ErrUnresolved       = errors.New("submission outcome unresolved")
)

// PlatformAPI is the slice of the platform payment service the engine uses.
type PlatformAPI interface {
	CreatePayment(ctx context.Context, req platform.CreatePaymentRequest) (*platform.PaymentRecord, error)
	CompletePayment(ctx context.Context, identifier, txid string) error
	CancelPayment(ctx context.Context, identifier string) error
}

// PaymentIntent is what a caller asks for: an amount to a platform user.
// The recipient's blockchain address and the payment identifier come back
// from the platform on creation.
type PaymentIntent struct {
	UID         string
	AmountUnits int64
	Memo        string
	Metadata    map[string]any
}

// Engine drives the payout lifecycle: create the platform record, acquire a
// fresh account snapshot, build, sign, submit, and reconcile the result back
// to the platform. Attempts for a given source account are strictly
// serialized; distinct source accounts proceed in parallel.
type Engine struct {
	db       *gorm.DB
	platform PlatformAPI
	gateway  chain.Gateway
	cfg      *config.Config
	source   string
	log      *logrus.Entry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(db *gorm.DB, api PlatformAPI, gateway chain.Gateway, cfg *config.Config) (*Engine, error) {
	kp, err := keypair.ParseFull(cfg.PayoutSeed)
	if err != nil {
		return nil, fmt.Errorf("invalid payout wallet seed: %w", err)
	}

	return &Engine{
		db:       db,
		platform: api,
		gateway:  gateway,
		cfg:      cfg,
		source:   kp.Address(),
		log:      logrus.WithField("component", "payout-engine"),
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// SourceAccount returns the paying account's public address.
func (e *Engine) SourceAccount() string {
	return e.source
}

// accountLock serializes lifecycles per source account. Only one envelope
// may be in flight per account: sequence numbers are issued from a single
// snapshot, and a concurrent builder would race for the same slot and burn
// a fee on a guaranteed conflict.
func (e *Engine) accountLock(account string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[account]
	if !ok {
		l = &sync.Mutex{}
		e.locks[account] = l
	}
	return l
}

// SendPayout runs one full payment lifecycle and blocks until it resolves.
func (e *Engine) SendPayout(ctx context.Context, intent PaymentIntent) (*models.Payout, error) {
	if intent.AmountUnits <= 0 {
		return nil, ErrInvalidAmount
	}
	if intent.UID == "" {
		return nil, fmt.Errorf("recipient uid is required")
	}

	amt, err := strconv.ParseFloat(amount.StringFromInt64(intent.AmountUnits), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	record, err := e.platform.CreatePayment(ctx, platform.CreatePaymentRequest{
		Amount:   amt,
		Memo:     intent.Memo,
		Metadata: intent.Metadata,
		UID:      intent.UID,
	})
	if err != nil {
		return nil, err
	}

	payout := &models.Payout{
		Identifier:       record.Identifier,
		UID:              intent.UID,
		SourceAccount:    e.source,
		RecipientAccount: record.Recipient,
		AmountUnits:      intent.AmountUnits,
		Memo:             intent.Memo,
		Status:           models.StatusCreated,
	}
	if err := e.db.Create(payout).Error; err != nil {
		return nil, fmt.Errorf("failed to persist payout: %w", err)
	}

	lock := e.accountLock(e.source)
	lock.Lock()
	defer lock.Unlock()

	return payout, e.run(ctx, payout)
}

// run is the attempt loop. Each cycle starts over from a fresh snapshot,
// fresh base fee, and a fresh validity window. MaxRetries bounds the number
// of retryable-rejection cycles before the payout fails for manual handling.
func (e *Engine) run(ctx context.Context, payout *models.Payout) error {
	log := e.log.WithFields(logrus.Fields{"payout": payout.ID, "identifier": payout.Identifier})

	for cycle := 1; cycle <= e.cfg.MaxRetries; cycle++ {
		if ctx.Err() != nil {
			return e.abandon(payout, "cancelled")
		}
		if cycle > 1 {
			e.transition(payout, models.StatusRetryPending)
			metrics.PayoutRetries.Inc()
			select {
			case <-time.After(e.cfg.RetryBackoff * time.Duration(cycle-1)):
			case <-ctx.Done():
				return e.abandon(payout, "cancelled")
			}
		}

		snapshot, err := e.gateway.FetchSnapshot(payout.SourceAccount)
		if err != nil {
			if errors.Is(err, chain.ErrAccountNotFound) {
				return e.fail(ctx, payout, "account_not_found", err)
			}
			payout.LastErrorCode = "snapshot_unavailable"
			log.WithError(err).Warn("snapshot fetch failed")
			continue
		}

		baseFee, err := e.gateway.FetchBaseFee()
		if err != nil {
			payout.LastErrorCode = "fee_unavailable"
			log.WithError(err).Warn("fee fetch failed")
			continue
		}
		snapshot.BaseFee = baseFee

		tx, err := chain.BuildPayment(chain.BuildParams{
			Snapshot:    snapshot,
			Destination: payout.RecipientAccount,
			AmountUnits: payout.AmountUnits,
			BaseFee:     baseFee,
			Window:      chain.ValidityWindowFor(e.cfg.TxValidity),
			PaymentID:   payout.Identifier,
		})
		if err != nil {
			code := "build_failed"
			if errors.Is(err, chain.ErrMemoTooLong) {
				code = "memo_too_long"
			}
			return e.fail(ctx, payout, code, err)
		}

		signed, err := chain.Sign(tx, e.cfg.PayoutSeed, e.cfg.NetworkPassphrase)
		if err != nil {
			return e.fail(ctx, payout, "invalid_key", err)
		}

		// precomputed so a timed-out submission that still landed can be
		// completed with the platform
		hash, err := signed.HashHex(e.cfg.NetworkPassphrase)
		if err != nil {
			return e.fail(ctx, payout, "hash_failed", err)
		}

		sequence := signed.SourceAccount().Sequence
		payout.SequenceNumber = sequence
		payout.TxHash = hash
		payout.Attempts = cycle
		e.transition(payout, models.StatusSubmitted)

		metrics.PayoutsSubmitted.Inc()
		start := time.Now()
		result := e.gateway.Submit(signed)
		metrics.SubmissionDuration.Observe(time.Since(start).Seconds())
		log.WithFields(logrus.Fields{
			"outcome":  result.Outcome,
			"code":     result.Code,
			"sequence": sequence,
			"attempt":  cycle,
		}).Info("submission resolved")

		switch result.Outcome {
		case chain.OutcomeAccepted:
			return e.complete(ctx, payout, result.Hash)

		case chain.OutcomeRejectedTerminal:
			payout.LastErrorCode = result.Code
			payout.FeePlausiblySpent = result.FeeCharged
			e.transition(payout, models.StatusFailed)
			metrics.PayoutsFailed.WithLabelValues(result.Code).Inc()
			return fmt.Errorf("submission rejected: %s", result.Code)

		case chain.OutcomeRejectedRetryable:
			payout.LastErrorCode = result.Code
			continue

		case chain.OutcomeTimedOut:
			// ambiguous: the envelope may have landed. Never assume either
			// way; check whether the sequence slot was consumed.
			advanced, err := e.gateway.SequenceAdvanced(payout.SourceAccount, sequence)
			if err != nil {
				// cannot prove absence, so retrying would risk a duplicate.
				// Leave the row submitted for Reconcile to resolve.
				payout.LastErrorCode = "submission_unresolved"
				e.transition(payout, models.StatusSubmitted)
				return fmt.Errorf("%w: %v", ErrUnresolved, err)
			}
			if advanced {
				return e.complete(ctx, payout, hash)
			}
			payout.LastErrorCode = "tx_timeout"
			continue
		}
	}

	e.transition(payout, models.StatusFailed)
	metrics.PayoutsFailed.WithLabelValues("retries_exhausted").Inc()
	return fmt.Errorf("%w after %d attempts, last error %s", ErrRetriesExhausted, e.cfg.MaxRetries, payout.LastErrorCode)
}

// complete reports the transaction hash to the platform. The chain state is
// already final here, so only the completion call is retried, never the
// submission. The call is idempotent by payment identifier.
func (e *Engine) complete(ctx context.Context, payout *models.Payout, hash string) error {
	payout.TxHash = hash

	var err error
	for i := 0; i <= e.cfg.MaxRetries; i++ {
		if err = e.platform.CompletePayment(ctx, payout.Identifier, hash); err == nil {
			payout.LastErrorCode = ""
			e.transition(payout, models.StatusCompleted)
			metrics.PayoutsCompleted.Inc()
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(e.cfg.RetryBackoff * time.Duration(i+1)):
		case <-ctx.Done():
		}
	}

	// the transfer is committed on-chain but the platform was not told; keep
	// the row submitted so Reconcile can finish the job
	payout.LastErrorCode = "complete_call_failed"
	e.transition(payout, models.StatusSubmitted)
	return fmt.Errorf("transaction %s committed but completion call failed: %w", hash, err)
}

// fail handles non-retryable errors from the sequence/build/sign pipeline.
// Nothing reached the network on this attempt; if nothing ever did, the
// platform record is cancelled so it cannot dangle. A record that had an
// earlier submission attempt is left alone for manual reconciliation.
func (e *Engine) fail(ctx context.Context, payout *models.Payout, code string, cause error) error {
	if payout.Attempts == 0 {
		if cerr := e.platform.CancelPayment(ctx, payout.Identifier); cerr != nil {
			e.log.WithError(cerr).WithField("identifier", payout.Identifier).Warn("failed to cancel platform payment")
		}
	}
	payout.LastErrorCode = code
	e.transition(payout, models.StatusFailed)
	metrics.PayoutsFailed.WithLabelValues(code).Inc()
	return cause
}

func (e *Engine) abandon(payout *models.Payout, code string) error {
	// best effort: the caller's context is gone
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
	defer cancel()
	if payout.Attempts == 0 {
		if cerr := e.platform.CancelPayment(ctx, payout.Identifier); cerr != nil {
			e.log.WithError(cerr).WithField("identifier", payout.Identifier).Warn("failed to cancel platform payment")
		}
	}
	payout.LastErrorCode = code
	e.transition(payout, models.StatusCancelled)
	return context.Canceled
}

func (e *Engine) transition(payout *models.Payout, status string) {
	payout.Status = status
	if err := e.db.Save(payout).Error; err != nil {
		e.log.WithError(err).WithField("payout", payout.ID).Error("failed to persist state transition")
	}
}

// Cancel abandons a payout that never reached the network: rows still in
// created or retry_pending, typically left behind by a crash. A submitted
// row is never cancellable; its transaction may already have committed.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Payout, error) {
	var payout models.Payout
	if err := e.db.First(&payout, "id = ?", id).Error; err != nil {
		return nil, err
	}

	if payout.Status != models.StatusCreated && payout.Status != models.StatusRetryPending {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCancellable, payout.Status)
	}

	if err := e.platform.CancelPayment(ctx, payout.Identifier); err != nil {
		return nil, err
	}

	payout.Status = models.StatusCancelled
	if err := e.db.Save(&payout).Error; err != nil {
		return nil, fmt.Errorf("failed to persist cancellation: %w", err)
	}
	return &payout, nil
}

// Reconcile resolves submitted rows left behind by a previous process. If
// the sequence slot was consumed, the stored hash is reported to the
// platform; the platform verifies the memo linkage before marking the
// payment complete, so a false positive from an unrelated sequence advance
// cannot complete the wrong record. Unconsumed slots drop to retry_pending
// for operator handling.
func (e *Engine) Reconcile(ctx context.Context) error {
	var pending []models.Payout
	if err := e.db.Where("status = ?", models.StatusSubmitted).Find(&pending).Error; err != nil {
		return fmt.Errorf("failed to load unresolved payouts: %w", err)
	}

	for i := range pending {
		payout := &pending[i]
		advanced, err := e.gateway.SequenceAdvanced(payout.SourceAccount, payout.SequenceNumber)
		if err != nil {
			e.log.WithError(err).WithField("payout", payout.ID).Warn("reconcile check failed")
			continue
		}
		if advanced && payout.TxHash != "" {
			if err := e.complete(ctx, payout, payout.TxHash); err != nil {
				e.log.WithError(err).WithField("payout", payout.ID).Warn("reconcile completion failed")
			}
			continue
		}
		payout.LastErrorCode = "orphaned_submission"
		e.transition(payout, models.StatusRetryPending)
	}
	return nil
}
