// Package payment sends payments on behalf of hub users.
//
// One submission walks these states:
//
//	Idle -> LockAcquired -> BalanceChecked -> RouteResolved
//	     -> InternalSettlement | ExternalSendInFlight
//	     -> Settled | Failed -> LockReleased
//
// The per-user payment lock is held from LockAcquired until LockReleased and
// is released on every exit path. External payments reserve funds before the
// node sees them; the reservation outlives the lock only when the node gave
// no verdict, in which case the locked-payment sweep settles it later.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"lnhub/internal/apierr"
	"lnhub/internal/invoices"
	"lnhub/internal/ledger"
	"lnhub/internal/lnd"
	"lnhub/internal/lock"
	"lnhub/internal/queue"
	"lnhub/pkg/logger"

	"go.uber.org/zap"
)

// State is a step of one payment submission.
type State string

const (
	Idle                 State = "idle"
	LockAcquired         State = "lock_acquired"
	BalanceChecked       State = "balance_checked"
	RouteResolved        State = "route_resolved"
	InternalSettlement   State = "internal_settlement"
	ExternalSendInFlight State = "external_send_in_flight"
	Settled              State = "settled"
	Failed               State = "failed"
	LockReleased         State = "lock_released"
)

// SettlementNotifier is told about invoices settled without the node.
type SettlementNotifier interface {
	InvoiceSettled(ctx context.Context, msg queue.InvoiceSettledMessage) error
}

// Config holds the workflow's own settings. The forward reserve fee comes
// from the balance engine so admission and reservation agree.
type Config struct {
	// IntraHubFee is what the hub charges per payment.
	IntraHubFee float64
	// Timeout bounds how long the node may spend routing.
	Timeout time.Duration
}

// Request asks to pay Invoice from UserID's balance.
type Request struct {
	UserID  string
	Invoice string
	// Amount is used only for zero-amount invoices.
	Amount int64
}

// Result is the outcome reported to the wallet client.
type Result struct {
	PaymentError    string      `json:"payment_error"`
	PaymentHash     string      `json:"payment_hash"`
	PaymentPreimage string      `json:"payment_preimage"`
	PaymentRoute    *lnd.Route  `json:"payment_route,omitempty"`
	PayReq          string      `json:"pay_req"`
	Decoded         *lnd.PayReq `json:"decoded"`

	Internal bool  `json:"-"`
	State    State `json:"-"`
}

// Workflow runs payment submissions against the ledger and the node.
type Workflow struct {
	locker   *lock.Locker
	engine   *ledger.Engine
	invoices *invoices.Ledger
	node     lnd.NodeClient
	notifier SettlementNotifier
	identity string
	cfg      Config
	now      func() time.Time
}

// NewWorkflow builds a workflow for the node whose identity pubkey is
// identity. Invoices addressed to it are settled internally.
func NewWorkflow(locker *lock.Locker, engine *ledger.Engine, inv *invoices.Ledger, node lnd.NodeClient, notifier SettlementNotifier, identity string, cfg Config) *Workflow {
	return &Workflow{
		locker:   locker,
		engine:   engine,
		invoices: inv,
		node:     node,
		notifier: notifier,
		identity: identity,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (w *Workflow) reserve(amount int64) int64 {
	return w.engine.Reserve(amount)
}

func (w *Workflow) hubFee(amount int64) int64 {
	return int64(math.Floor(float64(amount) * w.cfg.IntraHubFee))
}

// attempt tracks one submission through the state machine.
type attempt struct {
	req   Request
	state State
	hash  string
}

func (a *attempt) to(s State) {
	a.state = s
	logger.Debug("Payment state",
		zap.String("user_id", a.req.UserID),
		zap.String("payment_hash", a.hash),
		zap.String("state", string(s)),
	)
}

// Pay runs one submission to completion. It does not stop when ctx is
// cancelled: abandoning a payment halfway would orphan its reservation.
// Every error returned is an *apierr.Error.
func (w *Workflow) Pay(ctx context.Context, req Request) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	a := &attempt{req: req, state: Idle}

	if req.UserID == "" {
		return nil, apierr.BadAuth
	}
	if req.Invoice == "" {
		return nil, apierr.BadArguments.WithMessage("invoice is required")
	}

	key := lock.PayingFor(req.UserID)
	ok, err := w.locker.Obtain(ctx, key)
	if err != nil {
		return nil, apierr.GeneralServerError.Wrap(err)
	}
	if !ok {
		return nil, apierr.GeneralServerError.Wrap(lock.ErrLockHeld)
	}
	a.to(LockAcquired)
	defer func() {
		if relErr := w.locker.Release(ctx, key); relErr != nil {
			logger.Error("Payment lock not released", zap.String("user_id", req.UserID), zap.Error(relErr))
		}
		a.to(LockReleased)
	}()

	balance, err := w.engine.Calculate(ctx, req.UserID)
	if err != nil {
		logger.Error("Balance calculation failed", zap.String("user_id", req.UserID), zap.Error(err))
		return nil, apierr.TryAgainLater.Wrap(err)
	}

	decoded, err := w.node.DecodePayReq(ctx, req.Invoice)
	if err != nil {
		return nil, apierr.NotAValidInvoice.Wrap(err)
	}
	a.hash = decoded.PaymentHash

	amount := decoded.NumSatoshis
	if amount == 0 {
		amount = req.Amount
	}
	if balance < amount+w.reserve(amount)+1 {
		a.to(Failed)
		return nil, apierr.NotEnoughBalance
	}
	a.to(BalanceChecked)

	if amount <= 0 {
		a.to(Failed)
		return nil, apierr.BadArguments.WithMessage("amount is required for zero-amount invoices")
	}
	a.to(RouteResolved)

	var res *Result
	if decoded.Destination == w.identity {
		a.to(InternalSettlement)
		res, err = w.payInternal(ctx, req, decoded, amount)
	} else {
		a.to(ExternalSendInFlight)
		res, err = w.payExternal(ctx, req, decoded, amount)
	}
	if err != nil {
		a.to(Failed)
		return nil, err
	}
	a.to(Settled)
	res.State = Settled
	return res, nil
}

// payInternal settles an invoice issued by this hub by moving balance
// between two users. Nothing is routed.
func (w *Workflow) payInternal(ctx context.Context, req Request, decoded *lnd.PayReq, amount int64) (*Result, error) {
	var res *Result
	err := w.locker.With(ctx, lock.SettlingInvoice(decoded.PaymentHash), func() error {
		var err error
		res, err = w.settleInternal(ctx, req, decoded, amount)
		return err
	})
	if errors.Is(err, lock.ErrLockHeld) {
		return nil, apierr.TryAgainLater.WithMessage("This invoice is being paid. Try again later").Wrap(err)
	}
	if err != nil {
		var e *apierr.Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, apierr.GeneralServerError.Wrap(err)
	}
	return res, nil
}

// settleInternal runs while the invoice's settling slot is held.
func (w *Workflow) settleInternal(ctx context.Context, req Request, decoded *lnd.PayReq, amount int64) (*Result, error) {
	hash := decoded.PaymentHash

	payee, err := w.invoices.OwnerOf(ctx, hash)
	if err != nil {
		return nil, apierr.GeneralServerError.Wrap(err)
	}
	paid, err := w.invoices.IsPaid(ctx, hash)
	if err != nil {
		return nil, apierr.GeneralServerError.Wrap(err)
	}
	if paid > 0 {
		return nil, apierr.NodeError.WithMessage("This invoice has already been paid").Wrap(errors.New("duplicate internal payment"))
	}

	w.clearCaches(ctx, payee, req.UserID)

	fee := w.hubFee(amount)
	payments := w.engine.Payments()
	err = payments.AddTransaction(ctx, req.UserID, ledger.Transaction{
		Type:        ledger.PaidInvoice,
		Value:       amount + fee,
		Fee:         fee,
		Timestamp:   w.now().Unix(),
		Memo:        decoded.Description,
		PaymentHash: hash,
		PayReq:      req.Invoice,
	})
	if err != nil {
		return nil, apierr.GeneralServerError.Wrap(err)
	}
	if err := w.invoices.MarkPaid(ctx, hash, amount); err != nil {
		return nil, apierr.GeneralServerError.Wrap(err)
	}
	payments.Record(ctx, ledger.JournalEntry{
		UserID:      payee,
		Kind:        ledger.KindInvoiceSettled,
		PaymentHash: hash,
		AmountSat:   amount,
		Memo:        decoded.Description,
	})
	// A concurrent read may have cached a balance between the first clear
	// and the writes above.
	w.clearCaches(ctx, payee, req.UserID)

	preimage, err := w.invoices.Preimage(ctx, hash)
	if err != nil {
		logger.Warn("Could not load preimage for internal payment", zap.String("payment_hash", hash), zap.Error(err))
	}
	if preimage != "" && w.notifier != nil {
		err := w.notifier.InvoiceSettled(ctx, queue.InvoiceSettledMessage{
			PaymentHash: hash,
			Preimage:    preimage,
			AmtPaidSat:  amount,
			SettledAt:   w.now().Unix(),
			Internal:    true,
		})
		if err != nil {
			logger.Warn("Failed to publish internal settlement", zap.String("payment_hash", hash), zap.Error(err))
		}
	}

	logger.Info("Internal payment settled",
		zap.String("payer", req.UserID),
		zap.String("payee", payee),
		zap.String("payment_hash", hash),
		zap.Int64("amt", amount),
	)
	return &Result{
		PaymentHash:     hash,
		PaymentPreimage: preimage,
		PayReq:          req.Invoice,
		Decoded:         decoded,
		Internal:        true,
	}, nil
}

// payExternal reserves the funds, hands the invoice to the node and waits
// for its single verdict.
func (w *Workflow) payExternal(ctx context.Context, req Request, decoded *lnd.PayReq, amount int64) (*Result, error) {
	payments := w.engine.Payments()
	if err := payments.LockFunds(ctx, req.UserID, req.Invoice, amount); err != nil {
		return nil, apierr.GeneralServerError.Wrap(err)
	}
	w.clearCaches(ctx, req.UserID)

	send := lnd.SendPaymentRequest{
		PaymentRequest: req.Invoice,
		FeeLimitSat:    w.reserve(amount) + 1,
		TimeoutSeconds: int32(w.cfg.Timeout / time.Second),
	}
	if decoded.NumSatoshis == 0 {
		send.AmtSat = amount
	}

	results, err := w.node.SendPayment(ctx, send)
	if err != nil {
		w.unlock(ctx, req.UserID, req.Invoice)
		return nil, apierr.PaymentFailed.Wrap(err)
	}

	outcome, ok := <-results
	if !ok || (outcome.Status == lnd.PaymentSucceeded && outcome.Route == nil) {
		outcome = lnd.PaymentResult{Status: lnd.PaymentUnknown, Err: lnd.ErrMalformedResponse}
	}

	switch outcome.Status {
	case lnd.PaymentSucceeded:
		res, recorded := w.recordSuccess(ctx, req, decoded, outcome)
		if recorded {
			w.unlock(ctx, req.UserID, req.Invoice)
		}
		return res, nil

	case lnd.PaymentFailed:
		w.unlock(ctx, req.UserID, req.Invoice)
		logger.Info("Payment failed",
			zap.String("user_id", req.UserID),
			zap.String("payment_hash", decoded.PaymentHash),
			zap.String("reason", outcome.FailureReason),
		)
		return nil, apierr.PaymentFailed.Wrap(errors.New(outcome.FailureReason))

	default:
		// No verdict. The reservation stays until the sweep finds the
		// payment in the node's history or it goes stale.
		logger.Warn("Payment outcome unknown, keeping reservation",
			zap.String("user_id", req.UserID),
			zap.String("payment_hash", decoded.PaymentHash),
			zap.Error(outcome.Err),
		)
		return nil, apierr.TryAgainLater.Wrap(fmt.Errorf("payment %s in flight: %w", decoded.PaymentHash, outcome.Err))
	}
}

// recordSuccess persists the payment with the hub fee added to the routing
// fees. If the write fails the reservation is kept so the sweep can record
// the payment from the node's history instead.
func (w *Workflow) recordSuccess(ctx context.Context, req Request, decoded *lnd.PayReq, outcome lnd.PaymentResult) (*Result, bool) {
	route := *outcome.Route
	route.TotalFees += w.hubFee(route.TotalAmt)
	route.TotalFeesMsat = route.TotalFees * 1000

	hash := outcome.PaymentHash
	if hash == "" {
		hash = decoded.PaymentHash
	}

	res := &Result{
		PaymentHash:     hash,
		PaymentPreimage: outcome.Preimage,
		PaymentRoute:    &route,
		PayReq:          req.Invoice,
		Decoded:         decoded,
	}

	err := w.engine.Payments().AddTransaction(ctx, req.UserID, ledger.Transaction{
		Type:        ledger.PaidInvoice,
		Timestamp:   w.now().Unix(),
		Memo:        decoded.Description,
		PaymentHash: hash,
		Preimage:    outcome.Preimage,
		PayReq:      req.Invoice,
		Route:       &route,
	})
	if err != nil {
		logger.Error("Paid but failed to record transaction; leaving reservation for the sweep",
			zap.String("user_id", req.UserID),
			zap.String("payment_hash", hash),
			zap.Error(err),
		)
		return res, false
	}
	w.clearCaches(ctx, req.UserID)

	logger.Info("Payment settled",
		zap.String("user_id", req.UserID),
		zap.String("payment_hash", hash),
		zap.Int64("total_amt", route.TotalAmt),
		zap.Int64("total_fees", route.TotalFees),
	)
	return res, true
}

func (w *Workflow) unlock(ctx context.Context, userID, payReq string) {
	if err := w.engine.Payments().UnlockFunds(ctx, userID, payReq); err != nil {
		logger.Error("Failed to unlock funds", zap.String("user_id", userID), zap.Error(err))
	}
	w.clearCaches(ctx, userID)
}

func (w *Workflow) clearCaches(ctx context.Context, userIDs ...string) {
	for _, id := range userIDs {
		if err := w.engine.ClearCache(ctx, id); err != nil {
			logger.Warn("Failed to clear balance cache", zap.String("user_id", id), zap.Error(err))
		}
	}
}
