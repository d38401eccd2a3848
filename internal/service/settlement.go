package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/iliyamo/parking-settlement/internal/gateway"
	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/queue"
	"github.com/iliyamo/parking-settlement/internal/repository"
)

// Policy selects when ledger deltas are applied.
type Policy string

const (
	// PolicyConfirmed holds the fee on gateway acceptance and moves money
	// only when the PAID callback arrives.
	PolicyConfirmed Policy = "confirmed"
	// PolicyOptimistic moves money on gateway acceptance and reverses it
	// on a FAILED callback.
	PolicyOptimistic Policy = "optimistic"
)

// ParsePolicy maps a config string onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyConfirmed, PolicyOptimistic:
		return Policy(s), nil
	case "":
		return PolicyConfirmed, nil
	}
	return "", invalid("settlement_policy", fmt.Sprintf("unknown policy %q", s))
}

// SettlementConfig tunes the coordinator.
type SettlementConfig struct {
	Policy            Policy
	DefaultTillNumber string
	GatewayTimeout    time.Duration
}

// maxTransitionAttempts bounds the reload-and-retry loop when a callback
// races with acceptance or with another callback.
const maxTransitionAttempts = 5

// Coordinator drives payment records through the gateway and applies the
// matching ledger deltas.  Every balance change goes through
// LedgerStore.ApplyTransition, so a payment can move money at most once
// per transition no matter how many callbacks arrive.
type Coordinator struct {
	ledger   LedgerStore
	sessions SessionStore
	accounts AccountStore
	gateway  PaymentGateway
	events   EventSink
	cfg      SettlementConfig
	now      func() time.Time
}

// NewCoordinator wires a Coordinator.  events may be nil.
func NewCoordinator(ledger LedgerStore, sessions SessionStore, accounts AccountStore, gw PaymentGateway, events EventSink, cfg SettlementConfig) *Coordinator {
	if ledger == nil || sessions == nil || accounts == nil || gw == nil {
		panic("nil dependency passed to NewCoordinator")
	}
	if events == nil {
		events = discardSink{}
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyConfirmed
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = gateway.DefaultTimeout
	}
	return &Coordinator{
		ledger:   ledger,
		sessions: sessions,
		accounts: accounts,
		gateway:  gw,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Policy reports the configured ledger policy.
func (c *Coordinator) Policy() Policy { return c.cfg.Policy }

// fullDelta is the complete money movement a payment stands for.
func fullDelta(p model.PaymentRecord) model.LedgerDelta {
	if p.Kind == model.PaymentKindTopUp {
		return model.LedgerDelta{UserID: p.UserID, Driver: p.Amount}
	}
	d := model.LedgerDelta{
		UserID:  p.UserID,
		Driver:  p.Amount.Neg(),
		Central: p.PlatformShare,
	}
	if p.ClientID.Valid {
		d.ClientID = uint64(p.ClientID.Int64)
		d.Client = p.ClientShare
	} else {
		// A lot without an owner pays its share into the central till.
		d.Central = d.Central.Add(p.ClientShare)
	}
	return d
}

// holdDelta reserves (or with release=true, frees) the payment amount on
// the driver balance.
func holdDelta(p model.PaymentRecord, release bool) model.LedgerDelta {
	amt := p.Amount
	if release {
		amt = amt.Neg()
	}
	return model.LedgerDelta{UserID: p.UserID, DriverHold: amt}
}

// SettleSession starts payment for a session that has just been closed.
// It returns the payment record in its post-request state.  Gateway
// failures come back as ErrGatewayUnavailable or ErrGatewayRejected and
// leave the session PENDING_RECONCILIATION.
func (c *Coordinator) SettleSession(ctx context.Context, s model.ParkingSession) (model.PaymentRecord, error) {
	if !s.IsClosed() || !s.Fee.Valid {
		return model.PaymentRecord{}, fmt.Errorf("%w: session %d has no fee", ErrInternalInconsistency, s.ID)
	}
	if s.Status != model.SessionPendingReconciliation {
		return model.PaymentRecord{}, ErrNotReconcilable
	}
	driver, err := c.accounts.GetDriver(ctx, s.UserID)
	if err != nil {
		return model.PaymentRecord{}, notFoundAs(err, ErrNotFound)
	}
	phone, err := NormalizePhone(driver.PhoneNumber)
	if err != nil {
		phone = driver.PhoneNumber
	}
	till := c.cfg.DefaultTillNumber
	if s.ClientID.Valid {
		if cl, err := c.accounts.GetClient(ctx, uint64(s.ClientID.Int64)); err == nil && cl.TillNumber != "" {
			till = cl.TillNumber
		}
	}

	orderID := fmt.Sprintf("park-%d", s.ID)
	if _, err := c.ledger.LatestPayment(ctx, model.PaymentKindParking, s.ID); err == nil {
		orderID = fmt.Sprintf("park-%d-%s", s.ID, uuid.NewString()[:8])
	}
	p := model.PaymentRecord{
		Kind:          model.PaymentKindParking,
		SessionID:     s.ID,
		OrderID:       orderID,
		UserID:        s.UserID,
		ClientID:      s.ClientID,
		Amount:        s.Fee.Decimal,
		PlatformShare: s.PlatformShare.Decimal,
		ClientShare:   s.ClientShare.Decimal,
		Status:        model.PaymentPending,
		LedgerState:   model.LedgerNone,
	}
	if err := c.ledger.CreatePayment(ctx, &p); err != nil {
		return model.PaymentRecord{}, fmt.Errorf("create payment: %w", err)
	}

	if p.Amount.IsZero() {
		out, err := c.ledger.ApplyTransition(ctx, model.PaymentTransition{
			PaymentID:     p.ID,
			FromStatus:    model.PaymentPending,
			FromLedger:    model.LedgerNone,
			ToStatus:      model.PaymentPaid,
			ToLedger:      model.LedgerApplied,
			SessionStatus: model.SessionCompleted,
		})
		if err != nil {
			return model.PaymentRecord{}, fmt.Errorf("settle zero fee: %w", err)
		}
		c.emitPayment(ctx, queue.EventPaymentSettled, out, "zero fee, gateway skipped")
		return out, nil
	}

	return c.request(ctx, p, gateway.PaymentRequest{
		OrderID:        p.OrderID,
		UserID:         p.UserID,
		Amount:         p.Amount.StringFixed(2),
		TillNumber:     till,
		PhoneNumber:    phone,
		IdempotencyKey: uuid.NewString(),
	})
}

// request calls the gateway for a freshly created PENDING payment and
// records the outcome.
func (c *Coordinator) request(ctx context.Context, p model.PaymentRecord, req gateway.PaymentRequest) (model.PaymentRecord, error) {
	gctx, cancel := context.WithTimeout(ctx, c.cfg.GatewayTimeout)
	acc, gerr := c.gateway.RequestPayment(gctx, req)
	cancel()

	if gerr != nil {
		return c.recordGatewayError(ctx, p, gerr)
	}

	t := model.PaymentTransition{
		PaymentID:   p.ID,
		FromStatus:  model.PaymentPending,
		FromLedger:  model.LedgerNone,
		ExternalRef: externalRef(acc.Reference),
	}
	switch c.cfg.Policy {
	case PolicyOptimistic:
		t.ToStatus, t.ToLedger, t.Delta = model.PaymentPending, model.LedgerApplied, fullDelta(p)
	default:
		t.ToStatus, t.ToLedger = model.PaymentReserved, model.LedgerNone
		if p.Kind == model.PaymentKindParking {
			t.ToLedger, t.Delta = model.LedgerHeld, holdDelta(p, false)
		}
	}
	if p.Kind == model.PaymentKindParking {
		t.SessionStatus = model.SessionCompleted
	}

	out, err := c.ledger.ApplyTransition(ctx, t)
	if errors.Is(err, repository.ErrStaleState) {
		// The callback got here first and already settled the payment.
		cur, gerr := c.ledger.GetPayment(ctx, p.ID)
		if gerr != nil {
			return model.PaymentRecord{}, gerr
		}
		log.Printf("settlement: payment %d already %s when acceptance was recorded", p.ID, cur.Status)
		return cur, nil
	}
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("record acceptance: %w", err)
	}
	c.emitPayment(ctx, queue.EventPaymentAccepted, out, acc.Message)
	return out, nil
}

// recordGatewayError classifies a gateway failure.  A rejection is final
// and fails the payment.  Unavailability leaves the payment PENDING with
// a reason, since the processor may still have taken it.
func (c *Coordinator) recordGatewayError(ctx context.Context, p model.PaymentRecord, gerr error) (model.PaymentRecord, error) {
	var rej *gateway.RejectedError
	if errors.As(gerr, &rej) {
		t := model.PaymentTransition{
			PaymentID:     p.ID,
			FromStatus:    model.PaymentPending,
			FromLedger:    model.LedgerNone,
			ToStatus:      model.PaymentFailed,
			ToLedger:      model.LedgerNone,
			FailureReason: truncate(rej.Reason, maxFailureReason),
		}
		if p.Kind == model.PaymentKindTopUp {
			t.TopUpStatus = model.TopUpFailed
		}
		out, err := c.ledger.ApplyTransition(ctx, t)
		if err != nil {
			log.Printf("settlement: could not mark payment %d failed: %v", p.ID, err)
			out = p
		}
		c.emitPayment(ctx, queue.EventPaymentFailed, out, rej.Reason)
		return out, fmt.Errorf("%w: %s", ErrGatewayRejected, rej.Reason)
	}

	reason := gerr.Error()
	out, err := c.ledger.ApplyTransition(ctx, model.PaymentTransition{
		PaymentID:     p.ID,
		FromStatus:    model.PaymentPending,
		FromLedger:    model.LedgerNone,
		ToStatus:      model.PaymentPending,
		ToLedger:      model.LedgerNone,
		FailureReason: truncate(reason, maxFailureReason),
	})
	if err != nil {
		log.Printf("settlement: could not annotate payment %d: %v", p.ID, err)
		out = p
	}
	log.Printf("settlement: gateway unavailable for payment %d (%s): %v", p.ID, p.OrderID, gerr)
	return out, fmt.Errorf("%w: %v", ErrGatewayUnavailable, gerr)
}

// CallbackResult reports what a callback did.
type CallbackResult struct {
	Payment   model.PaymentRecord
	Duplicate bool
}

// HandleCallback applies a PAID or FAILED outcome to a payment.  A repeat
// of the status the payment already has is acknowledged as a duplicate
// and changes nothing; a different terminal status is ErrStatusConflict.
func (c *Coordinator) HandleCallback(ctx context.Context, cb gateway.Callback) (CallbackResult, error) {
	status := model.PaymentStatus(cb.NormalizedStatus())
	if status != model.PaymentPaid && status != model.PaymentFailed {
		return CallbackResult{}, invalid("status", "must be PAID or FAILED")
	}
	p, err := c.resolvePayment(ctx, cb)
	if err != nil {
		return CallbackResult{}, err
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		if p.Status.Terminal() {
			if p.Status == status {
				return CallbackResult{Payment: p, Duplicate: true}, nil
			}
			log.Printf("settlement: conflicting callback for payment %d: have %s, got %s", p.ID, p.Status, status)
			return CallbackResult{Payment: p}, ErrStatusConflict
		}

		t := c.callbackTransition(p, status, externalRef(cb.Reference()))
		out, err := c.ledger.ApplyTransition(ctx, t)
		if errors.Is(err, repository.ErrStaleState) {
			if p, err = c.ledger.GetPayment(ctx, p.ID); err != nil {
				return CallbackResult{}, err
			}
			continue
		}
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				log.Printf("settlement: ANOMALY applying payment %d: %v", p.ID, err)
				return CallbackResult{}, fmt.Errorf("%w: %v", ErrInternalInconsistency, err)
			}
			return CallbackResult{}, fmt.Errorf("apply callback: %w", err)
		}

		typ := queue.EventPaymentSettled
		if status == model.PaymentFailed {
			typ = queue.EventPaymentFailed
		} else if out.Kind == model.PaymentKindTopUp {
			typ = queue.EventTopUpCredited
		}
		c.emitPayment(ctx, typ, out, "")
		return CallbackResult{Payment: out}, nil
	}
	return CallbackResult{}, fmt.Errorf("apply callback: payment %d kept changing: %w", p.ID, ErrConflict)
}

// callbackTransition computes the transition that takes p to status given
// what p has already done to the ledgers.
func (c *Coordinator) callbackTransition(p model.PaymentRecord, status model.PaymentStatus, ref string) model.PaymentTransition {
	t := model.PaymentTransition{
		PaymentID:   p.ID,
		FromStatus:  p.Status,
		FromLedger:  p.LedgerState,
		ToStatus:    status,
		ExternalRef: ref,
	}
	full := fullDelta(p)
	if status == model.PaymentPaid {
		t.ToLedger = model.LedgerApplied
		switch p.LedgerState {
		case model.LedgerNone:
			t.Delta = full
		case model.LedgerHeld:
			t.Delta = full.Add(holdDelta(p, true))
		}
		t.SessionStatus, t.TopUpStatus = model.SessionCompleted, model.TopUpCompleted
	} else {
		t.ToLedger = model.LedgerNone
		switch p.LedgerState {
		case model.LedgerHeld:
			t.Delta = holdDelta(p, true)
		case model.LedgerApplied:
			t.Delta = full.Neg()
		}
		t.SessionStatus, t.TopUpStatus = model.SessionFailed, model.TopUpFailed
		t.FailureReason = "processor reported FAILED"
	}
	if p.Kind == model.PaymentKindParking {
		t.TopUpStatus = ""
	} else {
		t.SessionStatus = ""
	}
	return t
}

func (c *Coordinator) resolvePayment(ctx context.Context, cb gateway.Callback) (model.PaymentRecord, error) {
	var (
		p   model.PaymentRecord
		err error
	)
	switch {
	case cb.OrderID != "":
		p, err = c.ledger.PaymentByOrderID(ctx, cb.OrderID)
	case cb.PaymentID != 0:
		p, err = c.ledger.GetPayment(ctx, cb.PaymentID)
	case cb.ParkingTransactionID != 0:
		p, err = c.ledger.LatestPayment(ctx, model.PaymentKindParking, cb.ParkingTransactionID)
	default:
		return model.PaymentRecord{}, invalid("order_id", "one of order_id, payment_id or parking_transaction_id is required")
	}
	if err != nil {
		return model.PaymentRecord{}, notFoundAs(err, ErrPaymentNotFound)
	}
	return p, nil
}

// RetrySettlement issues a new payment request for a session left
// PENDING_RECONCILIATION by a failed gateway call.  An earlier attempt
// whose outcome is still unknown is marked FAILED first so that at most
// one attempt can ever be PAID.
func (c *Coordinator) RetrySettlement(ctx context.Context, sessionID uint64) (model.PaymentRecord, error) {
	s, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return model.PaymentRecord{}, notFoundAs(err, ErrSessionNotFound)
	}
	if s.Status != model.SessionPendingReconciliation {
		return model.PaymentRecord{}, ErrNotReconcilable
	}
	prev, err := c.ledger.LatestPayment(ctx, model.PaymentKindParking, s.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return model.PaymentRecord{}, err
	case prev.Status == model.PaymentPending && prev.LedgerState == model.LedgerNone:
		_, err := c.ledger.ApplyTransition(ctx, model.PaymentTransition{
			PaymentID:     prev.ID,
			FromStatus:    model.PaymentPending,
			FromLedger:    model.LedgerNone,
			ToStatus:      model.PaymentFailed,
			ToLedger:      model.LedgerNone,
			FailureReason: "superseded by retry",
		})
		if errors.Is(err, repository.ErrStaleState) {
			return model.PaymentRecord{}, ErrNotReconcilable
		}
		if err != nil {
			return model.PaymentRecord{}, err
		}
	case !prev.Status.Terminal():
		return model.PaymentRecord{}, ErrNotReconcilable
	}
	return c.SettleSession(ctx, s)
}

// TopUpResult is returned by InitiateTopUp.
type TopUpResult struct {
	TopUp   model.TopUpSession
	Payment model.PaymentRecord
}

// InitiateTopUp starts a mobile-money collection that credits the
// driver's balance once it is paid.  The phone number must be the one on
// the driver's account.
func (c *Coordinator) InitiateTopUp(ctx context.Context, userID uint64, amountRaw, phoneRaw string) (TopUpResult, error) {
	amount, err := ParseAmount(amountRaw)
	if err != nil {
		return TopUpResult{}, err
	}
	phone, err := NormalizePhone(phoneRaw)
	if err != nil {
		return TopUpResult{}, err
	}
	driver, err := c.accounts.GetDriver(ctx, userID)
	if err != nil {
		return TopUpResult{}, notFoundAs(err, ErrNotFound)
	}
	if dp, err := NormalizePhone(driver.PhoneNumber); err != nil || dp != phone {
		return TopUpResult{}, invalid("phone_number", "does not match user account")
	}

	t := model.TopUpSession{
		UserID:        userID,
		Amount:        amount,
		PhoneNumber:   phone,
		Status:        model.TopUpPending,
		PaymentStatus: model.PaymentPending,
	}
	if err := c.sessions.CreateTopUp(ctx, &t); err != nil {
		return TopUpResult{}, fmt.Errorf("create topup: %w", err)
	}
	p := model.PaymentRecord{
		Kind:        model.PaymentKindTopUp,
		SessionID:   t.ID,
		OrderID:     fmt.Sprintf("topup-%d-%d-%d", userID, c.now().Unix(), t.ID),
		UserID:      userID,
		Amount:      amount,
		Status:      model.PaymentPending,
		LedgerState: model.LedgerNone,
	}
	if err := c.ledger.CreatePayment(ctx, &p); err != nil {
		return TopUpResult{}, fmt.Errorf("create payment: %w", err)
	}

	out, err := c.request(ctx, p, gateway.PaymentRequest{
		OrderID:        p.OrderID,
		UserID:         userID,
		Amount:         amount.StringFixed(2),
		TillNumber:     c.cfg.DefaultTillNumber,
		PhoneNumber:    phone,
		IdempotencyKey: uuid.NewString(),
	})
	if cur, gerr := c.sessions.GetTopUp(ctx, t.ID); gerr == nil {
		t = cur
	}
	return TopUpResult{TopUp: t, Payment: out}, err
}

func (c *Coordinator) emitPayment(ctx context.Context, typ string, p model.PaymentRecord, msg string) {
	ev := queue.NewEvent(typ)
	ev.PaymentID = p.ID
	ev.UserID = p.UserID
	ev.Amount = p.Amount.StringFixed(2)
	ev.Status = string(p.Status)
	ev.Message = msg
	if p.Kind == model.PaymentKindTopUp {
		ev.TopUpID = p.SessionID
	} else {
		ev.SessionID = p.SessionID
	}
	c.events.Emit(ctx, ev)
}

// Column widths of payment_records.
const (
	maxExternalRef   = 64
	maxFailureReason = 255
)

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// externalRef bounds a processor reference to what the store can hold.
func externalRef(ref string) string {
	if len(ref) > maxExternalRef {
		log.Printf("settlement: processor reference of %d bytes cut to %d", len(ref), maxExternalRef)
		return truncate(ref, maxExternalRef)
	}
	return ref
}
