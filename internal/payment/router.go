package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"remnashop-bot/internal/ledger"
	"remnashop-bot/internal/models"
	"remnashop-bot/internal/pricing"
	"remnashop-bot/internal/users"
)

// Outcome is what a confirmation attempt did to an order.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeActivated
	OutcomeAlreadyProcessed
	OutcomeExpired
	OutcomePending
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeActivated:
		return "activated"
	case OutcomeAlreadyProcessed:
		return "already_processed"
	case OutcomeExpired:
		return "expired"
	case OutcomePending:
		return "pending"
	case OutcomeNotFound:
		return "not_found"
	}
	return "ignored"
}

// amountTolerance absorbs rounding on the rail side.
var amountTolerance = decimal.New(1, -6)

const pendingCheckLimit = 5

// Provisioner creates the panel account for a user.
type Provisioner interface {
	EnsureAccount(ctx context.Context, user *models.User, tariff pricing.Descriptor, expireAt time.Time) (string, error)
}

type InvoiceSource interface {
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
}

// Notifier tells users what happened to their order.
type Notifier interface {
	OrderActivated(ctx context.Context, user *models.User, order *models.Order)
	ProvisioningFailed(ctx context.Context, user *models.User, order *models.Order)
}

// Alerter reaches the operator.
type Alerter interface {
	Alert(ctx context.Context, msg string, args ...any)
}

// Payment is what the rail says was collected.
type Payment struct {
	Ref      string
	Amount   decimal.Decimal
	Currency string
}

// Router funnels every confirmation path into one status transition. Only
// the caller that wins the transition provisions and notifies.
type Router struct {
	ledger      *ledger.Ledger
	users       *users.Repository
	provisioner Provisioner
	invoices    InvoiceSource
	notifier    Notifier
	alerter     Alerter
	now         func() time.Time
}

func NewRouter(l *ledger.Ledger, repo *users.Repository, p Provisioner, invoices InvoiceSource, n Notifier, a Alerter) *Router {
	return &Router{
		ledger:      l,
		users:       repo,
		provisioner: p,
		invoices:    invoices,
		notifier:    n,
		alerter:     a,
		now:         time.Now,
	}
}

// SetClock replaces the time source used for coverage windows.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// Confirm activates order after the rail reported payment.
func (r *Router) Confirm(ctx context.Context, order *models.Order, paid Payment) (Outcome, error) {
	log := slog.With("op", "confirm", "order_id", order.ID, "rail", order.Rail)

	if paid.Currency != "" && (paid.Currency != order.Currency || paid.Amount.Sub(order.Amount).Abs().GreaterThan(amountTolerance)) {
		r.alerter.Alert(ctx, "payment amount differs from order",
			"order_id", order.ID, "rail", order.Rail,
			"expected", order.Amount.String()+" "+order.Currency,
			"received", paid.Amount.String()+" "+paid.Currency)
	}

	tariff, err := pricing.ParseDescriptor(order.Tariff)
	if err != nil {
		r.alerter.Alert(ctx, "paid order has unreadable tariff", "order_id", order.ID, "tariff", order.Tariff)
		return OutcomeIgnored, fmt.Errorf("order %s: %w", order.ID, err)
	}

	start := r.now()
	applied, err := r.ledger.Transition(ctx, order.ID, models.StatusActive, &ledger.Activation{
		Start:      start,
		End:        tariff.End(start),
		PaymentRef: paid.Ref,
	})
	if errors.Is(err, ledger.ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeIgnored, err
	}

	current, err := r.ledger.Get(ctx, order.ID)
	if err != nil {
		return OutcomeIgnored, err
	}
	*order = *current

	if !applied {
		if current.Status == models.StatusExpired {
			r.alerter.Alert(ctx, "payment received for expired order", "order_id", order.ID, "rail", order.Rail, "payment_ref", paid.Ref)
			return OutcomeExpired, nil
		}
		log.Info("duplicate confirmation")
		return OutcomeAlreadyProcessed, nil
	}

	log.Info("order activated", "ends_at", order.EndsAt)
	user, err := r.Fulfil(ctx, order)
	if err != nil {
		r.alerter.Alert(ctx, "provisioning failed for paid order", "order_id", order.ID, "rail", order.Rail, "error", err.Error())
		if user != nil {
			r.notifier.ProvisioningFailed(ctx, user, order)
		}
	}
	return OutcomeActivated, nil
}

// Fulfil provisions the panel account for an active order, records it on
// the order and tells the user. The order stays active when this fails.
func (r *Router) Fulfil(ctx context.Context, order *models.Order) (*models.User, error) {
	user, err := r.users.Get(ctx, order.UserID)
	if err != nil {
		return nil, err
	}
	if order.EndsAt == nil {
		return user, fmt.Errorf("order %s has no coverage window", order.ID)
	}
	tariff, err := pricing.ParseDescriptor(order.Tariff)
	if err != nil {
		return user, err
	}

	accountID, err := r.provisioner.EnsureAccount(ctx, user, tariff, *order.EndsAt)
	if err != nil {
		return user, err
	}
	if err := r.ledger.AttachPanelAccount(ctx, order.ID, accountID); err != nil {
		slog.Error("failed to attach panel account", "op", "fulfil", "order_id", order.ID, "rail", order.Rail, "error", err)
	}
	order.PanelAccountID = &accountID

	r.notifier.OrderActivated(ctx, user, order)
	return user, nil
}

// Expire closes a pending order the rail reported as expired.
func (r *Router) Expire(ctx context.Context, order *models.Order) (Outcome, error) {
	applied, err := r.ledger.Transition(ctx, order.ID, models.StatusExpired, nil)
	if errors.Is(err, ledger.ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeIgnored, err
	}
	if applied {
		order.Status = models.StatusExpired
		slog.Info("order expired", "op", "expire", "order_id", order.ID, "rail", order.Rail)
		return OutcomeExpired, nil
	}

	current, err := r.ledger.Get(ctx, order.ID)
	if err != nil {
		return OutcomeIgnored, err
	}
	*order = *current
	if current.Status == models.StatusExpired {
		return OutcomeExpired, nil
	}
	return OutcomeAlreadyProcessed, nil
}

// CheckOrder asks Crypto Pay about a pending order and applies the answer.
// A pending Stars order with a recorded charge id is confirmed directly.
func (r *Router) CheckOrder(ctx context.Context, order *models.Order) (Outcome, error) {
	switch order.Status {
	case models.StatusActive:
		return OutcomeAlreadyProcessed, nil
	case models.StatusExpired:
		return OutcomeExpired, nil
	}
	if order.Rail == models.RailStars && order.PaymentRef != "" {
		// Telegram only issues a charge id after taking the payment.
		return r.Confirm(ctx, order, Payment{Ref: order.PaymentRef})
	}
	if order.Rail != models.RailCryptoBot || order.PaymentRef == "" || r.invoices == nil {
		return OutcomePending, nil
	}

	inv, err := r.invoices.GetInvoice(ctx, order.PaymentRef)
	if err != nil {
		slog.Warn("invoice lookup failed", "op", "check", "order_id", order.ID, "rail", order.Rail, "error", err)
		return OutcomePending, err
	}

	switch inv.Status {
	case InvoicePaid:
		return r.Confirm(ctx, order, Payment{Ref: order.PaymentRef, Amount: inv.Amount, Currency: inv.Asset})
	case InvoiceExpired:
		return r.Expire(ctx, order)
	}
	return OutcomePending, nil
}

// CheckPending re-checks the user's most recent pending Crypto Pay orders.
// Lookup failures leave the order pending and do not stop the sweep.
func (r *Router) CheckPending(ctx context.Context, userID uint) (map[string]Outcome, error) {
	orders, err := r.ledger.ListPending(ctx, userID, models.RailCryptoBot, pendingCheckLimit)
	if err != nil {
		return nil, err
	}
	results := make(map[string]Outcome, len(orders))
	for i := range orders {
		outcome, _ := r.CheckOrder(ctx, &orders[i])
		results[orders[i].ID] = outcome
	}
	return results, nil
}

// CheckInvoice handles the "check payment" button for one order.
func (r *Router) CheckInvoice(ctx context.Context, userID uint, orderID string) (Outcome, error) {
	order, err := r.ledger.Get(ctx, orderID)
	if errors.Is(err, ledger.ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeIgnored, err
	}
	if order.UserID != userID {
		return OutcomeNotFound, nil
	}
	return r.CheckOrder(ctx, order)
}

// HandleCryptoUpdate applies a verified Crypto Pay webhook.
func (r *Router) HandleCryptoUpdate(ctx context.Context, upd Update) (Outcome, error) {
	inv := upd.Payload
	if upd.UpdateType != UpdateInvoicePaid && inv.Status != InvoiceExpired {
		slog.Info("ignored webhook update", "op", "webhook", "update_type", upd.UpdateType)
		return OutcomeIgnored, nil
	}

	ref := strconv.FormatInt(inv.InvoiceID, 10)
	order, err := r.ledger.FindByPaymentRef(ctx, models.RailCryptoBot, ref)
	if errors.Is(err, ledger.ErrNotFound) && inv.Payload != "" {
		order, err = r.ledger.Get(ctx, inv.Payload)
	}
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && order.Rail != models.RailCryptoBot) {
		r.alerter.Alert(ctx, "webhook for unknown order", "rail", models.RailCryptoBot, "payment_ref", ref, "payload", inv.Payload)
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeIgnored, err
	}

	if upd.UpdateType != UpdateInvoicePaid {
		return r.Expire(ctx, order)
	}
	return r.Confirm(ctx, order, Payment{Ref: ref, Amount: inv.Amount, Currency: inv.Asset})
}

// PreCheckout is the Stars pre-checkout query.
type PreCheckout struct {
	Payload     string
	Currency    string
	TotalAmount int
	TelegramID  int64
}

// Deny reasons returned by ApprovePreCheckout.
const (
	DenyNone        = ""
	DenyUnknown     = "unknown_order"
	DenyNotPending  = "not_pending"
	DenyMismatch    = "amount_mismatch"
	DenyUnavailable = "unavailable"
)

// ApprovePreCheckout decides whether Telegram may charge the user. It
// approves only a pending Stars order owned by the payer for the exact
// amount.
func (r *Router) ApprovePreCheckout(ctx context.Context, q PreCheckout) (ok bool, reason string) {
	order, err := r.ledger.Get(ctx, q.Payload)
	if errors.Is(err, ledger.ErrNotFound) {
		return false, DenyUnknown
	}
	if err != nil {
		slog.Error("pre-checkout lookup failed", "op", "pre_checkout", "order_id", q.Payload, "error", err)
		return false, DenyUnavailable
	}
	if order.Rail != models.RailStars {
		return false, DenyUnknown
	}
	user, err := r.users.Get(ctx, order.UserID)
	if err != nil || user.TelegramID != q.TelegramID {
		return false, DenyUnknown
	}
	if order.Status != models.StatusPending {
		return false, DenyNotPending
	}
	if q.Currency != CurrencyStars || !order.Amount.Equal(decimal.NewFromInt(int64(q.TotalAmount))) {
		return false, DenyMismatch
	}
	return true, DenyNone
}

// StarsPayment is Telegram's successful_payment for a Stars invoice.
type StarsPayment struct {
	Payload     string
	ChargeID    string
	Currency    string
	TotalAmount int
}

func (r *Router) HandleStarsPayment(ctx context.Context, p StarsPayment) (Outcome, error) {
	order, err := r.ledger.Get(ctx, p.Payload)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && order.Rail != models.RailStars) {
		r.alerter.Alert(ctx, "stars payment for unknown order", "rail", models.RailStars, "payload", p.Payload, "charge_id", p.ChargeID)
		return OutcomeNotFound, nil
	}
	if err != nil {
		r.alertStarsNotApplied(ctx, p, err)
		return OutcomeIgnored, err
	}

	// A pending Stars order that carries a charge id is confirmed by the
	// pending sweep if the activation below does not go through.
	if order.Status == models.StatusPending && order.PaymentRef == "" && p.ChargeID != "" {
		err := r.ledger.AssignPaymentRef(ctx, order.ID, p.ChargeID)
		if err != nil && !errors.Is(err, ledger.ErrIllegalTransition) {
			r.alertStarsNotApplied(ctx, p, err)
			return OutcomeIgnored, err
		}
	}

	outcome, err := r.Confirm(ctx, order, Payment{
		Ref:      p.ChargeID,
		Amount:   decimal.NewFromInt(int64(p.TotalAmount)),
		Currency: p.Currency,
	})
	if err != nil {
		r.alertStarsNotApplied(ctx, p, err)
	}
	return outcome, err
}

// alertStarsNotApplied reports a charge Telegram will not deliver again.
func (r *Router) alertStarsNotApplied(ctx context.Context, p StarsPayment, err error) {
	r.alerter.Alert(context.WithoutCancel(ctx), "stars payment not applied",
		"order_id", p.Payload,
		"rail", models.RailStars,
		"charge_id", p.ChargeID,
		"amount", fmt.Sprintf("%d %s", p.TotalAmount, p.Currency),
		"error", err.Error())
}
