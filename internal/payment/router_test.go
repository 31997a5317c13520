package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"remnashop-bot/internal/database/dbtest"
	"remnashop-bot/internal/ledger"
	"remnashop-bot/internal/models"
	"remnashop-bot/internal/pricing"
	"remnashop-bot/internal/users"
)

type fakeProvisioner struct {
	mu              sync.Mutex
	calls           int
	EnsureAccountFn func(ctx context.Context, user *models.User, tariff pricing.Descriptor, expireAt time.Time) (string, error)
}

func (f *fakeProvisioner) EnsureAccount(ctx context.Context, user *models.User, tariff pricing.Descriptor, expireAt time.Time) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.EnsureAccountFn != nil {
		return f.EnsureAccountFn(ctx, user, tariff, expireAt)
	}
	return "acc-1", nil
}

func (f *fakeProvisioner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeInvoices struct {
	GetInvoiceFunc func(ctx context.Context, invoiceID string) (*Invoice, error)
}

func (f *fakeInvoices) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	return f.GetInvoiceFunc(ctx, invoiceID)
}

type recorder struct {
	mu        sync.Mutex
	activated []string
	failed    []string
	alerts    []string
}

func (r *recorder) OrderActivated(_ context.Context, _ *models.User, o *models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activated = append(r.activated, o.ID)
}

func (r *recorder) ProvisioningFailed(_ context.Context, _ *models.User, o *models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, o.ID)
}

func (r *recorder) Alert(_ context.Context, msg string, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, msg)
}

type testEnv struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	users    *users.Repository
	prov     *fakeProvisioner
	invoices *fakeInvoices
	rec      *recorder
	router   *Router
	user     *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.New(t)
	e := &testEnv{
		db:     db,
		ledger: ledger.New(db),
		users:  users.NewRepository(db),
		prov:   &fakeProvisioner{},
		invoices: &fakeInvoices{GetInvoiceFunc: func(context.Context, string) (*Invoice, error) {
			return &Invoice{Status: InvoiceActive}, nil
		}},
		rec: &recorder{},
	}
	e.router = NewRouter(e.ledger, e.users, e.prov, e.invoices, e.rec, e.rec)

	user, _, err := e.users.Upsert(t.Context(), users.Profile{TelegramID: 500, FirstName: "Ann"})
	require.NoError(t, err)
	e.user = user
	return e
}

func (e *testEnv) cryptoOrder(t *testing.T, ref string) *models.Order {
	t.Helper()
	o := &models.Order{
		UserID:   e.user.ID,
		Tariff:   "custom_1m_50gb_5dev",
		Rail:     models.RailCryptoBot,
		Amount:   decimal.RequireFromString("1.25"),
		Currency: "USDT",
		Status:   models.StatusPending,
	}
	require.NoError(t, e.ledger.Create(t.Context(), o))
	require.NoError(t, e.ledger.AssignPaymentRef(t.Context(), o.ID, ref))
	o.PaymentRef = ref
	return o
}

func (e *testEnv) starsOrder(t *testing.T, stars int64) *models.Order {
	t.Helper()
	o := &models.Order{
		UserID:   e.user.ID,
		Tariff:   "custom_3m_100gb_10dev",
		Rail:     models.RailStars,
		Amount:   decimal.NewFromInt(stars),
		Currency: CurrencyStars,
		Status:   models.StatusPending,
	}
	require.NoError(t, e.ledger.Create(t.Context(), o))
	return o
}

func paidUpdate(invoiceID int64, payload string) Update {
	return Update{
		UpdateID:   1,
		UpdateType: UpdateInvoicePaid,
		Payload: Invoice{
			InvoiceID: invoiceID,
			Status:    InvoicePaid,
			Asset:     "USDT",
			Amount:    decimal.RequireFromString("1.25"),
			Payload:   payload,
		},
	}
}

func TestDuplicateConfirmationsActivateOnce(t *testing.T) {
	e := newTestEnv(t)
	order := e.cryptoOrder(t, "77")
	e.invoices.GetInvoiceFunc = func(_ context.Context, id string) (*Invoice, error) {
		assert.Equal(t, "77", id)
		return &Invoice{InvoiceID: 77, Status: InvoicePaid, Asset: "USDT", Amount: decimal.RequireFromString("1.25")}, nil
	}

	outcome, err := e.router.HandleCryptoUpdate(t.Context(), paidUpdate(77, order.ID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, outcome)

	outcome, err = e.router.HandleCryptoUpdate(t.Context(), paidUpdate(77, order.ID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, outcome)

	outcome, err = e.router.CheckInvoice(t.Context(), e.user.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, outcome)

	assert.Equal(t, 1, e.prov.Calls())
	assert.Equal(t, []string{order.ID}, e.rec.activated)
	assert.Empty(t, e.rec.alerts)

	stored, err := e.ledger.Get(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
	require.NotNil(t, stored.PanelAccountID)
	assert.Equal(t, "acc-1", *stored.PanelAccountID)
	require.NotNil(t, stored.StartsAt)
	require.NotNil(t, stored.EndsAt)
	assert.Equal(t, stored.StartsAt.AddDate(0, 1, 0).Unix(), stored.EndsAt.Unix())
}

func TestConcurrentConfirmationsHaveOneWinner(t *testing.T) {
	e := newTestEnv(t)
	order := e.cryptoOrder(t, "88")

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := *order
			outcome, err := e.router.Confirm(context.Background(), &o, Payment{Ref: "88"})
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	activated := 0
	for o := range outcomes {
		if o == OutcomeActivated {
			activated++
		} else {
			assert.Equal(t, OutcomeAlreadyProcessed, o)
		}
	}
	assert.Equal(t, 1, activated)
	assert.Equal(t, 1, e.prov.Calls())
	assert.Len(t, e.rec.activated, 1)
}

func TestPaymentAfterExpiryIsNoop(t *testing.T) {
	e := newTestEnv(t)
	order := e.cryptoOrder(t, "99")

	outcome, err := e.router.HandleCryptoUpdate(t.Context(), Update{
		UpdateType: "invoice_expired",
		Payload:    Invoice{InvoiceID: 99, Status: InvoiceExpired},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, outcome)

	outcome, err = e.router.HandleCryptoUpdate(t.Context(), paidUpdate(99, order.ID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, outcome)

	stored, err := e.ledger.Get(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)
	assert.Nil(t, stored.StartsAt)
	assert.Zero(t, e.prov.Calls())
	assert.Empty(t, e.rec.activated)
	assert.Equal(t, []string{"payment received for expired order"}, e.rec.alerts)
}

func TestProvisioningFailureKeepsOrderActive(t *testing.T) {
	e := newTestEnv(t)
	e.prov.EnsureAccountFn = func(context.Context, *models.User, pricing.Descriptor, time.Time) (string, error) {
		return "", errors.New("panel down")
	}
	order := e.cryptoOrder(t, "101")

	outcome, err := e.router.HandleCryptoUpdate(t.Context(), paidUpdate(101, order.ID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, outcome)

	stored, err := e.ledger.Get(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Nil(t, stored.PanelAccountID)

	assert.Equal(t, []string{order.ID}, e.rec.failed)
	assert.Empty(t, e.rec.activated)
	assert.Equal(t, []string{"provisioning failed for paid order"}, e.rec.alerts)

	unprovisioned, err := e.ledger.ListUnprovisioned(t.Context(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, unprovisioned, 1)
	assert.Equal(t, order.ID, unprovisioned[0].ID)
}

func TestAmountMismatchIsHonouredWithAlert(t *testing.T) {
	e := newTestEnv(t)
	order := e.cryptoOrder(t, "202")

	upd := paidUpdate(202, order.ID)
	upd.Payload.Amount = decimal.RequireFromString("1.2")
	outcome, err := e.router.HandleCryptoUpdate(t.Context(), upd)
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, outcome)
	assert.Equal(t, []string{"payment amount differs from order"}, e.rec.alerts)

	e.rec.alerts = nil
	other := e.cryptoOrder(t, "203")
	upd = paidUpdate(203, other.ID)
	upd.Payload.Amount = decimal.RequireFromString("1.2500001")
	_, err = e.router.HandleCryptoUpdate(t.Context(), upd)
	require.NoError(t, err)
	assert.Empty(t, e.rec.alerts, "within tolerance")
}

func TestOrphanWebhook(t *testing.T) {
	e := newTestEnv(t)

	outcome, err := e.router.HandleCryptoUpdate(t.Context(), paidUpdate(404, "no-such-order"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
	assert.Equal(t, []string{"webhook for unknown order"}, e.rec.alerts)

	outcome, err = e.router.HandleCryptoUpdate(t.Context(), Update{UpdateType: "something_else"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestWebhookFallsBackToPayload(t *testing.T) {
	e := newTestEnv(t)
	order := &models.Order{
		UserID: e.user.ID, Tariff: "custom_1m_50gb_5dev", Rail: models.RailCryptoBot,
		Amount: decimal.RequireFromString("1.25"), Currency: "USDT", Status: models.StatusPending,
	}
	require.NoError(t, e.ledger.Create(t.Context(), order))

	outcome, err := e.router.HandleCryptoUpdate(t.Context(), paidUpdate(303, order.ID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, outcome)

	stored, err := e.ledger.FindByPaymentRef(t.Context(), models.RailCryptoBot, "303")
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
}

func TestCheckPending(t *testing.T) {
	e := newTestEnv(t)
	paid := e.cryptoOrder(t, "1")
	waiting := e.cryptoOrder(t, "2")
	gone := e.cryptoOrder(t, "3")
	broken := e.cryptoOrder(t, "4")

	e.invoices.GetInvoiceFunc = func(_ context.Context, id string) (*Invoice, error) {
		switch id {
		case "1":
			return &Invoice{Status: InvoicePaid, Asset: "USDT", Amount: decimal.RequireFromString("1.25")}, nil
		case "3":
			return &Invoice{Status: InvoiceExpired}, nil
		case "4":
			return nil, errors.New("timeout")
		}
		return &Invoice{Status: InvoiceActive}, nil
	}

	results, err := e.router.CheckPending(t.Context(), e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]Outcome{
		paid.ID:    OutcomeActivated,
		waiting.ID: OutcomePending,
		gone.ID:    OutcomeExpired,
		broken.ID:  OutcomePending,
	}, results)

	results, err = e.router.CheckPending(t.Context(), e.user.ID)
	require.NoError(t, err)
	assert.Len(t, results, 2, "only still-pending orders are rechecked")
	assert.Equal(t, 1, e.prov.Calls())
}

func TestCheckInvoiceForeignOrder(t *testing.T) {
	e := newTestEnv(t)
	order := e.cryptoOrder(t, "5")

	outcome, err := e.router.CheckInvoice(t.Context(), e.user.ID+1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)

	outcome, err = e.router.CheckInvoice(t.Context(), e.user.ID, "missing")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestApprovePreCheckout(t *testing.T) {
	e := newTestEnv(t)
	order := e.starsOrder(t, 115)
	crypto := e.cryptoOrder(t, "9")

	base := PreCheckout{Payload: order.ID, Currency: CurrencyStars, TotalAmount: 115, TelegramID: 500}

	ok, reason := e.router.ApprovePreCheckout(t.Context(), base)
	assert.True(t, ok)
	assert.Equal(t, DenyNone, reason)

	tests := map[string]struct {
		mutate func(q *PreCheckout)
		reason string
	}{
		"unknown payload": {func(q *PreCheckout) { q.Payload = "nope" }, DenyUnknown},
		"other rail":      {func(q *PreCheckout) { q.Payload = crypto.ID }, DenyUnknown},
		"other payer":     {func(q *PreCheckout) { q.TelegramID = 1 }, DenyUnknown},
		"wrong amount":    {func(q *PreCheckout) { q.TotalAmount = 114 }, DenyMismatch},
		"wrong currency":  {func(q *PreCheckout) { q.Currency = "USD" }, DenyMismatch},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			q := base
			tc.mutate(&q)
			ok, reason := e.router.ApprovePreCheckout(t.Context(), q)
			assert.False(t, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}

	_, err := e.router.HandleStarsPayment(t.Context(), StarsPayment{Payload: order.ID, ChargeID: "ch_1", Currency: CurrencyStars, TotalAmount: 115})
	require.NoError(t, err)
	ok, reason = e.router.ApprovePreCheckout(t.Context(), base)
	assert.False(t, ok)
	assert.Equal(t, DenyNotPending, reason)
}

func TestHandleStarsPayment(t *testing.T) {
	e := newTestEnv(t)
	order := e.starsOrder(t, 58)

	outcome, err := e.router.HandleStarsPayment(t.Context(), StarsPayment{Payload: order.ID, ChargeID: "ch_42", Currency: CurrencyStars, TotalAmount: 58})
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, outcome)

	stored, err := e.ledger.FindByPaymentRef(t.Context(), models.RailStars, "ch_42")
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
	assert.Equal(t, stored.StartsAt.AddDate(0, 3, 0).Unix(), stored.EndsAt.Unix())

	outcome, err = e.router.HandleStarsPayment(t.Context(), StarsPayment{Payload: order.ID, ChargeID: "ch_42", Currency: CurrencyStars, TotalAmount: 58})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, outcome)

	outcome, err = e.router.HandleStarsPayment(t.Context(), StarsPayment{Payload: "gone", ChargeID: "ch_43"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)

	assert.Equal(t, 1, e.prov.Calls())
	assert.Len(t, e.rec.activated, 1)
}

func (r *recorder) Alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}

func TestStarsPaymentLookupFailureAlerts(t *testing.T) {
	e := newTestEnv(t)
	order := e.starsOrder(t, 58)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	outcome, err := e.router.HandleStarsPayment(ctx, StarsPayment{Payload: order.ID, ChargeID: "ch_7", Currency: CurrencyStars, TotalAmount: 58})
	require.Error(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, []string{"stars payment not applied"}, e.rec.Alerts())

	stored, err := e.ledger.Get(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestStarsPaymentRecoveredAfterFailedActivation(t *testing.T) {
	e := newTestEnv(t)
	order := e.starsOrder(t, 58)

	// Fail every update that changes an order status.
	failActivation := func(tx *gorm.DB) {
		if values, ok := tx.Statement.Dest.(map[string]any); ok {
			if _, ok := values["status"]; ok {
				_ = tx.AddError(errors.New("disk full"))
			}
		}
	}
	require.NoError(t, e.db.Callback().Update().Before("gorm:update").Register("test:fail_activation", failActivation))

	outcome, err := e.router.HandleStarsPayment(t.Context(), StarsPayment{Payload: order.ID, ChargeID: "ch_9", Currency: CurrencyStars, TotalAmount: 58})
	require.Error(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, []string{"stars payment not applied"}, e.rec.Alerts())

	stored, err := e.ledger.Get(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, "ch_9", stored.PaymentRef, "charge id is kept for the sweep")

	require.NoError(t, e.db.Callback().Update().Remove("test:fail_activation"))

	outcome, err = e.router.CheckOrder(t.Context(), stored)
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, outcome)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Equal(t, 1, e.prov.Calls())
	assert.Len(t, e.rec.activated, 1)
}

func TestCheckOrderLeavesUnchargedStarsOrderPending(t *testing.T) {
	e := newTestEnv(t)
	order := e.starsOrder(t, 58)

	outcome, err := e.router.CheckOrder(t.Context(), order)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, outcome)
	assert.Zero(t, e.prov.Calls())
}
