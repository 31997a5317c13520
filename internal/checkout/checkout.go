// Package checkout prices a tariff selection, records the pending order and
// opens the invoice on the chosen rail.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"remnashop-bot/internal/currency"
	"remnashop-bot/internal/ledger"
	"remnashop-bot/internal/models"
	"remnashop-bot/internal/payment"
	"remnashop-bot/internal/pricing"
)

var (
	ErrUnpriceable     = errors.New("tariff cannot be priced")
	ErrRateUnavailable = errors.New("exchange rate unavailable")
	ErrRailDisabled    = errors.New("payment rail disabled")
	ErrRailUnavailable = errors.New("payment rail unavailable")
)

type RateSource interface {
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, bool)
}

type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, req payment.CreateInvoiceRequest) (*payment.Invoice, error)
}

// StarsInvoicer sends a Telegram Stars invoice whose payload is the order id.
type StarsInvoicer interface {
	SendStarsInvoice(ctx context.Context, user *models.User, order *models.Order, stars int) error
}

type Config struct {
	Coefficients pricing.Coefficients
	CryptoAsset  string
	InvoiceTTL   time.Duration
	StarsEnabled bool
	StarUSDRate  decimal.Decimal
	Timeout      time.Duration
}

type Service struct {
	cfg      Config
	ledger   *ledger.Ledger
	rates    RateSource
	invoices InvoiceCreator
	stars    StarsInvoicer
}

// New builds the checkout. A nil invoices disables the Crypto Pay rail.
func New(cfg Config, l *ledger.Ledger, rates RateSource, invoices InvoiceCreator, stars StarsInvoicer) *Service {
	return &Service{cfg: cfg, ledger: l, rates: rates, invoices: invoices, stars: stars}
}

// Quote is a priced selection. USD is zero when the rate is unavailable.
type Quote struct {
	Selection pricing.Selection
	Tariff    pricing.Descriptor
	RUB       decimal.Decimal
	USD       decimal.Decimal

	usd decimal.Decimal
}

func (q Quote) HasUSD() bool {
	return q.USD.IsPositive()
}

// Result is an opened checkout.
type Result struct {
	Order      *models.Order
	InvoiceURL string
}

func (s *Service) Rails() []models.Rail {
	var rails []models.Rail
	if s.invoices != nil {
		rails = append(rails, models.RailCryptoBot)
	}
	if s.cfg.StarsEnabled && s.stars != nil {
		rails = append(rails, models.RailStars)
	}
	return rails
}

func (s *Service) Quote(ctx context.Context, sel pricing.Selection) (Quote, error) {
	rub, ok := pricing.Price(sel, s.cfg.Coefficients)
	if !ok {
		return Quote{}, ErrUnpriceable
	}
	tariff, ok := sel.Descriptor()
	if !ok {
		return Quote{}, ErrUnpriceable
	}
	q := Quote{Selection: sel, Tariff: tariff, RUB: rub}

	rate, ok := s.rates.Rate(ctx, currency.AssetTether, currency.QuoteRUB)
	if !ok {
		return q, ErrRateUnavailable
	}
	q.usd = rub.Div(rate)
	q.USD = q.usd.Round(2)
	return q, nil
}

// Start opens a checkout on rail for user.
func (s *Service) Start(ctx context.Context, user *models.User, sel pricing.Selection, rail models.Rail) (*Result, error) {
	switch rail {
	case models.RailCryptoBot:
		return s.startCrypto(ctx, user, sel)
	case models.RailStars:
		return s.startStars(ctx, user, sel)
	case models.RailTrial, models.RailReferral:
		return nil, fmt.Errorf("%w: %s orders are granted, not bought", ErrRailDisabled, rail)
	}
	return nil, fmt.Errorf("%w: %s", ErrRailDisabled, rail)
}

func (s *Service) startCrypto(ctx context.Context, user *models.User, sel pricing.Selection) (*Result, error) {
	if s.invoices == nil {
		return nil, ErrRailDisabled
	}
	q, err := s.Quote(ctx, sel)
	if err != nil {
		return nil, err
	}
	usdtRate, ok := s.rates.Rate(ctx, currency.AssetTether, currency.QuoteUSD)
	if !ok {
		return nil, ErrRateUnavailable
	}
	amount := q.usd.Div(usdtRate).Round(8)

	order := s.newOrder(user, q, models.RailCryptoBot, amount, s.cfg.CryptoAsset)
	if err := s.ledger.Create(ctx, order); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	inv, err := s.invoices.CreateInvoice(callCtx, payment.CreateInvoiceRequest{
		Asset:       s.cfg.CryptoAsset,
		Amount:      amount.String(),
		Description: q.Tariff.String(),
		Payload:     order.ID,
		ExpiresIn:   int(s.cfg.InvoiceTTL.Seconds()),
	})
	if err != nil {
		if timedOut(err) {
			// Crypto Pay may have created the invoice; a payment for it is
			// matched to this order through the payload.
			slog.Warn("invoice creation timed out, keeping order", "op", "checkout", "order_id", order.ID, "rail", order.Rail, "error", err)
		} else {
			s.discard(ctx, order)
			slog.Error("failed to create invoice", "op", "checkout", "order_id", order.ID, "rail", order.Rail, "error", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrRailUnavailable, err)
	}

	ref := strconv.FormatInt(inv.InvoiceID, 10)
	if err := s.ledger.AssignPaymentRef(ctx, order.ID, ref); err != nil {
		// The webhook still resolves the order through the invoice payload.
		slog.Error("failed to store invoice id", "op", "checkout", "order_id", order.ID, "rail", order.Rail, "payment_ref", ref, "error", err)
	} else {
		order.PaymentRef = ref
	}

	slog.Info("invoice created", "op", "checkout", "order_id", order.ID, "rail", order.Rail, "payment_ref", ref, "amount", amount.String())
	return &Result{Order: order, InvoiceURL: inv.BotInvoiceURL}, nil
}

// StarsFor converts a USD price into whole Stars, at least one.
func StarsFor(usd, starUSDRate decimal.Decimal) int {
	stars := usd.Div(starUSDRate).Round(0).IntPart()
	if stars < 1 {
		return 1
	}
	return int(stars)
}

func (s *Service) startStars(ctx context.Context, user *models.User, sel pricing.Selection) (*Result, error) {
	if !s.cfg.StarsEnabled || s.stars == nil {
		return nil, ErrRailDisabled
	}
	q, err := s.Quote(ctx, sel)
	if err != nil {
		return nil, err
	}
	stars := StarsFor(q.usd, s.cfg.StarUSDRate)

	order := s.newOrder(user, q, models.RailStars, decimal.NewFromInt(int64(stars)), payment.CurrencyStars)
	if err := s.ledger.Create(ctx, order); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.stars.SendStarsInvoice(callCtx, user, order, stars); err != nil {
		s.discard(ctx, order)
		slog.Error("failed to send stars invoice", "op", "checkout", "order_id", order.ID, "rail", order.Rail, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrRailUnavailable, err)
	}

	slog.Info("stars invoice sent", "op", "checkout", "order_id", order.ID, "rail", order.Rail, "stars", stars)
	return &Result{Order: order}, nil
}

func (s *Service) newOrder(user *models.User, q Quote, rail models.Rail, amount decimal.Decimal, cur string) *models.Order {
	return &models.Order{
		UserID:         user.ID,
		Tariff:         q.Tariff.String(),
		Rail:           rail,
		Amount:         amount,
		Currency:       cur,
		ReferencePrice: q.RUB,
		Status:         models.StatusPending,
		TrafficLimitGB: q.Tariff.TrafficGB,
		DeviceLimit:    q.Tariff.Devices,
	}
}

func timedOut(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}

func (s *Service) discard(ctx context.Context, order *models.Order) {
	if _, err := s.ledger.Discard(ctx, order.ID); err != nil {
		slog.Error("failed to discard order", "op", "checkout", "order_id", order.ID, "rail", order.Rail, "error", err)
	}
}
