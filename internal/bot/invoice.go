package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"remnashop-bot/internal/models"
	"remnashop-bot/internal/notify"
	"remnashop-bot/internal/payment"
	"remnashop-bot/internal/pricing"
)

// InvoiceSender is the part of telego.Bot that sends invoices.
type InvoiceSender interface {
	SendInvoice(ctx context.Context, params *telego.SendInvoiceParams) (*telego.Message, error)
}

// StarsInvoicer sends Telegram Stars invoices carrying the order id as
// payload.
type StarsInvoicer struct {
	sender InvoiceSender
}

func NewStarsInvoicer(sender InvoiceSender) *StarsInvoicer {
	return &StarsInvoicer{sender: sender}
}

func (s *StarsInvoicer) SendStarsInvoice(ctx context.Context, user *models.User, order *models.Order, stars int) error {
	tariff, err := pricing.ParseDescriptor(order.Tariff)
	if err != nil {
		return err
	}

	lang := user.LanguageCode
	title := notify.T(lang, "stars_title")
	_, err = s.sender.SendInvoice(ctx, &telego.SendInvoiceParams{
		ChatID:      tu.ID(user.TelegramID),
		Title:       title,
		Description: notify.T(lang, "stars_description", tariff.Months, tariff.TrafficGB, tariff.Devices),
		Payload:     order.ID,
		Currency:    payment.CurrencyStars,
		Prices:      []telego.LabeledPrice{{Label: title, Amount: stars}},
	})
	if err != nil {
		return fmt.Errorf("failed to send stars invoice: %w", err)
	}
	return nil
}
