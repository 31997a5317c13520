package payment

import (
	"github.com/shopspring/decimal"
)

// Crypto Pay invoice statuses.
const (
	InvoiceActive  = "active"
	InvoicePaid    = "paid"
	InvoiceExpired = "expired"
)

const UpdateInvoicePaid = "invoice_paid"

// CurrencyStars is the Telegram Stars currency code.
const CurrencyStars = "XTR"

type CreateInvoiceRequest struct {
	Asset          string `json:"asset"`
	Amount         string `json:"amount"`
	Description    string `json:"description,omitempty"`
	Payload        string `json:"payload,omitempty"`
	ExpiresIn      int    `json:"expires_in,omitempty"`
	AllowComments  bool   `json:"allow_comments"`
	AllowAnonymous bool   `json:"allow_anonymous"`
}

type Invoice struct {
	InvoiceID     int64           `json:"invoice_id"`
	Hash          string          `json:"hash"`
	Status        string          `json:"status"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	BotInvoiceURL string          `json:"bot_invoice_url"`
	Payload       string          `json:"payload"`
	PaidAt        string          `json:"paid_at,omitempty"`
}

type invoiceList struct {
	Items []Invoice `json:"items"`
}

type apiError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type apiResponse[T any] struct {
	OK     bool      `json:"ok"`
	Result T         `json:"result"`
	Error  *apiError `json:"error,omitempty"`
}

// Webhook structures

type Update struct {
	UpdateID    int64   `json:"update_id"`
	UpdateType  string  `json:"update_type"`
	RequestDate string  `json:"request_date"`
	Payload     Invoice `json:"payload"`
}
