package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var ErrInvoiceNotFound = errors.New("invoice not found")

// CryptoPayClient talks to the Crypto Pay API of @CryptoBot.
type CryptoPayClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewCryptoPayClient(baseURL, token string, timeout time.Duration) *CryptoPayClient {
	return &CryptoPayClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func doRequest[T any](ctx context.Context, c *CryptoPayClient, method, endpoint string, body any) (T, error) {
	var zero T
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, bodyReader)
	if err != nil {
		return zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Crypto-Pay-API-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("failed to read response body: %w", err)
	}

	var decoded apiResponse[T]
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return zero, fmt.Errorf("failed to unmarshal response (status: %d): %w", resp.StatusCode, err)
	}
	if !decoded.OK || resp.StatusCode >= 400 {
		if decoded.Error != nil {
			return zero, fmt.Errorf("api error: %s (code: %d)", decoded.Error.Name, decoded.Error.Code)
		}
		return zero, fmt.Errorf("api error: %s (status: %d)", string(raw), resp.StatusCode)
	}
	return decoded.Result, nil
}

func (c *CryptoPayClient) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	inv, err := doRequest[Invoice](ctx, c, http.MethodPost, "/createInvoice", req)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceID == 0 {
		return nil, errors.New("created invoice has no id")
	}
	return &inv, nil
}

// GetInvoice fetches one invoice by the id stored as the order's payment ref.
func (c *CryptoPayClient) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	params := url.Values{}
	params.Set("invoice_ids", invoiceID)
	list, err := doRequest[invoiceList](ctx, c, http.MethodGet, "/getInvoices?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	for i := range list.Items {
		if strconv.FormatInt(list.Items[i].InvoiceID, 10) == invoiceID {
			return &list.Items[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
}

// VerifySignature checks the crypto-pay-api-signature header: a hex
// HMAC-SHA256 of the raw body keyed with SHA256 of the API token.
func VerifySignature(token string, body []byte, signature string) bool {
	if token == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(token, body)), []byte(signature))
}

// Sign produces the signature VerifySignature accepts.
func Sign(token string, body []byte) string {
	secret := sha256.Sum256([]byte(token))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
