package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// CoinGecko ids and quote codes used by the checkout.
const (
	AssetTether = "tether"
	QuoteRUB    = "rub"
	QuoteUSD    = "usd"
)

// CoinGeckoClient queries the /simple/price endpoint.
type CoinGeckoClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewCoinGeckoClient(baseURL string, timeout time.Duration) *CoinGeckoClient {
	return &CoinGeckoClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *CoinGeckoClient) FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("ids", base)
	params.Set("vs_currencies", quote)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/simple/price?%s", c.BaseURL, params.Encode()), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return decimal.Zero, fmt.Errorf("api error: %s (status: %d)", string(body), resp.StatusCode)
	}

	var prices map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &prices); err != nil {
		return decimal.Zero, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	price, ok := prices[base][quote]
	if !ok {
		return decimal.Zero, fmt.Errorf("no %s price for %s in response", quote, base)
	}
	return price, nil
}
