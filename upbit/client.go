// Package upbit is a minimal Upbit REST client covering what the live
// trader needs: market list, tickers, minute candles, account balances,
// and market orders. Private endpoints sign each request with a JWT.
package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/broker"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/market"
)

// BaseURL is Upbit's production REST endpoint.
const BaseURL = "https://api.upbit.com"

// candleTimeLayout is Upbit's candle timestamp format, UTC without a
// zone designator.
const candleTimeLayout = "2006-01-02T15:04:05"

// maxCandlesPerCall is the per-request cap on the candle endpoints.
const maxCandlesPerCall = 200

// Client talks to the Upbit REST API.
type Client struct {
	baseURL    string
	accessKey  string
	secretKey  string
	httpClient *http.Client
}

var _ broker.Broker = (*Client)(nil)

// NewClient creates a client. Keys may be empty for public-only use;
// private calls then fail with an authorization error from the API.
func NewClient(baseURL, accessKey, secretKey string) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &Client{
		baseURL:   baseURL,
		accessKey: accessKey,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiMarket struct {
	Market      string `json:"market"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
}

// Markets returns all market codes quoted in the given currency, e.g.
// "KRW".
func (c *Client) Markets(ctx context.Context, quote string) ([]string, error) {
	var all []apiMarket
	if err := c.get(ctx, "/v1/market/all", url.Values{"isDetails": {"false"}}, &all); err != nil {
		return nil, err
	}

	prefix := quote + "-"
	out := make([]string, 0, len(all))
	for _, m := range all {
		if strings.HasPrefix(m.Market, prefix) {
			out = append(out, m.Market)
		}
	}
	return out, nil
}

type apiTicker struct {
	Market           string  `json:"market"`
	TradePrice       float64 `json:"trade_price"`
	SignedChangeRate float64 `json:"signed_change_rate"`
	AccTradePrice24h float64 `json:"acc_trade_price_24h"`
}

// Tickers fetches current tickers for the given markets in one call.
func (c *Client) Tickers(ctx context.Context, markets []string) ([]market.Ticker, error) {
	if len(markets) == 0 {
		return nil, nil
	}

	var raw []apiTicker
	params := url.Values{"markets": {strings.Join(markets, ",")}}
	if err := c.get(ctx, "/v1/ticker", params, &raw); err != nil {
		return nil, err
	}

	out := make([]market.Ticker, len(raw))
	for i, t := range raw {
		out[i] = market.Ticker{
			Market:           t.Market,
			TradePrice:       t.TradePrice,
			SignedChangeRate: t.SignedChangeRate,
			AccTradePrice24h: t.AccTradePrice24h,
		}
	}
	return out, nil
}

type apiCandle struct {
	Market            string  `json:"market"`
	CandleDateTimeUTC string  `json:"candle_date_time_utc"`
	OpeningPrice      float64 `json:"opening_price"`
	HighPrice         float64 `json:"high_price"`
	LowPrice          float64 `json:"low_price"`
	TradePrice        float64 `json:"trade_price"`
	CandleAccTradeVol float64 `json:"candle_acc_trade_volume"`
}

// Candles fetches up to 200 most recent minute candles and returns them
// oldest first, ready for indicator computation.
func (c *Client) Candles(ctx context.Context, mkt string, unit, count int) ([]market.Candle, error) {
	if count > maxCandlesPerCall {
		return nil, fmt.Errorf("count cannot exceed %d", maxCandlesPerCall)
	}

	params := url.Values{
		"market": {mkt},
		"count":  {strconv.Itoa(count)},
	}
	return c.fetchCandles(ctx, unit, params)
}

// CandlesSince pages backwards with the `to` cursor until the series
// reaches back to the `since` time, then returns it oldest first.
func (c *Client) CandlesSince(ctx context.Context, mkt string, unit int, since time.Time) ([]market.Candle, error) {
	var out []market.Candle
	cursor := ""

	for {
		params := url.Values{
			"market": {mkt},
			"count":  {strconv.Itoa(maxCandlesPerCall)},
		}
		if cursor != "" {
			params.Set("to", cursor)
		}

		page, err := c.fetchCandles(ctx, unit, params)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		out = append(page, out...)
		oldest := page[0].Time
		if !oldest.After(since) || len(page) < maxCandlesPerCall {
			break
		}
		cursor = oldest.UTC().Format(candleTimeLayout)
	}

	// Trim anything older than requested.
	i := 0
	for i < len(out) && out[i].Time.Before(since) {
		i++
	}
	return out[i:], nil
}

func (c *Client) fetchCandles(ctx context.Context, unit int, params url.Values) ([]market.Candle, error) {
	var raw []apiCandle
	path := fmt.Sprintf("/v1/candles/minutes/%d", unit)
	if err := c.get(ctx, path, params, &raw); err != nil {
		return nil, err
	}

	// The API returns newest first.
	out := make([]market.Candle, len(raw))
	for i, ac := range raw {
		ts, err := time.ParseInLocation(candleTimeLayout, ac.CandleDateTimeUTC, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse candle time %s: %w", ac.CandleDateTimeUTC, err)
		}
		out[len(raw)-1-i] = market.Candle{
			Time:   ts,
			Open:   ac.OpeningPrice,
			High:   ac.HighPrice,
			Low:    ac.LowPrice,
			Close:  ac.TradePrice,
			Volume: ac.CandleAccTradeVol,
		}
	}
	return out, nil
}

type apiBalance struct {
	Currency     string `json:"currency"`
	Balance      string `json:"balance"`
	Locked       string `json:"locked"`
	AvgBuyPrice  string `json:"avg_buy_price"`
	UnitCurrency string `json:"unit_currency"`
}

// Accounts returns the authenticated account's balances.
func (c *Client) Accounts(ctx context.Context) ([]broker.Balance, error) {
	var raw []apiBalance
	if err := c.signedCall(ctx, http.MethodGet, "/v1/accounts", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]broker.Balance, len(raw))
	for i, b := range raw {
		available, err := strconv.ParseFloat(b.Balance, 64)
		if err != nil {
			return nil, fmt.Errorf("parse balance %q: %w", b.Balance, err)
		}
		locked, err := strconv.ParseFloat(b.Locked, 64)
		if err != nil {
			return nil, fmt.Errorf("parse locked %q: %w", b.Locked, err)
		}
		avg, err := strconv.ParseFloat(b.AvgBuyPrice, 64)
		if err != nil {
			return nil, fmt.Errorf("parse avg buy price %q: %w", b.AvgBuyPrice, err)
		}
		out[i] = broker.Balance{
			Currency:     b.Currency,
			Available:    available,
			Locked:       locked,
			AvgBuyPrice:  avg,
			UnitCurrency: b.UnitCurrency,
		}
	}
	return out, nil
}

type apiOrder struct {
	UUID string `json:"uuid"`
}

// MarketBuy submits a price-type market order spending krwAmount.
func (c *Client) MarketBuy(ctx context.Context, mkt string, krwAmount float64) (string, error) {
	params := url.Values{
		"market":   {mkt},
		"side":     {"bid"},
		"ord_type": {"price"},
		"price":    {strconv.FormatFloat(krwAmount, 'f', -1, 64)},
	}
	var order apiOrder
	if err := c.signedCall(ctx, http.MethodPost, "/v1/orders", params, &order); err != nil {
		return "", err
	}
	return order.UUID, nil
}

// MarketSell submits a market order liquidating the given volume.
func (c *Client) MarketSell(ctx context.Context, mkt string, volume float64) (string, error) {
	params := url.Values{
		"market":   {mkt},
		"side":     {"ask"},
		"ord_type": {"market"},
		"volume":   {strconv.FormatFloat(volume, 'f', 8, 64)},
	}
	var order apiOrder
	if err := c.signedCall(ctx, http.MethodPost, "/v1/orders", params, &order); err != nil {
		return "", err
	}
	return order.UUID, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dst any) error {
	apiURL := c.baseURL + path
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, dst)
}

// signedCall performs an authenticated request. GET parameters go in
// the query string, POST parameters in a form body; both are covered by
// the token's query hash.
func (c *Client) signedCall(ctx context.Context, method, path string, params url.Values, dst any) error {
	encoded := params.Encode()

	token, err := signToken(c.accessKey, c.secretKey, encoded)
	if err != nil {
		return err
	}

	apiURL := c.baseURL + path
	var body io.Reader
	switch method {
	case http.MethodGet:
		if encoded != "" {
			apiURL += "?" + encoded
		}
	default:
		body = strings.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	return c.do(req, dst)
}

func (c *Client) do(req *http.Request, dst any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
