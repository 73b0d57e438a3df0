package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go-dashboard/internal/config"
	"go-dashboard/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LedgerAPI is the slice of the upstream ledger/account API the dashboard
// consumes. Split out as an interface so services can be tested with fakes.
type LedgerAPI interface {
	PaymentHistory(ctx context.Context, authToken string, filter models.PaymentFilter, cursor *models.PaymentCursor, pageSize int) (*PaymentHistoryPage, error)
	PaymentHistoryCSV(ctx context.Context, authToken string, filter models.PaymentFilter) ([][]string, error)
	PaymentHistoryUpdates(ctx context.Context, authToken string, sinceTimestamp int64) (int, error)
	ExchangeRate(ctx context.Context, authToken string, currency string) (decimal.Decimal, error)
	ExchangeRates(ctx context.Context, authToken string, currency string, timestamps []int64) (map[int64]*decimal.Decimal, error)
	AccountBalance(ctx context.Context, authToken string, chain string) (string, error)
	Withdraw(ctx context.Context, authToken string, req *WithdrawAPIRequest) (*WithdrawAPIResponse, error)
	TokenPrices(ctx context.Context, authToken string, symbols []string) (map[string]*decimal.Decimal, error)
}

// PaymentHistoryPage one page of the filtered ledger
type PaymentHistoryPage struct {
	TotalSize int                  `json:"totalSize"`
	Data      []models.LedgerEntry `json:"data"`
}

// WithdrawAPIRequest gateway-side balance withdrawal
type WithdrawAPIRequest struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Amount  string `json:"amount,omitempty"` // base units; empty = full balance
}

// WithdrawAPIResponse result of a gateway-side withdrawal. Code/Args carry a
// localizable status message independent of the transaction id.
type WithdrawAPIResponse struct {
	TxID string   `json:"txId"`
	Code string   `json:"code,omitempty"`
	Args []string `json:"args,omitempty"`
}

// LedgerClient HTTP client for the upstream ledger API
type LedgerClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewLedgerClient creates a ledger API client from config.
func NewLedgerClient(cfg config.LedgerConfig, logger *logrus.Logger) *LedgerClient {
	return &LedgerClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		logger: logger,
	}
}

type paymentHistoryRequest struct {
	Filter   models.PaymentFilter  `json:"filter"`
	Cursor   *models.PaymentCursor `json:"cursor,omitempty"`
	PageSize int                   `json:"pageSize"`
}

// PaymentHistory fetches one filtered, cursor-paginated page.
func (c *LedgerClient) PaymentHistory(ctx context.Context, authToken string, filter models.PaymentFilter, cursor *models.PaymentCursor, pageSize int) (*PaymentHistoryPage, error) {
	var page PaymentHistoryPage
	err := c.post(ctx, authToken, "/api/v1/payments/history", paymentHistoryRequest{
		Filter:   filter,
		Cursor:   cursor,
		PageSize: pageSize,
	}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// PaymentHistoryCSV fetches the unpaged export of the same filtered view as a
// raw matrix. The result is handed to the download, never merged into pages.
func (c *LedgerClient) PaymentHistoryCSV(ctx context.Context, authToken string, filter models.PaymentFilter) ([][]string, error) {
	var rows [][]string
	err := c.post(ctx, authToken, "/api/v1/payments/history/csv", struct {
		Filter models.PaymentFilter `json:"filter"`
	}{Filter: filter}, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// PaymentHistoryUpdates returns the count of ledger records newer than the
// given timestamp. Cheap poll backing the "N new payments" banner.
func (c *LedgerClient) PaymentHistoryUpdates(ctx context.Context, authToken string, sinceTimestamp int64) (int, error) {
	var resp struct {
		Size int `json:"size"`
	}
	path := "/api/v1/payments/history/updates?since=" + strconv.FormatInt(sinceTimestamp, 10)
	if err := c.get(ctx, authToken, path, &resp); err != nil {
		return 0, err
	}
	return resp.Size, nil
}

// ExchangeRate returns the current USD -> currency rate.
func (c *LedgerClient) ExchangeRate(ctx context.Context, authToken string, currency string) (decimal.Decimal, error) {
	var resp struct {
		ExchangeRate decimal.Decimal `json:"exchangeRate"`
	}
	err := c.post(ctx, authToken, "/api/v1/exchange-rate", struct {
		Currency string `json:"currency"`
	}{Currency: currency}, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	return resp.ExchangeRate, nil
}

// ExchangeRates bulk historical rate lookup keyed by payment timestamps. A nil
// rate for a timestamp means the upstream has no rate for that moment.
func (c *LedgerClient) ExchangeRates(ctx context.Context, authToken string, currency string, timestamps []int64) (map[int64]*decimal.Decimal, error) {
	var resp struct {
		ExchangeRates map[string]*decimal.Decimal `json:"exchangeRates"`
	}
	err := c.post(ctx, authToken, "/api/v1/exchange-rates", struct {
		Currency   string  `json:"currency"`
		Timestamps []int64 `json:"timestamps"`
	}{Currency: currency, Timestamps: timestamps}, &resp)
	if err != nil {
		return nil, err
	}

	rates := make(map[int64]*decimal.Decimal, len(resp.ExchangeRates))
	for key, rate := range resp.ExchangeRates {
		ts, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			c.logger.WithField("timestamp", key).Warn("exchange rates response contained a non-numeric timestamp key")
			continue
		}
		rates[ts] = rate
	}
	return rates, nil
}

// AccountBalance returns the account's gateway-side balance on a chain as a
// base-unit decimal string.
func (c *LedgerClient) AccountBalance(ctx context.Context, authToken string, chain string) (string, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	path := "/api/v1/account/balance?chain=" + url.QueryEscape(chain)
	if err := c.get(ctx, authToken, path, &resp); err != nil {
		return "", err
	}
	return resp.Balance, nil
}

// TokenPrices returns the current USD quote per token symbol. A nil price
// means the feed has no quote for that token; it is kept nil, not zeroed.
func (c *LedgerClient) TokenPrices(ctx context.Context, authToken string, symbols []string) (map[string]*decimal.Decimal, error) {
	var resp struct {
		Prices map[string]*decimal.Decimal `json:"prices"`
	}
	err := c.post(ctx, authToken, "/api/v1/tokens/prices", struct {
		Symbols []string `json:"symbols"`
	}{Symbols: symbols}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Prices, nil
}

// Withdraw requests a gateway-side balance withdrawal.
func (c *LedgerClient) Withdraw(ctx context.Context, authToken string, req *WithdrawAPIRequest) (*WithdrawAPIResponse, error) {
	var resp WithdrawAPIResponse
	if err := c.post(ctx, authToken, "/api/v1/account/withdraw", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LedgerClient) post(ctx context.Context, authToken, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, authToken, out)
}

func (c *LedgerClient) get(ctx context.Context, authToken, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, authToken, out)
}

func (c *LedgerClient) do(req *http.Request, authToken string, out interface{}) error {
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read ledger API response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(logrus.Fields{
			"path":   req.URL.Path,
			"status": resp.StatusCode,
		}).Warn("ledger API request rejected")
		return decodeServiceError(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode ledger API response: %w", err)
	}
	return nil
}
