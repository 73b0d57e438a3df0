package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go-dashboard/internal/clients"
	"go-dashboard/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type historyCall struct {
	filter   models.PaymentFilter
	cursor   *models.PaymentCursor
	pageSize int
}

// fakeLedgerAPI serves a fixed ordered ledger and records every history call.
// gates lets a test stall the response for a particular filter.
type fakeLedgerAPI struct {
	mu         sync.Mutex
	rows       []models.LedgerEntry
	calls      []historyCall
	gates      map[string]chan struct{}
	claimTotal int // when > 0, reported instead of len(rows)
	failNext   int // fail this many history calls before serving
	rateErr    error
}

func (f *fakeLedgerAPI) PaymentHistory(ctx context.Context, authToken string, filter models.PaymentFilter, cursor *models.PaymentCursor, pageSize int) (*clients.PaymentHistoryPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, historyCall{filter: filter, cursor: cursor, pageSize: pageSize})
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return nil, fmt.Errorf("ledger unavailable")
	}
	gate := f.gates[filter.Search]
	rows := f.rows
	total := len(rows)
	if f.claimTotal > 0 {
		total = f.claimTotal
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	start := 0
	if cursor != nil {
		for i := range rows {
			if rows[i].Cursor() == *cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	page := make([]models.LedgerEntry, end-start)
	copy(page, rows[start:end])
	return &clients.PaymentHistoryPage{TotalSize: total, Data: page}, nil
}

func (f *fakeLedgerAPI) PaymentHistoryCSV(ctx context.Context, authToken string, filter models.PaymentFilter) ([][]string, error) {
	return [][]string{{"payment_id"}, {"p1"}}, nil
}

func (f *fakeLedgerAPI) PaymentHistoryUpdates(ctx context.Context, authToken string, sinceTimestamp int64) (int, error) {
	return 0, nil
}

func (f *fakeLedgerAPI) ExchangeRate(ctx context.Context, authToken string, currency string) (decimal.Decimal, error) {
	if f.rateErr != nil {
		return decimal.Zero, f.rateErr
	}
	return decimal.NewFromFloat(0.9), nil
}

func (f *fakeLedgerAPI) ExchangeRates(ctx context.Context, authToken string, currency string, timestamps []int64) (map[int64]*decimal.Decimal, error) {
	rates := make(map[int64]*decimal.Decimal, len(timestamps))
	rate := decimal.NewFromFloat(0.9)
	for _, ts := range timestamps {
		rates[ts] = &rate
	}
	return rates, nil
}

func (f *fakeLedgerAPI) AccountBalance(ctx context.Context, authToken string, chain string) (string, error) {
	return "0", nil
}

func (f *fakeLedgerAPI) Withdraw(ctx context.Context, authToken string, req *clients.WithdrawAPIRequest) (*clients.WithdrawAPIResponse, error) {
	return &clients.WithdrawAPIResponse{}, nil
}

func (f *fakeLedgerAPI) TokenPrices(ctx context.Context, authToken string, symbols []string) (map[string]*decimal.Decimal, error) {
	return nil, nil
}

func (f *fakeLedgerAPI) historyCalls() []historyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]historyCall, len(f.calls))
	copy(calls, f.calls)
	return calls
}

func ledgerRows(n int) []models.LedgerEntry {
	price := decimal.NewFromInt(1)
	rows := make([]models.LedgerEntry, n)
	for i := 0; i < n; i++ {
		rows[i] = models.LedgerEntry{
			PaymentID:                  fmt.Sprintf("pay-%03d", i),
			BlockchainID:               "ethereum",
			TransactionHash:            fmt.Sprintf("0xabc%03d", i),
			LogIndex:                   uint(i % 4),
			Timestamp:                  1700000000 + int64(i*60),
			Direction:                  models.DirectionIncoming,
			Amount:                     "2500000",
			TokenSymbol:                "USDT",
			TokenDecimals:              6,
			TokenUSDPriceAtPaymentTime: &price,
		}
	}
	return rows
}

func newTestEngine(api clients.LedgerAPI, pageSize int) *PaymentQueryService {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	usdt := decimal.NewFromInt(1)
	catalog := &TokenCatalogService{
		byChain: map[string][]models.Token{},
		prices:  map[string]*decimal.Decimal{"USDT": &usdt},
	}
	rates := NewRateCacheService(api, nil, time.Minute, logger)
	return NewPaymentQueryService(api, rates, catalog, pageSize, 6, logger)
}

func TestSetFilterFetchesFirstPage(t *testing.T) {
	api := &fakeLedgerAPI{rows: ledgerRows(40)}
	engine := newTestEngine(api, 25)

	snap, err := engine.SetFilter(context.Background(), "token", "0xACC", "USD", models.PaymentFilter{Blockchains: []string{"ethereum"}})
	require.NoError(t, err)

	assert.Len(t, snap.Data, 25)
	assert.Equal(t, 40, snap.TotalSize)
	assert.Equal(t, QuerySuccess, snap.Status)
	require.Len(t, api.historyCalls(), 1)
	assert.Nil(t, api.historyCalls()[0].cursor)
}

func TestSetFilterDeepEqualIsIdempotent(t *testing.T) {
	api := &fakeLedgerAPI{rows: ledgerRows(10)}
	engine := newTestEngine(api, 25)
	ctx := context.Background()

	filter := models.PaymentFilter{Blockchains: []string{"ethereum"}, Search: "invoice"}
	_, err := engine.SetFilter(ctx, "token", "0xACC", "USD", filter)
	require.NoError(t, err)

	// Same filter by value, distinct slice header: no reset, no fetch.
	again := models.PaymentFilter{Blockchains: []string{"ethereum"}, Search: "invoice"}
	snap, err := engine.SetFilter(ctx, "token", "0xACC", "USD", again)
	require.NoError(t, err)

	assert.Len(t, api.historyCalls(), 1)
	assert.Len(t, snap.Data, 10)
}

func TestSetFilterRetriesAfterFailedEpoch(t *testing.T) {
	api := &fakeLedgerAPI{rows: ledgerRows(10), failNext: 1}
	engine := newTestEngine(api, 25)
	ctx := context.Background()

	filter := models.PaymentFilter{Search: "invoice"}
	_, err := engine.SetFilter(ctx, "token", "0xACC", "USD", filter)
	require.Error(t, err)
	assert.Equal(t, QueryError, engine.Snapshot("0xACC").Status)

	// The equal-filter shortcut must not pin a failed first page.
	snap, err := engine.SetFilter(ctx, "token", "0xACC", "USD", filter)
	require.NoError(t, err)

	assert.Len(t, api.historyCalls(), 2)
	assert.Equal(t, QuerySuccess, snap.Status)
	assert.Len(t, snap.Data, 10)
}

func TestLoadNextUsesLastRowCursor(t *testing.T) {
	api := &fakeLedgerAPI{rows: ledgerRows(40)}
	engine := newTestEngine(api, 25)
	ctx := context.Background()

	_, err := engine.SetFilter(ctx, "token", "0xACC", "USD", models.PaymentFilter{})
	require.NoError(t, err)

	snap, err := engine.LoadNext(ctx, "token", "0xACC")
	require.NoError(t, err)

	assert.Len(t, snap.Data, 40)
	calls := api.historyCalls()
	require.Len(t, calls, 2)
	require.NotNil(t, calls[1].cursor)
	assert.Equal(t, "pay-024", calls[1].cursor.PaymentID)

	// Everything merged: a further LoadNext has nothing to fetch.
	_, err = engine.LoadNext(ctx, "token", "0xACC")
	require.NoError(t, err)
	assert.Len(t, api.historyCalls(), 2)
}

func TestLoadNextDeduplicatesDispatchedCursor(t *testing.T) {
	// The upstream claims more rows than it actually serves, so the merged
	// view sticks at 25 rows and the next-page cursor stays the same.
	api := &fakeLedgerAPI{rows: ledgerRows(25), claimTotal: 40}
	engine := newTestEngine(api, 25)
	ctx := context.Background()

	_, err := engine.SetFilter(ctx, "token", "0xACC", "USD", models.PaymentFilter{})
	require.NoError(t, err)

	_, err = engine.LoadNext(ctx, "token", "0xACC")
	require.NoError(t, err)
	require.Len(t, api.historyCalls(), 2)

	snap, err := engine.LoadNext(ctx, "token", "0xACC")
	require.NoError(t, err)
	assert.Len(t, api.historyCalls(), 2, "identical cursor must not be re-dispatched")
	assert.Len(t, snap.Data, 25)
}

func TestReloadRefetchesAllLoadedPagesAtOnce(t *testing.T) {
	api := &fakeLedgerAPI{rows: ledgerRows(40)}
	engine := newTestEngine(api, 25)
	ctx := context.Background()

	_, err := engine.SetFilter(ctx, "token", "0xACC", "USD", models.PaymentFilter{})
	require.NoError(t, err)
	_, err = engine.LoadNext(ctx, "token", "0xACC")
	require.NoError(t, err)

	snap, err := engine.Reload(ctx, "token", "0xACC")
	require.NoError(t, err)

	calls := api.historyCalls()
	require.Len(t, calls, 3)
	assert.Nil(t, calls[2].cursor, "reload starts from the beginning")
	assert.Equal(t, 50, calls[2].pageSize, "two loaded pages of 25 refill as one request")
	assert.Len(t, snap.Data, 40)
}

func TestStaleEpochPageIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeLedgerAPI{
		rows:  ledgerRows(10),
		gates: map[string]chan struct{}{"slow": gate},
	}
	engine := newTestEngine(api, 25)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = engine.SetFilter(ctx, "token", "0xACC", "USD", models.PaymentFilter{Search: "slow"})
	}()

	// Wait for the slow fetch to be in flight, then supersede its epoch.
	require.Eventually(t, func() bool {
		return len(api.historyCalls()) == 1
	}, time.Second, 5*time.Millisecond)

	snap, err := engine.SetFilter(ctx, "token", "0xACC", "USD", models.PaymentFilter{Search: "fast"})
	require.NoError(t, err)
	require.Len(t, snap.Data, 10)

	close(gate)
	wg.Wait()

	final := engine.Snapshot("0xACC")
	assert.Len(t, final.Data, 10, "superseded page must not be appended")
	assert.Equal(t, QuerySuccess, final.Status)
}

func TestMissingPriceRendersUnavailableNotZero(t *testing.T) {
	rows := ledgerRows(1)
	rows[0].TokenUSDPriceAtPaymentTime = nil
	rows[0].TokenSymbol = "OBSCURE"
	api := &fakeLedgerAPI{rows: rows}
	engine := newTestEngine(api, 25)

	snap, err := engine.SetFilter(context.Background(), "token", "0xACC", "USD", models.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, snap.Data, 1)

	row := snap.Data[0]
	assert.False(t, row.USDAtPaymentTime.Available)
	assert.False(t, row.USDNow.Available)
	assert.Equal(t, "2.5", row.DisplayAmount, "the base amount itself still renders")
}

func TestEnrichmentUsesRecordedUSDWhenPresent(t *testing.T) {
	rows := ledgerRows(1)
	recorded := 3.17
	rows[0].AmountUSDAtPaymentTime = &recorded
	api := &fakeLedgerAPI{rows: rows}
	engine := newTestEngine(api, 25)

	snap, err := engine.SetFilter(context.Background(), "token", "0xACC", "USD", models.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, snap.Data, 1)

	assert.True(t, snap.Data[0].USDAtPaymentTime.Available)
	assert.InDelta(t, 3.17, snap.Data[0].USDAtPaymentTime.Value, 1e-9)
}

func TestApplyIPNResultSplicesByCursor(t *testing.T) {
	api := &fakeLedgerAPI{rows: ledgerRows(10)}
	engine := newTestEngine(api, 25)

	_, err := engine.SetFilter(context.Background(), "token", "0xACC", "USD", models.PaymentFilter{})
	require.NoError(t, err)

	target := api.rows[3].Cursor()
	accounts := engine.ApplyIPNResult(target, "delivered")

	assert.Equal(t, []string{"0xacc"}, accounts)
	snap := engine.Snapshot("0xACC")
	require.NotNil(t, snap.Data[3].IPNResult)
	assert.Equal(t, "delivered", *snap.Data[3].IPNResult)
	assert.Nil(t, snap.Data[2].IPNResult)

	assert.Empty(t, engine.ApplyIPNResult(models.PaymentCursor{PaymentID: "nope"}, "x"))
}

func TestReloadAndClearRepinUpdatePoll(t *testing.T) {
	api := &fakeLedgerAPI{rows: ledgerRows(5)}
	engine := newTestEngine(api, 25)
	ctx := context.Background()

	_, err := engine.SetFilter(ctx, "token", "0xACC", "USD", models.PaymentFilter{})
	require.NoError(t, err)

	targets := engine.PollTargets()
	require.Len(t, targets, 1)
	before := targets[0].SinceT

	time.Sleep(1100 * time.Millisecond)
	_, err = engine.Reload(ctx, "token", "0xACC")
	require.NoError(t, err)

	targets = engine.PollTargets()
	require.Len(t, targets, 1)
	assert.Greater(t, targets[0].SinceT, before)
}
