package services

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"go-dashboard/internal/clients"
	"go-dashboard/internal/metrics"
	"go-dashboard/internal/models"
	"go-dashboard/internal/utils"
	"go-dashboard/internal/valuation"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// QueryStatus lifecycle of a ledger view session
type QueryStatus string

const (
	QueryIdle       QueryStatus = "idle"
	QueryProcessing QueryStatus = "processing"
	QuerySuccess    QueryStatus = "success"
	QueryError      QueryStatus = "error"
)

// LedgerSnapshot is what the handler returns to the dashboard: the merged
// pages of the current filter epoch.
type LedgerSnapshot struct {
	Data      []models.EnrichedPayment `json:"data"`
	TotalSize int                      `json:"total_size"`
	Status    QueryStatus              `json:"status"`
	Error     string                   `json:"error,omitempty"`
}

// ledgerSession is one account's ledger view. Data is append-only within a
// filter epoch; an epoch ends when the filter changes by value.
type ledgerSession struct {
	epoch          uint64
	filter         models.PaymentFilter
	hasFilter      bool
	data           []models.EnrichedPayment
	totalSize      int
	lastDispatched *models.PaymentCursor
	status         QueryStatus
	lastErr        string

	// sinceT pins the "new records" poll to the moment of the last
	// filter-clear or manual refresh; pagination never advances it.
	sinceT    int64
	authToken string
	currency  string
}

// PollTarget is one session the update poller watches.
type PollTarget struct {
	Account   string
	SinceT    int64
	AuthToken string
}

// PaymentQueryService runs keyset-cursor pagination over the upstream ledger,
// one session per account, and enriches every fetched page with historical
// and current valuations.
type PaymentQueryService struct {
	api      clients.LedgerAPI
	rates    *RateCacheService
	catalog  *TokenCatalogService
	pageSize int
	places   int32
	logger   *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*ledgerSession
}

// NewPaymentQueryService wires the query engine.
func NewPaymentQueryService(api clients.LedgerAPI, rates *RateCacheService, catalog *TokenCatalogService, pageSize int, displayPlaces int32, logger *logrus.Logger) *PaymentQueryService {
	return &PaymentQueryService{
		api:      api,
		rates:    rates,
		catalog:  catalog,
		pageSize: pageSize,
		places:   displayPlaces,
		logger:   logger,
		sessions: make(map[string]*ledgerSession),
	}
}

func (s *PaymentQueryService) session(account string) *ledgerSession {
	account = strings.ToLower(account)
	sess, ok := s.sessions[account]
	if !ok {
		sess = &ledgerSession{status: QueryIdle, sinceT: time.Now().Unix(), currency: "USD"}
		s.sessions[account] = sess
	}
	return sess
}

// SetFilter starts a new filter epoch and fetches its first page. Setting a
// deep-equal filter is idempotent: no reset, no fetch. The idempotency only
// holds for an epoch that did not end in error; re-applying the filter after
// a failed first page retries it.
func (s *PaymentQueryService) SetFilter(ctx context.Context, authToken, account, currency string, filter models.PaymentFilter) (LedgerSnapshot, error) {
	s.mu.Lock()
	sess := s.session(account)
	if sess.hasFilter && sess.currency == currency && sess.status != QueryError && reflect.DeepEqual(sess.filter, filter) {
		snap := snapshotOf(sess)
		s.mu.Unlock()
		return snap, nil
	}

	sess.epoch++
	epoch := sess.epoch
	sess.filter = filter
	sess.hasFilter = true
	sess.data = nil
	sess.totalSize = 0
	sess.lastDispatched = nil
	sess.status = QueryProcessing
	sess.lastErr = ""
	sess.authToken = authToken
	sess.currency = currency
	if filter.IsEmpty() {
		// Only an explicit filter-clear re-pins the update poll.
		sess.sinceT = time.Now().Unix()
	}
	s.mu.Unlock()

	metrics.LedgerPagesTotal.WithLabelValues("first").Inc()
	return s.fetchAndCommit(ctx, authToken, account, currency, epoch, filter, nil, s.pageSize, true)
}

// LoadNext fetches the page after the last merged row. Calling it again while
// the same cursor is already dispatched is a no-op, which keeps overlapping
// scroll callbacks from double-loading a page.
func (s *PaymentQueryService) LoadNext(ctx context.Context, authToken, account string) (LedgerSnapshot, error) {
	s.mu.Lock()
	sess := s.session(account)
	if !sess.hasFilter || len(sess.data) == 0 {
		snap := snapshotOf(sess)
		s.mu.Unlock()
		return snap, nil
	}
	if len(sess.data) >= sess.totalSize {
		snap := snapshotOf(sess)
		s.mu.Unlock()
		return snap, nil
	}

	cursor := sess.data[len(sess.data)-1].Cursor()
	if sess.lastDispatched != nil && *sess.lastDispatched == cursor {
		snap := snapshotOf(sess)
		s.mu.Unlock()
		return snap, nil
	}
	sess.lastDispatched = &cursor
	sess.status = QueryProcessing
	epoch := sess.epoch
	filter := sess.filter
	currency := sess.currency
	sess.authToken = authToken
	s.mu.Unlock()

	metrics.LedgerPagesTotal.WithLabelValues("next").Inc()
	return s.fetchAndCommit(ctx, authToken, account, currency, epoch, filter, &cursor, s.pageSize, false)
}

// Reload re-issues the current filter from the beginning, requesting enough
// rows to refill every page that was already loaded so a manual refresh does
// not shrink the visible window. It also re-pins the update poll.
func (s *PaymentQueryService) Reload(ctx context.Context, authToken, account string) (LedgerSnapshot, error) {
	s.mu.Lock()
	sess := s.session(account)
	if !sess.hasFilter {
		snap := snapshotOf(sess)
		s.mu.Unlock()
		return snap, nil
	}

	pages := utils.Max(1, utils.CeilDiv(len(sess.data), s.pageSize))
	sess.epoch++
	epoch := sess.epoch
	filter := sess.filter
	currency := sess.currency
	sess.data = nil
	sess.totalSize = 0
	sess.lastDispatched = nil
	sess.status = QueryProcessing
	sess.lastErr = ""
	sess.sinceT = time.Now().Unix()
	sess.authToken = authToken
	s.mu.Unlock()

	metrics.LedgerPagesTotal.WithLabelValues("reload").Inc()
	return s.fetchAndCommit(ctx, authToken, account, currency, epoch, filter, nil, pages*s.pageSize, true)
}

// Snapshot returns the session's current merged view without fetching.
func (s *PaymentQueryService) Snapshot(account string) LedgerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotOf(s.session(account))
}

// ExportCSV fetches the unpaged export of the session's current filter.
func (s *PaymentQueryService) ExportCSV(ctx context.Context, authToken, account string) ([][]string, error) {
	s.mu.Lock()
	filter := s.session(account).filter
	s.mu.Unlock()

	metrics.LedgerPagesTotal.WithLabelValues("csv").Inc()
	return s.api.PaymentHistoryCSV(ctx, authToken, filter)
}

// PollTargets lists the sessions the update poller should check.
func (s *PaymentQueryService) PollTargets() []PollTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make([]PollTarget, 0, len(s.sessions))
	for account, sess := range s.sessions {
		if sess.authToken == "" {
			continue
		}
		targets = append(targets, PollTarget{Account: account, SinceT: sess.sinceT, AuthToken: sess.authToken})
	}
	return targets
}

// ApplyIPNResult splices an asynchronously arriving IPN result into every
// session holding the row, matched by cursor key. Returns the affected
// accounts so the caller can push the update.
func (s *PaymentQueryService) ApplyIPNResult(cursor models.PaymentCursor, result string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var accounts []string
	for account, sess := range s.sessions {
		for i := range sess.data {
			if sess.data[i].Cursor() == cursor {
				r := result
				sess.data[i].IPNResult = &r
				accounts = append(accounts, account)
				break
			}
		}
	}
	return accounts
}

// DropSession removes an account's ledger view, stopping its update polling.
func (s *PaymentQueryService) DropSession(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, strings.ToLower(account))
}

// fetchAndCommit performs the upstream query outside the lock, then commits
// the page only if the session is still in the same filter epoch. A page from
// a superseded epoch is discarded: the reset happened-before it and its rows
// belong to a filter the user has already left.
func (s *PaymentQueryService) fetchAndCommit(ctx context.Context, authToken, account, currency string, epoch uint64, filter models.PaymentFilter, cursor *models.PaymentCursor, pageSize int, replace bool) (LedgerSnapshot, error) {
	start := time.Now()
	page, err := s.api.PaymentHistory(ctx, authToken, filter, cursor, pageSize)
	metrics.LedgerQueryDuration.Observe(time.Since(start).Seconds())

	var enriched []models.EnrichedPayment
	if err == nil {
		enriched, err = s.enrichPage(ctx, authToken, currency, page.Data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(account)
	if sess.epoch != epoch {
		// Stale in-flight page from a superseded epoch.
		s.logger.WithFields(logrus.Fields{
			"account": account,
			"epoch":   epoch,
			"current": sess.epoch,
		}).Debug("discarding ledger page from superseded filter epoch")
		return snapshotOf(sess), nil
	}

	if err != nil {
		sess.status = QueryError
		sess.lastErr = err.Error()
		// Allow the same page to be retried.
		if cursor != nil && sess.lastDispatched != nil && *sess.lastDispatched == *cursor {
			sess.lastDispatched = nil
		}
		return snapshotOf(sess), err
	}

	if replace {
		sess.data = enriched
	} else {
		sess.data = append(sess.data, enriched...)
	}
	sess.totalSize = page.TotalSize
	sess.status = QuerySuccess
	sess.lastErr = ""
	return snapshotOf(sess), nil
}

// enrichPage joins one raw page with live token metadata and both
// point-in-time and current valuations.
func (s *PaymentQueryService) enrichPage(ctx context.Context, authToken, currency string, entries []models.LedgerEntry) ([]models.EnrichedPayment, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	historical, err := s.historicalRates(ctx, authToken, currency, entries)
	if err != nil {
		return nil, err
	}

	currentRate, err := s.rates.CurrentRate(ctx, authToken, currency)
	if err != nil {
		s.logger.WithError(err).WithField("currency", currency).Warn("current rate unavailable for enrichment")
		currentRate = decimal.Zero
	}

	enriched := make([]models.EnrichedPayment, 0, len(entries))
	for _, entry := range entries {
		enriched = append(enriched, s.project(entry, currency, historical[entry.Timestamp], currentRate))
	}
	return enriched, nil
}

func (s *PaymentQueryService) historicalRates(ctx context.Context, authToken, currency string, entries []models.LedgerEntry) (map[int64]*decimal.Decimal, error) {
	if strings.EqualFold(currency, "USD") {
		one := decimal.NewFromInt(1)
		rates := make(map[int64]*decimal.Decimal, len(entries))
		for _, entry := range entries {
			rates[entry.Timestamp] = &one
		}
		return rates, nil
	}

	seen := make(map[int64]struct{}, len(entries))
	timestamps := make([]int64, 0, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.Timestamp]; !ok {
			seen[entry.Timestamp] = struct{}{}
			timestamps = append(timestamps, entry.Timestamp)
		}
	}
	return s.api.ExchangeRates(ctx, authToken, currency, timestamps)
}

func (s *PaymentQueryService) project(entry models.LedgerEntry, currency string, histRate *decimal.Decimal, currentRate decimal.Decimal) models.EnrichedPayment {
	amount := entry.AmountBig()
	row := models.EnrichedPayment{
		LedgerEntry:   entry,
		DisplayAmount: valuation.ToDisplayAmount(amount, entry.TokenDecimals, s.places),
		Currency:      currency,
	}

	// Point-in-time USD: the recorded figure when present, otherwise derived
	// from the recorded point-in-time price.
	var usdAt valuation.FiatAmount
	if entry.AmountUSDAtPaymentTime != nil {
		usdAt = valuation.Fiat(*entry.AmountUSDAtPaymentTime)
	} else {
		usdAt = valuation.BaseAmountToUSD(amount, entry.TokenUSDPriceAtPaymentTime, entry.TokenDecimals)
	}
	row.USDAtPaymentTime = models.FiatValue{Value: usdAt.Value, Available: usdAt.Available}

	if usdAt.Available && histRate != nil {
		row.FiatAtPaymentTime = models.FiatValue{
			Value:     decimal.NewFromFloat(usdAt.Value).Mul(*histRate).InexactFloat64(),
			Available: true,
		}
	}

	// Current valuation from the live catalog quote.
	currentPrice := s.catalog.PriceFor(entry.TokenSymbol)
	usdNow := valuation.BaseAmountToUSD(amount, currentPrice, entry.TokenDecimals)
	row.USDNow = models.FiatValue{Value: usdNow.Value, Available: usdNow.Available}
	if usdNow.Available && !currentRate.IsZero() {
		fiatNow := valuation.BaseAmountToCurrency(amount, currentPrice, entry.TokenDecimals, currentRate)
		row.FiatNow = models.FiatValue{Value: fiatNow.Value, Available: fiatNow.Available}
	}
	return row
}

func snapshotOf(sess *ledgerSession) LedgerSnapshot {
	data := make([]models.EnrichedPayment, len(sess.data))
	copy(data, sess.data)
	return LedgerSnapshot{
		Data:      data,
		TotalSize: sess.totalSize,
		Status:    sess.status,
		Error:     sess.lastErr,
	}
}
