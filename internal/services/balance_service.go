package services

import (
	"context"
	"time"

	"go-dashboard/internal/chain"
	"go-dashboard/internal/config"
	"go-dashboard/internal/metrics"
	"go-dashboard/internal/models"
	"go-dashboard/internal/valuation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CustodyResolver resolves the custody contract deployed on a chain.
type CustodyResolver interface {
	CustodyContract(chainID int64) (common.Address, error)
}

// BalanceView is one aggregated balance enriched for display.
type BalanceView struct {
	models.Balance
	DisplayAmount string           `json:"display_amount"`
	USD           models.FiatValue `json:"usd"`
	Fiat          models.FiatValue `json:"fiat"`
	Currency      string           `json:"currency"`
}

// BalanceService runs balance aggregation cycles for an account on one chain
// and values the result in USD and the account's display currency.
type BalanceService struct {
	cfg           *config.Config
	catalog       *TokenCatalogService
	reader        *chain.BalanceReader
	custody       CustodyResolver
	rates         *RateCacheService
	displayPlaces int32
	logger        *logrus.Logger
}

// NewBalanceService wires the aggregation pipeline.
func NewBalanceService(cfg *config.Config, catalog *TokenCatalogService, reader *chain.BalanceReader, custody CustodyResolver, rates *RateCacheService, logger *logrus.Logger) *BalanceService {
	return &BalanceService{
		cfg:           cfg,
		catalog:       catalog,
		reader:        reader,
		custody:       custody,
		rates:         rates,
		displayPlaces: int32(cfg.Payments.DisplayDecimalPlaces),
		logger:        logger,
	}
}

// RawBalances runs one aggregation cycle and returns the non-zero balances in
// catalog order. chain.ErrReadInProgress passes through so callers can treat
// a duplicate refetch as a no-op.
func (s *BalanceService) RawBalances(ctx context.Context, networkName, accountAddress string) ([]models.Balance, error) {
	network, err := s.cfg.GetNetwork(networkName)
	if err != nil {
		return nil, err
	}
	custody, err := s.custody.CustodyContract(network.ChainID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	balances, err := s.reader.Read(ctx, chain.BalanceReadRequest{
		ChainID:       network.ChainID,
		Custody:       custody,
		Owner:         common.HexToAddress(accountAddress),
		WrappedNative: common.HexToAddress(network.WrappedNative),
		Tokens:        s.catalog.TokensForChain(networkName),
	})
	if err != nil {
		metrics.BalanceReadsTotal.WithLabelValues(networkName, "error").Inc()
		return nil, err
	}
	metrics.BalanceReadsTotal.WithLabelValues(networkName, "success").Inc()
	metrics.BalanceReadDuration.WithLabelValues(networkName).Observe(time.Since(start).Seconds())
	return balances, nil
}

// Balances aggregates and enriches for display in the given currency.
func (s *BalanceService) Balances(ctx context.Context, authToken, networkName, accountAddress, currency string) ([]BalanceView, error) {
	balances, err := s.RawBalances(ctx, networkName, accountAddress)
	if err != nil {
		return nil, err
	}

	rate, err := s.rates.CurrentRate(ctx, authToken, currency)
	if err != nil {
		// A missing rate must not hide the balances themselves; fiat
		// valuations degrade to unavailable.
		s.logger.WithError(err).WithField("currency", currency).Warn("current rate unavailable, rendering fiat as unavailable")
		rate = decimal.Zero
	}

	views := make([]BalanceView, 0, len(balances))
	for _, balance := range balances {
		views = append(views, s.enrich(balance, currency, rate))
	}
	return views, nil
}

func (s *BalanceService) enrich(balance models.Balance, currency string, rate decimal.Decimal) BalanceView {
	view := BalanceView{
		Balance:       balance,
		DisplayAmount: valuation.ToDisplayAmount(balance.Amount, balance.Decimals, s.displayPlaces),
		Currency:      currency,
	}

	usd := valuation.BaseAmountToUSD(balance.Amount, balance.USDPrice, balance.Decimals)
	view.USD = models.FiatValue{Value: usd.Value, Available: usd.Available}

	if !rate.IsZero() {
		fiat := valuation.BaseAmountToCurrency(balance.Amount, balance.USDPrice, balance.Decimals, rate)
		view.Fiat = models.FiatValue{Value: fiat.Value, Available: fiat.Available}
	}
	return view
}

// EquivalentBaseAmount computes the token base-unit amount matching a target
// display-currency amount, used when the user types a fiat figure. ok=false
// means the token has no USD quote or the rate is zero; like elsewhere, a
// missing valuation is data, not a failure.
func (s *BalanceService) EquivalentBaseAmount(ctx context.Context, authToken string, token models.Token, currencyAmount float64, currency string) (string, bool, error) {
	rate, err := s.rates.CurrentRate(ctx, authToken, currency)
	if err != nil {
		return "", false, err
	}
	base, ok := valuation.CurrencyToBaseAmount(currencyAmount, token.USDPrice, token.Decimals, rate)
	if !ok {
		return "", false, nil
	}
	return base.String(), true, nil
}
