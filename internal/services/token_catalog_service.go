package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go-dashboard/internal/clients"
	"go-dashboard/internal/config"
	"go-dashboard/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TokenCatalogService holds the token catalog assembled from the network
// configuration and keeps its USD quotes fresh on a fixed interval. A token
// whose quote is missing keeps a nil price; valuation renders it as
// unavailable instead of zero.
type TokenCatalogService struct {
	api          clients.LedgerAPI
	serviceToken string
	logger       *logrus.Logger

	mu        sync.RWMutex
	byChain   map[string][]models.Token // blockchain id -> catalog
	prices    map[string]*decimal.Decimal
	ticker    *time.Ticker
	done      chan struct{}
	isRunning bool
}

// NewTokenCatalogService builds the catalog from config.
func NewTokenCatalogService(cfg *config.Config, api clients.LedgerAPI, logger *logrus.Logger) *TokenCatalogService {
	byChain := make(map[string][]models.Token)
	for name, network := range cfg.Blockchain.Networks {
		if !network.Enabled {
			continue
		}
		tokens := make([]models.Token, 0, len(network.Tokens))
		for _, tc := range network.Tokens {
			tokens = append(tokens, models.Token{
				BlockchainID:    name,
				Symbol:          tc.Symbol,
				ContractAddress: tc.Address,
				Decimals:        tc.Decimals,
			})
		}
		byChain[name] = tokens
	}

	return &TokenCatalogService{
		api:          api,
		serviceToken: cfg.Ledger.ServiceToken,
		logger:       logger,
		byChain:      byChain,
		prices:       make(map[string]*decimal.Decimal),
		done:         make(chan struct{}),
	}
}

// Start begins the price refresh loop.
func (s *TokenCatalogService) Start(interval time.Duration) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(interval)
	s.mu.Unlock()

	go func() {
		s.refreshPrices()
		for {
			select {
			case <-s.done:
				s.ticker.Stop()
				return
			case <-s.ticker.C:
				s.refreshPrices()
			}
		}
	}()

	s.logger.WithField("interval", interval).Info("token price refresh started")
}

// Stop halts the refresh loop.
func (s *TokenCatalogService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.done)
}

func (s *TokenCatalogService) refreshPrices() {
	symbols := s.allSymbols()
	if len(symbols) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	prices, err := s.api.TokenPrices(ctx, s.serviceToken, symbols)
	if err != nil {
		s.logger.WithError(err).Warn("token price refresh failed, keeping previous quotes")
		return
	}

	s.mu.Lock()
	for symbol, price := range prices {
		s.prices[strings.ToUpper(symbol)] = price
	}
	s.mu.Unlock()
}

func (s *TokenCatalogService) allSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	for _, tokens := range s.byChain {
		for _, token := range tokens {
			set[strings.ToUpper(token.Symbol)] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(set))
	for symbol := range set {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// TokensForChain returns the chain's catalog with current USD quotes applied.
func (s *TokenCatalogService) TokensForChain(blockchainID string) []models.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	source := s.byChain[blockchainID]
	tokens := make([]models.Token, len(source))
	copy(tokens, source)
	for i := range tokens {
		tokens[i].USDPrice = s.prices[strings.ToUpper(tokens[i].Symbol)]
	}
	return tokens
}

// FindToken looks a token up by its case-insensitive identity.
func (s *TokenCatalogService) FindToken(blockchainID, symbol, contractAddress string) (models.Token, bool) {
	want := models.Token{
		BlockchainID:    blockchainID,
		Symbol:          symbol,
		ContractAddress: contractAddress,
	}.Key()
	for _, token := range s.TokensForChain(blockchainID) {
		if token.Key() == want {
			return token, true
		}
	}
	return models.Token{}, false
}

// PriceFor returns the current USD quote of a symbol, nil when unknown.
func (s *TokenCatalogService) PriceFor(symbol string) *decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prices[strings.ToUpper(symbol)]
}
