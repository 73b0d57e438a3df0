package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"go-dashboard/internal/clients"
	"go-dashboard/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RateCacheService caches the "current" USD->currency exchange-rate snapshot.
// Historical per-payment rates are always fetched in bulk alongside ledger
// pages and are never cached here. Redis is optional; without it the cache is
// process-local.
type RateCacheService struct {
	api    clients.LedgerAPI
	rdb    *redis.Client
	ttl    time.Duration
	logger *logrus.Logger

	mu    sync.Mutex
	local map[string]cachedRate
}

type cachedRate struct {
	rate      decimal.Decimal
	expiresAt time.Time
}

// NewRateCacheService creates the cache. rdb may be nil.
func NewRateCacheService(api clients.LedgerAPI, rdb *redis.Client, ttl time.Duration, logger *logrus.Logger) *RateCacheService {
	return &RateCacheService{
		api:    api,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]cachedRate),
	}
}

// CurrentRate returns the current USD->currency rate, consulting the cache
// first. USD is always 1 and never hits the upstream.
func (s *RateCacheService) CurrentRate(ctx context.Context, authToken, currency string) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	if currency == "" || currency == "USD" {
		return decimal.NewFromInt(1), nil
	}

	if rate, ok := s.lookup(ctx, currency); ok {
		metrics.RateCacheHits.WithLabelValues("hit").Inc()
		return rate, nil
	}
	metrics.RateCacheHits.WithLabelValues("miss").Inc()

	rate, err := s.api.ExchangeRate(ctx, authToken, currency)
	if err != nil {
		metrics.RateCacheHits.WithLabelValues("error").Inc()
		return decimal.Zero, err
	}

	s.store(ctx, currency, rate)
	return rate, nil
}

func (s *RateCacheService) lookup(ctx context.Context, currency string) (decimal.Decimal, bool) {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, rateKey(currency)).Result()
		if err == nil {
			rate, parseErr := decimal.NewFromString(raw)
			if parseErr == nil {
				return rate, true
			}
		} else if err != redis.Nil {
			s.logger.WithError(err).Debug("redis rate lookup failed, falling back to local cache")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cached, ok := s.local[currency]
	if !ok || time.Now().After(cached.expiresAt) {
		return decimal.Zero, false
	}
	return cached.rate, true
}

func (s *RateCacheService) store(ctx context.Context, currency string, rate decimal.Decimal) {
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, rateKey(currency), rate.String(), s.ttl).Err(); err != nil {
			s.logger.WithError(err).Debug("redis rate store failed")
		}
	}

	s.mu.Lock()
	s.local[currency] = cachedRate{rate: rate, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
}

func rateKey(currency string) string {
	return "dashboard:rate:" + currency
}
