package services

import (
	"context"
	"sync"
	"time"

	"go-dashboard/internal/clients"
	"go-dashboard/internal/metrics"

	"github.com/sirupsen/logrus"
)

// UpdatePollService periodically asks the upstream ledger how many records
// are newer than each active session's pinned timestamp and pushes the count
// so the dashboard can show a "new payments" banner. The pinned timestamp
// only moves on filter-clear or manual refresh, so the count keeps growing
// until the user acts on it.
type UpdatePollService struct {
	api    clients.LedgerAPI
	engine *PaymentQueryService
	pusher Pusher
	logger *logrus.Logger

	mu        sync.Mutex
	ticker    *time.Ticker
	done      chan struct{}
	isRunning bool
	lastCount map[string]int
}

// UpdateNotice is pushed to the dashboard when new ledger records exist.
type UpdateNotice struct {
	NewRecords int   `json:"new_records"`
	Since      int64 `json:"since"`
}

// NewUpdatePollService wires the poller. pusher may be nil.
func NewUpdatePollService(api clients.LedgerAPI, engine *PaymentQueryService, pusher Pusher, logger *logrus.Logger) *UpdatePollService {
	return &UpdatePollService{
		api:       api,
		engine:    engine,
		pusher:    pusher,
		logger:    logger,
		done:      make(chan struct{}),
		lastCount: make(map[string]int),
	}
}

// Start begins the poll loop.
func (s *UpdatePollService) Start(interval time.Duration) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(interval)
	s.mu.Unlock()

	s.logger.WithField("interval", interval.String()).Info("ledger update poller started")

	go func() {
		for {
			select {
			case <-s.done:
				s.ticker.Stop()
				return
			case <-s.ticker.C:
				s.pollOnce()
			}
		}
	}()
}

// Stop halts the poll loop.
func (s *UpdatePollService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.done)
}

func (s *UpdatePollService) pollOnce() {
	targets := s.engine.PollTargets()

	// Forget counts for sessions that no longer exist so the map tracks
	// only live accounts.
	active := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		active[target.Account] = struct{}{}
	}
	s.mu.Lock()
	for account := range s.lastCount {
		if _, ok := active[account]; !ok {
			delete(s.lastCount, account)
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, target := range targets {
		count, err := s.api.PaymentHistoryUpdates(ctx, target.AuthToken, target.SinceT)
		if err != nil {
			metrics.UpdatePollsTotal.WithLabelValues("error").Inc()
			s.logger.WithError(err).WithField("account", target.Account).Debug("update poll failed")
			continue
		}
		metrics.UpdatePollsTotal.WithLabelValues("ok").Inc()

		s.mu.Lock()
		changed := s.lastCount[target.Account] != count
		s.lastCount[target.Account] = count
		s.mu.Unlock()

		if count > 0 && changed && s.pusher != nil {
			s.pusher.Push(target.Account, "ledger_updates", UpdateNotice{NewRecords: count, Since: target.SinceT})
		}
	}
}
