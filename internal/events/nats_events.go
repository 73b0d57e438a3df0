package events

import (
	"encoding/json"
	"fmt"
	"time"

	"go-dashboard/internal/config"
	"go-dashboard/internal/metrics"
	"go-dashboard/internal/models"
	"go-dashboard/internal/services"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// IPNResultEvent is published by the gateway's notification worker after it
// delivered (or gave up delivering) an instant payment notification. The
// cursor identifies the ledger row the result belongs to.
type IPNResultEvent struct {
	Cursor models.PaymentCursor `json:"cursor"`
	Result string               `json:"result"` // delivered | failed | retrying
	SentAt int64                `json:"sent_at"`
}

// IPNSubscriber feeds asynchronous IPN delivery results into the ledger query
// engine and pushes them to connected dashboards.
type IPNSubscriber struct {
	conn    *nats.Conn
	subject string
	sub     *nats.Subscription
	engine  *services.PaymentQueryService
	pusher  services.Pusher
	logger  *logrus.Logger
}

// NewIPNSubscriber connects to NATS and returns the subscriber, not yet
// subscribed. pusher may be nil.
func NewIPNSubscriber(cfg config.NATSConfig, engine *services.PaymentQueryService, pusher services.Pusher, logger *logrus.Logger) (*IPNSubscriber, error) {
	timeout := 10 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(timeout),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait)*time.Second),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			metrics.NATSConnectionStatus.Set(0)
			logger.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			metrics.NATSConnectionStatus.Set(1)
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	return &IPNSubscriber{
		conn:    conn,
		subject: cfg.IPNSubject,
		engine:  engine,
		pusher:  pusher,
		logger:  logger,
	}, nil
}

// Subscribe starts consuming IPN result events.
func (s *IPNSubscriber) Subscribe() error {
	sub, err := s.conn.Subscribe(s.subject, s.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.WithField("subject", s.subject).Info("subscribed to ipn result events")
	return nil
}

func (s *IPNSubscriber) handleMessage(msg *nats.Msg) {
	var event IPNResultEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		metrics.IPNEventsTotal.WithLabelValues("malformed").Inc()
		s.logger.WithError(err).Warn("dropping malformed ipn event")
		return
	}
	if event.Cursor.PaymentID == "" || event.Result == "" {
		metrics.IPNEventsTotal.WithLabelValues("malformed").Inc()
		return
	}

	accounts := s.engine.ApplyIPNResult(event.Cursor, event.Result)
	metrics.IPNEventsTotal.WithLabelValues("applied").Inc()
	s.logger.WithFields(logrus.Fields{
		"payment_id": event.Cursor.PaymentID,
		"result":     event.Result,
		"sessions":   len(accounts),
	}).Debug("applied ipn result")

	if s.pusher == nil {
		return
	}
	for _, account := range accounts {
		s.pusher.Push(account, "ipn_result", event)
	}
}

// Close drains the subscription and closes the connection.
func (s *IPNSubscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.logger.WithError(err).Debug("nats drain failed")
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
	metrics.NATSConnectionStatus.Set(0)
}
