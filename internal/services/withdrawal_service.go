package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"go-dashboard/internal/chain"
	"go-dashboard/internal/config"
	"go-dashboard/internal/metrics"
	"go-dashboard/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNothingToWithdraw marks a withdrawal whose precondition does not hold:
// zero amount, missing recipient, or no non-zero balances for a batch. The
// handler reports it without submitting anything.
var ErrNothingToWithdraw = errors.New("nothing to withdraw")

// WithdrawalShape names the three call shapes sharing the write state machine.
type WithdrawalShape string

const (
	ShapeNative WithdrawalShape = "native"
	ShapeToken  WithdrawalShape = "token"
	ShapeBatch  WithdrawalShape = "batch"
)

// Pusher delivers progress events to the account's connected dashboards.
type Pusher interface {
	Push(accountAddress, messageType string, data interface{})
}

// WithdrawalProgress websocket payload for withdrawal state transitions
type WithdrawalProgress struct {
	WithdrawalID string            `json:"withdrawal_id"`
	Network      string            `json:"network"`
	Shape        WithdrawalShape   `json:"shape"`
	Status       chain.WriteStatus `json:"status"`
}

// BatchWithdrawalRequest the three parallel arrays of a withdrawToBatch call.
// Invariant: equal lengths, every amount positive.
type BatchWithdrawalRequest struct {
	Recipients []common.Address
	Tokens     []common.Address
	Amounts    []*big.Int
}

// BuildBatchWithdrawal builds the batch request from aggregated balances:
// every non-zero balance on the chain, native mapped to the wrapped-native
// contract id, all paid to one recipient.
func BuildBatchWithdrawal(balances []models.Balance, recipient, wrappedNative common.Address) BatchWithdrawalRequest {
	req := BatchWithdrawalRequest{}
	for _, balance := range balances {
		if balance.Amount == nil || balance.Amount.Sign() <= 0 {
			continue
		}
		req.Recipients = append(req.Recipients, recipient)
		req.Tokens = append(req.Tokens, chain.TokenID(balance.Token, wrappedNative))
		req.Amounts = append(req.Amounts, balance.Amount)
	}
	return req
}

// writerRetention is how long a finished writer stays queryable through
// Status before it is pruned.
const writerRetention = time.Hour

type withdrawalRecord struct {
	writer      *chain.TxWriter
	completedAt time.Time // zero while the write is still running
}

// WithdrawalService builds custody withdrawal calls and drives them through
// the chain write state machine, one writer per submission. There is no
// automatic retry; a failed withdrawal is re-initiated by the user.
type WithdrawalService struct {
	cfg      *config.Config
	balances *BalanceService
	binder   chain.Binder
	push     Pusher
	timeouts chain.StageTimeouts
	logger   *logrus.Logger

	mu      sync.Mutex
	writers map[string]*withdrawalRecord
}

// NewWithdrawalService wires the orchestrator.
func NewWithdrawalService(cfg *config.Config, balances *BalanceService, binder chain.Binder, push Pusher, logger *logrus.Logger) *WithdrawalService {
	return &WithdrawalService{
		cfg:      cfg,
		balances: balances,
		binder:   binder,
		push:     push,
		timeouts: chain.StageTimeouts{
			Bind:    time.Duration(cfg.Payments.ChainBindTimeout) * time.Second,
			Submit:  time.Duration(cfg.Payments.SubmitTimeout) * time.Second,
			Confirm: time.Duration(cfg.Payments.ConfirmTimeout) * time.Second,
		},
		logger:  logger,
		writers: make(map[string]*withdrawalRecord),
	}
}

// WithdrawNative submits a native-asset withdrawal.
func (s *WithdrawalService) WithdrawNative(ctx context.Context, accountAddress, networkName, recipient string, amount *big.Int) (string, error) {
	if recipient == "" || amount == nil || amount.Sign() <= 0 {
		return "", ErrNothingToWithdraw
	}
	calldata, err := chain.PackWithdrawEthTo(common.HexToAddress(recipient), amount)
	if err != nil {
		return "", err
	}
	return s.start(accountAddress, networkName, ShapeNative, calldata)
}

// WithdrawToken submits a single-token withdrawal.
func (s *WithdrawalService) WithdrawToken(ctx context.Context, accountAddress, networkName, recipient, tokenAddress string, amount *big.Int) (string, error) {
	if recipient == "" || tokenAddress == "" || amount == nil || amount.Sign() <= 0 {
		return "", ErrNothingToWithdraw
	}
	calldata, err := chain.PackWithdrawTo(common.HexToAddress(recipient), common.HexToAddress(tokenAddress), amount)
	if err != nil {
		return "", err
	}
	return s.start(accountAddress, networkName, ShapeToken, calldata)
}

// WithdrawAll aggregates the account's non-zero balances on the chain and
// submits one batch withdrawal for all of them.
func (s *WithdrawalService) WithdrawAll(ctx context.Context, accountAddress, networkName, recipient string) (string, error) {
	if recipient == "" {
		return "", ErrNothingToWithdraw
	}
	network, err := s.cfg.GetNetwork(networkName)
	if err != nil {
		return "", err
	}

	balances, err := s.balances.RawBalances(ctx, networkName, accountAddress)
	if err != nil {
		return "", err
	}

	batch := BuildBatchWithdrawal(balances, common.HexToAddress(recipient), common.HexToAddress(network.WrappedNative))
	if len(batch.Recipients) == 0 {
		return "", ErrNothingToWithdraw
	}

	calldata, err := chain.PackWithdrawToBatch(batch.Recipients, batch.Tokens, batch.Amounts)
	if err != nil {
		return "", err
	}
	return s.start(accountAddress, networkName, ShapeBatch, calldata)
}

// Status returns the state machine snapshot of one withdrawal.
func (s *WithdrawalService) Status(withdrawalID string) (chain.WriteStatus, bool) {
	s.mu.Lock()
	rec, ok := s.writers[withdrawalID]
	s.mu.Unlock()
	if !ok {
		return chain.WriteStatus{}, false
	}
	return rec.writer.Status(), true
}

// markCompleted stamps a writer terminal so pruneLocked can reclaim it after
// the retention window.
func (s *WithdrawalService) markCompleted(rec *withdrawalRecord) {
	s.mu.Lock()
	rec.completedAt = time.Now()
	s.mu.Unlock()
}

func (s *WithdrawalService) pruneLocked(now time.Time) {
	for id, rec := range s.writers {
		if !rec.completedAt.IsZero() && now.Sub(rec.completedAt) > writerRetention {
			delete(s.writers, id)
		}
	}
}

// start launches the write asynchronously and returns its tracking id. The
// request context ends with the HTTP response, so the write runs on its own
// context bounded by the per-stage timeouts.
func (s *WithdrawalService) start(accountAddress, networkName string, shape WithdrawalShape, calldata []byte) (string, error) {
	network, err := s.cfg.GetNetwork(networkName)
	if err != nil {
		return "", err
	}

	withdrawalID := uuid.New().String()
	writer := chain.NewTxWriter(s.binder, s.timeouts, s.logger)
	rec := &withdrawalRecord{writer: writer}

	s.mu.Lock()
	s.pruneLocked(time.Now())
	s.writers[withdrawalID] = rec
	s.mu.Unlock()

	notify := func() {
		s.push.Push(accountAddress, "withdrawal_update", WithdrawalProgress{
			WithdrawalID: withdrawalID,
			Network:      networkName,
			Shape:        shape,
			Status:       writer.Status(),
		})
	}

	req := chain.WriteRequest{
		ChainID:  network.ChainID,
		Calldata: calldata,
		OnSuccess: func(txHash string) {
			metrics.WithdrawalsTotal.WithLabelValues(networkName, string(shape), "success").Inc()
			s.markCompleted(rec)
			notify()
		},
		OnError: func(stage chain.WriteStage, txHash string, err error) {
			metrics.WithdrawalsTotal.WithLabelValues(networkName, string(shape), "error").Inc()
			metrics.WithdrawalStageErrors.WithLabelValues(networkName, string(stage)).Inc()
			s.markCompleted(rec)
			notify()
		},
	}

	s.logger.WithFields(logrus.Fields{
		"withdrawal_id": withdrawalID,
		"network":       networkName,
		"shape":         shape,
		"account":       accountAddress,
	}).Info("withdrawal initiated")

	go writer.Handle(context.Background(), req)

	return withdrawalID, nil
}
