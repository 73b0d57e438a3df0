package services

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"go-dashboard/internal/chain"
	"go-dashboard/internal/config"
	"go-dashboard/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBinder struct{}

func (failingBinder) Bind(ctx context.Context, chainID int64) (chain.Submitter, error) {
	return nil, fmt.Errorf("no signer for chain %d", chainID)
}

type nopPusher struct{}

func (nopPusher) Push(accountAddress, messageType string, data interface{}) {}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestBuildBatchWithdrawalInvariants(t *testing.T) {
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	wrappedNative := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	usdt := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	price := decimal.NewFromInt(1)
	balances := []models.Balance{
		{Token: models.Token{BlockchainID: "ethereum", Symbol: "ETH", Decimals: 18, USDPrice: &price}, Amount: big.NewInt(5)},
		{Token: models.Token{BlockchainID: "ethereum", Symbol: "USDT", ContractAddress: usdt.Hex(), Decimals: 6}, Amount: big.NewInt(100)},
		{Token: models.Token{BlockchainID: "ethereum", Symbol: "DUST", Decimals: 18}, Amount: big.NewInt(0)},
		{Token: models.Token{BlockchainID: "ethereum", Symbol: "BROKEN", Decimals: 18}, Amount: nil},
	}

	batch := BuildBatchWithdrawal(balances, recipient, wrappedNative)

	// Three parallel arrays of equal length, zero and nil amounts skipped.
	require.Len(t, batch.Recipients, 2)
	require.Len(t, batch.Tokens, 2)
	require.Len(t, batch.Amounts, 2)
	for _, amount := range batch.Amounts {
		assert.Positive(t, amount.Sign())
	}
	for _, to := range batch.Recipients {
		assert.Equal(t, recipient, to)
	}

	// The native balance maps to the wrapped-native contract id.
	assert.Equal(t, wrappedNative, batch.Tokens[0])
	assert.Equal(t, usdt, batch.Tokens[1])
}

func TestBuildBatchWithdrawalEmpty(t *testing.T) {
	batch := BuildBatchWithdrawal(nil, common.Address{}, common.Address{})
	assert.Empty(t, batch.Recipients)
	assert.Empty(t, batch.Tokens)
	assert.Empty(t, batch.Amounts)
}

func TestWithdrawalGuards(t *testing.T) {
	svc := NewWithdrawalService(&config.Config{}, nil, nil, nil, quietLogger())
	ctx := context.Background()

	_, err := svc.WithdrawNative(ctx, "0xacc", "ethereum", "", big.NewInt(1))
	assert.ErrorIs(t, err, ErrNothingToWithdraw)

	_, err = svc.WithdrawNative(ctx, "0xacc", "ethereum", "0xdead", nil)
	assert.ErrorIs(t, err, ErrNothingToWithdraw)

	_, err = svc.WithdrawNative(ctx, "0xacc", "ethereum", "0xdead", big.NewInt(0))
	assert.ErrorIs(t, err, ErrNothingToWithdraw)

	_, err = svc.WithdrawToken(ctx, "0xacc", "ethereum", "0xdead", "", big.NewInt(1))
	assert.ErrorIs(t, err, ErrNothingToWithdraw)

	_, err = svc.WithdrawAll(ctx, "0xacc", "ethereum", "")
	assert.ErrorIs(t, err, ErrNothingToWithdraw)
}

func TestStatusUnknownWithdrawal(t *testing.T) {
	svc := NewWithdrawalService(&config.Config{}, nil, nil, nil, quietLogger())
	_, ok := svc.Status("no-such-id")
	assert.False(t, ok)
}

func TestCompletedWithdrawalsArePruned(t *testing.T) {
	cfg := &config.Config{Blockchain: config.BlockchainConfig{Networks: map[string]config.NetworkConfig{
		"ethereum": {ChainID: 1, Enabled: true},
	}}}
	svc := NewWithdrawalService(cfg, nil, failingBinder{}, nopPusher{}, quietLogger())

	stale := chain.NewTxWriter(failingBinder{}, chain.StageTimeouts{}, quietLogger())
	svc.mu.Lock()
	svc.writers["stale"] = &withdrawalRecord{writer: stale, completedAt: time.Now().Add(-2 * writerRetention)}
	svc.writers["running"] = &withdrawalRecord{writer: stale}
	svc.mu.Unlock()

	recipient := "0x00000000000000000000000000000000000000aa"
	id, err := svc.WithdrawNative(context.Background(), "0xacc", "ethereum", recipient, big.NewInt(1))
	require.NoError(t, err)

	_, ok := svc.Status("stale")
	assert.False(t, ok, "a writer finished beyond the retention window is dropped")
	_, ok = svc.Status("running")
	assert.True(t, ok, "an in-flight writer is never pruned")
	_, ok = svc.Status(id)
	assert.True(t, ok)
}
