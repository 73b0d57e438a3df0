package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"go-dashboard/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller answers balanceOfBatch calls with balances derived from the
// token id's last byte, letting tests control which balances are zero.
type fakeCaller struct {
	mu       sync.Mutex
	calls    int
	failOn   int // 1-based call number to fail on, 0 = never
	balances func(id common.Address) *big.Int
	block    chan struct{} // when set, calls wait until closed
}

func (f *fakeCaller) Call(ctx context.Context, chainID int64, to common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.failOn != 0 && call == f.failOn {
		return nil, errors.New("execution reverted")
	}

	owners, ids, err := unpackBalanceOfBatchInput(data)
	if err != nil {
		return nil, err
	}
	if len(owners) != len(ids) {
		return nil, errors.New("mismatched input")
	}

	balances := make([]*big.Int, len(ids))
	for i, id := range ids {
		balances[i] = f.balances(id)
	}
	return custodyABI.Methods["balanceOfBatch"].Outputs.Pack(balances)
}

func unpackBalanceOfBatchInput(data []byte) ([]common.Address, []common.Address, error) {
	method := custodyABI.Methods["balanceOfBatch"]
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return args[0].([]common.Address), args[1].([]common.Address), nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func catalog(n int) []models.Token {
	tokens := make([]models.Token, n)
	for i := range tokens {
		tokens[i] = models.Token{
			BlockchainID:    "eth",
			Symbol:          fmt.Sprintf("TK%d", i),
			ContractAddress: common.BigToAddress(big.NewInt(int64(i + 1))).Hex(),
			Decimals:        18,
		}
	}
	return tokens
}

func baseRequest(tokens []models.Token) BalanceReadRequest {
	return BalanceReadRequest{
		ChainID:       1,
		Custody:       common.HexToAddress("0xc0de"),
		Owner:         common.HexToAddress("0xabcd"),
		WrappedNative: common.HexToAddress("0xbeef"),
		Tokens:        tokens,
	}
}

func TestReadChunksAndFiltersZeroBalances(t *testing.T) {
	// 123 tokens -> 3 chunks of 50/50/23. Tokens with an even last byte get a
	// zero balance and must be dropped.
	caller := &fakeCaller{balances: func(id common.Address) *big.Int {
		last := id[len(id)-1]
		if last%2 == 0 {
			return big.NewInt(0)
		}
		return big.NewInt(int64(last))
	}}

	reader := NewBalanceReader(caller, testLogger())
	tokens := catalog(123)

	balances, err := reader.Read(context.Background(), baseRequest(tokens))
	require.NoError(t, err)
	assert.Equal(t, 3, caller.calls)

	for _, b := range balances {
		assert.Equal(t, 1, b.Amount.Sign(), "zero balances must not survive aggregation")
	}

	// Token addresses are 1..123, so 62 of them are odd.
	assert.Len(t, balances, 62)
	// Order follows the original catalog order.
	assert.Equal(t, "TK0", balances[0].Symbol)
	assert.Equal(t, "TK122", balances[len(balances)-1].Symbol)
}

func TestReadFailsWholeCycleOnAnyChunkFailure(t *testing.T) {
	caller := &fakeCaller{
		failOn:   2,
		balances: func(common.Address) *big.Int { return big.NewInt(1) },
	}
	reader := NewBalanceReader(caller, testLogger())

	_, err := reader.Read(context.Background(), baseRequest(catalog(120)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "balance read failed")
}

func TestReadMapsNativeToWrappedID(t *testing.T) {
	wrapped := common.HexToAddress("0xbeef")
	var seen []common.Address

	caller := &fakeCaller{balances: func(id common.Address) *big.Int {
		seen = append(seen, id)
		return big.NewInt(5)
	}}
	reader := NewBalanceReader(caller, testLogger())

	native := models.Token{BlockchainID: "eth", Symbol: "ETH", Decimals: 18}
	req := baseRequest([]models.Token{native})
	balances, err := reader.Read(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, wrapped, seen[0])
	require.Len(t, balances, 1)
	assert.True(t, balances[0].IsNative())
}

func TestReadDeduplicatesInflight(t *testing.T) {
	block := make(chan struct{})
	caller := &fakeCaller{
		block:    block,
		balances: func(common.Address) *big.Int { return big.NewInt(1) },
	}
	reader := NewBalanceReader(caller, testLogger())
	req := baseRequest(catalog(10))

	done := make(chan error, 1)
	go func() {
		_, err := reader.Read(context.Background(), req)
		done <- err
	}()

	// Wait for the first read to reach the caller, then refetch.
	require.Eventually(t, func() bool {
		caller.mu.Lock()
		defer caller.mu.Unlock()
		return caller.calls > 0
	}, time.Second, 5*time.Millisecond)

	_, err := reader.Read(context.Background(), req)
	assert.ErrorIs(t, err, ErrReadInProgress)

	close(block)
	require.NoError(t, <-done)

	// Once the first read finished, the pair can be read again.
	caller.block = nil
	_, err = reader.Read(context.Background(), req)
	assert.NoError(t, err)
}

func TestReadEmptyCatalog(t *testing.T) {
	caller := &fakeCaller{balances: func(common.Address) *big.Int { return big.NewInt(1) }}
	reader := NewBalanceReader(caller, testLogger())

	balances, err := reader.Read(context.Background(), baseRequest(nil))
	require.NoError(t, err)
	assert.Empty(t, balances)
	assert.Zero(t, caller.calls)
}
