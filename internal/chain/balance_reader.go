package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"go-dashboard/internal/models"
	"go-dashboard/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// BalanceChunkSize caps the id count of one balanceOfBatch call so the read
// stays inside the contract's call-size limits.
const BalanceChunkSize = 50

// ErrReadInProgress is returned when a refetch arrives while a read for the
// same (chain, account) pair is still running. The caller treats it as a
// no-op; it is not a failure.
var ErrReadInProgress = errors.New("balance read already in progress")

// BalanceReadRequest one aggregation cycle for an account on one chain.
type BalanceReadRequest struct {
	ChainID       int64
	Custody       common.Address
	Owner         common.Address
	WrappedNative common.Address
	// Tokens already filtered to the target chain's catalog.
	Tokens []models.Token
}

// BalanceReader aggregates custody balances over large token catalogs by
// issuing chunked balanceOfBatch calls in parallel and keeping only non-zero
// results. Reads self-deduplicate per (chain, owner).
type BalanceReader struct {
	caller    Caller
	logger    *logrus.Logger
	chunkSize int

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewBalanceReader creates a reader over the given chain caller.
func NewBalanceReader(caller Caller, logger *logrus.Logger) *BalanceReader {
	return &BalanceReader{
		caller:    caller,
		logger:    logger,
		chunkSize: BalanceChunkSize,
		inflight:  make(map[string]struct{}),
	}
}

// TokenID resolves a token to its on-chain id: its own contract address, or
// the wrapped-native contract for the chain's intrinsic asset.
func TokenID(token models.Token, wrappedNative common.Address) common.Address {
	if token.IsNative() {
		return wrappedNative
	}
	return common.HexToAddress(token.ContractAddress)
}

// Read runs one aggregation cycle. Returns ErrReadInProgress if the same
// (chain, owner) pair is already being read; any chunk failure fails the
// whole read.
func (r *BalanceReader) Read(ctx context.Context, req BalanceReadRequest) ([]models.Balance, error) {
	key := fmt.Sprintf("%d/%s", req.ChainID, strings.ToLower(req.Owner.Hex()))

	r.mu.Lock()
	if _, busy := r.inflight[key]; busy {
		r.mu.Unlock()
		return nil, ErrReadInProgress
	}
	r.inflight[key] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
	}()

	if len(req.Tokens) == 0 {
		return nil, nil
	}

	ids := make([]common.Address, len(req.Tokens))
	for i, token := range req.Tokens {
		ids[i] = TokenID(token, req.WrappedNative)
	}

	chunks := utils.Chunk(ids, r.chunkSize)
	results := make([][]*big.Int, len(chunks))
	errs := make([]error, len(chunks))

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk []common.Address) {
			defer wg.Done()
			results[i], errs[i] = r.readChunk(ctx, req, chunk)
		}(i, chunk)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"chain_id": req.ChainID,
				"owner":    req.Owner.Hex(),
				"chunk":    i,
			}).WithError(err).Warn("balance chunk read failed")
			return nil, fmt.Errorf("balance read failed on chunk %d: %w", i, err)
		}
	}

	// Flatten in the original catalog order and drop zero balances.
	balances := make([]models.Balance, 0, len(req.Tokens))
	idx := 0
	for _, chunkBalances := range results {
		for _, amount := range chunkBalances {
			if amount.Sign() > 0 {
				balances = append(balances, models.Balance{
					Token:  req.Tokens[idx],
					Amount: amount,
				})
			}
			idx++
		}
	}
	return balances, nil
}

// readChunk issues one balanceOfBatch call: the owner repeated N times against
// N token ids. A single malformed id aborts the whole chunk.
func (r *BalanceReader) readChunk(ctx context.Context, req BalanceReadRequest, chunk []common.Address) ([]*big.Int, error) {
	owners := make([]common.Address, len(chunk))
	for i := range owners {
		owners[i] = req.Owner
	}

	calldata, err := PackBalanceOfBatch(owners, chunk)
	if err != nil {
		return nil, err
	}

	output, err := r.caller.Call(ctx, req.ChainID, req.Custody, calldata)
	if err != nil {
		return nil, err
	}
	return UnpackBalanceOfBatch(output, len(chunk))
}
