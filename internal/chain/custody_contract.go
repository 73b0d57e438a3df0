package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Custodial contract surface the dashboard talks to. Token id convention: an
// ERC-style token uses its own contract address as id; the chain's native
// asset uses the wrapped-native contract's address.
const custodyABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "owners", "type": "address[]"},
			{"name": "tokens", "type": "address[]"}
		],
		"name": "balanceOfBatch",
		"outputs": [{"name": "", "type": "uint256[]"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "withdrawTo",
		"outputs": [],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "withdrawEthTo",
		"outputs": [],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "tos", "type": "address[]"},
			{"name": "tokens", "type": "address[]"},
			{"name": "amounts", "type": "uint256[]"}
		],
		"name": "withdrawToBatch",
		"outputs": [],
		"type": "function"
	}
]`

var custodyABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(custodyABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid custody ABI: %v", err))
	}
	custodyABI = parsed
}

// PackBalanceOfBatch encodes one chunked balance read. owners and tokens must
// be the same length; the call fails as a whole if any id is malformed.
func PackBalanceOfBatch(owners, tokens []common.Address) ([]byte, error) {
	if len(owners) != len(tokens) {
		return nil, fmt.Errorf("balanceOfBatch: %d owners vs %d tokens", len(owners), len(tokens))
	}
	return custodyABI.Pack("balanceOfBatch", owners, tokens)
}

// UnpackBalanceOfBatch decodes the balances of one chunk. The output length
// always equals the input length for a successful call.
func UnpackBalanceOfBatch(data []byte, want int) ([]*big.Int, error) {
	out, err := custodyABI.Unpack("balanceOfBatch", data)
	if err != nil {
		return nil, fmt.Errorf("balanceOfBatch: failed to decode result: %w", err)
	}
	balances, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOfBatch: unexpected result type %T", out[0])
	}
	if len(balances) != want {
		return nil, fmt.Errorf("balanceOfBatch: got %d balances for %d ids", len(balances), want)
	}
	return balances, nil
}

// PackWithdrawTo encodes a single-token withdrawal.
func PackWithdrawTo(to, token common.Address, amount *big.Int) ([]byte, error) {
	return custodyABI.Pack("withdrawTo", to, token, amount)
}

// PackWithdrawEthTo encodes a native-asset withdrawal.
func PackWithdrawEthTo(to common.Address, amount *big.Int) ([]byte, error) {
	return custodyABI.Pack("withdrawEthTo", to, amount)
}

// PackWithdrawToBatch encodes a batch withdrawal. The three arrays are
// parallel and must be equal length, every amount positive.
func PackWithdrawToBatch(tos, tokens []common.Address, amounts []*big.Int) ([]byte, error) {
	if len(tos) != len(tokens) || len(tos) != len(amounts) {
		return nil, fmt.Errorf("withdrawToBatch: mismatched arrays (%d/%d/%d)", len(tos), len(tokens), len(amounts))
	}
	for i, amount := range amounts {
		if amount == nil || amount.Sign() <= 0 {
			return nil, fmt.Errorf("withdrawToBatch: non-positive amount at index %d", i)
		}
	}
	return custodyABI.Pack("withdrawToBatch", tos, tokens, amounts)
}
