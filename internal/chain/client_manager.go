package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"go-dashboard/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Caller is the read side of a chain: one eth_call against a contract.
type Caller interface {
	Call(ctx context.Context, chainID int64, to common.Address, data []byte) ([]byte, error)
}

// Submitter is a write binding to one chain: submit a custody-contract call
// and await its confirmation. Obtained through Binder.Bind.
type Submitter interface {
	Submit(ctx context.Context, calldata []byte) (common.Hash, error)
	Confirm(ctx context.Context, txHash common.Hash) error
}

// Binder resolves the client and signer for a target chain. Bind failing is
// the backend analogue of a wallet refusing to switch chains.
type Binder interface {
	Bind(ctx context.Context, chainID int64) (Submitter, error)
}

type chainHandle struct {
	client  *ethclient.Client
	network config.NetworkConfig
	key     *ecdsa.PrivateKey
	from    common.Address
	custody common.Address
	chainID *big.Int
}

// ClientManager owns one RPC client per enabled network plus its signing key.
type ClientManager struct {
	cfg    *config.Config
	logger *logrus.Logger
	chains map[int64]*chainHandle
}

// NewClientManager creates an empty manager; call InitializeClients before use.
func NewClientManager(cfg *config.Config, logger *logrus.Logger) *ClientManager {
	return &ClientManager{
		cfg:    cfg,
		logger: logger,
		chains: make(map[int64]*chainHandle),
	}
}

// InitializeClients dials every enabled network, trying each RPC endpoint in
// order until one answers with the expected network id.
func (m *ClientManager) InitializeClients() error {
	for name, network := range m.cfg.Blockchain.Networks {
		if !network.Enabled {
			continue
		}

		client, endpoint, err := m.dialNetwork(name, network)
		if err != nil {
			return err
		}

		handle := &chainHandle{
			client:  client,
			network: network,
			custody: common.HexToAddress(network.CustodyContract),
			chainID: big.NewInt(network.ChainID),
		}

		if network.PrivateKey != "" {
			key, err := crypto.HexToECDSA(network.PrivateKey)
			if err != nil {
				client.Close()
				return fmt.Errorf("invalid private key for network %s: %w", name, err)
			}
			handle.key = key
			handle.from = crypto.PubkeyToAddress(key.PublicKey)
		}

		m.chains[network.ChainID] = handle
		m.logger.WithFields(logrus.Fields{
			"network":  name,
			"chain_id": network.ChainID,
			"endpoint": endpoint,
			"signing":  handle.key != nil,
		}).Info("connected to RPC endpoint")
	}

	if len(m.chains) == 0 {
		return fmt.Errorf("no enabled networks configured")
	}
	return nil
}

func (m *ClientManager) dialNetwork(name string, network config.NetworkConfig) (*ethclient.Client, string, error) {
	var lastErr error
	for _, endpoint := range network.RPCEndpoints {
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			lastErr = err
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		networkID, err := client.NetworkID(ctx)
		cancel()
		if err != nil {
			lastErr = err
			client.Close()
			continue
		}
		if networkID.Int64() != network.ChainID {
			lastErr = fmt.Errorf("endpoint %s reports chain %s, expected %d", endpoint, networkID, network.ChainID)
			client.Close()
			continue
		}
		return client, endpoint, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no RPC endpoints configured")
	}
	return nil, "", fmt.Errorf("failed to connect to network %s: %w", name, lastErr)
}

// ChainIDs returns the chain ids with a live client.
func (m *ClientManager) ChainIDs() []int64 {
	ids := make([]int64, 0, len(m.chains))
	for id := range m.chains {
		ids = append(ids, id)
	}
	return ids
}

// CustodyContract returns the custody contract address on a chain.
func (m *ClientManager) CustodyContract(chainID int64) (common.Address, error) {
	handle, ok := m.chains[chainID]
	if !ok {
		return common.Address{}, fmt.Errorf("chain %d not connected", chainID)
	}
	return handle.custody, nil
}

// Call performs one eth_call on the given chain.
func (m *ClientManager) Call(ctx context.Context, chainID int64, to common.Address, data []byte) ([]byte, error) {
	handle, ok := m.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d not connected", chainID)
	}
	return handle.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// Bind verifies the chain has a live client and a signer, and returns a write
// binding to its custody contract.
func (m *ClientManager) Bind(ctx context.Context, chainID int64) (Submitter, error) {
	handle, ok := m.chains[chainID]
	if !ok {
		// Distinguish a chain missing from config from one that simply
		// has no live client.
		if _, cfgErr := m.cfg.GetNetworkByChainID(chainID); cfgErr != nil {
			return nil, cfgErr
		}
		return nil, fmt.Errorf("chain %d not connected", chainID)
	}
	if handle.key == nil {
		return nil, fmt.Errorf("no signing key configured for chain %d", chainID)
	}

	// Re-verify the endpoint still serves the expected chain before any write.
	networkID, err := handle.client.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify chain %d: %w", chainID, err)
	}
	if networkID.Int64() != chainID {
		return nil, fmt.Errorf("endpoint switched to chain %s, expected %d", networkID, chainID)
	}

	return &boundSubmitter{handle: handle, logger: m.logger}, nil
}

// Close releases all RPC clients.
func (m *ClientManager) Close() {
	for _, handle := range m.chains {
		handle.client.Close()
	}
}

type boundSubmitter struct {
	handle *chainHandle
	logger *logrus.Logger
}

// Submit signs and broadcasts one custody-contract call.
func (s *boundSubmitter) Submit(ctx context.Context, calldata []byte) (common.Hash, error) {
	h := s.handle

	nonce, err := h.client.PendingNonceAt(ctx, h.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := h.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	gasLimit := h.network.GasLimit
	if gasLimit == 0 {
		gasLimit, err = h.client.EstimateGas(ctx, ethereum.CallMsg{
			From: h.from,
			To:   &h.custody,
			Data: calldata,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTransaction(nonce, h.custody, big.NewInt(0), gasLimit, gasPrice, calldata)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(h.chainID), h.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := h.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"chain_id": h.chainID.Int64(),
		"tx_hash":  signedTx.Hash().Hex(),
		"nonce":    nonce,
	}).Info("withdrawal transaction submitted")

	return signedTx.Hash(), nil
}

// Confirm polls for the transaction's inclusion until the context expires.
func (s *boundSubmitter) Confirm(ctx context.Context, txHash common.Hash) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := s.handle.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", txHash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation of %s timed out: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
