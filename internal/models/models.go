package models

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentDirection direction of a ledger entry relative to the account
type PaymentDirection string

const (
	DirectionIncoming PaymentDirection = "incoming"
	DirectionOutgoing PaymentDirection = "outgoing"
)

// Token describes one entry of the token catalog. ContractAddress is empty for
// a chain's native asset, which is represented on-chain through the chain's
// wrapped-native contract id. USDPrice == nil means "no quote", a legitimate
// displayed state.
type Token struct {
	BlockchainID    string           `json:"blockchain_id"`
	Symbol          string           `json:"symbol"`
	ContractAddress string           `json:"contract_address,omitempty"`
	Decimals        uint8            `json:"decimals"`
	USDPrice        *decimal.Decimal `json:"usd_price,omitempty"`
}

// IsNative reports whether the token is the chain's intrinsic currency.
func (t Token) IsNative() bool {
	return t.ContractAddress == ""
}

// Key is the token's case-insensitive identity.
func (t Token) Key() string {
	return strings.ToLower(t.BlockchainID) + "/" + strings.ToLower(t.Symbol) + "/" + strings.ToLower(t.ContractAddress)
}

// Balance is a token plus its base-unit amount for one account. Aggregation
// only ever produces non-zero balances.
type Balance struct {
	Token
	Amount *big.Int `json:"amount"`
}

// PaymentCursor is the keyset-pagination cursor and dedup key of a ledger
// entry. The upstream ledger orders rows strictly by this key.
type PaymentCursor struct {
	PaymentID       string `json:"payment_id"`
	BlockchainID    string `json:"blockchain_id"`
	TransactionHash string `json:"transaction_hash"`
	LogIndex        uint   `json:"log_index"`
	Timestamp       int64  `json:"timestamp"`
}

// String is used for logging and map keys.
func (c PaymentCursor) String() string {
	return fmt.Sprintf("%s:%s:%s:%d:%d", c.PaymentID, c.BlockchainID, c.TransactionHash, c.LogIndex, c.Timestamp)
}

// LedgerEntry is an immutable payment fact recorded by the upstream ledger.
// The client never mutates it except to splice in an asynchronously arriving
// IPN result matched by cursor key.
type LedgerEntry struct {
	PaymentID                  string           `json:"payment_id"`
	BlockchainID               string           `json:"blockchain_id"`
	TransactionHash            string           `json:"transaction_hash"`
	LogIndex                   uint             `json:"log_index"`
	BlockRef                   string           `json:"block_ref"`
	Timestamp                  int64            `json:"timestamp"`
	From                       string           `json:"from"`
	To                         string           `json:"to"`
	Direction                  PaymentDirection `json:"direction"`
	Amount                     string           `json:"amount"` // base units, decimal string
	AmountUSDAtPaymentTime     *float64         `json:"amount_usd_at_payment_time,omitempty"`
	TokenAddress               string           `json:"token_address"`
	TokenSymbol                string           `json:"token_symbol"`
	TokenDecimals              uint8            `json:"token_decimals"`
	TokenUSDPriceAtPaymentTime *decimal.Decimal `json:"token_usd_price_at_payment_time,omitempty"`
	IPNResult                  *string          `json:"ipn_result,omitempty"`
}

// Cursor returns the entry's keyset cursor.
func (e *LedgerEntry) Cursor() PaymentCursor {
	return PaymentCursor{
		PaymentID:       e.PaymentID,
		BlockchainID:    e.BlockchainID,
		TransactionHash: e.TransactionHash,
		LogIndex:        e.LogIndex,
		Timestamp:       e.Timestamp,
	}
}

// AmountBig parses the base-unit amount. Malformed amounts come back as nil
// and render as unavailable rather than zero.
func (e *LedgerEntry) AmountBig() *big.Int {
	v, ok := new(big.Int).SetString(e.Amount, 10)
	if !ok {
		return nil
	}
	return v
}

// FiatValue mirrors valuation.FiatAmount on the wire: Available=false renders
// as "price unavailable", never as 0.
type FiatValue struct {
	Value     float64 `json:"value"`
	Available bool    `json:"available"`
}

// EnrichedPayment is the read-only projection of a LedgerEntry joined with
// live token metadata and both point-in-time and current valuations. It is
// recomputed on every fetch and never persisted.
type EnrichedPayment struct {
	LedgerEntry
	DisplayAmount     string    `json:"display_amount"`
	USDAtPaymentTime  FiatValue `json:"usd_at_payment_time"`
	FiatAtPaymentTime FiatValue `json:"fiat_at_payment_time"`
	USDNow            FiatValue `json:"usd_now"`
	FiatNow           FiatValue `json:"fiat_now"`
	Currency          string    `json:"currency"`
}

// PaymentFilter is the server-side filter of the payment ledger. Engines
// compare filters by value (deep), not by reference, to detect epoch changes.
type PaymentFilter struct {
	Blockchains []string         `json:"blockchains,omitempty"`
	Tokens      []string         `json:"tokens,omitempty"`
	Direction   PaymentDirection `json:"direction,omitempty"`
	FromTime    int64            `json:"from_time,omitempty"`
	ToTime      int64            `json:"to_time,omitempty"`
	Search      string           `json:"search,omitempty"`
}

// IsEmpty reports whether the filter selects the whole ledger.
func (f PaymentFilter) IsEmpty() bool {
	return len(f.Blockchains) == 0 && len(f.Tokens) == 0 && f.Direction == "" &&
		f.FromTime == 0 && f.ToTime == 0 && f.Search == ""
}
