package auth

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// personalMessageHash hashes a message the way eth_personalSign does, with
// the EIP-191 prefix.
func personalMessageHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(prefixed))
	return hasher.Sum(nil)
}

// VerifyPersonalSignature checks that signature is a valid eth_personalSign
// of message by expectedAddress.
func VerifyPersonalSignature(expectedAddress, message, signature string) error {
	if !common.IsHexAddress(expectedAddress) {
		return fmt.Errorf("invalid account address: %s", expectedAddress)
	}

	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length: %d", len(sig))
	}

	// Wallets return v as 27/28; secp256k1 recovery wants 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pubkey, err := crypto.SigToPub(personalMessageHash(message), sig)
	if err != nil {
		return fmt.Errorf("signature recovery failed: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pubkey)
	if !strings.EqualFold(recovered.Hex(), expectedAddress) {
		return fmt.Errorf("signature does not match account %s", expectedAddress)
	}
	return nil
}
