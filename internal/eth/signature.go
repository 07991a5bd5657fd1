// Package eth verifies Ethereum personal-message signatures.
package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/layer-3/gatekeeper/core"
)

// SignatureLength is the length of an [R || S || V] signature
const SignatureLength = crypto.SignatureLength

// NormalizeAddress validates a hex address and returns it lowercased with a 0x prefix
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", core.ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// PersonalMessageHash returns the EIP-191 hash of message, the digest wallets
// sign for personal_sign.
func PersonalMessageHash(message string) []byte {
	return accounts.TextHash([]byte(message))
}

// RecoverAddress returns the lowercased address that produced signature over
// the personal-message hash of message.
func RecoverAddress(message string, signature []byte) (string, bool) {
	if len(signature) != SignatureLength {
		return "", false
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	// Wallets emit V as 27/28, go-ethereum expects 0/1
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return "", false
	}

	pub, err := crypto.SigToPub(PersonalMessageHash(message), sig)
	if err != nil || pub == nil {
		return "", false
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), true
}

// VerifySignature reports whether signature (hex, 0x-prefixed) is a personal
// signature of message by claimedAddress, together with the recovered address.
// Malformed input yields false.
func VerifySignature(message, signature, claimedAddress string) (bool, string) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return false, ""
	}
	recovered, ok := RecoverAddress(message, sig)
	if !ok {
		return false, ""
	}
	return strings.EqualFold(recovered, strings.TrimSpace(claimedAddress)), recovered
}
