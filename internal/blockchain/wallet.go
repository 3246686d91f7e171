package blockchain

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

var ErrInvalidWalletSignature = errors.New("invalid wallet signature")

// VerifyWalletSignature checks a base58 ed25519 signature of message by walletAddress
func VerifyWalletSignature(walletAddress, message, signature string) error {
	pubKey, err := base58.Decode(walletAddress)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid wallet address: %s", walletAddress)
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidWalletSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), []byte(message), sig) {
		return ErrInvalidWalletSignature
	}
	return nil
}
