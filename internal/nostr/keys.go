package nostr

import (
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
)

// GeneratePrivateKey generates a new random secp256k1 private key
func GeneratePrivateKey() ([]byte, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return privKey.Serialize(), nil
}

// GetPublicKey derives the x-only (BIP-340) public key from a private key
func GetPublicKey(privKeyBytes []byte) ([]byte, error) {
	if len(privKeyBytes) != 32 {
		return nil, errors.New("private key must be 32 bytes")
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	return privKey.PubKey().SerializeCompressed()[1:], nil
}

// PublicKeyHex derives the hex encoded x-only public key from a private key
func PublicKeyHex(privKeyBytes []byte) (string, error) {
	pub, err := GetPublicKey(privKeyBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pub), nil
}

// parseXOnlyPubKey lifts a 32 byte x-only key onto the curve.
// Even y is tried first, as BIP-340 specifies.
func parseXOnlyPubKey(pubKeyBytes []byte) (*btcec.PublicKey, error) {
	if len(pubKeyBytes) != 32 {
		return nil, errors.New("public key must be 32 bytes")
	}
	withPrefix := append([]byte{0x02}, pubKeyBytes...)
	pubKey, err := btcec.ParsePubKey(withPrefix)
	if err != nil {
		withPrefix[0] = 0x03
		pubKey, err = btcec.ParsePubKey(withPrefix)
		if err != nil {
			return nil, errors.New("invalid public key")
		}
	}
	return pubKey, nil
}

// sharedX returns the 32 byte ECDH x coordinate for a key pair
func sharedX(privKeyBytes, pubKeyBytes []byte) ([]byte, error) {
	if len(privKeyBytes) != 32 {
		return nil, errors.New("private key must be 32 bytes")
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	pubKey, err := parseXOnlyPubKey(pubKeyBytes)
	if err != nil {
		return nil, err
	}

	x := btcec.GenerateSharedSecret(privKey, pubKey)
	// big.Int bytes drop leading zeros
	if len(x) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(x):], x)
		return padded, nil
	}
	return x, nil
}
