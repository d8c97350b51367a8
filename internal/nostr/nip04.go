package nostr

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
)

// NIP-04 is deprecated for DMs but remains what most NWC wallets speak by default.

const nip04IVMarker = "?iv="

// GetNip04SharedSecret returns the AES-256 key two parties share: the raw ECDH x coordinate
func GetNip04SharedSecret(privKeyBytes []byte, pubKeyBytes []byte) ([]byte, error) {
	return sharedX(privKeyBytes, pubKeyBytes)
}

// IsNip04Payload reports whether a payload has the base64(ciphertext)?iv=base64(iv) shape
func IsNip04Payload(payload string) bool {
	return strings.Contains(payload, nip04IVMarker)
}

// Nip04Encrypt encrypts plaintext with AES-256-CBC under a random IV
func Nip04Encrypt(plaintext string, sharedSecret []byte) (string, error) {
	block, err := nip04Cipher(sharedSecret)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	body := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(body, body)

	enc := base64.StdEncoding
	return enc.EncodeToString(body) + nip04IVMarker + enc.EncodeToString(iv), nil
}

// Nip04Decrypt decrypts a base64(ciphertext)?iv=base64(iv) payload
func Nip04Decrypt(payload string, sharedSecret []byte) (string, error) {
	ctPart, ivPart, ok := strings.Cut(payload, nip04IVMarker)
	if !ok || strings.Contains(ivPart, nip04IVMarker) {
		return "", errors.New("nip04: payload is not ciphertext?iv=iv")
	}

	enc := base64.StdEncoding
	body, err := enc.DecodeString(ctPart)
	if err != nil {
		return "", errors.New("nip04: ciphertext is not base64")
	}
	iv, err := enc.DecodeString(ivPart)
	if err != nil || len(iv) != aes.BlockSize {
		return "", errors.New("nip04: iv must be 16 base64-encoded bytes")
	}
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return "", errors.New("nip04: ciphertext is not whole blocks")
	}

	block, err := nip04Cipher(sharedSecret)
	if err != nil {
		return "", err
	}
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(body, body)

	plaintext, err := pkcs7Unpad(body, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func nip04Cipher(sharedSecret []byte) (cipher.Block, error) {
	if len(sharedSecret) != 32 {
		return nil, errors.New("nip04: shared secret must be 32 bytes")
	}
	return aes.NewCipher(sharedSecret)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("nip04: invalid padding")
	}
	if !bytes.Equal(data[len(data)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, errors.New("nip04: invalid padding")
	}
	return data[:len(data)-n], nil
}
