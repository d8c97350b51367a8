package nostr

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// NIP-44 version 2 payload encryption

const (
	nip44Version     = 2
	nip44Salt        = "nip44-v2"
	minPlaintextSize = 1
	maxPlaintextSize = 65535
)

// GetConversationKey derives the NIP-44 conversation key between two parties
func GetConversationKey(privKeyBytes []byte, pubKeyBytes []byte) ([]byte, error) {
	x, err := sharedX(privKeyBytes, pubKeyBytes)
	if err != nil {
		return nil, err
	}
	return hkdf.Extract(sha256.New, x, []byte(nip44Salt)), nil
}

// getMessageKeys expands the per-message chacha key (32), chacha nonce (12) and hmac key (32)
func getMessageKeys(conversationKey []byte, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	if len(conversationKey) != 32 {
		return nil, nil, nil, errors.New("nip44: conversation key must be 32 bytes")
	}
	if len(nonce) != nip44NonceSize {
		return nil, nil, nil, errors.New("nip44: nonce must be 32 bytes")
	}

	keys := make([]byte, 76)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, conversationKey, nonce), keys); err != nil {
		return nil, nil, nil, err
	}
	return keys[:32], keys[32:44], keys[44:], nil
}

// calcPaddedLen calculates the padded length for a given plaintext length
func calcPaddedLen(unpaddedLen int) int {
	if unpaddedLen <= 32 {
		return 32
	}

	nextPower := 1 << bits.Len(uint(unpaddedLen-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}

	return chunk * ((unpaddedLen-1)/chunk + 1)
}

func pad(plaintext []byte) ([]byte, error) {
	unpaddedLen := len(plaintext)
	if unpaddedLen < minPlaintextSize || unpaddedLen > maxPlaintextSize {
		return nil, fmt.Errorf("nip44: plaintext must be %d to %d bytes", minPlaintextSize, maxPlaintextSize)
	}

	result := make([]byte, 2+calcPaddedLen(unpaddedLen))
	binary.BigEndian.PutUint16(result[0:2], uint16(unpaddedLen))
	copy(result[2:], plaintext)
	return result, nil
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, errors.New("nip44: padded body too short")
	}

	unpaddedLen := int(binary.BigEndian.Uint16(padded[0:2]))
	if unpaddedLen == 0 || unpaddedLen > len(padded)-2 {
		return nil, errors.New("nip44: invalid padding")
	}
	if len(padded) != 2+calcPaddedLen(unpaddedLen) {
		return nil, errors.New("nip44: invalid padded length")
	}

	return padded[2 : 2+unpaddedLen], nil
}

func hmacAAD(key, message, aad []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(aad)
	h.Write(message)
	return h.Sum(nil)
}

const (
	nip44NonceSize  = 32
	nip44MACSize    = 32
	nip44MinPayload = 1 + nip44NonceSize + 2 + 32 + nip44MACSize // version, nonce, smallest padded body, mac
	nip44MaxPayload = 1 + nip44NonceSize + 2 + 65536 + nip44MACSize
)

// nip44Payload is the decoded version || nonce || ciphertext || mac layout
type nip44Payload struct {
	nonce      []byte
	ciphertext []byte
	mac        []byte
}

func (p nip44Payload) encode() string {
	out := make([]byte, 0, 1+len(p.nonce)+len(p.ciphertext)+len(p.mac))
	out = append(out, nip44Version)
	out = append(out, p.nonce...)
	out = append(out, p.ciphertext...)
	out = append(out, p.mac...)
	return base64.StdEncoding.EncodeToString(out)
}

func parseNip44Payload(payload string) (nip44Payload, error) {
	if payload == "" || payload[0] == '#' {
		return nip44Payload{}, errors.New("nip44: unsupported encryption version")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nip44Payload{}, errors.New("nip44: invalid base64")
	}
	if len(data) < nip44MinPayload || len(data) > nip44MaxPayload {
		return nip44Payload{}, fmt.Errorf("nip44: invalid payload size %d", len(data))
	}
	if data[0] != nip44Version {
		return nip44Payload{}, fmt.Errorf("nip44: unknown version %d", data[0])
	}
	macStart := len(data) - nip44MACSize
	return nip44Payload{
		nonce:      data[1 : 1+nip44NonceSize],
		ciphertext: data[1+nip44NonceSize : macStart],
		mac:        data[macStart:],
	}, nil
}

// chachaXOR applies the chacha20 keystream; encryption and decryption are the same operation
func chachaXOR(key, nonce, in []byte) ([]byte, error) {
	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(in))
	stream.XORKeyStream(out, in)
	return out, nil
}

// Nip44Encrypt encrypts plaintext using NIP-44 version 2
func Nip44Encrypt(plaintext string, conversationKey []byte) (string, error) {
	nonce := make([]byte, nip44NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return Nip44EncryptWithNonce(plaintext, conversationKey, nonce)
}

// Nip44EncryptWithNonce encrypts with a caller-chosen nonce; used for test vectors
func Nip44EncryptWithNonce(plaintext string, conversationKey []byte, nonce []byte) (string, error) {
	chachaKey, chachaNonce, hmacKey, err := getMessageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}
	padded, err := pad([]byte(plaintext))
	if err != nil {
		return "", err
	}
	ciphertext, err := chachaXOR(chachaKey, chachaNonce, padded)
	if err != nil {
		return "", err
	}
	return nip44Payload{
		nonce:      nonce,
		ciphertext: ciphertext,
		mac:        hmacAAD(hmacKey, ciphertext, nonce),
	}.encode(), nil
}

// Nip44Decrypt verifies the MAC and decrypts a NIP-44 v2 payload
func Nip44Decrypt(payload string, conversationKey []byte) (string, error) {
	p, err := parseNip44Payload(payload)
	if err != nil {
		return "", err
	}
	chachaKey, chachaNonce, hmacKey, err := getMessageKeys(conversationKey, p.nonce)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(hmacAAD(hmacKey, p.ciphertext, p.nonce), p.mac) {
		return "", errors.New("nip44: invalid MAC")
	}
	padded, err := chachaXOR(chachaKey, chachaNonce, p.ciphertext)
	if err != nil {
		return "", err
	}
	plaintext, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
