package nostr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Bech32 charset
const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// EncodeNpub encodes a hex x-only pubkey in NIP-19 npub form
func EncodeNpub(hexPubkey string) (string, error) {
	return encodeKey("npub", hexPubkey)
}

// DecodeNpub returns the hex pubkey of an npub string
func DecodeNpub(npub string) (string, error) {
	hrp, data, err := bech32Decode(strings.ToLower(strings.TrimSpace(npub)))
	if err != nil {
		return "", fmt.Errorf("invalid npub: %w", err)
	}
	if hrp != "npub" {
		return "", fmt.Errorf("invalid npub: prefix %q", hrp)
	}
	key, err := convertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("invalid npub: %w", err)
	}
	if len(key) != 32 {
		return "", errors.New("invalid npub: key must be 32 bytes")
	}
	return hex.EncodeToString(key), nil
}

func encodeKey(hrp, hexKey string) (string, error) {
	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", err
	}
	if len(keyBytes) != 32 {
		return "", errors.New("invalid key length")
	}

	// Convert 8-bit bytes to 5-bit groups
	data, err := convertBits(keyBytes, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32Encode(hrp, data), nil
}

// bech32Decode splits a bech32 string into HRP and data, verifying the checksum
func bech32Decode(bech string) (string, []byte, error) {
	if len(bech) < 8 {
		return "", nil, errors.New("too short")
	}

	pos := strings.LastIndex(bech, "1")
	if pos < 1 || pos+7 > len(bech) {
		return "", nil, errors.New("invalid separator position")
	}

	hrp := bech[:pos]
	values := make([]byte, 0, len(bech)-pos-1)
	for _, c := range bech[pos+1:] {
		idx := strings.IndexRune(bech32Charset, c)
		if idx == -1 {
			return "", nil, errors.New("invalid character")
		}
		values = append(values, byte(idx))
	}

	if bech32Polymod(append(bech32HrpExpand(hrp), toInts(values)...)) != 1 {
		return "", nil, errors.New("bad checksum")
	}
	return hrp, values[:len(values)-6], nil
}

func bech32Encode(hrp string, data []byte) string {
	combined := append(append([]byte{}, data...), bech32CreateChecksum(hrp, data)...)

	var result strings.Builder
	result.WriteString(hrp)
	result.WriteByte('1')
	for _, v := range combined {
		result.WriteByte(bech32Charset[v])
	}
	return result.String()
}

// convertBits regroups a bit stream, e.g. 8-bit bytes to 5-bit words
func convertBits(data []byte, fromBits, toBits int, pad bool) ([]byte, error) {
	acc := 0
	bits := 0
	var ret []byte
	maxv := (1 << toBits) - 1

	for _, value := range data {
		acc = (acc << fromBits) | int(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}

	if pad {
		if bits > 0 {
			ret = append(ret, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, errors.New("invalid padding")
	}
	return ret, nil
}

func bech32Polymod(values []int) int {
	gen := []int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := 1
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ v
		for i := 0; i < 5; i++ {
			if (top>>i)&1 != 0 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func bech32HrpExpand(hrp string) []int {
	var ret []int
	for _, c := range hrp {
		ret = append(ret, int(c>>5))
	}
	ret = append(ret, 0)
	for _, c := range hrp {
		ret = append(ret, int(c&31))
	}
	return ret
}

func bech32CreateChecksum(hrp string, data []byte) []byte {
	values := append(bech32HrpExpand(hrp), toInts(data)...)
	values = append(values, 0, 0, 0, 0, 0, 0)
	polymod := bech32Polymod(values) ^ 1

	checksum := make([]byte, 6)
	for i := range checksum {
		checksum[i] = byte((polymod >> (5 * (5 - i))) & 31)
	}
	return checksum
}

func toInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
