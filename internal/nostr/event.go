package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Serialize returns the canonical NIP-01 form [0,pubkey,created_at,kind,tags,content]
// that the event ID commits to.
func (e *Event) Serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// NIP-01 forbids the < style escapes encoding/json emits by default
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]interface{}{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ComputeID returns the hex sha256 of the serialized event
func (e *Event) ComputeID() (string, error) {
	serialized, err := e.Serialize()
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(serialized)
	return hex.EncodeToString(hash[:]), nil
}

// Sign fills PubKey, CreatedAt (when unset), ID and Sig using the given private key
func (e *Event) Sign(privKeyBytes []byte) error {
	if len(privKeyBytes) != 32 {
		return errors.New("failed to sign event: private key must be 32 bytes")
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	e.PubKey = hex.EncodeToString(privKey.PubKey().SerializeCompressed()[1:])
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	if e.Tags == nil {
		e.Tags = [][]string{}
	}

	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	idBytes, _ := hex.DecodeString(id)

	sig, err := schnorr.Sign(privKey, idBytes)
	if err != nil {
		return err
	}
	e.ID = id
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// ValidateEventSignature verifies the ID and the Schnorr signature of an event
func ValidateEventSignature(evt *Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 || len(evt.ID) != 64 {
		return false
	}

	id, err := evt.ComputeID()
	if err != nil || id != evt.ID {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// TagValue returns the first value of the first tag with the given name
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// TagValues returns the first value of every tag with the given name
func (e *Event) TagValues(name string) []string {
	var values []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}
	return values
}

// ShortID truncates ID/pubkey to 12 chars for logging
func ShortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
