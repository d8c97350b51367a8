package nwc

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"nostr-wallet/internal/nostr"
)

// DefaultRelay is used when a pairing identifier carries no relay parameter
const DefaultRelay = "wss://relay.getalby.com/v1"

var uriSchemes = []string{"nostr+walletconnect://", "nostrwalletconnect://"}

// ConnectionDescriptor is the parsed form of a pairing identifier
type ConnectionDescriptor struct {
	WalletPubKey string   // hex x-only public key of the wallet service
	Relay        *url.URL // relay both sides meet on
	Secret       string   // hex client secret key
}

// RelayURL returns the relay endpoint as a string
func (d ConnectionDescriptor) RelayURL() string {
	return d.Relay.String()
}

// ParseConnectionString parses a pairing identifier into a ConnectionDescriptor.
// Format: nostr+walletconnect://<wallet-pubkey>?relay=<wss://...>&secret=<hex>
func ParseConnectionString(pairing string) (ConnectionDescriptor, error) {
	pairing = strings.TrimSpace(pairing)

	var rest string
	for _, scheme := range uriSchemes {
		if len(pairing) >= len(scheme) && strings.EqualFold(pairing[:len(scheme)], scheme) {
			rest = pairing[len(scheme):]
			break
		}
	}
	if rest == "" {
		return ConnectionDescriptor{}, fmt.Errorf("%w: must start with nostr+walletconnect://", ErrInvalidConnectionString)
	}

	// url.Parse rejects the "+" scheme form, so parse with a placeholder scheme
	u, err := url.Parse("https://" + rest)
	if err != nil {
		return ConnectionDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidConnectionString, err)
	}

	walletPubKey := strings.ToLower(u.Host)
	if walletPubKey == "" {
		return ConnectionDescriptor{}, fmt.Errorf("%w: missing wallet pubkey", ErrInvalidConnectionString)
	}
	if !isHexKey(walletPubKey) {
		return ConnectionDescriptor{}, fmt.Errorf("%w: wallet pubkey must be 64 hex characters", ErrInvalidConnectionString)
	}

	query := u.Query()

	secret := strings.ToLower(query.Get("secret"))
	if secret == "" {
		return ConnectionDescriptor{}, fmt.Errorf("%w: missing secret parameter", ErrInvalidConnectionString)
	}
	if !isHexKey(secret) {
		return ConnectionDescriptor{}, fmt.Errorf("%w: secret must be 64 hex characters", ErrInvalidConnectionString)
	}

	relay := query.Get("relay")
	if relay == "" {
		relay = DefaultRelay
	}
	normalized := nostr.NormalizeRelayURL(relay)
	if normalized == "" {
		return ConnectionDescriptor{}, fmt.Errorf("%w: invalid relay URL %q", ErrInvalidConnectionString, relay)
	}
	relayURL, err := url.Parse(normalized)
	if err != nil {
		return ConnectionDescriptor{}, fmt.Errorf("%w: invalid relay URL %q", ErrInvalidConnectionString, relay)
	}

	return ConnectionDescriptor{
		WalletPubKey: walletPubKey,
		Relay:        relayURL,
		Secret:       secret,
	}, nil
}

func isHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
