package nwc

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	requestKind  = 23194 // Client request to wallet
	responseKind = 23195 // Wallet response to client
	authKind     = 22242 // NIP-42 relay authentication

	defaultConnectTimeout       = 5 * time.Second
	defaultRequestTimeout       = 5 * time.Second
	defaultReconnectBackoff     = 1 * time.Second
	defaultMaxReconnectAttempts = 5
	writeTimeout                = 10 * time.Second
)

// Payload encryption schemes understood by wallets
const (
	EncryptionNIP04 = "nip04"
	EncryptionNIP44 = "nip44"
)

// DialFunc opens a websocket to a relay
type DialFunc func(ctx context.Context, relayURL string) (*websocket.Conn, error)

// Options tunes sessions created by a SessionStore
type Options struct {
	ConnectTimeout       time.Duration // wait for the socket to open
	RequestTimeout       time.Duration // per-request response deadline
	ReconnectBackoff     time.Duration // delay unit, attempt N waits N units
	MaxReconnectAttempts int           // per unexpected disconnect
	Encryption           string        // EncryptionNIP04 or EncryptionNIP44

	Dial    DialFunc
	Logger  *slog.Logger
	Metrics *Metrics
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:       defaultConnectTimeout,
		RequestTimeout:       defaultRequestTimeout,
		ReconnectBackoff:     defaultReconnectBackoff,
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
		Encryption:           EncryptionNIP04,
	}
}

// withDefaults fills zero values so a partially populated Options is usable
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = def.RequestTimeout
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = def.ReconnectBackoff
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if o.Encryption != EncryptionNIP44 {
		o.Encryption = EncryptionNIP04
	}
	if o.Dial == nil {
		o.Dial = defaultDial
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func defaultDial(ctx context.Context, relayURL string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	return conn, err
}

// reconnectDelay is the linear backoff before the given (1-based) attempt
func (o Options) reconnectDelay(attempt int) time.Duration {
	return time.Duration(attempt) * o.ReconnectBackoff
}
