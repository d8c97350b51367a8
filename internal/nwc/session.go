package nwc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"nostr-wallet/internal/nostr"
)

// LinkState is the relay connection state of a Session
type LinkState int32

const (
	Disconnected LinkState = iota
	Connecting
	Connected
)

func (s LinkState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// keyMaterial is derived once per Session from the pairing secret
type keyMaterial struct {
	secret          []byte
	pubKey          string // hex x-only client pubkey
	nip04Key        []byte
	conversationKey []byte // NIP-44
}

func deriveKeys(desc ConnectionDescriptor) (keyMaterial, error) {
	secret, err := hex.DecodeString(desc.Secret)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("%w: secret is not valid hex", ErrInvalidConnectionString)
	}
	walletPubKey, err := hex.DecodeString(desc.WalletPubKey)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("%w: wallet pubkey is not valid hex", ErrInvalidConnectionString)
	}

	pubKey, err := nostr.PublicKeyHex(secret)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("%w: failed to derive public key: %v", ErrInvalidConnectionString, err)
	}
	nip04Key, err := nostr.GetNip04SharedSecret(secret, walletPubKey)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("%w: failed to compute NIP-04 shared key: %v", ErrInvalidConnectionString, err)
	}
	conversationKey, err := nostr.GetConversationKey(secret, walletPubKey)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("%w: failed to compute conversation key: %v", ErrInvalidConnectionString, err)
	}

	return keyMaterial{
		secret:          secret,
		pubKey:          pubKey,
		nip04Key:        nip04Key,
		conversationKey: conversationKey,
	}, nil
}

// Session is one long-lived link to a wallet over its relay.
// It is safe for concurrent use; obtain it from a SessionStore.
type Session struct {
	pairing string
	desc    ConnectionDescriptor
	keys    keyMaterial
	opts    Options
	log     *slog.Logger

	mu           sync.Mutex // guards the fields below
	conn         *websocket.Conn
	state        LinkState
	attempts     int
	reconnecting bool
	closed       bool

	connectGroup singleflight.Group
	writeMu      sync.Mutex
	pending      *pendingTable
	done         chan struct{}
}

func newSession(pairing string, desc ConnectionDescriptor, opts Options) (*Session, error) {
	keys, err := deriveKeys(desc)
	if err != nil {
		return nil, err
	}
	return &Session{
		pairing: pairing,
		desc:    desc,
		keys:    keys,
		opts:    opts,
		log:     opts.Logger.With("wallet", nostr.ShortID(desc.WalletPubKey)),
		state:   Disconnected,
		pending: newPendingTable(opts.Metrics),
		done:    make(chan struct{}),
	}, nil
}

// Descriptor returns the parsed pairing identifier
func (s *Session) Descriptor() ConnectionDescriptor {
	return s.desc
}

// ClientPubKey returns the hex public key this session signs requests with
func (s *Session) ClientPubKey() string {
	return s.keys.pubKey
}

// State returns the current relay link state
func (s *Session) State() LinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReconnectAttempts returns the attempts made in the current disconnect episode
func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// PendingCount returns the number of requests waiting for a response
func (s *Session) PendingCount() int {
	return s.pending.len()
}

// ensureConnected returns once the relay link is open. Concurrent callers
// share one dial. A caller-triggered attempt starts a fresh reconnect episode.
func (s *Session) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	if s.state == Disconnected {
		s.attempts = 0
	}
	s.mu.Unlock()

	ch := s.connectGroup.DoChan("connect", func() (interface{}, error) {
		return nil, s.connect()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect dials the relay. Only called through connectGroup.
func (s *Session) connect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.mu.Unlock()

	relay := s.desc.RelayURL()
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	defer cancel()

	s.log.Debug("NWC: connecting to relay", "relay", relay)
	conn, err := s.opts.Dial(ctx, relay)
	s.opts.Metrics.connect(err)
	if err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		if ctx.Err() != nil {
			return fmt.Errorf("%w: relay %s did not open within %s", ErrConnectionTimeout, relay, s.opts.ConnectTimeout)
		}
		return fmt.Errorf("%w: failed to connect to relay %s: %v", ErrConnectionError, relay, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.state = Connected
	s.attempts = 0
	s.mu.Unlock()

	s.log.Debug("NWC: connected to relay", "relay", relay)
	go s.readLoop(conn)
	return nil
}

// readLoop is the single inbound consumer for one socket
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn, err)
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) handleDisconnect(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// Closed by us or already replaced
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()
	conn.Close()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Warn("NWC: relay connection closed unexpectedly", "relay", s.desc.RelayURL(), "error", err)
	} else {
		s.log.Debug("NWC: relay connection lost", "relay", s.desc.RelayURL(), "error", err)
	}

	// In-flight requests are never re-sent; the caller decides
	if n := s.pending.failAll(fmt.Errorf("%w: relay connection lost: %v", ErrConnectionError, err)); n > 0 {
		s.log.Debug("NWC: failed in-flight requests", "count", n)
	}

	go s.reconnectLoop()
}

// reconnectLoop retries with linear backoff until connected, closed,
// or MaxReconnectAttempts is reached for this episode.
func (s *Session) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting || s.closed {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if s.closed || s.state == Connected {
			s.mu.Unlock()
			return
		}
		if s.attempts >= s.opts.MaxReconnectAttempts {
			attempts := s.attempts
			s.mu.Unlock()
			s.log.Warn("NWC: giving up reconnecting until next use", "relay", s.desc.RelayURL(), "attempts", attempts)
			return
		}
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		timer := time.NewTimer(s.opts.reconnectDelay(attempt))
		select {
		case <-timer.C:
		case <-s.done:
			timer.Stop()
			return
		}

		s.opts.Metrics.reconnectAttempt()
		_, err, _ := s.connectGroup.Do("connect", func() (interface{}, error) {
			return nil, s.connect()
		})
		if err == nil {
			s.log.Info("NWC: reconnected to relay", "relay", s.desc.RelayURL(), "attempt", attempt)
			return
		}
		if errors.Is(err, ErrSessionClosed) {
			return
		}
		s.log.Debug("NWC: reconnect attempt failed", "attempt", attempt, "error", err)
	}
}

// currentConn returns the open socket, or nil
func (s *Session) currentConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// writeTo sends one frame on conn; all writes share one lock per session
func (s *Session) writeTo(conn *websocket.Conn, v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer conn.SetWriteDeadline(time.Time{})

	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: write failed: %v", ErrConnectionError, err)
	}
	return nil
}

// dispatch classifies one inbound frame by its outer tag.
// Malformed frames are dropped; they never fail the link.
func (s *Session) dispatch(data []byte) {
	var msg []json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil || len(msg) < 2 {
		s.log.Debug("NWC: dropping malformed frame", "len", len(data))
		return
	}

	var msgType string
	if err := json.Unmarshal(msg[0], &msgType); err != nil {
		s.log.Debug("NWC: message type not string")
		return
	}

	switch msgType {
	case "EVENT":
		if len(msg) < 3 {
			return
		}
		var subID string
		_ = json.Unmarshal(msg[1], &subID)
		var evt nostr.Event
		if err := json.Unmarshal(msg[2], &evt); err != nil {
			s.log.Debug("NWC: failed to unmarshal event", "error", err)
			return
		}
		s.handleEvent(subID, &evt)
	case "OK":
		s.handleOK(msg)
	case "NOTICE":
		var notice string
		_ = json.Unmarshal(msg[1], &notice)
		s.log.Info("NWC: relay notice", "relay", s.desc.RelayURL(), "notice", notice)
	case "EOSE":
		var subID string
		_ = json.Unmarshal(msg[1], &subID)
		s.log.Debug("NWC: received EOSE", "sub_id", subID)
	case "CLOSED":
		var subID, reason string
		_ = json.Unmarshal(msg[1], &subID)
		if len(msg) >= 3 {
			_ = json.Unmarshal(msg[2], &reason)
		}
		s.log.Debug("NWC: subscription closed by relay", "sub_id", subID, "reason", reason)
	case "AUTH":
		var challenge string
		if err := json.Unmarshal(msg[1], &challenge); err == nil && challenge != "" {
			s.handleAuth(challenge)
		}
	default:
		s.log.Debug("NWC: received unknown message type", "type", msgType)
	}
}

// handleEvent routes a wallet response to its waiting request
func (s *Session) handleEvent(subID string, evt *nostr.Event) {
	if evt.Kind != responseKind {
		s.log.Debug("NWC: ignoring event kind", "kind", evt.Kind)
		return
	}
	if evt.PubKey != s.desc.WalletPubKey {
		s.log.Debug("NWC: event not from wallet", "got", nostr.ShortID(evt.PubKey))
		return
	}
	if !nostr.ValidateEventSignature(evt) {
		s.log.Warn("NWC: dropping response with invalid signature", "event_id", nostr.ShortID(evt.ID))
		return
	}

	// e tags first, the subscription the frame arrived on second
	key := ""
	for _, ref := range evt.TagValues("e") {
		if s.pending.has(ref) {
			key = ref
			break
		}
	}
	if key == "" && subID != "" && s.pending.has(subID) {
		key = subID
	}
	if key == "" {
		s.log.Debug("NWC: no pending request for response", "event_id", nostr.ShortID(evt.ID))
		return
	}

	resp, err := s.decodeResponse(evt)
	if err != nil {
		s.log.Debug("NWC: rejecting request on unreadable response", "error", err)
		s.pending.settle(key, outcome{err: err})
		return
	}
	s.pending.settle(key, outcome{resp: resp})
}

// handleOK fails a request whose event the relay refused to store
func (s *Session) handleOK(msg []json.RawMessage) {
	if len(msg) < 3 {
		return
	}
	var eventID, reason string
	var accepted bool
	_ = json.Unmarshal(msg[1], &eventID)
	_ = json.Unmarshal(msg[2], &accepted)
	if len(msg) >= 4 {
		_ = json.Unmarshal(msg[3], &reason)
	}

	s.log.Debug("NWC: received OK", "event_id", nostr.ShortID(eventID), "accepted", accepted, "reason", reason)
	if accepted || eventID == "" {
		return
	}
	if s.pending.settle(eventID, outcome{err: fmt.Errorf("%w: relay rejected request: %s", ErrConnectionError, reason)}) {
		s.log.Warn("NWC: relay rejected request", "event_id", nostr.ShortID(eventID), "reason", reason)
	}
}

// handleAuth responds to a NIP-42 AUTH challenge
func (s *Session) handleAuth(challenge string) {
	conn := s.currentConn()
	if conn == nil {
		return
	}

	evt := &nostr.Event{
		Kind: authKind,
		Tags: [][]string{
			{"relay", s.desc.RelayURL()},
			{"challenge", challenge},
		},
	}
	if err := evt.Sign(s.keys.secret); err != nil {
		s.log.Error("NWC: failed to sign AUTH response", "error", err)
		return
	}
	if err := s.writeTo(conn, []interface{}{"AUTH", evt}); err != nil {
		s.log.Error("NWC: failed to send AUTH response", "error", err)
		return
	}
	s.log.Debug("NWC: sent AUTH response", "event_id", nostr.ShortID(evt.ID))
}

// Close releases the relay link and fails every pending request with
// ErrSessionClosed. It is idempotent and returns once the socket close
// has been initiated.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	if n := s.pending.close(ErrSessionClosed); n > 0 {
		s.log.Debug("NWC: failed pending requests on close", "count", n)
	}

	if conn != nil {
		s.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		conn.Close()
	}
	s.log.Debug("NWC: session closed")
}
