package nwc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"nostr-wallet/internal/nostr"
)

// walletRequest is what the mock wallet decoded from a kind 23194 event
type walletRequest struct {
	Method    string
	Params    json.RawMessage
	RequestID string // e tag
	EventID   string
	NIP44     bool
}

// walletReply tells the mock wallet how to answer
type walletReply struct {
	body           string        // decrypted response content
	delay          time.Duration // wait before replying
	silent         bool          // never reply
	refByRequestID bool          // tag the response with the request id instead of the event id
	badSignature   bool          // tamper with the content after signing
}

type walletHandler func(req walletRequest) walletReply

// mockRelay is an in-process relay with a wallet service attached to it
type mockRelay struct {
	t   *testing.T
	srv *httptest.Server

	walletPriv   []byte
	walletPub    string
	clientSecret string
	clientPub    string
	nip04Key     []byte
	convKey      []byte

	handler atomic.Value // walletHandler

	mu       sync.Mutex
	conns    []*relayConn
	requests []walletRequest
	accepted int
}

type relayConn struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	subs map[string]string // e filter value -> subscription id
}

func (c *relayConn) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func newMockRelay(t *testing.T, h walletHandler) *mockRelay {
	t.Helper()

	walletPriv, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	walletPub, err := nostr.PublicKeyHex(walletPriv)
	require.NoError(t, err)
	clientSecret, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	clientPubBytes, err := nostr.GetPublicKey(clientSecret)
	require.NoError(t, err)

	nip04Key, err := nostr.GetNip04SharedSecret(walletPriv, clientPubBytes)
	require.NoError(t, err)
	convKey, err := nostr.GetConversationKey(walletPriv, clientPubBytes)
	require.NoError(t, err)

	r := &mockRelay{
		t:            t,
		walletPriv:   walletPriv,
		walletPub:    walletPub,
		clientSecret: hex.EncodeToString(clientSecret),
		clientPub:    hex.EncodeToString(clientPubBytes),
		nip04Key:     nip04Key,
		convKey:      convKey,
	}
	r.setHandler(h)
	r.srv = httptest.NewServer(http.HandlerFunc(r.serveWS))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *mockRelay) setHandler(h walletHandler) {
	r.handler.Store(h)
}

func (r *mockRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *mockRelay) pairing() string {
	return "nostr+walletconnect://" + r.walletPub + "?relay=" + r.url() + "&secret=" + r.clientSecret
}

func (r *mockRelay) connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepted
}

func (r *mockRelay) received() []walletRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]walletRequest(nil), r.requests...)
}

// dropAll closes every client socket without a close handshake
func (r *mockRelay) dropAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = nil
	r.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

// sendRaw writes an arbitrary frame to every connected client
func (r *mockRelay) sendRaw(data string) {
	r.mu.Lock()
	conns := append([]*relayConn(nil), r.conns...)
	r.mu.Unlock()
	for _, c := range conns {
		c.mu.Lock()
		_ = c.ws.WriteMessage(websocket.TextMessage, []byte(data))
		c.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (r *mockRelay) serveWS(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	c := &relayConn{ws: ws, subs: make(map[string]string)}

	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.accepted++
	r.mu.Unlock()

	defer ws.Close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg []json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil || len(msg) < 2 {
			continue
		}
		var typ string
		_ = json.Unmarshal(msg[0], &typ)

		switch typ {
		case "REQ":
			var subID string
			var filter struct {
				Kinds []int    `json:"kinds"`
				E     []string `json:"#e"`
			}
			_ = json.Unmarshal(msg[1], &subID)
			if len(msg) > 2 {
				_ = json.Unmarshal(msg[2], &filter)
			}
			c.mu.Lock()
			for _, ref := range filter.E {
				c.subs[ref] = subID
			}
			c.mu.Unlock()
		case "EVENT":
			var evt nostr.Event
			if err := json.Unmarshal(msg[1], &evt); err != nil {
				continue
			}
			_ = c.send([]interface{}{"OK", evt.ID, true, ""})
			r.handleRequest(c, &evt)
		}
	}
}

func (r *mockRelay) handleRequest(c *relayConn, evt *nostr.Event) {
	if !nostr.ValidateEventSignature(evt) || evt.Kind != requestKind {
		r.t.Errorf("mock wallet got invalid request event %s", evt.ID)
		return
	}

	nip44 := evt.TagValue("encryption") == "nip44_v2"
	var plain string
	var err error
	if nostr.IsNip04Payload(evt.Content) {
		plain, err = nostr.Nip04Decrypt(evt.Content, r.nip04Key)
	} else {
		plain, err = nostr.Nip44Decrypt(evt.Content, r.convKey)
	}
	if err != nil {
		r.t.Errorf("mock wallet failed to decrypt request: %v", err)
		return
	}

	var body struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal([]byte(plain), &body); err != nil {
		r.t.Errorf("mock wallet got unparseable request: %v", err)
		return
	}

	req := walletRequest{
		Method:    body.Method,
		Params:    body.Params,
		RequestID: evt.TagValue("e"),
		EventID:   evt.ID,
		NIP44:     nip44,
	}
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	reply := r.handler.Load().(walletHandler)(req)
	if reply.silent {
		return
	}
	go func() {
		if reply.delay > 0 {
			time.Sleep(reply.delay)
		}
		r.reply(c, req, reply)
	}()
}

func (r *mockRelay) reply(c *relayConn, req walletRequest, reply walletReply) {
	var content string
	var err error
	if req.NIP44 {
		content, err = nostr.Nip44Encrypt(reply.body, r.convKey)
	} else {
		content, err = nostr.Nip04Encrypt(reply.body, r.nip04Key)
	}
	if err != nil {
		r.t.Errorf("mock wallet failed to encrypt reply: %v", err)
		return
	}

	ref := req.EventID
	if reply.refByRequestID {
		ref = req.RequestID
	}
	evt := &nostr.Event{
		Kind:    responseKind,
		Tags:    [][]string{{"p", r.clientPub}, {"e", ref}},
		Content: content,
	}
	if err := evt.Sign(r.walletPriv); err != nil {
		r.t.Errorf("mock wallet failed to sign reply: %v", err)
		return
	}
	if reply.badSignature {
		evt.Content += "x"
	}

	c.mu.Lock()
	subID := c.subs[req.EventID]
	c.mu.Unlock()
	_ = c.send([]interface{}{"EVENT", subID, evt})
}

// replyWith answers every request with the same body
func replyWith(body string) walletHandler {
	return func(walletRequest) walletReply {
		return walletReply{body: body}
	}
}

// testOptions keeps timeouts short enough for unit tests
func testOptions() Options {
	return Options{
		ConnectTimeout:       2 * time.Second,
		RequestTimeout:       2 * time.Second,
		ReconnectBackoff:     20 * time.Millisecond,
		MaxReconnectAttempts: 5,
	}
}

func newTestSession(t *testing.T, relay *mockRelay, opts Options) *Session {
	t.Helper()
	store := NewSessionStore(opts)
	t.Cleanup(store.CloseAll)
	s, err := store.GetOrCreate(relay.pairing())
	require.NoError(t, err)
	return s
}
