package nwc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nostr-wallet/internal/nostr"
)

// Request is the logical payload sent to the wallet
type Request struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// Response is a decoded wallet response frame
type Response struct {
	RequestID  string          `json:"-"`
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *WalletError    `json:"error,omitempty"`

	fields map[string]json.RawMessage // top-level body
}

// Field returns result.<name>, falling back to a top-level <name>.
// Some wallets flatten the result object into the body.
func (r *Response) Field(name string) (json.RawMessage, bool) {
	if len(r.Result) > 0 {
		var result map[string]json.RawMessage
		if err := json.Unmarshal(r.Result, &result); err == nil {
			if v, ok := result[name]; ok && !isJSONNull(v) {
				return v, true
			}
		}
	}
	if v, ok := r.fields[name]; ok && !isJSONNull(v) {
		return v, true
	}
	return nil, false
}

// Err returns the wallet-reported error, if any
func (r *Response) Err() error {
	if r.Error != nil && (r.Error.Code != "" || r.Error.Message != "") {
		return r.Error
	}
	return nil
}

func isJSONNull(v json.RawMessage) bool {
	return len(v) == 0 || string(v) == "null"
}

// parseResponse decodes a decrypted response body
func parseResponse(body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrInvalidResponse, err)
	}
	if err := json.Unmarshal(body, &resp.fields); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrInvalidResponse, err)
	}
	return &resp, nil
}

// Send publishes method with params to the wallet and waits for the
// correlated response. ctx bounds connection establishment only: once
// published, a request ends by response, deadline, connection loss or
// session close. Send never retries.
func (s *Session) Send(ctx context.Context, method string, params interface{}) (*Response, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}
	conn := s.currentConn()
	if conn == nil {
		return nil, fmt.Errorf("%w: not connected to wallet relay", ErrConnectionError)
	}

	requestID, err := newRequestID()
	if err != nil {
		return nil, err
	}
	evt, err := s.buildRequestEvent(requestID, method, params)
	if err != nil {
		return nil, err
	}

	entry := &pendingEntry{
		requestID: requestID,
		method:    method,
		eventID:   evt.ID,
		subID:     "nwc-" + uuid.NewString(),
	}
	if err := s.pending.add(entry, s.opts.RequestTimeout); err != nil {
		return nil, err
	}

	// Subscribe before publishing so a fast response can't beat the listener
	filter := map[string]interface{}{
		"kinds": []int{responseKind},
		"#e":    []string{requestID, evt.ID},
		"limit": 1,
	}
	if err := s.writeTo(conn, []interface{}{"REQ", entry.subID, filter}); err != nil {
		s.pending.settle(requestID, outcome{err: err})
	} else if err := s.writeTo(conn, []interface{}{"EVENT", evt}); err != nil {
		s.pending.settle(requestID, outcome{err: err})
	} else {
		s.log.Debug("NWC: sent request", "method", method, "request_id", nostr.ShortID(requestID), "event_id", nostr.ShortID(evt.ID))
	}

	o := <-entry.done
	s.closeSubscription(conn, entry.subID)
	s.opts.Metrics.observeRequest(method, outcomeLabel(o.err), time.Since(entry.submittedAt))

	if o.err != nil {
		s.log.Debug("NWC: request failed", "method", method, "request_id", nostr.ShortID(requestID), "error", o.err)
		return nil, o.err
	}
	s.log.Debug("NWC: received response", "method", method, "result_type", o.resp.ResultType, "has_error", o.resp.Error != nil)
	return o.resp, nil
}

// buildRequestEvent creates a signed kind 23194 event carrying the encrypted request
func (s *Session) buildRequestEvent(requestID, method string, params interface{}) (*nostr.Event, error) {
	if params == nil {
		params = struct{}{}
	}
	body, err := json.Marshal(Request{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	tags := [][]string{
		{"p", s.desc.WalletPubKey},
		{"e", requestID},
		// Wallets drop requests they see after this, so a late delivery can't pay
		{"expiration", strconv.FormatInt(time.Now().Add(s.opts.RequestTimeout).Unix()+1, 10)},
	}

	var content string
	if s.opts.Encryption == EncryptionNIP44 {
		content, err = nostr.Nip44Encrypt(string(body), s.keys.conversationKey)
		tags = append(tags, []string{"encryption", "nip44_v2"})
	} else {
		content, err = nostr.Nip04Encrypt(string(body), s.keys.nip04Key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt request: %w", err)
	}

	evt := &nostr.Event{
		Kind:    requestKind,
		Tags:    tags,
		Content: content,
	}
	if err := evt.Sign(s.keys.secret); err != nil {
		return nil, err
	}
	return evt, nil
}

// decodeResponse decrypts and parses a wallet response event
func (s *Session) decodeResponse(evt *nostr.Event) (*Response, error) {
	var plaintext string
	var err error
	if nostr.IsNip04Payload(evt.Content) {
		plaintext, err = nostr.Nip04Decrypt(evt.Content, s.keys.nip04Key)
	} else {
		plaintext, err = nostr.Nip44Decrypt(evt.Content, s.keys.conversationKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt response: %v", ErrInvalidResponse, err)
	}
	return parseResponse([]byte(plaintext))
}

// closeSubscription closes a per-request subscription (best effort)
func (s *Session) closeSubscription(conn *websocket.Conn, subID string) {
	if s.currentConn() != conn {
		return
	}
	if err := s.writeTo(conn, []interface{}{"CLOSE", subID}); err != nil {
		s.log.Debug("NWC: failed to close subscription", "sub_id", subID, "error", err)
	}
}

// newRequestID returns 32 random bytes as hex
func newRequestID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate request id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRequestTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	case IsConnectionError(err):
		return "connection_error"
	default:
		return "error"
	}
}
