package nwc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidRequest is returned for caller input rejected before anything is sent
var ErrInvalidRequest = errors.New("nwc: invalid request")

// MaxAmountSats is the largest amount whose msat value fits in an int64
const MaxAmountSats = math.MaxInt64 / 1000

// checkAmountSats rejects amounts that cannot be sent as msat.
// Zero is allowed only when allowZero is set.
func checkAmountSats(amountSats int64, allowZero bool) error {
	switch {
	case amountSats < 0 || (amountSats == 0 && !allowZero):
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case amountSats > MaxAmountSats:
		return fmt.Errorf("%w: amount exceeds %d sats", ErrInvalidRequest, int64(MaxAmountSats))
	}
	return nil
}

// Wallet is the set of operations an application performs against a wallet.
// *Session talks to a real wallet; *SimulatedWallet is the labeled demo mode.
type Wallet interface {
	GetBalance(ctx context.Context) (int64, error)
	PayToLightningAddress(ctx context.Context, amountSats int64, address, memo string) (string, error)
	PayInvoice(ctx context.Context, invoice string, amountSats int64) (string, error)
	ListTransactions(ctx context.Context, limit int) ([]Transaction, error)
	TestConnection(ctx context.Context) bool
	Simulated() bool
}

var (
	_ Wallet = (*Session)(nil)
	_ Wallet = (*SimulatedWallet)(nil)
)

// Transaction is a single entry from list_transactions
type Transaction struct {
	Type            string `json:"type"`                       // "incoming" or "outgoing"
	Invoice         string `json:"invoice,omitempty"`          // BOLT11 invoice
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	Preimage        string `json:"preimage,omitempty"`
	PaymentHash     string `json:"payment_hash,omitempty"`
	Amount          int64  `json:"amount"`               // msat
	FeesPaid        int64  `json:"fees_paid,omitempty"`  // msat
	CreatedAt       int64  `json:"created_at"`           // unix seconds
	SettledAt       int64  `json:"settled_at,omitempty"` // unix seconds
}

type payAddressParams struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"` // msat
	Memo    string `json:"memo,omitempty"`
}

type payInvoiceParams struct {
	Invoice string `json:"invoice"`
	Amount  int64  `json:"amount,omitempty"` // msat, only for zero-amount invoices
}

type listTransactionsParams struct {
	Limit int `json:"limit,omitempty"`
}

// GetBalance returns the balance exactly as the wallet reports it.
// Connection failures are retried with the reconnect backoff since the
// call moves no money.
func (s *Session) GetBalance(ctx context.Context) (int64, error) {
	resp, err := s.sendIdempotent(ctx, "get_balance", struct{}{})
	if err != nil {
		return 0, err
	}
	if err := checkResponse(resp, "get_balance"); err != nil {
		return 0, err
	}

	raw, ok := resp.Field("balance")
	if !ok {
		return 0, fmt.Errorf("%w: response has no balance", ErrInvalidResponse)
	}
	balance, err := parseAmount(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: balance: %v", ErrInvalidResponse, err)
	}
	s.log.Debug("NWC: got balance", "balance", balance)
	return balance, nil
}

// PayToLightningAddress pays amountSats to a lightning address (user@domain)
// and returns the payment preimage. It is never retried.
func (s *Session) PayToLightningAddress(ctx context.Context, amountSats int64, address, memo string) (string, error) {
	address = strings.TrimSpace(address)
	if !isLightningAddress(address) {
		return "", fmt.Errorf("%w: %q is not a lightning address", ErrInvalidRequest, address)
	}
	if err := checkAmountSats(amountSats, false); err != nil {
		return "", err
	}

	resp, err := s.Send(ctx, "pay_address", payAddressParams{
		Address: address,
		Amount:  amountSats * 1000,
		Memo:    memo,
	})
	if err != nil {
		return "", err
	}
	return preimageFrom(resp, "pay_address")
}

// PayInvoice pays a BOLT11 invoice. amountSats is only sent when positive,
// for invoices that carry no amount. It is never retried.
func (s *Session) PayInvoice(ctx context.Context, invoice string, amountSats int64) (string, error) {
	invoice = strings.TrimSpace(invoice)
	if !strings.HasPrefix(strings.ToLower(invoice), "ln") {
		return "", fmt.Errorf("%w: not a lightning invoice", ErrInvalidRequest)
	}
	if err := checkAmountSats(amountSats, true); err != nil {
		return "", err
	}

	resp, err := s.Send(ctx, "pay_invoice", payInvoiceParams{
		Invoice: invoice,
		Amount:  amountSats * 1000,
	})
	if err != nil {
		return "", err
	}
	return preimageFrom(resp, "pay_invoice")
}

// ListTransactions returns recent wallet transactions, newest first as the wallet orders them
func (s *Session) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest)
	}
	resp, err := s.sendIdempotent(ctx, "list_transactions", listTransactionsParams{Limit: limit})
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp, "list_transactions"); err != nil {
		return nil, err
	}

	raw, ok := resp.Field("transactions")
	if !ok {
		return []Transaction{}, nil
	}
	var txs []Transaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, fmt.Errorf("%w: transactions: %v", ErrInvalidResponse, err)
	}
	s.log.Debug("NWC: got transactions", "count", len(txs))
	return txs, nil
}

// TestConnection reports whether the relay link can be established.
// No wallet-level request is made.
func (s *Session) TestConnection(ctx context.Context) bool {
	if err := s.ensureConnected(ctx); err != nil {
		s.log.Debug("NWC: connection test failed", "error", err)
		return false
	}
	return true
}

// Simulated is always false for a real wallet session
func (s *Session) Simulated() bool {
	return false
}

// sendIdempotent is Send with retries on connection-level failures.
// Only for requests that move no money.
func (s *Session) sendIdempotent(ctx context.Context, method string, params interface{}) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxReconnectAttempts; attempt++ {
		if attempt > 0 {
			delay := s.opts.reconnectDelay(attempt)
			s.log.Debug("NWC: retrying request", "method", method, "attempt", attempt, "delay", delay, "error", lastErr)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, lastErr
			}
		}

		resp, err := s.Send(ctx, method, params)
		if err == nil {
			return resp, nil
		}
		if !IsConnectionError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// checkResponse surfaces wallet errors and mismatched result types
func checkResponse(resp *Response, method string) error {
	if err := resp.Err(); err != nil {
		return err
	}
	if resp.ResultType != "" && resp.ResultType != method {
		return fmt.Errorf("%w: unexpected result type %q for %s", ErrInvalidResponse, resp.ResultType, method)
	}
	return nil
}

// preimageFrom extracts the proof token of a payment response.
// A response without one is unconfirmed, never a success.
func preimageFrom(resp *Response, method string) (string, error) {
	if err := checkResponse(resp, method); err != nil {
		return "", err
	}
	raw, ok := resp.Field("preimage")
	if !ok {
		return "", fmt.Errorf("%w: wallet returned no preimage for %s", ErrPaymentUnconfirmed, method)
	}
	var preimage string
	if err := json.Unmarshal(raw, &preimage); err != nil || preimage == "" {
		return "", fmt.Errorf("%w: wallet returned an unusable preimage for %s", ErrPaymentUnconfirmed, method)
	}
	return preimage, nil
}

// parseAmount accepts a non-negative JSON integer (or an integral float)
func parseAmount(raw json.RawMessage) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, err
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	i, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
			return 0, fmt.Errorf("not an integer: %s", n)
		}
		i = int64(f)
	}
	if i < 0 {
		return 0, fmt.Errorf("negative amount: %d", i)
	}
	return i, nil
}

func isLightningAddress(addr string) bool {
	user, domain, ok := strings.Cut(addr, "@")
	if !ok || user == "" || domain == "" {
		return false
	}
	return !strings.ContainsAny(addr, " /?#") && strings.Contains(domain, ".") && !strings.Contains(domain, "@")
}
