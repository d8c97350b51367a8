package nwc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"
)

const (
	simulatedMinBalance = 10_000
	simulatedMaxBalance = 1_000_000
)

// SimulatedWallet is an in-memory demo wallet. It never touches a relay and
// every value it returns is made up; Simulated reports true so callers can
// label the results.
type SimulatedWallet struct {
	log *slog.Logger

	mu      sync.Mutex
	balance int64 // sats
	txs     []Transaction
}

// NewSimulatedWallet creates a demo wallet with a random starting balance
func NewSimulatedWallet(logger *slog.Logger) *SimulatedWallet {
	if logger == nil {
		logger = slog.Default()
	}
	n, err := rand.Int(rand.Reader, big.NewInt(simulatedMaxBalance-simulatedMinBalance))
	balance := int64(simulatedMinBalance)
	if err == nil {
		balance += n.Int64()
	}
	return &SimulatedWallet{
		log:     logger.With("wallet", "simulated"),
		balance: balance,
	}
}

func (w *SimulatedWallet) Simulated() bool {
	return true
}

func (w *SimulatedWallet) TestConnection(ctx context.Context) bool {
	return true
}

func (w *SimulatedWallet) GetBalance(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance, nil
}

func (w *SimulatedWallet) PayToLightningAddress(ctx context.Context, amountSats int64, address, memo string) (string, error) {
	if !isLightningAddress(strings.TrimSpace(address)) {
		return "", fmt.Errorf("%w: %q is not a lightning address", ErrInvalidRequest, address)
	}
	if err := checkAmountSats(amountSats, false); err != nil {
		return "", err
	}
	return w.spend(amountSats, memo, "")
}

func (w *SimulatedWallet) PayInvoice(ctx context.Context, invoice string, amountSats int64) (string, error) {
	invoice = strings.TrimSpace(invoice)
	if !strings.HasPrefix(strings.ToLower(invoice), "ln") {
		return "", fmt.Errorf("%w: not a lightning invoice", ErrInvalidRequest)
	}
	if amountSats == 0 {
		// Decoding BOLT11 amounts is out of reach for the demo wallet
		return "", fmt.Errorf("%w: simulated wallet needs an explicit amount", ErrInvalidRequest)
	}
	if err := checkAmountSats(amountSats, false); err != nil {
		return "", err
	}
	return w.spend(amountSats, "", invoice)
}

func (w *SimulatedWallet) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Transaction, 0, len(w.txs))
	for i := len(w.txs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, w.txs[i])
	}
	return out, nil
}

func (w *SimulatedWallet) spend(amountSats int64, memo, invoice string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if amountSats > w.balance {
		return "", &WalletError{Code: ErrorCodeInsufficientBalance, Message: "simulated balance too low"}
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate preimage: %w", err)
	}
	preimage := "simulated-" + hex.EncodeToString(b)

	now := time.Now().Unix()
	w.balance -= amountSats
	w.txs = append(w.txs, Transaction{
		Type:        "outgoing",
		Invoice:     invoice,
		Description: memo,
		Preimage:    preimage,
		Amount:      amountSats * 1000,
		CreatedAt:   now,
		SettledAt:   now,
	})
	w.log.Info("NWC: simulated payment", "amount_sats", amountSats, "balance", w.balance)
	return preimage, nil
}
