package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"nostr-wallet/internal/nwc"
)

type pairingRequest struct {
	Pairing string `json:"pairing"`
}

type payHTTPRequest struct {
	Pairing    string `json:"pairing"`
	AmountSats int64  `json:"amount_sats"`
	Address    string `json:"address,omitempty"`
	Invoice    string `json:"invoice,omitempty"`
	Memo       string `json:"memo,omitempty"`
}

type transactionsRequest struct {
	Pairing string `json:"pairing"`
	Limit   int    `json:"limit,omitempty"`
}

type BalanceResponse struct {
	Balance   int64 `json:"balance"` // sats
	Simulated bool  `json:"simulated"`
	CachedAt  int64 `json:"cached_at"`
}

type PayResponse struct {
	Preimage  string `json:"preimage"`
	Simulated bool   `json:"simulated"`
}

type TestResponse struct {
	Connected bool `json:"connected"`
}

type TransactionsResponse struct {
	Transactions []nwc.Transaction `json:"transactions"`
	Simulated    bool              `json:"simulated"`
}

type DisconnectResponse struct {
	Disconnected bool `json:"disconnected"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (a *app) balanceHandler(w http.ResponseWriter, r *http.Request) {
	var req pairingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	info, err := a.wallets.balance(r.Context(), req.Pairing)
	if err != nil {
		writeWalletError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: info.BalanceSats, Simulated: info.Simulated, CachedAt: info.CachedAt})
}

func (a *app) payHandler(w http.ResponseWriter, r *http.Request) {
	var req payHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}
	preimage, simulated, err := a.wallets.pay(r.Context(), req.Pairing, payRequest{
		AmountSats: req.AmountSats,
		Address:    req.Address,
		Invoice:    req.Invoice,
		Memo:       req.Memo,
	})
	if err != nil {
		writeWalletError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PayResponse{Preimage: preimage, Simulated: simulated})
}

func (a *app) testHandler(w http.ResponseWriter, r *http.Request) {
	var req pairingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	connected, err := a.wallets.test(r.Context(), req.Pairing)
	if err != nil {
		writeWalletError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TestResponse{Connected: connected})
}

func (a *app) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	var req transactionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	txs, simulated, err := a.wallets.transactions(r.Context(), req.Pairing, req.Limit)
	if err != nil {
		writeWalletError(w, r, err)
		return
	}
	if txs == nil {
		txs = []nwc.Transaction{}
	}
	writeJSON(w, http.StatusOK, TransactionsResponse{Transactions: txs, Simulated: simulated})
}

func (a *app) disconnectHandler(w http.ResponseWriter, r *http.Request) {
	var req pairingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, DisconnectResponse{Disconnected: a.wallets.disconnect(r.Context(), req.Pairing)})
}

type HealthResponse struct {
	Status   string `json:"status"`
	Cache    string `json:"cache"`
	Sessions int    `json:"sessions"`
}

// healthHandler reports degraded, not down, when the cache is unreachable:
// wallet calls still work without it
func (a *app) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Cache: a.cacheKind, Sessions: a.wallets.store.Len()}
	status := http.StatusOK
	if err := a.cache.Ping(ctx); err != nil {
		slog.Warn("health: cache ping failed", "cache", a.cacheKind, "error", err)
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// decodeBody parses a JSON request body, answering 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body", Code: "invalid_request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing left to tell the client
		return
	}
}

// writeWalletError maps wallet client errors to HTTP statuses
func writeWalletError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	LoggerFromContext(r.Context()).Debug("wallet request failed", "status", status, "code", code, "error", err)
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func statusForError(err error) (int, string) {
	var walletErr *nwc.WalletError
	switch {
	case errors.As(err, &walletErr):
		return http.StatusBadGateway, walletErr.Code
	case errors.Is(err, nwc.ErrInvalidConnectionString):
		return http.StatusBadRequest, "invalid_pairing"
	case errors.Is(err, nwc.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, nwc.ErrPaymentUnconfirmed):
		// Accepted by the wallet but unproven: the caller must not mark it paid
		return http.StatusAccepted, "payment_unconfirmed"
	case errors.Is(err, nwc.ErrInvalidResponse):
		return http.StatusBadGateway, "invalid_response"
	case errors.Is(err, nwc.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request_timeout"
	case errors.Is(err, nwc.ErrConnectionTimeout):
		return http.StatusGatewayTimeout, "connection_timeout"
	case errors.Is(err, nwc.ErrConnectionError):
		return http.StatusServiceUnavailable, "connection_error"
	case errors.Is(err, nwc.ErrSessionClosed):
		return http.StatusServiceUnavailable, "session_closed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
