package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"nostr-wallet/internal/cache"
	"nostr-wallet/internal/nwc"
)

// walletService resolves pairing identifiers to wallets and fronts the
// balance lookups with a cache. In simulate mode every pairing gets its
// own labeled demo wallet and no relay is ever contacted.
type walletService struct {
	store    *nwc.SessionStore
	info     *cache.WalletInfoCache
	metrics  *serverMetrics
	simulate bool

	// fetchTimeout bounds a shared balance fill, which outlives any one caller
	fetchTimeout time.Duration
	balanceGroup singleflight.Group

	// genMu orders cache fills against invalidations. A fill only stores
	// its balance if the pairing's generation is unchanged since it began.
	genMu sync.Mutex
	gens  map[string]uint64

	simMu     sync.Mutex
	simulated map[string]*nwc.SimulatedWallet

	resolve func(pairing string) (nwc.Wallet, error)
}

func newWalletService(store *nwc.SessionStore, info *cache.WalletInfoCache, metrics *serverMetrics, simulate bool, fetchTimeout time.Duration) *walletService {
	if simulate {
		slog.Warn("wallet simulation enabled: balances and payments are fake")
	}
	ws := &walletService{
		store:        store,
		info:         info,
		metrics:      metrics,
		simulate:     simulate,
		fetchTimeout: fetchTimeout,
		gens:         make(map[string]uint64),
		simulated:    make(map[string]*nwc.SimulatedWallet),
	}
	ws.resolve = ws.lookupWallet
	return ws
}

func (ws *walletService) wallet(pairing string) (nwc.Wallet, error) {
	return ws.resolve(pairing)
}

// lookupWallet returns the wallet for a pairing identifier.
// The pairing is validated in both modes.
func (ws *walletService) lookupWallet(pairing string) (nwc.Wallet, error) {
	if !ws.simulate {
		return ws.store.GetOrCreate(pairing)
	}

	if _, err := nwc.ParseConnectionString(pairing); err != nil {
		return nil, err
	}
	ws.simMu.Lock()
	defer ws.simMu.Unlock()
	w, ok := ws.simulated[pairing]
	if !ok {
		w = nwc.NewSimulatedWallet(slog.Default())
		ws.simulated[pairing] = w
	}
	return w, nil
}

// balance returns the wallet balance, from cache when fresh.
// Concurrent misses for one pairing share a single wallet request.
func (ws *walletService) balance(ctx context.Context, pairing string) (*cache.WalletInfo, error) {
	if cached, found := ws.info.Get(ctx, pairing); found {
		ws.metrics.cacheHitsTotal.Inc()
		return cached, nil
	}
	ws.metrics.cacheMissesTotal.Inc()

	w, err := ws.wallet(pairing)
	if err != nil {
		return nil, err
	}

	ch := ws.balanceGroup.DoChan(cache.WalletKey(pairing), func() (interface{}, error) {
		// Callers share this fill, so one of them going away must not fail the rest
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ws.fetchTimeout)
		defer cancel()

		gen := ws.generation(pairing)
		balance, err := w.GetBalance(fillCtx)
		if err != nil {
			return nil, err
		}
		info := &cache.WalletInfo{BalanceSats: balance, Simulated: w.Simulated()}
		ws.storeIfCurrent(fillCtx, pairing, gen, info)
		return info, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			LoggerFromContext(ctx).Debug("singleflight: shared balance fetch")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cache.WalletInfo), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ws *walletService) generation(pairing string) uint64 {
	ws.genMu.Lock()
	defer ws.genMu.Unlock()
	return ws.gens[pairing]
}

// storeIfCurrent caches info unless the pairing was invalidated after gen was read
func (ws *walletService) storeIfCurrent(ctx context.Context, pairing string, gen uint64, info *cache.WalletInfo) {
	ws.genMu.Lock()
	defer ws.genMu.Unlock()
	if ws.gens[pairing] != gen {
		LoggerFromContext(ctx).Debug("balance changed during fetch, not caching")
		return
	}
	ws.info.Set(ctx, pairing, info)
}

// invalidate drops the cached balance and any fill still in flight
func (ws *walletService) invalidate(ctx context.Context, pairing string) {
	ws.genMu.Lock()
	ws.gens[pairing]++
	ws.genMu.Unlock()
	ws.info.Delete(ctx, pairing)
}

// payRequest is a payment to either a lightning address or an invoice
type payRequest struct {
	AmountSats int64
	Address    string
	Invoice    string
	Memo       string
}

// pay issues exactly one payment request; it is never retried here.
// The cached balance is dropped whenever money may have moved.
func (ws *walletService) pay(ctx context.Context, pairing string, req payRequest) (string, bool, error) {
	if (req.Address == "") == (req.Invoice == "") {
		return "", false, fmt.Errorf("%w: exactly one of address or invoice is required", nwc.ErrInvalidRequest)
	}

	w, err := ws.wallet(pairing)
	if err != nil {
		return "", false, err
	}

	var preimage string
	if req.Address != "" {
		preimage, err = w.PayToLightningAddress(ctx, req.AmountSats, req.Address, req.Memo)
	} else {
		preimage, err = w.PayInvoice(ctx, req.Invoice, req.AmountSats)
	}

	if err == nil || errors.Is(err, nwc.ErrPaymentUnconfirmed) || nwc.IsConnectionError(err) || errors.Is(err, nwc.ErrRequestTimeout) {
		ws.invalidate(ctx, pairing)
	}
	if err != nil {
		return "", w.Simulated(), err
	}
	LoggerFromContext(ctx).Info("payment confirmed", "amount_sats", req.AmountSats, "simulated", w.Simulated())
	return preimage, w.Simulated(), nil
}

func (ws *walletService) transactions(ctx context.Context, pairing string, limit int) ([]nwc.Transaction, bool, error) {
	w, err := ws.wallet(pairing)
	if err != nil {
		return nil, false, err
	}
	txs, err := w.ListTransactions(ctx, limit)
	return txs, w.Simulated(), err
}

func (ws *walletService) test(ctx context.Context, pairing string) (bool, error) {
	w, err := ws.wallet(pairing)
	if err != nil {
		return false, err
	}
	return w.TestConnection(ctx), nil
}

// disconnect closes the session for pairing, if any, and forgets its cached info
func (ws *walletService) disconnect(ctx context.Context, pairing string) bool {
	ws.invalidate(ctx, pairing)

	if ws.simulate {
		ws.simMu.Lock()
		defer ws.simMu.Unlock()
		_, ok := ws.simulated[pairing]
		delete(ws.simulated, pairing)
		return ok
	}

	s, ok := ws.store.Lookup(pairing)
	if !ok {
		return false
	}
	ws.store.Close(s)
	return true
}
