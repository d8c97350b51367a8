package nwc

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBalance(t *testing.T) {
	relay := newMockRelay(t, func(walletRequest) walletReply {
		return walletReply{body: `{"result":{"balance":150000}}`, delay: 200 * time.Millisecond}
	})
	s := newTestSession(t, relay, testOptions())

	balance, err := s.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(150000), balance)
}

func TestGetBalanceResponseShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int64
		wantErr error
	}{
		{"nested", `{"result_type":"get_balance","result":{"balance":42}}`, 42, nil},
		{"top level", `{"balance":43}`, 43, nil},
		{"integral float", `{"result":{"balance":44.0}}`, 44, nil},
		{"zero", `{"result":{"balance":0}}`, 0, nil},
		{"string", `{"balance":"oops"}`, 0, ErrInvalidResponse},
		{"fraction", `{"result":{"balance":1.5}}`, 0, ErrInvalidResponse},
		{"negative", `{"result":{"balance":-1}}`, 0, ErrInvalidResponse},
		{"missing", `{"result":{}}`, 0, ErrInvalidResponse},
		{"null", `{"result":{"balance":null}}`, 0, ErrInvalidResponse},
		{"object", `{"result":{"balance":{"sats":1}}}`, 0, ErrInvalidResponse},
		{"wrong result type", `{"result_type":"pay_invoice","result":{"balance":1}}`, 0, ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := newMockRelay(t, replyWith(tt.body))
			s := newTestSession(t, relay, testOptions())

			balance, err := s.GetBalance(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, balance)
		})
	}
}

func TestWalletErrorIsSurfaced(t *testing.T) {
	relay := newMockRelay(t, replyWith(`{"result_type":"pay_invoice","error":{"code":"INSUFFICIENT_BALANCE","message":"not enough sats"}}`))
	s := newTestSession(t, relay, testOptions())

	_, err := s.PayInvoice(context.Background(), "lnbc10u1ptest", 0)
	var walletErr *WalletError
	require.True(t, errors.As(err, &walletErr))
	assert.Equal(t, ErrorCodeInsufficientBalance, walletErr.Code)
	assert.Equal(t, "not enough sats", walletErr.Message)
	assert.Contains(t, err.Error(), "not enough sats")
}

func TestPayToLightningAddress(t *testing.T) {
	relay := newMockRelay(t, func(req walletRequest) walletReply {
		return walletReply{body: `{"result_type":"pay_address","result":{"preimage":"abc123"}}`}
	})
	s := newTestSession(t, relay, testOptions())

	preimage, err := s.PayToLightningAddress(context.Background(), 21, "alice@getalby.com", "thanks")
	require.NoError(t, err)
	assert.Equal(t, "abc123", preimage)

	reqs := relay.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "pay_address", reqs[0].Method)
	assert.JSONEq(t, `{"address":"alice@getalby.com","amount":21000,"memo":"thanks"}`, string(reqs[0].Params))
}

func TestPayInvoiceParams(t *testing.T) {
	relay := newMockRelay(t, replyWith(`{"preimage":"top-level"}`))
	s := newTestSession(t, relay, testOptions())

	preimage, err := s.PayInvoice(context.Background(), "lnbc1zeroamount", 0)
	require.NoError(t, err)
	assert.Equal(t, "top-level", preimage)

	_, err = s.PayInvoice(context.Background(), "lnbc1zeroamount", 5)
	require.NoError(t, err)

	reqs := relay.received()
	require.Len(t, reqs, 2)
	assert.JSONEq(t, `{"invoice":"lnbc1zeroamount"}`, string(reqs[0].Params))
	assert.JSONEq(t, `{"invoice":"lnbc1zeroamount","amount":5000}`, string(reqs[1].Params))
}

func TestPaymentWithoutPreimageIsUnconfirmed(t *testing.T) {
	for _, body := range []string{
		`{"result_type":"pay_address","result":{}}`,
		`{"result_type":"pay_address"}`,
		`{"result":{"preimage":""}}`,
		`{"result":{"preimage":12}}`,
	} {
		t.Run(body, func(t *testing.T) {
			relay := newMockRelay(t, replyWith(body))
			s := newTestSession(t, relay, testOptions())

			preimage, err := s.PayToLightningAddress(context.Background(), 100, "bob@example.com", "")
			assert.ErrorIs(t, err, ErrPaymentUnconfirmed)
			assert.Empty(t, preimage)
		})
	}
}

func TestPaymentInputValidation(t *testing.T) {
	relay := newMockRelay(t, replyWith(`{"preimage":"x"}`))
	s := newTestSession(t, relay, testOptions())
	ctx := context.Background()

	_, err := s.PayToLightningAddress(ctx, 100, "not-an-address", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = s.PayToLightningAddress(ctx, 100, "bob@localhost", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = s.PayToLightningAddress(ctx, 0, "bob@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = s.PayInvoice(ctx, "bitcoin:bc1q", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = s.PayInvoice(ctx, "lnbc1", -5)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// One past the largest amount whose msat value fits in an int64
	_, err = s.PayToLightningAddress(ctx, MaxAmountSats+1, "alice@getalby.com", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = s.PayToLightningAddress(ctx, math.MaxInt64, "alice@getalby.com", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = s.PayInvoice(ctx, "lnbc1", MaxAmountSats+1)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Empty(t, relay.received(), "invalid input must not reach the wallet")
}

func TestConcurrentPaymentsAreIndependent(t *testing.T) {
	relay := newMockRelay(t, func(req walletRequest) walletReply {
		var params payAddressParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return walletReply{silent: true}
		}
		// Answer the first payment last to catch cross-resolution
		delay := 10 * time.Millisecond
		if params.Address == "first@example.com" {
			delay = 150 * time.Millisecond
		}
		body, _ := json.Marshal(map[string]interface{}{
			"result_type": "pay_address",
			"result":      map[string]string{"preimage": "pre-" + params.Address},
		})
		return walletReply{body: string(body), delay: delay}
	})
	s := newTestSession(t, relay, testOptions())
	require.True(t, s.TestConnection(context.Background()))

	addrs := []string{"first@example.com", "second@example.com"}
	preimages := make([]string, len(addrs))
	errs := make([]error, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			preimages[i], errs[i] = s.PayToLightningAddress(context.Background(), 10, addr, "")
		}(i, addr)
	}
	wg.Wait()

	for i, addr := range addrs {
		require.NoError(t, errs[i])
		assert.Equal(t, "pre-"+addr, preimages[i])
	}

	reqs := relay.received()
	require.Len(t, reqs, 2)
	assert.NotEqual(t, reqs[0].RequestID, reqs[1].RequestID)
	assert.NotEqual(t, reqs[0].EventID, reqs[1].EventID)
	assert.Equal(t, 0, s.PendingCount())
}

func TestListTransactions(t *testing.T) {
	relay := newMockRelay(t, replyWith(`{"result_type":"list_transactions","result":{"transactions":[
		{"type":"incoming","invoice":"lnbc1a","amount":1000,"created_at":1700000000},
		{"type":"outgoing","preimage":"p","amount":2000,"fees_paid":3,"created_at":1700000100,"settled_at":1700000101}
	]}}`))
	s := newTestSession(t, relay, testOptions())

	txs, err := s.ListTransactions(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "incoming", txs[0].Type)
	assert.Equal(t, int64(2000), txs[1].Amount)
	assert.Equal(t, int64(3), txs[1].FeesPaid)

	reqs := relay.received()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"limit":2}`, string(reqs[0].Params))
}

func TestTestConnectionSendsNoRequest(t *testing.T) {
	relay := newMockRelay(t, replyWith(`{}`))
	s := newTestSession(t, relay, testOptions())

	assert.True(t, s.TestConnection(context.Background()))
	assert.Empty(t, relay.received())
	assert.False(t, s.Simulated())
}

func TestGetBalanceRetriesConnectionErrors(t *testing.T) {
	relay := newMockRelay(t, func(walletRequest) walletReply { return walletReply{silent: true} })
	s := newTestSession(t, relay, testOptions())

	done := make(chan error, 1)
	var balance int64
	go func() {
		var err error
		balance, err = s.GetBalance(context.Background())
		done <- err
	}()

	// Lose the link under the first attempt, then let the wallet answer
	require.Eventually(t, func() bool { return len(relay.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	relay.setHandler(replyWith(`{"result":{"balance":9}}`))
	relay.dropAll()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Equal(t, int64(9), balance)
	case <-time.After(3 * time.Second):
		t.Fatal("balance not retried")
	}
	assert.Len(t, relay.received(), 2)
}

func TestPaymentsAreNotRetried(t *testing.T) {
	relay := newMockRelay(t, func(walletRequest) walletReply { return walletReply{silent: true} })
	s := newTestSession(t, relay, testOptions())

	done := make(chan error, 1)
	go func() {
		_, err := s.PayToLightningAddress(context.Background(), 1, "carol@example.com", "")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(relay.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	relay.setHandler(replyWith(`{"result":{"preimage":"x"}}`))
	relay.dropAll()

	assert.ErrorIs(t, <-done, ErrConnectionError)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, relay.received(), 1)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw   string
		want  int64
		valid bool
	}{
		{`0`, 0, true},
		{`150000`, 150000, true},
		{`9007199254740993`, 9007199254740993, true},
		{`1e3`, 1000, true},
		{`2.0`, 2, true},
		{`2.5`, 0, false},
		{`-3`, 0, false},
		{`"3"`, 0, false},
		{`true`, 0, false},
		{`[]`, 0, false},
	}
	for _, tt := range tests {
		got, err := parseAmount(json.RawMessage(tt.raw))
		if !tt.valid {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestLargestAmountIsSentIntact(t *testing.T) {
	relay := newMockRelay(t, replyWith(`{"result_type":"pay_address","result":{"preimage":"p"}}`))
	s := newTestSession(t, relay, testOptions())

	_, err := s.PayToLightningAddress(context.Background(), MaxAmountSats, "alice@getalby.com", "")
	require.NoError(t, err)

	reqs := relay.received()
	require.Len(t, reqs, 1)
	var params payAddressParams
	require.NoError(t, json.Unmarshal(reqs[0].Params, &params))
	assert.Equal(t, int64(MaxAmountSats)*1000, params.Amount)
	assert.Positive(t, params.Amount)
}
