package nwc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingSettleOnce(t *testing.T) {
	table := newPendingTable(nil)
	e := &pendingEntry{requestID: "req", method: "get_balance", eventID: "evt", subID: "sub"}
	require.NoError(t, table.add(e, time.Minute))

	assert.True(t, table.has("req"))
	assert.True(t, table.has("evt"))
	assert.True(t, table.has("sub"))

	require.True(t, table.settle("evt", outcome{resp: &Response{ResultType: "get_balance"}}))
	assert.False(t, table.settle("req", outcome{err: errors.New("late")}))
	assert.False(t, table.settle("sub", outcome{err: errors.New("late")}))

	o := <-e.done
	require.NoError(t, o.err)
	assert.Equal(t, "req", o.resp.RequestID)
	assert.Equal(t, 0, table.len())
	assert.False(t, table.has("evt"))
	assert.False(t, table.has("sub"))
}

func TestPendingTimeout(t *testing.T) {
	table := newPendingTable(nil)
	e := &pendingEntry{requestID: "req", method: "get_balance"}
	start := time.Now()
	require.NoError(t, table.add(e, 50*time.Millisecond))

	o := <-e.done
	elapsed := time.Since(start)
	assert.ErrorIs(t, o.err, ErrRequestTimeout)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 0, table.len())

	// A response after the deadline is a no-op
	assert.False(t, table.settle("req", outcome{resp: &Response{}}))
}

func TestPendingRejectsDuplicateID(t *testing.T) {
	table := newPendingTable(nil)
	require.NoError(t, table.add(&pendingEntry{requestID: "req"}, time.Minute))
	assert.Error(t, table.add(&pendingEntry{requestID: "req"}, time.Minute))
	assert.Equal(t, 1, table.len())
	table.failAll(ErrConnectionError)
}

func TestPendingFailAllAndClose(t *testing.T) {
	table := newPendingTable(nil)
	a := &pendingEntry{requestID: "a"}
	b := &pendingEntry{requestID: "b"}
	require.NoError(t, table.add(a, time.Minute))
	require.NoError(t, table.add(b, time.Minute))

	assert.Equal(t, 2, table.failAll(ErrConnectionError))
	assert.ErrorIs(t, (<-a.done).err, ErrConnectionError)
	assert.ErrorIs(t, (<-b.done).err, ErrConnectionError)

	// The table is still usable after a connection loss
	c := &pendingEntry{requestID: "c"}
	require.NoError(t, table.add(c, time.Minute))
	assert.Equal(t, 1, table.close(ErrSessionClosed))
	assert.ErrorIs(t, (<-c.done).err, ErrSessionClosed)

	err := table.add(&pendingEntry{requestID: "d"}, time.Minute)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestPendingResponseRacesTimeout(t *testing.T) {
	for i := 0; i < 200; i++ {
		table := newPendingTable(nil)
		e := &pendingEntry{requestID: "req"}
		require.NoError(t, table.add(e, time.Millisecond))

		var wg sync.WaitGroup
		wins := make(chan bool, 2)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				wins <- table.settle("req", outcome{resp: &Response{}})
			}()
		}
		wg.Wait()
		close(wins)

		<-e.done
		select {
		case <-e.done:
			t.Fatal("entry settled twice")
		default:
		}

		won := 0
		for w := range wins {
			if w {
				won++
			}
		}
		assert.LessOrEqual(t, won, 1)
		assert.Equal(t, 0, table.len())
	}
}
