package chain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avetra/flowbot/internal/store"
	"github.com/avetra/flowbot/pkg/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockCursorStore satisfies store.Store for cursor bookkeeping.
type mockCursorStore struct {
	store.Store
	mu      sync.Mutex
	cursors map[string]int64
}

func newMockCursorStore() *mockCursorStore {
	return &mockCursorStore{cursors: make(map[string]int64)}
}

func (m *mockCursorStore) GetEventCursor(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[name], nil
}

func (m *mockCursorStore) SetEventCursor(_ context.Context, name string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[name] = value
	return nil
}

const indexerPayload = `{
  "current-round": 41500100,
  "transactions": [
    {
      "id": "TX1",
      "sender": "ADDR_A",
      "confirmed-round": 41500050,
      "payment-transaction": {"receiver": "ADDR_B", "amount": 15000000000}
    },
    {
      "id": "TX2",
      "sender": "ADDR_C",
      "confirmed-round": 41500060,
      "payment-transaction": {"receiver": "ADDR_D", "amount": 42000000000}
    }
  ]
}`

func TestCheckPicksBiggestTransfer(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, indexerPayload)
	}))
	defer srv.Close()

	st := newMockCursorStore()
	st.cursors[cursorName] = 41500000
	src := NewIndexerSource(srv.URL, st, discardLogger())

	fired, data, err := src.Check(context.Background(), &schema.OnChainEventTrigger{
		EventType: EventWhaleTransfer,
		MinAlgo:   10_000,
	})
	require.NoError(t, err)
	require.True(t, fired)

	// The largest payment becomes the event.
	assert.Equal(t, "TX2", data["whale_tx_id"])
	assert.Equal(t, "ADDR_C", data["whale_sender"])
	assert.Equal(t, "ADDR_D", data["whale_receiver"])
	assert.Equal(t, 42000.0, data["whale_amount_algo"])
	assert.Equal(t, 2, data["whale_count"])

	// The poll resumes one past the stored cursor and filters server-side.
	assert.Contains(t, gotQuery, "min-round=41500001")
	assert.Contains(t, gotQuery, "currency-greater-than=10000000000")
	assert.Contains(t, gotQuery, "tx-type=pay")

	// The cursor advanced to the chain head.
	assert.Equal(t, int64(41500100), st.cursors[cursorName])
}

func TestCheckWatchAddressFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexerPayload)
	}))
	defer srv.Close()

	src := NewIndexerSource(srv.URL, newMockCursorStore(), discardLogger())

	fired, data, err := src.Check(context.Background(), &schema.OnChainEventTrigger{
		EventType:    EventWhaleTransfer,
		MinAlgo:      10_000,
		WatchAddress: "ADDR_A",
	})
	require.NoError(t, err)
	require.True(t, fired)
	assert.Equal(t, "TX1", data["whale_tx_id"])
	assert.Equal(t, 1, data["whale_count"])
}

func TestCheckWatchAddressNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexerPayload)
	}))
	defer srv.Close()

	st := newMockCursorStore()
	src := NewIndexerSource(srv.URL, st, discardLogger())

	fired, _, err := src.Check(context.Background(), &schema.OnChainEventTrigger{
		EventType:    EventWhaleTransfer,
		WatchAddress: "ADDR_NOBODY",
	})
	require.NoError(t, err)
	assert.False(t, fired)

	// The cursor still advances so quiet rounds are not re-polled.
	assert.Equal(t, int64(41500100), st.cursors[cursorName])
}

func TestCheckNoTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"current-round": 41500200, "transactions": []}`)
	}))
	defer srv.Close()

	src := NewIndexerSource(srv.URL, newMockCursorStore(), discardLogger())

	fired, data, err := src.Check(context.Background(), &schema.OnChainEventTrigger{EventType: EventWhaleTransfer})
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Nil(t, data)
}

func TestCheckIndexerErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewIndexerSource(srv.URL, newMockCursorStore(), discardLogger())

	_, _, err := src.Check(context.Background(), &schema.OnChainEventTrigger{EventType: EventWhaleTransfer})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
