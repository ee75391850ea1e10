package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avetra/flowbot/internal/store"
	"github.com/avetra/flowbot/pkg/schema"
)

// EventWhaleTransfer is the event type served by IndexerSource.
const EventWhaleTransfer = "whale_transfer"

// cursorName keys the last-checked round in the event_cursors table, so a
// restart resumes polling where the previous process stopped.
const cursorName = "algorand_last_round"

const microAlgosPerAlgo = 1_000_000

// IndexerSource watches an Algorand-style indexer for large payment
// transactions. It implements trigger.EventSource for "whale_transfer":
// when one or more payments above the configured minimum land past the
// stored cursor, the largest one becomes the trigger event.
type IndexerSource struct {
	baseURL string
	store   store.Store
	client  *http.Client
	logger  *slog.Logger
}

// NewIndexerSource creates an IndexerSource polling the given indexer base URL.
func NewIndexerSource(baseURL string, st store.Store, logger *slog.Logger) *IndexerSource {
	return &IndexerSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   st,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

type indexerTxn struct {
	ID             string `json:"id"`
	Sender         string `json:"sender"`
	Fee            int64  `json:"fee"`
	ConfirmedRound int64  `json:"confirmed-round"`
	RoundTime      int64  `json:"round-time"`
	Payment        struct {
		Receiver string `json:"receiver"`
		Amount   int64  `json:"amount"`
	} `json:"payment-transaction"`
}

type indexerResponse struct {
	Transactions []indexerTxn `json:"transactions"`
	CurrentRound int64        `json:"current-round"`
}

// Check polls for payment transactions above cfg.MinAlgo since the stored
// cursor. An optional watch address filters to transfers it sent or received.
func (s *IndexerSource) Check(ctx context.Context, cfg *schema.OnChainEventTrigger) (bool, map[string]any, error) {
	minAlgo := cfg.MinAlgo
	if minAlgo <= 0 {
		minAlgo = 10_000
	}

	lastRound, err := s.store.GetEventCursor(ctx, cursorName)
	if err != nil {
		return false, nil, schema.NewErrorf(schema.ErrCodeStore, "read indexer cursor: %s", err.Error()).WithCause(err)
	}

	resp, err := s.search(ctx, lastRound+1, int64(minAlgo*microAlgosPerAlgo))
	if err != nil {
		return false, nil, err
	}

	// Advance the cursor even when nothing matched, so the next poll
	// starts from fresh rounds.
	if resp.CurrentRound > lastRound {
		if err := s.store.SetEventCursor(ctx, cursorName, resp.CurrentRound); err != nil {
			s.logger.WarnContext(ctx, "failed to advance indexer cursor", slog.String("error", err.Error()))
		}
	}

	txns := resp.Transactions
	if cfg.WatchAddress != "" {
		filtered := txns[:0]
		for _, t := range txns {
			if t.Sender == cfg.WatchAddress || t.Payment.Receiver == cfg.WatchAddress {
				filtered = append(filtered, t)
			}
		}
		txns = filtered
	}

	if len(txns) == 0 {
		return false, nil, nil
	}

	biggest := txns[0]
	for _, t := range txns[1:] {
		if t.Payment.Amount > biggest.Payment.Amount {
			biggest = t
		}
	}

	amount := float64(biggest.Payment.Amount) / microAlgosPerAlgo
	s.logger.InfoContext(ctx, "whale transfer detected",
		slog.String("tx_id", biggest.ID),
		slog.Float64("amount_algo", amount),
		slog.Int("count", len(txns)),
	)

	return true, map[string]any{
		"whale_tx_id":       biggest.ID,
		"whale_sender":      biggest.Sender,
		"whale_receiver":    biggest.Payment.Receiver,
		"whale_amount_algo": amount,
		"whale_round":       biggest.ConfirmedRound,
		"whale_count":       len(txns),
	}, nil
}

func (s *IndexerSource) search(ctx context.Context, minRound, minAmount int64) (*indexerResponse, error) {
	q := url.Values{}
	q.Set("min-round", strconv.FormatInt(minRound, 10))
	q.Set("currency-greater-than", strconv.FormatInt(minAmount, 10))
	q.Set("tx-type", "pay")
	q.Set("limit", "10")

	endpoint := fmt.Sprintf("%s/v2/transactions?%s", s.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTrigger, "build indexer request: %s", err.Error()).WithCause(err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTrigger, "poll indexer: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeTrigger, "indexer returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTrigger, "read indexer response: %s", err.Error()).WithCause(err)
	}

	var parsed indexerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTrigger, "decode indexer response: %s", err.Error()).WithCause(err)
	}
	return &parsed, nil
}
