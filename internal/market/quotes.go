package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avetra/flowbot/pkg/schema"
)

// Quote is a point-in-time price snapshot for one ticker.
type Quote struct {
	Ticker        string
	Price         float64
	PreviousClose float64
	Currency      string
	Name          string
}

// Change returns the absolute price change versus the previous close.
func (q Quote) Change() float64 {
	if q.PreviousClose == 0 {
		return 0
	}
	return q.Price - q.PreviousClose
}

// ChangePct returns the percentage change versus the previous close.
func (q Quote) ChangePct() float64 {
	if q.PreviousClose == 0 {
		return 0
	}
	return (q.Price - q.PreviousClose) / q.PreviousClose * 100
}

// QuoteSource fetches the current price for a ticker. The price_threshold
// trigger and the stock_lookup step both consume this; a fetch failure means
// "does not fire" / a failed step, never a crashed evaluation pass.
type QuoteSource interface {
	Quote(ctx context.Context, ticker string) (Quote, error)
}

// HTTPQuoteSource fetches quotes from a Yahoo-style chart endpoint:
// GET {base}/v8/finance/chart/{ticker}.
type HTTPQuoteSource struct {
	baseURL string
	client  *http.Client
}

const defaultQuoteBaseURL = "https://query1.finance.yahoo.com"

// NewHTTPQuoteSource creates an HTTPQuoteSource. baseURL overrides the
// default host when non-empty.
func NewHTTPQuoteSource(baseURL string) *HTTPQuoteSource {
	if baseURL == "" {
		baseURL = defaultQuoteBaseURL
	}
	return &HTTPQuoteSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"previousClose"`
				Currency           string  `json:"currency"`
				LongName           string  `json:"longName"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (s *HTTPQuoteSource) Quote(ctx context.Context, ticker string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s", s.baseURL, strings.ToUpper(ticker))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, schema.NewErrorf(schema.ErrCodeExecution, "build quote request: %s", err.Error()).WithCause(err)
	}
	req.Header.Set("User-Agent", "flowbot/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, schema.NewErrorf(schema.ErrCodeExecution, "fetch quote for %s: %s", ticker, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Quote{}, schema.NewErrorf(schema.ErrCodeExecution, "quote endpoint returned %d for %s", resp.StatusCode, ticker)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Quote{}, schema.NewErrorf(schema.ErrCodeExecution, "read quote response: %s", err.Error()).WithCause(err)
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, schema.NewErrorf(schema.ErrCodeExecution, "decode quote response for %s: %s", ticker, err.Error()).WithCause(err)
	}

	if parsed.Chart.Error != nil {
		return Quote{}, schema.NewErrorf(schema.ErrCodeExecution, "quote error for %s: %s", ticker, parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 || parsed.Chart.Result[0].Meta.RegularMarketPrice == 0 {
		return Quote{}, schema.NewErrorf(schema.ErrCodeNotFound, "no price data for %s", ticker)
	}

	meta := parsed.Chart.Result[0].Meta
	return Quote{
		Ticker:        meta.Symbol,
		Price:         meta.RegularMarketPrice,
		PreviousClose: meta.PreviousClose,
		Currency:      meta.Currency,
		Name:          meta.LongName,
	}, nil
}
