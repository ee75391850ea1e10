package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/avetra/flowbot/internal/market"
	"github.com/avetra/flowbot/internal/vars"
	"github.com/avetra/flowbot/pkg/schema"
)

// StockLookupHandler fetches the current quote for a ticker and formats a
// multi-line summary. It is a data-producing step: a fetch failure halts
// the run instead of feeding empty data downstream.
type StockLookupHandler struct {
	source market.QuoteSource
}

// NewStockLookupHandler creates a stock_lookup handler.
func NewStockLookupHandler(source market.QuoteSource) *StockLookupHandler {
	return &StockLookupHandler{source: source}
}

func (h *StockLookupHandler) Type() string { return schema.StepStockLookup }

func (h *StockLookupHandler) Execute(ctx context.Context, config map[string]string, _ *vars.Store) Result {
	ticker := strings.TrimSpace(config["ticker"])
	if ticker == "" {
		return Fail("stock_lookup requires a ticker")
	}

	quote, err := h.source.Quote(ctx, ticker)
	if err != nil {
		return Fail(fmt.Sprintf("could not fetch data for %s: %s", ticker, truncate(err.Error(), 200)))
	}

	name := quote.Name
	if name == "" {
		name = quote.Ticker
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", name, strings.ToUpper(quote.Ticker))
	fmt.Fprintf(&b, "Price: $%.2f (%+.2f | %+.2f%%)\n", quote.Price, quote.Change(), quote.ChangePct())
	if quote.PreviousClose > 0 {
		fmt.Fprintf(&b, "Previous close: $%.2f\n", quote.PreviousClose)
	}
	if quote.Currency != "" {
		fmt.Fprintf(&b, "Currency: %s", quote.Currency)
	}

	return Result{
		Success: true,
		Output:  b.String(),
		Extra:   map[string]any{"price": quote.Price, "ticker": strings.ToUpper(quote.Ticker)},
	}
}
