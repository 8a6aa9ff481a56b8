package dataflows

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
)

// YahooFinanceClient reads daily bars through finance-go.
type YahooFinanceClient struct {
	cache *CacheManager
	retry *RetryConfig
}

func NewYahooFinanceClient(cacheDir string, cacheEnabled bool) *YahooFinanceClient {
	return &YahooFinanceClient{
		cache: NewCacheManager(filepath.Join(cacheDir, "yahoo_finance"), 24*time.Hour, cacheEnabled),
		retry: DefaultRetryConfig(),
	}
}

func (yf *YahooFinanceClient) Name() string { return "yahoo" }

// Bars returns daily bars in [start, end], oldest first.
func (yf *YahooFinanceClient) Bars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	cacheKey := map[string]any{
		"symbol": symbol,
		"start":  start.Format(dateLayout),
		"end":    end.Format(dateLayout),
	}
	var cached []Bar
	if yf.cache.Get("yahoo", "historical", cacheKey, &cached) {
		return cached, nil
	}

	var result []Bar
	err := WithRetry(ctx, yf.retry, func() error {
		params := &chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneDay,
		}
		iter := chart.Get(params)

		result = result[:0]
		for iter.Next() {
			bar := iter.Bar()
			result = append(result, Bar{
				Symbol:   symbol,
				Date:     time.Unix(int64(bar.Timestamp), 0).UTC(),
				Open:     bar.Open,
				High:     bar.High,
				Low:      bar.Low,
				Close:    bar.Close,
				AdjClose: bar.AdjClose,
				Volume:   int64(bar.Volume),
			})
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("historical data for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no bars for %s in %s", symbol, FormatDateRange(start, end))
	}

	_ = yf.cache.Set("yahoo", "historical", cacheKey, result)
	return result, nil
}
