package dataflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"
)

// LongportClient reads daily candlesticks from the Longport quote API.
type LongportClient struct {
	quoteCtx *quote.QuoteContext
}

// NewLongportClient connects with the given credentials. All three are
// required.
func NewLongportClient(appKey, appSecret, accessToken string) (*LongportClient, error) {
	if appKey == "" || appSecret == "" || accessToken == "" {
		return nil, errors.New("longport API credentials not configured")
	}
	conf, err := lpconfig.New(lpconfig.WithConfigKey(appKey, appSecret, accessToken))
	if err != nil {
		return nil, err
	}
	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}
	return &LongportClient{quoteCtx: quoteContext}, nil
}

func (lpc *LongportClient) Name() string { return "longport" }

// Bars returns up to the latest count daily candles within [start, end].
// Longport symbols carry a market suffix; bare tickers are treated as US.
func (lpc *LongportClient) Bars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if lpc == nil || lpc.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	lpSymbol := longportSymbol(symbol)
	count := int(end.Sub(start).Hours()/24) + 1
	if count > 1000 {
		count = 1000
	}
	sticks, err := lpc.quoteCtx.Candlesticks(ctx, lpSymbol, quote.PeriodDay, int32(count), quote.AdjustTypeNo)
	if err != nil {
		return nil, fmt.Errorf("candlesticks for %s: %w", lpSymbol, err)
	}

	bars := make([]Bar, 0, len(sticks))
	for _, s := range sticks {
		date := time.Unix(s.Timestamp, 0).UTC()
		if date.Before(start) || date.After(end) {
			continue
		}
		bars = append(bars, Bar{
			Symbol:   NormalizeSymbol(symbol),
			Date:     date,
			Open:     orZero(s.Open),
			High:     orZero(s.High),
			Low:      orZero(s.Low),
			Close:    orZero(s.Close),
			AdjClose: orZero(s.Close),
			Volume:   s.Volume,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no candles for %s in %s", lpSymbol, FormatDateRange(start, end))
	}
	return bars, nil
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func longportSymbol(symbol string) string {
	symbol = NormalizeSymbol(symbol)
	for i := len(symbol) - 1; i >= 0; i-- {
		if symbol[i] == '.' {
			return symbol
		}
	}
	return symbol + ".US"
}
