// Package dataflows fetches market, news, social and fundamentals data for
// the analysts. Providers are tried in preference order and any failure is
// reported as errors.ErrDataUnavailable so the analyst can degrade instead of
// failing the run.
package dataflows

import (
	"context"
	"time"

	"github.com/dyike/cortexdesk/consts"
)

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, kind consts.AnalystKind, ticker string, asOf time.Time) (*RawData, error)

func (f FetcherFunc) Fetch(ctx context.Context, kind consts.AnalystKind, ticker string, asOf time.Time) (*RawData, error) {
	return f(ctx, kind, ticker, asOf)
}
