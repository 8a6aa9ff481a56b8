package dataflows

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/cortexdesk/consts"
)

// Fetcher gathers the raw material one analyst reasons over. Implementations
// return an error matching errors.ErrDataUnavailable when no provider could
// serve the request.
type Fetcher interface {
	Fetch(ctx context.Context, kind consts.AnalystKind, ticker string, asOf time.Time) (*RawData, error)
}

// RawData is provider output rendered as text for a reasoning call.
type RawData struct {
	Kind   consts.AnalystKind `json:"kind"`
	Source string             `json:"source"`
	Body   string             `json:"body"`
}

// Bar is one daily OHLCV candle.
type Bar struct {
	Symbol   string          `json:"symbol"`
	Date     time.Time       `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adj_close"`
	Volume   int64           `json:"volume"`
}

type NewsArticle struct {
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	URL         string            `json:"url"`
	Source      string            `json:"source"`
	PublishedAt time.Time         `json:"published_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type RedditPost struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Subreddit string    `json:"subreddit"`
	Score     int       `json:"score"`
	Comments  int       `json:"comments"`
	CreatedAt time.Time `json:"created_at"`
}

type InsiderTransaction struct {
	Symbol           string          `json:"symbol"`
	PersonName       string          `json:"person_name"`
	Change           int64           `json:"change"`
	TransactionDate  time.Time       `json:"transaction_date"`
	TransactionCode  string          `json:"transaction_code"`
	TransactionPrice decimal.Decimal `json:"transaction_price"`
}

type InsiderSentiment struct {
	Symbol string          `json:"symbol"`
	Year   int             `json:"year"`
	Month  int             `json:"month"`
	Change int64           `json:"change"`
	MSPR   decimal.Decimal `json:"mspr"` // monthly share purchase ratio
}

// Fundamentals is the subset of Finnhub's basic financials the
// fundamentals analyst reads.
type Fundamentals struct {
	Symbol  string             `json:"symbol"`
	Metrics map[string]float64 `json:"metrics"`
}
