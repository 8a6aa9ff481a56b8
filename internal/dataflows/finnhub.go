package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubClient serves company news, insider activity and basic financials.
type FinnhubClient struct {
	client *resty.Client
	cache  *CacheManager
	retry  *RetryConfig
	apiKey string
}

func NewFinnhubClient(apiKey, cacheDir string, cacheEnabled bool) *FinnhubClient {
	client := resty.New()
	client.SetBaseURL(finnhubBaseURL)
	client.SetTimeout(30 * time.Second)

	return &FinnhubClient{
		client: client,
		cache:  NewCacheManager(filepath.Join(cacheDir, "finnhub"), 6*time.Hour, cacheEnabled),
		retry:  DefaultRetryConfig(),
		apiKey: apiKey,
	}
}

func (fc *FinnhubClient) Name() string { return "finnhub" }

// SetBaseURL points the client at another endpoint. Used in tests.
func (fc *FinnhubClient) SetBaseURL(u string) { fc.client.SetBaseURL(u) }

func (fc *FinnhubClient) get(ctx context.Context, path string, params map[string]string, out any) error {
	if fc.apiKey == "" {
		return fmt.Errorf("finnhub API key not configured")
	}
	q := map[string]string{"token": fc.apiKey}
	for k, v := range params {
		q[k] = v
	}
	return WithRetry(ctx, fc.retry, func() error {
		resp, err := fc.client.R().SetContext(ctx).SetQueryParams(q).Get(path)
		if err != nil {
			return fmt.Errorf("finnhub %s: %w", path, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("finnhub %s: status %d", path, resp.StatusCode())
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("finnhub %s: parse response: %w", path, err)
		}
		return nil
	})
}

type finnhubNews struct {
	Category string `json:"category"`
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// CompanyNews returns articles about symbol published in [from, to], newest
// first.
func (fc *FinnhubClient) CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]NewsArticle, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)
	params := map[string]string{
		"symbol": symbol,
		"from":   from.Format(dateLayout),
		"to":     to.Format(dateLayout),
	}

	var cached []NewsArticle
	if fc.cache.Get("finnhub", "company_news", params, &cached) {
		return cached, nil
	}

	var raw []finnhubNews
	if err := fc.get(ctx, "/company-news", params, &raw); err != nil {
		return nil, err
	}
	result := make([]NewsArticle, 0, len(raw))
	for _, news := range raw {
		result = append(result, NewsArticle{
			Title:       news.Headline,
			Content:     news.Summary,
			URL:         news.URL,
			Source:      news.Source,
			PublishedAt: time.Unix(news.DateTime, 0).UTC(),
			Metadata: map[string]string{
				"category": news.Category,
				"related":  news.Related,
				"id":       strconv.FormatInt(news.ID, 10),
			},
		})
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].PublishedAt.After(result[j].PublishedAt) })

	_ = fc.cache.Set("finnhub", "company_news", params, result)
	return result, nil
}

// InsiderSentiment returns monthly insider sentiment for [from, to].
func (fc *FinnhubClient) InsiderSentiment(ctx context.Context, symbol string, from, to time.Time) ([]InsiderSentiment, error) {
	symbol = NormalizeSymbol(symbol)
	params := map[string]string{
		"symbol": symbol,
		"from":   from.Format(dateLayout),
		"to":     to.Format(dateLayout),
	}
	var cached []InsiderSentiment
	if fc.cache.Get("finnhub", "insider_sentiment", params, &cached) {
		return cached, nil
	}

	var raw struct {
		Data []struct {
			Symbol string  `json:"symbol"`
			Year   int     `json:"year"`
			Month  int     `json:"month"`
			Change int64   `json:"change"`
			MSPR   float64 `json:"mspr"`
		} `json:"data"`
	}
	if err := fc.get(ctx, "/stock/insider-sentiment", params, &raw); err != nil {
		return nil, err
	}
	result := make([]InsiderSentiment, 0, len(raw.Data))
	for _, s := range raw.Data {
		result = append(result, InsiderSentiment{
			Symbol: s.Symbol,
			Year:   s.Year,
			Month:  s.Month,
			Change: s.Change,
			MSPR:   decimal.NewFromFloat(s.MSPR),
		})
	}
	_ = fc.cache.Set("finnhub", "insider_sentiment", params, result)
	return result, nil
}

// InsiderTransactions returns insider trades filed in [from, to].
func (fc *FinnhubClient) InsiderTransactions(ctx context.Context, symbol string, from, to time.Time) ([]InsiderTransaction, error) {
	symbol = NormalizeSymbol(symbol)
	params := map[string]string{
		"symbol": symbol,
		"from":   from.Format(dateLayout),
		"to":     to.Format(dateLayout),
	}
	var cached []InsiderTransaction
	if fc.cache.Get("finnhub", "insider_transactions", params, &cached) {
		return cached, nil
	}

	var raw struct {
		Data []struct {
			Symbol           string  `json:"symbol"`
			Name             string  `json:"name"`
			Change           int64   `json:"change"`
			TransactionDate  string  `json:"transactionDate"`
			TransactionCode  string  `json:"transactionCode"`
			TransactionPrice float64 `json:"transactionPrice"`
		} `json:"data"`
	}
	if err := fc.get(ctx, "/stock/insider-transactions", params, &raw); err != nil {
		return nil, err
	}
	result := make([]InsiderTransaction, 0, len(raw.Data))
	for _, t := range raw.Data {
		date, _ := ParseDate(t.TransactionDate)
		result = append(result, InsiderTransaction{
			Symbol:           t.Symbol,
			PersonName:       t.Name,
			Change:           t.Change,
			TransactionDate:  date,
			TransactionCode:  t.TransactionCode,
			TransactionPrice: decimal.NewFromFloat(t.TransactionPrice),
		})
	}
	_ = fc.cache.Set("finnhub", "insider_transactions", params, result)
	return result, nil
}

// BasicFinancials returns the numeric metrics of /stock/metric.
func (fc *FinnhubClient) BasicFinancials(ctx context.Context, symbol string) (*Fundamentals, error) {
	symbol = NormalizeSymbol(symbol)
	params := map[string]string{"symbol": symbol, "metric": "all"}

	var cached Fundamentals
	if fc.cache.Get("finnhub", "basic_financials", params, &cached) {
		return &cached, nil
	}

	var raw struct {
		Metric map[string]any `json:"metric"`
	}
	if err := fc.get(ctx, "/stock/metric", params, &raw); err != nil {
		return nil, err
	}
	out := &Fundamentals{Symbol: symbol, Metrics: make(map[string]float64, len(raw.Metric))}
	for k, v := range raw.Metric {
		if f, ok := v.(float64); ok {
			out.Metrics[k] = f
		}
	}
	if len(out.Metrics) == 0 {
		return nil, fmt.Errorf("no financial metrics for %s", symbol)
	}
	_ = fc.cache.Set("finnhub", "basic_financials", params, out)
	return out, nil
}
