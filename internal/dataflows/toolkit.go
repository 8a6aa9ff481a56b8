package dataflows

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/errors"
	"github.com/dyike/cortexdesk/internal/logging"
)

const (
	marketLookbackDays = 365
	newsLookbackDays   = 7
	maxNewsItems       = 15
	maxSocialItems     = 15
)

var defaultSubreddits = []string{"wallstreetbets", "stocks", "investing"}

type BarSource interface {
	Name() string
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

type NewsSource interface {
	Name() string
	News(ctx context.Context, symbol string, from, to time.Time) ([]NewsArticle, error)
}

type SocialSource interface {
	Name() string
	Posts(ctx context.Context, symbol string, from, to time.Time) ([]RedditPost, error)
}

type FundamentalsSource interface {
	Name() string
	Fundamentals(ctx context.Context, symbol string, asOf time.Time) (string, error)
}

// Sources lists providers per analyst kind, in preference order.
type Sources struct {
	Bars         []BarSource
	News         []NewsSource
	Social       []SocialSource
	Fundamentals []FundamentalsSource
}

// Toolkit is the production Fetcher. Every window it queries ends at the
// run's as-of date.
type Toolkit struct {
	online  bool
	sources Sources
	logger  *logging.Logger
}

// NewToolkit wires the providers that cfg has credentials for.
func NewToolkit(cfg config.Config, logger *logging.Logger) *Toolkit {
	if logger == nil {
		logger = logging.NopLogger()
	}
	var src Sources
	if lp, err := NewLongportClient(cfg.LongportAppKey, cfg.LongportAppSecret, cfg.LongportAccessToken); err == nil {
		src.Bars = append(src.Bars, lp)
	} else if cfg.LongportAppKey != "" {
		logger.Warn("longport disabled", "error", err)
	}
	src.Bars = append(src.Bars, NewYahooFinanceClient(cfg.DataCacheDir, cfg.CacheEnabled))

	if cfg.FinnhubAPIKey != "" {
		fh := NewFinnhubClient(cfg.FinnhubAPIKey, cfg.DataCacheDir, cfg.CacheEnabled)
		src.News = append(src.News, fh)
		src.Fundamentals = append(src.Fundamentals, fh)
	}
	src.News = append(src.News, NewNewsScraperClient(cfg.DataCacheDir, cfg.CacheEnabled))
	src.Social = append(src.Social, NewRedditClient(cfg.RedditUserAgent, cfg.DataCacheDir, cfg.CacheEnabled))

	return NewToolkitWithSources(cfg.OnlineTools, src, logger)
}

func NewToolkitWithSources(online bool, sources Sources, logger *logging.Logger) *Toolkit {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Toolkit{online: online, sources: sources, logger: logger}
}

func (t *Toolkit) Fetch(ctx context.Context, kind consts.AnalystKind, ticker string, asOf time.Time) (*RawData, error) {
	if err := ValidateSymbol(ticker); err != nil {
		return nil, errors.NewDataUnavailableError(string(kind), "", err)
	}
	ticker = NormalizeSymbol(ticker)
	if !t.online {
		return nil, errors.NewDataUnavailableError(string(kind), "", fmt.Errorf("online tools disabled"))
	}

	switch kind {
	case consts.AnalystMarket:
		return t.fetchMarket(ctx, ticker, asOf)
	case consts.AnalystNews:
		return t.fetchNews(ctx, ticker, asOf)
	case consts.AnalystSentiment:
		return t.fetchSocial(ctx, ticker, asOf)
	case consts.AnalystFundamentals:
		return t.fetchFundamentals(ctx, ticker, asOf)
	default:
		return nil, errors.Invariantf("unknown analyst kind %q", kind)
	}
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

func (t *Toolkit) fetchMarket(ctx context.Context, ticker string, asOf time.Time) (*RawData, error) {
	end := endOfDay(asOf)
	start := end.AddDate(0, 0, -marketLookbackDays)

	var errs []error
	var tried []string
	for _, src := range t.sources.Bars {
		tried = append(tried, src.Name())
		bars, err := src.Bars(ctx, ticker, start, end)
		if err != nil {
			t.logger.Warn("bar source failed", "source", src.Name(), "ticker", ticker, "error", err)
			errs = append(errs, err)
			continue
		}
		return &RawData{Kind: consts.AnalystMarket, Source: src.Name(), Body: renderMarket(ticker, bars, asOf)}, nil
	}
	return nil, unavailable(consts.AnalystMarket, tried, errs)
}

func renderMarket(ticker string, bars []Bar, asOf time.Time) string {
	sorted := append([]Bar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	var b strings.Builder
	fmt.Fprintf(&b, "Daily prices for %s up to %s (%d sessions).\n\n", ticker, asOf.Format(dateLayout), len(sorted))
	b.WriteString("| Date | Open | High | Low | Close | Volume |\n|---|---|---|---|---|---|\n")
	recent := sorted
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	for _, bar := range recent {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %d |\n", bar.Date.Format(dateLayout),
			bar.Open.StringFixed(2), bar.High.StringFixed(2), bar.Low.StringFixed(2), bar.Close.StringFixed(2), bar.Volume)
	}
	b.WriteString("\nIndicators at the last session:\n")
	b.WriteString(ComputeIndicators(sorted).Render())
	return b.String()
}

func (t *Toolkit) fetchNews(ctx context.Context, ticker string, asOf time.Time) (*RawData, error) {
	to := endOfDay(asOf)
	from := to.AddDate(0, 0, -newsLookbackDays)

	var errs []error
	var tried, used []string
	seen := map[string]bool{}
	var articles []NewsArticle
	for _, src := range t.sources.News {
		tried = append(tried, src.Name())
		items, err := src.News(ctx, ticker, from, to)
		if err != nil {
			t.logger.Warn("news source failed", "source", src.Name(), "ticker", ticker, "error", err)
			errs = append(errs, err)
			continue
		}
		used = append(used, src.Name())
		for _, a := range items {
			key := strings.ToLower(strings.TrimSpace(a.Title))
			if key == "" || seen[key] || a.PublishedAt.After(to) {
				continue
			}
			seen[key] = true
			articles = append(articles, a)
		}
	}
	if len(articles) == 0 {
		if len(errs) == 0 {
			errs = append(errs, fmt.Errorf("no articles between %s", FormatDateRange(from, to)))
		}
		return nil, unavailable(consts.AnalystNews, tried, errs)
	}
	sort.SliceStable(articles, func(i, j int) bool { return articles[i].PublishedAt.After(articles[j].PublishedAt) })
	if len(articles) > maxNewsItems {
		articles = articles[:maxNewsItems]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "News about %s, %s.\n", ticker, FormatDateRange(from, to))
	for _, a := range articles {
		fmt.Fprintf(&b, "\n### %s (%s, %s)\n%s\n", a.Title, a.Source, a.PublishedAt.Format(dateLayout), strings.TrimSpace(a.Content))
	}
	return &RawData{Kind: consts.AnalystNews, Source: strings.Join(used, ","), Body: strings.TrimRight(b.String(), "\n")}, nil
}

func (t *Toolkit) fetchSocial(ctx context.Context, ticker string, asOf time.Time) (*RawData, error) {
	to := endOfDay(asOf)
	from := to.AddDate(0, 0, -newsLookbackDays)

	var errs []error
	var tried []string
	for _, src := range t.sources.Social {
		tried = append(tried, src.Name())
		posts, err := src.Posts(ctx, ticker, from, to)
		if err != nil {
			t.logger.Warn("social source failed", "source", src.Name(), "ticker", ticker, "error", err)
			errs = append(errs, err)
			continue
		}
		if len(posts) == 0 {
			errs = append(errs, fmt.Errorf("%s: no posts between %s", src.Name(), FormatDateRange(from, to)))
			continue
		}
		sort.SliceStable(posts, func(i, j int) bool { return posts[i].Score > posts[j].Score })
		if len(posts) > maxSocialItems {
			posts = posts[:maxSocialItems]
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Social media posts mentioning %s, %s.\n", ticker, FormatDateRange(from, to))
		for _, p := range posts {
			fmt.Fprintf(&b, "\n- r/%s (score %d, %d comments, %s): %s", p.Subreddit, p.Score, p.Comments, p.CreatedAt.Format(dateLayout), p.Title)
			if body := strings.TrimSpace(p.Content); body != "" {
				if len(body) > 400 {
					body = body[:400] + "..."
				}
				fmt.Fprintf(&b, "\n  %s", body)
			}
		}
		return &RawData{Kind: consts.AnalystSentiment, Source: src.Name(), Body: b.String()}, nil
	}
	return nil, unavailable(consts.AnalystSentiment, tried, errs)
}

func (t *Toolkit) fetchFundamentals(ctx context.Context, ticker string, asOf time.Time) (*RawData, error) {
	var errs []error
	var tried []string
	for _, src := range t.sources.Fundamentals {
		tried = append(tried, src.Name())
		body, err := src.Fundamentals(ctx, ticker, asOf)
		if err != nil {
			t.logger.Warn("fundamentals source failed", "source", src.Name(), "ticker", ticker, "error", err)
			errs = append(errs, err)
			continue
		}
		return &RawData{Kind: consts.AnalystFundamentals, Source: src.Name(), Body: body}, nil
	}
	return nil, unavailable(consts.AnalystFundamentals, tried, errs)
}

func unavailable(kind consts.AnalystKind, tried []string, errs []error) error {
	if len(tried) == 0 {
		return errors.NewDataUnavailableError(string(kind), "", fmt.Errorf("no provider configured"))
	}
	return errors.NewDataUnavailableError(string(kind), strings.Join(tried, ","), errors.Join(errs...))
}

// News adapts CompanyNews to NewsSource.
func (fc *FinnhubClient) News(ctx context.Context, symbol string, from, to time.Time) ([]NewsArticle, error) {
	return fc.CompanyNews(ctx, symbol, from, to)
}

// Fundamentals renders basic financials plus insider activity over the
// trailing quarter.
func (fc *FinnhubClient) Fundamentals(ctx context.Context, symbol string, asOf time.Time) (string, error) {
	fin, err := fc.BasicFinancials(ctx, symbol)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Basic financials for %s.\n\n", NormalizeSymbol(symbol))
	keys := make([]string, 0, len(fin.Metrics))
	for k := range fin.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %.4g\n", k, fin.Metrics[k])
	}

	to := endOfDay(asOf)
	from := to.AddDate(0, -3, 0)
	if sentiment, err := fc.InsiderSentiment(ctx, symbol, from, to); err == nil && len(sentiment) > 0 {
		b.WriteString("\nInsider sentiment (monthly share purchase ratio):\n")
		for _, s := range sentiment {
			fmt.Fprintf(&b, "- %04d-%02d: mspr %s, net change %d\n", s.Year, s.Month, s.MSPR.StringFixed(2), s.Change)
		}
	}
	if txs, err := fc.InsiderTransactions(ctx, symbol, from, to); err == nil && len(txs) > 0 {
		b.WriteString("\nInsider transactions:\n")
		for i, tx := range txs {
			if i == 10 {
				break
			}
			fmt.Fprintf(&b, "- %s %s %s %d @ %s\n", tx.TransactionDate.Format(dateLayout), tx.PersonName, tx.TransactionCode, tx.Change, tx.TransactionPrice.StringFixed(2))
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// News searches Google News for the ticker.
func (ns *NewsScraperClient) News(ctx context.Context, symbol string, from, to time.Time) ([]NewsArticle, error) {
	return ns.GoogleNews(ctx, GoogleNewsParams{Query: symbol + " stock", StartDate: from, EndDate: to})
}

// Posts searches the default subreddits for the ticker. A subreddit that
// fails is skipped unless every one fails.
func (rc *RedditClient) Posts(ctx context.Context, symbol string, from, to time.Time) ([]RedditPost, error) {
	var out []RedditPost
	var errs []error
	for _, sub := range defaultSubreddits {
		posts, err := rc.Search(ctx, sub, symbol, from, to, 25)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, posts...)
	}
	if len(errs) == len(defaultSubreddits) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
