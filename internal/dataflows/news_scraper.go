package dataflows

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const googleNewsBaseURL = "https://news.google.com"

// NewsScraperClient scrapes Google News search results.
type NewsScraperClient struct {
	client  *resty.Client
	cache   *CacheManager
	retry   *RetryConfig
	baseURL string
}

func NewNewsScraperClient(cacheDir string, cacheEnabled bool) *NewsScraperClient {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; cortexdesk/1.0)")

	return &NewsScraperClient{
		client:  client,
		cache:   NewCacheManager(filepath.Join(cacheDir, "news_scraper"), 2*time.Hour, cacheEnabled),
		retry:   DefaultRetryConfig(),
		baseURL: googleNewsBaseURL,
	}
}

func (ns *NewsScraperClient) Name() string { return "google_news" }

// SetBaseURL points the scraper at another host. Used in tests.
func (ns *NewsScraperClient) SetBaseURL(u string) { ns.baseURL = strings.TrimRight(u, "/") }

type GoogleNewsParams struct {
	Query      string    `json:"query"`
	Language   string    `json:"language"`
	Country    string    `json:"country"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	MaxResults int       `json:"max_results"`
}

func (ns *NewsScraperClient) GoogleNews(ctx context.Context, params GoogleNewsParams) ([]NewsArticle, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if params.Language == "" {
		params.Language = "en"
	}
	if params.Country == "" {
		params.Country = "US"
	}
	if params.MaxResults <= 0 {
		params.MaxResults = 20
	}

	var cached []NewsArticle
	if ns.cache.Get("google_news", "search", params, &cached) {
		return cached, nil
	}

	searchURL := ns.buildSearchURL(params)
	var result []NewsArticle
	err := WithRetry(ctx, ns.retry, func() error {
		resp, err := ns.client.R().SetContext(ctx).Get(searchURL)
		if err != nil {
			return fmt.Errorf("fetch google news: %w", err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("google news: status %d", resp.StatusCode())
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
		if err != nil {
			return fmt.Errorf("parse google news html: %w", err)
		}
		result = ns.parseResults(doc, params.EndDate)
		if len(result) > params.MaxResults {
			result = result[:params.MaxResults]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = ns.cache.Set("google_news", "search", params, result)
	return result, nil
}

func (ns *NewsScraperClient) buildSearchURL(params GoogleNewsParams) string {
	query := params.Query
	if !params.StartDate.IsZero() && !params.EndDate.IsZero() {
		query += fmt.Sprintf(" after:%s before:%s",
			params.StartDate.Format(dateLayout),
			params.EndDate.AddDate(0, 0, 1).Format(dateLayout))
	}
	return fmt.Sprintf("%s/search?q=%s&hl=%s&gl=%s&ceid=%s:%s",
		ns.baseURL, url.QueryEscape(query), params.Language, params.Country, params.Country, params.Language)
}

// parseResults extracts articles from the search page. Relative times are
// resolved against ref.
func (ns *NewsScraperClient) parseResults(doc *goquery.Document, ref time.Time) []NewsArticle {
	var articles []NewsArticle
	doc.Find("article").Each(func(i int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("h3").Text())
		if title == "" {
			title = strings.TrimSpace(s.Find("h4").Text())
		}
		if title == "" {
			return
		}
		href, ok := s.Find("a").First().Attr("href")
		if !ok {
			return
		}

		source := strings.TrimSpace(s.Find("div[data-n-tid]").Text())
		if source == "" {
			source = "Google News"
		}

		var published time.Time
		if dt, ok := s.Find("time").Attr("datetime"); ok {
			published, _ = time.Parse(time.RFC3339, dt)
		}
		if published.IsZero() && !ref.IsZero() {
			published = ref
		}

		articles = append(articles, NewsArticle{
			Title:       title,
			Content:     strings.TrimSpace(s.Find("span").Last().Text()),
			URL:         ns.cleanURL(href),
			Source:      source,
			PublishedAt: published.UTC(),
			Metadata:    map[string]string{"scraper": "google_news"},
		})
	})
	return articles
}

// cleanURL unwraps redirect links and makes relative links absolute.
func (ns *NewsScraperClient) cleanURL(href string) string {
	if _, after, ok := strings.Cut(href, "url="); ok {
		if decoded, err := url.QueryUnescape(after); err == nil {
			return decoded
		}
	}
	if strings.HasPrefix(href, "./") {
		return ns.baseURL + href[1:]
	}
	if strings.HasPrefix(href, "/") {
		return ns.baseURL + href
	}
	return href
}
