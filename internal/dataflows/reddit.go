package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const redditBaseURL = "https://www.reddit.com"

// RedditClient searches public subreddit listings.
type RedditClient struct {
	client  *resty.Client
	cache   *CacheManager
	retry   *RetryConfig
	baseURL string
}

func NewRedditClient(userAgent, cacheDir string, cacheEnabled bool) *RedditClient {
	if userAgent == "" {
		userAgent = "cortexdesk/1.0"
	}
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", userAgent)

	return &RedditClient{
		client:  client,
		cache:   NewCacheManager(filepath.Join(cacheDir, "reddit"), time.Hour, cacheEnabled),
		retry:   DefaultRetryConfig(),
		baseURL: redditBaseURL,
	}
}

func (rc *RedditClient) Name() string { return "reddit" }

func (rc *RedditClient) SetBaseURL(u string) { rc.baseURL = strings.TrimRight(u, "/") }

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID          string  `json:"id"`
				Title       string  `json:"title"`
				Selftext    string  `json:"selftext"`
				Subreddit   string  `json:"subreddit"`
				Score       int     `json:"score"`
				NumComments int     `json:"num_comments"`
				CreatedUTC  float64 `json:"created_utc"`
				Stickied    bool    `json:"stickied"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Search returns posts in subreddit matching query created in [from, to],
// highest score first as returned by the listing.
func (rc *RedditClient) Search(ctx context.Context, subreddit, query string, from, to time.Time, limit int) ([]RedditPost, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	params := map[string]any{
		"subreddit": subreddit,
		"query":     query,
		"from":      from.Format(dateLayout),
		"to":        to.Format(dateLayout),
		"limit":     limit,
	}

	var cached []RedditPost
	if rc.cache.Get("reddit", "search", params, &cached) {
		return cached, nil
	}

	searchURL := fmt.Sprintf("%s/r/%s/search.json?q=%s&restrict_sr=1&sort=top&t=month&limit=%d",
		rc.baseURL, url.PathEscape(subreddit), url.QueryEscape(query), limit)

	var listing redditListing
	err := WithRetry(ctx, rc.retry, func() error {
		resp, err := rc.client.R().SetContext(ctx).Get(searchURL)
		if err != nil {
			return fmt.Errorf("search reddit: %w", err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("reddit: status %d", resp.StatusCode())
		}
		return json.Unmarshal(resp.Body(), &listing)
	})
	if err != nil {
		return nil, err
	}

	var posts []RedditPost
	for _, child := range listing.Data.Children {
		d := child.Data
		created := time.Unix(int64(d.CreatedUTC), 0).UTC()
		if d.Stickied || created.Before(from) || created.After(to) {
			continue
		}
		posts = append(posts, RedditPost{
			ID:        d.ID,
			Title:     d.Title,
			Content:   d.Selftext,
			Subreddit: d.Subreddit,
			Score:     d.Score,
			Comments:  d.NumComments,
			CreatedAt: created,
		})
	}

	_ = rc.cache.Set("reddit", "search", params, posts)
	return posts, nil
}
