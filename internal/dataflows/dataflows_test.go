package dataflows

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/errors"
)

func TestValidateSymbol(t *testing.T) {
	for _, ok := range []string{"AAPL", " msft ", "BRK.B", "700.HK", "^GSPC"} {
		if err := ValidateSymbol(ok); err != nil {
			t.Fatalf("ValidateSymbol(%q) error: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "   ", "WAY-TOO-LONG-SYMBOL", "AA PL", "A;B"} {
		if err := ValidateSymbol(bad); err == nil {
			t.Fatalf("ValidateSymbol(%q) expected error", bad)
		}
	}
}

func TestCacheManagerRoundTrip(t *testing.T) {
	cm := NewCacheManager(t.TempDir(), time.Hour, true)
	key := map[string]string{"symbol": "ACME"}
	if err := cm.Set("src", "m", key, []string{"a", "b"}); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	var got []string
	if !cm.Get("src", "m", key, &got) || len(got) != 2 {
		t.Fatalf("expected cache hit, got %v", got)
	}
	if cm.Get("src", "other", key, &got) {
		t.Fatalf("unexpected hit for other method")
	}

	disabled := NewCacheManager(t.TempDir(), time.Hour, false)
	_ = disabled.Set("src", "m", key, []string{"a"})
	if disabled.Get("src", "m", key, &got) {
		t.Fatalf("disabled cache should miss")
	}
}

func TestWithRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	cfg := &RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 2 {
			return fmt.Errorf("flaky")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on 2nd call, got err=%v calls=%d", err, calls)
	}
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := WithRetry(ctx, DefaultRetryConfig(), func() error { calls++; return nil })
	if err == nil || calls != 0 {
		t.Fatalf("expected ctx error without calls, got err=%v calls=%d", err, calls)
	}
}

func series(closes ...float64) []Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		bars[i] = Bar{Date: start.AddDate(0, 0, i), Close: decimal.NewFromFloat(c)}
	}
	return bars
}

func TestComputeIndicatorsShortSeries(t *testing.T) {
	ind := ComputeIndicators(series(1, 2, 3))
	if !ind.LastClose.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("last close %s", ind.LastClose)
	}
	if ind.SMA50 != nil || ind.RSI14 != nil || ind.BollMiddle != nil {
		t.Fatalf("short series should leave long indicators empty")
	}
	if !strings.Contains(ind.Render(), "50 SMA: n/a") {
		t.Fatalf("render missing n/a: %s", ind.Render())
	}
}

func TestComputeIndicatorsRisingSeries(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	ind := ComputeIndicators(series(closes...))
	if ind.SMA50 == nil || !ind.SMA50.Equal(decimal.NewFromFloat(35.5)) {
		t.Fatalf("SMA50 = %v, want 35.5", ind.SMA50)
	}
	if ind.RSI14 == nil || !ind.RSI14.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("RSI of monotonic rise = %v, want 100", ind.RSI14)
	}
	if ind.MACD == nil || !ind.MACD.IsPositive() {
		t.Fatalf("MACD of rising series should be positive, got %v", ind.MACD)
	}
	if ind.BollUpper == nil || !ind.BollUpper.GreaterThan(*ind.BollLower) {
		t.Fatalf("bollinger bands inverted")
	}
}

type fakeBars struct {
	name string
	bars []Bar
	err  error
	got  time.Time
}

func (f *fakeBars) Name() string { return f.name }
func (f *fakeBars) Bars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	f.got = end
	return f.bars, f.err
}

type fakeNews struct {
	name  string
	items []NewsArticle
	err   error
}

func (f *fakeNews) Name() string { return f.name }
func (f *fakeNews) News(ctx context.Context, symbol string, from, to time.Time) ([]NewsArticle, error) {
	return f.items, f.err
}

func TestToolkitMarketFallsBackAcrossSources(t *testing.T) {
	primary := &fakeBars{name: "longport", err: fmt.Errorf("auth failed")}
	backup := &fakeBars{name: "yahoo", bars: series(10, 11, 12)}
	tk := NewToolkitWithSources(true, Sources{Bars: []BarSource{primary, backup}}, nil)

	asOf := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	raw, err := tk.Fetch(context.Background(), consts.AnalystMarket, "acme", asOf)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if raw.Source != "yahoo" || !strings.Contains(raw.Body, "ACME") {
		t.Fatalf("unexpected raw data %+v", raw)
	}
	if backup.got.Format(dateLayout) != "2024-05-10" {
		t.Fatalf("window should end at as-of date, got %s", backup.got)
	}
}

func TestToolkitMarketUnavailable(t *testing.T) {
	tk := NewToolkitWithSources(true, Sources{Bars: []BarSource{&fakeBars{name: "yahoo", err: fmt.Errorf("no bars")}}}, nil)
	_, err := tk.Fetch(context.Background(), consts.AnalystMarket, "ACME", time.Now())
	if !errors.Is(err, errors.ErrDataUnavailable) {
		t.Fatalf("expected data unavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "yahoo") {
		t.Fatalf("error should name the source: %v", err)
	}
}

func TestToolkitOfflineIsUnavailable(t *testing.T) {
	tk := NewToolkitWithSources(false, Sources{Bars: []BarSource{&fakeBars{name: "yahoo", bars: series(1)}}}, nil)
	for _, kind := range consts.AnalystKinds() {
		if _, err := tk.Fetch(context.Background(), kind, "ACME", time.Now()); !errors.Is(err, errors.ErrDataUnavailable) {
			t.Fatalf("%s: expected data unavailable offline, got %v", kind, err)
		}
	}
}

func TestToolkitNewsMergesAndFiltersFuture(t *testing.T) {
	asOf := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	a := &fakeNews{name: "finnhub", items: []NewsArticle{
		{Title: "ACME beats estimates", Source: "Wire", PublishedAt: asOf.Add(-24 * time.Hour)},
		{Title: "From the future", Source: "Wire", PublishedAt: asOf.AddDate(0, 0, 3)},
	}}
	b := &fakeNews{name: "google_news", items: []NewsArticle{
		{Title: "acme beats estimates ", Source: "Other", PublishedAt: asOf},
		{Title: "ACME opens plant", Source: "Other", PublishedAt: asOf},
	}}
	tk := NewToolkitWithSources(true, Sources{News: []NewsSource{a, b}}, nil)

	raw, err := tk.Fetch(context.Background(), consts.AnalystNews, "ACME", asOf)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if strings.Contains(raw.Body, "future") {
		t.Fatalf("articles after as-of must be dropped")
	}
	if strings.Count(strings.ToLower(raw.Body), "beats estimates") != 1 {
		t.Fatalf("duplicate titles should merge:\n%s", raw.Body)
	}
	if raw.Source != "finnhub,google_news" {
		t.Fatalf("source %q", raw.Source)
	}
}

func TestToolkitUnknownKind(t *testing.T) {
	tk := NewToolkitWithSources(true, Sources{}, nil)
	if _, err := tk.Fetch(context.Background(), consts.AnalystKind("astrology"), "ACME", time.Now()); !errors.Is(err, errors.ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func TestFinnhubCompanyNews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/company-news" || r.URL.Query().Get("token") != "k" || r.URL.Query().Get("symbol") != "ACME" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `[{"headline":"old","datetime":1700000000,"source":"A"},{"headline":"new","datetime":1710000000,"source":"B"}]`)
	}))
	defer srv.Close()

	fc := NewFinnhubClient("k", "", false)
	fc.SetBaseURL(srv.URL)
	items, err := fc.CompanyNews(context.Background(), "acme", time.Now().AddDate(0, 0, -7), time.Now())
	if err != nil {
		t.Fatalf("CompanyNews error: %v", err)
	}
	if len(items) != 2 || items[0].Title != "new" {
		t.Fatalf("expected newest first, got %+v", items)
	}
}

func TestFinnhubRequiresKey(t *testing.T) {
	fc := NewFinnhubClient("", "", false)
	if _, err := fc.CompanyNews(context.Background(), "ACME", time.Now(), time.Now()); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestGoogleNewsParsesArticles(t *testing.T) {
	page := `<html><body>
<article><h3>ACME rallies</h3><a href="./articles/1">x</a><div data-n-tid="1">Daily Wire</div><time datetime="2024-05-09T12:00:00Z">1 day ago</time><span>snippet</span></article>
<article><a href="/nowhere">no title</a></article>
</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	ns := NewNewsScraperClient("", false)
	ns.SetBaseURL(srv.URL)
	items, err := ns.GoogleNews(context.Background(), GoogleNewsParams{Query: "ACME stock"})
	if err != nil {
		t.Fatalf("GoogleNews error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 article, got %d", len(items))
	}
	a := items[0]
	if a.Title != "ACME rallies" || a.Source != "Daily Wire" || a.URL != srv.URL+"/articles/1" {
		t.Fatalf("unexpected article %+v", a)
	}
	if a.PublishedAt.Format(dateLayout) != "2024-05-09" {
		t.Fatalf("published %s", a.PublishedAt)
	}
}

func TestRedditPostsWindow(t *testing.T) {
	asOf := time.Date(2024, 5, 10, 23, 0, 0, 0, time.UTC)
	in := asOf.Add(-24 * time.Hour).Unix()
	out := asOf.AddDate(0, 0, -30).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":{"children":[
{"data":{"id":"1","title":"ACME to the moon","subreddit":"stocks","score":50,"created_utc":%d}},
{"data":{"id":"2","title":"old post","subreddit":"stocks","score":90,"created_utc":%d}},
{"data":{"id":"3","title":"pinned","subreddit":"stocks","score":99,"created_utc":%d,"stickied":true}}]}}`, in, out, in)
	}))
	defer srv.Close()

	rc := NewRedditClient("", "", false)
	rc.SetBaseURL(srv.URL)
	posts, err := rc.Search(context.Background(), "stocks", "ACME", asOf.AddDate(0, 0, -7), asOf, 25)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "1" {
		t.Fatalf("expected only the in-window post, got %+v", posts)
	}
}

func TestLongportSymbol(t *testing.T) {
	if got := longportSymbol("aapl"); got != "AAPL.US" {
		t.Fatalf("got %s", got)
	}
	if got := longportSymbol("700.HK"); got != "700.HK" {
		t.Fatalf("got %s", got)
	}
}
