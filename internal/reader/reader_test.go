package reader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/NewsTicker/internal/storage"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string]storage.CachedContent
	saves   int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]storage.CachedContent{}}
}

func (m *memCache) GetFreshContent(_ context.Context, url string, maxAge time.Duration, now time.Time) (*storage.CachedContent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.entries[url]
	if !ok || now.Sub(c.FetchedAt) > maxAge {
		return nil, false, nil
	}
	return &c, true, nil
}

func (m *memCache) SaveContent(_ context.Context, c storage.CachedContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.entries[c.URL] = c
	return nil
}

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) Extract(context.Context, string, []byte) (string, error) {
	return s.text, s.err
}

const articlePage = `<html><head>
<meta property="og:image" content="https://img.example.com/og.jpg">
<meta name="twitter:image" content="https://img.example.com/tw.jpg">
</head><body><p>hello</p></body></html>`

func pageServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, readerUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestFetcher(cache Cache, ex TextExtractor, now time.Time) *Fetcher {
	f := NewFetcher(cache, ex, 5*time.Second)
	f.Now = func() time.Time { return now }
	return f
}

var longText = strings.Repeat("Dette er en lang artikkeltekst. ", 10)

func TestFetchExtractsAndCaches(t *testing.T) {
	srv, hits := pageServer(t, http.StatusOK, articlePage)
	cache := newMemCache()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newTestFetcher(cache, stubExtractor{text: longText}, now)

	res := f.Fetch(context.Background(), srv.URL, "summary", "")
	assert.Equal(t, strings.TrimSpace(longText), res.Text)
	assert.Equal(t, "https://img.example.com/og.jpg", res.ImageURL)
	assert.False(t, res.UsedFallback)
	assert.False(t, res.FromCache)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))

	// 第二次命中缓存，不再请求网络
	res = f.Fetch(context.Background(), srv.URL, "summary", "")
	assert.True(t, res.FromCache)
	assert.Equal(t, strings.TrimSpace(longText), res.Text)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
	assert.Equal(t, 1, cache.saves)
}

func TestFetchStaleCacheRefetches(t *testing.T) {
	srv, hits := pageServer(t, http.StatusOK, articlePage)
	cache := newMemCache()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.entries[srv.URL] = storage.CachedContent{URL: srv.URL, Text: "old", FetchedAt: now.Add(-25 * time.Hour)}

	res := newTestFetcher(cache, stubExtractor{text: longText}, now).Fetch(context.Background(), srv.URL, "", "")
	assert.False(t, res.FromCache)
	assert.NotEqual(t, "old", res.Text)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
	assert.Equal(t, now, cache.entries[srv.URL].FetchedAt)
}

func TestFetchHTTPErrorFallsBack(t *testing.T) {
	srv, _ := pageServer(t, http.StatusInternalServerError, "boom")
	cache := newMemCache()

	res := newTestFetcher(cache, stubExtractor{text: longText}, time.Now()).
		Fetch(context.Background(), srv.URL, "rss summary", "https://img.example.com/rss.jpg")
	assert.Equal(t, Result{Text: "rss summary", ImageURL: "https://img.example.com/rss.jpg", UsedFallback: true}, res)
	assert.Zero(t, cache.saves)
}

func TestFetchUnreachableFallsBack(t *testing.T) {
	res := newTestFetcher(nil, stubExtractor{text: longText}, time.Now()).
		Fetch(context.Background(), "http://127.0.0.1:1/nothing", "rss summary", "")
	assert.True(t, res.UsedFallback)
	assert.Equal(t, "rss summary", res.Text)
}

func TestFetchShortTextUsesSummary(t *testing.T) {
	srv, _ := pageServer(t, http.StatusOK, articlePage)
	cache := newMemCache()

	res := newTestFetcher(cache, stubExtractor{text: "too short"}, time.Now()).
		Fetch(context.Background(), srv.URL, "rss summary", "https://img.example.com/rss.jpg")
	assert.Equal(t, "rss summary", res.Text)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, "https://img.example.com/rss.jpg", res.ImageURL, "feed image wins over og:image")
	assert.Equal(t, 1, cache.saves, "non-empty extraction is cached")

	// 没有摘要时保留抽取到的短文本
	res = newTestFetcher(newMemCache(), stubExtractor{text: "too short"}, time.Now()).
		Fetch(context.Background(), srv.URL+"/other", "", "")
	assert.Equal(t, "too short", res.Text)
	assert.False(t, res.UsedFallback)
}

func TestFetchEmptyExtractionNotCached(t *testing.T) {
	srv, _ := pageServer(t, http.StatusOK, articlePage)
	cache := newMemCache()

	for _, ex := range []TextExtractor{NoopExtractor{}, stubExtractor{err: errors.New("parse failed")}} {
		res := newTestFetcher(cache, ex, time.Now()).Fetch(context.Background(), srv.URL, "rss summary", "")
		assert.Equal(t, "rss summary", res.Text)
		assert.True(t, res.UsedFallback)
	}
	assert.Zero(t, cache.saves)
}

func TestMetaImageTwitterFallback(t *testing.T) {
	body := `<html><head><meta name="twitter:image" content=" https://img.example.com/tw.jpg "></head></html>`
	assert.Equal(t, "https://img.example.com/tw.jpg", metaImage([]byte(body)))
	assert.Equal(t, "", metaImage([]byte("<html></html>")))
}

func TestFetchCanceledContext(t *testing.T) {
	srv, hits := pageServer(t, http.StatusOK, articlePage)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestFetcher(nil, stubExtractor{text: longText}, time.Now()).Fetch(ctx, srv.URL, "s", "")
	assert.True(t, res.UsedFallback)
	assert.Zero(t, atomic.LoadInt32(hits))
}

func TestBrowserExtractor(t *testing.T) {
	var got extractRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, jsonDecode(r, &got))
		if got.URL == "https://example.com/bad" {
			_, _ = w.Write([]byte(`{"ok":false,"error":"empty content"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"text":"Avsnitt [1]\n\n\n\nAvsnitt 2"}`))
	}))
	defer srv.Close()

	ex := NewBrowserExtractor(srv.URL+"/", time.Second)
	text, err := ex.Extract(context.Background(), "https://example.com/a", nil)
	require.NoError(t, err)
	assert.Equal(t, "Avsnitt \\[1\\]\n\nAvsnitt 2", text)
	assert.Equal(t, 8000, got.MaxChars)

	_, err = ex.Extract(context.Background(), "https://example.com/bad", nil)
	assert.ErrorContains(t, err, "empty content")
}

func TestChainExtractor(t *testing.T) {
	chain := ChainExtractor{stubExtractor{err: errors.New("down")}, stubExtractor{text: "  "}, stubExtractor{text: "ok"}}
	text, err := chain.Extract(context.Background(), "u", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	text, err = ChainExtractor{stubExtractor{err: errors.New("down")}}.Extract(context.Background(), "u", nil)
	assert.Error(t, err)
	assert.Empty(t, text)
}

func TestNewExtractor(t *testing.T) {
	ex, err := NewExtractor("", "")
	require.NoError(t, err)
	assert.IsType(t, ReadabilityExtractor{}, ex)

	ex, err = NewExtractor("none", "")
	require.NoError(t, err)
	assert.IsType(t, NoopExtractor{}, ex)

	ex, err = NewExtractor("browser", "http://scraper:4000")
	require.NoError(t, err)
	assert.IsType(t, ChainExtractor{}, ex)

	_, err = NewExtractor("browser", "")
	assert.Error(t, err)
	_, err = NewExtractor("magic", "")
	assert.Error(t, err)
}

func TestReadabilityExtractor(t *testing.T) {
	para := "Norges Bank holdt renten uendret torsdag, og sentralbanksjefen varslet at renten trolig blir liggende på dagens nivå en god stund fremover. "
	html := `<html><head><title>Renten</title></head><body>
<nav><a href="/">Forside</a></nav>
<article><h1>Renten står stille</h1>
<p>` + strings.Repeat(para, 3) + `</p>
<p>` + strings.Repeat(para, 3) + `</p>
<p>` + strings.Repeat(para, 3) + `</p>
</article><footer>Kontakt oss</footer></body></html>`

	text, err := ReadabilityExtractor{}.Extract(context.Background(), "https://example.com/renten", []byte(html))
	require.NoError(t, err)
	assert.Contains(t, text, "Norges Bank holdt renten uendret")
	assert.NotContains(t, text, "<p>")
}

func TestFetchSurvivesCallerCancelMidDownload(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articlePage))
	}))
	t.Cleanup(srv.Close)

	cache := newMemCache()
	f := newTestFetcher(cache, stubExtractor{text: longText}, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		done <- f.Fetch(ctx, srv.URL, "rss summary", "")
	}()

	<-started
	cancel()
	close(release)

	select {
	case res := <-done:
		assert.False(t, res.UsedFallback, "download keeps going after the first caller leaves")
		assert.Equal(t, strings.TrimSpace(longText), res.Text)
		assert.Equal(t, "https://img.example.com/og.jpg", res.ImageURL)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not return")
	}
	assert.Equal(t, 1, cache.saves)
}
