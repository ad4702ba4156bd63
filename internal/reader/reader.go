package reader

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/LJTian/NewsTicker/internal/metrics"
	"github.com/LJTian/NewsTicker/internal/storage"
)

const (
	readerUserAgent = "NewsTickerReader/1.0"
	minTextRunes    = 200
	// CacheMaxAge 正文缓存有效期，过期视为不存在
	CacheMaxAge = 24 * time.Hour
)

// Result 一次正文获取的结果
type Result struct {
	Text         string `json:"text"`
	ImageURL     string `json:"imageUrl,omitempty"`
	UsedFallback bool   `json:"usedFallback"`
	FromCache    bool   `json:"fromCache"`
}

// Cache 正文缓存，由 storage.Store 实现
type Cache interface {
	GetFreshContent(ctx context.Context, url string, maxAge time.Duration, now time.Time) (*storage.CachedContent, bool, error)
	SaveContent(ctx context.Context, c storage.CachedContent) error
}

// Fetcher 按需抓取文章正文，带 24h 缓存；任何失败都回退到 feed 摘要
type Fetcher struct {
	Cache     Cache
	Extractor TextExtractor
	Timeout   time.Duration
	Now       func() time.Time

	group singleflight.Group
}

func NewFetcher(cache Cache, extractor TextExtractor, timeout time.Duration) *Fetcher {
	if extractor == nil {
		extractor = NoopExtractor{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		Cache:     cache,
		Extractor: extractor,
		Timeout:   timeout,
		Now:       time.Now,
	}
}

type page struct {
	text     string
	imageURL string
}

func (f *Fetcher) Fetch(ctx context.Context, url, fallbackSummary, fallbackImage string) Result {
	logger := log.WithField("url", url)

	if c, ok := f.cached(ctx, url); ok {
		metrics.ContentFetches.WithLabelValues("cache").Inc()
		img := c.ImageURL
		if img == "" {
			img = fallbackImage
		}
		return Result{Text: c.Text, ImageURL: img, FromCache: true}
	}

	if err := ctx.Err(); err != nil {
		metrics.ContentFetches.WithLabelValues("fallback").Inc()
		return Result{Text: fallbackSummary, ImageURL: fallbackImage, UsedFallback: true}
	}

	// 同一 URL 并发请求只抓取一次，下载不随首个调用方取消，总时长受 Timeout 约束
	v, err, _ := f.group.Do(url, func() (any, error) {
		dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*f.Timeout)
		defer cancel()
		return f.download(dlCtx, url)
	})
	if err != nil {
		logger.Debugf("fetch article failed, use summary: %v", err)
		metrics.ContentFetches.WithLabelValues("fallback").Inc()
		return Result{Text: fallbackSummary, ImageURL: fallbackImage, UsedFallback: true}
	}
	p := v.(page)

	res := Result{Text: p.text, ImageURL: fallbackImage}
	if res.ImageURL == "" {
		res.ImageURL = p.imageURL
	}
	if utf8.RuneCountInString(strings.TrimSpace(p.text)) < minTextRunes && fallbackSummary != "" {
		res.Text = fallbackSummary
		res.UsedFallback = true
	}

	if strings.TrimSpace(p.text) == "" {
		metrics.ContentFetches.WithLabelValues("fallback").Inc()
		return res
	}
	if f.Cache != nil {
		err := f.Cache.SaveContent(context.WithoutCancel(ctx), storage.CachedContent{
			URL:       url,
			Text:      res.Text,
			ImageURL:  res.ImageURL,
			FetchedAt: f.Now().UTC(),
		})
		if err != nil {
			logger.Warnf("save content cache failed: %v", err)
		}
	}
	if res.UsedFallback {
		metrics.ContentFetches.WithLabelValues("fallback").Inc()
	} else {
		metrics.ContentFetches.WithLabelValues("extracted").Inc()
	}
	return res
}

func (f *Fetcher) cached(ctx context.Context, url string) (*storage.CachedContent, bool) {
	if f.Cache == nil {
		return nil, false
	}
	c, ok, err := f.Cache.GetFreshContent(ctx, url, CacheMaxAge, f.Now().UTC())
	if err != nil {
		log.WithField("url", url).Warnf("read content cache failed: %v", err)
		return nil, false
	}
	return c, ok
}

// download 拉取页面（非 2xx 视为失败），再抽取正文与 og/twitter 配图
func (f *Fetcher) download(ctx context.Context, url string) (page, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return page{}, err
	}

	var p page
	p.imageURL = metaImage(body)

	exCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	text, err := f.Extractor.Extract(exCtx, url, body)
	if err != nil {
		log.WithField("url", url).Debugf("extract article text failed: %v", err)
		text = ""
	}
	p.text = strings.TrimSpace(text)
	return p, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := colly.NewCollector(
		colly.UserAgent(readerUserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(f.Timeout)

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, err
		}
	}
	if body == nil {
		return nil, errors.New("empty response")
	}
	return body, nil
}

// metaImage 依次查找 og:image 与 twitter:image
func metaImage(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	selectors := []string{
		`meta[property="og:image"]`,
		`meta[name="og:image"]`,
		`meta[name="twitter:image"]`,
		`meta[property="twitter:image"]`,
	}
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
