package collector

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	log "github.com/sirupsen/logrus"
)

const (
	feedUserAgent   = "NewsTickerBot/1.0"
	maxSummaryRunes = 2000
)

// FeedClient 通过 gofeed 拉取并解析 RSS/Atom/JSON feed
type FeedClient struct {
	Timeout time.Duration
	// Retries 为网络类错误的额外重试次数，0 表示只尝试一次
	Retries int
	Client  *http.Client
}

func NewFeedClient(timeout time.Duration, retries int) *FeedClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &FeedClient{
		Timeout: timeout,
		Retries: retries,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (c *FeedClient) Fetch(ctx context.Context, url string) ([]RawItem, error) {
	var feed *gofeed.Feed

	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		defer cancel()

		// gofeed.Parser 不是并发安全的，每次请求新建
		parser := gofeed.NewParser()
		parser.UserAgent = feedUserAgent
		parser.Client = c.Client

		f, err := parser.ParseURLWithContext(url, reqCtx)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		feed = f
		return nil
	}

	var b backoff.BackOff = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(c.Retries, 0)))
	b = backoff.WithContext(b, ctx)
	notify := func(err error, wait time.Duration) {
		log.WithField("url", url).Warnf("fetch feed failed, retry in %s: %v", wait, err)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, &FeedFetchError{URL: url, Err: err}
	}

	return ItemsFromFeed(feed), nil
}

// retryable 仅对网络错误和 5xx 重试，解析错误与 4xx 直接失败
func retryable(err error) bool {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return false
	}
	// *url.Error 等网络错误都实现了 Timeout()
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr)
}

// ItemsFromFeed 把已解析的 feed 转为 RawItem，跳过缺少标题或链接的条目
func ItemsFromFeed(feed *gofeed.Feed) []RawItem {
	if feed == nil {
		return nil
	}
	items := make([]RawItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		title := strings.TrimSpace(it.Title)
		link := strings.TrimSpace(it.Link)
		if title == "" || link == "" {
			continue
		}

		summary := it.Description
		if summary == "" {
			summary = it.Content
		}

		raw := RawItem{
			DedupKey:    dedupKey(it, link),
			Title:       title,
			Link:        link,
			Summary:     truncateRunes(summary, maxSummaryRunes),
			PublishedAt: publishedAt(it),
			ImageURL:    imageURL(it),
			Categories:  it.Categories,
		}
		if len(it.Authors) > 0 && it.Authors[0] != nil {
			raw.Author = it.Authors[0].Name
		}
		items = append(items, raw)
	}
	return items
}

// dedupKey gofeed 已将 Atom id 与 RSS guid 统一放在 GUID 中
func dedupKey(it *gofeed.Item, link string) string {
	if guid := strings.TrimSpace(it.GUID); guid != "" {
		return guid
	}
	return link
}

func publishedAt(it *gofeed.Item) *time.Time {
	var t *time.Time
	switch {
	case it.PublishedParsed != nil:
		t = it.PublishedParsed
	case it.UpdatedParsed != nil:
		t = it.UpdatedParsed
	default:
		return nil
	}
	utc := t.UTC()
	return &utc
}

// imageURL 优先级：media:content → media:thumbnail → 图片类型 enclosure → 条目自带 image
func imageURL(it *gofeed.Item) string {
	if u := mediaURL(it.Extensions, "content"); u != "" {
		return u
	}
	if u := mediaURL(it.Extensions, "thumbnail"); u != "" {
		return u
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(strings.ToLower(enc.Type), "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	return ""
}

// mediaURL 查找 media:<name> 的 url 属性，同时兼容包在 media:group 里的写法
func mediaURL(exts ext.Extensions, name string) string {
	media, ok := exts["media"]
	if !ok {
		return ""
	}
	for _, e := range media[name] {
		if u := strings.TrimSpace(e.Attrs["url"]); u != "" {
			return u
		}
	}
	for _, g := range media["group"] {
		for _, e := range g.Children[name] {
			if u := strings.TrimSpace(e.Attrs["url"]); u != "" {
				return u
			}
		}
	}
	return ""
}

// truncateRunes 按 rune 截断，避免截断多字节字符
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
