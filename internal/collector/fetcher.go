package collector

import (
	"context"
	"fmt"
	"time"
)

// RawItem 从 feed 中解析出的一条标准化条目
type RawItem struct {
	// DedupKey 依次取 entry id、guid、link 中第一个非空值
	DedupKey string
	Title    string
	Link     string
	// Summary 最多保留 maxSummaryRunes 个字符
	Summary     string
	PublishedAt *time.Time
	ImageURL    string

	Author     string
	Categories []string
}

// Fetcher 抽象一个 feed 拉取器，每次调用互不影响
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]RawItem, error)
}

// FeedFetchError 单个订阅源拉取/解析失败，调用方按源隔离处理
type FeedFetchError struct {
	URL string
	Err error
}

func (e *FeedFetchError) Error() string {
	return fmt.Sprintf("fetch feed %s: %v", e.URL, e.Err)
}

func (e *FeedFetchError) Unwrap() error {
	return e.Err
}
