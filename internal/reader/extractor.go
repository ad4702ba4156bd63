package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	log "github.com/sirupsen/logrus"
)

// TextExtractor 从已下载的页面中抽取正文，失败时调用方按“无正文”处理
type TextExtractor interface {
	Extract(ctx context.Context, pageURL string, page []byte) (string, error)
}

// ReadabilityExtractor 使用 go-readability 抽取正文 HTML，再转为展示文本
type ReadabilityExtractor struct{}

func (ReadabilityExtractor) Extract(_ context.Context, pageURL string, page []byte) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("readability: parse url: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(page), u)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	if text := DisplayText(article.Content); text != "" {
		return text, nil
	}
	return CleanText(article.TextContent), nil
}

// BrowserExtractor 调用 browser-scraper 服务，用无头浏览器渲染后抽取正文，
// 适用于依赖 JS 渲染的页面；不使用已下载的 page。
type BrowserExtractor struct {
	Endpoint string
	MaxChars int
	Client   *http.Client
}

func NewBrowserExtractor(endpoint string, timeout time.Duration) *BrowserExtractor {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &BrowserExtractor{
		Endpoint: strings.TrimRight(endpoint, "/"),
		MaxChars: 8000,
		Client:   &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	URL      string `json:"url"`
	MaxChars int    `json:"maxChars"`
}

type extractResponse struct {
	OK    bool   `json:"ok"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func (b *BrowserExtractor) Extract(ctx context.Context, pageURL string, _ []byte) (string, error) {
	body, _ := json.Marshal(extractRequest{URL: pageURL, MaxChars: b.MaxChars})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint+"/extract", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("browser extractor: %w", err)
	}
	defer resp.Body.Close()

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("browser extractor: decode response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return "", fmt.Errorf("browser extractor: %s", out.Error)
	}
	return CleanText(out.Text), nil
}

// NoopExtractor 不做抽取，正文总是回退到 feed 摘要
type NoopExtractor struct{}

func (NoopExtractor) Extract(context.Context, string, []byte) (string, error) {
	return "", nil
}

// ChainExtractor 依次尝试，返回第一个非空结果
type ChainExtractor []TextExtractor

func (c ChainExtractor) Extract(ctx context.Context, pageURL string, page []byte) (string, error) {
	var errs []error
	for _, ex := range c {
		text, err := ex.Extract(ctx, pageURL, page)
		if err != nil {
			log.WithField("url", pageURL).Debugf("extractor %T failed: %v", ex, err)
			errs = append(errs, err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	return "", errors.Join(errs...)
}

// NewExtractor 按配置名选择抽取器：readability | browser | none
func NewExtractor(kind, browserURL string) (TextExtractor, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "readability":
		return ReadabilityExtractor{}, nil
	case "browser":
		if browserURL == "" {
			return nil, errors.New("browser extractor requires BROWSER_EXTRACTOR_URL")
		}
		// 浏览器服务不可用时仍可用 readability 兜底
		return ChainExtractor{NewBrowserExtractor(browserURL, 0), ReadabilityExtractor{}}, nil
	case "none":
		return NoopExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown extractor %q", kind)
	}
}
