package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// 正文抽取服务：用 headless Chrome 渲染页面后取正文，供 reader.BrowserExtractor 调用

const (
	defaultMaxChars = 2000
	maxMaxChars     = 8000
)

type extractRequest struct {
	URL      string `json:"url"`
	MaxChars int    `json:"maxChars"`
}

type extractResponse struct {
	OK    bool   `json:"ok"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

type pageExtractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// chromeExtractor 整个进程复用一个 headless 实例，每个请求开一个新标签页
type chromeExtractor struct {
	browserCtx context.Context
	timeout    time.Duration
}

func (e *chromeExtractor) Extract(ctx context.Context, url string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(e.browserCtx)
	defer cancelTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, e.timeout)
	defer cancel()
	// 调用方断开时提前结束
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var text string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(extractJS, &text),
	)
	return text, err
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(),
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) NewsTickerReader/1.0"),
		)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	// 预热浏览器，避免首个请求耗时过长
	if err := chromedp.Run(browserCtx); err != nil {
		log.Warnf("warmup chromedp failed: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	registerRoutes(r, &chromeExtractor{browserCtx: browserCtx, timeout: 20 * time.Second})

	addr := ":" + getEnv("PORT", "4000")
	log.Printf("browser-scraper listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("http server error: %v", err)
	}
}

func registerRoutes(r *gin.Engine, ex pageExtractor) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/extract", func(c *gin.Context) {
		var req extractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, extractResponse{Error: "invalid json"})
			return
		}
		req.URL = strings.TrimSpace(req.URL)
		if req.URL == "" {
			c.JSON(http.StatusBadRequest, extractResponse{Error: "url is required"})
			return
		}
		if req.MaxChars <= 0 || req.MaxChars > maxMaxChars {
			req.MaxChars = defaultMaxChars
		}

		text, err := ex.Extract(c.Request.Context(), req.URL)
		if err == nil {
			text = trimWhitespace(text)
			if text == "" {
				err = errors.New("empty content")
			}
		}
		if err != nil {
			log.WithField("url", req.URL).Warnf("extract error: %v", err)
			c.JSON(http.StatusOK, extractResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, extractResponse{OK: true, Text: truncate(text, req.MaxChars)})
	})
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// truncate rune 级截断并追加省略号
func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}

func trimWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}

// extractJS 优先在常见正文容器里取文本（含挪威新闻站点的结构），找不到时取全页较长段落
const extractJS = `(function () {
  var selectors = [
    "article [itemprop='articleBody']",
    "article",
    "main article",
    "div.article-body",
    "div.article-content",
    "div#article-content",
    "section.article-body",
    "main",
    "div#content"
  ];

  var text = "";
  for (var i = 0; i < selectors.length; i++) {
    var el = document.querySelector(selectors[i]);
    text = el ? (el.innerText || "").trim() : "";
    if (text.length > 200) break;
  }

  if (text.length < 200) {
    var nodes = Array.prototype.slice.call(document.querySelectorAll("p"));
    var pieces = [];
    for (var j = 0; j < nodes.length; j++) {
      var t = (nodes[j].innerText || "").trim();
      if (t.length >= 40) pieces.push(t);
      if (pieces.join("\n\n").length > 8000) break;
    }
    text = pieces.join("\n\n");
  }

  return (text || "").replace(/[ \t]+\n/g, "\n").trim();
})();`
