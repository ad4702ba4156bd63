package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/LJTian/NewsTicker/internal/collector"
	"github.com/LJTian/NewsTicker/internal/metrics"
	"github.com/LJTian/NewsTicker/internal/processor"
	"github.com/LJTian/NewsTicker/internal/reader"
	"github.com/LJTian/NewsTicker/internal/rotation"
	"github.com/LJTian/NewsTicker/internal/settings"
	"github.com/LJTian/NewsTicker/internal/storage"
)

// Store 引擎用到的存储能力，由 storage.Store 实现
type Store interface {
	ListEnabledSources(ctx context.Context) ([]storage.Source, error)
	ListEnabledCategories(ctx context.Context) ([]storage.Category, error)
	InsertArticleIfAbsent(ctx context.Context, a *storage.Article) (bool, error)
	PruneSourceArticles(ctx context.Context, sourceName string, keep []string) (int64, error)
	RankedArticles(ctx context.Context, minScore float64, limit int) ([]storage.Article, error)
}

type ConfigLoader interface {
	Load(ctx context.Context) (settings.EngineConfig, error)
}

type ContentReader interface {
	Fetch(ctx context.Context, url, fallbackSummary, fallbackImage string) reader.Result
}

// RankedItem 展示端轮播使用的条目快照
type RankedItem struct {
	ID          uint       `json:"id"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	SourceName  string     `json:"sourceName"`
	Summary     string     `json:"summary"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	Score       float64    `json:"score"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Engine 持有一次采集所需的全部依赖与轮播状态
type Engine struct {
	store    Store
	config   ConfigLoader
	feeds    collector.Fetcher
	content  ContentReader
	rotation *rotation.State[RankedItem]

	// Workers 同时拉取的 feed 数
	Workers int
	Now     func() time.Time

	cycles singleflight.Group

	mu  sync.RWMutex
	cfg settings.EngineConfig
}

func New(store Store, config ConfigLoader, feeds collector.Fetcher, content ContentReader) *Engine {
	return &Engine{
		store:    store,
		config:   config,
		feeds:    feeds,
		content:  content,
		rotation: rotation.New[RankedItem](),
		Workers:  4,
		Now:      time.Now,
		cfg:      settings.Defaults(),
	}
}

// TriggerCycle 同步执行一轮采集。并发触发会合并：后到的调用者等待并拿到同一轮的结果。
func (e *Engine) TriggerCycle(ctx context.Context) CycleResult {
	v, _, _ := e.cycles.Do("cycle", func() (any, error) {
		// 一轮采集总是跑完，不随调用方取消；单个请求各自有超时
		return e.runCycle(context.WithoutCancel(ctx)), nil
	})
	return v.(CycleResult)
}

// TriggerAsync 后台执行一轮采集，结果通过 channel 返回
func (e *Engine) TriggerAsync(ctx context.Context) <-chan CycleResult {
	ch := make(chan CycleResult, 1)
	go func() {
		defer close(ch)
		ch <- e.TriggerCycle(ctx)
	}()
	return ch
}

// Config 返回最近一次加载的引擎参数
func (e *Engine) Config() settings.EngineConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// loadConfig 读取最新配置；读取失败时沿用上一次的值
func (e *Engine) loadConfig(ctx context.Context) settings.EngineConfig {
	cfg, err := e.config.Load(ctx)
	if err != nil {
		log.Warnf("load engine config failed, keep previous: %v", err)
		return e.Config()
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return cfg
}

type fetchResult struct {
	items []collector.RawItem
	err   error
}

func (e *Engine) runCycle(ctx context.Context) (res CycleResult) {
	start := e.Now()
	began := time.Now()
	log.Println("start aggregation cycle...")
	defer func() {
		res.Duration = time.Since(began)
		metrics.CycleDuration.Observe(res.Duration.Seconds())
		metrics.CyclesTotal.WithLabelValues(res.Status()).Inc()
		log.WithFields(log.Fields{
			"inserted": res.Inserted,
			"failed":   res.FailedSources,
			"total":    res.TotalSources,
			"pruned":   res.Pruned,
		}).Infof("aggregation cycle done: %s", res.Message())
	}()

	cfg := e.loadConfig(ctx)

	sources, err := e.store.ListEnabledSources(ctx)
	if err != nil {
		res.Err = fmt.Errorf("list sources: %w", err)
		return res
	}
	cats, err := e.store.ListEnabledCategories(ctx)
	if err != nil {
		res.Err = fmt.Errorf("list categories: %w", err)
		return res
	}
	res.TotalSources = len(sources)

	// 拉取并发进行，写库按源顺序串行
	fetched := make([]fetchResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.Workers, 1))
	for i, src := range sources {
		g.Go(func() error {
			items, err := e.feeds.Fetch(gctx, src.URL)
			fetched[i] = fetchResult{items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()

	p := processor.NewProcessor(scoringCategories(cats))
	p.Now = func() time.Time { return start }

	for i, src := range sources {
		logger := log.WithFields(log.Fields{"source": src.Name, "url": src.URL})
		fr := fetched[i]
		if fr.err != nil {
			res.FailedSources++
			metrics.SourceFailures.WithLabelValues(src.Name).Inc()
			logger.Warnf("fetch source failed: %v", fr.err)
			continue
		}

		scored := p.Process(fr.items, src.Weight)

		pruned, err := e.store.PruneSourceArticles(ctx, src.Name, processor.DedupKeys(scored))
		if err != nil {
			logger.Errorf("prune articles failed: %v", err)
		}
		res.Pruned += int(pruned)

		var inserted int
		for _, it := range scored {
			a := newArticle(src, it, start)
			ok, err := e.store.InsertArticleIfAbsent(ctx, a)
			if err != nil {
				logger.WithField("link", it.Link).Errorf("insert article failed: %v", err)
				continue
			}
			if ok {
				inserted++
			}
		}
		res.Inserted += inserted
		logger.Debugf("%s done, fetched=%d inserted=%d pruned=%d", src.Name, len(fr.items), inserted, pruned)
	}

	metrics.ArticlesInserted.Add(float64(res.Inserted))
	metrics.ArticlesPruned.Add(float64(res.Pruned))

	// 全部源失败时保留上一轮的展示集合
	if res.TotalSources > 0 && res.FailedSources == res.TotalSources {
		return res
	}
	if err := e.publish(ctx, cfg); err != nil {
		res.Err = err
	}
	return res
}

// ReloadRanked 不拉取 feed，只按当前配置重新计算展示集合
func (e *Engine) ReloadRanked(ctx context.Context) (int, error) {
	cfg := e.loadConfig(ctx)
	if err := e.publish(ctx, cfg); err != nil {
		return 0, err
	}
	return e.rotation.Len(), nil
}

func (e *Engine) publish(ctx context.Context, cfg settings.EngineConfig) error {
	articles, err := e.store.RankedArticles(ctx, cfg.MinScore, cfg.MaxItems)
	if err != nil {
		return fmt.Errorf("query ranked articles: %w", err)
	}
	items := make([]RankedItem, 0, len(articles))
	for _, a := range articles {
		items = append(items, toRankedItem(a))
	}
	e.rotation.Replace(items)
	metrics.RankedItems.Set(float64(len(items)))
	return nil
}

// CurrentRankedItems 当前展示集合的只读快照
func (e *Engine) CurrentRankedItems() []RankedItem {
	return e.rotation.Snapshot()
}

// NextItem 轮播到下一条；集合为空时 ok 为 false
func (e *Engine) NextItem() (RankedItem, bool) {
	return e.rotation.Advance()
}

func (e *Engine) CurrentItem() (RankedItem, bool) {
	return e.rotation.Current()
}

// FetchArticleContent 获取文章正文，失败时回退到摘要
func (e *Engine) FetchArticleContent(ctx context.Context, url, fallbackSummary, fallbackImage string) reader.Result {
	return e.content.Fetch(ctx, url, fallbackSummary, fallbackImage)
}

func scoringCategories(cats []storage.Category) []processor.Category {
	out := make([]processor.Category, 0, len(cats))
	for _, c := range cats {
		out = append(out, processor.Category{
			Name:     c.Name,
			Keywords: c.Keywords,
			Weight:   c.Weight,
			Enabled:  c.Enabled,
		})
	}
	return out
}

func newArticle(src storage.Source, it processor.ScoredItem, now time.Time) *storage.Article {
	a := &storage.Article{
		Title:       it.Title,
		Link:        it.Link,
		SourceName:  src.Name,
		PublishedAt: it.PublishedAt,
		Summary:     it.Summary,
		Score:       it.Score,
		CreatedAt:   now.UTC(),
		ExtraData: datatypes.JSONMap{
			"feed_url": src.URL,
		},
	}
	if it.DedupKey != "" {
		key := it.DedupKey
		a.DedupKey = &key
	}
	if it.ImageURL != "" {
		img := it.ImageURL
		a.ImageURL = &img
	}
	if it.Author != "" {
		a.ExtraData["author"] = it.Author
	}
	if len(it.Categories) > 0 {
		a.ExtraData["categories"] = it.Categories
	}
	return a
}

func toRankedItem(a storage.Article) RankedItem {
	item := RankedItem{
		ID:          a.ID,
		Title:       a.Title,
		Link:        a.Link,
		SourceName:  a.SourceName,
		Summary:     a.Summary,
		PublishedAt: a.PublishedAt,
		Score:       a.Score,
		CreatedAt:   a.CreatedAt,
	}
	if a.ImageURL != nil {
		item.ImageURL = *a.ImageURL
	}
	return item
}
