package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/LJTian/NewsTicker/internal/collector"
	"github.com/LJTian/NewsTicker/internal/config"
	"github.com/LJTian/NewsTicker/internal/engine"
	"github.com/LJTian/NewsTicker/internal/reader"
	"github.com/LJTian/NewsTicker/internal/settings"
	"github.com/LJTian/NewsTicker/internal/storage"
)

// 一个仅执行一次采集任务的命令行入口：适合手动触发采集
func main() {
	cfg := config.Load()

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}

	// 与 cmd/api 保持一致，空库时写入默认数据
	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		log.Fatalf("load seed failed: %v", err)
	}
	sources, categories := seed.Models()
	if err := store.SeedDefaults(context.Background(), sources, categories); err != nil {
		log.Fatalf("seed defaults failed: %v", err)
	}

	eng := engine.New(store, settings.NewStore(store),
		collector.NewFeedClient(cfg.FeedTimeout, cfg.FeedRetries),
		reader.NewFetcher(store, reader.NoopExtractor{}, cfg.ContentTimeout))
	eng.Workers = cfg.FetchWorkers

	// 只执行一轮采集任务后退出
	res := eng.TriggerCycle(context.Background())
	fmt.Println(res.Message())
	for i, it := range eng.CurrentRankedItems() {
		fmt.Printf("%2d. [%5.2f] %s (%s)\n", i+1, it.Score, it.Title, it.SourceName)
	}
	if res.Status() == engine.StatusFailed {
		os.Exit(1)
	}
}
