package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/LJTian/NewsTicker/internal/api"
	"github.com/LJTian/NewsTicker/internal/collector"
	"github.com/LJTian/NewsTicker/internal/config"
	"github.com/LJTian/NewsTicker/internal/engine"
	"github.com/LJTian/NewsTicker/internal/reader"
	"github.com/LJTian/NewsTicker/internal/scheduler"
	"github.com/LJTian/NewsTicker/internal/settings"
	"github.com/LJTian/NewsTicker/internal/storage"
)

func main() {
	cfg := config.Load()

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}

	// 首次启动写入默认订阅源与分类
	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		log.Fatalf("load seed failed: %v", err)
	}
	sources, categories := seed.Models()
	if err := store.SeedDefaults(context.Background(), sources, categories); err != nil {
		log.Fatalf("seed defaults failed: %v", err)
	}

	extractor, err := reader.NewExtractor(cfg.Extractor, cfg.BrowserExtractorURL)
	if err != nil {
		log.Fatalf("init extractor failed: %v", err)
	}

	st := settings.NewStore(store)
	eng := engine.New(store, st, collector.NewFeedClient(cfg.FeedTimeout, cfg.FeedRetries),
		reader.NewFetcher(store, extractor, cfg.ContentTimeout))
	eng.Workers = cfg.FetchWorkers

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	engineCfg, err := st.Load(ctx)
	if err != nil {
		log.Warnf("load engine settings failed, using defaults: %v", err)
		engineCfg = settings.Defaults()
	}
	// 先用库里已有的文章填充轮播，首轮采集完成前也有内容可展示
	if n, err := eng.ReloadRanked(ctx); err != nil {
		log.Warnf("initial ranked load failed: %v", err)
	} else {
		log.Printf("loaded %d ranked items", n)
	}
	cancel()

	s, err := scheduler.New(eng, engineCfg)
	if err != nil {
		log.Fatalf("init scheduler failed: %v", err)
	}
	s.Start(cfg.StartupDelay)
	defer s.Stop()

	r := gin.Default()
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}

	apiServer := api.NewServer(eng, st, s, store)
	apiServer.RegisterRoutes(r)

	addr := ":" + cfg.AppPort
	log.Printf("starting api server at %s ...", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server exit: %v", err)
	}
}
