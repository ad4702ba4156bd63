package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/LJTian/NewsTicker/internal/engine"
	"github.com/LJTian/NewsTicker/internal/reader"
	"github.com/LJTian/NewsTicker/internal/settings"
	"github.com/LJTian/NewsTicker/internal/storage"
)

// Engine 展示端需要的引擎能力
type Engine interface {
	TriggerCycle(ctx context.Context) engine.CycleResult
	ReloadRanked(ctx context.Context) (int, error)
	CurrentRankedItems() []engine.RankedItem
	CurrentItem() (engine.RankedItem, bool)
	NextItem() (engine.RankedItem, bool)
	FetchArticleContent(ctx context.Context, url, fallbackSummary, fallbackImage string) reader.Result
}

type Settings interface {
	Load(ctx context.Context) (settings.EngineConfig, error)
	Update(ctx context.Context, patch map[string]string) (settings.EngineConfig, error)
}

type Rescheduler interface {
	Reschedule(cfg settings.EngineConfig) error
}

// Catalog 订阅源与分类的增删改查，由 storage.Store 实现
type Catalog interface {
	ListSources(ctx context.Context) ([]storage.Source, error)
	GetSource(ctx context.Context, id uint) (*storage.Source, error)
	CreateSource(ctx context.Context, src *storage.Source) error
	UpdateSource(ctx context.Context, src *storage.Source) error
	DeleteSource(ctx context.Context, id uint) error

	ListCategories(ctx context.Context) ([]storage.Category, error)
	GetCategory(ctx context.Context, id uint) (*storage.Category, error)
	CreateCategory(ctx context.Context, c *storage.Category) error
	UpdateCategory(ctx context.Context, c *storage.Category) error
	DeleteCategory(ctx context.Context, id uint) error
}

type Server struct {
	engine    Engine
	settings  Settings
	scheduler Rescheduler
	catalog   Catalog
}

func NewServer(e Engine, st Settings, sch Rescheduler, catalog Catalog) *Server {
	return &Server{engine: e, settings: st, scheduler: sch, catalog: catalog}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/items", s.listItems)
		v1.GET("/rotation/current", s.currentItem)
		v1.POST("/rotation/next", s.nextItem)
		v1.POST("/refresh", s.refresh)
		v1.GET("/content", s.content)

		v1.GET("/settings", s.getSettings)
		v1.PUT("/settings", s.updateSettings)

		v1.GET("/sources", s.listSources)
		v1.POST("/sources", s.createSource)
		v1.PUT("/sources/:id", s.updateSource)
		v1.POST("/sources/:id/toggle", s.toggleSource)
		v1.DELETE("/sources/:id", s.deleteSource)

		v1.GET("/categories", s.listCategories)
		v1.POST("/categories", s.createCategory)
		v1.PUT("/categories/:id", s.updateCategory)
		v1.POST("/categories/:id/toggle", s.toggleCategory)
		v1.DELETE("/categories/:id", s.deleteCategory)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

// fromError 把领域错误映射为 HTTP 状态码
func fromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", "record not found")
	case errors.Is(err, storage.ErrDuplicate):
		fail(c, http.StatusConflict, "duplicate", "record already exists")
	case errors.Is(err, settings.ErrInvalidConfig):
		fail(c, http.StatusBadRequest, "invalid_config", err.Error())
	default:
		log.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (s *Server) listItems(c *gin.Context) {
	items := s.engine.CurrentRankedItems()
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	ok(c, items)
}

func (s *Server) currentItem(c *gin.Context) {
	it, found := s.engine.CurrentItem()
	if !found {
		// 尚未轮播过时从第一条开始
		it, found = s.engine.NextItem()
	}
	if !found {
		fail(c, http.StatusNotFound, "no_items", "no items")
		return
	}
	ok(c, it)
}

func (s *Server) nextItem(c *gin.Context) {
	it, found := s.engine.NextItem()
	if !found {
		fail(c, http.StatusNotFound, "no_items", "no items")
		return
	}
	ok(c, it)
}

func (s *Server) refresh(c *gin.Context) {
	res := s.engine.TriggerCycle(c.Request.Context())
	ok(c, gin.H{
		"inserted":      res.Inserted,
		"failedSources": res.FailedSources,
		"totalSources":  res.TotalSources,
		"status":        res.Status(),
		"message":       res.Message(),
	})
}

func (s *Server) content(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		fail(c, http.StatusBadRequest, "bad_request", "url is required")
		return
	}
	ok(c, s.engine.FetchArticleContent(c.Request.Context(), url, c.Query("summary"), c.Query("image")))
}

func (s *Server) getSettings(c *gin.Context) {
	cfg, err := s.settings.Load(c.Request.Context())
	if err != nil {
		fromError(c, err)
		return
	}
	ok(c, cfg)
}

// settingValue JSON 数字按十进制原样输出，避免 1e+06 这类科学计数法
func settingValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// updateSettings 整体校验后写入，随后重新挂载定时任务并刷新展示集合
func (s *Server) updateSettings(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	patch := make(map[string]string, len(body))
	for k, v := range body {
		patch[k] = settingValue(v)
	}

	ctx := c.Request.Context()
	cfg, err := s.settings.Update(ctx, patch)
	if err != nil {
		fromError(c, err)
		return
	}
	if s.scheduler != nil {
		if err := s.scheduler.Reschedule(cfg); err != nil {
			log.Errorf("reschedule failed: %v", err)
		}
	}
	s.reload(ctx)
	ok(c, cfg)
}

func (s *Server) reload(ctx context.Context) {
	if _, err := s.engine.ReloadRanked(ctx); err != nil {
		log.Warnf("reload ranked items failed: %v", err)
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "bad_request", "invalid id")
		return 0, false
	}
	return uint(id), true
}
