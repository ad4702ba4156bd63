package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Source 一个 RSS/Atom 订阅源，weight 作为评分乘数
type Source struct {
	ID      uint    `gorm:"primaryKey" json:"id"`
	Name    string  `gorm:"size:256;not null;index" json:"name"`
	URL     string  `gorm:"size:1024;not null;uniqueIndex" json:"url"`
	Weight  float64 `gorm:"not null;default:1" json:"weight"`
	Enabled bool    `gorm:"not null;index" json:"enabled"`
}

// Category 兴趣分类：逗号分隔的小写关键词 + 权重
type Category struct {
	ID       uint    `gorm:"primaryKey" json:"id"`
	Name     string  `gorm:"size:128;not null;uniqueIndex" json:"name"`
	Keywords string  `gorm:"type:text;not null" json:"keywords"`
	Weight   float64 `gorm:"not null;default:1" json:"weight"`
	Enabled  bool    `gorm:"not null;index" json:"enabled"`
}

// Article 入库后不再修改；score 在首次入库时计算并固定
type Article struct {
	ID uint `gorm:"primaryKey" json:"id"`
	// DedupKey 来自 feed 的 id/guid/link，唯一但可为空
	DedupKey    *string           `gorm:"size:1024;uniqueIndex" json:"dedupKey"`
	Title       string            `gorm:"type:text;not null" json:"title"`
	Link        string            `gorm:"type:text;not null" json:"link"`
	SourceName  string            `gorm:"size:256;index" json:"sourceName"`
	PublishedAt *time.Time        `json:"publishedAt"`
	Summary     string            `gorm:"type:text" json:"summary"`
	ImageURL    *string           `gorm:"type:text" json:"imageUrl"`
	Score       float64           `gorm:"not null;default:0;index:idx_articles_score,sort:desc" json:"score"`
	ExtraData   datatypes.JSONMap `gorm:"type:jsonb" json:"extraData"`
	CreatedAt   time.Time         `gorm:"not null;index:idx_articles_created,sort:desc" json:"createdAt"`
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client

	// CacheTTL 正文缓存在 Redis 中的最长存活时间，与 reader 的 max_age 保持一致
	CacheTTL time.Duration
}

func NewStore(dsn, redisAddr string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Source{}, &Category{}, &Article{}, &Setting{}, &CachedContent{}); err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: redisAddr,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("warn: redis ping failed: %v", err)
		}
	}

	return &Store{DB: db, Redis: rdb, CacheTTL: 24 * time.Hour}, nil
}

// translate 把 gorm 的错误统一成本包的哨兵错误，保留原始错误链
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// NormalizeKeywords 规范关键词：拆分逗号、去空白、转小写、保序去重
func NormalizeKeywords(raw string) string {
	return strings.Join(SplitKeywords(raw), ",")
}

// ---------- 订阅源 ----------

func (s *Store) ListSources(ctx context.Context) ([]Source, error) {
	var list []Source
	err := s.DB.WithContext(ctx).Order("id ASC").Find(&list).Error
	return list, err
}

func (s *Store) ListEnabledSources(ctx context.Context) ([]Source, error) {
	var list []Source
	err := s.DB.WithContext(ctx).Where("enabled = ?", true).Order("id ASC").Find(&list).Error
	return list, err
}

func (s *Store) GetSource(ctx context.Context, id uint) (*Source, error) {
	var src Source
	if err := s.DB.WithContext(ctx).First(&src, id).Error; err != nil {
		return nil, translate(err)
	}
	return &src, nil
}

// CreateSource URL 已存在时返回 ErrDuplicate
func (s *Store) CreateSource(ctx context.Context, src *Source) error {
	src.Name = strings.TrimSpace(src.Name)
	src.URL = strings.TrimSpace(src.URL)
	return translate(s.DB.WithContext(ctx).Create(src).Error)
}

// UpdateSource 全量更新；改名时同步迁移已入库文章的 source_name
func (s *Store) UpdateSource(ctx context.Context, src *Source) error {
	return translate(s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old Source
		if err := tx.First(&old, src.ID).Error; err != nil {
			return err
		}
		if err := tx.Model(&Source{}).Where("id = ?", src.ID).Updates(map[string]any{
			"name":    strings.TrimSpace(src.Name),
			"url":     strings.TrimSpace(src.URL),
			"weight":  src.Weight,
			"enabled": src.Enabled,
		}).Error; err != nil {
			return err
		}
		if newName := strings.TrimSpace(src.Name); newName != old.Name {
			return tx.Model(&Article{}).Where("source_name = ?", old.Name).Update("source_name", newName).Error
		}
		return nil
	}))
}

// DeleteSource 删除订阅源及其全部文章
func (s *Store) DeleteSource(ctx context.Context, id uint) error {
	return translate(s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var src Source
		if err := tx.First(&src, id).Error; err != nil {
			return err
		}
		if err := tx.Where("source_name = ?", src.Name).Delete(&Article{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Source{}, id).Error
	}))
}

// ---------- 分类 ----------

func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	var list []Category
	err := s.DB.WithContext(ctx).Order("id ASC").Find(&list).Error
	return list, err
}

func (s *Store) ListEnabledCategories(ctx context.Context) ([]Category, error) {
	var list []Category
	err := s.DB.WithContext(ctx).Where("enabled = ?", true).Order("id ASC").Find(&list).Error
	return list, err
}

func (s *Store) GetCategory(ctx context.Context, id uint) (*Category, error) {
	var c Category
	if err := s.DB.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *Category) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Keywords = NormalizeKeywords(c.Keywords)
	return translate(s.DB.WithContext(ctx).Create(c).Error)
}

func (s *Store) UpdateCategory(ctx context.Context, c *Category) error {
	res := s.DB.WithContext(ctx).Model(&Category{}).Where("id = ?", c.ID).Updates(map[string]any{
		"name":     strings.TrimSpace(c.Name),
		"keywords": NormalizeKeywords(c.Keywords),
		"weight":   c.Weight,
		"enabled":  c.Enabled,
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCategory(ctx context.Context, id uint) error {
	res := s.DB.WithContext(ctx).Delete(&Category{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedDefaults 表为空时写入默认订阅源/分类，已有数据则跳过
func (s *Store) SeedDefaults(ctx context.Context, sources []Source, categories []Category) error {
	db := s.DB.WithContext(ctx)

	var n int64
	if err := db.Model(&Source{}).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 && len(sources) > 0 {
		if err := db.Create(&sources).Error; err != nil {
			return fmt.Errorf("seed sources: %w", err)
		}
		log.Printf("seeded %d default sources", len(sources))
	}

	if err := db.Model(&Category{}).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 && len(categories) > 0 {
		for i := range categories {
			categories[i].Keywords = NormalizeKeywords(categories[i].Keywords)
		}
		if err := db.Create(&categories).Error; err != nil {
			return fmt.Errorf("seed categories: %w", err)
		}
		log.Printf("seeded %d default categories", len(categories))
	}
	return nil
}

// ---------- 文章 ----------

// InsertArticleIfAbsent 以 dedup_key 作为幂等键，冲突时什么也不做（先写者胜出，不更新分数）
func (s *Store) InsertArticleIfAbsent(ctx context.Context, a *Article) (bool, error) {
	a.Title = toValidUTF8(a.Title)
	a.Summary = toValidUTF8(a.Summary)

	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true}).
		Create(a)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// PruneSourceArticles 删除该源下 dedup_key 不在 keep 中的文章。
// keep 为空时不删除任何内容：空结果无法区分“源确实为空”与“解析退化”。
func (s *Store) PruneSourceArticles(ctx context.Context, sourceName string, keep []string) (int64, error) {
	if len(keep) == 0 {
		return 0, nil
	}
	res := s.DB.WithContext(ctx).
		Where("source_name = ? AND dedup_key NOT IN ?", sourceName, keep).
		Delete(&Article{})
	return res.RowsAffected, res.Error
}

// RankedArticles 返回展示用的排序集合：源已启用、分数达标，按分数、入库时间倒序
func (s *Store) RankedArticles(ctx context.Context, minScore float64, limit int) ([]Article, error) {
	if limit <= 0 {
		return nil, nil
	}
	var list []Article
	// 用 EXISTS 而不是 JOIN，同名订阅源不会导致结果重复
	err := s.DB.WithContext(ctx).
		Where("EXISTS (SELECT 1 FROM sources WHERE sources.name = articles.source_name AND sources.enabled = ?)", true).
		Where("score >= ?", minScore).
		Order("score DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}
