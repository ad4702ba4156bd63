package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CachedContent 正文缓存表，按文章 URL 缓存抽取后的正文与配图
type CachedContent struct {
	URL       string    `gorm:"primaryKey;size:2048" json:"url"`
	Text      string    `gorm:"type:text" json:"text"`
	ImageURL  string    `gorm:"type:text" json:"imageUrl"`
	FetchedAt time.Time `gorm:"index" json:"fetchedAt"`
}

func contentCacheKey(url string) string {
	return "content:" + url
}

// GetFreshContent 返回 maxAge 内的缓存；过期的条目视为不存在。
// 先查 Redis，未命中再查数据库。
func (s *Store) GetFreshContent(ctx context.Context, url string, maxAge time.Duration, now time.Time) (*CachedContent, bool, error) {
	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, contentCacheKey(url)).Bytes(); err == nil {
			var c CachedContent
			if err := json.Unmarshal(bs, &c); err == nil && now.Sub(c.FetchedAt) <= maxAge {
				return &c, true, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			log.Debugf("content cache: redis get %s: %v", url, err)
		}
	}

	var c CachedContent
	// 未命中是常态，不需要 gorm 打印 record not found
	silent := s.DB.Session(&gorm.Session{Logger: s.DB.Logger.LogMode(logger.Silent)})
	err := silent.WithContext(ctx).
		Where("url = ? AND fetched_at >= ?", url, now.Add(-maxAge)).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.cacheContent(ctx, &c, now)
	return &c, true, nil
}

// SaveContent 写入或覆盖指定 URL 的正文缓存
func (s *Store) SaveContent(ctx context.Context, c CachedContent) error {
	if err := s.DB.WithContext(ctx).Save(&c).Error; err != nil {
		return err
	}
	s.cacheContent(ctx, &c, c.FetchedAt)
	return nil
}

// cacheContent 回写 Redis，TTL 为剩余有效期
func (s *Store) cacheContent(ctx context.Context, c *CachedContent, now time.Time) {
	if s.Redis == nil || s.CacheTTL <= 0 {
		return
	}
	ttl := s.CacheTTL - now.Sub(c.FetchedAt)
	if ttl <= 0 {
		return
	}
	if bs, err := json.Marshal(c); err == nil {
		_ = s.Redis.Set(ctx, contentCacheKey(c.URL), bs, ttl).Err()
	}
}
