package settings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	KeyFetchIntervalSec    = "fetch_interval_sec"
	KeyRotationIntervalSec = "rotation_interval_sec"
	KeyMinScore            = "min_score"
	KeyMaxItems            = "max_items"

	// 旧版本使用的轮播间隔键，仅在新键缺失时读取
	legacyKeyRotationSeconds = "rotation_seconds"
)

var ErrInvalidConfig = errors.New("invalid config")

// EngineConfig 运行期可调整的引擎参数，每轮采集开始时重新读取
type EngineConfig struct {
	FetchIntervalSec    int     `json:"fetch_interval_sec"`
	RotationIntervalSec int     `json:"rotation_interval_sec"`
	MinScore            float64 `json:"min_score"`
	MaxItems            int     `json:"max_items"`
}

func Defaults() EngineConfig {
	return EngineConfig{
		FetchIntervalSec:    300,
		RotationIntervalSec: 8,
		MinScore:            2.5,
		MaxItems:            50,
	}
}

func (c EngineConfig) FetchInterval() time.Duration {
	return time.Duration(c.FetchIntervalSec) * time.Second
}

func (c EngineConfig) RotationInterval() time.Duration {
	return time.Duration(c.RotationIntervalSec) * time.Second
}

func (c EngineConfig) values() map[string]string {
	return map[string]string{
		KeyFetchIntervalSec:    strconv.Itoa(c.FetchIntervalSec),
		KeyRotationIntervalSec: strconv.Itoa(c.RotationIntervalSec),
		KeyMinScore:            strconv.FormatFloat(c.MinScore, 'f', -1, 64),
		KeyMaxItems:            strconv.Itoa(c.MaxItems),
	}
}

// KV 键值持久化，由 storage.Store 实现
type KV interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSettings(ctx context.Context, values map[string]string) error
}

type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Get 读取单个配置项，不存在时返回 def
func (s *Store) Get(ctx context.Context, key, def string) (string, error) {
	v, ok, err := s.kv.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Set 写入单个配置项，引擎参数会先校验
func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, known := Defaults().values()[key]; known {
		if _, err := s.Update(ctx, map[string]string{key: value}); err != nil {
			return err
		}
		return nil
	}
	return s.kv.SetSettings(ctx, map[string]string{key: value})
}

// Load 读取当前引擎参数；缺失或损坏的值回退为默认值
func (s *Store) Load(ctx context.Context) (EngineConfig, error) {
	cfg := Defaults()

	raw := make(map[string]string, 4)
	for key := range cfg.values() {
		v, ok, err := s.kv.GetSetting(ctx, key)
		if err != nil {
			return cfg, fmt.Errorf("load setting %s: %w", key, err)
		}
		if ok {
			raw[key] = v
		}
	}
	if _, ok := raw[KeyRotationIntervalSec]; !ok {
		v, ok, err := s.kv.GetSetting(ctx, legacyKeyRotationSeconds)
		if err != nil {
			return cfg, fmt.Errorf("load setting %s: %w", legacyKeyRotationSeconds, err)
		}
		if ok {
			raw[KeyRotationIntervalSec] = v
		}
	}

	for key, v := range raw {
		if err := apply(&cfg, key, v); err != nil {
			log.WithField("key", key).Warnf("ignore stored setting: %v", err)
		}
	}
	return cfg, nil
}

// Update 校验并整体写入一组修改；任一项非法时不写入任何值
func (s *Store) Update(ctx context.Context, patch map[string]string) (EngineConfig, error) {
	cur, err := s.Load(ctx)
	if err != nil {
		return cur, err
	}
	next := cur
	for key, v := range patch {
		if err := apply(&next, key, v); err != nil {
			return cur, err
		}
	}
	if err := s.kv.SetSettings(ctx, next.values()); err != nil {
		return cur, fmt.Errorf("save settings: %w", err)
	}
	return next, nil
}

func apply(cfg *EngineConfig, key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case KeyFetchIntervalSec, KeyRotationIntervalSec, KeyMaxItems:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfig, key, value)
		}
		if n <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, key, n)
		}
		switch key {
		case KeyFetchIntervalSec:
			cfg.FetchIntervalSec = n
		case KeyRotationIntervalSec:
			cfg.RotationIntervalSec = n
		default:
			cfg.MaxItems = n
		}
	case KeyMinScore:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidConfig, key, value)
		}
		cfg.MinScore = f
	default:
		return fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, key)
	}
	return nil
}
