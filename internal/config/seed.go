package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/LJTian/NewsTicker/internal/storage"
)

//go:embed default_seed.yaml
var defaultSeed []byte

// SeedSource 首次启动时写入数据库的订阅源
type SeedSource struct {
	Name    string  `yaml:"name"`
	URL     string  `yaml:"url"`
	Weight  float64 `yaml:"weight"`
	Enabled bool    `yaml:"enabled"`
}

// SeedCategory 首次启动时写入数据库的兴趣分类，keywords 为逗号分隔
type SeedCategory struct {
	Name     string  `yaml:"name"`
	Keywords string  `yaml:"keywords"`
	Weight   float64 `yaml:"weight"`
	Enabled  bool    `yaml:"enabled"`
}

type Seed struct {
	Sources    []SeedSource   `yaml:"sources"`
	Categories []SeedCategory `yaml:"categories"`
}

// LoadSeed 读取种子数据；path 为空时使用内置默认值
func LoadSeed(path string) (*Seed, error) {
	data := defaultSeed
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading seed file: %w", err)
		}
		data = b
	}
	return parseSeed(data)
}

func parseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	for i, src := range s.Sources {
		if src.Name == "" || src.URL == "" {
			return nil, fmt.Errorf("seed source #%d: name and url are required", i+1)
		}
		if src.Weight <= 0 {
			s.Sources[i].Weight = 1.0
		}
	}
	for i, c := range s.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("seed category #%d: name is required", i+1)
		}
		if c.Weight <= 0 {
			s.Categories[i].Weight = 1.0
		}
	}
	return &s, nil
}

// Models 转为存储层模型，供 Store.SeedDefaults 使用
func (s *Seed) Models() ([]storage.Source, []storage.Category) {
	sources := make([]storage.Source, 0, len(s.Sources))
	for _, src := range s.Sources {
		sources = append(sources, storage.Source{
			Name:    src.Name,
			URL:     src.URL,
			Weight:  src.Weight,
			Enabled: src.Enabled,
		})
	}
	categories := make([]storage.Category, 0, len(s.Categories))
	for _, c := range s.Categories {
		categories = append(categories, storage.Category{
			Name:     c.Name,
			Keywords: c.Keywords,
			Weight:   c.Weight,
			Enabled:  c.Enabled,
		})
	}
	return sources, categories
}
