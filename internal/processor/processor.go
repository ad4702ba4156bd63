package processor

import (
	"strings"
	"time"

	"github.com/LJTian/NewsTicker/internal/collector"
)

// ScoredItem 是写入存储层前的统一结构，分数在入库时一次性确定
type ScoredItem struct {
	collector.RawItem
	Score float64
}

// Processor 对一个源的批次做清洗、批内去重与打分
type Processor struct {
	Categories []Category
	Now        func() time.Time
}

func NewProcessor(categories []Category) *Processor {
	return &Processor{Categories: categories, Now: time.Now}
}

func (p *Processor) Process(items []collector.RawItem, sourceWeight float64) []ScoredItem {
	now := p.Now()
	out := make([]ScoredItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for _, it := range items {
		// 同一批次里重复的 key 只保留第一条，与入库时“先到先得”一致
		if it.DedupKey != "" {
			if _, ok := seen[it.DedupKey]; ok {
				continue
			}
			seen[it.DedupKey] = struct{}{}
		}
		it.Title = strings.TrimSpace(it.Title)

		score := Score(it.Title, it.Summary, sourceWeight, p.Categories) + RecencyBoost(it.PublishedAt, now)
		out = append(out, ScoredItem{RawItem: it, Score: score})
	}

	return out
}

// DedupKeys 返回批次中非空的 dedup key，用于剪枝
func DedupKeys(items []ScoredItem) []string {
	keys := make([]string, 0, len(items))
	for _, it := range items {
		if it.DedupKey != "" {
			keys = append(keys, it.DedupKey)
		}
	}
	return keys
}
