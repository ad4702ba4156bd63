package storage

import (
	"strings"

	"github.com/samber/lo"
)

// SplitKeywords 拆分逗号分隔的关键词，保持顺序并去重
func SplitKeywords(raw string) []string {
	parts := lo.Map(strings.Split(raw, ","), func(k string, _ int) string {
		return strings.ToLower(strings.TrimSpace(k))
	})
	return lo.Uniq(lo.Compact(parts))
}

// KeywordList 返回分类的关键词列表
func (c Category) KeywordList() []string {
	return SplitKeywords(c.Keywords)
}
