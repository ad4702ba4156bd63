package processor

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
)

const (
	maxBaseScore  = 3.0
	titleRuneUnit = 60.0
	hitExponent   = 0.8
)

// Category 打分所需的分类信息，Keywords 为逗号分隔的关键词列表
type Category struct {
	Name     string
	Keywords string
	Weight   float64
	Enabled  bool
}

// Normalize 小写化并折叠空白，标题与摘要以单个空格拼接
func Normalize(title, summary string) string {
	return strings.Join(strings.Fields(strings.ToLower(title+" "+summary)), " ")
}

// Score 计算条目的基础分：(标题长度分 + 分类命中分) * 源权重
func Score(title, summary string, sourceWeight float64, categories []Category) float64 {
	text := Normalize(title, summary)

	base := math.Min(maxBaseScore, math.Max(0, float64(utf8.RuneCountInString(title))/titleRuneUnit))

	var catScore float64
	for _, c := range categories {
		if !c.Enabled {
			continue
		}
		hits := keywordHits(text, c.Keywords)
		if hits > 0 {
			catScore += math.Pow(float64(hits), hitExponent) * c.Weight
		}
	}
	return (base + catScore) * sourceWeight
}

// keywordHits 统计出现在文本中的不同关键词个数，重复出现只算一次
func keywordHits(text, keywords string) int {
	kws := lo.Uniq(lo.Compact(lo.Map(strings.Split(keywords, ","), func(k string, _ int) string {
		return strings.ToLower(strings.TrimSpace(k))
	})))
	return lo.CountBy(kws, func(k string) bool {
		return strings.Contains(text, k)
	})
}

// RecencyBoost 按发布时间距今的阶梯加分，年龄取整到秒，未来时间按 0 处理
func RecencyBoost(published *time.Time, now time.Time) float64 {
	if published == nil {
		return 0
	}
	age := max(now.Sub(*published), 0).Truncate(time.Second)
	switch {
	case age <= time.Hour:
		return 2.0
	case age <= 6*time.Hour:
		return 1.2
	case age <= 24*time.Hour:
		return 0.6
	default:
		return 0
	}
}
