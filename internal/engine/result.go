package engine

import (
	"fmt"
	"time"
)

const (
	StatusNoSources = "no_sources"
	StatusOK        = "ok"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// CycleResult 一轮采集的汇总，只向调用方暴露计数
type CycleResult struct {
	Inserted      int           `json:"inserted"`
	FailedSources int           `json:"failedSources"`
	TotalSources  int           `json:"totalSources"`
	Pruned        int           `json:"pruned"`
	Duration      time.Duration `json:"duration"`
	// Err 只在读取源/分类或查询展示集合失败时设置
	Err error `json:"-"`
}

func (r CycleResult) Status() string {
	switch {
	case r.Err != nil:
		return StatusFailed
	case r.TotalSources == 0:
		return StatusNoSources
	case r.FailedSources == 0:
		return StatusOK
	case r.FailedSources < r.TotalSources:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// Message 面向展示端的状态文案
func (r CycleResult) Message() string {
	switch r.Status() {
	case StatusNoSources:
		return "update failed: no sources"
	case StatusOK:
		return fmt.Sprintf("updated: %d new", r.Inserted)
	case StatusPartial:
		return fmt.Sprintf("updated with errors: %d of %d sources failed", r.FailedSources, r.TotalSources)
	}
	if r.Err != nil {
		return "update failed: " + r.Err.Error()
	}
	return "update failed: all sources failed"
}
