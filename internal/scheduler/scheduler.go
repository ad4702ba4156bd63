package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/LJTian/NewsTicker/internal/engine"
	"github.com/LJTian/NewsTicker/internal/settings"
)

// Cycler 由 engine.Engine 实现
type Cycler interface {
	TriggerCycle(ctx context.Context) engine.CycleResult
	NextItem() (engine.RankedItem, bool)
}

// Scheduler 两个周期任务：按 fetch_interval 采集，按 rotation_interval 轮播
type Scheduler struct {
	cron   *cron.Cron
	engine Cycler

	mu       sync.Mutex
	fetchID  cron.EntryID
	rotateID cron.EntryID
	cfg      settings.EngineConfig
}

func New(e Cycler, cfg settings.EngineConfig) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(log.StandardLogger())),
		// 上一轮还没结束时跳过本次触发
		cron.SkipIfStillRunning(cron.PrintfLogger(log.StandardLogger())),
	))

	s := &Scheduler{
		cron:   c,
		engine: e,
	}
	if err := s.Reschedule(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Reschedule 按新的间隔重新挂载任务；正在执行的一轮不受影响
func (s *Scheduler) Reschedule(cfg settings.EngineConfig) error {
	if cfg.FetchIntervalSec <= 0 || cfg.RotationIntervalSec <= 0 {
		return fmt.Errorf("%w: intervals must be positive", settings.ErrInvalidConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchID != 0 && cfg.FetchIntervalSec != s.cfg.FetchIntervalSec {
		s.cron.Remove(s.fetchID)
		s.fetchID = 0
	}
	if s.fetchID == 0 {
		id, err := s.cron.AddFunc(every(cfg.FetchInterval()), s.runOnce)
		if err != nil {
			return err
		}
		s.fetchID = id
	}

	if s.rotateID != 0 && cfg.RotationIntervalSec != s.cfg.RotationIntervalSec {
		s.cron.Remove(s.rotateID)
		s.rotateID = 0
	}
	if s.rotateID == 0 {
		id, err := s.cron.AddFunc(every(cfg.RotationInterval()), s.rotate)
		if err != nil {
			return err
		}
		s.rotateID = id
	}

	s.cfg = cfg
	log.Infof("schedule: fetch every %s, rotate every %s", cfg.FetchInterval(), cfg.RotationInterval())
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// Start 启动定时任务，并在 startupDelay 后执行首轮采集
func (s *Scheduler) Start(startupDelay time.Duration) {
	s.cron.Start()
	// 延迟执行首轮采集，避免与启动阶段的请求争抢资源
	time.AfterFunc(startupDelay, s.runOnce)
}

// Stop 停止调度，返回的 context 在正在执行的任务结束后关闭
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce 对外暴露的单次执行入口，方便手动触发采集
func (s *Scheduler) RunOnce() engine.CycleResult {
	return s.engine.TriggerCycle(context.Background())
}

func (s *Scheduler) runOnce() {
	res := s.RunOnce()
	if res.Err != nil {
		log.Errorf("collect job error: %v", res.Err)
	}
}

func (s *Scheduler) rotate() {
	if it, ok := s.engine.NextItem(); ok {
		log.Debugf("rotate to %q (%s)", it.Title, it.SourceName)
	}
}
