// Package scheduler 基于 cron 表达式调度后台任务（例如收益数据预热）。
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentaudit/internal/logger"

	"github.com/robfig/cron/v3"
)

// Job 是一个可调度的任务。
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc 把普通函数包装成 Job。
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f JobFunc) Name() string { return f.JobName }

func (f JobFunc) Run(ctx context.Context) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx)
}

// Scheduler 管理 cron 任务。表达式带秒字段，也支持 "@every 5m" 这类描述符。
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
}

// New 创建调度器；timeout 是单次任务的执行上限，<=0 表示不限。
func New(timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: timeout,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
	}
}

// AddJob 注册任务。表达式示例：
//   - "0 */5 * * * *"  每 5 分钟
//   - "@every 30s"     每 30 秒
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if job == nil {
		return fmt.Errorf("scheduler: job is nil")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return fmt.Errorf("scheduler: empty schedule for job %s", job.Name())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.Name()]; exists {
		return fmt.Errorf("scheduler: job %s already registered", job.Name())
	}
	id, err := s.cron.AddFunc(schedule, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("scheduler: job %s: invalid schedule %q: %w", job.Name(), schedule, err)
	}
	s.entries[job.Name()] = id
	logger.Infof("scheduler: 任务已注册 job=%s schedule=%s", job.Name(), schedule)
	return nil
}

// Jobs 返回已注册任务名。
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

// Next 返回任务的下一次触发时间；调度器未启动或任务不存在时返回零值。
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Run 启动调度并阻塞到 ctx 取消，随后等待正在执行的任务结束。
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	logger.Infof("scheduler: started jobs=%d", len(s.Jobs()))
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	logger.Infof("scheduler: stopped")
	return nil
}

// RunNow 立即执行一次任务（不经过调度）。
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	logger.Infof("scheduler: 立即执行 job=%s", job.Name())
	return s.exec(ctx, job)
}

func (s *Scheduler) run(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.exec(ctx, job); err != nil {
		logger.Errorf("scheduler: job=%s failed after %s: %v", job.Name(), time.Since(start).Truncate(time.Millisecond), err)
		return
	}
	logger.Debugf("scheduler: job=%s done in %s", job.Name(), time.Since(start).Truncate(time.Millisecond))
}

func (s *Scheduler) exec(ctx context.Context, job Job) (err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
