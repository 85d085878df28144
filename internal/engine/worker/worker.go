// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worker 认领—推进—落盘转移的主循环。一个进程可跑多个 Worker，
// 多个进程共享同一 Store 时靠租约互斥
package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"flow-platform/internal/engine/executor"
	"flow-platform/internal/engine/store"
	"flow-platform/internal/engine/workflow"
	"flow-platform/pkg/log"
	"flow-platform/pkg/metrics"
	"flow-platform/pkg/tracing"
)

// Config Worker 配置
type Config struct {
	// OwnerID 租约持有者标识；同进程多 Worker 应各自唯一
	OwnerID string
	// LeaseTTL 租约时长；心跳按 TTL/3 续
	LeaseTTL time.Duration
	// MaxConcurrency 并发推进上限，<=0 表示 1
	MaxConcurrency int
	// PollInterval 无事可做时等待唤醒通知的上限
	PollInterval time.Duration
	// ClaimPerSecond Claim 频率上限，<=0 不限
	ClaimPerSecond float64
}

// Worker 形态为 Claim→Executor.Advance→按 Outcome CAS 状态转移→释放租约
type Worker struct {
	store  store.Store
	exec   *executor.Executor
	wakeup Wakeup
	logger *log.Logger
	cfg    Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	limiter  chan struct{}
	rate     *rate.Limiter
}

func New(st store.Store, exec *executor.Executor, wakeup Wakeup, logger *log.Logger, cfg Config) *Worker {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	max := cfg.MaxConcurrency
	if max <= 0 {
		max = 1
	}
	limit := rate.Inf
	if cfg.ClaimPerSecond > 0 {
		limit = rate.Limit(cfg.ClaimPerSecond)
	}
	return &Worker{
		store:   st,
		exec:    exec,
		wakeup:  wakeup,
		logger:  logger.With("owner_id", cfg.OwnerID),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		limiter: make(chan struct{}, max),
		rate:    rate.NewLimiter(limit, 1),
	}
}

// Start 启动认领循环；每个 claimed 执行在独立 goroutine 中推进
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case w.limiter <- struct{}{}:
				if err := w.rate.Wait(ctx); err != nil {
					<-w.limiter
					return
				}
				claimed, err := w.store.Claim(ctx, w.cfg.OwnerID, w.cfg.LeaseTTL)
				if err != nil {
					<-w.limiter
					metrics.ClaimTotal.WithLabelValues("false").Inc()
					if err != store.ErrNoClaimable {
						w.logger.Error("认领失败", "error", err)
						time.Sleep(w.cfg.PollInterval)
						continue
					}
					// 空转等唤醒，PollInterval 兜底轮询到期 timer
					w.wakeup.Receive(ctx, w.cfg.PollInterval)
					continue
				}
				metrics.ClaimTotal.WithLabelValues("true").Inc()
				w.wg.Add(1)
				go func(c *store.Claimed) {
					defer w.wg.Done()
					defer func() { <-w.limiter }()
					w.process(c)
				}(claimed)
			}
		}
	}()
}

// Stop 优雅退出：停止认领，等在途 attempt 退出（attempt ctx 被取消，
// 用户过程返回后租约自然过期或按 Outcome 落盘）
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) process(claimed *store.Claimed) {
	exec := claimed.Execution
	metrics.WorkerBusy.WithLabelValues(w.cfg.OwnerID).Inc()
	defer metrics.WorkerBusy.WithLabelValues(w.cfg.OwnerID).Dec()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	hb := &heartbeat{
		store:   w.store,
		execID:  exec.ID,
		leaseID: claimed.LeaseID,
		ttl:     w.cfg.LeaseTTL,
		onLost: func() {
			w.logger.Warn("心跳续租被拒，放弃当前 attempt", "execution_id", exec.ID)
			cancel()
		},
	}
	go hb.run(runCtx)

	spanCtx, span := tracing.StartAdvanceSpan(runCtx, exec.ID, exec.TaskID)
	outcome, err := w.exec.Advance(spanCtx, exec)
	span.End()
	if err != nil {
		// 基础设施故障或租约丢失：不落任何转移，让租约过期后被重新认领
		w.logger.Warn("attempt 中断", "execution_id", exec.ID, "error", err)
		return
	}
	w.apply(exec, claimed.LeaseID, outcome)
}

// apply 按 Outcome 做 running → X 的 CAS 转移，随后释放租约。
// CAS miss 说明执行已被取消或租约被接管，静默放弃
func (w *Worker) apply(exec *store.Execution, leaseID string, outcome *executor.Outcome) {
	ctx := context.Background()
	now := time.Now()
	var (
		to    store.Status
		patch store.StatusPatch
		label string
	)

	switch outcome.Kind {
	case executor.OutcomeCompleted:
		to = store.StatusCompleted
		patch = store.StatusPatch{Result: outcome.Result, CompletedAt: &now, ClearWakeAt: true}
		label = "completed"
	case executor.OutcomeSuspended:
		s := outcome.Suspend
		if s.Reason == workflow.SuspendSignal {
			to = store.StatusWaitingSignal
			signalID := s.SignalID
			// 不清 SignaledAt：信号可能在 waiter 落库之后、本次 CAS 之前就已送达，
			// 清掉会让已送达的 execution 永远认领不到。残留标记由 Claim 认领时清除
			patch = store.StatusPatch{PendingSignalID: &signalID}
			if s.WakeAt != nil {
				patch.WakeAt = s.WakeAt
			} else {
				patch.ClearWakeAt = true
			}
		} else {
			to = store.StatusSleeping
			patch = store.StatusPatch{WakeAt: s.WakeAt}
		}
		label = "suspended"
	case executor.OutcomeFailed:
		attempt := exec.Attempt + 1
		if !outcome.Fatal && outcome.Retry.ShouldRetry(attempt) {
			wakeAt := now.Add(outcome.Retry.NextDelay(attempt))
			to = store.StatusRetrying
			patch = store.StatusPatch{Attempt: &attempt, Error: outcome.Err, WakeAt: &wakeAt}
			label = "retrying"
			w.logger.Info("attempt 失败，稍后重试",
				"execution_id", exec.ID, "attempt", attempt, "wake_at", wakeAt, "error", outcome.Err.Message)
		} else {
			to = store.StatusFailed
			patch = store.StatusPatch{Attempt: &attempt, Error: outcome.Err, CompletedAt: &now, ClearWakeAt: true}
			label = "failed"
			w.logger.Error("执行失败", "execution_id", exec.ID, "attempt", attempt,
				"fatal", strconv.FormatBool(outcome.Fatal), "error", outcome.Err.Message)
		}
	}

	ok, err := w.casWithRetry(ctx, exec.ID, to, patch)
	if err != nil {
		w.logger.Error("状态转移失败，等待租约过期重试", "execution_id", exec.ID, "to", string(to), "error", err)
		return
	}
	if !ok {
		w.logger.Warn("状态转移被抢占（已取消或租约被接管）", "execution_id", exec.ID, "to", string(to))
		return
	}
	metrics.AttemptTotal.WithLabelValues(label).Inc()
	if to.Terminal() {
		metrics.ExecutionTotal.WithLabelValues(string(to)).Inc()
		metrics.ExecutionDuration.WithLabelValues(exec.TaskID).Observe(now.Sub(exec.CreatedAt).Seconds())
	}
	if err := w.store.ReleaseLease(ctx, exec.ID, leaseID); err != nil {
		w.logger.Warn("释放租约失败", "execution_id", exec.ID, "error", err)
	}
}

// casWithRetry 瞬时 Store 错误退避重试，最多三次
func (w *Worker) casWithRetry(ctx context.Context, execID string, to store.Status, patch store.StatusPatch) (bool, error) {
	var lastErr error
	backoff := 100 * time.Millisecond
	for i := 0; i < 3; i++ {
		ok, err := w.store.UpdateExecutionStatus(ctx, execID, store.StatusRunning, to, patch)
		if err == nil {
			return ok, nil
		}
		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
	}
	return false, lastErr
}
