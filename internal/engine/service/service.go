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

// Package service 面向应用代码与 HTTP 层的外部入口：启动、等待、signal、
// 取消、结构描述与 introspection
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flow-platform/internal/engine/serde"
	"flow-platform/internal/engine/signalbus"
	"flow-platform/internal/engine/store"
	"flow-platform/internal/engine/worker"
	"flow-platform/internal/engine/workflow"
	"flow-platform/pkg/log"
)

// ExecutionFailedError Wait 对 failed 终态抛出的错误，Cause 为落盘的失败记录
type ExecutionFailedError struct {
	ExecutionID string
	Cause       *store.ExecError
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("execution %s failed: %s", e.ExecutionID, e.Cause.Message)
}

// CancelledError Wait 对 cancelled 终态抛出的错误
type CancelledError struct {
	ExecutionID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("execution %s was cancelled", e.ExecutionID)
}

// WaitTimeoutError 客户端等待超时；执行本身继续推进
type WaitTimeoutError struct {
	ExecutionID string
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for execution %s", e.ExecutionID)
}

// TaskNotFoundError taskID 未注册
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %q not registered", e.TaskID)
}

// Service 组合 Store、Registry、SignalBus 与唤醒队列
type Service struct {
	store    store.Store
	codec    serde.Codec
	registry *workflow.Registry
	bus      *signalbus.Bus
	wakeup   worker.Wakeup
	logger   *log.Logger
}

func New(st store.Store, codec serde.Codec, registry *workflow.Registry, bus *signalbus.Bus, wakeup worker.Wakeup, logger *log.Logger) *Service {
	return &Service{store: st, codec: codec, registry: registry, bus: bus, wakeup: wakeup, logger: logger}
}

// Start 创建一条 pending 执行并唤醒本地 Worker，返回执行 id
func (s *Service) Start(ctx context.Context, taskID string, input any) (string, error) {
	if s.registry.Lookup(taskID) == nil {
		return "", &TaskNotFoundError{TaskID: taskID}
	}
	encoded, err := s.codec.Encode(input)
	if err != nil {
		return "", err
	}
	execID := "exec-" + uuid.New().String()
	if err := s.store.CreateExecution(ctx, &store.Execution{
		ID:     execID,
		TaskID: taskID,
		Input:  encoded,
	}); err != nil {
		return "", err
	}
	if err := s.wakeup.NotifyReady(ctx, execID); err != nil {
		s.logger.Warn("唤醒通知失败", "execution_id", execID, "error", err)
	}
	s.logger.Info("执行已创建", "execution_id", execID, "task_id", taskID)
	return execID, nil
}

// WaitOptions Wait 的客户端侧轮询参数
type WaitOptions struct {
	// Timeout <= 0 表示无限等待
	Timeout time.Duration
	// PollInterval <= 0 取 50ms
	PollInterval time.Duration
}

// Wait 轮询直到终态。completed 把结果解到 out（out 可为 nil），
// failed/cancelled 抛对应错误，客户端超时抛 WaitTimeoutError 但不影响执行
func (s *Service) Wait(ctx context.Context, execID string, opts WaitOptions, out any) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}
	for {
		exec, err := s.store.LoadExecution(ctx, execID)
		if err != nil {
			return err
		}
		switch exec.Status {
		case store.StatusCompleted:
			if out == nil {
				return nil
			}
			return serde.Bind(s.codec, exec.Result, out)
		case store.StatusFailed:
			return &ExecutionFailedError{ExecutionID: execID, Cause: exec.Error}
		case store.StatusCancelled:
			return &CancelledError{ExecutionID: execID}
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return &WaitTimeoutError{ExecutionID: execID}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// StartAndWait 组合启动与等待；无论成败都返回执行 id 供后续查询
func (s *Service) StartAndWait(ctx context.Context, taskID string, input any, opts WaitOptions, out any) (string, error) {
	execID, err := s.Start(ctx, taskID, input)
	if err != nil {
		return "", err
	}
	return execID, s.Wait(ctx, execID, opts, out)
}

// Signal 定向投递 signal 到单个执行；没有对应 waiter 时静默丢弃
func (s *Service) Signal(ctx context.Context, execID, signalID string, payload any) error {
	_, err := s.bus.PostTo(ctx, signalID, execID, payload)
	return err
}

// Broadcast 广播 signal 给所有 waiter，返回被唤醒的执行 id
func (s *Service) Broadcast(ctx context.Context, signalID string, payload any) ([]string, error) {
	return s.bus.Post(ctx, signalID, payload)
}

// Cancel 把非终态执行置为 cancelled；在途 attempt 的落盘会被状态 CAS 拒绝。
// 返回是否真的发生了取消
func (s *Service) Cancel(ctx context.Context, execID string) (bool, error) {
	if _, err := s.store.LoadExecution(ctx, execID); err != nil {
		return false, err
	}
	ok, err := s.store.CancelExecution(ctx, execID)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Info("执行已取消", "execution_id", execID)
	}
	return ok, nil
}

// Describe 干跑用户过程，返回声明的步骤结构；回调不执行、不落盘。
// defaultInput 供依赖输入的分支选择默认路径
func (s *Service) Describe(ctx context.Context, taskID string, defaultInput any) ([]workflow.StepInfo, error) {
	task := s.registry.Lookup(taskID)
	if task == nil {
		return nil, &TaskNotFoundError{TaskID: taskID}
	}
	encoded, err := s.codec.Encode(defaultInput)
	if err != nil {
		return nil, err
	}
	rec := &workflow.Recorder{}
	wc := workflow.NewDescribeContext(ctx, s.codec, rec)
	if _, err := task.Run(wc, encoded); err != nil {
		return nil, err
	}
	return rec.Steps(), nil
}

// Tasks 已注册 task id
func (s *Service) Tasks() []string {
	return s.registry.IDs()
}

// GetExecution introspection：单条执行
func (s *Service) GetExecution(ctx context.Context, execID string) (*store.Execution, error) {
	return s.store.LoadExecution(ctx, execID)
}

// ListExecutions introspection：过滤 + 分页
func (s *Service) ListExecutions(ctx context.Context, filter store.Filter, page store.Page) ([]*store.Execution, error) {
	return s.store.ListExecutions(ctx, filter, page)
}

// ListStepResults introspection：执行的 journal
func (s *Service) ListStepResults(ctx context.Context, execID string) ([]*store.StepResult, error) {
	if _, err := s.store.LoadExecution(ctx, execID); err != nil {
		return nil, err
	}
	return s.store.ListStepResults(ctx, execID)
}

// ListNotes introspection：执行的审计备注
func (s *Service) ListNotes(ctx context.Context, execID string) ([]*store.Note, error) {
	if _, err := s.store.LoadExecution(ctx, execID); err != nil {
		return nil, err
	}
	return s.store.ListNotes(ctx, execID)
}
