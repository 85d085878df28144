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

// Package executor 推进单次 attempt：从头重放用户过程，依据返回分类结果。
// 状态迁移由 Worker 落盘，Executor 只产出 Outcome
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"flow-platform/internal/engine/serde"
	"flow-platform/internal/engine/store"
	"flow-platform/internal/engine/workflow"
)

// OutcomeKind 一次 attempt 的走向
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeSuspended OutcomeKind = "suspended"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome attempt 结果。Failed 时附 Retry 策略供 Worker 决定重试或终态
type Outcome struct {
	Kind    OutcomeKind
	Result  []byte
	Suspend *workflow.Suspend
	Err     *store.ExecError
	// Fatal 编程错误（非确定性、重复 stepID、task 未注册），不重试
	Fatal bool
	Retry workflow.RetryPolicy
}

// Executor 无自身状态，可被多个 worker goroutine 并用
type Executor struct {
	store    store.Store
	codec    serde.Codec
	registry *workflow.Registry
}

func New(st store.Store, codec serde.Codec, registry *workflow.Registry) *Executor {
	return &Executor{store: st, codec: codec, registry: registry}
}

// Advance 对已认领的执行重放一次用户过程。
// 返回 error 表示基础设施故障（journal 读写失败等），调用方应放弃本次
// attempt 并让租约自然过期回收；用户过程自身的失败进 Outcome
func (e *Executor) Advance(ctx context.Context, exec *store.Execution) (*Outcome, error) {
	task := e.registry.Lookup(exec.TaskID)
	if task == nil {
		return &Outcome{
			Kind:  OutcomeFailed,
			Err:   &store.ExecError{Message: fmt.Sprintf("task %q not registered", exec.TaskID)},
			Fatal: true,
		}, nil
	}

	journal, err := e.store.ListStepResults(ctx, exec.ID)
	if err != nil {
		return nil, err
	}
	wc := workflow.NewContext(ctx, e.store, e.codec, exec.ID, journal)

	result, runErr := e.run(task, wc, exec.Input)
	if runErr == nil {
		return &Outcome{Kind: OutcomeCompleted, Result: result, Retry: task.Retry}, nil
	}
	if s, ok := workflow.AsSuspend(runErr); ok {
		return &Outcome{Kind: OutcomeSuspended, Suspend: s, Retry: task.Retry}, nil
	}
	var se *store.StoreError
	if errors.As(runErr, &se) {
		// journal 落盘失败不算用户失败，向上抛
		return nil, runErr
	}
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		// 租约丢失或停机导致的取消，同样不消耗 attempt
		return nil, runErr
	}

	out := &Outcome{
		Kind:  OutcomeFailed,
		Err:   &store.ExecError{Message: runErr.Error()},
		Fatal: workflow.Fatal(runErr),
		Retry: task.Retry,
	}
	var pe *panicError
	if errors.As(runErr, &pe) {
		out.Err.Stack = pe.stack
	}
	return out, nil
}

// run 把用户过程的 panic 收敛为 error，栈随错误落盘
func (e *Executor) run(task *workflow.Task, wc *workflow.Context, input []byte) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: fmt.Sprint(r), stack: string(debug.Stack())}
		}
	}()
	return task.Run(wc, input)
}

type panicError struct {
	value string
	stack string
}

func (e *panicError) Error() string {
	return "panic in user procedure: " + e.value
}
