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

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"flow-platform/internal/engine/serde"
	"flow-platform/internal/engine/store"
	"flow-platform/pkg/tracing"
)

// Context 暴露给用户过程的 API。每次 attempt 用户过程从头重放，
// 已 journal 的步骤短路返回历史结果，未 journal 的步骤真正执行并落盘。
// 并发安全性：同一 Context 只在单个 goroutine 内使用
type Context struct {
	ctx    context.Context
	store  store.Store
	codec  serde.Codec
	execID string

	// journal 由 ListStepResults 预载；promote 后就地更新
	journal map[string]*store.StepResult
	// used 本次 attempt 已见过的 stepID，防同次重复
	used map[string]bool
	// prefix switch 分支内嵌套调用的 stepID 前缀
	prefix string

	now func() time.Time

	// recorder 非 nil 时为 Describe 干跑模式：只记录结构，不执行回调、不落盘
	recorder *Recorder
}

// NewContext 为一次 attempt 构建重放上下文
func NewContext(ctx context.Context, st store.Store, codec serde.Codec, execID string, journal []*store.StepResult) *Context {
	m := make(map[string]*store.StepResult, len(journal))
	for _, rec := range journal {
		m[rec.StepID] = rec
	}
	return &Context{
		ctx:     ctx,
		store:   st,
		codec:   codec,
		execID:  execID,
		journal: m,
		used:    make(map[string]bool),
		now:     time.Now,
	}
}

// Context 返回本次 attempt 的取消上下文；租约丢失或 worker 停机时被取消
func (c *Context) Context() context.Context { return c.ctx }

// ExecutionID 当前执行 id
func (c *Context) ExecutionID() string { return c.execID }

// sleepState sleep 等待中的 journal 值，记录唤醒时间
type sleepState struct {
	State  string    `json:"state"`
	WakeAt time.Time `json:"wakeAt"`
}

// signalState signal_wait 的 journal 值。等待中 State=="waiting"；
// SignalReady 用 {kind:"signal",data} 整体覆盖；超时促升为 {kind:"timeout"}
type signalState struct {
	State    string          `json:"state,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	SignalID string          `json:"signalId,omitempty"`
	Deadline *time.Time      `json:"deadline,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type switchState struct {
	Branch string `json:"branch"`
}

// claimStep stepID 前缀化 + 同次重复检测 + kind 一致性校验。
// 返回已有 journal 记录（无则 nil）
func (c *Context) claimStep(stepID string, kind store.StepKind) (string, *store.StepResult, error) {
	full := c.prefix + stepID
	if c.used[full] {
		return "", nil, &DuplicateStepIDError{StepID: full}
	}
	c.used[full] = true
	rec := c.journal[full]
	if rec != nil && rec.Kind != kind {
		return "", nil, &NonDeterminismError{StepID: full, JournaledKind: rec.Kind, CallKind: kind}
	}
	return full, rec, nil
}

func (c *Context) append(rec *store.StepResult, attach store.AppendAttach) error {
	if err := c.store.AppendStepResult(c.ctx, rec, attach); err != nil {
		if errors.Is(err, store.ErrDuplicateStepID) {
			// 两个并发 attempt 撞在同一 stepID 上（理论上租约应排除），按编程错误处理
			return &DuplicateStepIDError{StepID: rec.StepID}
		}
		return err
	}
	c.journal[rec.StepID] = rec
	return nil
}

// Step 执行一个有副作用的步骤并 journal 其结果；replay 时短路返回历史值，fn 不再执行
func Step[T any](c *Context, stepID string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if c.recorder != nil {
		c.recorder.record(c.prefix+stepID, store.KindStep, nil)
		return zero, nil
	}
	full, rec, err := c.claimStep(stepID, store.KindStep)
	if err != nil {
		return zero, err
	}
	if rec != nil {
		var out T
		if err := serde.Bind(c.codec, rec.Value, &out); err != nil {
			return zero, err
		}
		return out, nil
	}

	stepCtx, span := tracing.StartStepSpan(c.ctx, c.execID, full)
	out, err := fn(stepCtx)
	span.End()
	if err != nil {
		return zero, err
	}
	value, err := c.codec.Encode(out)
	if err != nil {
		return zero, err
	}
	done := c.now()
	if err := c.append(&store.StepResult{
		ExecutionID: c.execID,
		StepID:      full,
		Kind:        store.KindStep,
		Value:       value,
		CompletedAt: &done,
	}, store.AppendAttach{}); err != nil {
		return zero, err
	}
	return out, nil
}

// Sleep 持久睡眠。首遇时原子写入 waiting 记录 + Timer 并挂起；
// 唤醒后的 replay 里到点促升、未到点再挂起。d <= 0 直接落完成记录不挂起
func (c *Context) Sleep(stepID string, d time.Duration) error {
	if c.recorder != nil {
		c.recorder.record(c.prefix+stepID, store.KindSleep, nil)
		return nil
	}
	full, rec, err := c.claimStep(stepID, store.KindSleep)
	if err != nil {
		return err
	}
	now := c.now()

	if rec == nil {
		wakeAt := now.Add(d)
		value, err := json.Marshal(sleepState{State: "sleeping", WakeAt: wakeAt})
		if err != nil {
			return err
		}
		if d <= 0 {
			done := now
			return c.append(&store.StepResult{
				ExecutionID: c.execID, StepID: full, Kind: store.KindSleep,
				Value: value, CompletedAt: &done,
			}, store.AppendAttach{})
		}
		if err := c.append(&store.StepResult{
			ExecutionID: c.execID, StepID: full, Kind: store.KindSleep, Value: value,
		}, store.AppendAttach{
			Timer: &store.Timer{ExecutionID: c.execID, StepID: full, WakeAt: wakeAt, Reason: store.TimerSleep},
		}); err != nil {
			return err
		}
		return &Suspend{Reason: SuspendSleep, StepID: full, WakeAt: &wakeAt}
	}

	if !rec.Waiting() {
		return nil
	}
	var st sleepState
	if err := json.Unmarshal(rec.Value, &st); err != nil {
		return err
	}
	if st.WakeAt.After(now) {
		// 过期租约回收等原因提前被认领，时辰未到，原样再挂起
		wakeAt := st.WakeAt
		return &Suspend{Reason: SuspendSleep, StepID: full, WakeAt: &wakeAt}
	}
	if err := c.store.PromoteWaitingStep(c.ctx, c.execID, full, rec.Value, now); err != nil {
		return err
	}
	done := now
	rec.CompletedAt = &done
	return nil
}

// SignalOutcome waitForSignal 的 tagged union：收到 signal 或超时
type SignalOutcome[T any] struct {
	Received bool
	Data     T
}

// WaitForSignal 等待名为 signalID 的外部事件。timeout < 0 表示无限等待，
// timeout == 0 立即按超时落盘不挂起，timeout > 0 由 Store 侧 Timer 兜底促升为超时。
// 同一 waiter 至多消费一条 signal，后续同名 signal 归新的 WaitForSignal
func WaitForSignal[T any](c *Context, stepID, signalID string, timeout time.Duration) (SignalOutcome[T], error) {
	var zero SignalOutcome[T]
	if c.recorder != nil {
		c.recorder.record(c.prefix+stepID, store.KindSignalWait, nil)
		return zero, nil
	}
	full, rec, err := c.claimStep(stepID, store.KindSignalWait)
	if err != nil {
		return zero, err
	}
	now := c.now()

	if rec == nil {
		if timeout == 0 {
			value, err := json.Marshal(signalState{Kind: "timeout"})
			if err != nil {
				return zero, err
			}
			if err := c.append(&store.StepResult{
				ExecutionID: c.execID, StepID: full, Kind: store.KindSignalWait,
				Value: value, CompletedAt: &now,
			}, store.AppendAttach{}); err != nil {
				return zero, err
			}
			return SignalOutcome[T]{Received: false}, nil
		}
		st := signalState{State: "waiting", SignalID: signalID}
		attach := store.AppendAttach{
			Waiter: &store.SignalWaiter{SignalID: signalID, ExecutionID: c.execID, StepID: full, CreatedAt: now},
		}
		if timeout > 0 {
			deadline := now.Add(timeout)
			st.Deadline = &deadline
			attach.Waiter.Deadline = &deadline
			attach.Timer = &store.Timer{ExecutionID: c.execID, StepID: full, WakeAt: deadline, Reason: store.TimerSignalTimeout}
		}
		value, err := json.Marshal(st)
		if err != nil {
			return zero, err
		}
		if err := c.append(&store.StepResult{
			ExecutionID: c.execID, StepID: full, Kind: store.KindSignalWait, Value: value,
		}, attach); err != nil {
			return zero, err
		}
		return zero, &Suspend{Reason: SuspendSignal, StepID: full, SignalID: signalID, WakeAt: st.Deadline}
	}

	var st signalState
	if len(rec.Value) > 0 {
		if err := json.Unmarshal(rec.Value, &st); err != nil {
			return zero, err
		}
	}

	if rec.Waiting() {
		switch {
		case st.Kind == "signal":
			// payload 已由 SignalReady 写入，促升并消费
			if err := c.store.PromoteWaitingStep(c.ctx, c.execID, full, rec.Value, now); err != nil {
				return zero, err
			}
			done := now
			rec.CompletedAt = &done
		case st.Deadline != nil && !st.Deadline.After(now):
			// 超时 timer 到点，促升为 timeout
			timedOut, err := json.Marshal(signalState{Kind: "timeout"})
			if err != nil {
				return zero, err
			}
			if err := c.store.PromoteWaitingStep(c.ctx, c.execID, full, timedOut, now); err != nil {
				return zero, err
			}
			done := now
			rec.Value = timedOut
			rec.CompletedAt = &done
			st = signalState{Kind: "timeout"}
		default:
			return zero, &Suspend{Reason: SuspendSignal, StepID: full, SignalID: st.SignalID, WakeAt: st.Deadline}
		}
	}

	if st.Kind == "timeout" {
		return SignalOutcome[T]{Received: false}, nil
	}
	var data T
	if len(st.Data) > 0 {
		if err := serde.Bind(c.codec, st.Data, &data); err != nil {
			return zero, err
		}
	}
	return SignalOutcome[T]{Received: true, Data: data}, nil
}

// Branch switch 的一个分支。Match 只在首遇时求值，选中的分支 id 会被 journal；
// Run 内的嵌套 ctx 调用以 "<switchStepID>/<branchID>/" 为前缀隔离
type Branch[D, T any] struct {
	ID    string
	Match func(d D) bool
	Run   func(c *Context) (T, error)
}

// Switch journal 化的分支选择。replay 按记录的分支 id 重选，不再求值 Match，
// 代码演进删掉已记录的分支算非确定性错误
func Switch[D, T any](c *Context, stepID string, d D, branches []Branch[D, T]) (T, error) {
	var zero T
	if c.recorder != nil {
		return describeSwitch(c, stepID, d, branches)
	}
	full, rec, err := c.claimStep(stepID, store.KindSwitch)
	if err != nil {
		return zero, err
	}
	now := c.now()

	var chosen *Branch[D, T]
	if rec != nil {
		var st switchState
		if err := json.Unmarshal(rec.Value, &st); err != nil {
			return zero, err
		}
		for i := range branches {
			if branches[i].ID == st.Branch {
				chosen = &branches[i]
				break
			}
		}
		if chosen == nil {
			return zero, &NonDeterminismError{StepID: full, JournaledKind: store.KindSwitch, CallKind: store.KindSwitch}
		}
	} else {
		for i := range branches {
			if branches[i].Match(d) {
				chosen = &branches[i]
				break
			}
		}
		if chosen == nil {
			return zero, &NoBranchError{StepID: full}
		}
		value, err := json.Marshal(switchState{Branch: chosen.ID})
		if err != nil {
			return zero, err
		}
		if err := c.append(&store.StepResult{
			ExecutionID: c.execID, StepID: full, Kind: store.KindSwitch, Value: value, CompletedAt: &now,
		}, store.AppendAttach{}); err != nil {
			return zero, err
		}
	}

	resultKey := full + "/" + chosen.ID
	if done := c.journal[resultKey]; done != nil && !done.Waiting() {
		if done.Kind != store.KindStep {
			return zero, &NonDeterminismError{StepID: resultKey, JournaledKind: done.Kind, CallKind: store.KindStep}
		}
		c.used[resultKey] = true
		var out T
		if err := serde.Bind(c.codec, done.Value, &out); err != nil {
			return zero, err
		}
		return out, nil
	}

	sub := c.branchContext(resultKey + "/")
	out, err := chosen.Run(sub)
	if err != nil {
		return zero, err
	}
	value, err := c.codec.Encode(out)
	if err != nil {
		return zero, err
	}
	done := c.now()
	c.used[resultKey] = true
	if err := c.append(&store.StepResult{
		ExecutionID: c.execID, StepID: resultKey, Kind: store.KindStep, Value: value, CompletedAt: &done,
	}, store.AppendAttach{}); err != nil {
		return zero, err
	}
	return out, nil
}

// branchContext 共享 journal/used，仅换前缀
func (c *Context) branchContext(prefix string) *Context {
	sub := *c
	sub.prefix = prefix
	return &sub
}

// Note 追加一条审计备注；不进 journal key 空间，replay 不消费。
// 同一条代码路径重放会再次执行——Note 幂等与否由调用方自担
func (c *Context) Note(message string) error {
	if c.recorder != nil {
		return nil
	}
	return c.store.AppendNote(c.ctx, c.execID, message)
}

// NoBranchError switch 的所有 Match 都未命中
type NoBranchError struct {
	StepID string
}

func (e *NoBranchError) Error() string {
	return "switch " + e.StepID + ": no branch matched"
}
