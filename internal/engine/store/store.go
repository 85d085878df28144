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

// Package store 定义持久化抽象：executions、step_results、timers、signal_waiters 与租约。
// 内存实现用单一互斥锁保证原子组 (a)–(d)；Postgres 实现用事务（design/checkpoint-store.md）。
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status 执行状态机：pending → running → (sleeping|waiting_for_signal|retrying)* → 终态
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusSleeping      Status = "sleeping"
	StatusWaitingSignal Status = "waiting_for_signal"
	StatusRetrying      Status = "retrying"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// Terminal 终态吸收：completed/failed/cancelled 之后不再迁移（取消对终态为 no-op）
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// StepKind Journal 条目类型；replay 时与当前调用核对，不一致即 NonDeterminism
type StepKind string

const (
	KindStep       StepKind = "step"
	KindSleep      StepKind = "sleep"
	KindSignalWait StepKind = "signal_wait"
	KindSwitch     StepKind = "switch"
	KindNote       StepKind = "note"
)

// TimerReason 定时器来源
type TimerReason string

const (
	TimerSleep         TimerReason = "sleep"
	TimerSignalTimeout TimerReason = "signal_timeout"
)

// ExecError 持久化的失败记录；loadExecution(id).Error 是失败的权威来源
type ExecError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Lease 租约：同一 execution 同一时刻至多一个未过期租约
type Lease struct {
	ID        string
	Owner     string
	ExpiresAt time.Time
}

// Execution 持久化的执行实体
type Execution struct {
	ID              string
	TaskID          string
	Input           []byte
	Status          Status
	Attempt         int
	Result          []byte
	Error           *ExecError
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	Lease           *Lease
	// WakeAt 调度器需要唤醒该执行的时刻：sleep 的 wakeAt、signal 等待的 deadline、retry 的下一次尝试时刻
	WakeAt          *time.Time
	// PendingSignalID 当前等待的 signal id，仅 waiting_for_signal 时非空
	PendingSignalID string
	// SignaledAt SignalReady 置位，表示 payload 已写入待促升的 StepResult；claim 以此识别「已被唤醒的等待者」
	SignaledAt      *time.Time
}

// StepResult journal 条目；(ExecutionID, StepID) 唯一，非 waiting 值写入后不可变
type StepResult struct {
	ExecutionID string
	StepID      string
	Kind        StepKind
	Value       []byte
	// CompletedAt 为 nil 表示 waiting 占位（sleep/signal 挂起中）
	CompletedAt *time.Time
}

// Waiting 该条目是否仍处于 waiting 占位状态
func (r *StepResult) Waiting() bool { return r.CompletedAt == nil }

// Timer 待唤醒事件；与 waiting 状态的 StepResult 冗余，作为「到期扫描」的索引
type Timer struct {
	ExecutionID string
	StepID      string
	WakeAt      time.Time
	Reason      TimerReason
}

// SignalWaiter 订阅行；signal 触发或超时到期时原子删除
type SignalWaiter struct {
	SignalID    string
	ExecutionID string
	StepID      string
	CreatedAt   time.Time
	Deadline    *time.Time
}

// Note 审计附注；不参与 replay
type Note struct {
	ExecutionID string
	Seq         int
	Message     string
	CreatedAt   time.Time
}

var (
	// ErrNoClaimable 当前没有可认领的执行
	ErrNoClaimable = errors.New("store: no claimable execution")
	// ErrExecutionNotFound 执行不存在
	ErrExecutionNotFound = errors.New("store: execution not found")
	// ErrExecutionExists CreateExecution 时 id 冲突
	ErrExecutionExists = errors.New("store: execution already exists")
	// ErrDuplicateStepID (execID, stepID) 键冲突；并发写 journal 的失败方丢弃结果
	ErrDuplicateStepID = errors.New("store: duplicate step id")
	// ErrStepNotWaiting PromoteWaitingStep 的目标不处于 waiting 状态
	ErrStepNotWaiting = errors.New("store: step result is not waiting")
	// ErrLeaseNotHeld 续租/释放时租约不归调用者或已过期
	ErrLeaseNotHeld = errors.New("store: lease not held")
)

// StoreError 持久化故障包装；Worker 将其视为瞬态并有限重试
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// Claimed Claim 的返回：执行快照 + 租约 id
type Claimed struct {
	Execution *Execution
	LeaseID   string
}

// AppendAttach AppendStepResult 的同事务附加写（原子组 (a)）
type AppendAttach struct {
	Timer  *Timer
	Waiter *SignalWaiter
}

// StatusPatch UpdateExecutionStatus 随状态迁移一并落库的字段
type StatusPatch struct {
	Attempt     *int
	Result      []byte
	Error       *ExecError
	CompletedAt *time.Time
	WakeAt      *time.Time
	ClearWakeAt bool
	// PendingSignalID 非 nil 时设置（空串即清除）。
	// SignaledAt 不在此清除：信号可能赶在挂起转移之前送达，标记由 Claim 消费
	PendingSignalID *string
}

// Filter ListExecutions 过滤
type Filter struct {
	TaskID string
	Status Status
}

// Page 分页；Limit<=0 表示不限制
type Page struct {
	Offset int
	Limit  int
}

// Store 持久化接口；所有实现必须保持原子组：
// (a) AppendStepResult + 其附带的 Timer/Waiter 写；
// (b) PromoteWaitingStep + Timer/Waiter 删除；
// (c) Claim（状态迁移 + 租约写入）；
// (d) SignalReady（waiter 删除 + StepResult payload 写 + timer 取消）。
type Store interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	LoadExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, filter Filter, page Page) ([]*Execution, error)

	// Claim 按优先级认领一个可执行的 execution 并取得租约：
	// 到期 timer（wakeAt 升序）→ 已收到 signal（到达顺序）→ pending（createdAt 升序）→ 过期租约回收；
	// 同级按 id 决定次序。无可认领返回 ErrNoClaimable。
	Claim(ctx context.Context, ownerID string, ttl time.Duration) (*Claimed, error)
	// RenewLease 仅当租约仍归 leaseID 持有且未过期时延长；返回 false 表示租约已丢失
	RenewLease(ctx context.Context, execID, leaseID string, ttl time.Duration) (bool, error)
	// ReleaseLease 仅删除属于 leaseID 的租约；他人租约不受影响
	ReleaseLease(ctx context.Context, execID, leaseID string) error

	// AppendStepResult 键冲突时返回 ErrDuplicateStepID；attach 与主写同事务
	AppendStepResult(ctx context.Context, rec *StepResult, attach AppendAttach) error
	// PromoteWaitingStep 将 waiting 占位替换为最终值，并原子删除关联 Timer/Waiter
	PromoteWaitingStep(ctx context.Context, execID, stepID string, value []byte, completedAt time.Time) error
	ListStepResults(ctx context.Context, execID string) ([]*StepResult, error)

	DueTimers(ctx context.Context, now time.Time) ([]*Timer, error)
	ArmTimer(ctx context.Context, t *Timer) error
	CancelTimer(ctx context.Context, execID, stepID string) error

	// SignalReady 将 signalID 的全部（或 onlyExecID 指定的单个）waiter 置为 ready：
	// payload 写入对应 StepResult 的 pending 值、删除 waiter 与成对的 signal_timeout timer、
	// 置位 execution.SignaledAt；返回受影响的 execution id
	SignalReady(ctx context.Context, signalID string, payload []byte, onlyExecID string) ([]string, error)

	// UpdateExecutionStatus 按 from 状态 CAS 迁移；false 表示当前状态已不是 from（如已被取消），调用方静默丢弃
	UpdateExecutionStatus(ctx context.Context, execID string, from, to Status, patch StatusPatch) (bool, error)
	// CancelExecution 非终态 → cancelled；终态时 no-op 返回 false
	CancelExecution(ctx context.Context, execID string) (bool, error)

	AppendNote(ctx context.Context, execID, message string) error
	ListNotes(ctx context.Context, execID string) ([]*Note, error)
}
