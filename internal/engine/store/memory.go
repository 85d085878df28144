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

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore 内存实现：单一互斥锁即满足全部原子组；单进程与测试用，多进程需 Postgres 实现
type MemoryStore struct {
	mu      sync.Mutex
	execs   map[string]*Execution
	steps   map[string]map[string]*StepResult // execID → stepID → record
	timers  map[string]*Timer                 // execID+"\x00"+stepID
	waiters map[string]map[string]*SignalWaiter // signalID → execID+"\x00"+stepID
	notes   map[string][]*Note
	now     func() time.Time
}

// NewMemoryStore 创建内存 Store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		execs:   make(map[string]*Execution),
		steps:   make(map[string]map[string]*StepResult),
		timers:  make(map[string]*Timer),
		waiters: make(map[string]map[string]*SignalWaiter),
		notes:   make(map[string][]*Note),
		now:     time.Now,
	}
}

// SetClock 覆盖时钟，仅测试使用
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func timerKey(execID, stepID string) string { return execID + "\x00" + stepID }

func copyExec(e *Execution) *Execution {
	cp := *e
	if e.Input != nil {
		cp.Input = append([]byte(nil), e.Input...)
	}
	if e.Result != nil {
		cp.Result = append([]byte(nil), e.Result...)
	}
	if e.Error != nil {
		errCp := *e.Error
		cp.Error = &errCp
	}
	if e.Lease != nil {
		leaseCp := *e.Lease
		cp.Lease = &leaseCp
	}
	cp.CompletedAt = copyTime(e.CompletedAt)
	cp.WakeAt = copyTime(e.WakeAt)
	cp.SignaledAt = copyTime(e.SignaledAt)
	return &cp
}

func copyStep(r *StepResult) *StepResult {
	cp := *r
	if r.Value != nil {
		cp.Value = append([]byte(nil), r.Value...)
	}
	cp.CompletedAt = copyTime(r.CompletedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func (s *MemoryStore) CreateExecution(ctx context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[exec.ID]; ok {
		return ErrExecutionExists
	}
	cp := copyExec(exec)
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = cp.CreatedAt
	if cp.Status == "" {
		cp.Status = StatusPending
	}
	s.execs[cp.ID] = cp
	return nil
}

func (s *MemoryStore) LoadExecution(ctx context.Context, id string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return copyExec(e), nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, filter Filter, page Page) ([]*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Execution
	for _, e := range s.execs {
		if filter.TaskID != "" && e.TaskID != filter.TaskID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, copyExec(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if page.Offset > 0 {
		if page.Offset >= len(out) {
			return nil, nil
		}
		out = out[page.Offset:]
	}
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

// Claim 实现 §4.3 的认领优先级；认领即把 execution 置为 running 并清除唤醒标记，
// waiting 中的 StepResult 保留给 replay 促升
func (s *MemoryStore) Claim(ctx context.Context, ownerID string, ttl time.Duration) (*Claimed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	var dueTimer, signaled, pending, expired []*Execution
	for _, e := range s.execs {
		if e.Status.Terminal() {
			continue
		}
		if e.Lease != nil && e.Lease.ExpiresAt.After(now) {
			continue
		}
		switch e.Status {
		case StatusSleeping, StatusRetrying:
			if e.WakeAt != nil && !e.WakeAt.After(now) {
				dueTimer = append(dueTimer, e)
			}
		case StatusWaitingSignal:
			if e.SignaledAt != nil {
				signaled = append(signaled, e)
			} else if e.WakeAt != nil && !e.WakeAt.After(now) {
				dueTimer = append(dueTimer, e)
			}
		case StatusPending:
			pending = append(pending, e)
		case StatusRunning:
			// 租约已过期（上面过滤掉了未过期的）
			if e.Lease != nil {
				expired = append(expired, e)
			}
		}
	}

	sort.Slice(dueTimer, func(i, j int) bool {
		if !dueTimer[i].WakeAt.Equal(*dueTimer[j].WakeAt) {
			return dueTimer[i].WakeAt.Before(*dueTimer[j].WakeAt)
		}
		return dueTimer[i].ID < dueTimer[j].ID
	})
	sort.Slice(signaled, func(i, j int) bool {
		if !signaled[i].SignaledAt.Equal(*signaled[j].SignaledAt) {
			return signaled[i].SignaledAt.Before(*signaled[j].SignaledAt)
		}
		return signaled[i].ID < signaled[j].ID
	})
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })

	var target *Execution
	for _, class := range [][]*Execution{dueTimer, signaled, pending, expired} {
		if len(class) > 0 {
			target = class[0]
			break
		}
	}
	if target == nil {
		return nil, ErrNoClaimable
	}

	leaseID := "lease-" + uuid.New().String()
	target.Lease = &Lease{ID: leaseID, Owner: ownerID, ExpiresAt: now.Add(ttl)}
	target.Status = StatusRunning
	target.WakeAt = nil
	target.SignaledAt = nil
	target.PendingSignalID = ""
	target.UpdatedAt = now
	return &Claimed{Execution: copyExec(target), LeaseID: leaseID}, nil
}

func (s *MemoryStore) RenewLease(ctx context.Context, execID, leaseID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[execID]
	if !ok {
		return false, ErrExecutionNotFound
	}
	now := s.now()
	if e.Lease == nil || e.Lease.ID != leaseID || !e.Lease.ExpiresAt.After(now) {
		return false, nil
	}
	e.Lease.ExpiresAt = now.Add(ttl)
	e.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) ReleaseLease(ctx context.Context, execID, leaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[execID]
	if !ok {
		return ErrExecutionNotFound
	}
	if e.Lease != nil && e.Lease.ID == leaseID {
		e.Lease = nil
		e.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) AppendStepResult(ctx context.Context, rec *StepResult, attach AppendAttach) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[rec.ExecutionID]; !ok {
		return ErrExecutionNotFound
	}
	byStep := s.steps[rec.ExecutionID]
	if byStep == nil {
		byStep = make(map[string]*StepResult)
		s.steps[rec.ExecutionID] = byStep
	}
	if _, ok := byStep[rec.StepID]; ok {
		return ErrDuplicateStepID
	}
	byStep[rec.StepID] = copyStep(rec)
	if attach.Timer != nil {
		t := *attach.Timer
		s.timers[timerKey(t.ExecutionID, t.StepID)] = &t
	}
	if attach.Waiter != nil {
		w := *attach.Waiter
		w.Deadline = copyTime(attach.Waiter.Deadline)
		if w.CreatedAt.IsZero() {
			w.CreatedAt = s.now()
		}
		bySig := s.waiters[w.SignalID]
		if bySig == nil {
			bySig = make(map[string]*SignalWaiter)
			s.waiters[w.SignalID] = bySig
		}
		bySig[timerKey(w.ExecutionID, w.StepID)] = &w
	}
	return nil
}

func (s *MemoryStore) PromoteWaitingStep(ctx context.Context, execID, stepID string, value []byte, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStep := s.steps[execID]
	rec, ok := byStep[stepID]
	if !ok || !rec.Waiting() {
		return ErrStepNotWaiting
	}
	rec.Value = append([]byte(nil), value...)
	at := completedAt
	rec.CompletedAt = &at
	delete(s.timers, timerKey(execID, stepID))
	for sig, bySig := range s.waiters {
		delete(bySig, timerKey(execID, stepID))
		if len(bySig) == 0 {
			delete(s.waiters, sig)
		}
	}
	return nil
}

func (s *MemoryStore) ListStepResults(ctx context.Context, execID string) ([]*StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStep := s.steps[execID]
	out := make([]*StepResult, 0, len(byStep))
	for _, rec := range byStep {
		out = append(out, copyStep(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out, nil
}

func (s *MemoryStore) DueTimers(ctx context.Context, now time.Time) ([]*Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Timer
	for _, t := range s.timers {
		if !t.WakeAt.After(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WakeAt.Equal(out[j].WakeAt) {
			return out[i].WakeAt.Before(out[j].WakeAt)
		}
		return timerKey(out[i].ExecutionID, out[i].StepID) < timerKey(out[j].ExecutionID, out[j].StepID)
	})
	return out, nil
}

func (s *MemoryStore) ArmTimer(ctx context.Context, t *Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.timers[timerKey(t.ExecutionID, t.StepID)] = &cp
	return nil
}

func (s *MemoryStore) CancelTimer(ctx context.Context, execID, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, timerKey(execID, stepID))
	return nil
}

// SignalReady 原子组 (d)：对每个命中的 waiter，payload 写入 pending StepResult、
// 删除 waiter 与成对的 signal_timeout timer、置位 execution.SignaledAt
func (s *MemoryStore) SignalReady(ctx context.Context, signalID string, payload []byte, onlyExecID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySig := s.waiters[signalID]
	if len(bySig) == 0 {
		return nil, nil
	}
	now := s.now()
	var affected []string
	for key, w := range bySig {
		if onlyExecID != "" && w.ExecutionID != onlyExecID {
			continue
		}
		rec := s.steps[w.ExecutionID][w.StepID]
		if rec == nil || !rec.Waiting() {
			delete(bySig, key)
			continue
		}
		rec.Value = append([]byte(nil), payload...)
		delete(s.timers, timerKey(w.ExecutionID, w.StepID))
		delete(bySig, key)
		if e, ok := s.execs[w.ExecutionID]; ok {
			at := now
			e.SignaledAt = &at
			e.UpdatedAt = now
		}
		affected = append(affected, w.ExecutionID)
	}
	if len(bySig) == 0 {
		delete(s.waiters, signalID)
	}
	sort.Strings(affected)
	return affected, nil
}

func (s *MemoryStore) UpdateExecutionStatus(ctx context.Context, execID string, from, to Status, patch StatusPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[execID]
	if !ok {
		return false, ErrExecutionNotFound
	}
	if e.Status != from {
		return false, nil
	}
	applyPatch(e, to, patch, s.now())
	return true, nil
}

func (s *MemoryStore) CancelExecution(ctx context.Context, execID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[execID]
	if !ok {
		return false, ErrExecutionNotFound
	}
	if e.Status.Terminal() {
		return false, nil
	}
	now := s.now()
	e.Status = StatusCancelled
	e.CompletedAt = &now
	e.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) AppendNote(ctx context.Context, execID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[execID]; !ok {
		return ErrExecutionNotFound
	}
	s.notes[execID] = append(s.notes[execID], &Note{
		ExecutionID: execID,
		Seq:         len(s.notes[execID]),
		Message:     message,
		CreatedAt:   s.now(),
	})
	return nil
}

func (s *MemoryStore) ListNotes(ctx context.Context, execID string) ([]*Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes := s.notes[execID]
	out := make([]*Note, 0, len(notes))
	for _, n := range notes {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func applyPatch(e *Execution, to Status, patch StatusPatch, now time.Time) {
	e.Status = to
	e.UpdatedAt = now
	if patch.Attempt != nil {
		e.Attempt = *patch.Attempt
	}
	if patch.Result != nil {
		e.Result = append([]byte(nil), patch.Result...)
	}
	if patch.Error != nil {
		errCp := *patch.Error
		e.Error = &errCp
	}
	if patch.CompletedAt != nil {
		e.CompletedAt = copyTime(patch.CompletedAt)
	}
	if patch.WakeAt != nil {
		e.WakeAt = copyTime(patch.WakeAt)
	} else if patch.ClearWakeAt {
		e.WakeAt = nil
	}
	if patch.PendingSignalID != nil {
		e.PendingSignalID = strings.TrimSpace(*patch.PendingSignalID)
	}
}
