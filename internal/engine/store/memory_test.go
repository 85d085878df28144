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
	"errors"
	"testing"
	"time"
)

func mustCreate(t *testing.T, s *MemoryStore, id, taskID string) {
	t.Helper()
	if err := s.CreateExecution(context.Background(), &Execution{ID: id, TaskID: taskID}); err != nil {
		t.Fatalf("CreateExecution(%s): %v", id, err)
	}
}

func TestMemoryStore_CreateLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	mustCreate(t, s, "exec-1", "order")

	e, err := s.LoadExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("LoadExecution: %v", err)
	}
	if e.Status != StatusPending || e.TaskID != "order" {
		t.Errorf("unexpected execution: %+v", e)
	}

	if err := s.CreateExecution(ctx, &Execution{ID: "exec-1", TaskID: "order"}); !errors.Is(err, ErrExecutionExists) {
		t.Errorf("expected ErrExecutionExists, got %v", err)
	}
	if _, err := s.LoadExecution(ctx, "missing"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestMemoryStore_Claim_Empty(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Claim(context.Background(), "w1", time.Minute); !errors.Is(err, ErrNoClaimable) {
		t.Errorf("expected ErrNoClaimable, got %v", err)
	}
}

func TestMemoryStore_Claim_Pending_FIFO(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	for i, id := range []string{"exec-b", "exec-a", "exec-c"} {
		if err := s.CreateExecution(ctx, &Execution{ID: id, TaskID: "t", CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("CreateExecution: %v", err)
		}
	}
	// createdAt order wins over id order
	var got []string
	for i := 0; i < 3; i++ {
		c, err := s.Claim(ctx, "w1", time.Minute)
		if err != nil {
			t.Fatalf("Claim %d: %v", i, err)
		}
		got = append(got, c.Execution.ID)
	}
	want := []string{"exec-b", "exec-a", "exec-c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("claim order: got %v, want %v", got, want)
		}
	}
}

func TestMemoryStore_Claim_SetsLeaseAndStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	mustCreate(t, s, "exec-1", "t")

	c, err := s.Claim(ctx, "worker-a", 30*time.Second)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if c.Execution.Status != StatusRunning {
		t.Errorf("status = %s, want running", c.Execution.Status)
	}
	if c.Execution.Lease == nil || c.Execution.Lease.Owner != "worker-a" || c.LeaseID == "" {
		t.Errorf("lease not set: %+v", c.Execution.Lease)
	}

	// the running execution with a live lease is not claimable again
	if _, err := s.Claim(ctx, "worker-b", 30*time.Second); !errors.Is(err, ErrNoClaimable) {
		t.Errorf("expected ErrNoClaimable for leased execution, got %v", err)
	}
}

func TestMemoryStore_Claim_Priority(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	// pending
	mustCreate(t, s, "exec-pending", "t")
	// due timer (sleeping, wake_at in the past)
	mustCreate(t, s, "exec-sleeping", "t")
	past := now.Add(-time.Second)
	if _, err := s.UpdateExecutionStatus(ctx, "exec-sleeping", StatusPending, StatusSleeping, StatusPatch{WakeAt: &past}); err != nil {
		t.Fatalf("UpdateExecutionStatus: %v", err)
	}
	// signaled waiter
	mustCreate(t, s, "exec-signaled", "t")
	sig := "sig-1"
	if _, err := s.UpdateExecutionStatus(ctx, "exec-signaled", StatusPending, StatusWaitingSignal, StatusPatch{PendingSignalID: &sig}); err != nil {
		t.Fatalf("UpdateExecutionStatus: %v", err)
	}
	if err := s.AppendStepResult(ctx, &StepResult{ExecutionID: "exec-signaled", StepID: "wait", Kind: KindSignalWait}, AppendAttach{
		Waiter: &SignalWaiter{SignalID: sig, ExecutionID: "exec-signaled", StepID: "wait", CreatedAt: now},
	}); err != nil {
		t.Fatalf("AppendStepResult: %v", err)
	}
	if _, err := s.SignalReady(ctx, sig, []byte(`{"ok":true}`), ""); err != nil {
		t.Fatalf("SignalReady: %v", err)
	}

	// due timers beat signaled waiters, which beat pending
	order := []string{"exec-sleeping", "exec-signaled", "exec-pending"}
	for i, want := range order {
		c, err := s.Claim(ctx, "w1", time.Minute)
		if err != nil {
			t.Fatalf("Claim %d: %v", i, err)
		}
		if c.Execution.ID != want {
			t.Fatalf("claim %d: got %s, want %s", i, c.Execution.ID, want)
		}
	}
}

func TestMemoryStore_Claim_ExpiredLeaseRecovery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	mustCreate(t, s, "exec-1", "t")

	c1, err := s.Claim(ctx, "worker-a", 10*time.Second)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// lease expires; another worker may take over
	now = now.Add(11 * time.Second)
	c2, err := s.Claim(ctx, "worker-b", 10*time.Second)
	if err != nil {
		t.Fatalf("Claim after expiry: %v", err)
	}
	if c2.Execution.ID != "exec-1" || c2.LeaseID == c1.LeaseID {
		t.Errorf("expected fresh lease on exec-1, got %+v", c2)
	}

	// the old lease is dead: renew and release must be no-ops
	ok, err := s.RenewLease(ctx, "exec-1", c1.LeaseID, 10*time.Second)
	if err != nil {
		t.Fatalf("RenewLease: %v", err)
	}
	if ok {
		t.Error("renew succeeded on a superseded lease")
	}
}

func TestMemoryStore_RenewLease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	mustCreate(t, s, "exec-1", "t")

	c, err := s.Claim(ctx, "w1", 10*time.Second)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	now = now.Add(5 * time.Second)
	ok, err := s.RenewLease(ctx, "exec-1", c.LeaseID, 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("RenewLease: ok=%v err=%v", ok, err)
	}
	e, _ := s.LoadExecution(ctx, "exec-1")
	if e.Lease == nil || !e.Lease.ExpiresAt.Equal(now.Add(10*time.Second)) {
		t.Errorf("lease not extended: %+v", e.Lease)
	}

	ok, err = s.RenewLease(ctx, "exec-1", "lease-wrong", 10*time.Second)
	if err != nil || ok {
		t.Errorf("renew with wrong lease id: ok=%v err=%v", ok, err)
	}
}

func TestMemoryStore_AppendStepResult_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	mustCreate(t, s, "exec-1", "t")

	done := time.Now()
	rec := &StepResult{ExecutionID: "exec-1", StepID: "charge", Kind: KindStep, Value: []byte(`1`), CompletedAt: &done}
	if err := s.AppendStepResult(ctx, rec, AppendAttach{}); err != nil {
		t.Fatalf("AppendStepResult: %v", err)
	}
	if err := s.AppendStepResult(ctx, rec, AppendAttach{}); !errors.Is(err, ErrDuplicateStepID) {
		t.Errorf("expected ErrDuplicateStepID, got %v", err)
	}
}

func TestMemoryStore_AppendStepResult_WithTimer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	mustCreate(t, s, "exec-1", "t")

	wake := time.Now().Add(time.Hour)
	err := s.AppendStepResult(ctx, &StepResult{ExecutionID: "exec-1", StepID: "nap", Kind: KindSleep}, AppendAttach{
		Timer: &Timer{ExecutionID: "exec-1", StepID: "nap", WakeAt: wake, Reason: TimerSleep},
	})
	if err != nil {
		t.Fatalf("AppendStepResult: %v", err)
	}

	due, err := s.DueTimers(ctx, wake.Add(time.Second))
	if err != nil {
		t.Fatalf("DueTimers: %v", err)
	}
	if len(due) != 1 || due[0].StepID != "nap" {
		t.Errorf("unexpected due timers: %+v", due)
	}
	due, _ = s.DueTimers(ctx, wake.Add(-time.Second))
	if len(due) != 0 {
		t.Errorf("timer due too early: %+v", due)
	}
}

func TestMemoryStore_SignalReady_PromoteWaitingStep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	mustCreate(t, s, "exec-1", "t")
	now := time.Now()

	deadline := now.Add(time.Hour)
	err := s.AppendStepResult(ctx, &StepResult{ExecutionID: "exec-1", StepID: "approval", Kind: KindSignalWait}, AppendAttach{
		Timer:  &Timer{ExecutionID: "exec-1", StepID: "approval", WakeAt: deadline, Reason: TimerSignalTimeout},
		Waiter: &SignalWaiter{SignalID: "approved", ExecutionID: "exec-1", StepID: "approval", CreatedAt: now, Deadline: &deadline},
	})
	if err != nil {
		t.Fatalf("AppendStepResult: %v", err)
	}

	affected, err := s.SignalReady(ctx, "approved", []byte(`{"by":"alice"}`), "")
	if err != nil {
		t.Fatalf("SignalReady: %v", err)
	}
	if len(affected) != 1 || affected[0] != "exec-1" {
		t.Fatalf("affected = %v", affected)
	}

	// payload landed on the still-waiting record, timer and waiter are gone
	steps, _ := s.ListStepResults(ctx, "exec-1")
	if len(steps) != 1 || !steps[0].Waiting() || string(steps[0].Value) != `{"by":"alice"}` {
		t.Fatalf("unexpected step state: %+v", steps[0])
	}
	if due, _ := s.DueTimers(ctx, deadline.Add(time.Second)); len(due) != 0 {
		t.Errorf("timeout timer survived the signal: %+v", due)
	}
	e, _ := s.LoadExecution(ctx, "exec-1")
	if e.SignaledAt == nil {
		t.Error("SignaledAt not set")
	}

	// a second post to the same signal finds nobody
	affected, err = s.SignalReady(ctx, "approved", []byte(`{}`), "")
	if err != nil || len(affected) != 0 {
		t.Errorf("second SignalReady: affected=%v err=%v", affected, err)
	}

	// replay promotes the record to completed
	done := time.Now()
	if err := s.PromoteWaitingStep(ctx, "exec-1", "approval", steps[0].Value, done); err != nil {
		t.Fatalf("PromoteWaitingStep: %v", err)
	}
	steps, _ = s.ListStepResults(ctx, "exec-1")
	if steps[0].Waiting() {
		t.Error("step still waiting after promote")
	}
	if err := s.PromoteWaitingStep(ctx, "exec-1", "approval", nil, done); !errors.Is(err, ErrStepNotWaiting) {
		t.Errorf("expected ErrStepNotWaiting, got %v", err)
	}
}

func TestMemoryStore_SignalReady_Targeted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	for _, id := range []string{"exec-1", "exec-2"} {
		mustCreate(t, s, id, "t")
		if err := s.AppendStepResult(ctx, &StepResult{ExecutionID: id, StepID: "wait", Kind: KindSignalWait}, AppendAttach{
			Waiter: &SignalWaiter{SignalID: "go", ExecutionID: id, StepID: "wait", CreatedAt: now},
		}); err != nil {
			t.Fatalf("AppendStepResult(%s): %v", id, err)
		}
	}

	affected, err := s.SignalReady(ctx, "go", []byte(`1`), "exec-2")
	if err != nil {
		t.Fatalf("SignalReady: %v", err)
	}
	if len(affected) != 1 || affected[0] != "exec-2" {
		t.Fatalf("affected = %v, want only exec-2", affected)
	}

	// exec-1's waiter is untouched and picks up a later broadcast
	affected, err = s.SignalReady(ctx, "go", []byte(`2`), "")
	if err != nil || len(affected) != 1 || affected[0] != "exec-1" {
		t.Fatalf("broadcast after targeted: affected=%v err=%v", affected, err)
	}
}

func TestMemoryStore_UpdateExecutionStatus_CAS(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	mustCreate(t, s, "exec-1", "t")

	ok, err := s.UpdateExecutionStatus(ctx, "exec-1", StatusRunning, StatusCompleted, StatusPatch{})
	if err != nil {
		t.Fatalf("UpdateExecutionStatus: %v", err)
	}
	if ok {
		t.Error("CAS succeeded with wrong from-status")
	}

	done := time.Now()
	ok, err = s.UpdateExecutionStatus(ctx, "exec-1", StatusPending, StatusCompleted, StatusPatch{Result: []byte(`"ok"`), CompletedAt: &done})
	if err != nil || !ok {
		t.Fatalf("UpdateExecutionStatus: ok=%v err=%v", ok, err)
	}
	e, _ := s.LoadExecution(ctx, "exec-1")
	if e.Status != StatusCompleted || string(e.Result) != `"ok"` || e.CompletedAt == nil {
		t.Errorf("unexpected execution after completion: %+v", e)
	}
}

func TestMemoryStore_CancelExecution(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	mustCreate(t, s, "exec-1", "t")

	ok, err := s.CancelExecution(ctx, "exec-1")
	if err != nil || !ok {
		t.Fatalf("CancelExecution: ok=%v err=%v", ok, err)
	}
	e, _ := s.LoadExecution(ctx, "exec-1")
	if e.Status != StatusCancelled || e.CompletedAt == nil {
		t.Errorf("unexpected execution after cancel: %+v", e)
	}

	// terminal states stay put
	ok, err = s.CancelExecution(ctx, "exec-1")
	if err != nil || ok {
		t.Errorf("cancel of a terminal execution: ok=%v err=%v", ok, err)
	}
}

func TestMemoryStore_Notes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	mustCreate(t, s, "exec-1", "t")

	for _, m := range []string{"charged card", "emailed receipt"} {
		if err := s.AppendNote(ctx, "exec-1", m); err != nil {
			t.Fatalf("AppendNote: %v", err)
		}
	}
	notes, err := s.ListNotes(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 2 || notes[0].Seq != 0 || notes[1].Message != "emailed receipt" {
		t.Errorf("unexpected notes: %+v", notes)
	}
}

func TestMemoryStore_ListExecutions_Filter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	mustCreate(t, s, "exec-1", "order")
	mustCreate(t, s, "exec-2", "refund")
	if _, err := s.CancelExecution(ctx, "exec-2"); err != nil {
		t.Fatalf("CancelExecution: %v", err)
	}

	got, err := s.ListExecutions(ctx, Filter{TaskID: "order"}, Page{})
	if err != nil || len(got) != 1 || got[0].ID != "exec-1" {
		t.Fatalf("filter by task: %v %v", got, err)
	}
	got, err = s.ListExecutions(ctx, Filter{Status: StatusCancelled}, Page{})
	if err != nil || len(got) != 1 || got[0].ID != "exec-2" {
		t.Fatalf("filter by status: %v %v", got, err)
	}
	got, err = s.ListExecutions(ctx, Filter{}, Page{Limit: 1, Offset: 1})
	if err != nil || len(got) != 1 || got[0].ID != "exec-2" {
		t.Fatalf("paging: %v %v", got, err)
	}
}
