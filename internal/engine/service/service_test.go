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

package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"flow-platform/internal/engine/executor"
	"flow-platform/internal/engine/serde"
	"flow-platform/internal/engine/signalbus"
	"flow-platform/internal/engine/store"
	"flow-platform/internal/engine/worker"
	"flow-platform/internal/engine/workflow"
	"flow-platform/pkg/log"
)

// harness 单进程全栈：内存 Store + Worker + SignalBus + Service
type harness struct {
	st  *store.MemoryStore
	reg *workflow.Registry
	svc *Service
	w   *worker.Worker
}

func newHarness(t *testing.T, tasks ...*workflow.Task) *harness {
	t.Helper()
	return newHarnessOver(t, store.NewMemoryStore(), tasks...)
}

func (h *harness) awaitStatus(t *testing.T, execID string, want store.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		e, err := h.st.LoadExecution(context.Background(), execID)
		if err != nil {
			t.Fatalf("LoadExecution: %v", err)
		}
		if e.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	e, _ := h.st.LoadExecution(context.Background(), execID)
	t.Fatalf("execution %s never reached %s (stuck at %s)", execID, want, e.Status)
}

type orderInput struct {
	OrderID    string  `json:"orderId"`
	CustomerID string  `json:"customerId"`
	Amount     float64 `json:"amount"`
}

type paymentConfirmation struct {
	TransactionID string `json:"transactionId"`
}

type orderResult struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	ShippedAt     int64  `json:"shippedAt"`
}

func orderTask() *workflow.Task {
	return workflow.Define("processOrder", func(c *workflow.Context, in orderInput) (orderResult, error) {
		var out orderResult
		if _, err := workflow.Step(c, "validateOrder", func(ctx context.Context) (bool, error) {
			return in.Amount > 0, nil
		}); err != nil {
			return out, err
		}
		if _, err := workflow.Step(c, "chargeCustomer", func(ctx context.Context) (string, error) {
			return "charge-" + in.CustomerID, nil
		}); err != nil {
			return out, err
		}
		if err := c.Sleep("settle", 50*time.Millisecond); err != nil {
			return out, err
		}
		conf, err := workflow.WaitForSignal[paymentConfirmation](c, "awaitPaymentConfirmation", "paymentConfirmed", -1)
		if err != nil {
			return out, err
		}
		return workflow.Step(c, "shipOrder", func(ctx context.Context) (orderResult, error) {
			return orderResult{
				OrderID:       in.OrderID,
				TransactionID: conf.Data.TransactionID,
				Status:        "shipped",
				ShippedAt:     time.Now().UnixMilli(),
			}, nil
		})
	})
}

func TestService_OrderProcessing_SignalPath(t *testing.T) {
	h := newHarness(t, orderTask())
	ctx := context.Background()

	execID, err := h.svc.Start(ctx, "processOrder", orderInput{OrderID: "ORD-1", CustomerID: "C-1", Amount: 49.99})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// the workflow sleeps then parks on the signal waiter
	h.awaitStatus(t, execID, store.StatusWaitingSignal)
	if err := h.svc.Signal(ctx, execID, "paymentConfirmed", paymentConfirmation{TransactionID: "txn_001"}); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	var result orderResult
	if err := h.svc.Wait(ctx, execID, WaitOptions{Timeout: 3 * time.Second}, &result); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.OrderID != "ORD-1" || result.TransactionID != "txn_001" || result.Status != "shipped" || result.ShippedAt <= 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	steps, err := h.svc.ListStepResults(ctx, execID)
	if err != nil {
		t.Fatalf("ListStepResults: %v", err)
	}
	if len(steps) != 5 {
		t.Errorf("journal has %d records, want 5: %+v", len(steps), steps)
	}
}

type onboardingInput struct {
	Email string `json:"email"`
	Plan  string `json:"plan"`
}

type onboardingResult struct {
	Workspace string `json:"workspace"`
	Verified  bool   `json:"verified"`
	Plan      string `json:"plan"`
}

func onboardingTask(timeout time.Duration) *workflow.Task {
	return workflow.Define("onboarding", func(c *workflow.Context, in onboardingInput) (onboardingResult, error) {
		var out onboardingResult
		if _, err := workflow.Step(c, "createAccount", func(ctx context.Context) (string, error) {
			return "acct-" + in.Email, nil
		}); err != nil {
			return out, err
		}
		if _, err := workflow.Step(c, "sendVerificationEmail", func(ctx context.Context) (bool, error) {
			return true, nil
		}); err != nil {
			return out, err
		}
		verified, err := workflow.WaitForSignal[map[string]any](c, "awaitEmailVerification", "emailVerified", timeout)
		if err != nil {
			return out, err
		}
		workspace, err := workflow.Switch(c, "provisionBranch", verified.Received, []workflow.Branch[bool, string]{
			{
				ID:    "verified",
				Match: func(ok bool) bool { return ok },
				Run: func(c *workflow.Context) (string, error) {
					return workflow.Step(c, "provisionResources", func(ctx context.Context) (string, error) {
						return "workspace_" + in.Plan, nil
					})
				},
			},
			{
				ID:    "timedOut",
				Match: func(ok bool) bool { return !ok },
				Run: func(c *workflow.Context) (string, error) {
					if err := c.Note("verification window elapsed, skipping provisioning"); err != nil {
						return "", err
					}
					return "", nil
				},
			},
		})
		if err != nil {
			return out, err
		}
		if _, err := workflow.Step(c, "sendWelcomeEmail", func(ctx context.Context) (bool, error) {
			return true, nil
		}); err != nil {
			return out, err
		}
		return onboardingResult{Workspace: workspace, Verified: verified.Received, Plan: in.Plan}, nil
	})
}

func TestService_Onboarding_VerifiedBranch(t *testing.T) {
	h := newHarness(t, onboardingTask(15*time.Second))
	ctx := context.Background()

	execID, err := h.svc.Start(ctx, "onboarding", onboardingInput{Email: "a@b.c", Plan: "pro"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.awaitStatus(t, execID, store.StatusWaitingSignal)
	if err := h.svc.Signal(ctx, execID, "emailVerified", map[string]any{"verifiedAt": time.Now().UnixMilli()}); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	var result onboardingResult
	if err := h.svc.Wait(ctx, execID, WaitOptions{Timeout: 3 * time.Second}, &result); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !strings.HasPrefix(result.Workspace, "workspace_") || !result.Verified || result.Plan != "pro" {
		t.Errorf("unexpected result: %+v", result)
	}
	e, _ := h.svc.GetExecution(ctx, execID)
	if e.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestService_Onboarding_TimeoutBranch(t *testing.T) {
	h := newHarness(t, onboardingTask(200*time.Millisecond))
	ctx := context.Background()

	var result onboardingResult
	execID, err := h.svc.StartAndWait(ctx, "onboarding", onboardingInput{Email: "a@b.c", Plan: "free"},
		WaitOptions{Timeout: 3 * time.Second}, &result)
	if err != nil {
		t.Fatalf("StartAndWait: %v", err)
	}
	if result.Verified || result.Workspace != "" {
		t.Errorf("unexpected result: %+v", result)
	}
	notes, err := h.svc.ListNotes(ctx, execID)
	if err != nil || len(notes) == 0 {
		t.Errorf("timeout branch left no note: %v %v", notes, err)
	}
}

func TestService_NonDeterminismOnForcedReplay(t *testing.T) {
	// 第一个定义 journal 了 step "x" 后停在 signal 等待
	h := newHarness(t, workflow.Define("evolving", func(c *workflow.Context, _ struct{}) (int, error) {
		n, err := workflow.Step(c, "x", func(ctx context.Context) (int, error) { return 1, nil })
		if err != nil {
			return 0, err
		}
		if _, err := workflow.WaitForSignal[struct{}](c, "hold", "proceed", -1); err != nil {
			return 0, err
		}
		return n, nil
	}))
	ctx := context.Background()

	execID, err := h.svc.Start(ctx, "evolving", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.awaitStatus(t, execID, store.StatusWaitingSignal)
	h.w.Stop()

	// 换一个“演进后”的定义接管同一个 store：同一位置的 "x" 变成了 sleep
	h2 := newHarnessOver(t, h.st, workflow.Define("evolving", func(c *workflow.Context, _ struct{}) (int, error) {
		if err := c.Sleep("x", 10*time.Millisecond); err != nil {
			return 0, err
		}
		if _, err := workflow.WaitForSignal[struct{}](c, "hold", "proceed", -1); err != nil {
			return 0, err
		}
		return 1, nil
	}))
	if err := h2.svc.Signal(ctx, execID, "proceed", struct{}{}); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	err = h2.svc.Wait(ctx, execID, WaitOptions{Timeout: 3 * time.Second}, nil)
	var failed *ExecutionFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected ExecutionFailedError, got %v", err)
	}
	if !strings.Contains(failed.Cause.Message, "non-deterministic") {
		t.Errorf("cause: %q", failed.Cause.Message)
	}
	// journal 之外没有新副作用
	steps, _ := h2.svc.ListStepResults(ctx, execID)
	if len(steps) != 2 {
		t.Errorf("journal grew unexpectedly: %+v", steps)
	}
}

// newHarnessOver 在已有 store 上再拉一套 worker/service，模拟演进后的部署
func newHarnessOver(t *testing.T, st *store.MemoryStore, tasks ...*workflow.Task) *harness {
	t.Helper()
	logger, err := log.NewLogger(&log.Config{Level: "error"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	codec := serde.NewJSONCodec()
	reg := workflow.NewRegistry()
	for _, task := range tasks {
		reg.MustRegister(task)
	}
	wakeup := worker.NewWakeupMem(0)
	exec := executor.New(st, codec, reg)
	w := worker.New(st, exec, wakeup, logger, worker.Config{
		OwnerID:      "svc-test-2",
		LeaseTTL:     5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	bus := signalbus.New(st, codec, wakeup, logger)
	return &harness{st: st, reg: reg, svc: New(st, codec, reg, bus, wakeup, logger), w: w}
}

func TestService_SignalWithNoWaiterIsDropped(t *testing.T) {
	h := newHarness(t, orderTask())
	affected, err := h.svc.Broadcast(context.Background(), "paymentConfirmed", paymentConfirmation{TransactionID: "txn_lost"})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(affected) != 0 {
		t.Errorf("signal with no waiter woke %v", affected)
	}
}

func TestService_Cancel(t *testing.T) {
	h := newHarness(t, orderTask())
	ctx := context.Background()

	execID, err := h.svc.Start(ctx, "processOrder", orderInput{OrderID: "ORD-2", CustomerID: "C-2", Amount: 10})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.awaitStatus(t, execID, store.StatusWaitingSignal)

	ok, err := h.svc.Cancel(ctx, execID)
	if err != nil || !ok {
		t.Fatalf("Cancel: ok=%v err=%v", ok, err)
	}
	err = h.svc.Wait(ctx, execID, WaitOptions{Timeout: time.Second}, nil)
	var cancelled *CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
}

func TestService_WaitTimeoutKeepsExecutionAlive(t *testing.T) {
	h := newHarness(t, orderTask())
	ctx := context.Background()

	execID, err := h.svc.Start(ctx, "processOrder", orderInput{OrderID: "ORD-3", CustomerID: "C-3", Amount: 5})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	err = h.svc.Wait(ctx, execID, WaitOptions{Timeout: 50 * time.Millisecond}, nil)
	var timeout *WaitTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected WaitTimeoutError, got %v", err)
	}

	// 执行不受客户端超时影响，signal 之后照常完成
	h.awaitStatus(t, execID, store.StatusWaitingSignal)
	if err := h.svc.Signal(ctx, execID, "paymentConfirmed", paymentConfirmation{TransactionID: "txn_002"}); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if err := h.svc.Wait(ctx, execID, WaitOptions{Timeout: 3 * time.Second}, nil); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestService_StartUnknownTask(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Start(context.Background(), "missing", nil)
	var notFound *TaskNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected TaskNotFoundError, got %v", err)
	}
}

func TestService_Describe(t *testing.T) {
	h := newHarness(t, onboardingTask(time.Minute))
	steps, err := h.svc.Describe(context.Background(), "onboarding", onboardingInput{Plan: "pro"})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if len(steps) != 5 {
		t.Fatalf("expected 5 declared steps, got %d: %+v", len(steps), steps)
	}
	if steps[3].Kind != store.KindSwitch || len(steps[3].Branches) != 2 {
		t.Errorf("switch structure: %+v", steps[3])
	}
}
