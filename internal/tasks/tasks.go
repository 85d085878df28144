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

// Package tasks 提供开箱即用的示例工作流，worker 二进制默认注册它们。
// 业务方通常不用这个包，而是在自己的进程里 Define 并注册自己的 task。
package tasks

import (
	"context"
	"fmt"
	"time"

	"flow-platform/internal/engine/workflow"
)

// RegisterBuiltin 注册内置示例工作流
func RegisterBuiltin(reg *workflow.Registry) {
	reg.MustRegister(OrderProcessing())
	reg.MustRegister(UserOnboarding())
}

// OrderInput 订单处理输入
type OrderInput struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

// OrderResult 订单处理结果
type OrderResult struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
	Approved      bool   `json:"approved"`
}

// Approval 人工审批 signal 的载荷
type Approval struct {
	By     string `json:"by"`
	Reason string `json:"reason"`
}

// OrderProcessing 订单处理：校验、等人工审批（24h 超时）、扣款、发货
func OrderProcessing() *workflow.Task {
	return workflow.Define("order_processing", func(c *workflow.Context, in OrderInput) (OrderResult, error) {
		validated, err := workflow.Step(c, "validate", func(ctx context.Context) (bool, error) {
			return in.OrderID != "" && in.Amount > 0, nil
		})
		if err != nil {
			return OrderResult{}, err
		}
		if !validated {
			return OrderResult{}, fmt.Errorf("订单非法: %s", in.OrderID)
		}

		approval, err := workflow.WaitForSignal[Approval](c, "approval", "approve:"+in.OrderID, 24*time.Hour)
		if err != nil {
			return OrderResult{}, err
		}
		if !approval.Received {
			_ = c.Note("审批超时，订单自动关闭")
			return OrderResult{OrderID: in.OrderID, Approved: false}, nil
		}
		_ = c.Note("审批通过: " + approval.Data.By)

		txnID, err := workflow.Step(c, "charge", func(ctx context.Context) (string, error) {
			return fmt.Sprintf("txn_%s_%d", in.OrderID, time.Now().UnixNano()), nil
		})
		if err != nil {
			return OrderResult{}, err
		}

		_, err = workflow.Step(c, "ship", func(ctx context.Context) (string, error) {
			return "shipped", nil
		})
		if err != nil {
			return OrderResult{}, err
		}

		return OrderResult{OrderID: in.OrderID, TransactionID: txnID, Approved: true}, nil
	}, workflow.WithRetry(workflow.RetryPolicy{
		MaxAttempts: 5,
		Backoff:     workflow.BackoffExponential,
		Base:        2 * time.Second,
		Factor:      2,
		Cap:         time.Minute,
	}))
}

// OnboardInput 用户入驻输入
type OnboardInput struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Plan   string `json:"plan"` // free | pro
}

// OnboardResult 用户入驻结果
type OnboardResult struct {
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
	Verified    bool   `json:"verified"`
}

type verification struct {
	Token string `json:"token"`
}

// UserOnboarding 用户入驻：发验证邮件、等验证（1h 超时则留备注放行）、
// 按套餐分流建 workspace、冷却后发欢迎邮件
func UserOnboarding() *workflow.Task {
	return workflow.Define("user_onboarding", func(c *workflow.Context, in OnboardInput) (OnboardResult, error) {
		_, err := workflow.Step(c, "send_verification", func(ctx context.Context) (string, error) {
			return "sent:" + in.Email, nil
		})
		if err != nil {
			return OnboardResult{}, err
		}

		verified, err := workflow.WaitForSignal[verification](c, "verify", "verify:"+in.UserID, time.Hour)
		if err != nil {
			return OnboardResult{}, err
		}
		if !verified.Received {
			_ = c.Note("验证超时，账号以未验证状态放行")
		}

		workspaceID, err := workflow.Switch(c, "provision", in.Plan, []workflow.Branch[string, string]{
			{
				ID:    "pro",
				Match: func(plan string) bool { return plan == "pro" },
				Run: func(c *workflow.Context) (string, error) {
					return workflow.Step(c, "create", func(ctx context.Context) (string, error) {
						return "ws_pro_" + in.UserID, nil
					})
				},
			},
			{
				ID:    "free",
				Match: func(plan string) bool { return true },
				Run: func(c *workflow.Context) (string, error) {
					return workflow.Step(c, "create", func(ctx context.Context) (string, error) {
						return "ws_free_" + in.UserID, nil
					})
				},
			},
		})
		if err != nil {
			return OnboardResult{}, err
		}

		// 冷却一段时间再发欢迎邮件，避免和验证邮件挤在一起
		if err := c.Sleep("cooldown", 10*time.Minute); err != nil {
			return OnboardResult{}, err
		}
		_, err = workflow.Step(c, "send_welcome", func(ctx context.Context) (string, error) {
			return "welcomed:" + in.Email, nil
		})
		if err != nil {
			return OnboardResult{}, err
		}

		return OnboardResult{UserID: in.UserID, WorkspaceID: workspaceID, Verified: verified.Received}, nil
	})
}
