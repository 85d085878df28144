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
	"errors"
	"fmt"
	"time"
)

// SuspendReason 挂起原因
type SuspendReason string

const (
	// SuspendSleep sleep 到点前挂起
	SuspendSleep SuspendReason = "sleep"
	// SuspendSignal 等待外部 signal
	SuspendSignal SuspendReason = "signal"
)

// Suspend 内部哨兵错误：Sleep / WaitForSignal 借 error 返回值把控制流退回 Executor。
// 用户过程只需原样向上传递 error，不应拦截或包装它
type Suspend struct {
	Reason SuspendReason
	StepID string
	// WakeAt sleep 的唤醒时间，或 signal 等待的超时时间（可为 nil 表示无限等待）
	WakeAt *time.Time
	// SignalID 仅 Reason == SuspendSignal 时非空
	SignalID string
}

func (s *Suspend) Error() string {
	if s.Reason == SuspendSignal {
		return fmt.Sprintf("execution suspended at step %q waiting for signal %q", s.StepID, s.SignalID)
	}
	return fmt.Sprintf("execution suspended at step %q until %s", s.StepID, s.WakeAt.Format(time.RFC3339))
}

// AsSuspend 判断 err 链上是否为挂起哨兵
func AsSuspend(err error) (*Suspend, bool) {
	var s *Suspend
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
