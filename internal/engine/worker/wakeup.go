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

package worker

import (
	"context"
	"time"
)

// Wakeup 唤醒队列：Service/SignalBus 在执行变为可认领时调用 NotifyReady；
// Worker 空转时从 Receive 等事件而非固定 sleep，signal 到达后立即 Claim
type Wakeup interface {
	// NotifyReady 通知 execID 已可认领
	NotifyReady(ctx context.Context, execID string) error
	// Receive 阻塞最多 timeout；有通知返回 (execID, true)，超时返回 ("", false)
	Receive(ctx context.Context, timeout time.Duration) (execID string, ok bool)
}

// WakeupMem 内存实现：单进程内 API 与 Worker 共享同一实例时有效，
// 多进程部署用 Redis 实现
type WakeupMem struct {
	ch chan string
}

// NewWakeupMem bufSize <= 0 时取 256，避免通知方阻塞
func NewWakeupMem(bufSize int) *WakeupMem {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &WakeupMem{ch: make(chan string, bufSize)}
}

// NotifyReady 非阻塞发送，队列满时丢弃；丢失的通知由 Worker 的轮询兜底
func (q *WakeupMem) NotifyReady(ctx context.Context, execID string) error {
	if execID == "" {
		return nil
	}
	select {
	case q.ch <- execID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (q *WakeupMem) Receive(ctx context.Context, timeout time.Duration) (string, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case id := <-q.ch:
		return id, true
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}
