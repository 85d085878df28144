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

	"flow-platform/internal/engine/store"
	"flow-platform/pkg/metrics"
)

// heartbeat 在独立 goroutine 中按 TTL/3 续租，与 attempt 推进解耦；
// 续租被拒（租约被接管）时调 onLost 取消本次 attempt
type heartbeat struct {
	store   store.Store
	execID  string
	leaseID string
	ttl     time.Duration
	onLost  func()
}

// run 直到 ctx 取消。续租的瞬时 Store 错误只记一次失败计数，下个周期再试；
// 明确返回 false 才视为租约丢失
func (h *heartbeat) run(ctx context.Context) {
	interval := h.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := h.store.RenewLease(ctx, h.execID, h.leaseID, h.ttl)
			if err != nil {
				metrics.LeaseRenewFailTotal.Inc()
				continue
			}
			if !ok {
				metrics.LeaseRenewFailTotal.Inc()
				if h.onLost != nil {
					h.onLost()
				}
				return
			}
		}
	}
}
