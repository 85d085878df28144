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
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultWakeupKey = "flow:wakeup"

// WakeupRedis 跨进程唤醒队列：NotifyReady LPUSH，Receive BRPOP。
// 多个 Worker 竞争弹出，弹到谁谁去 Claim；Claim 本身有租约兜底，重复唤醒无害
type WakeupRedis struct {
	client *redis.Client
	key    string
}

func NewWakeupRedis(client *redis.Client, key string) *WakeupRedis {
	if key == "" {
		key = defaultWakeupKey
	}
	return &WakeupRedis{client: client, key: key}
}

func (q *WakeupRedis) NotifyReady(ctx context.Context, execID string) error {
	if execID == "" {
		return nil
	}
	return q.client.LPush(ctx, q.key, execID).Err()
}

func (q *WakeupRedis) Receive(ctx context.Context, timeout time.Duration) (string, bool) {
	// BRPOP 的 timeout 精度为秒且 0 表示永久阻塞，向上取整到至少 1s
	if timeout < time.Second {
		timeout = time.Second
	}
	vals, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			// 连接抖动时退避，避免热循环
			time.Sleep(time.Second)
		}
		return "", false
	}
	if len(vals) != 2 {
		return "", false
	}
	return vals[1], true
}
