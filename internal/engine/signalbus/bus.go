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

// Package signalbus 把外部事件投递到 Store 里登记的 SignalWaiter 上。
// 投递是一次性的：没有 waiter 在等时 signal 被丢弃，不排队不暂存
package signalbus

import (
	"context"
	"encoding/json"

	"flow-platform/internal/engine/serde"
	"flow-platform/internal/engine/store"
	"flow-platform/internal/engine/worker"
	"flow-platform/pkg/log"
	"flow-platform/pkg/metrics"
	"flow-platform/pkg/tracing"
)

// Bus 对齐 WaitForSignal 的消费格式：payload 封装为 {kind:"signal",data}
// 后整体覆盖等待中的 StepResult
type Bus struct {
	store  store.Store
	codec  serde.Codec
	wakeup worker.Wakeup
	logger *log.Logger
}

func New(st store.Store, codec serde.Codec, wakeup worker.Wakeup, logger *log.Logger) *Bus {
	return &Bus{store: st, codec: codec, wakeup: wakeup, logger: logger}
}

type envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Post 广播：所有等待 signalID 的执行各消费一次。返回被唤醒的执行 id
func (b *Bus) Post(ctx context.Context, signalID string, data any) ([]string, error) {
	return b.post(ctx, signalID, data, "")
}

// PostTo 定向投递到单个执行；该执行没有对应 waiter 时静默丢弃
func (b *Bus) PostTo(ctx context.Context, signalID, execID string, data any) ([]string, error) {
	return b.post(ctx, signalID, data, execID)
}

func (b *Bus) post(ctx context.Context, signalID string, data any, onlyExecID string) ([]string, error) {
	ctx, span := tracing.StartSignalSpan(ctx, signalID)
	defer span.End()

	encoded, err := b.codec.Encode(data)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(envelope{Kind: "signal", Data: encoded})
	if err != nil {
		return nil, err
	}
	affected, err := b.store.SignalReady(ctx, signalID, payload, onlyExecID)
	if err != nil {
		return nil, err
	}
	if len(affected) == 0 {
		metrics.SignalDeliveredTotal.WithLabelValues("false").Inc()
		b.logger.Debug("signal 无人等待，已丢弃", "signal_id", signalID)
		return nil, nil
	}
	metrics.SignalDeliveredTotal.WithLabelValues("true").Inc()
	for _, execID := range affected {
		if err := b.wakeup.NotifyReady(ctx, execID); err != nil {
			b.logger.Warn("唤醒通知失败", "execution_id", execID, "error", err)
		}
	}
	b.logger.Info("signal 已投递", "signal_id", signalID, "executions", len(affected))
	return affected, nil
}
