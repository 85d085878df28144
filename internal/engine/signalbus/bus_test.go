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

package signalbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-platform/internal/engine/serde"
	"flow-platform/internal/engine/store"
	"flow-platform/internal/engine/worker"
	"flow-platform/pkg/log"
)

func newBusForTest(t *testing.T) (*Bus, *store.MemoryStore, *worker.WakeupMem) {
	t.Helper()
	logger, err := log.NewLogger(&log.Config{Level: "error", Format: "text"})
	require.NoError(t, err)
	st := store.NewMemoryStore()
	wakeup := worker.NewWakeupMem(8)
	return New(st, serde.NewJSONCodec(), wakeup, logger), st, wakeup
}

// 造出一条停在 waiting_for_signal 的执行，journal 里挂着 waiter
func createWaiting(t *testing.T, st *store.MemoryStore, execID, signalID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateExecution(ctx, &store.Execution{
		ID:        execID,
		TaskID:    "t",
		Status:    store.StatusWaitingSignal,
		CreatedAt: time.Now(),
	}))
	value, err := json.Marshal(map[string]string{"state": "waiting", "signalId": signalID})
	require.NoError(t, err)
	require.NoError(t, st.AppendStepResult(ctx, &store.StepResult{
		ExecutionID: execID,
		StepID:      "wait",
		Kind:        store.KindSignalWait,
		Value:       value,
	}, store.AppendAttach{
		Waiter: &store.SignalWaiter{ExecutionID: execID, StepID: "wait", SignalID: signalID},
	}))
}

func TestBus_PostBroadcast(t *testing.T) {
	bus, st, wakeup := newBusForTest(t)
	ctx := context.Background()
	createWaiting(t, st, "exec-a", "go")
	createWaiting(t, st, "exec-b", "go")

	affected, err := bus.Post(ctx, "go", map[string]string{"by": "ops"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"exec-a", "exec-b"}, affected)

	// 两条执行都收到唤醒通知
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		id, ok := wakeup.Receive(ctx, 100*time.Millisecond)
		require.True(t, ok)
		got[id] = true
	}
	assert.Len(t, got, 2)

	// waiting 记录被整体覆盖为 signal 封装
	steps, err := st.ListStepResults(ctx, "exec-a")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	var env envelope
	require.NoError(t, json.Unmarshal(steps[0].Value, &env))
	assert.Equal(t, "signal", env.Kind)
}

func TestBus_PostTo_Targeted(t *testing.T) {
	bus, st, _ := newBusForTest(t)
	ctx := context.Background()
	createWaiting(t, st, "exec-a", "go")
	createWaiting(t, st, "exec-b", "go")

	affected, err := bus.PostTo(ctx, "go", "exec-b", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-b"}, affected)

	// exec-a 的 waiter 原地不动
	steps, err := st.ListStepResults(ctx, "exec-a")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.True(t, steps[0].Waiting())
}

func TestBus_Post_NoWaiterDropped(t *testing.T) {
	bus, _, wakeup := newBusForTest(t)
	ctx := context.Background()

	affected, err := bus.Post(ctx, "nobody", map[string]int{"n": 1})
	require.NoError(t, err)
	assert.Empty(t, affected)

	_, ok := wakeup.Receive(ctx, 50*time.Millisecond)
	assert.False(t, ok)
}
