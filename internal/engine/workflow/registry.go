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
	"fmt"
	"sort"
	"sync"

	"flow-platform/internal/engine/serde"
)

// Task 一个可执行的 workflow 定义。输入输出在边界处经 codec 编解码，
// 引擎内部只见字节
type Task struct {
	ID    string
	Retry RetryPolicy

	run func(c *Context, input []byte) ([]byte, error)
}

// Run 以原始输入字节驱动用户过程；Executor 与 Describe 共用此入口
func (t *Task) Run(c *Context, input []byte) ([]byte, error) {
	return t.run(c, input)
}

// TaskOption Define 的可选配置
type TaskOption func(*Task)

// WithRetry 覆盖默认重试策略
func WithRetry(p RetryPolicy) TaskOption {
	return func(t *Task) { t.Retry = p }
}

// Define 定义一个类型化的 workflow。fn 必须确定性：一切副作用与非确定来源
// （时钟、随机数、外部 I/O）都要包进 Step
func Define[I, O any](id string, fn func(c *Context, input I) (O, error), opts ...TaskOption) *Task {
	t := &Task{
		ID:    id,
		Retry: DefaultRetryPolicy,
	}
	t.run = func(c *Context, input []byte) ([]byte, error) {
		var in I
		if len(input) > 0 {
			if err := serde.Bind(c.codec, input, &in); err != nil {
				return nil, fmt.Errorf("decode input for task %s: %w", id, err)
			}
		}
		out, err := fn(c, in)
		if err != nil {
			return nil, err
		}
		if c.recorder != nil {
			return nil, nil
		}
		return c.codec.Encode(out)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Registry taskID → Task。Worker 与 Service 共享一份
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Register 重复注册同名 task 报错
func (r *Registry) Register(t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already registered", t.ID)
	}
	r.tasks[t.ID] = t
	return nil
}

// MustRegister 注册失败直接 panic，供程序启动期使用
func (r *Registry) MustRegister(t *Task) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Lookup 未注册返回 nil
func (r *Registry) Lookup(id string) *Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[id]
}

// IDs 已注册 task id，字典序
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
