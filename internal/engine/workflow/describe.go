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
	"context"
	"time"

	"flow-platform/internal/engine/serde"
	"flow-platform/internal/engine/store"
)

// StepInfo Describe 干跑收集的一条结构信息
type StepInfo struct {
	StepID   string         `json:"stepId"`
	Kind     store.StepKind `json:"kind"`
	Branches []BranchInfo   `json:"branches,omitempty"`
}

// BranchInfo switch 的一个已声明分支及其内部步骤
type BranchInfo struct {
	ID    string     `json:"id"`
	Steps []StepInfo `json:"steps,omitempty"`
}

// Recorder 记录干跑期间经过的步骤声明
type Recorder struct {
	steps []StepInfo
}

func (r *Recorder) record(stepID string, kind store.StepKind, branches []BranchInfo) {
	r.steps = append(r.steps, StepInfo{StepID: stepID, Kind: kind, Branches: branches})
}

// Steps 干跑收集结果
func (r *Recorder) Steps() []StepInfo { return r.steps }

// NewDescribeContext 构建干跑上下文：step 回调不执行，sleep/waitForSignal 不挂起，
// 一切都不落盘。分支选择沿输入推出的默认路径走，但所有分支 id 都会记录
func NewDescribeContext(ctx context.Context, codec serde.Codec, rec *Recorder) *Context {
	return &Context{
		ctx:      ctx,
		codec:    codec,
		journal:  make(map[string]*store.StepResult),
		used:     make(map[string]bool),
		now:      time.Now,
		recorder: rec,
	}
}

// describeSwitch 静态记录所有分支 id，随后只沿默认路径（调用方传入的
// 判别值首个 Match 命中、否则首分支）下钻记录嵌套步骤
func describeSwitch[D, T any](c *Context, stepID string, d D, branches []Branch[D, T]) (T, error) {
	var zero T
	full := c.prefix + stepID
	infos := make([]BranchInfo, 0, len(branches))

	var followed int
	for i := range branches {
		if branches[i].Match != nil && branches[i].Match(d) {
			followed = i
			break
		}
	}
	for i := range branches {
		info := BranchInfo{ID: branches[i].ID}
		if i == followed && branches[i].Run != nil {
			nested := &Recorder{}
			sub := c.branchContext(full + "/" + branches[i].ID + "/")
			sub.recorder = nested
			if _, err := branches[i].Run(sub); err != nil {
				return zero, err
			}
			info.Steps = nested.Steps()
		}
		infos = append(infos, info)
	}
	c.recorder.record(full, store.KindSwitch, infos)
	return zero, nil
}
