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

	"flow-platform/internal/engine/store"
)

// NonDeterminismError replay 时同一 stepID 的 journal 记录与当前调用 kind 不一致。
// 致命错误：执行直接 failed，不重试
type NonDeterminismError struct {
	StepID        string
	JournaledKind store.StepKind
	CallKind      store.StepKind
}

func (e *NonDeterminismError) Error() string {
	return fmt.Sprintf("non-deterministic replay at step %q: journaled %s, replayed as %s",
		e.StepID, e.JournaledKind, e.CallKind)
}

// DuplicateStepIDError 同一次执行内两次调用使用了相同 stepID。致命错误
type DuplicateStepIDError struct {
	StepID string
}

func (e *DuplicateStepIDError) Error() string {
	return fmt.Sprintf("step id %q used twice in the same execution", e.StepID)
}

// Fatal 区分「必 failed 不重试」的编程错误
func Fatal(err error) bool {
	var nd *NonDeterminismError
	var dup *DuplicateStepIDError
	return errors.As(err, &nd) || errors.As(err, &dup)
}
