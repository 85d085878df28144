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
	"math"
	"math/rand"
	"time"
)

// Backoff 退避曲线
type Backoff string

const (
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy 任务级重试策略。MaxAttempts 含首次执行；零值策略不重试
type RetryPolicy struct {
	MaxAttempts int
	Backoff     Backoff
	// Base 首次重试延迟
	Base time.Duration
	// Factor 指数退避倍率，<= 1 视为 2
	Factor float64
	// Cap 单次延迟上限，0 表示不封顶
	Cap time.Duration
	// Jitter [0,1]，按比例加随机抖动
	Jitter float64
}

// DefaultRetryPolicy 未显式配置时的兜底：首次非挂起失败即终态。
// 重试意味着用户步骤可能被重复执行，必须由任务显式选择
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 1,
}

// ExponentialRetryPolicy 开箱即用的指数退避预设，配合 WithRetry 使用
var ExponentialRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Backoff:     BackoffExponential,
	Base:        time.Second,
	Factor:      2,
	Cap:         time.Minute,
}

// ShouldRetry attempt 为已失败的次数（首次失败 == 1）
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// NextDelay 第 attempt 次失败后的等待时长
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = time.Duration(attempt) * base
	default:
		factor := p.Factor
		if factor <= 1 {
			factor = 2
		}
		d = time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}
