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

package serde

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// typeKey 内部类型标记键；用户数据中以 "__" 开头的键在编码时转义，解码时还原，
// 因此用户键永远不会与标记键冲突
const typeKey = "__type"

const (
	typeTime  = "time"
	typeError = "error"
	typeBytes = "bytes"
)

// JSONCodec 基于 JSON 的参考实现：time.Time、error、[]byte 通过 __type 包装保真往返；
// 其余值按 JSON 语义归一化（整数解码为 float64，结构体解码为 map）
type JSONCodec struct{}

// NewJSONCodec 创建 JSON Codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	wrapped, err := wrapValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wrapped)
}

func (c *JSONCodec) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return unwrapValue(v)
}

// CodecError 承载经 Codec 往返的错误值；Decode 后用户拿到的错误为此类型
type CodecError struct {
	Message string
	Stack   string
}

func (e *CodecError) Error() string { return e.Message }

// wrapValue 递归包装：特殊类型打 __type 标记，map 键转义，其余经 JSON 归一化后再包装
func wrapValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return map[string]any{typeKey: typeTime, "value": val.Format(time.RFC3339Nano)}, nil
	case []byte:
		return map[string]any{typeKey: typeBytes, "value": base64.StdEncoding.EncodeToString(val)}, nil
	case error:
		m := map[string]any{typeKey: typeError, "message": val.Error()}
		var ce *CodecError
		if ok := asCodecError(val, &ce); ok && ce.Stack != "" {
			m["stack"] = ce.Stack
		}
		return m, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			w, err := wrapValue(inner)
			if err != nil {
				return nil, err
			}
			out[escapeKey(k)] = w
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			w, err := wrapValue(inner)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case string, bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return val, nil
	default:
		// 结构体等任意值先经 JSON 归一化为 map/slice，再递归包装（内部 map 键同样转义）
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		var norm any
		if err := json.Unmarshal(raw, &norm); err != nil {
			return nil, err
		}
		return wrapValue(norm)
	}
}

// unwrapValue 带 __type 标记的封装必须完整解析；半截封装（坏时间戳、坏 base64）
// 直接报错，不能把标记键当用户数据漏出去
func unwrapValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if t, ok := val[typeKey].(string); ok {
			switch t {
			case typeTime:
				s, ok := val["value"].(string)
				if !ok {
					return nil, fmt.Errorf("decode time envelope: missing value")
				}
				ts, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return nil, fmt.Errorf("decode time envelope: %w", err)
				}
				return ts, nil
			case typeBytes:
				s, ok := val["value"].(string)
				if !ok {
					return nil, fmt.Errorf("decode bytes envelope: missing value")
				}
				b, err := base64.StdEncoding.DecodeString(s)
				if err != nil {
					return nil, fmt.Errorf("decode bytes envelope: %w", err)
				}
				return b, nil
			case typeError:
				msg, _ := val["message"].(string)
				stack, _ := val["stack"].(string)
				return &CodecError{Message: msg, Stack: stack}, nil
			}
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			u, err := unwrapValue(inner)
			if err != nil {
				return nil, err
			}
			out[unescapeKey(k)] = u
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			u, err := unwrapValue(inner)
			if err != nil {
				return nil, err
			}
			out[i] = u
		}
		return out, nil
	default:
		return v, nil
	}
}

// escapeKey 用户键以 "__" 开头时追加一个前导 "_"，保证编码后的 map 中
// "__type" 只可能是标记键
func escapeKey(k string) string {
	if strings.HasPrefix(k, "__") {
		return "_" + k
	}
	return k
}

func unescapeKey(k string) string {
	if strings.HasPrefix(k, "___") {
		return k[1:]
	}
	return k
}

func asCodecError(err error, out **CodecError) bool {
	ce, ok := err.(*CodecError)
	if ok {
		*out = ce
	}
	return ok
}
