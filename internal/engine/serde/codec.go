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

// Package serde 提供引擎与用户值之间的序列化边界；引擎只持有编码后的字节，
// 输入、Step 结果、signal payload、错误都经由 Codec 往返（design：Serializer 边界）。
package serde

import (
	"bytes"
	"encoding/json"
)

// Codec 不透明编解码接口；Encode 的输出对引擎是黑盒字节
type Codec interface {
	// Encode 将任意用户值编码为字节；对引擎记入 journal 的所有值必须可往返
	Encode(v any) ([]byte, error)
	// Decode 将字节还原为值；与 Encode 构成 encode ∘ decode = id
	Decode(data []byte) (any, error)
}

// Bind 将已编码的字节还原进具体类型 out；类型化 Task 定义（workflow.Define）使用
func Bind(c Codec, data []byte, out any) error {
	v, err := c.Decode(data)
	if err != nil {
		return err
	}
	return Rebind(v, out)
}

// Rebind 将解码后的通用值（map/slice/基础类型）重新绑定到具体类型
func Rebind(v any, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}
