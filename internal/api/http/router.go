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

package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
)

// Router HTTP 路由器
type Router struct {
	handler *Handler
}

// NewRouter 创建新的路由器
func NewRouter(handler *Handler) *Router {
	return &Router{handler: handler}
}

// Build 构建 Hertz 服务器并注册全部路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(opts...)

	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api")
	{
		api.GET("/health", r.handler.HealthCheck)

		executions := api.Group("/executions")
		{
			executions.POST("", r.handler.StartExecution)
			executions.GET("", r.handler.ListExecutions)
			executions.GET("/:id", r.handler.GetExecution)
			executions.GET("/:id/steps", r.handler.ListStepResults)
			executions.GET("/:id/notes", r.handler.ListNotes)
			executions.POST("/:id/signal", r.handler.SignalExecution)
			executions.POST("/:id/cancel", r.handler.CancelExecution)
			executions.POST("/:id/wait", r.handler.WaitExecution)
		}

		api.POST("/signals/:signalId", r.handler.BroadcastSignal)

		tasks := api.Group("/tasks")
		{
			tasks.GET("", r.handler.ListTasks)
			tasks.POST("/:id/describe", r.handler.DescribeTask)
		}
	}

	return h
}
