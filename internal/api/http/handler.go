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
	"bytes"
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"flow-platform/internal/engine/service"
	"flow-platform/internal/engine/store"
	"flow-platform/pkg/log"
	"flow-platform/pkg/metrics"
)

// Handler HTTP 处理器；控制面入口，所有执行推进都在 Worker 侧
type Handler struct {
	svc    *service.Service
	logger *log.Logger
}

// NewHandler 创建新的 HTTP 处理器
func NewHandler(svc *service.Service, logger *log.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// HealthCheck 健康检查
// GET /api/health
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "flow-worker",
	})
}

// Metrics Prometheus 文本格式指标
// GET /metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4", buf.Bytes())
}

type startRequest struct {
	TaskID string `json:"taskId"`
	Input  any    `json:"input"`
}

// StartExecution 启动一条执行
// POST /api/executions
func (h *Handler) StartExecution(c context.Context, ctx *app.RequestContext) {
	var req startRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.TaskID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "taskId is required"})
		return
	}
	execID, err := h.svc.Start(c, req.TaskID, req.Input)
	if err != nil {
		var notFound *service.TaskNotFoundError
		if errors.As(err, &notFound) {
			ctx.JSON(consts.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("启动执行失败", "task_id", req.TaskID, "error", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to start execution"})
		return
	}
	ctx.JSON(consts.StatusCreated, map[string]string{"executionId": execID})
}

// GetExecution 查询单条执行
// GET /api/executions/:id
func (h *Handler) GetExecution(c context.Context, ctx *app.RequestContext) {
	execID := ctx.Param("id")
	exec, err := h.svc.GetExecution(c, execID)
	if err != nil {
		if errors.Is(err, store.ErrExecutionNotFound) {
			ctx.JSON(consts.StatusNotFound, map[string]string{"error": "execution not found"})
			return
		}
		h.logger.Error("查询执行失败", "execution_id", execID, "error", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to load execution"})
		return
	}
	ctx.JSON(consts.StatusOK, executionView(exec))
}

// ListExecutions 过滤 + 分页列出执行
// GET /api/executions?taskId=&status=&limit=&offset=
func (h *Handler) ListExecutions(c context.Context, ctx *app.RequestContext) {
	filter := store.Filter{
		TaskID: ctx.Query("taskId"),
		Status: store.Status(ctx.Query("status")),
	}
	var page store.Page
	if v := ctx.Query("limit"); v != "" {
		page.Limit, _ = strconv.Atoi(v)
	}
	if v := ctx.Query("offset"); v != "" {
		page.Offset, _ = strconv.Atoi(v)
	}
	execs, err := h.svc.ListExecutions(c, filter, page)
	if err != nil {
		h.logger.Error("列出执行失败", "error", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to list executions"})
		return
	}
	out := make([]map[string]any, 0, len(execs))
	for _, e := range execs {
		out = append(out, executionView(e))
	}
	ctx.JSON(consts.StatusOK, map[string]any{"executions": out})
}

// ListStepResults 执行的 journal
// GET /api/executions/:id/steps
func (h *Handler) ListStepResults(c context.Context, ctx *app.RequestContext) {
	execID := ctx.Param("id")
	steps, err := h.svc.ListStepResults(c, execID)
	if err != nil {
		if errors.Is(err, store.ErrExecutionNotFound) {
			ctx.JSON(consts.StatusNotFound, map[string]string{"error": "execution not found"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to list step results"})
		return
	}
	out := make([]map[string]any, 0, len(steps))
	for _, rec := range steps {
		v := map[string]any{
			"stepId":  rec.StepID,
			"kind":    string(rec.Kind),
			"value":   rawJSON(rec.Value),
			"waiting": rec.Waiting(),
		}
		if rec.CompletedAt != nil {
			v["completedAt"] = rec.CompletedAt
		}
		out = append(out, v)
	}
	ctx.JSON(consts.StatusOK, map[string]any{"steps": out})
}

// ListNotes 执行的审计备注
// GET /api/executions/:id/notes
func (h *Handler) ListNotes(c context.Context, ctx *app.RequestContext) {
	execID := ctx.Param("id")
	notes, err := h.svc.ListNotes(c, execID)
	if err != nil {
		if errors.Is(err, store.ErrExecutionNotFound) {
			ctx.JSON(consts.StatusNotFound, map[string]string{"error": "execution not found"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to list notes"})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]any{"notes": notes})
}

type signalRequest struct {
	SignalID string `json:"signalId"`
	Payload  any    `json:"payload"`
}

// SignalExecution 定向投递 signal
// POST /api/executions/:id/signal
func (h *Handler) SignalExecution(c context.Context, ctx *app.RequestContext) {
	execID := ctx.Param("id")
	var req signalRequest
	if err := ctx.BindJSON(&req); err != nil || req.SignalID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "signalId is required"})
		return
	}
	if err := h.svc.Signal(c, execID, req.SignalID, req.Payload); err != nil {
		h.logger.Error("signal 投递失败", "execution_id", execID, "signal_id", req.SignalID, "error", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to deliver signal"})
		return
	}
	ctx.JSON(consts.StatusAccepted, map[string]string{"status": "accepted"})
}

// BroadcastSignal 广播 signal 给所有 waiter
// POST /api/signals/:signalId
func (h *Handler) BroadcastSignal(c context.Context, ctx *app.RequestContext) {
	signalID := ctx.Param("signalId")
	var req struct {
		Payload any `json:"payload"`
	}
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	affected, err := h.svc.Broadcast(c, signalID, req.Payload)
	if err != nil {
		h.logger.Error("signal 广播失败", "signal_id", signalID, "error", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to broadcast signal"})
		return
	}
	ctx.JSON(consts.StatusAccepted, map[string]any{"executions": affected})
}

// CancelExecution 取消执行
// POST /api/executions/:id/cancel
func (h *Handler) CancelExecution(c context.Context, ctx *app.RequestContext) {
	execID := ctx.Param("id")
	ok, err := h.svc.Cancel(c, execID)
	if err != nil {
		if errors.Is(err, store.ErrExecutionNotFound) {
			ctx.JSON(consts.StatusNotFound, map[string]string{"error": "execution not found"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to cancel execution"})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]any{"cancelled": ok})
}

type waitRequest struct {
	TimeoutMs      int64 `json:"timeoutMs"`
	PollIntervalMs int64 `json:"pollIntervalMs"`
}

// WaitExecution 阻塞等待终态；failed/cancelled 随 200 返回终态详情，
// 客户端超时返回 408 但执行继续
// POST /api/executions/:id/wait
func (h *Handler) WaitExecution(c context.Context, ctx *app.RequestContext) {
	execID := ctx.Param("id")
	var req waitRequest
	_ = ctx.BindJSON(&req)
	// HTTP 侧不允许无限等待，未指定时兜底 30s
	if req.TimeoutMs <= 0 {
		req.TimeoutMs = 30_000
	}
	opts := service.WaitOptions{
		Timeout:      time.Duration(req.TimeoutMs) * time.Millisecond,
		PollInterval: time.Duration(req.PollIntervalMs) * time.Millisecond,
	}

	err := h.svc.Wait(c, execID, opts, nil)
	switch {
	case err == nil:
		exec, loadErr := h.svc.GetExecution(c, execID)
		if loadErr != nil {
			ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to load result"})
			return
		}
		ctx.JSON(consts.StatusOK, map[string]any{"status": "completed", "result": rawJSON(exec.Result)})
	case errors.Is(err, store.ErrExecutionNotFound):
		ctx.JSON(consts.StatusNotFound, map[string]string{"error": "execution not found"})
	default:
		var failed *service.ExecutionFailedError
		var cancelled *service.CancelledError
		var timeout *service.WaitTimeoutError
		switch {
		case errors.As(err, &failed):
			ctx.JSON(consts.StatusOK, map[string]any{"status": "failed", "error": map[string]string{"message": failed.Cause.Message}})
		case errors.As(err, &cancelled):
			ctx.JSON(consts.StatusOK, map[string]any{"status": "cancelled"})
		case errors.As(err, &timeout):
			ctx.JSON(consts.StatusRequestTimeout, map[string]string{"error": "wait timed out"})
		default:
			ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "wait failed"})
		}
	}
}

// ListTasks 已注册 task
// GET /api/tasks
func (h *Handler) ListTasks(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]any{"tasks": h.svc.Tasks()})
}

// DescribeTask 干跑返回任务的静态结构
// POST /api/tasks/:id/describe
func (h *Handler) DescribeTask(c context.Context, ctx *app.RequestContext) {
	taskID := ctx.Param("id")
	var req struct {
		DefaultInput any `json:"defaultInput"`
	}
	_ = ctx.BindJSON(&req)
	steps, err := h.svc.Describe(c, taskID, req.DefaultInput)
	if err != nil {
		var notFound *service.TaskNotFoundError
		if errors.As(err, &notFound) {
			ctx.JSON(consts.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("describe 失败", "task_id", taskID, "error", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to describe task"})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]any{"taskId": taskID, "steps": steps})
}

// executionView 终端可见的执行视图；租约等内部字段不暴露
func executionView(e *store.Execution) map[string]any {
	v := map[string]any{
		"executionId": e.ID,
		"taskId":      e.TaskID,
		"status":      string(e.Status),
		"attempt":     e.Attempt,
		"createdAt":   e.CreatedAt,
		"updatedAt":   e.UpdatedAt,
	}
	if e.Result != nil {
		v["result"] = rawJSON(e.Result)
	}
	if e.Error != nil {
		v["error"] = map[string]string{"message": e.Error.Message}
	}
	if e.CompletedAt != nil {
		v["completedAt"] = e.CompletedAt
	}
	if e.WakeAt != nil {
		v["wakeAt"] = e.WakeAt
	}
	if e.PendingSignalID != "" {
		v["pendingSignalId"] = e.PendingSignalID
	}
	return v
}

// rawJSONValue journal 里的值本身就是 JSON，原样内嵌避免二次编码
type rawJSONValue []byte

func (r rawJSONValue) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func rawJSON(b []byte) rawJSONValue { return rawJSONValue(b) }
