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

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flow-platform/internal/app/worker"
	"flow-platform/internal/engine/workflow"
	"flow-platform/internal/tasks"
	"flow-platform/pkg/config"
)

func main() {
	// 加载配置（configs/worker.yaml，请从项目根启动）
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 注册工作流
	registry := workflow.NewRegistry()
	tasks.RegisterBuiltin(registry)

	// 初始化应用
	app, err := worker.NewApp(cfg, registry)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}

	// 启动应用（Run 阻塞直至 HTTP 退出）
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run() }()

	// 等待中断信号或启动失败
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		if err != nil {
			log.Fatalf("启动应用失败: %v", err)
		}
	}

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		log.Printf("关闭应用失败: %v", err)
	}

	fmt.Println("应用已关闭")
}
