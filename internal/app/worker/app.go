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

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/redis/go-redis/v9"

	apihttp "flow-platform/internal/api/http"
	"flow-platform/internal/engine/executor"
	"flow-platform/internal/engine/service"
	"flow-platform/internal/engine/serde"
	"flow-platform/internal/engine/signalbus"
	"flow-platform/internal/engine/store"
	"flow-platform/internal/engine/worker"
	"flow-platform/internal/engine/workflow"
	"flow-platform/pkg/config"
	pkgerrors "flow-platform/pkg/errors"
	"flow-platform/pkg/log"
	"flow-platform/pkg/utils"
)

// App Worker 应用：拉取执行并推进（数据面），同时挂控制面 HTTP 接口
type App struct {
	config  *config.Config
	logger  *log.Logger
	store   store.Store
	pg      *store.PgStore
	redis   *redis.Client
	worker  *worker.Worker
	service *service.Service
	hertz   *server.Hertz
	otel    otelShutdown

	workerCancel context.CancelFunc
}

// NewApp 创建新的 Worker 应用；registry 由调用方注册好全部 task
func NewApp(cfg *config.Config, registry *workflow.Registry) (*App, error) {
	// 初始化日志
	logCfg := &log.Config{}
	if cfg != nil {
		logCfg.Level = cfg.Log.Level
		logCfg.Format = cfg.Log.Format
		logCfg.File = cfg.Log.File
	}
	logger, err := log.NewLogger(logCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "初始化日志失败")
	}

	appObj := &App{config: cfg, logger: logger}

	// 初始化执行存储
	switch utils.CoalesceString(cfg.Store.Type, "memory") {
	case "postgres":
		if cfg.Store.DSN == "" {
			return nil, fmt.Errorf("store.type=postgres 需要配置 store.dsn")
		}
		pg, err := store.NewPgStore(context.Background(), cfg.Store.DSN)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "初始化执行存储(postgres) 失败")
		}
		if err := pg.EnsureSchema(context.Background()); err != nil {
			pg.Close()
			return nil, pkgerrors.Wrap(err, "初始化执行存储 schema 失败")
		}
		appObj.pg = pg
		appObj.store = pg
		logger.Info("执行存储已就绪", "type", "postgres")
	case "memory":
		appObj.store = store.NewMemoryStore()
		logger.Info("执行存储已就绪", "type", "memory")
	default:
		return nil, fmt.Errorf("不支持的存储类型: %s", cfg.Store.Type)
	}

	// 初始化唤醒队列
	var wakeup worker.Wakeup
	switch utils.CoalesceString(cfg.Wakeup.Type, "memory") {
	case "redis":
		if cfg.Wakeup.Addr == "" {
			return nil, fmt.Errorf("wakeup.type=redis 需要配置 wakeup.addr")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Wakeup.Addr,
			DB:       cfg.Wakeup.DB,
			Password: cfg.Wakeup.Password,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, pkgerrors.Wrap(err, "连接 Redis 失败")
		}
		appObj.redis = client
		wakeup = worker.NewWakeupRedis(client, "")
		logger.Info("唤醒队列已就绪", "type", "redis", "addr", cfg.Wakeup.Addr)
	case "memory":
		wakeup = worker.NewWakeupMem(0)
		logger.Info("唤醒队列已就绪", "type", "memory")
	default:
		return nil, fmt.Errorf("不支持的唤醒队列类型: %s", cfg.Wakeup.Type)
	}

	codec := serde.NewJSONCodec()
	exec := executor.New(appObj.store, codec, registry)

	ownerID := cfg.Worker.OwnerID
	if ownerID == "" {
		host, _ := os.Hostname()
		ownerID = fmt.Sprintf("worker-%s-%d", host, os.Getpid())
	}
	appObj.worker = worker.New(appObj.store, exec, wakeup, logger, worker.Config{
		OwnerID:        ownerID,
		LeaseTTL:       cfg.Store.LeaseTTLOrDefault(),
		MaxConcurrency: cfg.Worker.MaxConcurrency,
		PollInterval:   cfg.Worker.PollIntervalOrDefault(),
		ClaimPerSecond: cfg.Worker.ClaimPerSecond,
	})

	bus := signalbus.New(appObj.store, codec, wakeup, logger)
	appObj.service = service.New(appObj.store, codec, registry, bus, wakeup, logger)

	logger.Info("worker 应用已装配", "owner_id", ownerID, "tasks", len(registry.IDs()))
	return appObj, nil
}

// Service 返回执行服务，供进程内嵌入方直接使用
func (a *App) Service() *service.Service { return a.service }

// Run 启动 claim 循环与 HTTP 服务，阻塞直至 HTTP 退出
func (a *App) Run() error {
	a.logger.Info("启动 worker 应用")

	// Hertz 日志走 slog 扩展，与应用日志配置对齐
	output := os.Stdout
	if a.config != nil && a.config.Log.File != "" {
		f, err := os.OpenFile(a.config.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	switch a.config.Log.Level {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	ctx, cancel := context.WithCancel(context.Background())
	a.workerCancel = cancel
	a.worker.Start(ctx)

	handler := apihttp.NewHandler(a.service, a.logger)
	router := apihttp.NewRouter(handler)
	addr := a.config.API.Addr()

	// 可选：启用链路追踪（OpenTelemetry）
	if a.config.Monitoring.Tracing.Enable && a.config.Monitoring.Tracing.ExportEndpoint != "" {
		serviceName := utils.CoalesceString(a.config.Monitoring.Tracing.ServiceName, "flow-worker")
		opts := []provider.Option{
			provider.WithServiceName(serviceName),
			provider.WithExportEndpoint(a.config.Monitoring.Tracing.ExportEndpoint),
		}
		if a.config.Monitoring.Tracing.Insecure {
			opts = append(opts, provider.WithInsecure())
		}
		a.otel = provider.NewOpenTelemetryProvider(opts...)
		tracerOpt, tracerCfg := hertztracing.NewServerTracer()
		a.hertz = router.Build(addr, tracerOpt)
		a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
		a.logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", a.config.Monitoring.Tracing.ExportEndpoint)
	} else {
		a.hertz = router.Build(addr)
	}
	return a.hertz.Run()
}

type otelShutdown interface {
	Shutdown(ctx context.Context) error
}

// Shutdown 优雅关闭（传入 ctx 以支持超时）
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("关闭 worker 应用")

	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			a.logger.Error("关闭 HTTP 服务失败", "error", err)
		}
	}
	if a.workerCancel != nil {
		a.workerCancel()
	}
	a.worker.Stop()

	if a.otel != nil {
		_ = a.otel.Shutdown(ctx)
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("关闭 Redis 连接失败", "error", err)
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}

	a.logger.Info("worker 应用关闭成功")
	return nil
}
