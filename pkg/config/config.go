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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"flow-platform/pkg/utils"
)

// Config 应用配置结构体
type Config struct {
	API    APIConfig    `mapstructure:"api"`
	Store  StoreConfig  `mapstructure:"store"`
	Wakeup WakeupConfig `mapstructure:"wakeup"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig 控制面 HTTP 服务配置
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr 返回监听地址；host 为空时监听所有网卡
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, utils.DefaultInt(c.Port, 8080))
}

// StoreConfig 执行存储配置（journal + 租约 + 定时器）
type StoreConfig struct {
	Type     string `mapstructure:"type"`      // memory | postgres
	DSN      string `mapstructure:"dsn"`       // Postgres 连接串，type=postgres 时必填
	LeaseTTL string `mapstructure:"lease_ttl"` // 租约时长，如 "30s"，空则默认 30s
}

// LeaseTTLOrDefault 解析租约时长，非法或空值回退 30s
func (c StoreConfig) LeaseTTLOrDefault() time.Duration {
	return utils.DefaultDuration(c.LeaseTTL, 30*time.Second)
}

// WakeupConfig 唤醒队列配置；signal 投递后借此缩短 worker 的感知延迟
type WakeupConfig struct {
	Type     string `mapstructure:"type"`     // memory | redis
	Addr     string `mapstructure:"addr"`     // Redis 地址，type=redis 时必填
	DB       int    `mapstructure:"db"`       // Redis DB 编号
	Password string `mapstructure:"password"` // Redis 密码，可选
}

// WorkerConfig Worker 服务配置
type WorkerConfig struct {
	OwnerID        string  `mapstructure:"owner_id"`         // worker 标识；空则按主机名生成
	MaxConcurrency int     `mapstructure:"max_concurrency"`  // 最大并发执行数，<=0 使用默认 4
	PollInterval   string  `mapstructure:"poll_interval"`    // 无活可领时的轮询间隔，如 "1s"
	ClaimPerSecond float64 `mapstructure:"claim_per_second"` // Claim 限速，<=0 不限
}

// PollIntervalOrDefault 解析轮询间隔，非法或空值回退 1s
func (c WorkerConfig) PollIntervalOrDefault() time.Duration {
	return utils.DefaultDuration(c.PollInterval, time.Second)
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// replaceEnvVars 替换配置中 ${VAR} 形式的敏感项
func replaceEnvVars(config *Config) {
	config.Store.DSN = expandEnv(config.Store.DSN)
	config.Wakeup.Password = expandEnv(config.Wakeup.Password)
}

func expandEnv(val string) string {
	if !strings.HasPrefix(val, "${") || !strings.HasSuffix(val, "}") {
		return val
	}
	envVar := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
	if resolved := os.Getenv(envVar); resolved != "" {
		return resolved
	}
	return val
}

// LoadWorkerConfig 加载 Worker 配置（仅 configs/worker.yaml）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig("configs/worker.yaml")
}
