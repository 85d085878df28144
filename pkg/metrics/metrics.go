package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		ExecutionDuration, ExecutionTotal, AttemptTotal,
		ClaimTotal, LeaseRenewFailTotal, SignalDeliveredTotal,
		WorkerBusy,
	)
}

// ExecutionDuration 执行从创建到终态的耗时（秒）
var ExecutionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "flow_execution_duration_seconds",
		Help:    "执行从创建到终态的耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"task_id"},
)

// ExecutionTotal 进入终态的执行总数（按状态）
var ExecutionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "flow_execution_total",
		Help: "进入终态的执行总数（按状态）",
	},
	[]string{"status"}, // completed | failed | cancelled
)

// AttemptTotal attempt 总数（按走向）
var AttemptTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "flow_attempt_total",
		Help: "attempt 总数（按走向）",
	},
	[]string{"outcome"}, // completed | suspended | failed | retrying
)

// ClaimTotal 认领尝试总数（按是否取到）
var ClaimTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "flow_claim_total",
		Help: "认领尝试总数",
	},
	[]string{"claimed"}, // true | false
)

// LeaseRenewFailTotal 续租失败（租约被接管或执行已终态）次数
var LeaseRenewFailTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "flow_lease_renew_fail_total",
		Help: "续租失败次数",
	},
)

// SignalDeliveredTotal signal 投递总数（按是否有 waiter 消费）
var SignalDeliveredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "flow_signal_delivered_total",
		Help: "signal 投递总数",
	},
	[]string{"delivered"}, // true | false
)

// WorkerBusy 当前正在推进的执行数（每 Worker）
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "flow_worker_busy",
		Help: "当前正在推进的执行数",
	},
	[]string{"worker_id"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
