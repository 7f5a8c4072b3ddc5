// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordAccessDenied(strategy string)
	RecordIntegrityOperation(operation string, err error)
	RecordRepairFixes(kind string, count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	accessDenied   *prometheus.CounterVec
	integrityOps   *prometheus.CounterVec
	repairFixes    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskhub_request_latency_seconds",
			Help:    "HTTPリクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		accessDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_access_denied_total",
			Help: "アクセス判定方式別の拒否数",
		}, []string{"strategy"}),
		integrityOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_integrity_operations_total",
			Help: "参照整合性操作の実行数（操作・結果別）",
		}, []string{"operation", "result"}),
		repairFixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_repair_fixes_total",
			Help: "整合性修復で書き換えたドキュメント数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestLatency,
		c.accessDenied,
		c.integrityOps,
		c.repairFixes,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordAccessDenied はアクセス拒否を記録する。
func (c *Collector) RecordAccessDenied(strategy string) {
	c.accessDenied.WithLabelValues(strategy).Inc()
}

// RecordIntegrityOperation は参照整合性操作の結果を記録する。
// result は成功時 "ok"、業務エラー時 "rejected"、それ以外は "failed"。
func (c *Collector) RecordIntegrityOperation(operation string, err error) {
	c.integrityOps.WithLabelValues(operation, ResultLabel(err)).Inc()
}

// RecordRepairFixes は整合性修復で書き換えた件数を記録する。
func (c *Collector) RecordRepairFixes(kind string, count int) {
	if count <= 0 {
		return
	}
	c.repairFixes.WithLabelValues(kind).Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
