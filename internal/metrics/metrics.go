// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 貸出エンジンとHTTPミドルウェアから利用する。
type Collector struct {
	checkouts   prometheus.Counter
	returns     prometheus.Counter
	lateFees    prometheus.Counter
	rejected    *prometheus.CounterVec
	txRetries   *prometheus.CounterVec
	httpStatus  *prometheus.CounterVec
	httpLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libman_loans_checked_out_total",
			Help: "貸出の合計数",
		}),
		returns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libman_loans_returned_total",
			Help: "返却の合計数",
		}),
		lateFees: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libman_late_fees_total",
			Help: "確定した延滞料の合計",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libman_loan_rejected_total",
			Help: "理由別の貸出・返却拒否数",
		}, []string{"reason"}),
		txRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libman_tx_retries_total",
			Help: "トランザクション競合による再試行数",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "libman_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.checkouts,
		c.returns,
		c.lateFees,
		c.rejected,
		c.txRetries,
		c.httpStatus,
		c.httpLatency,
	)

	return c
}

// RecordCheckout は貸出を記録する。
func (c *Collector) RecordCheckout() {
	c.checkouts.Inc()
}

// RecordReturn は返却と確定した延滞料を記録する。
func (c *Collector) RecordReturn(lateFee int) {
	c.returns.Inc()
	if lateFee > 0 {
		c.lateFees.Add(float64(lateFee))
	}
}

// RecordRejected は貸出・返却の拒否を理由別に記録する。
func (c *Collector) RecordRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

// RecordTxRetry はトランザクションの再試行を記録する。
func (c *Collector) RecordTxRetry(operation string) {
	c.txRetries.WithLabelValues(operation).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPLatency はHTTPリクエストの処理時間を記録する。
func (c *Collector) RecordHTTPLatency(duration time.Duration) {
	c.httpLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
