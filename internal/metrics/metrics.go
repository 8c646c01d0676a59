// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 著者一覧取得の結果区分
const (
	OutcomeFound = "found"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordAuthorList(outcome string)
	RecordHTTPStatus(statusCode int)
	RecordQueryLatency(operation string, duration time.Duration)
	RecordAuthorCreated()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authorList     *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	queryLatency   *prometheus.HistogramVec
	authorsCreated prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authorList: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "locallibrary_author_list_total",
			Help: "著者一覧リクエストの結果別件数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "locallibrary_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "locallibrary_db_query_latency_seconds",
			Help:    "データベース操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		authorsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "locallibrary_authors_created_total",
			Help: "作成された著者の合計数",
		}),
	}

	reg.MustRegister(
		c.authorList,
		c.httpStatus,
		c.queryLatency,
		c.authorsCreated,
	)

	return c
}

// RecordAuthorList は著者一覧リクエストの結果を記録する。
func (c *Collector) RecordAuthorList(outcome string) {
	c.authorList.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordQueryLatency はデータベース操作のレイテンシを記録する。
func (c *Collector) RecordQueryLatency(operation string, duration time.Duration) {
	c.queryLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuthorCreated は著者作成を記録する。
func (c *Collector) RecordAuthorCreated() {
	c.authorsCreated.Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordAuthorList(string)                  {}
func (NopCollector) RecordHTTPStatus(int)                     {}
func (NopCollector) RecordQueryLatency(string, time.Duration) {}
func (NopCollector) RecordAuthorCreated()                     {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
