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
// ワーカーやハンドラー層から利用する。
type MetricsCollector interface {
	RecordAnalyzeSuccess(domain string)
	RecordAnalyzeFailure(domain string, reason string)
	RecordEscalation(domain string)
	RecordSweepEnqueued(count int)
	RecordHTTPStatus(statusCode int)
	RecordAnalyzeLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	analyzeSuccess prometheus.Counter
	analyzeFail    prometheus.Counter
	escalations    prometheus.Counter
	sweepEnqueued  prometheus.Counter
	httpStatus     *prometheus.CounterVec
	analyzeLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		analyzeSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "domainwatch_analyze_success_total",
			Help: "ドメイン分析成功の合計数",
		}),
		analyzeFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "domainwatch_analyze_fail_total",
			Help: "ドメイン分析失敗の合計数",
		}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "domainwatch_escalations_total",
			Help: "リトライ用キューへエスカレーションされたジョブの合計数",
		}),
		sweepEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "domainwatch_sweep_enqueued_total",
			Help: "スイープで再投入されたドメインの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domainwatch_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		analyzeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "domainwatch_analyze_latency_seconds",
			Help:    "ドメイン分析のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.analyzeSuccess,
		c.analyzeFail,
		c.escalations,
		c.sweepEnqueued,
		c.httpStatus,
		c.analyzeLatency,
	)

	return c
}

// RecordAnalyzeSuccess は分析成功を記録する。
func (c *Collector) RecordAnalyzeSuccess(domain string) {
	c.analyzeSuccess.Inc()
}

// RecordAnalyzeFailure は分析失敗を記録する。
func (c *Collector) RecordAnalyzeFailure(domain string, reason string) {
	c.analyzeFail.Inc()
}

// RecordEscalation はリトライ用キューへのエスカレーションを記録する。
func (c *Collector) RecordEscalation(domain string) {
	c.escalations.Inc()
}

// RecordSweepEnqueued はスイープで再投入されたドメイン数を記録する。
func (c *Collector) RecordSweepEnqueued(count int) {
	c.sweepEnqueued.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordAnalyzeLatency は分析のレイテンシを記録する。
func (c *Collector) RecordAnalyzeLatency(duration time.Duration) {
	c.analyzeLatency.Observe(duration.Seconds())
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

// Noop は何も記録しないMetricsCollector実装。
// メトリクスが不要な構成やテストで使用する。
type Noop struct{}

func (Noop) RecordAnalyzeSuccess(domain string)                {}
func (Noop) RecordAnalyzeFailure(domain string, reason string) {}
func (Noop) RecordEscalation(domain string)                    {}
func (Noop) RecordSweepEnqueued(count int)                     {}
func (Noop) RecordHTTPStatus(statusCode int)                   {}
func (Noop) RecordAnalyzeLatency(duration time.Duration)       {}
