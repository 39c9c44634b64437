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
// ログインフロー、掃除ジョブ、HTTP層から利用する。
type MetricsCollector interface {
	RecordLogin(provider string)
	RecordCallback(provider, outcome string)
	RecordProviderLatency(provider, endpoint string, d time.Duration)
	RecordStatesSwept(count int64)
	RecordPendingStates(count int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginsIssued    *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	statesSwept     prometheus.Counter
	pendingStates   prometheus.Gauge
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authflow_logins_issued_total",
			Help: "発行したログインstateの合計数",
		}, []string{"provider"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authflow_callbacks_total",
			Help: "結果別のコールバック処理数",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authflow_provider_request_duration_seconds",
			Help:    "プロバイダーへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "endpoint"}),
		statesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authflow_states_swept_total",
			Help: "掃除ジョブが削除した期限切れstateの合計数",
		}),
		pendingStates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authflow_pending_states",
			Help: "直近の掃除後に残っている保留中ログイン数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authflow_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.loginsIssued,
		c.callbacks,
		c.providerLatency,
		c.statesSwept,
		c.pendingStates,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン開始を記録する。
func (c *Collector) RecordLogin(provider string) {
	c.loginsIssued.WithLabelValues(provider).Inc()
}

// RecordCallback はコールバックの結果を記録する。
func (c *Collector) RecordCallback(provider, outcome string) {
	c.callbacks.WithLabelValues(provider, outcome).Inc()
}

// RecordProviderLatency はトークン交換やuserinfo取得のレイテンシを記録する。
func (c *Collector) RecordProviderLatency(provider, endpoint string, d time.Duration) {
	c.providerLatency.WithLabelValues(provider, endpoint).Observe(d.Seconds())
}

// RecordStatesSwept は掃除ジョブの削除件数を記録する。
func (c *Collector) RecordStatesSwept(count int64) {
	c.statesSwept.Add(float64(count))
}

// RecordPendingStates は保留中ログイン数を記録する。
func (c *Collector) RecordPendingStates(count int) {
	c.pendingStates.Set(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// StatusMiddleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func StatusMiddleware(recorder MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			recorder.RecordHTTPStatus(sw.status)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
