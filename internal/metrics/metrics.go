// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuthCollector は認証フローのメトリクス収集インターフェース。
// 認証サービスから利用する。
type AuthCollector interface {
	RecordLoginAttempt()
	RecordLoginOutcome(outcome string)
	RecordProviderLatency(op string, duration time.Duration)
	RecordPhotoProbe(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginAttempts   prometheus.Counter
	loginOutcome    *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	photoProbe      *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "projecthub_login_attempts_total",
			Help: "ログイン開始の合計数",
		}),
		loginOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "projecthub_login_outcome_total",
			Help: "認証コールバックの結果別合計数",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "projecthub_provider_request_seconds",
			Help:    "IDプロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		photoProbe: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "projecthub_photo_probe_total",
			Help: "プロフィール写真プローブの結果別合計数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "projecthub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.loginAttempts,
		c.loginOutcome,
		c.providerLatency,
		c.photoProbe,
		c.httpStatus,
	)

	return c
}

// RecordLoginAttempt はログイン開始を記録する。
func (c *Collector) RecordLoginAttempt() {
	c.loginAttempts.Inc()
}

// RecordLoginOutcome は認証コールバックの結果を記録する。
func (c *Collector) RecordLoginOutcome(outcome string) {
	c.loginOutcome.WithLabelValues(outcome).Inc()
}

// RecordProviderLatency はIDプロバイダー呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(op string, duration time.Duration) {
	c.providerLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordPhotoProbe はプロフィール写真プローブの結果を記録する。
func (c *Collector) RecordPhotoProbe(outcome string) {
	c.photoProbe.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ AuthCollector = (*Collector)(nil)
