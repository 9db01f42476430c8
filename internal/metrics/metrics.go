// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証結果のラベル値
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeRejected           = "rejected"
	OutcomeProviderError      = "provider_error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordSignup(outcome string)
	RecordProviderLatency(operation string, duration time.Duration)
	RecordProviderFailure(operation string, reason string)
	RecordPostCreated()
	RecordPostDeleted()
	SetStreamClients(count int)
	RecordHTTPStatus(statusCode int)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	signups         *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	providerFail    *prometheus.CounterVec
	postsCreated    prometheus.Counter
	postsDeleted    prometheus.Counter
	streamClients   prometheus.Gauge
	httpStatus      *prometheus.CounterVec
	sessionsCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podpost_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podpost_signups_total",
			Help: "結果別のサインアップ試行数",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "podpost_provider_latency_seconds",
			Help:    "Podプロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		providerFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podpost_provider_fail_total",
			Help: "Podプロバイダー呼び出し失敗の合計数",
		}, []string{"operation", "reason"}),
		postsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podpost_posts_created_total",
			Help: "作成された投稿の合計数",
		}),
		postsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podpost_posts_deleted_total",
			Help: "削除された投稿の合計数",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "podpost_stream_clients",
			Help: "投稿ストリームに接続中のクライアント数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podpost_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podpost_sessions_cleaned_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.signups,
		c.providerLatency,
		c.providerFail,
		c.postsCreated,
		c.postsDeleted,
		c.streamClients,
		c.httpStatus,
		c.sessionsCleaned,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordSignup はサインアップ試行の結果を記録する。
func (c *Collector) RecordSignup(outcome string) {
	c.signups.WithLabelValues(outcome).Inc()
}

// RecordProviderLatency はプロバイダー呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(operation string, duration time.Duration) {
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordProviderFailure はプロバイダー呼び出しの失敗を記録する。
func (c *Collector) RecordProviderFailure(operation string, reason string) {
	c.providerFail.WithLabelValues(operation, reason).Inc()
}

// RecordPostCreated は投稿作成を記録する。
func (c *Collector) RecordPostCreated() {
	c.postsCreated.Inc()
}

// RecordPostDeleted は投稿削除を記録する。
func (c *Collector) RecordPostDeleted() {
	c.postsDeleted.Inc()
}

// SetStreamClients はストリーム接続数を設定する。
func (c *Collector) SetStreamClients(count int) {
	c.streamClients.Set(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsCleaned は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// Acceptヘッダーに応じてOpenMetrics形式でも応答する。
// 一部のコレクターが失敗しても取得できたメトリクスは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
