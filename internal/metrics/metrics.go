// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証操作の結果ラベル。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	// RecordAuthAttempt は register / login / logout / federated の結果を記録する。
	RecordAuthAttempt(operation, outcome string)
	RecordTokenValidation(valid bool)
	// RecordFederatedResolution は外部IdPログインの判定結果（分岐）を記録する。
	RecordFederatedResolution(kind string)
	RecordNotificationDropped(notificationType string)
	RecordSessionsPruned(count int)
	RecordSweepLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts         *prometheus.CounterVec
	tokenValidations     *prometheus.CounterVec
	federatedResolutions *prometheus.CounterVec
	notificationsDropped *prometheus.CounterVec
	sessionsPruned       prometheus.Counter
	sweepLatency         prometheus.Histogram
	httpStatus           *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountcore_auth_attempts_total",
			Help: "認証操作の試行数（操作・結果別）",
		}, []string{"operation", "outcome"}),
		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountcore_token_validations_total",
			Help: "トークン検証の結果別件数",
		}, []string{"result"}),
		federatedResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountcore_federated_resolutions_total",
			Help: "外部IdPログインのアカウント判定結果",
		}, []string{"kind"}),
		notificationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountcore_notifications_dropped_total",
			Help: "送出できずに破棄された通知の数",
		}, []string{"type"}),
		sessionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accountcore_sessions_pruned_total",
			Help: "索引から除去された期限切れセッションの数",
		}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "accountcore_sweep_latency_seconds",
			Help:    "セッション索引スイープの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountcore_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.tokenValidations,
		c.federatedResolutions,
		c.notificationsDropped,
		c.sessionsPruned,
		c.sweepLatency,
		c.httpStatus,
	)

	return c
}

// RecordAuthAttempt は認証操作の結果を記録する。
func (c *Collector) RecordAuthAttempt(operation, outcome string) {
	c.authAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordTokenValidation はトークン検証の結果を記録する。
func (c *Collector) RecordTokenValidation(valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	c.tokenValidations.WithLabelValues(result).Inc()
}

// RecordFederatedResolution は外部IdPログインの判定結果を記録する。
func (c *Collector) RecordFederatedResolution(kind string) {
	c.federatedResolutions.WithLabelValues(kind).Inc()
}

// RecordNotificationDropped は破棄された通知を記録する。
func (c *Collector) RecordNotificationDropped(notificationType string) {
	c.notificationsDropped.WithLabelValues(notificationType).Inc()
}

// RecordSessionsPruned は除去されたセッション索引エントリ数を記録する。
func (c *Collector) RecordSessionsPruned(count int) {
	c.sessionsPruned.Add(float64(count))
}

// RecordSweepLatency はスイープの所要時間を記録する。
func (c *Collector) RecordSweepLatency(duration time.Duration) {
	c.sweepLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordAuthAttempt(string, string) {}
func (Nop) RecordTokenValidation(bool) {}
func (Nop) RecordFederatedResolution(string) {}
func (Nop) RecordNotificationDropped(string) {}
func (Nop) RecordSessionsPruned(int) {}
func (Nop) RecordSweepLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
