// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ナッジジョブの実行結果ラベル
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeEmpty   = "no_candidates"
)

// Collector はPrometheusメトリクスを収集する実装。
// HTTPミドルウェア、ナッジジョブ、JWKSキャッシュから利用する。
type Collector struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	nudgeEmailsSent prometheus.Counter
	nudgeEmailsFail prometheus.Counter
	nudgeRuns       *prometheus.CounterVec
	jwksRefresh     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghosted_http_requests_total",
			Help: "メソッド・ルート・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ghosted_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		nudgeEmailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghosted_nudge_emails_sent_total",
			Help: "送信に成功したナッジメールの合計数",
		}),
		nudgeEmailsFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghosted_nudge_emails_failed_total",
			Help: "送信に失敗したナッジメールの合計数",
		}),
		nudgeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghosted_nudge_runs_total",
			Help: "結果別のナッジジョブ実行回数",
		}, []string{"outcome"}),
		jwksRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghosted_jwks_refresh_total",
			Help: "結果別のJWKS取得回数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.nudgeEmailsSent,
		c.nudgeEmailsFail,
		c.nudgeRuns,
		c.jwksRefresh,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
// routeにはchiのルートパターン（/v1/job-application/{id}など）を渡す。
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordNudgeEmail はナッジメール1通の送信結果を記録する。
func (c *Collector) RecordNudgeEmail(success bool) {
	if success {
		c.nudgeEmailsSent.Inc()
		return
	}
	c.nudgeEmailsFail.Inc()
}

// RecordNudgeRun はナッジジョブ1回分の結果を記録する。
func (c *Collector) RecordNudgeRun(outcome string) {
	c.nudgeRuns.WithLabelValues(outcome).Inc()
}

// RecordJWKSRefresh はJWKS取得の結果を記録する。
func (c *Collector) RecordJWKSRefresh(success bool) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	c.jwksRefresh.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
