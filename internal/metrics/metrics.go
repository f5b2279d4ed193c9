// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	resultAlive  = "alive"
	resultDead   = "dead"
	resultSent   = "sent"
	resultFailed = "failed"
)

// Collector はPrometheusメトリクスを収集する実装。
// 死活チェッカー、スキャナ、通知、コマンドハンドラから利用する。
type Collector struct {
	checks        *prometheus.CounterVec
	checkLatency  prometheus.Histogram
	scanDuration  prometheus.Histogram
	linksScanned  prometheus.Counter
	notifications *prometheus.CounterVec
	commands      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkbot_liveness_checks_total",
			Help: "死活チェックの結果別の合計数",
		}, []string{"result"}),
		checkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkbot_liveness_check_duration_seconds",
			Help:    "死活チェック1件あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkbot_scan_duration_seconds",
			Help:    "スキャンサイクル1回の所要時間（秒）",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		linksScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkbot_links_scanned_total",
			Help: "スキャンでチェックしたリンクの合計数",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkbot_notifications_total",
			Help: "到達不能通知の送信結果別の合計数",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkbot_commands_total",
			Help: "受信したコマンドの種別ごとの合計数",
		}, []string{"command"}),
	}

	reg.MustRegister(
		c.checks,
		c.checkLatency,
		c.scanDuration,
		c.linksScanned,
		c.notifications,
		c.commands,
	)

	return c
}

// RecordCheck は死活チェック1件の結果と所要時間を記録する。
func (c *Collector) RecordCheck(alive bool, duration time.Duration) {
	result := resultDead
	if alive {
		result = resultAlive
	}
	c.checks.WithLabelValues(result).Inc()
	c.checkLatency.Observe(duration.Seconds())
}

// RecordScanCycle はスキャンサイクルの所要時間とチェック件数を記録する。
func (c *Collector) RecordScanCycle(duration time.Duration, linksChecked int) {
	c.scanDuration.Observe(duration.Seconds())
	c.linksScanned.Add(float64(linksChecked))
}

// RecordNotification はプッシュ通知の送信結果を記録する。
func (c *Collector) RecordNotification(success bool) {
	result := resultFailed
	if success {
		result = resultSent
	}
	c.notifications.WithLabelValues(result).Inc()
}

// RecordCommand は処理したコマンドの種別を記録する。
func (c *Collector) RecordCommand(command string) {
	c.commands.WithLabelValues(command).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
