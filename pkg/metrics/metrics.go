// Package metrics は通知サービスのPrometheusメトリクスを定義する。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 通知の作成経路。
const (
	// OriginAPI はPOST /api/notifications 経由の作成を表す。
	OriginAPI = "api"
	// OriginDueTask は期限チェック（Reconciler）経由の作成を表す。
	OriginDueTask = "due_task"
)

// 期限チェックの起動経路。
const (
	// TriggerAPI はPOST /api/notifications/check-due-tasks による手動実行を表す。
	TriggerAPI = "api"
	// TriggerSchedule は定期実行を表す。
	TriggerSchedule = "schedule"
)

// 期限チェックにおけるタスク単位の処理結果。
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var (
	// NotificationsCreated は作成された通知の数。
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notifications created",
		},
		[]string{"origin"},
	)

	// ReconcileRuns は期限チェックの実行回数。
	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "due_task_reconcile_runs_total",
			Help: "Total number of due-task reconcile runs",
		},
		[]string{"trigger"},
	)

	// ReconcileTaskOutcomes は期限チェックでのタスクごとの処理結果。
	ReconcileTaskOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "due_task_reconcile_task_outcomes_total",
			Help: "Per-task outcomes of due-task reconciliation",
		},
		[]string{"outcome"},
	)

	// PeerRequestDuration はピアサービス呼び出しのレイテンシ（秒）。
	PeerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peer_request_duration_seconds",
			Help:    "Peer service request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"peer", "operation", "result"},
	)

	// HTTPRequestDuration はHTTPリクエストの処理時間（秒）。
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// IncNotificationCreated は通知作成数を加算する。
func IncNotificationCreated(origin string) {
	NotificationsCreated.WithLabelValues(origin).Inc()
}

// IncReconcileRun は期限チェックの実行回数を加算する。
func IncReconcileRun(trigger string) {
	ReconcileRuns.WithLabelValues(trigger).Inc()
}

// IncReconcileOutcome はタスク単位の処理結果を加算する。
func IncReconcileOutcome(outcome string) {
	ReconcileTaskOutcomes.WithLabelValues(outcome).Inc()
}

// RecordPeerRequest はピアサービス呼び出しのレイテンシを記録する。
func RecordPeerRequest(peer, operation, result string, d time.Duration) {
	PeerRequestDuration.WithLabelValues(peer, operation, result).Observe(d.Seconds())
}

// RecordHTTPRequest はHTTPリクエストの処理時間を記録する。
func RecordHTTPRequest(method, path, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}
