package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/nao1215/todo-notification/pkg/metrics"
)

// defaultReconcileTimeout は定期期限チェック1回あたりの上限時間のデフォルト値。
const defaultReconcileTimeout = time.Minute

// DueTaskReconciler は期限チェックを実行する。*Reconcilerが満たす。
type DueTaskReconciler interface {
	Reconcile(ctx context.Context, windowDays int) []Notification
}

// Scheduler は期限チェックを一定間隔で実行する。
type Scheduler struct {
	scheduler  gocron.Scheduler
	reconciler DueTaskReconciler
	interval   time.Duration
	timeout    time.Duration
	windowDays int
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler は新しいSchedulerを生成する。intervalが0以下の場合、Startは何もしない。
func NewScheduler(reconciler DueTaskReconciler, interval, timeout time.Duration, windowDays int, logger *zap.Logger) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("スケジューラーの生成に失敗: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultReconcileTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler:  scheduler,
		reconciler: reconciler,
		interval:   interval,
		timeout:    timeout,
		windowDays: windowDays,
		logger:     logger.With(zap.String("component", "scheduler")),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start は定期実行を開始する。前回の実行が終わっていない場合、その回はスキップされる。
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("定期期限チェックは無効です")
		return nil
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.runOnce),
		gocron.WithName("due-task-reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("定期ジョブの登録に失敗: %w", err)
	}

	s.scheduler.Start()
	s.logger.Info("定期期限チェックを開始しました",
		zap.Duration("interval", s.interval),
		zap.Int("window_days", s.windowDays),
	)
	return nil
}

// Stop は実行中の期限チェックをキャンセルし、スケジューラーを停止する。
func (s *Scheduler) Stop() error {
	s.cancel()
	return s.scheduler.Shutdown()
}

// runOnce は期限チェックを1回実行する。
func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	metrics.IncReconcileRun(metrics.TriggerSchedule)
	created := s.reconciler.Reconcile(ctx, s.windowDays)
	s.logger.Debug("定期期限チェックを実行しました", zap.Int("created", len(created)))
}
