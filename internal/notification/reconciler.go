package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/todo-notification/internal/peer"
	"github.com/nao1215/todo-notification/pkg/keylock"
	"github.com/nao1215/todo-notification/pkg/metrics"
)

// DefaultConcurrency はReconcilerが並行処理するタスク数のデフォルト値。
const DefaultConcurrency = 4

// DueTaskSource は期限の近いタスクを提供する。
type DueTaskSource interface {
	DueSoon(ctx context.Context, windowDays int) ([]peer.Task, error)
}

// Repository はReconcilerが使う通知ストアの操作。
type Repository interface {
	Inserter
	FindUnreadByTask(ctx context.Context, taskID string) ([]Notification, error)
}

// Reconciler は期限の近いタスクから通知を生成する。
// 同じタスクに未読の通知が既にある場合は生成しない。
type Reconciler struct {
	tasks       DueTaskSource
	store       Repository
	locker      keylock.Locker
	logger      *zap.Logger
	concurrency int
}

// ReconcilerOption はReconcilerのオプション。
type ReconcilerOption func(*Reconciler)

// WithConcurrency は並行処理するタスク数の上限を設定する。0以下は無視する。
func WithConcurrency(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLocker はタスク単位のロックを差し替える。デフォルトはプロセス内ロック。
func WithLocker(l keylock.Locker) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.locker = l
		}
	}
}

// NewReconciler は新しいReconcilerを生成する。
func NewReconciler(tasks DueTaskSource, store Repository, logger *zap.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		tasks:       tasks,
		store:       store,
		locker:      keylock.NewLocal(),
		logger:      logger.With(zap.String("component", "reconciler")),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile は期限がwindowDays日以内のタスクについて通知を生成し、新たに作成した通知をタスクの取得順で返す。
// タスクサービスの失敗は対象タスク0件として扱う。個々のタスクの保存失敗は記録して残りの処理を続ける。
// ctxが終了した場合は未着手のタスクを処理せず、それまでの結果を返す。
func (r *Reconciler) Reconcile(ctx context.Context, windowDays int) []Notification {
	start := time.Now()

	tasks, err := r.tasks.DueSoon(ctx, windowDays)
	if err != nil {
		r.logger.Warn("期限の近いタスクを取得できないため0件として扱います",
			zap.Int("window_days", windowDays),
			zap.Error(err),
		)
		return []Notification{}
	}

	created := make([]*Notification, len(tasks))
	outcomes := make([]string, len(tasks))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			created[i], outcomes[i] = r.reconcileTask(ctx, task)
			metrics.IncReconcileOutcome(outcomes[i])
			return nil
		})
	}
	// 各タスクの失敗は個別に処理済みのため、Waitはエラーを返さない。
	_ = g.Wait()

	result := make([]Notification, 0, len(tasks))
	for _, n := range created {
		if n != nil {
			result = append(result, *n)
		}
	}

	counts := make(map[string]int, 4)
	for _, o := range outcomes {
		if o != "" {
			counts[o]++
		}
	}
	r.logger.Info("期限チェックが完了しました",
		zap.Int("window_days", windowDays),
		zap.Int("due_tasks", len(tasks)),
		zap.Int("created", counts[metrics.OutcomeCreated]),
		zap.Int("duplicate", counts[metrics.OutcomeDuplicate]),
		zap.Int("skipped", counts[metrics.OutcomeSkipped]),
		zap.Int("failed", counts[metrics.OutcomeFailed]),
		zap.Bool("interrupted", ctx.Err() != nil),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result
}

// reconcileTask は1タスク分の重複確認と通知作成を行う。
// 確認から作成まではタスクIDのロックを保持する。
func (r *Reconciler) reconcileTask(ctx context.Context, task peer.Task) (*Notification, string) {
	taskID := task.ID.String()
	logger := r.logger.With(zap.String("task_id", taskID))

	if taskID == "" || task.UserID == "" {
		logger.Warn("所有ユーザーが不明なタスクをスキップしました")
		return nil, metrics.OutcomeSkipped
	}

	unlock, err := r.locker.Lock(ctx, taskID)
	if err != nil {
		logger.Warn("タスクのロック取得に失敗しました", zap.Error(err))
		return nil, metrics.OutcomeFailed
	}
	defer unlock()

	existing, err := r.store.FindUnreadByTask(ctx, taskID)
	if err != nil {
		logger.Error("未読通知の確認に失敗しました", zap.Error(err))
		return nil, metrics.OutcomeFailed
	}
	if len(existing) > 0 {
		logger.Debug("未読の通知が既にあるためスキップしました", zap.String("notification_id", existing[0].ID))
		return nil, metrics.OutcomeDuplicate
	}

	n, err := r.store.Insert(ctx, task.UserID.String(), taskID, dueMessage(task))
	if err != nil {
		logger.Error("通知の作成に失敗しました", zap.Error(err))
		return nil, metrics.OutcomeFailed
	}
	metrics.IncNotificationCreated(metrics.OriginDueTask)
	return &n, metrics.OutcomeCreated
}

// dueMessage は期限の近いタスクの通知メッセージを組み立てる。
func dueMessage(task peer.Task) string {
	title := task.Title
	if title == "" {
		title = "#" + task.ID.String()
	}
	if task.DueDate == nil {
		return fmt.Sprintf("タスク「%s」の期限が近づいています", title)
	}
	return fmt.Sprintf("タスク「%s」の期限が近づいています（期限: %s）", title, task.DueDate.UTC().Format(time.RFC3339))
}
