package peer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/todo-notification/pkg/httpclient"
	"github.com/nao1215/todo-notification/pkg/metrics"
)

// DefaultWindowDays は期限チェック期間が指定されなかった場合の日数。
const DefaultWindowDays = 1

// Task はタスクサービスが返すタスクのうち、通知サービスが参照する項目。
type Task struct {
	// ID はタスクID。
	ID ID `json:"id"`
	// Title はタスクのタイトル。
	Title string `json:"title"`
	// Completed はタスクが完了済みかどうか。
	Completed bool `json:"completed"`
	// DueDate はタスクの期限。未設定の場合はnil。
	DueDate *time.Time `json:"-"`
	// UserID はタスクを所有するユーザーのID。
	UserID ID `json:"userId"`
}

// TaskGateway はタスクサービスへのゲートウェイ。
type TaskGateway struct {
	client *httpclient.Client
	logger *zap.Logger
	now    func() time.Time
}

// TaskOption はTaskGatewayのオプション。
type TaskOption func(*TaskGateway)

// WithClock は期限判定に使う時計を差し替える。
func WithClock(now func() time.Time) TaskOption {
	return func(g *TaskGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewTaskGateway は新しいTaskGatewayを生成する。
func NewTaskGateway(client *httpclient.Client, logger *zap.Logger, opts ...TaskOption) *TaskGateway {
	g := &TaskGateway{
		client: client,
		logger: logger.With(zap.String("component", "task_gateway")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ListTasks はタスクサービスから全タスクを取得する。
func (g *TaskGateway) ListTasks(ctx context.Context) ([]Task, error) {
	var payload []taskPayload
	if err := g.get(ctx, "list_tasks", "/api/tasks", &payload); err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(payload))
	for _, p := range payload {
		t, err := p.toTask()
		if err != nil {
			g.logger.Warn("タスクの期限を解析できません",
				zap.String("task_id", p.ID.String()),
				zap.Error(err),
			)
			return nil, fmt.Errorf("タスク一覧の解析に失敗: %w: %w", ErrUnavailable, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// GetTask は指定IDのタスクを取得する。
// 存在しない場合はErrNotFoundを返す。
func (g *TaskGateway) GetTask(ctx context.Context, id string) (*Task, error) {
	var p taskPayload
	if err := g.get(ctx, "get_task", "/api/tasks/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}
	t, err := p.toTask()
	if err != nil {
		return nil, fmt.Errorf("タスクの解析に失敗: %w: %w", ErrUnavailable, err)
	}
	return &t, nil
}

// DueSoon は未完了かつ期限がwindowDays日以内のタスクを返す。
// windowDaysが0以下の場合はDefaultWindowDaysを使う。
func (g *TaskGateway) DueSoon(ctx context.Context, windowDays int) ([]Task, error) {
	tasks, err := g.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	return FilterDueSoon(tasks, g.now(), windowDays), nil
}

// FilterDueSoon は未完了で期限が [now, now+windowDays日] に含まれるタスクを入力順に返す。
// 両端を含む。
func FilterDueSoon(tasks []Task, now time.Time, windowDays int) []Task {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	limit := now.Add(time.Duration(windowDays) * 24 * time.Hour)

	due := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Completed || t.DueDate == nil {
			continue
		}
		if t.DueDate.Before(now) || t.DueDate.After(limit) {
			continue
		}
		due = append(due, t)
	}
	return due
}

// get はタスクサービスにGETリクエストを送り、失敗をピアエラーに変換する。
func (g *TaskGateway) get(ctx context.Context, operation, path string, result any) error {
	return call(ctx, g.client, g.logger, "task", operation, path, result)
}

// call はピアへのGETを実行し、メトリクス記録とログ出力を行う。
func call(ctx context.Context, client *httpclient.Client, logger *zap.Logger, peer, operation, path string, result any) error {
	start := time.Now()
	err := client.GetJSON(ctx, path, result)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.RecordPeerRequest(peer, operation, "ok", elapsed)
		return nil
	case httpclient.IsNotFound(err):
		metrics.RecordPeerRequest(peer, operation, "not_found", elapsed)
		logger.Debug("ピアサービスが404を返しました", zap.String("path", path))
		return fmt.Errorf("%s %s: %w", peer, path, ErrNotFound)
	default:
		metrics.RecordPeerRequest(peer, operation, "error", elapsed)
		fields := []zap.Field{
			zap.String("path", path),
			zap.String("base_url", client.BaseURL()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		}
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			fields = append(fields, zap.Int("status", se.StatusCode))
		}
		logger.Warn("ピアサービスの呼び出しに失敗しました", fields...)
		return fmt.Errorf("%s %s: %w: %w", peer, path, ErrUnavailable, err)
	}
}
