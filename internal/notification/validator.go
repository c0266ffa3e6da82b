package notification

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nao1215/todo-notification/internal/peer"
	"github.com/nao1215/todo-notification/pkg/metrics"
)

// 通知作成を拒否する理由。
const (
	ReasonMissingField = "missing field"
	ReasonUserNotFound = "user not found"
	ReasonTaskNotFound = "task not found"
)

// RejectionError は通知作成リクエストが検証で拒否されたことを示す。
type RejectionError struct {
	// Reason は拒否理由。
	Reason string
	// Err はピア呼び出しの失敗など、拒否の原因となったエラー。
	Err error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rejected: %s: %v", e.Reason, e.Err)
	}
	return "rejected: " + e.Reason
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// UserLookup はユーザーの存在確認に使うピア。
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*peer.User, error)
}

// TaskLookup はタスクの存在確認に使うピア。
type TaskLookup interface {
	GetTask(ctx context.Context, id string) (*peer.Task, error)
}

// Inserter は通知を保存する。
type Inserter interface {
	Insert(ctx context.Context, userID, taskID, message string) (Notification, error)
}

// CreateInput は通知作成の入力。
type CreateInput struct {
	UserID  string
	TaskID  string
	Message string
}

// Validator は参照先のユーザーとタスクが存在することを確認してから通知を作成する。
type Validator struct {
	users  UserLookup
	tasks  TaskLookup
	store  Inserter
	logger *zap.Logger
}

// NewValidator は新しいValidatorを生成する。
func NewValidator(users UserLookup, tasks TaskLookup, store Inserter, logger *zap.Logger) *Validator {
	return &Validator{
		users:  users,
		tasks:  tasks,
		store:  store,
		logger: logger.With(zap.String("component", "validator")),
	}
}

// Validate は入力を検証する。拒否する場合は*RejectionErrorを返す。
// ピアの「存在しない」と「到達できない」は区別せず、どちらも存在しないものとして扱う。
func (v *Validator) Validate(ctx context.Context, in CreateInput) error {
	if missingID(in.UserID) || missingID(in.TaskID) || strings.TrimSpace(in.Message) == "" {
		return &RejectionError{Reason: ReasonMissingField}
	}
	if _, err := v.users.GetUser(ctx, in.UserID); err != nil {
		v.logger.Info("ユーザーが確認できないため通知作成を拒否しました",
			zap.String("user_id", in.UserID),
			zap.Error(err),
		)
		return &RejectionError{Reason: ReasonUserNotFound, Err: err}
	}
	if _, err := v.tasks.GetTask(ctx, in.TaskID); err != nil {
		v.logger.Info("タスクが確認できないため通知作成を拒否しました",
			zap.String("task_id", in.TaskID),
			zap.Error(err),
		)
		return &RejectionError{Reason: ReasonTaskNotFound, Err: err}
	}
	return nil
}

// missingID はIDが指定されていないとみなせるかを返す。
// ピアのIDは1から採番されるため、0も未指定として扱う。
func missingID(id string) bool {
	id = strings.TrimSpace(id)
	return id == "" || id == "0"
}

// Create は入力を検証し、問題なければ通知を保存する。
func (v *Validator) Create(ctx context.Context, in CreateInput) (Notification, error) {
	if err := v.Validate(ctx, in); err != nil {
		return Notification{}, err
	}
	n, err := v.store.Insert(ctx, in.UserID, in.TaskID, in.Message)
	if err != nil {
		return Notification{}, err
	}
	metrics.IncNotificationCreated(metrics.OriginAPI)
	return n, nil
}
