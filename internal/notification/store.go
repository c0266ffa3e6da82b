package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNotFound は指定された通知が存在しないことを示す。
var ErrNotFound = errors.New("notification not found")

// createdAtLayout はcreated_at列の保存形式。
// 固定幅にすることで文字列の大小比較が時刻順と一致する。
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// Notification はユーザーとタスクに紐づく通知。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// TaskID は通知対象のタスクID。
	TaskID string `json:"task_id"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// CreatedAt は通知の作成日時（UTC）。
	CreatedAt time.Time `json:"created_at"`
	// Read は通知の既読状態。
	Read bool `json:"read"`
}

// Store はSQLiteに通知を永続化するストア。
type Store struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string

	// mu はcreated_atの採番と挿入を直列化する。
	mu   sync.Mutex
	last time.Time
}

// StoreOption はStoreのオプション。
type StoreOption func(*Store)

// WithStoreClock はcreated_atの採番に使う時計を差し替える。
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open はSQLiteデータベースを開き、マイグレーションを適用したStoreを返す。
// pathに ":memory:" を指定するとインメモリDBになる。
func Open(ctx context.Context, path string, logger *zap.Logger, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteは書き込みが直列化されるため接続は1本に絞る。
	// インメモリDBは接続ごとに別DBになるためこの設定が必須。
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	s := newStore(db, opts...)
	if err := s.loadLastCreatedAt(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// dsn はファイルパスからmodernc.org/sqliteの接続文字列を組み立てる。
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// newStore はマイグレーション済みのDB接続からStoreを生成する。
// 既存のcreated_atの読み込みはOpenが行う。
func newStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:    db,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// loadLastCreatedAt は既存の最新created_atを読み込み、再起動後も採番が単調増加するようにする。
func (s *Store) loadLastCreatedAt(ctx context.Context) error {
	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM notifications`).Scan(&last); err != nil {
		return fmt.Errorf("最新の作成日時の取得に失敗: %w", err)
	}
	if !last.Valid {
		return nil
	}
	t, err := time.Parse(createdAtLayout, last.String)
	if err != nil {
		return fmt.Errorf("作成日時の解析に失敗: %w", err)
	}
	s.mu.Lock()
	s.last = t
	s.mu.Unlock()
	return nil
}

// Close はDB接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping はDB接続を確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert は未読の通知を作成して保存する。
// created_atはこのStoreで挿入順に狭義単調増加する。
func (s *Store) Insert(ctx context.Context, userID, taskID, message string) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := s.now().UTC()
	if !createdAt.After(s.last) {
		createdAt = s.last.Add(time.Nanosecond)
	}

	n := Notification{
		ID:        s.newID(),
		UserID:    userID,
		TaskID:    taskID,
		Message:   message,
		CreatedAt: createdAt,
		Read:      false,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, task_id, message, is_read, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		n.ID, n.UserID, n.TaskID, n.Message, createdAt.Format(createdAtLayout),
	)
	if err != nil {
		return Notification{}, fmt.Errorf("通知の保存に失敗: %w", err)
	}
	s.last = createdAt
	return n, nil
}

// FindByUser は指定ユーザーの通知を作成日時の新しい順に返す。
func (s *Store) FindByUser(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, task_id, message, is_read, created_at
		   FROM notifications
		  WHERE user_id = ?
		  ORDER BY created_at DESC, rowid DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return scanNotifications(rows)
}

// FindByID は指定IDの通知を返す。存在しない場合はErrNotFoundを返す。
func (s *Store) FindByID(ctx context.Context, id string) (Notification, error) {
	return findByID(ctx, s.db, id)
}

// MarkRead は通知を既読にして返す。既読の通知に対しても成功する。
// 存在しない場合はErrNotFoundを返す。
func (s *Store) MarkRead(ctx context.Context, id string) (Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Notification{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id); err != nil {
		return Notification{}, fmt.Errorf("既読更新に失敗: %w", err)
	}
	n, err := findByID(ctx, tx, id)
	if err != nil {
		return Notification{}, err
	}
	if err := tx.Commit(); err != nil {
		return Notification{}, fmt.Errorf("コミットに失敗: %w", err)
	}
	return n, nil
}

// FindUnreadByTask は指定タスクの未読通知を返す。
func (s *Store) FindUnreadByTask(ctx context.Context, taskID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, task_id, message, is_read, created_at
		   FROM notifications
		  WHERE task_id = ? AND is_read = 0
		  ORDER BY created_at DESC, rowid DESC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("未読通知の取得に失敗: %w", err)
	}
	return scanNotifications(rows)
}

// CountUnreadByUser は指定ユーザーの未読通知の件数を返す。
func (s *Store) CountUnreadByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未読件数の取得に失敗: %w", err)
	}
	return count, nil
}

// queryer は*sql.DBと*sql.Txの共通インターフェース。
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findByID(ctx context.Context, q queryer, id string) (Notification, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, user_id, task_id, message, is_read, created_at FROM notifications WHERE id = ?`,
		id,
	)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return n, nil
}

// scanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(sc scanner) (Notification, error) {
	var (
		n         Notification
		isRead    int
		createdAt string
	)
	if err := sc.Scan(&n.ID, &n.UserID, &n.TaskID, &n.Message, &isRead, &createdAt); err != nil {
		return Notification{}, err
	}
	t, err := time.Parse(createdAtLayout, createdAt)
	if err != nil {
		return Notification{}, fmt.Errorf("作成日時の解析に失敗: %w", err)
	}
	n.CreatedAt = t
	n.Read = isRead != 0
	return n, nil
}

func scanNotifications(rows *sql.Rows) ([]Notification, error) {
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("通知の読み込みに失敗: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知の読み込みに失敗: %w", err)
	}
	return notifications, nil
}
