// 通知サービスのエントリポイント。
// タスクの期限が近づくとユーザーへの通知を生成・保存する。
// 通知の一覧取得や既読管理のAPIも提供する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/todo-notification/internal/config"
	"github.com/nao1215/todo-notification/internal/notification"
	"github.com/nao1215/todo-notification/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "通知サービスが異常終了しました: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("通知サービスを初期化します",
		zap.String("mode", cfg.Mode),
		zap.String("task_service", cfg.TaskServiceURL),
		zap.String("user_service", cfg.UserServiceURL),
		zap.String("db_path", cfg.DatabasePath),
		zap.Bool("redis_lock", cfg.RedisAddr != ""),
	)

	server, err := notification.NewServer(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("通知サーバーの初期化に失敗: %w", err)
	}

	if err := server.Run(ctx); err != nil {
		return err
	}
	log.Info("通知サービスを停止しました")
	return nil
}
