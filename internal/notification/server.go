package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/todo-notification/internal/config"
	"github.com/nao1215/todo-notification/internal/peer"
	"github.com/nao1215/todo-notification/pkg/httpclient"
	"github.com/nao1215/todo-notification/pkg/keylock"
	"github.com/nao1215/todo-notification/pkg/metrics"
	"github.com/nao1215/todo-notification/pkg/middleware"
)

// shutdownTimeout はグレースフルシャットダウンの上限時間。
const shutdownTimeout = 30 * time.Second

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービスの設定。
	cfg config.Config
	// logger は構造化ロガー。
	logger *zap.Logger
	// store は通知ストア。
	store *Store
	// validator は通知作成の検証を行う。
	validator *Validator
	// reconciler は期限チェックを行う。
	reconciler *Reconciler
	// scheduler は期限チェックを定期実行する。
	scheduler *Scheduler
	// redis はタスクロック用のRedisクライアント。未設定の場合はnil。
	redis *redis.Client
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースの初期化、ピアサービスのゲートウェイ、タスクロックの構築を行う。
func NewServer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	store, err := Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	locker, rdb, err := newLocker(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	taskGateway := peer.NewTaskGateway(httpclient.New(cfg.TaskServiceURL, httpclient.WithTimeout(cfg.PeerTimeout)), logger)
	userGateway := peer.NewUserGateway(httpclient.New(cfg.UserServiceURL, httpclient.WithTimeout(cfg.PeerTimeout)), logger)

	reconciler := NewReconciler(taskGateway, store, logger,
		WithConcurrency(cfg.ReconcileConcurrency),
		WithLocker(locker),
	)
	scheduler, err := NewScheduler(reconciler, cfg.ReconcileInterval, cfg.ReconcileTimeout, cfg.DueWindowDays, logger)
	if err != nil {
		store.Close()
		if rdb != nil {
			rdb.Close()
		}
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:     router,
		cfg:        cfg,
		logger:     logger,
		store:      store,
		validator:  NewValidator(userGateway, taskGateway, store, logger),
		reconciler: reconciler,
		scheduler:  scheduler,
		redis:      rdb,
	}
	s.setupRoutes()

	return s, nil
}

// newLocker はREDIS_ADDRが設定されていればRedisロックを、そうでなければプロセス内ロックを返す。
func newLocker(ctx context.Context, cfg config.Config, logger *zap.Logger) (keylock.Locker, *redis.Client, error) {
	if cfg.RedisAddr == "" {
		return keylock.NewLocal(), nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return keylock.NewRedis(rdb, 0, logger), rdb, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーと定期期限チェックを起動し、ctxが終了するとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.scheduler.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("通知サービスを起動します", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("通知サービスを停止します")

		if err := s.scheduler.Stop(); err != nil {
			s.logger.Error("スケジューラーの停止に失敗しました", zap.Error(err))
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if cerr := s.Close(); cerr != nil {
		s.logger.Error("リソースの解放に失敗しました", zap.Error(cerr))
	}
	return err
}

// Close はDB接続とRedis接続を閉じる。
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	notifications := s.router.Group("/api/notifications")
	{
		// 通知作成
		notifications.POST("", s.handleCreate())
		// 期限チェックの手動実行
		notifications.POST("/check-due-tasks", s.handleCheckDueTasks())
		// ユーザーの通知一覧取得
		notifications.GET("/user/:userId", s.handleListByUser())
		// ユーザーの未読件数取得
		notifications.GET("/user/:userId/unread-count", s.handleCountUnread())
		// 通知取得
		notifications.GET("/:id", s.handleGet())
		// 通知を既読にする
		notifications.PUT("/:id/read", s.handleMarkAsRead())
	}

	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Notification service is running")
	})
	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
	s.router.GET("/readyz", s.handleReady())
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// createRequest は通知作成リクエストのJSON構造。
// user_idとtask_idは数値と文字列のどちらも受け付ける。
type createRequest struct {
	UserID  peer.ID `json:"user_id"`
	TaskID  peer.ID `json:"task_id"`
	Message string  `json:"message"`
}

// handleCreate は参照先を検証したうえで通知を作成するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディが不正です"})
			return
		}

		n, err := s.validator.Create(c.Request.Context(), CreateInput{
			UserID:  req.UserID.String(),
			TaskID:  req.TaskID.String(),
			Message: req.Message,
		})
		if err != nil {
			var rejection *RejectionError
			switch {
			case errors.As(err, &rejection) && rejection.Reason == ReasonMissingField:
				c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, task_id, message は必須です", "reason": rejection.Reason})
			case errors.As(err, &rejection):
				c.JSON(http.StatusInternalServerError, gin.H{"error": "参照先のユーザーまたはタスクが見つかりません", "reason": rejection.Reason})
			default:
				s.logger.Error("通知の作成に失敗しました", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			}
			return
		}

		c.JSON(http.StatusCreated, n)
	}
}

// handleCheckDueTasks は期限チェックを実行し、新たに作成した通知を返すハンドラ。
// クエリパラメータdaysで期間（日）を指定できる。
func (s *Server) handleCheckDueTasks() gin.HandlerFunc {
	return func(c *gin.Context) {
		windowDays := s.cfg.DueWindowDays
		if raw := c.Query("days"); raw != "" {
			days, err := strconv.Atoi(raw)
			if err != nil || days <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "daysは正の整数で指定してください"})
				return
			}
			windowDays = days
		}

		metrics.IncReconcileRun(metrics.TriggerAPI)
		created := s.reconciler.Reconcile(c.Request.Context(), windowDays)
		c.JSON(http.StatusCreated, created)
	}
}

// handleListByUser は指定ユーザーの通知を新しい順に返すハンドラ。
func (s *Server) handleListByUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := s.store.FindByUser(c.Request.Context(), c.Param("userId"))
		if err != nil {
			s.logger.Error("通知一覧の取得に失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, notifications)
	}
}

// handleCountUnread は指定ユーザーの未読通知の件数を返すハンドラ。
func (s *Server) handleCountUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := s.store.CountUnreadByUser(c.Request.Context(), c.Param("userId"))
		if err != nil {
			s.logger.Error("未読件数の取得に失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読件数の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// handleGet は指定IDの通知を返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.store.FindByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		if err != nil {
			s.logger.Error("通知の取得に失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, n)
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.store.MarkRead(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		if err != nil {
			s.logger.Error("既読更新に失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "既読更新に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, n)
	}
}

// handleReady はDBに接続できる場合のみ200を返すハンドラ。
func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("DBへの接続確認に失敗しました", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
