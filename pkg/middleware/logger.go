package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/todo-notification/pkg/httpclient"
	"github.com/nao1215/todo-notification/pkg/metrics"
)

// RequestLogger はアクセスログを出力し、リクエストIDを付与するGinミドルウェアを返す。
// X-Request-IDヘッダーが無い場合はUUIDを採番し、レスポンスヘッダーと
// リクエストのコンテキスト（ピア呼び出しへの伝播用）に設定する。
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(httpclient.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(httpclient.HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(httpclient.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		// 未登録ルートはパスをそのままラベルにしない
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), elapsed)

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			logger.Error("HTTPリクエスト", fields...)
		case status >= 400:
			logger.Warn("HTTPリクエスト", fields...)
		default:
			logger.Info("HTTPリクエスト", fields...)
		}
	}
}
