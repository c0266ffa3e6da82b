package keylock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// デフォルト値。
const (
	defaultRedisTTL   = 30 * time.Second
	defaultRedisRetry = 50 * time.Millisecond
	defaultKeyPrefix  = "notification:lock:"
	unlockTimeout     = 2 * time.Second
)

// unlockScript は自分が取得したロックのみを削除する。
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis はRedisのSET NXを用いたキー単位ロック。
// 複数プロセスが同じストアに対して期限チェックを行う場合に使用する。
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedis はRedisベースのロックを生成する。ttlが0以下の場合は30秒。
// ttlはロック保持者が異常終了した場合に自動解放されるまでの時間。
func NewRedis(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &Redis{
		rdb:    rdb,
		ttl:    ttl,
		retry:  defaultRedisRetry,
		prefix: defaultKeyPrefix,
		logger: logger.With(zap.String("component", "redis_lock")),
	}
}

// Lock はkeyのロックを取得するまでポーリングする。
// Redisへの接続に失敗した場合はエラーを返す。
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := uuid.New().String()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("Redisロックの取得に失敗: key=%s: %w", redisKey, err)
		}
		if ok {
			return func() { r.unlock(redisKey, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// unlock は自分のトークンが設定されている場合のみキーを削除する。
// 失敗した場合、キーはTTLが切れるまで残る。
func (r *Redis) unlock(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	if err := unlockScript.Run(ctx, r.rdb, []string{redisKey}, token).Err(); err != nil {
		r.logger.Warn("Redisロックの解放に失敗しました。TTL経過まで保持されます",
			zap.String("key", redisKey),
			zap.Duration("ttl", r.ttl),
			zap.Error(err),
		)
	}
}
