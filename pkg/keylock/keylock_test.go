package keylock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLocal はプロセス内ロックを検証する。
func TestLocal(t *testing.T) {
	t.Parallel()

	t.Run("同一キーのクリティカルセクションが直列化されること", func(t *testing.T) {
		t.Parallel()

		l := NewLocal()
		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := l.Lock(context.Background(), "task-1")
				if err != nil {
					t.Errorf("Lock()でエラーが発生: %v", err)
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				unlock()
			}()
		}
		wg.Wait()

		if maxInside != 1 {
			t.Errorf("同時にロックを保持した数 = %d, want 1", maxInside)
		}
		if l.size() != 0 {
			t.Errorf("解放後のエントリ数 = %d, want 0", l.size())
		}
	})

	t.Run("異なるキーは互いにブロックしないこと", func(t *testing.T) {
		t.Parallel()

		l := NewLocal()
		unlock1, err := l.Lock(context.Background(), "task-1")
		if err != nil {
			t.Fatalf("Lock()でエラーが発生: %v", err)
		}
		defer unlock1()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlock2, err := l.Lock(ctx, "task-2")
		if err != nil {
			t.Fatalf("別キーのLock()がブロックされた: %v", err)
		}
		unlock2()
	})

	t.Run("コンテキストが終了した場合は待機を中断すること", func(t *testing.T) {
		t.Parallel()

		l := NewLocal()
		unlock, err := l.Lock(context.Background(), "task-1")
		if err != nil {
			t.Fatalf("Lock()でエラーが発生: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := l.Lock(ctx, "task-1"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want %v", err, context.DeadlineExceeded)
		}

		unlock()
		if l.size() != 0 {
			t.Errorf("解放後のエントリ数 = %d, want 0", l.size())
		}
	})

	t.Run("unlockを2回呼んでも安全であること", func(t *testing.T) {
		t.Parallel()

		l := NewLocal()
		unlock, err := l.Lock(context.Background(), "task-1")
		if err != nil {
			t.Fatalf("Lock()でエラーが発生: %v", err)
		}
		unlock()
		unlock()

		again, err := l.Lock(context.Background(), "task-1")
		if err != nil {
			t.Fatalf("再取得に失敗: %v", err)
		}
		again()
	})
}

// TestRedis はRedisロックを検証する。REDIS_ADDRが未設定の場合はスキップする。
func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDRが未設定のためスキップ")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	l := NewRedis(rdb, time.Second, zap.NewNop())
	key := "keylock-test-" + time.Now().Format("150405.000000")

	unlock, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock()でエラーが発生: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("保持中のキーに対するerr = %v, want %v", err, context.DeadlineExceeded)
	}

	unlock()
	unlock2, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("解放後のLock()でエラーが発生: %v", err)
	}
	unlock2()
}

// TestRedisUnlockFailure はロック解放の失敗がログに残ることを検証する。
func TestRedisUnlockFailure(t *testing.T) {
	t.Parallel()

	// 接続できないアドレスを指定して解放を失敗させる
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })

	core, logs := observer.New(zapcore.WarnLevel)
	l := NewRedis(rdb, 5*time.Second, zap.New(core))

	l.unlock(l.prefix+"task-1", "token")

	entries := logs.FilterMessage("Redisロックの解放に失敗しました。TTL経過まで保持されます").All()
	if len(entries) != 1 {
		t.Fatalf("警告ログ = %d件, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["key"] != "notification:lock:task-1" {
		t.Errorf("key = %v, want %q", fields["key"], "notification:lock:task-1")
	}
	if fields["component"] != "redis_lock" {
		t.Errorf("component = %v, want %q", fields["component"], "redis_lock")
	}
}
