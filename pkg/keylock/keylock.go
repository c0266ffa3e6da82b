// Package keylock はキー単位の排他ロックを提供する。
//
// 期限チェックで同一タスクIDに対する「未読通知の確認→作成」を
// 直列化するために使用する。異なるキーは互いにブロックしない。
package keylock

import (
	"context"
	"sync"
)

// Locker はキー単位のロックを取得するインターフェース。
// 返されたunlockは1回だけ呼び出すこと。
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Local はプロセス内で完結するキー単位ロック。
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// entry は1キー分のロック状態。refsは保持者と待機者の合計。
type entry struct {
	sem  chan struct{}
	refs int
}

// NewLocal は新しいプロセス内ロックを生成する。
func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

// Lock はkeyのロックを取得する。ctxが先に終了した場合はctx.Err()を返す。
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				l.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}
}

// release は参照を1つ減らし、誰も使っていなければエントリを削除する。
func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// size は保持中のエントリ数を返す（テスト用）。
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
