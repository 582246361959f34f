// Package keylock 提供以 key 為單位、可被 context 取消的互斥鎖。
//
// 不同 key 之間互不阻塞；同一 key 的鎖在無人持有也無人等待時會自動從表中移除，
// 因此 key 數量不會無限制成長。
package keylock

import (
	"context"
	"slices"
	"sync"
)

type entry struct {
	// ch 容量為 1，放入代表持有鎖
	ch   chan struct{}
	refs int
}

// Locker 以 int64 為 key 的鎖表
type Locker struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// New 建立新的 Locker
func New() *Locker {
	return &Locker{entries: make(map[int64]*entry)}
}

func (l *Locker) acquireEntry(key int64) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) releaseEntry(key int64, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Lock 取得單一 key 的鎖，ctx 取消時放棄等待並回傳 ctx.Err()
func (l *Locker) Lock(ctx context.Context, key int64) error {
	e := l.acquireEntry(key)
	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.releaseEntry(key, e)
		return ctx.Err()
	}
}

// Unlock 釋放單一 key 的鎖，未持有時呼叫會 panic
func (l *Locker) Unlock(key int64) {
	l.mu.Lock()
	e, ok := l.entries[key]
	l.mu.Unlock()
	if !ok {
		panic("keylock: unlock of unlocked key")
	}
	select {
	case <-e.ch:
	default:
		panic("keylock: unlock of unlocked key")
	}
	l.releaseEntry(key, e)
}

// LockAll 依遞增順序取得多個 key 的鎖 (重複 key 只鎖一次)，避免循環等待。
// 成功時回傳的 unlock 會釋放全部鎖；失敗時已取得的鎖會先釋放。
func (l *Locker) LockAll(ctx context.Context, keys ...int64) (unlock func(), err error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	locked := make([]int64, 0, len(sorted))
	unlock = func() {
		for i := len(locked) - 1; i >= 0; i-- {
			l.Unlock(locked[i])
		}
	}
	for _, key := range sorted {
		if err := l.Lock(ctx, key); err != nil {
			unlock()
			return nil, err
		}
		locked = append(locked, key)
	}
	return unlock, nil
}

// Len 回傳目前表中的 key 數量 (持有或等待中)
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
