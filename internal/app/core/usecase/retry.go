package usecase

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy 儲存層暫時性錯誤 (版本衝突、連線失敗) 的重試策略
type RetryPolicy struct {
	// MaxAttempts 最多嘗試次數 (含第一次)
	MaxAttempts int `yaml:"max_attempts"`
	// BaseBackoff 第一次重試前的等待時間，之後每次加倍
	BaseBackoff time.Duration `yaml:"base_backoff"`
	// MaxBackoff 單次等待上限
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultRetryPolicy 預設重試策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  200 * time.Millisecond,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = def.BaseBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	return p
}

// backoff 回傳第 attempt 次失敗後的等待時間 (指數退避 + 抖動)
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < attempt && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	half := d / 2
	return half + rand.N(half+1)
}

// sleep 等待 d，ctx 取消時提前返回
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
