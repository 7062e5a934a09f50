package notify

import "time"

const (
	// defaultMaxAttempts は1件あたりの送出試行回数（初回を含む）。
	defaultMaxAttempts = 3
	// defaultRetryDelay は指数バックオフの初回遅延。
	defaultRetryDelay = 100 * time.Millisecond
	// maxRetryDelay は指数バックオフの最大遅延。
	maxRetryDelay = 5 * time.Second
)

// retryPolicy は送出失敗時の再試行方針。
type retryPolicy struct {
	maxAttempts  int
	initialDelay time.Duration
}

// WithRetry は送出の試行回数と初回のバックオフ遅延を設定する。
// maxAttemptsが1以下の場合は再試行しない。
func WithRetry(maxAttempts int, initialDelay time.Duration) AsyncOption {
	return func(n *AsyncNotifier) {
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		n.retry = retryPolicy{maxAttempts: maxAttempts, initialDelay: initialDelay}
	}
}

// backoff は連続失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回はinitialDelay、2倍ずつ増加し、maxRetryDelayで頭打ちになる。
func (p retryPolicy) backoff(consecutiveFailures int) time.Duration {
	delay := p.initialDelay
	for i := 0; i < consecutiveFailures; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
