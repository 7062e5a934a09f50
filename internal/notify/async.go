package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/accountcore/internal/model"
)

const (
	defaultBufferSize     = 256
	defaultPublishTimeout = 5 * time.Second
)

// FailureFunc は受け付け済みの通知を送出できなかったときに呼ばれる。メトリクス記録に使う。
// 受付時の破棄はNotifyの戻り値で呼び出し元に伝わるため、ここでは呼ばれない。
type FailureFunc func(eventType model.NotificationType)

// AsyncNotifier は通知を非同期に送出する。
// Notify は呼び出し元をブロックせず、受付の可否だけを返す。
// バッファが満杯の場合はイベントを破棄してログに残す。
type AsyncNotifier struct {
	publisher Publisher
	logger    *slog.Logger
	events    chan model.NotificationEvent
	timeout   time.Duration
	retry     retryPolicy
	onFailure FailureFunc

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// AsyncOption はAsyncNotifierの設定を変更する。
type AsyncOption func(*AsyncNotifier)

// WithPublishTimeout は1件あたりの送出タイムアウトを設定する。
func WithPublishTimeout(d time.Duration) AsyncOption {
	return func(n *AsyncNotifier) {
		n.timeout = d
	}
}

// WithFailureHandler は送出失敗時のコールバックを設定する。
func WithFailureHandler(fn FailureFunc) AsyncOption {
	return func(n *AsyncNotifier) {
		n.onFailure = fn
	}
}

// NewAsyncNotifier はAsyncNotifierを生成し、送出用のgoroutineを起動する。
func NewAsyncNotifier(publisher Publisher, bufferSize int, logger *slog.Logger, opts ...AsyncOption) *AsyncNotifier {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	n := &AsyncNotifier{
		publisher: publisher,
		logger:    logger,
		events:    make(chan model.NotificationEvent, bufferSize),
		timeout:   defaultPublishTimeout,
		retry:     retryPolicy{maxAttempts: defaultMaxAttempts, initialDelay: defaultRetryDelay},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}

	go n.run()
	return n
}

// Notify はイベントをキューに積む。IDと作成日時が空なら補完する。
// 受け付けた場合はtrue、破棄した場合はfalseを返す。
func (n *AsyncNotifier) Notify(ctx context.Context, event model.NotificationEvent) bool {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.drop(ctx, event, "notifier closed")
		return false
	}

	select {
	case n.events <- event:
		return true
	default:
		n.drop(ctx, event, "buffer full")
		return false
	}
}

func (n *AsyncNotifier) drop(ctx context.Context, event model.NotificationEvent, reason string) {
	n.logger.WarnContext(ctx, "notification dropped",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("user_id", event.UserID),
		slog.String("reason", reason),
	)
}

func (n *AsyncNotifier) run() {
	defer close(n.done)

	for event := range n.events {
		n.publish(event)
	}
}

// publish はイベントを送出する。失敗した場合は指数バックオフで再試行し、
// 試行回数を使い切ったときだけ失敗として扱う。
func (n *AsyncNotifier) publish(event model.NotificationEvent) {
	var err error
	for attempt := 0; attempt < n.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := n.retry.backoff(attempt - 1)
			n.logger.Warn("retrying notification publish",
				slog.String("event_id", event.ID),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
			)
			time.Sleep(delay)
		}

		if err = n.publishOnce(event); err == nil {
			n.logger.Info("notification published",
				slog.String("event_id", event.ID),
				slog.String("type", string(event.Type)),
				slog.String("user_id", event.UserID),
			)
			return
		}
	}

	n.logger.Error("failed to publish notification",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("user_id", event.UserID),
		slog.Int("attempts", n.retry.maxAttempts),
		slog.String("error", err.Error()),
	)
	if n.onFailure != nil {
		n.onFailure(event.Type)
	}
}

func (n *AsyncNotifier) publishOnce(event model.NotificationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	return n.publisher.Publish(ctx, event)
}

// Close は新規受付を止め、キューに残ったイベントを送出し終えるまで待つ。
// ctxが先に終了した場合はその時点で戻る。
func (n *AsyncNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
