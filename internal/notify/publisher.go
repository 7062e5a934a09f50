// Package notify はメール通知イベントの送出を提供する。
//
// 実際のメール組み立て・SMTP送信は別サービスが担い、
// このパッケージはRedis Streamsへイベントを書き込むだけを行う。
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/accountcore/internal/model"
)

// Publisher は通知イベントを送出するインターフェース。
type Publisher interface {
	Publish(ctx context.Context, event model.NotificationEvent) error
}

// RedisStreamPublisher はRedis Streamsに通知イベントを書き込む。
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisStreamPublisher はRedisStreamPublisherを生成する。
func NewRedisStreamPublisher(client *redis.Client, stream string) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream}
}

// Publish はイベントをストリームへXADDする。
func (p *RedisStreamPublisher) Publish(ctx context.Context, event model.NotificationEvent) error {
	if event.Type == "" {
		return errors.New("notification type is required")
	}

	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: eventToValues(event),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish notification to %s: %w", p.stream, err)
	}
	return nil
}

// eventToValues はイベントをストリームのフィールドに変換する。
// トークンはメール本文に埋め込むためそのまま渡す。
func eventToValues(event model.NotificationEvent) map[string]interface{} {
	values := map[string]interface{}{
		"event_id":   event.ID,
		"type":       string(event.Type),
		"user_id":    event.UserID,
		"email":      event.Email,
		"created_at": strconv.FormatInt(event.CreatedAt.Unix(), 10),
	}
	if event.Name != "" {
		values["name"] = event.Name
	}
	if event.Token != "" {
		values["token"] = event.Token
	}
	return values
}
