package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"carelink-core/internal/engine"
)

// StreamPublisher 将已提交的状态变更发布到 Redis Stream，
// 供看板、审计等下游消费。发布失败只记日志，不回滚已提交的事务。
type StreamPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewStreamPublisher 创建状态变更发布器
func NewStreamPublisher(client *redis.Client, stream string, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// PublishTransition 发布一条状态变更记录
func (p *StreamPublisher) PublishTransition(record engine.TransitionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(record)
	if err != nil {
		p.logger.Error("failed to marshal transition record",
			zap.Error(err),
			zap.String("device_id", record.DeviceID),
		)
		return
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"device_id":    record.DeviceID,
			"trigger":      record.Trigger,
			"prev_state":   record.PrevState,
			"next_state":   record.NextState,
			"event_id":     record.EventID,
			"event_type":   record.EventType,
			"event_status": record.EventStatus,
			"occurred_at":  record.OccurredAt.Unix(),
			"data":         string(data),
		},
	}).Result()
	if err != nil {
		p.logger.Error("failed to publish transition to stream",
			zap.Error(err),
			zap.String("stream", p.stream),
			zap.String("device_id", record.DeviceID),
		)
		return
	}

	p.logger.Debug("transition published",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("device_id", record.DeviceID),
		zap.String("next_state", record.NextState),
	)
}
