package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"carelink-core/internal/config"
	"carelink-core/internal/engine"
	"carelink-core/internal/models"
	"carelink-core/internal/mqttclient"
	"carelink-core/internal/repository"
)

// ButtonEvent 设备按键上报
// 主题格式: iot/device/{mac}/event
type ButtonEvent struct {
	MacAddress   string `json:"mac_address"`
	DeviceMac    string `json:"device_mac"` // 旧固件字段名
	Action       string `json:"action"`
	ButtonColor  string `json:"button_color"`
	BatteryLevel *int   `json:"battery_level"`
	Timestamp    int64  `json:"timestamp"`
}

// MQTTConsumer MQTT遥测消费者
// 设备上报至少一次送达，所有去重都交给引擎的状态机判定
type MQTTConsumer struct {
	config     *config.Config
	mqttClient *mqttclient.Client
	devices    *repository.DevicesRepository
	engine     *engine.Engine
	logger     *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqttclient.Client,
	devices *repository.DevicesRepository,
	eng *engine.Engine,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		devices:    devices,
		engine:     eng,
		logger:     logger,
	}
}

// Start 启动消费者
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(c.config.CareLink.Topics.Event, c.config.MQTT.QoS, c.HandleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to event topic: %w", err)
	}
	if err := c.mqttClient.Subscribe(c.config.CareLink.Topics.Status, c.config.MQTT.QoS, c.HandleStatus); err != nil {
		return fmt.Errorf("failed to subscribe to status topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("event_topic", c.config.CareLink.Topics.Event),
		zap.String("status_topic", c.config.CareLink.Topics.Status),
	)

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(c.config.CareLink.Topics.Event); err != nil {
		c.logger.Error("Failed to unsubscribe from event topic", zap.Error(err))
	}
	if err := c.mqttClient.Unsubscribe(c.config.CareLink.Topics.Status); err != nil {
		c.logger.Error("Failed to unsubscribe from status topic", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// HandleEvent 处理按键事件消息
func (c *MQTTConsumer) HandleEvent(topic string, payload []byte) error {
	ctx := context.Background()

	deviceID, err := deviceIDFromTopic(topic)
	if err != nil {
		return err
	}

	var press ButtonEvent
	if err := json.Unmarshal(payload, &press); err != nil {
		c.logger.Error("Failed to unmarshal button event",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal button event: %w", err)
	}

	// 主题里的 MAC 优先，payload 字段只做兜底
	if deviceID == "" {
		deviceID = press.MacAddress
		if deviceID == "" {
			deviceID = press.DeviceMac
		}
	}
	if deviceID == "" {
		return fmt.Errorf("button event has no device identifier: topic=%s", topic)
	}

	if press.Action != "BUTTON_PRESS" {
		c.logger.Warn("Unsupported action, dropping message",
			zap.String("device_id", deviceID),
			zap.String("action", press.Action),
		)
		return nil
	}

	occurredAt := time.Now()
	if press.Timestamp > 0 {
		occurredAt = time.Unix(press.Timestamp, 0)
	}

	// 遥测无条件更新：即使按键随后被判定为重复触发，
	// 电量和最后在线时间仍然反映设备的真实状态
	health := models.DeviceHealthOnline
	if press.BatteryLevel != nil && *press.BatteryLevel < c.config.CareLink.BatteryLowThreshold {
		health = models.DeviceHealthLowBattery
	}
	if err := c.devices.UpdateTelemetry(ctx, deviceID, press.BatteryLevel, occurredAt, health); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			c.logger.Warn("Unknown device, dropping message",
				zap.String("device_id", deviceID),
				zap.String("topic", topic),
			)
			return nil
		}
		return err
	}

	trigger, err := engine.TriggerForButton(press.ButtonColor)
	if err != nil {
		c.logger.Warn("Unknown button color, dropping message",
			zap.String("device_id", deviceID),
			zap.String("button_color", press.ButtonColor),
		)
		return nil
	}

	event, err := c.engine.ApplyDeviceTrigger(ctx, deviceID, trigger, occurredAt)
	if err != nil {
		// 非法迁移和并发落败都是至少一次送达的正常结果：丢弃，不重试
		if errors.Is(err, engine.ErrInvalidTransition) || errors.Is(err, engine.ErrConcurrentModification) {
			c.logger.Info("Trigger dropped",
				zap.String("device_id", deviceID),
				zap.String("trigger", string(trigger)),
				zap.String("reason", err.Error()),
			)
			return nil
		}
		if errors.Is(err, engine.ErrUnknownDevice) {
			c.logger.Warn("Unknown device, dropping message",
				zap.String("device_id", deviceID),
			)
			return nil
		}
		return err
	}

	if event != nil {
		c.logger.Info("Device trigger applied",
			zap.String("device_id", deviceID),
			zap.String("trigger", string(trigger)),
			zap.String("event_id", event.EventID),
			zap.String("event_status", event.Status),
		)
	}

	return nil
}

// HandleStatus 处理设备在线状态消息（payload 为纯文本 ONLINE/OFFLINE）
func (c *MQTTConsumer) HandleStatus(topic string, payload []byte) error {
	ctx := context.Background()

	deviceID, err := deviceIDFromTopic(topic)
	if err != nil {
		return err
	}

	status := strings.ToUpper(strings.TrimSpace(string(payload)))
	var health string
	switch status {
	case "ONLINE":
		health = models.DeviceHealthOnline
	case "OFFLINE":
		health = models.DeviceHealthOffline
	default:
		c.logger.Warn("Unknown device status, dropping message",
			zap.String("device_id", deviceID),
			zap.String("status", status),
		)
		return nil
	}

	if err := c.devices.UpdateHealth(ctx, deviceID, health); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			c.logger.Warn("Unknown device, dropping status message",
				zap.String("device_id", deviceID),
			)
			return nil
		}
		return err
	}

	c.logger.Debug("Device health updated",
		zap.String("device_id", deviceID),
		zap.String("health", health),
	)

	return nil
}

// deviceIDFromTopic 从主题中提取设备 MAC
// 主题格式: iot/device/{mac}/event 或 iot/device/{mac}/status
func deviceIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[2], nil
}
