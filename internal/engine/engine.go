package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carelink-core/internal/models"
	"carelink-core/internal/repository"

	"go.uber.org/zap"
)

// Engine 状态迁移引擎
// 每台设备是独立的并发单元：对同一触发，Event 守护写入和 Device 守护写入
// 在一个事务里要么都成功、要么整体放弃，不留部分效果；不做自动重试
type Engine struct {
	db        *sql.DB
	notifier  Notifier  // 可为 nil（通知是纯副作用）
	publisher Publisher // 可为 nil（已提交迁移的侧通道）
	logger    *zap.Logger
}

// NewEngine 创建迁移引擎
func NewEngine(db *sql.DB, notifier Notifier, publisher Publisher, logger *zap.Logger) *Engine {
	return &Engine{
		db:        db,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
	}
}

// inTx 在一个事务里执行 Event 和 Device 的双写
func (e *Engine) inTx(ctx context.Context, fn func(devices *repository.DevicesRepository, events *repository.EventsRepository) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	devices := repository.NewDevicesRepository(tx, e.logger)
	events := repository.NewEventsRepository(tx, e.logger)

	if err := fn(devices, events); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// getDevice 读取设备，不存在时归类为 UnknownDevice
func (e *Engine) getDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	devices := repository.NewDevicesRepository(e.db, e.logger)
	device, err := devices.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil, fmt.Errorf("%w: device_id=%s", ErrUnknownDevice, deviceID)
		}
		return nil, err
	}
	return device, nil
}

// mapConflict 把守护写入冲突归类为 ConcurrentModification（保留原始哨兵可检）
func mapConflict(err error) error {
	if errors.Is(err, repository.ErrStateConflict) || errors.Is(err, repository.ErrStatusConflict) {
		return fmt.Errorf("%w (%w)", ErrConcurrentModification, err)
	}
	return err
}

// emit 迁移提交后的出口：发布侧通道 + 按需通知
// 两者都不影响已提交的迁移
func (e *Engine) emit(record TransitionRecord, notification *Notification) {
	if e.publisher != nil {
		e.publisher.PublishTransition(record)
	}
	if e.notifier != nil && notification != nil {
		e.notifier.Notify(*notification)
	}
}

// ApplyDeviceTrigger 应用一个设备侧触发
// 非法触发返回 ErrInvalidTransition，守护冲突返回 ErrConcurrentModification；
// 两者都不产生任何变更，由调用方（遥测消费者）记日志后丢弃
func (e *Engine) ApplyDeviceTrigger(ctx context.Context, deviceID string, trigger Trigger, occurredAt time.Time) (*models.Event, error) {
	device, err := e.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	switch trigger {
	case TriggerRaiseSOS:
		return e.raiseEvent(ctx, device, TriggerRaiseSOS, models.EventTypeSOS, models.DeviceStateEmergency, occurredAt)
	case TriggerRaiseAssist:
		return e.raiseEvent(ctx, device, TriggerRaiseAssist, models.EventTypeAssist, models.DeviceStateAssistRequested, occurredAt)
	case TriggerClear:
		return e.clearDevice(ctx, device, occurredAt)
	case TriggerAccept:
		return e.acceptOnDevice(ctx, device, occurredAt)
	default:
		return nil, fmt.Errorf("%w: trigger=%s", ErrUnknownTrigger, trigger)
	}
}

// raiseEvent RED/YELLOW：创建 SOS / ASSIST 事件
// ASSIST_REQUESTED 状态下的 RED 是升级：取消未决的 ASSIST，再开 SOS
func (e *Engine) raiseEvent(ctx context.Context, device *models.Device, trigger Trigger, eventType, nextState string, occurredAt time.Time) (*models.Event, error) {
	newEvent := &models.Event{
		DeviceID:  device.DeviceID,
		EventType: eventType,
		Status:    models.EventStatusPending,
		CreatedAt: occurredAt,
	}

	switch device.State {
	case models.DeviceStateIdle, models.DeviceStateMorningWindow, models.DeviceStateGracePeriod:
		err := e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
			if err := events.CreateEvent(ctx, newEvent); err != nil {
				return err
			}
			return devices.CompareAndSetState(ctx, device.DeviceID, device.State, nextState)
		})
		if err != nil {
			return nil, mapConflict(err)
		}

	case models.DeviceStateAssistRequested:
		if eventType != models.EventTypeSOS {
			// 重复的 YELLOW：协助请求已在处理中
			return nil, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, eventType, device.State)
		}
		nextState = models.DeviceStateEmergency
		err := e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
			open, err := events.FindOpenEvent(ctx, device.DeviceID)
			if err != nil {
				return err
			}
			if err := events.TransitionEvent(ctx, open.EventID, models.EventStatusPending, repository.EventPatch{
				Status: models.EventStatusCancelled,
			}); err != nil {
				return err
			}
			if err := events.CreateEvent(ctx, newEvent); err != nil {
				return err
			}
			return devices.CompareAndSetState(ctx, device.DeviceID, device.State, nextState)
		})
		if err != nil {
			return nil, mapConflict(err)
		}

	default:
		return nil, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, eventType, device.State)
	}

	var notification *Notification
	if eventType == models.EventTypeSOS {
		notification = &Notification{
			TemplateKey: TemplateSOSRaised,
			DeviceID:    device.DeviceID,
			PatientID:   device.PatientID,
			EventID:     newEvent.EventID,
		}
	}
	e.emit(TransitionRecord{
		DeviceID:    device.DeviceID,
		Trigger:     string(trigger),
		PrevState:   device.State,
		NextState:   nextState,
		EventID:     newEvent.EventID,
		EventType:   eventType,
		EventStatus: newEvent.Status,
		OccurredAt:  occurredAt,
	}, notification)

	e.logger.Info("Device trigger applied",
		zap.String("device_id", device.DeviceID),
		zap.String("event_type", eventType),
		zap.String("prev_state", device.State),
		zap.String("next_state", nextState),
	)

	return newEvent, nil
}

// clearDevice GREEN：解除当前事件或完成晨间打卡
func (e *Engine) clearDevice(ctx context.Context, device *models.Device, occurredAt time.Time) (*models.Event, error) {
	switch device.State {
	case models.DeviceStateEmergency, models.DeviceStateAssistRequested:
		// 患者自行解除：取消未决事件
		var open *models.Event
		err := e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
			var err error
			open, err = events.FindOpenEvent(ctx, device.DeviceID)
			if err != nil {
				return err
			}
			if err := events.TransitionEvent(ctx, open.EventID, models.EventStatusPending, repository.EventPatch{
				Status: models.EventStatusCancelled,
			}); err != nil {
				return err
			}
			return devices.CompareAndSetState(ctx, device.DeviceID, device.State, models.DeviceStateIdle)
		})
		if err != nil {
			return nil, mapConflict(err)
		}
		open.Status = models.EventStatusCancelled
		e.emit(TransitionRecord{
			DeviceID:    device.DeviceID,
			Trigger:     string(TriggerClear),
			PrevState:   device.State,
			NextState:   models.DeviceStateIdle,
			EventID:     open.EventID,
			EventType:   open.EventType,
			EventStatus: open.Status,
			OccurredAt:  occurredAt,
		}, nil)
		return open, nil

	case models.DeviceStateCaregiverOnWay:
		// 护理人员到场处理完毕，患者按键确认
		var open *models.Event
		err := e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
			var err error
			open, err = events.FindOpenEvent(ctx, device.DeviceID)
			if err != nil {
				return err
			}
			if err := events.TransitionEvent(ctx, open.EventID, models.EventStatusAcknowledged, repository.EventPatch{
				Status:     models.EventStatusResolved,
				ResolvedAt: &occurredAt,
			}); err != nil {
				return err
			}
			return devices.CompareAndSetState(ctx, device.DeviceID, device.State, models.DeviceStateIdle)
		})
		if err != nil {
			return nil, mapConflict(err)
		}
		open.Status = models.EventStatusResolved
		e.emit(TransitionRecord{
			DeviceID:    device.DeviceID,
			Trigger:     string(TriggerClear),
			PrevState:   device.State,
			NextState:   models.DeviceStateIdle,
			EventID:     open.EventID,
			EventType:   open.EventType,
			EventStatus: open.Status,
			OccurredAt:  occurredAt,
		}, nil)
		return open, nil

	case models.DeviceStateMorningWindow, models.DeviceStateGracePeriod:
		// 晨间打卡：直接落一条已处理的 MORNING_WAKEUP 记录
		wakeup := &models.Event{
			DeviceID:   device.DeviceID,
			EventType:  models.EventTypeMorningWakeup,
			Status:     models.EventStatusResolved,
			ResolvedAt: &occurredAt,
			CreatedAt:  occurredAt,
		}
		err := e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
			if err := events.CreateEvent(ctx, wakeup); err != nil {
				return err
			}
			return devices.CompareAndSetState(ctx, device.DeviceID, device.State, models.DeviceStateIdle)
		})
		if err != nil {
			return nil, mapConflict(err)
		}
		e.emit(TransitionRecord{
			DeviceID:    device.DeviceID,
			Trigger:     string(TriggerClear),
			PrevState:   device.State,
			NextState:   models.DeviceStateIdle,
			EventID:     wakeup.EventID,
			EventType:   wakeup.EventType,
			EventStatus: wakeup.Status,
			OccurredAt:  occurredAt,
		}, nil)
		return wakeup, nil

	case models.DeviceStateIdle:
		// 静止状态下的解除信号：显式空操作，丢弃
		e.logger.Debug("Clear trigger dropped on idle device",
			zap.String("device_id", device.DeviceID),
		)
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: CLEAR while %s", ErrInvalidTransition, device.State)
	}
}

// acceptOnDevice BLUE：护理人员在设备上确认接手
func (e *Engine) acceptOnDevice(ctx context.Context, device *models.Device, occurredAt time.Time) (*models.Event, error) {
	switch device.State {
	case models.DeviceStateEmergency, models.DeviceStateAssistRequested:
		var open *models.Event
		err := e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
			var err error
			open, err = events.FindOpenEvent(ctx, device.DeviceID)
			if err != nil {
				return err
			}
			if err := events.TransitionEvent(ctx, open.EventID, models.EventStatusPending, repository.EventPatch{
				Status:         models.EventStatusAcknowledged,
				AcknowledgedAt: &occurredAt,
			}); err != nil {
				return err
			}
			return devices.CompareAndSetState(ctx, device.DeviceID, device.State, models.DeviceStateCaregiverOnWay)
		})
		if err != nil {
			return nil, mapConflict(err)
		}
		open.Status = models.EventStatusAcknowledged
		e.emit(TransitionRecord{
			DeviceID:    device.DeviceID,
			Trigger:     string(TriggerAccept),
			PrevState:   device.State,
			NextState:   models.DeviceStateCaregiverOnWay,
			EventID:     open.EventID,
			EventType:   open.EventType,
			EventStatus: open.Status,
			OccurredAt:  occurredAt,
		}, nil)
		return open, nil

	case models.DeviceStateIdle:
		// 静止状态下的确认信号：显式空操作，丢弃
		e.logger.Debug("Accept trigger dropped on idle device",
			zap.String("device_id", device.DeviceID),
		)
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: ACCEPT while %s", ErrInvalidTransition, device.State)
	}
}

// ============================================
// 调度侧触发（外部晨检调度器通过管理接口驱动，核心里没有定时器）
// ============================================

// BeginMorningWindow 打开晨间打卡窗口（IDLE → MORNING_WINDOW）
func (e *Engine) BeginMorningWindow(ctx context.Context, deviceID string) error {
	return e.scheduledStateChange(ctx, deviceID, models.DeviceStateIdle, models.DeviceStateMorningWindow)
}

// BeginGracePeriod 打卡超时进入宽限期（MORNING_WINDOW → GRACE_PERIOD）
func (e *Engine) BeginGracePeriod(ctx context.Context, deviceID string) error {
	return e.scheduledStateChange(ctx, deviceID, models.DeviceStateMorningWindow, models.DeviceStateGracePeriod)
}

// scheduledStateChange 无台账效果的单写守护迁移
func (e *Engine) scheduledStateChange(ctx context.Context, deviceID, expectedState, nextState string) error {
	device, err := e.getDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if device.State != expectedState {
		return fmt.Errorf("%w: %s -> %s while %s", ErrInvalidTransition, expectedState, nextState, device.State)
	}

	devices := repository.NewDevicesRepository(e.db, e.logger)
	if err := devices.CompareAndSetState(ctx, deviceID, expectedState, nextState); err != nil {
		return mapConflict(err)
	}

	e.emit(TransitionRecord{
		DeviceID:   deviceID,
		Trigger:    "SCHEDULE",
		PrevState:  expectedState,
		NextState:  nextState,
		OccurredAt: time.Now(),
	}, nil)

	return nil
}

// MissedCheckin 宽限期结束仍未打卡：落 MISSED_CHECKIN 事件并转入待协助
// （GRACE_PERIOD → ASSIST_REQUESTED）
func (e *Engine) MissedCheckin(ctx context.Context, deviceID string) (*models.Event, error) {
	device, err := e.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.State != models.DeviceStateGracePeriod {
		return nil, fmt.Errorf("%w: MISSED_CHECKIN while %s", ErrInvalidTransition, device.State)
	}

	missed := &models.Event{
		DeviceID:  deviceID,
		EventType: models.EventTypeMissedCheckin,
		Status:    models.EventStatusPending,
	}
	err = e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
		if err := events.CreateEvent(ctx, missed); err != nil {
			return err
		}
		return devices.CompareAndSetState(ctx, deviceID, models.DeviceStateGracePeriod, models.DeviceStateAssistRequested)
	})
	if err != nil {
		return nil, mapConflict(err)
	}

	e.emit(TransitionRecord{
		DeviceID:    deviceID,
		Trigger:     "SCHEDULE",
		PrevState:   models.DeviceStateGracePeriod,
		NextState:   models.DeviceStateAssistRequested,
		EventID:     missed.EventID,
		EventType:   missed.EventType,
		EventStatus: missed.Status,
		OccurredAt:  missed.CreatedAt,
	}, nil)

	return missed, nil
}
