package engine

import (
	"context"
	"fmt"
	"time"

	"carelink-core/internal/models"
	"carelink-core/internal/repository"

	"go.uber.org/zap"
)

// 护理端动作：五个请求/响应操作，与台账迁移一一对应，并带动设备状态变更。
// 与设备侧并发 CLEAR 竞争时先提交者赢，输家收到 ConcurrentModification/
// StatusConflict，由调用方对最新状态重新发起。

// getEvent 读取事件（不存在时原样上抛 ErrEventNotFound）
func (e *Engine) getEvent(ctx context.Context, eventID string) (*models.Event, error) {
	events := repository.NewEventsRepository(e.db, e.logger)
	return events.GetEvent(ctx, eventID)
}

// Acknowledge 护理人员确认接手（PENDING → ACKNOWLEDGED，设备 → CAREGIVER_ON_THE_WAY）
func (e *Engine) Acknowledge(ctx context.Context, eventID, caregiverID string) (*models.Event, error) {
	event, err := e.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventStatusPending {
		return nil, fmt.Errorf("%w: cannot acknowledge event with status %s", ErrInvalidTransition, event.Status)
	}

	device, err := e.getDevice(ctx, event.DeviceID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
		if err := events.TransitionEvent(ctx, eventID, models.EventStatusPending, repository.EventPatch{
			Status:         models.EventStatusAcknowledged,
			AcknowledgedBy: &caregiverID,
			AcknowledgedAt: &now,
		}); err != nil {
			return err
		}
		return devices.CompareAndSetState(ctx, device.DeviceID, device.State, models.DeviceStateCaregiverOnWay)
	})
	if err != nil {
		return nil, mapConflict(err)
	}

	event.Status = models.EventStatusAcknowledged
	event.AcknowledgedBy = &caregiverID
	event.AcknowledgedAt = &now

	e.emit(TransitionRecord{
		DeviceID:    device.DeviceID,
		Trigger:     "ACKNOWLEDGE",
		PrevState:   device.State,
		NextState:   models.DeviceStateCaregiverOnWay,
		EventID:     event.EventID,
		EventType:   event.EventType,
		EventStatus: event.Status,
		OccurredAt:  now,
	}, nil)

	e.logger.Info("Event acknowledged",
		zap.String("event_id", eventID),
		zap.String("caregiver_id", caregiverID),
	)

	return event, nil
}

// Resolve 现场处理完毕（ACKNOWLEDGED → RESOLVED，设备 → IDLE）
// SOS 事件必须先经过分诊，不允许走普通处理路径
func (e *Engine) Resolve(ctx context.Context, eventID string, note *string) (*models.Event, error) {
	event, err := e.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventStatusAcknowledged {
		return nil, fmt.Errorf("%w: cannot resolve event with status %s", ErrInvalidTransition, event.Status)
	}
	if event.EventType == models.EventTypeSOS {
		return nil, fmt.Errorf("%w: SOS events must be triaged before resolution", ErrInvalidTransition)
	}

	device, err := e.getDevice(ctx, event.DeviceID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
		if err := events.TransitionEvent(ctx, eventID, models.EventStatusAcknowledged, repository.EventPatch{
			Status:     models.EventStatusResolved,
			ResolvedAt: &now,
			Note:       note,
		}); err != nil {
			return err
		}
		return devices.CompareAndSetState(ctx, device.DeviceID, device.State, models.DeviceStateIdle)
	})
	if err != nil {
		return nil, mapConflict(err)
	}

	event.Status = models.EventStatusResolved
	event.ResolvedAt = &now
	if note != nil {
		event.Note = note
	}

	e.emit(TransitionRecord{
		DeviceID:    device.DeviceID,
		Trigger:     "RESOLVE",
		PrevState:   device.State,
		NextState:   models.DeviceStateIdle,
		EventID:     event.EventID,
		EventType:   event.EventType,
		EventStatus: event.Status,
		OccurredAt:  now,
	}, nil)

	return event, nil
}

// Cancel 操作员撤销（非终止状态 → CANCELLED，设备 → IDLE）
func (e *Engine) Cancel(ctx context.Context, eventID string) (*models.Event, error) {
	event, err := e.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(event.Status) {
		return nil, fmt.Errorf("%w: cannot cancel event with status %s", ErrInvalidTransition, event.Status)
	}

	device, err := e.getDevice(ctx, event.DeviceID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
		if err := events.TransitionEvent(ctx, eventID, event.Status, repository.EventPatch{
			Status: models.EventStatusCancelled,
		}); err != nil {
			return err
		}
		return devices.CompareAndSetState(ctx, device.DeviceID, device.State, models.DeviceStateIdle)
	})
	if err != nil {
		return nil, mapConflict(err)
	}

	prevStatus := event.Status
	event.Status = models.EventStatusCancelled

	e.emit(TransitionRecord{
		DeviceID:    device.DeviceID,
		Trigger:     "CANCEL",
		PrevState:   device.State,
		NextState:   models.DeviceStateIdle,
		EventID:     event.EventID,
		EventType:   event.EventType,
		EventStatus: event.Status,
		OccurredAt:  now,
	}, nil)

	e.logger.Info("Event cancelled",
		zap.String("event_id", eventID),
		zap.String("prev_status", prevStatus),
	)

	return event, nil
}

// Complete 报告完成，护理流程收尾（RESOLVED → COMPLETED，设备 → IDLE）
// notify-worthy："护理完成"推送给家属
func (e *Engine) Complete(ctx context.Context, eventID string, note *string) (*models.Event, error) {
	event, err := e.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventStatusResolved {
		return nil, fmt.Errorf("%w: cannot complete event with status %s", ErrInvalidTransition, event.Status)
	}

	device, err := e.getDevice(ctx, event.DeviceID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
		if err := events.TransitionEvent(ctx, eventID, models.EventStatusResolved, repository.EventPatch{
			Status: models.EventStatusCompleted,
			Note:   note,
		}); err != nil {
			return err
		}
		return devices.CompareAndSetState(ctx, device.DeviceID, device.State, models.DeviceStateIdle)
	})
	if err != nil {
		return nil, mapConflict(err)
	}

	event.Status = models.EventStatusCompleted
	if note != nil {
		event.Note = note
	}

	e.emit(TransitionRecord{
		DeviceID:    device.DeviceID,
		Trigger:     "COMPLETE",
		PrevState:   device.State,
		NextState:   models.DeviceStateIdle,
		EventID:     event.EventID,
		EventType:   event.EventType,
		EventStatus: event.Status,
		OccurredAt:  now,
	}, &Notification{
		TemplateKey: TemplateCareCompleted,
		DeviceID:    device.DeviceID,
		PatientID:   device.PatientID,
		EventID:     event.EventID,
		Note:        note,
	})

	return event, nil
}
