package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carelink-core/internal/models"
	"carelink-core/internal/repository"

	"go.uber.org/zap"
)

// 分诊子流程：SOS 事件在普通 Acknowledge→Resolve 路径之上的第二个决策点。
// SOS 的代价太高，不允许未经人工定性就关闭：
//   - TRUE_SOS（必须填写说明）→ 事件 COMPLETED，设备 → IDLE
//   - DOWNGRADED_TO_ASSIST（说明可选）→ eventType 原地改写为 ASSIST，
//     状态保持 ACKNOWLEDGED，设备保持 CAREGIVER_ON_THE_WAY

// Triage 对一个已确认的 SOS 事件做分诊定性
func (e *Engine) Triage(ctx context.Context, eventID, decision string, note *string, caregiverID string) (*models.Event, error) {
	if decision != models.TriageTrueSOS && decision != models.TriageDowngradedToAssist {
		return nil, fmt.Errorf("invalid triage decision: %s", decision)
	}

	event, err := e.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	// 前置校验：只有 SOS、已确认、未分诊的事件可以分诊，全部不落任何写入
	if event.TriageDecision != nil {
		return nil, fmt.Errorf("%w: event_id=%s", ErrAlreadyTriaged, eventID)
	}
	if event.EventType != models.EventTypeSOS {
		return nil, fmt.Errorf("%w: only SOS events can be triaged, got %s", ErrWrongEventType, event.EventType)
	}
	if event.Status != models.EventStatusAcknowledged {
		return nil, fmt.Errorf("%w: cannot triage event with status %s", ErrWrongStatus, event.Status)
	}
	if decision == models.TriageTrueSOS && (note == nil || strings.TrimSpace(*note) == "") {
		return nil, fmt.Errorf("%w: a note is required when confirming a true SOS", ErrNoteRequired)
	}

	device, err := e.getDevice(ctx, event.DeviceID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	if decision == models.TriageTrueSOS {
		// 确认为真实紧急：事件直接完结，设备回到静止
		err = e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
			if err := events.TransitionEvent(ctx, eventID, models.EventStatusAcknowledged, repository.EventPatch{
				Status:         models.EventStatusCompleted,
				ResolvedAt:     &now,
				Note:           note,
				TriageDecision: &decision,
				TriageBy:       &caregiverID,
				TriageAt:       &now,
			}); err != nil {
				return err
			}
			return devices.CompareAndSetState(ctx, device.DeviceID, device.State, models.DeviceStateIdle)
		})
		if err != nil {
			return nil, mapConflict(err)
		}

		event.Status = models.EventStatusCompleted
		event.ResolvedAt = &now
		event.Note = note
		event.TriageDecision = &decision
		event.TriageBy = &caregiverID
		event.TriageAt = &now

		e.emit(TransitionRecord{
			DeviceID:    device.DeviceID,
			Trigger:     "TRIAGE",
			PrevState:   device.State,
			NextState:   models.DeviceStateIdle,
			EventID:     event.EventID,
			EventType:   event.EventType,
			EventStatus: event.Status,
			OccurredAt:  now,
		}, &Notification{
			TemplateKey: TemplateSOSConfirmed,
			DeviceID:    device.DeviceID,
			PatientID:   device.PatientID,
			EventID:     event.EventID,
			Note:        note,
			CaregiverID: &caregiverID,
		})
	} else {
		// 降级为普通协助：eventType 改写，状态和设备都保持不变
		assist := models.EventTypeAssist
		err = e.inTx(ctx, func(devices *repository.DevicesRepository, events *repository.EventsRepository) error {
			return events.TransitionEvent(ctx, eventID, models.EventStatusAcknowledged, repository.EventPatch{
				Status:         models.EventStatusAcknowledged,
				EventType:      &assist,
				Note:           note,
				TriageDecision: &decision,
				TriageBy:       &caregiverID,
				TriageAt:       &now,
			})
		})
		if err != nil {
			return nil, mapConflict(err)
		}

		event.EventType = assist
		event.Note = note
		event.TriageDecision = &decision
		event.TriageBy = &caregiverID
		event.TriageAt = &now

		e.emit(TransitionRecord{
			DeviceID:    device.DeviceID,
			Trigger:     "TRIAGE",
			PrevState:   device.State,
			NextState:   device.State,
			EventID:     event.EventID,
			EventType:   event.EventType,
			EventStatus: event.Status,
			OccurredAt:  now,
		}, &Notification{
			TemplateKey: TemplateSOSDowngraded,
			DeviceID:    device.DeviceID,
			PatientID:   device.PatientID,
			EventID:     event.EventID,
			Note:        note,
			CaregiverID: &caregiverID,
		})
	}

	e.logger.Info("SOS event triaged",
		zap.String("event_id", eventID),
		zap.String("decision", decision),
		zap.String("caregiver_id", caregiverID),
	)

	return event, nil
}
