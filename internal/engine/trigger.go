package engine

import (
	"fmt"
	"strings"
	"time"
)

// Trigger 设备侧触发信号（由按键颜色规范化而来）
type Trigger string

const (
	TriggerRaiseSOS    Trigger = "RAISE_SOS"    // RED：紧急呼叫
	TriggerRaiseAssist Trigger = "RAISE_ASSIST" // YELLOW：普通协助
	TriggerClear       Trigger = "CLEAR"        // GREEN：解除/打卡
	TriggerAccept      Trigger = "ACCEPT"       // BLUE：护理人员已确认
)

// buttonTriggers 按键颜色到触发信号的映射
var buttonTriggers = map[string]Trigger{
	"RED":    TriggerRaiseSOS,
	"YELLOW": TriggerRaiseAssist,
	"GREEN":  TriggerClear,
	"BLUE":   TriggerAccept,
}

// TriggerForButton 把按键颜色映射为触发信号
func TriggerForButton(buttonColor string) (Trigger, error) {
	trigger, ok := buttonTriggers[strings.ToUpper(buttonColor)]
	if !ok {
		return "", fmt.Errorf("%w: button_color=%s", ErrUnknownTrigger, buttonColor)
	}
	return trigger, nil
}

// 通知模板键（notify-worthy 迁移的分类）
const (
	TemplateSOSRaised     = "sos_raised"     // SOS 事件创建
	TemplateSOSConfirmed  = "sos_confirmed"  // 分诊确认为真实紧急
	TemplateSOSDowngraded = "sos_downgraded" // 分诊降级为普通协助
	TemplateCareCompleted = "care_completed" // 护理流程完结
)

// Notification 通知请求（引擎在迁移提交后异步发出）
type Notification struct {
	TemplateKey string
	DeviceID    string
	PatientID   *string
	EventID     string
	Note        *string
	CaregiverID *string
}

// Notifier 外发通知接口（纯副作用，从不影响迁移的成败）
type Notifier interface {
	Notify(n Notification)
}

// TransitionRecord 已提交的状态迁移记录（发布侧通道用）
type TransitionRecord struct {
	DeviceID    string    `json:"device_id"`
	Trigger     string    `json:"trigger"`
	PrevState   string    `json:"prev_state"`
	NextState   string    `json:"next_state"`
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	EventStatus string    `json:"event_status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher 已提交迁移的发布侧通道（只读投影的数据源，不是写路径）
type Publisher interface {
	PublishTransition(record TransitionRecord)
}
