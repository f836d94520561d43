package models

import "time"

// 事件类型
const (
	EventTypeSOS           = "SOS"
	EventTypeAssist        = "ASSIST"
	EventTypeMorningWakeup = "MORNING_WAKEUP"
	EventTypeMissedCheckin = "MISSED_CHECKIN"
)

// 事件生命周期状态
const (
	EventStatusPending      = "PENDING"
	EventStatusAcknowledged = "ACKNOWLEDGED"
	EventStatusResolved     = "RESOLVED"
	EventStatusCompleted    = "COMPLETED"
	EventStatusCancelled    = "CANCELLED"
)

// Triage 分诊结论（仅 SOS 事件有意义）
const (
	TriageTrueSOS           = "TRUE_SOS"
	TriageDowngradedToAssist = "DOWNGRADED_TO_ASSIST"
)

// IsTerminalStatus 判断事件是否已终止（终止后不可变更）
func IsTerminalStatus(status string) bool {
	return status == EventStatusCompleted || status == EventStatusCancelled
}

// Event 报警/打卡事件领域模型（对应 events 表，只追加，不物理删除）
type Event struct {
	// 主键
	EventID string `json:"event_id" db:"event_id"` // UUID, PRIMARY KEY

	// 设备关联
	DeviceID string `json:"device_id" db:"device_id"` // VARCHAR(17), NOT NULL, REFERENCES devices(device_id)

	// 事件类型和状态
	EventType string `json:"event_type" db:"event_type"` // VARCHAR(20), NOT NULL
	Status    string `json:"status" db:"status"`     // VARCHAR(20), NOT NULL, DEFAULT 'PENDING'

	// 确认信息
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty" db:"acknowledged_by"` // UUID, nullable, REFERENCES caregivers(caregiver_id)
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"` // TIMESTAMPTZ, nullable

	// 处理信息
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"` // TIMESTAMPTZ, nullable
	Note       *string    `json:"note,omitempty" db:"note"`        // TEXT, nullable

	// 分诊信息（仅 SOS）
	TriageDecision *string    `json:"triage_decision,omitempty" db:"triage_decision"` // VARCHAR(30), nullable
	TriageBy       *string    `json:"triage_by,omitempty" db:"triage_by"`       // UUID, nullable
	TriageAt       *time.Time `json:"triage_at,omitempty" db:"triage_at"`       // TIMESTAMPTZ, nullable

	// 时间戳
	CreatedAt time.Time `json:"created_at" db:"created_at"` // TIMESTAMPTZ, NOT NULL
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"` // TIMESTAMPTZ, NOT NULL
}
