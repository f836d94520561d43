package models

import "time"

// 设备硬件状态（封闭枚举，状态只通过 Transition Engine 变更）
const (
	DeviceStateIdle             = "IDLE"               // 静止状态（初始/终止）
	DeviceStateMorningWindow    = "MORNING_WINDOW"     // 晨间打卡窗口
	DeviceStateGracePeriod      = "GRACE_PERIOD"       // 打卡宽限期
	DeviceStateEmergency        = "EMERGENCY"          // SOS 紧急状态
	DeviceStateAssistRequested  = "ASSIST_REQUESTED"   // 普通协助请求
	DeviceStateCaregiverOnWay   = "CAREGIVER_ON_THE_WAY" // 护理人员已确认、在途
)

// 设备健康状态
const (
	DeviceHealthOnline      = "ONLINE"
	DeviceHealthOffline     = "OFFLINE"
	DeviceHealthLowBattery  = "LOW_BATTERY"
	DeviceHealthMaintenance = "MAINTENANCE"
)

// ValidDeviceStates 所有合法的设备状态
var ValidDeviceStates = map[string]bool{
	DeviceStateIdle:            true,
	DeviceStateMorningWindow:   true,
	DeviceStateGracePeriod:     true,
	DeviceStateEmergency:       true,
	DeviceStateAssistRequested: true,
	DeviceStateCaregiverOnWay:  true,
}

// Device 床旁报警设备领域模型（对应 devices 表）
type Device struct {
	// 主键：稳定的硬件标识（MAC 地址）
	DeviceID string `json:"device_id" db:"device_id"` // VARCHAR(17), PRIMARY KEY

	// 硬件状态（见上方枚举），只能通过 Transition Engine 变更
	State string `json:"state" db:"state"` // VARCHAR(30), NOT NULL, DEFAULT 'IDLE'

	// 健康状态
	Health string `json:"health" db:"health"` // VARCHAR(20), NOT NULL, DEFAULT 'OFFLINE'

	// 遥测信息
	BatteryLevel *int       `json:"battery_level,omitempty" db:"battery_level"` // INT, 0-100, nullable
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`  // TIMESTAMPTZ, nullable

	// 归属患者（0或1）
	PatientID *string `json:"patient_id,omitempty" db:"patient_id"` // UUID, nullable, REFERENCES patients(patient_id)

	// 时间戳
	CreatedAt time.Time `json:"created_at" db:"created_at"` // TIMESTAMPTZ, NOT NULL
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"` // TIMESTAMPTZ, NOT NULL
}
