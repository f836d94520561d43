package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"carelink-core/internal/models"

	"go.uber.org/zap"
)

// DevicesRepository 设备仓库（Device Registry）
// 状态变更只通过 CompareAndSetState，单行原子条件更新，不使用全局锁
type DevicesRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewDevicesRepository 创建设备仓库
func NewDevicesRepository(db DBTX, logger *zap.Logger) *DevicesRepository {
	return &DevicesRepository{
		db:     db,
		logger: logger,
	}
}

// GetDevice 根据 device_id 获取设备
func (r *DevicesRepository) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			device_id,
			state,
			health,
			battery_level,
			last_seen_at,
			patient_id,
			created_at,
			updated_at
		FROM devices
		WHERE device_id = $1
	`

	var device models.Device
	var batteryLevel sql.NullInt64
	var lastSeenAt sql.NullTime
	var patientID sql.NullString

	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.DeviceID,
		&device.State,
		&device.Health,
		&batteryLevel,
		&lastSeenAt,
		&patientID,
		&device.CreatedAt,
		&device.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: device_id=%s", ErrDeviceNotFound, deviceID)
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	// 处理可空字段
	if batteryLevel.Valid {
		level := int(batteryLevel.Int64)
		device.BatteryLevel = &level
	}
	if lastSeenAt.Valid {
		device.LastSeenAt = &lastSeenAt.Time
	}
	if patientID.Valid {
		device.PatientID = &patientID.String
	}

	return &device, nil
}

// CompareAndSetState 设备状态的守护写入（compare-and-set）
// 只有当前存储的状态仍等于 expectedState 时才更新为 nextState；
// 观察到的状态已被并发变更时返回 ErrStateConflict，由调用方决定重读重试或丢弃
func (r *DevicesRepository) CompareAndSetState(ctx context.Context, deviceID, expectedState, nextState string) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if !models.ValidDeviceStates[expectedState] {
		return fmt.Errorf("invalid expected state: %s", expectedState)
	}
	if !models.ValidDeviceStates[nextState] {
		return fmt.Errorf("invalid next state: %s", nextState)
	}

	query := `
		UPDATE devices
		SET state = $1,
		    updated_at = NOW()
		WHERE device_id = $2
		  AND state = $3
	`

	result, err := r.db.ExecContext(ctx, query, nextState, deviceID, expectedState)
	if err != nil {
		return fmt.Errorf("failed to update device state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: device_id=%s, expected=%s", ErrStateConflict, deviceID, expectedState)
	}

	return nil
}

// UpdateTelemetry 更新设备遥测信息（电量、最后在线时间、健康状态）
// 无条件更新：遥测新鲜度不依赖状态迁移是否被接受
func (r *DevicesRepository) UpdateTelemetry(ctx context.Context, deviceID string, batteryLevel *int, lastSeenAt time.Time, health string) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	query := `
		UPDATE devices
		SET battery_level = COALESCE($1, battery_level),
		    last_seen_at = $2,
		    health = $3,
		    updated_at = NOW()
		WHERE device_id = $4
	`

	var battery sql.NullInt64
	if batteryLevel != nil {
		battery = sql.NullInt64{Int64: int64(*batteryLevel), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query, battery, lastSeenAt, health, deviceID)
	if err != nil {
		return fmt.Errorf("failed to update device telemetry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: device_id=%s", ErrDeviceNotFound, deviceID)
	}

	return nil
}

// UpdateHealth 更新设备健康状态（来自 status 主题的 ONLINE/OFFLINE 心跳）
func (r *DevicesRepository) UpdateHealth(ctx context.Context, deviceID, health string) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	query := `
		UPDATE devices
		SET health = $1,
		    last_seen_at = NOW(),
		    updated_at = NOW()
		WHERE device_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, health, deviceID)
	if err != nil {
		return fmt.Errorf("failed to update device health: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: device_id=%s", ErrDeviceNotFound, deviceID)
	}

	return nil
}
