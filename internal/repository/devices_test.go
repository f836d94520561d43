package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carelink-core/internal/models"
)

func setupMockDevicesDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *DevicesRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewDevicesRepository(db, logger)

	return db, mock, repo
}

func TestGetDevice_Success(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	ctx := context.Background()
	deviceID := "AA:BB:CC:DD:EE:FF"
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"device_id", "state", "health", "battery_level",
		"last_seen_at", "patient_id", "created_at", "updated_at",
	}).AddRow(
		deviceID, models.DeviceStateIdle, models.DeviceHealthOnline, 87,
		now, "patient-1", now, now,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(rows)

	device, err := repo.GetDevice(ctx, deviceID)

	require.NoError(t, err)
	assert.NotNil(t, device)
	assert.Equal(t, deviceID, device.DeviceID)
	assert.Equal(t, models.DeviceStateIdle, device.State)
	assert.Equal(t, models.DeviceHealthOnline, device.Health)
	require.NotNil(t, device.BatteryLevel)
	assert.Equal(t, 87, *device.BatteryLevel)
	require.NotNil(t, device.PatientID)
	assert.Equal(t, "patient-1", *device.PatientID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDevice_NotFound(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	ctx := context.Background()
	deviceID := "AA:BB:CC:DD:EE:00"

	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnError(sql.ErrNoRows)

	device, err := repo.GetDevice(ctx, deviceID)

	assert.Error(t, err)
	assert.Nil(t, device)
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetState_Success(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	ctx := context.Background()
	deviceID := "AA:BB:CC:DD:EE:FF"

	mock.ExpectExec(`UPDATE devices`).
		WithArgs(models.DeviceStateEmergency, deviceID, models.DeviceStateIdle).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CompareAndSetState(ctx, deviceID, models.DeviceStateIdle, models.DeviceStateEmergency)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetState_Conflict(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	ctx := context.Background()
	deviceID := "AA:BB:CC:DD:EE:FF"

	// 观察到的状态已被并发变更：0 行受影响
	mock.ExpectExec(`UPDATE devices`).
		WithArgs(models.DeviceStateEmergency, deviceID, models.DeviceStateIdle).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CompareAndSetState(ctx, deviceID, models.DeviceStateIdle, models.DeviceStateEmergency)

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrStateConflict)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetState_InvalidState(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	ctx := context.Background()

	// 非法状态值不触发任何 SQL
	err := repo.CompareAndSetState(ctx, "AA:BB:CC:DD:EE:FF", models.DeviceStateIdle, "BROKEN")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid next state")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTelemetry_Success(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	ctx := context.Background()
	deviceID := "AA:BB:CC:DD:EE:FF"
	battery := 42
	lastSeen := time.Now()

	mock.ExpectExec(`UPDATE devices`).
		WithArgs(sqlmock.AnyArg(), lastSeen, models.DeviceHealthOnline, deviceID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateTelemetry(ctx, deviceID, &battery, lastSeen, models.DeviceHealthOnline)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTelemetry_NilBattery(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	ctx := context.Background()
	deviceID := "AA:BB:CC:DD:EE:FF"
	lastSeen := time.Now()

	// battery 为空时保留原值（COALESCE）
	mock.ExpectExec(`UPDATE devices`).
		WithArgs(sqlmock.AnyArg(), lastSeen, models.DeviceHealthOnline, deviceID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateTelemetry(ctx, deviceID, nil, lastSeen, models.DeviceHealthOnline)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateHealth_DeviceNotFound(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	ctx := context.Background()

	mock.ExpectExec(`UPDATE devices`).
		WithArgs(models.DeviceHealthOffline, "unknown-device").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateHealth(ctx, "unknown-device", models.DeviceHealthOffline)

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
