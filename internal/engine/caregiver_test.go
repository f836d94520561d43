package engine

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink-core/internal/models"
	"carelink-core/internal/repository"
)

// 场景B：护理人员确认 → 设备 CAREGIVER_ON_THE_WAY，事件 ACKNOWLEDGED
func TestAcknowledge_Success(t *testing.T) {
	db, mock, eng, _, publisher := setupEngine(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()
	caregiverID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).WithArgs(eventID).
		WillReturnRows(openEventRow(eventID, models.EventTypeSOS, models.EventStatusPending))
	mock.ExpectQuery(`SELECT`).WithArgs(testDeviceID).WillReturnRows(deviceRow(models.DeviceStateEmergency))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE devices`).
		WithArgs(models.DeviceStateCaregiverOnWay, testDeviceID, models.DeviceStateEmergency).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event, err := eng.Acknowledge(ctx, eventID, caregiverID)

	require.NoError(t, err)
	assert.Equal(t, models.EventStatusAcknowledged, event.Status)
	require.NotNil(t, event.AcknowledgedBy)
	assert.Equal(t, caregiverID, *event.AcknowledgedBy)
	assert.NotNil(t, event.AcknowledgedAt)

	require.Len(t, publisher.records, 1)
	assert.Equal(t, models.DeviceStateCaregiverOnWay, publisher.records[0].NextState)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_NotPending(t *testing.T) {
	db, mock, eng, _, _ := setupEngine(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).WithArgs(eventID).
		WillReturnRows(openEventRow(eventID, models.EventTypeSOS, models.EventStatusAcknowledged))

	event, err := eng.Acknowledge(ctx, eventID, uuid.New().String())

	assert.Nil(t, event)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "cannot acknowledge")

	require.NoError(t, mock.ExpectationsWereMet())
}

// 场景F：两个并发 Acknowledge，输家的守护写入落空，收到 StatusConflict
func TestAcknowledge_ConcurrentLoserGetsStatusConflict(t *testing.T) {
	db, mock, eng, _, publisher := setupEngine(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).WithArgs(eventID).
		WillReturnRows(openEventRow(eventID, models.EventTypeSOS, models.EventStatusPending))
	mock.ExpectQuery(`SELECT`).WithArgs(testDeviceID).WillReturnRows(deviceRow(models.DeviceStateEmergency))
	mock.ExpectBegin()
	// 赢家已把 status 推到 ACKNOWLEDGED，输家的守护条件不再满足
	mock.ExpectExec(`UPDATE events`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	event, err := eng.Acknowledge(ctx, eventID, uuid.New().String())

	assert.Nil(t, event)
	assert.ErrorIs(t, err, ErrStatusConflict)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Empty(t, publisher.records)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_Success(t *testing.T) {
	db, mock, eng, _, _ := setupEngine(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()
	note := "patient settled back to bed"

	mock.ExpectQuery(`SELECT`).WithArgs(eventID).
		WillReturnRows(openEventRow(eventID, models.EventTypeAssist, models.EventStatusAcknowledged))
	mock.ExpectQuery(`SELECT`).WithArgs(testDeviceID).WillReturnRows(deviceRow(models.DeviceStateCaregiverOnWay))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE devices`).
		WithArgs(models.DeviceStateIdle, testDeviceID, models.DeviceStateCaregiverOnWay).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event, err := eng.Resolve(ctx, eventID, &note)

	require.NoError(t, err)
	assert.Equal(t, models.EventStatusResolved, event.Status)
	assert.NotNil(t, event.ResolvedAt)
	require.NotNil(t, event.Note)
	assert.Equal(t, note, *event.Note)

	require.NoError(t, mock.ExpectationsWereMet())
}

// SOS 不允许走普通 Resolve 路径（必须先分诊）
func TestResolve_RejectsUntriagedSOS(t *testing.T) {
	db, mock, eng, _, _ := setupEngine(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).WithArgs(eventID).
		WillReturnRows(openEventRow(eventID, models.EventTypeSOS, models.EventStatusAcknowledged))

	event, err := eng.Resolve(ctx, eventID, nil)

	assert.Nil(t, event)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "triaged")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_Success(t *testing.T) {
	db, mock, eng, _, _ := setupEngine(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).WithArgs(eventID).
		WillReturnRows(openEventRow(eventID, models.EventTypeAssist, models.EventStatusPending))
	mock.ExpectQuery(`SELECT`).WithArgs(testDeviceID).WillReturnRows(deviceRow(models.DeviceStateAssistRequested))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE devices`).
		WithArgs(models.DeviceStateIdle, testDeviceID, models.DeviceStateAssistRequested).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event, err := eng.Cancel(ctx, eventID)

	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCancelled, event.Status)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_TerminalEventRejected(t *testing.T) {
	db, mock, eng, _, _ := setupEngine(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).WithArgs(eventID).
		WillReturnRows(openEventRow(eventID, models.EventTypeAssist, models.EventStatusCompleted))

	event, err := eng.Cancel(ctx, eventID)

	assert.Nil(t, event)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestComplete_Success(t *testing.T) {
	db, mock, eng, notifier, _ := setupEngine(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()
	note := "report filed"

	mock.ExpectQuery(`SELECT`).WithArgs(eventID).
		WillReturnRows(openEventRow(eventID, models.EventTypeAssist, models.EventStatusResolved))
	mock.ExpectQuery(`SELECT`).WithArgs(testDeviceID).WillReturnRows(deviceRow(models.DeviceStateIdle))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE devices`).
		WithArgs(models.DeviceStateIdle, testDeviceID, models.DeviceStateIdle).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event, err := eng.Complete(ctx, eventID, &note)

	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCompleted, event.Status)

	// 护理完成推送家属
	require.Len(t, notifier.notifications, 1)
	assert.Equal(t, TemplateCareCompleted, notifier.notifications[0].TemplateKey)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestComplete_NotResolved(t *testing.T) {
	db, mock, eng, _, _ := setupEngine(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).WithArgs(eventID).
		WillReturnRows(openEventRow(eventID, models.EventTypeAssist, models.EventStatusPending))

	event, err := eng.Complete(ctx, eventID, nil)

	assert.Nil(t, event)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_EventNotFound(t *testing.T) {
	db, mock, eng, _, _ := setupEngine(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).WithArgs(eventID).
		WillReturnError(sql.ErrNoRows)

	event, err := eng.Acknowledge(ctx, eventID, uuid.New().String())

	assert.Nil(t, event)
	assert.ErrorIs(t, err, repository.ErrEventNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
