package repository

import (
	"context"
	"database/sql"
	"errors"
)

// DBTX 数据库执行接口（*sql.DB 和 *sql.Tx 均满足）
// Transition Engine 用它把 Event 和 Device 的守护写入放进同一个事务
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// 存储层错误
var (
	// ErrDeviceNotFound 设备不存在
	ErrDeviceNotFound = errors.New("device not found")

	// ErrEventNotFound 事件不存在
	ErrEventNotFound = errors.New("event not found")

	// ErrStateConflict 设备状态守护写入失败（观察到的状态已被并发变更）
	ErrStateConflict = errors.New("device state conflict")

	// ErrStatusConflict 事件状态守护写入失败（status 已不等于期望值）
	ErrStatusConflict = errors.New("event status conflict")

	// ErrInvalidTransition 请求的状态迁移不在合法迁移表中（不做任何写入）
	ErrInvalidTransition = errors.New("invalid transition")
)
