package engine

import (
	"errors"

	"carelink-core/internal/repository"
)

// 迁移引擎错误分类
// 设备侧触发的非法迁移由调用方（遥测消费者）记日志后丢弃；
// 护理端触发的错误原样上抛，由 HTTP 层转成用户可见的冲突提示
var (
	// ErrUnknownDevice 遥测消息里的设备不在注册表中
	ErrUnknownDevice = errors.New("unknown device")

	// ErrUnknownTrigger 按键颜色不在固定集合中
	ErrUnknownTrigger = errors.New("unknown trigger")

	// ErrInvalidTransition 当前状态下不允许该触发（与台账层共用同一哨兵）
	ErrInvalidTransition = repository.ErrInvalidTransition

	// ErrStatusConflict 事件守护写入失败（与台账层共用同一哨兵）
	ErrStatusConflict = repository.ErrStatusConflict

	// ErrConcurrentModification 双写中任一守护写入失败，整个操作已放弃，
	// 由调用方对最新状态重新提交；引擎不做自动重试
	ErrConcurrentModification = errors.New("concurrent modification")

	// 分诊子流程错误
	ErrNoteRequired   = errors.New("caregiver note is required")
	ErrWrongEventType = errors.New("wrong event type")
	ErrWrongStatus    = errors.New("wrong event status")
	ErrAlreadyTriaged = errors.New("event has already been triaged")
)
