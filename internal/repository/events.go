package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"carelink-core/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventsRepository 事件台账（Event Ledger）
// 只追加的审计日志：事件只创建和状态推进，从不物理删除
type EventsRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewEventsRepository 创建事件台账
func NewEventsRepository(db DBTX, logger *zap.Logger) *EventsRepository {
	return &EventsRepository{
		db:     db,
		logger: logger,
	}
}

// validStatusTransitions 合法的状态迁移表
// ACKNOWLEDGED→ACKNOWLEDGED 是分诊降级（eventType 原地改写，状态不变）；
// ACKNOWLEDGED→COMPLETED 是分诊 TRUE_SOS 确认路径
var validStatusTransitions = map[string]map[string]bool{
	models.EventStatusPending: {
		models.EventStatusAcknowledged: true,
		models.EventStatusCancelled:    true,
	},
	models.EventStatusAcknowledged: {
		models.EventStatusAcknowledged: true,
		models.EventStatusResolved:     true,
		models.EventStatusCompleted:    true,
		models.EventStatusCancelled:    true,
	},
	models.EventStatusResolved: {
		models.EventStatusCompleted: true,
		models.EventStatusCancelled: true,
	},
}

// EventPatch 守护更新要写入的字段（nil 字段不更新）
type EventPatch struct {
	Status         string // 目标状态（必填）
	EventType      *string
	AcknowledgedBy *string
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
	Note           *string
	TriageDecision *string
	TriageBy       *string
	TriageAt       *time.Time
}

// EventFilters 事件列表过滤条件
type EventFilters struct {
	DeviceID  *string
	EventType *string
	Status    *string
	Statuses  []string
	StartTime *time.Time
	EndTime   *time.Time
}

// CreateEvent 创建事件（event_id 为空时自动生成 UUID）
func (r *EventsRepository) CreateEvent(ctx context.Context, event *models.Event) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	now := time.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	query := `
		INSERT INTO events (
			event_id,
			device_id,
			event_type,
			status,
			acknowledged_by,
			acknowledged_at,
			resolved_at,
			note,
			triage_decision,
			triage_by,
			triage_at,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		event.EventID,
		event.DeviceID,
		event.EventType,
		event.Status,
		event.AcknowledgedBy,
		event.AcknowledgedAt,
		event.ResolvedAt,
		event.Note,
		event.TriageDecision,
		event.TriageBy,
		event.TriageAt,
		event.CreatedAt,
		event.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// GetEvent 根据 event_id 获取单个事件
func (r *EventsRepository) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := eventSelectColumns + `
		FROM events
		WHERE event_id = $1
	`

	row := r.db.QueryRowContext(ctx, query, eventID)
	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: event_id=%s", ErrEventNotFound, eventID)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// FindOpenEvent 查找某设备当前未终止的事件
// 不变式：一台设备同时至多有一个事件持有其非 IDLE 状态
func (r *EventsRepository) FindOpenEvent(ctx context.Context, deviceID string) (*models.Event, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := eventSelectColumns + `
		FROM events
		WHERE device_id = $1
		  AND status IN ('PENDING', 'ACKNOWLEDGED', 'RESOLVED')
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, query, deviceID)
	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: no open event for device_id=%s", ErrEventNotFound, deviceID)
		}
		return nil, fmt.Errorf("failed to find open event: %w", err)
	}

	return event, nil
}

// TransitionEvent 事件状态的守护更新（与设备仓库的 compare-and-set 对应）
// 只有当前 status 仍等于 expectedStatus 时才写入 patch；
// status 已被并发变更时返回 ErrStatusConflict；
// 请求的迁移不在合法迁移表中时返回 ErrInvalidTransition（不做任何写入）
func (r *EventsRepository) TransitionEvent(ctx context.Context, eventID, expectedStatus string, patch EventPatch) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if patch.Status == "" {
		return fmt.Errorf("patch.status is required")
	}

	// 迁移合法性校验（写入前，失败则无任何变更）
	allowed, ok := validStatusTransitions[expectedStatus]
	if !ok || !allowed[patch.Status] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expectedStatus, patch.Status)
	}

	// 构建 SET 子句
	setParts := []string{}
	args := []interface{}{}
	argN := 1

	addSet := func(column string, value interface{}) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, argN))
		args = append(args, value)
		argN++
	}

	addSet("status", patch.Status)
	if patch.EventType != nil {
		addSet("event_type", *patch.EventType)
	}
	if patch.AcknowledgedBy != nil {
		addSet("acknowledged_by", *patch.AcknowledgedBy)
	}
	if patch.AcknowledgedAt != nil {
		addSet("acknowledged_at", *patch.AcknowledgedAt)
	}
	if patch.ResolvedAt != nil {
		addSet("resolved_at", *patch.ResolvedAt)
	}
	if patch.Note != nil {
		addSet("note", *patch.Note)
	}
	if patch.TriageDecision != nil {
		addSet("triage_decision", *patch.TriageDecision)
	}
	if patch.TriageBy != nil {
		addSet("triage_by", *patch.TriageBy)
	}
	if patch.TriageAt != nil {
		addSet("triage_at", *patch.TriageAt)
	}
	setParts = append(setParts, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE events
		SET %s
		WHERE event_id = $%d
		  AND status = $%d
	`, strings.Join(setParts, ", "), argN, argN+1)
	args = append(args, eventID, expectedStatus)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: event_id=%s, expected=%s", ErrStatusConflict, eventID, expectedStatus)
	}

	return nil
}

// ListEvents 事件列表查询（支持多条件过滤、分页，供护理端看板使用）
func (r *EventsRepository) ListEvents(ctx context.Context, filters EventFilters, page, size int) ([]*models.Event, int, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	// 构建 WHERE 子句
	where := []string{"1=1"}
	args := []interface{}{}
	argN := 1

	if filters.DeviceID != nil {
		where = append(where, fmt.Sprintf("device_id = $%d", argN))
		args = append(args, *filters.DeviceID)
		argN++
	}
	if filters.EventType != nil {
		where = append(where, fmt.Sprintf("event_type = $%d", argN))
		args = append(args, *filters.EventType)
		argN++
	}
	if filters.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, *filters.Status)
		argN++
	}
	if len(filters.Statuses) > 0 {
		placeholders := make([]string, len(filters.Statuses))
		for i := range filters.Statuses {
			placeholders[i] = fmt.Sprintf("$%d", argN)
			args = append(args, filters.Statuses[i])
			argN++
		}
		where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argN))
		args = append(args, *filters.StartTime)
		argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", argN))
		args = append(args, *filters.EndTime)
		argN++
	}

	whereClause := strings.Join(where, " AND ")

	// 查询总数
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events WHERE %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	// 查询列表
	query := fmt.Sprintf(`%s
		FROM events
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, eventSelectColumns, whereClause, argN, argN+1)
	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, total, nil
}

const eventSelectColumns = `
		SELECT
			event_id,
			device_id,
			event_type,
			status,
			acknowledged_by,
			acknowledged_at,
			resolved_at,
			note,
			triage_decision,
			triage_by,
			triage_at,
			created_at,
			updated_at
`

// rowScanner *sql.Row 和 *sql.Rows 共同的 Scan 接口
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEvent 扫描一行事件记录并处理可空字段
func scanEvent(row rowScanner) (*models.Event, error) {
	var event models.Event
	var acknowledgedBy, note, triageDecision, triageBy sql.NullString
	var acknowledgedAt, resolvedAt, triageAt sql.NullTime

	err := row.Scan(
		&event.EventID,
		&event.DeviceID,
		&event.EventType,
		&event.Status,
		&acknowledgedBy,
		&acknowledgedAt,
		&resolvedAt,
		&note,
		&triageDecision,
		&triageBy,
		&triageAt,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if acknowledgedBy.Valid {
		event.AcknowledgedBy = &acknowledgedBy.String
	}
	if acknowledgedAt.Valid {
		event.AcknowledgedAt = &acknowledgedAt.Time
	}
	if resolvedAt.Valid {
		event.ResolvedAt = &resolvedAt.Time
	}
	if note.Valid {
		event.Note = &note.String
	}
	if triageDecision.Valid {
		event.TriageDecision = &triageDecision.String
	}
	if triageBy.Valid {
		event.TriageBy = &triageBy.String
	}
	if triageAt.Valid {
		event.TriageAt = &triageAt.Time
	}

	return &event, nil
}
