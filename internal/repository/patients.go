package repository

import (
	"context"
	"database/sql"
	"fmt"

	"carelink-core/internal/models"

	"go.uber.org/zap"
)

// PatientsRepository 患者/护理人员参照数据（只读）
// 档案 CRUD 属于外部系统，这里只为构建通知文本查询姓名和家属联系地址
type PatientsRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPatientsRepository 创建参照数据仓库
func NewPatientsRepository(db DBTX, logger *zap.Logger) *PatientsRepository {
	return &PatientsRepository{
		db:     db,
		logger: logger,
	}
}

// GetPatient 根据 patient_id 查询患者姓名和家属 LINE 地址
func (r *PatientsRepository) GetPatient(ctx context.Context, patientID string) (*models.Patient, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT patient_id, name, relative_line_id
		FROM patients
		WHERE patient_id = $1
	`

	var patient models.Patient
	var relativeLineID sql.NullString

	err := r.db.QueryRowContext(ctx, query, patientID).Scan(
		&patient.PatientID,
		&patient.Name,
		&relativeLineID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("patient not found: patient_id=%s", patientID)
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}

	if relativeLineID.Valid {
		patient.RelativeLineID = &relativeLineID.String
	}

	return &patient, nil
}

// GetCaregiver 根据 caregiver_id 查询护理人员姓名
func (r *PatientsRepository) GetCaregiver(ctx context.Context, caregiverID string) (*models.Caregiver, error) {
	if caregiverID == "" {
		return nil, fmt.Errorf("caregiver_id is required")
	}

	query := `
		SELECT caregiver_id, name
		FROM caregivers
		WHERE caregiver_id = $1
	`

	var caregiver models.Caregiver
	err := r.db.QueryRowContext(ctx, query, caregiverID).Scan(
		&caregiver.CaregiverID,
		&caregiver.Name,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("caregiver not found: caregiver_id=%s", caregiverID)
		}
		return nil, fmt.Errorf("failed to get caregiver: %w", err)
	}

	return &caregiver, nil
}
