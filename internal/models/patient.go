package models

// Patient 患者参照数据（档案 CRUD 属于外部系统，这里只读）
type Patient struct {
	PatientID      string  `json:"patient_id" db:"patient_id"`       // UUID, PRIMARY KEY
	Name           string  `json:"name" db:"name"`             // VARCHAR(100), NOT NULL
	RelativeLineID *string `json:"relative_line_id,omitempty" db:"relative_line_id"` // VARCHAR(64), nullable，家属 LINE 推送地址
}

// Caregiver 护理人员参照数据（只读）
type Caregiver struct {
	CaregiverID string `json:"caregiver_id" db:"caregiver_id"` // UUID, PRIMARY KEY
	Name        string `json:"name" db:"name"`         // VARCHAR(100), NOT NULL
}
