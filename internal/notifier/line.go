package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"carelink-core/internal/config"
	"carelink-core/internal/engine"
	"carelink-core/internal/repository"
)

// LineMessage LINE 推送消息体
type LineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// LinePushRequest LINE Messaging API push 请求
type LinePushRequest struct {
	To       string        `json:"to"`
	Messages []LineMessage `json:"messages"`
}

// LinePushResponse LINE Messaging API 错误响应
type LinePushResponse struct {
	Message string `json:"message"`
}

// LineNotifier 通过 LINE Messaging API 向家属推送照护通知。
// 推送是尽力而为：任何失败只记日志，绝不影响已提交的状态变更。
type LineNotifier struct {
	httpClient *resty.Client
	patients   *repository.PatientsRepository
	logger     *zap.Logger
}

// NewLineNotifier 创建 LINE 通知器
func NewLineNotifier(cfg *config.LineConfig, patients *repository.PatientsRepository, logger *zap.Logger) *LineNotifier {
	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.AccessToken)

	if cfg.AccessToken == "" {
		logger.Warn("LINE access token is not set, notifications will be skipped")
	}

	return &LineNotifier{
		httpClient: client,
		patients:   patients,
		logger:     logger,
	}
}

// Notify 异步发送一条通知，立即返回
func (n *LineNotifier) Notify(notification engine.Notification) {
	go n.send(notification)
}

func (n *LineNotifier) send(notification engine.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if notification.PatientID == nil {
		n.logger.Warn("device has no patient bound, skipping notification",
			zap.String("device_id", notification.DeviceID),
			zap.String("template", notification.TemplateKey),
		)
		return
	}

	patient, err := n.patients.GetPatient(ctx, *notification.PatientID)
	if err != nil {
		n.logger.Error("failed to load patient for notification",
			zap.Error(err),
			zap.String("patient_id", *notification.PatientID),
		)
		return
	}

	if patient.RelativeLineID == nil || *patient.RelativeLineID == "" {
		n.logger.Warn("no relative LINE ID found, skipping notification",
			zap.String("patient_id", patient.PatientID),
			zap.String("template", notification.TemplateKey),
		)
		return
	}

	text, err := renderMessage(notification, patient.Name)
	if err != nil {
		n.logger.Error("failed to render notification message",
			zap.Error(err),
			zap.String("template", notification.TemplateKey),
		)
		return
	}

	request := LinePushRequest{
		To:       *patient.RelativeLineID,
		Messages: []LineMessage{{Type: "text", Text: text}},
	}

	var errResp LinePushResponse
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetError(&errResp).
		Post("")

	if err != nil {
		n.logger.Error("failed to send LINE notification",
			zap.Error(err),
			zap.String("event_id", notification.EventID),
		)
		return
	}

	if resp.IsError() {
		n.logger.Error("LINE API returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("message", errResp.Message),
			zap.String("event_id", notification.EventID),
		)
		return
	}

	n.logger.Info("LINE notification sent",
		zap.String("event_id", notification.EventID),
		zap.String("template", notification.TemplateKey),
	)
}

// renderMessage 按模板生成泰文推送文案（家属端界面语言为泰文）
func renderMessage(notification engine.Notification, patientName string) (string, error) {
	if patientName == "" {
		patientName = "ไม่ระบุชื่อ"
	}
	now := time.Now().Format("15:04")

	switch notification.TemplateKey {
	case engine.TemplateSOSRaised:
		return fmt.Sprintf("🚨 เหตุฉุกเฉิน (SOS)\nผู้ป่วย: %s\nเวลา: %s\n\nเจ้าหน้าที่ได้รับแจ้งแล้ว กำลังตรวจสอบ", patientName, now), nil
	case engine.TemplateSOSConfirmed:
		note := ""
		if notification.Note != nil {
			note = *notification.Note
		}
		return fmt.Sprintf("✅ ยืนยันเหตุฉุกเฉินจริง (SOS)\nผู้ป่วย: %s\nเจ้าหน้าที่: %s\nเวลา: %s\n\nสถานะ: เหตุฉุกเฉินจริง ดำเนินการแล้ว", patientName, note, now), nil
	case engine.TemplateSOSDowngraded:
		return fmt.Sprintf("⚠️ ประเมินแล้วไม่รุนแรง\nผู้ป่วย: %s\nเปลี่ยนเป็น: คำขอช่วยเหลือปกติ\nเวลา: %s\n\nเจ้าหน้าที่กำลังเดินทางไปหาผู้ป่วยครับ", patientName, now), nil
	case engine.TemplateCareCompleted:
		return fmt.Sprintf("✅ แจ้งเตือน: เจ้าหน้าที่ทำการดูแลเสร็จสิ้นแล้ว\nผู้ป่วย: %s\nสถานะ: ปลอดภัย (อุปกรณ์พร้อมใช้งาน)", patientName), nil
	default:
		return "", fmt.Errorf("unknown notification template: %s", notification.TemplateKey)
	}
}
