package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carelink-core/internal/config"
	"carelink-core/internal/engine"
	"carelink-core/internal/repository"
)

func setupNotifier(t *testing.T, endpoint, token string) (*LineNotifier, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	patients := repository.NewPatientsRepository(db, zap.NewNop())
	n := NewLineNotifier(&config.LineConfig{
		Endpoint:    endpoint,
		AccessToken: token,
	}, patients, zap.NewNop())

	return n, mock, func() { db.Close() }
}

func patientRows(name string, lineID interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"patient_id", "name", "relative_line_id"}).
		AddRow("patient-1", name, lineID)
}

func TestLineNotifier_SendsPush(t *testing.T) {
	var got LinePushRequest
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	n, mock, closeFn := setupNotifier(t, server.URL, "test-token")
	defer closeFn()

	mock.ExpectQuery(`SELECT patient_id, name, relative_line_id`).
		WithArgs("patient-1").
		WillReturnRows(patientRows("สมชาย", "U1234567890"))

	patientID := "patient-1"
	n.send(engine.Notification{
		TemplateKey: engine.TemplateCareCompleted,
		DeviceID:    "AA:BB:CC:DD:EE:FF",
		PatientID:   &patientID,
		EventID:     "event-1",
	})

	assert.Equal(t, "Bearer test-token", authorization)
	assert.Equal(t, "U1234567890", got.To)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "text", got.Messages[0].Type)
	assert.Contains(t, got.Messages[0].Text, "สมชาย")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLineNotifier_SkipsWithoutRelativeLineID(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	n, mock, closeFn := setupNotifier(t, server.URL, "test-token")
	defer closeFn()

	mock.ExpectQuery(`SELECT patient_id, name, relative_line_id`).
		WithArgs("patient-1").
		WillReturnRows(patientRows("สมชาย", nil))

	patientID := "patient-1"
	n.send(engine.Notification{
		TemplateKey: engine.TemplateSOSRaised,
		DeviceID:    "AA:BB:CC:DD:EE:FF",
		PatientID:   &patientID,
		EventID:     "event-1",
	})

	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLineNotifier_SkipsWithoutPatient(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	n, mock, closeFn := setupNotifier(t, server.URL, "test-token")
	defer closeFn()

	// 设备未绑定患者：不查库也不推送
	n.send(engine.Notification{
		TemplateKey: engine.TemplateSOSRaised,
		DeviceID:    "AA:BB:CC:DD:EE:FF",
		EventID:     "event-1",
	})

	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLineNotifier_APIErrorIsSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid channel access token"}`))
	}))
	defer server.Close()

	n, mock, closeFn := setupNotifier(t, server.URL, "bad-token")
	defer closeFn()

	mock.ExpectQuery(`SELECT patient_id, name, relative_line_id`).
		WithArgs("patient-1").
		WillReturnRows(patientRows("สมชาย", "U1234567890"))

	patientID := "patient-1"
	// 推送失败不得 panic，也不得向上抛错
	n.send(engine.Notification{
		TemplateKey: engine.TemplateCareCompleted,
		DeviceID:    "AA:BB:CC:DD:EE:FF",
		PatientID:   &patientID,
		EventID:     "event-1",
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenderMessage(t *testing.T) {
	note := "fall confirmed, ambulance called"
	patientID := "patient-1"

	tests := []struct {
		name     string
		template string
		contains string
	}{
		{"sos raised", engine.TemplateSOSRaised, "เหตุฉุกเฉิน"},
		{"sos confirmed", engine.TemplateSOSConfirmed, note},
		{"sos downgraded", engine.TemplateSOSDowngraded, "ไม่รุนแรง"},
		{"care completed", engine.TemplateCareCompleted, "เสร็จสิ้น"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := renderMessage(engine.Notification{
				TemplateKey: tt.template,
				PatientID:   &patientID,
				EventID:     "event-1",
				Note:        &note,
			}, "สมศรี")
			require.NoError(t, err)
			assert.Contains(t, text, tt.contains)
			assert.Contains(t, text, "สมศรี")
		})
	}

	_, err := renderMessage(engine.Notification{TemplateKey: "bogus"}, "x")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown notification template"))
}
