package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "carelink", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "carelink-core", cfg.MQTT.ClientID)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, "iot/device/+/event", cfg.CareLink.Topics.Event)
	assert.Equal(t, "iot/device/+/status", cfg.CareLink.Topics.Status)
	assert.Equal(t, 20, cfg.CareLink.BatteryLowThreshold)
	assert.Equal(t, "carelink:transitions:stream", cfg.CareLink.TransitionStream)

	assert.Equal(t, "https://api.line.me/v2/bot/message/push", cfg.Line.Endpoint)
	assert.Equal(t, "", cfg.Line.AccessToken)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_PORT", "15432")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("MQTT_BROKER", "tcp://test-broker:1883")
	os.Setenv("BATTERY_LOW_THRESHOLD", "15")
	os.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "test-token")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证环境变量覆盖
	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 15432, cfg.Database.Port)
	assert.Equal(t, "test-db", cfg.Database.Database)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "tcp://test-broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, 15, cfg.CareLink.BatteryLowThreshold)
	assert.Equal(t, "test-token", cfg.Line.AccessToken)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 清理环境变量
	os.Clearenv()
}

func TestGetEnvInt_InvalidValue(t *testing.T) {
	os.Setenv("TEST_INT_KEY", "not-a-number")
	value := getEnvInt("TEST_INT_KEY", 42)
	assert.Equal(t, 42, value)
	os.Unsetenv("TEST_INT_KEY")
}

func TestGetDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "db-host",
		Port:     5432,
		User:     "user",
		Password: "pass",
		Database: "carelink",
		SSLMode:  "disable",
	}
	assert.Equal(t, "host=db-host port=5432 user=user password=pass dbname=carelink sslmode=disable", cfg.GetDSN())
}
