package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 8081, cfg.InternalPort)
	assert.Equal(t, DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, domain.HistoryModeFull, cfg.HistoryMode)
	assert.Equal(t, 30*24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
	assert.True(t, cfg.MockLLM())
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatrelay.yaml")
	content := []byte("jwt_secret: from-file\nhttp_port: 9000\nhistory_mode: latest\nroom_fanout: true\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("HTTP_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 9100, cfg.HTTPPort, "env should win over file")
	assert.Equal(t, domain.HistoryModeLatest, cfg.HistoryMode)
	assert.True(t, cfg.RoomFanout)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWTSecret:      "x",
			DatabaseDriver: DriverSQLite,
			HistoryMode:    domain.HistoryModeFull,
			QueueSize:      1,
			PingInterval:   time.Second,
			ReadTimeout:    2 * time.Second,
		}
	}
	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.DatabaseDriver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.HistoryMode = "some"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.QueueSize = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.PingInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.PingInterval = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.PingInterval = cfg.ReadTimeout
	assert.Error(t, cfg.Validate())
}

func TestLoadRejectsZeroPingInterval(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("WS_PING_INTERVAL_MS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestMockLLM(t *testing.T) {
	cfg := &Config{LLMBaseURL: "http://llm", LLMMode: ""}
	assert.False(t, cfg.MockLLM())
	cfg.LLMMode = "mock"
	assert.True(t, cfg.MockLLM())
}
