package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envOf(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0", cfg.Camera.Source)
	assert.Equal(t, 128, cfg.Camera.BufferSize)
	assert.Equal(t, 2*time.Second, cfg.Tracking.MaxAge.D())
	assert.Equal(t, 3, cfg.Tracking.MinHits)
	assert.Equal(t, "hybrid", cfg.Detection.Mode)
	assert.Equal(t, []int{15}, cfg.ClassIDs())
	assert.Equal(t, "Leopard", cfg.Label("cat"))
	assert.Equal(t, "Dog", cfg.Label("dog"))
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg := Default()
	err := cfg.Parse([]byte(`
camera:
  source: rtsp://cam.local/stream
  reconnect_interval: 10
detection:
  backend: grpc, onnx
  model_path: models/yolo11n.onnx
  classes: [cat, dog]
  timeout: 1500ms
tracking:
  max_age: 2.5
`))
	require.NoError(t, err)

	assert.Equal(t, "rtsp://cam.local/stream", cfg.Camera.Source)
	assert.Equal(t, 10*time.Second, cfg.Camera.ReconnectInterval.D())
	assert.Equal(t, 128, cfg.Camera.BufferSize, "untouched keys keep defaults")
	assert.Equal(t, []string{"grpc", "onnx"}, cfg.Backends())
	assert.Equal(t, []int{15, 16}, cfg.ClassIDs())
	assert.Equal(t, 1500*time.Millisecond, cfg.Detection.Timeout.D())
	assert.Equal(t, 2500*time.Millisecond, cfg.Tracking.MaxAge.D())
	require.NoError(t, cfg.Validate())
}

func TestParseRejectsBadDuration(t *testing.T) {
	cfg := Default()
	err := cfg.Parse([]byte("tracking:\n  max_age: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30", 30 * time.Second},
		{"0.2", 200 * time.Millisecond},
		{"1m30s", 90 * time.Second},
		{"200ms", 200 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseDuration("later")
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envOf(map[string]string{
		"PV_CAMERA_SOURCE":            "video.mp4",
		"PV_DETECTION_BACKEND":        "http",
		"PV_DETECTION_HTTP_ENDPOINT":  "http://yolo:8081",
		"PV_DETECTION_CONF_THRESHOLD": "0.65",
		"PV_DETECTION_CLASSES":        "cat, dog ,",
		"PV_RECORDING_ENABLED":        "true",
		"TELEGRAM_BOT_TOKEN":          "123:abc",
		"TELEGRAM_CHAT_ID":            "42",
		"JWT_SECRET":                  "s3cret",
		"PV_AUTH_USERNAME":            "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "video.mp4", cfg.Camera.Source)
	assert.Equal(t, "http", cfg.Detection.Backend)
	assert.Equal(t, "http://yolo:8081", cfg.Detection.HTTPEndpoint)
	assert.InDelta(t, 0.65, cfg.Detection.ConfThreshold, 1e-6)
	assert.Equal(t, []string{"cat", "dog"}, cfg.Detection.Classes)
	assert.True(t, cfg.Recording.Enabled)
	assert.True(t, cfg.Alerting.Telegram.Enabled)
	assert.Equal(t, "123:abc", cfg.Alerting.Telegram.BotToken)
	assert.Equal(t, "42", cfg.Alerting.Telegram.ChatID)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "admin", cfg.Auth.Username, "empty values are ignored")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvDuration(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(envOf(map[string]string{"PV_CAMERA_RECONNECT_INTERVAL": "2s"})))
	assert.Equal(t, 2*time.Second, cfg.Camera.ReconnectInterval.D())
}

func TestApplyEnvRejectsBadValue(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envOf(map[string]string{"PV_CAMERA_FPS": "fast"}))
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "PV_CAMERA_FPS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"empty source", func(c *Config) { c.Camera.Source = "" }, "camera.source is required"},
		{"zero buffer", func(c *Config) { c.Camera.BufferSize = 0 }, "camera.buffer_size"},
		{"confidence above one", func(c *Config) { c.Detection.ConfThreshold = 1.5 }, "detection.conf_threshold"},
		{"unknown backend", func(c *Config) { c.Detection.Backend = "tflite" }, `detection.backend "tflite"`},
		{"onnx without model", func(c *Config) { c.Detection.Backend = "onnx" }, "detection.model_path"},
		{"unknown mode", func(c *Config) { c.Detection.Mode = "sometimes" }, `detection.mode "sometimes"`},
		{"unknown class", func(c *Config) { c.Detection.Classes = []string{"leopard"} }, `unknown class "leopard"`},
		{"inverted aspect", func(c *Config) { c.Validation.MinAspect = 5 }, "validation.min_aspect"},
		{"zero hits", func(c *Config) { c.Tracking.MinHits = 0 }, "tracking.min_hits"},
		{"hungarian", func(c *Config) { c.Tracking.Association = "hungarian" }, "tracking.association"},
		{"zero queue", func(c *Config) { c.Alerting.QueueSize = 0 }, "alerting.queue_size"},
		{"telegram without chat", func(c *Config) {
			c.Alerting.Telegram.Enabled = true
			c.Alerting.Telegram.BotToken = "t"
		}, "alerting.telegram.chat_id"},
		{"stream quality", func(c *Config) { c.Stream.Quality = 0 }, "stream.quality"},
		{"recording fps", func(c *Config) {
			c.Recording.Enabled = true
			c.Recording.FPS = 0
		}, "recording.fps"},
		{"auth without password", func(c *Config) { c.Auth.Enabled = true }, "auth.password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Camera.Source = ""
	cfg.Tracking.MinHits = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera.source")
	assert.Contains(t, err.Error(), "tracking.min_hits")
}

func TestLoadFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "pv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera:\n  source: clip.mp4\nstream:\n  address: \":8080\"\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Camera.Source = "clip.mp4"
	want.Stream.Address = ":8080"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	cfg, err := Load(DefaultPath)
	require.NoError(t, err, "the default path may be absent")
	assert.Equal(t, "0", cfg.Camera.Source)
}

func TestConfigNoEnvKeepsDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(noEnv))
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("ApplyEnv() changed defaults (-want +got):\n%s", diff)
	}
}
