package config

import (
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	key   string
	apply func(c *Config, v string) error
}

func str(set func(c *Config, v string)) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		set(c, v)
		return nil
	}
}

func boolean(set func(c *Config, v bool)) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		set(c, b)
		return nil
	}
}

func integer(set func(c *Config, v int)) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(c, n)
		return nil
	}
}

func float(set func(c *Config, v float32)) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return err
		}
		set(c, float32(f))
		return nil
	}
}

func duration(set func(c *Config, v Duration)) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		set(c, Duration(d))
		return nil
	}
}

var envBindings = []envBinding{
	{"PV_CAMERA_SOURCE", str(func(c *Config, v string) { c.Camera.Source = v })},
	{"PV_CAMERA_BACKEND", str(func(c *Config, v string) { c.Camera.Backend = v })},
	{"PV_CAMERA_FPS", integer(func(c *Config, v int) { c.Camera.FPS = v })},
	{"PV_CAMERA_BUFFER_SIZE", integer(func(c *Config, v int) { c.Camera.BufferSize = v })},
	{"PV_CAMERA_RECONNECT_INTERVAL", duration(func(c *Config, v Duration) { c.Camera.ReconnectInterval = v })},
	{"PV_MOTION_BACKEND", str(func(c *Config, v string) { c.Motion.Backend = v })},
	{"PV_DETECTION_BACKEND", str(func(c *Config, v string) { c.Detection.Backend = v })},
	{"PV_DETECTION_ENDPOINT", str(func(c *Config, v string) { c.Detection.Endpoint = v })},
	{"PV_DETECTION_HTTP_ENDPOINT", str(func(c *Config, v string) { c.Detection.HTTPEndpoint = v })},
	{"PV_DETECTION_MODEL_PATH", str(func(c *Config, v string) { c.Detection.ModelPath = v })},
	{"PV_DETECTION_ONNX_LIBRARY", str(func(c *Config, v string) { c.Detection.ONNXLibrary = v })},
	{"PV_DETECTION_MODE", str(func(c *Config, v string) { c.Detection.Mode = v })},
	{"PV_DETECTION_CONF_THRESHOLD", float(func(c *Config, v float32) { c.Detection.ConfThreshold = v })},
	{"PV_DETECTION_CLASSES", str(func(c *Config, v string) { c.Detection.Classes = splitList(v) })},
	{"PV_DETECTION_REQUIRE_HEALTHY", boolean(func(c *Config, v bool) { c.Detection.RequireHealthy = v })},
	{"PV_ALERTING_ENABLED", boolean(func(c *Config, v bool) { c.Alerting.Enabled = v })},
	{"PV_ALERTING_IMAGE_DIR", str(func(c *Config, v string) { c.Alerting.ImageDir = v })},
	{"PV_DATABASE_PATH", str(func(c *Config, v string) { c.Database.Path = v })},
	{"PV_STREAM_ENABLED", boolean(func(c *Config, v bool) { c.Stream.Enabled = v })},
	{"PV_STREAM_ADDRESS", str(func(c *Config, v string) { c.Stream.Address = v })},
	{"PV_RECORDING_ENABLED", boolean(func(c *Config, v bool) { c.Recording.Enabled = v })},
	{"PV_RECORDING_PATH", str(func(c *Config, v string) { c.Recording.Path = v })},
	{"PV_AUTH_ENABLED", boolean(func(c *Config, v bool) { c.Auth.Enabled = v })},
	{"PV_AUTH_USERNAME", str(func(c *Config, v string) { c.Auth.Username = v })},
	{"PV_AUTH_PASSWORD", str(func(c *Config, v string) { c.Auth.Password = v })},
	{"JWT_SECRET", str(func(c *Config, v string) { c.Auth.JWTSecret = v })},
	{"TELEGRAM_BOT_TOKEN", str(func(c *Config, v string) {
		c.Alerting.Telegram.BotToken = v
		c.Alerting.Telegram.Enabled = true
	})},
	{"TELEGRAM_CHAT_ID", str(func(c *Config, v string) { c.Alerting.Telegram.ChatID = v })},
}

// ApplyEnv overrides values from the environment. Setting TELEGRAM_BOT_TOKEN
// also enables the bot.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, b := range envBindings {
		v, ok := lookup(b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, b.key, v, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
