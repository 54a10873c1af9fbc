package config

import (
	"fmt"
	"strings"

	"pantheravision/internal/detection"
	"pantheravision/internal/pipeline"
)

var detectionModes = map[string]bool{
	string(pipeline.DetectionModeDisabled):        true,
	string(pipeline.DetectionModeContinuous):      true,
	string(pipeline.DetectionModeMotionTriggered): true,
	string(pipeline.DetectionModeScheduled):       true,
	string(pipeline.DetectionModeHybrid):          true,
}

// Validate reports every problem at once, wrapped in ErrInvalid
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Camera.Source != "", "camera.source is required")
	check(c.Camera.BufferSize > 0, "camera.buffer_size must be positive")
	check(c.Camera.FPS > 0, "camera.fps must be positive")
	check(c.Camera.ReconnectInterval > 0, "camera.reconnect_interval must be positive")
	check(c.Camera.Backend == "ffmpeg" || c.Camera.Backend == "gocv", "camera.backend %q is not ffmpeg or gocv", c.Camera.Backend)

	switch c.Motion.Backend {
	case "framediff", "gocv", "none":
	default:
		problems = append(problems, fmt.Sprintf("motion.backend %q is not framediff, gocv or none", c.Motion.Backend))
	}
	check(c.Motion.MinArea >= 0, "motion.min_area must not be negative")
	check(c.Motion.DiffThreshold >= 0 && c.Motion.DiffThreshold <= 255, "motion.diff_threshold must be within 0..255")

	d := c.Detection
	backends := c.Backends()
	check(len(backends) > 0, "detection.backend is required")
	for _, b := range backends {
		switch b {
		case "grpc":
			check(d.Endpoint != "", "detection.endpoint is required for the grpc backend")
		case "http":
			check(d.Endpoint != "" || d.HTTPEndpoint != "", "detection.endpoint or detection.http_endpoint is required for the http backend")
		case "onnx":
			check(d.ModelPath != "", "detection.model_path is required for the onnx backend")
		default:
			problems = append(problems, fmt.Sprintf("detection.backend %q is not grpc, http or onnx", b))
		}
	}
	check(d.ConfThreshold > 0 && d.ConfThreshold <= 1, "detection.conf_threshold must be within (0, 1]")
	check(d.IoUThreshold >= 0 && d.IoUThreshold <= 1, "detection.iou_threshold must be within [0, 1]")
	for _, name := range d.Classes {
		check(detection.ClassID(name) >= 0, "detection.classes: unknown class %q", name)
	}
	check(detectionModes[d.Mode], "detection.mode %q is not one of disabled, continuous, motion_triggered, scheduled, hybrid", d.Mode)
	check(d.ForcedInterval >= 0, "detection.forced_interval must not be negative")
	check(d.Timeout > 0, "detection.timeout must be positive")

	v := c.Validation
	check(v.MinAspect > 0 && v.MinAspect < v.MaxAspect, "validation.min_aspect must be positive and below max_aspect")
	check(v.MinWidth >= 0 && v.MinHeight >= 0, "validation.min_width and min_height must not be negative")
	check(v.MinMotionOverlap >= 0 && v.MinMotionOverlap <= 1, "validation.min_motion_overlap must be within [0, 1]")

	check(c.Tracking.MaxAge > 0, "tracking.max_age must be positive")
	check(c.Tracking.MinHits >= 1, "tracking.min_hits must be at least 1")
	check(c.Tracking.IoUMatch > 0 && c.Tracking.IoUMatch <= 1, "tracking.iou_match must be within (0, 1]")
	check(c.Tracking.Association == "greedy", "tracking.association %q is not supported (greedy)", c.Tracking.Association)

	check(c.Pipeline.IdleSleep > 0, "pipeline.idle_sleep must be positive")

	a := c.Alerting
	check(a.QueueSize > 0, "alerting.queue_size must be positive")
	check(a.AnonymousCooldown >= 0, "alerting.anonymous_cooldown must not be negative")
	check(a.ImageDir != "", "alerting.image_dir is required")
	if a.Telegram.Enabled {
		check(a.Telegram.BotToken != "", "alerting.telegram.bot_token is required when telegram is enabled")
		check(a.Telegram.ChatID != "", "alerting.telegram.chat_id is required when telegram is enabled")
	}

	check(c.Database.Path != "", "database.path is required")

	if c.Stream.Enabled {
		check(c.Stream.Address != "", "stream.address is required")
		check(c.Stream.FPS > 0, "stream.fps must be positive")
		check(c.Stream.Quality > 0 && c.Stream.Quality <= 100, "stream.quality must be within 1..100")
		check(c.Stream.StaleAfter > 0, "stream.stale_after must be positive")
	}

	if c.Recording.Enabled {
		check(c.Recording.Path != "", "recording.path is required")
		check(c.Recording.FPS > 0, "recording.fps must be positive")
	}

	if c.Auth.Enabled {
		check(c.Auth.Username != "", "auth.username is required")
		check(c.Auth.Password != "", "auth.password is required when auth is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
