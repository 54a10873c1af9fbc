// Package config loads the YAML configuration, the optional .env file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pantheravision/internal/detection"
	"pantheravision/internal/pipeline"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// DefaultPath is used when no -config flag is given
const DefaultPath = "configs/pantheravision.yaml"

// Config is the complete application configuration
type Config struct {
	Camera     CameraConfig     `yaml:"camera"`
	Motion     MotionConfig     `yaml:"motion"`
	Detection  DetectionConfig  `yaml:"detection"`
	Validation ValidationConfig `yaml:"validation"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Database   DatabaseConfig   `yaml:"database"`
	Stream     StreamConfig     `yaml:"stream"`
	Recording  RecordingConfig  `yaml:"recording"`
	Auth       AuthConfig       `yaml:"auth"`
}

// CameraConfig selects and paces the video source
type CameraConfig struct {
	Source            string   `yaml:"source"` // rtsp://, http(s)://, /dev/videoN, device index or file path
	ReconnectInterval Duration `yaml:"reconnect_interval"`
	BufferSize        int      `yaml:"buffer_size"`
	FPS               int      `yaml:"fps"`
	Width             int      `yaml:"width"`
	Height            int      `yaml:"height"`
	Backend           string   `yaml:"backend"`  // ffmpeg, gocv
	Realtime          bool     `yaml:"realtime"` // Pace file sources at their native rate
}

// MotionConfig tunes the motion gate
type MotionConfig struct {
	Backend       string  `yaml:"backend"` // framediff, gocv, none
	VarThreshold  float64 `yaml:"var_threshold"`
	DiffThreshold int     `yaml:"diff_threshold"`
	MinArea       int     `yaml:"min_area"`
	BlurSize      int     `yaml:"blur_size"`
	ProcessWidth  int     `yaml:"process_width"`
	ProcessHeight int     `yaml:"process_height"`
}

// DetectionConfig selects the detector and the inference schedule
type DetectionConfig struct {
	Backend        string            `yaml:"backend"` // grpc, http, onnx or a failover list "grpc,http"
	Endpoint       string            `yaml:"endpoint"`
	HTTPEndpoint   string            `yaml:"http_endpoint"`
	ModelPath      string            `yaml:"model_path"`
	ONNXLibrary    string            `yaml:"onnx_library"`
	ConfThreshold  float32           `yaml:"conf_threshold"`
	IoUThreshold   float32           `yaml:"iou_threshold"`
	Classes        []string          `yaml:"classes"`
	LabelMap       map[string]string `yaml:"label_map"`
	Device         string            `yaml:"device"`
	Mode           string            `yaml:"mode"`
	ForcedInterval int               `yaml:"forced_interval"`
	Timeout        Duration          `yaml:"timeout"`
	RequireHealthy bool              `yaml:"require_healthy"`
}

// ValidationConfig holds the geometric thresholds
type ValidationConfig struct {
	MinAspect        float32 `yaml:"min_aspect"`
	MaxAspect        float32 `yaml:"max_aspect"`
	MinWidth         float32 `yaml:"min_width"`
	MinHeight        float32 `yaml:"min_height"`
	MinMotionOverlap float32 `yaml:"min_motion_overlap"`
}

// TrackingConfig holds the track lifecycle settings
type TrackingConfig struct {
	MaxAge      Duration `yaml:"max_age"`
	MinHits     int      `yaml:"min_hits"`
	IoUMatch    float32  `yaml:"iou_match"`
	Association string   `yaml:"association"` // greedy
}

// PipelineConfig tunes the orchestration loop
type PipelineConfig struct {
	IdleSleep     Duration `yaml:"idle_sleep"`
	LatencyWindow int      `yaml:"latency_window"`
}

// AlertingConfig controls the alert dispatcher
type AlertingConfig struct {
	Enabled           bool           `yaml:"enabled"`
	QueueSize         int            `yaml:"queue_size"`
	DrainOnStop       bool           `yaml:"drain_on_stop"`
	AnonymousCooldown Duration       `yaml:"anonymous_cooldown"`
	ImageDir          string         `yaml:"image_dir"`
	Telegram          TelegramConfig `yaml:"telegram"`
}

// TelegramConfig holds the bot settings
type TelegramConfig struct {
	Enabled    bool     `yaml:"enabled"`
	BotToken   string   `yaml:"bot_token"`
	ChatID     string   `yaml:"chat_id"`
	Cooldown   Duration `yaml:"cooldown"`
	APIBaseURL string   `yaml:"api_base_url"`
	Commands   bool     `yaml:"commands"`
}

// DatabaseConfig locates the detection log
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StreamConfig controls the live view server
type StreamConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Address     string   `yaml:"address"`
	FPS         int      `yaml:"fps"`
	Quality     int      `yaml:"quality"`
	StaleAfter  Duration `yaml:"stale_after"`
	WarningText string   `yaml:"warning_text"`
	FlashPeriod Duration `yaml:"flash_period"`
	ShowMotion  bool     `yaml:"show_motion"`
}

// RecordingConfig controls the annotated video file
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	FPS     int    `yaml:"fps"`
}

// AuthConfig guards /api and /ws routes
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	JWTSecret string   `yaml:"jwt_secret"`
	TokenTTL  Duration `yaml:"token_ttl"`
}

// Default returns the configuration used for keys the file leaves out
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Source:            "0",
			ReconnectInterval: Duration(5 * time.Second),
			BufferSize:        128,
			FPS:               15,
			Width:             1280,
			Height:            720,
			Backend:           "ffmpeg",
		},
		Motion: MotionConfig{
			Backend:       "framediff",
			VarThreshold:  16,
			DiffThreshold: 25,
			MinArea:       500,
			BlurSize:      21,
			ProcessWidth:  640,
			ProcessHeight: 480,
		},
		Detection: DetectionConfig{
			Backend:        "grpc",
			Endpoint:       "localhost:50051",
			ConfThreshold:  0.5,
			IoUThreshold:   0.45,
			Classes:        []string{"cat"},
			LabelMap:       map[string]string{"cat": "Leopard"},
			Device:         "cpu",
			Mode:           string(pipeline.DetectionModeHybrid),
			ForcedInterval: 30,
			Timeout:        Duration(2 * time.Second),
		},
		Validation: ValidationConfig{
			MinAspect:        0.5,
			MaxAspect:        4.0,
			MinWidth:         50,
			MinHeight:        50,
			MinMotionOverlap: 0.3,
		},
		Tracking: TrackingConfig{
			MaxAge:      Duration(2 * time.Second),
			MinHits:     3,
			IoUMatch:    0.3,
			Association: "greedy",
		},
		Pipeline: PipelineConfig{
			IdleSleep:     Duration(10 * time.Millisecond),
			LatencyWindow: 100,
		},
		Alerting: AlertingConfig{
			Enabled:           true,
			QueueSize:         64,
			DrainOnStop:       true,
			AnonymousCooldown: Duration(30 * time.Second),
			ImageDir:          filepath.Join("output", "images"),
			Telegram: TelegramConfig{
				Cooldown: Duration(30 * time.Second),
				Commands: true,
			},
		},
		Database: DatabaseConfig{
			Path: filepath.Join("output", "detections.db"),
		},
		Stream: StreamConfig{
			Enabled:     true,
			Address:     ":5000",
			FPS:         15,
			Quality:     80,
			StaleAfter:  Duration(5 * time.Second),
			WarningText: "WARNING: LEOPARD DETECTED!",
			FlashPeriod: Duration(200 * time.Millisecond),
			ShowMotion:  true,
		},
		Recording: RecordingConfig{
			Path: filepath.Join("output", "leopard_detection_output.mp4"),
			FPS:  30,
		},
		Auth: AuthConfig{
			Username: "admin",
			TokenTTL: Duration(24 * time.Hour),
		},
	}
}

// Load reads .env, the YAML file at path (if any) and environment
// overrides, then validates the result. A missing file at DefaultPath is
// not an error; any other missing file is.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			if !(errors.Is(err, os.ErrNotExist) && path == DefaultPath) {
				return nil, err
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.Parse(data)
}

// Parse overlays YAML onto the current values
func (c *Config) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// ClassIDs resolves the configured class names
func (c *Config) ClassIDs() []int {
	ids := make([]int, 0, len(c.Detection.Classes))
	for _, name := range c.Detection.Classes {
		if id := detection.ClassID(name); id >= 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Label maps a detector class to its display label
func (c *Config) Label(class string) string {
	return detection.DisplayLabel(c.Detection.LabelMap, class)
}

// Backends splits the detection backend failover list
func (c *Config) Backends() []string {
	var out []string
	for _, b := range strings.Split(c.Detection.Backend, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
