package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"pantheravision/internal/database"
	"pantheravision/internal/pipeline"
)

// StatusSource exposes the running pipeline's counters
type StatusSource interface {
	Stats() pipeline.PipelineStats
}

// SnapshotSource exposes the latest published live-view frame
type SnapshotSource interface {
	LatestJPEG() ([]byte, time.Time, bool)
}

// AlertLog lists persisted detections
type AlertLog interface {
	ListDetections(ctx context.Context, since *time.Time, limit int) ([]*database.DetectionRecord, error)
}

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage is the subset of a Bot API message used for commands
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	Chat      *TelegramChat `json:"chat,omitempty"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// CommandHandler polls getUpdates and answers commands from the authorized chat
type CommandHandler struct {
	bot       *Bot
	status    StatusSource
	snapshots SnapshotSource
	alerts    AlertLog
	startTime time.Time

	mu           sync.Mutex
	lastUpdateID int64
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(bot *Bot, status StatusSource, snapshots SnapshotSource, alerts AlertLog) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		status:    status,
		snapshots: snapshots,
		alerts:    alerts,
		startTime: time.Now(),
	}
}

// StartPolling runs the update loop until ctx is cancelled
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	if err := ch.bot.ready(); err != nil {
		return err
	}

	log.Printf("[Telegram] Command polling started for chat %s", ch.bot.chatID)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Telegram] Command polling stopped")
			return nil
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[Telegram] Failed to poll updates: %v", err)
			}
		}
	}
}

// pollUpdates fetches and processes pending updates
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	url := fmt.Sprintf("%s?offset=%d&timeout=1", ch.bot.methodURL("getUpdates"), offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ch.bot.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch updates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram API error %d: %s", apiResp.ErrorCode, apiResp.Description)
	}

	var updates []Update
	if len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, &updates); err != nil {
			return fmt.Errorf("failed to parse updates: %w", err)
		}
	}

	for _, update := range updates {
		ch.mu.Lock()
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		ch.mu.Unlock()

		if update.Message != nil {
			ch.handleMessage(ctx, update.Message)
		}
	}
	return nil
}

// handleMessage dispatches one command from the authorized chat
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *TelegramMessage) {
	if msg == nil || msg.Chat == nil {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if chatID != ch.bot.chatID {
		log.Printf("[Telegram] Ignoring message from unauthorized chat %s", chatID)
		return
	}

	if !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	// Strip the bot username suffix (/status@mybot)
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	var response string
	switch command {
	case "/start":
		response = ch.handleStart()
	case "/help":
		response = ch.handleHelp()
	case "/status":
		response = ch.handleStatus()
	case "/snapshot":
		ch.handleSnapshot(ctx)
		return
	case "/alerts":
		response = ch.handleAlerts(ctx, args)
	default:
		response = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}

	if err := ch.bot.SendMessage(ctx, response); err != nil {
		log.Printf("[Telegram] Failed to send reply to %s: %v", command, err)
	}
}

func (ch *CommandHandler) handleStart() string {
	return "🐆 <b>Welcome to PantheraVision!</b>\n\n" +
		"I watch the camera trap and send a photo when a leopard is confirmed.\n\n" +
		"Use /help to see available commands."
}

func (ch *CommandHandler) handleHelp() string {
	return "📋 <b>Available Commands</b>\n\n" +
		"/status - Pipeline status\n" +
		"/snapshot - Latest live frame\n" +
		"/alerts [limit] - Recent detections\n" +
		"/help - Show this help"
}

func (ch *CommandHandler) handleStatus() string {
	stats := ch.status.Stats()

	source := "unknown"
	captured := uint64(0)
	dropped := uint64(0)
	if stats.Capture != nil {
		source = stats.Capture.Source
		captured = stats.Capture.FramesCaptured
		dropped = stats.Capture.FramesDropped
	}

	last := "never"
	if !stats.LastDetection.IsZero() {
		last = stats.LastDetection.Format("2 Jan 2006, 15:04:05")
	}

	return fmt.Sprintf(
		"📊 <b>Pipeline Status</b>\n\n"+
			"📹 Source: %s\n"+
			"🎞️ Frames: %d captured, %d processed, %d dropped\n"+
			"🔍 Detector: %s (%s), %d inferences, %.1f ms avg\n"+
			"🐾 Live tracks: %d\n"+
			"🚨 Alerts: %d\n"+
			"🕐 Last detection: %s\n"+
			"⏱️ Uptime: %s",
		source,
		captured, stats.FramesProcessed, dropped,
		stats.Detector, stats.Mode, stats.Inferences, stats.AvgInferenceMs,
		stats.LiveTracks,
		stats.AlertsSubmitted,
		last,
		formatDuration(time.Since(ch.startTime)),
	)
}

func (ch *CommandHandler) handleSnapshot(ctx context.Context) {
	data, ts, ok := ch.snapshots.LatestJPEG()
	if !ok {
		if err := ch.bot.SendMessage(ctx, "⚠️ No frame available yet."); err != nil {
			log.Printf("[Telegram] Failed to send reply: %v", err)
		}
		return
	}

	caption := fmt.Sprintf("📸 <b>Snapshot</b>\n🕐 %s", ts.Format("2 Jan 2006, 15:04:05"))
	if err := ch.bot.SendPhoto(ctx, data, caption); err != nil {
		log.Printf("[Telegram] Failed to send snapshot: %v", err)
	}
}

func (ch *CommandHandler) handleAlerts(ctx context.Context, args []string) string {
	limit := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}

	records, err := ch.alerts.ListDetections(ctx, nil, limit)
	if err != nil {
		return fmt.Sprintf("❌ Failed to load alerts: %v", err)
	}
	if len(records) == 0 {
		return "📋 <b>Recent Alerts</b>\n\nNo detections recorded."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 <b>Recent Alerts</b> (last %d)\n\n", len(records)))
	for i, rec := range records {
		label := rec.Label
		if label == "" {
			label = "detection"
		}
		track := ""
		if rec.TrackID != nil {
			track = fmt.Sprintf(" track #%d", *rec.TrackID)
		}
		sb.WriteString(fmt.Sprintf("%d. %s %s%s (%.2f)\n",
			i+1, rec.Timestamp.Local().Format("Jan 2, 15:04:05"), label, track, rec.Confidence))
	}
	return sb.String()
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
