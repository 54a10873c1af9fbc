package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantheravision/internal/database"
	"pantheravision/internal/pipeline"
)

type apiCall struct {
	Method  string
	ChatID  string
	Caption string
	Text    string
	Photo   []byte
}

type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	fail    bool
	updates string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		call := apiCall{Method: method}

		switch method {
		case "sendPhoto":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			call.ChatID = r.FormValue("chat_id")
			call.Caption = r.FormValue("caption")
			file, _, err := r.FormFile("photo")
			require.NoError(t, err)
			call.Photo, _ = io.ReadAll(file)
		case "sendMessage":
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			call.ChatID, _ = payload["chat_id"].(string)
			call.Text, _ = payload["text"].(string)
		}

		f.mu.Lock()
		f.calls = append(f.calls, call)
		fail := f.fail
		f.mu.Unlock()

		switch {
		case fail:
			io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
		case method == "getMe":
			io.WriteString(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Panthera","username":"panthera_bot"}}`)
		case method == "getUpdates":
			io.WriteString(w, f.updates)
		default:
			io.WriteString(w, `{"ok":true,"result":{}}`)
		}
	})
}

func (f *fakeAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func newTestBot(t *testing.T, api *fakeAPI) *Bot {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return NewBot(Config{
		BotToken:   "123:abc",
		ChatID:     "1001",
		Enabled:    true,
		Cooldown:   30 * time.Second,
		APIBaseURL: srv.URL,
	})
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leopard_1.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o644))
	return path
}

func TestNotify_SendsPhotoWithCaption(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api)

	err := bot.Notify(context.Background(), writeImage(t), "🐆 Leopard Detected! Conf: 0.87")
	require.NoError(t, err)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendPhoto", calls[0].Method)
	assert.Equal(t, "1001", calls[0].ChatID)
	assert.Equal(t, "🐆 Leopard Detected! Conf: 0.87", calls[0].Caption)
	assert.Equal(t, []byte("jpeg-bytes"), calls[0].Photo)
}

func TestNotify_CooldownPerChat(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api)
	now := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
	bot.now = func() time.Time { return now }
	img := writeImage(t)

	require.NoError(t, bot.Notify(context.Background(), img, "first"))

	now = now.Add(10 * time.Second)
	assert.ErrorIs(t, bot.Notify(context.Background(), img, "second"), ErrCooldown)

	now = now.Add(25 * time.Second)
	assert.NoError(t, bot.Notify(context.Background(), img, "third"))

	assert.Len(t, api.Calls(), 2)
}

func TestNotify_FailureReleasesCooldown(t *testing.T) {
	api := &fakeAPI{fail: true}
	bot := newTestBot(t, api)
	img := writeImage(t)

	err := bot.Notify(context.Background(), img, "caption")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")

	api.mu.Lock()
	api.fail = false
	api.mu.Unlock()

	assert.NoError(t, bot.Notify(context.Background(), img, "caption"))
}

func TestNotify_MissingImageFallsBackToText(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api)

	require.NoError(t, bot.Notify(context.Background(), "/nonexistent/leopard.jpg", "caption"))

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendMessage", calls[0].Method)
	assert.Equal(t, "caption", calls[0].Text)
}

func TestNotify_Disabled(t *testing.T) {
	bot := NewBot(Config{BotToken: "t", ChatID: "1"})
	assert.ErrorIs(t, bot.Notify(context.Background(), "", "x"), ErrDisabled)

	bot = NewBot(Config{Enabled: true})
	assert.ErrorIs(t, bot.Notify(context.Background(), "", "x"), ErrNotConfigured)
}

func TestGetMe(t *testing.T) {
	bot := newTestBot(t, &fakeAPI{})

	user, err := bot.GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "panthera_bot", user.Username)
	assert.True(t, user.IsBot)
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(Config{}))
	assert.Error(t, ValidateConfig(Config{Enabled: true, ChatID: "1"}))
	assert.Error(t, ValidateConfig(Config{Enabled: true, BotToken: "t"}))
	assert.Error(t, ValidateConfig(Config{Cooldown: -time.Second}))
}

type stubStatus struct{ stats pipeline.PipelineStats }

func (s stubStatus) Stats() pipeline.PipelineStats { return s.stats }

type stubSnapshots struct {
	data []byte
	ok   bool
}

func (s stubSnapshots) LatestJPEG() ([]byte, time.Time, bool) {
	return s.data, time.Now(), s.ok
}

type stubAlerts struct{ records []*database.DetectionRecord }

func (s stubAlerts) ListDetections(ctx context.Context, since *time.Time, limit int) ([]*database.DetectionRecord, error) {
	if limit > 0 && limit < len(s.records) {
		return s.records[:limit], nil
	}
	return s.records, nil
}

func newTestHandler(t *testing.T, api *fakeAPI) *CommandHandler {
	track := 3
	return NewCommandHandler(
		newTestBot(t, api),
		stubStatus{pipeline.PipelineStats{
			FramesProcessed: 120,
			LiveTracks:      1,
			Detector:        "grpc",
			Mode:            pipeline.DetectionModeHybrid,
			Capture:         &pipeline.CaptureStats{Source: "rtsp://trap", FramesCaptured: 130},
		}},
		stubSnapshots{data: []byte("live"), ok: true},
		stubAlerts{records: []*database.DetectionRecord{
			{ID: 2, Timestamp: time.Now(), Confidence: 0.91, Label: "Leopard", TrackID: &track},
			{ID: 1, Timestamp: time.Now(), Confidence: 0.65, Label: "Leopard"},
		}},
	)
}

func message(chat int64, text string) *TelegramMessage {
	return &TelegramMessage{Chat: &TelegramChat{ID: chat}, Text: text}
}

func TestCommands_Status(t *testing.T) {
	api := &fakeAPI{}
	ch := newTestHandler(t, api)

	ch.handleMessage(context.Background(), message(1001, "/status@panthera_bot"))

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Text, "rtsp://trap")
	assert.Contains(t, calls[0].Text, "120 processed")
	assert.Contains(t, calls[0].Text, "Live tracks: 1")
}

func TestCommands_IgnoresUnauthorizedChat(t *testing.T) {
	api := &fakeAPI{}
	ch := newTestHandler(t, api)

	ch.handleMessage(context.Background(), message(666, "/status"))
	ch.handleMessage(context.Background(), message(1001, "hello"))

	assert.Empty(t, api.Calls())
}

func TestCommands_AlertsAndSnapshot(t *testing.T) {
	api := &fakeAPI{}
	ch := newTestHandler(t, api)

	ch.handleMessage(context.Background(), message(1001, "/alerts 1"))
	ch.handleMessage(context.Background(), message(1001, "/snapshot"))

	calls := api.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Text, "track #3")
	assert.NotContains(t, calls[0].Text, "0.65")
	assert.Equal(t, "sendPhoto", calls[1].Method)
	assert.Equal(t, []byte("live"), calls[1].Photo)
}

func TestPollUpdates_AdvancesOffset(t *testing.T) {
	api := &fakeAPI{updates: `{"ok":true,"result":[
		{"update_id":7,"message":{"message_id":1,"chat":{"id":1001,"type":"private"},"text":"/help"}},
		{"update_id":9,"message":{"message_id":2,"chat":{"id":1001,"type":"private"},"text":"/start"}}]}`}
	ch := newTestHandler(t, api)

	require.NoError(t, ch.pollUpdates(context.Background()))
	assert.Equal(t, int64(9), ch.lastUpdateID)

	var replies int
	for _, c := range api.Calls() {
		if c.Method == "sendMessage" {
			replies++
		}
	}
	assert.Equal(t, 2, replies)
}
