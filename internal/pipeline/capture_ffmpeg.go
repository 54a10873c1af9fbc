package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"sync"
	"time"
)

// FFmpegCapture reads an MJPEG stream from an ffmpeg subprocess
type FFmpegCapture struct {
	cfg  CaptureConfig
	kind SourceKind

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser

	frameBuffer []byte
	chunk       []byte
}

// NewFFmpegCapture creates an ffmpeg capture for rtsp, http, v4l2 and file sources
func NewFFmpegCapture(cfg CaptureConfig, kind SourceKind) *FFmpegCapture {
	return &FFmpegCapture{
		cfg:   cfg,
		kind:  kind,
		chunk: make([]byte, 8192),
	}
}

// Args returns the ffmpeg command line for the configured source
func (c *FFmpegCapture) Args() []string {
	output := []string{
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}
	rate := []string{"-r", fmt.Sprintf("%d", c.cfg.FPS)}

	var args []string
	switch c.kind {
	case SourceRTSP:
		args = []string{"-rtsp_transport", "tcp", "-i", c.cfg.Source}
		args = append(args, rate...)
	case SourceHTTPStream:
		args = []string{"-i", c.cfg.Source}
		args = append(args, rate...)
	case SourceDevice:
		args = []string{"-f", "v4l2"}
		if c.cfg.Width > 0 && c.cfg.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height))
		}
		args = append(args, "-framerate", fmt.Sprintf("%d", c.cfg.FPS), "-i", DevicePath(c.cfg.Source))
	default:
		if c.cfg.Realtime {
			args = append(args, "-re")
		}
		args = append(args, "-i", c.cfg.Source)
	}

	return append(append([]string{"-nostdin", "-loglevel", "error"}, args...), output...)
}

// Open starts the ffmpeg process
func (c *FFmpegCapture) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := exec.CommandContext(ctx, "ffmpeg", c.Args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("[FFmpeg] %s: %s", c.cfg.Source, scanner.Text())
		}
	}()

	c.cmd = cmd
	c.stdout = stdout
	c.frameBuffer = make([]byte, 0, 1024*1024)
	return nil
}

// Next returns the next complete JPEG frame from the pipe
func (c *FFmpegCapture) Next(ctx context.Context) (*CapturedFrame, error) {
	for {
		if frame := extractJPEGFrame(&c.frameBuffer); frame != nil {
			return &CapturedFrame{Data: frame}, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := c.stdout.Read(c.chunk)
		if n > 0 {
			c.frameBuffer = append(c.frameBuffer, c.chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}

// Close kills the ffmpeg process and reaps it
func (c *FFmpegCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	c.cmd.Process.Kill()
	c.cmd.Wait()
	c.cmd = nil
	c.stdout = nil
	return nil
}

// HTTPSnapshotCapture polls a still-image endpoint
type HTTPSnapshotCapture struct {
	url      string
	interval time.Duration
	client   *http.Client
	ticker   *time.Ticker
}

// NewHTTPSnapshotCapture creates a polling capture at the given rate
func NewHTTPSnapshotCapture(url string, fps int) *HTTPSnapshotCapture {
	interval := time.Second / time.Duration(fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return &HTTPSnapshotCapture{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Open starts the poll ticker
func (c *HTTPSnapshotCapture) Open(ctx context.Context) error {
	c.ticker = time.NewTicker(c.interval)
	return nil
}

// Next waits for the next tick and fetches one image
func (c *HTTPSnapshotCapture) Next(ctx context.Context) (*CapturedFrame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ticker.C:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch frame from %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot endpoint returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return &CapturedFrame{Data: data}, nil
}

// Close stops the poll ticker
func (c *HTTPSnapshotCapture) Close() error {
	if c.ticker != nil {
		c.ticker.Stop()
	}
	return nil
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}

	// Find JPEG end marker (FFD9)
	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}

var (
	_ Capture = (*FFmpegCapture)(nil)
	_ Capture = (*HTTPSnapshotCapture)(nil)
)
