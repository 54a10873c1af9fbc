package stream

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/image/draw"

	"pantheravision/internal/pipeline"
)

// ErrRecorderClosed is returned by WriteFrame after Close
var ErrRecorderClosed = errors.New("recorder closed")

// CommandFunc builds the encoder process; it must read raw rgb24 frames from stdin
type CommandFunc func(path string, width, height, fps int) *exec.Cmd

// FFmpegCommand encodes rgb24 frames from stdin into an H.264 mp4
func FFmpegCommand(path string, width, height, fps int) *exec.Cmd {
	return exec.Command("ffmpeg",
		"-y", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		path,
	)
}

// RecorderConfig configures the video recorder
type RecorderConfig struct {
	Path    string
	FPS     int
	Queue   int         // Frames buffered ahead of the encoder
	Command CommandFunc // Defaults to FFmpegCommand
}

// Recorder pipes annotated frames into an encoder process. The encoder is
// started on the first frame, whose size fixes the output resolution.
type Recorder struct {
	cfg RecorderConfig

	mu      sync.Mutex
	started bool
	closed  bool
	err     error
	width   int
	height  int
	frames  chan []byte
	quit    chan struct{}
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	done    chan struct{}
	written uint64
}

// NewRecorder creates a recorder; nothing is spawned until the first frame
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 8
	}
	if cfg.Command == nil {
		cfg.Command = FFmpegCommand
	}
	return &Recorder{cfg: cfg}
}

// Path returns the output file
func (r *Recorder) Path() string {
	return r.cfg.Path
}

// WriteFrame queues a frame for encoding. It blocks when the encoder is
// behind so that every frame handed in is recorded.
func (r *Recorder) WriteFrame(img image.Image) error {
	if img == nil {
		return nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRecorderClosed
	}
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return err
	}
	if !r.started {
		b := img.Bounds()
		if err := r.start(b.Dx(), b.Dy()); err != nil {
			r.err = err
			r.mu.Unlock()
			return err
		}
	}
	frames, done := r.frames, r.done
	w, h := r.width, r.height
	r.mu.Unlock()

	buf := toRGB24(img, w, h)
	select {
	case frames <- buf:
		return nil
	case <-done:
		return r.Err()
	}
}

// start launches the encoder; called with mu held
func (r *Recorder) start(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if dir := filepath.Dir(r.cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}

	cmd := r.cfg.Command(r.cfg.Path, width, height, r.cfg.FPS)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open encoder stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start encoder: %w", err)
	}

	r.started = true
	r.width, r.height = width, height
	r.cmd = cmd
	r.stdin = stdin
	r.frames = make(chan []byte, r.cfg.Queue)
	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	go r.writeLoop()

	log.Printf("[Recorder] Recording %dx%d @ %d fps to %s", width, height, r.cfg.FPS, r.cfg.Path)
	return nil
}

func (r *Recorder) writeLoop() {
	defer close(r.done)
	for {
		select {
		case buf := <-r.frames:
			if !r.write(buf) {
				return
			}
		case <-r.quit:
			for {
				select {
				case buf := <-r.frames:
					if !r.write(buf) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(buf []byte) bool {
	if _, err := r.stdin.Write(buf); err != nil {
		log.Printf("[Recorder] Encoder write failed: %v", err)
		r.fail(err)
		return false
	}
	r.mu.Lock()
	r.written++
	r.mu.Unlock()
	return true
}

func (r *Recorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = fmt.Errorf("recorder failed: %w", err)
	}
}

// Err returns the first encoder failure
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Frames returns the number of frames handed to the encoder
func (r *Recorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close flushes queued frames and waits for the encoder to finish the file
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}

	close(r.quit)
	<-r.done
	r.stdin.Close()
	if err := r.cmd.Wait(); err != nil {
		r.fail(err)
		return fmt.Errorf("encoder exited: %w", err)
	}

	log.Printf("[Recorder] Output video saved to %s (%d frames)", r.cfg.Path, r.Frames())
	return r.Err()
}

// toRGB24 packs the image into width x height rgb24, scaling when the size
// differs from the first frame
func toRGB24(img image.Image, width, height int) []byte {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Dx() != width || b.Dy() != height || b.Min != (image.Point{}) {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		if b.Dx() == width && b.Dy() == height {
			draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		} else {
			draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		}
		rgba = dst
	}

	out := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+width*4]
		o := out[y*width*3:]
		for x := 0; x < width; x++ {
			o[x*3+0] = row[x*4+0]
			o[x*3+1] = row[x*4+1]
			o[x*3+2] = row[x*4+2]
		}
	}
	return out
}

var _ pipeline.FrameRecorder = (*Recorder)(nil)
