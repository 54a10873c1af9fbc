//go:build onnx

package detection

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXDetector runs a YOLOv8 model in process through ONNX Runtime
type ONNXDetector struct {
	mu      sync.Mutex
	cfg     ONNXConfig
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXDetector loads the model and allocates the input and output tensors
func NewONNXDetector(cfg ONNXConfig) (*ONNXDetector, error) {
	cfg = cfg.withDefaults()

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrap(err, "model not found")
	}
	if cfg.LibraryPath != "" {
		if _, err := os.Stat(cfg.LibraryPath); err != nil {
			return nil, errors.Wrap(err, "ONNX Runtime library not found")
		}
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "error initializing ORT environment")
		}
	}

	size := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(cfg.Labels)), int64(cfg.Anchors)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if cfg.Threads > 0 {
		options.SetIntraOpNumThreads(cfg.Threads)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	log.Printf("[ONNXDetector] Loaded %s (%dx%d, %d classes)", cfg.ModelPath, cfg.InputSize, cfg.InputSize, len(cfg.Labels))
	return &ONNXDetector{cfg: cfg, session: session, input: input, output: output}, nil
}

// IsHealthy reports whether the session is loaded
func (od *ONNXDetector) IsHealthy(ctx context.Context) bool {
	od.mu.Lock()
	defer od.mu.Unlock()
	return od.session != nil
}

// Detect runs the model on the decoded frame
func (od *ONNXDetector) Detect(ctx context.Context, req Request) (*Result, error) {
	if req.Image == nil {
		return nil, errors.New("onnx detector needs a decoded image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	od.mu.Lock()
	defer od.mu.Unlock()

	if od.session == nil {
		return nil, errors.New("model not loaded")
	}

	start := time.Now()
	copy(od.input.GetData(), Preprocess(req.Image, od.cfg.InputSize))

	if err := od.session.Run(); err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	bounds := req.Image.Bounds()
	dets, err := DecodeYOLOv8(od.output.GetData(), DecodeParams{
		NumClasses: len(od.cfg.Labels),
		Anchors:    od.cfg.Anchors,
		InputSize:  od.cfg.InputSize,
		OrigWidth:  bounds.Dx(),
		OrigHeight: bounds.Dy(),
		Confidence: req.ConfThreshold,
		Classes:    req.Classes,
		Labels:     od.cfg.Labels,
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode failed")
	}

	return &Result{
		Detections:      NMS(dets, req.IoUThreshold),
		InferenceTimeMs: float32(time.Since(start).Microseconds()) / 1000,
		Device:          "cpu",
	}, nil
}

// Close destroys the session and its tensors
func (od *ONNXDetector) Close() error {
	od.mu.Lock()
	defer od.mu.Unlock()

	if od.session == nil {
		return nil
	}
	err := od.session.Destroy()
	od.input.Destroy()
	od.output.Destroy()
	od.session = nil
	return errors.Wrap(err, "destroy session")
}
