package detection

// ONNXConfig holds configuration for the in-process detector
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string   // onnxruntime shared library, empty for the system default
	InputSize   int      // Default 640
	Anchors     int      // Default 8400
	Labels      []string // Default COCO
	Threads     int
}

func (c ONNXConfig) withDefaults() ONNXConfig {
	if c.InputSize <= 0 {
		c.InputSize = ModelInputSize
	}
	if c.Anchors <= 0 {
		c.Anchors = ModelAnchors
	}
	if len(c.Labels) == 0 {
		c.Labels = CocoClasses
	}
	return c
}
