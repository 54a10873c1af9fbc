package detection

import "strings"

// CocoClasses are the 80 class names of the COCO-trained YOLO models
var CocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// DefaultLabelMap renames detector classes for alerts. The COCO models have
// no leopard class; a leopard is reliably reported as a cat.
var DefaultLabelMap = map[string]string{
	"cat": "Leopard",
}

// ClassName returns the COCO name for a class index
func ClassName(id int) string {
	if id < 0 || id >= len(CocoClasses) {
		return "unknown"
	}
	return CocoClasses[id]
}

// ClassID returns the COCO index for a name, or -1
func ClassID(name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, c := range CocoClasses {
		if c == name {
			return i
		}
	}
	return -1
}

// DisplayLabel maps a detector class to its alert label
func DisplayLabel(labels map[string]string, class string) string {
	if l, ok := labels[class]; ok {
		return l
	}
	if class == "" {
		return "Object"
	}
	return strings.ToUpper(class[:1]) + class[1:]
}
