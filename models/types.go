package models

import (
	"image"
	"time"
)

// Detection is a single candidate box in center form, expressed in the
// coordinate space of the image the model was run on.
type Detection struct {
	ClassID    int     `json:"class_id"`
	Confidence float32 `json:"confidence"`
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Width      float32 `json:"width"`
	Height     float32 `json:"height"`
}

type ProcessingTimings struct {
	CycleID   string        `json:"cycle_id"`
	Capture   time.Duration `json:"capture"`
	Resize    time.Duration `json:"resize"`
	Inference time.Duration `json:"inference"`
	Decode    time.Duration `json:"decode"`
	Suppress  time.Duration `json:"suppress"`
	Render    time.Duration `json:"render"`
	Total     time.Duration `json:"total"`
}

// Snapshot is everything one cycle hands to the display side. It is
// replaced as a whole every cycle and never patched.
type Snapshot struct {
	CycleID    string            `json:"cycle_id"`
	CapturedAt time.Time         `json:"captured_at"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Detections []Detection       `json:"detections"`
	Report     string            `json:"report"`
	Overlay    *image.RGBA       `json:"-"`
	Timings    ProcessingTimings `json:"timings"`
}
