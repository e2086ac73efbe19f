package pipeline

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/Tutortoise/yolo-overlay-service/detections"
	"github.com/Tutortoise/yolo-overlay-service/overlay"
)

// Settings are the knobs that can change while the pipeline runs. Each cycle
// works on the copy taken when it starts.
type Settings struct {
	ConfidenceThreshold float32 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	IOUThreshold        float32 `json:"iou_threshold" validate:"gte=0,lte=1"`
	ClassAware          bool    `json:"class_aware"`
	TargetLabel         string  `json:"target_label"`
	BoxColor            string  `json:"box_color" validate:"required,hexcolor"`
	LineThickness       int     `json:"line_thickness" validate:"gte=1,lte=64"`
	MaxDetections       int     `json:"max_detections" validate:"gte=1"`
	Captions            bool    `json:"captions"`
}

func DefaultSettings() Settings {
	return Settings{
		ConfidenceThreshold: detections.ConfThreshold,
		IOUThreshold:        detections.IouThreshold,
		TargetLabel:         overlay.DefaultTargetLabel,
		BoxColor:            overlay.FormatColor(overlay.DefaultColor),
		LineThickness:       overlay.DefaultThickness,
		MaxDetections:       overlay.DefaultMaxDetections,
	}
}

var validate = validator.New()

// Validate checks ranges and that BoxColor parses.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if _, err := overlay.ParseColor(s.BoxColor); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// overlayOptions assumes s has been validated.
func (s Settings) overlayOptions(labels []string) overlay.Options {
	c, err := overlay.ParseColor(s.BoxColor)
	if err != nil {
		c = overlay.DefaultColor
	}
	return overlay.Options{
		Labels:        labels,
		Color:         c,
		Thickness:     s.LineThickness,
		MaxDetections: s.MaxDetections,
		Filter:        overlay.LabelFilter(s.TargetLabel),
		Captions:      s.Captions,
	}
}
