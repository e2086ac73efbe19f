package overlay

import (
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"

	"github.com/Tutortoise/yolo-overlay-service/detections"
	"github.com/Tutortoise/yolo-overlay-service/models"
)

const (
	DefaultThickness     = 5
	DefaultMaxDetections = 10
	DefaultTargetLabel   = "person"
)

var DefaultColor = color.RGBA{R: 255, A: 255}

// Filter decides whether a reported detection also gets an outline.
type Filter func(label string, d models.Detection) bool

// LabelFilter draws only detections whose label equals target. An empty
// target draws everything.
func LabelFilter(target string) Filter {
	return func(label string, _ models.Detection) bool {
		return target == "" || label == target
	}
}

type Options struct {
	Labels        []string
	Color         color.Color
	Thickness     int
	MaxDetections int
	Filter        Filter
	Captions      bool
}

func DefaultOptions() Options {
	return Options{
		Labels:        detections.CocoLabels,
		Color:         DefaultColor,
		Thickness:     DefaultThickness,
		MaxDetections: DefaultMaxDetections,
		Filter:        LabelFilter(DefaultTargetLabel),
	}
}

type Result struct {
	Overlay    *image.RGBA
	Report     string
	Detections []models.Detection
	Drawn      int
}

// Render draws onto a fresh transparent canvas. dets is taken in the given
// order (suppression output is confidence-descending) and capped at
// MaxDetections; every kept detection is reported, and those passing the
// filter are outlined.
func Render(width, height int, dets []models.Detection, opts Options) Result {
	if opts.MaxDetections > 0 && len(dets) > opts.MaxDetections {
		dets = dets[:opts.MaxDetections]
	}
	if opts.Color == nil {
		opts.Color = DefaultColor
	}
	if opts.Filter == nil {
		opts.Filter = LabelFilter("")
	}

	canvas := NewTransparentCanvas(width, height)
	var captions []caption
	drawn := 0
	for _, d := range dets {
		label := detections.LabelFor(opts.Labels, d.ClassID)
		if !opts.Filter(label, d) {
			continue
		}
		DrawBoxOutline(canvas, d, opts.Color, opts.Thickness)
		drawn++
		if opts.Captions {
			captions = append(captions, newCaption(label, d))
		}
	}
	if len(captions) > 0 {
		drawCaptions(canvas, captions, opts.Color)
	}

	reported := make([]models.Detection, len(dets))
	copy(reported, dets)

	return Result{
		Overlay:    canvas,
		Report:     FormatReport(reported, opts.Labels),
		Detections: reported,
		Drawn:      drawn,
	}
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}
