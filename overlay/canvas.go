// Package overlay rasterizes detection outlines onto transparent RGBA
// canvases and formats the matching text report.
package overlay

import (
	"image"
	"image/color"

	"github.com/Tutortoise/yolo-overlay-service/models"
)

// NewTransparentCanvas returns a width x height canvas with every pixel at
// alpha 0.
func NewTransparentCanvas(width, height int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

// DrawBoxOutline strokes the edges of d onto canvas. Corners are clamped to
// the canvas, and every point of each edge is stamped with a filled disk of
// radius thickness/2.
func DrawBoxOutline(canvas *image.RGBA, d models.Detection, c color.Color, thickness int) {
	bounds := canvas.Bounds()
	if bounds.Empty() {
		return
	}
	maxX := bounds.Dx() - 1
	maxY := bounds.Dy() - 1

	xMin := clampInt(int(d.X-d.Width/2), 0, maxX)
	yMin := clampInt(int(d.Y-d.Height/2), 0, maxY)
	xMax := clampInt(int(d.X+d.Width/2), 0, maxX)
	yMax := clampInt(int(d.Y+d.Height/2), 0, maxY)

	brush := newBrush(thickness)
	rgba := color.RGBAModel.Convert(c).(color.RGBA)

	drawLine(canvas, xMin, yMin, xMax, yMin, rgba, brush)
	drawLine(canvas, xMin, yMax, xMax, yMax, rgba, brush)
	drawLine(canvas, xMin, yMin, xMin, yMax, rgba, brush)
	drawLine(canvas, xMax, yMin, xMax, yMax, rgba, brush)
}

// brush is the set of offsets within thickness/2 of the origin.
type brush []image.Point

func newBrush(thickness int) brush {
	if thickness < 1 {
		thickness = 1
	}
	radius := float64(thickness) / 2
	reach := thickness / 2
	var b brush
	for j := -reach; j <= reach; j++ {
		for i := -reach; i <= reach; i++ {
			if float64(i*i+j*j) <= radius*radius {
				b = append(b, image.Point{X: i, Y: j})
			}
		}
	}
	return b
}

// drawLine walks from (x0, y0) to (x1, y1) with Bresenham's algorithm.
// Coordinates are relative to the canvas origin.
func drawLine(canvas *image.RGBA, x0, y0, x1, y1 int, c color.RGBA, b brush) {
	dx := absInt(x1 - x0)
	dy := absInt(y1 - y0)
	sx, sy := 1, 1
	if x0 >= x1 {
		sx = -1
	}
	if y0 >= y1 {
		sy = -1
	}
	err := dx - dy

	for {
		stamp(canvas, x0, y0, c, b)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// stamp paints the brush at (x, y), skipping pixels off the canvas.
func stamp(canvas *image.RGBA, x, y int, c color.RGBA, b brush) {
	bounds := canvas.Bounds()
	for _, off := range b {
		p := image.Point{X: bounds.Min.X + x + off.X, Y: bounds.Min.Y + y + off.Y}
		if !p.In(bounds) {
			continue
		}
		canvas.SetRGBA(p.X, p.Y, c)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
