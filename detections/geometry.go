package detections

import "github.com/Tutortoise/yolo-overlay-service/models"

// IntersectionOverUnion returns the overlap ratio of two center-form boxes.
// Boxes with no area on both sides yield 0.
func IntersectionOverUnion(a, b models.Detection) float32 {
	ax1, ay1, ax2, ay2 := corners(a)
	bx1, by1, bx2, by2 := corners(b)

	x1 := max32(ax1, bx1)
	y1 := max32(ay1, by1)
	x2 := min32(ax2, bx2)
	y2 := min32(ay2, by2)

	intersection := max32(0, x2-x1) * max32(0, y2-y1)
	union := area(a) + area(b) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func corners(d models.Detection) (x1, y1, x2, y2 float32) {
	return d.X - d.Width/2, d.Y - d.Height/2, d.X + d.Width/2, d.Y + d.Height/2
}

// area treats negative extents as empty.
func area(d models.Detection) float32 {
	return max32(0, d.Width) * max32(0, d.Height)
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
