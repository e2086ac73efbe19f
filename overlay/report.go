package overlay

import (
	"fmt"
	"strings"

	"github.com/Tutortoise/yolo-overlay-service/detections"
	"github.com/Tutortoise/yolo-overlay-service/models"
)

const ReportHeader = "Detected Objects:"

// ReportLine formats one detection as
// "<label>: <conf> - Pos: (<x>, <y>), Size: <w>x<h>".
func ReportLine(label string, d models.Detection) string {
	return fmt.Sprintf("%s: %.2f - Pos: (%.2f, %.2f), Size: %.2fx%.2f",
		label, d.Confidence, d.X, d.Y, d.Width, d.Height)
}

// FormatReport renders the header followed by one line per detection.
func FormatReport(dets []models.Detection, labels []string) string {
	var sb strings.Builder
	sb.WriteString(ReportHeader)
	sb.WriteByte('\n')
	for _, d := range dets {
		sb.WriteString(ReportLine(detections.LabelFor(labels, d.ClassID), d))
		sb.WriteByte('\n')
	}
	return sb.String()
}
