package detections

import (
	"sort"

	"github.com/Tutortoise/yolo-overlay-service/models"
)

// Suppress runs greedy non-maximum suppression. dets is sorted in place by
// descending confidence (stable, so equal scores keep decode order) and the
// survivors are returned in that order. Any remaining box whose IoU with a
// kept box is strictly above iouThreshold is dropped.
//
// With classAware unset, boxes suppress each other regardless of class.
func Suppress(dets []models.Detection, iouThreshold float32, classAware bool) []models.Detection {
	if len(dets) == 0 {
		return nil
	}

	sortDetectionsByConfidence(dets)

	suppressed := make([]bool, len(dets))
	kept := make([]models.Detection, 0, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		best := dets[i]
		kept = append(kept, best)

		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] {
				continue
			}
			if classAware && dets[j].ClassID != best.ClassID {
				continue
			}
			if IntersectionOverUnion(best, dets[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}
