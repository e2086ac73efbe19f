package detections

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Tutortoise/yolo-overlay-service/models"
)

// decodeChunkSize is the smallest candidate range worth handing to its own
// goroutine.
const decodeChunkSize = 512

// Decode scans an attribute-major output buffer and returns every candidate
// whose best class score is strictly above threshold, in candidate order.
//
// Rows 0..3 of the buffer hold x, y, width and height; rows 4.. hold one
// score per class.
func Decode(predictions []float32, numAttributes, numCandidates int, threshold float32) ([]models.Detection, error) {
	if err := checkShape(predictions, numAttributes, numCandidates); err != nil {
		return nil, err
	}
	return decodeRange(predictions, numAttributes, numCandidates, threshold, 0, numCandidates, nil), nil
}

func checkShape(predictions []float32, numAttributes, numCandidates int) error {
	if numAttributes <= BoxAttributes {
		return invalidModelOutput("model output has %d attributes, need at least %d", numAttributes, BoxAttributes+1)
	}
	if numCandidates < 0 || len(predictions) != numAttributes*numCandidates {
		return shapeMismatch("unexpected predictions length: got %d, want %d x %d", len(predictions), numAttributes, numCandidates)
	}
	return nil
}

// decodeRange appends the detections for candidates [start, end) to dst.
func decodeRange(predictions []float32, numAttributes, numCandidates int, threshold float32, start, end int, dst []models.Detection) []models.Detection {
	for i := start; i < end; i++ {
		var maxScore float32
		classID := -1
		for c := BoxAttributes; c < numAttributes; c++ {
			score := predictions[c*numCandidates+i]
			if score > maxScore {
				maxScore = score
				classID = c - BoxAttributes
			}
		}

		if maxScore > threshold {
			dst = append(dst, models.Detection{
				ClassID:    classID,
				Confidence: maxScore,
				X:          predictions[i],
				Y:          predictions[numCandidates+i],
				Width:      predictions[2*numCandidates+i],
				Height:     predictions[3*numCandidates+i],
			})
		}
	}
	return dst
}

// Decoder decodes with a fixed threshold, splitting large buffers across
// goroutines. The result is identical to Decode.
type Decoder struct {
	ConfidenceThreshold float32
	Workers             int
}

func NewDecoder(threshold float32) *Decoder {
	return &Decoder{
		ConfidenceThreshold: threshold,
		Workers:             runtime.NumCPU(),
	}
}

func (d *Decoder) Decode(ctx context.Context, predictions []float32, numAttributes, numCandidates int) ([]models.Detection, error) {
	if err := checkShape(predictions, numAttributes, numCandidates); err != nil {
		return nil, err
	}

	numChunks := (numCandidates + decodeChunkSize - 1) / decodeChunkSize
	if d.Workers <= 1 || numChunks <= 1 {
		return decodeRange(predictions, numAttributes, numCandidates, d.ConfidenceThreshold, 0, numCandidates, nil), nil
	}

	// Each chunk owns its slot; concatenating slots in order keeps the
	// candidate ordering of the serial scan.
	chunks := make([][]models.Detection, numChunks)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.Workers)
	for n := 0; n < numChunks; n++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := n * decodeChunkSize
			end := min(start+decodeChunkSize, numCandidates)
			chunks[n] = decodeRange(predictions, numAttributes, numCandidates, d.ConfidenceThreshold, start, end, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	detections := make([]models.Detection, 0, total)
	for _, c := range chunks {
		detections = append(detections, c...)
	}
	return detections, nil
}
