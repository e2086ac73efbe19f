package pipeline

import (
	"context"
	"image"
	"sync"

	"github.com/Tutortoise/yolo-overlay-service/models"
)

// FrameSource yields the current camera frame. The returned release func,
// when non-nil, is called once the cycle no longer needs the frame.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, func(), error)
}

// Engine runs the model on an image already resized to the model input.
type Engine interface {
	Infer(ctx context.Context, img image.Image) (*Inference, error)
}

// Publisher receives each completed cycle's snapshot.
type Publisher interface {
	Publish(snapshot *models.Snapshot)
}

// Inference is the raw model output of one run. Output stays valid until
// Release; the engine may reuse its backing storage afterwards.
type Inference struct {
	Output        []float32
	NumAttributes int
	NumCandidates int

	release func()
	once    sync.Once
}

func NewInference(output []float32, numAttributes, numCandidates int, release func()) *Inference {
	return &Inference{
		Output:        output,
		NumAttributes: numAttributes,
		NumCandidates: numCandidates,
		release:       release,
	}
}

// Release hands the output back to the engine. Safe to call more than once.
func (i *Inference) Release() {
	i.once.Do(func() {
		if i.release != nil {
			i.release()
		}
	})
}
