package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Tutortoise/yolo-overlay-service/detections"
	"github.com/Tutortoise/yolo-overlay-service/pipeline"
)

// sessionPool is the part of ModelSessionPool the engine needs.
type sessionPool interface {
	Acquire(ctx context.Context) (*detections.ModelSession, error)
	Release(session *detections.ModelSession)
	Discard(session *detections.ModelSession)
}

// onnxEngine runs inference on a pooled session. The session stays checked
// out until the caller releases the returned Inference, because its output
// tensor is what the decoder reads.
type onnxEngine struct {
	pool sessionPool
	run  func(*detections.ModelSession, image.Image) ([]float32, error)
}

func newONNXEngine(pool sessionPool) *onnxEngine {
	return &onnxEngine{
		pool: pool,
		run: func(s *detections.ModelSession, img image.Image) ([]float32, error) {
			if err := s.Run(img); err != nil {
				return nil, err
			}
			return s.Output.GetData(), nil
		},
	}
}

func (e *onnxEngine) Infer(ctx context.Context, img image.Image) (*pipeline.Inference, error) {
	var lastErr error

	for attempt := 1; attempt <= detections.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		inference, err := e.inferOnce(ctx, img)
		if err == nil {
			return inference, nil
		}
		if ctx.Err() != nil {
			return nil, detections.InferenceUnavailable(ctx.Err())
		}
		lastErr = err

		if attempt < detections.RetryAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * detections.RetryDelayMs * time.Millisecond):
			}
		}
	}

	if lastErr != nil {
		return nil, detections.InferenceUnavailable(lastErr)
	}
	return nil, detections.InferenceUnavailable(errors.New("unknown error"))
}

func (e *onnxEngine) inferOnce(ctx context.Context, img image.Image) (*pipeline.Inference, error) {
	session, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}

	done := make(chan runResult, 1)
	go func() {
		output, err := e.run(session, img)
		done <- runResult{output: output, err: err}
	}()

	var res runResult
	select {
	case res = <-done:
	case <-ctx.Done():
		// The session stays busy until the run returns; output that
		// arrives after the deadline is dropped.
		go e.settle(session, done)
		return nil, ctx.Err()
	}
	if res.err != nil {
		e.pool.Discard(session)
		return nil, res.err
	}

	cfg := session.Config
	return pipeline.NewInference(res.output, cfg.NumAttributes, cfg.NumCandidates, func() {
		e.pool.Release(session)
	}), nil
}

type runResult struct {
	output []float32
	err    error
}

// settle returns a session to the pool once an abandoned run finishes.
func (e *onnxEngine) settle(session *detections.ModelSession, done <-chan runResult) {
	if res := <-done; res.err != nil {
		e.pool.Discard(session)
		return
	}
	e.pool.Release(session)
}
