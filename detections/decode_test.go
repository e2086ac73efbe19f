package detections

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/yolo-overlay-service/models"
)

// buildOutput lays out rows as an attribute-major buffer.
func buildOutput(rows ...[]float32) []float32 {
	var out []float32
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func TestDecodeSmallBuffer(t *testing.T) {
	// [6][3]: x, y, w, h, class 0, class 1.
	buf := buildOutput(
		[]float32{10, 20, 30},
		[]float32{11, 21, 31},
		[]float32{4, 5, 6},
		[]float32{7, 8, 9},
		[]float32{0.9, 0.1, 0.5},
		[]float32{0.2, 0.7, 0.3},
	)

	got, err := Decode(buf, 6, 3, 0.5)
	require.NoError(t, err)

	// Candidate 2 peaks at exactly 0.5 and is excluded.
	assert.Equal(t, []models.Detection{
		{ClassID: 0, Confidence: 0.9, X: 10, Y: 11, Width: 4, Height: 7},
		{ClassID: 1, Confidence: 0.7, X: 20, Y: 21, Width: 5, Height: 8},
	}, got)
}

func TestDecodeThresholdIsStrict(t *testing.T) {
	buf := buildOutput(
		[]float32{1},
		[]float32{1},
		[]float32{1},
		[]float32{1},
		[]float32{0.25},
	)

	got, err := Decode(buf, 5, 1, 0.25)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Decode(buf, 5, 1, 0.2499)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDecodeClassTieKeepsLowestIndex(t *testing.T) {
	buf := buildOutput(
		[]float32{1},
		[]float32{1},
		[]float32{1},
		[]float32{1},
		[]float32{0.6},
		[]float32{0.6},
	)

	got, err := Decode(buf, 6, 1, 0.1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].ClassID)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(make([]float32, 17), 6, 3, 0.5)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
	assert.True(t, Recoverable(err))

	_, err = Decode(make([]float32, 12), 4, 3, 0.5)
	assert.True(t, errors.Is(err, ErrInvalidModelOutput), "got %v", err)
	assert.False(t, Recoverable(err))

	// The attribute check wins when both are wrong.
	_, err = Decode(make([]float32, 1), 2, 3, 0.5)
	assert.True(t, errors.Is(err, ErrInvalidModelOutput), "got %v", err)
}

func TestDecodeEmptyCandidates(t *testing.T) {
	got, err := Decode(nil, NumAttributes, 0, 0.5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecoderParallelMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	buf := make([]float32, NumAttributes*NumCandidates)
	for i := range buf {
		buf[i] = rng.Float32()
	}

	serial, err := Decode(buf, NumAttributes, NumCandidates, 0.97)
	require.NoError(t, err)
	require.NotEmpty(t, serial)

	d := &Decoder{ConfidenceThreshold: 0.97, Workers: 8}
	parallel, err := d.Decode(context.Background(), buf, NumAttributes, NumCandidates)
	require.NoError(t, err)
	assert.Equal(t, serial, parallel)
}

func TestDecoderChecksShape(t *testing.T) {
	d := NewDecoder(0.5)
	_, err := d.Decode(context.Background(), make([]float32, 10), NumAttributes, NumCandidates)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestDecoderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &Decoder{ConfidenceThreshold: 0.5, Workers: 4}
	_, err := d.Decode(ctx, make([]float32, NumAttributes*NumCandidates), NumAttributes, NumCandidates)
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkDecode(b *testing.B) {
	buf := make([]float32, NumAttributes*NumCandidates)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(buf, NumAttributes, NumCandidates, ConfThreshold); err != nil {
			b.Fatal(err)
		}
	}
}
