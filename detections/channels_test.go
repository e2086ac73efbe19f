package detections

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreprocessorPlanarLayout(t *testing.T) {
	const w, h = 4, 3
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.SetNRGBA(1, 2, color.NRGBA{R: 255, G: 51, B: 0, A: 255})

	p := NewPreprocessor(w, h)
	buf := make([]float32, p.BufferSize())
	p.Process(img, buf)

	i := 2*w + 1
	assert.InDelta(t, 1.0, buf[i], 1e-6)
	assert.InDelta(t, 0.2, buf[w*h+i], 1e-6)
	assert.InDelta(t, 0.0, buf[2*w*h+i], 1e-6)
	assert.Zero(t, buf[0])
}

func TestPreprocessorGenericMatchesNRGBA(t *testing.T) {
	const w, h = 7, 5
	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: uint8(x * 30), G: uint8(y * 40), B: uint8(x + y), A: 255}
			nrgba.SetNRGBA(x, y, c)
			rgba.Set(x, y, c)
		}
	}

	p := NewPreprocessor(w, h)
	fast := make([]float32, p.BufferSize())
	generic := make([]float32, p.BufferSize())
	p.Process(nrgba, fast)
	p.Process(rgba, generic)

	assert.InDeltaSlice(t, fast, generic, 1e-6)
}
