package detections

import (
	"image"
	"runtime"
	"sync"
)

// Preprocessor converts an image into the planar RGB float tensor layout
// the model expects: three width*height planes scaled to [0, 1].
type Preprocessor struct {
	width, height int
	channelSize   int
	numWorkers    int
}

func NewPreprocessor(width, height int) *Preprocessor {
	return &Preprocessor{
		width:       width,
		height:      height,
		channelSize: width * height,
		numWorkers:  runtime.GOMAXPROCS(0),
	}
}

// BufferSize is the number of floats Process writes.
func (p *Preprocessor) BufferSize() int {
	return p.channelSize * 3
}

// Process fills buffer from img. img must be at least width x height; pixels
// are read from its bounds origin.
func (p *Preprocessor) Process(img image.Image, buffer []float32) {
	numWorkers := p.numWorkers
	if numWorkers > p.height {
		numWorkers = p.height
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	rowsPerWorker := p.height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == numWorkers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			if nrgba, ok := img.(*image.NRGBA); ok {
				p.processNRGBA(nrgba, buffer, start, end)
				return
			}
			p.processGeneric(img, buffer, start, end)
		}(startRow, endRow)
	}

	wg.Wait()
}

// processNRGBA reads Pix directly; imaging.Resize always produces NRGBA.
func (p *Preprocessor) processNRGBA(img *image.NRGBA, buffer []float32, start, end int) {
	origin := img.Rect.Min
	for y := start; y < end; y++ {
		row := img.Pix[img.PixOffset(origin.X, origin.Y+y):]
		offset := y * p.width
		for x := 0; x < p.width; x++ {
			i := offset + x
			px := row[x*4:]
			buffer[i] = float32(px[0]) / 255.0
			buffer[p.channelSize+i] = float32(px[1]) / 255.0
			buffer[p.channelSize*2+i] = float32(px[2]) / 255.0
		}
	}
}

func (p *Preprocessor) processGeneric(img image.Image, buffer []float32, start, end int) {
	origin := img.Bounds().Min
	for y := start; y < end; y++ {
		offset := y * p.width
		for x := 0; x < p.width; x++ {
			i := offset + x
			r, g, b, _ := img.At(origin.X+x, origin.Y+y).RGBA()
			buffer[i] = float32(r>>8) / 255.0
			buffer[p.channelSize+i] = float32(g>>8) / 255.0
			buffer[p.channelSize*2+i] = float32(b>>8) / 255.0
		}
	}
}
