package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Tutortoise/yolo-overlay-service/models"
)

const captionSize = 14

var captionFont *truetype.Font

func init() {
	var err error
	captionFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

type caption struct {
	text string
	x, y float64
}

// newCaption anchors the text at the top-left corner of the box.
func newCaption(label string, d models.Detection) caption {
	return caption{
		text: fmt.Sprintf("%s %.2f", label, d.Confidence),
		x:    float64(d.X - d.Width/2),
		y:    float64(d.Y - d.Height/2),
	}
}

// drawCaptions writes each caption just above its box, pushed inside the
// canvas when the box touches the top or left edge.
func drawCaptions(canvas *image.RGBA, captions []caption, c color.Color) {
	dc := gg.NewContextForRGBA(canvas)
	dc.SetFontFace(truetype.NewFace(captionFont, &truetype.Options{Size: captionSize}))
	dc.SetColor(c)

	width := float64(canvas.Bounds().Dx())
	height := float64(canvas.Bounds().Dy())
	for _, cp := range captions {
		tw, th := dc.MeasureString(cp.text)
		x := clampFloat(cp.x, 0, width-tw)
		y := clampFloat(cp.y-4, th, height)
		dc.DrawString(cp.text, x, y)
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
