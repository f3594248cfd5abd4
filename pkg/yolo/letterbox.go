package yolo

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"DetectionWeb/internal/entity"
)

var padColor = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// letterbox fits a w x h image into a size x size square keeping the aspect
// ratio and centering it on a gray border.
type letterbox struct {
	size   int
	scale  float64
	width  int
	height int
	padX   int
	padY   int
}

func newLetterbox(w, h, size int) letterbox {
	scale := math.Min(float64(size)/float64(h), float64(size)/float64(w))

	unpadW := int(math.RoundToEven(float64(w) * scale))
	unpadH := int(math.RoundToEven(float64(h) * scale))

	dw := float64(size-unpadW) / 2
	dh := float64(size-unpadH) / 2

	return letterbox{
		size:   size,
		scale:  scale,
		width:  unpadW,
		height: unpadH,
		padX:   int(math.RoundToEven(dw - 0.1)),
		padY:   int(math.RoundToEven(dh - 0.1)),
	}
}

func (l letterbox) apply(img image.Image) *image.NRGBA {
	canvas := imaging.New(l.size, l.size, padColor)
	resized := resize.Resize(uint(l.width), uint(l.height), img, resize.Bilinear)
	return imaging.Paste(canvas, resized, image.Pt(l.padX, l.padY))
}

// fill writes canvas into dst as planar RGB scaled to [0,1].
func (l letterbox) fill(canvas *image.NRGBA, dst []float32) {
	plane := l.size * l.size
	for y := 0; y < l.size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < l.size; x++ {
			px := row[x*4:]
			idx := y*l.size + x
			dst[idx] = float32(px[0]) / 255.0
			dst[plane+idx] = float32(px[1]) / 255.0
			dst[2*plane+idx] = float32(px[2]) / 255.0
		}
	}
}

// restore maps a box from letterbox space back onto the w x h source and
// clips it to the image.
func (l letterbox) restore(b entity.BoundingBox, w, h int) entity.BoundingBox {
	b.X1 = clip((b.X1-float64(l.padX))/l.scale, float64(w))
	b.Y1 = clip((b.Y1-float64(l.padY))/l.scale, float64(h))
	b.X2 = clip((b.X2-float64(l.padX))/l.scale, float64(w))
	b.Y2 = clip((b.Y2-float64(l.padY))/l.scale, float64(h))
	return b
}

func clip(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
