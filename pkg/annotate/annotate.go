package annotate

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	_ "golang.org/x/image/bmp"

	"DetectionWeb/internal/entity"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var palette = []color.NRGBA{
	hex(0xFF3838), hex(0xFF9D97), hex(0xFF701F), hex(0xFFB21D), hex(0xCFD231),
	hex(0x48F90A), hex(0x92CC17), hex(0x3DDB86), hex(0x1A9334), hex(0x00D4BB),
	hex(0x2C99A8), hex(0x00C2FF), hex(0x344593), hex(0x6473FF), hex(0x0018EC),
	hex(0x8438FF), hex(0x520085), hex(0xCB38FF), hex(0xFF95C8), hex(0xFF37C7),
}

func hex(v uint32) color.NRGBA {
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

// ColorFor returns the stable palette color of a class id.
func ColorFor(classID int) color.NRGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

type Label struct {
	Box  entity.BoundingBox
	Text string
}

// LabelText formats the caption drawn above a box.
func LabelText(name string, confidence float64) string {
	return fmt.Sprintf("%s %.2f", name, confidence)
}

// Render draws every label onto a copy of img. The source is left untouched.
func Render(img image.Image, labels []Label) image.Image {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	dc := gg.NewContextForImage(img)
	if len(labels) == 0 {
		return dc.Image()
	}

	lineWidth := math.Max(math.Round((w+h)/2*0.003), 2)
	fontSize := math.Max(math.Round((w+h)/2*0.035), 12)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: fontSize}))

	for _, l := range labels {
		c := ColorFor(l.Box.ClassID)

		dc.SetColor(c)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(l.Box.X1, l.Box.Y1, l.Box.Width(), l.Box.Height())
		dc.Stroke()

		if l.Text == "" {
			continue
		}

		tw, th := dc.MeasureString(l.Text)
		pad := lineWidth
		boxH := th + 2*pad

		top := l.Box.Y1 - boxH
		if top < 0 {
			top = l.Box.Y1
		}
		left := math.Min(l.Box.X1, math.Max(w-tw-2*pad, 0))

		dc.SetColor(c)
		dc.DrawRectangle(left, top, tw+2*pad, boxH)
		dc.Fill()

		dc.SetColor(color.White)
		dc.DrawStringAnchored(l.Text, left+pad, top+pad, 0, 1)
	}

	return dc.Image()
}

// Load decodes an image file applying its EXIF orientation.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// Decode reads an image from r applying its EXIF orientation.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Save encodes img in the format implied by the extension of path.
func Save(img image.Image, path string) error {
	if err := imaging.Save(img, path, imaging.JPEGQuality(95)); err != nil {
		return fmt.Errorf("failed to save image %s: %w", path, err)
	}
	return nil
}
