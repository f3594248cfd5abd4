package annotate

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DetectionWeb/internal/entity"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	return imaging.New(w, h, c)
}

func TestRenderWithoutLabelsCopiesImage(t *testing.T) {
	src := solid(20, 10, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	out := Render(src, nil)
	require.Equal(t, src.Bounds(), out.Bounds())

	r, g, b, _ := out.At(5, 5).RGBA()
	assert.Equal(t, uint32(10), r>>8)
	assert.Equal(t, uint32(20), g>>8)
	assert.Equal(t, uint32(30), b>>8)
}

func TestRenderDrawsBoxOnCopy(t *testing.T) {
	black := color.NRGBA{A: 255}
	src := solid(200, 200, black)

	out := Render(src, []Label{{
		Box:  entity.BoundingBox{ClassID: 0, Confidence: 0.9, X1: 50, Y1: 80, X2: 150, Y2: 150},
		Text: LabelText("person", 0.9),
	}})

	// box edge is painted with the class color
	r, _, _, _ := out.At(100, 150).RGBA()
	assert.Greater(t, r>>8, uint32(200))

	// interior stays untouched
	r, g, b, _ := out.At(100, 120).RGBA()
	assert.Equal(t, uint32(0), r|g|b)

	// the source is never mutated
	assert.Equal(t, black, src.NRGBAAt(100, 150))
}

func TestColorFor(t *testing.T) {
	assert.Equal(t, ColorFor(0), ColorFor(len(palette)))
	assert.NotEqual(t, ColorFor(0), ColorFor(1))
	assert.Equal(t, ColorFor(3), ColorFor(-3))
}

func TestLabelText(t *testing.T) {
	assert.Equal(t, "helmet 0.88", LabelText("helmet", 0.8791))
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	src := solid(16, 8, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	for _, ext := range []string{".jpg", ".jpeg", ".png", ".bmp"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "img"+ext)
			require.NoError(t, Save(src, path))

			img, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 16, img.Bounds().Dx())
			assert.Equal(t, 8, img.Bounds().Dy())
		})
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
