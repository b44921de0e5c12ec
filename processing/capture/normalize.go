package capture

import (
	"image"

	"github.com/disintegration/imaging"
)

// SquareCrop cuts the centered square out of img and scales it to size
// pixels per side. A size of zero keeps the native resolution.
func SquareCrop(img image.Image, size int) image.Image {
	if img == nil {
		return nil
	}

	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	if side <= 0 {
		return img
	}

	var out image.Image = img
	if b.Dx() != b.Dy() {
		out = imaging.CropCenter(img, side, side)
	}

	if size > 0 && size != side {
		out = imaging.Resize(out, size, size, imaging.Lanczos)
	}

	return out
}
