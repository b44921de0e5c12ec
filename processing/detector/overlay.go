package processing

import (
	"image"
	"image/color"
	"image/draw"
)

var boxColor = color.RGBA{0, 255, 0, 255}

// Preview returns a copy of the newest frame with the boxes of the last
// successful inference drawn on it, or nil before the first frame.
func (p *Processor) Preview() *image.RGBA {
	p.mu.RLock()
	frame := p.latest
	dets := p.lastDetections
	p.mu.RUnlock()

	if frame == nil {
		return nil
	}

	b := frame.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), frame, b.Min, draw.Src)

	w := float64(b.Dx())
	h := float64(b.Dy())
	for _, d := range dets {
		x1, y1 := unit(d.BBox.X1), unit(d.BBox.Y1)
		x2, y2 := unit(d.BBox.X2), unit(d.BBox.Y2)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		drawRect(img,
			int(y1*h), int(x1*w),
			min(int(y2*h), b.Dy()-1), min(int(x2*w), b.Dx()-1),
			boxColor)
	}

	return img
}

// unit clamps a normalized coordinate to [0, 1]. NaN maps to 0.
func unit(v float64) float64 {
	switch {
	case !(v > 0):
		return 0
	case v > 1:
		return 1
	}
	return v
}

func drawRect(img *image.RGBA, y1, x1, y2, x2 int, col color.Color) {
	thickness := 3
	bounds := img.Bounds()

	setPixel := func(x, y int) {
		if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
			img.Set(x, y, col)
		}
	}

	for t := 0; t < thickness; t++ {
		for x := x1; x <= x2; x++ {
			setPixel(x, y1+t)
			setPixel(x, y2-t)
		}
		for y := y1; y <= y2; y++ {
			setPixel(x1+t, y)
			setPixel(x2-t, y)
		}
	}
}
