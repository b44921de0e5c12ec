package processing

import (
	"image"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pokerassist/internal/models"
)

func TestPreviewWithoutFrame(t *testing.T) {
	p := &Processor{}
	assert.Nil(t, p.Preview())
}

func TestPreviewDrawsBox(t *testing.T) {
	p := &Processor{
		latest: image.NewRGBA(image.Rect(0, 0, 100, 100)),
		lastDetections: []models.Detection{
			{Label: "AS", BBox: models.BBox{X1: 0.1, Y1: 0.2, X2: 0.5, Y2: 0.6}},
		},
	}

	img := p.Preview()
	require.NotNil(t, img)
	assert.Equal(t, boxColor, img.RGBAAt(10, 20))
	assert.Equal(t, boxColor, img.RGBAAt(50, 60))
	assert.Equal(t, uint8(0), img.RGBAAt(30, 40).G)
}

func TestPreviewClampsOutOfRangeBoxes(t *testing.T) {
	p := &Processor{
		latest: image.NewRGBA(image.Rect(0, 0, 720, 720)),
		lastDetections: []models.Detection{
			{Label: "KH", BBox: models.BBox{X1: 0.5, Y1: 0.5, X2: 2e6, Y2: 2e6}},
			{Label: "QD", BBox: models.BBox{X1: -1e9, Y1: math.NaN(), X2: math.Inf(1), Y2: 0.1}},
			{Label: "JC", BBox: models.BBox{X1: 0.8, Y1: 0.8, X2: 0.2, Y2: 0.2}},
		},
	}

	start := time.Now()
	img := p.Preview()
	require.NotNil(t, img)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, boxColor, img.RGBAAt(360, 360))
	assert.Equal(t, boxColor, img.RGBAAt(719, 719))
	assert.Equal(t, boxColor, img.RGBAAt(0, 0))
}
